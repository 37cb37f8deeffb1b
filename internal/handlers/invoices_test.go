package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/freshmart/api/internal/platform/auth"
	"github.com/freshmart/api/internal/services"
)

func TestInvoiceHandlersGenerate(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	var capturedCmd services.GenerateInvoiceCommand

	invoices := &stubInvoiceService{
		generateFn: func(_ context.Context, cmd services.GenerateInvoiceCommand) (services.Order, error) {
			capturedCmd = cmd
			order := sampleOrder(now)
			order.InvoiceNumber = "INV-2026-000007"
			order.InvoiceURL = "https://storage.googleapis.com/invoices/ord_01/INV-2026-000007.txt"
			return order, nil
		},
	}

	router := newOrderRouter(OrderHandlersDeps{Invoices: invoices})
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_01/invoice", nil)
	req = withRoles(req, "cus_1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCmd.OrderID != "ord_01" || capturedCmd.Actor.ID != "cus_1" {
		t.Fatalf("unexpected command %+v", capturedCmd)
	}

	var resp invoiceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.InvoiceNumber != "INV-2026-000007" || resp.InvoiceURL == "" {
		t.Fatalf("unexpected invoice %+v", resp)
	}
}

func TestInvoiceHandlersGenerateNotEligible(t *testing.T) {
	invoices := &stubInvoiceService{
		generateFn: func(context.Context, services.GenerateInvoiceCommand) (services.Order, error) {
			return services.Order{}, services.ErrInvoiceNotEligible
		},
	}

	router := newOrderRouter(OrderHandlersDeps{Invoices: invoices})
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_01/invoice", nil)
	req = withRoles(req, "cus_1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestInvoiceHandlersGetReturnsStoredReference(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	order := sampleOrder(now)
	order.InvoiceNumber = "INV-2026-000001"
	order.InvoiceURL = "https://storage.googleapis.com/invoices/ord_01/INV-2026-000001.txt"

	service := &stubOrderService{
		getFn: func(context.Context, services.Actor, string) (services.Order, error) {
			return order, nil
		},
	}

	router := newOrderRouter(OrderHandlersDeps{Orders: service})
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_01/invoice", nil)
	req = withRoles(req, "cus_1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp invoiceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.InvoiceNumber != "INV-2026-000001" {
		t.Fatalf("unexpected invoice %+v", resp)
	}
}

func TestInvoiceHandlersGetReturnsTimeLimitedLink(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	order := sampleOrder(now)
	order.InvoiceNumber = "INV-2026-000001"
	order.InvoiceURL = "https://storage.googleapis.com/invoices/ord_01/INV-2026-000001.txt"

	service := &stubOrderService{
		getFn: func(context.Context, services.Actor, string) (services.Order, error) {
			return order, nil
		},
	}
	invoices := &stubInvoiceService{
		downloadURLFn: func(o services.Order) (string, error) {
			return "https://signed.example/" + o.InvoiceNumber, nil
		},
	}

	router := newOrderRouter(OrderHandlersDeps{Orders: service, Invoices: invoices})
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_01/invoice", nil)
	req = withRoles(req, "cus_1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp invoiceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.InvoiceURL != "https://signed.example/INV-2026-000001" {
		t.Fatalf("expected signed link, got %q", resp.InvoiceURL)
	}
}

func TestInvoiceHandlersGetMissingInvoice(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		getFn: func(context.Context, services.Actor, string) (services.Order, error) {
			return sampleOrder(now), nil
		},
	}

	router := newOrderRouter(OrderHandlersDeps{Orders: service})
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_01/invoice", nil)
	req = withRoles(req, "cus_1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
