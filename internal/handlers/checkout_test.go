package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/platform/auth"
	"github.com/freshmart/api/internal/services"
)

const placeOrderBody = `{
	"items": [
		{"product_id": "prd_a", "quantity": 2, "variations": [{"name": "size", "value": "1kg"}]},
		{"product_id": "prd_c", "quantity": 1}
	],
	"payment_method": "upi",
	"delivery_kind": "express",
	"delivery_address": {
		"street": "14 MG Road",
		"city": "Pune",
		"postal_code": "411001",
		"phone": "+91-9000000001",
		"location": {"latitude": 18.5204, "longitude": 73.8567}
	},
	"coupon_code": "FRESH10"
}`

func TestCheckoutPlacesOrderPerSupplier(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	var capturedCmd services.PlaceOrderCommand

	checkout := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) ([]services.Order, error) {
			capturedCmd = cmd
			first := sampleOrder(now)
			second := sampleOrder(now)
			second.ID = "ord_02"
			second.OrderNumber = "FM-2026-000002"
			second.SupplierID = "sup_2"
			return []services.Order{first, second}, nil
		},
	}

	router := newOrderRouter(OrderHandlersDeps{Checkout: checkout})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(placeOrderBody))
	req = withRoles(req, "cus_1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if capturedCmd.CustomerID != "cus_1" {
		t.Fatalf("expected customer from identity, got %q", capturedCmd.CustomerID)
	}
	if capturedCmd.PaymentMethod != domain.PaymentMethodUPI {
		t.Fatalf("unexpected payment method %s", capturedCmd.PaymentMethod)
	}
	if capturedCmd.DeliveryKind != domain.DeliveryKindExpress {
		t.Fatalf("unexpected delivery kind %s", capturedCmd.DeliveryKind)
	}
	if len(capturedCmd.Items) != 2 || capturedCmd.Items[0].Variations[0].Value != "1kg" {
		t.Fatalf("unexpected items %+v", capturedCmd.Items)
	}
	if capturedCmd.DeliveryAddress.Location == nil || capturedCmd.DeliveryAddress.Location.Latitude != 18.5204 {
		t.Fatalf("expected location forwarded, got %+v", capturedCmd.DeliveryAddress.Location)
	}
	if capturedCmd.CouponCode != "FRESH10" {
		t.Fatalf("expected coupon forwarded, got %q", capturedCmd.CouponCode)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Orders) != 2 || resp.Orders[1].SupplierID != "sup_2" {
		t.Fatalf("unexpected orders %+v", resp.Orders)
	}
}

func TestCheckoutErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty cart", services.ErrCheckoutEmptyCart, http.StatusBadRequest},
		{"invalid input", services.ErrCheckoutInvalidInput, http.StatusBadRequest},
		{"missing product", services.ErrCheckoutProductNotFound, http.StatusNotFound},
		{"insufficient stock", services.ErrCheckoutInsufficientStock, http.StatusConflict},
		{"version race", services.ErrOrderConflict, http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			checkout := &stubCheckoutService{
				placeFn: func(context.Context, services.PlaceOrderCommand) ([]services.Order, error) {
					return nil, tc.err
				},
			}

			router := newOrderRouter(OrderHandlersDeps{Checkout: checkout})
			req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(placeOrderBody))
			req = withRoles(req, "cus_1", auth.RoleCustomer)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestCheckoutAllowsCustomersOnly(t *testing.T) {
	for _, role := range []string{auth.RoleSupplier, auth.RoleDeliveryAssociate, auth.RoleAdmin} {
		t.Run(role, func(t *testing.T) {
			checkout := &stubCheckoutService{
				placeFn: func(context.Context, services.PlaceOrderCommand) ([]services.Order, error) {
					t.Fatal("checkout must not run for non-customers")
					return nil, nil
				},
			}

			router := newOrderRouter(OrderHandlersDeps{Checkout: checkout})
			req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(placeOrderBody))
			req = withRoles(req, "usr_1", role)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected status 403 for role %s, got %d", role, rr.Code)
			}
		})
	}
}

func TestCheckoutRejectsEmptyBody(t *testing.T) {
	router := newOrderRouter(OrderHandlersDeps{Checkout: &stubCheckoutService{}})

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req = withRoles(req, "cus_1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutRateLimitsRepeatedAttempts(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	checkout := &stubCheckoutService{
		placeFn: func(context.Context, services.PlaceOrderCommand) ([]services.Order, error) {
			return []services.Order{sampleOrder(now)}, nil
		},
	}
	limiter := NewRateLimiter(1, time.Minute, func() time.Time { return now })

	router := newOrderRouter(OrderHandlersDeps{Checkout: checkout, CheckoutLimiter: limiter})

	first := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(placeOrderBody))
	first = withRoles(first, "cus_1", auth.RoleCustomer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, first)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected first attempt to pass, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(placeOrderBody))
	second = withRoles(second, "cus_1", auth.RoleCustomer)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second attempt throttled, got %d", rr.Code)
	}
}
