package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/freshmart/api/internal/domain"
)

type stubRenderer struct {
	renderFn func(context.Context, Order, string) (string, error)
	calls    int
}

func (s *stubRenderer) Render(ctx context.Context, order Order, invoiceNumber string) (string, error) {
	s.calls++
	if s.renderFn != nil {
		return s.renderFn(ctx, order, invoiceNumber)
	}
	return "https://storage.googleapis.com/invoices/" + order.ID, nil
}

func newInvoiceForTest(t *testing.T, deps InvoiceServiceDeps) InvoiceService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.Renderer == nil {
		deps.Renderer = &stubRenderer{}
	}
	svc, err := NewInvoiceService(deps)
	if err != nil {
		t.Fatalf("NewInvoiceService: %v", err)
	}
	return svc
}

func TestShouldGenerateTruthTable(t *testing.T) {
	svc := newInvoiceForTest(t, InvoiceServiceDeps{})

	tests := []struct {
		name   string
		status domain.OrderStatus
		method domain.PaymentMethod
		pay    domain.PaymentStatus
		want   bool
	}{
		{"delivered cod", domain.OrderStatusDelivered, domain.PaymentMethodCashOnDelivery, domain.PaymentStatusPending, true},
		{"delivered upi unpaid", domain.OrderStatusDelivered, domain.PaymentMethodUPI, domain.PaymentStatusPending, true},
		{"pending upi paid", domain.OrderStatusPending, domain.PaymentMethodUPI, domain.PaymentStatusPaid, true},
		{"processing card paid", domain.OrderStatusProcessing, domain.PaymentMethodCreditCard, domain.PaymentStatusPaid, true},
		{"pending upi unpaid", domain.OrderStatusPending, domain.PaymentMethodUPI, domain.PaymentStatusPending, false},
		{"processing cod paid", domain.OrderStatusProcessing, domain.PaymentMethodCashOnDelivery, domain.PaymentStatusPaid, false},
		{"cancelled card unpaid", domain.OrderStatusCancelled, domain.PaymentMethodCreditCard, domain.PaymentStatusPending, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			order := Order{Status: tc.status, PaymentMethod: tc.method, PaymentStatus: tc.pay}
			if got := svc.ShouldGenerate(order); got != tc.want {
				t.Fatalf("ShouldGenerate(%s/%s/%s) = %v, want %v", tc.status, tc.method, tc.pay, got, tc.want)
			}
		})
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	order := testOrder()
	order.Status = domain.OrderStatusDelivered
	order.InvoiceURL = "https://storage.googleapis.com/invoices/existing"
	order.InvoiceNumber = "INV-2026-000001"

	renderer := &stubRenderer{}
	svc := newInvoiceForTest(t, InvoiceServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return order, nil
			},
			updateFn: func(context.Context, domain.Order) (domain.Order, error) {
				t.Fatal("update must not run for an already invoiced order")
				return domain.Order{}, nil
			},
		},
		Renderer: renderer,
	})

	result, err := svc.Generate(context.Background(), GenerateInvoiceCommand{
		OrderID: order.ID,
		Actor:   Actor{ID: order.CustomerID, Role: domain.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.InvoiceURL != order.InvoiceURL {
		t.Fatalf("expected stored url, got %q", result.InvoiceURL)
	}
	if renderer.calls != 0 {
		t.Fatalf("renderer must not run again, ran %d times", renderer.calls)
	}
}

func TestGenerateRejectsIneligibleOrder(t *testing.T) {
	order := testOrder()
	order.Status = domain.OrderStatusProcessing
	order.PaymentMethod = domain.PaymentMethodCashOnDelivery

	svc := newInvoiceForTest(t, InvoiceServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return order, nil
			},
		},
	})

	_, err := svc.Generate(context.Background(), GenerateInvoiceCommand{
		OrderID: order.ID,
		Actor:   Actor{ID: "adm_1", Role: domain.RoleAdmin},
	})
	if !errors.Is(err, ErrInvoiceNotEligible) {
		t.Fatalf("expected ErrInvoiceNotEligible, got %v", err)
	}
}

func TestGeneratePersistsNumberAndURL(t *testing.T) {
	now := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	order := testOrder()
	order.Status = domain.OrderStatusDelivered

	var updated domain.Order
	notifier := &captureNotifier{}

	svc := newInvoiceForTest(t, InvoiceServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return order, nil
			},
			updateFn: func(_ context.Context, o domain.Order) (domain.Order, error) {
				updated = o
				return o, nil
			},
		},
		Counters: &stubCounterRepo{
			nextFn: func(_ context.Context, counterID string, _ int64) (int64, error) {
				if counterID != "invoices" {
					t.Fatalf("unexpected counter id %s", counterID)
				}
				return 7, nil
			},
		},
		Renderer: &stubRenderer{
			renderFn: func(_ context.Context, o Order, number string) (string, error) {
				return "https://storage.googleapis.com/invoices/" + o.ID + "/" + number, nil
			},
		},
		Notifier: notifier,
		Clock:    fixedClock(now),
	})

	result, err := svc.Generate(context.Background(), GenerateInvoiceCommand{
		OrderID: order.ID,
		Actor:   Actor{ID: order.SupplierID, Role: domain.RoleSupplier},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.InvoiceNumber != "INV-2026-000007" {
		t.Fatalf("unexpected invoice number %q", result.InvoiceNumber)
	}
	if !strings.HasSuffix(result.InvoiceURL, "INV-2026-000007") {
		t.Fatalf("unexpected invoice url %q", result.InvoiceURL)
	}
	if updated.InvoiceNumber != result.InvoiceNumber {
		t.Fatalf("invoice number not persisted: %+v", updated)
	}
	if len(notifier.messages) != 1 || notifier.messages[0].Kind != NotificationInvoiceGenerated {
		t.Fatalf("expected invoice notification, got %+v", notifier.messages)
	}
}

func TestGenerateForbiddenForAssociates(t *testing.T) {
	svc := newInvoiceForTest(t, InvoiceServiceDeps{})

	_, err := svc.Generate(context.Background(), GenerateInvoiceCommand{
		OrderID: "ord_01",
		Actor:   Actor{ID: "del_1", Role: domain.RoleDeliveryAssociate},
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestEnsureInvoiceSwallowsFailures(t *testing.T) {
	order := testOrder()
	order.Status = domain.OrderStatusDelivered

	var logged string
	svc := newInvoiceForTest(t, InvoiceServiceDeps{
		Renderer: &stubRenderer{
			renderFn: func(context.Context, Order, string) (string, error) {
				return "", errors.New("bucket unavailable")
			},
		},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = event
		},
	})

	svc.EnsureInvoice(context.Background(), order)
	if logged != "invoice.generate.failed" {
		t.Fatalf("expected failure log, got %q", logged)
	}
}

// signingStubRenderer additionally resolves download links, like the storage
// backed renderer does when its store carries a signer.
type signingStubRenderer struct {
	stubRenderer
	downloadFn func(Order) (string, error)
}

func (s *signingStubRenderer) DownloadURL(_ context.Context, order Order) (string, error) {
	return s.downloadFn(order)
}

func TestDownloadURLPrefersSigningRenderer(t *testing.T) {
	order := testOrder()
	order.InvoiceURL = "https://storage.googleapis.com/invoices/stored"
	order.InvoiceNumber = "INV-2026-000001"

	svc := newInvoiceForTest(t, InvoiceServiceDeps{
		Renderer: &signingStubRenderer{
			downloadFn: func(o Order) (string, error) {
				return "https://signed.example/" + o.InvoiceNumber, nil
			},
		},
	})

	url, err := svc.DownloadURL(context.Background(), order)
	if err != nil {
		t.Fatalf("DownloadURL: %v", err)
	}
	if url != "https://signed.example/INV-2026-000001" {
		t.Fatalf("expected signed url, got %q", url)
	}
}

func TestDownloadURLFallsBackToStoredURL(t *testing.T) {
	order := testOrder()
	order.InvoiceURL = "https://storage.googleapis.com/invoices/stored"

	svc := newInvoiceForTest(t, InvoiceServiceDeps{Renderer: &stubRenderer{}})

	url, err := svc.DownloadURL(context.Background(), order)
	if err != nil {
		t.Fatalf("DownloadURL: %v", err)
	}
	if url != order.InvoiceURL {
		t.Fatalf("expected stored url, got %q", url)
	}
}

func TestDownloadURLRequiresExistingInvoice(t *testing.T) {
	svc := newInvoiceForTest(t, InvoiceServiceDeps{})

	if _, err := svc.DownloadURL(context.Background(), testOrder()); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestEnsureInvoiceSkipsIneligibleAndInvoiced(t *testing.T) {
	renderer := &stubRenderer{}
	svc := newInvoiceForTest(t, InvoiceServiceDeps{Renderer: renderer})

	pending := testOrder()
	svc.EnsureInvoice(context.Background(), pending)

	invoiced := testOrder()
	invoiced.Status = domain.OrderStatusDelivered
	invoiced.InvoiceURL = "https://storage.googleapis.com/invoices/existing"
	svc.EnsureInvoice(context.Background(), invoiced)

	if renderer.calls != 0 {
		t.Fatalf("renderer must not run, ran %d times", renderer.calls)
	}
}
