package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn func(context.Context, domain.Order) error
	updateFn func(context.Context, domain.Order) (domain.Order, error)
	findFn   func(context.Context, string) (domain.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	availFn  func(context.Context, domain.Pagination) (domain.CursorPage[domain.Order], error)
	claimFn  func(context.Context, string, domain.DeliveryAssignment) (domain.Order, error)
	countFn  func(context.Context, repositories.OrderCountFilter) (map[domain.OrderStatus]int64, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	order.Version++
	return order, nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) ListAvailableForDelivery(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.availFn != nil {
		return s.availFn(ctx, pager)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) ClaimDelivery(ctx context.Context, orderID string, assignment domain.DeliveryAssignment) (domain.Order, error) {
	if s.claimFn != nil {
		return s.claimFn(ctx, orderID, assignment)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) CountByStatus(ctx context.Context, filter repositories.OrderCountFilter) (map[domain.OrderStatus]int64, error) {
	if s.countFn != nil {
		return s.countFn(ctx, filter)
	}
	return map[domain.OrderStatus]int64{}, nil
}

type stubDirectoryRepo struct {
	contactFn func(context.Context, string) (domain.Contact, error)
	adminsFn  func(context.Context) ([]domain.Contact, error)
}

func (s *stubDirectoryRepo) FindContact(ctx context.Context, participantID string) (domain.Contact, error) {
	if s.contactFn != nil {
		return s.contactFn(ctx, participantID)
	}
	return domain.Contact{}, errors.New("not found")
}

func (s *stubDirectoryRepo) FindAdmins(ctx context.Context) ([]domain.Contact, error) {
	if s.adminsFn != nil {
		return s.adminsFn(ctx)
	}
	return nil, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type captureNotifier struct {
	messages []NotificationMessage
}

func (c *captureNotifier) Dispatch(_ context.Context, message NotificationMessage) {
	c.messages = append(c.messages, message)
}

func (c *captureNotifier) Wait() {}

type captureInvoices struct {
	ensured []Order
}

func (c *captureInvoices) ShouldGenerate(Order) bool { return false }

func (c *captureInvoices) Generate(context.Context, GenerateInvoiceCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

func (c *captureInvoices) EnsureInvoice(_ context.Context, order Order) {
	c.ensured = append(c.ensured, order)
}

func (c *captureInvoices) DownloadURL(_ context.Context, order Order) (string, error) {
	return order.InvoiceURL, nil
}

// fakeRepoError simulates categorised persistence failures.
type fakeRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *fakeRepoError) Error() string       { return "repository error" }
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return e.conflict }
func (e *fakeRepoError) IsUnavailable() bool { return e.unavailable }

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func testOrder() domain.Order {
	return domain.Order{
		ID:          "ord_01",
		OrderNumber: "FM-2026-000001",
		CustomerID:  "cus_1",
		SupplierID:  "sup_1",
		Status:      domain.OrderStatusOutForDelivery,
		StatusHistory: []domain.StatusHistoryEntry{
			{Status: domain.OrderStatusPending},
			{Status: domain.OrderStatusProcessing},
			{Status: domain.OrderStatusOutForDelivery},
		},
		PaymentMethod: domain.PaymentMethodCashOnDelivery,
		PaymentStatus: domain.PaymentStatusPending,
		Version:       3,
	}
}

func TestTransitionDeliveredAppendsHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	order := testOrder()

	var updated domain.Order
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			if id != order.ID {
				t.Fatalf("unexpected order id %s", id)
			}
			return order, nil
		},
		updateFn: func(_ context.Context, o domain.Order) (domain.Order, error) {
			updated = o
			o.Version++
			return o, nil
		},
	}
	notifier := &captureNotifier{}
	invoices := &captureInvoices{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   repo,
		Invoices: invoices,
		Notifier: notifier,
		Clock:    fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	result, err := svc.Transition(ctx, TransitionCommand{
		OrderID: order.ID,
		Actor:   Actor{ID: "adm_1", Role: domain.RoleAdmin},
		Target:  domain.OrderStatusDelivered,
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}

	if result.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", result.Status)
	}
	if result.LastHistoryStatus() != domain.OrderStatusDelivered {
		t.Fatalf("history last %s should match status", result.LastHistoryStatus())
	}
	last := updated.StatusHistory[len(updated.StatusHistory)-1]
	if last.UpdatedBy != "adm_1" || last.UpdatedByRole != domain.RoleAdmin {
		t.Fatalf("history entry not attributed to actor: %+v", last)
	}
	if updated.DeliveredAt == nil || !updated.DeliveredAt.Equal(now) {
		t.Fatalf("expected deliveredAt %s, got %v", now, updated.DeliveredAt)
	}
	if len(notifier.messages) != 1 || notifier.messages[0].Kind != NotificationOrderStatusChanged {
		t.Fatalf("expected one status-changed notification, got %+v", notifier.messages)
	}
	if len(invoices.ensured) != 1 {
		t.Fatalf("expected invoice ensure call, got %d", len(invoices.ensured))
	}
}

func TestTransitionRejectsTableViolations(t *testing.T) {
	tests := []struct {
		name   string
		role   domain.ActorRole
		status domain.OrderStatus
		target domain.OrderStatus
	}{
		{"customer cannot reopen delivered", domain.RoleCustomer, domain.OrderStatusDelivered, domain.OrderStatusProcessing},
		{"customer cannot cancel processing", domain.RoleCustomer, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
		{"supplier cannot deliver", domain.RoleSupplier, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered},
		{"admin cannot leave damaged", domain.RoleAdmin, domain.OrderStatusDamaged, domain.OrderStatusPending},
		{"associate cannot cancel", domain.RoleDeliveryAssociate, domain.OrderStatusOutForDelivery, domain.OrderStatusCancelled},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			order := testOrder()
			order.Status = tc.status
			order.Delivery = &domain.DeliveryAssignment{AssociateID: "del_1", Status: domain.DeliveryStatusAssigned}

			repo := &stubOrderRepo{
				findFn: func(context.Context, string) (domain.Order, error) {
					return order, nil
				},
				updateFn: func(context.Context, domain.Order) (domain.Order, error) {
					t.Fatal("update must not run for rejected transition")
					return domain.Order{}, nil
				},
			}

			svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
			if err != nil {
				t.Fatalf("NewOrderService: %v", err)
			}

			actorID := map[domain.ActorRole]string{
				domain.RoleCustomer:          order.CustomerID,
				domain.RoleSupplier:          order.SupplierID,
				domain.RoleAdmin:             "adm_1",
				domain.RoleDeliveryAssociate: "del_1",
			}[tc.role]

			_, err = svc.Transition(context.Background(), TransitionCommand{
				OrderID: order.ID,
				Actor:   Actor{ID: actorID, Role: tc.role},
				Target:  tc.target,
			})
			if !errors.Is(err, ErrOrderInvalidTransition) {
				t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTransitionForbiddenForNonParticipants(t *testing.T) {
	order := testOrder()
	order.Status = domain.OrderStatusPending

	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.Transition(context.Background(), TransitionCommand{
		OrderID: order.ID,
		Actor:   Actor{ID: "cus_other", Role: domain.RoleCustomer},
		Target:  domain.OrderStatusCancelled,
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestTransitionConflictOnVersionRace(t *testing.T) {
	order := testOrder()

	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		updateFn: func(context.Context, domain.Order) (domain.Order, error) {
			return domain.Order{}, &fakeRepoError{conflict: true}
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.Transition(context.Background(), TransitionCommand{
		OrderID: order.ID,
		Actor:   Actor{ID: "adm_1", Role: domain.RoleAdmin},
		Target:  domain.OrderStatusDelivered,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestTransitionReturnedNotifiesSupplierAndAdmins(t *testing.T) {
	order := testOrder()
	order.Status = domain.OrderStatusDelivered

	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
	}
	directory := &stubDirectoryRepo{
		contactFn: func(_ context.Context, id string) (domain.Contact, error) {
			switch id {
			case "sup_1":
				return domain.Contact{ID: id, Email: "supplier@example.com"}, nil
			case "adm_1":
				return domain.Contact{ID: id, Email: "admin@example.com"}, nil
			}
			return domain.Contact{}, errors.New("not found")
		},
		adminsFn: func(context.Context) ([]domain.Contact, error) {
			return []domain.Contact{{ID: "adm_1", Email: "admin@example.com"}}, nil
		},
	}
	notifier := &captureNotifier{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    repo,
		Directory: directory,
		Notifier:  notifier,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.Transition(context.Background(), TransitionCommand{
		OrderID: order.ID,
		Actor:   Actor{ID: order.CustomerID, Role: domain.RoleCustomer},
		Target:  domain.OrderStatusReturned,
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}

	var returned *NotificationMessage
	for i := range notifier.messages {
		if notifier.messages[i].Kind == NotificationOrderReturned {
			returned = &notifier.messages[i]
		}
	}
	if returned == nil {
		t.Fatal("expected a returned-order notification")
	}
	if returned.Reason != defaultReturnReason {
		t.Fatalf("expected default reason, got %q", returned.Reason)
	}
	want := map[string]bool{"supplier@example.com": true, "admin@example.com": true}
	for _, recipient := range returned.Recipients {
		delete(want, recipient)
	}
	if len(want) != 0 {
		t.Fatalf("missing recipients %v in %v", want, returned.Recipients)
	}
}

func TestListMineScopesByRole(t *testing.T) {
	tests := []struct {
		role  domain.ActorRole
		check func(t *testing.T, filter repositories.OrderListFilter)
	}{
		{domain.RoleCustomer, func(t *testing.T, f repositories.OrderListFilter) {
			if f.CustomerID != "actor_1" {
				t.Fatalf("expected customer scope, got %+v", f)
			}
		}},
		{domain.RoleSupplier, func(t *testing.T, f repositories.OrderListFilter) {
			if f.SupplierID != "actor_1" {
				t.Fatalf("expected supplier scope, got %+v", f)
			}
		}},
		{domain.RoleDeliveryAssociate, func(t *testing.T, f repositories.OrderListFilter) {
			if f.AssociateID != "actor_1" {
				t.Fatalf("expected associate scope, got %+v", f)
			}
		}},
	}

	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			var got repositories.OrderListFilter
			repo := &stubOrderRepo{
				listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
					got = filter
					return domain.CursorPage[domain.Order]{}, nil
				},
			}
			svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
			if err != nil {
				t.Fatalf("NewOrderService: %v", err)
			}

			if _, err := svc.ListMine(context.Background(), Actor{ID: "actor_1", Role: tc.role}, MyOrdersFilter{}); err != nil {
				t.Fatalf("ListMine: %v", err)
			}
			tc.check(t, got)
		})
	}
}

func TestListRequiresAdmin(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepo{}})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.List(context.Background(), Actor{ID: "cus_1", Role: domain.RoleCustomer}, OrderListFilter{})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestStatusCountsScopesSupplier(t *testing.T) {
	var got repositories.OrderCountFilter
	repo := &stubOrderRepo{
		countFn: func(_ context.Context, filter repositories.OrderCountFilter) (map[domain.OrderStatus]int64, error) {
			got = filter
			return map[domain.OrderStatus]int64{domain.OrderStatusPending: 2}, nil
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	counts, err := svc.StatusCounts(context.Background(), Actor{ID: "sup_1", Role: domain.RoleSupplier})
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if got.SupplierID != "sup_1" {
		t.Fatalf("expected supplier scope, got %+v", got)
	}
	if counts[domain.OrderStatusPending] != 2 {
		t.Fatalf("unexpected counts %+v", counts)
	}

	if _, err := svc.StatusCounts(context.Background(), Actor{ID: "cus_1", Role: domain.RoleCustomer}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for customer, got %v", err)
	}
}

func TestGetAllowsAssignedAssociateOnly(t *testing.T) {
	order := testOrder()
	order.Delivery = &domain.DeliveryAssignment{AssociateID: "del_1", Status: domain.DeliveryStatusAssigned}

	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	if _, err := svc.Get(context.Background(), Actor{ID: "del_1", Role: domain.RoleDeliveryAssociate}, order.ID); err != nil {
		t.Fatalf("assigned associate should read the order: %v", err)
	}
	if _, err := svc.Get(context.Background(), Actor{ID: "del_2", Role: domain.RoleDeliveryAssociate}, order.ID); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for stranger, got %v", err)
	}
}
