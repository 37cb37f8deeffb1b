package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor has no access to the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates the role is not allowed to make the
	// requested status transition.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent update won the version race. The
	// caller may retry after re-reading the order.
	ErrOrderConflict = errors.New("order: conflict")
)

// orderTransitions is the role-indexed status transition table. A missing
// entry means the role may not move an order out of that status at all.
var orderTransitions = map[domain.ActorRole]map[domain.OrderStatus][]domain.OrderStatus{
	domain.RoleCustomer: {
		domain.OrderStatusPending:   {domain.OrderStatusCancelled},
		domain.OrderStatusDelivered: {domain.OrderStatusReturned},
	},
	domain.RoleSupplier: {
		domain.OrderStatusPending:        {domain.OrderStatusPending, domain.OrderStatusCancelled},
		domain.OrderStatusProcessing:     {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
		domain.OrderStatusOutForDelivery: {domain.OrderStatusCancelled, domain.OrderStatusDamaged},
	},
	domain.RoleAdmin: {
		domain.OrderStatusPending:        {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
		domain.OrderStatusProcessing:     {domain.OrderStatusOutForDelivery, domain.OrderStatusCancelled},
		domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusDamaged},
		domain.OrderStatusDelivered:      {domain.OrderStatusReturned},
		domain.OrderStatusCancelled:      {domain.OrderStatusPending},
		domain.OrderStatusReturned:       {domain.OrderStatusProcessing},
	},
	domain.RoleDeliveryAssociate: {
		domain.OrderStatusOutForDelivery: {domain.OrderStatusOutForDelivery},
	},
}

const defaultReturnReason = "No reason provided"

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Directory repositories.DirectoryRepository
	Invoices  InvoiceService
	Notifier  NotificationDispatcher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	directory repositories.DirectoryRepository
	invoices  InvoiceService
	notifier  NotificationDispatcher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		directory: deps.Directory,
		invoices:  deps.Invoices,
		notifier:  deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) Get(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !actor.Role.Valid() {
		return Order{}, fmt.Errorf("%w: unknown role %q", ErrOrderInvalidInput, actor.Role)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !actorCanAccessOrder(actor, order) {
		return Order{}, fmt.Errorf("%w: %s has no access to order %s", ErrOrderForbidden, actor.Role, orderID)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if actor.Role != domain.RoleAdmin {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: only admins may list all orders", ErrOrderForbidden)
	}
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListMine(ctx context.Context, actor Actor, filter MyOrdersFilter) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(actor.ID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	repoFilter := repositories.OrderListFilter{
		Status:     filter.Status,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	}
	switch actor.Role {
	case domain.RoleCustomer:
		repoFilter.CustomerID = actor.ID
	case domain.RoleSupplier:
		repoFilter.SupplierID = actor.ID
	case domain.RoleDeliveryAssociate:
		repoFilter.AssociateID = actor.ID
	default:
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: role %q has no personal order scope", ErrOrderForbidden, actor.Role)
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) StatusCounts(ctx context.Context, actor Actor) (map[OrderStatus]int64, error) {
	filter := repositories.OrderCountFilter{}
	switch actor.Role {
	case domain.RoleSupplier:
		filter.SupplierID = actor.ID
	case domain.RoleAdmin:
		// Admins see platform-wide counts.
	default:
		return nil, fmt.Errorf("%w: role %q may not read status counts", ErrOrderForbidden, actor.Role)
	}

	counts, err := s.orders.CountByStatus(ctx, filter)
	if err != nil {
		return nil, mapOrderRepositoryError(err)
	}
	return counts, nil
}

func (s *orderService) Transition(ctx context.Context, cmd TransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}
	if !cmd.Actor.Role.Valid() {
		return Order{}, fmt.Errorf("%w: unknown role %q", ErrOrderInvalidInput, cmd.Actor.Role)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !actorCanAccessOrder(cmd.Actor, order) {
		return Order{}, fmt.Errorf("%w: %s has no access to order %s", ErrOrderForbidden, cmd.Actor.Role, orderID)
	}
	if err := allowTransition(cmd.Actor.Role, order.Status, cmd.Target); err != nil {
		return Order{}, err
	}

	updated, err := s.applyTransition(ctx, order, cmd.Actor, cmd.Target, cmd.Note)
	if err != nil {
		return Order{}, err
	}

	s.afterTransition(ctx, order.Status, updated, cmd.Actor, cmd.Note)
	return updated, nil
}

// applyTransition mutates the aggregate and persists it behind the version
// check. Lost races surface ErrOrderConflict so the caller can re-read and retry.
func (s *orderService) applyTransition(ctx context.Context, order Order, actor Actor, target OrderStatus, note string) (Order, error) {
	now := s.clock()

	order.Status = target
	order.AppendHistory(target, now, actor, note)
	if target == domain.OrderStatusDelivered && order.DeliveredAt == nil {
		order.DeliveredAt = &now
	}
	order.UpdatedAt = now

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return updated, nil
}

// afterTransition fires best-effort side effects. None of them can fail the
// already-committed transition.
func (s *orderService) afterTransition(ctx context.Context, previous OrderStatus, order Order, actor Actor, note string) {
	s.logger(ctx, "order.status.changed", map[string]any{
		"order":  order.ID,
		"from":   string(previous),
		"to":     string(order.Status),
		"actor":  actor.ID,
		"role":   string(actor.Role),
	})

	s.dispatch(ctx, NotificationMessage{
		Kind:        NotificationOrderStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Recipients:  resolveRecipients(ctx, s.directory, order.CustomerID, order.SupplierID),
	})

	if order.Status == domain.OrderStatusReturned {
		reason := strings.TrimSpace(note)
		if reason == "" {
			reason = defaultReturnReason
		}
		s.dispatch(ctx, NotificationMessage{
			Kind:        NotificationOrderReturned,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Status:      string(order.Status),
			Reason:      reason,
			Recipients:  resolveRecipients(ctx, s.directory, append([]string{order.SupplierID}, s.adminIDs(ctx)...)...),
		})
	}

	if s.invoices != nil {
		s.invoices.EnsureInvoice(ctx, order)
	}
}

func (s *orderService) dispatch(ctx context.Context, message NotificationMessage) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, message)
}

// resolveRecipients maps participant IDs to contact emails, falling back to
// the raw ID when the directory has no record.
func resolveRecipients(ctx context.Context, directory repositories.DirectoryRepository, ids ...string) []string {
	recipients := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if directory != nil {
			if contact, err := directory.FindContact(ctx, id); err == nil && contact.Email != "" {
				recipients = append(recipients, contact.Email)
				continue
			}
		}
		recipients = append(recipients, id)
	}
	return recipients
}

func (s *orderService) adminIDs(ctx context.Context) []string {
	if s.directory == nil {
		return nil
	}
	admins, err := s.directory.FindAdmins(ctx)
	if err != nil {
		s.logger(ctx, "order.admin.lookup.failed", map[string]any{"error": err.Error()})
		return nil
	}
	ids := make([]string, 0, len(admins))
	for _, admin := range admins {
		ids = append(ids, admin.ID)
	}
	return ids
}

// allowTransition consults the role transition table. Errors name the role and
// both endpoints so callers can surface actionable messages.
func allowTransition(role domain.ActorRole, from, to domain.OrderStatus) error {
	allowed, ok := orderTransitions[role][from]
	if !ok || !slices.Contains(allowed, to) {
		return fmt.Errorf("%w: role %s cannot move an order from %s to %s", ErrOrderInvalidTransition, role, from, to)
	}
	return nil
}

// actorCanAccessOrder reports whether the actor participates in the order.
// Admins see everything; associates only the orders assigned to them.
func actorCanAccessOrder(actor Actor, order Order) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleCustomer:
		return actor.ID == order.CustomerID
	case domain.RoleSupplier:
		return actor.ID == order.SupplierID
	case domain.RoleDeliveryAssociate:
		return order.AssignedTo(actor.ID)
	default:
		return false
	}
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
