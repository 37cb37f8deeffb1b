package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/repositories"
)

// maxNearbyPageScans bounds how many stored pages a nearby search may walk
// before giving up on filling the requested count.
const maxNearbyPageScans = 5

var (
	// ErrDeliveryInvalidInput signals the caller provided invalid data.
	ErrDeliveryInvalidInput = errors.New("delivery: invalid input")
	// ErrDeliveryInvalidState indicates the order or its delivery sub-status
	// does not admit the requested operation.
	ErrDeliveryInvalidState = errors.New("delivery: invalid state")
)

// deliveryTransitions is the sub-status machine an assigned delivery walks
// through. Terminal statuses have no entry.
var deliveryTransitions = map[domain.DeliveryStatus][]domain.DeliveryStatus{
	domain.DeliveryStatusAssigned: {domain.DeliveryStatusPickedUp},
	domain.DeliveryStatusPickedUp: {domain.DeliveryStatusOnTheWay},
	domain.DeliveryStatusOnTheWay: {domain.DeliveryStatusDelivered, domain.DeliveryStatusFailed},
}

// DeliveryServiceDeps bundles collaborators required to construct the delivery service.
type DeliveryServiceDeps struct {
	Orders    repositories.OrderRepository
	Directory repositories.DirectoryRepository
	Invoices  InvoiceService
	Notifier  NotificationDispatcher

	// DefaultRadiusKM bounds nearby searches when the caller omits a distance.
	DefaultRadiusKM float64

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type deliveryService struct {
	orders    repositories.OrderRepository
	directory repositories.DirectoryRepository
	invoices  InvoiceService
	notifier  NotificationDispatcher
	radiusKM  float64
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewDeliveryService wires dependencies into a DeliveryService implementation.
func NewDeliveryService(deps DeliveryServiceDeps) (DeliveryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("delivery service: order repository is required")
	}

	radius := deps.DefaultRadiusKM
	if radius <= 0 {
		radius = 10
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &deliveryService{
		orders:    deps.Orders,
		directory: deps.Directory,
		invoices:  deps.Invoices,
		notifier:  deps.Notifier,
		radiusKM:  radius,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Assign attaches a chosen associate to a processing order. Admins may assign
// any order, suppliers only their own.
func (s *deliveryService) Assign(ctx context.Context, cmd AssignDeliveryCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrDeliveryInvalidInput)
	}
	associateID := strings.TrimSpace(cmd.AssociateID)
	if associateID == "" {
		return Order{}, fmt.Errorf("%w: associate id is required", ErrDeliveryInvalidInput)
	}
	if cmd.Actor.Role != domain.RoleAdmin && cmd.Actor.Role != domain.RoleSupplier {
		return Order{}, fmt.Errorf("%w: role %s may not assign deliveries", ErrOrderForbidden, cmd.Actor.Role)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !actorCanAccessOrder(cmd.Actor, order) {
		return Order{}, fmt.Errorf("%w: %s has no access to order %s", ErrOrderForbidden, cmd.Actor.Role, orderID)
	}
	if order.Status != domain.OrderStatusProcessing {
		return Order{}, fmt.Errorf("%w: order %s is %s, assignment requires processing", ErrDeliveryInvalidState, orderID, order.Status)
	}
	if err := s.verifyAssociate(ctx, associateID); err != nil {
		return Order{}, err
	}

	now := s.clock()
	order.Delivery = &domain.DeliveryAssignment{
		AssociateID: associateID,
		AssignedAt:  now,
		Status:      domain.DeliveryStatusAssigned,
	}
	order.UpdatedAt = now

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "delivery.assigned", map[string]any{
		"order":     updated.ID,
		"associate": associateID,
		"actor":     cmd.Actor.ID,
	})
	return updated, nil
}

// SelfAssign lets an associate claim an unassigned order. The claim is
// transactional; the losing racer receives a conflict.
func (s *deliveryService) SelfAssign(ctx context.Context, cmd SelfAssignCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrDeliveryInvalidInput)
	}
	if cmd.Actor.Role != domain.RoleDeliveryAssociate {
		return Order{}, fmt.Errorf("%w: only delivery associates may claim orders", ErrOrderForbidden)
	}

	now := s.clock()
	claimed, err := s.orders.ClaimDelivery(ctx, orderID, domain.DeliveryAssignment{
		AssociateID: cmd.Actor.ID,
		AssignedAt:  now,
		Status:      domain.DeliveryStatusAssigned,
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "delivery.claimed", map[string]any{
		"order":     claimed.ID,
		"associate": cmd.Actor.ID,
	})
	return claimed, nil
}

// UpdateDeliveryStatus advances the sub-status machine. Reaching the
// delivered sub-status also completes the primary order lifecycle.
func (s *deliveryService) UpdateDeliveryStatus(ctx context.Context, cmd DeliveryStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrDeliveryInvalidInput)
	}
	if !cmd.Target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown delivery status %q", ErrDeliveryInvalidInput, cmd.Target)
	}
	if cmd.Actor.Role != domain.RoleDeliveryAssociate {
		return Order{}, fmt.Errorf("%w: only the assigned associate may update delivery status", ErrOrderForbidden)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !order.AssignedTo(cmd.Actor.ID) {
		return Order{}, fmt.Errorf("%w: order %s is not assigned to %s", ErrOrderForbidden, orderID, cmd.Actor.ID)
	}

	current := order.Delivery.Status
	if current.Terminal() {
		return Order{}, fmt.Errorf("%w: delivery already %s", ErrDeliveryInvalidState, current)
	}
	if !slices.Contains(deliveryTransitions[current], cmd.Target) {
		return Order{}, fmt.Errorf("%w: delivery cannot move from %s to %s", ErrDeliveryInvalidState, current, cmd.Target)
	}

	now := s.clock()
	order.Delivery.Status = cmd.Target
	order.UpdatedAt = now

	delivered := cmd.Target == domain.DeliveryStatusDelivered
	if delivered {
		order.Status = domain.OrderStatusDelivered
		order.AppendHistory(domain.OrderStatusDelivered, now, cmd.Actor, cmd.Note)
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	}

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "delivery.status.changed", map[string]any{
		"order":     updated.ID,
		"associate": cmd.Actor.ID,
		"status":    string(cmd.Target),
	})
	if delivered {
		s.afterDelivered(ctx, updated)
	}
	return updated, nil
}

func (s *deliveryService) ListAvailable(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Order], error) {
	if actor.Role != domain.RoleDeliveryAssociate {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: only delivery associates may browse available orders", ErrOrderForbidden)
	}

	page, err := s.orders.ListAvailableForDelivery(ctx, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

// ListAvailableNearby narrows the available set to orders whose delivery
// address lies within the requested radius of the associate's position.
func (s *deliveryService) ListAvailableNearby(ctx context.Context, actor Actor, query NearbyQuery) ([]Order, error) {
	if actor.Role != domain.RoleDeliveryAssociate {
		return nil, fmt.Errorf("%w: only delivery associates may browse available orders", ErrOrderForbidden)
	}
	if query.Location.Latitude < -90 || query.Location.Latitude > 90 ||
		query.Location.Longitude < -180 || query.Location.Longitude > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrDeliveryInvalidInput)
	}
	radius := query.MaxDistanceKM
	if radius <= 0 {
		radius = s.radiusKM
	}

	// The radius filter runs in memory, so a stored page may thin out to
	// nothing. Walk a bounded number of pages until the requested count is
	// filled so nearby orders beyond the first page still surface.
	pager := query.Pagination
	nearby := make([]Order, 0, pager.PageSize)
	for scanned := 0; scanned < maxNearbyPageScans; scanned++ {
		page, err := s.orders.ListAvailableForDelivery(ctx, pager)
		if err != nil {
			return nil, mapOrderRepositoryError(err)
		}
		for _, order := range page.Items {
			location := order.DeliveryAddress.Location
			if location == nil {
				continue
			}
			if haversineKM(query.Location, *location) <= radius {
				nearby = append(nearby, order)
			}
		}
		if query.Pagination.PageSize > 0 && len(nearby) >= query.Pagination.PageSize {
			nearby = nearby[:query.Pagination.PageSize]
			break
		}
		if page.NextPageToken == "" {
			break
		}
		pager.PageToken = page.NextPageToken
	}
	return nearby, nil
}

// afterDelivered runs the completion side effects shared with admin-driven
// delivered transitions. All best-effort.
func (s *deliveryService) afterDelivered(ctx context.Context, order Order) {
	if s.notifier != nil {
		s.notifier.Dispatch(ctx, NotificationMessage{
			Kind:        NotificationOrderStatusChanged,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Status:      string(order.Status),
			Recipients:  resolveRecipients(ctx, s.directory, order.CustomerID, order.SupplierID),
		})
	}
	if s.invoices != nil {
		s.invoices.EnsureInvoice(ctx, order)
	}
}

// verifyAssociate confirms the target of an explicit assignment actually is a
// delivery associate. Skipped when no directory is configured.
func (s *deliveryService) verifyAssociate(ctx context.Context, associateID string) error {
	if s.directory == nil {
		return nil
	}
	contact, err := s.directory.FindContact(ctx, associateID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: associate %s not found", ErrDeliveryInvalidInput, associateID)
		}
		return err
	}
	if !slices.Contains(contact.Roles, domain.RoleDeliveryAssociate) {
		return fmt.Errorf("%w: %s is not a delivery associate", ErrDeliveryInvalidInput, associateID)
	}
	return nil
}

// haversineKM computes the great-circle distance between two points.
func haversineKM(a, b GeoPoint) float64 {
	const earthRadiusKM = 6371.0

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
