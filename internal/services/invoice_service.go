package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/repositories"
)

const invoiceNumberSeries = "invoices"

var (
	// ErrInvoiceNotEligible indicates the order has not yet reached a state
	// that warrants an invoice.
	ErrInvoiceNotEligible = errors.New("invoice: order not eligible")
)

// InvoiceServiceDeps bundles collaborators required to construct the invoice service.
type InvoiceServiceDeps struct {
	Orders    repositories.OrderRepository
	Counters  repositories.CounterRepository
	Directory repositories.DirectoryRepository
	Renderer  InvoiceRenderer
	Notifier  NotificationDispatcher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type invoiceService struct {
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	directory repositories.DirectoryRepository
	renderer  InvoiceRenderer
	notifier  NotificationDispatcher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewInvoiceService wires dependencies into an InvoiceService implementation.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Orders == nil {
		return nil, errors.New("invoice service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("invoice service: counter repository is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("invoice service: renderer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &invoiceService{
		orders:    deps.Orders,
		counters:  deps.Counters,
		directory: deps.Directory,
		renderer:  deps.Renderer,
		notifier:  deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ShouldGenerate implements the invoice trigger rule: delivered orders always
// get one, prepaid orders as soon as the payment settles.
func (s *invoiceService) ShouldGenerate(order Order) bool {
	if order.Status == domain.OrderStatusDelivered {
		return true
	}
	return order.PaymentMethod != domain.PaymentMethodCashOnDelivery &&
		order.PaymentStatus == domain.PaymentStatusPaid
}

// Generate creates the invoice on demand. Re-invoking for an already invoiced
// order returns the stored URL unchanged.
func (s *invoiceService) Generate(ctx context.Context, cmd GenerateInvoiceCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Actor.Role == domain.RoleDeliveryAssociate {
		return Order{}, fmt.Errorf("%w: delivery associates may not generate invoices", ErrOrderForbidden)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !actorCanAccessOrder(cmd.Actor, order) {
		return Order{}, fmt.Errorf("%w: %s has no access to order %s", ErrOrderForbidden, cmd.Actor.Role, orderID)
	}
	if order.InvoiceURL != "" {
		return order, nil
	}
	if !s.ShouldGenerate(order) {
		return Order{}, fmt.Errorf("%w: order %s is %s with %s payment %s",
			ErrInvoiceNotEligible, orderID, order.Status, order.PaymentMethod, order.PaymentStatus)
	}

	updated, err := s.generate(ctx, order)
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// DownloadURL resolves the retrieval link for an already generated invoice.
// Renderers backed by a signing document store hand out a time-limited URL;
// everything else falls back to the stored canonical one.
func (s *invoiceService) DownloadURL(ctx context.Context, order Order) (string, error) {
	if strings.TrimSpace(order.InvoiceURL) == "" {
		return "", fmt.Errorf("%w: order %s has no invoice", ErrOrderNotFound, order.ID)
	}
	linker, ok := s.renderer.(interface {
		DownloadURL(ctx context.Context, order Order) (string, error)
	})
	if !ok {
		return order.InvoiceURL, nil
	}
	url, err := linker.DownloadURL(ctx, order)
	if err != nil {
		return "", fmt.Errorf("invoice: link order %s: %w", order.ID, err)
	}
	return url, nil
}

// EnsureInvoice fires on status transitions. It never propagates failures to
// the transition that triggered it.
func (s *invoiceService) EnsureInvoice(ctx context.Context, order Order) {
	if order.InvoiceURL != "" || !s.ShouldGenerate(order) {
		return
	}
	if _, err := s.generate(ctx, order); err != nil {
		s.logger(ctx, "invoice.generate.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *invoiceService) generate(ctx context.Context, order Order) (Order, error) {
	now := s.clock()
	number, err := s.nextInvoiceNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	url, err := s.renderer.Render(ctx, order, number)
	if err != nil {
		return Order{}, fmt.Errorf("invoice: render order %s: %w", order.ID, err)
	}

	order.InvoiceURL = url
	order.InvoiceNumber = number
	order.UpdatedAt = now

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "invoice.generated", map[string]any{
		"order":   updated.ID,
		"invoice": number,
	})
	if s.notifier != nil {
		s.notifier.Dispatch(ctx, NotificationMessage{
			Kind:        NotificationInvoiceGenerated,
			OrderID:     updated.ID,
			OrderNumber: updated.OrderNumber,
			Status:      string(updated.Status),
			Recipients:  resolveRecipients(ctx, s.directory, updated.CustomerID),
		})
	}
	return updated, nil
}

func (s *invoiceService) nextInvoiceNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, invoiceNumberSeries, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%04d-%06d", now.Year(), seq), nil
}
