package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

// NotificationKind identifies the template a consumer should render.
type NotificationKind string

const (
	// NotificationOrderPlaced is sent to the customer and each supplier after checkout.
	NotificationOrderPlaced NotificationKind = "order.placed"
	// NotificationOrderStatusChanged is sent on every successful status transition.
	NotificationOrderStatusChanged NotificationKind = "order.status.changed"
	// NotificationOrderReturned alerts the supplier and admins that a delivered order came back.
	NotificationOrderReturned NotificationKind = "order.returned"
	// NotificationInvoiceGenerated tells the customer their invoice is ready.
	NotificationInvoiceGenerated NotificationKind = "invoice.generated"
)

// NotificationMessage is the payload handed to the queue publisher.
type NotificationMessage struct {
	Kind        NotificationKind `json:"kind"`
	OrderID     string           `json:"orderId"`
	OrderNumber string           `json:"orderNumber"`
	Status      string           `json:"status,omitempty"`
	Recipients  []string         `json:"recipients,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

// NotificationPublisher delivers a message to the notification queue and
// returns the broker-assigned message ID.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, message NotificationMessage) (string, error)
}

// NotificationDispatcher queues notifications without ever failing the caller.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, message NotificationMessage)
	// Wait blocks until in-flight deliveries finish. Intended for shutdown and tests.
	Wait()
}

const (
	defaultDispatchAttempts = 3
	defaultDispatchBackoff  = 200 * time.Millisecond
	defaultDispatchTimeout  = 10 * time.Second
)

// NotificationDispatcherDeps enumerates collaborators for the dispatcher.
type NotificationDispatcherDeps struct {
	Publisher NotificationPublisher
	Attempts  int
	Backoff   time.Duration
	Timeout   time.Duration
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	// Synchronous forces in-line delivery, used by tests.
	Synchronous bool
}

type notificationDispatcher struct {
	publisher   NotificationPublisher
	attempts    int
	backoff     time.Duration
	timeout     time.Duration
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
	synchronous bool
	wg          sync.WaitGroup
}

// NewNotificationDispatcher constructs the fire-and-forget dispatcher.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notification dispatcher: publisher is required")
	}

	attempts := deps.Attempts
	if attempts <= 0 {
		attempts = defaultDispatchAttempts
	}
	backoff := deps.Backoff
	if backoff <= 0 {
		backoff = defaultDispatchBackoff
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationDispatcher{
		publisher:   deps.Publisher,
		attempts:    attempts,
		backoff:     backoff,
		timeout:     timeout,
		clock:       clock,
		logger:      logger,
		synchronous: deps.Synchronous,
	}, nil
}

// Dispatch queues the message. Delivery happens off the request goroutine and
// survives request cancellation; failures after all retries are logged only.
func (d *notificationDispatcher) Dispatch(ctx context.Context, message NotificationMessage) {
	if message.OccurredAt.IsZero() {
		message.OccurredAt = d.clock().UTC()
	}

	detached := context.WithoutCancel(ctx)
	if d.synchronous {
		d.deliver(detached, message)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(detached, message)
	}()
}

func (d *notificationDispatcher) Wait() {
	d.wg.Wait()
}

func (d *notificationDispatcher) deliver(ctx context.Context, message NotificationMessage) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		id, err := d.publisher.PublishNotification(ctx, message)
		if err == nil {
			d.logger(ctx, "notification.published", map[string]any{
				"kind":      string(message.Kind),
				"order":     message.OrderID,
				"messageId": id,
				"attempt":   attempt,
			})
			return
		}
		lastErr = err
		if attempt < d.attempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = d.attempts
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}
	}

	d.logger(ctx, "notification.publish.failed", map[string]any{
		"kind":     string(message.Kind),
		"order":    message.OrderID,
		"attempts": d.attempts,
		"error":    lastErr.Error(),
	})
}
