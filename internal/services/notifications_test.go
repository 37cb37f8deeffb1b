package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyPublisher struct {
	failures int
	calls    int
}

func (p *flakyPublisher) PublishNotification(_ context.Context, _ NotificationMessage) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", errors.New("broker unavailable")
	}
	return "msg-1", nil
}

func TestDispatchRetriesUntilPublished(t *testing.T) {
	publisher := &flakyPublisher{failures: 2}
	var published string

	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Publisher:   publisher,
		Backoff:     time.Millisecond,
		Synchronous: true,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			published = event
		},
	})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}

	dispatcher.Dispatch(context.Background(), NotificationMessage{
		Kind:    NotificationOrderPlaced,
		OrderID: "ord_01",
	})

	if publisher.calls != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", publisher.calls)
	}
	if published != "notification.published" {
		t.Fatalf("expected success log, got %q", published)
	}
}

func TestDispatchLogsAfterExhaustingRetries(t *testing.T) {
	publisher := &flakyPublisher{failures: 10}
	var events []string

	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Publisher:   publisher,
		Attempts:    2,
		Backoff:     time.Millisecond,
		Synchronous: true,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}

	dispatcher.Dispatch(context.Background(), NotificationMessage{
		Kind:    NotificationOrderStatusChanged,
		OrderID: "ord_01",
	})

	if publisher.calls != 2 {
		t.Fatalf("expected 2 publish attempts, got %d", publisher.calls)
	}
	if len(events) != 1 || events[0] != "notification.publish.failed" {
		t.Fatalf("expected a single failure log, got %v", events)
	}
}

func TestDispatchSurvivesCancelledRequestContext(t *testing.T) {
	publisher := &flakyPublisher{}
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Publisher:   publisher,
		Synchronous: true,
	})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dispatcher.Dispatch(ctx, NotificationMessage{Kind: NotificationOrderPlaced, OrderID: "ord_01"})
	if publisher.calls != 1 {
		t.Fatalf("expected delivery despite cancelled request, got %d calls", publisher.calls)
	}
}

func TestDispatchStampsOccurredAt(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	var got NotificationMessage

	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Publisher: publisherFunc(func(_ context.Context, m NotificationMessage) (string, error) {
			got = m
			return "msg-1", nil
		}),
		Clock:       func() time.Time { return now },
		Synchronous: true,
	})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}

	dispatcher.Dispatch(context.Background(), NotificationMessage{Kind: NotificationOrderPlaced})
	if !got.OccurredAt.Equal(now) {
		t.Fatalf("expected occurredAt %v, got %v", now, got.OccurredAt)
	}
}

type publisherFunc func(context.Context, NotificationMessage) (string, error)

func (f publisherFunc) PublishNotification(ctx context.Context, m NotificationMessage) (string, error) {
	return f(ctx, m)
}
