package notifications

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeNotificationRecorder struct {
	processed map[string]bool
	recorded  []PaymentNotification
	insertErr error
}

func newFakeNotificationRecorder() *fakeNotificationRecorder {
	return &fakeNotificationRecorder{processed: map[string]bool{}}
}

func (f *fakeNotificationRecorder) AlreadyProcessed(_ context.Context, eventID string) (bool, error) {
	return f.processed[eventID], nil
}

func (f *fakeNotificationRecorder) RecordNotification(_ context.Context, evt PaymentNotification, _ string, _ int, _ int64) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.processed[evt.EventID] = true
	f.recorded = append(f.recorded, evt)
	return nil
}

func notificationMessage(eventID string) kafka.Message {
	return kafka.Message{
		Topic:     "payment.notification.v1",
		Partition: 0,
		Offset:    12,
		Key:       []byte("user-1"),
		Value: []byte(`{"event_id":"` + eventID + `","payment_id":"pay-1","user_id":"user-1",` +
			`"amount":49.9,"message":"order shipped","timestamp":1756400000000}`),
	}
}

func TestNotificationProcessor_RecordsNotification(t *testing.T) {
	store := newFakeNotificationRecorder()
	p := NewNotificationProcessor(store, slog.Default())

	if err := p.Process(context.Background(), notificationMessage("evt-1")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(store.recorded) != 1 {
		t.Fatalf("expected 1 recorded notification, got %d", len(store.recorded))
	}
	if store.recorded[0].Message != "order shipped" {
		t.Fatalf("unexpected message: %s", store.recorded[0].Message)
	}
	if store.recorded[0].Amount != 49.9 {
		t.Fatalf("unexpected amount: %v", store.recorded[0].Amount)
	}
}

func TestNotificationProcessor_DuplicateIsAcked(t *testing.T) {
	store := newFakeNotificationRecorder()
	p := NewNotificationProcessor(store, slog.Default())

	if err := p.Process(context.Background(), notificationMessage("evt-1")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := p.Process(context.Background(), notificationMessage("evt-1")); err != nil {
		t.Fatalf("redelivery must be acknowledged, got %v", err)
	}

	if len(store.recorded) != 1 {
		t.Fatalf("expected effect exactly once, got %d", len(store.recorded))
	}
}

func TestNotificationProcessor_MalformedPayload(t *testing.T) {
	store := newFakeNotificationRecorder()
	p := NewNotificationProcessor(store, slog.Default())

	msg := kafka.Message{Topic: "payment.notification.v1", Value: []byte(`{not json`)}
	if err := p.Process(context.Background(), msg); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}
