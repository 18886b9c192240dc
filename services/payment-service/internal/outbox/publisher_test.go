package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/mvbr/payflow/services/payment-service/internal/events"
	"github.com/segmentio/kafka-go"
)

type memStore struct {
	rows  map[uuid.UUID]*Event
	order []uuid.UUID
}

func newMemStore(evts ...Event) *memStore {
	s := &memStore{rows: map[uuid.UUID]*Event{}}
	for i := range evts {
		evt := evts[i]
		s.rows[evt.ID] = &evt
		s.order = append(s.order, evt.ID)
	}
	return s
}

func (s *memStore) FetchPending(_ context.Context, limit int) ([]Event, error) {
	var out []Event
	for _, id := range s.order {
		if len(out) == limit {
			break
		}
		if s.rows[id].IsPending() {
			out = append(out, *s.rows[id])
		}
	}
	return out, nil
}

func (s *memStore) MarkPublished(_ context.Context, id uuid.UUID) error {
	s.rows[id].Status = StatusPublished
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	s.rows[id].MarkFailed(errMsg)
	return nil
}

func (s *memStore) RecordError(_ context.Context, id uuid.UUID, errMsg string) error {
	s.rows[id].RecordError(errMsg)
	return nil
}

type fakeSender struct {
	sent []kafka.Message
	err  error
}

func (f *fakeSender) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func approvedEvent(eventID, paymentID, userID string) Event {
	payload := []byte(`{"event_id":"` + eventID + `","payment_id":"` + paymentID + `","user_id":"` + userID + `","amount":10,"currency":"BRL","status":"APPROVED","timestamp":1756400000000}`)
	return NewEvent("PAYMENT", paymentID, events.TypePaymentApproved, "payment.approved.v1", userID, payload)
}

func newTestPublisher(store Store, sender Sender, cfg PublisherConfig) *Publisher {
	return NewPublisher(store, sender, events.NewRegistry(), slog.Default(), cfg)
}

func TestPublisher_PublishesInCreationOrder(t *testing.T) {
	first := approvedEvent("evt-1", "pay-1", "user-1")
	second := approvedEvent("evt-2", "pay-2", "user-1")
	store := newMemStore(first, second)
	sender := &fakeSender{}
	p := newTestPublisher(store, sender, PublisherConfig{})

	if err := p.PublishPending(context.Background()); err != nil {
		t.Fatalf("publish pending: %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sender.sent))
	}
	if string(sender.sent[0].Key) != "user-1" || string(sender.sent[1].Key) != "user-1" {
		t.Fatal("expected partition key user-1 on both messages")
	}
	wantIDs := []string{"evt-1", "evt-2"}
	for i, msg := range sender.sent {
		got := headerValue(msg.Headers, "event-id")
		if got != wantIDs[i] {
			t.Fatalf("message %d: expected event-id %s, got %s", i, wantIDs[i], got)
		}
	}
	if store.rows[first.ID].Status != StatusPublished || store.rows[second.ID].Status != StatusPublished {
		t.Fatal("expected both rows PUBLISHED")
	}
}

func TestPublisher_EventIDHeaderIsDomainID(t *testing.T) {
	evt := approvedEvent("evt-domain", "pay-1", "user-1")
	store := newMemStore(evt)
	sender := &fakeSender{}
	p := newTestPublisher(store, sender, PublisherConfig{})

	if err := p.PublishPending(context.Background()); err != nil {
		t.Fatalf("publish pending: %v", err)
	}

	got := headerValue(sender.sent[0].Headers, "event-id")
	if got != "evt-domain" {
		t.Fatalf("expected event-id header evt-domain, got %s", got)
	}
	if got == evt.ID.String() {
		t.Fatal("event-id header must carry the payload id, not the outbox row id")
	}
}

func TestPublisher_RetriesThenFails(t *testing.T) {
	evt := approvedEvent("evt-1", "pay-1", "user-1")
	store := newMemStore(evt)
	sender := &fakeSender{err: errors.New("broker unavailable")}
	p := newTestPublisher(store, sender, PublisherConfig{MaxRetries: 3})

	// Three failing cycles burn the retry budget while the row stays PENDING.
	for cycle := 1; cycle <= 3; cycle++ {
		if err := p.PublishPending(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		row := store.rows[evt.ID]
		if !row.IsPending() {
			t.Fatalf("cycle %d: expected PENDING, got %s", cycle, row.Status)
		}
		if row.RetryCount != cycle {
			t.Fatalf("cycle %d: expected retry count %d, got %d", cycle, cycle, row.RetryCount)
		}
	}

	// The fourth failure exceeds the budget and the row goes terminal.
	if err := p.PublishPending(context.Background()); err != nil {
		t.Fatalf("final cycle: %v", err)
	}
	row := store.rows[evt.ID]
	if row.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", row.Status)
	}
	if row.RetryCount != 3 {
		t.Fatalf("expected retry count 3, got %d", row.RetryCount)
	}
	if row.ErrorMessage != "broker unavailable" {
		t.Fatalf("unexpected error message: %s", row.ErrorMessage)
	}

	// FAILED is terminal: further cycles must not touch the row.
	if err := p.PublishPending(context.Background()); err != nil {
		t.Fatalf("post-failure cycle: %v", err)
	}
	if row.RetryCount != 3 || row.Status != StatusFailed {
		t.Fatal("FAILED row must not be retried")
	}
}

func TestPublisher_RowFailureDoesNotBlockBatch(t *testing.T) {
	bad := NewEvent("PAYMENT", "pay-1", "UNKNOWN_TYPE", "payment.approved.v1", "user-1", []byte(`{}`))
	good := approvedEvent("evt-2", "pay-2", "user-2")
	store := newMemStore(bad, good)
	sender := &fakeSender{}
	p := newTestPublisher(store, sender, PublisherConfig{})

	if err := p.PublishPending(context.Background()); err != nil {
		t.Fatalf("publish pending: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sent))
	}
	if store.rows[good.ID].Status != StatusPublished {
		t.Fatalf("expected good row PUBLISHED, got %s", store.rows[good.ID].Status)
	}
	if !store.rows[bad.ID].IsPending() || store.rows[bad.ID].RetryCount != 1 {
		t.Fatalf("expected bad row PENDING with retry count 1, got %s/%d",
			store.rows[bad.ID].Status, store.rows[bad.ID].RetryCount)
	}
}

func TestPublisher_RespectsBatchSize(t *testing.T) {
	var evts []Event
	for i := 0; i < 5; i++ {
		evts = append(evts, approvedEvent("evt", "pay", "user"))
	}
	store := newMemStore(evts...)
	sender := &fakeSender{}
	p := newTestPublisher(store, sender, PublisherConfig{BatchSize: 2})

	if err := p.PublishPending(context.Background()); err != nil {
		t.Fatalf("publish pending: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(sender.sent))
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
