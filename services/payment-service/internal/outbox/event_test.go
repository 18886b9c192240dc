package outbox

import (
	"testing"
	"time"
)

func TestNewEvent_Defaults(t *testing.T) {
	evt := NewEvent("PAYMENT", "pay-1", "PAYMENT_APPROVED", "payment.approved.v1", "user-1", []byte(`{}`))

	if !evt.IsPending() {
		t.Fatalf("expected new event PENDING, got %s", evt.Status)
	}
	if evt.RetryCount != 0 {
		t.Fatalf("expected retry count 0, got %d", evt.RetryCount)
	}
	if evt.PublishedAt != nil {
		t.Fatal("expected nil published_at on new event")
	}
	if evt.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("expected generated id")
	}
}

func TestEvent_MarkPublished(t *testing.T) {
	evt := NewEvent("PAYMENT", "pay-1", "PAYMENT_APPROVED", "payment.approved.v1", "user-1", []byte(`{}`))

	now := time.Now().UTC()
	evt.MarkPublished(now)

	if evt.Status != StatusPublished {
		t.Fatalf("expected PUBLISHED, got %s", evt.Status)
	}
	if evt.PublishedAt == nil || !evt.PublishedAt.Equal(now) {
		t.Fatalf("expected published_at %s, got %v", now, evt.PublishedAt)
	}
	if evt.IsPending() {
		t.Fatal("PUBLISHED event must not report pending")
	}
}

func TestEvent_RecordErrorKeepsPending(t *testing.T) {
	evt := NewEvent("PAYMENT", "pay-1", "PAYMENT_APPROVED", "payment.approved.v1", "user-1", []byte(`{}`))

	evt.RecordError("broker unavailable")
	evt.RecordError("broker unavailable")

	if evt.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", evt.RetryCount)
	}
	if !evt.IsPending() {
		t.Fatalf("expected event to stay PENDING, got %s", evt.Status)
	}
	if evt.ErrorMessage != "broker unavailable" {
		t.Fatalf("unexpected error message: %s", evt.ErrorMessage)
	}
}

func TestEvent_MarkFailed(t *testing.T) {
	evt := NewEvent("PAYMENT", "pay-1", "PAYMENT_APPROVED", "payment.approved.v1", "user-1", []byte(`{}`))

	evt.MarkFailed("gave up")

	if evt.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", evt.Status)
	}
	if evt.ErrorMessage != "gave up" {
		t.Fatalf("unexpected error message: %s", evt.ErrorMessage)
	}
}
