package events

import (
	"errors"
	"testing"
)

func TestRegistry_DecodePaymentApproved(t *testing.T) {
	r := NewRegistry()

	payload := []byte(`{"event_id":"evt-1","payment_id":"pay-1","user_id":"user-1","amount":49.9,"currency":"BRL","status":"APPROVED","timestamp":1756400000000}`)
	decoded, err := r.Decode(TypePaymentApproved, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID() != "evt-1" {
		t.Fatalf("expected event id evt-1, got %s", decoded.ID())
	}
	evt, ok := decoded.(PaymentApproved)
	if !ok {
		t.Fatalf("expected PaymentApproved, got %T", decoded)
	}
	if evt.PaymentID != "pay-1" || evt.Amount != 49.9 {
		t.Fatalf("unexpected payload: %+v", evt)
	}
}

func TestRegistry_DecodeUnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.Decode("SOMETHING_ELSE", []byte(`{}`))
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestRegistry_DecodeCorruptPayload(t *testing.T) {
	r := NewRegistry()

	_, err := r.Decode(TypePaymentNotification, []byte(`{not json`))
	if err == nil {
		t.Fatal("expected decode error for corrupt payload")
	}
}
