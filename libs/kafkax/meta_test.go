package kafkax

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestExtractEventMeta_FromHeaders(t *testing.T) {
	msg := kafka.Message{
		Topic: "payment.approved.v1",
		Key:   []byte("user-1"),
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte("evt-1")},
			{Key: "event-type", Value: []byte("PAYMENT_APPROVED")},
		},
	}

	meta := ExtractEventMeta(msg)
	if meta.EventID != "evt-1" {
		t.Fatalf("expected event id evt-1, got %s", meta.EventID)
	}
	if meta.EventType != "PAYMENT_APPROVED" {
		t.Fatalf("expected event type PAYMENT_APPROVED, got %s", meta.EventType)
	}
}

func TestExtractEventMeta_Fallbacks(t *testing.T) {
	msg := kafka.Message{
		Topic: "payment.approved.v1",
		Key:   []byte("user-1"),
	}

	meta := ExtractEventMeta(msg)
	if meta.EventID != "user-1" {
		t.Fatalf("expected key fallback, got %s", meta.EventID)
	}
	if meta.EventType != "payment.approved.v1" {
		t.Fatalf("expected topic fallback, got %s", meta.EventType)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers("kafka-1:9092, kafka-2:9092,,")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
}
