package outbox

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

// Event is one row of the outbox_events table. A row is created PENDING
// in the same transaction as the business mutation that produced it, and
// only the publisher moves it to PUBLISHED or FAILED. Both of those are
// terminal.
type Event struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       []byte
	Status        Status
	RetryCount    int
	ErrorMessage  string
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Traceparent   string
	Tracestate    string
}

func NewEvent(aggregateType, aggregateID, eventType, topic, partitionKey string, payload []byte) Event {
	return Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		PartitionKey:  partitionKey,
		Payload:       payload,
		Status:        StatusPending,
		RetryCount:    0,
		CreatedAt:     time.Now().UTC(),
	}
}

func (e *Event) MarkPublished(now time.Time) {
	e.Status = StatusPublished
	e.PublishedAt = &now
}

func (e *Event) MarkFailed(errMsg string) {
	e.Status = StatusFailed
	e.ErrorMessage = errMsg
}

// RecordError keeps the row PENDING for another attempt.
func (e *Event) RecordError(errMsg string) {
	e.ErrorMessage = errMsg
	e.RetryCount++
}

func (e *Event) IsPending() bool { return e.Status == StatusPending }
