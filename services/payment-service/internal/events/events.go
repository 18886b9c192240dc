package events

import "github.com/google/uuid"

// Event type discriminators stored on outbox rows and carried in the
// event-type Kafka header.
const (
	TypePaymentApproved     = "PAYMENT_APPROVED"
	TypePaymentNotification = "PAYMENT_NOTIFICATION"
)

// Event is implemented by every payload that travels through the outbox.
// ID returns the domain event id, which ends up in the event-id header and
// is what consumers key their dedup ledger on.
type Event interface {
	ID() string
}

type PaymentApproved struct {
	EventID   string  `json:"event_id"`
	PaymentID string  `json:"payment_id"`
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
}

func (e PaymentApproved) ID() string { return e.EventID }

type PaymentNotification struct {
	EventID   string  `json:"event_id"`
	PaymentID string  `json:"payment_id"`
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

func (e PaymentNotification) ID() string { return e.EventID }

func NewEventID() string {
	return uuid.NewString()
}
