package notifications

import (
	"context"

	"github.com/mvbr/payflow/libs/db"
	"github.com/mvbr/payflow/services/notification-service/internal/ledger"
)

// PaymentApproved mirrors the producer's wire contract for the
// payment.approved topic.
type PaymentApproved struct {
	EventID   string  `json:"event_id"`
	PaymentID string  `json:"payment_id"`
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
}

// PaymentNotification mirrors the producer's wire contract for the
// payment.notification topic.
type PaymentNotification struct {
	EventID   string  `json:"event_id"`
	PaymentID string  `json:"payment_id"`
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

type Store struct {
	pool   *db.Pool
	ledger *ledger.Repository
}

func NewStore(pool *db.Pool, ledgerRepo *ledger.Repository) *Store {
	return &Store{pool: pool, ledger: ledgerRepo}
}

func (s *Store) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	return s.ledger.Exists(ctx, eventID)
}

// RecordApproval applies the business effect and the ledger entry in one
// transaction. Either both commit or neither does; a unique violation on
// the ledger surfaces as ledger.ErrAlreadyProcessed.
func (s *Store) RecordApproval(ctx context.Context, evt PaymentApproved, topic string, partition int, offset int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO notifications (payment_id, user_id, amount, currency, message)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.PaymentID, evt.UserID, evt.Amount, evt.Currency, "payment approved")
	if err != nil {
		return err
	}

	if err := s.ledger.Insert(ctx, tx, ledger.Entry{
		EventID:   evt.EventID,
		Topic:     topic,
		EventType: "PAYMENT_APPROVED",
		Partition: partition,
		Offset:    offset,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RecordNotification persists a free-form payment notification, with the
// same ledger discipline as RecordApproval.
func (s *Store) RecordNotification(ctx context.Context, evt PaymentNotification, topic string, partition int, offset int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO notifications (payment_id, user_id, amount, message)
		VALUES ($1, $2, $3, $4)
	`, evt.PaymentID, evt.UserID, evt.Amount, evt.Message)
	if err != nil {
		return err
	}

	if err := s.ledger.Insert(ctx, tx, ledger.Entry{
		EventID:   evt.EventID,
		Topic:     topic,
		EventType: "PAYMENT_NOTIFICATION",
		Partition: partition,
		Offset:    offset,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
