package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mvbr/payflow/libs/db"
	"github.com/mvbr/payflow/services/payment-service/internal/events"
	"github.com/mvbr/payflow/services/payment-service/internal/outbox"
)

const aggregateType = "PAYMENT"

type Topics struct {
	Approved     string
	Notification string
}

// Service owns the transaction boundary: every state change and its
// outbox event commit or roll back together. Nothing here talks to the
// broker; once the row exists, delivery is the publisher's problem.
type Service struct {
	pool   *db.Pool
	repo   *Repository
	writer *outbox.Writer
	logger *slog.Logger
	topics Topics
}

func NewService(pool *db.Pool, repo *Repository, writer *outbox.Writer, logger *slog.Logger, topics Topics) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		writer: writer,
		logger: logger,
		topics: topics,
	}
}

func (s *Service) Create(ctx context.Context, userID string, amount float64, currency string) (Payment, error) {
	p, err := New(userID, amount, currency)
	if err != nil {
		return Payment{}, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return Payment{}, err
	}
	s.logger.Info("payment created", "payment_id", p.ID, "user_id", p.UserID, "amount", p.Amount, "currency", p.Currency)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Payment, error) {
	return s.repo.Get(ctx, id)
}

// Approve transitions the payment and appends the PAYMENT_APPROVED event
// in one transaction. The partition key is the user id, so all events of
// one user stay ordered through the pipeline.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (Payment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Payment{}, err
	}
	if err := p.Approve(); err != nil {
		return Payment{}, err
	}
	if err := s.repo.UpdateStatus(ctx, tx, p.ID, p.Status); err != nil {
		return Payment{}, err
	}

	evt := events.PaymentApproved{
		EventID:   events.NewEventID(),
		PaymentID: p.ID.String(),
		UserID:    p.UserID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    string(p.Status),
		Timestamp: time.Now().UnixMilli(),
	}
	if _, err := s.writer.Append(ctx, tx, aggregateType, p.ID.String(), events.TypePaymentApproved, s.topics.Approved, p.UserID, evt); err != nil {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, err
	}
	s.logger.Info("payment approved", "payment_id", p.ID, "user_id", p.UserID, "event_id", evt.EventID)
	return p, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (Payment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Payment{}, err
	}
	if err := p.Cancel(); err != nil {
		return Payment{}, err
	}
	if err := s.repo.UpdateStatus(ctx, tx, p.ID, p.Status); err != nil {
		return Payment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Payment{}, err
	}
	s.logger.Info("payment canceled", "payment_id", p.ID, "user_id", p.UserID)
	return p, nil
}

// Notify appends a PAYMENT_NOTIFICATION event for an existing payment.
func (s *Service) Notify(ctx context.Context, id uuid.UUID, message string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}

	evt := events.PaymentNotification{
		EventID:   events.NewEventID(),
		PaymentID: p.ID.String(),
		UserID:    p.UserID,
		Amount:    p.Amount,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
	if _, err := s.writer.Append(ctx, tx, aggregateType, p.ID.String(), events.TypePaymentNotification, s.topics.Notification, p.UserID, evt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Info("payment notification queued", "payment_id", p.ID, "user_id", p.UserID, "event_id", evt.EventID)
	return nil
}
