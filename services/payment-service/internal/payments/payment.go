package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusCanceled Status = "CANCELED"
)

var (
	ErrNotFound         = errors.New("payment not found")
	ErrInvalidPayment   = errors.New("invalid payment")
	ErrAlreadyCanceled  = errors.New("cannot approve a canceled payment")
	ErrAlreadyApproved  = errors.New("cannot cancel an approved payment")
)

type Payment struct {
	ID        uuid.UUID
	UserID    string
	Amount    float64
	Currency  string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(userID string, amount float64, currency string) (Payment, error) {
	userID = strings.TrimSpace(userID)
	currency = strings.TrimSpace(currency)
	if userID == "" {
		return Payment{}, fmt.Errorf("%w: user_id is required", ErrInvalidPayment)
	}
	if amount <= 0 {
		return Payment{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidPayment)
	}
	if currency == "" {
		return Payment{}, fmt.Errorf("%w: currency is required", ErrInvalidPayment)
	}
	now := time.Now().UTC()
	return Payment{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Currency:  strings.ToUpper(currency),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Payment) Approve() error {
	if p.Status == StatusCanceled {
		return ErrAlreadyCanceled
	}
	p.Status = StatusApproved
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Payment) Cancel() error {
	if p.Status == StatusApproved {
		return ErrAlreadyApproved
	}
	p.Status = StatusCanceled
	p.UpdatedAt = time.Now().UTC()
	return nil
}
