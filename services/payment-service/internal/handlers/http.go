package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mvbr/payflow/services/payment-service/internal/outbox"
	"github.com/mvbr/payflow/services/payment-service/internal/payments"
)

type Handler struct {
	svc        *payments.Service
	outboxRepo *outbox.Repository
}

func New(svc *payments.Service, outboxRepo *outbox.Repository) *Handler {
	return &Handler{svc: svc, outboxRepo: outboxRepo}
}

func writePayment(w http.ResponseWriter, status int, p payments.Payment) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"payment_id": p.ID,
		"user_id":    p.UserID,
		"amount":     p.Amount,
		"currency":   p.Currency,
		"status":     p.Status,
		"created_at": p.CreatedAt,
		"updated_at": p.UpdatedAt,
	})
}

func paymentIDFromBody(r *http.Request) (uuid.UUID, error) {
	var req struct {
		PaymentID string `json:"payment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(strings.TrimSpace(req.PaymentID))
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string  `json:"user_id"`
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	p, err := h.svc.Create(r.Context(), req.UserID, req.Amount, req.Currency)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidPayment) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to create payment", http.StatusInternalServerError)
		return
	}
	writePayment(w, http.StatusCreated, p)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("id")))
	if err != nil {
		http.Error(w, "missing or invalid id", http.StatusBadRequest)
		return
	}

	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load payment", http.StatusInternalServerError)
		return
	}
	writePayment(w, http.StatusOK, p)
}

func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	id, err := paymentIDFromBody(r)
	if err != nil {
		http.Error(w, "missing or invalid payment_id", http.StatusBadRequest)
		return
	}

	p, err := h.svc.Approve(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrNotFound):
			http.Error(w, "payment not found", http.StatusNotFound)
		case errors.Is(err, payments.ErrAlreadyCanceled):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "failed to approve payment", http.StatusInternalServerError)
		}
		return
	}
	writePayment(w, http.StatusOK, p)
}

func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id, err := paymentIDFromBody(r)
	if err != nil {
		http.Error(w, "missing or invalid payment_id", http.StatusBadRequest)
		return
	}

	p, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrNotFound):
			http.Error(w, "payment not found", http.StatusNotFound)
		case errors.Is(err, payments.ErrAlreadyApproved):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "failed to cancel payment", http.StatusInternalServerError)
		}
		return
	}
	writePayment(w, http.StatusOK, p)
}

func (h *Handler) NotifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentID string `json:"payment_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.PaymentID))
	if err != nil {
		http.Error(w, "missing or invalid payment_id", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	if err := h.svc.Notify(r.Context(), id, req.Message); err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to queue notification", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Stats reports the outbox backlog for external monitoring. FAILED rows
// need manual intervention; the pipeline never escalates them further.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	pending, err := h.outboxRepo.CountByStatus(r.Context(), outbox.StatusPending)
	if err != nil {
		http.Error(w, "failed to count outbox events", http.StatusInternalServerError)
		return
	}
	failed, err := h.outboxRepo.CountByStatus(r.Context(), outbox.StatusFailed)
	if err != nil {
		http.Error(w, "failed to count outbox events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"outbox_pending": pending,
		"outbox_failed":  failed,
	})
}
