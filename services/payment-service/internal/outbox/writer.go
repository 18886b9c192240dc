package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// ErrSerialization means the payload could not be encoded. It surfaces to
// the caller before anything is persisted, so the enclosing transaction
// aborts with the business mutation. It is never retried.
var ErrSerialization = errors.New("outbox payload serialization failed")

type inserter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt Event) error
}

// Writer appends events to the outbox inside the caller's transaction.
// It never talks to the broker; forwarding is the Publisher's job.
type Writer struct {
	repo   inserter
	logger *slog.Logger
}

func NewWriter(repo inserter, logger *slog.Logger) *Writer {
	return &Writer{repo: repo, logger: logger}
}

func (w *Writer) Append(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType, topic, partitionKey string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s: %v", ErrSerialization, eventType, err)
	}

	evt := NewEvent(aggregateType, aggregateID, eventType, topic, partitionKey, data)
	if err := w.repo.Insert(ctx, tx, evt); err != nil {
		return Event{}, err
	}

	w.logger.Info("outbox event saved",
		"outbox_id", evt.ID,
		"aggregate_type", aggregateType,
		"aggregate_id", aggregateID,
		"event_type", eventType,
		"topic", topic,
		"partition_key", partitionKey,
	)
	return evt, nil
}
