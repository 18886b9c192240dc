package outbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mvbr/payflow/libs/db"
	otelx "github.com/mvbr/payflow/libs/otel"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes the event inside the caller's transaction, which is what
// makes the outbox row atomic with the business mutation.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, status, retry_count, created_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Topic, evt.PartitionKey, evt.Payload, evt.Status, evt.RetryCount, evt.CreatedAt, traceparent, tracestate)
	return err
}

// FetchPending returns up to limit PENDING rows, oldest first. Creation
// order is what the publisher relies on to keep same-key events ordered.
func (r *Repository) FetchPending(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, status, retry_count, COALESCE(error_message, ''), created_at, published_at, COALESCE(traceparent, ''), COALESCE(tracestate, '')
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Topic, &evt.PartitionKey, &evt.Payload, &evt.Status, &evt.RetryCount, &evt.ErrorMessage, &evt.CreatedAt, &evt.PublishedAt, &evt.Traceparent, &evt.Tracestate); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, published_at = now()
		WHERE id = $1 AND status = $3
	`, id, StatusPublished, StatusPending)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, error_message = $3
		WHERE id = $1 AND status = $4
	`, id, StatusFailed, errMsg, StatusPending)
	return err
}

// RecordError bumps the retry counter and keeps the row PENDING so the
// next polling cycle picks it up again.
func (r *Repository) RecordError(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET retry_count = retry_count + 1, error_message = $2
		WHERE id = $1 AND status = $3
	`, id, errMsg, StatusPending)
	return err
}

func (r *Repository) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM outbox_events WHERE status = $1
	`, status).Scan(&count)
	return count, err
}

// ListByAggregate is an audit query; dispatch never uses it.
func (r *Repository) ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, status, retry_count, COALESCE(error_message, ''), created_at, published_at, COALESCE(traceparent, ''), COALESCE(tracestate, '')
		FROM outbox_events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY created_at DESC
	`, aggregateType, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Topic, &evt.PartitionKey, &evt.Payload, &evt.Status, &evt.RetryCount, &evt.ErrorMessage, &evt.CreatedAt, &evt.PublishedAt, &evt.Traceparent, &evt.Tracestate); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}
