package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mvbr/payflow/libs/db"
)

// ErrAlreadyProcessed signals that another delivery of the same event
// committed first. Callers treat it as a duplicate, not a failure.
var ErrAlreadyProcessed = errors.New("event already processed")

// Entry records one fully handled inbound event. A row exists if and only
// if the matching business effect committed; the insert shares the
// effect's transaction.
type Entry struct {
	EventID     string
	Topic       string
	EventType   string
	Partition   int
	Offset      int64
	ProcessedAt time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)
	`, eventID).Scan(&exists)
	return exists, err
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e Entry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, topic, event_type, partition, "offset")
		VALUES ($1, $2, $3, $4, $5)
	`, e.EventID, e.Topic, e.EventType, e.Partition, e.Offset)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyProcessed
		}
		return err
	}
	return nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM processed_events`).Scan(&count)
	return count, err
}
