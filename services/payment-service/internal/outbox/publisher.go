package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mvbr/payflow/libs/kafkax"
	otelx "github.com/mvbr/payflow/libs/otel"
	"github.com/mvbr/payflow/services/payment-service/internal/events"
	"github.com/segmentio/kafka-go"
)

// Store is the slice of the repository the publisher needs.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	RecordError(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Sender is satisfied by *kafka.Writer.
type Sender interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	PollEvery  time.Duration
	BatchSize  int
	MaxRetries int
}

// Publisher forwards PENDING outbox rows to Kafka on a fixed interval.
// It runs as a single goroutine and finishes a batch before observing the
// next tick, so runs never overlap and same-key rows keep creation order.
type Publisher struct {
	store    Store
	sender   Sender
	registry *events.Registry
	logger   *slog.Logger
	cfg      PublisherConfig
}

func NewPublisher(store Store, sender Sender, registry *events.Registry, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Publisher{
		store:    store,
		sender:   sender,
		registry: registry,
		logger:   logger,
		cfg:      cfg,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishPending(ctx); err != nil {
				// A db outage here is not fatal; the next tick starts over.
				p.logger.Error("outbox publish run failed", "err", err)
			}
		}
	}
}

// PublishPending drains one batch of PENDING rows. Each row's outcome is
// isolated: a failing row is recorded and the batch moves on.
func (p *Publisher) PublishPending(ctx context.Context) error {
	pending, err := p.store.FetchPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	p.logger.Info("publishing pending outbox events", "count", len(pending))
	for _, evt := range pending {
		if err := p.publish(ctx, evt); err != nil {
			p.handlePublishError(ctx, evt, err)
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, evt Event) error {
	decoded, err := p.registry.Decode(evt.EventType, evt.Payload)
	if err != nil {
		// Unknown types and corrupt payloads follow the same retry/FAILED
		// path as a broker error.
		return err
	}
	value, err := json.Marshal(decoded)
	if err != nil {
		return err
	}

	msgCtx := otelx.ContextWithTraceContext(ctx, evt.Traceparent, evt.Tracestate)
	msg := kafka.Message{
		Topic: evt.Topic,
		Key:   []byte(evt.PartitionKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.EventType)},
			{Key: "event-id", Value: []byte(decoded.ID())},
			{Key: "aggregate-id", Value: []byte(evt.AggregateID)},
			{Key: "source", Value: []byte("outbox-publisher")},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)

	// Blocking send: the row must not transition before the broker has
	// acknowledged, and waiting here is what keeps same-key rows ordered.
	if err := p.sender.WriteMessages(ctx, msg); err != nil {
		return err
	}

	if err := p.store.MarkPublished(ctx, evt.ID); err != nil {
		// The send went through; if this update is lost the row is re-sent
		// next cycle and consumer-side dedup absorbs the duplicate.
		return err
	}

	p.logger.Info("outbox event published",
		"outbox_id", evt.ID,
		"event_id", decoded.ID(),
		"event_type", evt.EventType,
		"topic", evt.Topic,
		"partition_key", evt.PartitionKey,
	)
	return nil
}

func (p *Publisher) handlePublishError(ctx context.Context, evt Event, cause error) {
	if evt.RetryCount >= p.cfg.MaxRetries {
		p.logger.Error("outbox event failed permanently",
			"outbox_id", evt.ID,
			"event_type", evt.EventType,
			"retry_count", evt.RetryCount,
			"err", cause,
		)
		if err := p.store.MarkFailed(ctx, evt.ID, cause.Error()); err != nil {
			p.logger.Error("failed to mark outbox event FAILED", "outbox_id", evt.ID, "err", err)
		}
		return
	}

	p.logger.Warn("outbox publish failed, will retry",
		"outbox_id", evt.ID,
		"event_type", evt.EventType,
		"retry_count", evt.RetryCount+1,
		"max_retries", p.cfg.MaxRetries,
		"err", cause,
	)
	if err := p.store.RecordError(ctx, evt.ID, cause.Error()); err != nil {
		p.logger.Error("failed to record outbox publish error", "outbox_id", evt.ID, "err", err)
	}
}
