package consumer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mvbr/payflow/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Fetcher is the slice of *kafka.Reader the consumer uses. FetchMessage
// instead of ReadMessage keeps the offset commit in our hands: nothing is
// acknowledged before the processor's transaction has committed.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Processor interface {
	Process(ctx context.Context, msg kafka.Message) error
}

// DeadLetterer diverts a message that exhausted its retry budget.
type DeadLetterer interface {
	Publish(ctx context.Context, msg kafka.Message, cause error) error
}

type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
	Retry   RetryConfig
}

// Consumer runs one fetch-process-commit loop. Messages from the same
// partition are handled strictly in order; there is no fan-out below the
// consumer-group level.
type Consumer struct {
	fetcher      Fetcher
	processor    Processor
	dlq          DeadLetterer
	logger       *slog.Logger
	retry        RetryConfig
	deadLettered atomic.Int64
}

func New(logger *slog.Logger, processor Processor, dlq DeadLetterer, cfg Config) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newWithFetcher(logger, reader, processor, dlq, cfg.Retry)
}

func newWithFetcher(logger *slog.Logger, fetcher Fetcher, processor Processor, dlq DeadLetterer, retry RetryConfig) *Consumer {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 5
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = time.Second
	}
	if retry.Multiplier < 1 {
		retry.Multiplier = 2
	}
	if retry.MaxBackoff <= 0 {
		retry.MaxBackoff = 10 * time.Second
	}
	return &Consumer{
		fetcher:   fetcher,
		processor: processor,
		dlq:       dlq,
		logger:    logger,
		retry:     retry,
	}
}

// DeadLettered reports how many messages this instance diverted to the
// dead-letter topic since start.
func (c *Consumer) DeadLettered() int64 {
	return c.deadLettered.Load()
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.fetcher.Close()

	for {
		msg, err := c.fetcher.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		if err := c.handle(ctxSpan, msg); err != nil {
			span.RecordError(err)
			span.End()
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("message handling aborted", "err", err)
			continue
		}
		span.End()
	}
}

// handle retries the processor with exponential backoff. On success (or a
// recognized duplicate) the offset is committed; when the attempt budget
// runs out the message is dead-lettered first so the partition unblocks.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)

	var lastErr error
	backoff := c.retry.InitialBackoff
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		lastErr = c.processor.Process(ctx, msg)
		if lastErr == nil {
			return c.fetcher.CommitMessages(ctx, msg)
		}

		c.logger.Warn("event processing failed",
			"event_id", meta.EventID,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"max_attempts", c.retry.MaxAttempts,
			"err", lastErr,
		)
		if attempt == c.retry.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * c.retry.Multiplier)
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}

	// The message must be parked before anything else is fetched from
	// this reader: a later commit would cover this offset too and the
	// message would be lost without ever reaching the dead-letter topic.
	backoff = c.retry.InitialBackoff
	for {
		err := c.dlq.Publish(ctx, msg, lastErr)
		if err == nil {
			break
		}
		c.logger.Error("dead-letter publish failed, retrying",
			"event_id", meta.EventID,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * c.retry.Multiplier)
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}
	c.deadLettered.Add(1)
	c.logger.Error("event dead-lettered",
		"event_id", meta.EventID,
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"err", lastErr,
	)
	return c.fetcher.CommitMessages(ctx, msg)
}
