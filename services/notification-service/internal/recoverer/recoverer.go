package recoverer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mvbr/payflow/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Policy decides whether a dead-lettered message is safe to put back on
// its original topic.
type Policy interface {
	ShouldReplay(meta kafkax.FailureMeta) bool
}

// ReplayAlways republishes everything. Only sensible while an operator is
// watching, which is why the recoverer ships disabled.
type ReplayAlways struct{}

func (ReplayAlways) ShouldReplay(kafkax.FailureMeta) bool { return true }

// ReplayTransient republishes only failures that look like transient
// infrastructure trouble. Deterministic failures (a payload that never
// parses) would loop forever, so they stay parked for manual review.
type ReplayTransient struct{}

func (ReplayTransient) ShouldReplay(meta kafkax.FailureMeta) bool {
	class := meta.ExceptionClass
	return strings.Contains(class, "Timeout") || strings.Contains(class, "Connection")
}

type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Sender interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	Enabled bool
	Brokers string
	Topics  []string
	GroupID string
}

// Recoverer drains a dead-letter topic and republishes accepted messages
// to their original topic with the original partition key, re-entering
// the normal ordering discipline. Disabled by default: replaying while
// the root cause is unfixed just loops messages through the DLQ.
type Recoverer struct {
	fetcher Fetcher
	sender  Sender
	policy  Policy
	logger  *slog.Logger
	enabled bool
}

func New(logger *slog.Logger, policy Policy, cfg Config) *Recoverer {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
	return newWithTransport(logger, reader, writer, policy, cfg.Enabled)
}

func newWithTransport(logger *slog.Logger, fetcher Fetcher, sender Sender, policy Policy, enabled bool) *Recoverer {
	if policy == nil {
		policy = ReplayAlways{}
	}
	return &Recoverer{
		fetcher: fetcher,
		sender:  sender,
		policy:  policy,
		logger:  logger,
		enabled: enabled,
	}
}

func (r *Recoverer) Run(ctx context.Context) {
	if !r.enabled {
		r.logger.Info("dlq recoverer disabled")
		return
	}
	defer r.fetcher.Close()

	for {
		msg, err := r.fetcher.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("dlq fetch error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}
		if err := r.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("dlq reprocessing failed, message stays in dlq", "err", err)
		}
	}
}

func (r *Recoverer) handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractFailureMeta(msg.Headers)

	// Nothing sensible to replay: acknowledge and move on.
	if len(msg.Value) == 0 {
		r.logger.Error("dlq message has empty payload, dropping",
			"dlq_topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return r.fetcher.CommitMessages(ctx, msg)
	}
	if meta.OriginalTopic == "" {
		r.logger.Error("dlq message has no original-topic header, cannot replay",
			"dlq_topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return r.fetcher.CommitMessages(ctx, msg)
	}

	if !r.policy.ShouldReplay(meta) {
		r.logger.Warn("dlq message rejected by replay policy, left for manual review",
			"original_topic", meta.OriginalTopic,
			"exception_class", meta.ExceptionClass,
			"exception_message", meta.ExceptionMessage,
		)
		return r.fetcher.CommitMessages(ctx, msg)
	}

	out := kafka.Message{
		Topic: meta.OriginalTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(kafkax.HeaderValue(msg.Headers, "event-type"))},
			{Key: "event-id", Value: []byte(kafkax.HeaderValue(msg.Headers, "event-id"))},
			{Key: "aggregate-id", Value: []byte(kafkax.HeaderValue(msg.Headers, "aggregate-id"))},
			{Key: "source", Value: []byte("dlq-recoverer")},
		},
	}
	if err := r.sender.WriteMessages(ctx, out); err != nil {
		// Do not commit; the message stays in the DLQ for another pass.
		return err
	}

	r.logger.Info("dlq message republished",
		"original_topic", meta.OriginalTopic,
		"original_partition", meta.OriginalPartition,
		"original_offset", meta.OriginalOffset,
		"exception_class", meta.ExceptionClass,
	)
	return r.fetcher.CommitMessages(ctx, msg)
}
