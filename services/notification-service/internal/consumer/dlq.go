package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/mvbr/payflow/libs/kafkax"
	"github.com/mvbr/payflow/services/notification-service/internal/notifications"
	"github.com/segmentio/kafka-go"
)

type Sender interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DLQWriter republishes exhausted messages verbatim to {topic}.dlq,
// stamped with failure headers and pinned to the original partition so a
// later replay sees the same per-key ordering.
type DLQWriter struct {
	sender Sender
	logger *slog.Logger
}

func NewDLQWriter(brokers []string, logger *slog.Logger) *DLQWriter {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: kafkax.SamePartition{},
	})
	return &DLQWriter{sender: writer, logger: logger}
}

func (w *DLQWriter) Publish(ctx context.Context, msg kafka.Message, cause error) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers, kafkax.FailureHeaders(kafkax.FailureMeta{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		ExceptionClass:    errorClass(cause),
		ExceptionMessage:  errorMessage(cause),
	})...)

	out := kafka.Message{
		Topic:   kafkax.DLQTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := w.sender.WriteMessages(ctx, out); err != nil {
		return err
	}

	w.logger.Warn("message sent to dead-letter topic",
		"dlq_topic", out.Topic,
		"original_topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return nil
}

// errorClass collapses an error chain into a coarse class string. The
// recoverer's replay policy keys off it to tell transient failures from
// deterministic ones.
func errorClass(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, notifications.ErrMalformedPayload) {
		return "MalformedPayload"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "Timeout"
		}
		return "ConnectionError"
	}
	return "ProcessingError"
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
