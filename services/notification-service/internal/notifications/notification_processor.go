package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mvbr/payflow/libs/kafkax"
	"github.com/mvbr/payflow/services/notification-service/internal/ledger"
	"github.com/segmentio/kafka-go"
)

// NotificationRecorder is the durable side of notification handling.
type NotificationRecorder interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
	RecordNotification(ctx context.Context, evt PaymentNotification, topic string, partition int, offset int64) error
}

// NotificationProcessor handles free-form payment notifications with the
// same dedup contract as the approval processor: nil acknowledges, an
// error asks for redelivery.
type NotificationProcessor struct {
	store  NotificationRecorder
	logger *slog.Logger
}

func NewNotificationProcessor(store NotificationRecorder, logger *slog.Logger) *NotificationProcessor {
	return &NotificationProcessor{store: store, logger: logger}
}

func (p *NotificationProcessor) Process(ctx context.Context, msg kafka.Message) error {
	var evt PaymentNotification
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if evt.EventID == "" {
		evt.EventID = kafkax.ExtractEventMeta(msg).EventID
	}
	if evt.EventID == "" {
		return fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}

	processed, err := p.store.AlreadyProcessed(ctx, evt.EventID)
	if err != nil {
		return err
	}
	if processed {
		p.logger.Warn("duplicate notification skipped",
			"event_id", evt.EventID,
			"payment_id", evt.PaymentID,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return nil
	}

	if err := p.store.RecordNotification(ctx, evt, msg.Topic, msg.Partition, msg.Offset); err != nil {
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			p.logger.Warn("duplicate notification skipped after commit race", "event_id", evt.EventID)
			return nil
		}
		return err
	}

	p.logger.Info("payment notification processed",
		"event_id", evt.EventID,
		"payment_id", evt.PaymentID,
		"user_id", evt.UserID,
		"message", evt.Message,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return nil
}
