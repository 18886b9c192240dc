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

// ErrMalformedPayload marks a message whose body cannot be decoded. The
// consumer does not acknowledge it; the delivery goes down the retry path
// and ends up dead-lettered if it never parses.
var ErrMalformedPayload = errors.New("malformed event payload")

// Recorder is the durable side of event handling.
type Recorder interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
	RecordApproval(ctx context.Context, evt PaymentApproved, topic string, partition int, offset int64) error
}

// Processor turns one Kafka delivery into at most one business effect.
// A nil return asks the consumer to acknowledge; an error asks for
// redelivery.
type Processor struct {
	store  Recorder
	logger *slog.Logger
}

func NewProcessor(store Recorder, logger *slog.Logger) *Processor {
	return &Processor{store: store, logger: logger}
}

func (p *Processor) Process(ctx context.Context, msg kafka.Message) error {
	var evt PaymentApproved
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if evt.EventID == "" {
		// Fall back to the event-id header for producers that do not
		// embed the id in the payload.
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
		// Crash-after-commit-before-ack, rebalance, or manual replay.
		// Acknowledge so the offset advances; the effect already happened.
		p.logger.Warn("duplicate event skipped",
			"event_id", evt.EventID,
			"payment_id", evt.PaymentID,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return nil
	}

	if err := p.store.RecordApproval(ctx, evt, msg.Topic, msg.Partition, msg.Offset); err != nil {
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			// Lost the race against another delivery of the same event.
			p.logger.Warn("duplicate event skipped after commit race", "event_id", evt.EventID)
			return nil
		}
		return err
	}

	p.logger.Info("payment approval processed",
		"event_id", evt.EventID,
		"payment_id", evt.PaymentID,
		"user_id", evt.UserID,
		"amount", evt.Amount,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return nil
}
