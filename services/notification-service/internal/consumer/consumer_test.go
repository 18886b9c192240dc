package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mvbr/payflow/services/notification-service/internal/notifications"
	"github.com/segmentio/kafka-go"
)

type fakeFetcher struct {
	committed []kafka.Message
	commitErr error
}

func (f *fakeFetcher) FetchMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("not used")
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeFetcher) Close() error { return nil }

type fakeProcessor struct {
	failures int
	calls    int
	err      error
}

func (p *fakeProcessor) Process(context.Context, kafka.Message) error {
	p.calls++
	if p.calls <= p.failures {
		if p.err != nil {
			return p.err
		}
		return errors.New("processing failed")
	}
	return nil
}

type fakeDLQ struct {
	published []kafka.Message
	causes    []error
	attempts  int
	failures  int
}

func (d *fakeDLQ) Publish(_ context.Context, msg kafka.Message, cause error) error {
	d.attempts++
	if d.attempts <= d.failures {
		return errors.New("dlq broker down")
	}
	d.published = append(d.published, msg)
	d.causes = append(d.causes, cause)
	return nil
}

func fastRetry(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func testMessage() kafka.Message {
	return kafka.Message{
		Topic:     "payment.approved.v1",
		Partition: 2,
		Offset:    41,
		Key:       []byte("user-1"),
		Value:     []byte(`{"event_id":"evt-1"}`),
	}
}

func TestConsumer_SuccessCommits(t *testing.T) {
	fetcher := &fakeFetcher{}
	processor := &fakeProcessor{}
	dlq := &fakeDLQ{}
	c := newWithFetcher(slog.Default(), fetcher, processor, dlq, fastRetry(5))

	if err := c.handle(context.Background(), testMessage()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if processor.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", processor.calls)
	}
	if len(fetcher.committed) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(fetcher.committed))
	}
	if len(dlq.published) != 0 {
		t.Fatal("successful message must not be dead-lettered")
	}
}

func TestConsumer_TransientFailureRecoversWithinBudget(t *testing.T) {
	fetcher := &fakeFetcher{}
	processor := &fakeProcessor{failures: 2}
	dlq := &fakeDLQ{}
	c := newWithFetcher(slog.Default(), fetcher, processor, dlq, fastRetry(5))

	if err := c.handle(context.Background(), testMessage()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if processor.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", processor.calls)
	}
	if len(fetcher.committed) != 1 {
		t.Fatalf("expected commit after recovery, got %d", len(fetcher.committed))
	}
	if len(dlq.published) != 0 {
		t.Fatal("recovered message must not be dead-lettered")
	}
}

func TestConsumer_ExhaustedRetriesDeadLetterThenCommit(t *testing.T) {
	fetcher := &fakeFetcher{}
	cause := errors.New("poison message")
	processor := &fakeProcessor{failures: 100, err: cause}
	dlq := &fakeDLQ{}
	c := newWithFetcher(slog.Default(), fetcher, processor, dlq, fastRetry(5))

	msg := testMessage()
	if err := c.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if processor.calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", processor.calls)
	}
	if len(dlq.published) != 1 {
		t.Fatalf("expected 1 dead-letter publish, got %d", len(dlq.published))
	}
	if dlq.published[0].Partition != msg.Partition || dlq.published[0].Offset != msg.Offset {
		t.Fatalf("dead-lettered message lost its origin: %+v", dlq.published[0])
	}
	if !errors.Is(dlq.causes[0], cause) {
		t.Fatalf("expected original cause, got %v", dlq.causes[0])
	}
	// The offset only advances after the DLQ write succeeded.
	if len(fetcher.committed) != 1 {
		t.Fatalf("expected commit after dead-lettering, got %d", len(fetcher.committed))
	}
	if c.DeadLettered() != 1 {
		t.Fatalf("expected dead-letter count 1, got %d", c.DeadLettered())
	}
}

func TestConsumer_DLQOutageBlocksUntilParked(t *testing.T) {
	fetcher := &fakeFetcher{}
	processor := &fakeProcessor{failures: 100}
	dlq := &fakeDLQ{failures: 2}
	c := newWithFetcher(slog.Default(), fetcher, processor, dlq, fastRetry(3))

	if err := c.handle(context.Background(), testMessage()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dlq.attempts != 3 {
		t.Fatalf("expected 3 dead-letter attempts, got %d", dlq.attempts)
	}
	if len(dlq.published) != 1 {
		t.Fatalf("expected 1 dead-letter publish, got %d", len(dlq.published))
	}
	if len(fetcher.committed) != 1 {
		t.Fatal("offset must advance once the message is parked")
	}
	if c.DeadLettered() != 1 {
		t.Fatalf("expected dead-letter count 1, got %d", c.DeadLettered())
	}
}

func TestConsumer_DLQOutageCancelDoesNotCommit(t *testing.T) {
	fetcher := &fakeFetcher{}
	processor := &fakeProcessor{failures: 100}
	dlq := &fakeDLQ{failures: 1 << 30}
	c := newWithFetcher(slog.Default(), fetcher, processor, dlq, fastRetry(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.handle(ctx, testMessage()) }()

	// Let the handler reach the dead-letter retry loop, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not return after cancel")
	}
	if len(fetcher.committed) != 0 {
		t.Fatal("offset must not advance while the message is unparked")
	}
	if c.DeadLettered() != 0 {
		t.Fatalf("expected dead-letter count 0, got %d", c.DeadLettered())
	}
}

type scriptedFetcher struct {
	queue     []kafka.Message
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (f *scriptedFetcher) FetchMessage(context.Context) (kafka.Message, error) {
	if len(f.queue) == 0 {
		f.cancel()
		return kafka.Message{}, context.Canceled
	}
	msg := f.queue[0]
	f.queue = f.queue[1:]
	return msg, nil
}

func (f *scriptedFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *scriptedFetcher) Close() error { return nil }

type poisonOffsetProcessor struct {
	poison int64
}

func (p *poisonOffsetProcessor) Process(_ context.Context, msg kafka.Message) error {
	if msg.Offset == p.poison {
		return errors.New("poison message")
	}
	return nil
}

// A poison message whose first dead-letter publish fails must still be
// parked before the loop moves on; otherwise committing the next offset
// would silently cover the lost one.
func TestConsumer_RunParksPoisonBeforeNextMessage(t *testing.T) {
	poison := testMessage()
	healthy := testMessage()
	healthy.Offset = poison.Offset + 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &scriptedFetcher{queue: []kafka.Message{poison, healthy}, cancel: cancel}
	dlq := &fakeDLQ{failures: 1}
	c := newWithFetcher(slog.Default(), fetcher, &poisonOffsetProcessor{poison: poison.Offset}, dlq, fastRetry(2))

	c.Run(ctx)

	if len(dlq.published) != 1 || dlq.published[0].Offset != poison.Offset {
		t.Fatalf("expected poison offset %d dead-lettered, got %+v", poison.Offset, dlq.published)
	}
	if len(fetcher.committed) != 2 {
		t.Fatalf("expected both offsets committed, got %d", len(fetcher.committed))
	}
	if fetcher.committed[0].Offset != poison.Offset || fetcher.committed[1].Offset != healthy.Offset {
		t.Fatalf("expected commit order %d then %d, got %d then %d",
			poison.Offset, healthy.Offset, fetcher.committed[0].Offset, fetcher.committed[1].Offset)
	}
	if c.DeadLettered() != 1 {
		t.Fatalf("expected dead-letter count 1, got %d", c.DeadLettered())
	}
}

func TestConsumer_BackoffStopsOnCancel(t *testing.T) {
	fetcher := &fakeFetcher{}
	processor := &fakeProcessor{failures: 100}
	dlq := &fakeDLQ{}
	c := newWithFetcher(slog.Default(), fetcher, processor, dlq, RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Hour,
		Multiplier:     2,
		MaxBackoff:     time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.handle(ctx, testMessage()) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not return after cancel")
	}
}

func TestErrorClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"malformed", fmt.Errorf("%w: bad json", notifications.ErrMalformedPayload), "MalformedPayload"},
		{"deadline", context.DeadlineExceeded, "Timeout"},
		{"generic", errors.New("boom"), "ProcessingError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := errorClass(tc.err); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
