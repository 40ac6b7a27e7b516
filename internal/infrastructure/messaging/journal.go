package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/domain/event"
)

// JournalHandlerName scopes the journal's dedup keys
const JournalHandlerName = "event-journal"

// Journal is a downstream subscriber that logs every workflow event it
// receives from the topic, once per dedup key.
type Journal struct {
	consumer *Consumer
	handler  dispatcher.Handler
	logger   *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	received atomic.Int64
}

// NewJournal creates a journal reading through consumer. mw, when not nil,
// wraps the journal handler (normally the dedup guard).
func NewJournal(consumer *Consumer, mw dispatcher.Middleware, logger *zap.Logger) *Journal {
	j := &Journal{consumer: consumer, logger: logger}
	j.handler = j.record
	if mw != nil {
		j.handler = mw(JournalHandlerName, j.handler)
	}
	return j
}

// Start subscribes before returning, then consumes in the background
func (j *Journal) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel != nil {
		return fmt.Errorf("journal is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	messages, err := j.consumer.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}

	j.cancel = cancel
	j.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := j.consumer.Consume(ctx, messages, j.handler); err != nil && !errors.Is(err, context.Canceled) {
			j.logger.Error("Journal stopped", zap.Error(err))
		}
	}(j.done)
	return nil
}

// Stop cancels the subscription and waits for the consumer to drain
func (j *Journal) Stop() error {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Name returns the worker name for identification
func (j *Journal) Name() string {
	return "EventJournal"
}

// Received returns how many distinct events were journaled
func (j *Journal) Received() int64 {
	return j.received.Load()
}

func (j *Journal) record(ctx context.Context, evt *event.Event) error {
	j.received.Add(1)
	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type.String()),
		zap.String("instance_id", evt.InstanceID),
		zap.String("node_id", evt.NodeID),
		zap.Int64("sequence", evt.GetPayloadInt("sequence")),
		zap.String("dedup_key", evt.DedupKey),
	}
	if actor := evt.GetPayloadString("actor"); actor != "" {
		fields = append(fields, zap.String("actor", actor))
	}
	if comments := evt.GetPayloadString("comments"); comments != "" {
		fields = append(fields, zap.String("comments", comments))
	}
	j.logger.Info("Workflow event", fields...)
	return nil
}
