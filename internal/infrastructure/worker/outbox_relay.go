package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// RecordPublisher dispatches committed audit records as events
type RecordPublisher interface {
	Publish(ctx context.Context, records []*entity.AuditRecord) (int, error)
}

// OutboxRelayConfig holds configuration for the outbox relay
type OutboxRelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultOutboxRelayConfig returns default configuration
func DefaultOutboxRelayConfig() OutboxRelayConfig {
	return OutboxRelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	}
}

// OutboxRelay redelivers audit records whose inline dispatch failed or was
// interrupted by a crash between commit and publish
type OutboxRelay struct {
	config    OutboxRelayConfig
	auditRepo port.AuditRepository
	publisher RecordPublisher
	logger    *zap.Logger

	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}
	isRunning      bool
	publishedCount int
	failedCount    int
	lastError      error
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(
	config OutboxRelayConfig,
	auditRepo port.AuditRepository,
	publisher RecordPublisher,
	logger *zap.Logger,
) *OutboxRelay {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultOutboxRelayConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultOutboxRelayConfig().BatchSize
	}
	return &OutboxRelay{
		config:    config,
		auditRepo: auditRepo,
		publisher: publisher,
		logger:    logger,
	}
}

// Start begins the relay polling loop
func (w *OutboxRelay) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("outbox relay already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("OutboxRelay started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(w.ctx, w.done)

	return nil
}

// Stop terminates the relay and waits for the current batch to finish
func (w *OutboxRelay) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}

	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.logger.Info("OutboxRelay stopped",
		zap.Int("published_count", w.publishedCount),
		zap.Int("failed_count", w.failedCount))

	return nil
}

// Name returns the worker name for identification
func (w *OutboxRelay) Name() string {
	return "OutboxRelay"
}

func (w *OutboxRelay) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Relay loop context cancelled")
			return

		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("Outbox relay pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce delivers one batch of unpublished records. Records are grouped
// per instance so a failure holds back only that instance's later events.
func (w *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	records, err := w.auditRepo.ListUnpublished(ctx, w.config.BatchSize)
	if err != nil {
		w.recordError(err)
		return 0, fmt.Errorf("list unpublished records: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	var order []string
	groups := make(map[string][]*entity.AuditRecord)
	for _, rec := range records {
		if _, ok := groups[rec.InstanceID]; !ok {
			order = append(order, rec.InstanceID)
		}
		groups[rec.InstanceID] = append(groups[rec.InstanceID], rec)
	}

	total := 0
	var firstErr error
	for _, instanceID := range order {
		if ctx.Err() != nil {
			break
		}
		n, err := w.publisher.Publish(ctx, groups[instanceID])
		total += n
		if err != nil {
			w.logger.Warn("Relay could not deliver events",
				zap.String("instance_id", instanceID),
				zap.Int("pending", len(groups[instanceID])-n),
				zap.Error(err))
			w.recordError(err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	w.mu.Lock()
	w.publishedCount += total
	w.mu.Unlock()

	if total > 0 {
		w.logger.Info("Relayed outbox events", zap.Int("count", total))
	}
	return total, firstErr
}

func (w *OutboxRelay) recordError(err error) {
	w.mu.Lock()
	w.failedCount++
	w.lastError = err
	w.mu.Unlock()
}

// Stats returns counters for health reporting
func (w *OutboxRelay) Stats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := map[string]interface{}{
		"is_running":      w.isRunning,
		"published_count": w.publishedCount,
		"failed_count":    w.failedCount,
	}
	if w.lastError != nil {
		stats["last_error"] = w.lastError.Error()
	}
	return stats
}
