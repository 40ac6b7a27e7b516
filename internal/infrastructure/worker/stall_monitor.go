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

// StallMonitorConfig holds configuration for the stall monitor
type StallMonitorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StallAfter is how long an instance may wait on one step before it is reported
	StallAfter time.Duration
}

// DefaultStallMonitorConfig returns default configuration
func DefaultStallMonitorConfig() StallMonitorConfig {
	return StallMonitorConfig{
		PollInterval: time.Minute,
		BatchSize:    200,
		StallAfter:   72 * time.Hour,
	}
}

// StallMonitor periodically reports running instances that have not moved
// for longer than StallAfter. It never mutates instances.
type StallMonitor struct {
	config       StallMonitorConfig
	instanceRepo port.InstanceRepository
	logger       *zap.Logger
	now          func() time.Time

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	stalled   int
}

// NewStallMonitor creates a new stall monitor
func NewStallMonitor(config StallMonitorConfig, instanceRepo port.InstanceRepository, logger *zap.Logger) *StallMonitor {
	defaults := DefaultStallMonitorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.StallAfter <= 0 {
		config.StallAfter = defaults.StallAfter
	}
	return &StallMonitor{
		config:       config,
		instanceRepo: instanceRepo,
		logger:       logger,
		now:          time.Now,
	}
}

// Start begins the monitoring loop
func (m *StallMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("stall monitor is already running")
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.isRunning = true

	m.logger.Info("StallMonitor started",
		zap.Duration("poll_interval", m.config.PollInterval),
		zap.Duration("stall_after", m.config.StallAfter))

	go m.pollLoop(ctx, m.done)
	return nil
}

// Stop stops the monitoring loop
func (m *StallMonitor) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.logger.Info("StallMonitor stopped")
	return nil
}

// Name returns the worker name for identification
func (m *StallMonitor) Name() string {
	return "StallMonitor"
}

func (m *StallMonitor) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				m.logger.Error("Stall check failed", zap.Error(err))
			}
		}
	}
}

// Check returns the running instances that have been idle past StallAfter
// and logs each one
func (m *StallMonitor) Check(ctx context.Context) ([]*entity.WorkflowInstance, error) {
	now := m.now()
	stalled, err := m.instanceRepo.ListIdle(ctx, entity.StatusRunning, now.Add(-m.config.StallAfter), m.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list idle instances: %w", err)
	}

	for _, inst := range stalled {
		m.logger.Warn("Workflow waiting on a step",
			zap.String("instance_id", inst.ID),
			zap.String("payment_request_id", inst.PaymentRequestID),
			zap.String("current_node_id", inst.CurrentNodeID),
			zap.Duration("idle", now.Sub(inst.UpdatedAt)))
	}

	m.mu.Lock()
	m.stalled = len(stalled)
	m.mu.Unlock()

	return stalled, nil
}

// StalledCount returns the number of stalled instances seen by the last check
func (m *StallMonitor) StalledCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stalled
}
