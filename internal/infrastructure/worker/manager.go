package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// WorkerManager starts registered workers in order and stops them in reverse
type WorkerManager struct {
	logger *zap.Logger

	mu        sync.RWMutex
	workers   []Worker
	started   []Worker
	isRunning bool
	cancel    context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker. Workers registered after StartAll are not started.
func (m *WorkerManager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, w)
	m.logger.Debug("Worker registered", zap.String("worker_name", w.Name()))
}

// StartAll starts every registered worker. If one fails, the workers already
// started are stopped again and the error is returned.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("workers already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	started := make([]Worker, 0, len(m.workers))
	for _, w := range m.workers {
		if err := w.Start(ctx); err != nil {
			cancel()
			stopErr := stopReverse(started, m.logger)
			return errors.Join(fmt.Errorf("start worker %s: %w", w.Name(), err), stopErr)
		}
		started = append(started, w)
	}

	m.started = started
	m.cancel = cancel
	m.isRunning = true
	m.logger.Info("Workers started", zap.Strings("workers", names(started)))
	return nil
}

// StopAll stops the running workers in reverse start order
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return nil
	}

	m.cancel()
	err := stopReverse(m.started, m.logger)
	m.started = nil
	m.isRunning = false

	if err != nil {
		return err
	}
	m.logger.Info("Workers stopped")
	return nil
}

// Names returns the names of the registered workers
func (m *WorkerManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return names(m.workers)
}

// IsRunning returns whether workers are running
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

func stopReverse(workers []Worker, logger *zap.Logger) error {
	var errs []error
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Stop(); err != nil {
			logger.Error("Failed to stop worker",
				zap.String("worker_name", workers[i].Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("stop worker %s: %w", workers[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

func names(workers []Worker) []string {
	out := make([]string, len(workers))
	for i, w := range workers {
		out[i] = w.Name()
	}
	return out
}
