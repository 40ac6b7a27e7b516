package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/application/service"
	"github.com/garyjia/payment-approval/internal/application/workflow"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
	"github.com/garyjia/payment-approval/internal/infrastructure/messaging"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/payment-approval/internal/infrastructure/worker"
	"github.com/garyjia/payment-approval/pkg/database"
)

// Container wires the service together. Start initializes components in
// dependency order; every component that holds resources pushes a closer,
// and Close runs those closers in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	database     *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	dispatcher dispatcher.Dispatcher
	bridge     *messaging.Bridge
	journal    *messaging.Journal

	engine   workflow.TransitionEngine
	services *ServiceBundle

	workers *worker.WorkerManager
	relay   *worker.OutboxRelay

	closers []closer

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

type closer struct {
	name string
	fn   func() error
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Definition     port.DefinitionRepository
	Instance       port.InstanceRepository
	Audit          port.AuditRepository
	PaymentRequest *repository.PaymentRequestRepository
	User           *repository.UserRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Workflow   service.WorkflowService
	Definition service.DefinitionService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg. Components are built by Start.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start builds the database, event delivery, the engine and services, then
// starts the workers. On failure everything built so far is torn down.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", c.initDatabase},
		{"events", c.initEvents},
		{"workflow", c.initWorkflow},
		{"workers", c.initWorkers},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			if tdErr := c.teardown(); tdErr != nil {
				c.logger.Error("Teardown after failed start", zap.Error(tdErr))
			}
			return fmt.Errorf("initialize %s: %w", step.name, err)
		}
		c.logger.Debug("Component initialized", zap.String("component", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started",
		zap.String("database", c.config.Database.Path),
		zap.String("publisher", c.config.Events.Publisher),
		zap.String("dedup_store", c.config.Events.DedupStore))
	return nil
}

// Close shuts components down in reverse order of initialization.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("container already closed")
	}
	c.ready.Store(false)

	if err := c.teardown(); err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed")
	return nil
}

func (c *Container) teardown() error {
	if c.cancel != nil {
		c.cancel()
	}

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", cl.name, err))
		}
	}
	c.closers = nil

	c.database, c.db = nil, nil
	c.dispatcher, c.bridge, c.journal = nil, nil, nil
	c.workers, c.relay = nil, nil
	return errors.Join(errs...)
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health reports the database, dispatcher, workers and outbox relay.
// Overall is false if any required component is down.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}
	notInitialized := ComponentHealth{Healthy: false, Message: "not initialized"}

	switch {
	case c.database == nil:
		set("database", notInitialized)
	default:
		if err := c.database.PingContext(c.ctx); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	}

	if c.dispatcher == nil {
		set("dispatcher", notInitialized)
	} else {
		set("dispatcher", ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("%d handlers", len(c.dispatcher.Handlers())),
		})
	}

	if c.workers == nil {
		set("workers", notInitialized)
	} else {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: strings.Join(c.workers.Names(), ","),
		})
	}

	// relay errors are retried on the next poll, so they do not fail health
	if c.relay != nil {
		h := ComponentHealth{Healthy: true}
		if lastErr, ok := c.relay.Stats()["last_error"].(string); ok {
			h.Message = lastErr
		}
		status.Components["outbox_relay"] = h
	}

	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(c.ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = bundle.DB
	c.db = bundle.TransactionMgr
	c.onClose("database", bundle.DB.Close)

	repos, err := ProvideRepositories(c.database.DB, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initEvents() error {
	store, closeStore, err := ProvideDedupStore(c.ctx, &c.config.Events, &c.config.Redis)
	if err != nil {
		return err
	}
	c.onClose("dedup store", closeStore)

	disp, err := ProvideDispatcher(store, &c.config.Events, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	c.onClose("dispatcher", disp.Close)

	msg, err := ProvideMessaging(&c.config.Events, &c.config.Kafka, disp, c.logger)
	if err != nil {
		return err
	}
	if msg != nil {
		c.bridge = msg.Bridge
		c.onClose("publisher", msg.Bridge.Close)
		c.onClose("subscriber", msg.Subscriber.Close)
	}

	journal, err := ProvideJournal(&c.config.Events, msg, store, c.logger)
	if err != nil {
		return err
	}
	c.journal = journal
	return nil
}

func (c *Container) initWorkflow() error {
	evaluator := domainwf.NewExprEvaluator()

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		Evaluator:  evaluator,
		EngineCfg:  &c.config.Engine,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine

	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		Engine:    engine,
		Evaluator: evaluator,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) initWorkers() error {
	workers, relay, err := ProvideWorkers(&WorkerDeps{
		Repos:      c.repositories,
		Dispatcher: c.dispatcher,
		EngineCfg:  &c.config.Engine,
		EventsCfg:  &c.config.Events,
		Journal:    c.journal,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	if err := workers.StartAll(c.ctx); err != nil {
		return err
	}
	c.workers = workers
	c.relay = relay
	c.onClose("workers", workers.StopAll)
	return nil
}

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Engine returns the transition engine.
func (c *Container) Engine() workflow.TransitionEngine {
	return c.engine
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}
