package container

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/application/service"
	"github.com/garyjia/payment-approval/internal/application/workflow"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
	"github.com/garyjia/payment-approval/internal/infrastructure/dedup"
	"github.com/garyjia/payment-approval/internal/infrastructure/messaging"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/payment-approval/internal/infrastructure/worker"
	"github.com/garyjia/payment-approval/pkg/database"
	"github.com/garyjia/payment-approval/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database, runs the embedded migrations and
// creates the transaction manager.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if _, err := database.NewMigrator(db, logger).Migrate(ctx, database.Schema()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all sqlite repositories.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &RepositoryBundle{
		Definition:     repository.NewDefinitionRepository(sqlDB, logger),
		Instance:       repository.NewInstanceRepository(sqlDB, logger),
		Audit:          repository.NewAuditRepository(sqlDB, logger),
		PaymentRequest: repository.NewPaymentRequestRepository(sqlDB, logger),
		User:           repository.NewUserRepository(sqlDB, logger),
	}, nil
}

// ProvideDedupStore creates the configured dedup store. The returned close
// function releases external connections.
func ProvideDedupStore(ctx context.Context, events *EventsConfig, redisCfg *RedisConfig) (port.DedupStore, func() error, error) {
	switch events.DedupStore {
	case "", "memory":
		return dedup.NewMemoryStore(), func() error { return nil }, nil
	case "redis":
		store, err := dedup.NewRedisStore(ctx, dedup.RedisConfig{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
			Prefix:   redisCfg.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown dedup store %q", events.DedupStore)
	}
}

// ProvideDispatcher creates the event dispatcher with every handler wrapped
// by the dedup guard.
func ProvideDispatcher(store port.DedupStore, events *EventsConfig, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("dedup store is required")
	}

	guard := dedup.NewGuard(store, events.DedupTTL, logger)
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))),
		dispatcher.WithMiddleware(guard.Middleware()),
	), nil
}

// MessagingBundle holds the publishing bridge and the subscriber side of
// the same pub/sub.
type MessagingBundle struct {
	Bridge     *messaging.Bridge
	Subscriber message.Subscriber
}

// ProvideMessaging attaches the configured external publisher to the
// dispatcher. It returns nil when publishing is disabled.
func ProvideMessaging(events *EventsConfig, kafkaCfg *KafkaConfig, disp dispatcher.Dispatcher, logger *zap.Logger) (*MessagingBundle, error) {
	var (
		pub message.Publisher
		sub message.Subscriber
	)
	switch events.Publisher {
	case "", "none":
		return nil, nil
	case "gochannel":
		pubSub := messaging.NewGoChannel(messaging.NewLoggerAdapter(logger))
		pub, sub = pubSub, pubSub
	case "kafka":
		kafkaPub, kafkaSub, err := messaging.NewKafkaPubSub(messaging.KafkaConfig{
			Brokers:       kafkaCfg.Brokers,
			ConsumerGroup: kafkaCfg.ConsumerGroup,
		}, messaging.NewLoggerAdapter(logger))
		if err != nil {
			return nil, err
		}
		pub, sub = kafkaPub, kafkaSub
	default:
		return nil, fmt.Errorf("unknown event publisher %q", events.Publisher)
	}

	bridge := messaging.NewBridge(pub, events.Topic, logger.Named("messaging"))
	bridge.Register(disp)
	return &MessagingBundle{Bridge: bridge, Subscriber: sub}, nil
}

// ProvideJournal creates the event journal subscriber, or nil when it is
// disabled. It dedups with its own handler name on the shared store.
func ProvideJournal(events *EventsConfig, msg *MessagingBundle, store port.DedupStore, logger *zap.Logger) (*messaging.Journal, error) {
	if !events.Journal {
		return nil, nil
	}
	if msg == nil {
		return nil, fmt.Errorf("event journal requires a publisher")
	}

	consumer := messaging.NewConsumer(msg.Subscriber, events.Topic, logger.Named("journal"))
	guard := dedup.NewGuard(store, events.DedupTTL, logger)
	return messaging.NewJournal(consumer, guard.Middleware(), logger.Named("journal")), nil
}

// WorkflowDeps holds dependencies for creating the transition engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Evaluator  domainwf.Evaluator
	EngineCfg  *EngineConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the transition engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.TransitionEngine, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}

	return workflow.NewEngine(
		deps.Repos.Definition,
		deps.Repos.Instance,
		deps.Repos.Audit,
		deps.TxManager,
		deps.Repos.PaymentRequest,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithAuthorizer(service.NewRoleAdminAuthorizer(deps.EngineCfg.AdminRoles)),
		workflow.WithEvaluator(deps.Evaluator),
		workflow.WithLogger(utils.NewKVLogger(deps.Logger.Named("engine"))),
		workflow.WithMaxAutoAdvanceSteps(deps.EngineCfg.MaxAutoAdvanceSteps),
		workflow.WithConflictRetries(deps.EngineCfg.ConflictRetries),
	), nil
}

// ServiceDeps holds dependencies for creating application services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	Engine    workflow.TransitionEngine
	Evaluator domainwf.Evaluator
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil || deps.Engine == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}

	logger := utils.NewKVLogger(deps.Logger.Named("service"))
	return &ServiceBundle{
		Workflow: service.NewWorkflowService(
			deps.Engine,
			deps.Repos.Definition,
			deps.Repos.Instance,
			deps.Repos.Audit,
			deps.Repos.PaymentRequest,
			deps.Repos.User,
			logger,
		),
		Definition: service.NewDefinitionService(
			deps.Repos.Definition,
			validator.New(),
			deps.Evaluator,
			logger,
		),
	}, nil
}

// WorkerDeps holds dependencies for the background workers.
type WorkerDeps struct {
	Repos      *RepositoryBundle
	Dispatcher dispatcher.Dispatcher
	EngineCfg  *EngineConfig
	EventsCfg  *EventsConfig
	Journal    *messaging.Journal
	Logger     *zap.Logger
}

// ProvideWorkers creates the worker manager with the outbox relay, the
// stall monitor and, when enabled, the event journal registered.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, *worker.OutboxRelay, error) {
	if deps.Repos == nil {
		return nil, nil, fmt.Errorf("repositories are required")
	}
	repos, events, logger := deps.Repos, deps.EventsCfg, deps.Logger

	relay := worker.NewOutboxRelay(
		worker.OutboxRelayConfig{
			PollInterval: events.RelayInterval,
			BatchSize:    events.RelayBatchSize,
		},
		repos.Audit,
		workflow.NewOutboxPublisher(repos.Audit, deps.Dispatcher, utils.NewKVLogger(logger.Named("outbox"))),
		logger.Named("relay"),
	)

	monitor := worker.NewStallMonitor(
		worker.StallMonitorConfig{StallAfter: deps.EngineCfg.StallAfter},
		repos.Instance,
		logger.Named("stall"),
	)

	manager := worker.NewWorkerManager(logger)
	manager.Register(relay)
	manager.Register(monitor)
	if deps.Journal != nil {
		manager.Register(deps.Journal)
	}
	return manager, relay, nil
}
