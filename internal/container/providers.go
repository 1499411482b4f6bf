package container

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/formbridge/formbridge/internal/application/eventlog"
	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/application/service"
	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/repository"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/sqlite"
	"github.com/formbridge/formbridge/internal/schedule"
	"github.com/formbridge/formbridge/internal/webhook"
	"github.com/formbridge/formbridge/internal/worker"
	"github.com/formbridge/formbridge/migrations"
	"github.com/formbridge/formbridge/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the SQLite database, runs the embedded migrations
// and wraps the connection in a transaction manager.
// Returns DatabaseBundle containing sql.DB and TransactionManager.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
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
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run the migrations that ship embedded in the binary
	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(migrations.Files); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create transaction manager wrapper
	txManager := sqlite.NewDB(db.DB, logger)

	return &DatabaseBundle{
		SqlDB:          db.DB,
		TransactionMgr: txManager,
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
// Returns RepositoryBundle containing all repository implementations.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Submissions: repository.NewSubmissionRepository(sqlDB, logger),
		Events:      repository.NewEventRepository(sqlDB, logger),
		Deliveries:  repository.NewDeliveryRepository(sqlDB, logger),
		Decisions:   repository.NewDecisionRepository(sqlDB, logger),
		Idempotency: repository.NewIdempotencyRepository(sqlDB, logger),
	}, nil
}

// ProvideRegistry builds the intake registry from configured definitions.
// Every definition is validated; duplicate IDs are rejected.
func ProvideRegistry(defs []*intake.Intake) (*intake.Registry, error) {
	registry, err := intake.NewRegistry(defs...)
	if err != nil {
		return nil, fmt.Errorf("failed to build intake registry: %w", err)
	}
	return registry, nil
}

// ProvideEventLog creates the append-only event log on top of the event
// repository. Listeners are subscribed later, once the services exist.
func ProvideEventLog(events port.EventRepository, logger *zap.Logger) (*eventlog.Log, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	logAdapter := &eventlogLoggerAdapter{logger: logger}

	return eventlog.New(events, eventlog.WithLogger(logAdapter)), nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Log       *eventlog.Log
	Registry  *intake.Registry
	Validator port.Validator
	Notifier  port.ReviewerNotifier
	Scheduler schedule.Scheduler
	Locks     *service.SubmissionLocks
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
// Returns ServiceBundle containing all service implementations.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("intake registry is required")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("reviewer notifier is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// Create logger adapter for services
	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}

	return &ServiceBundle{
		Submissions: service.NewSubmissionService(
			deps.Repos.Submissions,
			deps.Log,
			deps.Registry,
			deps.Validator,
			deps.Repos.Idempotency,
			deps.TxManager,
			deps.Locks,
			serviceLogger,
		),
		Approvals: service.NewApprovalService(
			deps.Repos.Submissions,
			deps.Log,
			deps.Registry,
			deps.Repos.Decisions,
			deps.Notifier,
			deps.Scheduler,
			deps.TxManager,
			deps.Locks,
			serviceLogger,
		),
	}, nil
}

// DeliveryDeps holds dependencies required for creating the delivery manager.
type DeliveryDeps struct {
	Repos     *RepositoryBundle
	Log       *eventlog.Log
	Registry  *intake.Registry
	Scheduler schedule.Scheduler
	Cfg       *DeliveryConfig
	Logger    *zap.Logger
}

// ProvideDeliveryManager creates the webhook delivery manager.
// The manager is not subscribed to the event log here; the container wires
// listeners in a fixed order during Start.
func ProvideDeliveryManager(deps *DeliveryDeps) (*webhook.Manager, error) {
	if deps == nil {
		return nil, fmt.Errorf("delivery dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("intake registry is required")
	}
	if deps.Cfg == nil {
		return nil, fmt.Errorf("delivery config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	sender := webhook.NewSender(deps.Cfg.Timeout)
	managerLogger := &zapLoggerAdapter{logger: deps.Logger}

	return webhook.NewManager(
		deps.Repos.Deliveries,
		deps.Repos.Submissions,
		deps.Log,
		deps.Registry,
		deps.Scheduler,
		sender,
		managerLogger,
	), nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Repos       *RepositoryBundle
	Submissions service.SubmissionService
	ExpiryCfg   *ExpiryConfig
	Logger      *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.Manager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Submissions == nil {
		return nil, fmt.Errorf("submission service is required")
	}
	if deps.ExpiryCfg == nil {
		return nil, fmt.Errorf("expiry config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// Create worker manager
	manager := worker.NewManager(deps.Logger)

	// Create expiry sweeper
	sweeper := worker.NewExpirySweeper(
		deps.Repos.Submissions,
		deps.Submissions,
		deps.ExpiryCfg.SweepInterval,
		deps.ExpiryCfg.BatchSize,
		deps.Logger,
	)
	manager.Register(sweeper)

	return manager, nil
}
