package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/formbridge/formbridge/internal/application/eventlog"
	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/application/service"
	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/export"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/sqlite"
	"github.com/formbridge/formbridge/internal/notifier"
	"github.com/formbridge/formbridge/internal/schedule"
	"github.com/formbridge/formbridge/internal/validation"
	"github.com/formbridge/formbridge/internal/webhook"
	"github.com/formbridge/formbridge/internal/worker"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	sqlDB        *sql.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Domain
	registry *intake.Registry

	// Application
	log        *eventlog.Log
	validator  port.Validator
	scheduler  schedule.Scheduler
	locks      *service.SubmissionLocks
	notifier   port.ReviewerNotifier
	services   *ServiceBundle
	deliveries *webhook.Manager
	exporter   *export.Exporter

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Submissions port.SubmissionRepository
	Events      port.EventRepository
	Deliveries  port.DeliveryRepository
	Decisions   port.DecisionRepository
	Idempotency port.IdempotencyRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Submissions service.SubmissionService
	Approvals   service.ApprovalService
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
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

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Intake registry
// 3. Event log
// 4. Application services
// 5. Delivery manager and event listeners
// 6. Workers
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
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Initialize intake registry
	if err := c.initRegistry(); err != nil {
		return fmt.Errorf("failed to initialize intake registry: %w", err)
	}
	c.logger.Info("Intake registry initialized", zap.Strings("intakes", c.registry.IDs()))

	// Step 3: Initialize event log
	if err := c.initEventLog(); err != nil {
		return fmt.Errorf("failed to initialize event log: %w", err)
	}
	c.logger.Info("Event log initialized")

	// Step 4: Initialize application services
	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 5: Initialize delivery manager and subscribe event listeners
	if err := c.initDeliveries(); err != nil {
		return fmt.Errorf("failed to initialize delivery manager: %w", err)
	}
	c.logger.Info("Delivery manager initialized")

	// Step 6: Initialize and start workers
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers (reverse of step 6)
	if c.workers != nil {
		c.workers.StopAll()
		c.logger.Info("Workers stopped")
	}

	// Step 2: Close delivery manager, waiting for in-flight attempts
	// (reverse of step 5)
	if c.deliveries != nil {
		c.deliveries.Close()
		c.logger.Info("Delivery manager closed")
	}

	// Step 3: Cancel escalation timers (reverse of step 4)
	if c.services != nil && c.services.Approvals != nil {
		c.services.Approvals.Close()
		c.logger.Info("Services cleaned up")
	}

	// Steps 4-5: Event log and registry hold no resources

	// Step 6: Close database (reverse of step 1)
	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health reports per-component health. The HTTP health endpoint serves
// this map directly.
func (c *Container) Health(ctx context.Context) map[string]port.HealthReport {
	reports := make(map[string]port.HealthReport)

	// Check database with a real round trip
	if c.db != nil {
		reports["database"] = c.db.HealthCheck(ctx)
	} else {
		reports["database"] = port.HealthReport{Error: "not initialized"}
	}

	// Check workers
	if c.workers != nil {
		workers := port.HealthReport{OK: c.ready.Load()}
		if !workers.OK {
			workers.Error = "not running"
		}
		reports["workers"] = workers
	} else {
		reports["workers"] = port.HealthReport{Error: "not initialized"}
	}

	return reports
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.sqlDB, c.logger)
	if err != nil {
		c.sqlDB.Close()
		return err
	}

	c.repositories = repos
	return nil
}

// initRegistry builds the intake registry from configured definitions.
func (c *Container) initRegistry() error {
	registry, err := ProvideRegistry(c.config.Intakes)
	if err != nil {
		return err
	}

	c.registry = registry
	return nil
}

// initEventLog initializes the append-only event log.
func (c *Container) initEventLog() error {
	log, err := ProvideEventLog(c.repositories.Events, c.logger)
	if err != nil {
		return err
	}

	c.log = log
	return nil
}

// initServices initializes all application services using providers.
func (c *Container) initServices() error {
	c.scheduler = schedule.New()
	c.locks = service.NewSubmissionLocks()
	c.validator = validation.New()

	reviewerNotifier, err := notifier.New(c.config.Notifier, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}
	c.notifier = reviewerNotifier

	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Log:       c.log,
		Registry:  c.registry,
		Validator: c.validator,
		Notifier:  c.notifier,
		Scheduler: c.scheduler,
		Locks:     c.locks,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services

	c.exporter = export.NewExporter(services.Submissions, c.logger)
	return nil
}

// initDeliveries initializes the delivery manager, subscribes the event
// listeners in their fixed order, and re-arms persisted state.
func (c *Container) initDeliveries() error {
	manager, err := ProvideDeliveryManager(&DeliveryDeps{
		Repos:     c.repositories,
		Log:       c.log,
		Registry:  c.registry,
		Scheduler: c.scheduler,
		Cfg:       &c.config.Delivery,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.deliveries = manager

	// Registration order is notification order: the approval manager reacts
	// first so review state settles before deliveries enqueue.
	c.log.Subscribe("approval-manager", c.services.Approvals.HandleEvent)
	c.log.Subscribe("webhook-manager", c.deliveries.HandleEvent)

	// Re-arm escalation timers and pending deliveries persisted before the
	// last shutdown.
	if err := c.services.Approvals.Restore(c.ctx); err != nil {
		return fmt.Errorf("failed to restore escalation timers: %w", err)
	}
	if err := c.deliveries.Restore(c.ctx); err != nil {
		return fmt.Errorf("failed to restore pending deliveries: %w", err)
	}

	return nil
}

// initWorkers initializes and starts all background workers using providers.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Repos:       c.repositories,
		Submissions: c.services.Submissions,
		ExpiryCfg:   &c.config.Expiry,
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Registry returns the intake registry.
func (c *Container) Registry() *intake.Registry {
	return c.registry
}

// EventLog returns the append-only event log.
func (c *Container) EventLog() *eventlog.Log {
	return c.log
}

// Validator returns the field validator.
func (c *Container) Validator() port.Validator {
	return c.validator
}

// Notifier returns the reviewer notifier.
func (c *Container) Notifier() port.ReviewerNotifier {
	return c.notifier
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// DeliveryManager returns the webhook delivery manager.
func (c *Container) DeliveryManager() *webhook.Manager {
	return c.deliveries
}

// Exporter returns the audit workbook exporter.
func (c *Container) Exporter() *export.Exporter {
	return c.exporter
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// KVLogger returns the logger in key-value form for consumers that take the
// narrow Info/Error interface.
func (c *Container) KVLogger() service.Logger {
	return &zapLoggerAdapter{logger: c.logger}
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the service.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Info(msg, fields...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Error(msg, fields...)
}

// eventlogLoggerAdapter adapts zap.Logger to the eventlog.Logger interface.
type eventlogLoggerAdapter struct {
	logger *zap.Logger
}

func (a *eventlogLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Info(msg, fields...)
}

func (a *eventlogLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Error(msg, fields...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
