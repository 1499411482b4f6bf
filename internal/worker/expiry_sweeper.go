package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/formbridge/formbridge/internal/domain/submission"
	"go.uber.org/zap"
)

// ExpiryStore lists submissions whose retention deadline has passed.
type ExpiryStore interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*submission.Submission, error)
}

// Expirer closes one overdue submission. It must be idempotent: the sweeper
// may hand it a submission another caller already closed.
type Expirer interface {
	Expire(ctx context.Context, id string) (*submission.Submission, error)
}

// ExpirySweeper periodically closes submissions that outlived their intake
// TTL. Expiry is lazy between sweeps: reads and writes check the deadline
// themselves, so the sweeper only has to keep the table from accumulating
// stale open sessions.
type ExpirySweeper struct {
	store   ExpiryStore
	expirer Expirer
	logger  *zap.Logger

	// Configuration
	sweepInterval time.Duration // How often to sweep (default: 1 minute)
	batchSize     int           // How many submissions to close per sweep (default: 100)

	// State
	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(store ExpiryStore, expirer Expirer, interval time.Duration, batchSize int, logger *zap.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweeper{
		store:         store,
		expirer:       expirer,
		logger:        logger,
		sweepInterval: interval,
		batchSize:     batchSize,
	}
}

// Start starts the sweep loop
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("expiry sweeper is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.logger.Info("ExpirySweeper started",
		zap.Duration("sweep_interval", s.sweepInterval),
		zap.Int("batch_size", s.batchSize))

	go s.sweepLoop()

	return nil
}

// Stop stops the sweep loop
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.isRunning = false
	if s.cancel != nil {
		s.cancel()
	}

	s.logger.Info("ExpirySweeper stopped")
}

// Name returns the worker name for identification
func (s *ExpirySweeper) Name() string {
	return "ExpirySweeper"
}

// sweepLoop runs the main sweep loop
func (s *ExpirySweeper) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	// Sweep immediately on start
	s.Sweep()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Sweep loop context cancelled")
			return

		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep closes one batch of overdue submissions and returns how many it
// expired. Exported so tests and admin tooling can trigger a pass directly.
func (s *ExpirySweeper) Sweep() int {
	ctx, cancel := context.WithTimeout(s.loopContext(), 30*time.Second)
	defer cancel()

	overdue, err := s.store.ListExpired(ctx, time.Now(), s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list expired submissions", zap.Error(err))
		return 0
	}

	if len(overdue) == 0 {
		return 0
	}

	expired := 0
	for _, sub := range overdue {
		if _, err := s.expirer.Expire(ctx, sub.ID); err != nil {
			s.logger.Warn("Failed to expire submission",
				zap.String("submission_id", sub.ID),
				zap.Error(err))
			continue
		}
		expired++
	}

	s.logger.Info("Expiry sweep completed",
		zap.Int("overdue", len(overdue)),
		zap.Int("expired", expired))

	return expired
}

func (s *ExpirySweeper) loopContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
