package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// IdempotencyRepository implements port.IdempotencyRepository
type IdempotencyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIdempotencyRepository creates a new idempotency key repository
func NewIdempotencyRepository(db *sql.DB, logger *zap.Logger) port.IdempotencyRepository {
	return &IdempotencyRepository{
		db:     db,
		logger: logger,
	}
}

// PutIfAbsent atomically claims the (intake, key) pair. INSERT OR IGNORE
// leaves the existing row untouched when a concurrent creator got there
// first; the follow-up SELECT then returns the winner's submission ID.
func (r *IdempotencyRepository) PutIfAbsent(ctx context.Context, intakeID, key, submissionID string) (string, bool, error) {
	insert := `
		INSERT OR IGNORE INTO idempotency_keys (intake_id, key, submission_id)
		VALUES (?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, insert, intakeID, key, submissionID)
	if err != nil {
		r.logger.Error("Failed to claim idempotency key",
			zap.String("intake_id", intakeID),
			zap.Error(err))
		return "", false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return submissionID, true, nil
	}

	query := `SELECT submission_id FROM idempotency_keys WHERE intake_id = ? AND key = ?`

	var existing string
	err = r.getExecutor(ctx).QueryRowContext(ctx, query, intakeID, key).Scan(&existing)
	if err == sql.ErrNoRows {
		// Row vanished between insert and select; treat as claim failure.
		return "", false, fmt.Errorf("idempotency key disappeared for intake %s", intakeID)
	}
	if err != nil {
		r.logger.Error("Failed to read idempotency key",
			zap.String("intake_id", intakeID),
			zap.Error(err))
		return "", false, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	return existing, false, nil
}

// getExecutor returns appropriate executor based on context
func (r *IdempotencyRepository) getExecutor(ctx context.Context) executor {
	if tx := sqlite.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

// Verify interface compliance
var _ port.IdempotencyRepository = (*IdempotencyRepository)(nil)
