package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/submission"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const submissionColumns = `id, intake_id, state, resume_token, fields, attribution,
		idempotency_key, version, created_by, updated_by,
		created_at, updated_at, expires_at`

// SubmissionRepository implements port.SubmissionRepository
type SubmissionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *sql.DB, logger *zap.Logger) port.SubmissionRepository {
	return &SubmissionRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new submission
func (r *SubmissionRepository) Create(ctx context.Context, sub *submission.Submission) error {
	query := `
		INSERT INTO submissions (` + submissionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	fields, attribution, createdBy, updatedBy, err := encodeSubmission(sub)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, query,
		sub.ID,
		sub.IntakeID,
		string(sub.State),
		sub.ResumeToken,
		fields,
		attribution,
		sub.IdempotencyKey,
		sub.Version,
		createdBy,
		updatedBy,
		sub.CreatedAt,
		sub.UpdatedAt,
		nullableTime(sub.ExpiresAt),
	)
	if err != nil {
		r.logger.Error("Failed to create submission", zap.String("submission_id", sub.ID), zap.Error(err))
		return fmt.Errorf("failed to create submission: %w", err)
	}

	return nil
}

// GetByID retrieves a submission by ID
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*submission.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = ?`

	sub, err := scanSubmission(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get submission", zap.String("submission_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	return sub, nil
}

// Update persists submission mutations
func (r *SubmissionRepository) Update(ctx context.Context, sub *submission.Submission) error {
	query := `
		UPDATE submissions SET
			state = ?, resume_token = ?, fields = ?, attribution = ?,
			version = ?, updated_by = ?, updated_at = ?, expires_at = ?
		WHERE id = ?
	`

	fields, attribution, _, updatedBy, err := encodeSubmission(sub)
	if err != nil {
		return err
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		string(sub.State),
		sub.ResumeToken,
		fields,
		attribution,
		sub.Version,
		updatedBy,
		sub.UpdatedAt,
		nullableTime(sub.ExpiresAt),
		sub.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update submission", zap.String("submission_id", sub.ID), zap.Error(err))
		return fmt.Errorf("failed to update submission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("submission %s not found", sub.ID)
	}

	return nil
}

// ListByIntake retrieves submissions for one intake, newest first
func (r *SubmissionRepository) ListByIntake(ctx context.Context, intakeID string, limit, offset int) ([]*submission.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE intake_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, intakeID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list submissions", zap.String("intake_id", intakeID), zap.Error(err))
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	return collectSubmissions(rows)
}

// ListInState retrieves submissions currently in the given state
func (r *SubmissionRepository) ListInState(ctx context.Context, state submission.State, limit int) ([]*submission.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE state = ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	// A negative LIMIT means unbounded in SQLite; limit <= 0 asks for all.
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, string(state), limit)
	if err != nil {
		r.logger.Error("Failed to list submissions by state", zap.String("state", state.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list submissions by state: %w", err)
	}
	defer rows.Close()

	return collectSubmissions(rows)
}

// ListExpired retrieves non-terminal submissions whose retention deadline passed
func (r *SubmissionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*submission.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE expires_at IS NOT NULL
			AND expires_at <= ?
			AND state NOT IN ('completed', 'rejected', 'cancelled', 'expired')
		ORDER BY expires_at ASC
		LIMIT ?
	`

	if limit <= 0 {
		limit = -1
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, now, limit)
	if err != nil {
		r.logger.Error("Failed to list expired submissions", zap.Error(err))
		return nil, fmt.Errorf("failed to list expired submissions: %w", err)
	}
	defer rows.Close()

	return collectSubmissions(rows)
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*submission.Submission, error) {
	var sub submission.Submission
	var state, fields, attribution, createdBy, updatedBy string
	var expiresAt sql.NullTime

	err := row.Scan(
		&sub.ID,
		&sub.IntakeID,
		&state,
		&sub.ResumeToken,
		&fields,
		&attribution,
		&sub.IdempotencyKey,
		&sub.Version,
		&createdBy,
		&updatedBy,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	sub.State = submission.State(state)
	if err := json.Unmarshal([]byte(fields), &sub.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	if err := json.Unmarshal([]byte(attribution), &sub.FieldAttribution); err != nil {
		return nil, fmt.Errorf("failed to decode attribution: %w", err)
	}
	if err := json.Unmarshal([]byte(createdBy), &sub.CreatedBy); err != nil {
		return nil, fmt.Errorf("failed to decode created_by: %w", err)
	}
	if err := json.Unmarshal([]byte(updatedBy), &sub.UpdatedBy); err != nil {
		return nil, fmt.Errorf("failed to decode updated_by: %w", err)
	}
	if expiresAt.Valid {
		sub.ExpiresAt = &expiresAt.Time
	}

	return &sub, nil
}

func collectSubmissions(rows *sql.Rows) ([]*submission.Submission, error) {
	var subs []*submission.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func encodeSubmission(sub *submission.Submission) (fields, attribution, createdBy, updatedBy string, err error) {
	f, err := json.Marshal(sub.Fields)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to encode fields: %w", err)
	}
	a, err := json.Marshal(sub.FieldAttribution)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to encode attribution: %w", err)
	}
	cb, err := json.Marshal(sub.CreatedBy)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to encode created_by: %w", err)
	}
	ub, err := json.Marshal(sub.UpdatedBy)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to encode updated_by: %w", err)
	}
	return string(f), string(a), string(cb), string(ub), nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// getExecutor returns appropriate executor based on context
func (r *SubmissionRepository) getExecutor(ctx context.Context) executor {
	if tx := sqlite.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

// executor interface covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Verify interface compliance
var _ port.SubmissionRepository = (*SubmissionRepository)(nil)
