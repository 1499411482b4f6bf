package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/review"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const decisionColumns = `id, submission_id, gate, round, reviewer_id, reviewer, decision, comment, created_at`

// DecisionRepository implements port.DecisionRepository
type DecisionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *sql.DB, logger *zap.Logger) port.DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

// Create records one reviewer verdict. The UNIQUE(submission_id, gate,
// round, reviewer_id) constraint rejects duplicate decisions at the
// storage layer as well.
func (r *DecisionRepository) Create(ctx context.Context, d *review.Decision) error {
	query := `
		INSERT INTO review_decisions (` + decisionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	reviewer, err := json.Marshal(d.Reviewer)
	if err != nil {
		return fmt.Errorf("failed to encode reviewer: %w", err)
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, query,
		d.ID,
		d.SubmissionID,
		d.Gate,
		d.Round,
		d.Reviewer.ID,
		string(reviewer),
		string(d.Kind),
		d.Comment,
		d.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create decision",
			zap.String("submission_id", d.SubmissionID),
			zap.String("gate", d.Gate),
			zap.Error(err))
		return fmt.Errorf("failed to create decision: %w", err)
	}

	return nil
}

// ListBySubmission retrieves every decision recorded against a submission
func (r *DecisionRepository) ListBySubmission(ctx context.Context, submissionID string) ([]*review.Decision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM review_decisions
		WHERE submission_id = ?
		ORDER BY created_at ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, submissionID)
	if err != nil {
		r.logger.Error("Failed to list decisions", zap.String("submission_id", submissionID), zap.Error(err))
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	return collectDecisions(rows)
}

// ListByGate retrieves decisions for one gate in one review round
func (r *DecisionRepository) ListByGate(ctx context.Context, submissionID, gate string, round int) ([]*review.Decision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM review_decisions
		WHERE submission_id = ? AND gate = ? AND round = ?
		ORDER BY created_at ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, submissionID, gate, round)
	if err != nil {
		r.logger.Error("Failed to list gate decisions",
			zap.String("submission_id", submissionID),
			zap.String("gate", gate),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list gate decisions: %w", err)
	}
	defer rows.Close()

	return collectDecisions(rows)
}

// GetByReviewer retrieves a reviewer's decision on a gate, or nil
func (r *DecisionRepository) GetByReviewer(ctx context.Context, submissionID, gate string, round int, reviewerID string) (*review.Decision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM review_decisions
		WHERE submission_id = ? AND gate = ? AND round = ? AND reviewer_id = ?
	`

	d, err := scanDecision(r.getExecutor(ctx).QueryRowContext(ctx, query, submissionID, gate, round, reviewerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get reviewer decision",
			zap.String("submission_id", submissionID),
			zap.String("reviewer_id", reviewerID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get reviewer decision: %w", err)
	}

	return d, nil
}

func scanDecision(row scanner) (*review.Decision, error) {
	var d review.Decision
	var reviewerID, reviewer, kind string

	err := row.Scan(
		&d.ID,
		&d.SubmissionID,
		&d.Gate,
		&d.Round,
		&reviewerID,
		&reviewer,
		&kind,
		&d.Comment,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Kind = review.Kind(kind)
	if err := json.Unmarshal([]byte(reviewer), &d.Reviewer); err != nil {
		return nil, fmt.Errorf("failed to decode reviewer: %w", err)
	}

	return &d, nil
}

func collectDecisions(rows *sql.Rows) ([]*review.Decision, error) {
	var decisions []*review.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// getExecutor returns appropriate executor based on context
func (r *DecisionRepository) getExecutor(ctx context.Context) executor {
	if tx := sqlite.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

// Verify interface compliance
var _ port.DecisionRepository = (*DecisionRepository)(nil)
