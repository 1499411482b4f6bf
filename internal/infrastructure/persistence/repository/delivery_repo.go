package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/delivery"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const deliveryColumns = `id, submission_id, intake_id, event_id, event_type, url, state,
		attempts, next_attempt_at, last_status_code, last_error, payload,
		created_at, updated_at`

// DeliveryRepository implements port.DeliveryRepository
type DeliveryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(db *sql.DB, logger *zap.Logger) port.DeliveryRepository {
	return &DeliveryRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new delivery
func (r *DeliveryRepository) Create(ctx context.Context, d *delivery.Delivery) error {
	query := `
		INSERT INTO webhook_deliveries (` + deliveryColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		d.ID,
		d.SubmissionID,
		d.IntakeID,
		d.EventID,
		d.EventType,
		d.URL,
		string(d.State),
		d.Attempts,
		nullableTime(d.NextAttemptAt),
		d.LastStatusCode,
		d.LastError,
		d.Payload,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create delivery", zap.String("delivery_id", d.ID), zap.Error(err))
		return fmt.Errorf("failed to create delivery: %w", err)
	}

	return nil
}

// GetByID retrieves a delivery by ID
func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*delivery.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = ?`

	d, err := scanDelivery(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get delivery", zap.String("delivery_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}

	return d, nil
}

// Update persists delivery mutations
func (r *DeliveryRepository) Update(ctx context.Context, d *delivery.Delivery) error {
	query := `
		UPDATE webhook_deliveries SET
			state = ?, attempts = ?, next_attempt_at = ?,
			last_status_code = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		string(d.State),
		d.Attempts,
		nullableTime(d.NextAttemptAt),
		d.LastStatusCode,
		d.LastError,
		d.UpdatedAt,
		d.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update delivery", zap.String("delivery_id", d.ID), zap.Error(err))
		return fmt.Errorf("failed to update delivery: %w", err)
	}

	return nil
}

// GetByDedupeKey retrieves the delivery for a (submission, url, event) triple
func (r *DeliveryRepository) GetByDedupeKey(ctx context.Context, submissionID, url, eventID string) (*delivery.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE submission_id = ? AND url = ? AND event_id = ?
	`

	d, err := scanDelivery(r.getExecutor(ctx).QueryRowContext(ctx, query, submissionID, url, eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get delivery by dedupe key",
			zap.String("submission_id", submissionID),
			zap.String("event_id", eventID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}

	return d, nil
}

// ListBySubmission retrieves all deliveries for a submission, oldest first
func (r *DeliveryRepository) ListBySubmission(ctx context.Context, submissionID string) ([]*delivery.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE submission_id = ?
		ORDER BY created_at ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, submissionID)
	if err != nil {
		r.logger.Error("Failed to list deliveries", zap.String("submission_id", submissionID), zap.Error(err))
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// ListScheduled retrieves pending deliveries with a next attempt time
func (r *DeliveryRepository) ListScheduled(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE state = ? AND next_attempt_at IS NOT NULL
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`

	// A negative LIMIT means unbounded in SQLite; limit <= 0 asks for all.
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, string(delivery.StatePending), limit)
	if err != nil {
		r.logger.Error("Failed to list scheduled deliveries", zap.Error(err))
		return nil, fmt.Errorf("failed to list scheduled deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// AppendAttempt records one HTTP attempt against a delivery
func (r *DeliveryRepository) AppendAttempt(ctx context.Context, att *delivery.Attempt) error {
	query := `
		INSERT INTO delivery_attempts (
			delivery_id, number, at, status_code, error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		att.DeliveryID,
		att.Number,
		att.At,
		att.StatusCode,
		att.Error,
		att.Duration.Milliseconds(),
	)
	if err != nil {
		r.logger.Error("Failed to append attempt", zap.String("delivery_id", att.DeliveryID), zap.Error(err))
		return fmt.Errorf("failed to append attempt: %w", err)
	}

	return nil
}

// ListAttempts retrieves a delivery's attempt history in order
func (r *DeliveryRepository) ListAttempts(ctx context.Context, deliveryID string) ([]*delivery.Attempt, error) {
	query := `
		SELECT delivery_id, number, at, status_code, error, duration_ms
		FROM delivery_attempts
		WHERE delivery_id = ?
		ORDER BY number ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, deliveryID)
	if err != nil {
		r.logger.Error("Failed to list attempts", zap.String("delivery_id", deliveryID), zap.Error(err))
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*delivery.Attempt
	for rows.Next() {
		var att delivery.Attempt
		var durationMs int64

		err := rows.Scan(
			&att.DeliveryID,
			&att.Number,
			&att.At,
			&att.StatusCode,
			&att.Error,
			&durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		att.Duration = time.Duration(durationMs) * time.Millisecond
		attempts = append(attempts, &att)
	}

	return attempts, rows.Err()
}

func scanDelivery(row scanner) (*delivery.Delivery, error) {
	var d delivery.Delivery
	var state string
	var nextAttemptAt sql.NullTime

	err := row.Scan(
		&d.ID,
		&d.SubmissionID,
		&d.IntakeID,
		&d.EventID,
		&d.EventType,
		&d.URL,
		&state,
		&d.Attempts,
		&nextAttemptAt,
		&d.LastStatusCode,
		&d.LastError,
		&d.Payload,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.State = delivery.State(state)
	if nextAttemptAt.Valid {
		d.NextAttemptAt = &nextAttemptAt.Time
	}

	return &d, nil
}

func collectDeliveries(rows *sql.Rows) ([]*delivery.Delivery, error) {
	var deliveries []*delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// getExecutor returns appropriate executor based on context
func (r *DeliveryRepository) getExecutor(ctx context.Context) executor {
	if tx := sqlite.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

// Verify interface compliance
var _ port.DeliveryRepository = (*DeliveryRepository)(nil)
