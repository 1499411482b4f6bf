package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/event"
	"github.com/formbridge/formbridge/internal/domain/submission"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// EventRepository implements port.EventRepository over the append-only
// submission_events table. Rows are never updated or deleted.
type EventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB, logger *zap.Logger) port.EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts one event. The UNIQUE(submission_id, version) constraint
// rejects a second writer racing for the same version.
func (r *EventRepository) Append(ctx context.Context, evt *event.Event) error {
	query := `
		INSERT INTO submission_events (
			event_id, submission_id, type, ts, actor, state, version, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	actor, err := json.Marshal(evt.Actor)
	if err != nil {
		return fmt.Errorf("failed to encode actor: %w", err)
	}

	var payload interface{}
	if evt.Payload != nil {
		p, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		payload = string(p)
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, query,
		evt.ID,
		evt.SubmissionID,
		string(evt.Type),
		evt.Timestamp,
		string(actor),
		string(evt.State),
		evt.Version,
		payload,
	)
	if err != nil {
		r.logger.Error("Failed to append event",
			zap.String("submission_id", evt.SubmissionID),
			zap.Int64("version", evt.Version),
			zap.Error(err))
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListBySubmission retrieves a submission's full history in version order
func (r *EventRepository) ListBySubmission(ctx context.Context, submissionID string) ([]*event.Event, error) {
	query := `
		SELECT event_id, submission_id, type, ts, actor, state, version, payload
		FROM submission_events
		WHERE submission_id = ?
		ORDER BY version ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, submissionID)
	if err != nil {
		r.logger.Error("Failed to list events", zap.String("submission_id", submissionID), zap.Error(err))
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		var evt event.Event
		var eventType, actor, state string
		var payload sql.NullString

		err := rows.Scan(
			&evt.ID,
			&evt.SubmissionID,
			&eventType,
			&evt.Timestamp,
			&actor,
			&state,
			&evt.Version,
			&payload,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		evt.Type = event.Type(eventType)
		evt.State = submission.State(state)
		if err := json.Unmarshal([]byte(actor), &evt.Actor); err != nil {
			return nil, fmt.Errorf("failed to decode actor: %w", err)
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &evt.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode payload: %w", err)
			}
		}

		events = append(events, &evt)
	}

	return events, rows.Err()
}

// LatestVersion returns the highest appended version, zero for no events
func (r *EventRepository) LatestVersion(ctx context.Context, submissionID string) (int64, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM submission_events WHERE submission_id = ?`

	var version int64
	err := r.getExecutor(ctx).QueryRowContext(ctx, query, submissionID).Scan(&version)
	if err != nil {
		r.logger.Error("Failed to get latest version", zap.String("submission_id", submissionID), zap.Error(err))
		return 0, fmt.Errorf("failed to get latest version: %w", err)
	}

	return version, nil
}

// getExecutor returns appropriate executor based on context
func (r *EventRepository) getExecutor(ctx context.Context) executor {
	if tx := sqlite.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

// Verify interface compliance
var _ port.EventRepository = (*EventRepository)(nil)
