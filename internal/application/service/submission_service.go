package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/formbridge/formbridge/internal/application/eventlog"
	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/event"
	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/domain/submission"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// CreateInput starts a new submission against an intake.
type CreateInput struct {
	IntakeID       string
	Actor          submission.Actor
	Fields         map[string]any
	IdempotencyKey string
}

// UpdateFieldsInput patches field values on an editable submission.
type UpdateFieldsInput struct {
	SubmissionID string
	Actor        submission.Actor
	Fields       map[string]any
}

// SubmitInput asks for validation and, on success, review or finalization.
type SubmitInput struct {
	SubmissionID string
	Actor        submission.Actor
}

// CancelInput closes a submission before completion.
type CancelInput struct {
	SubmissionID string
	Actor        submission.Actor
	Reason       string
}

// ResumeInput reopens a session using the resume token.
type ResumeInput struct {
	SubmissionID string
	Token        string
	Actor        submission.Actor
}

// RotateTokenInput invalidates the current resume token and issues a new one.
type RotateTokenInput struct {
	SubmissionID string
	Actor        submission.Actor
}

// UploadRequestInput reserves an upload slot for a file field. Byte
// transfer happens out of band; the engine only tracks the lifecycle.
type UploadRequestInput struct {
	SubmissionID string
	Actor        submission.Actor
	Field        string
}

// UploadCompleteInput records a finished upload and binds its reference to
// the field.
type UploadCompleteInput struct {
	SubmissionID string
	Actor        submission.Actor
	UploadID     string
	Field        string
	Ref          string
	Size         int64
}

// UploadTicket is the handle returned to the uploader.
type UploadTicket struct {
	UploadID     string `json:"uploadId"`
	SubmissionID string `json:"submissionId"`
	Field        string `json:"field"`
}

// SubmissionService drives the submission lifecycle. Every state change
// goes through the event log; stored state is a cache of the log.
type SubmissionService interface {
	Create(ctx context.Context, in CreateInput) (*submission.Submission, bool, error)
	Get(ctx context.Context, id string) (*submission.Submission, error)
	List(ctx context.Context, intakeID string, limit, offset int) ([]*submission.Submission, error)
	History(ctx context.Context, id string) ([]*event.Event, error)
	UpdateFields(ctx context.Context, in UpdateFieldsInput) (*submission.Submission, error)
	Submit(ctx context.Context, in SubmitInput) (*submission.Submission, error)
	Cancel(ctx context.Context, in CancelInput) (*submission.Submission, error)
	Expire(ctx context.Context, id string) (*submission.Submission, error)
	Resume(ctx context.Context, in ResumeInput) (*submission.Submission, error)
	RotateResumeToken(ctx context.Context, in RotateTokenInput) (*submission.Submission, error)
	RequestUpload(ctx context.Context, in UploadRequestInput) (*UploadTicket, error)
	CompleteUpload(ctx context.Context, in UploadCompleteInput) (*submission.Submission, error)
}

type submissionServiceImpl struct {
	committer

	registry    *intake.Registry
	validator   port.Validator
	idempotency port.IdempotencyRepository
	locks       *SubmissionLocks
	logger      Logger
}

// NewSubmissionService creates a new SubmissionService
func NewSubmissionService(
	submissionRepo port.SubmissionRepository,
	log *eventlog.Log,
	registry *intake.Registry,
	validator port.Validator,
	idempotency port.IdempotencyRepository,
	txManager port.TransactionManager,
	locks *SubmissionLocks,
	logger Logger,
) SubmissionService {
	return &submissionServiceImpl{
		committer: committer{
			submissionRepo: submissionRepo,
			log:            log,
			txManager:      txManager,
			now:            time.Now,
		},
		registry:    registry,
		validator:   validator,
		idempotency: idempotency,
		locks:       locks,
		logger:      logger,
	}
}

// Create starts a submission in draft. When an idempotency key is supplied
// and already known, the original submission is returned and the second
// boolean is false; no duplicate is created.
func (s *submissionServiceImpl) Create(ctx context.Context, in CreateInput) (*submission.Submission, bool, error) {
	def, err := s.registry.Get(in.IntakeID)
	if err != nil {
		return nil, false, err
	}
	if in.Actor.Kind == "" {
		in.Actor = submission.SystemActor()
	}

	id := newID("sub")
	if in.IdempotencyKey != "" {
		winner, created, err := s.idempotency.PutIfAbsent(ctx, in.IntakeID, in.IdempotencyKey, id)
		if err != nil {
			s.logger.Error("Failed to reserve idempotency key", "error", err, "intake_id", in.IntakeID)
			return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if !created {
			existing, err := s.awaitSubmission(ctx, winner)
			if err != nil {
				return nil, false, err
			}
			s.logger.Info("Idempotent create replayed",
				"submission_id", existing.ID,
				"intake_id", in.IntakeID,
			)
			return existing, false, nil
		}
	}

	now := s.now()
	sub := submission.New(id, def.ID, in.Actor, now)
	sub.IdempotencyKey = in.IdempotencyKey
	if def.TTL > 0 {
		deadline := now.Add(def.TTL)
		sub.ExpiresAt = &deadline
	}
	for path, value := range in.Fields {
		sub.SetField(path, value, in.Actor)
	}

	evt := event.New(event.TypeSubmissionCreated, sub.ID, in.Actor, sub.State, map[string]any{
		"intakeId": def.ID,
	})
	if len(in.Fields) > 0 {
		evt = evt.WithPayload("paths", fieldPaths(in.Fields))
	}

	if err := s.commit(ctx, sub, true, evt); err != nil {
		s.logger.Error("Failed to create submission", "error", err, "intake_id", in.IntakeID)
		return nil, false, err
	}

	s.logger.Info("Submission created",
		"submission_id", sub.ID,
		"intake_id", def.ID,
		"actor_kind", in.Actor.Kind,
	)
	return sub, true, nil
}

// Get returns the submission regardless of state; expired submissions are
// still readable.
func (s *submissionServiceImpl) Get(ctx context.Context, id string) (*submission.Submission, error) {
	return s.load(ctx, id)
}

// List returns the intake's submissions, newest first. The intake must be
// registered; listing an unknown intake is reported rather than returning
// an empty page.
func (s *submissionServiceImpl) List(ctx context.Context, intakeID string, limit, offset int) ([]*submission.Submission, error) {
	if _, err := s.registry.Get(intakeID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	subs, err := s.submissionRepo.ListByIntake(ctx, intakeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list submissions for %s: %w", intakeID, err)
	}
	return subs, nil
}

// History returns the submission's full event log in version order.
func (s *submissionServiceImpl) History(ctx context.Context, id string) ([]*event.Event, error) {
	events, err := s.log.Events(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("submission %s: %w", id, submission.ErrNotFound)
	}
	return events, nil
}

// UpdateFields applies a field patch. Allowed in draft and invalid; a patch
// on an invalid submission moves it back to draft first.
func (s *submissionServiceImpl) UpdateFields(ctx context.Context, in UpdateFieldsInput) (*submission.Submission, error) {
	if len(in.Fields) == 0 {
		return nil, errors.New("update fields: empty field set")
	}

	unlock := s.locks.Lock(in.SubmissionID)
	defer unlock()

	sub, err := s.load(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := guardOpen("update_fields", sub); err != nil {
		return nil, err
	}
	if !sub.State.IsEditable() {
		return nil, submission.NewInvalidStateError("update_fields", sub.State, submission.StateDraft, submission.StateInvalid)
	}

	def, err := s.registry.Get(sub.IntakeID)
	if err != nil {
		return nil, err
	}
	result, err := s.validator.Validate(ctx, def, in.Fields, port.ValidatePartial)
	if err != nil {
		return nil, fmt.Errorf("validate fields: %w", err)
	}
	if !result.Valid {
		return nil, &ValidationError{Result: result}
	}

	if sub.State == submission.StateInvalid {
		if err := advance(ctx, sub, submission.TriggerRevise); err != nil {
			return nil, err
		}
	}
	for path, value := range in.Fields {
		sub.SetField(path, value, in.Actor)
	}
	sub.UpdatedBy = in.Actor

	evt := event.New(event.TypeFieldUpdated, sub.ID, in.Actor, sub.State, map[string]any{
		"paths": fieldPaths(in.Fields),
	})
	if err := s.commit(ctx, sub, false, evt); err != nil {
		s.logger.Error("Failed to update fields", "error", err, "submission_id", sub.ID)
		return nil, err
	}
	return sub, nil
}

// Submit validates the full field set and either parks the submission in
// invalid, routes it to review, or finalizes it when the intake has no
// gates. The validating state only exists within this call.
func (s *submissionServiceImpl) Submit(ctx context.Context, in SubmitInput) (*submission.Submission, error) {
	unlock := s.locks.Lock(in.SubmissionID)
	defer unlock()

	sub, err := s.load(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := guardOpen("submit", sub); err != nil {
		return nil, err
	}

	def, err := s.registry.Get(sub.IntakeID)
	if err != nil {
		return nil, err
	}

	if err := advance(ctx, sub, submission.TriggerValidate); err != nil {
		return nil, err
	}

	result, err := s.validator.Validate(ctx, def, sub.Fields, port.ValidateFull)
	if err != nil {
		// Nothing was persisted; the submission stays in its stored state.
		s.logger.Error("Validator unavailable", "error", err, "submission_id", sub.ID)
		return nil, fmt.Errorf("submit %s: validate: %w", sub.ID, err)
	}

	if !result.Valid {
		if err := advance(ctx, sub, submission.TriggerValidationFail); err != nil {
			return nil, err
		}
		sub.UpdatedBy = in.Actor
		evt := event.New(event.TypeValidationFailed, sub.ID, in.Actor, sub.State, map[string]any{
			"missingFields": result.MissingFields,
			"issues":        issuesPayload(result.Issues),
		})
		if err := s.commit(ctx, sub, false, evt); err != nil {
			s.logger.Error("Failed to record validation failure", "error", err, "submission_id", sub.ID)
			return nil, err
		}
		s.logger.Info("Submission invalid",
			"submission_id", sub.ID,
			"missing_count", len(result.MissingFields),
			"issue_count", len(result.Issues),
		)
		return nil, &ValidationError{Result: result}
	}

	if err := advance(ctx, sub, submission.TriggerValidationPass); err != nil {
		return nil, err
	}
	sub.UpdatedBy = in.Actor

	events := []*event.Event{
		event.New(event.TypeValidationPassed, sub.ID, in.Actor, sub.State, nil),
		event.New(event.TypeSubmissionSubmitted, sub.ID, in.Actor, sub.State, nil),
	}

	if len(def.Gates) == 0 {
		if err := advance(ctx, sub, submission.TriggerFinalize); err != nil {
			return nil, err
		}
		events = append(events, event.New(event.TypeSubmissionFinalized, sub.ID, submission.SystemActor(), sub.State, map[string]any{
			"outcome": "completed",
		}))
	} else {
		if err := advance(ctx, sub, submission.TriggerRequestReview); err != nil {
			return nil, err
		}
		events = append(events, reviewRequestedEvent(sub, def, def.Gates[0]))
	}

	if err := s.commit(ctx, sub, false, events...); err != nil {
		s.logger.Error("Failed to submit", "error", err, "submission_id", sub.ID)
		return nil, err
	}

	s.logger.Info("Submission submitted",
		"submission_id", sub.ID,
		"state", sub.State,
		"gate_count", len(def.Gates),
	)
	return sub, nil
}

// Cancel closes the submission from any open state.
func (s *submissionServiceImpl) Cancel(ctx context.Context, in CancelInput) (*submission.Submission, error) {
	unlock := s.locks.Lock(in.SubmissionID)
	defer unlock()

	sub, err := s.load(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := guardOpen("cancel", sub); err != nil {
		return nil, err
	}
	if err := advance(ctx, sub, submission.TriggerCancel); err != nil {
		return nil, err
	}
	sub.UpdatedBy = in.Actor

	evt := event.New(event.TypeSubmissionCancelled, sub.ID, in.Actor, sub.State, nil)
	if in.Reason != "" {
		evt = evt.WithPayload("reason", in.Reason)
	}
	if err := s.commit(ctx, sub, false, evt); err != nil {
		s.logger.Error("Failed to cancel", "error", err, "submission_id", sub.ID)
		return nil, err
	}

	s.logger.Info("Submission cancelled", "submission_id", sub.ID, "actor_kind", in.Actor.Kind)
	return sub, nil
}

// Expire closes an overdue submission. Idempotent: expiring an already
// terminal submission is a no-op so the sweeper can safely retry.
func (s *submissionServiceImpl) Expire(ctx context.Context, id string) (*submission.Submission, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.State.IsTerminal() {
		return sub, nil
	}
	if err := advance(ctx, sub, submission.TriggerExpire); err != nil {
		return nil, err
	}
	actor := submission.SystemActor()
	sub.UpdatedBy = actor

	evt := event.New(event.TypeSubmissionExpired, sub.ID, actor, sub.State, nil)
	if sub.ExpiresAt != nil {
		evt = evt.WithPayload("deadline", sub.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if err := s.commit(ctx, sub, false, evt); err != nil {
		s.logger.Error("Failed to expire", "error", err, "submission_id", sub.ID)
		return nil, err
	}

	s.logger.Info("Submission expired", "submission_id", sub.ID)
	return sub, nil
}

// Resume verifies the resume token and reopens the session. The token is
// compared in constant time; a mismatch reveals nothing about which side
// differed. Expired submissions are reported as expired only after the
// token check passes.
func (s *submissionServiceImpl) Resume(ctx context.Context, in ResumeInput) (*submission.Submission, error) {
	unlock := s.locks.Lock(in.SubmissionID)
	defer unlock()

	sub, err := s.load(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if !submission.VerifyResumeToken(sub.ResumeToken, in.Token) {
		return nil, fmt.Errorf("resume %s: %w", in.SubmissionID, submission.ErrInvalidResumeToken)
	}
	if sub.State == submission.StateExpired {
		return nil, fmt.Errorf("resume %s: %w", in.SubmissionID, submission.ErrExpired)
	}

	evt := event.New(event.TypeResumeUsed, sub.ID, in.Actor, sub.State, nil)
	if err := s.commit(ctx, sub, false, evt); err != nil {
		s.logger.Error("Failed to record resume", "error", err, "submission_id", sub.ID)
		return nil, err
	}
	return sub, nil
}

// RotateResumeToken replaces the resume token. The old token stops working
// immediately; the new one is only ever returned from this call.
func (s *submissionServiceImpl) RotateResumeToken(ctx context.Context, in RotateTokenInput) (*submission.Submission, error) {
	unlock := s.locks.Lock(in.SubmissionID)
	defer unlock()

	sub, err := s.load(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := guardOpen("rotate_resume_token", sub); err != nil {
		return nil, err
	}
	if sub.State.IsTerminal() {
		return nil, submission.NewInvalidStateError("rotate_resume_token", sub.State)
	}

	sub.ResumeToken = submission.NewResumeToken()
	sub.UpdatedBy = in.Actor

	evt := event.New(event.TypeResumeIssued, sub.ID, in.Actor, sub.State, nil)
	if err := s.commit(ctx, sub, false, evt); err != nil {
		s.logger.Error("Failed to rotate resume token", "error", err, "submission_id", sub.ID)
		return nil, err
	}

	s.logger.Info("Resume token rotated", "submission_id", sub.ID)
	return sub, nil
}

// RequestUpload reserves an upload slot for a file field. The engine never
// sees the bytes; callers upload out of band and report back through
// CompleteUpload.
func (s *submissionServiceImpl) RequestUpload(ctx context.Context, in UploadRequestInput) (*UploadTicket, error) {
	if in.Field == "" {
		return nil, errors.New("request upload: field is required")
	}

	unlock := s.locks.Lock(in.SubmissionID)
	defer unlock()

	sub, err := s.load(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := guardOpen("request_upload", sub); err != nil {
		return nil, err
	}
	if !sub.State.IsEditable() {
		return nil, submission.NewInvalidStateError("request_upload", sub.State, submission.StateDraft, submission.StateInvalid)
	}

	ticket := &UploadTicket{
		UploadID:     newID("up"),
		SubmissionID: sub.ID,
		Field:        in.Field,
	}
	evt := event.New(event.TypeUploadRequested, sub.ID, in.Actor, sub.State, map[string]any{
		"uploadId": ticket.UploadID,
		"field":    in.Field,
	})
	if err := s.commit(ctx, sub, false, evt); err != nil {
		s.logger.Error("Failed to request upload", "error", err, "submission_id", sub.ID)
		return nil, err
	}
	return ticket, nil
}

// CompleteUpload binds a finished upload to its field. Completing the same
// upload twice is a no-op.
func (s *submissionServiceImpl) CompleteUpload(ctx context.Context, in UploadCompleteInput) (*submission.Submission, error) {
	if in.UploadID == "" {
		return nil, errors.New("complete upload: uploadId is required")
	}

	unlock := s.locks.Lock(in.SubmissionID)
	defer unlock()

	sub, err := s.load(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := guardOpen("complete_upload", sub); err != nil {
		return nil, err
	}
	if !sub.State.IsEditable() {
		return nil, submission.NewInvalidStateError("complete_upload", sub.State, submission.StateDraft, submission.StateInvalid)
	}

	events, err := s.log.Events(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("complete upload %s: %w", in.UploadID, err)
	}
	var field string
	for _, evt := range events {
		if evt.GetPayloadString("uploadId") != in.UploadID {
			continue
		}
		switch evt.Type {
		case event.TypeUploadRequested:
			field = evt.GetPayloadString("field")
		case event.TypeUploadCompleted:
			return sub, nil
		}
	}
	if field == "" {
		return nil, fmt.Errorf("upload %s: %w", in.UploadID, submission.ErrNotFound)
	}
	if in.Field != "" && in.Field != field {
		return nil, fmt.Errorf("complete upload %s: field mismatch: requested for %s", in.UploadID, field)
	}

	if sub.State == submission.StateInvalid {
		if err := advance(ctx, sub, submission.TriggerRevise); err != nil {
			return nil, err
		}
	}
	sub.SetField(field, in.Ref, in.Actor)
	sub.UpdatedBy = in.Actor

	evt := event.New(event.TypeUploadCompleted, sub.ID, in.Actor, sub.State, map[string]any{
		"uploadId": in.UploadID,
		"field":    field,
		"ref":      in.Ref,
	})
	if in.Size > 0 {
		evt = evt.WithPayload("size", in.Size)
	}
	if err := s.commit(ctx, sub, false, evt); err != nil {
		s.logger.Error("Failed to complete upload", "error", err, "submission_id", sub.ID)
		return nil, err
	}
	return sub, nil
}

// awaitSubmission handles the window where another request holds the
// idempotency key but has not finished persisting its submission yet.
func (s *submissionServiceImpl) awaitSubmission(ctx context.Context, id string) (*submission.Submission, error) {
	const (
		attempts = 20
		pause    = 5 * time.Millisecond
	)
	for i := 0; i < attempts; i++ {
		sub, err := s.submissionRepo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load submission %s: %w", id, err)
		}
		if sub != nil {
			return sub, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}
	return nil, fmt.Errorf("submission %s: %w", id, submission.ErrNotFound)
}

// advance fires a lifecycle trigger and writes the new state back.
func advance(ctx context.Context, sub *submission.Submission, trigger submission.Trigger) error {
	machine := submission.NewLifecycle(sub.State)
	if err := machine.Fire(ctx, trigger); err != nil {
		return err
	}
	sub.State = machine.State()
	return nil
}

// guardOpen rejects operations on expired submissions with the dedicated
// error so callers can distinguish renewal from a true miss.
func guardOpen(op string, sub *submission.Submission) error {
	if sub.State == submission.StateExpired {
		return fmt.Errorf("%s %s: %w", op, sub.ID, submission.ErrExpired)
	}
	return nil
}

func fieldPaths(fields map[string]any) []string {
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func issuesPayload(issues []port.ValidationIssue) []map[string]any {
	out := make([]map[string]any, len(issues))
	for i, issue := range issues {
		out[i] = map[string]any{
			"path":    issue.Path,
			"code":    issue.Code,
			"message": issue.Message,
		}
	}
	return out
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
