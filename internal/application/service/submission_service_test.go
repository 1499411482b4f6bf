package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbridge/formbridge/internal/application/eventlog"
	"github.com/formbridge/formbridge/internal/domain/event"
	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/domain/submission"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/memory"
	"github.com/formbridge/formbridge/internal/validation"
)

type noopLogger struct{}

func (noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Error(msg string, keysAndValues ...interface{}) {}

func humanActor(id string) submission.Actor {
	return submission.Actor{Kind: submission.ActorHuman, ID: id}
}

type lifecycleFixture struct {
	t      *testing.T
	stores *memory.Stores
	log    *eventlog.Log
	svc    SubmissionService
	def    *intake.Intake
}

// newLifecycleFixture wires the submission service over memory stores. The
// default intake requires company and email and has no gates, so a valid
// submit finalizes immediately.
func newLifecycleFixture(t *testing.T, defs ...*intake.Intake) *lifecycleFixture {
	t.Helper()

	if len(defs) == 0 {
		defs = []*intake.Intake{{
			ID:             "vendor-onboarding",
			Name:           "Vendor Onboarding",
			RequiredFields: []string{"company", "email"},
		}}
	}
	registry, err := intake.NewRegistry(defs...)
	require.NoError(t, err)

	stores := memory.NewStores()
	log := eventlog.New(stores.Events)
	svc := NewSubmissionService(stores.Submissions, log, registry, validation.New(), stores.Idempotency, stores, NewSubmissionLocks(), noopLogger{})

	return &lifecycleFixture{t: t, stores: stores, log: log, svc: svc, def: defs[0]}
}

func (f *lifecycleFixture) create(fields map[string]any) *submission.Submission {
	f.t.Helper()
	sub, created, err := f.svc.Create(context.Background(), CreateInput{
		IntakeID: f.def.ID,
		Actor:    humanActor("user-1"),
		Fields:   fields,
	})
	require.NoError(f.t, err)
	require.True(f.t, created)
	return sub
}

func (f *lifecycleFixture) events(id string) []*event.Event {
	f.t.Helper()
	events, err := f.log.Events(context.Background(), id)
	require.NoError(f.t, err)
	return events
}

func (f *lifecycleFixture) eventTypes(id string) []event.Type {
	f.t.Helper()
	events := f.events(id)
	types := make([]event.Type, 0, len(events))
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	return types
}

func TestCreateStartsDraft(t *testing.T) {
	fx := newLifecycleFixture(t)

	sub := fx.create(map[string]any{"company": "Initech"})

	assert.Equal(t, submission.StateDraft, sub.State)
	assert.Equal(t, "vendor-onboarding", sub.IntakeID)
	assert.NotEmpty(t, sub.ResumeToken)
	assert.Equal(t, int64(1), sub.Version)
	assert.Nil(t, sub.ExpiresAt, "no TTL means no deadline")
	assert.Equal(t, "Initech", sub.Fields["company"])
	assert.Equal(t, "user-1", sub.FieldAttribution["company"].ID)

	events := fx.events(sub.ID)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeSubmissionCreated, events[0].Type)
	assert.Equal(t, "vendor-onboarding", events[0].GetPayloadString("intakeId"))
	assert.Equal(t, []string{"company"}, events[0].Payload["paths"])

	got, err := fx.svc.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
}

func TestCreateUnknownIntake(t *testing.T) {
	fx := newLifecycleFixture(t)

	_, _, err := fx.svc.Create(context.Background(), CreateInput{IntakeID: "nonexistent"})
	assert.ErrorIs(t, err, intake.ErrUnknownIntake)
}

func TestCreateDefaultsActorToSystem(t *testing.T) {
	fx := newLifecycleFixture(t)

	sub, _, err := fx.svc.Create(context.Background(), CreateInput{IntakeID: "vendor-onboarding"})
	require.NoError(t, err)
	assert.Equal(t, submission.ActorSystem, sub.CreatedBy.Kind)
}

func TestCreateIdempotencyKeyReplays(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	first, created, err := fx.svc.Create(ctx, CreateInput{
		IntakeID:       "vendor-onboarding",
		Actor:          humanActor("user-1"),
		Fields:         map[string]any{"company": "Initech"},
		IdempotencyKey: "req-1",
	})
	require.NoError(t, err)
	require.True(t, created)

	replay, created, err := fx.svc.Create(ctx, CreateInput{
		IntakeID:       "vendor-onboarding",
		Actor:          humanActor("user-1"),
		Fields:         map[string]any{"company": "Different Corp"},
		IdempotencyKey: "req-1",
	})
	require.NoError(t, err)
	assert.False(t, created, "replay must not create a second submission")
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, "Initech", replay.Fields["company"], "replay returns the original, not the retry's fields")

	require.Len(t, fx.events(first.ID), 1, "exactly one creation event")

	other, created, err := fx.svc.Create(ctx, CreateInput{
		IntakeID:       "vendor-onboarding",
		IdempotencyKey: "req-2",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreateAppliesRetentionDeadline(t *testing.T) {
	fx := newLifecycleFixture(t, &intake.Intake{
		ID:             "grant-application",
		Name:           "Grant Application",
		RequiredFields: []string{"summary"},
		TTL:            72 * time.Hour,
	})

	sub := fx.create(map[string]any{"summary": "solar array"})
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, 72*time.Hour, sub.ExpiresAt.Sub(sub.CreatedAt))
}

func TestUpdateFields(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	sub := fx.create(map[string]any{"company": "Initech"})

	t.Run("patch merges and attributes", func(t *testing.T) {
		got, err := fx.svc.UpdateFields(ctx, UpdateFieldsInput{
			SubmissionID: sub.ID,
			Actor:        humanActor("user-2"),
			Fields:       map[string]any{"email": "ap@initech.example", "phone": "555-0100"},
		})
		require.NoError(t, err)

		assert.Equal(t, "Initech", got.Fields["company"], "untouched fields survive the patch")
		assert.Equal(t, "ap@initech.example", got.Fields["email"])
		assert.Equal(t, "user-1", got.FieldAttribution["company"].ID)
		assert.Equal(t, "user-2", got.FieldAttribution["email"].ID)

		events := fx.events(sub.ID)
		last := events[len(events)-1]
		assert.Equal(t, event.TypeFieldUpdated, last.Type)
		assert.Equal(t, []string{"email", "phone"}, last.Payload["paths"], "paths are sorted")
	})

	t.Run("empty patch is rejected", func(t *testing.T) {
		_, err := fx.svc.UpdateFields(ctx, UpdateFieldsInput{SubmissionID: sub.ID, Actor: humanActor("user-2")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty field set")
	})

	t.Run("malformed path is rejected without persisting", func(t *testing.T) {
		before := len(fx.events(sub.ID))
		_, err := fx.svc.UpdateFields(ctx, UpdateFieldsInput{
			SubmissionID: sub.ID,
			Actor:        humanActor("user-2"),
			Fields:       map[string]any{"bad path!": "x"},
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.ErrorIs(t, err, ErrValidationFailed)
		assert.Len(t, fx.events(sub.ID), before, "rejected patch appends nothing")
	})

	t.Run("emptying a required field is rejected", func(t *testing.T) {
		_, err := fx.svc.UpdateFields(ctx, UpdateFieldsInput{
			SubmissionID: sub.ID,
			Actor:        humanActor("user-2"),
			Fields:       map[string]any{"email": ""},
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Len(t, verr.Result.Issues, 1)
		assert.Equal(t, "required_empty", verr.Result.Issues[0].Code)
	})

	t.Run("unknown submission", func(t *testing.T) {
		_, err := fx.svc.UpdateFields(ctx, UpdateFieldsInput{
			SubmissionID: "sub_missing",
			Fields:       map[string]any{"company": "x"},
		})
		assert.ErrorIs(t, err, submission.ErrNotFound)
	})
}

func TestSubmitWithoutGatesCompletes(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	sub := fx.create(map[string]any{"company": "Initech", "email": "ap@initech.example"})

	got, err := fx.svc.Submit(ctx, SubmitInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	require.NoError(t, err)
	assert.Equal(t, submission.StateCompleted, got.State)

	assert.Equal(t, []event.Type{
		event.TypeSubmissionCreated,
		event.TypeValidationPassed,
		event.TypeSubmissionSubmitted,
		event.TypeSubmissionFinalized,
	}, fx.eventTypes(sub.ID))

	events := fx.events(sub.ID)
	finalized := events[len(events)-1]
	assert.Equal(t, "completed", finalized.GetPayloadString("outcome"))
	assert.Equal(t, submission.ActorSystem, finalized.Actor.Kind, "finalization is a system transition")

	state, err := event.Replay(events)
	require.NoError(t, err, "versions are gapless")
	assert.Equal(t, got.State, state, "stored state matches the replayed log")

	_, err = fx.svc.Submit(ctx, SubmitInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	assert.ErrorIs(t, err, submission.ErrInvalidTransition, "completed submissions cannot be resubmitted")
}

func TestSubmitValidationFailureParksInvalid(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	sub := fx.create(map[string]any{"company": "Initech"})

	_, err := fx.svc.Submit(ctx, SubmitInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"email"}, verr.Result.MissingFields)

	got, err := fx.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StateInvalid, got.State)

	events := fx.events(sub.ID)
	failed := events[len(events)-1]
	require.Equal(t, event.TypeValidationFailed, failed.Type)
	assert.Equal(t, []string{"email"}, failed.Payload["missingFields"])

	// A patch revises the submission back to draft; the next submit succeeds.
	patched, err := fx.svc.UpdateFields(ctx, UpdateFieldsInput{
		SubmissionID: sub.ID,
		Actor:        humanActor("user-1"),
		Fields:       map[string]any{"email": "ap@initech.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, submission.StateDraft, patched.State)

	final, err := fx.svc.Submit(ctx, SubmitInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	require.NoError(t, err)
	assert.Equal(t, submission.StateCompleted, final.State)
}

func TestCancel(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	sub := fx.create(nil)

	got, err := fx.svc.Cancel(ctx, CancelInput{SubmissionID: sub.ID, Actor: humanActor("user-1"), Reason: "applicant withdrew"})
	require.NoError(t, err)
	assert.Equal(t, submission.StateCancelled, got.State)

	events := fx.events(sub.ID)
	last := events[len(events)-1]
	assert.Equal(t, event.TypeSubmissionCancelled, last.Type)
	assert.Equal(t, "applicant withdrew", last.GetPayloadString("reason"))

	_, err = fx.svc.Cancel(ctx, CancelInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	assert.ErrorIs(t, err, submission.ErrInvalidTransition, "cancel is not idempotent")
}

func TestExpire(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	t.Run("closes an open submission", func(t *testing.T) {
		sub := fx.create(nil)

		got, err := fx.svc.Expire(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, submission.StateExpired, got.State)
		assert.Contains(t, fx.eventTypes(sub.ID), event.TypeSubmissionExpired)

		// Later operations surface the expiry, not a validation error.
		_, err = fx.svc.UpdateFields(ctx, UpdateFieldsInput{
			SubmissionID: sub.ID,
			Fields:       map[string]any{"company": "late"},
		})
		assert.ErrorIs(t, err, submission.ErrExpired)

		// The record stays readable after expiry.
		readable, err := fx.svc.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, submission.StateExpired, readable.State)
	})

	t.Run("no-op on terminal submissions", func(t *testing.T) {
		sub := fx.create(nil)
		_, err := fx.svc.Cancel(ctx, CancelInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
		require.NoError(t, err)
		before := len(fx.events(sub.ID))

		got, err := fx.svc.Expire(ctx, sub.ID)
		require.NoError(t, err, "the sweeper may race a terminal transition")
		assert.Equal(t, submission.StateCancelled, got.State)
		assert.Len(t, fx.events(sub.ID), before, "no event for a no-op expiry")
	})
}

func TestResume(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	sub := fx.create(nil)

	t.Run("wrong token", func(t *testing.T) {
		_, err := fx.svc.Resume(ctx, ResumeInput{SubmissionID: sub.ID, Token: "guess", Actor: humanActor("user-1")})
		assert.ErrorIs(t, err, submission.ErrInvalidResumeToken)
	})

	t.Run("valid token reopens the session", func(t *testing.T) {
		got, err := fx.svc.Resume(ctx, ResumeInput{SubmissionID: sub.ID, Token: sub.ResumeToken, Actor: humanActor("user-1")})
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		assert.Contains(t, fx.eventTypes(sub.ID), event.TypeResumeUsed)
	})

	t.Run("expiry is only revealed to a valid token", func(t *testing.T) {
		_, err := fx.svc.Expire(ctx, sub.ID)
		require.NoError(t, err)

		_, err = fx.svc.Resume(ctx, ResumeInput{SubmissionID: sub.ID, Token: "guess", Actor: humanActor("user-1")})
		assert.ErrorIs(t, err, submission.ErrInvalidResumeToken, "token check comes before the expiry check")

		_, err = fx.svc.Resume(ctx, ResumeInput{SubmissionID: sub.ID, Token: sub.ResumeToken, Actor: humanActor("user-1")})
		assert.ErrorIs(t, err, submission.ErrExpired)
	})
}

func TestRotateResumeToken(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	sub := fx.create(nil)
	oldToken := sub.ResumeToken

	rotated, err := fx.svc.RotateResumeToken(ctx, RotateTokenInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	require.NoError(t, err)
	require.NotEqual(t, oldToken, rotated.ResumeToken)
	assert.Contains(t, fx.eventTypes(sub.ID), event.TypeResumeIssued)

	_, err = fx.svc.Resume(ctx, ResumeInput{SubmissionID: sub.ID, Token: oldToken, Actor: humanActor("user-1")})
	assert.ErrorIs(t, err, submission.ErrInvalidResumeToken, "the old token stops working immediately")

	_, err = fx.svc.Resume(ctx, ResumeInput{SubmissionID: sub.ID, Token: rotated.ResumeToken, Actor: humanActor("user-1")})
	require.NoError(t, err)

	_, err = fx.svc.Cancel(ctx, CancelInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	require.NoError(t, err)
	_, err = fx.svc.RotateResumeToken(ctx, RotateTokenInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	assert.ErrorIs(t, err, submission.ErrInvalidState, "terminal submissions do not rotate")
}

func TestUploadLifecycle(t *testing.T) {
	fx := newLifecycleFixture(t, &intake.Intake{
		ID:             "vendor-onboarding",
		Name:           "Vendor Onboarding",
		RequiredFields: []string{"company", "contract"},
	})
	ctx := context.Background()
	sub := fx.create(map[string]any{"company": "Initech"})

	ticket, err := fx.svc.RequestUpload(ctx, UploadRequestInput{
		SubmissionID: sub.ID,
		Actor:        humanActor("user-1"),
		Field:        "contract",
	})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, ticket.SubmissionID)
	assert.Equal(t, "contract", ticket.Field)
	assert.NotEmpty(t, ticket.UploadID)

	// Submitting before the upload lands parks the submission in invalid;
	// completing the upload revises it back to draft and binds the field.
	_, err = fx.svc.Submit(ctx, SubmitInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	assert.ErrorIs(t, err, ErrValidationFailed)

	got, err := fx.svc.CompleteUpload(ctx, UploadCompleteInput{
		SubmissionID: sub.ID,
		Actor:        humanActor("user-1"),
		UploadID:     ticket.UploadID,
		Ref:          "blob://uploads/contract.pdf",
		Size:         20480,
	})
	require.NoError(t, err)
	assert.Equal(t, submission.StateDraft, got.State)
	assert.Equal(t, "blob://uploads/contract.pdf", got.Fields["contract"])

	events := fx.events(sub.ID)
	completed := events[len(events)-1]
	require.Equal(t, event.TypeUploadCompleted, completed.Type)
	assert.Equal(t, ticket.UploadID, completed.GetPayloadString("uploadId"))
	assert.Equal(t, "contract", completed.GetPayloadString("field"))
	assert.Equal(t, int64(20480), completed.GetPayloadInt("size"))

	before := len(events)
	again, err := fx.svc.CompleteUpload(ctx, UploadCompleteInput{
		SubmissionID: sub.ID,
		Actor:        humanActor("user-1"),
		UploadID:     ticket.UploadID,
		Ref:          "blob://uploads/contract.pdf",
	})
	require.NoError(t, err, "completing the same upload twice is a no-op")
	assert.Equal(t, sub.ID, again.ID)
	assert.Len(t, fx.events(sub.ID), before)

	final, err := fx.svc.Submit(ctx, SubmitInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	require.NoError(t, err)
	assert.Equal(t, submission.StateCompleted, final.State)
}

func TestUploadGuards(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	sub := fx.create(nil)

	_, err := fx.svc.RequestUpload(ctx, UploadRequestInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field is required")

	_, err = fx.svc.CompleteUpload(ctx, UploadCompleteInput{SubmissionID: sub.ID, Actor: humanActor("user-1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploadId is required")

	_, err = fx.svc.CompleteUpload(ctx, UploadCompleteInput{
		SubmissionID: sub.ID,
		Actor:        humanActor("user-1"),
		UploadID:     "up_unknown",
		Ref:          "blob://x",
	})
	assert.ErrorIs(t, err, submission.ErrNotFound)

	ticket, err := fx.svc.RequestUpload(ctx, UploadRequestInput{SubmissionID: sub.ID, Actor: humanActor("user-1"), Field: "company"})
	require.NoError(t, err)

	_, err = fx.svc.CompleteUpload(ctx, UploadCompleteInput{
		SubmissionID: sub.ID,
		Actor:        humanActor("user-1"),
		UploadID:     ticket.UploadID,
		Field:        "email",
		Ref:          "blob://x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field mismatch")
}

func TestHistory(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	sub := fx.create(map[string]any{"company": "Initech"})

	_, err := fx.svc.UpdateFields(ctx, UpdateFieldsInput{
		SubmissionID: sub.ID,
		Actor:        humanActor("user-1"),
		Fields:       map[string]any{"email": "ap@initech.example"},
	})
	require.NoError(t, err)

	events, err := fx.svc.History(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for i, evt := range events {
		assert.Equal(t, int64(i+1), evt.Version)
	}

	_, err = fx.svc.History(ctx, "sub_missing")
	assert.ErrorIs(t, err, submission.ErrNotFound)
}

func TestListPagination(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	created := make(map[string]bool, 3)
	for i := 0; i < 3; i++ {
		sub := fx.create(map[string]any{"company": fmt.Sprintf("corp-%d", i)})
		created[sub.ID] = true
	}

	page, err := fx.svc.List(ctx, "vendor-onboarding", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := fx.svc.List(ctx, "vendor-onboarding", 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	all, err := fx.svc.List(ctx, "vendor-onboarding", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3, "limit zero falls back to the default page size")
	for _, sub := range all {
		assert.True(t, created[sub.ID])
	}

	_, err = fx.svc.List(ctx, "nonexistent", 10, 0)
	assert.ErrorIs(t, err, intake.ErrUnknownIntake)
}

func TestConcurrentPatchesKeepTheLogGapless(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	sub := fx.create(nil)

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := fx.svc.UpdateFields(ctx, UpdateFieldsInput{
				SubmissionID: sub.ID,
				Actor:        humanActor(fmt.Sprintf("user-%d", n)),
				Fields:       map[string]any{fmt.Sprintf("field-%d", n): n},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	events := fx.events(sub.ID)
	require.Len(t, events, writers+1)
	state, err := event.Replay(events)
	require.NoError(t, err, "concurrent writers must not fork or gap the log")
	assert.Equal(t, submission.StateDraft, state)

	got, err := fx.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers+1), got.Version)
	assert.Len(t, got.Fields, writers)
}
