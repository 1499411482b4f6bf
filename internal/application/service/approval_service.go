package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/formbridge/formbridge/internal/application/eventlog"
	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/event"
	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/domain/review"
	"github.com/formbridge/formbridge/internal/domain/submission"
	"github.com/formbridge/formbridge/internal/schedule"
)

// ErrGateNotActive is returned when a decision targets a gate that is not
// the one currently awaiting review.
var ErrGateNotActive = errors.New("gate is not awaiting review")

// DecisionInput records one reviewer verdict.
type DecisionInput struct {
	SubmissionID string
	Gate         string // optional; defaults to the active gate
	Reviewer     submission.Actor
	Decision     review.Kind
	Comment      string
}

// ApprovalService evaluates approval gates. Gates run in declaration
// order, every gate must be satisfied, and the first terminal rejection
// closes the submission.
type ApprovalService interface {
	RecordDecision(ctx context.Context, in DecisionInput) (*submission.Submission, error)
	Progress(ctx context.Context, submissionID string) ([]*review.GateProgress, error)
	Decisions(ctx context.Context, submissionID string) ([]*review.Decision, error)

	// HandleEvent is the event log listener: it arms escalation timers on
	// review.requested and tears them down when the submission settles.
	HandleEvent(ctx context.Context, evt *event.Event) error

	// Restore re-arms escalation timers for submissions already under
	// review, called once after startup.
	Restore(ctx context.Context) error

	Close()
}

type approvalServiceImpl struct {
	committer

	registry  *intake.Registry
	decisions port.DecisionRepository
	notifier  port.ReviewerNotifier
	scheduler schedule.Scheduler
	locks     *SubmissionLocks
	logger    Logger

	mu        sync.Mutex
	timers    map[string]schedule.Handle
	escalated map[string]bool
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	submissionRepo port.SubmissionRepository,
	log *eventlog.Log,
	registry *intake.Registry,
	decisions port.DecisionRepository,
	notifier port.ReviewerNotifier,
	scheduler schedule.Scheduler,
	txManager port.TransactionManager,
	locks *SubmissionLocks,
	logger Logger,
) ApprovalService {
	return &approvalServiceImpl{
		committer: committer{
			submissionRepo: submissionRepo,
			log:            log,
			txManager:      txManager,
			now:            time.Now,
		},
		registry:  registry,
		decisions: decisions,
		notifier:  notifier,
		scheduler: scheduler,
		locks:     locks,
		logger:    logger,
		timers:    make(map[string]schedule.Handle),
		escalated: make(map[string]bool),
	}
}

// RecordDecision counts one verdict against the active gate. Approvals
// from distinct reviewers accumulate until the gate's quorum; a satisfied
// gate activates the next one or, after the last gate, finalizes the
// submission. A terminal rejection closes it immediately.
func (s *approvalServiceImpl) RecordDecision(ctx context.Context, in DecisionInput) (*submission.Submission, error) {
	if !in.Decision.IsValid() {
		return nil, fmt.Errorf("record decision: unknown decision %q", in.Decision)
	}
	if in.Reviewer.ID == "" {
		return nil, errors.New("record decision: reviewer id is required")
	}

	unlock := s.locks.Lock(in.SubmissionID)
	defer unlock()

	sub, err := s.load(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := guardOpen("record_decision", sub); err != nil {
		return nil, err
	}
	if sub.State != submission.StateNeedsReview {
		return nil, submission.NewInvalidStateError("record_decision", sub.State, submission.StateNeedsReview)
	}

	def, err := s.registry.Get(sub.IntakeID)
	if err != nil {
		return nil, err
	}
	events, err := s.log.Events(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	round := reviewRound(events)

	gateIdx, gate, err := s.activeGate(ctx, def, sub.ID, round)
	if err != nil {
		return nil, err
	}
	if in.Gate != "" && in.Gate != gate.Name {
		return nil, fmt.Errorf("gate %s: %w", in.Gate, ErrGateNotActive)
	}
	if len(gate.Reviewers) > 0 && !containsReviewer(gate.Reviewers, in.Reviewer.ID) {
		return nil, fmt.Errorf("reviewer %s on gate %s: %w", in.Reviewer.ID, gate.Name, ErrNotAssignedReviewer)
	}

	existing, err := s.decisions.GetByReviewer(ctx, sub.ID, gate.Name, round, in.Reviewer.ID)
	if err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("reviewer %s on gate %s: %w", in.Reviewer.ID, gate.Name, ErrDuplicateDecision)
	}

	dec := &review.Decision{
		ID:           newID("dec"),
		SubmissionID: sub.ID,
		Gate:         gate.Name,
		Round:        round,
		Reviewer:     in.Reviewer,
		Kind:         in.Decision,
		Comment:      in.Comment,
		CreatedAt:    s.now(),
	}

	newEvents, err := s.applyDecision(ctx, sub, def, gateIdx, gate, dec, round)
	if err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.decisions.Create(txCtx, dec); err != nil {
			return fmt.Errorf("persist decision: %w", err)
		}
		return s.commit(txCtx, sub, false, newEvents...)
	})
	if err != nil {
		s.logger.Error("Failed to record decision", "error", err, "submission_id", sub.ID, "gate", gate.Name)
		return nil, err
	}

	s.logger.Info("Decision recorded",
		"submission_id", sub.ID,
		"gate", gate.Name,
		"decision", dec.Kind,
		"reviewer", in.Reviewer.ID,
		"state", sub.State,
	)
	return sub, nil
}

// applyDecision advances the submission per the verdict and returns the
// events to append. The decision itself is persisted by the caller.
func (s *approvalServiceImpl) applyDecision(
	ctx context.Context,
	sub *submission.Submission,
	def *intake.Intake,
	gateIdx int,
	gate intake.ApprovalGate,
	dec *review.Decision,
	round int,
) ([]*event.Event, error) {
	sub.UpdatedBy = dec.Reviewer

	switch dec.Kind {
	case review.KindApprove:
		counted, err := s.decisions.ListByGate(ctx, sub.ID, gate.Name, round)
		if err != nil {
			return nil, fmt.Errorf("count approvals: %w", err)
		}
		approvals := countApprovals(counted) + 1
		satisfied := approvals >= gate.RequiredApprovals

		if !satisfied {
			return []*event.Event{s.gateEvent(event.TypeReviewApproved, sub, gate.Name, map[string]any{
				"approvals": approvals,
				"required":  gate.RequiredApprovals,
				"satisfied": false,
			}, dec)}, nil
		}

		s.cancelTimer(sub.ID, gate.Name)

		if gateIdx+1 < len(def.Gates) {
			next := def.Gates[gateIdx+1]
			return []*event.Event{
				s.gateEvent(event.TypeReviewApproved, sub, gate.Name, map[string]any{
					"approvals": approvals,
					"required":  gate.RequiredApprovals,
					"satisfied": true,
				}, dec),
				reviewRequestedEvent(sub, def, next),
			}, nil
		}

		// Last gate satisfied: approved, then finalized in the same step.
		if err := advance(ctx, sub, submission.TriggerApprove); err != nil {
			return nil, err
		}
		approved := s.gateEvent(event.TypeReviewApproved, sub, gate.Name, map[string]any{
			"approvals": approvals,
			"required":  gate.RequiredApprovals,
			"satisfied": true,
		}, dec)
		if err := advance(ctx, sub, submission.TriggerFinalize); err != nil {
			return nil, err
		}
		finalized := event.New(event.TypeSubmissionFinalized, sub.ID, submission.SystemActor(), sub.State, map[string]any{
			"outcome": "completed",
		})
		return []*event.Event{approved, finalized}, nil

	case review.KindReject:
		s.cancelAllTimers(sub.ID)
		if gate.RejectReturnsToDraft {
			if err := advance(ctx, sub, submission.TriggerRequestChanges); err != nil {
				return nil, err
			}
			return []*event.Event{s.gateEvent(event.TypeReviewRejected, sub, gate.Name, map[string]any{
				"terminal": false,
			}, dec)}, nil
		}
		if err := advance(ctx, sub, submission.TriggerReject); err != nil {
			return nil, err
		}
		return []*event.Event{s.gateEvent(event.TypeReviewRejected, sub, gate.Name, map[string]any{
			"terminal": true,
		}, dec)}, nil

	case review.KindRequestChanges:
		s.cancelAllTimers(sub.ID)
		if err := advance(ctx, sub, submission.TriggerRequestChanges); err != nil {
			return nil, err
		}
		return []*event.Event{s.gateEvent(event.TypeReviewChanges, sub, gate.Name, nil, dec)}, nil
	}

	return nil, fmt.Errorf("record decision: unknown decision %q", dec.Kind)
}

// Progress reports each gate's approval count for the current round.
func (s *approvalServiceImpl) Progress(ctx context.Context, submissionID string) ([]*review.GateProgress, error) {
	sub, err := s.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	def, err := s.registry.Get(sub.IntakeID)
	if err != nil {
		return nil, err
	}
	events, err := s.log.Events(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	round := reviewRound(events)

	out := make([]*review.GateProgress, 0, len(def.Gates))
	for _, gate := range def.Gates {
		decs, err := s.decisions.ListByGate(ctx, sub.ID, gate.Name, round)
		if err != nil {
			return nil, err
		}
		approvals := countApprovals(decs)
		out = append(out, &review.GateProgress{
			Gate:      gate.Name,
			Approvals: approvals,
			Required:  gate.RequiredApprovals,
			Satisfied: approvals >= gate.RequiredApprovals,
			Escalated: s.wasEscalated(sub.ID, gate.Name),
		})
	}
	return out, nil
}

// Decisions returns every recorded decision, all rounds included.
func (s *approvalServiceImpl) Decisions(ctx context.Context, submissionID string) ([]*review.Decision, error) {
	if _, err := s.load(ctx, submissionID); err != nil {
		return nil, err
	}
	return s.decisions.ListBySubmission(ctx, submissionID)
}

// HandleEvent manages escalation timers from the event stream.
func (s *approvalServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	switch evt.Type {
	case event.TypeReviewRequested:
		return s.onReviewRequested(ctx, evt)
	case event.TypeReviewRejected,
		event.TypeReviewChanges,
		event.TypeSubmissionFinalized,
		event.TypeSubmissionCancelled,
		event.TypeSubmissionExpired:
		s.cancelAllTimers(evt.SubmissionID)
	}
	return nil
}

func (s *approvalServiceImpl) onReviewRequested(ctx context.Context, evt *event.Event) error {
	intakeID := evt.GetPayloadString("intakeId")
	gateName := evt.GetPayloadString("gate")
	def, err := s.registry.Get(intakeID)
	if err != nil {
		return fmt.Errorf("review requested for %s: %w", evt.SubmissionID, err)
	}
	gate, ok := def.Gate(gateName)
	if !ok {
		return fmt.Errorf("review requested for %s: unknown gate %q", evt.SubmissionID, gateName)
	}

	if gate.EscalateAfter > 0 {
		s.scheduleEscalation(evt.SubmissionID, def, gate, gate.EscalateAfter)
	}

	req := &port.ReviewRequest{
		SubmissionID: evt.SubmissionID,
		IntakeID:     def.ID,
		IntakeName:   def.Name,
		Gate:         gate.Name,
		Reviewers:    gate.Reviewers,
		Required:     gate.RequiredApprovals,
	}
	if sub, err := s.submissionRepo.GetByID(ctx, evt.SubmissionID); err == nil && sub != nil {
		req.Fields = sub.Fields
	}

	// Notification is best effort and must not block the operation that
	// emitted the event, so it runs as its own scheduled task. The listener
	// context dies with the triggering transaction; the task gets a fresh one.
	s.scheduler.AfterFunc(0, func() {
		if err := s.notifier.NotifyReviewRequested(context.Background(), req); err != nil {
			s.logger.Error("Failed to notify reviewers",
				"error", err,
				"submission_id", req.SubmissionID,
				"gate", req.Gate,
			)
		}
	})
	return nil
}

// Restore re-arms escalation timers for submissions under review, measuring
// the deadline from the latest review.requested event. Overdue gates
// escalate immediately.
func (s *approvalServiceImpl) Restore(ctx context.Context) error {
	subs, err := s.submissionRepo.ListInState(ctx, submission.StateNeedsReview, 0)
	if err != nil {
		return fmt.Errorf("restore review timers: %w", err)
	}
	for _, sub := range subs {
		def, err := s.registry.Get(sub.IntakeID)
		if err != nil {
			s.logger.Error("Skipping timer restore", "error", err, "submission_id", sub.ID)
			continue
		}
		events, err := s.log.Events(ctx, sub.ID)
		if err != nil {
			return err
		}
		round := reviewRound(events)
		_, gate, err := s.activeGate(ctx, def, sub.ID, round)
		if err != nil || gate.EscalateAfter <= 0 {
			continue
		}

		requestedAt := latestReviewRequest(events, gate.Name)
		if requestedAt.IsZero() {
			continue
		}
		delay := requestedAt.Add(gate.EscalateAfter).Sub(s.scheduler.Now())
		if delay < 0 {
			delay = 0
		}
		s.scheduleEscalation(sub.ID, def, gate, delay)
	}
	s.logger.Info("Review timers restored", "submission_count", len(subs))
	return nil
}

// Close cancels every pending escalation timer.
func (s *approvalServiceImpl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, handle := range s.timers {
		handle.Cancel()
		delete(s.timers, key)
	}
}

func (s *approvalServiceImpl) scheduleEscalation(submissionID string, def *intake.Intake, gate intake.ApprovalGate, delay time.Duration) {
	key := timerKey(submissionID, gate.Name)

	s.mu.Lock()
	if old, ok := s.timers[key]; ok {
		old.Cancel()
	}
	s.timers[key] = s.scheduler.AfterFunc(delay, func() {
		s.escalate(submissionID, def, gate)
	})
	s.mu.Unlock()
}

func (s *approvalServiceImpl) escalate(submissionID string, def *intake.Intake, gate intake.ApprovalGate) {
	key := timerKey(submissionID, gate.Name)
	s.mu.Lock()
	delete(s.timers, key)
	s.escalated[key] = true
	s.mu.Unlock()

	ctx := context.Background()
	sub, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil || sub == nil || sub.State != submission.StateNeedsReview {
		return
	}
	events, err := s.log.Events(ctx, submissionID)
	if err != nil {
		s.logger.Error("Escalation skipped", "error", err, "submission_id", submissionID)
		return
	}
	decs, err := s.decisions.ListByGate(ctx, submissionID, gate.Name, reviewRound(events))
	if err != nil {
		s.logger.Error("Escalation skipped", "error", err, "submission_id", submissionID)
		return
	}

	notice := &port.EscalationNotice{
		SubmissionID: submissionID,
		IntakeID:     def.ID,
		Gate:         gate.Name,
		Reviewers:    gate.Reviewers,
		Approvals:    countApprovals(decs),
		Required:     gate.RequiredApprovals,
	}
	if err := s.notifier.NotifyEscalation(ctx, notice); err != nil {
		s.logger.Error("Failed to send escalation", "error", err, "submission_id", submissionID, "gate", gate.Name)
		return
	}
	s.logger.Info("Review escalated", "submission_id", submissionID, "gate", gate.Name)
}

func (s *approvalServiceImpl) cancelTimer(submissionID, gate string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := timerKey(submissionID, gate)
	if handle, ok := s.timers[key]; ok {
		handle.Cancel()
		delete(s.timers, key)
	}
}

func (s *approvalServiceImpl) cancelAllTimers(submissionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := submissionID + "|"
	for key, handle := range s.timers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			handle.Cancel()
			delete(s.timers, key)
		}
	}
}

func (s *approvalServiceImpl) wasEscalated(submissionID, gate string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalated[timerKey(submissionID, gate)]
}

// activeGate returns the first gate of the round that has not reached its
// quorum yet.
func (s *approvalServiceImpl) activeGate(ctx context.Context, def *intake.Intake, submissionID string, round int) (int, intake.ApprovalGate, error) {
	for i, gate := range def.Gates {
		decs, err := s.decisions.ListByGate(ctx, submissionID, gate.Name, round)
		if err != nil {
			return 0, intake.ApprovalGate{}, fmt.Errorf("load gate decisions: %w", err)
		}
		if countApprovals(decs) < gate.RequiredApprovals {
			return i, gate, nil
		}
	}
	return 0, intake.ApprovalGate{}, fmt.Errorf("submission %s: %w", submissionID, ErrGateNotActive)
}

func (s *approvalServiceImpl) gateEvent(t event.Type, sub *submission.Submission, gate string, payload map[string]any, dec *review.Decision) *event.Event {
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	payload["gate"] = gate
	if dec.Comment != "" {
		payload["comment"] = dec.Comment
	}
	return event.New(t, sub.ID, dec.Reviewer, sub.State, payload)
}

func reviewRequestedEvent(sub *submission.Submission, def *intake.Intake, gate intake.ApprovalGate) *event.Event {
	return event.New(event.TypeReviewRequested, sub.ID, submission.SystemActor(), sub.State, map[string]any{
		"intakeId":  def.ID,
		"gate":      gate.Name,
		"reviewers": gate.Reviewers,
		"required":  gate.RequiredApprovals,
	})
}

func timerKey(submissionID, gate string) string {
	return submissionID + "|" + gate
}

func containsReviewer(reviewers []string, id string) bool {
	for _, r := range reviewers {
		if r == id {
			return true
		}
	}
	return false
}

func countApprovals(decs []*review.Decision) int {
	n := 0
	for _, d := range decs {
		if d.Kind == review.KindApprove {
			n++
		}
	}
	return n
}

// reviewRound counts how many times the submission reached review: one per
// submit that passed validation.
func reviewRound(events []*event.Event) int {
	round := 0
	for _, evt := range events {
		if evt.Type == event.TypeSubmissionSubmitted {
			round++
		}
	}
	return round
}

func latestReviewRequest(events []*event.Event, gate string) time.Time {
	var at time.Time
	for _, evt := range events {
		if evt.Type == event.TypeReviewRequested && evt.GetPayloadString("gate") == gate {
			at = evt.Timestamp
		}
	}
	return at
}
