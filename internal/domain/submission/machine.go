package submission

import "context"

// StateMachine tracks a submission's lifecycle state and validates transitions.
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers that can be fired in the current state
	PermittedTriggers() []Trigger
}

// NewLifecycle creates a state machine configured with the intake submission
// lifecycle, positioned at the given state.
func NewLifecycle(initial State) StateMachine {
	builder := NewBuilder()

	builder.Configure(StateDraft).
		Permit(TriggerValidate, StateValidating).
		Permit(TriggerCancel, StateCancelled).
		Permit(TriggerExpire, StateExpired)

	// validating is transient: submit drives it to invalid or submitting
	// within the same operation, so it is never observed at rest.
	builder.Configure(StateValidating).
		Permit(TriggerValidationPass, StateSubmitting).
		Permit(TriggerValidationFail, StateInvalid)

	builder.Configure(StateInvalid).
		Permit(TriggerRevise, StateDraft).
		Permit(TriggerValidate, StateValidating).
		Permit(TriggerCancel, StateCancelled).
		Permit(TriggerExpire, StateExpired)

	builder.Configure(StateSubmitting).
		Permit(TriggerRequestReview, StateNeedsReview).
		Permit(TriggerFinalize, StateCompleted).
		Permit(TriggerCancel, StateCancelled).
		Permit(TriggerExpire, StateExpired)

	builder.Configure(StateNeedsReview).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerRequestChanges, StateDraft).
		Permit(TriggerCancel, StateCancelled).
		Permit(TriggerExpire, StateExpired)

	builder.Configure(StateApproved).
		Permit(TriggerFinalize, StateCompleted).
		Permit(TriggerCancel, StateCancelled).
		Permit(TriggerExpire, StateExpired)

	// completed, rejected, cancelled and expired are terminal - no outgoing transitions

	return builder.Build(initial)
}
