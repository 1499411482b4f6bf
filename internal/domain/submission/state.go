package submission

// State represents a submission's position in the intake lifecycle.
type State string

const (
	StateDraft       State = "draft"
	StateValidating  State = "validating" // transient, never persisted at rest
	StateSubmitting  State = "submitting"
	StateNeedsReview State = "needs_review"
	StateApproved    State = "approved"
	StateRejected    State = "rejected"
	StateCompleted   State = "completed"
	StateInvalid     State = "invalid"
	StateCancelled   State = "cancelled"
	StateExpired     State = "expired"
)

var validStates = map[State]bool{
	StateDraft:       true,
	StateValidating:  true,
	StateSubmitting:  true,
	StateNeedsReview: true,
	StateApproved:    true,
	StateRejected:    true,
	StateCompleted:   true,
	StateInvalid:     true,
	StateCancelled:   true,
	StateExpired:     true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateRejected:  true,
	StateCancelled: true,
	StateExpired:   true,
}

// editableStates are the states in which field updates are accepted.
var editableStates = map[State]bool{
	StateDraft:   true,
	StateInvalid: true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed).
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsEditable returns true if field updates are accepted in this state.
func (s State) IsEditable() bool {
	return editableStates[s]
}

// IsValid returns true if the state is a valid lifecycle state.
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}
