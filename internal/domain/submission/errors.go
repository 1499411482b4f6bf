package submission

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a submission identifier is unknown.
	ErrNotFound = errors.New("submission not found")

	// ErrExpired is returned when an operation targets an expired submission.
	// Distinct from ErrNotFound so callers can renew instead of re-creating,
	// without leaking whether an arbitrary identifier exists.
	ErrExpired = errors.New("submission expired")

	// ErrInvalidResumeToken is returned when the supplied resume token does not
	// match the stored one. Deliberately carries no detail about the mismatch.
	ErrInvalidResumeToken = errors.New("invalid resume token")

	// ErrInvalidState is the sentinel matched by InvalidStateError.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// InvalidStateError reports an operation attempted in a state that does not
// permit it, carrying the current and required states for caller diagnostics.
type InvalidStateError struct {
	Op       string
	Current  State
	Required []State
}

func (e *InvalidStateError) Error() string {
	if len(e.Required) == 0 {
		return fmt.Sprintf("%s: submission is %s", e.Op, e.Current)
	}
	required := make([]string, len(e.Required))
	for i, s := range e.Required {
		required[i] = s.String()
	}
	return fmt.Sprintf("%s: submission is %s, requires %s", e.Op, e.Current, strings.Join(required, " or "))
}

// Is makes InvalidStateError match errors.Is(err, ErrInvalidState).
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NewInvalidStateError builds an InvalidStateError for the given operation.
func NewInvalidStateError(op string, current State, required ...State) error {
	return &InvalidStateError{Op: op, Current: current, Required: required}
}
