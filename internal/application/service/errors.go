package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/formbridge/formbridge/internal/application/port"
)

// ErrValidationFailed marks a submit rejected by the validator. Use
// errors.As with *ValidationError to read the field-level details.
var ErrValidationFailed = errors.New("validation failed")

// ErrDuplicateDecision is returned when a reviewer repeats a decision on a
// gate they already decided. The repeat is ignored, never double counted.
var ErrDuplicateDecision = errors.New("reviewer already decided this gate")

// ErrNotAssignedReviewer is returned when the deciding actor is not among
// the gate's reviewers.
var ErrNotAssignedReviewer = errors.New("actor is not a reviewer for this gate")

// ValidationError carries the validator verdict for a rejected submit.
type ValidationError struct {
	Result *port.ValidationResult
}

func (e *ValidationError) Error() string {
	if e.Result == nil {
		return "validation failed"
	}
	parts := make([]string, 0, 2)
	if len(e.Result.MissingFields) > 0 {
		parts = append(parts, fmt.Sprintf("missing fields: %s", strings.Join(e.Result.MissingFields, ", ")))
	}
	if n := len(e.Result.Issues); n > 0 {
		parts = append(parts, fmt.Sprintf("%d field issue(s)", n))
	}
	if len(parts) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}
