package port

import (
	"context"

	"github.com/formbridge/formbridge/internal/domain/intake"
)

// ValidationMode selects how strictly fields are checked.
type ValidationMode int

const (
	// ValidatePartial checks only the fields present, for draft edits.
	ValidatePartial ValidationMode = iota
	// ValidateFull additionally requires every required field, for submit.
	ValidateFull
)

// ValidationIssue is one field-level problem found by the validator.
type ValidationIssue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the validator verdict for one field set.
type ValidationResult struct {
	Valid         bool              `json:"valid"`
	MissingFields []string          `json:"missingFields,omitempty"`
	Issues        []ValidationIssue `json:"issues,omitempty"`
}

// Validator checks submission fields against an intake definition.
// Implementations must be deterministic for the same inputs; transport or
// evaluation failures are returned as errors, not as invalid results.
type Validator interface {
	Validate(ctx context.Context, def *intake.Intake, fields map[string]any, mode ValidationMode) (*ValidationResult, error)
}

// ReviewRequest carries what a reviewer needs to act on a gate.
type ReviewRequest struct {
	SubmissionID string
	IntakeID     string
	IntakeName   string
	Gate         string
	Reviewers    []string
	Required     int
	Fields       map[string]any
}

// EscalationNotice is sent when a gate missed its escalation deadline.
type EscalationNotice struct {
	SubmissionID string
	IntakeID     string
	Gate         string
	Reviewers    []string
	Approvals    int
	Required     int
}

// ReviewerNotifier pushes review work to humans. Notification failures are
// logged and never block the lifecycle.
type ReviewerNotifier interface {
	NotifyReviewRequested(ctx context.Context, req *ReviewRequest) error
	NotifyEscalation(ctx context.Context, notice *EscalationNotice) error
}
