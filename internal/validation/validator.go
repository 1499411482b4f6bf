// Package validation implements the default field validator. It checks
// path syntax and required-field presence against the intake definition;
// richer schema validation can be plugged in behind the same port.
package validation

import (
	"context"
	"fmt"
	"regexp"

	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/intake"
)

// Field paths are dot-separated segments, e.g. "applicant.email".
var pathPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)*$`)

// FieldValidator validates submission fields against the intake's
// required-field list. It is deterministic and side-effect free.
type FieldValidator struct{}

// New creates the default validator.
func New() *FieldValidator {
	return &FieldValidator{}
}

// Validate checks the given fields. Partial mode checks only what is
// present, for draft edits; full mode additionally requires every field the
// intake declares required.
func (v *FieldValidator) Validate(_ context.Context, def *intake.Intake, fields map[string]any, mode port.ValidationMode) (*port.ValidationResult, error) {
	result := &port.ValidationResult{Valid: true}

	required := make(map[string]struct{}, len(def.RequiredFields))
	for _, path := range def.RequiredFields {
		required[path] = struct{}{}
	}

	for path, value := range fields {
		if !pathPattern.MatchString(path) {
			result.Issues = append(result.Issues, port.ValidationIssue{
				Path:    path,
				Code:    "invalid_path",
				Message: fmt.Sprintf("field path %q is not a dot-separated identifier", path),
			})
			continue
		}
		if _, isRequired := required[path]; isRequired && isEmpty(value) {
			result.Issues = append(result.Issues, port.ValidationIssue{
				Path:    path,
				Code:    "required_empty",
				Message: fmt.Sprintf("required field %q must not be empty", path),
			})
		}
	}

	if mode == port.ValidateFull {
		for _, path := range def.RequiredFields {
			value, present := fields[path]
			if !present || isEmpty(value) {
				result.MissingFields = append(result.MissingFields, path)
			}
		}
	}

	result.Valid = len(result.Issues) == 0 && len(result.MissingFields) == 0
	return result, nil
}

// isEmpty treats nil, empty strings, and empty composites as absent.
func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
