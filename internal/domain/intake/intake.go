// Package intake holds the per-intake configuration consumed by the
// lifecycle engine: approval gates, delivery destinations and retention.
// Schema definition and parsing live outside the engine; the only schema
// surface kept here is the list of required field paths handed to the
// validator collaborator.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownIntake is returned when an intake identifier is not registered.
var ErrUnknownIntake = errors.New("unknown intake")

// Intake describes one form destination definition.
type Intake struct {
	ID             string        `json:"id" mapstructure:"id"`
	Name           string        `json:"name" mapstructure:"name"`
	RequiredFields []string      `json:"requiredFields" mapstructure:"required_fields"`
	Gates          []ApprovalGate `json:"gates" mapstructure:"gates"`
	Destinations   []Destination `json:"destinations" mapstructure:"destinations"`

	// TTL bounds how long a submission may stay open before the expiry
	// sweeper closes it. Zero means submissions never expire.
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`
}

// ApprovalGate is a named checkpoint requiring a number of distinct
// approvals before a submission can finalize.
type ApprovalGate struct {
	Name              string        `json:"name" mapstructure:"name"`
	Reviewers         []string      `json:"reviewers" mapstructure:"reviewers"`
	RequiredApprovals int           `json:"requiredApprovals" mapstructure:"required_approvals"`
	EscalateAfter     time.Duration `json:"escalateAfter" mapstructure:"escalate_after"`

	// RejectReturnsToDraft softens rejection for this gate: instead of a
	// terminal reject the submission goes back to draft for revision.
	// Default (false) keeps the first rejection terminal.
	RejectReturnsToDraft bool `json:"rejectReturnsToDraft" mapstructure:"reject_returns_to_draft"`
}

// Destination is an external system a completed submission is delivered to.
type Destination struct {
	URL     string            `json:"url" mapstructure:"url"`
	Secret  string            `json:"-" mapstructure:"secret"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`

	// Events lists the event types that trigger a delivery to this
	// destination. Empty means submission.finalized only.
	Events []string `json:"events,omitempty" mapstructure:"events"`

	Retry RetryPolicy `json:"retryPolicy" mapstructure:"retry"`
}

// RetryPolicy bounds delivery retries for one destination.
type RetryPolicy struct {
	MaxAttempts       int           `json:"maxAttempts" mapstructure:"max_attempts"`
	InitialDelay      time.Duration `json:"initialDelayMs" mapstructure:"initial_delay"`
	BackoffMultiplier float64       `json:"backoffMultiplier" mapstructure:"backoff_multiplier"`
	MaxDelay          time.Duration `json:"maxDelayMs" mapstructure:"max_delay"`
}

// Validate rejects retry policies the delivery manager cannot honor.
// A malformed policy is an unrecoverable configuration error: enqueue
// fails fast instead of retrying.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("retry policy: initial_delay must not be negative, got %s", p.InitialDelay)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("retry policy: backoff_multiplier must be >= 1, got %g", p.BackoffMultiplier)
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("retry policy: max_delay %s is below initial_delay %s", p.MaxDelay, p.InitialDelay)
	}
	return nil
}

// Triggers reports whether the destination should receive deliveries for
// the given event type.
func (d Destination) Triggers(eventType string) bool {
	if len(d.Events) == 0 {
		return eventType == "submission.finalized"
	}
	for _, t := range d.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// Validate rejects destinations the delivery manager cannot dispatch to.
// Delivery bookkeeping events may not trigger deliveries: a destination
// subscribed to its own outcomes would feed back into itself.
func (d Destination) Validate() error {
	if d.URL == "" {
		return errors.New("destination: url is required")
	}
	if d.Secret == "" {
		return errors.New("destination: signing secret is required")
	}
	for _, t := range d.Events {
		if strings.HasPrefix(t, "delivery.") {
			return fmt.Errorf("destination: event %s cannot trigger deliveries", t)
		}
	}
	return d.Retry.Validate()
}

// Validate checks gate configuration at registration time.
func (g ApprovalGate) Validate() error {
	if g.Name == "" {
		return errors.New("gate: name is required")
	}
	if g.RequiredApprovals < 1 {
		return fmt.Errorf("gate %s: required_approvals must be >= 1, got %d", g.Name, g.RequiredApprovals)
	}
	if g.EscalateAfter < 0 {
		return fmt.Errorf("gate %s: escalate_after must not be negative", g.Name)
	}
	return nil
}

// Validate checks the whole intake definition. Gate names must be unique
// because decisions are recorded against them.
func (i *Intake) Validate() error {
	if i.ID == "" {
		return errors.New("intake: id is required")
	}
	seen := make(map[string]struct{}, len(i.Gates))
	for _, g := range i.Gates {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("intake %s: %w", i.ID, err)
		}
		if _, dup := seen[g.Name]; dup {
			return fmt.Errorf("intake %s: duplicate gate name %s", i.ID, g.Name)
		}
		seen[g.Name] = struct{}{}
	}
	for n, d := range i.Destinations {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("intake %s destination %d: %w", i.ID, n, err)
		}
	}
	return nil
}

// Gate looks up a gate by name.
func (i *Intake) Gate(name string) (ApprovalGate, bool) {
	for _, g := range i.Gates {
		if g.Name == name {
			return g, true
		}
	}
	return ApprovalGate{}, false
}
