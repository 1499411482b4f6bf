// Package delivery defines the webhook delivery records tracked per
// destination. One Delivery exists per (submission, destination URL,
// triggering event); each HTTP attempt against it is an Attempt row.
package delivery

import (
	"encoding/json"
	"fmt"
	"time"
)

// State tracks where a delivery sits in its retry ladder.
type State string

const (
	// StatePending means the delivery is scheduled and waiting for its
	// next attempt.
	StatePending State = "pending"
	// StateSucceeded means a destination acknowledged with 2xx.
	StateSucceeded State = "succeeded"
	// StateFailed means every allowed attempt failed.
	StateFailed State = "failed"
	// StateCancelled means the submission closed before the delivery
	// could complete, so remaining attempts were abandoned.
	StateCancelled State = "cancelled"
)

// IsFinal reports whether no further attempts will be made without an
// explicit manual retry.
func (s State) IsFinal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Delivery is one pending or settled webhook dispatch.
type Delivery struct {
	ID           string `json:"deliveryId"`
	SubmissionID string `json:"submissionId"`
	IntakeID     string `json:"intakeId"`

	// EventID and EventType identify the lifecycle event that triggered
	// this delivery. The pair (SubmissionID, URL, EventID) is unique.
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`

	URL   string `json:"url"`
	State State  `json:"state"`

	// Attempts counts completed attempts. NextAttemptAt is set while the
	// delivery is pending and cleared once it settles.
	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`

	LastStatusCode int    `json:"lastStatusCode,omitempty"`
	LastError      string `json:"lastError,omitempty"`

	// Payload is the signed request body, rendered once at enqueue time so
	// retries resend byte-identical content.
	Payload []byte `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Attempt is the audit record for one HTTP call.
type Attempt struct {
	DeliveryID string        `json:"deliveryId"`
	Number     int           `json:"number"`
	At         time.Time     `json:"at"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
}

// MarshalJSON reports the duration in milliseconds, the unit the attempt
// table stores.
func (a *Attempt) MarshalJSON() ([]byte, error) {
	type wire struct {
		DeliveryID string    `json:"deliveryId"`
		Number     int       `json:"number"`
		At         time.Time `json:"at"`
		StatusCode int       `json:"statusCode,omitempty"`
		Error      string    `json:"error,omitempty"`
		DurationMs int64     `json:"durationMs"`
	}
	return json.Marshal(wire{a.DeliveryID, a.Number, a.At, a.StatusCode, a.Error, a.Duration.Milliseconds()})
}

// New builds a pending delivery due immediately.
func New(id string, submissionID, intakeID, eventID, eventType, url string, payload []byte, now time.Time) *Delivery {
	due := now
	return &Delivery{
		ID:            id,
		SubmissionID:  submissionID,
		IntakeID:      intakeID,
		EventID:       eventID,
		EventType:     eventType,
		URL:           url,
		State:         StatePending,
		NextAttemptAt: &due,
		Payload:       payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy of the delivery.
func (d *Delivery) Clone() *Delivery {
	cp := *d
	if d.NextAttemptAt != nil {
		at := *d.NextAttemptAt
		cp.NextAttemptAt = &at
	}
	cp.Payload = append([]byte(nil), d.Payload...)
	return &cp
}

// DedupeKey is the uniqueness key preventing duplicate enqueues when the
// same event is processed twice.
func (d *Delivery) DedupeKey() string {
	return DedupeKey(d.SubmissionID, d.URL, d.EventID)
}

// DedupeKey builds the enqueue uniqueness key for a prospective delivery.
func DedupeKey(submissionID, url, eventID string) string {
	return fmt.Sprintf("%s|%s|%s", submissionID, url, eventID)
}

// Settle marks the delivery with a final state and clears the schedule.
func (d *Delivery) Settle(state State, now time.Time) {
	d.State = state
	d.NextAttemptAt = nil
	d.UpdatedAt = now
}

// Reschedule marks the delivery pending with the next attempt time.
func (d *Delivery) Reschedule(at time.Time, now time.Time) {
	d.State = StatePending
	d.NextAttemptAt = &at
	d.UpdatedAt = now
}

// ResetForRetry rewinds a failed delivery so a manual retry re-enters the
// backoff schedule from the first attempt.
func (d *Delivery) ResetForRetry(now time.Time) {
	d.Attempts = 0
	d.Reschedule(now, now)
}
