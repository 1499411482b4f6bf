package event

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/formbridge/formbridge/internal/domain/submission"
)

// Event is an immutable fact about a submission. Events are write-once and
// never reordered; Version is assigned by the event log at append time and is
// strictly increasing per submission with no gaps.
type Event struct {
	ID           string           `json:"eventId"`
	SubmissionID string           `json:"submissionId"`
	Type         Type             `json:"type"`
	Timestamp    time.Time        `json:"ts"`
	Actor        submission.Actor `json:"actor"`
	State        submission.State `json:"state"`
	Version      int64            `json:"version"`
	Payload      map[string]any   `json:"payload,omitempty"`
}

// New creates a lifecycle event with an auto-generated ID and timestamp.
// Version stays zero until the event log appends it.
func New(eventType Type, submissionID string, actor submission.Actor, state submission.State, payload map[string]any) *Event {
	return &Event{
		ID:           generateID(),
		SubmissionID: submissionID,
		Type:         eventType,
		Timestamp:    time.Now(),
		Actor:        actor,
		State:        state,
		Payload:      payload,
	}
}

// WithPayload returns a copy of the event with an added payload entry.
// Events are immutable, so the receiver is never mutated.
func (e *Event) WithPayload(key string, value any) *Event {
	newPayload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}

// GetPayloadString retrieves a string value from the payload.
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload.
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadBool retrieves a bool value from the payload.
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

// Replay folds an ordered event history into the submission state it
// produces, verifying the version sequence is gapless and starts at 1. The
// stored submission state must always equal the replayed state.
func Replay(events []*Event) (submission.State, error) {
	if len(events) == 0 {
		return "", fmt.Errorf("replay: empty event history")
	}
	for i, evt := range events {
		want := int64(i + 1)
		if evt.Version != want {
			return "", fmt.Errorf("replay: version gap at %s: got %d, want %d", evt.ID, evt.Version, want)
		}
	}
	return events[len(events)-1].State, nil
}

// generateID creates a unique ID using timestamp and random bytes
func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
