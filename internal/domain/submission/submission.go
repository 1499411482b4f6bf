package submission

import "time"

// Submission represents one form-filling session against an intake.
// The stored State is a cache of replaying the submission's events in
// version order; the two must never diverge.
type Submission struct {
	ID          string `json:"submissionId"`
	IntakeID    string `json:"intakeId"`
	State       State  `json:"state"`
	ResumeToken string `json:"resumeToken,omitempty"`

	// Fields maps dotted field paths to their latest value (last write wins
	// per path). FieldAttribution records which actor last wrote each path.
	Fields           map[string]any   `json:"fields"`
	FieldAttribution map[string]Actor `json:"fieldAttribution,omitempty"`

	// IdempotencyKey is the caller-supplied creation key, empty when the
	// caller did not send one.
	IdempotencyKey string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedBy Actor     `json:"createdBy"`
	UpdatedBy Actor     `json:"updatedBy"`

	// ExpiresAt is the retention deadline computed from the intake TTL at
	// creation time. Nil when the intake keeps submissions forever.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	// Version is the version of the last appended event, zero before the
	// creation event lands. The event log owns the sequence; this is a cache.
	Version int64 `json:"version"`
}

// New allocates a draft submission with a fresh resume token. The creation
// event is appended by the manager, not here.
func New(id, intakeID string, createdBy Actor, now time.Time) *Submission {
	return &Submission{
		ID:               id,
		IntakeID:         intakeID,
		State:            StateDraft,
		ResumeToken:      NewResumeToken(),
		Fields:           make(map[string]any),
		FieldAttribution: make(map[string]Actor),
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        createdBy,
		UpdatedBy:        createdBy,
	}
}

// SetField records a field value and its attribution.
func (s *Submission) SetField(path string, value any, actor Actor) {
	if s.Fields == nil {
		s.Fields = make(map[string]any)
	}
	if s.FieldAttribution == nil {
		s.FieldAttribution = make(map[string]Actor)
	}
	s.Fields[path] = value
	s.FieldAttribution[path] = actor
}

// Clone returns a deep copy safe to hand to listeners and serializers while
// the original keeps mutating under the submission's lock.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Fields = make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		cp.Fields[k] = v
	}
	cp.FieldAttribution = make(map[string]Actor, len(s.FieldAttribution))
	for k, v := range s.FieldAttribution {
		cp.FieldAttribution[k] = v
	}
	if s.ExpiresAt != nil {
		at := *s.ExpiresAt
		cp.ExpiresAt = &at
	}
	return &cp
}

// Redacted returns a copy with the resume token blanked, for audit trails
// and delivery payloads where the secret must not travel.
func (s *Submission) Redacted() *Submission {
	cp := s.Clone()
	cp.ResumeToken = ""
	return cp
}
