// Package review holds reviewer decisions recorded against approval gates.
package review

import (
	"time"

	"github.com/formbridge/formbridge/internal/domain/submission"
)

// Kind is the verdict a reviewer records on a gate.
type Kind string

const (
	KindApprove        Kind = "approve"
	KindReject         Kind = "reject"
	KindRequestChanges Kind = "request_changes"
)

// IsValid reports whether k is a recognized verdict.
func (k Kind) IsValid() bool {
	switch k {
	case KindApprove, KindReject, KindRequestChanges:
		return true
	}
	return false
}

// Decision is one reviewer verdict on one gate. A reviewer contributes at
// most one counted decision per gate and round; repeats are ignored.
//
// Round is the review round the decision belongs to: a submission sent
// back to draft and resubmitted starts a new round, and only decisions of
// the current round count toward gate quorums. Earlier rounds stay on
// record for audit.
type Decision struct {
	ID           string           `json:"decisionId"`
	SubmissionID string           `json:"submissionId"`
	Gate         string           `json:"gate"`
	Round        int              `json:"round"`
	Reviewer     submission.Actor `json:"reviewer"`
	Kind         Kind             `json:"decision"`
	Comment      string           `json:"comment,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// GateProgress summarizes how far one gate has advanced.
type GateProgress struct {
	Gate      string `json:"gate"`
	Approvals int    `json:"approvals"`
	Required  int    `json:"required"`
	Satisfied bool   `json:"satisfied"`
	Escalated bool   `json:"escalated,omitempty"`
}
