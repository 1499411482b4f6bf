package event

// Type identifies the type of lifecycle event. The taxonomy is closed:
// listeners may rely on IsValid rejecting anything outside this set.
type Type string

const (
	TypeSubmissionCreated   Type = "submission.created"
	TypeFieldUpdated        Type = "field.updated"
	TypeValidationPassed    Type = "validation.passed"
	TypeValidationFailed    Type = "validation.failed"
	TypeUploadRequested     Type = "upload.requested"
	TypeUploadCompleted     Type = "upload.completed"
	TypeSubmissionSubmitted Type = "submission.submitted"
	TypeReviewRequested     Type = "review.requested"
	TypeReviewApproved      Type = "review.approved"
	TypeReviewRejected      Type = "review.rejected"
	TypeReviewChanges       Type = "review.changes_requested"
	TypeDeliveryAttempted   Type = "delivery.attempted"
	TypeDeliverySucceeded   Type = "delivery.succeeded"
	TypeDeliveryFailed      Type = "delivery.failed"
	TypeSubmissionFinalized Type = "submission.finalized"
	TypeSubmissionCancelled Type = "submission.cancelled"
	TypeSubmissionExpired   Type = "submission.expired"
	TypeResumeIssued        Type = "resume.issued"
	TypeResumeUsed          Type = "resume.used"
)

// String returns the string representation of the event type.
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants.
func (t Type) IsValid() bool {
	switch t {
	case TypeSubmissionCreated,
		TypeFieldUpdated,
		TypeValidationPassed,
		TypeValidationFailed,
		TypeUploadRequested,
		TypeUploadCompleted,
		TypeSubmissionSubmitted,
		TypeReviewRequested,
		TypeReviewApproved,
		TypeReviewRejected,
		TypeReviewChanges,
		TypeDeliveryAttempted,
		TypeDeliverySucceeded,
		TypeDeliveryFailed,
		TypeSubmissionFinalized,
		TypeSubmissionCancelled,
		TypeSubmissionExpired,
		TypeResumeIssued,
		TypeResumeUsed:
		return true
	default:
		return false
	}
}

// IsTerminalOutcome reports whether this event type marks a submission
// reaching a terminal lifecycle outcome.
func (t Type) IsTerminalOutcome() bool {
	switch t {
	case TypeSubmissionFinalized, TypeReviewRejected, TypeSubmissionCancelled, TypeSubmissionExpired:
		return true
	default:
		return false
	}
}
