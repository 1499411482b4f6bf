package submission

// Trigger represents an operation that can cause a state transition.
type Trigger string

const (
	TriggerValidate       Trigger = "VALIDATE"
	TriggerValidationPass Trigger = "VALIDATION_PASS"
	TriggerValidationFail Trigger = "VALIDATION_FAIL"
	TriggerRevise         Trigger = "REVISE"
	TriggerRequestReview  Trigger = "REQUEST_REVIEW"
	TriggerApprove        Trigger = "APPROVE"
	TriggerReject         Trigger = "REJECT"
	TriggerRequestChanges Trigger = "REQUEST_CHANGES"
	TriggerFinalize       Trigger = "FINALIZE"
	TriggerCancel         Trigger = "CANCEL"
	TriggerExpire         Trigger = "EXPIRE"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
