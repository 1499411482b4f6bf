package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/formbridge/formbridge/internal/domain/event"
	"github.com/formbridge/formbridge/internal/domain/submission"
)

// Envelope is the delivery body: the triggering event plus a snapshot of
// the submission at enqueue time. The snapshot never includes the resume
// token. Rendered once, so retries resend identical bytes.
type Envelope struct {
	DeliveryID string                 `json:"deliveryId"`
	Event      *event.Event           `json:"event"`
	Submission *submission.Submission `json:"submission"`
}

// BuildPayload renders the envelope for one delivery.
func BuildPayload(deliveryID string, evt *event.Event, sub *submission.Submission) ([]byte, error) {
	body, err := json.Marshal(Envelope{
		DeliveryID: deliveryID,
		Event:      evt,
		Submission: sub.Redacted(),
	})
	if err != nil {
		return nil, fmt.Errorf("render delivery payload: %w", err)
	}
	return body, nil
}
