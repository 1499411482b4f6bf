package port

import (
	"context"
	"time"

	"github.com/formbridge/formbridge/internal/domain/delivery"
	"github.com/formbridge/formbridge/internal/domain/event"
	"github.com/formbridge/formbridge/internal/domain/review"
	"github.com/formbridge/formbridge/internal/domain/submission"
)

// SubmissionRepository defines persistence operations for Submission
type SubmissionRepository interface {
	Create(ctx context.Context, sub *submission.Submission) error
	GetByID(ctx context.Context, id string) (*submission.Submission, error)
	Update(ctx context.Context, sub *submission.Submission) error
	ListByIntake(ctx context.Context, intakeID string, limit, offset int) ([]*submission.Submission, error)

	// ListInState returns submissions currently in the given state, used to
	// rebuild review timers after a restart. A limit <= 0 returns all.
	ListInState(ctx context.Context, state submission.State, limit int) ([]*submission.Submission, error)

	// ListExpired returns non-terminal submissions whose retention deadline
	// passed, for the expiry sweeper. A limit <= 0 returns all.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*submission.Submission, error)
}

// EventRepository persists the append-only lifecycle log. Append must fail
// on a (submission_id, version) collision so concurrent writers cannot fork
// the log; callers assign versions under the submission lock.
type EventRepository interface {
	Append(ctx context.Context, evt *event.Event) error
	ListBySubmission(ctx context.Context, submissionID string) ([]*event.Event, error)
	LatestVersion(ctx context.Context, submissionID string) (int64, error)
}

// DeliveryRepository defines persistence operations for webhook deliveries
// and their attempt history.
type DeliveryRepository interface {
	Create(ctx context.Context, d *delivery.Delivery) error
	GetByID(ctx context.Context, id string) (*delivery.Delivery, error)
	Update(ctx context.Context, d *delivery.Delivery) error

	// GetByDedupeKey returns the existing delivery for the triple, or
	// (nil, nil) when none exists yet.
	GetByDedupeKey(ctx context.Context, submissionID, url, eventID string) (*delivery.Delivery, error)

	ListBySubmission(ctx context.Context, submissionID string) ([]*delivery.Delivery, error)

	// ListScheduled returns pending deliveries with a next attempt time,
	// due or future, ordered soonest first, used to rebuild timers after a
	// restart. A limit <= 0 returns all of them.
	ListScheduled(ctx context.Context, limit int) ([]*delivery.Delivery, error)

	AppendAttempt(ctx context.Context, att *delivery.Attempt) error
	ListAttempts(ctx context.Context, deliveryID string) ([]*delivery.Attempt, error)
}

// DecisionRepository defines persistence operations for reviewer decisions.
type DecisionRepository interface {
	Create(ctx context.Context, d *review.Decision) error
	ListBySubmission(ctx context.Context, submissionID string) ([]*review.Decision, error)
	ListByGate(ctx context.Context, submissionID, gate string, round int) ([]*review.Decision, error)

	// GetByReviewer returns the reviewer's existing decision on the gate in
	// the given round, or (nil, nil) when the reviewer has not decided yet.
	GetByReviewer(ctx context.Context, submissionID, gate string, round int, reviewerID string) (*review.Decision, error)
}

// IdempotencyRepository maps creation idempotency keys to submission IDs.
type IdempotencyRepository interface {
	// PutIfAbsent records key -> submissionID when the key is new and
	// returns (submissionID, true). When the key already exists it returns
	// the previously stored ID and false, regardless of the candidate.
	// The check-and-set is atomic.
	PutIfAbsent(ctx context.Context, intakeID, key, submissionID string) (string, bool, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
