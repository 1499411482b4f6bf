// Package memory provides in-memory repository implementations used by
// tests and by single-process deployments that do not need durability.
// Every method copies domain objects on the way in and out so callers
// never share mutable state with the store.
package memory

import "context"

// Stores bundles one of each repository over shared process memory.
type Stores struct {
	Submissions *SubmissionRepo
	Events      *EventRepo
	Deliveries  *DeliveryRepo
	Decisions   *DecisionRepo
	Idempotency *IdempotencyRepo
}

// NewStores allocates a fresh, empty bundle.
func NewStores() *Stores {
	return &Stores{
		Submissions: NewSubmissionRepo(),
		Events:      NewEventRepo(),
		Deliveries:  NewDeliveryRepo(),
		Decisions:   NewDecisionRepo(),
		Idempotency: NewIdempotencyRepo(),
	}
}

// WithTransaction satisfies port.TransactionManager. Memory stores have no
// transactional isolation; the callback simply runs.
func (s *Stores) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
