package memory

import (
	"context"
	"sync"
)

// IdempotencyRepo implements port.IdempotencyRepository in memory. The
// mutex makes PutIfAbsent a single atomic check-and-set, matching the
// INSERT OR IGNORE semantics of the sqlite implementation.
type IdempotencyRepo struct {
	mu   sync.Mutex
	keys map[string]string
}

// NewIdempotencyRepo creates an empty idempotency key store.
func NewIdempotencyRepo() *IdempotencyRepo {
	return &IdempotencyRepo{keys: make(map[string]string)}
}

func (r *IdempotencyRepo) PutIfAbsent(_ context.Context, intakeID, key, submissionID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	composite := intakeID + "|" + key
	if existing, ok := r.keys[composite]; ok {
		return existing, false, nil
	}
	r.keys[composite] = submissionID
	return submissionID, true, nil
}
