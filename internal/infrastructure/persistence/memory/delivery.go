package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/formbridge/formbridge/internal/domain/delivery"
)

// DeliveryRepo implements port.DeliveryRepository in memory.
type DeliveryRepo struct {
	mu       sync.RWMutex
	byID     map[string]*delivery.Delivery
	byDedupe map[string]string
	attempts map[string][]*delivery.Attempt
}

// NewDeliveryRepo creates an empty delivery store.
func NewDeliveryRepo() *DeliveryRepo {
	return &DeliveryRepo{
		byID:     make(map[string]*delivery.Delivery),
		byDedupe: make(map[string]string),
		attempts: make(map[string][]*delivery.Attempt),
	}
}

func (r *DeliveryRepo) Create(_ context.Context, d *delivery.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[d.ID] = d.Clone()
	r.byDedupe[d.DedupeKey()] = d.ID
	return nil
}

func (r *DeliveryRepo) GetByID(_ context.Context, id string) (*delivery.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return d.Clone(), nil
}

func (r *DeliveryRepo) Update(_ context.Context, d *delivery.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[d.ID] = d.Clone()
	return nil
}

func (r *DeliveryRepo) GetByDedupeKey(_ context.Context, submissionID, url, eventID string) (*delivery.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byDedupe[delivery.DedupeKey(submissionID, url, eventID)]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *DeliveryRepo) ListBySubmission(_ context.Context, submissionID string) ([]*delivery.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*delivery.Delivery
	for _, d := range r.byID {
		if d.SubmissionID == submissionID {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *DeliveryRepo) ListScheduled(_ context.Context, limit int) ([]*delivery.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*delivery.Delivery
	for _, d := range r.byID {
		if d.State == delivery.StatePending && d.NextAttemptAt != nil {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(*out[j].NextAttemptAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *DeliveryRepo) AppendAttempt(_ context.Context, att *delivery.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *att
	r.attempts[att.DeliveryID] = append(r.attempts[att.DeliveryID], &cp)
	return nil
}

func (r *DeliveryRepo) ListAttempts(_ context.Context, deliveryID string) ([]*delivery.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attempts := r.attempts[deliveryID]
	out := make([]*delivery.Attempt, len(attempts))
	for i, att := range attempts {
		cp := *att
		out[i] = &cp
	}
	return out, nil
}
