package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/formbridge/formbridge/internal/domain/event"
)

// EventRepo implements port.EventRepository in memory. It enforces the
// same (submission, version) uniqueness the sqlite schema does.
type EventRepo struct {
	mu           sync.RWMutex
	bySubmission map[string][]*event.Event
}

// NewEventRepo creates an empty event store.
func NewEventRepo() *EventRepo {
	return &EventRepo{bySubmission: make(map[string][]*event.Event)}
}

func (r *EventRepo) Append(_ context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.bySubmission[evt.SubmissionID] {
		if existing.Version == evt.Version {
			return fmt.Errorf("event version %d already exists for submission %s", evt.Version, evt.SubmissionID)
		}
	}
	r.bySubmission[evt.SubmissionID] = append(r.bySubmission[evt.SubmissionID], evt.Clone())
	return nil
}

func (r *EventRepo) ListBySubmission(_ context.Context, submissionID string) ([]*event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.bySubmission[submissionID]
	out := make([]*event.Event, len(events))
	for i, evt := range events {
		out[i] = evt.Clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *EventRepo) LatestVersion(_ context.Context, submissionID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest int64
	for _, evt := range r.bySubmission[submissionID] {
		if evt.Version > latest {
			latest = evt.Version
		}
	}
	return latest, nil
}
