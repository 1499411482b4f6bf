package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/formbridge/formbridge/internal/domain/submission"
)

// SubmissionRepo implements port.SubmissionRepository in memory.
type SubmissionRepo struct {
	mu   sync.RWMutex
	byID map[string]*submission.Submission
}

// NewSubmissionRepo creates an empty submission store.
func NewSubmissionRepo() *SubmissionRepo {
	return &SubmissionRepo{byID: make(map[string]*submission.Submission)}
}

func (r *SubmissionRepo) Create(_ context.Context, sub *submission.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sub.ID] = sub.Clone()
	return nil
}

func (r *SubmissionRepo) GetByID(_ context.Context, id string) (*submission.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return sub.Clone(), nil
}

func (r *SubmissionRepo) Update(_ context.Context, sub *submission.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sub.ID] = sub.Clone()
	return nil
}

func (r *SubmissionRepo) ListByIntake(_ context.Context, intakeID string, limit, offset int) ([]*submission.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*submission.Submission, 0)
	for _, sub := range r.byID {
		if sub.IntakeID == intakeID {
			matched = append(matched, sub)
		}
	}
	// Newest first, matching the SQL repository.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*submission.Submission, len(matched))
	for i, sub := range matched {
		out[i] = sub.Clone()
	}
	return out, nil
}

func (r *SubmissionRepo) ListInState(_ context.Context, state submission.State, limit int) ([]*submission.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*submission.Submission
	for _, sub := range r.byID {
		if sub.State == state {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *SubmissionRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]*submission.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*submission.Submission
	for _, sub := range r.byID {
		if sub.State.IsTerminal() || sub.ExpiresAt == nil {
			continue
		}
		if !sub.ExpiresAt.After(now) {
			out = append(out, sub.Clone())
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
