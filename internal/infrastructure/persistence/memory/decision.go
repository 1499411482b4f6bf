package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/formbridge/formbridge/internal/domain/review"
)

// DecisionRepo implements port.DecisionRepository in memory.
type DecisionRepo struct {
	mu           sync.RWMutex
	bySubmission map[string][]*review.Decision
}

// NewDecisionRepo creates an empty decision store.
func NewDecisionRepo() *DecisionRepo {
	return &DecisionRepo{bySubmission: make(map[string][]*review.Decision)}
}

func (r *DecisionRepo) Create(_ context.Context, d *review.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.bySubmission[d.SubmissionID] = append(r.bySubmission[d.SubmissionID], &cp)
	return nil
}

func (r *DecisionRepo) ListBySubmission(_ context.Context, submissionID string) ([]*review.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyMatching(submissionID, "", 0), nil
}

func (r *DecisionRepo) ListByGate(_ context.Context, submissionID, gate string, round int) ([]*review.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyMatching(submissionID, gate, round), nil
}

func (r *DecisionRepo) GetByReviewer(_ context.Context, submissionID, gate string, round int, reviewerID string) (*review.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.bySubmission[submissionID] {
		if d.Gate == gate && d.Round == round && d.Reviewer.ID == reviewerID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

// copyMatching returns decisions for the submission, filtered by gate and
// round when set. Caller must hold the read lock.
func (r *DecisionRepo) copyMatching(submissionID, gate string, round int) []*review.Decision {
	var out []*review.Decision
	for _, d := range r.bySubmission[submissionID] {
		if gate != "" && d.Gate != gate {
			continue
		}
		if round > 0 && d.Round != round {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
