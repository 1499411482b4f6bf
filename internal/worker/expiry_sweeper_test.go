package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/formbridge/formbridge/internal/domain/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockExpiryStore for testing
type MockExpiryStore struct {
	mu        sync.Mutex
	overdue   []*submission.Submission
	listCalls int
	lastLimit int
	listErr   error
}

func (m *MockExpiryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	m.lastLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.overdue) > limit {
		return m.overdue[:limit], nil
	}
	return m.overdue, nil
}

// MockExpirer for testing
type MockExpirer struct {
	mu      sync.Mutex
	expired []string
	failFor map[string]error
}

func (m *MockExpirer) Expire(ctx context.Context, id string) (*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[id]; ok {
		return nil, err
	}
	m.expired = append(m.expired, id)
	return &submission.Submission{ID: id, State: submission.StateExpired}, nil
}

func (m *MockExpirer) expiredIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.expired...)
}

func overdueSubmission(id string) *submission.Submission {
	past := time.Now().Add(-time.Hour)
	return &submission.Submission{ID: id, State: submission.StateDraft, ExpiresAt: &past}
}

func TestSweepExpiresOverdueSubmissions(t *testing.T) {
	store := &MockExpiryStore{overdue: []*submission.Submission{
		overdueSubmission("sub_1"),
		overdueSubmission("sub_2"),
	}}
	expirer := &MockExpirer{}

	sweeper := NewExpirySweeper(store, expirer, time.Minute, 100, zap.NewNop())

	expired := sweeper.Sweep()
	assert.Equal(t, 2, expired)
	assert.Equal(t, []string{"sub_1", "sub_2"}, expirer.expiredIDs())
	assert.Equal(t, 100, store.lastLimit)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	store := &MockExpiryStore{overdue: []*submission.Submission{
		overdueSubmission("sub_1"),
		overdueSubmission("sub_2"),
		overdueSubmission("sub_3"),
	}}
	expirer := &MockExpirer{failFor: map[string]error{"sub_2": fmt.Errorf("locked")}}

	sweeper := NewExpirySweeper(store, expirer, time.Minute, 100, zap.NewNop())

	expired := sweeper.Sweep()
	assert.Equal(t, 2, expired)
	assert.Equal(t, []string{"sub_1", "sub_3"}, expirer.expiredIDs())
}

func TestSweepToleratesStoreError(t *testing.T) {
	store := &MockExpiryStore{listErr: fmt.Errorf("db down")}
	sweeper := NewExpirySweeper(store, &MockExpirer{}, time.Minute, 100, zap.NewNop())

	assert.Equal(t, 0, sweeper.Sweep())
}

func TestSweeperLifecycle(t *testing.T) {
	store := &MockExpiryStore{}
	sweeper := NewExpirySweeper(store, &MockExpirer{}, time.Hour, 10, zap.NewNop())

	require.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()), "second start must fail")

	// The loop sweeps once immediately on start.
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.listCalls >= 1
	}, time.Second, 10*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop() // idempotent
}

func TestSweeperDefaults(t *testing.T) {
	sweeper := NewExpirySweeper(&MockExpiryStore{}, &MockExpirer{}, 0, 0, zap.NewNop())
	assert.Equal(t, time.Minute, sweeper.sweepInterval)
	assert.Equal(t, 100, sweeper.batchSize)
	assert.Equal(t, "ExpirySweeper", sweeper.Name())
}
