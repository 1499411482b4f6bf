package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/formbridge/formbridge/internal/domain/intake"
)

func TestRetryStrategyBackoff(t *testing.T) {
	strategy := NewRetryStrategy(intake.RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          30 * time.Second,
	})

	tests := []struct {
		name     string
		failures int
		want     time.Duration
	}{
		{"first failure", 1, time.Second},
		{"second failure", 2, 2 * time.Second},
		{"third failure", 3, 4 * time.Second},
		{"zero failures clamps to initial", 0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strategy.Backoff(tt.failures))
		})
	}
}

func TestRetryStrategyBackoffCap(t *testing.T) {
	strategy := NewRetryStrategy(intake.RetryPolicy{
		MaxAttempts:       10,
		InitialDelay:      500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          2 * time.Second,
	})

	assert.Equal(t, 500*time.Millisecond, strategy.Backoff(1))
	assert.Equal(t, time.Second, strategy.Backoff(2))
	assert.Equal(t, 2*time.Second, strategy.Backoff(3))
	assert.Equal(t, 2*time.Second, strategy.Backoff(4), "ladder stays at the cap")
	assert.Equal(t, 2*time.Second, strategy.Backoff(500), "huge exponents stay at the cap")
}

func TestRetryStrategyExhausted(t *testing.T) {
	strategy := NewRetryStrategy(intake.RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
	})

	assert.False(t, strategy.Exhausted(0))
	assert.False(t, strategy.Exhausted(2))
	assert.True(t, strategy.Exhausted(3))
	assert.True(t, strategy.Exhausted(4))
}
