package webhook

import (
	"math"
	"time"

	"github.com/formbridge/formbridge/internal/domain/intake"
)

// RetryStrategy turns a destination's retry policy into concrete backoff
// decisions.
type RetryStrategy struct {
	policy intake.RetryPolicy
}

// NewRetryStrategy wraps a validated retry policy.
func NewRetryStrategy(policy intake.RetryPolicy) *RetryStrategy {
	return &RetryStrategy{policy: policy}
}

// Exhausted reports whether the attempt budget is spent.
func (s *RetryStrategy) Exhausted(attempts int) bool {
	return attempts >= s.policy.MaxAttempts
}

// Backoff returns the delay before the next attempt, given the number of
// failed attempts so far. Delays grow as initial * multiplier^(failures-1),
// capped at the policy maximum.
func (s *RetryStrategy) Backoff(failures int) time.Duration {
	if failures <= 1 {
		return s.policy.InitialDelay
	}

	exponent := float64(failures - 1)
	multiplier := math.Pow(s.policy.BackoffMultiplier, exponent)
	backoff := time.Duration(float64(s.policy.InitialDelay) * multiplier)

	if s.policy.MaxDelay > 0 && backoff > s.policy.MaxDelay {
		backoff = s.policy.MaxDelay
	}
	if backoff < 0 {
		// Overflow from large exponents.
		backoff = s.policy.MaxDelay
	}
	return backoff
}
