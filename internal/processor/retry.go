package processor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how many times a recoverably-failed item is
// re-dispatched, and how long it is held between attempts. The delay for
// attempt N is BaseDelay * Multiplier^(N-1).
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" env:"PROCESSOR_MAX_ATTEMPTS" env-default:"3"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"PROCESSOR_BASE_DELAY" env-default:"2s"`
	Multiplier  float64       `yaml:"multiplier" env:"PROCESSOR_BACKOFF_MULTIPLIER" env-default:"2.0"`
}

// Delay returns the hold duration before the given (1-indexed) retry
// attempt is re-dispatched.
func (policy RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(policy.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= policy.Multiplier
	}

	return time.Duration(delay)
}

// Exhausted reports whether an item with the provided retry count has no
// retry budget remaining.
func (policy RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= policy.MaxAttempts
}

// Backoff constructs the equivalent backoff.ExponentialBackOff for
// callers which drive their own retry loop against this policy.
func (policy RetryPolicy) Backoff() *backoff.ExponentialBackOff {
	off := backoff.NewExponentialBackOff()
	off.InitialInterval = policy.BaseDelay
	off.Multiplier = policy.Multiplier
	off.MaxElapsedTime = 0

	return off
}
