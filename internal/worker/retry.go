package worker

import (
	"math"
	"time"
)

// RetryPolicy is the exponential backoff used by the teardown flush.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// teardownRetry is tuned for shutdown: a few quick attempts, then give up and checkpoint.
var teardownRetry = RetryPolicy{
	MaxRetries:    3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2,
}

// withDefaults fills unset fields from teardownRetry.
func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = teardownRetry.MaxRetries
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = teardownRetry.InitialDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = teardownRetry.MaxDelay
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = teardownRetry.BackoffFactor
	}
	return r
}

// NextDelay returns the wait before attempt+1, where attempt is 1-based.
// The delay grows by BackoffFactor and is clamped to MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	d := time.Duration(float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
