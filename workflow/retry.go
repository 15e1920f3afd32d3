package workflow

import (
	"math"
	"math/rand"
	"time"
)

// Backoff determines how long to delay a step that has failed n times.
type Backoff interface {
	Delay(n int) time.Duration
}

// ExponentialBackoff doubles the delay with each failure, caps it at Max and
// optionally spreads retries with random jitter.
type ExponentialBackoff struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the time to delay a step that has failed on the n'th attempt.
func (p ExponentialBackoff) Delay(n int) time.Duration {
	s := math.Pow(2, float64(n)) * p.Min.Seconds()

	if s > p.Max.Seconds() {
		s = p.Max.Seconds()
	}

	s *= 1 + (rand.Float64() * p.Jitter)

	return time.Duration(
		s * float64(time.Second),
	)
}

// ConstantBackoff delays every retry by the same interval.
type ConstantBackoff struct {
	Interval time.Duration
}

// Delay returns the fixed retry interval.
func (p ConstantBackoff) Delay(int) time.Duration { return p.Interval }

// RetryPolicy bounds step retries. A step attempt that fails is retried after
// the backoff delay until MaxAttempts is reached; exhaustion fails the run.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     Backoff
}

// DefaultRetryPolicy mirrors the conventional platform default: a handful of
// attempts with second-scale exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff: ExponentialBackoff{
		Min:    time.Second,
		Max:    time.Minute,
		Jitter: 0.25,
	},
}
