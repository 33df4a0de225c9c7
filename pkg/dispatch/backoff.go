package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default backoff configuration values.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
)

// retryBackoff spaces the attempts for one failing batch: doubling from
// initial up to max, each interval randomized by ±20%.
type retryBackoff struct {
	exp *backoff.ExponentialBackOff
}

func newRetryBackoff(initial, max time.Duration) *retryBackoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max < initial {
		max = initial
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         max,
	}
	exp.Reset()
	return &retryBackoff{exp: exp}
}

// Next returns the wait before the next attempt.
func (b *retryBackoff) Next() time.Duration {
	return b.exp.NextBackOff()
}

// Reset starts over from the initial interval.
func (b *retryBackoff) Reset() {
	b.exp.Reset()
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
