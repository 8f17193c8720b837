// Package retry provides a bounded, fixed-interval retry policy. The broker
// session wraps every call that can fail at the transport level in a Policy,
// so the retry behavior is testable independent of the call it wraps.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded retry loop: at most MaxAttempts calls with a
// fixed Interval pause between them. BeforeRetry, when set, runs before every
// attempt after the first; the session layer uses it to force a reconnect.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	BeforeRetry func(attempt int, err error)
}

// Do runs fn under the policy. It returns nil on the first success, the last
// error once attempts are exhausted, or the context error if ctx is canceled
// between attempts.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0

	var lastErr error

	operation := func() error {
		attempt++
		if attempt > 1 && p.BeforeRetry != nil {
			p.BeforeRetry(attempt, lastErr)
		}

		lastErr = fn()

		return lastErr
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(attempts-1)),
		ctx,
	)

	return backoff.Retry(operation, b)
}
