// Package retry provides bounded exponential backoff with jitter for
// reconnect and transient-failure loops.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a bounded retry schedule.
type Policy struct {
	// MaxAttempts caps how many times Do runs the operation. Zero or
	// negative means a single attempt.
	MaxAttempts int

	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration

	// MaxDelay is the ceiling no computed delay exceeds.
	MaxDelay time.Duration

	// Factor is the exponential growth factor between attempts.
	Factor float64

	// Jitter is the fraction of the delay added as random jitter, e.g.
	// 0.25 widens each delay by up to 25%.
	Jitter float64

	// Retryable, when set, decides whether an error is worth retrying.
	// A nil Retryable retries every error.
	Retryable func(error) bool
}

// Default is the schedule for ordinary transient failures.
func Default() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Jitter:       0.25,
	}
}

// Network is the schedule for connection establishment, with a higher
// ceiling and more attempts.
func Network() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     60 * time.Second,
		Factor:       2.0,
		Jitter:       0.25,
	}
}

// normalized returns the policy with invalid fields replaced so delay
// computation cannot misbehave.
func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Factor <= 1.0 {
		p.Factor = 2.0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the wait before retry number attempt (0 = first retry).
// The result never exceeds MaxDelay regardless of attempt or jitter.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.InitialDelay)
	ceiling := float64(p.MaxDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
		if d >= ceiling {
			d = ceiling
			break
		}
	}

	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
		if d > ceiling {
			d = ceiling
		}
	}

	return time.Duration(d)
}

// Do runs fn until it succeeds, attempts are exhausted, the error is not
// retryable, or ctx is done. The last error is returned on exhaustion.
func Do(ctx context.Context, p Policy, fn func() error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == p.MaxAttempts-1 {
			break
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}
