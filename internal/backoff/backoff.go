// Package backoff implements a small retry helper with exponential backoff
// and jitter. It is pure apart from sleeping, so policies are testable
// without I/O.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes a bounded retry schedule.
type Policy struct {
	// MaxAttempts caps the total number of calls to the operation, including
	// the first one. Values below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt; each subsequent
	// delay doubles.
	BaseDelay time.Duration
	// MaxDelay caps a single delay. Zero means uncapped.
	MaxDelay time.Duration
	// JitterFraction randomizes each delay by ±fraction (0 to 1).
	JitterFraction float64
	// Retryable decides whether an error is worth another attempt.
	// A nil predicate retries every error.
	Retryable func(error) bool
}

// Delay returns the pause before attempt n (1-based; Delay(1) is the pause
// after the first failure). Jitter is applied around the exponential value.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.JitterFraction > 0 && d > 0 {
		span := float64(d) * p.JitterFraction
		d = time.Duration(float64(d) - span + 2*span*rand.Float64())
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Do runs op until it succeeds, exhausts MaxAttempts, hits a non-retryable
// error, or ctx is done. The last error is returned on failure.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
