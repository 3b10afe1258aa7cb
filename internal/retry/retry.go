// Package retry provides a small bounded-exponential-backoff policy shared
// by the store (SQLITE_BUSY) and the notification transports (SMTP).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes a bounded retry schedule. The zero value is not usable;
// use Default or construct explicitly.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Default matches the store and mailer schedules: 3 attempts, 100ms base,
// doubling between attempts.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do stops immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It returns
// nil on the first success, the unwrapped error immediately if fn returns a
// Permanent error or ctx is cancelled, and the last error once attempts are
// exhausted.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, lastErr)
}
