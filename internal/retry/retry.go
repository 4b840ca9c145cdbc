// Package retry retries outbound calls with exponential backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy bounds a retry loop. The zero value makes a single attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 = uncapped

	// Retryable classifies failures. Nil retries every error that is not
	// a *PermanentError.
	Retryable func(error) bool

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do runs fn until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx is done. Delays double per attempt with ±25% jitter.
// The last failure from fn is returned, unwrapped from PermanentError.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	delay := p.BaseDelay

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt >= attempts || ctx.Err() != nil || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}

		wait := jittered(delay)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := d / 4
	return d - jitter + time.Duration(randInt64n(int64(2*jitter+1)))
}

// randInt64n returns a random int64 in [0, n) using crypto/rand.
func randInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]) % uint64(n))
}
