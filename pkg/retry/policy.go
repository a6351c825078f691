package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds an operation's retry behavior. MaxAttempts <= 0 retries
// indefinitely until the operation succeeds, returns a permanent error,
// or the context is cancelled.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
}

// Unbounded retries forever with a fixed interval between attempts.
func Unbounded(interval time.Duration) Policy {
	return Policy{Backoff: Fixed(interval)}
}

// Bounded retries up to maxAttempts with a fixed interval between attempts.
func Bounded(maxAttempts int, interval time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, Backoff: Fixed(interval)}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, the policy is exhausted, op returns a
// permanent error, or ctx is cancelled. It returns the last error observed.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}

		attempt++
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}
		if !p.sleep(ctx, attempt) {
			return ctx.Err()
		}
	}
}

func (p Policy) sleep(ctx context.Context, attempt int) bool {
	wait := p.Backoff.Next(attempt)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
