package reliability

import (
	"context"
	"errors"
	"time"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn up to attempts times, sleeping an exponential backoff between
// tries. It returns nil on the first success, the last error otherwise.
// Context cancellation aborts the wait and returns the context error.
func Do(ctx context.Context, attempts int, base, cap time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(ExponentialBackoff(attempt-1, base, cap))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
