// Package retry provides a bounded retry combinator for operations against
// hosts that materialize results asynchronously.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned (wrapped) when every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Schedule returns the delay to wait before the given zero-based attempt.
type Schedule func(attempt int) time.Duration

// Fixed returns a schedule with the same delay before every attempt.
func Fixed(d time.Duration) Schedule {
	return func(int) time.Duration { return d }
}

// Backoff returns a schedule that doubles the base delay on each attempt:
// base, 2*base, 4*base, ...
func Backoff(base time.Duration) Schedule {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
		}
		return d
	}
}

// Do runs op up to attempts times, sleeping per the schedule before each
// attempt. The first attempt therefore runs after sched(0), which callers
// typically keep short. Do stops early on success or context cancellation.
func Do(ctx context.Context, attempts int, sched Schedule, op func(ctx context.Context) error) error {
	if attempts < 1 {
		return fmt.Errorf("retry: attempts must be >= 1, got %d", attempts)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := sleepWithContext(ctx, sched(attempt)); err != nil {
			return err
		}

		if err := op(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
