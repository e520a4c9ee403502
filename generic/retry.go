package generic

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// RETRY - Fixed backoff, cancellable through the caller's context
// =============================================================================

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int

	// Backoff is the pause between a retryable failure and the next call.
	Backoff time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsTransient.
	Retryable func(error) bool

	// Sleep waits for the backoff. Defaults to SleepContext; tests replace it
	// to count pauses without waiting.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called after a retryable failure, before the pause.
	OnRetry func(attempt int, err error)
}

// Retry calls op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is used up. The last error is returned unchanged so callers can
// still classify it. Cancelling ctx aborts a pause in progress.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if !retryable(err) || attempt >= attempts {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if serr := sleep(ctx, p.Backoff); serr != nil {
			return zero, serr
		}
	}
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
