// Package resilience provides the bounded exponential-backoff retry used
// around every fallible automation call.
package resilience

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrInvalidRetryOptions is returned before the operation runs when the
// options are malformed. It signals a programming error and is never retried.
var ErrInvalidRetryOptions = eris.New("invalid retry options")

// RetryOptions controls one call-site's retry budget.
type RetryOptions struct {
	// MaxRetries is the number of additional attempts after the first.
	// Zero means the operation runs exactly once. Negative is invalid.
	MaxRetries int

	// Backoff is the delay before the first retry. The delay doubles after
	// every failed attempt: Backoff * 2^attempt.
	Backoff time.Duration

	// Label names the call-site in logs.
	Label string

	// OnRetry is called after each failed attempt that will be retried,
	// before the backoff wait.
	OnRetry func(attempt int, err error)

	// sleep is swapped out by tests to observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// Validate checks the options without running anything.
func (o RetryOptions) Validate() error {
	if o.MaxRetries < 0 {
		return eris.Wrapf(ErrInvalidRetryOptions, "max retries must be >= 0 (got %d)", o.MaxRetries)
	}
	if o.Backoff <= 0 {
		return eris.Wrapf(ErrInvalidRetryOptions, "backoff must be > 0 (got %s)", o.Backoff)
	}
	return nil
}

// Retry runs fn until it succeeds or the retry budget is spent. Every error
// is retried. When all attempts fail the last error is returned exactly as
// fn produced it. Cancelling ctx during a backoff wait stops further
// attempts and returns the last error.
func Retry[T any](ctx context.Context, opts RetryOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := opts.Validate(); err != nil {
		return zero, err
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if attempt == opts.MaxRetries {
			break
		}

		zap.L().Debug("retry: attempt failed",
			zap.String("label", opts.Label),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", opts.MaxRetries+1),
			zap.Bool("transient", IsTransient(err)),
			zap.Error(err),
		)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err)
		}

		if sleep(ctx, BackoffFor(opts.Backoff, attempt)) != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// Do is Retry for operations without a result value.
func Do(ctx context.Context, opts RetryOptions, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// BackoffFor returns the wait before retry number attempt+1. It saturates
// at the largest Duration instead of overflowing.
func BackoffFor(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	if attempt >= 63 || base > math.MaxInt64>>uint(attempt) {
		return time.Duration(math.MaxInt64)
	}
	return base << uint(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
