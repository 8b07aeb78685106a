package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is wrapped by Do when every attempt failed with a
// retryable error.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryAfterer is implemented by errors that carry a server-suggested delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps every individual wait; zero means uncapped.
	MaxDelay time.Duration
	// Retryable decides whether a failed attempt may be repeated. A nil
	// Retryable retries every error.
	Retryable func(error) bool
	Logger    *Logger

	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do executes fn with exponential back-off retry logic. fn receives the
// 1-based attempt number.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(attempt int) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return lastErr
		}
		if r.Retryable != nil && !r.Retryable(lastErr) {
			return lastErr
		}

		if attempt < maxAttempts {
			wait := r.capped(delay)
			var hinted RetryAfterer
			if errors.As(lastErr, &hinted) && hinted.RetryAfter() > wait {
				wait = r.capped(hinted.RetryAfter())
			}
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v - retrying in %v",
					operationName, attempt, maxAttempts, lastErr, wait)
			}
			if err := sleep(ctx, wait); err != nil {
				return fmt.Errorf("%s interrupted after %d attempts: %w", operationName, attempt, err)
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w: %w", operationName, maxAttempts, ErrRetriesExhausted, lastErr)
}

func (r *RetryConfig) capped(d time.Duration) time.Duration {
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
