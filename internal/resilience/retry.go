package resilience

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hackgods/voice-reservations/internal/apperr"
)

func (p Policy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), b)
}

// Retry runs op up to p.MaxAttempts times, waiting BaseDelay * 2^n between
// attempts (capped at MaxDelay). Only transient errors are retried; anything
// else is returned as soon as it happens.
func Retry(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	return retryNotify(ctx, p, op, nil)
}

func retryNotify(ctx context.Context, p Policy, op func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil || !apperr.IsTransient(err) {
			return err
		}
		if onRetry != nil && attempt < p.MaxAttempts {
			onRetry(attempt, err)
		}
		return retry.RetryableError(err)
	})
}
