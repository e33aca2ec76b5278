package pipeline

import (
	"context"
	"math/rand"
	"time"

	"clipforge/apierr"
)

type BackoffOptions struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultBackoff() BackoffOptions {
	return BackoffOptions{Retries: 5, BaseDelay: time.Second, MaxDelay: 20 * time.Second}
}

// WithBackoff runs task, retrying with exponential backoff plus jitter while
// the failure is a rate limit. Any other error, or exhausted retries,
// propagates immediately. This absorbs 429s only; 5xx and transport errors
// are not its business.
func WithBackoff[T any](ctx context.Context, opts BackoffOptions, task func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := task()
		if err == nil {
			return result, nil
		}
		if !apierr.IsRateLimited(err) || attempt >= opts.Retries {
			return zero, err
		}

		delay := opts.BaseDelay << attempt
		jitter := time.Duration(rand.Intn(250)) * time.Millisecond
		delay += jitter
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// WithQuotaFallback runs primary and switches to fallback once if the
// failure signature is quota exhaustion or a 429. The primary is not
// retried; its allowance is treated as spent for this call either way.
// Any other failure propagates without falling back.
func WithQuotaFallback[T any](primary, fallback func() (T, error)) (T, error) {
	result, err := primary()
	if err == nil {
		return result, nil
	}
	if apierr.IsQuotaExhausted(err) || apierr.IsRateLimited(err) {
		return fallback()
	}
	var zero T
	return zero, err
}
