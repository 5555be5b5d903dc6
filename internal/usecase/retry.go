package usecase

import (
	"context"
	"time"

	"render-credit-platform/internal/domain"
)

// RetryPolicy bounds an exponential backoff loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter rewrites each computed delay; nil keeps it as is.
	Jitter func(time.Duration) time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Backoff returns min(base * 2^n, max).
func Backoff(base, max time.Duration, n int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Only errors wrapping domain.ErrDispatchRetryable are retried.
// The number of attempts made is returned alongside the last error.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) error) (int, error) {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !domain.IsRetryable(err) || attempt == max {
			return attempt, err
		}
		d := Backoff(p.BaseDelay, p.MaxDelay, attempt-1)
		if p.Jitter != nil {
			d = p.Jitter(d)
		}
		if serr := sleep(ctx, d); serr != nil {
			return attempt, err
		}
	}
	return max, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
