//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/usecase"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := usecase.Backoff(time.Second, 30*time.Second, tc.n); got != tc.want {
			t.Errorf("Backoff(n=%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}

func TestRetry(t *testing.T) {
	var slept []time.Duration
	policy := usecase.RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	t.Run("retries retryable errors until success", func(t *testing.T) {
		slept = nil
		calls := 0
		attempts, err := usecase.Retry(context.Background(), policy, func(context.Context, int) error {
			calls++
			if calls < 3 {
				return domain.RetryableDispatch("p", 503, errors.New("unavailable"))
			}
			return nil
		})
		if err != nil || attempts != 3 {
			t.Fatalf("expected success on attempt 3, got %d, %v", attempts, err)
		}
		if len(slept) != 2 || slept[0] != 100*time.Millisecond || slept[1] != 200*time.Millisecond {
			t.Errorf("unexpected sleeps %v", slept)
		}
	})

	t.Run("fatal errors stop immediately", func(t *testing.T) {
		attempts, err := usecase.Retry(context.Background(), policy, func(context.Context, int) error {
			return domain.FatalDispatch("p", 401, errors.New("bad key"))
		})
		if attempts != 1 || !errors.Is(err, domain.ErrDispatchFatal) {
			t.Errorf("expected one fatal attempt, got %d, %v", attempts, err)
		}
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		slept = nil
		attempts, err := usecase.Retry(context.Background(), policy, func(context.Context, int) error {
			return domain.RetryableDispatch("p", 429, errors.New("slow down"))
		})
		if attempts != 4 || !domain.IsRetryable(err) {
			t.Errorf("expected 4 retryable attempts, got %d, %v", attempts, err)
		}
		if slept[len(slept)-1] != 250*time.Millisecond {
			t.Errorf("delay must be capped, got %v", slept)
		}
	})

	t.Run("jitter rewrites delays", func(t *testing.T) {
		slept = nil
		p := policy
		p.MaxAttempts = 2
		p.Jitter = func(time.Duration) time.Duration { return time.Millisecond }
		_, _ = usecase.Retry(context.Background(), p, func(context.Context, int) error {
			return domain.RetryableDispatch("p", 500, errors.New("boom"))
		})
		if len(slept) != 1 || slept[0] != time.Millisecond {
			t.Errorf("expected jittered delay, got %v", slept)
		}
	})
}
