//go:build !integration

package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/infra/redis"
	"render-credit-platform/internal/usecase"
)

type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	err   error
	calls int
}

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return "", l.err
	}
	if _, ok := l.held[key]; ok {
		return "", redis.ErrLockHeld
	}
	l.held[key] = "tok"
	return "tok", nil
}

func (l *memLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func TestPeriodic_TickHonorsLock(t *testing.T) {
	log := zerolog.Nop()
	runs := 0
	locker := &memLocker{held: map[string]string{}}
	p := NewPeriodic("reconcile", time.Minute, func(ctx context.Context, now time.Time) error {
		runs++
		return nil
	}, &log).WithLock(locker, time.Minute)

	if !p.Tick(context.Background()) {
		t.Fatal("expected tick to run")
	}
	if len(locker.held) != 0 {
		t.Fatal("lock must be released after the tick")
	}

	locker.held["sched:reconcile"] = "other"
	if p.Tick(context.Background()) {
		t.Fatal("tick must be skipped while another replica holds the lock")
	}

	delete(locker.held, "sched:reconcile")
	locker.err = errors.New("redis down")
	if p.Tick(context.Background()) {
		t.Fatal("tick must be skipped when the lock store is unavailable")
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
}

func TestPeriodic_StartStop(t *testing.T) {
	log := zerolog.Nop()
	var mu sync.Mutex
	runs := 0
	p := NewPeriodic("fast", 5*time.Millisecond, func(ctx context.Context, now time.Time) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return errors.New("task errors do not stop the loop")
	}, &log)
	p.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if runs < 2 {
		t.Fatalf("runs = %d, want at least 2", runs)
	}
}

type fakeReconcile struct {
	stats    usecase.ReconcileStats
	err      error
	swept    int
	sweptRan bool
}

func (f *fakeReconcile) ReconcileDue(ctx context.Context, now time.Time) (usecase.ReconcileStats, error) {
	return f.stats, f.err
}
func (f *fakeReconcile) Poll(ctx context.Context, job *model.Job, now time.Time) (model.Observation, error) {
	return model.Observation{}, nil
}
func (f *fakeReconcile) SweepStaleCharged(ctx context.Context, now time.Time) (int, error) {
	f.sweptRan = true
	return f.swept, nil
}

func TestReconcileTask(t *testing.T) {
	log := zerolog.Nop()
	uc := &fakeReconcile{stats: usecase.ReconcileStats{Due: 3, Completed: 2, Rescheduled: 1}, swept: 1}
	if err := ReconcileTask(uc, &log)(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !uc.sweptRan {
		t.Fatal("stale sweep must follow the reconcile pass")
	}

	uc = &fakeReconcile{err: errors.New("db down")}
	if err := ReconcileTask(uc, &log)(context.Background(), time.Now()); err == nil {
		t.Fatal("expected reconcile error")
	}
	if uc.sweptRan {
		t.Fatal("sweep must not run after a failed pass")
	}
}

type fakeBilling struct {
	usecase.BillingUseCase
	downgradeErr error
	graceRan     bool
	gaugesRan    bool
}

func (f *fakeBilling) ApplyDueDowngrades(ctx context.Context, now time.Time) (int, error) {
	return 0, f.downgradeErr
}
func (f *fakeBilling) ExpireGracePeriods(ctx context.Context, now time.Time) (int, error) {
	f.graceRan = true
	return 1, nil
}
func (f *fakeBilling) RefreshGauges(ctx context.Context) error {
	f.gaugesRan = true
	return nil
}

func TestBillingTask_RunsEveryStep(t *testing.T) {
	log := zerolog.Nop()
	uc := &fakeBilling{downgradeErr: errors.New("boom")}
	err := BillingTask(uc, &log)(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected the downgrade error to surface")
	}
	if !uc.graceRan || !uc.gaugesRan {
		t.Fatal("a failed step must not skip the others")
	}
}
