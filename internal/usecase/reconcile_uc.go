package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
	"render-credit-platform/internal/domain/ports/repository"
	"render-credit-platform/internal/infra/logging"
	"render-credit-platform/internal/infra/metrics"
	red "render-credit-platform/internal/infra/redis"
	"render-credit-platform/internal/infra/worker"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Due         int
	Completed   int
	Failed      int
	Expired     int
	Rescheduled int
	Skipped     int
	Errors      int
}

func (s *ReconcileStats) record(obs model.Observation, applied bool) {
	switch {
	case !applied:
		s.Skipped++
	case obs.State == model.ObservedSucceeded:
		s.Completed++
	case obs.State == model.ObservedFailed:
		s.Failed++
	case obs.State == model.ObservedExpired:
		s.Expired++
	}
}

// ReconcileUseCase is the polling fallback for jobs whose webhook never arrived.
type ReconcileUseCase interface {
	ReconcileDue(ctx context.Context, now time.Time) (ReconcileStats, error)
	// Poll checks one in-flight job and applies what the provider reports.
	Poll(ctx context.Context, job *model.Job, now time.Time) (model.Observation, error)
	// SweepStaleCharged fails and refunds jobs that were charged but never dispatched.
	SweepStaleCharged(ctx context.Context, now time.Time) (int, error)
}

// ReconcileSettings are the polling knobs.
type ReconcileSettings struct {
	MaxWait           time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	StaleChargedAfter time.Duration
	LockTTL           time.Duration
	BatchSize         int
	// Ceiling is the absolute in-flight lifetime per content type.
	Ceiling func(model.ContentType) time.Duration
}

type reconcileUC struct {
	jobs      repository.JobRepository
	providers adapter.ProviderRegistry
	lifecycle *Lifecycle
	pool      *worker.Pool
	locker    red.Locker
	cfg       ReconcileSettings
	tm        repository.TransactionManager
	log       *zerolog.Logger
}

func NewReconcileUseCase(
	jobs repository.JobRepository,
	providers adapter.ProviderRegistry,
	lifecycle *Lifecycle,
	pool *worker.Pool,
	locker red.Locker,
	cfg ReconcileSettings,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *reconcileUC {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.Ceiling == nil {
		cfg.Ceiling = func(model.ContentType) time.Duration { return 30 * time.Minute }
	}
	l := logger.With().Str("component", "ReconcileUC").Logger()
	return &reconcileUC{
		jobs:      jobs,
		providers: providers,
		lifecycle: lifecycle,
		pool:      pool,
		locker:    locker,
		cfg:       cfg,
		tm:        tm,
		log:       &l,
	}
}

func (u *reconcileUC) ReconcileDue(ctx context.Context, now time.Time) (ReconcileStats, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.ReconcileDue")()
	var stats ReconcileStats
	due, err := u.jobs.ListDuePolls(ctx, repository.NoTX, now, u.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("list due polls: %w", err)
	}
	stats.Due = len(due)
	if len(due) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	tasks := make([]worker.Task, 0, len(due))
	for _, job := range due {
		job := job
		tasks = append(tasks, func(ctx context.Context) error {
			obs, applied, err := u.pollLocked(ctx, job, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, red.ErrLockHeld):
				stats.Skipped++
				return nil
			case err != nil:
				stats.Errors++
				return err
			case obs.Terminal():
				stats.record(obs, applied)
			default:
				stats.Rescheduled++
			}
			return nil
		})
	}
	u.log.Debug().Int("due", len(due)).Int("workers", u.pool.Size()).Msg("polling due jobs")
	u.pool.RunBatch(ctx, tasks)

	metrics.IncReconcile("polled", stats.Due)
	metrics.IncReconcile("completed", stats.Completed)
	metrics.IncReconcile("failed", stats.Failed)
	metrics.IncReconcile("expired", stats.Expired)
	metrics.IncReconcile("skipped", stats.Skipped)
	u.log.Debug().Int("due", stats.Due).Int("completed", stats.Completed).Int("failed", stats.Failed).
		Int("expired", stats.Expired).Int("errors", stats.Errors).Msg("reconcile pass")
	return stats, nil
}

func (u *reconcileUC) pollLocked(ctx context.Context, job *model.Job, now time.Time) (model.Observation, bool, error) {
	if u.locker != nil {
		key := "lock:poll:" + job.ID
		token, err := u.locker.TryLock(ctx, key, u.cfg.LockTTL)
		if err != nil {
			return model.Observation{}, false, err
		}
		defer func() {
			if err := u.locker.Unlock(context.Background(), key, token); err != nil {
				u.log.Warn().Err(err).Str("job_id", job.ID).Msg("poll unlock failed")
			}
		}()
	}
	return u.poll(ctx, job, now)
}

func (u *reconcileUC) Poll(ctx context.Context, job *model.Job, now time.Time) (model.Observation, error) {
	obs, _, err := u.poll(ctx, job, now)
	return obs, err
}

func (u *reconcileUC) poll(ctx context.Context, job *model.Job, now time.Time) (model.Observation, bool, error) {
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, u.log)
	ceiling := u.cfg.Ceiling(job.ContentType)
	age := job.Age(now)

	if age >= ceiling {
		obs := model.Observation{State: model.ObservedExpired, Error: fmt.Sprintf("no result within %s", ceiling), Source: "sweep"}
		applied, err := u.apply(ctx, job, obs)
		return obs, applied, err
	}

	p, ok := u.providers.Get(job.Provider)
	if !ok {
		return model.Observation{}, false, fmt.Errorf("%w: provider %q not configured", domain.ErrNotFound, job.Provider)
	}

	obs := model.Observation{State: model.ObservedUnknown}
	if h := job.Handle(); h != "" {
		start := time.Now()
		var err error
		obs, err = p.Poll(ctx, h, job.ContentType)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ObserveProviderCall(p.Name(), "poll", outcome, time.Since(start))
		if err != nil {
			log.Warn().Err(err).Msg("provider poll failed")
			if rerr := u.reschedule(ctx, job, now, ceiling); rerr != nil {
				return obs, false, rerr
			}
			return model.Observation{State: model.ObservedRunning}, false, nil
		}
	}
	obs.Source = "poll"

	if obs.State == model.ObservedUnknown {
		if age < u.cfg.MaxWait {
			return obs, false, u.reschedule(ctx, job, now, ceiling)
		}
		obs = model.Observation{State: model.ObservedFailed, Error: "provider has no record of the task", Source: "poll"}
	}

	if obs.Terminal() {
		applied, err := u.apply(ctx, job, obs)
		return obs, applied, err
	}

	var res ApplyResult
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if res, err = u.lifecycle.Apply(ctx, tx, job, obs); err != nil {
			return err
		}
		return u.rescheduleTx(ctx, tx, job, now, ceiling)
	})
	return obs, res.Applied, err
}

// apply feeds a terminal observation through the shared transition in its own transaction.
func (u *reconcileUC) apply(ctx context.Context, job *model.Job, obs model.Observation) (bool, error) {
	var res ApplyResult
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.jobs.FindByID(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		*job = *fresh
		res, err = u.lifecycle.Apply(ctx, tx, job, obs)
		return err
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	u.lifecycle.Alert(ctx, res.Alerts)
	return res.Applied, nil
}

func (u *reconcileUC) reschedule(ctx context.Context, job *model.Job, now time.Time, ceiling time.Duration) error {
	return u.rescheduleTx(ctx, repository.NoTX, job, now, ceiling)
}

// rescheduleTx pushes next_poll_at out with exponential backoff, never past the ceiling instant.
func (u *reconcileUC) rescheduleTx(ctx context.Context, tx repository.Tx, job *model.Job, now time.Time, ceiling time.Duration) error {
	next := NextPollAt(job, now, u.cfg.BackoffBase, u.cfg.BackoffMax, ceiling)
	if err := u.jobs.Reschedule(ctx, tx, job.ID, next, job.PollCount+1); err != nil {
		return fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	job.PollCount++
	job.NextPollAt = &next
	return nil
}

// NextPollAt is now + min(base*2^poll_count, max), clamped to the job's expiry instant.
func NextPollAt(job *model.Job, now time.Time, base, max, ceiling time.Duration) time.Time {
	next := now.Add(Backoff(base, max, job.PollCount))
	start := job.CreatedAt
	if job.DispatchedAt != nil {
		start = *job.DispatchedAt
	}
	if limit := start.Add(ceiling); next.After(limit) {
		next = limit
	}
	return next
}

func (u *reconcileUC) SweepStaleCharged(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.SweepStaleCharged")()
	if u.cfg.StaleChargedAfter <= 0 {
		return 0, nil
	}
	stale, err := u.jobs.ListStaleCharged(ctx, repository.NoTX, now.Add(-u.cfg.StaleChargedAfter), u.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale charged: %w", err)
	}
	swept := 0
	for _, job := range stale {
		obs := model.Observation{State: model.ObservedFailed, Error: "dispatch never completed", Source: "sweep"}
		applied, err := u.apply(ctx, job, obs)
		if err != nil {
			u.log.Error().Err(err).Str("job_id", job.ID).Msg("stale charged sweep failed")
			continue
		}
		if applied {
			swept++
		}
	}
	metrics.IncReconcile("stale_charged", swept)
	if swept > 0 {
		u.log.Warn().Int("count", swept).Msg("failed stale charged jobs")
	}
	return swept, nil
}
