// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
	"render-credit-platform/internal/infra/logging"
	"render-credit-platform/internal/infra/metrics"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// CreateJobInput is a user's render request.
type CreateJobInput struct {
	UserID          string
	Provider        string
	ContentType     model.ContentType
	Model           string
	Prompt          string
	InputAssets     []string
	Size            int64 // declared size; textual measures are recomputed server side
	ResourceID      string
	ConfirmRerender bool
}

// CreateJobResult carries the job plus, for re-renders awaiting approval,
// what the user already has and what another render costs.
type CreateJobResult struct {
	Job              *model.Job
	ExistingArtifact string
	RerenderCost     int64
}

type ReestimateResult struct {
	Job   *model.Job
	Delta int64
}

// RateLimiter bounds how often a caller may act within a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// JobUseCase is the user-facing job lifecycle: debit, create, submit.
type JobUseCase interface {
	Create(ctx context.Context, in CreateJobInput) (*CreateJobResult, error)
	Confirm(ctx context.Context, userID, jobID string) (*model.Job, error)
	Cancel(ctx context.Context, userID, jobID string) (*model.Job, error)
	Reestimate(ctx context.Context, userID, jobID, prompt string, size int64) (*ReestimateResult, error)
	Get(ctx context.Context, userID, jobID string) (*model.Job, error)
	List(ctx context.Context, userID string, limit int) ([]*model.Job, error)
}

// JobLimits configures per-user creation limits. Zero PerWindow disables limiting.
type JobLimits struct {
	PerWindow int
	Window    time.Duration
	KeyFunc   func(userID string, window time.Duration, now time.Time) string
}

type jobUC struct {
	jobs        repository.JobRepository
	ledger      LedgerUseCase
	pricing     PricingUseCase
	dispatch    DispatchUseCase
	lifecycle   *Lifecycle
	refunds     RefundUseCase
	limiter     RateLimiter
	limits      JobLimits
	graceWindow time.Duration
	dispatchTTL time.Duration
	tm          repository.TransactionManager
	now         Clock
	log         *zerolog.Logger
}

func NewJobUseCase(
	jobs repository.JobRepository,
	ledger LedgerUseCase,
	pricing PricingUseCase,
	dispatch DispatchUseCase,
	lifecycle *Lifecycle,
	refunds RefundUseCase,
	limiter RateLimiter,
	limits JobLimits,
	graceWindow time.Duration,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *jobUC {
	l := logger.With().Str("component", "JobUC").Logger()
	return &jobUC{
		jobs:        jobs,
		ledger:      ledger,
		pricing:     pricing,
		dispatch:    dispatch,
		lifecycle:   lifecycle,
		refunds:     refunds,
		limiter:     limiter,
		limits:      limits,
		graceWindow: graceWindow,
		dispatchTTL: defaultDispatchTimeout,
		tm:          tm,
		now:         time.Now,
		log:         &l,
	}
}

const defaultDispatchTimeout = 3 * time.Minute

// WithDispatchTimeout sets the budget for submitting and recording a charged job.
func (u *jobUC) WithDispatchTimeout(d time.Duration) *jobUC {
	if d > 0 {
		u.dispatchTTL = d
	}
	return u
}

func (u *jobUC) Create(ctx context.Context, in CreateJobInput) (*CreateJobResult, error) {
	defer logging.TraceDuration(u.log, "JobUC.Create")()
	ctx = logging.WithUserID(ctx, in.UserID)

	if err := u.allow(ctx, in.UserID); err != nil {
		return nil, err
	}
	job, err := model.NewJob(in.UserID, in.Provider, in.ContentType, in.Model, strings.TrimSpace(in.Prompt), in.InputAssets)
	if err != nil {
		return nil, err
	}
	job.ResourceID = in.ResourceID
	ctx = logging.WithJobID(ctx, job.ID)

	est, err := u.pricing.Estimate(job.ContentType, job.Model, job.Prompt, in.Size)
	if err != nil {
		return nil, err
	}
	job.SizeMeasure, job.Size, job.Cost = est.Measure, est.Size, est.Cost
	job.QuotedSize, job.QuotedCost = est.Size, est.Cost

	if err := u.dispatch.Validate(ctx, job); err != nil {
		metrics.IncJobCreated(string(job.ContentType), "rejected")
		return nil, err
	}

	var existing *model.Job
	if job.ResourceID != "" && !in.ConfirmRerender {
		prev, err := u.jobs.FindLatestComplete(ctx, repository.NoTX, job.UserID, job.ResourceID)
		switch {
		case err == nil:
			existing = prev
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	if existing != nil {
		if err := u.createAwaitingApproval(ctx, job); err != nil {
			return nil, err
		}
		metrics.IncJobCreated(string(job.ContentType), string(job.Status))
		res := &CreateJobResult{Job: job, RerenderCost: job.Cost}
		if existing.ArtifactURL != nil {
			res.ExistingArtifact = *existing.ArtifactURL
		}
		return res, nil
	}

	err = u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		if err := u.jobs.Create(ctx, tx, job); err != nil {
			return err
		}
		return u.charge(ctx, tx, job, model.JobStatusPending)
	})
	if err != nil {
		metrics.IncJobCreated(string(job.ContentType), "rejected")
		return nil, err
	}
	metrics.IncJobCreated(string(job.ContentType), string(job.Status))

	if err := u.submit(ctx, job); err != nil {
		return nil, err
	}
	return &CreateJobResult{Job: job}, nil
}

func (u *jobUC) createAwaitingApproval(ctx context.Context, job *model.Job) error {
	return u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		if err := u.jobs.Create(ctx, tx, job); err != nil {
			return err
		}
		ok, err := u.jobs.Transition(ctx, tx, job.ID, []model.JobStatus{model.JobStatusPending}, model.JobStatusAwaitingApproval, model.JobPatch{})
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConcurrencyConflict
		}
		job.Status = model.JobStatusAwaitingApproval
		return nil
	})
}

// charge debits the job's cost and moves it from `from` to charged in tx.
func (u *jobUC) charge(ctx context.Context, tx repository.Tx, job *model.Job, from model.JobStatus) error {
	if _, err := u.ledger.Debit(ctx, tx, job.UserID, job.Cost, model.LedgerReasonJobCharge, job.ID); err != nil {
		return err
	}
	now := u.now()
	cost := job.Cost
	ok, err := u.jobs.Transition(ctx, tx, job.ID, []model.JobStatus{from}, model.JobStatusCharged, model.JobPatch{ChargedAt: &now, Cost: &cost})
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConcurrencyConflict
	}
	job.Status = model.JobStatusCharged
	job.ChargedAt = &now
	return nil
}

// submit hands a charged job to its provider and records the outcome.
// Provider errors fail and refund the job; they are not returned to the caller.
// It runs on its own deadline, detached from the caller's, since the debit is
// already committed.
func (u *jobUC) submit(ctx context.Context, job *model.Job) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.dispatchTTL)
	defer cancel()
	log := logging.With(ctx, u.log)
	sub, attempts, derr := u.dispatch.Submit(ctx, job)
	if derr != nil {
		var res ApplyResult
		err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
			fresh, err := u.jobs.FindByID(ctx, tx, job.ID)
			if err != nil {
				return err
			}
			*job = *fresh
			res, err = u.lifecycle.ApplyWithPatch(ctx, tx, job, model.Observation{
				State:  model.ObservedFailed,
				Error:  "dispatch failed: " + derr.Error(),
				Source: "dispatch",
			}, model.JobPatch{AddAttempts: attempts})
			return err
		})
		if err != nil {
			log.Error().Err(err).AnErr("dispatch_error", derr).Msg("could not fail job after dispatch error")
			return err
		}
		log.Warn().Err(derr).Int64("refunded", res.Refunded).Msg("dispatch failed, job refunded")
		return nil
	}

	now := u.now()
	next := now.Add(u.graceWindow)
	patch := model.JobPatch{DispatchedAt: &now, NextPollAt: &next, AddAttempts: attempts}
	if sub.Handle != "" {
		h := sub.Handle
		patch.ExternalHandle = &h
	}
	var res ApplyResult
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.jobs.Transition(ctx, tx, job.ID, []model.JobStatus{model.JobStatusCharged}, model.JobStatusDispatched, patch)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConcurrencyConflict
		}
		job.Status = model.JobStatusDispatched
		job.ExternalHandle = patch.ExternalHandle
		job.DispatchedAt = &now
		job.NextPollAt = &next
		job.Attempts += attempts

		obs := model.Observation{State: model.ObservedRunning, Source: "dispatch"}
		if sub.Immediate != nil {
			obs = *sub.Immediate
			obs.Source = "dispatch"
		}
		res, err = u.lifecycle.Apply(ctx, tx, job, obs)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			// cancelled or swept while the provider call was in flight
			log.Warn().Str("handle", sub.Handle).Msg("job left charged state during dispatch")
			fresh, ferr := u.jobs.FindByID(ctx, repository.NoTX, job.ID)
			if ferr == nil {
				*job = *fresh
			}
			return nil
		}
		return fmt.Errorf("record dispatch: %w", err)
	}
	u.lifecycle.Alert(ctx, res.Alerts)
	return nil
}

func (u *jobUC) Confirm(ctx context.Context, userID, jobID string) (*model.Job, error) {
	defer logging.TraceDuration(u.log, "JobUC.Confirm")()
	ctx = logging.WithJobID(logging.WithUserID(ctx, userID), jobID)
	var job *model.Job
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		j, err := u.owned(ctx, tx, userID, jobID)
		if err != nil {
			return err
		}
		if j.Status != model.JobStatusAwaitingApproval {
			return fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, j.Status)
		}
		job = j
		return u.charge(ctx, tx, j, model.JobStatusAwaitingApproval)
	})
	if err != nil {
		return nil, err
	}
	if err := u.submit(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (u *jobUC) Cancel(ctx context.Context, userID, jobID string) (*model.Job, error) {
	defer logging.TraceDuration(u.log, "JobUC.Cancel")()
	ctx = logging.WithJobID(logging.WithUserID(ctx, userID), jobID)
	var job *model.Job
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		j, err := u.owned(ctx, tx, userID, jobID)
		if err != nil {
			return err
		}
		if !j.Status.Cancellable() {
			return fmt.Errorf("%w: job is %s", domain.ErrCancelNotAllowed, j.Status)
		}
		job = j
		_, err = u.lifecycle.Apply(ctx, tx, j, model.Observation{State: model.ObservedFailed, Error: model.CancelledByUser, Source: "user"})
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return domain.ErrCancelNotAllowed
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.IncJobCancelled()
	logging.With(ctx, u.log).Info().Int64("refunded", job.RefundedAmount).Msg("job cancelled")
	return job, nil
}

func (u *jobUC) Reestimate(ctx context.Context, userID, jobID, prompt string, size int64) (*ReestimateResult, error) {
	defer logging.TraceDuration(u.log, "JobUC.Reestimate")()
	prompt = strings.TrimSpace(prompt)
	var out *ReestimateResult
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		j, err := u.owned(ctx, tx, userID, jobID)
		if err != nil {
			return err
		}
		if j.Status != model.JobStatusAwaitingApproval {
			return fmt.Errorf("%w: only jobs awaiting approval can be edited", domain.ErrInvalidTransition)
		}
		est, err := u.pricing.Estimate(j.ContentType, j.Model, prompt, size)
		if err != nil {
			return err
		}
		baseSize, baseCost := j.QuotedSize, j.QuotedCost
		if baseCost == 0 {
			baseSize, baseCost = j.Size, j.Cost
		}
		// edits are priced against the first quote so repeated edits never compound
		delta, err := u.pricing.EditDelta(j.ContentType, j.Model, baseSize, est.Size)
		if err != nil {
			return err
		}
		cost := baseCost + delta
		ok, err := u.jobs.UpdateEstimate(ctx, tx, j.ID, prompt, est.Size, cost)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConcurrencyConflict
		}
		j.Prompt, j.Size, j.Cost = prompt, est.Size, cost
		out = &ReestimateResult{Job: j, Delta: delta}
		return nil
	})
	return out, err
}

func (u *jobUC) Get(ctx context.Context, userID, jobID string) (*model.Job, error) {
	return u.owned(ctx, repository.NoTX, userID, jobID)
}

func (u *jobUC) List(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return u.jobs.ListByUser(ctx, repository.NoTX, userID, limit)
}

// owned loads a job and hides jobs of other users behind ErrNotFound.
func (u *jobUC) owned(ctx context.Context, tx repository.Tx, userID, jobID string) (*model.Job, error) {
	j, err := u.jobs.FindByID(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if userID != "" && j.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (u *jobUC) allow(ctx context.Context, userID string) error {
	if u.limiter == nil || u.limits.PerWindow <= 0 {
		return nil
	}
	window := u.limits.Window
	if window <= 0 {
		window = time.Minute
	}
	key := "rate_limit:jobs:" + userID
	if u.limits.KeyFunc != nil {
		key = u.limits.KeyFunc(userID, window, u.now())
	}
	ok, err := u.limiter.Allow(ctx, key, u.limits.PerWindow, window)
	if err != nil {
		// limiter outage should not block paid work
		u.log.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}
