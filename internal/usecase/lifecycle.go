package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
	"render-credit-platform/internal/domain/ports/repository"
	"render-credit-platform/internal/infra/logging"
	"render-credit-platform/internal/infra/metrics"
)

// ApplyResult reports what an observation did to a job.
// Alerts are collected during the transaction and sent with Lifecycle.Alert after commit.
type ApplyResult struct {
	Applied  bool
	Status   model.JobStatus
	Refunded int64
	Alerts   []adapter.Alert
}

// Lifecycle is the single transition function for every completion channel:
// webhooks, polls, synchronous providers, cancellation and sweeps.
type Lifecycle struct {
	jobs     repository.JobRepository
	reviews  repository.ReviewRepository
	refunds  RefundUseCase
	notifier adapter.OperatorNotifier
	now      Clock
	log      *zerolog.Logger
}

func NewLifecycle(jobs repository.JobRepository, reviews repository.ReviewRepository, refunds RefundUseCase, notifier adapter.OperatorNotifier, logger *zerolog.Logger) *Lifecycle {
	l := logger.With().Str("component", "Lifecycle").Logger()
	return &Lifecycle{jobs: jobs, reviews: reviews, refunds: refunds, notifier: notifier, now: time.Now, log: &l}
}

// WithClock replaces the time source.
func (l *Lifecycle) WithClock(c Clock) *Lifecycle {
	l.now = c
	return l
}

// Apply moves job according to obs inside tx. The job should have been read in
// the same transaction. Losing the conditional update to a concurrent writer is
// not an error when the winner already made the job terminal.
func (l *Lifecycle) Apply(ctx context.Context, tx repository.Tx, job *model.Job, obs model.Observation) (ApplyResult, error) {
	return l.ApplyWithPatch(ctx, tx, job, obs, model.JobPatch{})
}

// ApplyWithPatch is Apply with extra counters written by the terminal transition.
// Only AddAttempts is taken from extra.
func (l *Lifecycle) ApplyWithPatch(ctx context.Context, tx repository.Tx, job *model.Job, obs model.Observation, extra model.JobPatch) (ApplyResult, error) {
	log := logging.With(logging.WithJobID(ctx, job.ID), l.log)
	res := ApplyResult{Status: job.Status}

	target, terminal := obs.TargetStatus()
	if !terminal {
		if obs.State != model.ObservedRunning || job.Status != model.JobStatusDispatched {
			return res, nil
		}
		ok, err := l.jobs.Transition(ctx, tx, job.ID, []model.JobStatus{model.JobStatusDispatched}, model.JobStatusAwaitingCompletion, model.JobPatch{})
		if err != nil {
			return res, err
		}
		if ok {
			job.Status = model.JobStatusAwaitingCompletion
			res.Applied, res.Status = true, job.Status
			metrics.IncJobTransition(string(job.Status), obs.Source)
		}
		return res, nil
	}

	if job.Status.IsTerminal() {
		return l.settled(ctx, tx, job, target, obs, res)
	}
	if !model.CanTransition(job.Status, target) {
		return res, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, target)
	}

	now := l.now()
	patch := model.JobPatch{CompletedAt: &now, AddAttempts: extra.AddAttempts}
	switch target {
	case model.JobStatusComplete:
		if obs.ArtifactURL != "" {
			url := obs.ArtifactURL
			patch.ArtifactURL = &url
		}
	default:
		msg := obs.Error
		if msg == "" {
			msg = string(obs.State)
		}
		patch.LastError = &msg
	}

	ok, err := l.jobs.Transition(ctx, tx, job.ID, model.PreStates(target), target, patch)
	if err != nil {
		return res, err
	}
	if !ok {
		fresh, err := l.jobs.FindByID(ctx, tx, job.ID)
		if err != nil {
			return res, err
		}
		*job = *fresh
		if job.Status.IsTerminal() {
			return l.settled(ctx, tx, job, target, obs, ApplyResult{Status: job.Status})
		}
		return res, domain.ErrConcurrencyConflict
	}

	prev := job.Status
	job.Status = target
	job.CompletedAt = &now
	if patch.ArtifactURL != nil {
		job.ArtifactURL = patch.ArtifactURL
	}
	if patch.LastError != nil {
		job.LastError = *patch.LastError
	}
	job.Attempts += patch.AddAttempts
	res.Applied, res.Status = true, target
	metrics.IncJobTransition(string(target), obs.Source)
	metrics.ObserveJobLifetime(string(job.ContentType), string(target), now.Sub(job.CreatedAt))
	log.Info().Str("from", string(prev)).Str("to", string(target)).Str("source", obs.Source).Msg("job transitioned")

	if target == model.JobStatusComplete {
		return res, nil
	}
	refunded, err := l.refunds.OnFailure(ctx, tx, job)
	if err != nil {
		return res, fmt.Errorf("refund job %s: %w", job.ID, err)
	}
	res.Refunded = refunded

	if target == model.JobStatusExpired {
		alert, err := l.openReview(ctx, tx, job, model.ReviewExpired, adapter.AlertJobExpired,
			fmt.Sprintf("no completion signal after %s, refunded %d", now.Sub(job.CreatedAt).Round(time.Second), refunded))
		if err != nil {
			return res, err
		}
		res.Alerts = append(res.Alerts, alert)
	}
	return res, nil
}

// settled handles an observation for a job that is already terminal.
func (l *Lifecycle) settled(ctx context.Context, tx repository.Tx, job *model.Job, target model.JobStatus, obs model.Observation, res ApplyResult) (ApplyResult, error) {
	if job.Status == target {
		return res, nil
	}
	// an expiry arriving after a provider answer is not a contradiction
	if obs.Source == "sweep" || target == model.JobStatusExpired {
		return res, nil
	}
	// a late provider failure on an expired job agrees with it; both refunded
	if job.Status == model.JobStatusExpired && target == model.JobStatusFailed {
		return res, nil
	}
	alert, err := l.openReview(ctx, tx, job, model.ReviewConflictingOutcome, adapter.AlertConflictingResult,
		fmt.Sprintf("job is %s but %s reported %s", job.Status, obs.Source, obs.State))
	if err != nil {
		return res, err
	}
	res.Alerts = append(res.Alerts, alert)
	l.log.Warn().Str("job_id", job.ID).Str("status", string(job.Status)).Str("observed", string(obs.State)).Msg("conflicting outcome")
	return res, nil
}

func (l *Lifecycle) openReview(ctx context.Context, tx repository.Tx, job *model.Job, kind model.ReviewKind, alertKind adapter.AlertKind, reason string) (adapter.Alert, error) {
	item, err := model.NewReviewItem(job.ID, job.UserID, kind, reason)
	if err != nil {
		return adapter.Alert{}, err
	}
	if err := l.reviews.Create(ctx, tx, item); err != nil {
		return adapter.Alert{}, fmt.Errorf("open review: %w", err)
	}
	return adapter.Alert{Kind: alertKind, JobID: job.ID, UserID: job.UserID, Text: reason}, nil
}

// Alert delivers alerts best-effort; failures are logged.
func (l *Lifecycle) Alert(ctx context.Context, alerts []adapter.Alert) {
	notify(ctx, l.notifier, l.log, alerts...)
}

func notify(ctx context.Context, n adapter.OperatorNotifier, log *zerolog.Logger, alerts ...adapter.Alert) {
	if n == nil {
		return
	}
	for _, a := range alerts {
		if err := n.Notify(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("kind", string(a.Kind)).Str("job_id", a.JobID).Msg("operator alert failed")
		}
	}
}
