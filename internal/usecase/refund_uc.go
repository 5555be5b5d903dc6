package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
	"render-credit-platform/internal/domain/ports/repository"
	"render-credit-platform/internal/infra/logging"
)

// Compile-time check
var _ RefundUseCase = (*refundUC)(nil)

// RefundUseCase returns credits for failed work and runs the dispute path.
type RefundUseCase interface {
	// OnFailure refunds everything not yet refunded. Never-charged jobs get 0.
	OnFailure(ctx context.Context, tx repository.Tx, job *model.Job) (int64, error)
	OpenDispute(ctx context.Context, userID, jobID, reason string) (*model.ReviewItem, error)
	// Adjust credits part of a job's cost back to its owner.
	Adjust(ctx context.Context, jobID string, amount int64, reason, operator string) (int64, error)
	ResolveReview(ctx context.Context, reviewID string, amount int64, note, operator string) (*model.ReviewItem, error)
	ListOpenReviews(ctx context.Context, limit int) ([]*model.ReviewItem, error)
}

type refundUC struct {
	jobs     repository.JobRepository
	reviews  repository.ReviewRepository
	ledger   LedgerUseCase
	notifier adapter.OperatorNotifier
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewRefundUseCase(
	jobs repository.JobRepository,
	reviews repository.ReviewRepository,
	ledger LedgerUseCase,
	notifier adapter.OperatorNotifier,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *refundUC {
	l := logger.With().Str("component", "RefundUC").Logger()
	return &refundUC{jobs: jobs, reviews: reviews, ledger: ledger, notifier: notifier, tm: tm, log: &l}
}

func (u *refundUC) OnFailure(ctx context.Context, tx repository.Tx, job *model.Job) (int64, error) {
	amount := job.Refundable()
	if amount == 0 {
		return 0, nil
	}
	err := runInTx(ctx, u.tm, tx, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.jobs.AddRefunded(ctx, tx, job.ID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: refund of %d exceeds cost of job %s", domain.ErrConcurrencyConflict, amount, job.ID)
		}
		_, err = u.ledger.Credit(ctx, tx, job.UserID, amount, model.LedgerReasonJobRefund, job.ID, "")
		return err
	})
	if err != nil {
		return 0, err
	}
	job.RefundedAmount += amount
	logging.With(logging.WithJobID(ctx, job.ID), u.log).Info().Int64("amount", amount).Msg("job refunded")
	return amount, nil
}

func (u *refundUC) OpenDispute(ctx context.Context, userID, jobID, reason string) (*model.ReviewItem, error) {
	defer logging.TraceDuration(u.log, "RefundUC.OpenDispute")()
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrValidation
	}
	job, err := u.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.Status)
	}
	item, err := model.NewReviewItem(job.ID, job.UserID, model.ReviewDispute, reason)
	if err != nil {
		return nil, err
	}
	if err := u.reviews.Create(ctx, repository.NoTX, item); err != nil {
		return nil, err
	}
	notify(ctx, u.notifier, u.log, adapter.Alert{Kind: adapter.AlertDisputeOpened, JobID: job.ID, UserID: userID, Text: reason})
	return item, nil
}

func (u *refundUC) Adjust(ctx context.Context, jobID string, amount int64, reason, operator string) (int64, error) {
	defer logging.TraceDuration(u.log, "RefundUC.Adjust")()
	var balance int64
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		b, err := u.adjust(ctx, tx, jobID, amount, reason, operator)
		balance = b
		return err
	})
	return balance, err
}

func (u *refundUC) adjust(ctx context.Context, tx repository.Tx, jobID string, amount int64, reason, operator string) (int64, error) {
	reason = strings.TrimSpace(reason)
	if amount <= 0 || reason == "" {
		return 0, domain.ErrInvalidArgument
	}
	job, err := u.jobs.FindByID(ctx, tx, jobID)
	if err != nil {
		return 0, err
	}
	if job.ChargedAt == nil {
		return 0, fmt.Errorf("%w: job %s was never charged", domain.ErrInvalidArgument, jobID)
	}
	if amount > job.Cost-job.RefundedAmount {
		return 0, fmt.Errorf("%w: adjustment %d exceeds refundable %d", domain.ErrInvalidArgument, amount, job.Cost-job.RefundedAmount)
	}
	ok, err := u.jobs.AddRefunded(ctx, tx, job.ID, amount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, domain.ErrConcurrencyConflict
	}
	note := reason
	if operator != "" {
		note = fmt.Sprintf("%s (by %s)", reason, operator)
	}
	b, err := u.ledger.Credit(ctx, tx, job.UserID, amount, model.LedgerReasonDisputeAdjustment, job.ID, note)
	if err != nil {
		return 0, err
	}
	u.log.Info().Str("job_id", job.ID).Int64("amount", amount).Str("operator", operator).Msg("dispute adjustment")
	return b, nil
}

func (u *refundUC) ResolveReview(ctx context.Context, reviewID string, amount int64, note, operator string) (*model.ReviewItem, error) {
	defer logging.TraceDuration(u.log, "RefundUC.ResolveReview")()
	if amount < 0 || strings.TrimSpace(note) == "" {
		return nil, domain.ErrInvalidArgument
	}
	var item *model.ReviewItem
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		it, err := u.reviews.FindByID(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if it.Status != model.ReviewOpen {
			return fmt.Errorf("%w: review already resolved", domain.ErrInvalidTransition)
		}
		if amount > 0 {
			if _, err := u.adjust(ctx, tx, it.JobID, amount, note, operator); err != nil {
				return err
			}
		}
		now := time.Now()
		it.Status = model.ReviewResolved
		it.Resolution = note
		it.RefundAmount = amount
		it.ResolvedBy = operator
		it.ResolvedAt = &now
		ok, err := u.reviews.Resolve(ctx, tx, it)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConcurrencyConflict
		}
		item = it
		return nil
	})
	return item, err
}

func (u *refundUC) ListOpenReviews(ctx context.Context, limit int) ([]*model.ReviewItem, error) {
	return u.reviews.ListOpen(ctx, repository.NoTX, limit)
}
