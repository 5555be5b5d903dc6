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

// Compile-time check
var _ BillingUseCase = (*billingUC)(nil)

// BillingUseCase is the subscription state machine driven by processor events.
type BillingUseCase interface {
	// Handle applies a normalized processor event at most once.
	Handle(ctx context.Context, ev model.BillingEvent) (model.Ack, error)
	ApplyDueDowngrades(ctx context.Context, now time.Time) (int, error)
	ExpireGracePeriods(ctx context.Context, now time.Time) (int, error)
	RefreshGauges(ctx context.Context) error
	GetSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	SeedPlans(ctx context.Context, plans []*model.Plan) error
	ListPlans(ctx context.Context) ([]*model.Plan, error)
}

type billingUC struct {
	subs     repository.SubscriptionRepository
	plans    repository.PlanRepository
	accounts repository.AccountRepository
	events   repository.EventRepository
	ledger   LedgerUseCase
	notifier adapter.OperatorNotifier
	grace    time.Duration
	tm       repository.TransactionManager
	now      Clock
	log      *zerolog.Logger
}

func NewBillingUseCase(
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	accounts repository.AccountRepository,
	events repository.EventRepository,
	ledger LedgerUseCase,
	notifier adapter.OperatorNotifier,
	grace time.Duration,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *billingUC {
	if grace <= 0 {
		grace = 30 * 24 * time.Hour
	}
	l := logger.With().Str("component", "BillingUC").Logger()
	return &billingUC{
		subs:     subs,
		plans:    plans,
		accounts: accounts,
		events:   events,
		ledger:   ledger,
		notifier: notifier,
		grace:    grace,
		tm:       tm,
		now:      time.Now,
		log:      &l,
	}
}

// WithClock replaces the time source.
func (u *billingUC) WithClock(c Clock) *billingUC {
	u.now = c
	return u
}

func (u *billingUC) Handle(ctx context.Context, ev model.BillingEvent) (model.Ack, error) {
	defer logging.TraceDuration(u.log, "BillingUC.Handle")()
	ack := model.Ack{EventID: ev.ID}
	if ev.ID == "" {
		return ack, fmt.Errorf("%w: missing event id", domain.ErrMalformedPayload)
	}
	ctx = logging.WithEventID(logging.WithUserID(ctx, ev.UserID), ev.ID)
	log := logging.With(ctx, u.log)

	if ev.Type == model.BillingIgnored || ev.Type == "" {
		ack.Outcome = model.EventOutcomeIgnored
		metrics.IncBillingEvent(ev.RawType, string(ack.Outcome))
		return ack, nil
	}
	if !ev.Period.Valid() {
		ev.Period = model.BillingMonthly
	}

	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.events.Reserve(ctx, tx, model.EventSourceBilling, ev.ID)
		if err != nil {
			return err
		}
		if !fresh {
			ack.Outcome = model.EventOutcomeDuplicate
			return nil
		}
		ack.Outcome, err = u.apply(ctx, tx, ev)
		if err != nil {
			return err
		}
		return u.events.Complete(ctx, tx, model.EventSourceBilling, ev.ID, ack.Outcome, nil)
	})
	if err != nil {
		metrics.IncBillingEvent(string(ev.Type), "error")
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("billing event failed")
		return model.Ack{}, err
	}
	metrics.IncBillingEvent(string(ev.Type), string(ack.Outcome))
	log.Info().Str("type", string(ev.Type)).Str("outcome", string(ack.Outcome)).Msg("billing event handled")
	return ack, nil
}

func (u *billingUC) apply(ctx context.Context, tx repository.Tx, ev model.BillingEvent) (model.EventOutcome, error) {
	if ev.UserID == "" {
		return model.EventOutcomeUnmatched, nil
	}
	sub, err := u.subs.FindByUser(ctx, tx, ev.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if errors.Is(err, domain.ErrNotFound) {
		sub = nil
	}

	switch ev.Type {
	case model.BillingCheckoutCompleted:
		return u.checkout(ctx, tx, sub, ev)
	case model.BillingSubscriptionDeleted:
		return u.deleted(ctx, tx, sub, ev)
	case model.BillingPlanChanged:
		return u.planChanged(ctx, tx, sub, ev)
	case model.BillingRenewalPaid:
		return u.renewal(ctx, tx, sub, ev)
	case model.BillingPaymentFailed:
		return u.paymentFailed(ctx, tx, sub)
	}
	return model.EventOutcomeIgnored, nil
}

// resolvePlan accepts either a plan id or a processor price id.
func (u *billingUC) resolvePlan(ctx context.Context, tx repository.Tx, ref string) (*model.Plan, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	p, err := u.plans.FindByID(ctx, tx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return u.plans.FindByPriceID(ctx, tx, ref)
	}
	return p, err
}

func (u *billingUC) grant(ctx context.Context, tx repository.Tx, userID string, plan *model.Plan, period model.BillingPeriod, eventID string) error {
	amount := plan.Allotment(period)
	if amount <= 0 {
		return nil
	}
	_, err := u.ledger.Credit(ctx, tx, userID, amount, model.LedgerReasonPlanGrant, eventID, plan.ID+"/"+string(period))
	return err
}

func (u *billingUC) checkout(ctx context.Context, tx repository.Tx, sub *model.Subscription, ev model.BillingEvent) (model.EventOutcome, error) {
	plan, err := u.resolvePlan(ctx, tx, ev.PlanID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.EventOutcomeUnmatched, nil
	}
	if err != nil {
		return "", err
	}

	if sub != nil && sub.Status == model.SubscriptionStatusActive {
		if sub.PlanID != plan.ID {
			return u.changePlan(ctx, tx, sub, plan, ev)
		}
		setProcessorRefs(sub, ev)
		return model.EventOutcomeNoop, u.subs.Save(ctx, tx, sub)
	}

	now := u.now()
	if sub == nil {
		sub = &model.Subscription{UserID: ev.UserID, CreatedAt: now}
	}
	if sub.InGraceWindow(now) && *sub.FrozenCredits > 0 {
		corr := fmt.Sprintf("grace:%s:%d", sub.UserID, sub.GracePeriodEnd.Unix())
		if _, err := u.ledger.Credit(ctx, tx, sub.UserID, *sub.FrozenCredits, model.LedgerReasonGraceRestore, corr, "restored on resubscribe"); err != nil {
			return "", err
		}
		metrics.IncSubscriptionTransition("restored", 1)
	}
	if err := u.grant(ctx, tx, sub.UserID, plan, ev.Period, ev.ID); err != nil {
		return "", err
	}
	sub.ClearGrace()
	sub.ClearPendingDowngrade()
	sub.Status = model.SubscriptionStatusActive
	sub.PlanID = plan.ID
	sub.Period = ev.Period
	setProcessorRefs(sub, ev)
	sub.UpdatedAt = now
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return "", err
	}
	metrics.IncSubscriptionTransition("activated", 1)
	return model.EventOutcomeApplied, nil
}

func (u *billingUC) deleted(ctx context.Context, tx repository.Tx, sub *model.Subscription, ev model.BillingEvent) (model.EventOutcome, error) {
	if sub == nil {
		return model.EventOutcomeUnmatched, nil
	}
	if sub.Status == model.SubscriptionStatusGracePeriod || sub.Status == model.SubscriptionStatusCancelled {
		return model.EventOutcomeNoop, nil
	}

	var frozen int64
	acc, err := u.accounts.FindByUser(ctx, tx, sub.UserID)
	switch {
	case err == nil:
		frozen = acc.Balance
	case !errors.Is(err, domain.ErrNotFound):
		return "", err
	}
	if frozen > 0 {
		if _, err := u.ledger.Debit(ctx, tx, sub.UserID, frozen, model.LedgerReasonGraceFreeze, ev.ID); err != nil {
			return "", err
		}
	}

	now := u.now()
	end := now.Add(u.grace)
	sub.Status = model.SubscriptionStatusGracePeriod
	sub.FrozenCredits = &frozen
	sub.GracePeriodEnd = &end
	sub.ProcessorSubscriptionID = nil
	sub.ClearPendingDowngrade()
	sub.UpdatedAt = now
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return "", err
	}
	metrics.IncSubscriptionTransition("grace_period", 1)
	logging.With(ctx, u.log).Info().Int64("frozen", frozen).Time("grace_end", end).Msg("subscription entered grace period")
	return model.EventOutcomeApplied, nil
}

func (u *billingUC) planChanged(ctx context.Context, tx repository.Tx, sub *model.Subscription, ev model.BillingEvent) (model.EventOutcome, error) {
	if sub == nil {
		return model.EventOutcomeUnmatched, nil
	}
	if sub.Status != model.SubscriptionStatusActive && sub.Status != model.SubscriptionStatusPaymentFailed {
		return model.EventOutcomeNoop, nil
	}
	plan, err := u.resolvePlan(ctx, tx, ev.PlanID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.EventOutcomeUnmatched, nil
	}
	if err != nil {
		return "", err
	}
	return u.changePlan(ctx, tx, sub, plan, ev)
}

// changePlan upgrades immediately with a fresh allotment and defers downgrades to the period end.
func (u *billingUC) changePlan(ctx context.Context, tx repository.Tx, sub *model.Subscription, next *model.Plan, ev model.BillingEvent) (model.EventOutcome, error) {
	now := u.now()
	current, err := u.plans.FindByID(ctx, tx, sub.PlanID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	change := model.ClassifyPlanChange(current, next)
	if current == nil && next.ID != sub.PlanID {
		change = model.PlanChangeUpgrade
	}
	outcome := model.EventOutcomeApplied
	switch change {
	case model.PlanChangeUpgrade:
		if err := u.grant(ctx, tx, sub.UserID, next, ev.Period, ev.ID); err != nil {
			return "", err
		}
		sub.PlanID = next.ID
		sub.Period = ev.Period
		sub.ClearPendingDowngrade()
		metrics.IncSubscriptionTransition("upgrade", 1)
	case model.PlanChangeDowngrade:
		at := now
		switch {
		case sub.CurrentPeriodEnd != nil:
			at = *sub.CurrentPeriodEnd
		case ev.CurrentPeriodEnd != nil:
			at = *ev.CurrentPeriodEnd
		}
		id := next.ID
		sub.PendingDowngradePlan = &id
		sub.PendingDowngradeAt = &at
		metrics.IncSubscriptionTransition("downgrade_scheduled", 1)
	default:
		if next.ID == sub.PlanID && sub.PendingDowngradePlan != nil {
			sub.ClearPendingDowngrade()
		} else {
			outcome = model.EventOutcomeNoop
		}
	}
	if change != model.PlanChangeDowngrade {
		setProcessorRefs(sub, ev)
	} else if ev.ProcessorSubscriptionID != "" {
		id := ev.ProcessorSubscriptionID
		sub.ProcessorSubscriptionID = &id
	}
	sub.UpdatedAt = now
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return "", err
	}
	return outcome, nil
}

func (u *billingUC) renewal(ctx context.Context, tx repository.Tx, sub *model.Subscription, ev model.BillingEvent) (model.EventOutcome, error) {
	if sub == nil {
		return model.EventOutcomeUnmatched, nil
	}
	if sub.Status == model.SubscriptionStatusGracePeriod || sub.Status == model.SubscriptionStatusCancelled {
		return model.EventOutcomeNoop, nil
	}
	now := u.now()
	if downgradeDueAt(sub, now, ev.CurrentPeriodEnd) {
		sub.PlanID = *sub.PendingDowngradePlan
		sub.ClearPendingDowngrade()
		metrics.IncSubscriptionTransition("downgrade_applied", 1)
	}
	plan, err := u.plans.FindByID(ctx, tx, sub.PlanID)
	if err != nil {
		return "", fmt.Errorf("plan %s: %w", sub.PlanID, err)
	}
	if err := u.grant(ctx, tx, sub.UserID, plan, sub.Period, ev.ID); err != nil {
		return "", err
	}
	if sub.Status == model.SubscriptionStatusPaymentFailed {
		metrics.IncSubscriptionTransition("recovered", 1)
	}
	sub.Status = model.SubscriptionStatusActive
	if ev.CurrentPeriodEnd != nil {
		end := *ev.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	sub.UpdatedAt = now
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return "", err
	}
	return model.EventOutcomeApplied, nil
}

// downgradeDueAt also treats a renewal whose new period starts past the boundary as due.
func downgradeDueAt(sub *model.Subscription, now time.Time, newPeriodEnd *time.Time) bool {
	if sub.DowngradeDue(now) {
		return true
	}
	return sub.PendingDowngradeAt != nil && sub.PendingDowngradePlan != nil &&
		newPeriodEnd != nil && newPeriodEnd.After(*sub.PendingDowngradeAt)
}

func (u *billingUC) paymentFailed(ctx context.Context, tx repository.Tx, sub *model.Subscription) (model.EventOutcome, error) {
	if sub == nil {
		return model.EventOutcomeUnmatched, nil
	}
	if sub.Status != model.SubscriptionStatusActive {
		return model.EventOutcomeNoop, nil
	}
	sub.Status = model.SubscriptionStatusPaymentFailed
	sub.UpdatedAt = u.now()
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return "", err
	}
	metrics.IncSubscriptionTransition("payment_failed", 1)
	return model.EventOutcomeApplied, nil
}

func setProcessorRefs(sub *model.Subscription, ev model.BillingEvent) {
	if ev.ProcessorSubscriptionID != "" {
		id := ev.ProcessorSubscriptionID
		sub.ProcessorSubscriptionID = &id
	}
	if ev.CurrentPeriodEnd != nil {
		end := *ev.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
}

func (u *billingUC) ApplyDueDowngrades(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(u.log, "BillingUC.ApplyDueDowngrades")()
	due, err := u.subs.ListDueDowngrades(ctx, repository.NoTX, now, 500)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, s := range due {
		err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
			sub, err := u.subs.FindByUser(ctx, tx, s.UserID)
			if err != nil {
				return err
			}
			if !sub.DowngradeDue(now) {
				return nil
			}
			sub.PlanID = *sub.PendingDowngradePlan
			sub.ClearPendingDowngrade()
			sub.UpdatedAt = now
			if err := u.subs.Save(ctx, tx, sub); err != nil {
				return err
			}
			applied++
			return nil
		})
		if err != nil {
			u.log.Error().Err(err).Str("user_id", s.UserID).Msg("apply downgrade failed")
		}
	}
	metrics.IncSubscriptionTransition("downgrade_applied", applied)
	return applied, nil
}

func (u *billingUC) ExpireGracePeriods(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(u.log, "BillingUC.ExpireGracePeriods")()
	expired, err := u.subs.ListExpiredGrace(ctx, repository.NoTX, now, 500)
	if err != nil {
		return 0, err
	}
	n := 0
	var alerts []adapter.Alert
	for _, s := range expired {
		err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
			sub, err := u.subs.FindByUser(ctx, tx, s.UserID)
			if err != nil {
				return err
			}
			if sub.Status != model.SubscriptionStatusGracePeriod || sub.InGraceWindow(now) {
				return nil
			}
			var forfeited int64
			if sub.FrozenCredits != nil {
				forfeited = *sub.FrozenCredits
			}
			sub.ClearGrace()
			sub.Status = model.SubscriptionStatusCancelled
			sub.UpdatedAt = now
			if err := u.subs.Save(ctx, tx, sub); err != nil {
				return err
			}
			n++
			if forfeited > 0 {
				alerts = append(alerts, adapter.Alert{
					Kind:   adapter.AlertGraceExpired,
					UserID: sub.UserID,
					Text:   fmt.Sprintf("grace period ended, %d frozen credits forfeited", forfeited),
				})
			}
			return nil
		})
		if err != nil {
			u.log.Error().Err(err).Str("user_id", s.UserID).Msg("expire grace failed")
		}
	}
	notify(ctx, u.notifier, u.log, alerts...)
	metrics.IncSubscriptionTransition("cancelled", n)
	return n, nil
}

func (u *billingUC) RefreshGauges(ctx context.Context) error {
	counts, err := u.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return err
	}
	for _, st := range []model.SubscriptionStatus{
		model.SubscriptionStatusActive, model.SubscriptionStatusPaymentFailed,
		model.SubscriptionStatusGracePeriod, model.SubscriptionStatusCancelled,
	} {
		metrics.SetSubscriptionsByStatus(string(st), counts[st])
	}
	return nil
}

func (u *billingUC) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	return u.subs.FindByUser(ctx, repository.NoTX, userID)
}

func (u *billingUC) SeedPlans(ctx context.Context, plans []*model.Plan) error {
	return u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		for _, p := range plans {
			if err := u.plans.Save(ctx, tx, p); err != nil {
				return fmt.Errorf("seed plan %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func (u *billingUC) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	return u.plans.ListAll(ctx, repository.NoTX)
}
