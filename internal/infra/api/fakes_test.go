//go:build !integration

package api

import (
	"context"
	"time"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
	"render-credit-platform/internal/usecase"
)

type fakeJobs struct {
	CreateFunc     func(ctx context.Context, in usecase.CreateJobInput) (*usecase.CreateJobResult, error)
	CancelFunc     func(ctx context.Context, userID, jobID string) (*model.Job, error)
	GetFunc        func(ctx context.Context, userID, jobID string) (*model.Job, error)
	ReestimateFunc func(ctx context.Context, userID, jobID, prompt string, size int64) (*usecase.ReestimateResult, error)
}

func (f *fakeJobs) Create(ctx context.Context, in usecase.CreateJobInput) (*usecase.CreateJobResult, error) {
	return f.CreateFunc(ctx, in)
}
func (f *fakeJobs) Confirm(ctx context.Context, userID, jobID string) (*model.Job, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeJobs) Cancel(ctx context.Context, userID, jobID string) (*model.Job, error) {
	return f.CancelFunc(ctx, userID, jobID)
}
func (f *fakeJobs) Reestimate(ctx context.Context, userID, jobID, prompt string, size int64) (*usecase.ReestimateResult, error) {
	return f.ReestimateFunc(ctx, userID, jobID, prompt, size)
}
func (f *fakeJobs) Get(ctx context.Context, userID, jobID string) (*model.Job, error) {
	return f.GetFunc(ctx, userID, jobID)
}
func (f *fakeJobs) List(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	return nil, nil
}

type fakeLedger struct {
	accounts map[string]*model.Account
	grants   map[string]bool
}

func (f *fakeLedger) Debit(ctx context.Context, tx repository.Tx, userID string, amount int64, reason model.LedgerReason, correlationID string) (int64, error) {
	return 0, domain.ErrOperationFailed
}
func (f *fakeLedger) Credit(ctx context.Context, tx repository.Tx, userID string, amount int64, reason model.LedgerReason, correlationID, note string) (int64, error) {
	if f.grants[correlationID] {
		return 0, domain.ErrDuplicateEvent
	}
	f.grants[correlationID] = true
	acc, ok := f.accounts[userID]
	if !ok {
		acc = &model.Account{UserID: userID}
		f.accounts[userID] = acc
	}
	acc.Balance += amount
	return acc.Balance, nil
}
func (f *fakeLedger) Balance(ctx context.Context, userID string) (*model.Account, error) {
	if acc, ok := f.accounts[userID]; ok {
		return acc, nil
	}
	return &model.Account{UserID: userID}, nil
}
func (f *fakeLedger) History(ctx context.Context, userID string, limit int) ([]*model.LedgerEntry, error) {
	return []*model.LedgerEntry{{ID: "01H", UserID: userID, Delta: -30, BalanceAfter: 70, Reason: model.LedgerReasonJobCharge, CorrelationID: "job-1"}}, nil
}

type fakeRefunds struct {
	adjusted map[string]int64
}

func (f *fakeRefunds) OnFailure(ctx context.Context, tx repository.Tx, job *model.Job) (int64, error) {
	return 0, nil
}
func (f *fakeRefunds) OpenDispute(ctx context.Context, userID, jobID, reason string) (*model.ReviewItem, error) {
	return model.NewReviewItem(jobID, userID, model.ReviewDispute, reason)
}
func (f *fakeRefunds) Adjust(ctx context.Context, jobID string, amount int64, reason, operator string) (int64, error) {
	f.adjusted[jobID] += amount
	return amount, nil
}
func (f *fakeRefunds) ResolveReview(ctx context.Context, reviewID string, amount int64, note, operator string) (*model.ReviewItem, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeRefunds) ListOpenReviews(ctx context.Context, limit int) ([]*model.ReviewItem, error) {
	return nil, nil
}

type fakeBilling struct {
	handled []model.BillingEvent
	err     error
}

func (f *fakeBilling) Handle(ctx context.Context, ev model.BillingEvent) (model.Ack, error) {
	f.handled = append(f.handled, ev)
	if f.err != nil {
		return model.Ack{}, f.err
	}
	return model.Ack{EventID: ev.ID, Outcome: model.EventOutcomeApplied}, nil
}
func (f *fakeBilling) ApplyDueDowngrades(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
func (f *fakeBilling) ExpireGracePeriods(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
func (f *fakeBilling) RefreshGauges(ctx context.Context) error { return nil }
func (f *fakeBilling) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeBilling) SeedPlans(ctx context.Context, plans []*model.Plan) error  { return nil }
func (f *fakeBilling) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	return []*model.Plan{{ID: "basic", Name: "Basic", Rank: 1, MonthlyCredits: 100, AnnualCredits: 1200}}, nil
}

type fakeWebhooks struct {
	calls   int
	eventID string
	err     error
}

func (f *fakeWebhooks) Ingest(ctx context.Context, provider, eventID string, payload []byte) (model.Ack, error) {
	f.calls++
	f.eventID = eventID
	if f.err != nil {
		return model.Ack{}, f.err
	}
	return model.Ack{EventID: "evt-1", Outcome: model.EventOutcomeApplied, JobID: "job-1"}, nil
}

type fakeParser struct {
	err error
}

func (f *fakeParser) Parse(payload []byte, signature string) (model.BillingEvent, error) {
	if f.err != nil {
		return model.BillingEvent{}, f.err
	}
	return model.BillingEvent{ID: "evt_b", Type: model.BillingRenewalPaid}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }
