//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
	"render-credit-platform/internal/domain/ports/repository"
	red "render-credit-platform/internal/infra/redis"
	"render-credit-platform/internal/infra/worker"
	"render-credit-platform/internal/usecase"
)

// -----------------------------
// Utilities
// -----------------------------

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func ptr[T any](v T) *T { return &v }

// =============================
// In-memory store with rollback
// =============================

type memStore struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	entries  []model.LedgerEntry
	jobs     map[string]model.Job
	events   map[string]model.ProcessedEvent
	subs     map[string]model.Subscription
	plans    map[string]model.Plan
	reviews  map[string]model.ReviewItem
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[string]model.Account{},
		jobs:     map[string]model.Job{},
		events:   map[string]model.ProcessedEvent{},
		subs:     map[string]model.Subscription{},
		plans:    map[string]model.Plan{},
		reviews:  map[string]model.ReviewItem{},
	}
}

type memSnapshot struct {
	accounts map[string]model.Account
	entries  []model.LedgerEntry
	jobs     map[string]model.Job
	events   map[string]model.ProcessedEvent
	subs     map[string]model.Subscription
	plans    map[string]model.Plan
	reviews  map[string]model.ReviewItem
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memSnapshot{
		accounts: copyMap(s.accounts),
		entries:  append([]model.LedgerEntry(nil), s.entries...),
		jobs:     copyMap(s.jobs),
		events:   copyMap(s.events),
		subs:     copyMap(s.subs),
		plans:    copyMap(s.plans),
		reviews:  copyMap(s.reviews),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts, s.entries, s.jobs = snap.accounts, snap.entries, snap.jobs
	s.events, s.subs, s.plans, s.reviews = snap.events, snap.subs, snap.plans, snap.reviews
}

// ---- MockTxManager ----

type memTx struct{}

// MockTxManager serializes transactions and restores the store when fn fails.
type MockTxManager struct {
	txMu      sync.Mutex
	store     *memStore
	mu        sync.Mutex
	Commits   int
	Rollbacks int
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager(store *memStore) *MockTxManager {
	return &MockTxManager{store: store}
}

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.store.snapshot()
	err := fn(ctx, &memTx{})
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.store.restore(snap)
		m.Rollbacks++
		return err
	}
	m.Commits++
	return nil
}

// ---- AccountRepository ----

type memAccounts struct{ s *memStore }

var _ repository.AccountRepository = (*memAccounts)(nil)

func (r *memAccounts) FindByUser(_ context.Context, _ repository.Tx, userID string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r *memAccounts) ApplyDelta(_ context.Context, _ repository.Tx, userID string, delta int64, grantTotal bool) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[userID]
	if delta < 0 && (!ok || a.Balance+delta < 0) {
		return 0, domain.ErrInsufficientFunds
	}
	if !ok {
		a = model.Account{UserID: userID, CreatedAt: time.Now()}
	}
	a.Balance += delta
	if grantTotal && delta > 0 {
		a.TokensTotal += delta
	}
	a.UpdatedAt = time.Now()
	r.s.accounts[userID] = a
	return a.Balance, nil
}

func onceReason(r model.LedgerReason) bool {
	return r == model.LedgerReasonJobCharge || r == model.LedgerReasonJobRefund || r == model.LedgerReasonGraceRestore
}

func (r *memAccounts) AppendEntry(_ context.Context, _ repository.Tx, e *model.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if onceReason(e.Reason) {
		for _, x := range r.s.entries {
			if x.Reason == e.Reason && x.CorrelationID == e.CorrelationID {
				return domain.ErrDuplicateEvent
			}
		}
	}
	r.s.entries = append(r.s.entries, *e)
	return nil
}

func (r *memAccounts) ListEntries(_ context.Context, _ repository.Tx, userID string, limit int) ([]*model.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.LedgerEntry
	for i := len(r.s.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if e := r.s.entries[i]; e.UserID == userID {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (r *memAccounts) SumEntriesByCorrelation(_ context.Context, _ repository.Tx, correlationID string, reason model.LedgerReason) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sum int64
	for _, e := range r.s.entries {
		if e.CorrelationID == correlationID && e.Reason == reason {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (r *memAccounts) balance(userID string) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.accounts[userID].Balance
}

func (r *memAccounts) entriesFor(userID string) []model.LedgerEntry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.LedgerEntry
	for _, e := range r.s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// ---- JobRepository ----

type memJobs struct{ s *memStore }

var _ repository.JobRepository = (*memJobs)(nil)

func (r *memJobs) Create(_ context.Context, _ repository.Tx, job *model.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.jobs[job.ID] = *job
	return nil
}

func (r *memJobs) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (r *memJobs) FindByHandle(_ context.Context, _ repository.Tx, provider, handle string) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, j := range r.s.jobs {
		if j.Provider == provider && j.Handle() == handle {
			return &j, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memJobs) FindLatestComplete(_ context.Context, _ repository.Tx, userID, resourceID string) (*model.Job, error) {
	if resourceID == "" {
		return nil, domain.ErrNotFound
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *model.Job
	for _, j := range r.s.jobs {
		if j.UserID != userID || j.ResourceID != resourceID || j.Status != model.JobStatusComplete {
			continue
		}
		if best == nil || (j.CompletedAt != nil && best.CompletedAt != nil && j.CompletedAt.After(*best.CompletedAt)) {
			j := j
			best = &j
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best, nil
}

func (r *memJobs) Transition(_ context.Context, _ repository.Tx, id string, from []model.JobStatus, to model.JobStatus, p model.JobPatch) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return false, nil
	}
	match := false
	for _, f := range from {
		if j.Status == f {
			match = true
		}
	}
	if !match {
		return false, nil
	}
	j.Status = to
	if p.ExternalHandle != nil {
		j.ExternalHandle = p.ExternalHandle
	}
	if p.ArtifactURL != nil {
		j.ArtifactURL = p.ArtifactURL
	}
	if p.LastError != nil {
		j.LastError = *p.LastError
	}
	if p.Cost != nil {
		j.Cost = *p.Cost
	}
	if p.ChargedAt != nil {
		j.ChargedAt = p.ChargedAt
	}
	if p.DispatchedAt != nil {
		j.DispatchedAt = p.DispatchedAt
	}
	if p.CompletedAt != nil {
		j.CompletedAt = p.CompletedAt
	}
	if p.NextPollAt != nil {
		j.NextPollAt = p.NextPollAt
	}
	if to.IsTerminal() {
		j.NextPollAt = nil
	}
	j.Attempts += p.AddAttempts
	j.UpdatedAt = time.Now()
	r.s.jobs[id] = j
	return true, nil
}

func (r *memJobs) Reschedule(_ context.Context, _ repository.Tx, id string, next time.Time, pollCount int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok || !j.Status.InFlight() {
		return nil
	}
	j.NextPollAt = &next
	j.PollCount = pollCount
	r.s.jobs[id] = j
	return nil
}

func (r *memJobs) UpdateEstimate(_ context.Context, _ repository.Tx, id, prompt string, size, cost int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok || j.Status != model.JobStatusAwaitingApproval {
		return false, nil
	}
	j.Prompt, j.Size, j.Cost = prompt, size, cost
	r.s.jobs[id] = j
	return true, nil
}

func (r *memJobs) AddRefunded(_ context.Context, _ repository.Tx, id string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, domain.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok || j.RefundedAmount+amount > j.Cost {
		return false, nil
	}
	j.RefundedAmount += amount
	r.s.jobs[id] = j
	return true, nil
}

func (r *memJobs) ListDuePolls(_ context.Context, _ repository.Tx, now time.Time, limit int) ([]*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Job
	for _, j := range r.s.jobs {
		if j.Status.InFlight() && (j.NextPollAt == nil || !j.NextPollAt.After(now)) {
			j := j
			out = append(out, &j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memJobs) ListStaleCharged(_ context.Context, _ repository.Tx, olderThan time.Time, limit int) ([]*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Job
	for _, j := range r.s.jobs {
		if j.Status == model.JobStatusCharged && j.ChargedAt != nil && !j.ChargedAt.After(olderThan) {
			j := j
			out = append(out, &j)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memJobs) ListByUser(_ context.Context, _ repository.Tx, userID string, limit int) ([]*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Job
	for _, j := range r.s.jobs {
		if j.UserID == userID {
			j := j
			out = append(out, &j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memJobs) get(id string) model.Job {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.jobs[id]
}

func (r *memJobs) count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.jobs)
}

// ---- EventRepository ----

type memEvents struct{ s *memStore }

var _ repository.EventRepository = (*memEvents)(nil)

func eventKey(source, id string) string { return source + "|" + id }

func (r *memEvents) Reserve(_ context.Context, _ repository.Tx, source, eventID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := eventKey(source, eventID)
	if _, ok := r.s.events[k]; ok {
		return false, nil
	}
	r.s.events[k] = model.ProcessedEvent{Source: source, EventID: eventID, Outcome: model.EventOutcomeReserved, ProcessedAt: time.Now()}
	return true, nil
}

func (r *memEvents) Complete(_ context.Context, _ repository.Tx, source, eventID string, outcome model.EventOutcome, jobID *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := eventKey(source, eventID)
	e, ok := r.s.events[k]
	if !ok {
		return domain.ErrNotFound
	}
	e.Outcome, e.JobID = outcome, jobID
	r.s.events[k] = e
	return nil
}

func (r *memEvents) Find(_ context.Context, _ repository.Tx, source, eventID string) (*model.ProcessedEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[eventKey(source, eventID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

// ---- SubscriptionRepository ----

type memSubs struct{ s *memStore }

var _ repository.SubscriptionRepository = (*memSubs)(nil)

func (r *memSubs) Save(_ context.Context, _ repository.Tx, sub *model.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.subs[sub.UserID] = *sub
	return nil
}

func (r *memSubs) FindByUser(_ context.Context, _ repository.Tx, userID string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.subs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (r *memSubs) ListDueDowngrades(_ context.Context, _ repository.Tx, now time.Time, _ int) ([]*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.s.subs {
		if s.DowngradeDue(now) {
			s := s
			out = append(out, &s)
		}
	}
	return out, nil
}

func (r *memSubs) ListExpiredGrace(_ context.Context, _ repository.Tx, now time.Time, _ int) ([]*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.s.subs {
		if s.Status == model.SubscriptionStatusGracePeriod && s.GracePeriodEnd != nil && !s.GracePeriodEnd.After(now) {
			s := s
			out = append(out, &s)
		}
	}
	return out, nil
}

func (r *memSubs) CountByStatus(_ context.Context, _ repository.Tx) (map[model.SubscriptionStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.SubscriptionStatus]int{}
	for _, s := range r.s.subs {
		out[s.Status]++
	}
	return out, nil
}

// ---- PlanRepository ----

type memPlans struct{ s *memStore }

var _ repository.PlanRepository = (*memPlans)(nil)

func (r *memPlans) Save(_ context.Context, _ repository.Tx, p *model.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.plans[p.ID] = *p
	return nil
}

func (r *memPlans) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *memPlans) FindByPriceID(_ context.Context, _ repository.Tx, priceID string) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.plans {
		for _, id := range p.PriceIDs {
			if id == priceID {
				return &p, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memPlans) ListAll(_ context.Context, _ repository.Tx) ([]*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Plan
	for _, p := range r.s.plans {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Rank < out[b].Rank })
	return out, nil
}

// ---- ReviewRepository ----

type memReviews struct{ s *memStore }

var _ repository.ReviewRepository = (*memReviews)(nil)

func (r *memReviews) Create(_ context.Context, _ repository.Tx, item *model.ReviewItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.reviews[item.ID] = *item
	return nil
}

func (r *memReviews) FindByID(_ context.Context, _ repository.Tx, id string) (*model.ReviewItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.reviews[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &it, nil
}

func (r *memReviews) ListOpen(_ context.Context, _ repository.Tx, limit int) ([]*model.ReviewItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.ReviewItem
	for _, it := range r.s.reviews {
		if it.Status == model.ReviewOpen {
			it := it
			out = append(out, &it)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memReviews) Resolve(_ context.Context, _ repository.Tx, item *model.ReviewItem) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.reviews[item.ID]
	if !ok || cur.Status != model.ReviewOpen {
		return false, nil
	}
	r.s.reviews[item.ID] = *item
	return true, nil
}

func (r *memReviews) byKind(kind model.ReviewKind) []model.ReviewItem {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ReviewItem
	for _, it := range r.s.reviews {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

// =============================
// Adapters
// =============================

// ---- Fake render provider ----

type webhookBody struct {
	TaskID      string `json:"task_id"`
	State       string `json:"state"`
	ArtifactURL string `json:"artifact_url"`
	Error       string `json:"error"`
	EventID     string `json:"event_id"`
}

func hookPayload(handle string, state model.ObservedState, artifact string) []byte {
	b, _ := json.Marshal(webhookBody{TaskID: handle, State: string(state), ArtifactURL: artifact})
	return b
}

type MockProvider struct {
	name string

	mu      sync.Mutex
	Submits int
	Polls   int

	SubmitFunc func(ctx context.Context, req adapter.SubmitRequest) (adapter.Submission, error)
	PollFunc   func(ctx context.Context, handle string) (model.Observation, error)
}

var _ adapter.RenderProvider = (*MockProvider)(nil)

func newMockProvider(name string) *MockProvider { return &MockProvider{name: name} }

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Submit(ctx context.Context, req adapter.SubmitRequest) (adapter.Submission, error) {
	p.mu.Lock()
	p.Submits++
	p.mu.Unlock()
	if p.SubmitFunc != nil {
		return p.SubmitFunc(ctx, req)
	}
	return adapter.Submission{Handle: "task-" + req.JobID}, nil
}

func (p *MockProvider) Poll(ctx context.Context, handle string, _ model.ContentType) (model.Observation, error) {
	p.mu.Lock()
	p.Polls++
	p.mu.Unlock()
	if p.PollFunc != nil {
		return p.PollFunc(ctx, handle)
	}
	return model.Observation{State: model.ObservedRunning}, nil
}

func (p *MockProvider) ParseWebhook(payload []byte) (adapter.WebhookEvent, error) {
	var b webhookBody
	if err := json.Unmarshal(payload, &b); err != nil {
		return adapter.WebhookEvent{}, domain.ErrMalformedPayload
	}
	return adapter.WebhookEvent{
		Handle:      b.TaskID,
		EventID:     b.EventID,
		Observation: model.Observation{State: model.ObservedState(b.State), ArtifactURL: b.ArtifactURL, Error: b.Error},
	}, nil
}

func (p *MockProvider) submits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Submits
}

type mockRegistry map[string]adapter.RenderProvider

func (r mockRegistry) Get(name string) (adapter.RenderProvider, bool) {
	p, ok := r[name]
	return p, ok
}

func (r mockRegistry) Names() []string {
	out := make([]string, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ---- Asset checker, sizer, notifier ----

type mockAssets struct{ unreachable map[string]bool }

func (a *mockAssets) Check(_ context.Context, url string) error {
	if a.unreachable[url] {
		return fmt.Errorf("HEAD %s: 404", url)
	}
	return nil
}

// wordSizer counts runes for characters and whitespace-separated words for tokens.
type wordSizer struct{}

func (wordSizer) Measure(m model.SizeMeasure, text string) (int64, error) {
	if m == model.MeasureTokens {
		return int64(len(strings.Fields(text))), nil
	}
	return int64(len([]rune(text))), nil
}

type MockNotifier struct {
	mu     sync.Mutex
	Alerts []adapter.Alert
}

func (n *MockNotifier) Notify(_ context.Context, a adapter.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Alerts = append(n.Alerts, a)
	return nil
}

func (n *MockNotifier) count(kind adapter.AlertKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, a := range n.Alerts {
		if a.Kind == kind {
			c++
		}
	}
	return c
}

// ---- In-memory Locker (implements redis.Locker port) ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string
}

var _ red.Locker = (*MockLocker)(nil)

func newMockLocker() *MockLocker { return &MockLocker{held: map[string]string{}} }

func (l *MockLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", red.ErrLockHeld
	}
	token := fmt.Sprintf("tok-%d", len(l.held)+1)
	l.held[key] = token
	return token, nil
}

func (l *MockLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// ---- Rate limiter ----

type mockLimiter struct {
	mu    sync.Mutex
	count map[string]int
}

func (m *mockLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == nil {
		m.count = map[string]int{}
	}
	m.count[key]++
	return m.count[key] <= limit, nil
}

// =============================
// Harness
// =============================

const (
	testUser     = "user-1"
	testProvider = "kie_ai"
	syncProvider = "openai"
)

func testPolicy() *model.PricingPolicy {
	return &model.PricingPolicy{
		Rounding: model.RoundCeil,
		Rules: map[model.ContentType]model.PricingRule{
			model.ContentPromptToImage: {Measure: model.MeasureImages, ChunkSize: 1, ChunkPrice: decimal.NewFromInt(30)},
			model.ContentImageToVideo:  {Measure: model.MeasureSeconds, ChunkSize: 5, ChunkPrice: decimal.NewFromInt(25)},
			model.ContentPromptToAudio: {Measure: model.MeasureCharacters, ChunkSize: 100, ChunkPrice: decimal.NewFromInt(10), MinCharge: 10},
		},
		ModelMultipliers: map[string]decimal.Decimal{"premium": decimal.NewFromInt(2)},
	}
}

type harness struct {
	store    *memStore
	tm       *MockTxManager
	accounts *memAccounts
	jobs     *memJobs
	events   *memEvents
	subs     *memSubs
	plans    *memPlans
	reviews  *memReviews

	provider *MockProvider
	sync     *MockProvider
	assets   *mockAssets
	notifier *MockNotifier
	locker   *MockLocker
	limiter  *mockLimiter

	ledger    usecase.LedgerUseCase
	pricing   usecase.PricingUseCase
	dispatch  usecase.DispatchUseCase
	lifecycle *usecase.Lifecycle
	refunds   usecase.RefundUseCase
	jobUC     usecase.JobUseCase
	webhooks  usecase.WebhookUseCase
	reconcile usecase.ReconcileUseCase
	billing   usecase.BillingUseCase
	clock     *testClock
	settings  usecase.ReconcileSettings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := newTestLogger()
	store := newMemStore()
	h := &harness{
		store:    store,
		tm:       NewMockTxManager(store),
		accounts: &memAccounts{store},
		jobs:     &memJobs{store},
		events:   &memEvents{store},
		subs:     &memSubs{store},
		plans:    &memPlans{store},
		reviews:  &memReviews{store},
		provider: newMockProvider(testProvider),
		sync:     newMockProvider(syncProvider),
		assets:   &mockAssets{unreachable: map[string]bool{}},
		notifier: &MockNotifier{},
		locker:   newMockLocker(),
		limiter:  &mockLimiter{},
		clock:    newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.sync.SubmitFunc = func(_ context.Context, req adapter.SubmitRequest) (adapter.Submission, error) {
		return adapter.Submission{Immediate: &model.Observation{State: model.ObservedSucceeded, ArtifactURL: "https://cdn/" + req.JobID + ".png"}}, nil
	}
	registry := mockRegistry{testProvider: h.provider, syncProvider: h.sync}

	h.ledger = usecase.NewLedgerUseCase(h.accounts, h.tm, log)
	h.pricing = usecase.NewPricingUseCase(testPolicy(), wordSizer{})
	h.dispatch = usecase.NewDispatchUseCase(registry, h.assets, usecase.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}, time.Second, "https://api.example.com", log)
	h.refunds = usecase.NewRefundUseCase(h.jobs, h.reviews, h.ledger, h.notifier, h.tm, log)
	h.lifecycle = usecase.NewLifecycle(h.jobs, h.reviews, h.refunds, h.notifier, log)
	h.jobUC = usecase.NewJobUseCase(h.jobs, h.ledger, h.pricing, h.dispatch, h.lifecycle, h.refunds,
		h.limiter, usecase.JobLimits{PerWindow: 1000, Window: time.Minute}, time.Minute, h.tm, log)
	h.webhooks = usecase.NewWebhookUseCase(registry, h.jobs, h.events, h.lifecycle, h.tm, log)

	h.settings = usecase.ReconcileSettings{
		MaxWait:           15 * time.Minute,
		BackoffBase:       15 * time.Second,
		BackoffMax:        5 * time.Minute,
		StaleChargedAfter: 10 * time.Minute,
		BatchSize:         100,
		Ceiling:           func(model.ContentType) time.Duration { return 30 * time.Minute },
	}
	h.reconcile = usecase.NewReconcileUseCase(h.jobs, registry, h.lifecycle, worker.NewPool(4, log), h.locker, h.settings, h.tm, log)
	h.billing = usecase.NewBillingUseCase(h.subs, h.plans, h.accounts, h.events, h.ledger, h.notifier, 30*24*time.Hour, h.tm, log).
		WithClock(h.clock.Now)
	return h
}

func (h *harness) grant(t *testing.T, userID string, amount int64) {
	t.Helper()
	if _, err := h.ledger.Credit(context.Background(), nil, userID, amount, model.LedgerReasonManualGrant, "seed-"+userID, ""); err != nil {
		t.Fatalf("grant: %v", err)
	}
}

// createImageJob creates a 30-credit image job on the async provider.
func (h *harness) createImageJob(t *testing.T, userID string) *model.Job {
	t.Helper()
	res, err := h.jobUC.Create(context.Background(), usecase.CreateJobInput{
		UserID:      userID,
		Provider:    testProvider,
		ContentType: model.ContentPromptToImage,
		Model:       "flux",
		Prompt:      "a lighthouse at dusk",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return res.Job
}
