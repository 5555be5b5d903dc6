//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
	"render-credit-platform/internal/usecase"
)

func TestReconcile_RunningIsRescheduledWithBackoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.grant(t, testUser, 100)
	job := h.createImageJob(t, testUser)

	now := time.Now().Add(2 * time.Minute)
	stats, err := h.reconcile.ReconcileDue(ctx, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.Due != 1 || stats.Rescheduled != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	j := h.jobs.get(job.ID)
	if j.PollCount != 1 {
		t.Errorf("expected poll_count 1, got %d", j.PollCount)
	}
	if j.NextPollAt == nil || !j.NextPollAt.Equal(now.Add(15*time.Second)) {
		t.Errorf("expected next poll in 15s, got %v", j.NextPollAt)
	}

	now = *j.NextPollAt
	if _, err := h.reconcile.ReconcileDue(ctx, now); err != nil {
		t.Fatal(err)
	}
	if j = h.jobs.get(job.ID); !j.NextPollAt.Equal(now.Add(30 * time.Second)) {
		t.Errorf("expected doubled interval, got %v", j.NextPollAt.Sub(now))
	}

	stats, err = h.reconcile.ReconcileDue(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Due != 0 {
		t.Errorf("job is not due yet, got %+v", stats)
	}
}

func TestReconcile_PollCompletesJob(t *testing.T) {
	h := newHarness(t)
	h.grant(t, testUser, 100)
	h.provider.PollFunc = func(context.Context, string) (model.Observation, error) {
		return model.Observation{State: model.ObservedSucceeded, ArtifactURL: "https://cdn/poll.png"}, nil
	}
	job := h.createImageJob(t, testUser)

	stats, err := h.reconcile.ReconcileDue(context.Background(), time.Now().Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 {
		t.Errorf("expected one completion, got %+v", stats)
	}
	j := h.jobs.get(job.ID)
	if j.Status != model.JobStatusComplete || *j.ArtifactURL != "https://cdn/poll.png" {
		t.Errorf("unexpected job %s %v", j.Status, j.ArtifactURL)
	}
	if got := h.accounts.balance(testUser); got != 70 {
		t.Errorf("completed job keeps its charge, balance %d", got)
	}
}

func TestReconcile_CeilingExpiresAndRefunds(t *testing.T) {
	h := newHarness(t)
	h.grant(t, testUser, 100)
	job := h.createImageJob(t, testUser)

	stats, err := h.reconcile.ReconcileDue(context.Background(), time.Now().Add(31*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Expired != 1 {
		t.Errorf("expected one expiry, got %+v", stats)
	}
	if h.provider.Polls != 0 {
		t.Error("expired jobs are not polled")
	}
	j := h.jobs.get(job.ID)
	if j.Status != model.JobStatusExpired || j.RefundedAmount != 30 {
		t.Errorf("unexpected job %s refunded=%d", j.Status, j.RefundedAmount)
	}
	if got := h.accounts.balance(testUser); got != 100 {
		t.Errorf("expected refund to 100, got %d", got)
	}
	if len(h.reviews.byKind(model.ReviewExpired)) != 1 || h.notifier.count(adapter.AlertJobExpired) != 1 {
		t.Error("expiry must open a review and alert operators")
	}
}

func TestReconcile_LateFailureAfterExpiryIsNotAConflict(t *testing.T) {
	h := newHarness(t)
	h.grant(t, testUser, 100)
	job := h.createImageJob(t, testUser)

	if _, err := h.reconcile.ReconcileDue(context.Background(), time.Now().Add(31*time.Minute)); err != nil {
		t.Fatal(err)
	}
	ack, err := h.webhooks.Ingest(context.Background(), testProvider, "late-fail", hookPayload("task-"+job.ID, model.ObservedFailed, ""))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ack.Outcome != model.EventOutcomeNoop {
		t.Errorf("expected noop, got %s", ack.Outcome)
	}
	if j := h.jobs.get(job.ID); j.Status != model.JobStatusExpired {
		t.Errorf("status must stay expired, got %s", j.Status)
	}
	if n := len(h.reviews.byKind(model.ReviewConflictingOutcome)); n != 0 {
		t.Errorf("failed after expired must not open a conflict review, got %d", n)
	}
	if h.notifier.count(adapter.AlertConflictingResult) != 0 {
		t.Error("unexpected conflict alert")
	}
	if got := h.accounts.balance(testUser); got != 100 {
		t.Errorf("refund must not repeat, balance %d", got)
	}
}

func TestReconcile_UnknownHandle(t *testing.T) {
	h := newHarness(t)
	h.grant(t, testUser, 100)
	h.provider.PollFunc = func(context.Context, string) (model.Observation, error) {
		return model.Observation{State: model.ObservedUnknown}, nil
	}
	job := h.createImageJob(t, testUser)

	if _, err := h.reconcile.ReconcileDue(context.Background(), time.Now().Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if j := h.jobs.get(job.ID); j.Status != model.JobStatusAwaitingCompletion {
		t.Fatalf("young unknown job must wait, got %s", j.Status)
	}

	stats, err := h.reconcile.ReconcileDue(context.Background(), time.Now().Add(16*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 {
		t.Errorf("expected failure past max wait, got %+v", stats)
	}
	if got := h.accounts.balance(testUser); got != 100 {
		t.Errorf("expected refund, balance %d", got)
	}
}

func TestReconcile_WebhookAndPollConverge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.grant(t, testUser, 100)
	h.provider.PollFunc = func(context.Context, string) (model.Observation, error) {
		return model.Observation{State: model.ObservedSucceeded, ArtifactURL: "https://cdn/a.png"}, nil
	}
	job := h.createImageJob(t, testUser)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := h.reconcile.ReconcileDue(ctx, time.Now().Add(2*time.Minute)); err != nil {
			t.Errorf("reconcile: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := h.webhooks.Ingest(ctx, testProvider, "w1", hookPayload("task-"+job.ID, model.ObservedSucceeded, "https://cdn/a.png")); err != nil {
			t.Errorf("webhook: %v", err)
		}
	}()
	wg.Wait()

	j := h.jobs.get(job.ID)
	if j.Status != model.JobStatusComplete || *j.ArtifactURL != "https://cdn/a.png" {
		t.Errorf("unexpected job %s %v", j.Status, j.ArtifactURL)
	}
	if n := len(h.reviews.byKind(model.ReviewConflictingOutcome)); n != 0 {
		t.Errorf("agreeing channels must not open reviews, got %d", n)
	}
	if got := h.accounts.balance(testUser); got != 70 {
		t.Errorf("expected 70, got %d", got)
	}
}

func TestReconcile_SkipsJobsLockedElsewhere(t *testing.T) {
	h := newHarness(t)
	h.grant(t, testUser, 100)
	job := h.createImageJob(t, testUser)
	if _, err := h.locker.TryLock(context.Background(), "lock:poll:"+job.ID, time.Minute); err != nil {
		t.Fatal(err)
	}

	stats, err := h.reconcile.ReconcileDue(context.Background(), time.Now().Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 || h.provider.Polls != 0 {
		t.Errorf("expected a skip without polling, got %+v polls=%d", stats, h.provider.Polls)
	}
}

func TestReconcile_SweepStaleCharged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.grant(t, testUser, 100)

	old := time.Now().Add(-time.Hour)
	job, err := model.NewJob(testUser, testProvider, model.ContentPromptToImage, "", "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	job.Status, job.Cost, job.ChargedAt = model.JobStatusCharged, 30, &old
	if err := h.jobs.Create(ctx, nil, job); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.Debit(ctx, nil, testUser, 30, model.LedgerReasonJobCharge, job.ID); err != nil {
		t.Fatal(err)
	}

	n, err := h.reconcile.SweepStaleCharged(ctx, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("expected one swept job, got %d, %v", n, err)
	}
	if j := h.jobs.get(job.ID); j.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", j.Status)
	}
	if got := h.accounts.balance(testUser); got != 100 {
		t.Errorf("expected refund, balance %d", got)
	}

	if n, _ := h.reconcile.SweepStaleCharged(ctx, time.Now()); n != 0 {
		t.Errorf("second sweep must find nothing, got %d", n)
	}
}

func TestNextPollAt_ClampedToCeiling(t *testing.T) {
	dispatched := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	job := &model.Job{CreatedAt: dispatched, DispatchedAt: &dispatched, PollCount: 3}

	now := dispatched.Add(10 * time.Minute)
	if got := usecase.NextPollAt(job, now, 15*time.Second, 5*time.Minute, 30*time.Minute); !got.Equal(now.Add(2 * time.Minute)) {
		t.Errorf("expected 2m backoff, got %v", got.Sub(now))
	}

	now = dispatched.Add(29*time.Minute + 30*time.Second)
	if got := usecase.NextPollAt(job, now, 15*time.Second, 5*time.Minute, 30*time.Minute); !got.Equal(dispatched.Add(30 * time.Minute)) {
		t.Errorf("expected clamp to ceiling, got %v", got)
	}
}
