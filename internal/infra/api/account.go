package api

import (
	"errors"
	"net/http"
	"time"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/usecase"
)

type subscriptionView struct {
	PlanID           string     `json:"plan_id"`
	Period           string     `json:"period"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	GracePeriodEnd   *time.Time `json:"grace_period_end,omitempty"`
	PendingDowngrade *string    `json:"pending_downgrade,omitempty"`
}

type accountView struct {
	UserID       string            `json:"user_id"`
	Balance      int64             `json:"balance"`
	TokensTotal  int64             `json:"tokens_total"`
	Subscription *subscriptionView `json:"subscription,omitempty"`
}

type ledgerEntryView struct {
	ID            string    `json:"id"`
	Delta         int64     `json:"delta"`
	BalanceAfter  int64     `json:"balance_after"`
	Reason        string    `json:"reason"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func accountHandler(ledger usecase.LedgerUseCase, billing usecase.BillingUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := claimsFrom(r.Context()).Subject
		acc, err := ledger.Balance(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		view := accountView{UserID: acc.UserID, Balance: acc.Balance, TokensTotal: acc.TokensTotal}
		if billing != nil {
			sub, err := billing.GetSubscription(r.Context(), userID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
			case err != nil:
				writeError(w, r, err)
				return
			default:
				view.Subscription = toSubscriptionView(sub)
			}
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func toSubscriptionView(s *model.Subscription) *subscriptionView {
	return &subscriptionView{
		PlanID:           s.PlanID,
		Period:           string(s.Period),
		Status:           string(s.Status),
		CurrentPeriodEnd: s.CurrentPeriodEnd,
		GracePeriodEnd:   s.GracePeriodEnd,
		PendingDowngrade: s.PendingDowngradePlan,
	}
}

func ledgerHistoryHandler(ledger usecase.LedgerUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := ledger.History(r.Context(), claimsFrom(r.Context()).Subject, queryLimit(r, 50, 500))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]ledgerEntryView, 0, len(entries))
		for _, e := range entries {
			out = append(out, ledgerEntryView{
				ID:            e.ID,
				Delta:         e.Delta,
				BalanceAfter:  e.BalanceAfter,
				Reason:        string(e.Reason),
				CorrelationID: e.CorrelationID,
				Note:          e.Note,
				CreatedAt:     e.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": out})
	}
}

type planView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Rank           int    `json:"rank"`
	MonthlyCredits int64  `json:"monthly_credits"`
	AnnualCredits  int64  `json:"annual_credits"`
}

func plansHandler(billing usecase.BillingUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := billing.ListPlans(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]planView, 0, len(plans))
		for _, p := range plans {
			out = append(out, planView{
				ID:             p.ID,
				Name:           p.Name,
				Rank:           p.Rank,
				MonthlyCredits: p.MonthlyCredits,
				AnnualCredits:  p.AnnualCredits,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"plans": out})
	}
}
