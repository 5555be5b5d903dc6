package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
	"render-credit-platform/internal/usecase"
)

type adjustRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Reason string `json:"reason" validate:"required,max=2000"`
}

type resolveRequest struct {
	RefundAmount int64  `json:"refund_amount" validate:"gte=0"`
	Note         string `json:"note" validate:"required,max=2000"`
}

type grantRequest struct {
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference" validate:"required,max=128"`
	Note      string `json:"note" validate:"max=2000"`
}

type reviewView struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	UserID       string     `json:"user_id"`
	Kind         string     `json:"kind"`
	Reason       string     `json:"reason"`
	Status       string     `json:"status"`
	Resolution   string     `json:"resolution,omitempty"`
	RefundAmount int64      `json:"refund_amount"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

func toReviewView(it *model.ReviewItem) reviewView {
	return reviewView{
		ID:           it.ID,
		JobID:        it.JobID,
		UserID:       it.UserID,
		Kind:         string(it.Kind),
		Reason:       it.Reason,
		Status:       string(it.Status),
		Resolution:   it.Resolution,
		RefundAmount: it.RefundAmount,
		ResolvedBy:   it.ResolvedBy,
		CreatedAt:    it.CreatedAt,
		ResolvedAt:   it.ResolvedAt,
	}
}

func adjustJobHandler(refunds usecase.RefundUseCase, v *validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adjustRequest
		if err := v.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		refunded, err := refunds.Adjust(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reason, claimsFrom(r.Context()).Subject)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"refunded": refunded})
	}
}

func listReviewsHandler(refunds usecase.RefundUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := refunds.ListOpenReviews(r.Context(), queryLimit(r, 50, 200))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]reviewView, 0, len(items))
		for _, it := range items {
			out = append(out, toReviewView(it))
		}
		writeJSON(w, http.StatusOK, map[string]any{"reviews": out})
	}
}

func resolveReviewHandler(refunds usecase.RefundUseCase, v *validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if err := v.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		item, err := refunds.ResolveReview(r.Context(), chi.URLParam(r, "id"), req.RefundAmount, req.Note, claimsFrom(r.Context()).Subject)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toReviewView(item))
	}
}

// grantHandler credits a user outside any plan. Reference makes the grant
// idempotent: replaying it conflicts instead of paying twice.
func grantHandler(ledger usecase.LedgerUseCase, v *validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req grantRequest
		if err := v.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		note := req.Note
		if note == "" {
			note = "granted by " + claimsFrom(r.Context()).Subject
		}
		balance, err := ledger.Credit(r.Context(), repository.NoTX, chi.URLParam(r, "user"), req.Amount,
			model.LedgerReasonManualGrant, "grant:"+req.Reference, note)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
	}
}
