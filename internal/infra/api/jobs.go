package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/usecase"
)

type createJobRequest struct {
	Provider        string   `json:"provider" validate:"required,max=64"`
	ContentType     string   `json:"content_type" validate:"required,oneof=prompt_to_image image_editing image_to_video prompt_to_video prompt_to_audio"`
	Model           string   `json:"model" validate:"max=128"`
	Prompt          string   `json:"prompt" validate:"max=20000"`
	InputAssets     []string `json:"input_assets" validate:"max=8,dive,url"`
	Size            int64    `json:"size" validate:"gte=0"`
	ResourceID      string   `json:"resource_id" validate:"max=128"`
	ConfirmRerender bool     `json:"confirm_rerender"`
}

type reestimateRequest struct {
	Prompt string `json:"prompt" validate:"max=20000"`
	Size   int64  `json:"size" validate:"gte=0"`
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=2000"`
}

type jobView struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Provider         string     `json:"provider"`
	ContentType      string     `json:"content_type"`
	Model            string     `json:"model,omitempty"`
	Cost             int64      `json:"cost"`
	RefundedAmount   int64      `json:"refunded_amount"`
	ArtifactURL      string     `json:"artifact_url,omitempty"`
	Message          string     `json:"message"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ExistingArtifact string     `json:"existing_artifact,omitempty"`
	RerenderCost     int64      `json:"rerender_cost,omitempty"`
	Delta            *int64     `json:"delta,omitempty"`
}

func toJobView(r *http.Request, j *model.Job) jobView {
	v := jobView{
		ID:             j.ID,
		Status:         string(j.Status),
		Provider:       j.Provider,
		ContentType:    string(j.ContentType),
		Model:          j.Model,
		Cost:           j.Cost,
		RefundedAmount: j.RefundedAmount,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
	}
	if j.ArtifactURL != nil {
		v.ArtifactURL = *j.ArtifactURL
	}
	if tr := translatorFrom(r.Context()); tr != nil {
		v.Message = tr.JobMessage(j)
	}
	return v
}

func createJobHandler(jobs usecase.JobUseCase, v *validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := v.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := jobs.Create(r.Context(), usecase.CreateJobInput{
			UserID:          claimsFrom(r.Context()).Subject,
			Provider:        req.Provider,
			ContentType:     model.ContentType(req.ContentType),
			Model:           req.Model,
			Prompt:          req.Prompt,
			InputAssets:     req.InputAssets,
			Size:            req.Size,
			ResourceID:      req.ResourceID,
			ConfirmRerender: req.ConfirmRerender,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		view := toJobView(r, res.Job)
		view.ExistingArtifact = res.ExistingArtifact
		view.RerenderCost = res.RerenderCost
		writeJSON(w, http.StatusCreated, view)
	}
}

func listJobsHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := jobs.List(r.Context(), claimsFrom(r.Context()).Subject, queryLimit(r, 20, 100))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]jobView, 0, len(list))
		for _, j := range list {
			out = append(out, toJobView(r, j))
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
	}
}

func getJobHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := jobs.Get(r.Context(), claimsFrom(r.Context()).Subject, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobView(r, j))
	}
}

func confirmJobHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := jobs.Confirm(r.Context(), claimsFrom(r.Context()).Subject, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobView(r, j))
	}
}

func cancelJobHandler(jobs usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := jobs.Cancel(r.Context(), claimsFrom(r.Context()).Subject, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobView(r, j))
	}
}

func reestimateJobHandler(jobs usecase.JobUseCase, v *validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reestimateRequest
		if err := v.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := jobs.Reestimate(r.Context(), claimsFrom(r.Context()).Subject, chi.URLParam(r, "id"), req.Prompt, req.Size)
		if err != nil {
			writeError(w, r, err)
			return
		}
		view := toJobView(r, res.Job)
		view.Delta = &res.Delta
		writeJSON(w, http.StatusOK, view)
	}
}

func disputeJobHandler(refunds usecase.RefundUseCase, v *validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req disputeRequest
		if err := v.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		item, err := refunds.OpenDispute(r.Context(), claimsFrom(r.Context()).Subject, chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toReviewView(item))
	}
}

func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// decodeStrict rejects unknown fields and trailing data.
func decodeStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", domain.ErrMalformedPayload)
	}
	return nil
}
