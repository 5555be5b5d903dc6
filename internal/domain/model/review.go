package model

import (
	"time"

	"github.com/google/uuid"

	"render-credit-platform/internal/domain"
)

type ReviewKind string

const (
	ReviewDispute            ReviewKind = "dispute"
	ReviewConflictingOutcome ReviewKind = "conflicting_outcome"
	ReviewExpired            ReviewKind = "expired"
)

type ReviewStatus string

const (
	ReviewOpen     ReviewStatus = "open"
	ReviewResolved ReviewStatus = "resolved"
)

// ReviewItem is an entry in the operator queue for cases that must not auto-resolve.
type ReviewItem struct {
	ID           string
	JobID        string
	UserID       string
	Kind         ReviewKind
	Reason       string
	Status       ReviewStatus
	Resolution   string
	RefundAmount int64
	ResolvedBy   string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

func NewReviewItem(jobID, userID string, kind ReviewKind, reason string) (*ReviewItem, error) {
	if jobID == "" || reason == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &ReviewItem{
		ID:        uuid.NewString(),
		JobID:     jobID,
		UserID:    userID,
		Kind:      kind,
		Reason:    reason,
		Status:    ReviewOpen,
		CreatedAt: time.Now(),
	}, nil
}
