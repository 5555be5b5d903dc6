package repository

import (
	"context"
	"time"

	"render-credit-platform/internal/domain/model"
)

type JobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.Job) error
	// FindByID returns the job; inside a tx the row is locked FOR UPDATE.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	FindByHandle(ctx context.Context, tx Tx, provider, handle string) (*model.Job, error)
	// FindLatestComplete returns the newest complete job of a user for a resource.
	FindLatestComplete(ctx context.Context, tx Tx, userID, resourceID string) (*model.Job, error)

	// Transition moves the job to `to` only while its status is one of `from`.
	// It returns false when the row was no longer in a pre-state (a lost race).
	Transition(ctx context.Context, tx Tx, id string, from []model.JobStatus, to model.JobStatus, patch model.JobPatch) (bool, error)

	// Reschedule updates polling bookkeeping without touching the status.
	Reschedule(ctx context.Context, tx Tx, id string, nextPollAt time.Time, pollCount int) error
	// UpdateEstimate rewrites prompt/size/cost of a job still awaiting approval.
	UpdateEstimate(ctx context.Context, tx Tx, id, prompt string, size, cost int64) (bool, error)
	// AddRefunded increments refunded_amount while it stays within cost.
	AddRefunded(ctx context.Context, tx Tx, id string, amount int64) (bool, error)

	ListDuePolls(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Job, error)
	ListStaleCharged(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Job, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Job, error)
}
