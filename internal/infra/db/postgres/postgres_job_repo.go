package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
)

// Ensure jobRepo implements repository.JobRepository
var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, user_id, resource_id, provider, content_type, model, prompt, input_assets,
  size_measure, size, cost, refunded_amount, status, external_handle, artifact_url, last_error,
  attempts, poll_count, next_poll_at, created_at, charged_at, dispatched_at, completed_at, updated_at,
  quoted_size, quoted_cost`

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, j *model.Job) error {
	if j == nil || j.ID == "" {
		return domain.ErrInvalidArgument
	}
	assets := j.InputAssets
	if assets == nil {
		assets = []string{}
	}
	const q = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26);`
	_, err := execSQL(ctx, r.pool, tx, q,
		j.ID, j.UserID, j.ResourceID, j.Provider, string(j.ContentType), j.Model, j.Prompt, assets,
		string(j.SizeMeasure), j.Size, j.Cost, j.RefundedAmount, string(j.Status), j.ExternalHandle, j.ArtifactURL, j.LastError,
		j.Attempts, j.PollCount, j.NextPollAt, j.CreatedAt, j.ChargedAt, j.DispatchedAt, j.CompletedAt, j.UpdatedAt,
		j.QuotedSize, j.QuotedCost,
	)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	q := forUpdate(`SELECT `+jobColumns+` FROM jobs WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *jobRepo) FindByHandle(ctx context.Context, tx repository.Tx, provider, handle string) (*model.Job, error) {
	q := forUpdate(`SELECT `+jobColumns+` FROM jobs WHERE provider=$1 AND external_handle=$2`, tx)
	return r.queryOne(ctx, tx, q, provider, handle)
}

func (r *jobRepo) FindLatestComplete(ctx context.Context, tx repository.Tx, userID, resourceID string) (*model.Job, error) {
	if resourceID == "" {
		return nil, domain.ErrNotFound
	}
	const q = `
SELECT ` + jobColumns + `
  FROM jobs
 WHERE user_id=$1 AND resource_id=$2 AND status='complete'
 ORDER BY completed_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, userID, resourceID)
}

// Transition is a compare-and-set on status. Terminal targets clear next_poll_at.
func (r *jobRepo) Transition(ctx context.Context, tx repository.Tx, id string, from []model.JobStatus, to model.JobStatus, p model.JobPatch) (bool, error) {
	if id == "" || len(from) == 0 {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE jobs SET
  status = $3::text,
  external_handle = COALESCE($4, external_handle),
  artifact_url = COALESCE($5, artifact_url),
  last_error = COALESCE($6, last_error),
  cost = COALESCE($7, cost),
  charged_at = COALESCE($8, charged_at),
  dispatched_at = COALESCE($9, dispatched_at),
  completed_at = COALESCE($10, completed_at),
  next_poll_at = CASE WHEN $3::text IN ('complete','failed','expired') THEN NULL ELSE COALESCE($11, next_poll_at) END,
  attempts = attempts + $12,
  updated_at = NOW()
WHERE id=$1 AND status = ANY($2);`
	tag, err := execSQL(ctx, r.pool, tx, q,
		id, statusStrings(from), string(to),
		p.ExternalHandle, p.ArtifactURL, p.LastError, p.Cost,
		p.ChargedAt, p.DispatchedAt, p.CompletedAt, p.NextPollAt, p.AddAttempts,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) Reschedule(ctx context.Context, tx repository.Tx, id string, nextPollAt time.Time, pollCount int) error {
	const q = `
UPDATE jobs SET next_poll_at=$2, poll_count=$3, updated_at=NOW()
 WHERE id=$1 AND status IN ('dispatched','awaiting_completion');`
	_, err := execSQL(ctx, r.pool, tx, q, id, nextPollAt, pollCount)
	return err
}

func (r *jobRepo) UpdateEstimate(ctx context.Context, tx repository.Tx, id, prompt string, size, cost int64) (bool, error) {
	const q = `
UPDATE jobs SET prompt=$2, size=$3, cost=$4, updated_at=NOW()
 WHERE id=$1 AND status='awaiting_approval';`
	tag, err := execSQL(ctx, r.pool, tx, q, id, prompt, size, cost)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) AddRefunded(ctx context.Context, tx repository.Tx, id string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE jobs SET refunded_amount = refunded_amount + $2, updated_at=NOW()
 WHERE id=$1 AND refunded_amount + $2 <= cost;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) ListDuePolls(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Job, error) {
	const q = `
SELECT ` + jobColumns + `
  FROM jobs
 WHERE status IN ('dispatched','awaiting_completion')
   AND (next_poll_at IS NULL OR next_poll_at <= $1)
 ORDER BY next_poll_at NULLS FIRST
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *jobRepo) ListStaleCharged(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Job, error) {
	const q = `
SELECT ` + jobColumns + `
  FROM jobs
 WHERE status='charged' AND charged_at <= $1
 ORDER BY charged_at
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, olderThan, limit)
}

func (r *jobRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + jobColumns + `
  FROM jobs
 WHERE user_id=$1
 ORDER BY created_at DESC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, userID, limit)
}

// --- helpers ---

func (r *jobRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Job, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j                         model.Job
		contentType, measure, sts string
	)
	if err := row.Scan(
		&j.ID, &j.UserID, &j.ResourceID, &j.Provider, &contentType, &j.Model, &j.Prompt, &j.InputAssets,
		&measure, &j.Size, &j.Cost, &j.RefundedAmount, &sts, &j.ExternalHandle, &j.ArtifactURL, &j.LastError,
		&j.Attempts, &j.PollCount, &j.NextPollAt, &j.CreatedAt, &j.ChargedAt, &j.DispatchedAt, &j.CompletedAt, &j.UpdatedAt,
		&j.QuotedSize, &j.QuotedCost,
	); err != nil {
		return nil, scanErr(err)
	}
	j.ContentType = model.ContentType(contentType)
	j.SizeMeasure = model.SizeMeasure(measure)
	j.Status = model.JobStatus(sts)
	return &j, nil
}

func statusStrings(in []model.JobStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
