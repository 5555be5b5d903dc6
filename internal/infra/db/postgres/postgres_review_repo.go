package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
)

// Ensure reviewRepo implements repository.ReviewRepository
var _ repository.ReviewRepository = (*reviewRepo)(nil)

type reviewRepo struct {
	pool *pgxpool.Pool
}

func NewReviewRepo(pool *pgxpool.Pool) *reviewRepo {
	return &reviewRepo{pool: pool}
}

const reviewColumns = `id, job_id, user_id, kind, reason, status, resolution, refund_amount, resolved_by, created_at, resolved_at`

func (r *reviewRepo) Create(ctx context.Context, tx repository.Tx, it *model.ReviewItem) error {
	if it == nil || it.ID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO review_items (` + reviewColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	_, err := execSQL(ctx, r.pool, tx, q,
		it.ID, it.JobID, it.UserID, string(it.Kind), it.Reason, string(it.Status),
		it.Resolution, it.RefundAmount, it.ResolvedBy, it.CreatedAt, it.ResolvedAt,
	)
	return err
}

func (r *reviewRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ReviewItem, error) {
	q := forUpdate(`SELECT `+reviewColumns+` FROM review_items WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanReview(row)
}

func (r *reviewRepo) ListOpen(ctx context.Context, tx repository.Tx, limit int) ([]*model.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + reviewColumns + `
  FROM review_items
 WHERE status='open'
 ORDER BY created_at
 LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.ReviewItem
	for rows.Next() {
		it, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *reviewRepo) Resolve(ctx context.Context, tx repository.Tx, it *model.ReviewItem) (bool, error) {
	const q = `
UPDATE review_items
   SET status='resolved', resolution=$2, refund_amount=$3, resolved_by=$4, resolved_at=$5
 WHERE id=$1 AND status='open';`
	tag, err := execSQL(ctx, r.pool, tx, q, it.ID, it.Resolution, it.RefundAmount, it.ResolvedBy, it.ResolvedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanReview(row pgx.Row) (*model.ReviewItem, error) {
	var (
		it           model.ReviewItem
		kind, status string
	)
	if err := row.Scan(&it.ID, &it.JobID, &it.UserID, &kind, &it.Reason, &status,
		&it.Resolution, &it.RefundAmount, &it.ResolvedBy, &it.CreatedAt, &it.ResolvedAt); err != nil {
		return nil, scanErr(err)
	}
	it.Kind = model.ReviewKind(kind)
	it.Status = model.ReviewStatus(status)
	return &it, nil
}
