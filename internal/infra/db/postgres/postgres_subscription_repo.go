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

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `user_id, plan_id, period, status, processor_subscription_id, current_period_end,
  frozen_credits, grace_period_end, pending_downgrade_plan, pending_downgrade_at, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if s == nil {
		return domain.ErrInvalidArgument
	}
	if err := s.Validate(); err != nil {
		return err
	}
	s.UpdatedAt = time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (user_id) DO UPDATE SET
  plan_id=$2, period=$3, status=$4, processor_subscription_id=$5, current_period_end=$6,
  frozen_credits=$7, grace_period_end=$8, pending_downgrade_plan=$9, pending_downgrade_at=$10,
  updated_at=$12;`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.UserID, s.PlanID, string(s.Period), string(s.Status), s.ProcessorSubscriptionID, s.CurrentPeriodEnd,
		s.FrozenCredits, s.GracePeriodEnd, s.PendingDowngradePlan, s.PendingDowngradeAt, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *subscriptionRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanSub(row)
}

func (r *subscriptionRepo) ListDueDowngrades(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE pending_downgrade_plan IS NOT NULL AND pending_downgrade_at <= $1
 ORDER BY pending_downgrade_at
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) ListExpiredGrace(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE status='grace_period' AND grace_period_end <= $1
 ORDER BY grace_period_end
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, scanErr(err)
		}
		out[model.SubscriptionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSub(row pgx.Row) (*model.Subscription, error) {
	var (
		s              model.Subscription
		period, status string
	)
	if err := row.Scan(
		&s.UserID, &s.PlanID, &period, &status, &s.ProcessorSubscriptionID, &s.CurrentPeriodEnd,
		&s.FrozenCredits, &s.GracePeriodEnd, &s.PendingDowngradePlan, &s.PendingDowngradeAt, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, scanErr(err)
	}
	s.Period = model.BillingPeriod(period)
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}
