package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
)

// Ensure planRepo implements repository.PlanRepository
var _ repository.PlanRepository = (*planRepo)(nil)

type planRepo struct {
	pool *pgxpool.Pool
}

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

const planColumns = `id, name, rank, monthly_credits, annual_credits, price_ids, created_at`

func (r *planRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	if p.IsZero() {
		return domain.ErrInvalidArgument
	}
	prices := p.PriceIDs
	if prices == nil {
		prices = []string{}
	}
	const q = `
INSERT INTO plans (` + planColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  name=$2, rank=$3, monthly_credits=$4, annual_credits=$5, price_ids=$6;`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.Rank, p.MonthlyCredits, p.AnnualCredits, prices, p.CreatedAt)
	return err
}

func (r *planRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+planColumns+` FROM plans WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

func (r *planRepo) FindByPriceID(ctx context.Context, tx repository.Tx, priceID string) (*model.Plan, error) {
	const q = `SELECT ` + planColumns + ` FROM plans WHERE $1 = ANY(price_ids) LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, priceID)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

func (r *planRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+planColumns+` FROM plans ORDER BY rank, id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanPlan(row pgx.Row) (*model.Plan, error) {
	var p model.Plan
	if err := row.Scan(&p.ID, &p.Name, &p.Rank, &p.MonthlyCredits, &p.AnnualCredits, &p.PriceIDs, &p.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &p, nil
}
