package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
)

// Ensure accountRepo implements repository.AccountRepository
var _ repository.AccountRepository = (*accountRepo)(nil)

type accountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *accountRepo {
	return &accountRepo{pool: pool}
}

func (r *accountRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Account, error) {
	q := forUpdate(`
SELECT user_id, balance, tokens_total, created_at, updated_at
  FROM accounts
 WHERE user_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var a model.Account
	if err := row.Scan(&a.UserID, &a.Balance, &a.TokensTotal, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &a, nil
}

// ApplyDelta: debits are a single guarded UPDATE, credits an upsert.
func (r *accountRepo) ApplyDelta(ctx context.Context, tx repository.Tx, userID string, delta int64, grantTotal bool) (int64, error) {
	if userID == "" || delta == 0 {
		return 0, domain.ErrInvalidArgument
	}
	if delta < 0 {
		const q = `
UPDATE accounts
   SET balance = balance + $2, updated_at = NOW()
 WHERE user_id=$1 AND balance + $2 >= 0
RETURNING balance;`
		row, err := pickRow(ctx, r.pool, tx, q, userID, delta)
		if err != nil {
			return 0, err
		}
		var balance int64
		if err := row.Scan(&balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, domain.ErrInsufficientFunds
			}
			return 0, scanErr(err)
		}
		return balance, nil
	}

	var total int64
	if grantTotal {
		total = delta
	}
	const q = `
INSERT INTO accounts (user_id, balance, tokens_total, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (user_id) DO UPDATE SET
  balance = accounts.balance + EXCLUDED.balance,
  tokens_total = accounts.tokens_total + EXCLUDED.tokens_total,
  updated_at = NOW()
RETURNING balance;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, delta, total)
	if err != nil {
		return 0, err
	}
	var balance int64
	if err := row.Scan(&balance); err != nil {
		return 0, scanErr(err)
	}
	return balance, nil
}

func (r *accountRepo) AppendEntry(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	const q = `
INSERT INTO ledger_entries (id, user_id, delta, balance_after, reason, correlation_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.UserID, e.Delta, e.BalanceAfter, string(e.Reason), e.CorrelationID, e.Note, e.CreatedAt)
	return err
}

func (r *accountRepo) ListEntries(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, user_id, delta, balance_after, reason, correlation_id, note, created_at
  FROM ledger_entries
 WHERE user_id=$1
 ORDER BY id DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.BalanceAfter, &reason, &e.CorrelationID, &e.Note, &e.CreatedAt); err != nil {
			return nil, scanErr(err)
		}
		e.Reason = model.LedgerReason(reason)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *accountRepo) SumEntriesByCorrelation(ctx context.Context, tx repository.Tx, correlationID string, reason model.LedgerReason) (int64, error) {
	const q = `
SELECT COALESCE(SUM(delta), 0)
  FROM ledger_entries
 WHERE correlation_id=$1 AND reason=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, correlationID, string(reason))
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, scanErr(err)
	}
	return sum, nil
}
