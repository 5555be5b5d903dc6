package usecase

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"

	"render-credit-platform/internal/domain/ports/repository"
)

// txOpts is the default isolation for use case transactions.
var txOpts = pgx.TxOptions{}

// runInTx joins the caller's transaction when one is given and opens a new one otherwise.
func runInTx(ctx context.Context, tm repository.TransactionManager, tx repository.Tx, fn func(ctx context.Context, tx repository.Tx) error) error {
	if tx != nil {
		return fn(ctx, tx)
	}
	return tm.WithTx(ctx, txOpts, fn)
}

// Clock returns the current time; tests replace it.
type Clock func() time.Time
