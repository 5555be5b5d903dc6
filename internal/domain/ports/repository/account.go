package repository

import (
	"context"

	"render-credit-platform/internal/domain/model"
)

// AccountRepository is the port for balances and their append-only audit ledger.
type AccountRepository interface {
	// FindByUser returns the account; inside a tx the row is locked FOR UPDATE.
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.Account, error)

	// ApplyDelta atomically adds delta to the balance and returns the new balance.
	// A negative delta only applies while balance+delta >= 0, otherwise it returns
	// domain.ErrInsufficientFunds and mutates nothing. A positive delta creates the
	// account if missing; grantTotal also raises tokens_total.
	ApplyDelta(ctx context.Context, tx Tx, userID string, delta int64, grantTotal bool) (int64, error)

	// AppendEntry writes an audit row. Unique (reason, correlation) hits return domain.ErrDuplicateEvent.
	AppendEntry(ctx context.Context, tx Tx, e *model.LedgerEntry) error

	ListEntries(ctx context.Context, tx Tx, userID string, limit int) ([]*model.LedgerEntry, error)
	SumEntriesByCorrelation(ctx context.Context, tx Tx, correlationID string, reason model.LedgerReason) (int64, error)
}
