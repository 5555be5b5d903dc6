package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
	"render-credit-platform/internal/infra/logging"
	"render-credit-platform/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase moves credits. Every mutation writes its audit entry in the
// same transaction; a nil tx opens one.
type LedgerUseCase interface {
	Debit(ctx context.Context, tx repository.Tx, userID string, amount int64, reason model.LedgerReason, correlationID string) (int64, error)
	Credit(ctx context.Context, tx repository.Tx, userID string, amount int64, reason model.LedgerReason, correlationID, note string) (int64, error)
	Balance(ctx context.Context, userID string) (*model.Account, error)
	History(ctx context.Context, userID string, limit int) ([]*model.LedgerEntry, error)
}

type ledgerUC struct {
	accounts repository.AccountRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewLedgerUseCase(accounts repository.AccountRepository, tm repository.TransactionManager, logger *zerolog.Logger) *ledgerUC {
	l := logger.With().Str("component", "LedgerUC").Logger()
	return &ledgerUC{accounts: accounts, tm: tm, log: &l}
}

func (u *ledgerUC) Debit(ctx context.Context, tx repository.Tx, userID string, amount int64, reason model.LedgerReason, correlationID string) (int64, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Debit")()
	if amount <= 0 || userID == "" {
		return 0, domain.ErrInvalidArgument
	}
	var balance int64
	err := runInTx(ctx, u.tm, tx, func(ctx context.Context, tx repository.Tx) error {
		b, err := u.accounts.ApplyDelta(ctx, tx, userID, -amount, false)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrInsufficientFunds
			}
			return err
		}
		if err := u.appendEntry(ctx, tx, userID, -amount, b, reason, correlationID, ""); err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientFunds):
			metrics.IncLedgerRejected("insufficient_funds")
		case errors.Is(err, domain.ErrDuplicateEvent):
			metrics.IncLedgerRejected("duplicate")
		}
		return 0, err
	}
	metrics.ObserveLedger("debit", string(reason), amount)
	logging.With(ctx, u.log).Debug().Str("reason", string(reason)).Int64("amount", amount).Int64("balance", balance).Msg("debited")
	return balance, nil
}

func (u *ledgerUC) Credit(ctx context.Context, tx repository.Tx, userID string, amount int64, reason model.LedgerReason, correlationID, note string) (int64, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Credit")()
	if amount <= 0 || userID == "" {
		return 0, domain.ErrInvalidArgument
	}
	var balance int64
	err := runInTx(ctx, u.tm, tx, func(ctx context.Context, tx repository.Tx) error {
		b, err := u.accounts.ApplyDelta(ctx, tx, userID, amount, reason.CountsTowardAllotment())
		if err != nil {
			return err
		}
		if err := u.appendEntry(ctx, tx, userID, amount, b, reason, correlationID, note); err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			metrics.IncLedgerRejected("duplicate")
		}
		return 0, err
	}
	metrics.ObserveLedger("credit", string(reason), amount)
	logging.With(ctx, u.log).Debug().Str("reason", string(reason)).Int64("amount", amount).Int64("balance", balance).Msg("credited")
	return balance, nil
}

func (u *ledgerUC) appendEntry(ctx context.Context, tx repository.Tx, userID string, delta, balance int64, reason model.LedgerReason, correlationID, note string) error {
	e, err := model.NewLedgerEntry(userID, delta, reason, correlationID, note)
	if err != nil {
		return err
	}
	e.BalanceAfter = balance
	if err := u.accounts.AppendEntry(ctx, tx, e); err != nil {
		return fmt.Errorf("ledger entry %s/%s: %w", reason, correlationID, err)
	}
	return nil
}

// Balance returns a zero account for users that never held credits.
func (u *ledgerUC) Balance(ctx context.Context, userID string) (*model.Account, error) {
	acc, err := u.accounts.FindByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &model.Account{UserID: userID}, nil
	}
	return acc, err
}

func (u *ledgerUC) History(ctx context.Context, userID string, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return u.accounts.ListEntries(ctx, repository.NoTX, userID, limit)
}
