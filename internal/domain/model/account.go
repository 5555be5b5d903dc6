package model

import (
	"time"

	"github.com/oklog/ulid/v2"

	"render-credit-platform/internal/domain"
)

// Account holds a user's prepaid credit balance.
// Balance is only ever changed through the ledger, never written directly.
type Account struct {
	UserID      string
	Balance     int64 // tokens_remaining
	TokensTotal int64 // lifetime allotment (plan grants + grace restores)
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type LedgerReason string

const (
	LedgerReasonJobCharge         LedgerReason = "job_charge"
	LedgerReasonJobRefund         LedgerReason = "job_refund"
	LedgerReasonDisputeAdjustment LedgerReason = "dispute_adjustment"
	LedgerReasonPlanGrant         LedgerReason = "plan_grant"
	LedgerReasonGraceFreeze       LedgerReason = "grace_freeze"
	LedgerReasonGraceRestore      LedgerReason = "grace_restore"
	LedgerReasonManualGrant       LedgerReason = "manual_grant"
)

// CountsTowardAllotment reports whether a credit with this reason grows TokensTotal.
func (r LedgerReason) CountsTowardAllotment() bool {
	switch r {
	case LedgerReasonPlanGrant, LedgerReasonGraceRestore, LedgerReasonManualGrant:
		return true
	}
	return false
}

func (r LedgerReason) Valid() bool {
	switch r {
	case LedgerReasonJobCharge, LedgerReasonJobRefund, LedgerReasonDisputeAdjustment,
		LedgerReasonPlanGrant, LedgerReasonGraceFreeze, LedgerReasonGraceRestore, LedgerReasonManualGrant:
		return true
	}
	return false
}

// LedgerEntry is one append-only audit row paired with a balance mutation.
type LedgerEntry struct {
	ID            string // ULID, sortable by creation time
	UserID        string
	Delta         int64 // negative for debits
	BalanceAfter  int64
	Reason        LedgerReason
	CorrelationID string // job id, billing event id, review id
	Note          string
	CreatedAt     time.Time
}

// NewLedgerEntry validates and constructs an audit entry for a delta.
func NewLedgerEntry(userID string, delta int64, reason LedgerReason, correlationID, note string) (*LedgerEntry, error) {
	if userID == "" || delta == 0 || !reason.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	return &LedgerEntry{
		ID:            ulid.Make().String(),
		UserID:        userID,
		Delta:         delta,
		Reason:        reason,
		CorrelationID: correlationID,
		Note:          note,
		CreatedAt:     time.Now(),
	}, nil
}
