package model

import (
	"time"

	"render-credit-platform/internal/domain"
)

// Plan is a subscription tier. Rank orders plans for upgrade/downgrade decisions.
type Plan struct {
	ID             string
	Name           string
	Rank           int
	MonthlyCredits int64
	AnnualCredits  int64
	PriceIDs       []string // processor price ids / lookup keys that map to this plan
	CreatedAt      time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// NewPlan validates and constructs a plan.
func NewPlan(id, name string, rank int, monthly, annual int64, priceIDs []string) (*Plan, error) {
	if id == "" || name == "" || rank < 0 || monthly < 0 || annual < 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Plan{
		ID:             id,
		Name:           name,
		Rank:           rank,
		MonthlyCredits: monthly,
		AnnualCredits:  annual,
		PriceIDs:       priceIDs,
		CreatedAt:      time.Now(),
	}, nil
}

// Allotment is the credit grant for one billing period.
func (p *Plan) Allotment(period BillingPeriod) int64 {
	if period == BillingAnnual {
		return p.AnnualCredits
	}
	return p.MonthlyCredits
}

type PlanChange string

const (
	PlanChangeNone      PlanChange = "none"
	PlanChangeUpgrade   PlanChange = "upgrade"
	PlanChangeDowngrade PlanChange = "downgrade"
)

// ClassifyPlanChange compares ranks of the current and requested plans.
func ClassifyPlanChange(current, next *Plan) PlanChange {
	switch {
	case current == nil || next == nil:
		return PlanChangeNone
	case next.Rank > current.Rank:
		return PlanChangeUpgrade
	case next.Rank < current.Rank:
		return PlanChangeDowngrade
	default:
		return PlanChangeNone
	}
}
