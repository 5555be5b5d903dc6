package usecase

import (
	"fmt"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
)

// Compile-time check
var _ PricingUseCase = (*pricingUC)(nil)

// Estimate is the priced size of a request.
type Estimate struct {
	Measure model.SizeMeasure
	Size    int64
	Cost    int64
}

// PricingUseCase sizes prompts and prices them with the configured chunk policy.
type PricingUseCase interface {
	// Estimate prices a request. Textual measures are computed from the prompt and
	// the larger of declared and measured size wins.
	Estimate(ct model.ContentType, modelName, prompt string, declared int64) (Estimate, error)
	// EditDelta is the non-negative extra charge for growing prev to next.
	EditDelta(ct model.ContentType, modelName string, prev, next int64) (int64, error)
}

type pricingUC struct {
	policy *model.PricingPolicy
	sizer  adapter.Sizer
}

func NewPricingUseCase(policy *model.PricingPolicy, sizer adapter.Sizer) *pricingUC {
	return &pricingUC{policy: policy, sizer: sizer}
}

func (p *pricingUC) Estimate(ct model.ContentType, modelName, prompt string, declared int64) (Estimate, error) {
	if declared < 0 {
		return Estimate{}, domain.ErrInvalidArgument
	}
	rule, err := p.policy.Rule(ct)
	if err != nil {
		return Estimate{}, err
	}
	size := declared
	switch {
	case rule.Measure.Textual():
		if p.sizer == nil {
			return Estimate{}, fmt.Errorf("%w: no sizer for %s", domain.ErrValidation, rule.Measure)
		}
		measured, err := p.sizer.Measure(rule.Measure, prompt)
		if err != nil {
			return Estimate{}, fmt.Errorf("measure prompt: %w", err)
		}
		if measured > size {
			size = measured
		}
	case rule.Measure == model.MeasureImages && size == 0:
		size = 1
	case size == 0:
		return Estimate{}, fmt.Errorf("%w: size in %s is required", domain.ErrValidation, rule.Measure)
	}
	cost, err := p.policy.Cost(ct, modelName, size)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{Measure: rule.Measure, Size: size, Cost: cost}, nil
}

func (p *pricingUC) EditDelta(ct model.ContentType, modelName string, prev, next int64) (int64, error) {
	return p.policy.EditDelta(ct, modelName, prev, next)
}
