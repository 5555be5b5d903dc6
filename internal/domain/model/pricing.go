package model

import (
	"fmt"

	"github.com/shopspring/decimal"

	"render-credit-platform/internal/domain"
)

type SizeMeasure string

const (
	MeasureCharacters SizeMeasure = "characters"
	MeasureTokens     SizeMeasure = "tokens"
	MeasureSeconds    SizeMeasure = "seconds"
	MeasureImages     SizeMeasure = "images"
)

func (m SizeMeasure) Valid() bool {
	switch m {
	case MeasureCharacters, MeasureTokens, MeasureSeconds, MeasureImages:
		return true
	}
	return false
}

// Textual measures are derived from the prompt on the server side.
func (m SizeMeasure) Textual() bool {
	return m == MeasureCharacters || m == MeasureTokens
}

// RoundingMode decides how a partial chunk is priced.
type RoundingMode string

const (
	RoundCeil   RoundingMode = "ceil"    // any partial chunk costs a full chunk
	RoundFloor  RoundingMode = "floor"   // only complete chunks are billed
	RoundHalfUp RoundingMode = "half_up" // half a chunk or more rounds up
)

func (r RoundingMode) Valid() bool {
	return r == RoundCeil || r == RoundFloor || r == RoundHalfUp
}

// PricingRule prices one content type in fixed-size chunks.
type PricingRule struct {
	Measure    SizeMeasure
	ChunkSize  int64
	ChunkPrice decimal.Decimal
	MinCharge  int64
}

// PricingPolicy turns a size into credits. Chunk size and rounding are policy
// constants so the price only moves at chunk boundaries.
type PricingPolicy struct {
	Rounding         RoundingMode
	Rules            map[ContentType]PricingRule
	ModelMultipliers map[string]decimal.Decimal
}

func (p *PricingPolicy) Rule(ct ContentType) (PricingRule, error) {
	r, ok := p.Rules[ct]
	if !ok || r.ChunkSize <= 0 || r.ChunkPrice.IsNegative() {
		return PricingRule{}, fmt.Errorf("%w: no pricing rule for %q", domain.ErrValidation, ct)
	}
	return r, nil
}

// Chunks returns how many billable chunks a size occupies.
func (p *PricingPolicy) Chunks(ct ContentType, size int64) (int64, error) {
	if size < 0 {
		return 0, domain.ErrInvalidArgument
	}
	r, err := p.Rule(ct)
	if err != nil {
		return 0, err
	}
	q := decimal.NewFromInt(size).Div(decimal.NewFromInt(r.ChunkSize))
	switch p.Rounding {
	case RoundFloor:
		q = q.Floor()
	case RoundHalfUp:
		q = q.Round(0)
	default:
		q = q.Ceil()
	}
	return q.IntPart(), nil
}

// Cost prices size for the content type and model.
// The result is never below the rule's minimum charge, nor below one credit.
func (p *PricingPolicy) Cost(ct ContentType, modelName string, size int64) (int64, error) {
	r, err := p.Rule(ct)
	if err != nil {
		return 0, err
	}
	chunks, err := p.Chunks(ct, size)
	if err != nil {
		return 0, err
	}
	total := decimal.NewFromInt(chunks).Mul(r.ChunkPrice)
	if m, ok := p.ModelMultipliers[modelName]; ok && m.IsPositive() {
		total = total.Mul(m)
	}
	cost := total.Ceil().IntPart()
	floor := r.MinCharge
	if floor < 1 {
		floor = 1
	}
	if cost < floor {
		cost = floor
	}
	return cost, nil
}

// EditDelta is the extra charge when content grows from prev to next.
// Shrinking content never produces a negative delta.
func (p *PricingPolicy) EditDelta(ct ContentType, modelName string, prev, next int64) (int64, error) {
	before, err := p.Cost(ct, modelName, prev)
	if err != nil {
		return 0, err
	}
	after, err := p.Cost(ct, modelName, next)
	if err != nil {
		return 0, err
	}
	if d := after - before; d > 0 {
		return d, nil
	}
	return 0, nil
}
