package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
	"render-credit-platform/internal/infra/metrics"
	red "render-credit-platform/internal/infra/redis"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

const plansAllKey = "plans:all"

// planRepoCacheDecorator serves plan lookups from redis.
// Save drops every key the plan can be cached under.
type planRepoCacheDecorator struct {
	inner repository.PlanRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewPlanRepoCacheDecorator(inner repository.PlanRepository, cache red.RedisClient, ttl time.Duration) repository.PlanRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &planRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	return d.cachedOne(ctx, "plan", fmt.Sprintf("plan:%s", id), func() (*model.Plan, error) {
		return d.inner.FindByID(ctx, tx, id)
	})
}

func (d *planRepoCacheDecorator) FindByPriceID(ctx context.Context, tx repository.Tx, priceID string) (*model.Plan, error) {
	return d.cachedOne(ctx, "plan_price", fmt.Sprintf("plan:price:%s", priceID), func() (*model.Plan, error) {
		return d.inner.FindByPriceID(ctx, tx, priceID)
	})
}

func (d *planRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	keys := []string{fmt.Sprintf("plan:%s", plan.ID), plansAllKey}
	for _, p := range plan.PriceIDs {
		keys = append(keys, fmt.Sprintf("plan:price:%s", p))
	}
	_ = d.cache.Del(ctx, keys...)
	return d.inner.Save(ctx, tx, plan)
}

func (d *planRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	val, err := d.cache.Get(ctx, plansAllKey)
	if err == nil {
		var plans []*model.Plan
		if json.Unmarshal([]byte(val), &plans) == nil {
			metrics.IncCacheRequest("plan_list", "hit")
			return plans, nil
		}
	} else if !errors.Is(err, red.Nil) {
		metrics.IncCacheRequest("plan_list", "error")
	}

	metrics.IncCacheRequest("plan_list", "miss")
	plans, err := d.inner.ListAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(plans) > 0 {
		if b, err := json.Marshal(plans); err == nil {
			_ = d.cache.Set(ctx, plansAllKey, b, d.ttl)
		}
	}
	return plans, nil
}

func (d *planRepoCacheDecorator) cachedOne(ctx context.Context, name, key string, load func() (*model.Plan, error)) (*model.Plan, error) {
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var plan model.Plan
		if json.Unmarshal([]byte(val), &plan) == nil {
			metrics.IncCacheRequest(name, "hit")
			return &plan, nil
		}
	} else if !errors.Is(err, red.Nil) {
		metrics.IncCacheRequest(name, "error")
	}

	metrics.IncCacheRequest(name, "miss")
	plan, err := load()
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(plan); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return plan, nil
}
