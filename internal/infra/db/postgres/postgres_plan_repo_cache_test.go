//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
)

func TestPlanRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	plan := &model.Plan{ID: "pro", Name: "Pro", Rank: 2, MonthlyCredits: 1000, PriceIDs: []string{"price_pro_m"}}
	planJSON, _ := json.Marshal(plan)

	t.Run("FindByID should return from cache on hit", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(planJSON), nil
			},
		}
		innerRepoCalled := false
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
				innerRepoCalled = true
				return nil, nil
			},
		}

		result, err := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Hour).FindByID(ctx, nil, "pro")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerRepoCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if result == nil || result.ID != "pro" || result.MonthlyCredits != 1000 {
			t.Errorf("did not return the correct plan from cache: %+v", result)
		}
	})

	t.Run("FindByPriceID should fill the cache on miss", func(t *testing.T) {
		var setKey string
		mockRedis := &mockRedisClient{
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setKey = key
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			FindByPriceIDFunc: func(ctx context.Context, tx repository.Tx, priceID string) (*model.Plan, error) {
				return plan, nil
			},
		}

		result, err := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Hour).FindByPriceID(ctx, nil, "price_pro_m")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.ID != "pro" {
			t.Errorf("expected plan pro, got %s", result.ID)
		}
		if setKey != "plan:price:price_pro_m" {
			t.Errorf("expected cache fill under price key, got %q", setKey)
		}
	})

	t.Run("Save should invalidate plan, list and price keys", func(t *testing.T) {
		var deletedKeys []string
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deletedKeys = append(deletedKeys, keys...)
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
				return nil
			},
		}

		if err := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Hour).Save(ctx, nil, plan); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deletedKeys) != 3 {
			t.Fatalf("expected 3 keys to be deleted, but got %d (%v)", len(deletedKeys), deletedKeys)
		}
	})
}
