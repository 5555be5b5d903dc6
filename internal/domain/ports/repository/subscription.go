package repository

import (
	"context"
	"time"

	"render-credit-platform/internal/domain/model"
)

// SubscriptionRepository is the port for per-user billing subscriptions.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	// FindByUser returns the subscription; inside a tx the row is locked FOR UPDATE.
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	ListDueDowngrades(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
	ListExpiredGrace(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
