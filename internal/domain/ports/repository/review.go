package repository

import (
	"context"

	"render-credit-platform/internal/domain/model"
)

// ReviewRepository is the operator queue.
type ReviewRepository interface {
	Create(ctx context.Context, tx Tx, item *model.ReviewItem) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.ReviewItem, error)
	ListOpen(ctx context.Context, tx Tx, limit int) ([]*model.ReviewItem, error)
	// Resolve closes an open item; it returns false if it was already resolved.
	Resolve(ctx context.Context, tx Tx, item *model.ReviewItem) (bool, error)
}
