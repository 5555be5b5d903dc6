package repository

import (
	"context"

	"render-credit-platform/internal/domain/model"
)

// EventRepository is the shared idempotency table for webhook and billing events.
type EventRepository interface {
	// Reserve inserts (source, eventID). It returns false when the event was already recorded.
	Reserve(ctx context.Context, tx Tx, source, eventID string) (bool, error)
	// Complete records the final outcome of a reserved event.
	Complete(ctx context.Context, tx Tx, source, eventID string, outcome model.EventOutcome, jobID *string) error
	Find(ctx context.Context, tx Tx, source, eventID string) (*model.ProcessedEvent, error)
}
