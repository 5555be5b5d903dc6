package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/repository"
)

// Ensure eventRepo implements repository.EventRepository
var _ repository.EventRepository = (*eventRepo)(nil)

type eventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *eventRepo {
	return &eventRepo{pool: pool}
}

func (r *eventRepo) Reserve(ctx context.Context, tx repository.Tx, source, eventID string) (bool, error) {
	if source == "" || eventID == "" {
		return false, domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO processed_events (source, event_id, outcome, processed_at)
VALUES ($1, $2, 'reserved', NOW())
ON CONFLICT (source, event_id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q, source, eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *eventRepo) Complete(ctx context.Context, tx repository.Tx, source, eventID string, outcome model.EventOutcome, jobID *string) error {
	const q = `
UPDATE processed_events SET outcome=$3, job_id=COALESCE($4, job_id), processed_at=NOW()
 WHERE source=$1 AND event_id=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, source, eventID, string(outcome), jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *eventRepo) Find(ctx context.Context, tx repository.Tx, source, eventID string) (*model.ProcessedEvent, error) {
	const q = `
SELECT source, event_id, outcome, job_id, processed_at
  FROM processed_events
 WHERE source=$1 AND event_id=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, source, eventID)
	if err != nil {
		return nil, err
	}
	var (
		e       model.ProcessedEvent
		outcome string
	)
	if err := row.Scan(&e.Source, &e.EventID, &outcome, &e.JobID, &e.ProcessedAt); err != nil {
		return nil, scanErr(err)
	}
	e.Outcome = model.EventOutcome(outcome)
	return &e, nil
}
