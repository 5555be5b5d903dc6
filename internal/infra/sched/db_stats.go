package sched

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"render-credit-platform/internal/infra/metrics"
)

// PoolStatsTask exports pgxpool gauges.
func PoolStatsTask(pool *pgxpool.Pool) Task {
	return func(ctx context.Context, _ time.Time) error {
		s := pool.Stat()
		metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns(), s.MaxConns())
		return nil
	}
}
