package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/usecase"
)

// ReconcileTask polls due in-flight jobs and then sweeps jobs that were
// charged but never reached a provider.
func ReconcileTask(uc usecase.ReconcileUseCase, logger *zerolog.Logger) Task {
	l := logger.With().Str("component", "ReconcileWorker").Logger()
	return func(ctx context.Context, now time.Time) error {
		stats, err := uc.ReconcileDue(ctx, now)
		if err != nil {
			return err
		}
		if stats.Due > 0 {
			l.Info().
				Int("due", stats.Due).
				Int("completed", stats.Completed).
				Int("failed", stats.Failed).
				Int("expired", stats.Expired).
				Int("rescheduled", stats.Rescheduled).
				Int("skipped", stats.Skipped).
				Int("errors", stats.Errors).
				Msg("reconcile pass")
		}
		n, err := uc.SweepStaleCharged(ctx, now)
		if err != nil {
			return err
		}
		if n > 0 {
			l.Warn().Int("count", n).Msg("stale charged jobs failed and refunded")
		}
		return nil
	}
}
