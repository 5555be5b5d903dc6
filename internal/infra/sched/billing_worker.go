package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/usecase"
)

// BillingTask applies downgrades whose boundary passed, expires grace periods
// and refreshes the subscription gauges. Every step runs even if one fails.
func BillingTask(uc usecase.BillingUseCase, logger *zerolog.Logger) Task {
	l := logger.With().Str("component", "BillingWorker").Logger()
	return func(ctx context.Context, now time.Time) error {
		var errs []error
		if n, err := uc.ApplyDueDowngrades(ctx, now); err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			l.Info().Int("count", n).Msg("downgrades applied")
		}
		if n, err := uc.ExpireGracePeriods(ctx, now); err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			l.Info().Int("count", n).Msg("grace periods expired")
		}
		if err := uc.RefreshGauges(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
}
