package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"render-credit-platform/internal/infra/sched"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var noWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the reconcile and billing workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := wireApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if !noWorkers {
				workers := []*sched.Periodic{
					sched.NewPeriodic("reconcile", cfg.Reconciler.Interval, sched.ReconcileTask(a.reconcile, logger), logger).
						WithLock(a.locker, cfg.Reconciler.LockTTL),
					sched.NewPeriodic("billing", cfg.Billing.SweepInterval, sched.BillingTask(a.billing, logger), logger).
						WithLock(a.locker, cfg.Billing.SweepInterval),
					sched.NewPeriodic("db_pool_stats", 15*time.Second, sched.PoolStatsTask(a.pool), logger),
				}
				for _, w := range workers {
					w.Start(ctx)
					defer w.Stop()
				}
			}

			srv, err := a.router()
			if err != nil {
				return err
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.Start(cfg.HTTP.Port) }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			logger.Info().Msg("shutdown requested")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve HTTP only; run workers elsewhere")
	return cmd
}
