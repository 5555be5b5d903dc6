package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"render-credit-platform/internal/infra/api"
	pg "render-credit-platform/internal/infra/db/postgres"
	"render-credit-platform/internal/infra/sched"
)

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if err := pg.Migrate(cfg.Database.URL, direction, steps); err != nil {
				return err
			}
			v, dirty, err := pg.MigrationVersion(cfg.Database.URL)
			if err != nil {
				return err
			}
			logger.Info().Str("direction", direction).Uint("version", v).Bool("dirty", dirty).Msg("migrations applied")
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps, 0 for all")
	return cmd
}

// newReconcileCmd runs one reconcile pass, for cron-driven deployments.
func newReconcileCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Poll due in-flight jobs once and sweep stale charged jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			a, err := wireApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			p := sched.NewPeriodic("reconcile", cfg.Reconciler.Interval, sched.ReconcileTask(a.reconcile, logger), logger).
				WithLock(a.locker, cfg.Reconciler.LockTTL)
			if !p.Tick(cmd.Context()) {
				logger.Info().Msg("another replica is reconciling")
			}
			return nil
		},
	}
}

func newBillingSweepCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "billing-sweep",
		Short: "Apply due downgrades and expire grace periods once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			a, err := wireApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return sched.BillingTask(a.billing, logger)(cmd.Context(), time.Now())
		},
	}
}

func newSeedCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upsert the plan catalog from billing.plans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			plans, err := cfg.Plans()
			if err != nil {
				return err
			}
			a, err := wireApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.billing.SeedPlans(cmd.Context(), plans); err != nil {
				return err
			}
			logger.Info().Int("plans", len(plans)).Msg("plans seeded")
			return nil
		},
	}
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an API bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.HTTP.TokenTTL
			}
			if role != api.RoleUser && role != api.RoleAdmin {
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := api.NewAuthManager(cfg.HTTP.JWTSecret, ttl).Mint(args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", api.RoleUser, "user or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to http.token_ttl")
	return cmd
}
