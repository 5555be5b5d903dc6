package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"render-credit-platform/internal/config"
	"render-credit-platform/internal/domain/ports/adapter"
	"render-credit-platform/internal/infra/adapters/provider"
	"render-credit-platform/internal/infra/adapters/sizer"
	"render-credit-platform/internal/infra/adapters/storage"
	tele "render-credit-platform/internal/infra/adapters/telegram"
	"render-credit-platform/internal/infra/api"
	"render-credit-platform/internal/infra/billing"
	pg "render-credit-platform/internal/infra/db/postgres"
	"render-credit-platform/internal/infra/i18n"
	"render-credit-platform/internal/infra/logging"
	red "render-credit-platform/internal/infra/redis"
	"render-credit-platform/internal/infra/worker"
	"render-credit-platform/internal/usecase"
)

// app holds every long-lived component a subcommand may need.
type app struct {
	cfg *config.Config
	log *zerolog.Logger

	pool   *pgxpool.Pool
	redis  *red.Client
	locker red.Locker

	providers *provider.Registry
	notifier  adapter.OperatorNotifier

	ledger    usecase.LedgerUseCase
	refunds   usecase.RefundUseCase
	jobs      usecase.JobUseCase
	webhooks  usecase.WebhookUseCase
	reconcile usecase.ReconcileUseCase
	billing   usecase.BillingUseCase
}

func wireApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.pool = pool

	rc, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.redis = rc
	a.locker = red.NewLocker(rc)

	a.notifier = buildNotifier(cfg, logger)

	var store adapter.ArtifactStore
	if cfg.Storage.Enabled() {
		s3, err := storage.NewS3Store(ctx, cfg.Storage, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = s3
	}
	a.providers, err = buildProviders(cfg, store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, err := cfg.PricingPolicy()
	if err != nil {
		a.Close()
		return nil, err
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	accounts := pg.NewAccountRepo(pool)
	jobs := pg.NewJobRepo(pool)
	events := pg.NewEventRepo(pool)
	reviews := pg.NewReviewRepo(pool)
	subs := pg.NewSubscriptionRepo(pool)
	plans := pg.NewPlanRepoCacheDecorator(pg.NewPlanRepo(pool), rc, cfg.Redis.TTL)

	// ---- Use cases ----
	a.ledger = usecase.NewLedgerUseCase(accounts, tm, logger)
	a.refunds = usecase.NewRefundUseCase(jobs, reviews, a.ledger, a.notifier, tm, logger)
	lifecycle := usecase.NewLifecycle(jobs, reviews, a.refunds, a.notifier, logger)

	dispatch := usecase.NewDispatchUseCase(
		a.providers,
		provider.NewHTTPAssetChecker(cfg.Dispatch.AssetCheckTimeout),
		usecase.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.Dispatch.BaseDelay,
			MaxDelay:    cfg.Dispatch.MaxDelay,
		},
		cfg.Dispatch.AssetCheckTimeout,
		cfg.HTTP.PublicBaseURL,
		logger,
	).WithCallbackTokens(callbackTokens(cfg))

	pricing := usecase.NewPricingUseCase(policy, sizer.NewTextSizer(""))
	a.jobs = usecase.NewJobUseCase(
		jobs, a.ledger, pricing, dispatch, lifecycle, a.refunds,
		red.NewRateLimiter(rc),
		usecase.JobLimits{PerWindow: cfg.HTTP.JobsPerMinute, Window: time.Minute, KeyFunc: red.UserJobKey},
		cfg.Reconciler.GraceWindow,
		tm, logger,
	).WithDispatchTimeout(cfg.Dispatch.Timeout)
	a.webhooks = usecase.NewWebhookUseCase(a.providers, jobs, events, lifecycle, tm, logger)
	a.reconcile = usecase.NewReconcileUseCase(
		jobs, a.providers, lifecycle,
		worker.NewPool(cfg.Reconciler.Workers, logger),
		a.locker,
		usecase.ReconcileSettings{
			MaxWait:           cfg.Reconciler.MaxWait,
			BackoffBase:       cfg.Reconciler.BackoffBase,
			BackoffMax:        cfg.Reconciler.BackoffMax,
			StaleChargedAfter: cfg.Reconciler.StaleChargedAfter,
			LockTTL:           cfg.Reconciler.LockTTL,
			BatchSize:         cfg.Reconciler.BatchSize,
			Ceiling:           cfg.Reconciler.Ceiling,
		},
		tm, logger,
	)
	a.billing = usecase.NewBillingUseCase(subs, plans, accounts, events, a.ledger, a.notifier, cfg.Billing.GracePeriod(), tm, logger)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) router() (*api.Server, error) {
	bundle, err := i18n.NewBundle(i18n.LocalesFS, "en", "fa")
	if err != nil {
		return nil, err
	}
	auths := make(map[string]api.WebhookAuth, len(a.cfg.Providers))
	for name, pc := range a.cfg.Providers {
		if pc.Enabled {
			auths[name] = api.WebhookAuth{Secret: pc.WebhookSecret, Token: pc.CallbackToken}
		}
	}
	var parser api.BillingParser
	if a.cfg.Billing.StripeWebhookSecret != "" {
		parser = billing.NewStripeParser(a.cfg.Billing.StripeWebhookSecret)
	}
	return api.NewServer(api.Deps{
		Jobs:          a.jobs,
		Ledger:        a.ledger,
		Refunds:       a.refunds,
		Billing:       a.billing,
		Webhooks:      a.webhooks,
		Auth:          api.NewAuthManager(a.cfg.HTTP.JWTSecret, a.cfg.HTTP.TokenTTL),
		BillingParser: parser,
		WebhookAuth:   auths,
		Locales:       bundle,
		Health: map[string]api.Pinger{
			"postgres": a.pool,
			"redis":    a.redis,
		},
	}, a.cfg.HTTP.RequestTimeout, a.log), nil
}

func buildNotifier(cfg *config.Config, logger *zerolog.Logger) adapter.OperatorNotifier {
	if cfg.Notify.TelegramToken == "" {
		return tele.NewLogNotifier(logger)
	}
	bot, err := tele.NewBotNotifier(cfg.Notify, logger)
	if err != nil {
		logger.Error().Err(err).Msg("telegram notifier unavailable, alerts go to the log")
		return tele.NewLogNotifier(logger)
	}
	return bot
}

// buildProviders registers every enabled provider, each behind its own
// concurrency cap when one is configured.
func buildProviders(cfg *config.Config, store adapter.ArtifactStore, logger *zerolog.Logger) (*provider.Registry, error) {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := provider.NewRegistry()
	for _, name := range names {
		pc := cfg.Providers[name]
		if !pc.Enabled {
			continue
		}
		keys := config.NewKeyResolver(name, pc).Resolve
		var p adapter.RenderProvider
		switch name {
		case provider.KieAIName:
			p = provider.NewKieAI(pc.BaseURL, keys, pc.Timeout)
		case provider.RunwareName:
			p = provider.NewRunware(pc.BaseURL, keys, pc.Timeout)
		case provider.OpenAIName, provider.GeminiName:
			if store == nil {
				logger.Warn().Str("provider", name).Msg("inline image provider needs storage.bucket, skipping")
				continue
			}
			if name == provider.OpenAIName {
				p = provider.NewOpenAIImages(pc.BaseURL, keys, pc.DefaultModel, store, pc.Timeout)
			} else {
				p = provider.NewGeminiImages(pc.BaseURL, keys, pc.DefaultModel, store)
			}
		default:
			return nil, fmt.Errorf("providers.%s: unknown provider", name)
		}
		if pc.Concurrency > 0 {
			p = provider.NewLimited(p, pc.Concurrency)
		}
		reg.Register(p)
		logger.Info().
			Str("provider", name).
			Int("concurrency", pc.Concurrency).
			Str("callback_token", logging.Redact(pc.CallbackToken, cfg.Runtime.Dev)).
			Msg("provider enabled")
	}
	if len(reg.Names()) == 0 {
		logger.Warn().Msg("no render providers enabled")
	}
	return reg, nil
}

func callbackTokens(cfg *config.Config) map[string]string {
	out := make(map[string]string, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if pc.CallbackToken != "" {
			out[name] = pc.CallbackToken
		}
	}
	return out
}
