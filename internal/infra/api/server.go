package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"render-credit-platform/internal/infra/i18n"
	"render-credit-platform/internal/infra/metrics"
	"render-credit-platform/internal/usecase"
)

// Pinger is a dependency /health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the use cases and adapters the router serves.
type Deps struct {
	Jobs     usecase.JobUseCase
	Ledger   usecase.LedgerUseCase
	Refunds  usecase.RefundUseCase
	Billing  usecase.BillingUseCase
	Webhooks usecase.WebhookUseCase

	Auth          *AuthManager
	BillingParser BillingParser
	WebhookAuth   map[string]WebhookAuth
	Locales       *i18n.Bundle
	Health        map[string]Pinger
}

type Server struct {
	deps    Deps
	timeout time.Duration
	log     *zerolog.Logger
	srv     *http.Server
}

func NewServer(deps Deps, requestTimeout time.Duration, logger *zerolog.Logger) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	l := logger.With().Str("component", "APIServer").Logger()
	return &Server{deps: deps, timeout: requestTimeout, log: &l}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	v := newValidate()
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Localize(s.deps.Locales), Timeout(s.timeout))

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/providers/{provider}", providerWebhookHandler(s.deps.Webhooks, s.deps.WebhookAuth))
		if s.deps.BillingParser != nil {
			r.Post("/billing", billingWebhookHandler(s.deps.Billing, s.deps.BillingParser))
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.deps.Auth.Authenticated)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", listJobsHandler(s.deps.Jobs))
			r.Post("/", createJobHandler(s.deps.Jobs, v))
			r.Get("/{id}", getJobHandler(s.deps.Jobs))
			r.Patch("/{id}", reestimateJobHandler(s.deps.Jobs, v))
			r.Post("/{id}/confirm", confirmJobHandler(s.deps.Jobs))
			r.Post("/{id}/cancel", cancelJobHandler(s.deps.Jobs))
			r.Post("/{id}/dispute", disputeJobHandler(s.deps.Refunds, v))
		})

		r.Get("/account", accountHandler(s.deps.Ledger, s.deps.Billing))
		r.Get("/account/ledger", ledgerHistoryHandler(s.deps.Ledger))
		r.Get("/plans", plansHandler(s.deps.Billing))

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/jobs/{id}/adjust", adjustJobHandler(s.deps.Refunds, v))
			r.Get("/reviews", listReviewsHandler(s.deps.Refunds))
			r.Post("/reviews/{id}/resolve", resolveReviewHandler(s.deps.Refunds, v))
			r.Post("/accounts/{user}/grant", grantHandler(s.deps.Ledger, v))
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Health))
	for name, p := range s.deps.Health {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
