package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
	"render-credit-platform/internal/infra/logging"
	"render-credit-platform/internal/infra/metrics"
)

// Compile-time check
var _ DispatchUseCase = (*dispatchUC)(nil)

// DispatchUseCase validates inputs and hands jobs to render providers.
type DispatchUseCase interface {
	// Validate checks provider, content type and input assets before any charge.
	Validate(ctx context.Context, job *model.Job) error
	// Submit sends the job with bounded retries. It returns the attempts made.
	Submit(ctx context.Context, job *model.Job) (adapter.Submission, int, error)
}

type dispatchUC struct {
	providers    adapter.ProviderRegistry
	assets       adapter.AssetChecker
	policy       RetryPolicy
	assetTimeout time.Duration
	callbackBase string
	tokens       map[string]string
	log          *zerolog.Logger
}

// NewDispatchUseCase builds the dispatcher. callbackBase is the public URL
// providers call back to; the provider name is appended to it.
func NewDispatchUseCase(providers adapter.ProviderRegistry, assets adapter.AssetChecker, policy RetryPolicy, assetTimeout time.Duration, callbackBase string, logger *zerolog.Logger) *dispatchUC {
	if assetTimeout <= 0 {
		assetTimeout = 5 * time.Second
	}
	l := logger.With().Str("component", "DispatchUC").Logger()
	return &dispatchUC{
		providers:    providers,
		assets:       assets,
		policy:       policy,
		assetTimeout: assetTimeout,
		callbackBase: strings.TrimRight(callbackBase, "/"),
		log:          &l,
	}
}

// WithCallbackTokens sets per-provider tokens appended to callback URLs as ?token=.
func (u *dispatchUC) WithCallbackTokens(tokens map[string]string) *dispatchUC {
	u.tokens = tokens
	return u
}

func (u *dispatchUC) Validate(ctx context.Context, job *model.Job) error {
	if _, ok := u.providers.Get(job.Provider); !ok {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, job.Provider)
	}
	if !job.ContentType.Valid() {
		return fmt.Errorf("%w: unknown content type %q", domain.ErrValidation, job.ContentType)
	}
	if job.ContentType.NeedsInputAsset() && len(job.InputAssets) == 0 {
		return fmt.Errorf("%w: %s needs an input asset", domain.ErrValidation, job.ContentType)
	}
	if u.assets == nil {
		return nil
	}
	for _, a := range job.InputAssets {
		cctx, cancel := context.WithTimeout(ctx, u.assetTimeout)
		err := u.assets.Check(cctx, a)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: input asset %s is unreachable: %v", domain.ErrValidation, a, err)
		}
	}
	return nil
}

func (u *dispatchUC) Submit(ctx context.Context, job *model.Job) (adapter.Submission, int, error) {
	p, ok := u.providers.Get(job.Provider)
	if !ok {
		return adapter.Submission{}, 0, domain.FatalDispatch(job.Provider, 0, errors.New("provider not configured"))
	}
	log := logging.With(logging.WithJobID(ctx, job.ID), u.log)
	req := adapter.SubmitRequest{
		JobID:       job.ID,
		ContentType: job.ContentType,
		Model:       job.Model,
		Prompt:      job.Prompt,
		InputAssets: job.InputAssets,
	}
	if u.callbackBase != "" {
		req.CallbackURL = u.callbackBase + "/webhooks/providers/" + p.Name()
		if tok := u.tokens[p.Name()]; tok != "" {
			req.CallbackURL += "?token=" + url.QueryEscape(tok)
		}
	}

	var sub adapter.Submission
	attempts, err := Retry(ctx, u.policy, func(ctx context.Context, attempt int) error {
		start := time.Now()
		s, err := p.Submit(ctx, req)
		metrics.ObserveProviderCall(p.Name(), "submit", outcomeOf(err), time.Since(start))
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("provider submit failed")
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return adapter.Submission{}, attempts, err
	}
	if sub.Handle == "" && sub.Immediate == nil {
		return adapter.Submission{}, attempts, domain.FatalDispatch(p.Name(), 0, errors.New("provider returned no handle"))
	}
	log.Info().Str("handle", sub.Handle).Int("attempts", attempts).Bool("sync", sub.Immediate != nil).Msg("job submitted")
	return sub, attempts, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsRetryable(err):
		return "retryable"
	default:
		return "fatal"
	}
}
