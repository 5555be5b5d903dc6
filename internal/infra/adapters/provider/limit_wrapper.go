package provider

import (
	"context"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.RenderProvider = (*limitedProvider)(nil)

// limitedProvider caps the number of in-flight Submit and Poll calls to one provider.
type limitedProvider struct {
	inner adapter.RenderProvider
	sem   chan struct{}
}

func NewLimited(inner adapter.RenderProvider, maxConcurrent int) adapter.RenderProvider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedProvider{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedProvider) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedProvider) release() { <-l.sem }

func (l *limitedProvider) Name() string { return l.inner.Name() }

func (l *limitedProvider) Submit(ctx context.Context, req adapter.SubmitRequest) (adapter.Submission, error) {
	if err := l.acquire(ctx); err != nil {
		return adapter.Submission{}, domain.RetryableDispatch(l.inner.Name(), 0, err)
	}
	defer l.release()
	return l.inner.Submit(ctx, req)
}

func (l *limitedProvider) Poll(ctx context.Context, handle string, ct model.ContentType) (model.Observation, error) {
	if err := l.acquire(ctx); err != nil {
		return model.Observation{}, err
	}
	defer l.release()
	return l.inner.Poll(ctx, handle, ct)
}

// ParseWebhook does no I/O and is not limited.
func (l *limitedProvider) ParseWebhook(payload []byte) (adapter.WebhookEvent, error) {
	return l.inner.ParseWebhook(payload)
}
