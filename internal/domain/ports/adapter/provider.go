package adapter

import (
	"context"

	"render-credit-platform/internal/domain/model"
)

// SubmitRequest is the provider-neutral description of one render.
type SubmitRequest struct {
	JobID       string
	ContentType model.ContentType
	Model       string
	Prompt      string
	InputAssets []string
	CallbackURL string
}

// Submission is a provider's answer to Submit.
// Synchronous providers fill Immediate with the finished observation.
type Submission struct {
	Handle    string
	Immediate *model.Observation
}

// WebhookEvent is a provider callback parsed into local terms.
type WebhookEvent struct {
	Handle      string
	EventID     string // provider event id when the payload carries one
	Observation model.Observation
}

// RenderProvider is the port every render/inference integration implements.
// Submit errors must be *domain.DispatchError so callers can tell retryable from fatal.
type RenderProvider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (Submission, error)
	// Poll maps the provider's status vocabulary onto model.ObservedState.
	Poll(ctx context.Context, handle string, ct model.ContentType) (model.Observation, error)
	// ParseWebhook returns domain.ErrMalformedPayload for payloads it cannot read.
	ParseWebhook(payload []byte) (WebhookEvent, error)
}

// ProviderRegistry resolves providers by name.
type ProviderRegistry interface {
	Get(name string) (RenderProvider, bool)
	Names() []string
}

// AssetChecker verifies that an input asset is reachable before anything is billed.
type AssetChecker interface {
	Check(ctx context.Context, url string) error
}
