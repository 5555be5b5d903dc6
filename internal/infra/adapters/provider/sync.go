package provider

import (
	"context"
	"errors"
	"fmt"
	"mime"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
)

var errNoCallbacks = errors.New("provider answers synchronously and sends no callbacks")

// storeArtifact uploads inline image bytes and builds the immediate success observation.
func storeArtifact(ctx context.Context, store adapter.ArtifactStore, provider, jobID, contentType string, data []byte) (*model.Observation, error) {
	if store == nil {
		return nil, domain.FatalDispatch(provider, 0, errors.New("artifact store not configured"))
	}
	if len(data) == 0 {
		return nil, domain.FatalDispatch(provider, 0, errors.New("provider returned an empty image"))
	}
	if contentType == "" {
		contentType = "image/png"
	}
	ext := ".png"
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		ext = exts[0]
	}
	url, err := store.Put(ctx, "artifacts/"+provider+"/"+jobID+ext, contentType, data)
	if err != nil {
		return nil, domain.RetryableDispatch(provider, 0, fmt.Errorf("store artifact: %w", err))
	}
	return &model.Observation{State: model.ObservedSucceeded, ArtifactURL: url, Source: "dispatch"}, nil
}

// syncPoll answers polls for providers that never leave work in flight.
func syncPoll() (model.Observation, error) {
	return model.Observation{State: model.ObservedUnknown, Source: "poll"}, nil
}

func syncWebhook(provider string) (adapter.WebhookEvent, error) {
	return adapter.WebhookEvent{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedPayload, provider, errNoCallbacks)
}
