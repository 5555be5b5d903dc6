package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/domain/ports/adapter"
	"render-credit-platform/internal/domain/ports/repository"
	"render-credit-platform/internal/infra/logging"
	"render-credit-platform/internal/infra/metrics"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

// WebhookUseCase turns provider callbacks into job transitions, at most once per event id.
type WebhookUseCase interface {
	Ingest(ctx context.Context, provider, eventID string, payload []byte) (model.Ack, error)
}

type webhookUC struct {
	providers adapter.ProviderRegistry
	jobs      repository.JobRepository
	events    repository.EventRepository
	lifecycle *Lifecycle
	tm        repository.TransactionManager
	log       *zerolog.Logger
}

func NewWebhookUseCase(
	providers adapter.ProviderRegistry,
	jobs repository.JobRepository,
	events repository.EventRepository,
	lifecycle *Lifecycle,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *webhookUC {
	l := logger.With().Str("component", "WebhookUC").Logger()
	return &webhookUC{providers: providers, jobs: jobs, events: events, lifecycle: lifecycle, tm: tm, log: &l}
}

// Ingest returns domain.ErrMalformedPayload for unreadable payloads and raw
// storage errors when the event should be redelivered. Everything else is acked.
func (u *webhookUC) Ingest(ctx context.Context, provider, eventID string, payload []byte) (model.Ack, error) {
	defer logging.TraceDuration(u.log, "WebhookUC.Ingest")()

	p, ok := u.providers.Get(provider)
	if !ok {
		return model.Ack{}, fmt.Errorf("%w: unknown provider %q", domain.ErrNotFound, provider)
	}
	ev, err := p.ParseWebhook(payload)
	if err != nil {
		metrics.IncWebhookEvent(provider, "malformed")
		if !errors.Is(err, domain.ErrMalformedPayload) {
			err = fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		return model.Ack{}, err
	}
	if ev.Handle == "" {
		metrics.IncWebhookEvent(provider, "malformed")
		return model.Ack{}, fmt.Errorf("%w: missing task handle", domain.ErrMalformedPayload)
	}
	eventID = resolveEventID(eventID, ev.EventID, payload)
	ctx = logging.WithEventID(ctx, eventID)
	log := logging.With(ctx, u.log)

	ev.Observation.Source = "webhook"
	ack := model.Ack{EventID: eventID}
	var res ApplyResult
	err = u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.events.Reserve(ctx, tx, provider, eventID)
		if err != nil {
			return err
		}
		if !fresh {
			ack.Outcome = model.EventOutcomeDuplicate
			if prev, err := u.events.Find(ctx, tx, provider, eventID); err == nil && prev.JobID != nil {
				ack.JobID = *prev.JobID
			}
			return nil
		}

		job, err := u.jobs.FindByHandle(ctx, tx, provider, ev.Handle)
		if errors.Is(err, domain.ErrNotFound) {
			ack.Outcome = model.EventOutcomeUnmatched
			return u.events.Complete(ctx, tx, provider, eventID, ack.Outcome, nil)
		}
		if err != nil {
			return err
		}
		ack.JobID = job.ID

		res, err = u.lifecycle.Apply(ctx, tx, job, ev.Observation)
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			log.Warn().Err(err).Str("job_id", job.ID).Msg("webhook does not apply to job state")
			ack.Outcome = model.EventOutcomeNoop
		case err != nil:
			return err
		case res.Applied:
			ack.Outcome = model.EventOutcomeApplied
		default:
			ack.Outcome = model.EventOutcomeNoop
		}
		jobID := job.ID
		return u.events.Complete(ctx, tx, provider, eventID, ack.Outcome, &jobID)
	})
	if err != nil {
		metrics.IncWebhookEvent(provider, "error")
		log.Error().Err(err).Str("handle", ev.Handle).Msg("webhook processing failed")
		return model.Ack{}, err
	}

	metrics.IncWebhookEvent(provider, string(ack.Outcome))
	if ack.Outcome == model.EventOutcomeUnmatched {
		log.Warn().Str("handle", ev.Handle).Msg("webhook for unknown handle")
	}
	u.lifecycle.Alert(ctx, res.Alerts)
	return ack, nil
}

// resolveEventID prefers the delivery header, then the payload's own id, then a content hash.
func resolveEventID(header, fromPayload string, payload []byte) string {
	if id := strings.TrimSpace(header); id != "" {
		return id
	}
	if id := strings.TrimSpace(fromPayload); id != "" {
		return id
	}
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}
