package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
	"render-credit-platform/internal/usecase"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerEventID   = "X-Webhook-Event-Id"
	maxWebhookBody  = 2 << 20
)

// WebhookAuth is how one provider proves its callbacks. Either field may be empty.
type WebhookAuth struct {
	Secret string // HMAC-SHA256 key over the raw body
	Token  string // shared ?token= value
}

// BillingParser verifies and normalizes a payment processor webhook.
type BillingParser interface {
	Parse(payload []byte, signature string) (model.BillingEvent, error)
}

type ackView struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
	JobID   string `json:"job_id,omitempty"`
}

func readWebhookBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if len(body) > maxWebhookBody {
		return nil, fmt.Errorf("%w: body too large", domain.ErrMalformedPayload)
	}
	return body, nil
}

// verifyWebhook accepts a hex HMAC-SHA256 signature (optionally "sha256=" prefixed)
// or the shared token. A provider with neither configured cannot be authenticated.
func verifyWebhook(auth WebhookAuth, r *http.Request, body []byte) bool {
	if auth.Secret != "" {
		sig := strings.TrimPrefix(strings.TrimSpace(r.Header.Get(headerSignature)), "sha256=")
		if got, err := hex.DecodeString(sig); err == nil && len(got) > 0 {
			mac := hmac.New(sha256.New, []byte(auth.Secret))
			mac.Write(body)
			if hmac.Equal(got, mac.Sum(nil)) {
				return true
			}
		}
	}
	if auth.Token != "" {
		tok := r.URL.Query().Get("token")
		return tok != "" && hmac.Equal([]byte(tok), []byte(auth.Token))
	}
	return false
}

func providerWebhookHandler(hooks usecase.WebhookUseCase, auths map[string]WebhookAuth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := strings.ToLower(chi.URLParam(r, "provider"))
		auth, ok := auths[provider]
		if !ok {
			writeError(w, r, fmt.Errorf("%w: unknown provider %q", domain.ErrNotFound, provider))
			return
		}
		body, err := readWebhookBody(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !verifyWebhook(auth, r, body) {
			writeError(w, r, domain.ErrUnauthorized)
			return
		}
		ack, err := hooks.Ingest(r.Context(), provider, r.Header.Get(headerEventID), body)
		if err != nil {
			writeWebhookError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ackView{EventID: ack.EventID, Outcome: string(ack.Outcome), JobID: ack.JobID})
	}
}

func billingWebhookHandler(billing usecase.BillingUseCase, parser BillingParser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readWebhookBody(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ev, err := parser.Parse(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ack, err := billing.Handle(r.Context(), ev)
		if err != nil {
			writeWebhookError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ackView{EventID: ack.EventID, Outcome: string(ack.Outcome)})
	}
}

// writeWebhookError keeps senders retrying only on transient failures.
// Input that can never succeed is a 400; anything after parsing is a 500.
func writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrMalformedPayload) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_payload", Message: err.Error()})
		return
	}
	if rs, ok := w.(*respWriter); ok {
		rs.err = err
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
}
