package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/infra/i18n"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// first match wins
var errorMappings = []errorMapping{
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrCancelNotAllowed, http.StatusConflict, "cancel_not_allowed"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrConcurrencyConflict, http.StatusConflict, "invalid_transition"},
	{domain.ErrDuplicateEvent, http.StatusConflict, "duplicate"},
	{domain.ErrMalformedPayload, http.StatusBadRequest, "malformed_payload"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation"},
	{domain.ErrInvalidArgument, http.StatusUnprocessableEntity, "validation"},
}

func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the single place domain errors become HTTP responses.
// Messages are localized; internal details never leave the process.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := ""
	if tr := translatorFrom(r.Context()); tr != nil {
		msg = tr.T("error." + code)
	}
	if msg == "" || msg == "error."+code {
		if status == http.StatusInternalServerError {
			msg = "internal error"
		} else {
			msg = err.Error()
		}
	}
	if rs, ok := w.(*respWriter); ok {
		rs.err = err
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

type translatorKey struct{}

func translatorFrom(ctx context.Context) *i18n.Translator {
	t, _ := ctx.Value(translatorKey{}).(*i18n.Translator)
	return t
}

// Localize picks a translator from Accept-Language for the rest of the chain.
func Localize(bundle *i18n.Bundle) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bundle == nil {
				next.ServeHTTP(w, r)
				return
			}
			tr := bundle.For(r.Header.Get("Accept-Language"))
			w.Header().Set("Content-Language", tr.Lang())
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), translatorKey{}, tr)))
		})
	}
}
