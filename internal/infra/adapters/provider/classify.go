package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"render-credit-platform/internal/domain"
)

// errMissingKey is always reported as fatal.
var errMissingKey = errors.New("no api key configured")

// statusError classifies a non-2xx HTTP answer.
// 408, 425, 429 and 5xx are worth retrying; every other status is not.
func statusError(provider string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	err := fmt.Errorf("http %d: %s", status, msg)
	if retryableStatus(status) {
		return domain.RetryableDispatch(provider, status, err)
	}
	return domain.FatalDispatch(provider, status, err)
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

// transportError classifies an error that happened before any HTTP status arrived.
func transportError(provider string, err error) error {
	var de *domain.DispatchError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return domain.FatalDispatch(provider, 0, err)
	}
	// timeouts, resets and truncated bodies
	return domain.RetryableDispatch(provider, 0, err)
}

// readBody reads at most 1 MiB of a response body.
func readBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 1<<20))
}
