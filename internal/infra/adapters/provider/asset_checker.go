package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"render-credit-platform/internal/domain/ports/adapter"
)

var _ adapter.AssetChecker = (*HTTPAssetChecker)(nil)

// HTTPAssetChecker confirms an input asset answers with 2xx before a job is billed.
// Servers that refuse HEAD get a one-byte ranged GET instead.
type HTTPAssetChecker struct {
	client *http.Client
}

func NewHTTPAssetChecker(timeout time.Duration) *HTTPAssetChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAssetChecker{client: &http.Client{Timeout: timeout}}
}

func (c *HTTPAssetChecker) Check(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("asset must be an absolute http(s) url")
	}
	status, err := c.probe(ctx, http.MethodHead, raw)
	if err != nil {
		return err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		if status, err = c.probe(ctx, http.MethodGet, raw); err != nil {
			return err
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("asset answered http %d", status)
	}
	return nil
}

func (c *HTTPAssetChecker) probe(ctx context.Context, method, raw string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, raw, nil)
	if err != nil {
		return 0, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusPartialContent {
		return http.StatusOK, nil
	}
	return resp.StatusCode, nil
}
