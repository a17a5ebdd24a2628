// Package httpfeed fetches the plain-text bogon and ASN allow-list
// feeds consulted by the address filter's cycle-start refresh. A
// failed fetch is treated as "return empty, keep the previous policy
// tables" rather than aborting a crawl cycle — so this package never
// returns an error, mirroring original_source's utils.http_get.
package httpfeed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client fetches policy feeds over HTTP with a bounded timeout.
type Client struct {
	httpClient *http.Client
}

// New constructs a Client with the given request timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// GetText fetches url and returns its body as text. On any failure
// (network error, non-2xx status, read error) it logs at warning level
// and returns "" — never an error — so that callers can fold the
// failure into "continue with the previous policy tables"
// without special-casing it.
func (c *Client) GetText(ctx context.Context, url string) string {
	if url == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Warn("httpfeed: build request", "url", url, "error", err)
		return ""
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("httpfeed: fetch failed", "url", url, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("httpfeed: unexpected status", "url", url, "status", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		slog.Warn("httpfeed: read body", "url", url, "error", err)
		return ""
	}
	return string(body)
}
