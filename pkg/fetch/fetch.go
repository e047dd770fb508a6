// Package fetch retrieves controller proof text from public URLs.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/papercomputeco/accord/pkg/errs"
)

const (
	// DefaultTimeout bounds a single fetch.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxBytes caps the proof body that is read.
	DefaultMaxBytes = 1 << 20
)

// HTTPFetcher fetches proof text over HTTP(S).
type HTTPFetcher struct {
	Client    *http.Client
	MaxBytes  int64
	UserAgent string
}

// NewHTTPFetcher creates a fetcher with default limits.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: DefaultTimeout},
		MaxBytes:  DefaultMaxBytes,
		UserAgent: "accord-proof-fetcher/1",
	}
}

// Fetch GETs rawURL and returns the body as text. Bodies over MaxBytes are
// rejected rather than truncated so a signature is never cut in half.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errs.Validation("proof url %q must be an absolute http(s) url", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build proof request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/plain, text/html;q=0.9, */*;q=0.5")

	resp, err := f.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch proof: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errs.Validation("proof url %s returned status %d", rawURL, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("failed to read proof: %w", err)
	}
	if int64(len(body)) > limit {
		return "", errs.Validation("proof at %s exceeds %d bytes", rawURL, limit)
	}
	return string(body), nil
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// Static serves proof text from memory, keyed by URL.
type Static map[string]string

// Fetch returns the text stored for rawURL.
func (s Static) Fetch(_ context.Context, rawURL string) (string, error) {
	text, ok := s[rawURL]
	if !ok {
		return "", errs.NotFound("no proof published at %s", rawURL)
	}
	return text, nil
}
