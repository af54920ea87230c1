// Package ingest refreshes subzone boundaries, population and scores from
// external source datasets.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxBodyBytes caps a single source download
const maxBodyBytes = 64 << 20

// ErrSourceTooLarge is returned for downloads over the size cap
var ErrSourceTooLarge = errors.New("source too large")

// Fetcher downloads a source dataset
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Name() string
}

// FetcherOptions select and configure the source fetcher
type FetcherOptions struct {
	UseBrowser bool
	Headless   bool
	Timeout    time.Duration
	Logger     *zap.Logger
}

// NewFetcher returns the configured fetcher and a function that releases
// it. A browser fetcher is started before it is returned.
func NewFetcher(opts FetcherOptions) (Fetcher, func(), error) {
	if !opts.UseBrowser {
		return NewHTTPFetcher(opts.Timeout), func() {}, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := NewBrowserFetcher(opts.Headless, opts.Timeout, logger)
	if err := b.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return b, b.Stop, nil
}

// HTTPFetcher fetches sources with a plain HTTP GET. file:// URLs are read
// from disk so sources can be staged locally.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewHTTPFetcher creates a fetcher with the given request timeout
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "HawkerScore/1.0 (dataset refresh)",
		maxBytes:  maxBodyBytes,
	}
}

func (f *HTTPFetcher) Name() string { return "http" }

// Fetch returns the response body of url
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if path, ok := strings.CutPrefix(url, "file://"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json, text/csv, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSourceTooLarge, f.maxBytes)
	}
	return body, nil
}
