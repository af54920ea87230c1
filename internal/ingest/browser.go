package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserFetcher loads sources in headless Chrome, for portals that only
// serve the dataset after running JavaScript. The rendered body text is
// returned, which for raw JSON or CSV responses is the document itself.
type BrowserFetcher struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	headless bool
	timeout  time.Duration
	logger   *zap.Logger
}

// NewBrowserFetcher creates a browser-based fetcher. Call Start before use.
func NewBrowserFetcher(headless bool, timeout time.Duration, logger *zap.Logger) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BrowserFetcher{
		headless: headless,
		timeout:  timeout,
		logger:   logger,
	}
}

func (b *BrowserFetcher) Name() string { return "browser" }

// Start initializes the browser allocator
func (b *BrowserFetcher) Start() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.WindowSize(1280, 800),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"),
	)

	b.allocCtx, b.cancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return nil
}

// Stop closes the browser
func (b *BrowserFetcher) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Fetch navigates to url and returns the rendered text content
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if b.allocCtx == nil {
		return nil, fmt.Errorf("browser not started")
	}

	// Create a new browser context for this page
	taskCtx, cancel := chromedp.NewContext(b.allocCtx)
	defer cancel()

	taskCtx, cancel = context.WithTimeout(taskCtx, b.timeout)
	defer cancel()

	// Propagate caller cancellation into the browser task
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var text, pageURL string
	err := chromedp.Run(taskCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept": "application/json, text/csv, */*",
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Location(&pageURL),
		chromedp.Evaluate(`(document.querySelector("pre") || document.body).innerText`, &text),
	)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}

	b.logger.Debug("browser fetch complete",
		zap.String("url", pageURL),
		zap.Int("bytes", len(text)))

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty document at %s", url)
	}
	return []byte(text), nil
}
