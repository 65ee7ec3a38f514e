// Package fetcher retrieves rendered product pages and classifies the
// result as usable HTML, a rate-limit/block page, or a network failure.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/scentbase/perfume-catalog/internal/browser"
	"github.com/scentbase/perfume-catalog/internal/ratelimit"
)

type ErrorKind string

const (
	// KindRateLimited means the source site is actively refusing or
	// degrading responses because of perceived automated traffic.
	KindRateLimited ErrorKind = "rate_limited"
	// KindNetworkFailure covers navigation, transport and browser
	// startup failures.
	KindNetworkFailure ErrorKind = "network_failure"
)

// Error is the typed fetch failure. The queue manager inspects Kind to
// decide between requeue-with-backoff and plain failure; every other
// caller treats it as terminal for that URL.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is one successfully retrieved page.
type Result struct {
	HTML   string
	Status int
}

type Options struct {
	Browser         *browser.Options
	BlockSignatures []string
	// ContentSelector is the element whose appearance marks the page
	// as rendered.
	ContentSelector string
	// ContentTimeout bounds the wait for ContentSelector.
	ContentTimeout time.Duration
}

// PageFetcher renders pages with a real browser engine. Each fetch
// launches a fresh engine and tears it down unconditionally.
type PageFetcher struct {
	opts       Options
	limiter    ratelimit.Limiter
	logger     *slog.Logger
	newBrowser func() (*browser.Browser, error)
}

func New(opts Options, limiter ratelimit.Limiter, logger *slog.Logger) *PageFetcher {
	if opts.Browser == nil {
		opts.Browser = browser.DefaultOptions()
	}
	if opts.ContentSelector == "" {
		opts.ContentSelector = "#main-content, h1, .perfume-page"
	}
	if opts.ContentTimeout == 0 {
		opts.ContentTimeout = 10 * time.Second
	}
	browserOpts := opts.Browser
	return &PageFetcher{
		opts:       opts,
		limiter:    limiter,
		logger:     logger.With("component", "fetcher"),
		newBrowser: func() (*browser.Browser, error) { return browser.New(browserOpts) },
	}
}

func (f *PageFetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindNetworkFailure, URL: url, Err: err}
	}

	b, err := f.newBrowser()
	if err != nil {
		// Engine startup failures propagate as network failures but
		// are logged on their own so an operator can tell a broken
		// playwright install from a flaky site.
		f.logger.Error("browser startup failed", "url", url, "error", err)
		return nil, &Error{Kind: KindNetworkFailure, URL: url, Err: err}
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			f.logger.Warn("browser teardown failed", "error", closeErr)
		}
	}()

	page, err := b.NewPage()
	if err != nil {
		return nil, &Error{Kind: KindNetworkFailure, URL: url, Err: err}
	}

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(f.opts.Browser.Timeout.Milliseconds())),
	})
	if err != nil {
		return nil, &Error{Kind: KindNetworkFailure, URL: url, Err: err}
	}

	// Content appears only after script execution. A timeout here is
	// not fatal: the block-page check below still runs on whatever was
	// rendered.
	if _, err := page.WaitForSelector(f.opts.ContentSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(f.opts.ContentTimeout.Milliseconds())),
	}); err != nil {
		f.logger.Warn("content element did not appear", "url", url)
	}

	html, err := page.Content()
	if err != nil {
		return nil, &Error{Kind: KindNetworkFailure, URL: url, Err: err}
	}

	status := 0
	if resp != nil {
		status = resp.Status()
	}

	if IsBlockPage(html, f.opts.BlockSignatures) {
		f.logger.Warn("rate-limit page detected", "url", url, "status", status)
		return nil, &Error{Kind: KindRateLimited, URL: url}
	}

	return &Result{HTML: html, Status: status}, nil
}

// IsBlockPage inspects the page title, the top heading and a prefix of
// the body text for rate-limit or block signatures. Free-text matching
// is heuristic by nature; the signature list is configuration, not
// code.
func IsBlockPage(html string, signatures []string) bool {
	if len(signatures) == 0 {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	probes := []string{
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
		bodyPrefix(doc, 500),
	}

	for _, probe := range probes {
		probe = strings.ToLower(probe)
		for _, sig := range signatures {
			if strings.Contains(probe, strings.ToLower(sig)) {
				return true
			}
		}
	}
	return false
}

func bodyPrefix(doc *goquery.Document, n int) string {
	text := strings.TrimSpace(doc.Find("body").Text())
	if len(text) > n {
		return text[:n]
	}
	return text
}
