package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const maxPageSize = 10 * 1024 * 1024

// Page is a fetched HTML document.
type Page struct {
	URL    string
	Status int
	HTML   string
}

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// StaticFetcher issues plain HTTP GETs.
type StaticFetcher struct {
	client    *http.Client
	userAgent string
}

// NewStaticFetcher creates a fetcher on client.
func NewStaticFetcher(client *http.Client, userAgent string) *StaticFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &StaticFetcher{client: client, userAgent: userAgent}
}

// Fetch returns the page body. Non-2xx responses are errors.
func (f *StaticFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errs.NewNetworkError(pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.NewAPIError(resp.StatusCode, pageURL, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, errs.NewNetworkError(pageURL, err)
	}
	return &Page{URL: resp.Request.URL.String(), Status: resp.StatusCode, HTML: string(body)}, nil
}

// RenderedFetcher loads pages in a headless Chrome with stealth evasions
// applied. The browser is launched on first use.
type RenderedFetcher struct {
	timeout   time.Duration
	userAgent string
	logger    logger.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRenderedFetcher creates a fetcher that renders JavaScript.
func NewRenderedFetcher(timeout time.Duration, userAgent string, log logger.Logger) *RenderedFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RenderedFetcher{
		timeout:   timeout,
		userAgent: userAgent,
		logger:    logger.OrDefault(log),
	}
}

func (f *RenderedFetcher) ensureBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled")
	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	f.logger.InfoWithFields("Launched headless browser", map[string]interface{}{"url": wsURL})
	f.browser = b
	f.launcher = l
	return b, nil
}

// Fetch renders pageURL and returns the resulting DOM.
func (f *RenderedFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	b, err := f.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	defer page.Close()

	p := page.Context(ctx).Timeout(f.timeout)
	if f.userAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.userAgent}); err != nil {
			f.logger.WithError(err).Debug("Could not override user agent")
		}
	}
	if err := p.Navigate(pageURL); err != nil {
		return nil, errs.NewNetworkError(pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		f.logger.WarnWithFields("Wait load timeout", map[string]interface{}{
			"url":   pageURL,
			"error": err.Error(),
		})
	}

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("read DOM: %w", err)
	}

	finalURL := pageURL
	if info, err := p.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}
	return &Page{URL: finalURL, Status: http.StatusOK, HTML: html}, nil
}

// Close shuts the browser down if it was started.
func (f *RenderedFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	if f.launcher != nil {
		f.launcher.Kill()
	}
	f.browser = nil
	f.launcher = nil
	return err
}
