package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
	"docharvest/pkg/ratelimit"
	"docharvest/pkg/retry"
	"docharvest/pkg/telemetry"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"

	// DefaultTimeout is the metadata request timeout. Downloads use twice this.
	DefaultTimeout = 30 * time.Second

	acceptHeader = "application/vnd.github.v3+json"
	userAgent    = "docharvest"

	// resetMargin is added to the server reset time before retrying.
	resetMargin = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	MaxRetries      int
	DownloadRetries int

	// MaxRateLimitWait is the longest server-requested wait the client will
	// sit through before failing with a RateLimitError.
	MaxRateLimitWait time.Duration
	// RateLimitSleepCap bounds a single sleep while waiting for a reset.
	RateLimitSleepCap time.Duration

	MetadataBackoff retry.BackoffStrategy
	DownloadBackoff retry.BackoffStrategy

	// Transport overrides the base transport. Tests use this.
	Transport http.RoundTripper
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		BaseURL:           DefaultBaseURL,
		Timeout:           DefaultTimeout,
		MaxRetries:        3,
		DownloadRetries:   5,
		MaxRateLimitWait:  2 * time.Minute,
		RateLimitSleepCap: 30 * time.Second,
		MetadataBackoff:   retry.MetadataBackoff(),
		DownloadBackoff:   retry.DownloadBackoff(),
	}
}

// Client talks to the GitHub REST API under a shared rate budget.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dlClient   *http.Client
	budget     *ratelimit.Budget
	opts       Options
	authed     bool
	logger     logger.Logger
	metrics    *telemetry.Telemetry
	now        func() time.Time
}

// NewClient creates a client. budget must be shared by every client that
// talks to the same provider.
func NewClient(opts Options, budget *ratelimit.Budget, metrics *telemetry.Telemetry, log logger.Logger) (*Client, error) {
	defaults := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.DownloadRetries <= 0 {
		opts.DownloadRetries = defaults.DownloadRetries
	}
	if opts.MaxRateLimitWait <= 0 {
		opts.MaxRateLimitWait = defaults.MaxRateLimitWait
	}
	if opts.RateLimitSleepCap <= 0 {
		opts.RateLimitSleepCap = defaults.RateLimitSleepCap
	}
	if opts.MetadataBackoff == nil {
		opts.MetadataBackoff = defaults.MetadataBackoff
	}
	if opts.DownloadBackoff == nil {
		opts.DownloadBackoff = defaults.DownloadBackoff
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	if budget == nil {
		budget = ratelimit.NewBudget(ratelimit.DefaultBudgetConfig(), log)
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
			Base:   transport,
		}
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Transport: transport, Timeout: opts.Timeout},
		dlClient:   &http.Client{Transport: transport, Timeout: 2 * opts.Timeout},
		budget:     budget,
		opts:       opts,
		authed:     opts.Token != "",
		logger:     logger.OrDefault(log).WithField("component", "github"),
		metrics:    metrics,
		now:        time.Now,
	}, nil
}

// Budget returns the shared rate budget.
func (c *Client) Budget() *ratelimit.Budget {
	return c.budget
}

// Get issues a GET against endpoint (relative to the API base) and decodes
// the JSON body into out. out may be nil.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	endpoint = strings.TrimLeft(endpoint, "/")
	return retry.Do(func() error {
		return c.getOnce(ctx, endpoint, params, out)
	}, &retry.Config{
		MaxAttempts: c.opts.MaxRetries,
		Backoff:     c.opts.MetadataBackoff,
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
}

func (c *Client) getOnce(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := c.budget.Acquire(ctx, endpoint); err != nil {
		if errs.IsRateLimit(err) {
			c.metrics.RecordRateLimit("refused")
		}
		return err
	}

	u := c.baseURL.ResolveReference(&url.URL{Path: endpoint})
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.metrics.RecordAPIRequest(kindOf(endpoint), 0, time.Since(start))
		return errs.NewNetworkError(endpoint, err)
	}
	defer resp.Body.Close()

	c.budget.Observe(resp.Header)
	logger.LogRequest(c.logger, req.Method, u.String(), resp.StatusCode, time.Since(start))
	c.metrics.RecordAPIRequest(kindOf(endpoint), resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.NewNetworkError(endpoint, err)
	}

	if resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(string(body)), "rate limit exceeded") {
		return c.rateLimited(endpoint, resp.Header)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.NewAPIError(resp.StatusCode, endpoint, errorMessage(body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &errs.APIError{
			Type:     errs.ErrorTypeParsing,
			Code:     resp.StatusCode,
			Message:  fmt.Sprintf("malformed response: %v", err),
			Endpoint: endpoint,
		}
	}
	return nil
}

// rateLimited turns a secondary 403 into either a short retry or a final
// RateLimitError, depending on how far away the reset is.
func (c *Client) rateLimited(endpoint string, h http.Header) error {
	wait, ok := ratelimit.ResetDelay(h, c.now(), resetMargin)
	if !ok {
		wait = resetMargin
	}
	rlErr := errs.NewRateLimitError(endpoint, "GitHub API rate limit exceeded", wait)

	if wait > c.opts.MaxRateLimitWait {
		c.metrics.RecordRateLimit("refused")
		logger.LogRateLimit(c.logger, endpoint, 0, wait)
		return rlErr
	}

	sleep := wait
	if sleep > c.opts.RateLimitSleepCap {
		sleep = c.opts.RateLimitSleepCap
	}
	c.metrics.RecordRateLimit("wait")
	logger.LogRateLimit(c.logger, endpoint, 0, sleep)
	return retry.After(rlErr, sleep)
}

// Download fetches a raw file URL. It is paced by the shared budget but not
// counted against the hourly quota.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	return retry.DoWithResult(func() ([]byte, error) {
		return c.downloadOnce(ctx, rawURL)
	}, &retry.Config{
		MaxAttempts: c.opts.DownloadRetries,
		Backoff:     c.opts.DownloadBackoff,
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
}

func (c *Client) downloadOnce(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.budget.Pace(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.dlClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.NewNetworkError(rawURL, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordAPIRequest("download", resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.NewAPIError(resp.StatusCode, rawURL, errorMessage(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewNetworkError(rawURL, err)
	}
	return data, nil
}

// errorMessage extracts GitHub's error message, falling back to a trimmed
// body.
func errorMessage(body []byte) string {
	var er gh.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		msg := er.Message
		if len(er.Errors) > 0 {
			parts := make([]string, 0, len(er.Errors))
			for _, e := range er.Errors {
				parts = append(parts, e.Error())
			}
			msg += ", details: " + strings.Join(parts, "; ")
		}
		if er.DocumentationURL != "" {
			msg += " (docs: " + er.DocumentationURL + ")"
		}
		return msg
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "No response body"
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// kindOf labels an endpoint for metrics without leaking owner or repo names.
func kindOf(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "/contents"):
		return "contents"
	case strings.HasPrefix(endpoint, "orgs/") && strings.HasSuffix(endpoint, "/repos"):
		return "org_repos"
	case strings.HasPrefix(endpoint, "orgs/"):
		return "org"
	case strings.HasPrefix(endpoint, "repos/"):
		return "repo"
	default:
		return endpoint
	}
}
