package crawler

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docharvest/pkg/cancel"
	"docharvest/pkg/config"
	"docharvest/pkg/logger"
	"docharvest/pkg/progress"
	"docharvest/pkg/ratelimit"
	"docharvest/pkg/telemetry"

	"golang.org/x/net/html"
)

// Page statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Options configures the Engine
type Options struct {
	RespectRobots  bool
	Delay          time.Duration
	UserAgent      string
	Timeout        time.Duration
	Render         bool
	VerifyLimit    int
	CleanupScratch bool
	ScratchDir     string
}

// OptionsFromConfig maps crawler settings onto Options.
func OptionsFromConfig(cfg config.CrawlerConfig, scratchDir string) Options {
	return Options{
		RespectRobots:  cfg.RespectRobots,
		Delay:          cfg.Delay,
		UserAgent:      cfg.UserAgent,
		Timeout:        cfg.Timeout,
		Render:         cfg.Render,
		VerifyLimit:    cfg.VerifyLimit,
		CleanupScratch: cfg.CleanupScratch,
		ScratchDir:     scratchDir,
	}
}

// Guidance overrides crawl settings. Zero fields leave the request alone.
type Guidance struct {
	Recursive       *bool    `json:"should_crawl_recursively,omitempty" yaml:"recursive,omitempty"`
	MaxPages        int      `json:"max_pages,omitempty" yaml:"max_pages,omitempty"`
	PriorityContent []string `json:"priority_content,omitempty" yaml:"priority_content,omitempty"`
}

// Request describes one crawl.
type Request struct {
	StartURL  string
	Recursive bool
	// MaxPages caps successful pages in the main loop; 0 means no cap.
	MaxPages int
	Guidance *Guidance
}

func (r Request) settings() (recursive bool, maxPages int, priority []string) {
	recursive, maxPages = r.Recursive, r.MaxPages
	if g := r.Guidance; g != nil {
		if g.Recursive != nil {
			recursive = *g.Recursive
		}
		if g.MaxPages > 0 {
			maxPages = g.MaxPages
		}
		priority = g.PriorityContent
	}
	return recursive, maxPages, priority
}

// PageRecord is one crawled page.
type PageRecord struct {
	URL          string    `json:"url"`
	Status       string    `json:"status"`
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"meta_description,omitempty"`
	CanonicalURL string    `json:"canonical_url,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	Markdown     string    `json:"markdown,omitempty"`
	ScratchPath  string    `json:"local_path,omitempty"`
	Links        []string  `json:"-"`
	Error        string    `json:"error,omitempty"`
	// Recovered marks pages found by the verification pass.
	Recovered bool `json:"recovered,omitempty"`
}

// Engine crawls websites.
type Engine struct {
	opts      Options
	fetcher   Fetcher
	robots    *RobotsPolicy
	limiter   *ratelimit.DomainLimiter
	converter *Converter
	metrics   *telemetry.Telemetry
	logger    logger.Logger
	now       func() time.Time
}

// New creates an Engine. A nil fetcher selects a RenderedFetcher when
// opts.Render is set and a StaticFetcher otherwise.
func New(opts Options, fetcher Fetcher, metrics *telemetry.Telemetry, log logger.Logger) *Engine {
	log = logger.OrDefault(log).WithField("component", "crawler")
	client := &http.Client{Timeout: opts.Timeout}
	if opts.Timeout <= 0 {
		client.Timeout = 30 * time.Second
	}
	if fetcher == nil {
		if opts.Render {
			fetcher = NewRenderedFetcher(2*client.Timeout, opts.UserAgent, log)
		} else {
			fetcher = NewStaticFetcher(client, opts.UserAgent)
		}
	}

	e := &Engine{
		opts:      opts,
		fetcher:   fetcher,
		limiter:   ratelimit.NewDomainLimiter(opts.Delay),
		converter: NewConverter(),
		metrics:   metrics,
		logger:    log,
		now:       time.Now,
	}
	if opts.RespectRobots {
		e.robots = NewRobotsPolicy(client, opts.UserAgent, log)
	}
	return e
}

// Close releases the fetcher if it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.fetcher.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

type crawlState struct {
	start    *url.URL
	visited  map[string]bool
	queued   map[string]bool
	frontier []string
	results  []PageRecord
	pages    int
}

// Crawl visits req.StartURL and, when recursive, every same-domain page it
// links to. Cancellation stops the crawl and returns what was collected;
// it is not an error. Only an unusable start URL is.
func (e *Engine) Crawl(ctx context.Context, req Request, report progress.Func, token *cancel.Token) ([]PageRecord, error) {
	start, err := parseStartURL(req.StartURL)
	if err != nil {
		return nil, err
	}
	recursive, maxPages, priority := req.settings()

	st := &crawlState{
		start:    start,
		visited:  make(map[string]bool),
		queued:   map[string]bool{start.String(): true},
		frontier: []string{start.String()},
	}

	e.logger.InfoWithFields("Starting crawl", map[string]interface{}{
		"url":       start.String(),
		"recursive": recursive,
		"max_pages": maxPages,
	})
	report.Report(0, "Starting crawl")

	cancelled := false
	for len(st.frontier) > 0 && (maxPages <= 0 || st.pages < maxPages) {
		pct := crawlPercent(st.pages, len(st.frontier))
		if cancel.Cancelled(ctx, token) {
			e.logger.Info("Crawl cancelled")
			report.Report(pct, "Crawl cancelled")
			cancelled = true
			break
		}
		report.Report(pct, fmt.Sprintf("Crawled %d pages, %d in queue", st.pages, len(st.frontier)))

		next := st.frontier[0]
		st.frontier = st.frontier[1:]
		delete(st.queued, next)
		if st.visited[next] {
			continue
		}
		st.visited[next] = true

		rec, ok := e.visit(ctx, next)
		if !ok {
			continue
		}
		st.results = append(st.results, rec)
		if rec.Status != StatusSuccess {
			continue
		}
		st.pages++

		if recursive {
			e.enqueue(ctx, st, rec.Links, priority)
		}
	}

	if recursive && st.pages > 0 && !cancelled && !cancel.Cancelled(ctx, token) {
		report.Report(95, "Verifying crawl completeness")
		e.verify(ctx, st, token)
	}

	if e.opts.CleanupScratch {
		e.cleanup(st.results)
	}

	report.Report(100, fmt.Sprintf("Completed crawl with %d pages", len(st.results)))
	e.logger.InfoWithFields("Crawl finished", map[string]interface{}{
		"pages":   len(st.results),
		"visited": len(st.visited),
	})
	return st.results, nil
}

func crawlPercent(done, queued int) float64 {
	if done+queued == 0 {
		return 0
	}
	return math.Min(95, float64(done)/float64(done+queued)*100)
}

func (e *Engine) enqueue(ctx context.Context, st *crawlState, links []string, priority []string) {
	var first, rest []string
	for _, link := range links {
		if st.visited[link] || st.queued[link] || !e.crawlable(ctx, st.start, link) {
			continue
		}
		st.queued[link] = true
		if matchesAny(link, priority) {
			first = append(first, link)
		} else {
			rest = append(rest, link)
		}
	}
	if len(first) > 0 {
		st.frontier = append(first, st.frontier...)
	}
	st.frontier = append(st.frontier, rest...)
}

// verify walks every result, including pages it recovers along the way, and
// fetches any same-domain link that was never visited.
func (e *Engine) verify(ctx context.Context, st *crawlState, token *cancel.Token) {
	e.logger.Info("Starting verification round to check for missed pages")
	recovered := 0

	for i := 0; i < len(st.results); i++ {
		if st.results[i].Status != StatusSuccess {
			continue
		}
		for _, link := range st.results[i].Links {
			if cancel.Cancelled(ctx, token) {
				return
			}
			if e.opts.VerifyLimit > 0 && recovered >= e.opts.VerifyLimit {
				return
			}
			if st.visited[link] || !e.crawlable(ctx, st.start, link) {
				continue
			}
			st.visited[link] = true
			e.logger.InfoWithFields("Found missed URL during verification", map[string]interface{}{"url": link})

			rec, ok := e.visit(ctx, link)
			if !ok {
				continue
			}
			rec.Recovered = true
			st.results = append(st.results, rec)
			if rec.Status == StatusSuccess {
				recovered++
			}
		}
	}

	e.logger.InfoWithFields("Verification round complete", map[string]interface{}{
		"recovered": recovered,
		"pages":     len(st.results),
	})
}

func (e *Engine) crawlable(ctx context.Context, start *url.URL, link string) bool {
	u, err := url.Parse(link)
	if err != nil || !strings.EqualFold(u.Host, start.Host) {
		return false
	}
	if !e.robots.Allowed(ctx, u) {
		e.logger.DebugWithFields("Skipping URL disallowed by robots.txt", map[string]interface{}{"url": link})
		return false
	}
	return true
}

// visit fetches one URL. ok is false when robots.txt forbids it.
func (e *Engine) visit(ctx context.Context, pageURL string) (PageRecord, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return e.failed(pageURL, err), true
	}
	if !e.robots.Allowed(ctx, u) {
		e.logger.WarnWithFields("Skipping URL disallowed by robots.txt", map[string]interface{}{"url": pageURL})
		return PageRecord{}, false
	}
	if err := e.limiter.Wait(ctx, u.Host); err != nil {
		return e.failed(pageURL, err), true
	}

	e.logger.DebugWithFields("Fetching page", map[string]interface{}{"url": pageURL})
	page, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return e.failed(pageURL, err), true
	}

	rec, err := e.process(u, page)
	if err != nil {
		return e.failed(pageURL, err), true
	}
	e.metrics.RecordPage(StatusSuccess)
	return rec, true
}

func (e *Engine) process(u *url.URL, page *Page) (PageRecord, error) {
	doc, err := html.Parse(strings.NewReader(page.HTML))
	if err != nil {
		return PageRecord{}, fmt.Errorf("parse html: %w", err)
	}
	meta := ExtractMetadata(doc, u)
	links := ExtractLinks(doc, u)

	md, err := e.converter.Markdown(page.HTML, u.String())
	if err != nil {
		return PageRecord{}, fmt.Errorf("convert to markdown: %w", err)
	}

	rec := PageRecord{
		URL:          u.String(),
		Status:       StatusSuccess,
		Title:        meta.Title,
		Description:  meta.Description,
		CanonicalURL: meta.CanonicalURL,
		FetchedAt:    e.now(),
		Markdown:     md,
		Links:        links,
	}

	if e.opts.ScratchDir != "" {
		path := filepath.Join(e.opts.ScratchDir, ScratchName(u))
		if err := os.MkdirAll(e.opts.ScratchDir, 0o755); err != nil {
			return PageRecord{}, fmt.Errorf("create scratch dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
			return PageRecord{}, fmt.Errorf("write scratch file: %w", err)
		}
		rec.ScratchPath = path
	}
	return rec, nil
}

func (e *Engine) failed(pageURL string, err error) PageRecord {
	e.logger.WarnWithFields("Error fetching page", map[string]interface{}{
		"url":   pageURL,
		"error": err.Error(),
	})
	e.metrics.RecordPage(StatusError)
	return PageRecord{
		URL:       pageURL,
		Status:    StatusError,
		Error:     err.Error(),
		FetchedAt: e.now(),
	}
}

func (e *Engine) cleanup(results []PageRecord) {
	for i := range results {
		if results[i].ScratchPath == "" {
			continue
		}
		if err := os.Remove(results[i].ScratchPath); err != nil && !os.IsNotExist(err) {
			e.logger.WarnWithFields("Error cleaning up scratch file", map[string]interface{}{
				"path":  results[i].ScratchPath,
				"error": err.Error(),
			})
			continue
		}
		results[i].ScratchPath = ""
	}
}

// ScratchName derives the scratch file name for a page: host followed by
// the path with '/' replaced by '_', with a .md suffix. A query string adds
// its FNV-1a hash so pages that differ only by query get distinct files.
func ScratchName(u *url.URL) string {
	name := u.Host + strings.ReplaceAll(u.Path, "/", "_")
	name = strings.ReplaceAll(name, ":", "_")
	name = strings.TrimSuffix(name, ".md")
	if u.RawQuery != "" {
		h := fnv.New32a()
		h.Write([]byte(u.RawQuery))
		name += fmt.Sprintf("_%08x", h.Sum32())
	}
	return name + ".md"
}

func parseStartURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid start url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid start url %q: need an absolute http(s) url", raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		// Resolved links to the site root always carry the slash.
		u.Path = "/"
	}
	return u, nil
}

func matchesAny(link string, patterns []string) bool {
	lower := strings.ToLower(link)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
