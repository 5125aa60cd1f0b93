package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"docharvest/pkg/cancel"
	"docharvest/pkg/logger"
	"docharvest/pkg/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type site struct {
	mu     sync.Mutex
	pages  map[string]string
	robots string
	hits   map[string]int
	total  int32
}

func newSite(t *testing.T) (*site, *httptest.Server) {
	t.Helper()
	s := &site{pages: make(map[string]string), hits: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.total, 1)
		s.mu.Lock()
		s.hits[r.URL.Path]++
		body, ok := s.pages[r.URL.Path]
		robots := s.robots
		s.mu.Unlock()

		if r.URL.Path == "/robots.txt" {
			if robots == "" {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, robots)
			return
		}
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *site) page(path, title string, links ...string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<html><head><title>%s</title><meta name=\"description\" content=\"about %s\"></head><body><h1>%s</h1>", title, title, title)
	for _, l := range links {
		fmt.Fprintf(&sb, "<a href=\"%s\">%s</a> ", l, l)
	}
	sb.WriteString("</body></html>")
	s.mu.Lock()
	s.pages[path] = sb.String()
	s.mu.Unlock()
}

func newTestEngine(t *testing.T, mutate func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		RespectRobots: true,
		UserAgent:     "docharvest/test",
		ScratchDir:    t.TempDir(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts, nil, nil, logger.NewNopLogger())
}

func urls(records []PageRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		u, _ := url.Parse(r.URL)
		out = append(out, u.Path)
	}
	return out
}

func TestSinglePageCrawl(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home", "/a")
	s.page("/a", "A")
	e := newTestEngine(t, nil)

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	p := pages[0]
	assert.Equal(t, StatusSuccess, p.Status)
	assert.Equal(t, "Home", p.Title)
	assert.Equal(t, "about Home", p.Description)
	assert.Contains(t, p.Markdown, "# Home")
	assert.False(t, p.FetchedAt.IsZero())

	data, err := os.ReadFile(p.ScratchPath)
	require.NoError(t, err)
	assert.Equal(t, p.Markdown, string(data))
}

func TestRecursiveCrawlStaysOnDomain(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home", "/a", "https://elsewhere.example/x", "/b#section")
	s.page("/a", "A", "/b", "/")
	s.page("/b", "B")
	e := newTestEngine(t, nil)

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/", Recursive: true}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/a", "/b"}, urls(pages))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 1, s.hits["/b"], "each page fetched once")
}

func TestRecursiveCrawlLeavesStartPathOnSameHost(t *testing.T) {
	s, srv := newSite(t)
	s.page("/docs/", "Docs", "/docs/intro", "/blog/post")
	s.page("/docs/intro", "Intro")
	s.page("/blog/post", "Post")
	e := newTestEngine(t, nil)

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/docs/", Recursive: true}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/", "/docs/intro", "/blog/post"}, urls(pages))
}

func TestRobotsDisallowedPagesAreSkipped(t *testing.T) {
	s, srv := newSite(t)
	s.robots = "User-agent: *\nDisallow: /private/\n"
	s.page("/", "Home", "/public/x", "/private/y")
	s.page("/public/x", "Public")
	s.page("/private/y", "Private")
	e := newTestEngine(t, nil)

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/", Recursive: true}, nil, nil)
	require.NoError(t, err)

	got := urls(pages)
	assert.Contains(t, got, "/public/x")
	assert.NotContains(t, got, "/private/y")

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Zero(t, s.hits["/private/y"])
	assert.Equal(t, 1, s.hits["/robots.txt"], "robots.txt is cached per domain")
}

func TestIgnoreRobots(t *testing.T) {
	s, srv := newSite(t)
	s.robots = "User-agent: *\nDisallow: /\n"
	s.page("/", "Home")
	e := newTestEngine(t, func(o *Options) { o.RespectRobots = false })

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/"}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestVerificationRecoversMissedPages(t *testing.T) {
	s, srv := newSite(t)
	s.page("/a", "A", "/b")
	s.page("/b", "B", "/c")
	s.page("/c", "C")
	e := newTestEngine(t, nil)

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/a", Recursive: true, MaxPages: 1}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b", "/c"}, urls(pages))
	assert.False(t, pages[0].Recovered)
	assert.True(t, pages[1].Recovered)
	assert.True(t, pages[2].Recovered)
}

func TestVerifyLimitCapsRecoveredPages(t *testing.T) {
	s, srv := newSite(t)
	s.page("/a", "A", "/b")
	s.page("/b", "B", "/c")
	s.page("/c", "C")
	e := newTestEngine(t, func(o *Options) { o.VerifyLimit = 1 })

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/a", Recursive: true, MaxPages: 1}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, urls(pages))
}

func TestPageErrorsDoNotAbortCrawl(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home", "/broken", "/ok")
	s.page("/ok", "OK")
	e := newTestEngine(t, nil)

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/", Recursive: true}, nil, nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, "/broken", urls(pages)[1])
	assert.Equal(t, StatusError, pages[1].Status)
	assert.NotEmpty(t, pages[1].Error)
	assert.Equal(t, StatusSuccess, pages[2].Status)
}

func TestPriorityLinksGoFirst(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home", "/blog", "/news", "/api-reference")
	s.page("/blog", "Blog")
	s.page("/news", "News")
	s.page("/api-reference", "API")
	e := newTestEngine(t, nil)

	req := Request{
		StartURL:  srv.URL + "/",
		Recursive: true,
		MaxPages:  2,
		Guidance:  &Guidance{PriorityContent: []string{"API"}},
	}
	pages, err := e.Crawl(context.Background(), req, nil, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(pages), 2)
	assert.Equal(t, "/api-reference", urls(pages)[1])
}

func TestGuidanceOverridesRequest(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home", "/a")
	s.page("/a", "A")
	e := newTestEngine(t, nil)

	yes := true
	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/", Guidance: &Guidance{Recursive: &yes}}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestCancelledBeforeStartFetchesNothing(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home")
	e := newTestEngine(t, nil)

	token := cancel.New()
	token.Set()
	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/", Recursive: true}, nil, token)
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Zero(t, atomic.LoadInt32(&s.total))
}

type cancellingFetcher struct {
	inner Fetcher
	token *cancel.Token
	after int
	calls int
}

func (f *cancellingFetcher) Fetch(ctx context.Context, u string) (*Page, error) {
	f.calls++
	if f.calls == f.after {
		f.token.Set()
	}
	return f.inner.Fetch(ctx, u)
}

func TestCancelledMidCrawlReturnsPartialResults(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home", "/a", "/b", "/c")
	s.page("/a", "A")
	s.page("/b", "B")
	s.page("/c", "C")

	token := cancel.New()
	f := &cancellingFetcher{inner: NewStaticFetcher(nil, "docharvest/test"), token: token, after: 2}
	e := New(Options{ScratchDir: t.TempDir()}, f, nil, logger.NewNopLogger())

	rec := &progress.Recorder{}
	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/", Recursive: true}, rec.Func(), token)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/a"}, urls(pages))

	var sawCancel bool
	for _, ev := range rec.Events() {
		if ev.Message == "Crawl cancelled" {
			sawCancel = true
		}
		assert.NotEqual(t, "Verifying crawl completeness", ev.Message)
	}
	assert.True(t, sawCancel)
}

func TestProgressReporting(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home", "/a", "/b")
	s.page("/a", "A")
	s.page("/b", "B")
	e := newTestEngine(t, nil)

	rec := &progress.Recorder{}
	_, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/", Recursive: true}, rec.Func(), nil)
	require.NoError(t, err)

	pcts := rec.Percents()
	require.NotEmpty(t, pcts)
	assert.Equal(t, 0.0, pcts[0])
	assert.Equal(t, 100.0, pcts[len(pcts)-1])
	assert.Contains(t, pcts, 95.0)
	for _, p := range pcts[:len(pcts)-1] {
		assert.LessOrEqual(t, p, 95.0)
	}
}

func TestCleanupScratchKeepsMarkdown(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home")
	dir := t.TempDir()
	e := newTestEngine(t, func(o *Options) {
		o.CleanupScratch = true
		o.ScratchDir = dir
	})

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Empty(t, pages[0].ScratchPath)
	assert.Contains(t, pages[0].Markdown, "Home")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInvalidStartURL(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Crawl(context.Background(), Request{StartURL: "ftp://example.com"}, nil, nil)
	assert.Error(t, err)
	_, err = e.Crawl(context.Background(), Request{StartURL: "/relative"}, nil, nil)
	assert.Error(t, err)
}

func TestScratchName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://docs.example.com/guide/intro", "docs.example.com_guide_intro.md"},
		{"https://docs.example.com/", "docs.example.com_.md"},
		{"https://docs.example.com/readme.md", "docs.example.com_readme.md"},
		{"https://docs.example.com/search?q=go", "docs.example.com_search_30793129.md"},
		{"https://docs.example.com/list?page=2", "docs.example.com_list_01698319.md"},
		{"https://docs.example.com/list?page=3", "docs.example.com_list_00698186.md"},
		{"https://docs.example.com/readme.md?page=2", "docs.example.com_readme_01698319.md"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ScratchName(u))
		})
	}
}

func TestPagesDifferingByQueryKeepSeparateScratchFiles(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home", "/list?page=2")
	s.page("/list", "List")
	e := newTestEngine(t, nil)

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL + "/", Recursive: true}, nil, nil)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.NotEqual(t, pages[0].ScratchPath, pages[1].ScratchPath)

	for _, p := range pages {
		data, err := os.ReadFile(p.ScratchPath)
		require.NoError(t, err)
		assert.Equal(t, p.Markdown, string(data))
	}
}

func TestStartURLWithoutSlashIsFetchedOnce(t *testing.T) {
	s, srv := newSite(t)
	s.page("/", "Home", "/a", "/")
	s.page("/a", "A", srv.URL, srv.URL+"/")
	e := newTestEngine(t, nil)

	pages, err := e.Crawl(context.Background(), Request{StartURL: srv.URL, Recursive: true}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/a"}, urls(pages))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 1, s.hits["/"])
}
