package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
	"docharvest/pkg/ratelimit"
	"docharvest/pkg/retry"

	gh "github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, mutate func(*Options, *ratelimit.BudgetConfig)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts := DefaultOptions()
	opts.BaseURL = srv.URL
	opts.MetadataBackoff = &retry.ConstantBackoff{Delay: time.Millisecond}
	opts.DownloadBackoff = &retry.ConstantBackoff{Delay: time.Millisecond}
	opts.RateLimitSleepCap = 10 * time.Millisecond

	budgetCfg := ratelimit.DefaultBudgetConfig()
	budgetCfg.MinInterval = 0
	budgetCfg.SlowInterval = 0

	if mutate != nil {
		mutate(&opts, &budgetCfg)
	}

	log := logger.NewNopLogger()
	c, err := NewClient(opts, ratelimit.NewBudget(budgetCfg, log), nil, log)
	require.NoError(t, err)
	return c, srv
}

func TestGetDecodesAndSendsHeaders(t *testing.T) {
	var gotAuth, gotAccept string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		assert.Equal(t, "/repos/octo/docs", r.URL.Path)
		fmt.Fprint(w, `{"name":"docs","default_branch":"trunk"}`)
	}), func(o *Options, _ *ratelimit.BudgetConfig) { o.Token = "ghp_test" })

	repo, err := c.Repository(context.Background(), "octo", "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", repo.GetName())
	assert.Equal(t, "Bearer ghp_test", gotAuth)
	assert.Equal(t, acceptHeader, gotAccept)

	branch, err := c.DefaultBranch(context.Background(), "octo", "docs")
	require.NoError(t, err)
	assert.Equal(t, "trunk", branch)

	used, _ := c.Budget().Usage()
	assert.Equal(t, 2, used)
}

func TestContentsDirectoryAndFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/docs/contents/docs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v2", r.URL.Query().Get("ref"))
		fmt.Fprint(w, `[{"type":"file","name":"a.md","path":"docs/a.md","size":10},{"type":"dir","name":"img","path":"docs/img"}]`)
	})
	mux.HandleFunc("/repos/octo/docs/contents/docs/a.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"file","name":"a.md","path":"docs/a.md","size":10}`)
	})
	c, _ := newTestClient(t, mux, nil)

	file, dir, err := c.Contents(context.Background(), "octo", "docs", "docs", "v2")
	require.NoError(t, err)
	assert.Nil(t, file)
	require.Len(t, dir, 2)
	assert.Equal(t, "dir", dir[1].GetType())

	file, dir, err = c.Contents(context.Background(), "octo", "docs", "docs/a.md", "")
	require.NoError(t, err)
	assert.Nil(t, dir)
	assert.Equal(t, 10, file.GetSize())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found","documentation_url":"https://docs.github.com"}`)
	}), nil)

	_, err := c.Repository(context.Background(), "octo", "missing")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
	assert.Contains(t, err.Error(), "Not Found")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"login":"octo","public_repos":3}`)
	}), nil)

	org, err := c.Organization(context.Background(), "octo")
	require.NoError(t, err)
	assert.Equal(t, 3, org.GetPublicRepos())
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestServerErrorsExhaustRetries(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil)

	_, err := c.Organization(context.Background(), "octo")
	require.Error(t, err)

	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Code)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestRateLimitedWithDistantResetFailsFast(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(30*time.Minute).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"API rate limit exceeded for user"}`)
	}), nil)

	_, err := c.Repository(context.Background(), "octo", "docs")
	require.Error(t, err)

	var rl *errs.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, 29*time.Minute)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestRateLimitedWithNearResetRetriesThenSucceeds(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
			return
		}
		fmt.Fprint(w, `{"name":"docs"}`)
	}), nil)

	repo, err := c.Repository(context.Background(), "octo", "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", repo.GetName())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRateLimitedRetriesExhaustedSurfacesRateLimitError(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"secondary rate limit exceeded"}`)
	}), nil)

	_, err := c.Repository(context.Background(), "octo", "docs")
	assert.True(t, errs.IsRateLimit(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestPlainForbiddenIsAPIError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"Resource not accessible by integration"}`)
	}), nil)

	_, err := c.Repository(context.Background(), "octo", "docs")
	require.Error(t, err)
	assert.False(t, errs.IsRateLimit(err))
	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Code)
}

func TestBudgetExhaustionFailsWithoutNetworkCall(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{}`)
	}), func(_ *Options, b *ratelimit.BudgetConfig) {
		b.HourlyLimit = 20
	})

	ctx := context.Background()
	for i := 0; i < 19; i++ {
		require.NoError(t, c.Get(ctx, "rate_limit", nil, nil))
	}

	err := c.Get(ctx, "rate_limit", nil, nil)
	var rl *errs.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.GreaterOrEqual(t, rl.RetryAfter, time.Minute)
	assert.Equal(t, int32(19), atomic.LoadInt32(&hits))
}

func TestLowRemainingWidensInterval(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "42")
		fmt.Fprint(w, `{}`)
	}), func(_ *Options, b *ratelimit.BudgetConfig) {
		b.MinInterval = time.Millisecond
		b.SlowInterval = 2 * time.Millisecond
	})

	require.NoError(t, c.Get(context.Background(), "rate_limit", nil, nil))
	assert.Equal(t, 2*time.Millisecond, c.Budget().MinInterval())
}

func TestMalformedJSONIsParsingError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":`)
	}), nil)

	_, err := c.Repository(context.Background(), "octo", "docs")
	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeParsing, apiErr.Type)
}

func TestDownloadRetriesAndIsNotCounted(t *testing.T) {
	var hits int32
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "# Title\n")
	}), nil)

	data, err := c.Download(context.Background(), srv.URL+"/raw/docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	used, _ := c.Budget().Usage()
	assert.Zero(t, used)
}

func TestFileContentFollowsDownloadURL(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/repos/octo/docs/contents/guide/intro.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"type":"file","name":"intro.md","download_url":"%s/raw/intro.md"}`, srvURL)
	})
	mux.HandleFunc("/raw/intro.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
	})
	c, srv := newTestClient(t, mux, nil)
	srvURL = srv.URL

	data, err := c.FileContent(context.Background(), "octo", "docs", "guide/intro.md", "main")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestVerifyCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		json := gh.User{Login: gh.Ptr("octocat")}
		fmt.Fprintf(w, `{"login":%q}`, json.GetLogin())
	})
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resources":{}}`)
	})

	authed, _ := newTestClient(t, mux, func(o *Options, _ *ratelimit.BudgetConfig) { o.Token = "t" })
	login, err := authed.VerifyCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", login)

	anon, _ := newTestClient(t, mux, nil)
	login, err = anon.VerifyCredentials(context.Background())
	require.NoError(t, err)
	assert.Empty(t, login)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), func(o *Options, _ *ratelimit.BudgetConfig) {
		o.MetadataBackoff = &retry.ConstantBackoff{Delay: time.Hour}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.Get(ctx, "rate_limit", nil, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "contents", kindOf("repos/a/b/contents/docs"))
	assert.Equal(t, "org_repos", kindOf("orgs/a/repos"))
	assert.Equal(t, "org", kindOf("orgs/a"))
	assert.Equal(t, "repo", kindOf("repos/a/b"))
	assert.Equal(t, "user", kindOf("user"))
}
