package acquirer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"docharvest/pkg/github"
	"docharvest/pkg/logger"
	"docharvest/pkg/queue"
	"docharvest/pkg/ratelimit"
	"docharvest/pkg/retry"
	"docharvest/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRawServer serves /raw/guide.md, answering 503 for the first failures
// requests. It returns the server and a counter of requests seen.
func newRawServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/raw/guide.md" {
			http.NotFound(w, r)
			return
		}
		if hits.Add(1) <= failures {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "# Guide")
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newClientAcquirer(t *testing.T, baseURL string) (*Acquirer, string) {
	t.Helper()
	opts := github.DefaultOptions()
	opts.BaseURL = baseURL
	opts.MetadataBackoff = &retry.ConstantBackoff{Delay: time.Millisecond}
	opts.DownloadBackoff = &retry.ConstantBackoff{Delay: time.Millisecond}
	opts.DownloadRetries = 3

	budgetCfg := ratelimit.DefaultBudgetConfig()
	budgetCfg.MinInterval = 0
	budgetCfg.SlowInterval = 0

	log := logger.NewNopLogger()
	client, err := github.NewClient(opts, ratelimit.NewBudget(budgetCfg, log), nil, log)
	require.NoError(t, err)

	dir := t.TempDir()
	return New(client, DefaultOptions(dir), nil, log), dir
}

func queueGuide(srv *httptest.Server, dir string) (*queue.Queue, string) {
	local := filepath.Join(dir, "octo", "docs", "docs", "guide.md")
	q := queue.New()
	q.Add(queue.FileDescriptor{
		Owner:     "octo",
		Repo:      "docs",
		Path:      "docs/guide.md",
		Ref:       "main",
		Name:      "guide.md",
		URL:       srv.URL + "/raw/guide.md",
		LocalPath: local,
	})
	return q, local
}

func TestDownloadRecoversFromTransientFailures(t *testing.T) {
	srv, hits := newRawServer(t, 2)
	a, dir := newClientAcquirer(t, srv.URL)
	q, local := queueGuide(srv, dir)

	records, cancelled := a.Download(context.Background(), q, DownloadOptions{})
	assert.False(t, cancelled)
	require.Len(t, records, 1)
	assert.Equal(t, "docs/guide.md", records[0].Path)
	assert.Equal(t, int32(3), hits.Load())

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "# Guide", string(data))
	assert.NoFileExists(t, storage.ErrorMarkerPath(local))
	assert.Equal(t, 100.0, q.Progress().Percent)
}

func TestDownloadMarksFileAfterRetriesRunOut(t *testing.T) {
	srv, hits := newRawServer(t, 10)
	a, dir := newClientAcquirer(t, srv.URL)
	q, local := queueGuide(srv, dir)

	records, cancelled := a.Download(context.Background(), q, DownloadOptions{})
	assert.False(t, cancelled)
	assert.Empty(t, records)
	assert.Equal(t, int32(3), hits.Load())

	assert.NoFileExists(t, local)
	marker, err := os.ReadFile(storage.ErrorMarkerPath(local))
	require.NoError(t, err)
	assert.Contains(t, string(marker), "503")
}
