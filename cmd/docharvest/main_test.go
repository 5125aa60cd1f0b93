package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"docharvest/pkg/acquirer"
	"docharvest/pkg/config"
	"docharvest/pkg/crawler"
	"docharvest/pkg/fetcher"
	"docharvest/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the data directory at temp dirs and resets the
// global flags a previous command may have set.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	data := filepath.Join(home, "data")
	t.Setenv("HOME", home)
	t.Setenv("DOCHARVEST_DATA_DIR", data)
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("DOCHARVEST_GITHUB_TOKEN", "")

	configFile, logLevel, logFile, dataDir, taskStore, metricsAddr = "", "error", "", "", "", ""
	quiet, useTUI, notifications = true, false, false
	return data
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestGlobalFlags(t *testing.T) {
	isolate(t)
	logLevel = ""
	metricsAddr = "127.0.0.1:0"

	flags := globalFlags()
	assert.Equal(t, "error", flags["log-level"], "quiet lowers the log level")
	assert.Equal(t, true, flags["metrics"])
	assert.Equal(t, "127.0.0.1:0", flags["metrics-addr"])

	logLevel = "debug"
	assert.Equal(t, "debug", globalFlags()["log-level"])
}

func TestBudgetAndClientOptionsFollowConfig(t *testing.T) {
	gc := config.DefaultConfig().GitHub
	gc.HourlyLimit = 60
	gc.MinInterval = 3 * time.Second
	gc.APIURL = "http://127.0.0.1:9999"

	bc := budgetConfig(gc)
	assert.Equal(t, 60, bc.HourlyLimit)
	assert.Equal(t, 3*time.Second, bc.MinInterval)
	assert.Equal(t, time.Hour, bc.Window)

	opts := githubOptions(gc, "tok")
	assert.Equal(t, "http://127.0.0.1:9999", opts.BaseURL)
	assert.Equal(t, "tok", opts.Token)
	assert.Equal(t, gc.DownloadRetries, opts.DownloadRetries)
	assert.NotNil(t, opts.DownloadBackoff)
}

func TestLoadGuidance(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "g.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("include_directories: [docs]\nmax_files: 12\npriority_content: [api]\n"), 0644))
	var g acquirer.Guidance
	require.NoError(t, loadGuidance(yamlPath, &g))
	assert.Equal(t, []string{"docs"}, g.IncludeDirs)
	assert.Equal(t, 12, g.MaxFiles)
	assert.Equal(t, []string{"api"}, g.PriorityKeywords)

	jsonPath := filepath.Join(dir, "c.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"recursive": false, "max_pages": 7}`), 0644))
	var cg crawler.Guidance
	require.NoError(t, loadGuidance(jsonPath, &cg))
	require.NotNil(t, cg.Recursive)
	assert.False(t, *cg.Recursive)
	assert.Equal(t, 7, cg.MaxPages)

	assert.Error(t, loadGuidance(filepath.Join(dir, "missing.yaml"), &g))
}

func TestSummarize(t *testing.T) {
	res := &fetcher.Result{
		Status:       tasks.StatusCancelled,
		Repositories: 2,
		Files: []acquirer.FileRecord{
			{Path: "docs/a.md", Size: 100},
			{Path: "docs/b.md", Size: 50},
		},
	}
	s := summarize("acme", res, nil, nil)
	assert.Equal(t, "cancelled", s.Status)
	assert.Equal(t, 2, s.Files)
	assert.Equal(t, int64(150), s.Bytes)
	assert.Equal(t, 0, s.Pages)

	crawl := &fetcher.Result{
		Status: tasks.StatusCompleted,
		Failed: 1,
		Pages: []crawler.PageRecord{
			{Status: crawler.StatusSuccess, Markdown: "# a"},
			{Status: crawler.StatusSuccess, Markdown: "# b"},
			{Status: crawler.StatusError},
		},
	}
	s = summarize("docs", crawl, nil, nil)
	assert.Equal(t, 2, s.Pages)
	assert.Equal(t, int64(6), s.Bytes)

	s = summarize("x", nil, assert.AnError, nil)
	assert.Equal(t, "failed", s.Status)
}

func TestCrawlHelpDescribesHostScope(t *testing.T) {
	assert.Contains(t, crawlCmd.Long, "anywhere on the start URL's host")
	assert.NotContains(t, crawlCmd.Long, "host and path")
}

func TestConfigInitWritesDefaults(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "docharvest.yaml")

	require.NoError(t, runCommand(t, "config", "init", "--config", path))

	cfg := config.DefaultConfig()
	cfg.Crawler.Delay = 0
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, time.Second, cfg.Crawler.Delay)

	assert.Error(t, runCommand(t, "config", "init", "--config", path), "existing file is kept")
	forceInit = false
}

func TestTasksAndCacheCommands(t *testing.T) {
	data := isolate(t)

	require.NoError(t, os.MkdirAll(filepath.Join(tasks.CacheDir(data), "acme"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tasks.CacheDir(data), "acme", "a.md"), []byte("hello"), 0644))

	require.NoError(t, runCommand(t, "tasks", "list", "--config", ""))
	require.NoError(t, runCommand(t, "cache", "size"))
	require.NoError(t, runCommand(t, "cache", "clear"))

	entries, err := os.ReadDir(tasks.CacheDir(data))
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = runCommand(t, "tasks", "show", "repository_20250101_000000")
	assert.ErrorIs(t, err, tasks.ErrNotFound)
}
