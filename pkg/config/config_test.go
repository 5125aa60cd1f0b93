package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.github.com", cfg.GitHub.APIURL)
	assert.Equal(t, 30*time.Second, cfg.GitHub.Timeout)
	assert.Equal(t, 3, cfg.GitHub.MaxRetries)
	assert.Equal(t, 5, cfg.GitHub.DownloadRetries)
	assert.Equal(t, 5000, cfg.GitHub.HourlyLimit)
	assert.Equal(t, 10, cfg.Acquisition.MaxFileSizeMB)
	assert.Equal(t, int64(10*1024*1024), cfg.Acquisition.MaxFileSize())
	assert.Equal(t, "main", cfg.Acquisition.DefaultBranch)
	assert.Contains(t, cfg.Acquisition.RelevantFolders, "cookbooks")
	assert.Contains(t, cfg.Acquisition.TextExtensions, ".ipynb")
	assert.True(t, cfg.Crawler.RespectRobots)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_plain")
	t.Setenv("DOCHARVEST_HOURLY_LIMIT", "1000")
	t.Setenv("DOCHARVEST_CRAWL_DELAY", "250ms")
	t.Setenv("DOCHARVEST_CRAWL_RENDER", "true")
	t.Setenv("DOCHARVEST_TASK_STORE", "sqlite")
	t.Setenv("DOCHARVEST_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "ghp_plain", cfg.GitHub.Token)
	assert.Equal(t, 1000, cfg.GitHub.HourlyLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Crawler.Delay)
	assert.True(t, cfg.Crawler.Render)
	assert.Equal(t, "sqlite", cfg.Storage.TaskStore)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestPrefixedTokenWins(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "plain")
	t.Setenv("DOCHARVEST_GITHUB_TOKEN", "prefixed")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "prefixed", cfg.GitHub.Token)
}

func TestLoadFromEnvReportsBadValues(t *testing.T) {
	t.Setenv("DOCHARVEST_WORKERS", "lots")
	t.Setenv("DOCHARVEST_TIMEOUT", "soon")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCHARVEST_WORKERS")
	assert.Contains(t, err.Error(), "DOCHARVEST_TIMEOUT")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
github:
  timeout: 45s
  hourly_limit: 60
acquisition:
  workers: 2
  relevant_folders: [docs, handbook]
crawler:
  delay: 2s
  verify_limit: 25
storage:
  task_store: sqlite
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 45*time.Second, cfg.GitHub.Timeout)
	assert.Equal(t, 60, cfg.GitHub.HourlyLimit)
	assert.Equal(t, 2, cfg.Acquisition.Workers)
	assert.Equal(t, []string{"docs", "handbook"}, cfg.Acquisition.RelevantFolders)
	assert.Equal(t, 2*time.Second, cfg.Crawler.Delay)
	assert.Equal(t, 25, cfg.Crawler.VerifyLimit)
	assert.Equal(t, "sqlite", cfg.Storage.TaskStore)
	assert.Equal(t, "warn", cfg.Logging.Level)
	// untouched keys keep defaults
	assert.Equal(t, "main", cfg.Acquisition.DefaultBranch)
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("github: [unterminated"), 0644))
	assert.Error(t, cfg.LoadFromFile(bad))
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GitHub.Timeout = 0
	cfg.Acquisition.Workers = 0
	cfg.Storage.TaskStore = "redis"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "timeout")
	assert.Contains(t, msg, "workers")
	assert.Contains(t, msg, "redis")
	assert.Contains(t, msg, "log level")
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"log-level":     "error",
		"workers":       4,
		"delay":         3 * time.Second,
		"ignore-robots": true,
		"render":        false,
		"branch":        "",
	})

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Acquisition.Workers)
	assert.Equal(t, 3*time.Second, cfg.Crawler.Delay)
	assert.False(t, cfg.Crawler.RespectRobots)
	assert.False(t, cfg.Crawler.Render)
	assert.Equal(t, "main", cfg.Acquisition.DefaultBranch)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\nacquisition:\n  workers: 2\n"), 0644))

	t.Setenv("DOCHARVEST_LOG_LEVEL", "error")
	t.Setenv("DOCHARVEST_DATA_DIR", dir)

	cfg, err := Load(path, map[string]interface{}{"workers": 6})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 6, cfg.Acquisition.Workers)
	assert.Equal(t, dir, cfg.Storage.DataDir)
}

func TestSaveRedactsToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.GitHub.Token = "ghp_secret"
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ghp_secret")
	assert.Equal(t, "ghp_secret", cfg.GitHub.Token)

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg.GitHub.Timeout, loaded.GitHub.Timeout)
}

func TestDataDir(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dir

		got, err := cfg.DataDir()
		require.NoError(t, err)
		assert.Equal(t, dir, got)
		assert.DirExists(t, dir)
	})

	t.Run("xdg", func(t *testing.T) {
		if os.Getenv("GOOS") == "windows" {
			t.Skip("xdg layout is unix only")
		}
		xdg := t.TempDir()
		t.Setenv("XDG_DATA_HOME", xdg)

		got, err := DefaultConfig().DataDir()
		require.NoError(t, err)
		assert.NotEmpty(t, got)
	})
}
