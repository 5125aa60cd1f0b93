package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCHARVEST_"

// Config holds all configuration options for docharvest
type Config struct {
	GitHub      GitHubConfig      `yaml:"github" json:"github"`
	Acquisition AcquisitionConfig `yaml:"acquisition" json:"acquisition"`
	Crawler     CrawlerConfig     `yaml:"crawler" json:"crawler"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// GitHubConfig holds API client and rate budget settings
type GitHubConfig struct {
	APIURL            string        `yaml:"api_url" json:"api_url"`
	Token             string        `yaml:"token,omitempty" json:"-"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	DownloadRetries   int           `yaml:"download_retries" json:"download_retries"`
	HourlyLimit       int           `yaml:"hourly_limit" json:"hourly_limit"`
	MinInterval       time.Duration `yaml:"min_interval" json:"min_interval"`
	SlowInterval      time.Duration `yaml:"slow_interval" json:"slow_interval"`
	LowRemaining      int           `yaml:"low_remaining_threshold" json:"low_remaining_threshold"`
	MaxRateLimitWait  time.Duration `yaml:"max_rate_limit_wait" json:"max_rate_limit_wait"`
	RateLimitSleepCap time.Duration `yaml:"rate_limit_sleep_cap" json:"rate_limit_sleep_cap"`
}

// AcquisitionConfig holds repository scan and download settings
type AcquisitionConfig struct {
	MaxFileSizeMB   int      `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	MaxDepth        int      `yaml:"max_depth" json:"max_depth"`
	BatchSize       int      `yaml:"batch_size" json:"batch_size"`
	Workers         int      `yaml:"workers" json:"workers"`
	ScanBatchSize   int      `yaml:"scan_batch_size" json:"scan_batch_size"`
	DefaultBranch   string   `yaml:"default_branch" json:"default_branch"`
	RelevantFolders []string `yaml:"relevant_folders" json:"relevant_folders"`
	IgnoredDirs     []string `yaml:"ignored_dirs" json:"ignored_dirs"`
	TextExtensions  []string `yaml:"text_extensions" json:"text_extensions"`
}

// CrawlerConfig holds website crawl settings
type CrawlerConfig struct {
	RespectRobots  bool          `yaml:"respect_robots" json:"respect_robots"`
	Delay          time.Duration `yaml:"delay" json:"delay"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	Render         bool          `yaml:"render" json:"render"`
	VerifyLimit    int           `yaml:"verify_limit" json:"verify_limit"`
	CleanupScratch bool          `yaml:"cleanup_scratch" json:"cleanup_scratch"`
}

// StorageConfig holds on-disk locations
type StorageConfig struct {
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	TaskStore string `yaml:"task_store" json:"task_store"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			APIURL:            "https://api.github.com",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			DownloadRetries:   5,
			HourlyLimit:       5000,
			MinInterval:       time.Second,
			SlowInterval:      2 * time.Second,
			LowRemaining:      100,
			MaxRateLimitWait:  2 * time.Minute,
			RateLimitSleepCap: 30 * time.Second,
		},
		Acquisition: AcquisitionConfig{
			MaxFileSizeMB: 10,
			MaxDepth:      10,
			BatchSize:     5,
			Workers:       3,
			ScanBatchSize: 5,
			DefaultBranch: "main",
			RelevantFolders: []string{
				"doc", "docs", "documentation",
				"example", "examples",
				"sample", "samples",
				"cookbook", "cookbooks",
				"tutorial", "tutorials",
				"guide", "guides",
			},
			IgnoredDirs: []string{".git", "node_modules", "__pycache__", "build", "dist"},
			TextExtensions: []string{
				".md", ".txt", ".py", ".js", ".java", ".c", ".cpp", ".h",
				".html", ".css", ".json", ".yaml", ".yml", ".rst", ".ipynb",
			},
		},
		Crawler: CrawlerConfig{
			RespectRobots: true,
			Delay:         time.Second,
			UserAgent:     "docharvest/1.0 (+https://github.com)",
			Timeout:       30 * time.Second,
			VerifyLimit:   0,
		},
		Storage: StorageConfig{
			TaskStore: "file",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
	if token := os.Getenv(EnvPrefix + "GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
	if v := os.Getenv(EnvPrefix + "API_URL"); v != "" {
		c.GitHub.APIURL = v
	}
	envDuration(EnvPrefix+"TIMEOUT", &c.GitHub.Timeout, &errs)
	envDuration(EnvPrefix+"MIN_INTERVAL", &c.GitHub.MinInterval, &errs)
	envInt(EnvPrefix+"HOURLY_LIMIT", &c.GitHub.HourlyLimit, &errs)
	envInt(EnvPrefix+"MAX_RETRIES", &c.GitHub.MaxRetries, &errs)

	envInt(EnvPrefix+"MAX_FILE_SIZE_MB", &c.Acquisition.MaxFileSizeMB, &errs)
	envInt(EnvPrefix+"WORKERS", &c.Acquisition.Workers, &errs)
	if v := os.Getenv(EnvPrefix + "DEFAULT_BRANCH"); v != "" {
		c.Acquisition.DefaultBranch = v
	}

	envDuration(EnvPrefix+"CRAWL_DELAY", &c.Crawler.Delay, &errs)
	envBool(EnvPrefix+"CRAWL_RENDER", &c.Crawler.Render, &errs)
	envBool(EnvPrefix+"RESPECT_ROBOTS", &c.Crawler.RespectRobots, &errs)
	if v := os.Getenv(EnvPrefix + "USER_AGENT"); v != "" {
		c.Crawler.UserAgent = v
	}

	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "TASK_STORE"); v != "" {
		c.Storage.TaskStore = v
	}

	envBool(EnvPrefix+"METRICS_ENABLED", &c.Metrics.Enabled, &errs)
	if v := os.Getenv(EnvPrefix + "METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}

	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

func envInt(key string, dst *int, errs *[]error) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = v
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = v
}

func envBool(key string, dst *bool, errs *[]error) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = v
}

// LoadFromFile loads configuration from a YAML file. An empty path searches
// the default locations and is not an error when nothing is found.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	locations := []string{
		".docharvest.yaml",
		".docharvest.yml",
	}
	if home != "" {
		locations = append(locations,
			filepath.Join(home, ".config", "docharvest", "config.yaml"),
			filepath.Join(home, ".docharvest.yaml"),
		)
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.GitHub.APIURL == "" {
		errs = append(errs, errors.New("github api url is required"))
	}
	if c.GitHub.Timeout <= 0 {
		errs = append(errs, errors.New("github timeout must be positive"))
	}
	if c.GitHub.MaxRetries < 1 || c.GitHub.DownloadRetries < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if c.GitHub.HourlyLimit <= 0 {
		errs = append(errs, errors.New("hourly limit must be positive"))
	}
	if c.GitHub.MinInterval < 0 {
		errs = append(errs, errors.New("min interval cannot be negative"))
	}

	if c.Acquisition.MaxFileSizeMB <= 0 {
		errs = append(errs, errors.New("max file size must be positive"))
	}
	if c.Acquisition.Workers <= 0 || c.Acquisition.BatchSize <= 0 || c.Acquisition.ScanBatchSize <= 0 {
		errs = append(errs, errors.New("workers and batch sizes must be positive"))
	}
	if c.Acquisition.Workers > 16 {
		errs = append(errs, errors.New("workers should not exceed 16"))
	}

	if c.Crawler.Delay < 0 {
		errs = append(errs, errors.New("crawl delay cannot be negative"))
	}
	if c.Crawler.VerifyLimit < 0 {
		errs = append(errs, errors.New("verify limit cannot be negative"))
	}

	switch strings.ToLower(c.Storage.TaskStore) {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("invalid task store %q (want file or sqlite)", c.Storage.TaskStore))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save writes the configuration as YAML. The token is never written.
func (c *Config) Save(path string) error {
	redacted := *c
	redacted.GitHub.Token = ""

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only non-zero values override.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
	if v, ok := flags["token"].(string); ok && v != "" {
		c.GitHub.Token = v
	}
	if v, ok := flags["data-dir"].(string); ok && v != "" {
		c.Storage.DataDir = v
	}
	if v, ok := flags["task-store"].(string); ok && v != "" {
		c.Storage.TaskStore = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Acquisition.Workers = v
	}
	if v, ok := flags["branch"].(string); ok && v != "" {
		c.Acquisition.DefaultBranch = v
	}
	if v, ok := flags["delay"].(time.Duration); ok && v > 0 {
		c.Crawler.Delay = v
	}
	if v, ok := flags["render"].(bool); ok && v {
		c.Crawler.Render = true
	}
	if v, ok := flags["ignore-robots"].(bool); ok && v {
		c.Crawler.RespectRobots = false
	}
	if v, ok := flags["verify-limit"].(int); ok && v > 0 {
		c.Crawler.VerifyLimit = v
	}
	if v, ok := flags["metrics"].(bool); ok && v {
		c.Metrics.Enabled = true
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.Addr = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".docharvest.env"))
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// DataDir resolves the data directory, creating it when missing. An explicit
// Storage.DataDir wins over the platform default.
func (c *Config) DataDir() (string, error) {
	dir := c.Storage.DataDir
	if dir == "" {
		var err error
		dir, err = defaultDataDirectory()
		if err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

func defaultDataDirectory() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "docharvest"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "docharvest"), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "docharvest"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "docharvest"), nil
	}
}

// MaxFileSize returns the per-file size cap in bytes.
func (a AcquisitionConfig) MaxFileSize() int64 {
	return int64(a.MaxFileSizeMB) * 1024 * 1024
}
