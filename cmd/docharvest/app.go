package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"docharvest/pkg/acquirer"
	"docharvest/pkg/auth"
	"docharvest/pkg/cancel"
	"docharvest/pkg/config"
	"docharvest/pkg/crawler"
	"docharvest/pkg/fetcher"
	"docharvest/pkg/github"
	"docharvest/pkg/logger"
	"docharvest/pkg/ratelimit"
	"docharvest/pkg/tasks"
	"docharvest/pkg/telemetry"
)

// app is the wired object graph one command runs against.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *telemetry.Telemetry
	budget  *ratelimit.Budget
	client  *github.Client
	engine  *crawler.Engine
	tracker *tasks.Tracker
	fetcher *fetcher.Fetcher
}

// loadConfig loads configuration with the global flags plus extra applied
// and initializes logging. With the TUI active console logs are dropped so
// they do not tear the screen; a configured log file still receives them.
func loadConfig(extra map[string]interface{}) (*config.Config, logger.Logger, error) {
	flags := globalFlags()
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, err
	}

	logger.Version = version
	var console io.Writer = os.Stderr
	if useTUI {
		console = io.Discard
	}
	log, err := logger.NewWithWriter(&cfg.Logging, console)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetLogger(log)
	return cfg, log, nil
}

// newApp wires the GitHub client, acquirer, crawl engine and task tracker.
func newApp(extra map[string]interface{}) (*app, error) {
	cfg, log, err := loadConfig(extra)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.New(telemetry.Config{
		Enabled:        cfg.Metrics.Enabled,
		ServiceName:    "docharvest",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	tracker, err := tasks.Open(cfg, log)
	if err != nil {
		return nil, err
	}

	token := cfg.GitHub.Token
	if token == "" {
		token = auth.NewManager().Token()
	}
	if token == "" {
		log.Warn("No GitHub token found, unauthenticated requests are limited to 60 per hour")
	}

	budget := ratelimit.NewBudget(budgetConfig(cfg.GitHub), log)
	client, err := github.NewClient(githubOptions(cfg.GitHub, token), budget, metrics, log)
	if err != nil {
		_ = tracker.Close()
		return nil, err
	}

	aopts := acquirer.DefaultOptions(tracker.CacheDir())
	aopts.DefaultBranch = cfg.Acquisition.DefaultBranch
	aopts.BatchSize = cfg.Acquisition.BatchSize
	aopts.Workers = cfg.Acquisition.Workers
	aopts.Filter = acquirer.NewFilter(cfg.Acquisition)
	acq := acquirer.New(client, aopts, metrics, log)

	scratch := filepath.Join(tracker.CacheDir(), "crawl")
	engine := crawler.New(crawler.OptionsFromConfig(cfg.Crawler, scratch), nil, metrics, log)

	fopts := fetcher.DefaultOptions()
	fopts.ScanWorkers = cfg.Acquisition.ScanBatchSize

	return &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		budget:  budget,
		client:  client,
		engine:  engine,
		tracker: tracker,
		fetcher: fetcher.New(client, acq, engine, tracker, fopts, metrics, log),
	}, nil
}

func budgetConfig(gc config.GitHubConfig) ratelimit.BudgetConfig {
	bc := ratelimit.DefaultBudgetConfig()
	bc.HourlyLimit = gc.HourlyLimit
	bc.MinInterval = gc.MinInterval
	bc.SlowInterval = gc.SlowInterval
	bc.LowRemaining = gc.LowRemaining
	return bc
}

func githubOptions(gc config.GitHubConfig, token string) github.Options {
	opts := github.DefaultOptions()
	opts.BaseURL = gc.APIURL
	opts.Token = token
	opts.Timeout = gc.Timeout
	opts.MaxRetries = gc.MaxRetries
	opts.DownloadRetries = gc.DownloadRetries
	opts.MaxRateLimitWait = gc.MaxRateLimitWait
	opts.RateLimitSleepCap = gc.RateLimitSleepCap
	return opts
}

// serveMetrics starts the metrics endpoint when enabled. It stops with ctx.
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	go func() {
		if err := a.metrics.Serve(ctx, a.cfg.Metrics.Addr, a.log); err != nil {
			a.log.WithError(err).Error("Metrics endpoint stopped")
		}
	}()
}

// Close releases the browser, the task store and the meter provider.
func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close crawl engine")
	}
	if err := a.tracker.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close task store")
	}
	if err := a.metrics.Shutdown(context.Background()); err != nil {
		a.log.WithError(err).Warn("Failed to shut down metrics")
	}
}

// watchSignals sets token on the first SIGINT or SIGTERM. A second signal
// exits immediately. The returned func stops watching.
func watchSignals(token *cancel.Token, log logger.Logger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			log.WithField("signal", sig.String()).Warn("Cancelling, waiting for in-flight work")
			token.Set()
		case <-done:
			return
		}
		select {
		case <-sigs:
			os.Exit(130)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
