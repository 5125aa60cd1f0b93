package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"docharvest/pkg/acquirer"
	"docharvest/pkg/cancel"
	"docharvest/pkg/crawler"
	"docharvest/pkg/fetcher"
	"docharvest/pkg/progress"
	"docharvest/pkg/tasks"
	"docharvest/pkg/ui"
	"docharvest/pkg/ui/tui"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Fetch command flags
	branch       string
	maxFiles     int
	guidanceFile string
	recursive    bool
	maxPages     int
	render       bool
	ignoreRobots bool
	crawlDelay   time.Duration
	verifyLimit  int
	workers      int
)

// repoCmd represents the repo command
var repoCmd = &cobra.Command{
	Use:   "repo <url>",
	Short: "Collect documentation and examples from one repository",
	Long: `Scan a GitHub repository and download its documentation and example files.

The repository is scanned first. Only directories such as docs/ and examples/
are walked; text files under them are queued, ranked and downloaded in
batches.`,
	Example: `  docharvest repo https://github.com/owner/repo
  docharvest repo github.com/owner/repo --branch develop --max-files 200
  docharvest repo https://github.com/owner/repo --guidance guidance.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRepo,
}

// orgCmd represents the org command
var orgCmd = &cobra.Command{
	Use:   "org <name>",
	Short: "Collect documentation and examples from every repository of an organization",
	Long: `List every repository of a GitHub organization, scan them a few at a time
and download the relevant files from one consolidated queue.`,
	Example: `  docharvest org kubernetes --max-files 500`,
	Args:    cobra.ExactArgs(1),
	RunE:    runOrg,
}

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl a documentation website into Markdown",
	Long: `Crawl a documentation website and convert every page to Markdown.

Links are followed anywhere on the start URL's host; other hosts are
ignored. robots.txt is honored unless --ignore-robots is given, and requests
to the host are spaced by --delay.`,
	Example: `  docharvest crawl https://docs.example.com --recursive --max-pages 100
  docharvest crawl https://spa.example.com --render`,
	Args: cobra.ExactArgs(1),
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(repoCmd, orgCmd, crawlCmd)

	for _, cmd := range []*cobra.Command{repoCmd, orgCmd} {
		cmd.Flags().IntVar(&maxFiles, "max-files", 0, "maximum files to download (0 for no limit)")
		cmd.Flags().StringVar(&guidanceFile, "guidance", "", "YAML or JSON file with acquisition guidance")
		cmd.Flags().IntVar(&workers, "workers", 0, "concurrent downloads per batch")
	}
	repoCmd.Flags().StringVarP(&branch, "branch", "b", "", "branch, tag or commit (default: the repository's default branch)")

	crawlCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "follow links under the start URL")
	crawlCmd.Flags().IntVar(&maxPages, "max-pages", 0, "maximum pages to collect (0 for no limit)")
	crawlCmd.Flags().StringVar(&guidanceFile, "guidance", "", "YAML or JSON file with crawl guidance")
	crawlCmd.Flags().BoolVar(&render, "render", false, "render pages in a headless browser")
	crawlCmd.Flags().BoolVar(&ignoreRobots, "ignore-robots", false, "do not consult robots.txt")
	crawlCmd.Flags().DurationVar(&crawlDelay, "delay", 0, "minimum delay between requests to one host")
	crawlCmd.Flags().IntVar(&verifyLimit, "verify-limit", 0, "maximum links re-checked by the verification pass")
}

func runRepo(cmd *cobra.Command, args []string) error {
	req := fetcher.RepoRequest{URL: args[0], Ref: branch, MaxFiles: maxFiles}
	if guidanceFile != "" {
		req.Guidance = &acquirer.Guidance{}
		if err := loadGuidance(guidanceFile, req.Guidance); err != nil {
			return err
		}
	}

	return execute(args[0], map[string]interface{}{"workers": workers},
		func(ctx context.Context, a *app, report progress.Func, token *cancel.Token) (*fetcher.Result, error) {
			return a.fetcher.FetchRepository(ctx, req, report, token)
		})
}

func runOrg(cmd *cobra.Command, args []string) error {
	req := fetcher.OrgRequest{Org: args[0], MaxFiles: maxFiles}
	if guidanceFile != "" {
		req.Guidance = &acquirer.Guidance{}
		if err := loadGuidance(guidanceFile, req.Guidance); err != nil {
			return err
		}
	}

	return execute(args[0], map[string]interface{}{"workers": workers},
		func(ctx context.Context, a *app, report progress.Func, token *cancel.Token) (*fetcher.Result, error) {
			return a.fetcher.FetchOrganization(ctx, req, report, token)
		})
}

func runCrawl(cmd *cobra.Command, args []string) error {
	req := fetcher.CrawlRequest{URL: args[0], Recursive: recursive, MaxPages: maxPages}
	if guidanceFile != "" {
		req.Guidance = &crawler.Guidance{}
		if err := loadGuidance(guidanceFile, req.Guidance); err != nil {
			return err
		}
	}

	extra := map[string]interface{}{
		"render":        render,
		"ignore-robots": ignoreRobots,
		"delay":         crawlDelay,
		"verify-limit":  verifyLimit,
	}
	return execute(args[0], extra,
		func(ctx context.Context, a *app, report progress.Func, token *cancel.Token) (*fetcher.Result, error) {
			return a.fetcher.CrawlSite(ctx, req, report, token)
		})
}

// loadGuidance reads a guidance document. yaml.v3 also accepts JSON.
func loadGuidance(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read guidance file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse guidance file: %w", err)
	}
	return nil
}

type runFunc func(ctx context.Context, a *app, report progress.Func, token *cancel.Token) (*fetcher.Result, error)

// execute wires the app, runs fn under a cancel token fed by signals and
// the TUI, and prints the outcome.
func execute(label string, extra map[string]interface{}, fn runFunc) error {
	a, err := newApp(extra)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	a.serveMetrics(ctx)

	token := cancel.New()
	stopSignals := watchSignals(token, a.log)
	defer stopSignals()

	var res *fetcher.Result
	if useTUI {
		res, err = runWithTUI(ctx, a, label, token, fn)
	} else {
		display := ui.NewProgressDisplay(os.Stdout, label, a.cfg.Logging.Level == "debug")
		var report progress.Func
		if !quiet {
			report = display.Func()
		}
		res, err = fn(ctx, a, report, token)
		if !quiet {
			display.Complete(summarize(label, res, err, a))
		}
	}

	if notifications {
		ui.NewNotifier().RunFinished(summarize(label, res, err, a))
	}
	if err != nil {
		return err
	}

	if !quiet && res != nil {
		ui.PrintInfo("Task", res.TaskID)
		ui.PrintInfo("Data", a.tracker.CacheDir())
		if len(res.Skipped) > 0 {
			ui.PrintWarning(fmt.Sprintf("Skipped %d repositories: %s", len(res.Skipped), strings.Join(res.Skipped, ", ")))
		}
		if res.Status == tasks.StatusCancelled {
			ui.PrintWarning("Run cancelled. Resume with: docharvest tasks resume " + res.TaskID)
		}
	}
	return nil
}

// runWithTUI runs fn in the background while the TUI owns the terminal.
func runWithTUI(ctx context.Context, a *app, label string, token *cancel.Token, fn runFunc) (*fetcher.Result, error) {
	view := tui.NewTUI(label, token)

	type outcome struct {
		res *fetcher.Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		stopPolling := pollBudget(view, a)
		res, err := fn(ctx, a, view.Progress(), token)
		stopPolling()

		if res != nil {
			view.LogInfo("Task %s, data in %s", res.TaskID, a.tracker.CacheDir())
			if len(res.Skipped) > 0 {
				view.LogWarning("Skipped %d repositories: %s", len(res.Skipped), strings.Join(res.Skipped, ", "))
			}
		}
		s := summarize(label, res, err, a)
		view.Finish(fmt.Sprintf("%s: %d files, %d pages", s.Status, s.Files, s.Pages), err)
		done <- outcome{res, err}
	}()

	if err := view.Start(); err != nil {
		a.log.WithError(err).Warn("Terminal UI stopped")
	}
	// The view can close before the run returns; make sure it winds down.
	if view.Model().State() != tui.RunDone {
		token.Set()
	}

	o := <-done
	if !quiet {
		ui.NewProgressDisplay(os.Stdout, label, false).Complete(summarize(label, o.res, o.err, a))
	}
	return o.res, o.err
}

// pollBudget mirrors the API budget into the TUI until stopped.
func pollBudget(view *tui.TUI, a *app) func() {
	ticker := time.NewTicker(500 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				view.UpdateRateLimit(a.budget.Usage())
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// summarize condenses a run result for the display and notifications.
func summarize(label string, res *fetcher.Result, err error, a *app) ui.Summary {
	s := ui.Summary{Label: label, Status: string(tasks.StatusCompleted)}
	if res != nil {
		s.Status = string(res.Status)
		s.Files = len(res.Files)
		if len(res.Pages) > 0 {
			s.Pages = len(res.Pages) - res.Failed
		}
		s.Repositories = res.Repositories
		s.Failed = res.Failed
		for _, f := range res.Files {
			s.Bytes += int64(f.Size)
		}
		for _, p := range res.Pages {
			s.Bytes += int64(len(p.Markdown))
		}
	}
	if err != nil {
		s.Status = string(tasks.StatusFailed)
	}
	if a != nil && a.budget != nil {
		s.APIUsed, s.APILimit = a.budget.Usage()
	}
	return s
}
