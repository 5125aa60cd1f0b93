package main

import (
	"fmt"
	"os"
	"runtime"

	"docharvest/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	logFile       string
	dataDir       string
	taskStore     string
	quiet         bool
	useTUI        bool
	notifications bool
	metricsAddr   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docharvest",
	Short: "Collect documentation and examples from GitHub and documentation sites",
	Long: `docharvest collects the documentation and example files of GitHub
repositories and organizations, and crawls documentation websites into
Markdown.

Features:
  - Scans repositories first and downloads only relevant files
  - Shares one GitHub rate budget across every request
  - Respects robots.txt and a per-domain delay when crawling
  - Records every run as a task that can be resumed after a cancel or crash
  - Ctrl+C stops cleanly and keeps what was collected so far`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet || useTUI {
			return
		}
		switch cmd.Name() {
		case "repo", "org", "crawl", "resume":
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.config/docharvest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for tasks and downloads")
	rootCmd.PersistentFlags().StringVar(&taskStore, "task-store", "", "task store backend (file or sqlite)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&useTUI, "tui", false, "use interactive terminal UI with real-time progress")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notify", false, "send a desktop notification when a run ends")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.SetVersionTemplate(`docharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags collects the persistent flags that override configuration.
func globalFlags() map[string]interface{} {
	flags := map[string]interface{}{
		"log-level":  logLevel,
		"log-file":   logFile,
		"data-dir":   dataDir,
		"task-store": taskStore,
	}
	if quiet && logLevel == "" {
		flags["log-level"] = "error"
	}
	if metricsAddr != "" {
		flags["metrics"] = true
		flags["metrics-addr"] = metricsAddr
	}
	return flags
}
