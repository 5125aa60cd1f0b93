package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"docharvest/pkg/cancel"
	"docharvest/pkg/fetcher"
	"docharvest/pkg/progress"
	"docharvest/pkg/tasks"
	"docharvest/pkg/ui"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listJSON bool

// tasksCmd represents the tasks command
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and resume recorded runs",
	Long: `Every run is recorded as a task in the data directory. Tasks that were
cancelled or interrupted can be resumed; a resumed task runs again from the
start under the same id.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks that can be resumed",
	Args:  cobra.NoArgs,
	RunE:  runTasksList,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task record",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

var tasksResumeCmd = &cobra.Command{
	Use:     "resume <task-id>",
	Short:   "Resume a cancelled or interrupted task",
	Example: `  docharvest tasks resume organization_20250304_102030`,
	Args:    cobra.ExactArgs(1),
	RunE:    runTasksResume,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd, tasksResumeCmd)

	tasksListCmd.Flags().BoolVar(&listJSON, "json", false, "print tasks as JSON")
}

// openTracker loads configuration and opens the task store only.
func openTracker() (*tasks.Tracker, error) {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	return tasks.Open(cfg, log)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	tracker, err := openTracker()
	if err != nil {
		return err
	}
	defer tracker.Close()

	list, err := tracker.ListResumable()
	if err != nil {
		return err
	}

	if listJSON {
		return printJSON(list)
	}
	if len(list) == 0 {
		ui.PrintInfo("Tasks", "nothing to resume")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-36s %-12s %-12s %7s  %s\n", "ID", "TYPE", "STATUS", "DONE", "UPDATED")
	for _, t := range list {
		fmt.Fprintf(os.Stdout, "%-36s %-12s %-12s %6.1f%%  %s\n",
			t.ID, t.Type, t.Status, t.Progress, t.UpdatedAgo)
		if t.Description != "" {
			fmt.Fprintf(os.Stdout, "  %s\n", ui.Dim(t.Description))
		}
	}
	return nil
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	tracker, err := openTracker()
	if err != nil {
		return err
	}
	defer tracker.Close()

	task, err := tracker.Get(args[0])
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", args[0], tasks.ErrNotFound)
	}
	task.CreatedAgo = tasks.FormatAgo(time.Since(task.CreatedAt))
	task.UpdatedAgo = tasks.FormatAgo(time.Since(task.UpdatedAt))
	return printJSON(task)
}

func runTasksResume(cmd *cobra.Command, args []string) error {
	id := args[0]
	return execute(id, nil,
		func(ctx context.Context, a *app, report progress.Func, token *cancel.Token) (*fetcher.Result, error) {
			return a.fetcher.Resume(ctx, id, report, token)
		})
}

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear downloaded content",
}

var cacheSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Show the size of the content cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := openTracker()
		if err != nil {
			return err
		}
		defer tracker.Close()

		usage, err := tracker.CacheSize()
		if err != nil {
			return err
		}
		ui.PrintInfo("Cache", tracker.CacheDir())
		ui.PrintInfo("Size", fmt.Sprintf("%s (%s bytes)", usage.Human, humanize.Comma(usage.Bytes)))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all downloaded content, keeping task records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := openTracker()
		if err != nil {
			return err
		}
		defer tracker.Close()

		if err := tracker.ClearCache(); err != nil {
			return err
		}
		ui.PrintSuccess("Cache cleared: " + tracker.CacheDir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheSizeCmd, cacheClearCmd)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
