package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sightline/internal/incremental"
	"github.com/Iron-Ham/sightline/internal/incremental/cache"
	"github.com/Iron-Ham/sightline/internal/util"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the execution cache",
		Long: `The execution cache records the input hash and outcome of every graph node
that ran, so 'sightline plan' can skip unchanged work. 'sightline watch'
records task outcomes automatically.`,
	}

	cmd.PersistentFlags().Bool("json", false, "Print JSON")

	record := &cobra.Command{
		Use:   "record <id> <hash>",
		Short: "Record an execution by hand",
		Args:  cobra.ExactArgs(2),
		RunE:  runCacheRecord,
	}
	record.Flags().String("status", string(incremental.ExecutionCompleted), "Execution status")
	record.Flags().Duration("duration", 0, "How long the execution took")
	record.Flags().String("error", "", "Failure message")

	finish := &cobra.Command{
		Use:   "finish <run-id>",
		Short: "Close a pass opened by 'plan --record'",
		Args:  cobra.ExactArgs(1),
		RunE:  runCacheFinish,
	}
	finish.Flags().String("status", string(cache.RunCompleted), "Final status: completed, failed, or cancelled")
	finish.Flags().Int("executed", 0, "Artifacts executed")
	finish.Flags().Int("failed", 0, "Artifacts that failed")
	finish.Flags().Int("skipped", -1, "Artifacts skipped (default: as planned)")

	clear := &cobra.Command{
		Use:   "clear [id]",
		Short: "Remove one record, or every record and pass",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCacheClear,
	}
	clear.Flags().Bool("schema", false, "Drop and re-create the cache schema")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Summarize the cache",
			Args:  cobra.NoArgs,
			RunE:  runCacheStats,
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show the recorded execution of one artifact",
			Args:  cobra.ExactArgs(1),
			RunE:  runCacheShow,
		},
		record,
		clear,
		&cobra.Command{
			Use:   "run <run-id>",
			Short: "Show one recorded pass",
			Args:  cobra.ExactArgs(1),
			RunE:  runCacheRun,
		},
		finish,
	)
	return cmd
}

// openCache loads the configuration and opens the execution cache.
func openCache(cmd *cobra.Command) (*env, *cache.Cache, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	c, err := cache.Open(cmd.Context(), cache.Config{Path: e.cachePath(), Logger: e.logger})
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, c, nil
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	e, c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	defer func() { _ = c.Close() }()

	stats, err := c.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, stats)
	}

	fmt.Fprintf(out, "Artifacts: %d\n", stats.TotalArtifacts)
	for _, s := range []incremental.ExecutionStatus{
		incremental.ExecutionCompleted,
		incremental.ExecutionFailed,
		incremental.ExecutionRunning,
		incremental.ExecutionPending,
		incremental.ExecutionSkipped,
	} {
		if n := stats.ByStatus[s]; n > 0 {
			fmt.Fprintf(out, "  %-10s %d\n", s, n)
		}
	}
	fmt.Fprintf(out, "Skips: %d\n", stats.TotalSkips)
	if stats.AvgDurationMs > 0 {
		fmt.Fprintf(out, "Average duration: %s\n", util.FormatDuration(time.Duration(stats.AvgDurationMs)*time.Millisecond))
	}
	fmt.Fprintf(out, "Estimated time saved: %s\n", util.FormatDuration(time.Duration(stats.EstimatedSavedMs)*time.Millisecond))
	fmt.Fprintf(out, "Passes: %d\n", stats.Runs)
	if stats.Schema.Dirty {
		fmt.Fprintf(out, "Schema: v%d (dirty, run cache clear --schema)\n", stats.Schema.Number)
	} else {
		fmt.Fprintf(out, "Schema: v%d\n", stats.Schema.Number)
	}
	if stats.LastRun != nil {
		fmt.Fprintf(out, "Last pass: %s %s (%d executed, %d skipped, %d failed)\n",
			stats.LastRun.ID, stats.LastRun.Status, stats.LastRun.Executed, stats.LastRun.Skipped, stats.LastRun.Failed)
	}
	return nil
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	e, c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	defer func() { _ = c.Close() }()

	exec, err := c.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, exec)
	}
	fmt.Fprintf(out, "%s  %s\n", exec.ArtifactID, exec.Status)
	fmt.Fprintf(out, "  hash:     %s\n", exec.InputHash)
	fmt.Fprintf(out, "  executed: %s\n", exec.ExecutedAt.Format(time.RFC3339))
	if exec.DurationMs > 0 {
		fmt.Fprintf(out, "  duration: %s\n", util.FormatDuration(time.Duration(exec.DurationMs)*time.Millisecond))
	}
	fmt.Fprintf(out, "  skips:    %d\n", exec.SkipCount)
	if exec.Error != "" {
		fmt.Fprintf(out, "  error:    %s\n", exec.Error)
	}
	return nil
}

func runCacheRecord(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	duration, _ := cmd.Flags().GetDuration("duration")
	msg, _ := cmd.Flags().GetString("error")

	e, c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	defer func() { _ = c.Close() }()

	exec := incremental.Execution{
		ArtifactID: args[0],
		InputHash:  args[1],
		Status:     incremental.ExecutionStatus(status),
		ExecutedAt: time.Now(),
		DurationMs: duration.Milliseconds(),
		Error:      msg,
	}
	if err := c.Set(cmd.Context(), exec); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s %s\n", exec.ArtifactID, exec.Status)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	e, c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	defer func() { _ = c.Close() }()

	out := cmd.OutOrStdout()
	schema, _ := cmd.Flags().GetBool("schema")
	if schema {
		if len(args) == 1 {
			return fmt.Errorf("--schema clears the whole cache and takes no id")
		}
		if err := c.ResetSchema(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(out, "Cache schema re-created")
		return nil
	}
	if len(args) == 1 {
		removed, err := c.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(out, "No record for %s\n", args[0])
			return nil
		}
		fmt.Fprintf(out, "Removed %s\n", args[0])
		return nil
	}

	n, err := c.Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d records\n", n)
	return nil
}

func runCacheRun(cmd *cobra.Command, args []string) error {
	e, c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	defer func() { _ = c.Close() }()

	rec, err := c.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, rec)
	}
	fmt.Fprintf(out, "Pass %s  %s\n", rec.ID, rec.Status)
	fmt.Fprintf(out, "  started:  %s\n", rec.StartedAt.Format(time.RFC3339))
	if rec.FinishedAt != nil {
		fmt.Fprintf(out, "  finished: %s (%s)\n", rec.FinishedAt.Format(time.RFC3339), util.FormatDuration(rec.FinishedAt.Sub(rec.StartedAt)))
	}
	fmt.Fprintf(out, "  %d artifacts: %d executed, %d skipped, %d failed\n", rec.TotalArtifacts, rec.Executed, rec.Skipped, rec.Failed)
	return nil
}

func runCacheFinish(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	executed, _ := cmd.Flags().GetInt("executed")
	failed, _ := cmd.Flags().GetInt("failed")
	skipped, _ := cmd.Flags().GetInt("skipped")

	e, c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if skipped < 0 {
		rec, err := c.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		skipped = rec.Skipped
	}

	counts := cache.RunCounts{Executed: executed, Skipped: skipped, Failed: failed}
	if err := c.FinishRun(ctx, args[0], cache.RunStatus(status), counts); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Finished pass %s: %s\n", args[0], status)
	return nil
}
