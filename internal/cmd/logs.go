package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sightline/internal/logging"
)

const followPollInterval = 100 * time.Millisecond

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View sightline logs",
		Long: `View and filter the sightline log of the current project.

Examples:
  # Show the last 50 entries
  sightline logs

  # Show every warning and error for one run
  sightline logs -n 0 --level warn --run 01J9Z3

  # Show graph engine entries from the last hour
  sightline logs --component graphsource --since 1h

  # Follow the log
  sightline logs -f`,
		Args: cobra.NoArgs,
		RunE: runLogs,
	}

	cmd.Flags().IntP("tail", "n", 50, "Number of entries to show (0 for all)")
	cmd.Flags().BoolP("follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().String("level", "", "Filter by minimum level (debug/info/warn/error)")
	cmd.Flags().String("since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	cmd.Flags().String("run", "", "Filter by run id")
	cmd.Flags().String("component", "", "Filter by component")
	cmd.Flags().String("grep", "", "Filter by message substring")
	return cmd
}

func logsFilter(cmd *cobra.Command, now time.Time) (logging.Filter, error) {
	var f logging.Filter
	f.MinLevel, _ = cmd.Flags().GetString("level")
	f.RunID, _ = cmd.Flags().GetString("run")
	f.Component, _ = cmd.Flags().GetString("component")
	f.MessageContains, _ = cmd.Flags().GetString("grep")

	if since, _ := cmd.Flags().GetString("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			return logging.Filter{}, fmt.Errorf("invalid duration format: %w", err)
		}
		f.Since = now.Add(-d)
	}
	return f, nil
}

func runLogs(cmd *cobra.Command, _ []string) error {
	tail, _ := cmd.Flags().GetInt("tail")
	follow, _ := cmd.Flags().GetBool("follow")

	filter, err := logsFilter(cmd, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfigOnly()
	if err != nil {
		return err
	}
	dir := cfg.dataDir
	out := cmd.OutOrStdout()

	if follow {
		return followLogs(cmd, filepath.Join(dir, logging.LogFileName), filter)
	}

	entries, err := logging.ReadEntries(dir)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "No logs found at %s\n", filepath.Join(dir, logging.LogFileName))
		return nil
	}
	if err != nil {
		return err
	}

	entries = logging.FilterEntries(entries, filter)
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
		return nil
	}
	return logging.WriteText(out, entries)
}

// followLogs prints entries appended to the log file until the command's
// context is done.
func followLogs(cmd *cobra.Command, path string, filter logging.Filter) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")

	ctx := cmd.Context()
	reader := bufio.NewReader(file)
	var pending strings.Builder
	for {
		line, err := reader.ReadString('\n')
		pending.WriteString(line)
		if errors.Is(err, io.EOF) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(followPollInterval):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}

		entries, _ := logging.ParseEntries(strings.NewReader(pending.String()))
		pending.Reset()
		if err := logging.WriteText(out, logging.FilterEntries(entries, filter)); err != nil {
			return err
		}
	}
}
