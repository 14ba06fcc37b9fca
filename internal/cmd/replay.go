package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sightline/internal/client"
	"github.com/Iron-Ham/sightline/internal/run"
	"github.com/Iron-Ham/sightline/internal/runstore"
	"github.com/Iron-Ham/sightline/internal/stream"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <events.ndjson>",
		Short: "Fold a recorded event stream and print the run",
		Long: `Replay reads a newline-delimited JSON event stream from a file ("-" for
stdin), folds it into a run, and prints the result.

Malformed lines are logged and skipped. Use --save to store the run in the
run history when the stream ends it.`,
		Args: cobra.ExactArgs(1),
		RunE: runReplay,
	}

	cmd.Flags().Bool("json", false, "Print the run and stream counters as JSON")
	cmd.Flags().Bool("observatory", false, "Print the visualization projection as JSON")
	cmd.Flags().Bool("save", false, "Store the run in the run history when it ends")
	cmd.Flags().String("run-id", "", "Attach the stream to this run id")
	cmd.Flags().String("goal", "", "Goal to record for the run")
	return cmd
}

// replayResult is the --json output of replay.
type replayResult struct {
	Run    run.Snapshot `json:"run"`
	Stream stream.Stats `json:"stream"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	observatory, _ := cmd.Flags().GetBool("observatory")
	save, _ := cmd.Flags().GetBool("save")
	runID, _ := cmd.Flags().GetString("run-id")
	goal, _ := cmd.Flags().GetString("goal")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open stream: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	ccfg := client.Config{
		Logger:         e.logger,
		Project:        e.project,
		DebounceWindow: e.cfg.Refresh.Debounce(),
		Layout:         e.cfg.DAG.Layout.Options(),
	}
	if save {
		store, err := runstore.New(e.runsDir(), e.logger)
		if err != nil {
			return err
		}
		ccfg.Store = store
	}

	c := client.New(ccfg)
	defer c.Close()

	if runID != "" || goal != "" {
		if _, err := c.Attach(runID, goal); err != nil {
			return err
		}
	}

	stats, err := stream.ReadAll(cmd.Context(), in, c.Apply, e.logger)
	if err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	c.Wait()

	snap := c.RunSnapshot()
	out := cmd.OutOrStdout()
	switch {
	case observatory:
		return printJSON(out, snap.Observatory())
	case asJSON:
		return printJSON(out, replayResult{Run: snap, Stream: stats})
	}

	printRun(out, snap, time.Now())
	fmt.Fprintf(out, "\n%d events applied", stats.Applied)
	if stats.Malformed > 0 {
		fmt.Fprintf(out, ", %d malformed lines skipped", stats.Malformed)
	}
	fmt.Fprintln(out)
	if save && snap.Status.IsTerminal() {
		fmt.Fprintf(out, "Saved run %s\n", snap.RunID)
	}
	return nil
}
