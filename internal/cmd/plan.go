package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sightline/internal/client"
	"github.com/Iron-Ham/sightline/internal/incremental"
	"github.com/Iron-Ham/sightline/internal/incremental/cache"
	"github.com/Iron-Ham/sightline/internal/util"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Decide which graph nodes a re-run can skip",
		Long: `Plan compares every node's content hash with its last recorded execution
and splits the graph into nodes to skip and nodes to execute. A node whose
dependency executes is executed too.

With --record, skip counters are bumped and the pass is opened in the
execution cache; close it with 'sightline cache finish <run-id>'.`,
		Args: cobra.NoArgs,
		RunE: runPlan,
	}

	cmd.Flags().StringSlice("force", nil, "Ids to execute regardless of the cache")
	cmd.Flags().Bool("json", false, "Print the plan as JSON")
	cmd.Flags().Bool("record", false, "Record the plan as a pass in the execution cache")
	return cmd
}

// planResult is the --json output of plan.
type planResult struct {
	RunID string `json:"runId,omitempty"`
	incremental.IncrementalPlan
}

func runPlan(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetStringSlice("force")
	asJSON, _ := cmd.Flags().GetBool("json")
	record, _ := cmd.Flags().GetBool("record")

	e, _, g, err := graphEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	execs, err := cache.Open(ctx, cache.Config{Path: e.cachePath(), Logger: e.logger})
	if err != nil {
		return err
	}
	defer func() { _ = execs.Close() }()

	prior, err := execs.All(ctx)
	if err != nil {
		return err
	}
	p := incremental.Plan(g, prior, incremental.WithForceRerun(force...))

	res := planResult{IncrementalPlan: p}
	if record {
		if err := execs.RecordPlan(ctx, p); err != nil {
			return err
		}
		res.RunID = client.NewRunID()
		if err := execs.StartRun(ctx, res.RunID, p); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, res)
	}

	fmt.Fprintf(out, "%d to execute, %d to skip (%.0f%% skipped)\n", len(p.ToExecute), len(p.ToSkip), p.SkipPercentage)
	for _, d := range p.Decisions {
		verb := "run "
		if d.CanSkip {
			verb = "skip"
		}
		line := fmt.Sprintf("  %s %s %s", verb, util.PadANSI(d.ArtifactID, taskIDWidth), d.Reason)
		if exec, ok := prior[d.ArtifactID]; ok && d.CanSkip && exec.DurationMs > 0 {
			line += fmt.Sprintf("  saves ~%s", util.FormatDuration(time.Duration(exec.DurationMs)*time.Millisecond))
		}
		fmt.Fprintln(out, line)
	}
	if res.RunID != "" {
		fmt.Fprintf(out, "Recorded pass %s\n", res.RunID)
	}
	return nil
}
