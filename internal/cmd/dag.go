package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sightline/internal/dag"
	"github.com/Iron-Ham/sightline/internal/graphsource"
	"github.com/Iron-Ham/sightline/internal/incremental"
	"github.com/Iron-Ham/sightline/internal/tui/styles"
	"github.com/Iron-Ham/sightline/internal/util"
)

func newDAGCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Inspect and update the project's dependency graph",
		Long: `Inspect and update the dependency graph stored at
<project>/.sightline/dag/graph.json (or graph.yaml).

Read commands analyze the stored snapshot. Update commands apply one change
through the graph engine and write the snapshot back atomically.`,
	}

	cmd.PersistentFlags().Bool("json", false, "Print JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "List nodes with their status and dependencies",
			Args:  cobra.NoArgs,
			RunE:  runDAGShow,
		},
		&cobra.Command{
			Use:   "critical",
			Short: "Show the longest chain of incomplete work",
			Args:  cobra.NoArgs,
			RunE:  runDAGCritical,
		},
		newDAGBottlenecksCmd(),
		&cobra.Command{
			Use:   "waves",
			Short: "Group incomplete nodes into waves that can run in parallel",
			Args:  cobra.NoArgs,
			RunE:  runDAGWaves,
		},
		newDAGLayoutCmd(),
		&cobra.Command{
			Use:   "preview <id>",
			Short: "Show which nodes completing <id> would unblock",
			Args:  cobra.ExactArgs(1),
			RunE:  runDAGPreview,
		},
		&cobra.Command{
			Use:   "impact <id>",
			Short: "Show every node a change to <id> invalidates",
			Args:  cobra.ExactArgs(1),
			RunE:  runDAGImpact,
		},
		newDAGMutateCmd("start <id>", "Mark a node running", graphsource.OpStart),
		newDAGMutateCmd("complete <id>", "Mark a node complete and report what became ready", graphsource.OpComplete),
		newDAGMutateCmd("fail <id>", "Mark a node failed", graphsource.OpFail),
		newDAGMutateCmd("progress <id> <percent>", "Set a node's progress", graphsource.OpProgress),
		newDAGAddCmd(),
	)
	return cmd
}

func newDAGBottlenecksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bottlenecks",
		Short: "Show nodes that many incomplete nodes wait on",
		Args:  cobra.NoArgs,
		RunE:  runDAGBottlenecks,
	}
	cmd.Flags().Int("threshold", 0, "Minimum number of blocked dependents (default from config)")
	return cmd
}

func newDAGLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Compute display coordinates for every node",
		Args:  cobra.NoArgs,
		RunE:  runDAGLayout,
	}
	cmd.Flags().Bool("write", false, "Store the coordinates in the snapshot")
	return cmd
}

func newDAGAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a node; refused if it would close a cycle",
		Args:  cobra.ExactArgs(1),
		RunE:  runDAGAdd,
	}
	cmd.Flags().StringSlice("after", nil, "Ids the new node depends on")
	cmd.Flags().String("title", "", "Display title")
	cmd.Flags().String("hash", "", "Content hash used for incremental planning")
	return cmd
}

func newDAGMutateCmd(use, short string, op graphsource.Op) *cobra.Command {
	nargs := 1
	if op == graphsource.OpProgress {
		nargs = 2
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := graphsource.Mutation{Op: op, NodeID: args[0]}
			if op == graphsource.OpProgress {
				p, err := strconv.Atoi(strings.TrimSuffix(args[1], "%"))
				if err != nil {
					return fmt.Errorf("invalid progress %q: %w", args[1], err)
				}
				m.Progress = p
			}
			return mutateGraph(cmd, m)
		},
	}
}

// graphEnv loads the configuration and the project's graph.
func graphEnv(cmd *cobra.Command) (*env, *graphsource.FileSource, *dag.Graph, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, nil, err
	}
	source := graphsource.NewFileSource(e.logger)
	snap, err := source.Fetch(cmd.Context(), e.project)
	if err != nil {
		e.Close()
		return nil, nil, nil, err
	}
	g, err := dag.FromSnapshot(snap)
	if err != nil {
		e.Close()
		return nil, nil, nil, err
	}
	return e, source, g, nil
}

func jsonFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func runDAGShow(cmd *cobra.Command, _ []string) error {
	e, _, g, err := graphEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, g.Snapshot())
	}

	if goal := g.Goal(); goal != "" {
		fmt.Fprintf(out, "Goal: %s\n", goal)
	}
	fmt.Fprintf(out, "%d nodes  %s %d%%\n", g.Len(), util.Bar(g.TotalProgress(), barWidth), g.TotalProgress())
	printCounts(out, g.Counts())
	for _, n := range g.Nodes() {
		line := fmt.Sprintf("  %s %s %-8s %3d%%", styles.StatusIcon(string(n.Status)), util.PadANSI(n.ID, taskIDWidth), n.Status, n.Progress)
		if len(n.DependsOn) > 0 {
			line += "  after " + strings.Join(n.DependsOn, ", ")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func printCounts(w io.Writer, counts map[dag.NodeStatus]int) {
	order := []dag.NodeStatus{dag.StatusComplete, dag.StatusRunning, dag.StatusReady, dag.StatusBlocked, dag.StatusPending, dag.StatusFailed}
	var parts []string
	for _, s := range order {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintln(w, strings.Join(parts, ", "))
	}
}

func runDAGCritical(cmd *cobra.Command, _ []string) error {
	e, _, g, err := graphEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	path := g.CriticalPath()
	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, map[string]any{"criticalPath": nonNilStrings(path)})
	}
	if len(path) == 0 {
		fmt.Fprintln(out, "No incomplete work.")
		return nil
	}
	fmt.Fprintf(out, "Critical path (%d nodes): %s\n", len(path), strings.Join(path, " → "))
	return nil
}

func runDAGBottlenecks(cmd *cobra.Command, _ []string) error {
	e, _, g, err := graphEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	threshold, _ := cmd.Flags().GetInt("threshold")
	if threshold <= 0 {
		threshold = e.cfg.DAG.BottleneckThreshold
	}

	found := g.Bottlenecks(threshold)
	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		if found == nil {
			found = []dag.Bottleneck{}
		}
		return printJSON(out, found)
	}
	if len(found) == 0 {
		fmt.Fprintf(out, "No node blocks %d or more incomplete nodes.\n", threshold)
		return nil
	}
	for _, b := range found {
		fmt.Fprintf(out, "%s blocks %d\n", b.ID, b.BlockedCount)
	}
	return nil
}

func runDAGWaves(cmd *cobra.Command, _ []string) error {
	e, _, g, err := graphEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	waves := g.Waves()
	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		if waves == nil {
			waves = [][]string{}
		}
		return printJSON(out, waves)
	}
	if len(waves) == 0 {
		fmt.Fprintln(out, "No incomplete work.")
		return nil
	}
	for i, w := range waves {
		fmt.Fprintf(out, "Wave %d: %s\n", i+1, strings.Join(w, ", "))
	}
	return nil
}

func runDAGLayout(cmd *cobra.Command, _ []string) error {
	e, source, g, err := graphEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	opts := e.cfg.DAG.Layout.Options()
	if write, _ := cmd.Flags().GetBool("write"); write {
		g.ApplyLayout(opts)
		if err := source.Save(cmd.Context(), e.project, g.Snapshot()); err != nil {
			return err
		}
	}

	positions := g.Layout(opts)
	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, positions)
	}
	for _, n := range g.Nodes() {
		p := positions[n.ID]
		fmt.Fprintf(out, "%s x=%.0f y=%.0f\n", util.PadANSI(n.ID, taskIDWidth), p.X, p.Y)
	}
	return nil
}

func runDAGPreview(cmd *cobra.Command, args []string) error {
	e, _, g, err := graphEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ready, err := g.WouldUnblock(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, map[string]any{"id": args[0], "wouldUnblock": nonNilStrings(ready)})
	}
	if len(ready) == 0 {
		fmt.Fprintf(out, "Completing %s unblocks nothing.\n", args[0])
		return nil
	}
	fmt.Fprintf(out, "Completing %s would unblock: %s\n", args[0], strings.Join(ready, ", "))
	return nil
}

func runDAGImpact(cmd *cobra.Command, args []string) error {
	e, _, g, err := graphEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	affected, err := incremental.Impact(g, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, map[string]any{"id": args[0], "impact": nonNilStrings(affected)})
	}
	if len(affected) == 0 {
		fmt.Fprintf(out, "Nothing depends on %s.\n", args[0])
		return nil
	}
	fmt.Fprintf(out, "A change to %s invalidates %d nodes: %s\n", args[0], len(affected), strings.Join(affected, ", "))
	return nil
}

func runDAGAdd(cmd *cobra.Command, args []string) error {
	after, _ := cmd.Flags().GetStringSlice("after")
	title, _ := cmd.Flags().GetString("title")
	hash, _ := cmd.Flags().GetString("hash")

	return mutateGraph(cmd, graphsource.Mutation{
		Op: graphsource.OpAddNode,
		Node: &dag.Node{
			ID:          args[0],
			Title:       title,
			ContentHash: hash,
			DependsOn:   after,
		},
	})
}

func mutateGraph(cmd *cobra.Command, m graphsource.Mutation) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := graphsource.NewFileSource(e.logger).Mutate(cmd.Context(), e.project, m)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, map[string]any{"ready": nonNilStrings(res.Ready), "nodes": len(res.Snapshot.Nodes)})
	}

	id := m.NodeID
	if m.Node != nil {
		id = m.Node.ID
	}
	fmt.Fprintf(out, "%s %s\n", m.Op, id)
	if len(res.Ready) > 0 {
		fmt.Fprintf(out, "Now ready: %s\n", strings.Join(res.Ready, ", "))
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
