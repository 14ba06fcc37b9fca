package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sightline/internal/runstore"
	"github.com/Iron-Ham/sightline/internal/tui/styles"
	"github.com/Iron-Ham/sightline/internal/util"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse the run history",
		Long: `Runs lists and shows finished runs stored by 'sightline watch' and
'sightline replay --save'. Showing a run replays its stored events.`,
	}

	cmd.PersistentFlags().Bool("json", false, "Print JSON")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runRunsList,
	}
	list.Flags().IntP("limit", "n", 20, "Maximum number of runs to list (0 for all)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Replay a stored run and print it",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow,
	}
	show.Flags().Bool("events", false, "Print the stored events after the run")

	cmd.AddCommand(
		list,
		show,
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Remove a stored run",
			Args:  cobra.ExactArgs(1),
			RunE:  runRunsDelete,
		},
	)
	return cmd
}

func openRunStore() (*env, *runstore.Store, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	store, err := runstore.New(e.runsDir(), e.logger)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, store, nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	e, store, err := openRunStore()
	if err != nil {
		return err
	}
	defer e.Close()

	summaries, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		if summaries == nil {
			summaries = []runstore.Summary{}
		}
		return printJSON(out, summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	for _, s := range summaries {
		started := "-"
		if !s.StartedAt.IsZero() {
			started = s.StartedAt.Local().Format("2006-01-02 15:04")
		}
		line := fmt.Sprintf("%s  %s  %-16s %6s  %d/%d tasks",
			s.ID, started, styles.Status(string(s.Status)), util.FormatDuration(s.Duration()), s.Tasks.Completed, s.Tasks.Total)
		if s.Goal != "" {
			line += "  " + util.Truncate(s.Goal, 48)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	withEvents, _ := cmd.Flags().GetBool("events")

	e, store, err := openRunStore()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	rec, err := store.Load(ctx, args[0])
	if err != nil {
		return err
	}
	snap, err := store.Snapshot(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonFlag(cmd) {
		return printJSON(out, snap)
	}

	now := rec.SavedAt
	if now.IsZero() {
		now = time.Now()
	}
	printRun(out, snap, now)
	fmt.Fprintf(out, "\nSaved %s, %d events\n", rec.SavedAt.Local().Format(time.RFC3339), len(rec.Events))
	if withEvents {
		for _, ev := range rec.DecodeEvents() {
			fmt.Fprintln(out, "  "+formatEvent(ev, rec.SavedAt))
		}
	}
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	e, store, err := openRunStore()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
	return nil
}
