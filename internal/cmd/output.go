package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Iron-Ham/sightline/internal/run"
	"github.com/Iron-Ham/sightline/internal/tui/styles"
	"github.com/Iron-Ham/sightline/internal/util"
)

const (
	taskIDWidth = 28
	barWidth    = 20
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRun writes a plain summary of a run projection.
func printRun(w io.Writer, snap run.Snapshot, now time.Time) {
	fmt.Fprintf(w, "Run %s  %s", snap.RunID, styles.Status(string(snap.Status)))
	if d := snap.Duration(now); d > 0 {
		fmt.Fprintf(w, "  %s", util.FormatDuration(d))
	}
	fmt.Fprintln(w)
	if snap.Goal != "" {
		fmt.Fprintf(w, "Goal: %s\n", snap.Goal)
	}
	if snap.Error != "" {
		label := "Error"
		if snap.Stopped {
			label = "Stopped"
		}
		if snap.ErrPhase != "" {
			fmt.Fprintf(w, "%s: %s (%s)\n", label, snap.Error, snap.ErrPhase)
		} else {
			fmt.Fprintf(w, "%s: %s\n", label, snap.Error)
		}
	}

	mt := snap.Metrics
	fmt.Fprintf(w, "\nTasks  %s %3d%%  %d/%d done", util.Bar(mt.Percent, barWidth), mt.Percent, mt.Completed, mt.Total)
	if mt.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", mt.Failed)
	}
	if mt.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", mt.Skipped)
	}
	fmt.Fprintln(w)
	for _, t := range snap.Tasks {
		line := fmt.Sprintf("  %s %s %3d%%", styles.StatusIcon(string(t.Status)), util.PadANSI(t.ID, taskIDWidth), t.Progress)
		if t.DurationMs > 0 {
			line += "  " + util.FormatDuration(time.Duration(t.DurationMs)*time.Millisecond)
		}
		if t.Attempts > 1 {
			line += fmt.Sprintf("  attempt %d", t.Attempts)
		}
		if t.Synthesized {
			line += "  (inferred)"
		}
		if t.Error != "" {
			line += "  " + t.Error
		}
		fmt.Fprintln(w, line)
	}

	if sel, ok := snap.Selected(); ok {
		fmt.Fprintf(w, "\nWinner: %s", sel.ID)
		if sel.Score != nil {
			fmt.Fprintf(w, " (%.2f)", *sel.Score)
		}
		if sel.SelectionReason != "" {
			fmt.Fprintf(w, "  %s", sel.SelectionReason)
		}
		fmt.Fprintf(w, "  [%d candidates]\n", max(snap.TotalCandidates, len(snap.Candidates)))
	} else if len(snap.Candidates) > 0 {
		fmt.Fprintf(w, "\nCandidates: %d, none selected\n", len(snap.Candidates))
	}
	if n := len(snap.Refinements); n > 0 {
		fmt.Fprintf(w, "Refinement: %d rounds, %d improvements", n, snap.TotalImprovements)
		if snap.FinalScore != nil {
			fmt.Fprintf(w, ", final %.2f", *snap.FinalScore)
		}
		fmt.Fprintln(w)
	}

	if c := snap.Convergence; c.Status != "" && c.Status != run.ConvergenceIdle {
		fmt.Fprintf(w, "Convergence: %s", c.Status)
		if c.MaxIterations > 0 {
			fmt.Fprintf(w, ", iteration %d/%d", c.CurrentIteration, c.MaxIterations)
		}
		if n := len(c.Iterations); n > 0 && !c.Iterations[n-1].AllPassed {
			fmt.Fprintf(w, ", %d errors", c.Iterations[n-1].TotalErrors)
		}
		fmt.Fprintln(w)
	}

	if len(snap.Learnings) > 0 {
		fmt.Fprintf(w, "Learnings:\n  - %s\n", strings.Join(snap.Learnings, "\n  - "))
	}
}
