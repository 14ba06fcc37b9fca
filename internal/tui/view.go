package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/sightline/internal/dag"
	"github.com/Iron-Ham/sightline/internal/run"
	"github.com/Iron-Ham/sightline/internal/tui/styles"
	"github.com/Iron-Ham/sightline/internal/util"
)

// Layout constants
const (
	defaultWidth    = 100
	maxTaskRows     = 12
	maxCandidateRow = 6
	dagPanelMin     = 36
	progressWidth   = 24
)

// View renders the model
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	width := m.width
	if width <= 0 {
		width = defaultWidth
	}

	main := lipgloss.JoinVertical(lipgloss.Left, m.renderRun(width)...)
	body := main
	if m.showDAG {
		dagWidth := max(dagPanelMin, width/3)
		mainWidth := max(width-dagWidth-1, 20)
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(mainWidth).Render(main),
			" ",
			m.renderDAG(dagWidth-2),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(width),
		body,
		m.renderFooter(width),
	)
}

func (m Model) renderHeader(width int) string {
	r := m.run
	status := string(r.Status)
	badge := styles.StatusBadge.Background(styles.StatusColor(status)).Render(strings.ToUpper(status))

	var b strings.Builder
	b.WriteString("sightline")
	if m.opts.Title != "" {
		b.WriteString(styles.Muted.Render("  " + m.opts.Title))
	}
	b.WriteString("\n")
	if r.Status.IsActive() {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
	}
	b.WriteString(badge)
	if r.RunID != "" {
		b.WriteString(styles.Muted.Render(r.RunID))
		b.WriteString(styles.Muted.Render("  " + util.FormatDuration(r.Duration(m.lastRefresh))))
	}
	if r.Goal != "" {
		b.WriteString("\n")
		b.WriteString(util.TruncateANSI(r.Goal, width-2))
	}
	return styles.Header.Width(width).Render(b.String())
}

func (m Model) renderRun(width int) []string {
	r := m.run
	var sections []string

	if r.Status == run.StatusError && r.Error != "" {
		msg := "error: " + r.Error
		if r.Stopped {
			msg = "stopped: " + r.Error
		}
		if r.ErrPhase != "" {
			msg += " (" + r.ErrPhase + ")"
		}
		sections = append(sections, styles.ErrorMsg.Render(util.TruncateANSI(msg, width)))
	}

	sections = append(sections, m.renderTasks(width))
	if s := m.renderPlanning(width); s != "" {
		sections = append(sections, s)
	}
	if s := m.renderConvergence(); s != "" {
		sections = append(sections, s)
	}
	if n := len(r.Learnings); n > 0 {
		sections = append(sections, styles.Muted.Render(fmt.Sprintf("%d learnings recorded", n)))
	}
	return sections
}

func (m Model) renderTasks(width int) string {
	mt := m.run.Metrics
	var b strings.Builder

	b.WriteString(styles.SectionTitle.Render("Tasks"))
	fmt.Fprintf(&b, "  %s %3d%%  ", util.Bar(mt.Percent, progressWidth), mt.Percent)
	b.WriteString(styles.Muted.Render(fmt.Sprintf("%d/%d done", mt.Completed, mt.Total)))
	if mt.Failed > 0 {
		b.WriteString(styles.Error.Render(fmt.Sprintf("  %d failed", mt.Failed)))
	}
	if mt.Skipped > 0 {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  %d skipped", mt.Skipped)))
	}
	b.WriteString("\n")

	tasks := m.run.Tasks
	if len(tasks) == 0 {
		b.WriteString(styles.Muted.Render("  no tasks yet"))
		return b.String()
	}

	shown := tasks
	if len(shown) > maxTaskRows {
		shown = shown[len(shown)-maxTaskRows:]
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  ▲ %d earlier tasks", len(tasks)-maxTaskRows)))
		b.WriteString("\n")
	}
	for i, t := range shown {
		status := string(t.Status)
		icon := lipgloss.NewStyle().Foreground(styles.StatusColor(status)).Render(styles.StatusIcon(status))
		line := fmt.Sprintf("  %s %s %3d%%", icon, util.PadANSI(t.ID, 28), t.Progress)
		if t.Attempts > 1 {
			line += styles.Warning.Render(fmt.Sprintf("  attempt %d", t.Attempts))
		}
		if t.Synthesized {
			line += styles.Muted.Render("  (inferred)")
		}
		if t.Error != "" {
			line += styles.Error.Render("  " + t.Error)
		}
		b.WriteString(util.TruncateANSI(line, width))
		if i < len(shown)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderPlanning(width int) string {
	r := m.run
	if len(r.Candidates) == 0 && len(r.Refinements) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.SectionTitle.Render("Planning"))
	if r.TotalCandidates > 0 {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  %d candidates", r.TotalCandidates)))
	}
	for i, c := range r.Candidates {
		if i == maxCandidateRow {
			b.WriteString("\n")
			b.WriteString(styles.Muted.Render(fmt.Sprintf("  … %d more", len(r.Candidates)-maxCandidateRow)))
			break
		}
		mark := " "
		if c.Selected {
			mark = styles.SuccessMsg.Render("★")
		}
		line := fmt.Sprintf("  %s %s %s", mark, util.PadANSI(c.ID, 20), formatScore(c.Score))
		if c.Selected && c.SelectionReason != "" {
			line += styles.Muted.Render("  " + c.SelectionReason)
		}
		b.WriteString("\n")
		b.WriteString(util.TruncateANSI(line, width))
	}

	if n := len(r.Refinements); n > 0 {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  refinement: %d rounds, %d improvements", n, r.TotalImprovements))
		if r.FinalScore != nil {
			b.WriteString(", final " + formatScore(r.FinalScore))
		}
	}
	return b.String()
}

func formatScore(score *float64) string {
	if score == nil {
		return styles.Muted.Render("  -  ")
	}
	return fmt.Sprintf("%5.2f", *score)
}

func (m Model) renderConvergence() string {
	c := m.run.Convergence
	if c.Status == "" || c.Status == run.ConvergenceIdle {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.SectionTitle.Render("Convergence"))
	b.WriteString("  ")
	b.WriteString(styles.Status(string(c.Status)))
	if c.MaxIterations > 0 {
		fmt.Fprintf(&b, "  iteration %d/%d", c.CurrentIteration, c.MaxIterations)
	} else if c.CurrentIteration > 0 {
		fmt.Fprintf(&b, "  iteration %d", c.CurrentIteration)
	}
	if n := len(c.Iterations); n > 0 {
		last := c.Iterations[n-1]
		if last.AllPassed {
			b.WriteString(styles.Secondary.Render("  all gates passed"))
		} else {
			b.WriteString(styles.Warning.Render(fmt.Sprintf("  %d errors", last.TotalErrors)))
		}
	}
	if c.MaxTokens > 0 {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  tokens %d/%d", c.TokensUsed, c.MaxTokens)))
	}
	return b.String()
}

// renderDAG renders the graph panel: waves of nodes, the critical path, and
// bottlenecks.
func (m Model) renderDAG(width int) string {
	var b strings.Builder
	b.WriteString(styles.PanelTitle.Render("Dependency Graph"))
	b.WriteString("\n")

	if len(m.graph.Nodes) == 0 {
		b.WriteString(styles.Muted.Render("no graph snapshot"))
		return styles.Panel.Width(width).Render(b.String())
	}

	a := m.analysis
	fmt.Fprintf(&b, "%s %d%%\n", util.Bar(a.Progress, max(width-8, 4)), a.Progress)

	nodes := make(map[string]dag.Node, len(m.graph.Nodes))
	for _, n := range m.graph.Nodes {
		nodes[n.ID] = n
	}

	for i, wave := range a.Waves {
		b.WriteString(styles.Secondary.Render(fmt.Sprintf("─── wave %d ───", i+1)))
		b.WriteString("\n")
		for _, id := range wave {
			status := string(nodes[id].Status)
			icon := lipgloss.NewStyle().Foreground(styles.StatusColor(status)).Render(styles.StatusIcon(status))
			b.WriteString(util.TruncateANSI(fmt.Sprintf(" %s %s", icon, nodeLabel(nodes[id])), width-2))
			b.WriteString("\n")
		}
	}

	if len(a.CriticalPath) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.SectionTitle.Render("critical path"))
		b.WriteString("\n")
		b.WriteString(util.TruncateANSI(strings.Join(a.CriticalPath, " → "), width-2))
		b.WriteString("\n")
	}
	if len(a.Bottlenecks) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.SectionTitle.Render("bottlenecks"))
		for _, bn := range a.Bottlenecks {
			b.WriteString("\n")
			b.WriteString(util.TruncateANSI(fmt.Sprintf(" %s blocks %d", bn.ID, bn.BlockedCount), width-2))
		}
	}

	return styles.Panel.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func nodeLabel(n dag.Node) string {
	label := n.ID
	if n.Title != "" {
		label = n.Title
	}
	if n.Status == dag.StatusRunning && n.Progress > 0 {
		label += fmt.Sprintf(" %d%%", n.Progress)
	}
	return label
}

func (m Model) renderFooter(width int) string {
	hints := m.help.View(m.keys)
	if m.help.ShowAll {
		return styles.HelpBar.Render(hints)
	}
	if m.lastEvent != "" {
		hints += styles.Muted.Render(fmt.Sprintf("   last: %s (%d events)", m.lastEvent, m.eventsSeen))
	}
	return styles.HelpBar.Render(util.TruncateANSI(hints, width))
}
