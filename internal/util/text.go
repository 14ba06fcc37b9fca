// Package util holds small text helpers shared by the CLI and the TUI.
package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// Truncate shortens s to maxLen runes, ending in "..." when cut. It does not
// understand escape codes; use TruncateANSI for styled text.
func Truncate(s string, maxLen int) string {
	if maxLen <= len(ellipsis) {
		return ellipsis
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

// TruncateANSI shortens s to maxWidth terminal columns, keeping escape codes
// intact and counting wide characters by their display width.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= len(ellipsis) {
		return ellipsis
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, ellipsis)
}

// PadANSI right-pads s with spaces to width columns. Longer text is
// truncated.
func PadANSI(s string, width int) string {
	w := lipgloss.Width(s)
	if w > width {
		return TruncateANSI(s, width)
	}
	return s + strings.Repeat(" ", width-w)
}

// FormatDuration renders d compactly: "850ms", "12.4s", "3m05s", "1h02m".
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// Bar renders a progress bar of width cells for percent (0..100).
func Bar(percent, width int) string {
	if width <= 0 {
		return ""
	}
	percent = max(0, min(100, percent))
	filled := percent * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
