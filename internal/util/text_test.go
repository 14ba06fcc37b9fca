package util

import (
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"very small maxLen returns ellipsis", "hello", 3, "..."},
		{"negative maxLen returns ellipsis", "hello", -5, "..."},
		{"empty string unchanged", "", 10, ""},
		{"unicode characters counted correctly", "日本語テスト", 5, "日本..."},
		{"mixed ascii and unicode", "hello日本語world", 10, "hello日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestTruncateANSI(t *testing.T) {
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	tests := []struct {
		name     string
		input    string
		maxWidth int
	}{
		{"plain", "hello world", 8},
		{"styled", red.Render("hello world"), 8},
		{"wide characters", "日本語テスト", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateANSI(tt.input, tt.maxWidth)
			if w := lipgloss.Width(got); w > tt.maxWidth {
				t.Errorf("TruncateANSI() width = %d, want <= %d", w, tt.maxWidth)
			}
		})
	}

	if got := TruncateANSI("hello world", 8); got != "hello..." {
		t.Errorf("TruncateANSI() = %q, want %q", got, "hello...")
	}
	if got := TruncateANSI("hi", 10); got != "hi" {
		t.Errorf("TruncateANSI() = %q, want unchanged", got)
	}
}

func TestPadANSI(t *testing.T) {
	if got := PadANSI("ab", 5); got != "ab   " {
		t.Errorf("PadANSI() = %q, want %q", got, "ab   ")
	}
	if got := lipgloss.Width(PadANSI("a much longer label", 8)); got != 8 {
		t.Errorf("PadANSI() width = %d, want 8", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{850 * time.Millisecond, "850ms"},
		{12400 * time.Millisecond, "12.4s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
		{62 * time.Minute, "1h02m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		percent, width int
		want           string
	}{
		{0, 4, "░░░░"},
		{50, 4, "██░░"},
		{100, 4, "████"},
		{150, 4, "████"},
		{-10, 4, "░░░░"},
		{50, 0, ""},
	}
	for _, tt := range tests {
		if got := Bar(tt.percent, tt.width); got != tt.want {
			t.Errorf("Bar(%d, %d) = %q, want %q", tt.percent, tt.width, got, tt.want)
		}
	}
}
