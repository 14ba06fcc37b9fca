package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is a parsed line from a sightline log file.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	RunID     string         `json:"run_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Component string         `json:"component,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Filter selects log entries. Zero-valued fields match everything and the
// set fields are combined with AND.
type Filter struct {
	// MinLevel keeps entries at or above this level.
	MinLevel        string
	RunID           string
	Phase           string
	Component       string
	MessageContains string
	Since           time.Time
}

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses the log file in dir, skipping lines that are not JSON.
// Entries are returned in timestamp order.
func ReadEntries(dir string) ([]Entry, error) {
	file, err := os.Open(filepath.Join(dir, LogFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ParseEntries(file)
}

// ParseEntries parses JSON log lines from r.
func ParseEntries(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

func parseEntry(line string) (Entry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := Entry{Attrs: make(map[string]any)}
	for k, v := range raw {
		s, _ := v.(string)
		switch k {
		case "time":
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				entry.Time = t
			}
		case "level":
			entry.Level = s
		case "msg":
			entry.Message = s
		case KeyRunID:
			entry.RunID = s
		case KeyPhase:
			entry.Phase = s
		case KeyComponent:
			entry.Component = s
		default:
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterEntries returns the entries matching f.
func FilterEntries(entries []Entry, f Filter) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f Filter) matches(e Entry) bool {
	if f.MinLevel != "" {
		want, wantOK := levelRank[ParseLevel(f.MinLevel)]
		got, gotOK := levelRank[e.Level]
		if wantOK && gotOK && got < want {
			return false
		}
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.Phase != "" && e.Phase != f.Phase {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return true
}

// WriteText renders entries as one human-readable line each:
//
//	[15:04:05.000] WARN  reducer: contract violation (run=01J...) {"event":"task_start"}
func WriteText(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %-5s ", e.Time.Format("15:04:05.000"), e.Level)
		if e.Component != "" {
			b.WriteString(e.Component)
			b.WriteString(": ")
		}
		b.WriteString(e.Message)

		var ctx []string
		if e.RunID != "" {
			ctx = append(ctx, "run="+e.RunID)
		}
		if e.Phase != "" {
			ctx = append(ctx, "phase="+e.Phase)
		}
		if len(ctx) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
		}
		if len(e.Attrs) > 0 {
			if attrs, err := json.Marshal(e.Attrs); err == nil {
				b.WriteByte(' ')
				b.Write(attrs)
			}
		}
		b.WriteByte('\n')

		if _, err := io.WriteString(w, b.String()); err != nil {
			return fmt.Errorf("failed to write log entry: %w", err)
		}
	}
	return nil
}
