package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

const sampleLog = `{"time":"2026-01-02T10:00:02Z","level":"WARN","msg":"contract violation","run_id":"r1","component":"reducer","event":"task_start"}
not json at all

{"time":"2026-01-02T10:00:01Z","level":"DEBUG","msg":"ignored unknown event","run_id":"r1","component":"reducer","type":"heartbeat"}
{"time":"2026-01-02T10:00:03Z","level":"INFO","msg":"run persisted","run_id":"r2","component":"client","phase":"done"}
`

func TestParseEntries(t *testing.T) {
	entries, err := ParseEntries(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("ParseEntries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	if entries[0].Level != LevelDebug {
		t.Errorf("entries[0].Level = %q, want DEBUG (sorted by time)", entries[0].Level)
	}
	if entries[1].Component != "reducer" || entries[1].RunID != "r1" {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if entries[1].Attrs["event"] != "task_start" {
		t.Errorf("entries[1].Attrs[event] = %v, want task_start", entries[1].Attrs["event"])
	}
	if entries[2].Phase != "done" {
		t.Errorf("entries[2].Phase = %q, want done", entries[2].Phase)
	}
}

func TestFilterEntries(t *testing.T) {
	entries, err := ParseEntries(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"empty filter", Filter{}, []string{"ignored unknown event", "contract violation", "run persisted"}},
		{"min level", Filter{MinLevel: "info"}, []string{"contract violation", "run persisted"}},
		{"run", Filter{RunID: "r1"}, []string{"ignored unknown event", "contract violation"}},
		{"component and level", Filter{Component: "reducer", MinLevel: LevelWarn}, []string{"contract violation"}},
		{"message", Filter{MessageContains: "persist"}, []string{"run persisted"}},
		{"since", Filter{Since: time.Date(2026, 1, 2, 10, 0, 2, 0, time.UTC)}, []string{"contract violation", "run persisted"}},
		{"no match", Filter{Phase: "planning"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterEntries(entries, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("len(FilterEntries()) = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Message != tt.want[i] {
					t.Errorf("FilterEntries()[%d] = %q, want %q", i, got[i].Message, tt.want[i])
				}
			}
		})
	}
}

func TestWriteText(t *testing.T) {
	entries, err := ParseEntries(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, entries[1:2]); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}

	want := `[10:00:02.000] WARN  reducer: contract violation (run=r1) {"event":"task_start"}` + "\n"
	if buf.String() != want {
		t.Errorf("WriteText() = %q, want %q", buf.String(), want)
	}
}

func TestReadEntries_MissingFile(t *testing.T) {
	if _, err := ReadEntries(t.TempDir()); err == nil {
		t.Error("ReadEntries() on empty dir should fail")
	}
}
