package stream

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/logging"
)

type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) apply(ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.EventType()
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

const sample = `{"type":"plan_start","data":{"goal":"ship"}}

{"type":"task_start","data":{"task_id":"t1"}}
not json at all
{"type":"task_complete","data":{"task_id":"t1"}}
{"type":"some_future_event","data":{"x":1}}
{"data":{"task_id":"t2"}}
`

func TestReadAll(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, logging.LevelDebug)
	c := &collector{}

	stats, err := ReadAll(context.Background(), strings.NewReader(sample), c.apply, logger)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	want := []string{"plan_start", "task_start", "task_complete", "some_future_event"}
	if got := c.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("applied = %v, want %v", got, want)
	}
	if stats.Lines != 7 || stats.Applied != 4 || stats.Blank != 1 || stats.Malformed != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if _, ok := c.events[3].(event.Unrecognized); !ok {
		t.Errorf("future event decoded as %T, want event.Unrecognized", c.events[3])
	}
	if !strings.Contains(buf.String(), "dropping malformed event") {
		t.Error("malformed line was not logged")
	}
}

func TestReadAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &collector{}
	if _, err := ReadAll(ctx, strings.NewReader(sample), c.apply, nil); err == nil {
		t.Error("ReadAll() with cancelled context error = nil, want error")
	}
	if c.len() != 0 {
		t.Errorf("applied %d events after cancel, want 0", c.len())
	}
}

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(s); err != nil {
		t.Fatal(err)
	}
}

func TestFollower_ReadNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	c := &collector{}
	f := NewFollower(path, c.apply, nil)

	// Missing file is not an error.
	if err := f.ReadNew(); err != nil {
		t.Fatalf("ReadNew() on missing file error = %v", err)
	}

	appendFile(t, path, `{"type":"task_start","data":{"task_id":"a"}}`+"\n"+`{"type":"task_sta`)
	if err := f.ReadNew(); err != nil {
		t.Fatalf("ReadNew() error = %v", err)
	}
	if c.len() != 1 {
		t.Fatalf("applied %d events, want 1 (the partial line is held back)", c.len())
	}

	appendFile(t, path, `rt","data":{"task_id":"b"}}`+"\n")
	if err := f.ReadNew(); err != nil {
		t.Fatalf("ReadNew() error = %v", err)
	}
	if c.len() != 2 {
		t.Fatalf("applied %d events, want 2", c.len())
	}
	if ts, ok := c.events[1].(event.TaskStart); !ok || ts.TaskID != "b" {
		t.Errorf("second event = %+v, want task_start b", c.events[1])
	}

	// Truncate and rewrite: reading restarts from offset zero.
	if err := os.WriteFile(path, []byte(`{"type":"complete","data":{}}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := f.ReadNew(); err != nil {
		t.Fatalf("ReadNew() error = %v", err)
	}
	if got := c.types(); got[len(got)-1] != "complete" {
		t.Errorf("after truncation applied %v, want trailing complete", got)
	}
	if info, _ := os.Stat(path); f.Offset() != info.Size() {
		t.Errorf("Offset() = %d, want %d", f.Offset(), info.Size())
	}
}

func TestFollower_DropsOversizedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	c := &collector{}
	f := NewFollower(path, c.apply, nil)
	f.maxLine = 64

	// A producer that keeps writing without a newline.
	junk := strings.Repeat("x", 40)
	for i := 0; i < 5; i++ {
		appendFile(t, path, junk)
		if err := f.ReadNew(); err != nil {
			t.Fatalf("ReadNew() error = %v", err)
		}
		if len(f.partial) > f.maxLine {
			t.Fatalf("held back %d bytes, want at most %d", len(f.partial), f.maxLine)
		}
	}

	// The newline ends the dropped line; the next record is read normally.
	appendFile(t, path, "\n"+`{"type":"complete","data":{}}`+"\n")
	if err := f.ReadNew(); err != nil {
		t.Fatalf("ReadNew() error = %v", err)
	}
	if got := c.types(); !reflect.DeepEqual(got, []string{"complete"}) {
		t.Errorf("applied %v, want [complete]", got)
	}

	// A complete line over the limit is dropped too.
	appendFile(t, path, `{"type":"plan_start","data":{"goal":"`+strings.Repeat("g", 80)+`"}}`+"\n")
	if err := f.ReadNew(); err != nil {
		t.Fatalf("ReadNew() error = %v", err)
	}
	if c.len() != 1 {
		t.Errorf("applied %d events, want 1", c.len())
	}

	want := Stats{Lines: 3, Applied: 1, Malformed: 2}
	if got := f.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestFollower_Run(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	appendFile(t, path, `{"type":"plan_start","data":{}}`+"\n")

	c := &collector{}
	f := NewFollower(path, c.apply, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for c.len() < n && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if c.len() < n {
			t.Fatalf("applied %d events, want %d", c.len(), n)
		}
	}

	waitFor(1)
	// Let the watcher settle before appending.
	time.Sleep(50 * time.Millisecond)
	appendFile(t, path, `{"type":"task_start","data":{"task_id":"t1"}}`+"\n")
	waitFor(2)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if s := f.Stats(); s.Applied != 2 {
		t.Errorf("Stats().Applied = %d, want 2", s.Applied)
	}
}
