package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/sightline/internal/dag"
	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/incremental"
	"github.com/Iron-Ham/sightline/internal/run"
	"github.com/Iron-Ham/sightline/internal/runstore"
	"github.com/Iron-Ham/sightline/internal/testutil"
)

const sampleStream = `{"type":"plan_start","timestamp":"2026-01-02T10:00:00Z","data":{"goal":"add retries"}}
{"type":"task_start","timestamp":"2026-01-02T10:00:01Z","data":{"task_id":"parse"}}
{"type":"task_complete","timestamp":"2026-01-02T10:00:03Z","data":{"task_id":"parse","duration_ms":2000}}
not json

{"type":"task_start","timestamp":"2026-01-02T10:00:03Z","data":{"task_id":"upload"}}
{"type":"task_complete","timestamp":"2026-01-02T10:00:05Z","data":{"task_id":"upload","duration_ms":2000}}
{"type":"complete","timestamp":"2026-01-02T10:00:06Z","data":{"tasks_completed":2,"tasks_failed":0}}
`

// sampleGraph is a -> b -> c and a -> d. Only a carries a content hash.
const sampleGraph = `{
  "goal": "add retries",
  "nodes": [
    {"id": "a", "status": "pending", "contentHash": "ha", "dependsOn": []},
    {"id": "b", "status": "pending", "dependsOn": ["a"]},
    {"id": "c", "status": "pending", "dependsOn": ["b"]},
    {"id": "d", "status": "pending", "dependsOn": ["a"]}
  ],
  "edges": []
}
`

// executeCommand runs a fresh command tree with args and returns captured
// output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := executeCommand(t, args...)
	if err != nil {
		t.Fatalf("sightline %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func projectWithGraph(t *testing.T) string {
	t.Helper()
	return testutil.SetupTestProjectWithContent(t, map[string]string{
		".sightline/dag/graph.json": sampleGraph,
	})
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()
	if root.Use != "sightline" {
		t.Errorf("root.Use = %q, want %q", root.Use, "sightline")
	}

	expected := []string{"replay", "watch", "dag", "plan", "cache", "runs", "logs", "config"}
	cmds := make(map[string]bool)
	for _, c := range root.Commands() {
		cmds[c.Name()] = true
	}
	for _, name := range expected {
		if !cmds[name] {
			t.Errorf("expected subcommand %q not found", name)
		}
	}
}

func TestReplay(t *testing.T) {
	project := t.TempDir()
	streamPath := filepath.Join(project, "events.ndjson")
	testutil.WriteFile(t, streamPath, sampleStream)

	out := mustExecute(t, "replay", streamPath, "--project", project)

	for _, want := range []string{"done", "Goal: add retries", "parse", "upload", "2/2 done", "6 events applied", "1 malformed lines skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("replay output missing %q:\n%s", want, out)
		}
	}
}

func TestReplay_JSON(t *testing.T) {
	project := t.TempDir()
	streamPath := filepath.Join(project, "events.ndjson")
	testutil.WriteFile(t, streamPath, sampleStream)

	out := mustExecute(t, "replay", streamPath, "--project", project, "--json", "--run-id", "run-42")

	var got replayResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("replay --json is not JSON: %v\n%s", err, out)
	}
	if got.Run.RunID != "run-42" {
		t.Errorf("run id = %q, want run-42", got.Run.RunID)
	}
	if got.Run.Status != run.StatusDone {
		t.Errorf("status = %s, want done", got.Run.Status)
	}
	if got.Stream.Applied != 6 || got.Stream.Malformed != 1 || got.Stream.Blank != 1 {
		t.Errorf("stream stats = %+v, want 6 applied, 1 malformed, 1 blank", got.Stream)
	}
}

func TestReplay_Observatory(t *testing.T) {
	project := t.TempDir()
	streamPath := filepath.Join(project, "events.ndjson")
	testutil.WriteFile(t, streamPath, sampleStream)

	out := mustExecute(t, "replay", streamPath, "--project", project, "--observatory")

	var got run.ObservatorySnapshot
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("replay --observatory is not JSON: %v\n%s", err, out)
	}
	if len(got.Tasks) != 2 {
		t.Errorf("tasks = %d, want 2", len(got.Tasks))
	}
	if got.Candidates == nil || got.Learnings == nil {
		t.Error("observatory arrays should never be null")
	}
}

func TestReplay_MissingFile(t *testing.T) {
	_, err := executeCommand(t, "replay", filepath.Join(t.TempDir(), "missing.ndjson"), "--project", t.TempDir())
	if err == nil {
		t.Fatal("replay of a missing file should fail")
	}
}

func TestReplaySave_RunsHistory(t *testing.T) {
	project := t.TempDir()
	streamPath := filepath.Join(project, "events.ndjson")
	testutil.WriteFile(t, streamPath, sampleStream)

	out := mustExecute(t, "replay", streamPath, "--project", project, "--save", "--run-id", "run-7")
	if !strings.Contains(out, "Saved run run-7") {
		t.Errorf("replay --save output missing confirmation:\n%s", out)
	}

	list := mustExecute(t, "runs", "list", "--project", project, "--json")
	var summaries []runstore.Summary
	if err := json.Unmarshal([]byte(list), &summaries); err != nil {
		t.Fatalf("runs list --json is not JSON: %v\n%s", err, list)
	}
	if len(summaries) != 1 || summaries[0].ID != "run-7" || summaries[0].Status != run.StatusDone {
		t.Fatalf("runs list = %+v, want one done run-7", summaries)
	}

	show := mustExecute(t, "runs", "show", "run-7", "--project", project, "--events")
	for _, want := range []string{"Run run-7", "add retries", "task_complete", "parse"} {
		if !strings.Contains(show, want) {
			t.Errorf("runs show output missing %q:\n%s", want, show)
		}
	}

	mustExecute(t, "runs", "delete", "run-7", "--project", project)
	if out := mustExecute(t, "runs", "list", "--project", project); !strings.Contains(out, "No runs found.") {
		t.Errorf("runs list after delete = %q, want no runs", out)
	}
}

func TestRunsShow_NotFound(t *testing.T) {
	if _, err := executeCommand(t, "runs", "show", "nope", "--project", t.TempDir()); err == nil {
		t.Error("runs show of an unknown run should fail")
	}
}

func TestDAGAnalytics(t *testing.T) {
	project := projectWithGraph(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"show", []string{"dag", "show"}, []string{"4 nodes", "1 ready", "3 pending", "after a"}},
		{"critical", []string{"dag", "critical"}, []string{"a → b → c"}},
		{"waves", []string{"dag", "waves"}, []string{"Wave 1: a", "Wave 2: b, d", "Wave 3: c"}},
		{"bottlenecks", []string{"dag", "bottlenecks", "--threshold", "2"}, []string{"a blocks 2"}},
		{"preview", []string{"dag", "preview", "a"}, []string{"would unblock: b, d"}},
		{"impact", []string{"dag", "impact", "b"}, []string{"invalidates 1 nodes: c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustExecute(t, append(tt.args, "--project", project)...)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("%s output missing %q:\n%s", tt.name, want, out)
				}
			}
		})
	}
}

func TestDAGWaves_JSON(t *testing.T) {
	project := projectWithGraph(t)

	out := mustExecute(t, "dag", "waves", "--json", "--project", project)

	var got [][]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("dag waves --json is not JSON: %v\n%s", err, out)
	}
	want := [][]string{{"a"}, {"b", "d"}, {"c"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("waves = %v, want %v", got, want)
	}
}

func readGraph(t *testing.T, project string) dag.Snapshot {
	t.Helper()
	data := testutil.ReadFile(t, filepath.Join(project, ".sightline", "dag", "graph.json"))
	var snap dag.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		t.Fatal(err)
	}
	return snap
}

func nodeStatus(snap dag.Snapshot, id string) dag.NodeStatus {
	for _, n := range snap.Nodes {
		if n.ID == id {
			return n.Status
		}
	}
	return ""
}

func TestDAGMutations(t *testing.T) {
	project := projectWithGraph(t)

	out := mustExecute(t, "dag", "complete", "a", "--project", project)
	if !strings.Contains(out, "Now ready: b, d") {
		t.Errorf("dag complete output = %q, want b and d ready", out)
	}
	snap := readGraph(t, project)
	if got := nodeStatus(snap, "a"); got != dag.StatusComplete {
		t.Errorf("a = %s, want complete", got)
	}
	if got := nodeStatus(snap, "b"); got != dag.StatusReady {
		t.Errorf("b = %s, want ready", got)
	}

	mustExecute(t, "dag", "start", "b", "--project", project)
	mustExecute(t, "dag", "progress", "b", "40%", "--project", project)
	mustExecute(t, "dag", "fail", "d", "--project", project)
	snap = readGraph(t, project)
	if got := nodeStatus(snap, "b"); got != dag.StatusRunning {
		t.Errorf("b = %s, want running", got)
	}
	if got := nodeStatus(snap, "d"); got != dag.StatusFailed {
		t.Errorf("d = %s, want failed", got)
	}

	mustExecute(t, "dag", "add", "e", "--after", "c", "--title", "Ship it", "--project", project)
	if n := len(readGraph(t, project).Nodes); n != 5 {
		t.Errorf("nodes after add = %d, want 5", n)
	}
}

func TestDAGAdd_RefusesDuplicate(t *testing.T) {
	project := projectWithGraph(t)
	before := readGraph(t, project)

	if _, err := executeCommand(t, "dag", "add", "a", "--project", project); err == nil {
		t.Fatal("adding an existing id should fail")
	}
	if after := readGraph(t, project); len(after.Nodes) != len(before.Nodes) {
		t.Errorf("nodes = %d after refused add, want %d", len(after.Nodes), len(before.Nodes))
	}
}

func TestDAG_MissingSnapshot(t *testing.T) {
	if _, err := executeCommand(t, "dag", "show", "--project", t.TempDir()); err == nil {
		t.Error("dag show without a snapshot should fail")
	}
}

func TestDAGLayout_Write(t *testing.T) {
	project := projectWithGraph(t)

	mustExecute(t, "dag", "layout", "--write", "--project", project)

	var a, c dag.Node
	for _, n := range readGraph(t, project).Nodes {
		switch n.ID {
		case "a":
			a = n
		case "c":
			c = n
		}
	}
	if c.Y <= a.Y {
		t.Errorf("c.Y = %v, want below a.Y = %v", c.Y, a.Y)
	}
}

func TestPlanAndCache(t *testing.T) {
	project := projectWithGraph(t)

	mustExecute(t, "cache", "record", "a", "ha", "--duration", "1500ms", "--project", project)

	out := mustExecute(t, "plan", "--json", "--record", "--project", project)
	var got planResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("plan --json is not JSON: %v\n%s", err, out)
	}
	if !reflect.DeepEqual(got.ToSkip, []string{"a"}) {
		t.Errorf("ToSkip = %v, want [a]", got.ToSkip)
	}
	if len(got.ToExecute) != 3 {
		t.Errorf("ToExecute = %v, want 3 nodes", got.ToExecute)
	}
	if got.RunID == "" {
		t.Fatal("plan --record returned no pass id")
	}

	out = mustExecute(t, "plan", "--force", "a", "--project", project)
	if !strings.Contains(out, "4 to execute, 0 to skip") {
		t.Errorf("forced plan output:\n%s", out)
	}

	mustExecute(t, "cache", "finish", got.RunID, "--executed", "3", "--project", project)
	pass := mustExecute(t, "cache", "run", got.RunID, "--project", project)
	if !strings.Contains(pass, "completed") || !strings.Contains(pass, "3 executed, 1 skipped") {
		t.Errorf("cache run output:\n%s", pass)
	}

	stats := mustExecute(t, "cache", "stats", "--project", project)
	for _, want := range []string{"Artifacts: 1", "Skips: 1", "Passes: 1", "Schema: v1"} {
		if !strings.Contains(stats, want) {
			t.Errorf("cache stats missing %q:\n%s", want, stats)
		}
	}

	show := mustExecute(t, "cache", "show", "a", "--json", "--project", project)
	var exec incremental.Execution
	if err := json.Unmarshal([]byte(show), &exec); err != nil {
		t.Fatalf("cache show --json is not JSON: %v\n%s", err, show)
	}
	if exec.InputHash != "ha" || exec.SkipCount != 1 || exec.DurationMs != 1500 {
		t.Errorf("cache show = %+v, want hash ha, 1 skip, 1500ms", exec)
	}

	if out := mustExecute(t, "cache", "clear", "a", "--project", project); !strings.Contains(out, "Removed a") {
		t.Errorf("cache clear a = %q", out)
	}
	if out := mustExecute(t, "cache", "clear", "a", "--project", project); !strings.Contains(out, "No record for a") {
		t.Errorf("second cache clear a = %q", out)
	}

	if _, err := executeCommand(t, "cache", "clear", "a", "--schema", "--project", project); err == nil {
		t.Error("cache clear <id> --schema error = nil, want error")
	}
	if out := mustExecute(t, "cache", "clear", "--schema", "--project", project); !strings.Contains(out, "schema re-created") {
		t.Errorf("cache clear --schema = %q", out)
	}
	out = mustExecute(t, "cache", "stats", "--project", project)
	for _, want := range []string{"Artifacts: 0", "Passes: 0", "Schema: v1"} {
		if !strings.Contains(out, want) {
			t.Errorf("cache stats after schema reset missing %q:\n%s", want, out)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	testutil.WriteFile(t, good, "refresh:\n  debounce_ms: 100\n")
	testutil.WriteFile(t, bad, "refresh:\n  debounce_ms: 0\ndag:\n  bottleneck_threshold: 0\n")

	out := mustExecute(t, "config", "validate", "--config", good)
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("validate good config output:\n%s", out)
	}

	out, err := executeCommand(t, "config", "validate", "--config", bad)
	if err == nil {
		t.Fatal("validate should fail for an invalid config")
	}
	for _, want := range []string{"refresh.debounce_ms", "dag.bottleneck_threshold"} {
		if !strings.Contains(out, want) {
			t.Errorf("validate output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	testutil.WriteFile(t, path, "refresh:\n  debounce_ms: 75\n")

	out := mustExecute(t, "config", "show", "--config", path)
	for _, want := range []string{"Config file: " + path, "debounce_ms: 75", "bottleneck_threshold: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestConfig_MissingExplicitFile(t *testing.T) {
	if _, err := executeCommand(t, "config", "show", "--config", filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("an explicit config file that does not exist should fail")
	}
}

func TestLogs(t *testing.T) {
	project := projectWithGraph(t)
	mustExecute(t, "dag", "complete", "a", "--project", project)

	out := mustExecute(t, "logs", "--component", "graphsource", "--project", project)
	if !strings.Contains(out, "graph mutated") {
		t.Errorf("logs output missing the mutation entry:\n%s", out)
	}

	out = mustExecute(t, "logs", "--level", "error", "--project", project)
	if !strings.Contains(out, "No matching log entries found.") {
		t.Errorf("logs --level error output:\n%s", out)
	}
}

func TestLogs_NoFile(t *testing.T) {
	out := mustExecute(t, "logs", "--project", t.TempDir())
	if !strings.Contains(out, "No logs found") {
		t.Errorf("logs without a log file = %q", out)
	}
}

func TestWatch_PlainExitsOnEnd(t *testing.T) {
	project := projectWithGraph(t)
	streamPath := filepath.Join(project, "events.ndjson")
	testutil.WriteFile(t, streamPath, sampleStream)

	out := mustExecute(t, "watch", streamPath, "--no-tui", "--exit-on-end", "--project", project)

	for _, want := range []string{"plan_start", "add retries", "task_complete", "parse", "2 completed, 0 failed", "Run "} {
		if !strings.Contains(out, want) {
			t.Errorf("watch output missing %q:\n%s", want, out)
		}
	}

	// The finished run lands in the history.
	list := mustExecute(t, "runs", "list", "--json", "--project", project)
	var summaries []runstore.Summary
	if err := json.Unmarshal([]byte(list), &summaries); err != nil {
		t.Fatalf("runs list --json is not JSON: %v\n%s", err, list)
	}
	if len(summaries) != 1 || summaries[0].Status != run.StatusDone {
		t.Errorf("runs after watch = %+v, want one done run", summaries)
	}
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 10, 0, 5, 0, time.UTC)
	now := time.Date(2026, 1, 2, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ev   event.Event
		want string
	}{
		{"task progress", event.TaskProgress{Stamp: event.Stamp{At: at}, TaskID: "parse", Progress: 42.4}, "parse 42%"},
		{"task failed", event.TaskFailed{TaskID: "upload", Error: "timeout"}, "upload: timeout"},
		{"identified", event.TaskStart{TaskID: "parse"}, "task_start"},
		{"error", event.Error{Message: "boom"}, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev, now)
			if !strings.Contains(got, tt.want) {
				t.Errorf("formatEvent() = %q, want it to contain %q", got, tt.want)
			}
		})
	}

	if got := formatEvent(event.TaskStart{Stamp: event.Stamp{At: at}, TaskID: "x"}, now); !strings.HasPrefix(got, at.Format("15:04:05")) {
		t.Errorf("formatEvent() = %q, want the event time first", got)
	}
	if got := formatEvent(event.TaskStart{TaskID: "x"}, now); !strings.HasPrefix(got, now.Format("15:04:05")) {
		t.Errorf("formatEvent() = %q, want now for an unstamped event", got)
	}
}
