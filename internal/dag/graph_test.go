package dag

import (
	"reflect"
	"testing"

	"github.com/Iron-Ham/sightline/internal/errors"
)

func node(id string, deps ...string) Node {
	return Node{ID: id, DependsOn: deps}
}

func mustGraph(t *testing.T, nodes ...Node) *Graph {
	t.Helper()
	g, err := FromSnapshot(Snapshot{Nodes: nodes})
	if err != nil {
		t.Fatalf("FromSnapshot() error = %v", err)
	}
	return g
}

func status(t *testing.T, g *Graph, id string) NodeStatus {
	t.Helper()
	n, ok := g.Node(id)
	if !ok {
		t.Fatalf("Node(%q) not found", id)
	}
	return n.Status
}

func TestReplace_NormalizesReadiness(t *testing.T) {
	g := mustGraph(t,
		Node{ID: "a", Status: StatusComplete},
		Node{ID: "b", DependsOn: []string{"a"}},
		Node{ID: "c", DependsOn: []string{"b"}, Status: StatusReady},
		Node{ID: "d", DependsOn: []string{"b"}},
		Node{ID: "e", DependsOn: []string{"missing"}},
		Node{ID: "f", DependsOn: []string{"b"}, Status: StatusRunning},
	)

	tests := []struct {
		id   string
		want NodeStatus
	}{
		{"a", StatusComplete},
		{"b", StatusReady},
		{"c", StatusBlocked},
		{"d", StatusPending},
		{"e", StatusPending},
		{"f", StatusRunning},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := status(t, g, tt.id); got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReplace_RejectsCycle(t *testing.T) {
	g := mustGraph(t, node("a"), node("b", "a"))

	err := g.Replace(Snapshot{Nodes: []Node{
		node("x", "z"),
		node("y", "x"),
		node("z", "y"),
	}})
	if !errors.Is(err, errors.ErrCycle) {
		t.Fatalf("Replace() error = %v, want ErrCycle", err)
	}
	var ge *errors.GraphError
	if !errors.As(err, &ge) || len(ge.Nodes) != 4 {
		t.Errorf("cycle nodes = %v, want a closed 3-cycle", ge.Nodes)
	}
	if g.Len() != 2 {
		t.Errorf("Len() = %d, graph changed after a rejected snapshot", g.Len())
	}
}

func TestReplace_SelfDependency(t *testing.T) {
	_, err := FromSnapshot(Snapshot{Nodes: []Node{node("a", "a")}})
	if !errors.Is(err, errors.ErrCycle) {
		t.Errorf("FromSnapshot() error = %v, want ErrCycle", err)
	}
}

func TestReplace_EmptyID(t *testing.T) {
	_, err := FromSnapshot(Snapshot{Nodes: []Node{node(" ")}})
	if err == nil {
		t.Error("FromSnapshot() accepted a node without id")
	}
}

func TestReplace_ShrinkAndReorder(t *testing.T) {
	g := mustGraph(t, node("a"), node("b", "a"), node("c", "b"))

	if err := g.Replace(Snapshot{Nodes: []Node{node("c"), node("a")}, Goal: "smaller"}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	var ids []string
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	if !reflect.DeepEqual(ids, []string{"c", "a"}) {
		t.Errorf("Nodes() = %v, want [c a]", ids)
	}
	if g.Goal() != "smaller" {
		t.Errorf("Goal() = %q", g.Goal())
	}
}

func TestReplace_DuplicateAndNormalizedIDs(t *testing.T) {
	g := mustGraph(t,
		Node{ID: "a", Title: "first"},
		Node{ID: " b ", DependsOn: []string{" a", "a", ""}},
		Node{ID: "a", Title: "second"},
	)

	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g.Len())
	}
	a, _ := g.Node("a")
	if a.Title != "second" {
		t.Errorf("Title = %q, want the last definition", a.Title)
	}
	b, ok := g.Node("b")
	if !ok || !reflect.DeepEqual(b.DependsOn, []string{"a"}) {
		t.Errorf("b = %+v, want normalized deps [a]", b)
	}
}

func TestCompleteNode_Readiness(t *testing.T) {
	g := mustGraph(t, node("a"), node("b"), node("n", "a", "b"))

	if got := status(t, g, "n"); got == StatusReady {
		t.Fatal("n ready before any dependency completed")
	}

	ready, err := g.CompleteNode("a")
	if err != nil {
		t.Fatalf("CompleteNode(a) error = %v", err)
	}
	if len(ready) != 0 || status(t, g, "n") == StatusReady {
		t.Errorf("n ready after only a completed, newly ready = %v", ready)
	}

	ready, err = g.CompleteNode("b")
	if err != nil {
		t.Fatalf("CompleteNode(b) error = %v", err)
	}
	if !reflect.DeepEqual(ready, []string{"n"}) || status(t, g, "n") != StatusReady {
		t.Errorf("CompleteNode(b) = %v, want [n]", ready)
	}

	ready, _ = g.CompleteNode("b")
	if ready != nil {
		t.Errorf("repeated CompleteNode = %v, want nil", ready)
	}
}

func TestCompleteNode_NotFound(t *testing.T) {
	g := mustGraph(t, node("a"))
	_, err := g.CompleteNode("nope")
	if !errors.Is(err, errors.ErrNodeNotFound) {
		t.Errorf("CompleteNode() error = %v, want ErrNodeNotFound", err)
	}
}

func TestNodeMutators(t *testing.T) {
	g := mustGraph(t, node("a"), node("b", "a"))

	if err := g.StartNode("a"); err != nil {
		t.Fatalf("StartNode() error = %v", err)
	}
	if err := g.SetProgress("a", 150); err != nil {
		t.Fatalf("SetProgress() error = %v", err)
	}
	if n, _ := g.Node("a"); n.Status != StatusRunning || n.Progress != 100 {
		t.Errorf("a = %+v, want running at 100", n)
	}

	if err := g.FailNode("a"); err != nil {
		t.Fatalf("FailNode() error = %v", err)
	}
	if got := status(t, g, "b"); got != StatusPending {
		t.Errorf("b = %s after a failed, want pending", got)
	}
	if err := g.StartNode("a"); err != nil {
		t.Errorf("StartNode() after failure error = %v", err)
	}

	if _, err := g.CompleteNode("a"); err != nil {
		t.Fatalf("CompleteNode() error = %v", err)
	}
	if err := g.StartNode("a"); err == nil {
		t.Error("StartNode() restarted a complete node")
	}
	if got := status(t, g, "b"); got != StatusReady {
		t.Fatalf("b = %s after a completed, want ready", got)
	}

	// A dependency that fails after completing takes readiness back.
	if err := g.FailNode("a"); err != nil {
		t.Fatalf("FailNode() after completion error = %v", err)
	}
	if got := status(t, g, "b"); got != StatusBlocked {
		t.Errorf("b = %s after complete a failed, want blocked", got)
	}
	if err := g.StartNode("a"); err != nil {
		t.Fatalf("StartNode() retry error = %v", err)
	}
	if ready, _ := g.CompleteNode("a"); !reflect.DeepEqual(ready, []string{"b"}) {
		t.Errorf("CompleteNode() on retry = %v, want [b]", ready)
	}
}

func TestEdges(t *testing.T) {
	g, err := FromSnapshot(Snapshot{
		Nodes: []Node{node("a"), node("b", "a"), node("c", "a", "ghost")},
		Edges: []Edge{
			{Source: "a", Target: "b", Artifact: "UserModel", Reason: "imports"},
			{Source: "x", Target: "y"},
		},
	})
	if err != nil {
		t.Fatalf("FromSnapshot() error = %v", err)
	}

	want := []Edge{
		{ID: "a->b", Source: "a", Target: "b", Artifact: "UserModel", Reason: "imports", EdgeType: "dependency"},
		{ID: "a->c", Source: "a", Target: "c", EdgeType: "dependency"},
	}
	if got := g.Edges(); !reflect.DeepEqual(got, want) {
		t.Errorf("Edges() = %+v, want %+v", got, want)
	}
}

func TestNodeCopiesAreIsolated(t *testing.T) {
	g := mustGraph(t, node("a"), node("b", "a"))

	n, _ := g.Node("b")
	n.DependsOn[0] = "mutated"
	n.Status = StatusFailed

	again, _ := g.Node("b")
	if again.DependsOn[0] != "a" || again.Status == StatusFailed {
		t.Errorf("Node() returned an alias: %+v", again)
	}
}
