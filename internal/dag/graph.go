// Package dag maintains the dependency graph of work items and derives
// readiness, critical path, bottlenecks, execution waves, and layout from it.
//
// A Graph is always acyclic: Replace rejects snapshots with cycles and keeps
// the previous graph. Status propagation follows one rule: a waiting node is
// ready exactly when every id in its DependsOn denotes a complete node. A
// dependency on an id missing from the graph never counts as complete.
package dag

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/registry"
)

// Graph is a dependency DAG. All methods are safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string // node ids in snapshot order
	edges map[string]Edge
	goal  string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]Edge),
	}
}

// FromSnapshot creates a graph from a snapshot.
func FromSnapshot(s Snapshot) (*Graph, error) {
	g := New()
	if err := g.Replace(s); err != nil {
		return nil, err
	}
	return g, nil
}

// Replace swaps the graph for the snapshot. Snapshots may shrink or reorder
// nodes relative to the previous one. Ids and dependency ids are normalized;
// a repeated node id keeps its first position and takes the last definition.
// On error the graph is left unchanged.
func (g *Graph) Replace(s Snapshot) error {
	nodes := make(map[string]*Node, len(s.Nodes))
	order := make([]string, 0, len(s.Nodes))

	for i := range s.Nodes {
		n := s.Nodes[i].clone()
		n.ID = registry.Normalize(n.ID)
		if n.ID == "" {
			return errors.NewGraphError(fmt.Sprintf("node at index %d has no id", i), nil)
		}
		n.DependsOn = normalizeDeps(n.DependsOn)
		if n.Status == "" {
			n.Status = StatusPending
		}
		n.Progress = clampProgress(n.Progress)

		if _, dup := nodes[n.ID]; !dup {
			order = append(order, n.ID)
		}
		nodes[n.ID] = &n
	}

	if cycle := findCycle(nodes, order); cycle != nil {
		return errors.NewCycleError(cycle)
	}

	edges := make(map[string]Edge, len(s.Edges))
	for _, e := range s.Edges {
		src, dst := registry.Normalize(e.Source), registry.Normalize(e.Target)
		e.Source, e.Target = src, dst
		e.ID = EdgeID(src, dst)
		edges[e.ID] = e
	}

	for _, id := range order {
		normalizeReadiness(nodes, nodes[id])
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nodes
	g.order = order
	g.edges = edges
	g.goal = s.Goal
	return nil
}

func normalizeDeps(deps []string) []string {
	out := make([]string, 0, len(deps))
	seen := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		d = registry.Normalize(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// normalizeReadiness applies the readiness rule to one node of a freshly
// loaded snapshot. Running and terminal nodes keep their status.
func normalizeReadiness(nodes map[string]*Node, n *Node) {
	if n.Status == StatusRunning || n.Status.IsTerminal() {
		return
	}
	switch {
	case depsComplete(nodes, n, ""):
		n.Status = StatusReady
	case n.Status == StatusReady:
		n.Status = StatusBlocked
	}
}

// depsComplete reports whether every dependency of n is complete. assume, when
// non-empty, names one node treated as complete regardless of its status.
func depsComplete(nodes map[string]*Node, n *Node, assume string) bool {
	for _, depID := range n.DependsOn {
		if depID == assume {
			continue
		}
		dep, ok := nodes[depID]
		if !ok || dep.Status != StatusComplete {
			return false
		}
	}
	return true
}

// findCycle returns the ids of one dependency cycle, or nil.
func findCycle(nodes map[string]*Node, order []string) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		stack = append(stack, id)
		for _, depID := range nodes[id].DependsOn {
			if _, ok := nodes[depID]; !ok {
				continue
			}
			switch state[depID] {
			case visiting:
				start := slices.Index(stack, depID)
				cycle = append(slices.Clone(stack[start:]), depID)
				return true
			case unvisited:
				if visit(depID) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range order {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Goal returns the goal text of the last snapshot.
func (g *Graph) Goal() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.goal
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[registry.Normalize(id)]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Nodes returns copies of all nodes in snapshot order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].clone())
	}
	return out
}

// Edges returns one edge per dependency relation, in node order. Artifact and
// reason metadata from the last snapshot is merged in; snapshot edges that
// match no dependency are dropped.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgesLocked()
}

func (g *Graph) edgesLocked() []Edge {
	var out []Edge
	for _, id := range g.order {
		for _, depID := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[depID]; !ok {
				continue
			}
			eid := EdgeID(depID, id)
			e, ok := g.edges[eid]
			if !ok {
				e = Edge{ID: eid, Source: depID, Target: id}
			}
			if e.EdgeType == "" {
				e.EdgeType = "dependency"
			}
			out = append(out, e)
		}
	}
	return out
}

// Snapshot returns the graph in wire format.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id].clone())
	}
	return Snapshot{Nodes: nodes, Edges: g.edgesLocked(), Goal: g.goal}
}

func (g *Graph) lookup(id string) (*Node, error) {
	n, ok := g.nodes[registry.Normalize(id)]
	if !ok {
		return nil, errors.NewGraphError("node not found", errors.ErrNodeNotFound).WithNode(id)
	}
	return n, nil
}

// StartNode marks a node running. Complete nodes cannot be restarted.
func (g *Graph) StartNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	if n.Status == StatusComplete {
		return errors.NewGraphError("cannot start a complete node", nil).WithNode(n.ID)
	}
	if n.Status == StatusFailed {
		n.Progress = 0
	}
	n.Status = StatusRunning
	return nil
}

// SetProgress records progress for a node that is not terminal. Progress is
// clamped to 0..100.
func (g *Graph) SetProgress(id string, progress int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	if !n.Status.IsTerminal() {
		n.Progress = clampProgress(progress)
	}
	return nil
}

// FailNode marks a node failed. Its dependents stay waiting; failing a node
// that was complete demotes its ready dependents to blocked.
func (g *Graph) FailNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	wasComplete := n.Status == StatusComplete
	n.Status = StatusFailed
	if wasComplete {
		g.demoteReadyLocked()
	}
	return nil
}

// demoteReadyLocked blocks every ready node that has an incomplete
// dependency.
func (g *Graph) demoteReadyLocked() {
	for _, oid := range g.order {
		other := g.nodes[oid]
		if other.Status == StatusReady && !depsComplete(g.nodes, other, "") {
			other.Status = StatusBlocked
		}
	}
}

// CompleteNode marks a node complete and re-evaluates every waiting node in
// a single pass. It returns the ids that became ready, in node order.
// Completing an already complete node is a no-op.
func (g *Graph) CompleteNode(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	if n.Status == StatusComplete {
		return nil, nil
	}
	n.Status = StatusComplete
	n.Progress = 100

	var ready []string
	for _, oid := range g.order {
		other := g.nodes[oid]
		if !other.Status.waiting() {
			continue
		}
		if depsComplete(g.nodes, other, "") {
			other.Status = StatusReady
			ready = append(ready, oid)
		} else {
			other.Status = StatusBlocked
		}
	}
	return ready, nil
}

func clampProgress(p int) int {
	return min(100, max(0, p))
}
