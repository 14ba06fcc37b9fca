package dag

import (
	"slices"

	"github.com/Iron-Ham/sightline/internal/registry"
)

// dependentsLocked maps each node id to the ids that depend on it, in node
// order. When incompleteOnly is set, complete dependents are left out.
func (g *Graph) dependentsLocked(incompleteOnly bool) map[string][]string {
	deps := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		n := g.nodes[id]
		if incompleteOnly && n.Status == StatusComplete {
			continue
		}
		for _, depID := range n.DependsOn {
			if _, ok := g.nodes[depID]; ok {
				deps[depID] = append(deps[depID], id)
			}
		}
	}
	return deps
}

// Dependents returns the ids of nodes that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.dependentsLocked(false)[registry.Normalize(id)])
}

// hasIncompleteDeps reports whether any dependency present in the graph is
// not complete.
func (g *Graph) hasIncompleteDeps(n *Node) bool {
	for _, depID := range n.DependsOn {
		if dep, ok := g.nodes[depID]; ok && dep.Status != StatusComplete {
			return true
		}
	}
	return false
}

// CriticalPath returns the longest chain of incomplete nodes, from a root to
// a sink. Roots are incomplete nodes whose dependencies are all complete, so
// a partially finished graph still reports the remaining path. Ties go to
// the node that appears first in the graph.
func (g *Graph) CriticalPath() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dependents := g.dependentsLocked(true)
	length := make(map[string]int, len(g.order))
	next := make(map[string]string, len(g.order))

	var longest func(id string) int
	longest = func(id string) int {
		if l, ok := length[id]; ok {
			return l
		}
		best, bestNext := 0, ""
		for _, d := range dependents[id] {
			if l := longest(d); l > best {
				best, bestNext = l, d
			}
		}
		length[id] = best + 1
		next[id] = bestNext
		return best + 1
	}

	var start string
	bestLen := 0
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Status == StatusComplete || g.hasIncompleteDeps(n) {
			continue
		}
		if l := longest(id); l > bestLen {
			start, bestLen = id, l
		}
	}
	if start == "" {
		return nil
	}

	path := make([]string, 0, bestLen)
	for id := start; id != ""; id = next[id] {
		path = append(path, id)
	}
	return path
}

// Bottlenecks returns incomplete nodes with at least threshold distinct
// incomplete dependents, most blocking first. A threshold below 1 uses
// DefaultBottleneckThreshold.
func (g *Graph) Bottlenecks(threshold int) []Bottleneck {
	if threshold < 1 {
		threshold = DefaultBottleneckThreshold
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	dependents := g.dependentsLocked(true)
	var out []Bottleneck
	for _, id := range g.order {
		if g.nodes[id].Status == StatusComplete {
			continue
		}
		if n := len(dependents[id]); n >= threshold {
			out = append(out, Bottleneck{ID: id, BlockedCount: n})
		}
	}
	slices.SortStableFunc(out, func(a, b Bottleneck) int {
		return b.BlockedCount - a.BlockedCount
	})
	return out
}

// levelsLocked groups node ids into topological levels with Kahn's
// algorithm. include selects the nodes taking part; dependencies on nodes
// outside the selection are treated as satisfied.
func (g *Graph) levelsLocked(include func(*Node) bool) [][]string {
	inDegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	var members []string
	for _, id := range g.order {
		if include(g.nodes[id]) {
			inDegree[id] = 0
			members = append(members, id)
		}
	}
	for _, id := range members {
		for _, depID := range g.nodes[id].DependsOn {
			if _, ok := inDegree[depID]; ok {
				inDegree[id]++
				dependents[depID] = append(dependents[depID], id)
			}
		}
	}

	var queue []string
	for _, id := range members {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	rank := make(map[string]int, len(members))
	for i, id := range members {
		rank[id] = i
	}

	var levels [][]string
	for len(queue) > 0 {
		slices.SortFunc(queue, func(a, b string) int { return rank[a] - rank[b] })
		levels = append(levels, queue)

		var next []string
		for _, id := range queue {
			for _, depID := range dependents[id] {
				inDegree[depID]--
				if inDegree[depID] == 0 {
					next = append(next, depID)
				}
			}
		}
		queue = next
	}
	return levels
}

// Waves groups the incomplete nodes into batches that can run together: each
// wave depends only on complete nodes and earlier waves.
func (g *Graph) Waves() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.levelsLocked(func(n *Node) bool { return n.Status != StatusComplete })
}

// TopologicalOrder returns every node id with dependencies before
// dependents. Nodes on the same level keep snapshot order.
func (g *Graph) TopologicalOrder() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var order []string
	for _, level := range g.levelsLocked(func(*Node) bool { return true }) {
		order = append(order, level...)
	}
	return order
}

// WouldUnblock previews CompleteNode(id) without mutating the graph: it
// returns the waiting dependents of id that would become ready.
func (g *Graph) WouldUnblock(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	target, err := g.lookup(id)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, oid := range g.order {
		n := g.nodes[oid]
		if oid == target.ID || !n.Status.waiting() || !slices.Contains(n.DependsOn, target.ID) {
			continue
		}
		if depsComplete(g.nodes, n, target.ID) {
			out = append(out, oid)
		}
	}
	return out, nil
}

// TotalProgress returns the mean progress of all nodes, counting complete
// nodes as 100.
func (g *Graph) TotalProgress() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.order) == 0 {
		return 0
	}
	sum := 0
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Status == StatusComplete {
			sum += 100
		} else {
			sum += n.Progress
		}
	}
	return sum / len(g.order)
}

// Counts returns the number of nodes in each status.
func (g *Graph) Counts() map[NodeStatus]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[NodeStatus]int)
	for _, id := range g.order {
		counts[g.nodes[id].Status]++
	}
	return counts
}
