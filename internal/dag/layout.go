package dag

import (
	"slices"
)

// LayoutOptions sizes the layered layout.
type LayoutOptions struct {
	NodeWidth  float64
	NodeHeight float64
	RankSep    float64 // vertical gap between ranks
	NodeSep    float64 // horizontal gap between siblings
}

// DefaultLayoutOptions returns the default node box and spacing.
func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{
		NodeWidth:  180,
		NodeHeight: 56,
		RankSep:    80,
		NodeSep:    40,
	}
}

func (o LayoutOptions) withDefaults() LayoutOptions {
	d := DefaultLayoutOptions()
	if o == (LayoutOptions{}) {
		return d
	}
	if o.NodeWidth <= 0 {
		o.NodeWidth = d.NodeWidth
	}
	if o.NodeHeight <= 0 {
		o.NodeHeight = d.NodeHeight
	}
	if o.RankSep < 0 {
		o.RankSep = d.RankSep
	}
	if o.NodeSep < 0 {
		o.NodeSep = d.NodeSep
	}
	return o
}

// Position is the top-left corner of a node box.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layout assigns display coordinates. Nodes are ranked top to bottom by their
// longest dependency depth, ordered within a rank by one barycenter sweep
// over their dependencies, and each rank is centered on the widest one.
func (g *Graph) Layout(opts LayoutOptions) map[string]Position {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.layoutLocked(opts.withDefaults())
}

// ApplyLayout computes the layout and writes it to the nodes. Only X and Y
// change.
func (g *Graph) ApplyLayout(opts LayoutOptions) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, pos := range g.layoutLocked(opts.withDefaults()) {
		n := g.nodes[id]
		n.X, n.Y = pos.X, pos.Y
	}
}

func (g *Graph) layoutLocked(opts LayoutOptions) map[string]Position {
	if len(g.order) == 0 {
		return map[string]Position{}
	}

	// Rank by longest path from a root. The graph is acyclic and levelsLocked
	// yields dependencies first.
	depth := make(map[string]int, len(g.order))
	maxDepth := 0
	for _, level := range g.levelsLocked(func(*Node) bool { return true }) {
		for _, id := range level {
			d := 0
			for _, depID := range g.nodes[id].DependsOn {
				if dd, ok := depth[depID]; ok && dd+1 > d {
					d = dd + 1
				}
			}
			depth[id] = d
			maxDepth = max(maxDepth, d)
		}
	}

	ranks := make([][]string, maxDepth+1)
	for _, id := range g.order {
		ranks[depth[id]] = append(ranks[depth[id]], id)
	}

	// One top-down barycenter sweep: order each rank by the mean position of
	// the node's dependencies in the ranks above.
	index := make(map[string]int, len(g.order))
	for i, id := range ranks[0] {
		index[id] = i
	}
	for r := 1; r < len(ranks); r++ {
		bary := make(map[string]float64, len(ranks[r]))
		for i, id := range ranks[r] {
			sum, n := 0.0, 0
			for _, depID := range g.nodes[id].DependsOn {
				if pos, ok := index[depID]; ok {
					sum += float64(pos)
					n++
				}
			}
			if n == 0 {
				bary[id] = float64(i)
			} else {
				bary[id] = sum / float64(n)
			}
		}
		slices.SortStableFunc(ranks[r], func(a, b string) int {
			switch {
			case bary[a] < bary[b]:
				return -1
			case bary[a] > bary[b]:
				return 1
			default:
				return 0
			}
		})
		for i, id := range ranks[r] {
			index[id] = i
		}
	}

	rankWidth := func(n int) float64 {
		return float64(n)*opts.NodeWidth + float64(max(0, n-1))*opts.NodeSep
	}
	widest := 0.0
	for _, rank := range ranks {
		widest = max(widest, rankWidth(len(rank)))
	}

	out := make(map[string]Position, len(g.order))
	for r, rank := range ranks {
		offset := (widest - rankWidth(len(rank))) / 2
		y := float64(r) * (opts.NodeHeight + opts.RankSep)
		for i, id := range rank {
			out[id] = Position{
				X: offset + float64(i)*(opts.NodeWidth+opts.NodeSep),
				Y: y,
			}
		}
	}
	return out
}
