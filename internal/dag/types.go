package dag

import "slices"

// NodeStatus is the execution state of a work item.
type NodeStatus string

const (
	// StatusPending indicates the node has not been evaluated for readiness.
	StatusPending NodeStatus = "pending"

	// StatusBlocked indicates at least one dependency is not complete.
	StatusBlocked NodeStatus = "blocked"

	// StatusReady indicates every dependency is complete.
	StatusReady NodeStatus = "ready"

	// StatusRunning indicates the node is being executed.
	StatusRunning NodeStatus = "running"

	// StatusComplete indicates the node finished successfully.
	StatusComplete NodeStatus = "complete"

	// StatusFailed indicates the node failed.
	StatusFailed NodeStatus = "failed"
)

// String returns the string representation of the status.
func (s NodeStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// waiting reports whether a node in this status is re-evaluated for
// readiness when a dependency completes.
func (s NodeStatus) waiting() bool {
	return s == StatusPending || s == StatusBlocked
}

// Node is a work item in the dependency graph. X and Y are display
// coordinates assigned by layout and are never authoritative.
type Node struct {
	ID            string     `json:"id" yaml:"id"`
	Title         string     `json:"title,omitempty" yaml:"title,omitempty"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
	Status        NodeStatus `json:"status" yaml:"status"`
	Source        string     `json:"source,omitempty" yaml:"source,omitempty"`
	Progress      int        `json:"progress" yaml:"progress"`
	DependsOn     []string   `json:"dependsOn" yaml:"dependsOn"`
	Category      string     `json:"category,omitempty" yaml:"category,omitempty"`
	Priority      float64    `json:"priority,omitempty" yaml:"priority,omitempty"`
	Effort        string     `json:"effort,omitempty" yaml:"effort,omitempty"`
	CurrentAction string     `json:"currentAction,omitempty" yaml:"currentAction,omitempty"`
	TaskType      string     `json:"taskType,omitempty" yaml:"taskType,omitempty"`
	Produces      []string   `json:"produces,omitempty" yaml:"produces,omitempty"`
	ContentHash   string     `json:"contentHash,omitempty" yaml:"contentHash,omitempty"`
	X             float64    `json:"x" yaml:"x"`
	Y             float64    `json:"y" yaml:"y"`
}

func (n Node) clone() Node {
	n.DependsOn = slices.Clone(n.DependsOn)
	n.Produces = slices.Clone(n.Produces)
	return n
}

// Edge is a dependency relation from Source to Target: Target depends on
// Source. Edges are derived from node dependency sets.
type Edge struct {
	ID       string `json:"id" yaml:"id"`
	Source   string `json:"source" yaml:"source"`
	Target   string `json:"target" yaml:"target"`
	Artifact string `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	EdgeType string `json:"edgeType,omitempty" yaml:"edgeType,omitempty"`
}

// EdgeID returns the canonical id of the edge from source to target.
func EdgeID(source, target string) string {
	return source + "->" + target
}

// Snapshot is the full-replacement wire format of a graph.
type Snapshot struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
	Goal  string `json:"goal,omitempty" yaml:"goal,omitempty"`
}

// Bottleneck is a node that many incomplete dependents wait on.
type Bottleneck struct {
	ID           string `json:"id"`
	BlockedCount int    `json:"blockedCount"`
}

// DefaultBottleneckThreshold is the minimum number of distinct incomplete
// dependents that makes a node a bottleneck.
const DefaultBottleneckThreshold = 3
