// Package incremental decides which work items of a dependency graph can be
// skipped on a re-run because their inputs are unchanged since their last
// successful execution.
//
// Planning is a pure function of the graph and the prior execution records.
// Skip-ability is not local: nodes are visited in topological order and a
// node whose upstream dependency will execute must execute too.
package incremental

import (
	"time"

	"github.com/Iron-Ham/sightline/internal/dag"
	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/registry"
)

// ExecutionStatus is the recorded outcome of an artifact's last execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionSkipped   ExecutionStatus = "skipped"
)

// Succeeded reports whether the recorded execution produced a usable result.
// A skip is a cache hit on an earlier success.
func (s ExecutionStatus) Succeeded() bool {
	return s == ExecutionCompleted || s == ExecutionSkipped
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionCompleted, ExecutionFailed, ExecutionSkipped:
		return true
	default:
		return false
	}
}

// Execution is the prior record for one artifact.
type Execution struct {
	ArtifactID string          `json:"artifactId"`
	InputHash  string          `json:"inputHash"`
	Status     ExecutionStatus `json:"status"`
	ExecutedAt time.Time       `json:"executedAt"`
	DurationMs int64           `json:"durationMs,omitempty"`
	SkipCount  int             `json:"skipCount,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Reason explains a skip decision.
type Reason string

const (
	// ReasonUnchangedSuccess means the hash matches the last successful run.
	ReasonUnchangedSuccess Reason = "unchanged_success"
	// ReasonNoCache means the artifact was never executed.
	ReasonNoCache Reason = "no_cache"
	// ReasonHashChanged means the inputs differ from the recorded run.
	ReasonHashChanged Reason = "hash_changed"
	// ReasonPreviousFailed means the last run failed.
	ReasonPreviousFailed Reason = "previous_failed"
	// ReasonPreviousIncomplete means the last run was interrupted.
	ReasonPreviousIncomplete Reason = "previous_incomplete"
	// ReasonForceRerun means the caller forced execution.
	ReasonForceRerun Reason = "force_rerun"
	// ReasonDependencyChanged means an upstream dependency will execute.
	ReasonDependencyChanged Reason = "dependency_changed"
	// ReasonMissingHash means the node carries no content hash to compare.
	ReasonMissingHash Reason = "missing_hash"
)

// Decision is the skip decision for one artifact.
type Decision struct {
	ArtifactID   string `json:"artifactId"`
	CanSkip      bool   `json:"canSkip"`
	Reason       Reason `json:"reason"`
	PreviousHash string `json:"previousHash,omitempty"`
	CurrentHash  string `json:"currentHash,omitempty"`
}

// IncrementalPlan partitions the graph into skipped and executed artifacts.
type IncrementalPlan struct {
	ToSkip         []string   `json:"toSkip"`
	ToExecute      []string   `json:"toExecute"`
	SkipPercentage float64    `json:"skipPercentage"`
	Decisions      []Decision `json:"decisions"`
}

// Total returns the number of planned artifacts.
func (p IncrementalPlan) Total() int {
	return len(p.ToSkip) + len(p.ToExecute)
}

// Decision returns the decision for id.
func (p IncrementalPlan) Decision(id string) (Decision, bool) {
	id = registry.Normalize(id)
	for _, d := range p.Decisions {
		if d.ArtifactID == id {
			return d, true
		}
	}
	return Decision{}, false
}

type options struct {
	force map[string]struct{}
}

// Option configures Plan.
type Option func(*options)

// WithForceRerun forces the named artifacts to execute. Their dependents
// execute too, since their upstream changes.
func WithForceRerun(ids ...string) Option {
	return func(o *options) {
		for _, id := range ids {
			if id = registry.Normalize(id); id != "" {
				o.force[id] = struct{}{}
			}
		}
	}
}

// Plan computes the skip/execute decision for every node of g against the
// prior execution records, keyed by artifact id.
func Plan(g *dag.Graph, prior map[string]Execution, opts ...Option) IncrementalPlan {
	o := options{force: make(map[string]struct{})}
	for _, opt := range opts {
		opt(&o)
	}

	plan := IncrementalPlan{
		ToSkip:    []string{},
		ToExecute: []string{},
		Decisions: []Decision{},
	}
	executing := make(map[string]bool)

	for _, id := range g.TopologicalOrder() {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		d := decide(n, prior, o, executing)
		plan.Decisions = append(plan.Decisions, d)
		if d.CanSkip {
			plan.ToSkip = append(plan.ToSkip, id)
		} else {
			plan.ToExecute = append(plan.ToExecute, id)
			executing[id] = true
		}
	}

	if total := plan.Total(); total > 0 {
		plan.SkipPercentage = float64(len(plan.ToSkip)) / float64(total) * 100
	}
	return plan
}

func decide(n dag.Node, prior map[string]Execution, o options, executing map[string]bool) Decision {
	d := Decision{ArtifactID: n.ID, CurrentHash: n.ContentHash}

	prev, cached := prior[n.ID]
	if cached {
		d.PreviousHash = prev.InputHash
	}

	switch {
	case isForced(o, n.ID):
		d.Reason = ReasonForceRerun
	case n.ContentHash == "":
		d.Reason = ReasonMissingHash
	case !cached:
		d.Reason = ReasonNoCache
	case prev.Status == ExecutionFailed:
		d.Reason = ReasonPreviousFailed
	case !prev.Status.Succeeded():
		d.Reason = ReasonPreviousIncomplete
	case prev.InputHash != n.ContentHash:
		d.Reason = ReasonHashChanged
	case anyExecuting(n.DependsOn, executing):
		d.Reason = ReasonDependencyChanged
	default:
		d.Reason = ReasonUnchangedSuccess
		d.CanSkip = true
	}
	return d
}

func isForced(o options, id string) bool {
	_, ok := o.force[id]
	return ok
}

func anyExecuting(deps []string, executing map[string]bool) bool {
	for _, dep := range deps {
		if executing[dep] {
			return true
		}
	}
	return false
}

// Impact returns every node that transitively depends on id, in topological
// order: the artifacts a change to id invalidates.
func Impact(g *dag.Graph, id string) ([]string, error) {
	id = registry.Normalize(id)
	if _, ok := g.Node(id); !ok {
		return nil, errors.NewGraphError("impact analysis", errors.ErrNodeNotFound).WithNode(id)
	}

	reached := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.Dependents(cur) {
			if !reached[dep] {
				reached[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	var out []string
	for _, nid := range g.TopologicalOrder() {
		if reached[nid] {
			out = append(out, nid)
		}
	}
	return out, nil
}
