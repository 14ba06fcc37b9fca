package run

import (
	"time"

	"github.com/Iron-Ham/sightline/internal/event"
)

// Status is the overall state of an agent run.
type Status string

const (
	// StatusIdle is the state before any event of a run arrives.
	StatusIdle Status = "idle"

	// StatusStarting indicates the run was requested or its first event arrived.
	StatusStarting Status = "starting"

	// StatusPlanning indicates candidate plans are being generated or refined.
	StatusPlanning Status = "planning"

	// StatusRunning indicates a plan was selected and work is executing.
	StatusRunning Status = "running"

	// StatusDone indicates the run completed.
	StatusDone Status = "done"

	// StatusError indicates the run failed or was stopped.
	StatusError Status = "error"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// rank orders statuses along the run lifecycle. Terminal statuses share the
// highest rank.
func (s Status) rank() int {
	switch s {
	case StatusStarting:
		return 1
	case StatusPlanning:
		return 2
	case StatusRunning:
		return 3
	case StatusDone, StatusError:
		return 4
	default:
		return 0
	}
}

// IsTerminal returns true if this status is done or error.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// IsActive returns true while a run is in flight.
func (s Status) IsActive() bool {
	return s == StatusStarting || s == StatusPlanning || s == StatusRunning
}

// TaskStatus is the state of one unit of work.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
)

// IsTerminal returns true if this status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskComplete || s == TaskFailed
}

// Task is a unit of execution work reported by the backend.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
	Error       string     `json:"error,omitempty"`

	// Attempts counts task_start events; a value above 1 means the backend
	// retried the task.
	Attempts int `json:"attempts,omitempty"`

	// Synthesized marks placeholder tasks created from completion counts.
	Synthesized bool `json:"synthesized,omitempty"`

	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// Candidate is one proposed execution plan competing for selection.
type Candidate struct {
	ID              string               `json:"id"`
	ArtifactCount   int                  `json:"artifact_count,omitempty"`
	Score           *float64             `json:"score,omitempty"`
	Metrics         *event.Metrics       `json:"metrics,omitempty"`
	VarianceConfig  event.VarianceConfig `json:"variance_config,omitempty"`
	Selected        bool                 `json:"selected,omitempty"`
	SelectionReason string               `json:"selection_reason,omitempty"`

	// Synthesized marks a winner that was declared before it was generated.
	Synthesized bool `json:"synthesized,omitempty"`
}

func (c Candidate) clone() Candidate {
	if c.Score != nil {
		s := *c.Score
		c.Score = &s
	}
	c.Metrics = c.Metrics.Clone()
	c.VarianceConfig = c.VarianceConfig.Clone()
	return c
}

// RefinementRound is one iteration of the plan improvement loop.
type RefinementRound struct {
	Round                  int      `json:"round"`
	OldScore               *float64 `json:"old_score,omitempty"`
	NewScore               *float64 `json:"new_score,omitempty"`
	Improvement            *float64 `json:"improvement,omitempty"`
	Improved               bool     `json:"improved"`
	Reason                 string   `json:"reason,omitempty"`
	ImprovementsIdentified []string `json:"improvements_identified,omitempty"`
	ImprovementsApplied    []string `json:"improvements_applied,omitempty"`
	Complete               bool     `json:"complete"`
}

func (r RefinementRound) clone() RefinementRound {
	r.OldScore = cloneFloat(r.OldScore)
	r.NewScore = cloneFloat(r.NewScore)
	r.Improvement = cloneFloat(r.Improvement)
	r.ImprovementsIdentified = cloneStrings(r.ImprovementsIdentified)
	r.ImprovementsApplied = cloneStrings(r.ImprovementsApplied)
	return r
}

// ConvergenceStatus is the state of the fix-until-stable loop.
type ConvergenceStatus string

const (
	ConvergenceIdle      ConvergenceStatus = "idle"
	ConvergenceRunning   ConvergenceStatus = "running"
	ConvergenceStable    ConvergenceStatus = "stable"
	ConvergenceEscalated ConvergenceStatus = "escalated"
	ConvergenceTimeout   ConvergenceStatus = "timeout"
	ConvergenceStuck     ConvergenceStatus = "stuck"
)

// IsTerminal returns true for the mutually exclusive outcomes of the loop.
func (s ConvergenceStatus) IsTerminal() bool {
	switch s {
	case ConvergenceStable, ConvergenceEscalated, ConvergenceTimeout, ConvergenceStuck:
		return true
	default:
		return false
	}
}

// Iteration records the gate results of one validate/fix iteration.
type Iteration struct {
	Iteration   int                `json:"iteration"`
	AllPassed   bool               `json:"all_passed"`
	TotalErrors int                `json:"total_errors"`
	GateResults []event.GateResult `json:"gate_results,omitempty"`
}

// Convergence is the state of the active fix-until-stable loop.
type Convergence struct {
	Status           ConvergenceStatus `json:"status"`
	MaxIterations    int               `json:"max_iterations,omitempty"`
	CurrentIteration int               `json:"current_iteration,omitempty"`
	Iterations       []Iteration       `json:"iterations,omitempty"`
	EnabledGates     []string          `json:"enabled_gates,omitempty"`
	Files            []string          `json:"files,omitempty"`
	FixingErrors     int               `json:"fixing_errors,omitempty"`
	RepeatedErrors   []string          `json:"repeated_errors,omitempty"`
	TokensUsed       int               `json:"tokens_used,omitempty"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	DurationMs       int64             `json:"duration_ms,omitempty"`
}

func (c Convergence) clone() Convergence {
	if c.Iterations != nil {
		its := make([]Iteration, len(c.Iterations))
		for i, it := range c.Iterations {
			it.GateResults = append([]event.GateResult(nil), it.GateResults...)
			its[i] = it
		}
		c.Iterations = its
	}
	c.EnabledGates = cloneStrings(c.EnabledGates)
	c.Files = cloneStrings(c.Files)
	c.RepeatedErrors = cloneStrings(c.RepeatedErrors)
	return c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
