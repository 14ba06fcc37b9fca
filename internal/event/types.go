package event

import (
	"maps"
	"strconv"
	"time"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns the wire type, e.g. "task_start".
	EventType() string

	// Timestamp returns when the event occurred. It is the zero time when the
	// producer did not stamp the event.
	Timestamp() time.Time
}

// Identified is implemented by events that name the entity they mutate.
// An empty EntityID is a contract violation; see Validate.
type Identified interface {
	Event
	EntityID() string
	// IDField is the wire field that carries the id.
	IDField() string
}

// Stamp carries the event time. Embed it in concrete event types.
type Stamp struct {
	At time.Time `json:"-"`
}

// Timestamp returns the event time.
func (s Stamp) Timestamp() time.Time { return s.At }

// Wire event types understood by the reducer.
const (
	TypePlanStart  = "plan_start"
	TypeComplete   = "complete"
	TypeError      = "error"
	TypeRunStopped = "run_stopped"

	TypeTaskStart    = "task_start"
	TypeTaskProgress = "task_progress"
	TypeTaskComplete = "task_complete"
	TypeTaskFailed   = "task_failed"

	TypeCandidateStart     = "plan_candidate_start"
	TypeCandidateGenerated = "plan_candidate_generated"
	TypeCandidateScored    = "plan_candidate_scored"
	TypeCandidatesComplete = "plan_candidates_complete"
	TypeScoringComplete    = "plan_scoring_complete"
	TypeWinner             = "plan_winner"
	TypeRefineStart        = "plan_refine_start"
	TypeRefineAttempt      = "plan_refine_attempt"
	TypeRefineComplete     = "plan_refine_complete"
	TypeRefineFinal        = "plan_refine_final"
	TypeMemoryLearning     = "memory_learning"
	TypeConvergenceStart   = "convergence_start"
	TypeIterationStart     = "convergence_iteration_start"
	TypeIterationComplete  = "convergence_iteration_complete"
	TypeConvergenceFixing  = "convergence_fixing"
	TypeConvergenceStable  = "convergence_stable"
	TypeConvergenceTimeout = "convergence_timeout"
	TypeConvergenceStuck   = "convergence_stuck"
	TypeMaxIterations      = "convergence_max_iterations"
	TypeBudgetExceeded     = "convergence_budget_exceeded"
)

// -----------------------------------------------------------------------------
// Run Events
// -----------------------------------------------------------------------------

// PlanStart marks the beginning of the planning phase.
type PlanStart struct {
	Stamp
	Goal      string `json:"goal,omitempty"`
	Technique string `json:"technique,omitempty"`
}

func (PlanStart) EventType() string { return TypePlanStart }

// Complete ends a run successfully. Its counts are the ground truth for how
// much work was done, even when granular task events were lost.
type Complete struct {
	Stamp
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	GatesPassed    int     `json:"gates_passed,omitempty"`
	DurationS      float64 `json:"duration_s,omitempty"`
	LearningsCount int     `json:"learnings_count,omitempty"`
}

func (Complete) EventType() string { return TypeComplete }

// Error ends a run with a failure.
type Error struct {
	Stamp
	Message   string `json:"message"`
	Phase     string `json:"phase,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

func (Error) EventType() string { return TypeError }

// RunStopped is applied locally when the user cancels a run.
type RunStopped struct {
	Stamp
	Reason string `json:"reason,omitempty"`
}

func (RunStopped) EventType() string { return TypeRunStopped }

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskStart reports that a unit of work began (or restarted).
type TaskStart struct {
	Stamp
	TaskID      string `json:"task_id"`
	Description string `json:"description,omitempty"`
}

func (TaskStart) EventType() string { return TypeTaskStart }
func (e TaskStart) EntityID() string { return e.TaskID }
func (TaskStart) IDField() string { return "task_id" }

// TaskProgress reports partial progress (0-100) on one task.
type TaskProgress struct {
	Stamp
	TaskID   string  `json:"task_id"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

func (TaskProgress) EventType() string { return TypeTaskProgress }
func (e TaskProgress) EntityID() string { return e.TaskID }
func (TaskProgress) IDField() string { return "task_id" }

// TaskComplete reports that a task finished successfully.
type TaskComplete struct {
	Stamp
	TaskID     string `json:"task_id"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	File       string `json:"file,omitempty"`
}

func (TaskComplete) EventType() string { return TypeTaskComplete }
func (e TaskComplete) EntityID() string { return e.TaskID }
func (TaskComplete) IDField() string { return "task_id" }

// TaskFailed reports that a task failed.
type TaskFailed struct {
	Stamp
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

func (TaskFailed) EventType() string { return TypeTaskFailed }
func (e TaskFailed) EntityID() string { return e.TaskID }
func (TaskFailed) IDField() string { return "task_id" }

// -----------------------------------------------------------------------------
// Planning Events
// -----------------------------------------------------------------------------

// Metrics are the structural quality signals of a candidate plan.
type Metrics struct {
	Score             float64 `json:"score,omitempty"`
	Depth             int     `json:"depth,omitempty"`
	Width             int     `json:"width,omitempty"`
	LeafCount         int     `json:"leaf_count,omitempty"`
	ParallelismFactor float64 `json:"parallelism_factor,omitempty"`
	BalanceFactor     float64 `json:"balance_factor,omitempty"`
	EstimatedWaves    int     `json:"estimated_waves,omitempty"`
	FileConflicts     int     `json:"file_conflicts,omitempty"`
}

// Clone returns a copy of m, or nil.
func (m *Metrics) Clone() *Metrics {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// VarianceConfig describes how a candidate was perturbed from the baseline
// prompt. The set of keys is open-ended.
type VarianceConfig map[string]any

// Clone returns a shallow copy of v, or nil.
func (v VarianceConfig) Clone() VarianceConfig {
	if v == nil {
		return nil
	}
	return maps.Clone(v)
}

// CandidateStart opens a candidate generation phase.
type CandidateStart struct {
	Stamp
	TotalCandidates  int    `json:"total_candidates"`
	VarianceStrategy string `json:"variance_strategy,omitempty"`
}

func (CandidateStart) EventType() string { return TypeCandidateStart }

// CandidateGenerated reports one generated candidate plan.
type CandidateGenerated struct {
	Stamp
	CandidateID     string         `json:"candidate_id"`
	ArtifactCount   int            `json:"artifact_count"`
	Progress        int            `json:"progress,omitempty"`
	TotalCandidates int            `json:"total_candidates,omitempty"`
	VarianceConfig  VarianceConfig `json:"variance_config,omitempty"`
}

func (CandidateGenerated) EventType() string { return TypeCandidateGenerated }
func (e CandidateGenerated) EntityID() string { return e.CandidateID }
func (CandidateGenerated) IDField() string { return "candidate_id" }

// CandidateScored reports the score of one candidate.
type CandidateScored struct {
	Stamp
	CandidateID     string   `json:"candidate_id"`
	Score           float64  `json:"score"`
	Progress        int      `json:"progress,omitempty"`
	TotalCandidates int      `json:"total_candidates,omitempty"`
	Metrics         *Metrics `json:"metrics,omitempty"`
}

func (CandidateScored) EventType() string { return TypeCandidateScored }
func (e CandidateScored) EntityID() string { return e.CandidateID }
func (CandidateScored) IDField() string { return "candidate_id" }

// CandidatesComplete closes candidate generation.
type CandidatesComplete struct {
	Stamp
	TotalCandidates      int `json:"total_candidates,omitempty"`
	SuccessfulCandidates int `json:"successful_candidates,omitempty"`
	FailedCandidates     int `json:"failed_candidates,omitempty"`
}

func (CandidatesComplete) EventType() string { return TypeCandidatesComplete }

// ScoringComplete closes candidate scoring.
type ScoringComplete struct {
	Stamp
	TotalScored int `json:"total_scored"`
}

func (ScoringComplete) EventType() string { return TypeScoringComplete }

// Winner declares the selected candidate and the size of the chosen plan.
type Winner struct {
	Stamp
	SelectedID       string         `json:"selected_candidate_id"`
	Tasks            int            `json:"tasks,omitempty"`
	ArtifactCount    int            `json:"artifact_count,omitempty"`
	Gates            int            `json:"gates,omitempty"`
	Technique        string         `json:"technique,omitempty"`
	TotalCandidates  int            `json:"total_candidates,omitempty"`
	Reason           string         `json:"selection_reason,omitempty"`
	VarianceStrategy string         `json:"variance_strategy,omitempty"`
	VarianceConfig   VarianceConfig `json:"variance_config,omitempty"`
	Score            *float64       `json:"score,omitempty"`
	Metrics          *Metrics       `json:"metrics,omitempty"`
}

func (Winner) EventType() string { return TypeWinner }
func (e Winner) EntityID() string { return e.SelectedID }
func (Winner) IDField() string { return "selected_candidate_id" }

// PlannedTotal is the number of work units in the selected plan.
func (e Winner) PlannedTotal() int {
	if e.Tasks > 0 {
		return e.Tasks
	}
	return e.ArtifactCount
}

// -----------------------------------------------------------------------------
// Refinement Events
// -----------------------------------------------------------------------------

// roundID renders a 1-based round or iteration number as an entity id.
// Non-positive numbers mean the field was absent.
func roundID(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// RefineStart opens a refinement round.
type RefineStart struct {
	Stamp
	Round                  int      `json:"round"`
	TotalRounds            int      `json:"total_rounds,omitempty"`
	CurrentScore           *float64 `json:"current_score,omitempty"`
	ImprovementsIdentified []string `json:"improvements_identified,omitempty"`
}

func (RefineStart) EventType() string { return TypeRefineStart }
func (e RefineStart) EntityID() string { return roundID(e.Round) }
func (RefineStart) IDField() string { return "round" }

// RefineAttempt reports improvements applied during a round.
type RefineAttempt struct {
	Stamp
	Round               int      `json:"round"`
	ImprovementsApplied []string `json:"improvements_applied,omitempty"`
	NewScore            *float64 `json:"new_score,omitempty"`
}

func (RefineAttempt) EventType() string { return TypeRefineAttempt }
func (e RefineAttempt) EntityID() string { return roundID(e.Round) }
func (RefineAttempt) IDField() string { return "round" }

// RefineComplete closes a refinement round.
type RefineComplete struct {
	Stamp
	Round               int      `json:"round"`
	Improved            bool     `json:"improved"`
	OldScore            *float64 `json:"old_score,omitempty"`
	NewScore            *float64 `json:"new_score,omitempty"`
	Improvement         *float64 `json:"improvement,omitempty"`
	Reason              string   `json:"reason,omitempty"`
	ImprovementsApplied []string `json:"improvements_applied,omitempty"`
}

func (RefineComplete) EventType() string { return TypeRefineComplete }
func (e RefineComplete) EntityID() string { return roundID(e.Round) }
func (RefineComplete) IDField() string { return "round" }

// RefineFinal closes the refinement loop.
type RefineFinal struct {
	Stamp
	TotalRounds       int      `json:"total_rounds"`
	FinalScore        *float64 `json:"final_score,omitempty"`
	TotalImprovements int      `json:"total_improvements,omitempty"`
}

func (RefineFinal) EventType() string { return TypeRefineFinal }

// MemoryLearning records a fact the agent learned during the run.
type MemoryLearning struct {
	Stamp
	Fact     string `json:"fact"`
	Category string `json:"category,omitempty"`
}

func (MemoryLearning) EventType() string { return TypeMemoryLearning }

// -----------------------------------------------------------------------------
// Convergence Events
// -----------------------------------------------------------------------------

// GateResult is the outcome of one quality gate in an iteration.
type GateResult struct {
	Gate   string `json:"gate"`
	Passed bool   `json:"passed"`
	Errors int    `json:"errors"`
}

// ConvergenceStart opens a fix-until-stable loop.
type ConvergenceStart struct {
	Stamp
	Files         []string `json:"files,omitempty"`
	Gates         []string `json:"gates,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
}

func (ConvergenceStart) EventType() string { return TypeConvergenceStart }

// IterationStart opens one validate/fix iteration.
type IterationStart struct {
	Stamp
	Iteration int `json:"iteration"`
}

func (IterationStart) EventType() string { return TypeIterationStart }
func (e IterationStart) EntityID() string { return roundID(e.Iteration) }
func (IterationStart) IDField() string { return "iteration" }

// IterationComplete reports gate results for one iteration.
type IterationComplete struct {
	Stamp
	Iteration   int          `json:"iteration"`
	AllPassed   bool         `json:"all_passed"`
	TotalErrors int          `json:"total_errors"`
	GateResults []GateResult `json:"gate_results,omitempty"`
}

func (IterationComplete) EventType() string { return TypeIterationComplete }
func (e IterationComplete) EntityID() string { return roundID(e.Iteration) }
func (IterationComplete) IDField() string { return "iteration" }

// Fixing reports that the agent is fixing errors found in an iteration.
type Fixing struct {
	Stamp
	Iteration  int `json:"iteration"`
	ErrorCount int `json:"error_count"`
}

func (Fixing) EventType() string { return TypeConvergenceFixing }
func (e Fixing) EntityID() string { return roundID(e.Iteration) }
func (Fixing) IDField() string { return "iteration" }

// Stable reports that every gate passed.
type Stable struct {
	Stamp
	Iterations int   `json:"iterations,omitempty"`
	DurationMs int64 `json:"duration_ms,omitempty"`
}

func (Stable) EventType() string { return TypeConvergenceStable }

// Timeout reports that the loop ran out of time.
type Timeout struct {
	Stamp
	DurationMs int64 `json:"duration_ms,omitempty"`
}

func (Timeout) EventType() string { return TypeConvergenceTimeout }

// Stuck reports that the same errors kept recurring.
type Stuck struct {
	Stamp
	RepeatedErrors []string `json:"repeated_errors,omitempty"`
}

func (Stuck) EventType() string { return TypeConvergenceStuck }

// MaxIterations reports that the iteration budget was exhausted.
type MaxIterations struct {
	Stamp
	Iterations int `json:"iterations,omitempty"`
}

func (MaxIterations) EventType() string { return TypeMaxIterations }

// BudgetExceeded reports that the token budget was exhausted. It escalates.
type BudgetExceeded struct {
	Stamp
	TokensUsed int `json:"tokens_used"`
	MaxTokens  int `json:"max_tokens"`
}

func (BudgetExceeded) EventType() string { return TypeBudgetExceeded }

// -----------------------------------------------------------------------------
// Fallback
// -----------------------------------------------------------------------------

// Unrecognized carries any event type outside the known catalog. The reducer
// ignores it; it is kept so raw logs round-trip.
type Unrecognized struct {
	Stamp
	Type string
	Data []byte
}

func (e Unrecognized) EventType() string { return e.Type }
