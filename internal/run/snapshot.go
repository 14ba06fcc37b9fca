package run

import (
	"slices"
	"time"
)

// Snapshot is a read-only, deep copy of an AgentRun plus derived metrics.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Goal      string    `json:"goal,omitempty"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Error     string    `json:"error,omitempty"`
	ErrPhase  string    `json:"error_phase,omitempty"`
	Stopped   bool      `json:"stopped,omitempty"`

	Learnings []string `json:"learnings,omitempty"`
	Concepts  []string `json:"concepts,omitempty"`

	Tasks          []Task      `json:"tasks"`
	Metrics        TaskMetrics `json:"metrics"`
	PlannedTotal   int         `json:"planned_total,omitempty"`
	CompletedCount int         `json:"completed_count,omitempty"`
	FailedCount    int         `json:"failed_count,omitempty"`

	Candidates       []Candidate `json:"candidates,omitempty"`
	SelectedID       string      `json:"selected_id,omitempty"`
	TotalCandidates  int         `json:"total_candidates,omitempty"`
	VarianceStrategy string      `json:"variance_strategy,omitempty"`

	Refinements       []RefinementRound `json:"refinements,omitempty"`
	RefinementRounds  int               `json:"refinement_rounds,omitempty"`
	FinalScore        *float64          `json:"final_score,omitempty"`
	TotalImprovements int               `json:"total_improvements,omitempty"`

	Convergence Convergence `json:"convergence"`
}

// Snapshot returns a deep copy of the current run.
func (r *Reducer) Snapshot() Snapshot {
	run := &r.run
	tasks := run.Tasks.Values()

	var candidates []Candidate
	for _, c := range run.Candidates.Values() {
		candidates = append(candidates, c.clone())
	}

	var rounds []RefinementRound
	for _, rr := range run.Refinements.Values() {
		rounds = append(rounds, rr.clone())
	}
	slices.SortStableFunc(rounds, func(a, b RefinementRound) int {
		return a.Round - b.Round
	})

	return Snapshot{
		RunID:     run.RunID,
		Goal:      run.Goal,
		Status:    run.Status,
		StartedAt: run.StartedAt,
		EndedAt:   run.EndedAt,
		Error:     run.Error,
		ErrPhase:  run.ErrPhase,
		Stopped:   run.Stopped,

		Learnings: cloneStrings(run.Learnings),
		Concepts:  cloneStrings(run.Concepts),

		Tasks:          tasks,
		Metrics:        ComputeTaskMetrics(tasks, run.PlannedTotal, run.Status == StatusDone),
		PlannedTotal:   run.PlannedTotal,
		CompletedCount: run.CompletedCount,
		FailedCount:    run.FailedCount,

		Candidates:       candidates,
		SelectedID:       run.SelectedID,
		TotalCandidates:  run.TotalCandidates,
		VarianceStrategy: run.VarianceStrategy,

		Refinements:       rounds,
		RefinementRounds:  run.RefinementRounds,
		FinalScore:        cloneFloat(run.FinalScore),
		TotalImprovements: run.TotalImprovements,

		Convergence: run.Convergence.clone(),
	}
}

// Task returns the task with the given id.
func (s Snapshot) Task(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Candidate returns the candidate with the given id.
func (s Snapshot) Candidate(id string) (Candidate, bool) {
	for _, c := range s.Candidates {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{}, false
}

// Selected returns the winning candidate, if one was declared.
func (s Snapshot) Selected() (Candidate, bool) {
	if s.SelectedID == "" {
		return Candidate{}, false
	}
	return s.Candidate(s.SelectedID)
}

// Duration returns the elapsed run time. Runs still in flight are measured
// against now.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = now
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// ObservatorySnapshot is the visualization projection of a run: refinement
// rounds, candidates and the winner, executed tasks, learnings, and the
// convergence iterations.
type ObservatorySnapshot struct {
	RunID                 string            `json:"run_id"`
	RefinementRounds      []RefinementRound `json:"resonance_iterations"`
	Candidates            []Candidate       `json:"prism_candidates"`
	SelectedCandidate     *Candidate        `json:"selected_candidate"`
	Tasks                 []Task            `json:"tasks"`
	Learnings             []string          `json:"learnings"`
	ConvergenceIterations []Iteration       `json:"convergence_iterations"`
	ConvergenceStatus     ConvergenceStatus `json:"convergence_status,omitempty"`
}

// Observatory projects the snapshot for visualization. Slices are never nil
// so the JSON form always carries arrays.
func (s Snapshot) Observatory() ObservatorySnapshot {
	o := ObservatorySnapshot{
		RunID:                 s.RunID,
		RefinementRounds:      nonNil(s.Refinements),
		Candidates:            nonNil(s.Candidates),
		Tasks:                 nonNil(s.Tasks),
		Learnings:             nonNil(s.Learnings),
		ConvergenceIterations: nonNil(s.Convergence.Iterations),
	}
	if sel, ok := s.Selected(); ok {
		o.SelectedCandidate = &sel
	}
	if s.Convergence.Status != ConvergenceIdle {
		o.ConvergenceStatus = s.Convergence.Status
	}
	return o
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
