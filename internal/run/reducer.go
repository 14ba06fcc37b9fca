// Package run folds the agent event stream into a consistent view of one run.
//
// The [Reducer] is the single writer of an [AgentRun] aggregate. Apply is a
// total, synchronous function over the event union: it never blocks, never
// returns an error, and never panics on bad input. Anomalies are repaired or
// dropped and reported only through the logger:
//
//   - identified events without an id are dropped (contract violation, WARN)
//   - unknown event types are ignored (DEBUG)
//   - events for a terminal run are ignored (DEBUG)
//   - completion counts without task events synthesize placeholder tasks (WARN)
//   - out-of-order events create the entity they reference
//
// Readers get value copies through Snapshot; nothing they hold aliases
// reducer state.
package run

import (
	"time"

	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/logging"
	"github.com/Iron-Ham/sightline/internal/registry"
)

// StoppedByUser is the error text recorded when a run is cancelled locally
// without a reason.
const StoppedByUser = "stopped by user"

// AgentRun is the aggregate root of one run.
type AgentRun struct {
	RunID     string
	Goal      string
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time
	Error     string
	ErrPhase  string
	Stopped   bool

	Learnings []string
	Concepts  []string
	concepts  map[string]struct{}

	Tasks              registry.Registry[Task]
	ObservedTaskStarts int
	PlannedTotal       int
	CompletedCount     int
	FailedCount        int

	Candidates       registry.Registry[Candidate]
	SelectedID       string
	TotalCandidates  int
	VarianceStrategy string

	Refinements       registry.Registry[RefinementRound]
	RefinementRounds  int
	FinalScore        *float64
	TotalImprovements int

	Convergence Convergence
}

// Reducer owns one AgentRun and applies events to it.
// It is not safe for concurrent use; callers serialize Apply.
type Reducer struct {
	base   *logging.Logger
	logger *logging.Logger
	now    func() time.Time
	run    AgentRun
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithClock sets the clock used to stamp events that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Reducer) {
		r.now = now
	}
}

// New creates a Reducer holding an empty, idle run.
func New(logger *logging.Logger, opts ...Option) *Reducer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	r := &Reducer{
		base: logger.WithComponent("reducer"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.base
	r.run = newAgentRun("", "")
	return r
}

func newAgentRun(runID, goal string) AgentRun {
	return AgentRun{
		RunID:       runID,
		Goal:        goal,
		Status:      StatusIdle,
		concepts:    make(map[string]struct{}),
		Convergence: Convergence{Status: ConvergenceIdle},
	}
}

// Reset replaces the aggregate with a fresh run in the starting state. It is
// the only way to leave a terminal status.
func (r *Reducer) Reset(runID, goal string, at time.Time) {
	r.run = newAgentRun(runID, goal)
	r.run.Status = StatusStarting
	r.run.StartedAt = at
	r.logger = r.base.WithRun(runID)
}

// Status returns the current run status.
func (r *Reducer) Status() Status {
	return r.run.Status
}

// RunID returns the id of the current run.
func (r *Reducer) RunID() string {
	return r.run.RunID
}

// Apply folds one event into the run and reports whether the run took it.
// Events dropped as contract violations, unknown types, or terminal-run
// contention report false.
func (r *Reducer) Apply(e event.Event) bool {
	if e == nil {
		return false
	}

	if err := event.Validate(e); err != nil {
		var cv *errors.ContractViolationError
		if errors.As(err, &cv) {
			r.logger.Warn("dropping event without entity id",
				"event_type", cv.EventType, "field", cv.Field)
		}
		return false
	}

	if _, ok := e.(event.Unrecognized); ok {
		r.logger.Debug("ignoring unknown event type", "event_type", e.EventType())
		return false
	}

	if r.run.Status.IsTerminal() {
		r.logger.Debug("ignoring event for terminal run",
			"event_type", e.EventType(), "status", string(r.run.Status))
		return false
	}

	at := e.Timestamp()
	if at.IsZero() {
		at = r.now()
	}
	if r.run.Status == StatusIdle {
		r.run.Status = StatusStarting
	}
	if r.run.StartedAt.IsZero() {
		r.run.StartedAt = at
	}

	switch ev := e.(type) {
	case event.PlanStart:
		if r.run.Goal == "" {
			r.run.Goal = ev.Goal
		}
		r.advance(StatusPlanning)

	case event.Complete:
		r.complete(ev, at)
	case event.Error:
		r.fail(ev.Message, ev.Phase, at)
	case event.RunStopped:
		reason := ev.Reason
		if reason == "" {
			reason = StoppedByUser
		}
		r.run.Stopped = true
		r.fail(reason, "", at)

	case event.TaskStart:
		r.taskStart(ev, at)
	case event.TaskProgress:
		r.taskProgress(ev, at)
	case event.TaskComplete:
		r.taskComplete(ev, at)
	case event.TaskFailed:
		r.taskFailed(ev, at)

	case event.CandidateStart:
		r.candidateStart(ev)
	case event.CandidateGenerated:
		r.candidateGenerated(ev)
	case event.CandidateScored:
		r.candidateScored(ev)
	case event.CandidatesComplete:
		r.noteTotalCandidates(ev.TotalCandidates)
		r.advance(StatusPlanning)
	case event.ScoringComplete:
		r.advance(StatusPlanning)
	case event.Winner:
		r.winner(ev)

	case event.RefineStart:
		r.refineStart(ev)
	case event.RefineAttempt:
		r.refineAttempt(ev)
	case event.RefineComplete:
		r.refineComplete(ev)
	case event.RefineFinal:
		r.refineFinal(ev)

	case event.MemoryLearning:
		r.learn(ev)

	case event.ConvergenceStart:
		r.convergenceStart(ev)
	case event.IterationStart:
		r.iterationStart(ev)
	case event.IterationComplete:
		r.iterationComplete(ev)
	case event.Fixing:
		r.fixing(ev)
	case event.Stable:
		r.convergenceEnd(ev.EventType(), ConvergenceStable, func(c *Convergence) {
			c.DurationMs = ev.DurationMs
		})
	case event.Timeout:
		r.convergenceEnd(ev.EventType(), ConvergenceTimeout, func(c *Convergence) {
			c.DurationMs = ev.DurationMs
		})
	case event.Stuck:
		r.convergenceEnd(ev.EventType(), ConvergenceStuck, func(c *Convergence) {
			c.RepeatedErrors = cloneStrings(ev.RepeatedErrors)
		})
	case event.MaxIterations:
		r.convergenceEnd(ev.EventType(), ConvergenceEscalated, nil)
	case event.BudgetExceeded:
		r.convergenceEnd(ev.EventType(), ConvergenceEscalated, func(c *Convergence) {
			c.TokensUsed = ev.TokensUsed
			c.MaxTokens = ev.MaxTokens
		})

	default:
		r.logger.Debug("ignoring unhandled event type", "event_type", e.EventType())
		return false
	}
	return true
}

// advance moves the run status forward. Moves to an equal or lower rank are
// ignored, as are moves into a terminal status (see complete and fail).
func (r *Reducer) advance(to Status) {
	if to.IsTerminal() || to.rank() <= r.run.Status.rank() {
		return
	}
	r.run.Status = to
}

func (r *Reducer) complete(ev event.Complete, at time.Time) {
	r.run.CompletedCount = ev.TasksCompleted
	r.run.FailedCount = ev.TasksFailed
	r.synthesizeTasks(ev.TasksCompleted, ev.TasksFailed, at)

	r.run.Status = StatusDone
	r.run.EndedAt = at
	r.logger.Info("run complete",
		"tasks_completed", ev.TasksCompleted, "tasks_failed", ev.TasksFailed)
}

func (r *Reducer) fail(message, phase string, at time.Time) {
	if message == "" {
		message = "unknown error"
	}
	r.run.Status = StatusError
	r.run.Error = message
	r.run.ErrPhase = phase
	r.run.EndedAt = at
	r.logger.Info("run ended with error", "error", message, "phase", phase, "stopped", r.run.Stopped)
}

func (r *Reducer) learn(ev event.MemoryLearning) {
	if fact := registry.Normalize(ev.Fact); fact != "" {
		r.run.Learnings = append(r.run.Learnings, fact)
	}
	concept := registry.Normalize(ev.Category)
	if concept == "" {
		return
	}
	if _, seen := r.run.concepts[concept]; seen {
		return
	}
	r.run.concepts[concept] = struct{}{}
	r.run.Concepts = append(r.run.Concepts, concept)
}

// Replay folds events into a fresh run and returns its snapshot.
func Replay(logger *logging.Logger, runID, goal string, events []event.Event, opts ...Option) Snapshot {
	r := New(logger, opts...)
	if runID != "" || goal != "" {
		var at time.Time
		if len(events) > 0 {
			at = events[0].Timestamp()
		}
		r.Reset(runID, goal, at)
	}
	for _, e := range events {
		r.Apply(e)
	}
	return r.Snapshot()
}
