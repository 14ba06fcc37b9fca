package run

import (
	"sort"

	"github.com/Iron-Ham/sightline/internal/event"
)

// convergenceStart opens the loop. A start for a loop that already reached a
// terminal outcome is stale and ignored; a repeated start while running only
// refreshes the configuration.
func (r *Reducer) convergenceStart(ev event.ConvergenceStart) {
	c := &r.run.Convergence
	if c.Status.IsTerminal() {
		r.logger.Debug("ignoring convergence start after terminal outcome",
			"convergence_status", string(c.Status))
		return
	}

	if c.Status != ConvergenceRunning {
		*c = Convergence{Status: ConvergenceRunning}
	}
	if ev.MaxIterations > 0 {
		c.MaxIterations = ev.MaxIterations
	}
	if len(ev.Gates) > 0 {
		c.EnabledGates = cloneStrings(ev.Gates)
	}
	if len(ev.Files) > 0 {
		c.Files = cloneStrings(ev.Files)
	}
	r.advance(StatusRunning)
}

func (r *Reducer) iterationStart(ev event.IterationStart) {
	if !r.convergenceOpen(ev.EventType()) {
		return
	}
	r.noteIteration(ev.Iteration)
	r.advance(StatusRunning)
}

// iterationComplete appends the iteration record. Records are kept sorted by
// iteration number and a duplicate delivery never overwrites the first.
func (r *Reducer) iterationComplete(ev event.IterationComplete) {
	if !r.convergenceOpen(ev.EventType()) {
		return
	}
	r.noteIteration(ev.Iteration)

	c := &r.run.Convergence
	i := sort.Search(len(c.Iterations), func(i int) bool {
		return c.Iterations[i].Iteration >= ev.Iteration
	})
	if i < len(c.Iterations) && c.Iterations[i].Iteration == ev.Iteration {
		r.logger.Debug("ignoring duplicate iteration", "iteration", ev.Iteration)
		return
	}

	rec := Iteration{
		Iteration:   ev.Iteration,
		AllPassed:   ev.AllPassed,
		TotalErrors: ev.TotalErrors,
		GateResults: append([]event.GateResult(nil), ev.GateResults...),
	}
	c.Iterations = append(c.Iterations, Iteration{})
	copy(c.Iterations[i+1:], c.Iterations[i:])
	c.Iterations[i] = rec
	r.advance(StatusRunning)
}

func (r *Reducer) fixing(ev event.Fixing) {
	if !r.convergenceOpen(ev.EventType()) {
		return
	}
	r.noteIteration(ev.Iteration)
	r.run.Convergence.FixingErrors = ev.ErrorCount
	r.advance(StatusRunning)
}

// convergenceEnd moves the loop into a terminal outcome. Outcomes are
// mutually exclusive: the first one wins.
func (r *Reducer) convergenceEnd(eventType string, status ConvergenceStatus, fn func(*Convergence)) {
	c := &r.run.Convergence
	if c.Status.IsTerminal() {
		r.logger.Debug("ignoring convergence outcome after terminal outcome",
			"event_type", eventType, "convergence_status", string(c.Status))
		return
	}

	c.Status = status
	if fn != nil {
		fn(c)
	}
	r.logger.Info("convergence finished",
		"convergence_status", string(status), "iterations", len(c.Iterations))
	r.advance(StatusRunning)
}

// convergenceOpen reports whether an iteration event may mutate the loop. An
// idle loop is opened implicitly, since the start event may have been lost.
func (r *Reducer) convergenceOpen(eventType string) bool {
	c := &r.run.Convergence
	switch {
	case c.Status.IsTerminal():
		r.logger.Debug("ignoring iteration event after terminal outcome",
			"event_type", eventType, "convergence_status", string(c.Status))
		return false
	case c.Status == ConvergenceIdle:
		c.Status = ConvergenceRunning
	}
	return true
}

func (r *Reducer) noteIteration(n int) {
	if n > r.run.Convergence.CurrentIteration {
		r.run.Convergence.CurrentIteration = n
	}
}
