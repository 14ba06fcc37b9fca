package run

import (
	"math"
	"strconv"
	"time"

	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/registry"
)

// synthesizedPrefix names placeholder tasks created from completion counts.
const synthesizedPrefix = "synthesized-"

func (r *Reducer) taskStart(ev event.TaskStart, at time.Time) {
	r.run.ObservedTaskStarts++
	r.run.Tasks.Upsert(ev.TaskID, func(t Task, found bool) Task {
		if !found {
			return Task{
				ID:          registry.Normalize(ev.TaskID),
				Description: ev.Description,
				Status:      TaskRunning,
				Attempts:    1,
				StartedAt:   at,
			}
		}

		if t.Status.IsTerminal() {
			// A start after a terminal status is a backend retry: begin a new
			// attempt from zero.
			r.logger.Debug("task restarted", "task_id", t.ID, "previous_status", string(t.Status))
			t.Progress = 0
			t.DurationMs = 0
			t.Error = ""
			t.EndedAt = time.Time{}
			t.StartedAt = at
			t.Attempts++
		} else if t.Status == TaskPending {
			t.StartedAt = at
			t.Attempts++
		}
		t.Status = TaskRunning
		t.Synthesized = false
		if ev.Description != "" {
			t.Description = ev.Description
		}
		return t
	})
	r.advance(StatusRunning)
}

func (r *Reducer) taskProgress(ev event.TaskProgress, at time.Time) {
	progress := clampProgress(ev.Progress)
	r.run.Tasks.Upsert(ev.TaskID, func(t Task, found bool) Task {
		if !found {
			r.logger.Debug("progress for unseen task, creating it", "task_id", ev.TaskID)
			return Task{ID: registry.Normalize(ev.TaskID), Status: TaskRunning, Progress: progress, StartedAt: at}
		}
		if t.Status.IsTerminal() {
			return t
		}
		t.Status = TaskRunning
		if progress > t.Progress {
			t.Progress = progress
		}
		return t
	})
	r.advance(StatusRunning)
}

func (r *Reducer) taskComplete(ev event.TaskComplete, at time.Time) {
	r.run.Tasks.Upsert(ev.TaskID, func(t Task, found bool) Task {
		if !found {
			r.logger.Debug("completion for unseen task, creating it", "task_id", ev.TaskID)
			t = Task{ID: registry.Normalize(ev.TaskID), StartedAt: at}
		}
		t.Status = TaskComplete
		t.Progress = 100
		t.Synthesized = false
		if ev.DurationMs > 0 {
			t.DurationMs = ev.DurationMs
		}
		if t.EndedAt.IsZero() {
			t.EndedAt = at
		}
		return t
	})
	r.advance(StatusRunning)
}

func (r *Reducer) taskFailed(ev event.TaskFailed, at time.Time) {
	r.run.Tasks.Upsert(ev.TaskID, func(t Task, found bool) Task {
		if !found {
			r.logger.Debug("failure for unseen task, creating it", "task_id", ev.TaskID)
			t = Task{ID: registry.Normalize(ev.TaskID), StartedAt: at}
		}
		t.Status = TaskFailed
		t.Synthesized = false
		if ev.Error != "" {
			t.Error = ev.Error
		}
		if t.EndedAt.IsZero() {
			t.EndedAt = at
		}
		return t
	})
	r.advance(StatusRunning)
}

// synthesizeTasks reconciles completion counts with the task list. It only
// runs when no task_start was observed: the counts are then the only record
// of the work, and placeholders fill the gap between them and the terminal
// tasks already known.
func (r *Reducer) synthesizeTasks(completed, failed int, at time.Time) {
	if r.run.ObservedTaskStarts > 0 || completed+failed <= 0 {
		return
	}

	var haveComplete, haveFailed int
	for _, t := range r.run.Tasks.Values() {
		switch t.Status {
		case TaskComplete:
			haveComplete++
		case TaskFailed:
			haveFailed++
		}
	}

	needComplete := max(0, completed-haveComplete)
	needFailed := max(0, failed-haveFailed)
	if needComplete+needFailed == 0 {
		return
	}

	r.logger.Warn("synthesizing tasks from completion counts",
		"tasks_completed", completed, "tasks_failed", failed,
		"synthesized_complete", needComplete, "synthesized_failed", needFailed)

	next := 1
	add := func(status TaskStatus) {
		id := synthesizedPrefix + strconv.Itoa(next)
		for r.run.Tasks.Has(id) {
			next++
			id = synthesizedPrefix + strconv.Itoa(next)
		}
		next++

		progress := 0
		if status == TaskComplete {
			progress = 100
		}
		r.run.Tasks.Upsert(id, func(Task, bool) Task {
			return Task{ID: id, Status: status, Progress: progress, Synthesized: true, EndedAt: at}
		})
	}

	for i := 0; i < needComplete; i++ {
		add(TaskComplete)
	}
	for i := 0; i < needFailed; i++ {
		add(TaskFailed)
	}
}

func clampProgress(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, p))))
}

// TaskMetrics are the derived counters over the task list.
type TaskMetrics struct {
	Total     int `json:"total"`
	Observed  int `json:"observed"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	// Skipped counts planned units that never showed up, as happens in
	// incremental runs that execute fewer artifacts than planned.
	Skipped int `json:"skipped"`
	Percent int `json:"percent"`
}

// ComputeTaskMetrics derives counters from tasks. plannedTotal is the size of
// the selected plan (0 when unknown); done saturates Percent at 100.
func ComputeTaskMetrics(tasks []Task, plannedTotal int, done bool) TaskMetrics {
	m := TaskMetrics{Observed: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case TaskPending:
			m.Pending++
		case TaskRunning:
			m.Running++
		case TaskComplete:
			m.Completed++
		case TaskFailed:
			m.Failed++
		}
	}

	m.Total = m.Observed
	if plannedTotal > 0 {
		m.Total = max(plannedTotal, m.Observed)
		m.Skipped = max(0, plannedTotal-m.Observed)
	}

	switch {
	case done:
		m.Percent = 100
	case m.Total > 0:
		m.Percent = min(100, (m.Completed+m.Failed)*100/m.Total)
	}
	return m
}
