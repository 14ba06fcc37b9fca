// Package client owns the state of one agent run and its dependency graph
// and is the only place that state changes.
//
// Apply is the single mutator: it folds an event into the run, mirrors task
// outcomes onto the graph, and publishes the event on the bus. Everything
// that touches the outside world (graph refetches, backend commands, run
// persistence, execution-cache writes) happens asynchronously after Apply
// returns, so the reducer path never waits on I/O. Results of that work come
// back as ordinary events or as a whole-graph replacement.
package client

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/sightline/internal/dag"
	"github.com/Iron-Ham/sightline/internal/debounce"
	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/incremental"
	"github.com/Iron-Ham/sightline/internal/logging"
	"github.com/Iron-Ham/sightline/internal/run"
	"github.com/Iron-Ham/sightline/internal/runstore"
)

// GraphSource serves the project's graph snapshot.
type GraphSource interface {
	Fetch(ctx context.Context, project string) (dag.Snapshot, error)
}

// RunStore persists finished runs.
type RunStore interface {
	Save(ctx context.Context, rec runstore.Record) error
}

// ExecutionRecorder records task outcomes for incremental planning.
type ExecutionRecorder interface {
	Set(ctx context.Context, exec incremental.Execution) error
}

// Config configures a Client. Every field is optional.
type Config struct {
	Logger    *logging.Logger
	Bus       *event.Bus
	Source    GraphSource
	Commander Commander
	Store     RunStore
	Recorder  ExecutionRecorder

	// Project is the path graph requests are keyed by.
	Project string

	// DebounceWindow coalesces graph refetches. Zero means
	// debounce.DefaultWindow.
	DebounceWindow time.Duration

	Layout dag.LayoutOptions

	Now   func() time.Time
	NewID func() string
}

// Client is the owned aggregate handle. It is safe for concurrent use;
// mutations are serialized.
type Client struct {
	mu       sync.RWMutex
	reducer  *run.Reducer
	graph    *dag.Graph
	events   []event.Event
	graphVer uint64

	bus       *event.Bus
	source    GraphSource
	commander Commander
	store     RunStore
	recorder  ExecutionRecorder
	project   string
	layout    dag.LayoutOptions

	logger  *logging.Logger
	now     func() time.Time
	newID   func() string
	refresh *debounce.Debouncer

	ctx     context.Context
	cancel  context.CancelFunc
	effects conc.WaitGroup
}

// NewRunID returns a fresh, time-sortable run id.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// New creates a client with an idle run and an empty graph.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus(cfg.Logger)
	}
	if cfg.Commander == nil {
		cfg.Commander = NopCommander{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = NewRunID
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		reducer:   run.New(cfg.Logger, run.WithClock(cfg.Now)),
		graph:     dag.New(),
		bus:       cfg.Bus,
		source:    cfg.Source,
		commander: cfg.Commander,
		store:     cfg.Store,
		recorder:  cfg.Recorder,
		project:   cfg.Project,
		layout:    cfg.Layout,
		logger:    cfg.Logger.WithComponent("client"),
		now:       cfg.Now,
		newID:     cfg.NewID,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.refresh = debounce.New(cfg.DebounceWindow, c.debouncedRefresh)
	return c
}

// Bus returns the bus every applied event is published on.
func (c *Client) Bus() *event.Bus {
	return c.bus
}

// Close flushes a pending graph refresh, waits for in-flight side effects,
// and releases the client. The client must not be used afterwards.
func (c *Client) Close() {
	c.refresh.Stop()
	c.effects.Wait()
	c.cancel()
}

// Wait blocks until in-flight side effects finish.
func (c *Client) Wait() {
	c.effects.Wait()
}

// -----------------------------------------------------------------------------
// Run lifecycle
// -----------------------------------------------------------------------------

// Attach begins tracking a run that is already executing elsewhere, such as
// a recorded stream. An empty runID gets a fresh id. It fails with
// ErrRunActive while another run is in flight.
func (c *Client) Attach(runID, goal string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked(runID, goal, c.now())
}

func (c *Client) beginLocked(runID, goal string, at time.Time) (string, error) {
	if c.reducer.Status().IsActive() {
		return "", errors.ErrRunActive
	}
	if runID == "" {
		runID = c.newID()
	}
	c.reducer.Reset(runID, goal, at)
	c.events = nil
	c.logger.Info("run started", logging.KeyRunID, runID, "goal", goal)
	return runID, nil
}

// Start begins a new run and asks the backend to execute it. A second Start
// while a run is starting, planning, or running is rejected with
// ErrRunActive rather than launching two runs. The backend request is fired
// without waiting; if it fails, the run ends through an error event.
//
// ctx gates only the call itself: a done ctx fails fast with its error. The
// backend request runs on the client's lifetime context, so it survives a
// caller that returns right away.
func (c *Client) Start(ctx context.Context, goal string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	runID, err := c.beginLocked("", goal, c.now())
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	req := StartRequest{RunID: runID, Project: c.project, Goal: goal}
	c.fire("start run", func() error {
		return c.commander.StartRun(c.ctx, req)
	}, func(err error) {
		c.Apply(event.Error{Stamp: event.Stamp{At: c.now()}, Message: err.Error(), Phase: "start"})
	})
	return runID, nil
}

// Stop cancels the active run. The run becomes terminal immediately through
// a run_stopped event; the backend is told to stop afterwards. ctx is
// treated as in Start.
func (c *Client) Stop(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	active := c.reducer.Status().IsActive()
	runID := c.reducer.RunID()
	c.mu.RUnlock()
	if !active {
		return errors.ErrRunNotActive
	}

	c.Apply(event.RunStopped{Stamp: event.Stamp{At: c.now()}, Reason: reason})
	c.fire("stop run", func() error {
		return c.commander.StopRun(c.ctx, runID)
	}, nil)
	return nil
}

// RequestFix asks the backend to start a fix pass on the current run. ctx is
// treated as in Start.
func (c *Client) RequestFix(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	runID := c.reducer.RunID()
	c.mu.RUnlock()
	if runID == "" {
		return errors.ErrRunNotActive
	}
	c.fire("request fix", func() error {
		return c.commander.RequestFix(c.ctx, c.project, runID)
	}, nil)
	return nil
}

// -----------------------------------------------------------------------------
// The mutator
// -----------------------------------------------------------------------------

// Apply folds e into the run. Events that arrive with no run attached adopt
// a fresh run id. Apply never blocks on I/O.
func (c *Client) Apply(e event.Event) {
	if e == nil {
		return
	}

	c.mu.Lock()
	if c.reducer.RunID() == "" && e.EventType() != event.TypeRunStopped {
		_, _ = c.beginLocked("", "", c.eventTime(e))
	}

	before := c.reducer.Status()
	applied := c.reducer.Apply(e)
	after := c.reducer.Status()
	c.events = append(c.events, e)

	// Events the run dropped must not reach the graph or the cache either.
	var exec incremental.Execution
	var record bool
	if applied {
		exec, record = c.mirrorLocked(e)
	}

	var persist *runstore.Record
	if !before.IsTerminal() && after.IsTerminal() {
		persist = c.recordLocked()
	}
	c.mu.Unlock()

	c.bus.Publish(e)

	if record && c.recorder != nil {
		c.fire("record execution", func() error {
			return c.recorder.Set(c.ctx, exec)
		}, nil)
	}
	if persist != nil && c.store != nil {
		rec := *persist
		c.fire("persist run", func() error {
			return c.store.Save(c.ctx, rec)
		}, nil)
	}
	if refreshWorthy(e) {
		c.refresh.Trigger()
	}
}

// mirrorLocked applies task outcomes to the graph node with the same id and
// returns the execution record to cache, if any.
func (c *Client) mirrorLocked(e event.Event) (exec incremental.Execution, record bool) {
	var err error
	switch ev := e.(type) {
	case event.TaskStart:
		err = c.graph.StartNode(ev.TaskID)
	case event.TaskProgress:
		err = c.graph.SetProgress(ev.TaskID, int(ev.Progress))
	case event.TaskComplete:
		if _, err = c.graph.CompleteNode(ev.TaskID); err == nil {
			exec, record = c.executionLocked(ev.TaskID, incremental.ExecutionCompleted, e)
			exec.DurationMs = ev.DurationMs
		}
	case event.TaskFailed:
		if err = c.graph.FailNode(ev.TaskID); err == nil {
			exec, record = c.executionLocked(ev.TaskID, incremental.ExecutionFailed, e)
			exec.Error = ev.Error
		}
	default:
		return exec, false
	}

	switch {
	case err == nil:
		c.graphVer++
	case errors.Is(err, errors.ErrNodeNotFound):
		c.logger.Debug("task has no graph node", "event_type", e.EventType(), "error", err)
	default:
		c.logger.Debug("graph rejected task transition", "event_type", e.EventType(), "error", err)
	}
	return exec, record
}

// executionLocked builds the cache record for a finished task. Nodes
// without a content hash are not cached.
func (c *Client) executionLocked(id string, status incremental.ExecutionStatus, e event.Event) (incremental.Execution, bool) {
	n, ok := c.graph.Node(id)
	if !ok || n.ContentHash == "" {
		return incremental.Execution{}, false
	}
	return incremental.Execution{
		ArtifactID: n.ID,
		InputHash:  n.ContentHash,
		Status:     status,
		ExecutedAt: c.eventTime(e),
	}, true
}

func (c *Client) eventTime(e event.Event) time.Time {
	if at := e.Timestamp(); !at.IsZero() {
		return at
	}
	return c.now()
}

func (c *Client) recordLocked() *runstore.Record {
	rec, err := runstore.NewRecord(c.reducer.Snapshot(), c.events)
	if err != nil {
		c.logger.Warn("could not encode run for persistence", logging.KeyRunID, c.reducer.RunID(), "error", err)
		return nil
	}
	return &rec
}

// refreshWorthy reports whether e can change the backend's graph snapshot.
func refreshWorthy(e event.Event) bool {
	switch e.(type) {
	case event.TaskStart, event.TaskComplete, event.TaskFailed,
		event.Winner, event.Complete, event.Error:
		return true
	default:
		return false
	}
}

// fire runs fn in the background. A failure is logged and handed to
// onError, which may feed it back in as an event.
func (c *Client) fire(what string, fn func() error, onError func(error)) {
	c.effects.Go(func() {
		if err := fn(); err != nil {
			c.logger.Warn(what+" failed", "error", err)
			if onError != nil {
				onError(err)
			}
		}
	})
}

// -----------------------------------------------------------------------------
// Graph
// -----------------------------------------------------------------------------

// RefreshGraph fetches the project's snapshot and replaces the graph.
func (c *Client) RefreshGraph(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	snap, err := c.source.Fetch(ctx, c.project)
	if err != nil {
		return err
	}
	return c.ReplaceGraph(snap)
}

// RequestRefresh schedules a debounced graph refetch, for callers outside
// the event path such as a file watcher.
func (c *Client) RequestRefresh() {
	c.refresh.Trigger()
}

func (c *Client) debouncedRefresh() {
	err := c.RefreshGraph(c.ctx)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrSnapshotNotFound):
		c.logger.Debug("no graph snapshot to refresh from", "project", c.project)
	default:
		c.logger.Warn("graph refresh failed", "project", c.project, "error", err)
	}
}

// ReplaceGraph swaps in a full snapshot and lays it out. A snapshot with a
// cycle is rejected and the current graph is kept.
func (c *Client) ReplaceGraph(s dag.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.graph.Replace(s); err != nil {
		c.logger.Warn("rejected graph snapshot", "error", err)
		return err
	}
	c.graph.ApplyLayout(c.layout)
	c.graphVer++
	c.logger.Debug("graph replaced", "nodes", c.graph.Len())
	return nil
}

// -----------------------------------------------------------------------------
// Read-only projections
// -----------------------------------------------------------------------------

// RunSnapshot returns a deep copy of the run.
func (c *Client) RunSnapshot() run.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reducer.Snapshot()
}

// Events returns a copy of the events applied to the current run.
func (c *Client) Events() []event.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]event.Event, len(c.events))
	copy(out, c.events)
	return out
}

// GraphSnapshot returns a copy of the graph.
func (c *Client) GraphSnapshot() dag.Snapshot {
	return c.graph.Snapshot()
}

// GraphVersion increases every time the graph changes.
func (c *Client) GraphVersion() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graphVer
}

// Analysis is the derived view of the graph.
type Analysis struct {
	CriticalPath []string               `json:"criticalPath"`
	Bottlenecks  []dag.Bottleneck       `json:"bottlenecks"`
	Waves        [][]string             `json:"waves"`
	Progress     int                    `json:"progress"`
	Counts       map[dag.NodeStatus]int `json:"counts"`
}

// GraphAnalysis derives the critical path, bottlenecks, waves, and progress
// of the current graph. threshold < 1 uses dag.DefaultBottleneckThreshold.
func (c *Client) GraphAnalysis(threshold int) Analysis {
	return Analysis{
		CriticalPath: c.graph.CriticalPath(),
		Bottlenecks:  c.graph.Bottlenecks(threshold),
		Waves:        c.graph.Waves(),
		Progress:     c.graph.TotalProgress(),
		Counts:       c.graph.Counts(),
	}
}
