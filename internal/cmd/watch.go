package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/sightline/internal/client"
	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/graphsource"
	"github.com/Iron-Ham/sightline/internal/incremental/cache"
	"github.com/Iron-Ham/sightline/internal/runstore"
	"github.com/Iron-Ham/sightline/internal/stream"
	"github.com/Iron-Ham/sightline/internal/tui"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <events.ndjson>",
		Short: "Follow a live event stream",
		Long: `Watch follows a growing newline-delimited JSON event stream and renders
the run as it changes. The project's graph snapshot is watched too, so
writes to it refresh the dependency graph.

The interactive view is used when stdout is a terminal; otherwise each event
is printed as a line. Finished runs are stored in the run history and task
outcomes are recorded in the execution cache.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().Bool("no-tui", false, "Print events as lines instead of the interactive view")
	cmd.Flags().Bool("dag", false, "Open the interactive view with the graph panel visible")
	cmd.Flags().Bool("exit-on-end", false, "Exit once the run completes, fails, or is stopped")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	showDAG, _ := cmd.Flags().GetBool("dag")
	exitOnEnd, _ := cmd.Flags().GetBool("exit-on-end")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	logger := e.logger.WithComponent("watch")

	store, err := runstore.New(e.runsDir(), e.logger)
	if err != nil {
		return err
	}
	execs, err := cache.Open(ctx, cache.Config{Path: e.cachePath(), Logger: e.logger})
	if err != nil {
		return err
	}
	defer func() { _ = execs.Close() }()

	bus := event.NewBus(e.logger)
	source := graphsource.NewFileSource(e.logger)
	c := client.New(client.Config{
		Logger:         e.logger,
		Bus:            bus,
		Source:         source,
		Store:          store,
		Recorder:       execs,
		Project:        e.project,
		DebounceWindow: e.cfg.Refresh.Debounce(),
		Layout:         e.cfg.DAG.Layout.Options(),
	})
	defer c.Close()

	if err := c.RefreshGraph(ctx); err != nil && !errors.Is(err, errors.ErrSnapshotNotFound) {
		logger.Warn("initial graph load failed", "project", e.project, "error", err)
	}

	out := cmd.OutOrStdout()
	useTUI := !noTUI && e.cfg.TUI.Enabled && isTerminal(out)
	follower := stream.NewFollower(args[0], c.Apply, e.logger)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Debug("termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Event stream.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				if err := follower.Run(ctx); err != nil {
					return fmt.Errorf("follow %s: %w", args[0], err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Graph snapshot changes.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				if err := source.Watch(ctx, e.project, c.RequestRefresh); err != nil {
					return fmt.Errorf("watch graph: %w", err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Run end.
	if exitOnEnd {
		ended := make(chan struct{})
		var once sync.Once
		id := bus.SubscribeAll(func(event.Event) {
			if c.RunSnapshot().Status.IsTerminal() {
				once.Do(func() { close(ended) })
			}
		})
		defer bus.Unsubscribe(id)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				select {
				case <-ended:
					logger.Info("run ended, stopping watch")
				case <-ctx.Done():
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// View.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if useTUI {
			app := tui.New(c, bus, tui.Options{
				Title:               args[0],
				RefreshInterval:     e.cfg.TUI.RefreshInterval(),
				BottleneckThreshold: e.cfg.DAG.BottleneckThreshold,
				ShowDAG:             showDAG,
			})
			g.Add(
				func() error {
					return app.Run(ctx)
				},
				func(_ error) {
					cancel()
				},
			)
		} else {
			p := &eventPrinter{w: out}
			id := bus.SubscribeAll(p.print)
			defer bus.Unsubscribe(id)

			g.Add(
				func() error {
					<-ctx.Done()
					return nil
				},
				func(_ error) {
					cancel()
				},
			)
		}
	}

	err = g.Run()
	c.Wait()

	if !useTUI {
		fmt.Fprintln(out)
		printRun(out, c.RunSnapshot(), time.Now())
	}
	return err
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// eventPrinter writes one line per event. Events can be published from more
// than one goroutine.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) print(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatEvent(e, time.Now()))
}

// formatEvent renders an event as "15:04:05 type detail".
func formatEvent(e event.Event, now time.Time) string {
	at := e.Timestamp()
	if at.IsZero() {
		at = now
	}
	line := fmt.Sprintf("%s %-22s", at.Format("15:04:05"), e.EventType())
	if detail := eventDetail(e); detail != "" {
		line += " " + detail
	}
	return line
}

func eventDetail(e event.Event) string {
	switch ev := e.(type) {
	case event.PlanStart:
		return ev.Goal
	case event.TaskProgress:
		return fmt.Sprintf("%s %.0f%%", ev.TaskID, ev.Progress)
	case event.TaskFailed:
		return fmt.Sprintf("%s: %s", ev.TaskID, ev.Error)
	case event.Complete:
		return fmt.Sprintf("%d completed, %d failed", ev.TasksCompleted, ev.TasksFailed)
	case event.Error:
		return ev.Message
	case event.RunStopped:
		return ev.Reason
	case event.Identified:
		return ev.EntityID()
	}
	return ""
}
