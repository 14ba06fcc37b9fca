package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/sightline/internal/client"
	"github.com/Iron-Ham/sightline/internal/dag"
	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/run"
)

// DefaultRefreshInterval is the redraw tick when none is configured.
const DefaultRefreshInterval = 250 * time.Millisecond

// Source is the read side of the client the view renders from.
type Source interface {
	RunSnapshot() run.Snapshot
	GraphSnapshot() dag.Snapshot
	GraphVersion() uint64
	GraphAnalysis(threshold int) client.Analysis
}

// Options configures the view.
type Options struct {
	// Title names what is being watched, usually the stream path.
	Title               string
	RefreshInterval     time.Duration
	BottleneckThreshold int
	// ShowDAG opens with the graph panel visible.
	ShowDAG bool
}

// Model holds the TUI application state
type Model struct {
	src  Source
	opts Options

	keys    keyMap
	help    help.Model
	spinner spinner.Model

	run      run.Snapshot
	graph    dag.Snapshot
	analysis client.Analysis
	graphVer uint64
	hasGraph bool

	lastEvent   string
	eventsSeen  int
	showDAG     bool
	width       int
	height      int
	quitting    bool
	lastRefresh time.Time
}

// NewModel creates a view over src.
func NewModel(src Source, opts Options) Model {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		src:     src,
		opts:    opts,
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: sp,
		showDAG: opts.ShowDAG,
	}
	m.refresh(time.Now())
	return m
}

// Messages

type tickMsg time.Time

// EventMsg carries one applied event from the bus into the program.
type EventMsg struct {
	Event event.Event
}

// Commands

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the spinner and the redraw tick.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		m.refresh(time.Time(msg))
		return m, m.tick()

	case EventMsg:
		if msg.Event != nil {
			m.lastEvent = msg.Event.EventType()
			m.eventsSeen++
		}
		m.refresh(time.Now())
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.ToggleDAG):
		m.showDAG = !m.showDAG
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// refresh pulls fresh projections. The graph is re-read only when its
// version moved.
func (m *Model) refresh(now time.Time) {
	if m.src == nil {
		return
	}
	m.run = m.src.RunSnapshot()
	if v := m.src.GraphVersion(); v != m.graphVer || !m.hasGraph {
		m.graph = m.src.GraphSnapshot()
		m.analysis = m.src.GraphAnalysis(m.opts.BottleneckThreshold)
		m.graphVer = v
		m.hasGraph = true
	}
	m.lastRefresh = now
}

// Forward subscribes send to every event published on bus and returns a
// function that removes the subscription.
func Forward(bus *event.Bus, send func(tea.Msg)) func() {
	id := bus.SubscribeAll(func(e event.Event) {
		send(EventMsg{Event: e})
	})
	return func() { bus.Unsubscribe(id) }
}
