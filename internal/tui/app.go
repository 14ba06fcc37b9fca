package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/sightline/internal/event"
)

// App wraps the Bubbletea program
type App struct {
	program *tea.Program
	model   Model
	bus     *event.Bus
}

// New creates a watch view over src. Events published on bus wake the view
// between ticks; bus may be nil.
func New(src Source, bus *event.Bus, opts Options) *App {
	return &App{
		model: NewModel(src, opts),
		bus:   bus,
	}
}

// Run blocks until the user quits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.program = tea.NewProgram(
		a.model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if a.bus != nil {
		unsubscribe := Forward(a.bus, a.program.Send)
		defer unsubscribe()
	}

	_, err := a.program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
