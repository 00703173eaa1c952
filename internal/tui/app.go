package tui

import (
	"context"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/event"
	tea "github.com/charmbracelet/bubbletea"
)

// App wraps the Bubbletea program
type App struct {
	model Model
	feed  *Feed
}

// NewApp creates the dashboard for ctrl, fed by session changes on bus.
func NewApp(ctrl Controller, bus *event.Bus, opts ...Option) *App {
	feed := NewFeed(bus)
	return &App{
		model: NewModel(ctrl, feed, opts...),
		feed:  feed,
	}
}

// Run starts the dashboard and blocks until the user quits or ctx is
// cancelled. Quitting the dashboard does not stop the orchestrator.
func (a *App) Run(ctx context.Context) error {
	defer a.feed.Close()

	p := tea.NewProgram(
		a.model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
