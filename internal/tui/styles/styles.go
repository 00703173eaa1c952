// Package styles holds the dashboard's color palettes and lipgloss styles.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/flashdesk/internal/session"
)

// Styles is the set of lipgloss styles derived from one palette.
type Styles struct {
	Palette *ColorPalette

	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Box       lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Address   lipgloss.Style
	Countdown lipgloss.Style
	// CountdownLow is used in the final minute.
	CountdownLow lipgloss.Style
	Error        lipgloss.Style
	HelpBar      lipgloss.Style
	HelpKey      lipgloss.Style

	StatusIdle    lipgloss.Style
	StatusBusy    lipgloss.Style
	StatusReady   lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusStopped lipgloss.Style
}

// New builds Styles from p. A nil palette uses DefaultPalette.
func New(p *ColorPalette) *Styles {
	if p == nil {
		p = DefaultPalette()
	}
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	return &Styles{
		Palette: p,

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Primary).
			MarginBottom(1),

		Subtitle: lipgloss.NewStyle().
			Foreground(p.Muted).
			Italic(true),

		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Border).
			Padding(1, 2),

		Label: lipgloss.NewStyle().Foreground(p.Muted).Width(10),
		Value: lipgloss.NewStyle().Foreground(p.Text),

		Address: lipgloss.NewStyle().
			Foreground(p.Primary).
			Underline(true),

		Countdown: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Primary),

		CountdownLow: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Warning),

		Error: lipgloss.NewStyle().Foreground(p.Error),

		HelpBar: lipgloss.NewStyle().
			Foreground(p.Muted).
			MarginTop(1),

		HelpKey: lipgloss.NewStyle().
			Bold(true).
			Foreground(p.Secondary),

		StatusIdle:    badge.Foreground(p.Muted),
		StatusBusy:    badge.Foreground(p.Warning),
		StatusReady:   badge.Foreground(p.Secondary),
		StatusFailed:  badge.Foreground(p.Error),
		StatusStopped: badge.Foreground(p.Muted),
	}
}

// ForState returns the badge style of a session state.
func (s *Styles) ForState(st session.State) lipgloss.Style {
	switch st {
	case session.StateProvisioning, session.StateAwaitingReady, session.StateTerminating:
		return s.StatusBusy
	case session.StateReady:
		return s.StatusReady
	case session.StateFailed:
		return s.StatusFailed
	case session.StateTerminated:
		return s.StatusStopped
	default:
		return s.StatusIdle
	}
}

// StateIcon returns a one-character indicator for a state. Busy states
// return "" because the dashboard shows a spinner instead.
func StateIcon(st session.State) string {
	switch st {
	case session.StateReady:
		return "●"
	case session.StateFailed:
		return "✗"
	case session.StateTerminated:
		return "■"
	case session.StateIdle:
		return "○"
	default:
		return ""
	}
}
