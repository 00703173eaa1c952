// Package tui renders the session dashboard.
//
// The dashboard is a passive view over session snapshots: it never changes
// session state itself. User actions are forwarded to a Controller from
// tea.Cmds so the UI stays responsive while the orchestrator works.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/orchestrator"
	"github.com/Iron-Ham/flashdesk/internal/session"
	"github.com/Iron-Ham/flashdesk/internal/tui/styles"
	"github.com/Iron-Ham/flashdesk/internal/util"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// lowCountdown is the remaining time below which the countdown is highlighted.
const lowCountdown = 60

// Controller is the part of the orchestrator the dashboard drives.
type Controller interface {
	Snapshot() session.Snapshot
	Launch(req orchestrator.LaunchRequest) error
	Terminate() error
	Acknowledge() error
	AddressURL(address string) string
}

// Messages

type snapshotMsg session.Snapshot

type feedClosedMsg struct{}

type actionResultMsg struct {
	action string
	err    error
}

// Model is the Bubbletea model for the dashboard.
type Model struct {
	ctrl   Controller
	opener orchestrator.Opener
	styles *styles.Styles
	keys   keyMap

	snapshots <-chan session.Snapshot
	done      <-chan struct{}

	snap    session.Snapshot
	spinner spinner.Model
	form    *launchForm
	notice  string
	width   int

	defaultClass string
	defaultImage string
}

// Option configures a Model.
type Option func(*Model)

// WithStyles sets the dashboard styles.
func WithStyles(s *styles.Styles) Option {
	return func(m *Model) { m.styles = s }
}

// WithOpener enables the "open" key.
func WithOpener(o orchestrator.Opener) Option {
	return func(m *Model) { m.opener = o }
}

// WithLaunchDefaults prefills the launch form.
func WithLaunchDefaults(class, image string) Option {
	return func(m *Model) {
		m.defaultClass = class
		m.defaultImage = image
	}
}

// NewModel creates a dashboard model reading snapshots from feed.
func NewModel(ctrl Controller, feed *Feed, opts ...Option) Model {
	if ctrl == nil {
		panic("tui: controller must not be nil")
	}
	if feed == nil {
		panic("tui: feed must not be nil")
	}
	m := Model{
		ctrl:      ctrl,
		keys:      defaultKeyMap(),
		snapshots: feed.C(),
		done:      feed.Done(),
		snap:      ctrl.Snapshot(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.styles == nil {
		m.styles = styles.New(nil)
	}
	m.spinner = spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(m.styles.StatusBusy),
	)
	m.keys.update(m.snap)
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForSnapshot())
}

func (m Model) waitForSnapshot() tea.Cmd {
	snapshots, done := m.snapshots, m.done
	return func() tea.Msg {
		select {
		case snap := <-snapshots:
			return snapshotMsg(snap)
		case <-done:
			return feedClosedMsg{}
		}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.applySnapshot(session.Snapshot(msg))
		return m, m.waitForSnapshot()

	case feedClosedMsg:
		return m, nil

	case actionResultMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s: %s", msg.action, errors.UserMessage(msg.err, "request failed"))
		} else {
			m.notice = ""
		}
		return m, nil

	case tea.KeyMsg:
		if m.form != nil {
			return m.handleFormKeypress(msg)
		}
		return m.handleKeypress(msg)
	}
	return m, nil
}

func (m *Model) applySnapshot(snap session.Snapshot) {
	m.snap = snap
	m.keys.update(snap)
	if m.form != nil && !snap.State.CanLaunch() {
		m.form = nil
	}
}

func (m Model) handleKeypress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Launch):
		m.notice = ""
		m.form = newLaunchForm(m.defaultClass, m.defaultImage)
		return m, nil

	case key.Matches(msg, m.keys.Terminate):
		return m, m.action("terminate", m.ctrl.Terminate)

	case key.Matches(msg, m.keys.Acknowledge):
		return m, m.action("acknowledge", m.ctrl.Acknowledge)

	case key.Matches(msg, m.keys.Open):
		if m.opener == nil {
			m.notice = "no browser opener configured"
			return m, nil
		}
		url := m.ctrl.AddressURL(m.snap.Address)
		opener := m.opener
		return m, m.action("open", func() error {
			return opener.Open(context.Background(), url)
		})
	}
	return m, nil
}

func (m Model) handleFormKeypress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.form.inputs[fieldSecret].Reset()
		return m, tea.Quit
	}

	cmd, submitted, cancelled := m.form.update(msg)
	switch {
	case cancelled:
		m.form = nil
		return m, nil
	case submitted:
		req := m.form.request()
		m.defaultClass, m.defaultImage = req.ResourceClass, req.Image
		m.form = nil
		ctrl := m.ctrl
		return m, m.action("launch", func() error { return ctrl.Launch(req) })
	}
	return m, cmd
}

func (m Model) action(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{action: name, err: fn()}
	}
}

// -----------------------------------------------------------------------------
// View
// -----------------------------------------------------------------------------

// View implements tea.Model.
func (m Model) View() string {
	s := m.styles
	var b strings.Builder

	b.WriteString(s.Title.Render("flashdesk"))
	b.WriteString("\n")

	var body string
	if m.form != nil {
		body = m.form.view(s)
	} else {
		body = m.sessionView()
	}
	b.WriteString(s.Box.Render(body))
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(s.Error.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString(m.helpView())
	return b.String()
}

func (m Model) sessionView() string {
	s := m.styles
	snap := m.snap
	var b strings.Builder

	icon := styles.StateIcon(snap.State)
	if snap.State.Busy() {
		icon = m.spinner.View()
	}
	badge := s.ForState(snap.State).Render(strings.TrimSpace(icon + " " + snap.State.String()))
	b.WriteString(badge)
	b.WriteString("\n")

	status := snap.Status
	if status == "" {
		status = "No active session"
	}
	if m.width > 8 {
		status = util.TruncateANSI(status, m.width-8)
	}
	b.WriteString(s.Value.Render(status))
	b.WriteString("\n")

	if snap.Address != "" {
		b.WriteString("\n")
		b.WriteString(row(s, "URL", s.Address.Render(m.ctrl.AddressURL(snap.Address))))
	}
	if remaining, ok := snap.Remaining(); ok {
		style := s.Countdown
		if remaining < lowCountdown {
			style = s.CountdownLow
		}
		b.WriteString(row(s, "Remaining", style.Render(util.FormatRemaining(remaining))))
	}
	if snap.ResourceID != "" {
		b.WriteString(row(s, "Resource", s.Value.Render(snap.ResourceID)))
	}
	if snap.ResourceClass != "" {
		b.WriteString(row(s, "Class", s.Value.Render(snap.ResourceClass)))
	}
	if snap.Image != "" {
		b.WriteString(row(s, "Image", s.Value.Render(snap.Image)))
	}
	if snap.Error != "" && snap.State == session.StateFailed {
		b.WriteString("\n")
		b.WriteString(s.Error.Render(util.FirstLine(snap.Error)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func row(s *styles.Styles, label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, s.Label.Render(label), value) + "\n"
}

func (m Model) helpView() string {
	bindings := m.keys.bindings()
	if m.form != nil {
		bindings = m.form.keys.bindings()
	}
	var parts []string
	for _, kb := range bindings {
		if !kb.Enabled() {
			continue
		}
		h := kb.Help()
		parts = append(parts, m.styles.HelpKey.Render(h.Key)+" "+h.Desc)
	}
	return m.styles.HelpBar.Render(strings.Join(parts, "  "))
}
