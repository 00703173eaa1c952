package tui

import (
	"github.com/Iron-Ham/flashdesk/internal/session"
	"github.com/charmbracelet/bubbles/key"
)

// keyMap holds the dashboard bindings. Bindings that do not apply to the
// current session state are disabled and drop out of the help bar.
type keyMap struct {
	Launch      key.Binding
	Terminate   key.Binding
	Open        key.Binding
	Acknowledge key.Binding
	Quit        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Launch: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "new session"),
		),
		Terminate: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "terminate"),
		),
		Open: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "open"),
		),
		Acknowledge: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "acknowledge"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// update enables the bindings that make sense for snap.
func (k *keyMap) update(snap session.Snapshot) {
	k.Launch.SetEnabled(snap.State.CanLaunch())
	k.Terminate.SetEnabled(canTerminate(snap))
	k.Open.SetEnabled(snap.State == session.StateReady && snap.Address != "")
	k.Acknowledge.SetEnabled(snap.State == session.StateFailed)
}

// bindings lists the bindings in help bar order.
func (k keyMap) bindings() []key.Binding {
	return []key.Binding{k.Launch, k.Open, k.Terminate, k.Acknowledge, k.Quit}
}

func canTerminate(snap session.Snapshot) bool {
	switch snap.State {
	case session.StateAwaitingReady, session.StateReady:
		return true
	case session.StateFailed:
		return snap.ResourceID != ""
	default:
		return false
	}
}

// formKeyMap holds the launch form bindings.
type formKeyMap struct {
	Next   key.Binding
	Prev   key.Binding
	Submit key.Binding
	Cancel key.Binding
}

func defaultFormKeyMap() formKeyMap {
	return formKeyMap{
		Next: key.NewBinding(
			key.WithKeys("tab", "down"),
			key.WithHelp("tab", "next field"),
		),
		Prev: key.NewBinding(
			key.WithKeys("shift+tab", "up"),
			key.WithHelp("shift+tab", "previous"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "launch"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
	}
}

func (k formKeyMap) bindings() []key.Binding {
	return []key.Binding{k.Next, k.Submit, k.Cancel}
}
