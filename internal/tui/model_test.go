package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/event"
	"github.com/Iron-Ham/flashdesk/internal/orchestrator"
	"github.com/Iron-Ham/flashdesk/internal/session"
	tea "github.com/charmbracelet/bubbletea"
)

// fakeController records the calls the dashboard makes.
type fakeController struct {
	mu           sync.Mutex
	snap         session.Snapshot
	launches     []orchestrator.LaunchRequest
	secrets      []string
	terminates   int
	acknowledges int
	terminateErr error
}

func (f *fakeController) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Launch(req orchestrator.LaunchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, req)
	f.secrets = append(f.secrets, req.Secret.Reveal())
	req.Secret.Clear()
	return nil
}

func (f *fakeController) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates++
	return f.terminateErr
}

func (f *fakeController) Acknowledge() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acknowledges++
	return nil
}

func (f *fakeController) AddressURL(address string) string {
	return "https://" + address + ":6901"
}

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *fakeOpener) Open(_ context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

func newTestModel(t *testing.T, ctrl *fakeController, opts ...Option) (Model, *event.Bus) {
	t.Helper()
	bus := event.NewBus(nil)
	feed := NewFeed(bus)
	t.Cleanup(feed.Close)
	return NewModel(ctrl, feed, opts...), bus
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update() returned %T, want Model", next)
	}
	return nm, cmd
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m, _ = update(t, m, cmd())
	return m
}

func readySnapshot(remaining int) session.Snapshot {
	return session.Snapshot{
		State:            session.StateReady,
		Status:           session.StatusReady,
		Address:          "10.0.0.7",
		RemainingSeconds: &remaining,
		ResourceID:       "i-42",
		ResourceClass:    "t2.medium",
		Image:            "chrome",
	}
}

func TestNewModel_PanicsOnNil(t *testing.T) {
	bus := event.NewBus(nil)
	feed := NewFeed(bus)
	defer feed.Close()

	tests := []struct {
		name string
		fn   func()
	}{
		{"nil controller", func() { NewModel(nil, feed) }},
		{"nil feed", func() { NewModel(&fakeController{}, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestModel_IdleView(t *testing.T) {
	m, _ := newTestModel(t, &fakeController{})

	view := m.View()
	if !strings.Contains(view, "No active session") {
		t.Errorf("idle view should say there is no session:\n%s", view)
	}
	if !strings.Contains(view, "new session") {
		t.Errorf("idle help bar should offer a new session:\n%s", view)
	}
	if strings.Contains(view, "terminate") {
		t.Errorf("idle help bar should not offer terminate:\n%s", view)
	}
}

func TestModel_ReadyView(t *testing.T) {
	m, _ := newTestModel(t, &fakeController{})
	m, cmd := update(t, m, snapshotMsg(readySnapshot(125)))
	if cmd == nil {
		t.Error("a snapshot should schedule the next wait")
	}

	view := m.View()
	for _, want := range []string{
		session.StatusReady,
		"https://10.0.0.7:6901",
		"02:05",
		"i-42",
		"t2.medium",
		"terminate",
		"open",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("ready view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "new session") {
		t.Errorf("ready help bar should not offer a new session:\n%s", view)
	}
}

func TestModel_FailedView(t *testing.T) {
	m, _ := newTestModel(t, &fakeController{})
	m, _ = update(t, m, snapshotMsg(session.Snapshot{
		State:  session.StateFailed,
		Status: session.StatusErrorPrefix + "boom",
		Error:  "create failed: boom\ndetails",
	}))

	view := m.View()
	if !strings.Contains(view, "create failed: boom") {
		t.Errorf("failed view should show the error:\n%s", view)
	}
	if strings.Contains(view, "details") {
		t.Errorf("failed view should show only the first error line:\n%s", view)
	}
	if !strings.Contains(view, "acknowledge") {
		t.Errorf("failed help bar should offer acknowledge:\n%s", view)
	}
	if strings.Contains(view, "terminate") {
		t.Errorf("failed session without a resource should not offer terminate:\n%s", view)
	}
}

func TestModel_TerminateKey(t *testing.T) {
	ctrl := &fakeController{}
	m, _ := newTestModel(t, ctrl)

	// Disabled while idle
	if _, cmd := update(t, m, keyRunes("t")); cmd != nil {
		t.Error("terminate should be disabled while idle")
	}

	m, _ = update(t, m, snapshotMsg(readySnapshot(300)))
	_, cmd := update(t, m, keyRunes("t"))
	m = run(t, m, cmd)

	if ctrl.terminates != 1 {
		t.Errorf("Terminate() called %d times, want 1", ctrl.terminates)
	}
	if m.notice != "" {
		t.Errorf("notice = %q, want empty", m.notice)
	}
}

func TestModel_ActionErrorShowsNotice(t *testing.T) {
	ctrl := &fakeController{
		terminateErr: errors.NewSessionError("terminate rejected", errors.ErrNoSession),
	}
	m, _ := newTestModel(t, ctrl)
	m, _ = update(t, m, snapshotMsg(readySnapshot(300)))

	_, cmd := update(t, m, keyRunes("t"))
	m = run(t, m, cmd)

	if !strings.Contains(m.View(), "terminate rejected") {
		t.Errorf("view should show the rejection:\n%s", m.View())
	}
}

func TestModel_InternalErrorsAreMasked(t *testing.T) {
	m, _ := newTestModel(t, &fakeController{})
	m, _ = update(t, m, actionResultMsg{action: "open", err: errors.New("exec: xdg-open not found")})
	if strings.Contains(m.notice, "xdg-open") {
		t.Errorf("notice = %q, internal error leaked", m.notice)
	}
	if !strings.Contains(m.notice, "open") {
		t.Errorf("notice = %q, want the action name", m.notice)
	}
}

func TestModel_AcknowledgeKey(t *testing.T) {
	ctrl := &fakeController{}
	m, _ := newTestModel(t, ctrl)
	m, _ = update(t, m, snapshotMsg(session.Snapshot{State: session.StateFailed}))

	_, cmd := update(t, m, keyRunes("a"))
	run(t, m, cmd)
	if ctrl.acknowledges != 1 {
		t.Errorf("Acknowledge() called %d times, want 1", ctrl.acknowledges)
	}
}

func TestModel_OpenKey(t *testing.T) {
	opener := &fakeOpener{}
	m, _ := newTestModel(t, &fakeController{}, WithOpener(opener))
	m, _ = update(t, m, snapshotMsg(readySnapshot(300)))

	_, cmd := update(t, m, keyRunes("o"))
	run(t, m, cmd)

	if len(opener.urls) != 1 || opener.urls[0] != "https://10.0.0.7:6901" {
		t.Errorf("opened %v, want the session URL", opener.urls)
	}
}

func TestModel_OpenWithoutOpener(t *testing.T) {
	m, _ := newTestModel(t, &fakeController{})
	m, _ = update(t, m, snapshotMsg(readySnapshot(300)))

	m, cmd := update(t, m, keyRunes("o"))
	if cmd != nil {
		t.Error("open without an opener should not run a command")
	}
	if m.notice == "" {
		t.Error("expected a notice")
	}
}

func TestModel_Quit(t *testing.T) {
	m, _ := newTestModel(t, &fakeController{})
	for _, msg := range []tea.KeyMsg{keyRunes("q"), {Type: tea.KeyCtrlC}} {
		_, cmd := update(t, m, msg)
		if cmd == nil {
			t.Fatalf("%s: expected quit command", msg)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: command did not quit", msg)
		}
	}
}

func TestModel_LaunchForm(t *testing.T) {
	ctrl := &fakeController{}
	m, _ := newTestModel(t, ctrl, WithLaunchDefaults("t2.medium", "chrome"))

	m, _ = update(t, m, keyRunes("n"))
	if m.form == nil {
		t.Fatal("n should open the launch form")
	}
	if m.form.focus != fieldSecret {
		t.Errorf("focus = %d, want the password field when defaults are set", m.form.focus)
	}

	view := m.View()
	if !strings.Contains(view, "Launch a cloud desktop") {
		t.Errorf("form view missing title:\n%s", view)
	}

	for _, r := range "hunter22" {
		m, _ = update(t, m, keyRunes(string(r)))
	}
	if strings.Contains(m.View(), "hunter22") {
		t.Error("password must not be echoed")
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.form != nil {
		t.Error("form should close on submit")
	}
	run(t, m, cmd)

	if len(ctrl.launches) != 1 {
		t.Fatalf("Launch() called %d times, want 1", len(ctrl.launches))
	}
	req := ctrl.launches[0]
	if req.ResourceClass != "t2.medium" || req.Image != "chrome" {
		t.Errorf("request = %s/%s, want t2.medium/chrome", req.ResourceClass, req.Image)
	}
	if ctrl.secrets[0] != "hunter22" {
		t.Error("secret was not passed through")
	}
}

func TestModel_LaunchFormNavigation(t *testing.T) {
	m, _ := newTestModel(t, &fakeController{})
	m, _ = update(t, m, keyRunes("n"))
	if m.form.focus != fieldClass {
		t.Fatalf("focus = %d, want class field without defaults", m.form.focus)
	}

	for _, r := range "m5.large" {
		m, _ = update(t, m, keyRunes(string(r)))
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.form.focus != fieldImage {
		t.Errorf("enter should advance to the image field, focus = %d", m.form.focus)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.form.focus != fieldClass {
		t.Errorf("shift+tab should go back, focus = %d", m.form.focus)
	}
	if got := m.form.inputs[fieldClass].Value(); got != "m5.large" {
		t.Errorf("class = %q, want m5.large", got)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.form != nil {
		t.Error("esc should close the form")
	}
}

func TestModel_FormClosesWhenSessionStarts(t *testing.T) {
	m, _ := newTestModel(t, &fakeController{})
	m, _ = update(t, m, keyRunes("n"))
	m, _ = update(t, m, snapshotMsg(session.Snapshot{State: session.StateProvisioning}))
	if m.form != nil {
		t.Error("form should close once a session is in flight")
	}
}

func TestModel_SnapshotFromBus(t *testing.T) {
	m, bus := newTestModel(t, &fakeController{})

	bus.Publish(event.NewSessionChangedEvent(readySnapshot(30), session.StateAwaitingReady))

	cmd := m.waitForSnapshot()
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()

	select {
	case msg := <-done:
		m, _ = update(t, m, msg)
	case <-time.After(time.Second):
		t.Fatal("snapshot was not delivered")
	}
	if m.snap.State != session.StateReady {
		t.Errorf("state = %s, want ready", m.snap.State)
	}
	if !strings.Contains(m.View(), "00:30") {
		t.Errorf("view should show the countdown:\n%s", m.View())
	}
}

func TestModel_WindowSizeTruncatesStatus(t *testing.T) {
	m, _ := newTestModel(t, &fakeController{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 20, Height: 10})
	m, _ = update(t, m, snapshotMsg(session.Snapshot{
		State:  session.StateAwaitingReady,
		Status: session.StatusLaunching,
	}))
	if strings.Contains(m.View(), session.StatusLaunching) {
		t.Error("long status should be truncated on a narrow terminal")
	}
}
