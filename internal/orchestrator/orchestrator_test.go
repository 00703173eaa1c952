package orchestrator_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/flashdesk/internal/countdown"
	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/event"
	"github.com/Iron-Ham/flashdesk/internal/gateway"
	"github.com/Iron-Ham/flashdesk/internal/limiter"
	"github.com/Iron-Ham/flashdesk/internal/orchestrator"
	"github.com/Iron-Ham/flashdesk/internal/readiness"
	"github.com/Iron-Ham/flashdesk/internal/session"
	"github.com/Iron-Ham/flashdesk/internal/testutil"
)

const (
	marker  = "kasmweb"
	waitFor = 3 * time.Second
)

// recorder collects bus events.
type recorder struct {
	mu     sync.Mutex
	snaps  []session.Snapshot
	opened []event.AddressOpenedEvent
	checks []event.ReadinessCheckedEvent
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev := e.(type) {
	case event.SessionChangedEvent:
		r.snaps = append(r.snaps, ev.Snapshot)
	case event.AddressOpenedEvent:
		r.opened = append(r.opened, ev)
	case event.ReadinessCheckedEvent:
		r.checks = append(r.checks, ev)
	}
}

func (r *recorder) openedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opened)
}

func (r *recorder) checkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.checks)
}

func (r *recorder) snapshots() []session.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Snapshot(nil), r.snaps...)
}

type harness struct {
	t      *testing.T
	gw     *testutil.FakeGateway
	orch   *orchestrator.Orchestrator
	rec    *recorder
	cancel context.CancelFunc

	openMu sync.Mutex
	urls   []string
}

type harnessConfig struct {
	settings     orchestrator.Settings
	tickInterval time.Duration
	maxActive    int
}

func defaultHarnessConfig() harnessConfig {
	s := orchestrator.DefaultSettings()
	s.SessionDuration = 5
	s.OuterPollInterval = 10 * time.Millisecond
	s.MaxAwaitReady = 0
	s.MinSecretLength = 4
	// Countdown ticks are effectively frozen unless a test opts in.
	return harnessConfig{settings: s, tickInterval: time.Hour, maxActive: 2}
}

func newHarness(t *testing.T, cfg harnessConfig, gw *testutil.FakeGateway) *harness {
	t.Helper()
	if gw == nil {
		gw = testutil.NewFakeGateway(marker)
	}

	bus := event.NewBus(nil)
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)

	h := &harness{t: t, gw: gw, rec: rec}
	poller := readiness.NewPoller(gw, gw,
		readiness.WithInnerInterval(time.Millisecond),
		readiness.WithCommandTimeout(200*time.Millisecond),
	)
	lim := limiter.New(gw, limiter.WithMax(cfg.maxActive))
	h.orch = orchestrator.New(gw, lim, poller, bus,
		orchestrator.WithSettings(cfg.settings),
		orchestrator.WithTimer(countdown.New(countdown.WithInterval(cfg.tickInterval))),
		orchestrator.WithShutdownTimeout(time.Second),
		orchestrator.WithOpener(orchestrator.OpenerFunc(func(_ context.Context, url string) error {
			h.openMu.Lock()
			defer h.openMu.Unlock()
			h.urls = append(h.urls, url)
			return nil
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = h.orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.orch.Done():
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})
	return h
}

func (h *harness) launch() error {
	return h.orch.Launch(orchestrator.LaunchRequest{
		ResourceClass: "t2.micro",
		Image:         "chrome",
		Secret:        session.NewSecret("hunter22"),
	})
}

func (h *harness) waitState(want session.State) session.Snapshot {
	h.t.Helper()
	testutil.Eventually(h.t, waitFor, func() bool {
		return h.orch.Snapshot().State == want
	}, "state "+want.String())
	return h.orch.Snapshot()
}

func (h *harness) openedURLs() []string {
	h.openMu.Lock()
	defer h.openMu.Unlock()
	return append([]string(nil), h.urls...)
}

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

func TestNew_PanicsOnNilDependencies(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	lim := limiter.New(gw)
	poller := readiness.NewPoller(gw, gw)
	bus := event.NewBus(nil)

	tests := []struct {
		name string
		fn   func()
	}{
		{"provisioner", func() { orchestrator.New(nil, lim, poller, bus) }},
		{"limiter", func() { orchestrator.New(gw, nil, poller, bus) }},
		{"poller", func() { orchestrator.New(gw, lim, nil, bus) }},
		{"bus", func() { orchestrator.New(gw, lim, poller, nil) }},
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

func TestRun_SecondCallFails(t *testing.T) {
	h := newHarness(t, defaultHarnessConfig(), nil)
	// Make sure the first Run is processing.
	if err := h.orch.Reconfigure(orchestrator.DefaultSettings()); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if err := h.orch.Run(context.Background()); err == nil {
		t.Error("second Run() should fail")
	}
}

func TestInitialSnapshotIsIdle(t *testing.T) {
	h := newHarness(t, defaultHarnessConfig(), nil)
	snap := h.orch.Snapshot()
	if snap.State != session.StateIdle {
		t.Errorf("State = %v, want idle", snap.State)
	}
	if _, ok := snap.Remaining(); ok {
		t.Error("idle snapshot should have no remaining seconds")
	}
}

// -----------------------------------------------------------------------------
// Launch to Ready
// -----------------------------------------------------------------------------

func TestLaunch_ReachesReady(t *testing.T) {
	cfg := defaultHarnessConfig()
	cfg.settings.SessionDuration = 600
	h := newHarness(t, cfg, nil)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	snap := h.waitState(session.StateReady)

	if snap.ResourceID != "i-1" {
		t.Errorf("ResourceID = %q, want i-1", snap.ResourceID)
	}
	if snap.Address != "10.0.0.1" {
		t.Errorf("Address = %q, want 10.0.0.1", snap.Address)
	}
	if snap.Status != session.StatusReady {
		t.Errorf("Status = %q, want %q", snap.Status, session.StatusReady)
	}
	if r, ok := snap.Remaining(); !ok || r != 600 {
		t.Errorf("Remaining() = %d, %v, want 600, true", r, ok)
	}

	testutil.Eventually(t, waitFor, func() bool { return len(h.openedURLs()) == 1 }, "opener called")
	if got := h.openedURLs()[0]; got != "https://10.0.0.1:6901" {
		t.Errorf("opened URL = %q", got)
	}
	if n := h.rec.openedCount(); n != 1 {
		t.Errorf("address opened events = %d, want 1", n)
	}

	class, image, secretLen := h.gw.LastCreate()
	if class != "t2.micro" || image != "chrome" || secretLen != len("hunter22") {
		t.Errorf("Create got (%q, %q, %d)", class, image, secretLen)
	}
	if c := h.gw.Calls(); c.Create != 1 || c.CountActive != 1 {
		t.Errorf("Calls = %+v, want one Create and one CountActive", c)
	}
}

func TestLaunch_PublishesTransitionsInOrder(t *testing.T) {
	cfg := defaultHarnessConfig()
	h := newHarness(t, cfg, nil)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateReady)

	var states []session.State
	for _, s := range h.rec.snapshots() {
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	}
	want := []session.State{session.StateProvisioning, session.StateAwaitingReady, session.StateReady}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestLaunch_ReadyFiresOpenerOnce(t *testing.T) {
	h := newHarness(t, defaultHarnessConfig(), nil)
	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateReady)

	testutil.Never(t, 100*time.Millisecond, func() bool {
		return len(h.openedURLs()) > 1 || h.rec.openedCount() > 1
	}, "ready signal fired more than once")
}

func TestLaunch_SecondLaunchRejectedWhileActive(t *testing.T) {
	cfg := defaultHarnessConfig()
	h := newHarness(t, cfg, nil)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	before := h.waitState(session.StateReady)

	err := h.launch()
	if !errors.Is(err, errors.ErrSessionActive) {
		t.Fatalf("second Launch() error = %v, want ErrSessionActive", err)
	}

	after := h.orch.Snapshot()
	if after.ResourceID != before.ResourceID || after.State != session.StateReady {
		t.Errorf("session changed: before %+v after %+v", before, after)
	}
	if c := h.gw.Calls(); c.Create != 1 {
		t.Errorf("Create calls = %d, want 1", c.Create)
	}
}

func TestLaunch_RejectedWhileAwaitingReady(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetDescribe(func(string, int) (gateway.Description, error) {
		return gateway.Description{State: gateway.LifecyclePending}, nil
	})
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateAwaitingReady)

	if err := h.launch(); !errors.Is(err, errors.ErrSessionActive) {
		t.Errorf("Launch() error = %v, want ErrSessionActive", err)
	}
}

func TestLaunch_AtCapacity(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetActive(2, nil)
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	testutil.Eventually(t, waitFor, func() bool {
		return h.orch.Snapshot().Status == session.StatusCapacity
	}, "capacity status")

	snap := h.orch.Snapshot()
	if snap.State != session.StateIdle {
		t.Errorf("State = %v, want idle", snap.State)
	}
	if !errors.Is(snap.Err, errors.ErrCapacityExceeded) {
		t.Errorf("Err = %v, want ErrCapacityExceeded", snap.Err)
	}
	if c := gw.Calls(); c.Create != 0 {
		t.Errorf("Create calls = %d, want 0", c.Create)
	}
	testutil.Eventually(t, waitFor, func() bool { return len(h.rec.snapshots()) >= 2 }, "rejection published")
	var states []session.State
	for _, s := range h.rec.snapshots() {
		states = append(states, s.State)
	}
	if len(states) != 2 || states[0] != session.StateProvisioning || states[1] != session.StateIdle {
		t.Errorf("published states = %v, want [provisioning idle]", states)
	}

	// The gate is re-evaluated on the next launch.
	gw.SetActive(1, nil)
	if err := h.launch(); err != nil {
		t.Fatalf("Launch() after capacity freed error = %v", err)
	}
	h.waitState(session.StateReady)
}

func TestLaunch_CountFailureFails(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetActive(0, errors.New("throttled"))
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	snap := h.waitState(session.StateFailed)
	if snap.ResourceID != "" {
		t.Errorf("ResourceID = %q, want empty", snap.ResourceID)
	}
	if c := gw.Calls(); c.Create != 0 {
		t.Errorf("Create calls = %d, want 0", c.Create)
	}
}

func TestLaunch_BackendCapacityOnCreate(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetCreateErr(errors.NewCapacityError(-1, 2))
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	testutil.Eventually(t, waitFor, func() bool {
		return h.orch.Snapshot().Status == session.StatusCapacity
	}, "capacity status")
	if st := h.orch.Snapshot().State; st != session.StateIdle {
		t.Errorf("State = %v, want idle", st)
	}
}

func TestLaunch_CreateFailure(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetCreateErr(errors.New("invalid image"))
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	snap := h.waitState(session.StateFailed)

	var perr *errors.ProvisioningError
	if !errors.As(snap.Err, &perr) || perr.Operation != "create" {
		t.Errorf("Err = %v, want create ProvisioningError", snap.Err)
	}
	if !strings.HasPrefix(snap.Status, session.StatusErrorPrefix) {
		t.Errorf("Status = %q, want error prefix", snap.Status)
	}

	// Failed accepts a new launch.
	gw.SetCreateErr(nil)
	if err := h.launch(); err != nil {
		t.Fatalf("relaunch error = %v", err)
	}
	h.waitState(session.StateReady)
}

func TestLaunch_Validation(t *testing.T) {
	tests := []struct {
		name   string
		req    orchestrator.LaunchRequest
		secret string
		field  string
	}{
		{
			name:   "unknown class",
			req:    orchestrator.LaunchRequest{ResourceClass: "m5.24xlarge", Image: "chrome", Secret: session.NewSecret("hunter22")},
			secret: "hunter22",
			field:  "resource_class",
		},
		{
			name:   "unknown image",
			req:    orchestrator.LaunchRequest{ResourceClass: "t2.micro", Image: "netscape", Secret: session.NewSecret("hunter22")},
			secret: "hunter22",
			field:  "image",
		},
		{
			name:   "short secret",
			req:    orchestrator.LaunchRequest{ResourceClass: "t2.micro", Image: "chrome", Secret: session.NewSecret("abc")},
			secret: "abc",
			field:  "secret",
		},
	}

	h := newHarness(t, defaultHarnessConfig(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.orch.Launch(tt.req)
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Launch() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
			if tt.req.Secret.Reveal() == tt.secret {
				t.Error("secret should be wiped after a rejected launch")
			}
		})
	}

	if st := h.orch.Snapshot().State; st != session.StateIdle {
		t.Errorf("State = %v, want idle", st)
	}
	if c := h.gw.Calls(); c.Create != 0 || c.CountActive != 0 {
		t.Errorf("Calls = %+v, want no gateway calls", c)
	}
}

func TestLaunch_SecretClearedAfterCreate(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetOutput("nothing yet")
	h := newHarness(t, defaultHarnessConfig(), gw)
	secret := session.NewSecret("hunter22")
	err := h.orch.Launch(orchestrator.LaunchRequest{ResourceClass: "t2.micro", Image: "chrome", Secret: secret})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateAwaitingReady)
	if secret.Reveal() == "hunter22" {
		t.Error("secret bytes should be wiped once provisioning returns")
	}
	for _, s := range h.rec.snapshots() {
		if s.Status == "hunter22" || s.Error == "hunter22" {
			t.Error("secret leaked into a snapshot")
		}
	}
}

// -----------------------------------------------------------------------------
// Awaiting readiness
// -----------------------------------------------------------------------------

func TestAwaitingReady_MarkerMissingKeepsPolling(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetOutput("CONTAINER ID   IMAGE\n")
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateAwaitingReady)

	testutil.Eventually(t, waitFor, func() bool { return h.rec.checkCount() >= 3 }, "three readiness checks")
	if st := h.orch.Snapshot().State; st != session.StateAwaitingReady {
		t.Fatalf("State = %v, want awaiting_ready", st)
	}
	if n := gw.Calls().Invoke; n < 3 {
		t.Errorf("diagnostic invocations = %d, want >= 3", n)
	}

	// The outer poll continues and picks up the service once it appears.
	gw.SetOutput("abc   " + marker + "/desktop\n")
	h.waitState(session.StateReady)
}

func TestAwaitingReady_AddressPublishedBeforeReady(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetOutput("nothing yet")
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	testutil.Eventually(t, waitFor, func() bool {
		s := h.orch.Snapshot()
		return s.State == session.StateAwaitingReady && s.Address == "10.0.0.1"
	}, "address while awaiting")
	if n := h.rec.openedCount(); n != 0 {
		t.Errorf("address opened events = %d before ready", n)
	}
}

func TestAwaitingReady_TransientErrorsRetry(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetDescribe(func(_ string, call int) (gateway.Description, error) {
		if call < 3 {
			return gateway.Description{}, errors.New("request limit exceeded")
		}
		return gateway.Description{State: gateway.LifecycleRunning, Address: "10.0.0.1"}, nil
	})
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateReady)
}

func TestAwaitingReady_ResourceGoneFails(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetDescribe(func(string, int) (gateway.Description, error) {
		return gateway.Description{State: gateway.LifecycleTerminated}, nil
	})
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	snap := h.waitState(session.StateFailed)
	if !errors.Is(snap.Err, errors.ErrResourceGone) {
		t.Errorf("Err = %v, want ErrResourceGone", snap.Err)
	}
	if snap.ResourceID != "" {
		t.Errorf("ResourceID = %q, want cleared for a gone resource", snap.ResourceID)
	}
}

func TestAwaitingReady_TimeoutTerminates(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetOutput("never ready")
	cfg := defaultHarnessConfig()
	cfg.settings.MaxAwaitReady = 80 * time.Millisecond
	h := newHarness(t, cfg, gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	snap := h.waitState(session.StateFailed)

	if !errors.Is(snap.Err, errors.ErrReadyTimeout) {
		t.Errorf("Err = %v, want ErrReadyTimeout", snap.Err)
	}
	if got := gw.Terminated(); len(got) != 1 || got[0] != "i-1" {
		t.Errorf("Terminated = %v, want [i-1]", got)
	}
	if snap.ResourceID != "" {
		t.Errorf("ResourceID = %q, want cleared after teardown", snap.ResourceID)
	}

	if err := h.orch.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	h.waitState(session.StateIdle)
}

// -----------------------------------------------------------------------------
// Countdown
// -----------------------------------------------------------------------------

func TestCountdown_StrictlyDecreasingThenTerminates(t *testing.T) {
	cfg := defaultHarnessConfig()
	cfg.settings.SessionDuration = 4
	cfg.tickInterval = 5 * time.Millisecond
	h := newHarness(t, cfg, nil)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	testutil.Eventually(t, waitFor, func() bool { return len(h.gw.Terminated()) == 1 }, "resource terminated")
	snap := h.waitState(session.StateIdle)
	if snap.Status != session.StatusTerminated {
		t.Errorf("Status = %q, want %q", snap.Status, session.StatusTerminated)
	}

	var remaining []int
	for _, s := range h.rec.snapshots() {
		if r, ok := s.Remaining(); ok {
			remaining = append(remaining, r)
		}
	}
	want := []int{4, 3, 2, 1, 0}
	if len(remaining) != len(want) {
		t.Fatalf("remaining = %v, want %v", remaining, want)
	}
	for i := range want {
		if remaining[i] != want[i] {
			t.Errorf("remaining[%d] = %d, want %d", i, remaining[i], want[i])
		}
	}

	testutil.Never(t, 50*time.Millisecond, func() bool { return h.gw.Calls().Terminate > 1 }, "terminate called twice")
	if got := h.gw.Terminated(); len(got) != 1 || got[0] != "i-1" {
		t.Errorf("Terminated = %v, want [i-1]", got)
	}
}

func TestTerminate_ManualCancelsCountdown(t *testing.T) {
	cfg := defaultHarnessConfig()
	cfg.settings.SessionDuration = 400
	cfg.tickInterval = 10 * time.Millisecond
	h := newHarness(t, cfg, nil)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateReady)
	testutil.Eventually(t, waitFor, func() bool {
		r, ok := h.orch.Snapshot().Remaining()
		return ok && r <= 398
	}, "countdown ticking")

	if err := h.orch.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	snap := h.waitState(session.StateIdle)
	if snap.ResourceID != "" || snap.Address != "" {
		t.Errorf("snapshot retains resource: %+v", snap)
	}

	n := len(h.rec.snapshots())
	testutil.Never(t, 100*time.Millisecond, func() bool {
		return len(h.rec.snapshots()) != n
	}, "ticks after termination")
	if c := h.gw.Calls(); c.Terminate != 1 {
		t.Errorf("Terminate calls = %d, want 1", c.Terminate)
	}
}

// -----------------------------------------------------------------------------
// Termination
// -----------------------------------------------------------------------------

func TestTerminate_WhileAwaitingReady(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetOutput("booting")
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateAwaitingReady)

	if err := h.orch.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	h.waitState(session.StateIdle)

	invokes := gw.Calls().Invoke
	testutil.Never(t, 60*time.Millisecond, func() bool {
		return gw.Calls().Invoke > invokes+1
	}, "polling continued after termination")
}

func TestTerminate_DuplicateWhileTerminating(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	cfg := defaultHarnessConfig()
	h := newHarness(t, cfg, gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateReady)

	release := gw.BlockTerminate()
	defer release()

	for i := 0; i < 3; i++ {
		if err := h.orch.Terminate(); err != nil {
			t.Fatalf("Terminate() #%d error = %v", i, err)
		}
	}
	if st := h.orch.Snapshot().State; st != session.StateTerminating {
		t.Fatalf("State = %v, want terminating", st)
	}

	release()
	h.waitState(session.StateIdle)
	if c := gw.Calls(); c.Terminate != 1 {
		t.Errorf("Terminate calls = %d, want 1", c.Terminate)
	}
}

func TestTerminate_NothingToTerminate(t *testing.T) {
	h := newHarness(t, defaultHarnessConfig(), nil)
	err := h.orch.Terminate()
	if !errors.Is(err, errors.ErrNoSession) {
		t.Errorf("Terminate() error = %v, want ErrNoSession", err)
	}
	var serr *errors.SessionError
	if !errors.As(err, &serr) || serr.State != "idle" {
		t.Errorf("Terminate() error = %v, want SessionError in idle", err)
	}
}

func TestTerminate_FailureRetainsIDForRetry(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	cfg := defaultHarnessConfig()
	h := newHarness(t, cfg, gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateReady)

	gw.SetTerminateErr(errors.New("api unavailable"))
	if err := h.orch.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	snap := h.waitState(session.StateFailed)
	if snap.ResourceID != "i-1" {
		t.Fatalf("ResourceID = %q, want i-1 retained", snap.ResourceID)
	}

	gw.SetTerminateErr(nil)
	if err := h.orch.Terminate(); err != nil {
		t.Fatalf("retry Terminate() error = %v", err)
	}
	snap = h.waitState(session.StateIdle)
	if snap.ResourceID != "" {
		t.Errorf("ResourceID = %q, want cleared", snap.ResourceID)
	}
	if got := gw.Terminated(); len(got) != 1 || got[0] != "i-1" {
		t.Errorf("Terminated = %v, want [i-1]", got)
	}
}

func TestAcknowledge(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetCreateErr(errors.New("boom"))
	h := newHarness(t, defaultHarnessConfig(), gw)

	if err := h.orch.Acknowledge(); !errors.Is(err, errors.ErrNoSession) {
		t.Errorf("Acknowledge() in idle error = %v, want ErrNoSession", err)
	}

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateFailed)

	if err := h.orch.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	snap := h.orch.Snapshot()
	if snap.State != session.StateIdle || snap.Error != "" {
		t.Errorf("snapshot after acknowledge = %+v", snap)
	}
}

// -----------------------------------------------------------------------------
// Configuration and shutdown
// -----------------------------------------------------------------------------

func TestReconfigure_AppliesToNextLaunch(t *testing.T) {
	cfg := defaultHarnessConfig()
	h := newHarness(t, cfg, nil)

	s := cfg.settings
	s.SessionDuration = 42
	s.AddressFormat = "vnc://{address}"
	if err := h.orch.Reconfigure(s); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	snap := h.waitState(session.StateReady)
	if r, _ := snap.Remaining(); r != 42 {
		t.Errorf("Remaining = %d, want 42", r)
	}
	testutil.Eventually(t, waitFor, func() bool { return len(h.openedURLs()) == 1 }, "opener called")
	if got := h.openedURLs()[0]; got != "vnc://10.0.0.1" {
		t.Errorf("opened URL = %q", got)
	}
}

func TestReconfigure_MaxActive(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	gw.SetActive(2, nil)
	cfg := defaultHarnessConfig()
	h := newHarness(t, cfg, gw)

	s := cfg.settings
	s.MaxActive = 3
	if err := h.orch.Reconfigure(s); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateReady)
}

func TestShutdown_TerminatesLiveResource(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	cfg := defaultHarnessConfig()
	h := newHarness(t, cfg, gw)

	if err := h.launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	h.waitState(session.StateReady)

	h.cancel()
	select {
	case <-h.orch.Done():
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}

	if got := gw.Terminated(); len(got) != 1 || got[0] != "i-1" {
		t.Errorf("Terminated = %v, want [i-1]", got)
	}
	if st := h.orch.Snapshot().State; st != session.StateTerminated {
		t.Errorf("State = %v, want terminated", st)
	}
}

func TestShutdown_IdleMakesNoCalls(t *testing.T) {
	gw := testutil.NewFakeGateway(marker)
	h := newHarness(t, defaultHarnessConfig(), gw)

	h.cancel()
	<-h.orch.Done()
	if c := gw.Calls(); c.Terminate != 0 {
		t.Errorf("Terminate calls = %d, want 0", c.Terminate)
	}
}

func TestCallsAfterShutdown(t *testing.T) {
	h := newHarness(t, defaultHarnessConfig(), nil)
	h.cancel()
	<-h.orch.Done()

	secret := session.NewSecret("hunter22")
	err := h.orch.Launch(orchestrator.LaunchRequest{ResourceClass: "t2.micro", Image: "chrome", Secret: secret})
	if !errors.Is(err, errors.ErrNotRunning) {
		t.Errorf("Launch() error = %v, want ErrNotRunning", err)
	}
	if !secret.Empty() && secret.Reveal() == "hunter22" {
		t.Error("secret should be wiped when the launch cannot be accepted")
	}
	if err := h.orch.Terminate(); !errors.Is(err, errors.ErrNotRunning) {
		t.Errorf("Terminate() error = %v, want ErrNotRunning", err)
	}
}

func TestAddressURL(t *testing.T) {
	h := newHarness(t, defaultHarnessConfig(), nil)
	if got := h.orch.AddressURL("1.2.3.4"); got != "https://1.2.3.4:6901" {
		t.Errorf("AddressURL() = %q", got)
	}
}
