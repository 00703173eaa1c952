// Package orchestrator implements the session lifecycle state machine.
//
// A single event-loop goroutine (Run) owns the Session. Public methods,
// gateway call completions, readiness reports and countdown ticks are all
// posted to the loop's mailbox and applied one at a time, so at most one
// transition is ever in flight. Gateway calls run on their own goroutines
// and post their results back; results that arrive for a superseded session
// are discarded by a generation check.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/flashdesk/internal/countdown"
	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/event"
	"github.com/Iron-Ham/flashdesk/internal/gateway"
	"github.com/Iron-Ham/flashdesk/internal/limiter"
	"github.com/Iron-Ham/flashdesk/internal/logging"
	"github.com/Iron-Ham/flashdesk/internal/readiness"
	"github.com/Iron-Ham/flashdesk/internal/session"
)

// LaunchRequest carries the user's selection. The secret is consumed by the
// provisioning call and cleared whether or not the launch is accepted.
type LaunchRequest struct {
	ResourceClass string
	Image         string
	Secret        session.Secret
}

// Orchestrator drives one session through its lifecycle.
type Orchestrator struct {
	prov    gateway.Provisioner
	limiter *limiter.Limiter
	bus     *event.Bus
	opener  Opener
	timer   *countdown.Timer
	logger  *logging.Logger

	callTimeout     time.Duration
	shutdownTimeout time.Duration

	// Mailbox. Guarded by mbMu; wake has capacity 1.
	mbMu   sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	runMu  sync.Mutex
	ran    bool
	ops    sync.WaitGroup

	// Owned by the event loop.
	ctx        context.Context
	sess       *session.Session
	gen        uint64
	pending    Settings
	active     Settings
	poller     *readiness.Poller
	loop       *readiness.Loop
	awaitTimer *time.Timer
	opened     bool
	attempt    int
	stopping   bool

	snapMu sync.RWMutex
	snap   session.Snapshot
}

// New creates an Orchestrator. All arguments must be non-nil; passing nil
// panics to surface wiring bugs immediately.
func New(prov gateway.Provisioner, lim *limiter.Limiter, poller *readiness.Poller, bus *event.Bus, opts ...Option) *Orchestrator {
	if prov == nil {
		panic("orchestrator: Provisioner must not be nil")
	}
	if lim == nil {
		panic("orchestrator: Limiter must not be nil")
	}
	if poller == nil {
		panic("orchestrator: Poller must not be nil")
	}
	if bus == nil {
		panic("orchestrator: event.Bus must not be nil")
	}

	cfg := &config{
		settings:        DefaultSettings(),
		callTimeout:     defaultCallTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		logger:          logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.callTimeout <= 0 {
		cfg.callTimeout = defaultCallTimeout
	}
	if cfg.shutdownTimeout <= 0 {
		cfg.shutdownTimeout = defaultShutdownTimeout
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.timer == nil {
		cfg.timer = countdown.New()
	}

	sess := session.New()
	return &Orchestrator{
		prov:            prov,
		limiter:         lim,
		bus:             bus,
		opener:          cfg.opener,
		timer:           cfg.timer,
		logger:          cfg.logger.WithComponent("orchestrator"),
		callTimeout:     cfg.callTimeout,
		shutdownTimeout: cfg.shutdownTimeout,
		wake:            make(chan struct{}, 1),
		done:            make(chan struct{}),
		sess:            sess,
		pending:         cfg.settings.normalize(),
		poller:          poller,
		snap:            sess.Snapshot(),
	}
}

// Run processes the event loop until ctx is cancelled. On cancellation any
// live resource is torn down before Run returns. Run may be called once.
//
// Public methods block until Run has processed them, so they must not be
// called before Run is started unless the caller is prepared to wait.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runMu.Lock()
	if o.ran {
		o.runMu.Unlock()
		return errors.New("orchestrator: Run called twice")
	}
	o.ran = true
	o.runMu.Unlock()

	o.ctx = ctx
	defer close(o.done)

	o.logger.Info("orchestrator started")
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-o.wake:
		}
		o.drain()
	}
}

// Done is closed when Run has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Snapshot returns the state published by the latest transition.
func (o *Orchestrator) Snapshot() session.Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snap
}

// AddressURL renders a resource address with the active address format.
func (o *Orchestrator) AddressURL(address string) string {
	o.snapMu.RLock()
	format := o.active.AddressFormat
	o.snapMu.RUnlock()
	if format == "" {
		format = defaultAddressFormat
	}
	return strings.ReplaceAll(format, addressPlaceholder, address)
}

// Launch starts a new session. It returns once the launch is accepted
// (state Provisioning) or rejected; provisioning itself continues in the
// background and is reported through snapshots.
//
// It returns a *errors.ValidationError for invalid input and a
// *errors.SessionError wrapping errors.ErrSessionActive when a session is
// already in flight.
func (o *Orchestrator) Launch(req LaunchRequest) error {
	reply := make(chan error, 1)
	if !o.post(func() { reply <- o.handleLaunch(req) }) {
		req.Secret.Clear()
		return errors.ErrNotRunning
	}
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return errors.ErrNotRunning
	}
}

// Terminate tears down the current resource. It is a no-op while a teardown
// is already in progress, and returns a *errors.SessionError wrapping
// errors.ErrNoSession when there is nothing to terminate.
func (o *Orchestrator) Terminate() error {
	return o.call(o.handleTerminate)
}

// Acknowledge resets a Failed session to Idle.
func (o *Orchestrator) Acknowledge() error {
	return o.call(o.handleAcknowledge)
}

// Reconfigure replaces the settings used by subsequent launches.
func (o *Orchestrator) Reconfigure(s Settings) error {
	return o.call(func() error {
		o.pending = s.normalize()
		o.logger.Info("settings updated; applying to the next launch")
		return nil
	})
}

// call runs fn on the event loop and waits for its result.
func (o *Orchestrator) call(fn func() error) error {
	reply := make(chan error, 1)
	if !o.post(func() { reply <- fn() }) {
		return errors.ErrNotRunning
	}
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return errors.ErrNotRunning
	}
}

// post enqueues fn for the event loop without blocking. It returns false
// once the loop has shut down.
func (o *Orchestrator) post(fn func()) bool {
	o.mbMu.Lock()
	if o.closed {
		o.mbMu.Unlock()
		return false
	}
	o.queue = append(o.queue, fn)
	o.mbMu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

func (o *Orchestrator) next() func() {
	o.mbMu.Lock()
	defer o.mbMu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	fn := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return fn
}

func (o *Orchestrator) drain() {
	for fn := o.next(); fn != nil; fn = o.next() {
		fn()
	}
}

// goOp runs a gateway call on its own goroutine with a bounded context that
// survives cancellation of Run's context, so results of calls already sent
// to the backend are never lost. During shutdown the call runs inline.
func (o *Orchestrator) goOp(fn func(ctx context.Context)) {
	if o.stopping {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), o.callTimeout)
		defer cancel()
		fn(ctx)
		return
	}
	o.ops.Add(1)
	go func() {
		defer o.ops.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), o.callTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// publish records the session snapshot and emits it on the bus.
func (o *Orchestrator) publish(previous session.State) {
	snap := o.sess.Snapshot()

	o.snapMu.Lock()
	o.snap = snap
	o.snapMu.Unlock()

	if snap.State != previous {
		log := o.logger.WithState(snap.State.String())
		if snap.ResourceID != "" {
			log = log.WithResource(snap.ResourceID)
		}
		log.Info("session transition", "from", previous.String(), "status", snap.Status)
	}
	o.bus.Publish(event.NewSessionChangedEvent(snap, previous))
}

// shutdown stops all timers, waits for in-flight gateway calls, and tears
// down any resource still held.
func (o *Orchestrator) shutdown() {
	o.stopping = true
	o.stopReadiness()
	o.timer.Cancel()

	waited := make(chan struct{})
	go func() {
		o.ops.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(o.shutdownTimeout):
		o.logger.Warn("gave up waiting for in-flight gateway calls")
	}
	o.drain()

	o.mbMu.Lock()
	o.closed = true
	o.queue = nil
	o.mbMu.Unlock()

	id := o.sess.ID()
	if id == "" {
		o.logger.Info("orchestrator stopped")
		return
	}

	prev := o.sess.State()
	log := o.logger.WithResource(id)
	log.Info("terminating resource before exit")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), o.shutdownTimeout)
	defer cancel()
	if err := o.prov.Terminate(ctx, id); err != nil {
		log.Error("failed to terminate resource on shutdown", "error", err.Error())
		o.sess.Fail(errors.NewProvisioningError("terminate", err).WithResourceID(id), true)
	} else {
		o.sess.Shutdown()
	}
	o.publish(prev)
	o.logger.Info("orchestrator stopped")
}
