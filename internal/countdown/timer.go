// Package countdown implements the single-shot termination countdown armed
// when a session becomes ready.
package countdown

import (
	"sync"
	"time"
)

// defaultInterval is the length of one countdown step.
const defaultInterval = time.Second

// Option configures a Timer.
type Option func(*Timer)

// WithInterval overrides the step length. Tests use milliseconds.
// A zero or negative value is replaced with the default (1s).
func WithInterval(d time.Duration) Option {
	return func(t *Timer) {
		t.interval = d
	}
}

// Timer counts down from a number of steps, reporting each remaining value
// and firing an expiry callback exactly once at zero.
//
// Callbacks run on the timer's goroutine, one at a time. They must not call
// Arm or Cancel on the same Timer. Once Cancel returns, no callback from the
// cancelled arming runs.
type Timer struct {
	interval time.Duration

	mu   sync.Mutex
	gen  uint64
	stop chan struct{} // nil when unarmed

	// cbMu is held while a callback runs so Cancel can wait it out.
	cbMu sync.Mutex
}

// New creates an unarmed Timer.
func New(opts ...Option) *Timer {
	t := &Timer{interval: defaultInterval}
	for _, opt := range opts {
		opt(t)
	}
	if t.interval <= 0 {
		t.interval = defaultInterval
	}
	return t
}

// Arm starts a countdown of steps intervals. onTick receives steps-1, ...,
// 0, one call per interval; onExpire follows the final tick. Arming an armed
// timer cancels the previous countdown first. A non-positive steps value
// expires immediately without ticks.
func (t *Timer) Arm(steps int, onTick func(remaining int), onExpire func()) {
	t.Cancel()

	t.mu.Lock()
	t.gen++
	gen := t.gen
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go t.run(gen, stop, steps, onTick, onExpire)
}

// Cancel stops the countdown. It is idempotent and safe on an unarmed or
// expired timer. If a callback is running, Cancel waits for it to return.
func (t *Timer) Cancel() {
	t.mu.Lock()
	t.gen++
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.mu.Unlock()

	t.cbMu.Lock()
	//nolint:staticcheck // empty critical section: waits out an in-flight callback
	t.cbMu.Unlock()
}

// Armed reports whether a countdown is in progress.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Timer) run(gen uint64, stop <-chan struct{}, steps int, onTick func(int), onExpire func()) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for remaining := steps; remaining > 0; {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		remaining--
		r := remaining
		if !t.deliver(gen, false, func() {
			if onTick != nil {
				onTick(r)
			}
		}) {
			return
		}
	}

	t.deliver(gen, true, func() {
		if onExpire != nil {
			onExpire()
		}
	})
}

// deliver runs fn if gen is still the current arming. When final is set the
// timer is disarmed before fn runs, leaving it inert until re-armed.
func (t *Timer) deliver(gen uint64, final bool, fn func()) bool {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return false
	}
	if final {
		t.stop = nil
	}
	t.mu.Unlock()

	fn()
	return true
}
