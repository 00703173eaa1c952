package countdown

import (
	"sync"
	"testing"
	"time"
)

const step = 5 * time.Millisecond

type recorder struct {
	mu     sync.Mutex
	ticks  []int
	expire int
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 4)}
}

func (r *recorder) onTick(remaining int) {
	r.mu.Lock()
	r.ticks = append(r.ticks, remaining)
	r.mu.Unlock()
}

func (r *recorder) onExpire() {
	r.mu.Lock()
	r.expire++
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) snapshot() ([]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ticks...), r.expire
}

func waitExpire(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not expire")
	}
}

func TestTimer_CountsDownMonotonically(t *testing.T) {
	timer := New(WithInterval(step))
	rec := newRecorder()

	timer.Arm(5, rec.onTick, rec.onExpire)
	waitExpire(t, rec)

	ticks, expired := rec.snapshot()
	want := []int{4, 3, 2, 1, 0}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", ticks, want)
		}
	}
	if expired != 1 {
		t.Errorf("expire fired %d times, want 1", expired)
	}
	if timer.Armed() {
		t.Error("timer still armed after expiry")
	}
}

func TestTimer_ExpiresExactlyOnce(t *testing.T) {
	timer := New(WithInterval(step))
	rec := newRecorder()

	timer.Arm(2, rec.onTick, rec.onExpire)
	waitExpire(t, rec)
	time.Sleep(10 * step)

	if _, expired := rec.snapshot(); expired != 1 {
		t.Errorf("expire fired %d times, want 1", expired)
	}
}

func TestTimer_CancelStopsTicksAndExpiry(t *testing.T) {
	timer := New(WithInterval(step))
	rec := newRecorder()

	timer.Arm(1000, rec.onTick, rec.onExpire)
	time.Sleep(6 * step)
	timer.Cancel()

	ticksAtCancel, _ := rec.snapshot()
	time.Sleep(10 * step)
	ticksLater, expired := rec.snapshot()

	if len(ticksLater) != len(ticksAtCancel) {
		t.Errorf("ticks continued after Cancel: %d -> %d", len(ticksAtCancel), len(ticksLater))
	}
	if expired != 0 {
		t.Error("expire fired after Cancel")
	}
	if timer.Armed() {
		t.Error("timer armed after Cancel")
	}
}

func TestTimer_CancelIsIdempotent(t *testing.T) {
	timer := New(WithInterval(step))

	// Never armed.
	timer.Cancel()
	timer.Cancel()

	// Already expired.
	rec := newRecorder()
	timer.Arm(1, rec.onTick, rec.onExpire)
	waitExpire(t, rec)
	timer.Cancel()
	timer.Cancel()

	if _, expired := rec.snapshot(); expired != 1 {
		t.Errorf("expire fired %d times, want 1", expired)
	}
}

func TestTimer_RearmCancelsPrevious(t *testing.T) {
	timer := New(WithInterval(step))
	first := newRecorder()
	second := newRecorder()

	timer.Arm(3, first.onTick, first.onExpire)
	timer.Arm(3, second.onTick, second.onExpire)
	waitExpire(t, second)
	time.Sleep(5 * step)

	if ticks, expired := first.snapshot(); len(ticks) != 0 || expired != 0 {
		t.Errorf("first arming still fired: ticks=%v expired=%d", ticks, expired)
	}
	if ticks, expired := second.snapshot(); len(ticks) != 3 || expired != 1 {
		t.Errorf("second arming: ticks=%v expired=%d", ticks, expired)
	}
}

func TestTimer_NonPositiveExpiresImmediately(t *testing.T) {
	timer := New(WithInterval(time.Hour))
	rec := newRecorder()

	timer.Arm(0, rec.onTick, rec.onExpire)
	waitExpire(t, rec)

	if ticks, _ := rec.snapshot(); len(ticks) != 0 {
		t.Errorf("ticks = %v, want none", ticks)
	}
}

func TestTimer_NoCallbackAfterCancelReturns(t *testing.T) {
	timer := New(WithInterval(time.Millisecond))

	var mu sync.Mutex
	cancelled := false
	late := 0
	tick := func(int) {
		mu.Lock()
		if cancelled {
			late++
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}

	timer.Arm(10000, tick, nil)
	time.Sleep(20 * time.Millisecond)
	timer.Cancel()
	mu.Lock()
	cancelled = true
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if late != 0 {
		t.Errorf("%d callbacks ran after Cancel returned", late)
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	if got := New(WithInterval(-1)).interval; got != defaultInterval {
		t.Errorf("interval = %v, want %v", got, defaultInterval)
	}
	if got := New().interval; got != time.Second {
		t.Errorf("interval = %v, want 1s", got)
	}
}
