package tui

import (
	"sync"

	"github.com/Iron-Ham/flashdesk/internal/event"
	"github.com/Iron-Ham/flashdesk/internal/session"
)

// Feed forwards session snapshots from the event bus to the dashboard.
// It holds at most one pending snapshot: when the dashboard falls behind,
// older snapshots are replaced by newer ones, so publishing never blocks
// the orchestrator.
type Feed struct {
	bus   *event.Bus
	subID string
	ch    chan session.Snapshot
	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
}

// NewFeed subscribes to session changes on bus.
func NewFeed(bus *event.Bus) *Feed {
	f := &Feed{
		bus:  bus,
		ch:   make(chan session.Snapshot, 1),
		done: make(chan struct{}),
	}
	f.subID = bus.Subscribe(event.TypeSessionChanged, f.handle)
	return f
}

func (f *Feed) handle(e event.Event) {
	ev, ok := e.(event.SessionChangedEvent)
	if !ok {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.ch:
	default:
	}
	f.ch <- ev.Snapshot
}

// C returns the snapshot channel.
func (f *Feed) C() <-chan session.Snapshot {
	return f.ch
}

// Done is closed by Close.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Close unsubscribes from the bus. It is safe to call more than once.
func (f *Feed) Close() {
	f.once.Do(func() {
		f.bus.Unsubscribe(f.subID)
		close(f.done)
	})
}
