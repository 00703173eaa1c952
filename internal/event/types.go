package event

import (
	"time"

	"github.com/Iron-Ham/flashdesk/internal/session"
)

// Event type identifiers.
const (
	TypeSessionChanged   = "session.changed"
	TypeAddressOpened    = "session.address_opened"
	TypeReadinessChecked = "readiness.checked"
	TypeConfigReloaded   = "config.reloaded"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// SessionChangedEvent carries the snapshot taken after every transition,
// including each countdown tick.
type SessionChangedEvent struct {
	baseEvent
	Snapshot session.Snapshot
	Previous session.State
}

// NewSessionChangedEvent creates a SessionChangedEvent.
func NewSessionChangedEvent(snap session.Snapshot, previous session.State) SessionChangedEvent {
	return SessionChangedEvent{
		baseEvent: newBaseEvent(TypeSessionChanged),
		Snapshot:  snap,
		Previous:  previous,
	}
}

// AddressOpenedEvent is emitted exactly once per session when it becomes
// ready and its URL is handed to the opener.
type AddressOpenedEvent struct {
	baseEvent
	ResourceID string
	URL        string
}

// NewAddressOpenedEvent creates an AddressOpenedEvent.
func NewAddressOpenedEvent(resourceID, url string) AddressOpenedEvent {
	return AddressOpenedEvent{
		baseEvent:  newBaseEvent(TypeAddressOpened),
		ResourceID: resourceID,
		URL:        url,
	}
}

// ReadinessCheckedEvent reports a completed readiness check.
type ReadinessCheckedEvent struct {
	baseEvent
	ResourceID string
	Attempt    int
	Ready      bool
	Err        string // empty when the check itself succeeded
}

// NewReadinessCheckedEvent creates a ReadinessCheckedEvent.
func NewReadinessCheckedEvent(resourceID string, attempt int, ready bool, err error) ReadinessCheckedEvent {
	e := ReadinessCheckedEvent{
		baseEvent:  newBaseEvent(TypeReadinessChecked),
		ResourceID: resourceID,
		Attempt:    attempt,
		Ready:      ready,
	}
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// ConfigReloadedEvent is emitted after the configuration file changed and
// was re-read successfully.
type ConfigReloadedEvent struct {
	baseEvent
	Path string
}

// NewConfigReloadedEvent creates a ConfigReloadedEvent.
func NewConfigReloadedEvent(path string) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		baseEvent: newBaseEvent(TypeConfigReloaded),
		Path:      path,
	}
}
