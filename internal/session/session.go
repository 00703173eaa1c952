// Package session defines the session data model: the lifecycle state enum,
// the Session value whose transition methods enforce the lifecycle
// invariants, the immutable Snapshot handed to the presentation layer, and
// the redacting Secret type.
//
// A Session is not safe for concurrent use. The orchestrator owns exactly one
// and mutates it only from its event loop.
package session

import (
	"fmt"
	"time"
)

// Stable status phrases, one per transition, so presentation layers can
// distinguish outcomes by string as well as by State.
const (
	StatusConfiguring = "Configuring resources..."
	StatusLaunching   = "Launching your cloud desktop... This might take up to 5 min"
	StatusReady       = "Cloud desktop is ready!"
	StatusTerminating = "Terminating instance..."
	StatusTerminated  = "Cloud desktop terminated"
	StatusCapacity    = "Maximum number exceeded, please try again later"
	StatusErrorPrefix = "Error: "
)

// Session is the single in-flight desktop session.
type Session struct {
	id            string
	address       string
	state         State
	status        string
	remaining     int
	resourceClass string
	image         string
	err           error
	updatedAt     time.Time
}

// New returns an Idle session.
func New() *Session {
	return &Session{state: StateIdle, updatedAt: time.Now()}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// ID returns the resource handle, or "" when none exists.
func (s *Session) ID() string { return s.id }

// Address returns the resource address, or "" when not yet known.
func (s *Session) Address() string { return s.address }

// Remaining returns the countdown value and whether it is set.
func (s *Session) Remaining() (int, bool) {
	return s.remaining, s.state == StateReady
}

// Err returns the failure cause recorded by the last transition, if any.
func (s *Session) Err() error { return s.err }

// BeginProvisioning starts a new session from Idle, Terminated or Failed.
// Any leftover fields of the previous session are cleared.
func (s *Session) BeginProvisioning(resourceClass, image string) error {
	if !s.state.CanLaunch() {
		return fmt.Errorf("cannot launch from state %s", s.state)
	}
	*s = Session{
		state:         StateProvisioning,
		status:        StatusConfiguring,
		resourceClass: resourceClass,
		image:         image,
	}
	s.touch()
	return nil
}

// Provisioned records the created resource and moves to AwaitingReady.
// The address stays unknown until Describe reports it.
func (s *Session) Provisioned(id string) error {
	if s.state != StateProvisioning {
		return fmt.Errorf("cannot record resource from state %s", s.state)
	}
	s.id = id
	s.state = StateAwaitingReady
	s.status = StatusLaunching
	s.touch()
	return nil
}

// SetAddress records the resource address. Only meaningful while a resource
// is held; it returns false otherwise and leaves the session untouched.
func (s *Session) SetAddress(address string) bool {
	if !s.state.HoldsResource() || address == "" {
		return false
	}
	s.address = address
	s.touch()
	return true
}

// MarkReady moves AwaitingReady to Ready with the full countdown.
func (s *Session) MarkReady(address string, seconds int) error {
	if s.state != StateAwaitingReady {
		return fmt.Errorf("cannot become ready from state %s", s.state)
	}
	if address != "" {
		s.address = address
	}
	s.state = StateReady
	s.status = StatusReady
	s.remaining = seconds
	s.touch()
	return nil
}

// Tick updates the countdown. Ticks outside Ready, and ticks that do not
// decrease the count, are ignored and reported as false.
func (s *Session) Tick(remaining int) bool {
	if s.state != StateReady || remaining >= s.remaining || remaining < 0 {
		return false
	}
	s.remaining = remaining
	s.touch()
	return true
}

// BeginTerminating moves to Terminating. It is accepted from AwaitingReady,
// Ready, and from Failed when a resource ID was retained for cleanup.
func (s *Session) BeginTerminating() error {
	switch {
	case s.state == StateAwaitingReady, s.state == StateReady:
	case s.state == StateFailed && s.id != "":
		// A retried teardown that succeeds counts as acknowledgment.
		s.err = nil
	default:
		return fmt.Errorf("cannot terminate from state %s", s.state)
	}
	s.state = StateTerminating
	s.status = StatusTerminating
	s.remaining = 0
	s.touch()
	return nil
}

// TerminateSucceeded clears the resource. The session returns to Idle, or
// to Failed when a failure cause was recorded before teardown began
// (e.g. the ready timeout).
func (s *Session) TerminateSucceeded() {
	if s.state != StateTerminating {
		return
	}
	s.id = ""
	s.address = ""
	s.remaining = 0
	if s.err != nil {
		s.state = StateFailed
		s.status = StatusErrorPrefix + s.err.Error()
	} else {
		s.state = StateIdle
		s.status = StatusTerminated
	}
	s.touch()
}

// Shutdown marks a torn-down session as Terminated. Used when the
// orchestrator itself is stopping and no further launches follow.
func (s *Session) Shutdown() {
	s.id = ""
	s.address = ""
	s.remaining = 0
	s.state = StateTerminated
	s.status = StatusTerminated
	s.touch()
}

// Reject returns a Provisioning session to Idle without a resource, e.g.
// when the capacity ceiling is reached.
func (s *Session) Reject(status string, cause error) {
	if s.state != StateProvisioning {
		return
	}
	s.state = StateIdle
	s.status = status
	s.err = cause
	s.id = ""
	s.address = ""
	s.remaining = 0
	s.touch()
}

// RecordCause stores a failure cause without changing state. The cause
// decides the final state once the pending teardown completes.
func (s *Session) RecordCause(err error) {
	s.err = err
}

// Fail moves to Failed. When keepID is set the resource ID is retained so
// teardown can be retried; the address is always cleared.
func (s *Session) Fail(err error, keepID bool) {
	s.state = StateFailed
	s.err = err
	if err != nil {
		s.status = StatusErrorPrefix + err.Error()
	} else {
		s.status = StatusErrorPrefix + "unknown failure"
	}
	if !keepID {
		s.id = ""
	}
	s.address = ""
	s.remaining = 0
	s.touch()
}

// Acknowledge resets a Failed session to Idle. The retained resource ID, if
// any, is dropped; the caller is expected to have cleaned it up.
func (s *Session) Acknowledge() error {
	if s.state != StateFailed {
		return fmt.Errorf("nothing to acknowledge in state %s", s.state)
	}
	*s = Session{state: StateIdle}
	s.touch()
	return nil
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}

// Snapshot returns an immutable copy for the presentation layer.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:         s.state,
		Status:        s.status,
		ResourceID:    s.id,
		ResourceClass: s.resourceClass,
		Image:         s.image,
		UpdatedAt:     s.updatedAt,
	}
	if s.state.HoldsResource() {
		snap.Address = s.address
	}
	if s.state == StateReady {
		r := s.remaining
		snap.RemainingSeconds = &r
	}
	if s.err != nil {
		snap.Err = s.err
		snap.Error = s.err.Error()
	}
	return snap
}

// Snapshot is the (state, status, address?, remainingSeconds?) view of a
// session published on every transition.
type Snapshot struct {
	State            State     `json:"state"`
	Status           string    `json:"status"`
	Address          string    `json:"address,omitempty"`
	RemainingSeconds *int      `json:"remaining_seconds,omitempty"`
	ResourceID       string    `json:"resource_id,omitempty"`
	ResourceClass    string    `json:"resource_class,omitempty"`
	Image            string    `json:"image,omitempty"`
	Error            string    `json:"error,omitempty"`
	Err              error     `json:"-"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Remaining returns the countdown value, or 0 and false when absent.
func (s Snapshot) Remaining() (int, bool) {
	if s.RemainingSeconds == nil {
		return 0, false
	}
	return *s.RemainingSeconds, true
}
