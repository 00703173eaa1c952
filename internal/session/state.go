package session

import "fmt"

// State represents where a session is in its lifecycle.
type State int

const (
	// StateIdle indicates no resource exists for this session.
	StateIdle State = iota

	// StateProvisioning indicates the capacity check or Create call is in flight.
	StateProvisioning

	// StateAwaitingReady indicates the resource exists and readiness is being polled.
	StateAwaitingReady

	// StateReady indicates the embedded service is reachable and the countdown is running.
	StateReady

	// StateTerminating indicates the Terminate call is in flight.
	StateTerminating

	// StateTerminated indicates the resource was torn down.
	StateTerminated

	// StateFailed indicates an unrecoverable error; the user must acknowledge it.
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateProvisioning:  "provisioning",
	StateAwaitingReady: "awaiting_ready",
	StateReady:         "ready",
	StateTerminating:   "terminating",
	StateTerminated:    "terminated",
	StateFailed:        "failed",
}

// String returns a human-readable string for the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// CanLaunch reports whether a new Launch is accepted from this state.
func (s State) CanLaunch() bool {
	return s == StateIdle || s == StateTerminated || s == StateFailed
}

// Busy reports whether a gateway call or readiness wait is outstanding.
func (s State) Busy() bool {
	return s == StateProvisioning || s == StateAwaitingReady || s == StateTerminating
}

// HoldsResource reports whether a resource may be provisioned in this state.
func (s State) HoldsResource() bool {
	return s == StateAwaitingReady || s == StateReady || s == StateTerminating
}
