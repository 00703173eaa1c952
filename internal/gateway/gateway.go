// Package gateway defines the two capability interfaces the session
// orchestrator drives: a Provisioner for the resource lifecycle and a
// CommandRunner for asynchronous in-resource command execution.
//
// Concrete backends live in subpackages (see gateway/sim). Implementations
// report failures through the errors package so callers can classify them:
// a Create refused for quota reasons wraps errors.ErrCapacityExceeded, and
// transient API failures are ProvisioningErrors marked retryable.
package gateway

import (
	"context"
	"time"

	"github.com/Iron-Ham/flashdesk/internal/session"
)

// LifecycleState is the backend's view of a resource. The orchestrator only
// treats LifecycleRunning as progress.
type LifecycleState string

// Lifecycle states reported by Describe.
const (
	LifecyclePending      LifecycleState = "pending"
	LifecycleRunning      LifecycleState = "running"
	LifecycleStopping     LifecycleState = "stopping"
	LifecycleStopped      LifecycleState = "stopped"
	LifecycleShuttingDown LifecycleState = "shutting-down"
	LifecycleTerminated   LifecycleState = "terminated"
)

// Gone reports whether the resource left the lifecycle for good.
func (s LifecycleState) Gone() bool {
	return s == LifecycleShuttingDown || s == LifecycleTerminated
}

// CreateRequest carries the launch parameters to Create. The secret is
// consumed by the call; implementations must not retain or log it.
type CreateRequest struct {
	ResourceClass string
	Image         string
	Secret        session.Secret
}

// Description is the result of Describe.
type Description struct {
	State LifecycleState
	// Address is empty until the backend assigns one.
	Address string
}

// Provisioner abstracts the compute resource lifecycle.
type Provisioner interface {
	// Create provisions a new resource. It is not idempotent: each call
	// provisions another resource.
	Create(ctx context.Context, req CreateRequest) (string, error)

	// Describe reports the lifecycle state and address of a resource.
	Describe(ctx context.Context, resourceID string) (Description, error)

	// Terminate tears the resource down.
	Terminate(ctx context.Context, resourceID string) error

	// CountActive returns the number of running resources on the account,
	// including ones created by other users.
	CountActive(ctx context.Context) (int, error)
}

// CommandStatus is the status of an asynchronous command invocation.
type CommandStatus string

// Command statuses reported by GetResult.
const (
	StatusPending    CommandStatus = "Pending"
	StatusInProgress CommandStatus = "InProgress"
	StatusSuccess    CommandStatus = "Success"
	StatusFailed     CommandStatus = "Failed"
	StatusTimedOut   CommandStatus = "TimedOut"
)

// Terminal reports whether polling can stop.
func (s CommandStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusTimedOut
}

// CommandSpec describes a shell command to run inside a resource.
type CommandSpec struct {
	// Document names the backend's execution document (for example a
	// "run shell script" document). Empty means the backend default.
	Document string
	Commands []string
	// Timeout is passed to the backend as its own execution limit.
	Timeout time.Duration
}

// CommandResult is the result of GetResult.
type CommandResult struct {
	Status CommandStatus
	Output string
}

// CommandRunner abstracts fire-and-poll command execution.
type CommandRunner interface {
	// Invoke submits spec for execution on the resource and returns an
	// invocation ID to poll.
	Invoke(ctx context.Context, resourceID string, spec CommandSpec) (string, error)

	// GetResult reports the current status and output of an invocation.
	GetResult(ctx context.Context, invocationID string) (CommandResult, error)
}
