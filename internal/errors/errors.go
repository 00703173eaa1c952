// Package errors provides centralized error definitions and error handling utilities
// for flashdesk. It defines the session lifecycle error taxonomy, error constructors
// with context wrapping, and the classification helpers the orchestrator uses to
// decide whether a failure is absorbed or escalated.
//
// # Error Types
//
// Domain-specific errors map onto the lifecycle taxonomy:
//   - CapacityError: launch rejected because the active-resource ceiling is reached
//   - ProvisioningError: a Create/Describe/Terminate/CountActive call failed
//   - ReadinessError: a single diagnostic command failed or timed out
//   - AddressUnavailableError: the resource is running but has no address yet
//   - SessionError: a request the state machine rejected (e.g. Launch while busy)
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid launch input
//   - TimeoutError: an operation exceeded its time budget
//
// # Usage
//
//	err := errors.NewProvisioningError("create", cause).WithResourceID("i-1")
//	if errors.IsRetryable(err) { ... }
//	if errors.IsCapacity(err) { ... }
//
// # Error Classification
//
// Transient errors (capacity, readiness, address unavailable) are retryable and
// absorbed by the outer poll cadence. Provisioning errors are retryable only when
// the gateway says so; the orchestrator never retries a Create or Terminate.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session state machine sentinels
var (
	// ErrSessionActive indicates a Launch while another session is in flight.
	ErrSessionActive = New("a session is already active")
	// ErrNoSession indicates an operation that needs a provisioned resource.
	ErrNoSession = New("no active session")
	// ErrNotRunning indicates the orchestrator event loop is not running.
	ErrNotRunning = New("orchestrator is not running")
	// ErrReadyTimeout indicates the resource never became ready in time.
	ErrReadyTimeout = New("timed out waiting for the desktop to become ready")
)

// Backend sentinels
var (
	// ErrCapacityExceeded indicates the active-resource ceiling is reached.
	ErrCapacityExceeded = New("maximum number of active resources exceeded")
	// ErrResourceGone indicates the resource left the running lifecycle on its own.
	ErrResourceGone = New("resource is no longer available")
	// ErrAddressUnavailable indicates a running resource without an address.
	ErrAddressUnavailable = New("resource address not available yet")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// DeskError is the base interface for all flashdesk errors.
type DeskError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the condition is transient.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// CapacityError reports that a launch was refused by the active-resource ceiling.
// It is a normal business outcome: the session returns to Idle and the user may
// retry immediately.
//
// Example:
//
//	err := errors.NewCapacityError(2, 2)
//	fmt.Println(err) // "capacity exceeded [active=2, max=2]: maximum number of active resources exceeded"
type CapacityError struct {
	baseError
	Active int
	Max    int
}

// NewCapacityError creates a CapacityError for the observed active count and ceiling.
// A negative active count means the limit was reported by the backend itself.
func NewCapacityError(active, ceiling int) *CapacityError {
	return &CapacityError{
		baseError: baseError{
			message:    "launch rejected",
			cause:      ErrCapacityExceeded,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Active: active,
		Max:    ceiling,
	}
}

// WithCause replaces the cause, keeping the capacity sentinel reachable via Is.
func (e *CapacityError) WithCause(cause error) *CapacityError {
	e.cause = Join(ErrCapacityExceeded, cause)
	return e
}

// Error returns the formatted error message.
func (e *CapacityError) Error() string {
	if e.Active < 0 {
		return fmt.Sprintf("capacity exceeded [max=%d]: %v", e.Max, e.cause)
	}
	return fmt.Sprintf("capacity exceeded [active=%d, max=%d]: %v", e.Active, e.Max, e.cause)
}

// Is checks if this error matches the target.
func (e *CapacityError) Is(target error) bool {
	if _, ok := target.(*CapacityError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ProvisioningError represents a failed call against the provisioning backend.
// Whether it is retryable is decided by the gateway that produced it; the
// orchestrator escalates it to the session either way.
//
// Example:
//
//	err := errors.NewProvisioningError("terminate", cause).WithResourceID("i-1")
//	fmt.Println(err) // "provisioning error [op=terminate, resource=i-1]: ..."
type ProvisioningError struct {
	baseError
	Operation  string
	ResourceID string
}

// NewProvisioningError creates a ProvisioningError for the named operation.
func NewProvisioningError(operation string, cause error) *ProvisioningError {
	return &ProvisioningError{
		baseError: baseError{
			message:    fmt.Sprintf("%s failed", operation),
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Operation: operation,
	}
}

// WithResourceID adds a resource ID to the error context.
func (e *ProvisioningError) WithResourceID(id string) *ProvisioningError {
	e.ResourceID = id
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ProvisioningError) WithRetryable(r bool) *ProvisioningError {
	e.retryable = r
	return e
}

// WithSeverity sets the error severity.
func (e *ProvisioningError) WithSeverity(s Severity) *ProvisioningError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *ProvisioningError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Operation))
	}
	if e.ResourceID != "" {
		parts = append(parts, fmt.Sprintf("resource=%s", e.ResourceID))
	}

	prefix := "provisioning error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("provisioning error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ProvisioningError) Is(target error) bool {
	if _, ok := target.(*ProvisioningError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ReadinessError represents a single diagnostic invocation that failed, timed out,
// or could not be submitted. It is always retryable: the next outer poll cycle
// issues a fresh invocation.
type ReadinessError struct {
	baseError
	ResourceID   string
	InvocationID string
	Status       string
}

// NewReadinessError creates a ReadinessError.
func NewReadinessError(message string, cause error) *ReadinessError {
	return &ReadinessError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: false,
		},
	}
}

// WithResourceID adds a resource ID to the error context.
func (e *ReadinessError) WithResourceID(id string) *ReadinessError {
	e.ResourceID = id
	return e
}

// WithInvocationID adds the diagnostic invocation ID to the error context.
func (e *ReadinessError) WithInvocationID(id string) *ReadinessError {
	e.InvocationID = id
	return e
}

// WithStatus records the terminal command status that caused the error.
func (e *ReadinessError) WithStatus(status string) *ReadinessError {
	e.Status = status
	return e
}

// Error returns the formatted error message.
func (e *ReadinessError) Error() string {
	var parts []string
	if e.ResourceID != "" {
		parts = append(parts, fmt.Sprintf("resource=%s", e.ResourceID))
	}
	if e.InvocationID != "" {
		parts = append(parts, fmt.Sprintf("invocation=%s", e.InvocationID))
	}
	if e.Status != "" {
		parts = append(parts, fmt.Sprintf("status=%s", e.Status))
	}

	prefix := "readiness error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("readiness error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ReadinessError) Is(target error) bool {
	if _, ok := target.(*ReadinessError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AddressUnavailableError reports a resource that is running but has not been
// assigned a network address yet. It is treated exactly like "not yet ready".
type AddressUnavailableError struct {
	baseError
	ResourceID string
}

// NewAddressUnavailableError creates an AddressUnavailableError.
func NewAddressUnavailableError(resourceID string) *AddressUnavailableError {
	return &AddressUnavailableError{
		baseError: baseError{
			message:    fmt.Sprintf("resource %s", resourceID),
			cause:      ErrAddressUnavailable,
			severity:   SeverityDebug,
			retryable:  true,
			userFacing: false,
		},
		ResourceID: resourceID,
	}
}

// Is checks if this error matches the target.
func (e *AddressUnavailableError) Is(target error) bool {
	if _, ok := target.(*AddressUnavailableError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SessionError represents a request that the session state machine refused.
//
// Example:
//
//	err := errors.NewSessionError("launch rejected", errors.ErrSessionActive).WithState("ready")
//	fmt.Println(err) // "session error [state=ready]: launch rejected: a session is already active"
type SessionError struct {
	baseError
	State string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithState records the state the session was in when the request arrived.
func (e *SessionError) WithState(state string) *SessionError {
	e.State = state
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	prefix := "session error"
	if e.State != "" {
		prefix = fmt.Sprintf("session error [state=%s]", e.State)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input.
//
// Example:
//
//	err := errors.NewValidationError("image is not in the catalog").WithField("image").WithValue("kali")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
// Never pass secret material here.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("diagnostic command", 30*time.Second)
//	fmt.Println(err) // "timeout error: diagnostic command (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
// This checks for:
//   - Errors implementing DeskError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var deskErr DeskError
	if As(err, &deskErr) {
		return deskErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var deskErr DeskError
	if As(err, &deskErr) {
		return deskErr.IsUserFacing()
	}
	return false
}

// IsCapacity reports whether err is a capacity rejection, whether it came from
// the limiter or from the backend refusing a Create.
func IsCapacity(err error) bool {
	if err == nil {
		return false
	}
	var capErr *CapacityError
	return As(err, &capErr) || Is(err, ErrCapacityExceeded)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement DeskError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var deskErr DeskError
	if As(err, &deskErr) {
		return deskErr.Severity()
	}
	return SeverityError
}

// UserMessage renders err for the presentation layer. Internal errors collapse
// to the supplied fallback so raw backend output never reaches the user.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if IsUserFacing(err) {
		return err.Error()
	}
	return fallback
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
