package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.duration_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// addressPlaceholder must appear in session.address_format
const addressPlaceholder = "{address}"

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateReadiness()...)
	errors = append(errors, c.validateCatalog()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateSim()...)

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError
	s := c.Session

	positive := []struct {
		field string
		value int
	}{
		{"session.max_active_resources", s.MaxActiveResources},
		{"session.duration_seconds", s.DurationSeconds},
		{"session.outer_poll_interval_ms", s.OuterPollIntervalMs},
		{"session.inner_poll_interval_ms", s.InnerPollIntervalMs},
		{"session.command_timeout_seconds", s.CommandTimeoutSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "must be positive",
			})
		}
	}

	// The countdown renders as mm:ss
	const maxDurationSeconds = 24 * 60 * 60
	if s.DurationSeconds > maxDurationSeconds {
		errors = append(errors, ValidationError{
			Field:   "session.duration_seconds",
			Value:   s.DurationSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d", maxDurationSeconds),
		})
	}

	// A result poll slower than the check cadence would overlap checks
	if s.InnerPollIntervalMs > 0 && s.OuterPollIntervalMs > 0 && s.InnerPollIntervalMs > s.OuterPollIntervalMs {
		errors = append(errors, ValidationError{
			Field:   "session.inner_poll_interval_ms",
			Value:   s.InnerPollIntervalMs,
			Message: "must not exceed session.outer_poll_interval_ms",
		})
	}

	if s.MaxAwaitReadySeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.max_await_ready_seconds",
			Value:   s.MaxAwaitReadySeconds,
			Message: "must be non-negative (0 = unbounded)",
		})
	}

	if s.MinSecretLength < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.min_secret_length",
			Value:   s.MinSecretLength,
			Message: "must be non-negative",
		})
	}

	if !strings.Contains(s.AddressFormat, addressPlaceholder) {
		errors = append(errors, ValidationError{
			Field:   "session.address_format",
			Value:   s.AddressFormat,
			Message: fmt.Sprintf("must contain %s", addressPlaceholder),
		})
	}

	return errors
}

// validateReadiness validates the ReadinessConfig
func (c *Config) validateReadiness() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Readiness.Marker) == "" {
		errors = append(errors, ValidationError{
			Field:   "readiness.marker",
			Value:   c.Readiness.Marker,
			Message: "must not be empty",
		})
	}

	if len(c.Readiness.Commands) == 0 {
		errors = append(errors, ValidationError{
			Field:   "readiness.commands",
			Value:   c.Readiness.Commands,
			Message: "must contain at least one command",
		})
	}
	for i, cmd := range c.Readiness.Commands {
		if strings.TrimSpace(cmd) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("readiness.commands[%d]", i),
				Value:   cmd,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

// validateCatalog checks that every allow-list entry is a valid glob
func (c *Config) validateCatalog() []ValidationError {
	var errors []ValidationError
	errors = append(errors, validatePatterns("catalog.resource_classes", c.Catalog.ResourceClasses)...)
	errors = append(errors, validatePatterns("catalog.images", c.Catalog.Images)...)
	return errors
}

func validatePatterns(field string, patterns []string) []ValidationError {
	var errors []ValidationError
	for i, p := range patterns {
		if _, err := glob.Compile(p); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Value:   p,
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}
	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateSim validates the SimConfig
func (c *Config) validateSim() []ValidationError {
	var errors []ValidationError

	nonNegative := []struct {
		field string
		value int
	}{
		{"sim.boot_delay_ms", c.Sim.BootDelayMs},
		{"sim.service_delay_ms", c.Sim.ServiceDelayMs},
		{"sim.latency_ms", c.Sim.LatencyMs},
		{"sim.foreign_active", c.Sim.ForeignActive},
	}
	for _, n := range nonNegative {
		if n.value < 0 {
			errors = append(errors, ValidationError{
				Field:   n.field,
				Value:   n.value,
				Message: "must be non-negative",
			})
		}
	}

	return errors
}
