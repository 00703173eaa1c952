// Package limiter enforces the ceiling on concurrently provisioned resources.
//
// The active count is read from the backend on every check and never cached,
// because other sessions and users may share the same backend account. The
// check does not reserve capacity: two launches racing against the same
// account can both pass it.
package limiter

import (
	"context"
	"sync/atomic"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/logging"
)

// DefaultMaxActive is the ceiling used when none is configured.
const DefaultMaxActive = 2

// Counter reports how many resources are currently active.
// gateway.Provisioner satisfies it.
type Counter interface {
	CountActive(ctx context.Context) (int, error)
}

// Limiter gates launches on the active-resource count.
type Limiter struct {
	counter Counter
	max     atomic.Int64
	logger  *logging.Logger
}

type options struct {
	max    int
	logger *logging.Logger
}

// Option configures a Limiter.
type Option func(*options)

// WithMax sets the ceiling. Values below 1 are replaced with DefaultMaxActive.
func WithMax(n int) Option {
	return func(o *options) {
		o.max = n
	}
}

// WithLogger sets the logger for the limiter.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a Limiter backed by counter.
func New(counter Counter, opts ...Option) *Limiter {
	if counter == nil {
		panic("limiter: Counter must not be nil")
	}
	o := &options{max: DefaultMaxActive}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}

	l := &Limiter{counter: counter, logger: o.logger.WithComponent("limiter")}
	l.SetMax(o.max)
	return l
}

// Max returns the configured ceiling.
func (l *Limiter) Max() int {
	return int(l.max.Load())
}

// SetMax changes the ceiling for subsequent checks. Values below 1 are
// replaced with DefaultMaxActive.
func (l *Limiter) SetMax(n int) {
	if n < 1 {
		n = DefaultMaxActive
	}
	l.max.Store(int64(n))
}

// CanLaunch reports whether one more resource fits under the ceiling.
// The error is non-nil only when the count could not be read.
func (l *Limiter) CanLaunch(ctx context.Context) (bool, error) {
	err := l.Admit(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.IsCapacity(err):
		return false, nil
	default:
		return false, err
	}
}

// Admit returns nil when a launch may proceed, a *errors.CapacityError when
// the ceiling is reached, or a *errors.ProvisioningError when the count
// could not be read.
func (l *Limiter) Admit(ctx context.Context) error {
	active, err := l.counter.CountActive(ctx)
	if err != nil {
		l.logger.Warn("failed to count active resources", "error", err.Error())
		var deskErr errors.DeskError
		if errors.As(err, &deskErr) {
			return err
		}
		return errors.NewProvisioningError("count", err)
	}

	ceiling := l.Max()
	if active >= ceiling {
		l.logger.Info("launch rejected at capacity", "active", active, "max", ceiling)
		return errors.NewCapacityError(active, ceiling)
	}

	l.logger.Debug("launch admitted", "active", active, "max", ceiling)
	return nil
}
