package orchestrator

import (
	"time"

	"github.com/Iron-Ham/flashdesk/internal/catalog"
	"github.com/Iron-Ham/flashdesk/internal/countdown"
	"github.com/Iron-Ham/flashdesk/internal/logging"
	"github.com/Iron-Ham/flashdesk/internal/readiness"
)

const (
	defaultSessionDuration   = 600
	defaultOuterPollInterval = 5 * time.Second
	defaultMaxAwaitReady     = 15 * time.Minute
	defaultMinSecretLength   = 8
	defaultAddressFormat     = "https://{address}:6901"
	defaultCallTimeout       = 2 * time.Minute
	defaultShutdownTimeout   = 30 * time.Second

	// addressPlaceholder is replaced by the resource address in AddressFormat.
	addressPlaceholder = "{address}"
)

// Settings are the per-launch parameters. A Launch captures the settings in
// effect when it is accepted; Reconfigure only affects later launches.
type Settings struct {
	// SessionDuration is the countdown length in seconds once Ready.
	SessionDuration int
	// OuterPollInterval is the readiness check cadence.
	OuterPollInterval time.Duration
	// MaxAwaitReady bounds the AwaitingReady phase. Zero waits forever.
	MaxAwaitReady time.Duration
	// AddressFormat derives the user-facing URL from the resource address.
	AddressFormat string
	// MinSecretLength is the shortest accepted credential.
	MinSecretLength int
	// MaxActive, when positive, replaces the limiter ceiling.
	MaxActive int
	// Catalog validates class and image. Nil admits any non-empty value.
	Catalog *catalog.Catalog
	// Poller, when non-nil, replaces the readiness poller.
	Poller *readiness.Poller
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		SessionDuration:   defaultSessionDuration,
		OuterPollInterval: defaultOuterPollInterval,
		MaxAwaitReady:     defaultMaxAwaitReady,
		AddressFormat:     defaultAddressFormat,
		MinSecretLength:   defaultMinSecretLength,
		Catalog:           catalog.Default(),
	}
}

// normalize fills zero values with defaults. MaxAwaitReady is left alone
// because zero is meaningful.
func (s Settings) normalize() Settings {
	if s.SessionDuration <= 0 {
		s.SessionDuration = defaultSessionDuration
	}
	if s.OuterPollInterval <= 0 {
		s.OuterPollInterval = defaultOuterPollInterval
	}
	if s.MaxAwaitReady < 0 {
		s.MaxAwaitReady = 0
	}
	if s.AddressFormat == "" {
		s.AddressFormat = defaultAddressFormat
	}
	if s.MinSecretLength < 0 {
		s.MinSecretLength = 0
	}
	return s
}

// Option configures an Orchestrator.
type Option func(*config)

type config struct {
	settings        Settings
	opener          Opener
	timer           *countdown.Timer
	callTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// WithSettings sets the initial per-launch settings.
func WithSettings(s Settings) Option {
	return func(c *config) {
		c.settings = s
	}
}

// WithOpener sets the component that receives the ready URL exactly once
// per session.
func WithOpener(o Opener) Option {
	return func(c *config) {
		c.opener = o
	}
}

// WithTimer supplies the termination countdown. Tests pass a timer with a
// millisecond step.
func WithTimer(t *countdown.Timer) Option {
	return func(c *config) {
		c.timer = t
	}
}

// WithCallTimeout bounds each gateway call.
// A zero or negative value is replaced with the default (2m).
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) {
		c.callTimeout = d
	}
}

// WithShutdownTimeout bounds teardown when Run's context is cancelled.
// A zero or negative value is replaced with the default (30s).
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *config) {
		c.shutdownTimeout = d
	}
}

// WithLogger sets the logger for the orchestrator.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
