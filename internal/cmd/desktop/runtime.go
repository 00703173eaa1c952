// Package desktop provides the CLI commands that run a desktop session:
// launch (dashboard or plain output) and serve-mcp.
package desktop

import (
	"context"
	"fmt"
	"os"

	"github.com/Iron-Ham/flashdesk/internal/catalog"
	"github.com/Iron-Ham/flashdesk/internal/config"
	"github.com/Iron-Ham/flashdesk/internal/countdown"
	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/event"
	"github.com/Iron-Ham/flashdesk/internal/gateway/sim"
	"github.com/Iron-Ham/flashdesk/internal/limiter"
	"github.com/Iron-Ham/flashdesk/internal/logging"
	"github.com/Iron-Ham/flashdesk/internal/orchestrator"
	"github.com/Iron-Ham/flashdesk/internal/readiness"
)

// Runtime is the wired set of components one process runs a session on.
type Runtime struct {
	Logger       *logging.Logger
	Bus          *event.Bus
	Backend      *sim.Backend
	Limiter      *limiter.Limiter
	Orchestrator *orchestrator.Orchestrator
}

// RuntimeOption configures NewRuntime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	opener orchestrator.Opener
	timer  *countdown.Timer
}

// WithOpener sets the opener that receives the ready URL.
func WithOpener(o orchestrator.Opener) RuntimeOption {
	return func(r *runtimeOptions) { r.opener = o }
}

// WithTimer replaces the one-second countdown timer.
func WithTimer(t *countdown.Timer) RuntimeOption {
	return func(r *runtimeOptions) { r.timer = t }
}

// NewRuntime builds the components described by cfg.
func NewRuntime(cfg *config.Config, logger *logging.Logger, opts ...RuntimeOption) (*Runtime, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	ro := &runtimeOptions{}
	for _, opt := range opts {
		opt(ro)
	}

	backend := NewBackend(cfg, logger)
	poller := NewPoller(cfg, backend, logger)
	settings, err := BuildSettings(cfg, poller)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus(logger)
	lim := limiter.New(backend,
		limiter.WithMax(cfg.Session.MaxActiveResources),
		limiter.WithLogger(logger),
	)

	orchOpts := []orchestrator.Option{
		orchestrator.WithSettings(settings),
		orchestrator.WithLogger(logger),
	}
	if ro.opener != nil {
		orchOpts = append(orchOpts, orchestrator.WithOpener(ro.opener))
	}
	if ro.timer != nil {
		orchOpts = append(orchOpts, orchestrator.WithTimer(ro.timer))
	}

	return &Runtime{
		Logger:       logger,
		Bus:          bus,
		Backend:      backend,
		Limiter:      lim,
		Orchestrator: orchestrator.New(backend, lim, poller, bus, orchOpts...),
	}, nil
}

// Start runs the orchestrator in the background. Cancelling ctx tears down
// any live resource; wait on Orchestrator.Done for that to finish.
func (r *Runtime) Start(ctx context.Context) {
	go func() {
		if err := r.Orchestrator.Run(ctx); err != nil {
			r.Logger.Error("orchestrator stopped", "error", err.Error())
		}
	}()
}

// Reload applies cfg to subsequent launches.
func (r *Runtime) Reload(cfg *config.Config, path string) error {
	poller := NewPoller(cfg, r.Backend, r.Logger)
	settings, err := BuildSettings(cfg, poller)
	if err != nil {
		return err
	}
	if err := r.Orchestrator.Reconfigure(settings); err != nil {
		return err
	}
	r.Bus.Publish(event.NewConfigReloadedEvent(path))
	return nil
}

// NewBackend creates the simulated gateway described by cfg.Sim.
func NewBackend(cfg *config.Config, logger *logging.Logger) *sim.Backend {
	return sim.New(
		sim.WithBootDelay(cfg.Sim.BootDelay()),
		sim.WithServiceDelay(cfg.Sim.ServiceDelay()),
		sim.WithLatency(cfg.Sim.Latency()),
		sim.WithForeignActive(cfg.Sim.ForeignActive),
		sim.WithMarker(cfg.Readiness.Marker),
		sim.WithLogger(logger),
	)
}

// NewPoller creates the readiness poller described by cfg.
func NewPoller(cfg *config.Config, backend *sim.Backend, logger *logging.Logger) *readiness.Poller {
	return readiness.NewPoller(backend, backend,
		readiness.WithDocument(cfg.Readiness.Document),
		readiness.WithCommands(cfg.Readiness.Commands...),
		readiness.WithMarker(cfg.Readiness.Marker),
		readiness.WithInnerInterval(cfg.Session.InnerPollInterval()),
		readiness.WithCommandTimeout(cfg.Session.CommandTimeout()),
		readiness.WithLogger(logger),
	)
}

// BuildSettings converts cfg to per-launch orchestrator settings.
func BuildSettings(cfg *config.Config, poller *readiness.Poller) (orchestrator.Settings, error) {
	cat, err := catalog.New(cfg.Catalog.ResourceClasses, cfg.Catalog.Images)
	if err != nil {
		return orchestrator.Settings{}, errors.Wrap(err, "invalid catalog")
	}
	return orchestrator.Settings{
		SessionDuration:   cfg.Session.DurationSeconds,
		OuterPollInterval: cfg.Session.OuterPollInterval(),
		MaxAwaitReady:     cfg.Session.MaxAwaitReady(),
		AddressFormat:     cfg.Session.AddressFormat,
		MinSecretLength:   cfg.Session.MinSecretLength,
		MaxActive:         cfg.Session.MaxActiveResources,
		Catalog:           cat,
		Poller:            poller,
	}, nil
}

// CreateLogger creates the file logger described by cfg.Logging. When file
// logging is disabled it returns a no-op logger; a logger that cannot be
// opened is reported on stderr and replaced with a no-op logger.
func CreateLogger(cfg *config.Config) *logging.Logger {
	dir := cfg.Logging.ResolveLogDir()
	if dir == "" {
		return logging.NopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create log directory: %v\n", err)
		return logging.NopLogger()
	}

	logger, err := logging.New(logging.Options{
		Dir:   dir,
		Level: cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
	if err != nil {
		// Log creation failure shouldn't prevent the application from starting
		fmt.Fprintf(os.Stderr, "Warning: failed to create logger: %v\n", err)
		return logging.NopLogger()
	}
	return logger
}
