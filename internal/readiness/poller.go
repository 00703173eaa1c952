// Package readiness decides when the desktop service inside a provisioned
// resource is usable. A Poller runs one readiness check: it confirms the
// resource is running with an address, submits a diagnostic command, polls
// that command to completion on the inner cadence, and looks for the
// readiness marker in its output. A Loop repeats checks on the outer cadence
// without ever letting two checks overlap.
package readiness

import (
	"context"
	"strings"
	"time"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/gateway"
	"github.com/Iron-Ham/flashdesk/internal/logging"
)

// Result is the outcome of one readiness check.
type Result struct {
	// Lifecycle is the state Describe reported.
	Lifecycle gateway.LifecycleState
	// Address is set once the resource is running with an address.
	Address string
	// Ready is true when the diagnostic output contained the marker.
	Ready bool
}

// Poller runs readiness checks against a provisioner and command runner.
type Poller struct {
	prov   gateway.Provisioner
	runner gateway.CommandRunner

	spec           gateway.CommandSpec
	marker         string
	innerInterval  time.Duration
	commandTimeout time.Duration
	logger         *logging.Logger
}

// NewPoller creates a Poller. Both gateways must be non-nil.
func NewPoller(prov gateway.Provisioner, runner gateway.CommandRunner, opts ...Option) *Poller {
	if prov == nil {
		panic("readiness: Provisioner must not be nil")
	}
	if runner == nil {
		panic("readiness: CommandRunner must not be nil")
	}

	cfg := &config{
		commands:       DefaultCommands,
		document:       DefaultDocument,
		marker:         DefaultMarker,
		innerInterval:  defaultInnerInterval,
		commandTimeout: defaultCommandTimeout,
		logger:         logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.innerInterval <= 0 {
		cfg.innerInterval = defaultInnerInterval
	}
	if cfg.commandTimeout <= 0 {
		cfg.commandTimeout = defaultCommandTimeout
	}
	if cfg.marker == "" {
		cfg.marker = DefaultMarker
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}

	return &Poller{
		prov:   prov,
		runner: runner,
		spec: gateway.CommandSpec{
			Document: cfg.document,
			Commands: cfg.commands,
			Timeout:  cfg.commandTimeout,
		},
		marker:         cfg.marker,
		innerInterval:  cfg.innerInterval,
		commandTimeout: cfg.commandTimeout,
		logger:         cfg.logger.WithComponent("readiness"),
	}
}

// Check runs one readiness check for resourceID.
//
// A resource that is not running yet yields a not-ready Result and a nil
// error. A running resource without an address yields an
// AddressUnavailableError. Diagnostic command failures yield a
// ReadinessError. All of these are retryable. A resource that has left the
// lifecycle yields a non-retryable ProvisioningError wrapping
// errors.ErrResourceGone.
func (p *Poller) Check(ctx context.Context, resourceID string) (Result, error) {
	log := p.logger.WithResource(resourceID)

	desc, err := p.prov.Describe(ctx, resourceID)
	if err != nil {
		return Result{}, classifyDescribe(resourceID, err)
	}

	res := Result{Lifecycle: desc.State}
	switch {
	case desc.State.Gone():
		return res, errors.NewProvisioningError("describe", errors.ErrResourceGone).
			WithResourceID(resourceID)
	case desc.State != gateway.LifecycleRunning:
		log.Debug("resource not running yet", "lifecycle", string(desc.State))
		return res, nil
	case desc.Address == "":
		return res, errors.NewAddressUnavailableError(resourceID)
	}
	res.Address = desc.Address

	output, err := p.runDiagnostic(ctx, resourceID)
	if err != nil {
		return res, err
	}

	res.Ready = strings.Contains(output, p.marker)
	log.Debug("diagnostic completed", "ready", res.Ready, "output_bytes", len(output))
	return res, nil
}

// runDiagnostic submits the diagnostic command and polls it until it reaches
// a terminal status or the per-invocation timeout elapses.
func (p *Poller) runDiagnostic(ctx context.Context, resourceID string) (string, error) {
	invocationID, err := p.runner.Invoke(ctx, resourceID, p.spec)
	if err != nil {
		return "", errors.NewReadinessError("submit diagnostic command", err).WithResourceID(resourceID)
	}

	deadline := time.NewTimer(p.commandTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.innerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", errors.NewReadinessError("diagnostic command abandoned", ctx.Err()).
				WithResourceID(resourceID).WithInvocationID(invocationID)
		case <-deadline.C:
			return "", errors.NewReadinessError("diagnostic command did not finish",
				errors.NewTimeoutError("diagnostic command", p.commandTimeout)).
				WithResourceID(resourceID).WithInvocationID(invocationID)
		case <-ticker.C:
		}

		result, err := p.runner.GetResult(ctx, invocationID)
		if err != nil {
			return "", errors.NewReadinessError("poll diagnostic command", err).
				WithResourceID(resourceID).WithInvocationID(invocationID)
		}

		switch result.Status {
		case gateway.StatusSuccess:
			return result.Output, nil
		case gateway.StatusPending, gateway.StatusInProgress:
			continue
		default:
			return "", errors.NewReadinessError("diagnostic command did not succeed", nil).
				WithResourceID(resourceID).WithInvocationID(invocationID).WithStatus(string(result.Status))
		}
	}
}

// classifyDescribe keeps gateway-classified errors as they are and treats
// unclassified ones as transient.
func classifyDescribe(resourceID string, err error) error {
	var deskErr errors.DeskError
	if errors.As(err, &deskErr) {
		return err
	}
	return errors.NewProvisioningError("describe", err).WithResourceID(resourceID).WithRetryable(true)
}
