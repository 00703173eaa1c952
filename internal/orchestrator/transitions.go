package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/event"
	"github.com/Iron-Ham/flashdesk/internal/gateway"
	"github.com/Iron-Ham/flashdesk/internal/readiness"
	"github.com/Iron-Ham/flashdesk/internal/session"
)

// Every function in this file runs on the event loop.

func (o *Orchestrator) current(gen uint64, want session.State) bool {
	return gen == o.gen && o.sess.State() == want
}

// -----------------------------------------------------------------------------
// Launch and provisioning
// -----------------------------------------------------------------------------

func (o *Orchestrator) handleLaunch(req LaunchRequest) error {
	if o.stopping {
		req.Secret.Clear()
		return errors.ErrNotRunning
	}

	prev := o.sess.State()
	if !prev.CanLaunch() {
		req.Secret.Clear()
		return errors.NewSessionError("launch rejected", errors.ErrSessionActive).WithState(prev.String())
	}

	settings := o.pending
	if err := o.validate(settings, req); err != nil {
		req.Secret.Clear()
		return err
	}

	if prev == session.StateFailed && o.sess.ID() != "" {
		o.logger.WithResource(o.sess.ID()).Warn("relaunching over a failed session that still holds a resource")
	}

	if err := o.sess.BeginProvisioning(req.ResourceClass, req.Image); err != nil {
		req.Secret.Clear()
		return errors.NewSessionError("launch rejected", err).WithState(prev.String())
	}

	o.snapMu.Lock()
	o.active = settings
	o.snapMu.Unlock()
	if settings.Poller != nil {
		o.poller = settings.Poller
	}
	if settings.MaxActive > 0 {
		o.limiter.SetMax(settings.MaxActive)
	}

	o.gen++
	o.opened = false
	o.attempt = 0
	gen := o.gen
	o.publish(prev)

	o.logger.Info("launch accepted",
		"resource_class", req.ResourceClass,
		"image", req.Image)

	o.goOp(func(ctx context.Context) { o.provision(ctx, gen, req) })
	return nil
}

func (o *Orchestrator) validate(s Settings, req LaunchRequest) error {
	if s.Catalog != nil {
		if err := s.Catalog.Validate(req.ResourceClass, req.Image); err != nil {
			return err
		}
	} else {
		if req.ResourceClass == "" {
			return errors.NewValidationError("must not be empty").WithField("resource_class")
		}
		if req.Image == "" {
			return errors.NewValidationError("must not be empty").WithField("image")
		}
	}
	if req.Secret.Len() < s.MinSecretLength {
		return errors.NewValidationError("secret is too short").
			WithField("secret").
			WithValue(fmt.Sprintf("minimum %d characters", s.MinSecretLength))
	}
	return nil
}

// provision runs off the loop: capacity check, then Create. The secret is
// cleared as soon as Create returns.
func (o *Orchestrator) provision(ctx context.Context, gen uint64, req LaunchRequest) {
	secret := req.Secret
	defer secret.Clear()

	if err := o.limiter.Admit(ctx); err != nil {
		o.post(func() { o.onAdmitFailed(gen, err) })
		return
	}

	id, err := o.prov.Create(ctx, gateway.CreateRequest{
		ResourceClass: req.ResourceClass,
		Image:         req.Image,
		Secret:        secret,
	})
	secret.Clear()

	if !o.post(func() { o.onCreated(gen, id, err) }) && err == nil && id != "" {
		// The loop is gone; do not leak the resource.
		o.logger.WithResource(id).Warn("created resource after shutdown; terminating")
		_ = o.prov.Terminate(ctx, id)
	}
}

func (o *Orchestrator) onAdmitFailed(gen uint64, err error) {
	if !o.current(gen, session.StateProvisioning) {
		return
	}
	prev := o.sess.State()
	if errors.IsCapacity(err) {
		o.sess.Reject(session.StatusCapacity, err)
	} else {
		o.sess.Fail(err, false)
	}
	o.publish(prev)
}

func (o *Orchestrator) onCreated(gen uint64, id string, err error) {
	if !o.current(gen, session.StateProvisioning) {
		if err == nil && id != "" {
			o.logger.WithResource(id).Warn("discarding result for a superseded launch; terminating resource")
			o.goOp(func(ctx context.Context) { _ = o.prov.Terminate(ctx, id) })
		}
		return
	}

	prev := o.sess.State()
	if err != nil {
		if errors.IsCapacity(err) {
			o.sess.Reject(session.StatusCapacity,
				errors.NewCapacityError(-1, o.limiter.Max()).WithCause(err))
		} else {
			o.sess.Fail(asProvisioningError("create", "", err), false)
		}
		o.publish(prev)
		return
	}

	if perr := o.sess.Provisioned(id); perr != nil {
		o.logger.Error("unexpected provisioning transition", "error", perr.Error())
		return
	}
	o.publish(prev)

	if o.stopping {
		return
	}
	o.startReadiness(gen, id)
	o.armAwaitDeadline(gen)
}

// -----------------------------------------------------------------------------
// Readiness
// -----------------------------------------------------------------------------

func (o *Orchestrator) startReadiness(gen uint64, id string) {
	o.stopReadiness()
	o.loop = o.poller.Start(o.ctx, id, o.active.OuterPollInterval, func(res readiness.Result, err error) {
		o.post(func() { o.onCheck(gen, res, err) })
	})
}

func (o *Orchestrator) stopReadiness() {
	if o.loop != nil {
		o.loop.Stop()
		o.loop = nil
	}
	if o.awaitTimer != nil {
		o.awaitTimer.Stop()
		o.awaitTimer = nil
	}
}

func (o *Orchestrator) armAwaitDeadline(gen uint64) {
	limit := o.active.MaxAwaitReady
	if limit <= 0 {
		return
	}
	o.awaitTimer = time.AfterFunc(limit, func() {
		o.post(func() { o.onAwaitTimeout(gen) })
	})
}

func (o *Orchestrator) onCheck(gen uint64, res readiness.Result, err error) {
	if o.stopping || !o.current(gen, session.StateAwaitingReady) {
		return
	}

	id := o.sess.ID()
	log := o.logger.WithResource(id)
	o.attempt++
	o.bus.Publish(event.NewReadinessCheckedEvent(id, o.attempt, res.Ready, err))

	if res.Address != "" && o.sess.Address() == "" {
		prev := o.sess.State()
		o.sess.SetAddress(res.Address)
		o.publish(prev)
	}

	if err != nil {
		if errors.IsRetryable(err) {
			log.Debug("readiness check not conclusive", "attempt", o.attempt, "error", err.Error())
			return
		}
		log.Error("unrecoverable error while awaiting readiness", "error", err.Error())
		o.stopReadiness()
		prev := o.sess.State()
		o.sess.Fail(err, !errors.Is(err, errors.ErrResourceGone))
		o.publish(prev)
		return
	}

	if !res.Ready {
		log.Debug("desktop service not up yet", "attempt", o.attempt, "lifecycle", string(res.Lifecycle))
		return
	}
	o.becomeReady(gen, res.Address)
}

func (o *Orchestrator) onAwaitTimeout(gen uint64) {
	if o.stopping || !o.current(gen, session.StateAwaitingReady) {
		return
	}
	limit := o.active.MaxAwaitReady
	o.logger.WithResource(o.sess.ID()).Warn("desktop did not become ready in time", "limit", limit.String())
	o.sess.RecordCause(errors.NewTimeoutError("awaiting readiness", limit).
		WithCause(errors.ErrReadyTimeout).
		WithRetryable(false))
	o.beginTerminate("ready timeout")
}

// -----------------------------------------------------------------------------
// Ready and countdown
// -----------------------------------------------------------------------------

func (o *Orchestrator) becomeReady(gen uint64, address string) {
	o.stopReadiness()

	prev := o.sess.State()
	duration := o.active.SessionDuration
	if err := o.sess.MarkReady(address, duration); err != nil {
		o.logger.Error("unexpected ready transition", "error", err.Error())
		return
	}
	o.publish(prev)

	o.timer.Arm(duration,
		func(remaining int) { o.post(func() { o.onTick(gen, remaining) }) },
		func() { o.post(func() { o.onExpire(gen) }) },
	)

	o.openOnce()
}

// openOnce fires the ready signal. It never fires twice for one session.
func (o *Orchestrator) openOnce() {
	if o.opened {
		return
	}
	o.opened = true

	id := o.sess.ID()
	url := o.AddressURL(o.sess.Address())
	o.bus.Publish(event.NewAddressOpenedEvent(id, url))

	if o.opener == nil {
		return
	}
	log := o.logger.WithResource(id)
	o.goOp(func(ctx context.Context) {
		if err := o.opener.Open(ctx, url); err != nil {
			log.Warn("failed to open desktop address", "url", url, "error", err.Error())
		}
	})
}

func (o *Orchestrator) onTick(gen uint64, remaining int) {
	if o.stopping || !o.current(gen, session.StateReady) {
		return
	}
	if o.sess.Tick(remaining) {
		o.publish(session.StateReady)
	}
}

func (o *Orchestrator) onExpire(gen uint64) {
	if o.stopping || !o.current(gen, session.StateReady) {
		return
	}
	o.beginTerminate("countdown expired")
}

// -----------------------------------------------------------------------------
// Termination
// -----------------------------------------------------------------------------

func (o *Orchestrator) handleTerminate() error {
	if o.stopping {
		return errors.ErrNotRunning
	}
	st := o.sess.State()
	switch {
	case st == session.StateTerminating:
		return nil
	case st == session.StateAwaitingReady, st == session.StateReady:
	case st == session.StateFailed && o.sess.ID() != "":
	default:
		return errors.NewSessionError("terminate rejected", errors.ErrNoSession).WithState(st.String())
	}
	o.beginTerminate("requested")
	return nil
}

// beginTerminate cancels polling and the countdown before the Terminate call
// is issued.
func (o *Orchestrator) beginTerminate(reason string) {
	o.stopReadiness()
	o.timer.Cancel()

	prev := o.sess.State()
	if err := o.sess.BeginTerminating(); err != nil {
		o.logger.Error("unexpected terminate transition", "error", err.Error())
		return
	}
	o.gen++
	gen := o.gen
	id := o.sess.ID()
	o.publish(prev)

	o.logger.WithResource(id).Info("terminating resource", "reason", reason)
	o.goOp(func(ctx context.Context) {
		err := o.prov.Terminate(ctx, id)
		o.post(func() { o.onTerminated(gen, id, err) })
	})
}

func (o *Orchestrator) onTerminated(gen uint64, id string, err error) {
	if !o.current(gen, session.StateTerminating) {
		return
	}
	prev := o.sess.State()
	if err != nil {
		o.sess.Fail(asProvisioningError("terminate", id, err), true)
	} else {
		o.sess.TerminateSucceeded()
	}
	o.publish(prev)
}

func (o *Orchestrator) handleAcknowledge() error {
	prev := o.sess.State()
	if err := o.sess.Acknowledge(); err != nil {
		return errors.NewSessionError("acknowledge rejected", errors.ErrNoSession).WithState(prev.String())
	}
	o.publish(prev)
	return nil
}

// asProvisioningError keeps gateway-classified errors and wraps plain ones.
func asProvisioningError(op, id string, err error) error {
	var perr *errors.ProvisioningError
	if errors.As(err, &perr) {
		return err
	}
	return errors.NewProvisioningError(op, err).WithResourceID(id)
}
