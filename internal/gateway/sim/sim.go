// Package sim provides an in-memory gateway backend.
//
// A simulated resource stays pending for the boot delay, then runs with an
// address; its desktop service shows up in the diagnostic output after the
// service delay. Every call waits for the configured latency, honouring
// context cancellation. The backend also models resources owned by other
// users through a baseline of foreign active resources, and can enforce a
// backend-side quota on Create.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/gateway"
	"github.com/Iron-Ham/flashdesk/internal/logging"
	"github.com/google/uuid"
)

const (
	defaultBootDelay    = 2 * time.Second
	defaultServiceDelay = 3 * time.Second
	defaultLatency      = 50 * time.Millisecond
	defaultMarker       = "kasmweb"

	// commandRuntime is how long an invocation stays InProgress.
	commandRuntime = 200 * time.Millisecond

	dockerHeader = "CONTAINER ID   IMAGE                                  STATUS\n"
)

type resource struct {
	id        string
	class     string
	image     string
	address   string
	createdAt time.Time
	state     gateway.LifecycleState
}

type invocation struct {
	resourceID string
	commands   []string
	timeout    time.Duration
	submitted  time.Time
}

// Backend is a simulated gateway.Provisioner and gateway.CommandRunner.
type Backend struct {
	bootDelay     time.Duration
	serviceDelay  time.Duration
	latency       time.Duration
	foreignActive int
	quota         int
	marker        string
	now           func() time.Time
	logger        *logging.Logger

	mu          sync.Mutex
	seq         int
	resources   map[string]*resource
	invocations map[string]*invocation
}

// Option configures a Backend.
type Option func(*Backend)

// WithBootDelay sets how long a new resource stays pending.
func WithBootDelay(d time.Duration) Option {
	return func(b *Backend) { b.bootDelay = d }
}

// WithServiceDelay sets how long after boot the desktop service appears.
func WithServiceDelay(d time.Duration) Option {
	return func(b *Backend) { b.serviceDelay = d }
}

// WithLatency sets the delay applied to every call.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithForeignActive sets the number of running resources owned by others.
func WithForeignActive(n int) Option {
	return func(b *Backend) { b.foreignActive = n }
}

// WithQuota makes Create fail with a capacity error once n resources are
// active on the account. Zero disables the quota.
func WithQuota(n int) Option {
	return func(b *Backend) { b.quota = n }
}

// WithMarker sets the image name the desktop container reports.
func WithMarker(marker string) Option {
	return func(b *Backend) { b.marker = marker }
}

// WithLogger sets the logger for the backend.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// New creates a Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		bootDelay:    defaultBootDelay,
		serviceDelay: defaultServiceDelay,
		latency:      defaultLatency,
		marker:       defaultMarker,
		now:          time.Now,
		resources:    make(map[string]*resource),
		invocations:  make(map[string]*invocation),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NopLogger()
	}
	b.logger = b.logger.WithComponent("sim")
	if b.marker == "" {
		b.marker = defaultMarker
	}
	return b
}

// wait applies the simulated latency.
func (b *Backend) wait(ctx context.Context) error {
	if b.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// activeLocked counts running and booting resources. b.mu must be held.
func (b *Backend) activeLocked() int {
	n := b.foreignActive
	for _, r := range b.resources {
		if !r.state.Gone() {
			n++
		}
	}
	return n
}

// refreshLocked advances r through its boot. b.mu must be held.
func (b *Backend) refreshLocked(r *resource) {
	if r.state == gateway.LifecyclePending && b.now().Sub(r.createdAt) >= b.bootDelay {
		r.state = gateway.LifecycleRunning
	}
}

// Create implements gateway.Provisioner.
func (b *Backend) Create(ctx context.Context, req gateway.CreateRequest) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", errors.NewProvisioningError("create", err).WithRetryable(true)
	}
	if req.ResourceClass == "" || req.Image == "" {
		return "", errors.NewProvisioningError("create",
			errors.NewValidationError("resource class and image are required"))
	}
	if req.Secret.Empty() {
		return "", errors.NewProvisioningError("create",
			errors.NewValidationError("a credential secret is required").WithField("secret"))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.quota > 0 {
		if active := b.activeLocked(); active >= b.quota {
			return "", errors.NewCapacityError(active, b.quota).
				WithCause(fmt.Errorf("instance limit exceeded for class %s", req.ResourceClass))
		}
	}

	b.seq++
	r := &resource{
		id:        fmt.Sprintf("i-%017x", b.seq),
		class:     req.ResourceClass,
		image:     req.Image,
		address:   fmt.Sprintf("10.0.%d.%d", b.seq/254, b.seq%254+1),
		createdAt: b.now(),
		state:     gateway.LifecyclePending,
	}
	b.resources[r.id] = r

	b.logger.WithResource(r.id).Info("resource created",
		"resource_class", r.class,
		"image", r.image)
	return r.id, nil
}

// Describe implements gateway.Provisioner.
func (b *Backend) Describe(ctx context.Context, resourceID string) (gateway.Description, error) {
	if err := b.wait(ctx); err != nil {
		return gateway.Description{}, errors.NewProvisioningError("describe", err).
			WithResourceID(resourceID).
			WithRetryable(true)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.resources[resourceID]
	if !ok {
		return gateway.Description{}, errors.NewProvisioningError("describe", errors.ErrResourceGone).
			WithResourceID(resourceID)
	}
	b.refreshLocked(r)

	desc := gateway.Description{State: r.state}
	if r.state == gateway.LifecycleRunning {
		desc.Address = r.address
	}
	return desc, nil
}

// Terminate implements gateway.Provisioner. Terminating a terminated
// resource succeeds.
func (b *Backend) Terminate(ctx context.Context, resourceID string) error {
	if err := b.wait(ctx); err != nil {
		return errors.NewProvisioningError("terminate", err).
			WithResourceID(resourceID).
			WithRetryable(true)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.resources[resourceID]
	if !ok {
		return errors.NewProvisioningError("terminate", errors.ErrResourceGone).
			WithResourceID(resourceID)
	}
	if r.state != gateway.LifecycleTerminated {
		r.state = gateway.LifecycleTerminated
		b.logger.WithResource(resourceID).Info("resource terminated")
	}
	return nil
}

// CountActive implements gateway.Provisioner.
func (b *Backend) CountActive(ctx context.Context) (int, error) {
	if err := b.wait(ctx); err != nil {
		return 0, errors.NewProvisioningError("count", err).WithRetryable(true)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeLocked(), nil
}

// Invoke implements gateway.CommandRunner. The resource must be running.
func (b *Backend) Invoke(ctx context.Context, resourceID string, spec gateway.CommandSpec) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", errors.NewProvisioningError("invoke", err).
			WithResourceID(resourceID).
			WithRetryable(true)
	}
	if len(spec.Commands) == 0 {
		return "", errors.NewProvisioningError("invoke", errors.NewValidationError("no commands")).
			WithResourceID(resourceID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.resources[resourceID]
	if !ok {
		return "", errors.NewProvisioningError("invoke", errors.ErrResourceGone).
			WithResourceID(resourceID)
	}
	b.refreshLocked(r)
	if r.state != gateway.LifecycleRunning {
		// The agent on the resource is not registered yet.
		return "", errors.NewProvisioningError("invoke",
			fmt.Errorf("resource is %s", r.state)).
			WithResourceID(resourceID).
			WithRetryable(true)
	}

	id := uuid.NewString()
	b.invocations[id] = &invocation{
		resourceID: resourceID,
		commands:   append([]string(nil), spec.Commands...),
		timeout:    spec.Timeout,
		submitted:  b.now(),
	}
	return id, nil
}

// GetResult implements gateway.CommandRunner.
func (b *Backend) GetResult(ctx context.Context, invocationID string) (gateway.CommandResult, error) {
	if err := b.wait(ctx); err != nil {
		return gateway.CommandResult{}, errors.NewProvisioningError("get result", err).WithRetryable(true)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	inv, ok := b.invocations[invocationID]
	if !ok {
		return gateway.CommandResult{}, errors.NewProvisioningError("get result",
			fmt.Errorf("unknown invocation %s", invocationID))
	}
	r := b.resources[inv.resourceID]

	elapsed := b.now().Sub(inv.submitted)
	switch {
	case r == nil || r.state.Gone():
		delete(b.invocations, invocationID)
		return gateway.CommandResult{Status: gateway.StatusFailed}, nil
	case elapsed < commandRuntime:
		return gateway.CommandResult{Status: gateway.StatusInProgress}, nil
	}

	delete(b.invocations, invocationID)
	return gateway.CommandResult{Status: gateway.StatusSuccess, Output: b.outputLocked(r, inv)}, nil
}

// outputLocked renders what the commands print. b.mu must be held.
func (b *Backend) outputLocked(r *resource, inv *invocation) string {
	var sb strings.Builder
	for _, cmd := range inv.commands {
		if !strings.Contains(cmd, "docker ps") {
			continue
		}
		sb.WriteString(dockerHeader)
		if b.now().Sub(r.createdAt) >= b.bootDelay+b.serviceDelay {
			fmt.Fprintf(&sb, "3f9c2a1b7d4e   %s/%s:1.14.0   Up\n", b.marker, r.image)
		}
	}
	return sb.String()
}

// Active returns the IDs of this backend's resources that are not gone.
func (b *Backend) Active() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for id, r := range b.resources {
		if !r.state.Gone() {
			ids = append(ids, id)
		}
	}
	return ids
}

var (
	_ gateway.Provisioner   = (*Backend)(nil)
	_ gateway.CommandRunner = (*Backend)(nil)
)
