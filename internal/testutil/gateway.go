package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/flashdesk/internal/gateway"
)

// Calls counts gateway calls made against a FakeGateway.
type Calls struct {
	Create      int
	Describe    int
	Terminate   int
	CountActive int
	Invoke      int
	GetResult   int
}

// FakeGateway is a scriptable gateway.Provisioner and gateway.CommandRunner.
// The zero value is not usable; call NewFakeGateway. Every field is guarded
// by the embedded mutex, so tests reconfigure it through the Set* methods.
type FakeGateway struct {
	mu sync.Mutex

	calls Calls

	active    int
	countErr  error
	createErr error
	nextID    int

	lastClass     string
	lastImage     string
	lastSecretLen int

	describe     func(id string, call int) (gateway.Description, error)
	terminateErr error
	terminateCh  chan struct{}
	terminated   []string

	invokeErr error
	result    func(invocation int) (gateway.CommandResult, error)
	output    string
}

// NewFakeGateway returns a gateway whose resources are immediately running
// at 10.0.0.1 and whose diagnostic output contains marker.
func NewFakeGateway(marker string) *FakeGateway {
	return &FakeGateway{
		describe: func(string, int) (gateway.Description, error) {
			return gateway.Description{State: gateway.LifecycleRunning, Address: "10.0.0.1"}, nil
		},
		output: "CONTAINER ID   IMAGE\nabc123   " + marker + "/desktop:1.14\n",
	}
}

// SetActive sets the count reported by CountActive.
func (f *FakeGateway) SetActive(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = n
	f.countErr = err
}

// SetCreateErr makes Create fail with err.
func (f *FakeGateway) SetCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

// SetDescribe replaces the Describe behavior. call counts from 1.
func (f *FakeGateway) SetDescribe(fn func(id string, call int) (gateway.Description, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describe = fn
}

// SetTerminateErr makes Terminate fail with err.
func (f *FakeGateway) SetTerminateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateErr = err
}

// BlockTerminate makes Terminate wait until the returned func is called.
func (f *FakeGateway) BlockTerminate() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.terminateCh = ch
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// SetOutput sets the diagnostic output returned on success.
func (f *FakeGateway) SetOutput(out string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output = out
}

// SetInvokeErr makes Invoke fail with err.
func (f *FakeGateway) SetInvokeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokeErr = err
}

// SetResult replaces the GetResult behavior. invocation counts from 1.
func (f *FakeGateway) SetResult(fn func(invocation int) (gateway.CommandResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = fn
}

// Calls returns a copy of the call counters.
func (f *FakeGateway) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Terminated returns the IDs passed to successful Terminate calls.
func (f *FakeGateway) Terminated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminated...)
}

// LastCreate returns the class, image and secret length of the last Create.
func (f *FakeGateway) LastCreate() (class, image string, secretLen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastClass, f.lastImage, f.lastSecretLen
}

// Create implements gateway.Provisioner.
func (f *FakeGateway) Create(ctx context.Context, req gateway.CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls.Create++
	f.lastClass = req.ResourceClass
	f.lastImage = req.Image
	f.lastSecretLen = req.Secret.Len()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	f.active++
	return fmt.Sprintf("i-%d", f.nextID), nil
}

// Describe implements gateway.Provisioner.
func (f *FakeGateway) Describe(ctx context.Context, id string) (gateway.Description, error) {
	f.mu.Lock()
	f.calls.Describe++
	call := f.calls.Describe
	fn := f.describe
	f.mu.Unlock()

	return fn(id, call)
}

// Terminate implements gateway.Provisioner.
func (f *FakeGateway) Terminate(ctx context.Context, id string) error {
	f.mu.Lock()
	f.calls.Terminate++
	ch := f.terminateCh
	f.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminateErr != nil {
		return f.terminateErr
	}
	f.terminated = append(f.terminated, id)
	if f.active > 0 {
		f.active--
	}
	return nil
}

// CountActive implements gateway.Provisioner.
func (f *FakeGateway) CountActive(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.CountActive++
	return f.active, f.countErr
}

// Invoke implements gateway.CommandRunner.
func (f *FakeGateway) Invoke(ctx context.Context, resourceID string, spec gateway.CommandSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Invoke++
	if f.invokeErr != nil {
		return "", f.invokeErr
	}
	return fmt.Sprintf("cmd-%d", f.calls.Invoke), nil
}

// GetResult implements gateway.CommandRunner.
func (f *FakeGateway) GetResult(ctx context.Context, invocationID string) (gateway.CommandResult, error) {
	f.mu.Lock()
	f.calls.GetResult++
	fn := f.result
	out := f.output
	invocations := f.calls.Invoke
	f.mu.Unlock()

	if fn != nil {
		return fn(invocations)
	}
	return gateway.CommandResult{Status: gateway.StatusSuccess, Output: out}, nil
}

var (
	_ gateway.Provisioner   = (*FakeGateway)(nil)
	_ gateway.CommandRunner = (*FakeGateway)(nil)
)
