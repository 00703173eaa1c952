package orchestrator

import "context"

// Opener hands the ready URL of a session to the user, for example by
// launching a browser.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, url string) error

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}
