package desktop

import (
	"context"
	"fmt"
	"io"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/session"
	"github.com/Iron-Ham/flashdesk/internal/util"
)

// plainPrinter renders snapshots as log-style lines for non-interactive
// output. It prints on every state or status change and on selected
// countdown ticks.
type plainPrinter struct {
	out     io.Writer
	url     func(address string) string
	state   session.State
	status  string
	started bool
}

// countdownWorthPrinting reports whether a remaining-seconds value gets its
// own line: every full minute, then each of the last ten seconds.
func countdownWorthPrinting(remaining int) bool {
	return remaining%60 == 0 || remaining <= 10
}

// print writes the lines for snap and reports whether the session has
// settled.
func (p *plainPrinter) print(snap session.Snapshot) bool {
	changed := !p.started || snap.State != p.state || snap.Status != p.status
	p.started = true
	p.state, p.status = snap.State, snap.Status

	if changed {
		fmt.Fprintf(p.out, "[%s] %s\n", snap.State, snap.Status)
		if snap.State == session.StateReady && snap.Address != "" {
			fmt.Fprintf(p.out, "Desktop ready: %s\n", p.url(snap.Address))
		}
	} else if snap.State == session.StateReady {
		if remaining, ok := snap.Remaining(); ok && countdownWorthPrinting(remaining) {
			fmt.Fprintf(p.out, "Time remaining: %s\n", util.FormatRemaining(remaining))
		}
	}

	switch snap.State {
	case session.StateIdle, session.StateTerminated, session.StateFailed:
		return true
	}
	return false
}

// watchPlain prints each snapshot from snaps until the session settles
// after a launch or ctx ends. A session that ends Failed, or whose launch
// was rejected, yields its error.
func watchPlain(ctx context.Context, snaps <-chan session.Snapshot, out io.Writer, url func(string) string) error {
	p := &plainPrinter{out: out, url: url}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if !p.print(snap) {
				continue
			}
			if snap.Err != nil {
				// Failed, or rejected back to Idle
				return snap.Err
			}
			if snap.State == session.StateFailed {
				return errors.NewSessionError(snap.Error, nil).WithState(snap.State.String())
			}
			return nil
		}
	}
}
