package readiness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ReportFunc receives the outcome of each completed check. It runs on a
// check goroutine and must not block for long.
type ReportFunc func(Result, error)

// Loop repeats readiness checks for one resource on a fixed interval.
// A tick that arrives while the previous check is still running is skipped.
type Loop struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight atomic.Bool
	skipped  atomic.Int64
}

// Start begins checking resourceID immediately and then every interval until
// Stop is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context, resourceID string, interval time.Duration, report ReportFunc) *Loop {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{cancel: cancel}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx, p, resourceID, interval, report)
	}()
	return l
}

func (l *Loop) run(ctx context.Context, p *Poller, resourceID string, interval time.Duration, report ReportFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := p.logger.WithResource(resourceID)
	for {
		if l.inFlight.CompareAndSwap(false, true) {
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				defer l.inFlight.Store(false)

				res, err := p.Check(ctx, resourceID)
				if ctx.Err() != nil {
					return
				}
				report(res, err)
			}()
		} else {
			l.skipped.Add(1)
			log.Debug("previous readiness check still running, skipping tick")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the loop. It does not wait for an in-flight check. A check
// that completes after Stop is normally not reported, but one already past
// its cancellation check may still report, so callers must tolerate a late
// report. Stop is idempotent.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.cancel()
}

// Wait blocks until the loop and any in-flight check have returned.
func (l *Loop) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}

// Skipped returns how many ticks were skipped because a check was running.
func (l *Loop) Skipped() int64 {
	return l.skipped.Load()
}
