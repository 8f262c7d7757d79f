// Package signal turns OS signals into a context the rest of the
// application can select on: SIGINT/SIGTERM request a clean shutdown,
// SIGUSR1 requests an immediate full compaction without otherwise
// disturbing the running server (useful for scheduling compaction during
// a maintenance window without restarting the process).
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Context returns a context canceled on SIGINT or SIGTERM, and a channel
// that receives a value each time SIGUSR1 arrives. Callers select on both
// in their main loop.
func Context() (ctx context.Context, compactRequests <-chan struct{}, stop func()) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	compact := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGUSR1:
					select {
					case compact <- struct{}{}:
					default:
					}
				default:
					cancel()
					return
				}
			case <-done:
				return
			}
		}
	}()

	return ctx, compact, func() {
		close(done)
		signal.Stop(sigCh)
		cancel()
	}
}

// Deadline wraps a context.Context deadline check used by long-running
// scans that need to bail out early without threading a timer through
// every call site.
type Deadline struct {
	ctx context.Context
}

// NewDeadline wraps ctx.
func NewDeadline(ctx context.Context) Deadline {
	return Deadline{ctx: ctx}
}

// Expired reports whether the wrapped context has been canceled or its
// deadline has passed.
func (d Deadline) Expired() bool {
	return d.ctx.Err() != nil
}

// Err returns the wrapped context's error, or nil.
func (d Deadline) Err() error {
	return d.ctx.Err()
}
