// Package pool adapts third-party goroutine-pool libraries behind one
// Pool interface so the server monitor can dispatch application callbacks
// without depending on a specific pool implementation, and wraps every
// dispatched call with panic recovery so a misbehaving application
// callback never takes the monitor down with it.
package pool

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/panjf2000/ants/v2"
)

// Pool is the common interface every goroutine-pool adapter implements.
// Submit returns an error when the pool cannot accept more work right
// now (saturated, non-blocking pool) or has been closed.
type Pool interface {
	Submit(f func()) error
	Release()
}

// antsPool adapts github.com/panjf2000/ants/v2.
type antsPool struct{ p *ants.Pool }

// NewAntsPool creates a bounded pool of at most size goroutines using
// ants, the default worker pool for the monitor's callback dispatch.
func NewAntsPool(size int) (Pool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("pool: create ants pool: %w", err)
	}
	return &antsPool{p: p}, nil
}

func (a *antsPool) Submit(f func()) error { return a.p.Submit(f) }
func (a *antsPool) Release()              { a.p.Release() }

// workerPool adapts github.com/gammazero/workerpool, offered as the
// second concrete implementation so callers can swap pools without
// touching the monitor.
type workerPool struct{ p *workerpool.WorkerPool }

// NewWorkerPool creates a bounded pool of at most size goroutines using
// gammazero/workerpool.
func NewWorkerPool(size int) Pool {
	return &workerPool{p: workerpool.New(size)}
}

func (w *workerPool) Submit(f func()) error {
	w.p.Submit(f)
	return nil
}

func (w *workerPool) Release() { w.p.StopWait() }

// PanicError records a panic recovered from a submitted callback,
// including when it happened and the stack at the time.
type PanicError struct {
	At    time.Time
	Info  any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v at %s\n%s", e.Info, e.At.Format(time.RFC3339Nano), e.Stack)
}

// SafeDispatch submits fn to p wrapped with panic recovery: a panicking
// callback is logged and dropped, never propagated to the pool's worker
// goroutine or back to the caller.
func SafeDispatch(p Pool, logger *slog.Logger, fn func()) error {
	return p.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				err := &PanicError{At: time.Now(), Info: r, Stack: debug.Stack()}
				if logger == nil {
					logger = slog.Default()
				}
				logger.Error("application callback panicked", "error", err)
			}
		}()
		fn()
	})
}
