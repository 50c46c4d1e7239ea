// Package flight provides the process-wide single-flight gate that
// serializes batch ingestion. Only one batch may hold the gate at a
// time; concurrent acquirers queue in FIFO order.
package flight

import (
	"context"
	"sync"
)

// Gate is an explicit async mutex with FIFO handoff. Release hands
// ownership directly to the head waiter, so a wakeup can never be
// missed between the busy check and the wait.
type Gate struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// New creates an idle Gate.
func New() *Gate {
	return &Gate{}
}

// Acquire suspends the caller until no other holder is in flight.
// The only failure mode is ctx cancellation while waiting.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}

	// Buffered so Release can park ownership without blocking even if
	// this waiter is mid-cancellation.
	ready := make(chan struct{}, 1)
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		// Ownership handed over by Release; busy stays set.
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ready {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// No longer queued: Release already parked ownership in the
		// channel. Take it and pass it on.
		<-ready
		g.Release()
		return ctx.Err()
	}
}

// TryAcquire acquires the gate only if it is idle.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	return true
}

// Release hands the gate to the next FIFO waiter, or clears the busy
// flag when nobody is queued. Releasing an idle gate panics: that is
// always a caller bug.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.busy {
		panic("flight: release of idle gate")
	}
	if len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		next <- struct{}{}
		return
	}
	g.busy = false
}

// Do runs fn while holding the gate. The gate is released on every
// exit path, including panics, so item-processing failures can never
// deadlock subsequent batches.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// Busy reports whether a holder is currently in flight.
func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// Waiters reports how many acquirers are queued behind the current
// holder.
func (g *Gate) Waiters() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
