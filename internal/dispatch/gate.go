// Package dispatch implements the per-thread command scheduler: gated
// dispatch, sync coalescing, and bounded busy-retry.
package dispatch

import "sync"

// Gate is the per-thread "a run is currently in flight" flag. It is the
// single source of truth other components consult before starting work on a
// thread.
type Gate struct {
	mu   sync.Mutex
	held bool
}

// TryAcquire takes the gate if it is free. It reports whether the caller now
// holds it.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	return true
}

// Release frees the gate. Releasing a free gate is a no-op.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false
}

// Held reports whether a run is currently in flight.
func (g *Gate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
