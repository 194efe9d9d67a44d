// Package runtime defines the narrow contract vaultpilot consumes from the
// remote agent runtime. Implementations live elsewhere; the coordinator only
// depends on this surface.
package runtime

import (
	"context"

	"github.com/kvisle/vaultpilot/internal/models"
)

// Message is a command payload enqueued for the next run.
type Message struct {
	ID      string
	Role    string
	Content string
}

// Handler receives runtime events for one subscription.
type Handler func(models.RuntimeEvent)

// Subscription is a live event registration. Unsubscribe must be safe to
// call more than once.
type Subscription interface {
	Unsubscribe()
}

// Handle is one thread's connection to the remote agent runtime.
type Handle interface {
	// Subscribe registers an event handler and returns its disposer.
	Subscribe(Handler) Subscription

	// AddMessage enqueues a command payload to be sent on the next run.
	AddMessage(Message)

	// RunAgent starts a run. It returns once the run settles and rejects
	// on failure, including busy conflicts.
	RunAgent(ctx context.Context) error

	// ConnectAgent attaches to an already-active run.
	ConnectAgent(ctx context.Context) error
}

// RunDetacher is an optional capability: best-effort release of any
// server-side run attachment. Safe to call when no run is active.
type RunDetacher interface {
	DetachActiveRun(ctx context.Context) error
}

// LivenessProber is an optional capability reporting whether the handle
// currently has an active run.
type LivenessProber interface {
	IsRunning() bool
}

// Liveness normalizes the optional liveness capability to a plain probe
// function. Returns nil when the handle does not expose one.
func Liveness(h Handle) func() bool {
	if p, ok := h.(LivenessProber); ok {
		return p.IsRunning
	}
	return nil
}

// Detach releases any server-side run attachment, best effort. Errors are
// swallowed; a failed detach must never block the caller.
func Detach(ctx context.Context, h Handle) {
	d, ok := h.(RunDetacher)
	if !ok {
		return
	}
	_ = d.DetachActiveRun(ctx)
}
