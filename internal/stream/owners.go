// Package stream enforces single-owner exclusive attachment to a thread's
// live run: at most one UI surface holds the subscription at a time, and a
// new owner preempts the previous one.
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/kvisle/vaultpilot/internal/logging"
)

// ErrClosed is returned for operations on a closed coordinator.
var ErrClosed = errors.New("stream owners coordinator closed")

// DisconnectFunc tears down an owner's live subscription. Failures are
// swallowed: a failed disconnect must never block the next owner.
type DisconnectFunc func(ctx context.Context) error

// Owners serializes ownership transitions through an internal queue so two
// concurrent acquires can never race into an inconsistent active owner. One
// instance is constructed per session and passed by reference; there is no
// package-level state.
type Owners struct {
	mu          sync.Mutex
	active      string
	disconnects map[string]DisconnectFunc
	isClosed    bool

	transitions chan transition
	closeOnce   sync.Once
	closed      chan struct{}
}

type transition struct {
	apply func(ctx context.Context)
	done  chan struct{}
}

// NewOwners creates a coordinator and starts its transition worker.
func NewOwners() *Owners {
	o := &Owners{
		disconnects: make(map[string]DisconnectFunc),
		transitions: make(chan transition),
		closed:      make(chan struct{}),
	}
	go o.run()
	return o
}

// run processes transitions strictly in submission order, each completing
// (including awaiting the previous owner's disconnect) before the next.
func (o *Owners) run() {
	for {
		select {
		case t := <-o.transitions:
			t.apply(context.Background())
			close(t.done)
		case <-o.closed:
			return
		}
	}
}

// Close stops the transition worker. Pending transitions are abandoned.
func (o *Owners) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.isClosed = true
		o.mu.Unlock()
		close(o.closed)
	})
}

// Register associates a disconnect callback with an owner id. Re-registering
// overwrites the callback.
func (o *Owners) Register(ownerID string, disconnect DisconnectFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnects[ownerID] = disconnect
}

// Acquire installs ownerID as the active owner, preempting and
// disconnecting whoever held it. Acquiring an already-active owner is a
// no-op. The call returns once the transition has fully completed, or once
// ctx is cancelled; a cancelled wait does not abort the transition itself.
func (o *Owners) Acquire(ctx context.Context, ownerID string) error {
	return o.submit(ctx, func(tctx context.Context) {
		o.mu.Lock()
		previous := o.active
		o.mu.Unlock()

		if previous == ownerID {
			return
		}
		if previous != "" {
			o.disconnect(tctx, previous)
		}

		o.mu.Lock()
		o.active = ownerID
		o.mu.Unlock()
		logger := logging.WithOwner(ownerID)
		logger.Debug().Str("previous", previous).Msg("stream owner acquired")
	})
}

// Release clears the active owner if and only if ownerID holds it. No
// disconnect is invoked; the caller already knows it is shutting down.
func (o *Owners) Release(ctx context.Context, ownerID string) error {
	return o.submit(ctx, func(context.Context) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.active == ownerID {
			o.active = ""
		}
	})
}

// Unregister removes the owner entirely: a release-with-disconnect when it
// is active, then its callback is forgotten.
func (o *Owners) Unregister(ctx context.Context, ownerID string) error {
	return o.submit(ctx, func(tctx context.Context) {
		o.mu.Lock()
		isActive := o.active == ownerID
		o.mu.Unlock()

		if isActive {
			o.disconnect(tctx, ownerID)
			o.mu.Lock()
			o.active = ""
			o.mu.Unlock()
		}

		o.mu.Lock()
		delete(o.disconnects, ownerID)
		o.mu.Unlock()
	})
}

// ActiveOwner returns the id currently holding the stream, or "".
func (o *Owners) ActiveOwner() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Owners) submit(ctx context.Context, apply func(ctx context.Context)) error {
	o.mu.Lock()
	closed := o.isClosed
	o.mu.Unlock()
	if closed {
		return ErrClosed
	}

	t := transition{apply: apply, done: make(chan struct{})}
	select {
	case o.transitions <- t:
	case <-o.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// disconnect invokes an owner's callback, best effort.
func (o *Owners) disconnect(ctx context.Context, ownerID string) {
	o.mu.Lock()
	fn := o.disconnects[ownerID]
	o.mu.Unlock()
	if fn == nil {
		return
	}
	if err := fn(ctx); err != nil {
		logger := logging.WithOwner(ownerID)
		logger.Debug().Err(err).Msg("owner disconnect failed")
	}
}
