package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquirePreemptsPreviousOwnerOnce(t *testing.T) {
	o := NewOwners()
	defer o.Close()
	ctx := context.Background()

	var firstDisconnects atomic.Int32
	o.Register("surface-a", func(context.Context) error {
		firstDisconnects.Add(1)
		return nil
	})
	o.Register("surface-b", func(context.Context) error { return nil })

	require.NoError(t, o.Acquire(ctx, "surface-a"))
	require.Equal(t, "surface-a", o.ActiveOwner())

	require.NoError(t, o.Acquire(ctx, "surface-b"))
	require.Equal(t, "surface-b", o.ActiveOwner())
	require.Equal(t, int32(1), firstDisconnects.Load())
}

func TestAcquireSameOwnerIsNoOp(t *testing.T) {
	o := NewOwners()
	defer o.Close()
	ctx := context.Background()

	var disconnects atomic.Int32
	o.Register("surface-a", func(context.Context) error {
		disconnects.Add(1)
		return nil
	})

	require.NoError(t, o.Acquire(ctx, "surface-a"))
	require.NoError(t, o.Acquire(ctx, "surface-a"))

	require.Equal(t, "surface-a", o.ActiveOwner())
	require.Equal(t, int32(0), disconnects.Load())
}

func TestReleaseOnlyByHolder(t *testing.T) {
	o := NewOwners()
	defer o.Close()
	ctx := context.Background()

	o.Register("surface-a", func(context.Context) error { return nil })
	require.NoError(t, o.Acquire(ctx, "surface-a"))

	require.NoError(t, o.Release(ctx, "surface-b"))
	require.Equal(t, "surface-a", o.ActiveOwner())

	require.NoError(t, o.Release(ctx, "surface-a"))
	require.Equal(t, "", o.ActiveOwner())
}

func TestUnregisterDisconnectsActiveOwner(t *testing.T) {
	o := NewOwners()
	defer o.Close()
	ctx := context.Background()

	var disconnects atomic.Int32
	o.Register("surface-a", func(context.Context) error {
		disconnects.Add(1)
		return nil
	})
	require.NoError(t, o.Acquire(ctx, "surface-a"))

	require.NoError(t, o.Unregister(ctx, "surface-a"))
	require.Equal(t, "", o.ActiveOwner())
	require.Equal(t, int32(1), disconnects.Load())

	// The callback is forgotten: re-acquiring and preempting must not call it.
	o.Register("surface-b", func(context.Context) error { return nil })
	require.NoError(t, o.Acquire(ctx, "surface-a"))
	require.NoError(t, o.Acquire(ctx, "surface-b"))
	require.Equal(t, int32(1), disconnects.Load())
}

func TestUnregisterInactiveOwnerSkipsDisconnect(t *testing.T) {
	o := NewOwners()
	defer o.Close()
	ctx := context.Background()

	var disconnects atomic.Int32
	o.Register("surface-a", func(context.Context) error {
		disconnects.Add(1)
		return nil
	})

	require.NoError(t, o.Unregister(ctx, "surface-a"))
	require.Equal(t, int32(0), disconnects.Load())
}

func TestDisconnectErrorDoesNotBlockNextOwner(t *testing.T) {
	o := NewOwners()
	defer o.Close()
	ctx := context.Background()

	o.Register("surface-a", func(context.Context) error {
		return errors.New("subscription already gone")
	})
	o.Register("surface-b", func(context.Context) error { return nil })

	require.NoError(t, o.Acquire(ctx, "surface-a"))
	require.NoError(t, o.Acquire(ctx, "surface-b"))
	require.Equal(t, "surface-b", o.ActiveOwner())
}

func TestConcurrentAcquiresSettleOnSingleOwner(t *testing.T) {
	o := NewOwners()
	defer o.Close()
	ctx := context.Background()

	owners := []string{"surface-a", "surface-b", "surface-c", "surface-d"}
	for _, id := range owners {
		o.Register(id, func(context.Context) error { return nil })
	}

	var wg sync.WaitGroup
	for _, id := range owners {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			require.NoError(t, o.Acquire(ctx, id))
		}(id)
	}
	wg.Wait()

	require.Contains(t, owners, o.ActiveOwner())
}

func TestClosedCoordinatorRejectsTransitions(t *testing.T) {
	o := NewOwners()
	o.Close()

	err := o.Acquire(context.Background(), "surface-a")
	require.ErrorIs(t, err, ErrClosed)
}
