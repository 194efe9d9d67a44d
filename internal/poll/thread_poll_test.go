package poll

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvisle/vaultpilot/internal/models"
	"github.com/kvisle/vaultpilot/internal/runtime"
)

// scriptedHandle drives the poll protocol from a test-supplied run function.
type scriptedHandle struct {
	mu       sync.Mutex
	handlers map[int]runtime.Handler
	nextSub  int

	run      func(ctx context.Context, emit func(models.RuntimeEvent)) error
	detaches atomic.Int32
	unsubs   atomic.Int32
}

func newScriptedHandle(run func(ctx context.Context, emit func(models.RuntimeEvent)) error) *scriptedHandle {
	return &scriptedHandle{
		handlers: make(map[int]runtime.Handler),
		run:      run,
	}
}

type scriptedSub struct {
	h  *scriptedHandle
	id int
}

func (s *scriptedSub) Unsubscribe() {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if _, ok := s.h.handlers[s.id]; ok {
		delete(s.h.handlers, s.id)
		s.h.unsubs.Add(1)
	}
}

func (h *scriptedHandle) Subscribe(handler runtime.Handler) runtime.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.handlers[id] = handler
	return &scriptedSub{h: h, id: id}
}

func (h *scriptedHandle) AddMessage(runtime.Message) {}

func (h *scriptedHandle) RunAgent(ctx context.Context) error {
	return h.run(ctx, h.emit)
}

func (h *scriptedHandle) ConnectAgent(ctx context.Context) error {
	return h.RunAgent(ctx)
}

func (h *scriptedHandle) DetachActiveRun(context.Context) error {
	h.detaches.Add(1)
	return nil
}

func (h *scriptedHandle) emit(ev models.RuntimeEvent) {
	h.mu.Lock()
	handlers := make([]runtime.Handler, 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func snapshotPayload() json.RawMessage {
	return json.RawMessage(`{
		"lifecycle": "active",
		"metrics": {"totalValueUsd": 5000, "netApy": 3.1, "cycles": 2},
		"task": {"id": "task-1", "state": "working", "message": "rebalancing"}
	}`)
}

func TestThreadSnapshotThenTermination(t *testing.T) {
	h := newScriptedHandle(func(ctx context.Context, emit func(models.RuntimeEvent)) error {
		emit(models.StateSnapshot{Payload: snapshotPayload()})
		return nil
	})

	res := Thread(context.Background(), h, "thread-1", nil, ProtocolConfig{
		Timeout:         time.Second,
		CompletionGrace: 100 * time.Millisecond,
	})

	require.NotNil(t, res.State)
	require.NotNil(t, res.Entry)
	require.False(t, res.Busy)
	require.True(t, res.Entry.Synced)
	require.Equal(t, "thread-1", res.Entry.ThreadID)
	require.Equal(t, "task-1", res.Entry.TaskID)
	require.Equal(t, models.TaskStateWorking, res.Entry.TaskState)
	require.Equal(t, int32(1), h.detaches.Load())
	require.Equal(t, int32(1), h.unsubs.Load())
}

func TestThreadSnapshotWithoutTerminationIsBusy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newScriptedHandle(func(ctx context.Context, emit func(models.RuntimeEvent)) error {
		emit(models.StateSnapshot{Payload: snapshotPayload()})
		<-ctx.Done()
		return ctx.Err()
	})

	res := Thread(ctx, h, "thread-1", nil, ProtocolConfig{
		Timeout:         time.Second,
		CompletionGrace: 50 * time.Millisecond,
	})

	// The update is still usable, but the unterminated run marks the thread
	// busy so the selection policy can cool it down.
	require.NotNil(t, res.Entry)
	require.True(t, res.Busy)
	require.Equal(t, int32(1), h.detaches.Load())
	require.Equal(t, int32(1), h.unsubs.Load())
}

func TestThreadTimeoutWithoutSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newScriptedHandle(func(ctx context.Context, emit func(models.RuntimeEvent)) error {
		<-ctx.Done()
		return ctx.Err()
	})

	res := Thread(ctx, h, "thread-1", nil, ProtocolConfig{
		Timeout:         30 * time.Millisecond,
		CompletionGrace: 10 * time.Millisecond,
	})

	require.Nil(t, res.State)
	require.Nil(t, res.Entry)
	require.True(t, res.Busy)
	require.Equal(t, int32(1), h.detaches.Load())
}

func TestThreadBusyRejection(t *testing.T) {
	h := newScriptedHandle(func(ctx context.Context, emit func(models.RuntimeEvent)) error {
		return &runtime.StatusError{Code: 409, Message: "run already active"}
	})

	res := Thread(context.Background(), h, "thread-1", nil, ProtocolConfig{
		Timeout:         time.Second,
		CompletionGrace: 50 * time.Millisecond,
	})

	require.Nil(t, res.Entry)
	require.True(t, res.Busy)
	require.Equal(t, int32(1), h.detaches.Load())
}

func TestThreadMergesOntoPreviousState(t *testing.T) {
	prev := &models.ThreadState{
		ThreadID: "thread-1",
		Tokens:   []string{"WETH"},
	}
	h := newScriptedHandle(func(ctx context.Context, emit func(models.RuntimeEvent)) error {
		emit(models.StateSnapshot{Payload: snapshotPayload()})
		return nil
	})

	res := Thread(context.Background(), h, "thread-1", prev, ProtocolConfig{
		Timeout:         time.Second,
		CompletionGrace: 50 * time.Millisecond,
	})

	require.NotNil(t, res.State)
	// The payload omitted tokens; the previous value must survive the merge.
	require.Equal(t, []string{"WETH"}, res.State.Tokens)
	require.Equal(t, 2, res.State.Metrics.Cycles)
}
