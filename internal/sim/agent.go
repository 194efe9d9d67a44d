// Package sim provides a scripted in-memory runtime so the coordinator can
// be exercised end to end without a remote backend.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kvisle/vaultpilot/internal/models"
	"github.com/kvisle/vaultpilot/internal/runtime"
)

// SnapshotFunc produces the payload emitted for a run cycle.
type SnapshotFunc func(threadID string, cycle int) json.RawMessage

// Script controls one simulated agent's behavior.
type Script struct {
	// RunLatency is how long each run takes before settling.
	RunLatency time.Duration

	// BusyRuns rejects the first N run attempts with a busy conflict.
	BusyRuns int

	// Snapshot builds the state payload per run; nil uses DefaultSnapshot.
	Snapshot SnapshotFunc
}

// Agent is a scripted runtime handle for one thread.
type Agent struct {
	threadID string
	script   Script

	mu        sync.Mutex
	subs      map[int]runtime.Handler
	nextSub   int
	queued    []runtime.Message
	running   bool
	cancelRun context.CancelFunc
	runDone   chan struct{}
	cycle     int
	runs      int
}

var _ runtime.Handle = (*Agent)(nil)
var _ runtime.RunDetacher = (*Agent)(nil)
var _ runtime.LivenessProber = (*Agent)(nil)

// NewAgent builds a simulated agent for a thread.
func NewAgent(threadID string, script Script) *Agent {
	if script.Snapshot == nil {
		script.Snapshot = DefaultSnapshot
	}
	return &Agent{
		threadID: threadID,
		script:   script,
		subs:     make(map[int]runtime.Handler),
	}
}

// Subscribe registers an event handler.
func (a *Agent) Subscribe(h runtime.Handler) runtime.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = h
	return &subscription{agent: a, id: id}
}

type subscription struct {
	agent *Agent
	id    int
	once  sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.agent.mu.Lock()
		defer s.agent.mu.Unlock()
		delete(s.agent.subs, s.id)
	})
}

// AddMessage enqueues a command payload for the next run.
func (a *Agent) AddMessage(msg runtime.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queued = append(a.queued, msg)
}

// RunAgent executes one scripted run: reject busy if scripted, otherwise
// sleep the run latency, emit a snapshot, and settle.
func (a *Agent) RunAgent(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return &runtime.StatusError{Code: 409, Message: fmt.Sprintf("run already active on thread %s", a.threadID)}
	}
	a.runs++
	if a.runs <= a.script.BusyRuns {
		a.mu.Unlock()
		return &runtime.StatusError{Code: 409, Message: "thread is busy"}
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	a.running = true
	a.cancelRun = cancel
	a.runDone = done
	a.cycle++
	cycle := a.cycle
	a.queued = nil
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.cancelRun = nil
		a.runDone = nil
		a.mu.Unlock()
		close(done)
	}()

	a.emit(models.RunInitialized{RunID: fmt.Sprintf("%s-run-%d", a.threadID, cycle)})

	if a.script.RunLatency > 0 {
		select {
		case <-time.After(a.script.RunLatency):
		case <-rctx.Done():
			return rctx.Err()
		}
	}

	a.emit(models.StateSnapshot{Payload: a.script.Snapshot(a.threadID, cycle)})
	return nil
}

// ConnectAgent attaches to the active run; for the simulation this behaves
// like a run without consuming the message queue.
func (a *Agent) ConnectAgent(ctx context.Context) error {
	return a.RunAgent(ctx)
}

// DetachActiveRun cancels the in-flight run, if any, and waits for it to
// settle so a preempting run can start immediately.
func (a *Agent) DetachActiveRun(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancelRun
	done := a.runDone
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether a scripted run is mid-flight.
func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Cycles reports how many runs have started on this agent.
func (a *Agent) Cycles() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycle
}

func (a *Agent) emit(ev models.RuntimeEvent) {
	a.mu.Lock()
	handlers := make([]runtime.Handler, 0, len(a.subs))
	for _, h := range a.subs {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// DefaultSnapshot produces a plausible strategy-state payload whose metrics
// drift per cycle.
func DefaultSnapshot(threadID string, cycle int) json.RawMessage {
	payload := map[string]any{
		"threadId":  threadID,
		"lifecycle": "active",
		"profile": map[string]any{
			"name":     "agent-" + threadID,
			"strategy": "yield-rotation",
			"risk":     "balanced",
		},
		"metrics": map[string]any{
			"totalValueUsd": 10000 + float64(cycle)*37.5,
			"netApy":        4.2 + float64(cycle%5)*0.1,
			"cycles":        cycle,
		},
		"task": map[string]any{
			"id":      fmt.Sprintf("%s-task-%d", threadID, cycle),
			"state":   "completed",
			"message": "cycle complete",
		},
		"chains":    []string{"ethereum", "base"},
		"protocols": []string{"aave", "uniswap"},
		"tokens":    []string{"WETH", "USDC"},
	}
	raw, _ := json.Marshal(payload)
	return raw
}

// Fleet is a fixed set of simulated agents keyed by thread id.
type Fleet struct {
	agents map[string]*Agent
}

// NewFleet builds count agents with thread ids thread-1..thread-N.
func NewFleet(count int, script Script) *Fleet {
	agents := make(map[string]*Agent, count)
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("thread-%d", i)
		agents[id] = NewAgent(id, script)
	}
	return &Fleet{agents: agents}
}

// Handle resolves the agent for a thread id, nil when unknown.
func (f *Fleet) Handle(threadID string) runtime.Handle {
	a, ok := f.agents[threadID]
	if !ok {
		return nil
	}
	return a
}

// ThreadIDs lists the fleet's thread ids in stable order.
func (f *Fleet) ThreadIDs() []string {
	ids := make([]string, 0, len(f.agents))
	for i := 1; i <= len(f.agents); i++ {
		ids = append(ids, fmt.Sprintf("thread-%d", i))
	}
	return ids
}
