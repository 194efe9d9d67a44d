// Package coordinator wires the command schedulers, list poller, stream
// ownership, and state projection into one session-scoped object. It is
// constructed once per session and passed by reference; nothing here lives
// in package-level state.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvisle/vaultpilot/internal/clock"
	"github.com/kvisle/vaultpilot/internal/config"
	"github.com/kvisle/vaultpilot/internal/dispatch"
	"github.com/kvisle/vaultpilot/internal/events"
	"github.com/kvisle/vaultpilot/internal/logging"
	"github.com/kvisle/vaultpilot/internal/models"
	"github.com/kvisle/vaultpilot/internal/poll"
	"github.com/kvisle/vaultpilot/internal/project"
	"github.com/kvisle/vaultpilot/internal/runtime"
	"github.com/kvisle/vaultpilot/internal/stream"
)

// HandleFactory resolves the runtime handle for a thread. Returning nil
// marks the thread as unconfigured; dispatches against it fail silently.
type HandleFactory func(threadID string) runtime.Handle

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock substitutes the scheduler clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		c.clk = clk
	}
}

// WithBusyClassifier substitutes the busy-error classifier.
func WithBusyClassifier(busy runtime.BusyClassifier) Option {
	return func(c *Coordinator) {
		c.busy = busy
	}
}

// Coordinator keeps the UI consistent with many concurrently-observed,
// exclusively-executed remote runs: one scheduler per thread, one stream
// owner at a time, bounded list polling, and projected view state.
type Coordinator struct {
	cfg     *config.Config
	handles HandleFactory
	owners  *stream.Owners
	pub     *events.Publisher
	clk     clock.Clock
	busy    runtime.BusyClassifier
	logger  zerolog.Logger

	mu         sync.Mutex
	known      []string
	schedulers map[string]*dispatch.Scheduler
	states     map[string]*models.ThreadState
	entries    map[string]*models.AgentListEntry
	cooldowns  map[string]time.Time
	focused    string
}

// New builds a coordinator over the given handle factory.
func New(cfg *config.Config, handles HandleFactory, opts ...Option) *Coordinator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Coordinator{
		cfg:        cfg,
		handles:    handles,
		owners:     stream.NewOwners(),
		pub:        events.NewPublisher(),
		clk:        clock.Wall(),
		busy:       runtime.DefaultBusyClassifier,
		logger:     logging.Component("coordinator"),
		schedulers: make(map[string]*dispatch.Scheduler),
		states:     make(map[string]*models.ThreadState),
		entries:    make(map[string]*models.AgentListEntry),
		cooldowns:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddAgent registers a thread in the known agent set. Adding an already
// known thread is a no-op.
func (c *Coordinator) AddAgent(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[threadID]; ok {
		return
	}
	c.known = append(c.known, threadID)
	c.entries[threadID] = &models.AgentListEntry{ThreadID: threadID}
}

// KnownAgents returns the registered thread ids in registration order.
func (c *Coordinator) KnownAgents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.known...)
}

// scheduler returns (building lazily) the thread's command scheduler.
func (c *Coordinator) scheduler(threadID string) *dispatch.Scheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.schedulers[threadID]; ok {
		return s
	}
	resolve := func() (runtime.Handle, string) {
		return c.handles(threadID), threadID
	}
	logger := logging.WithThread(threadID)
	cb := dispatch.Callbacks{
		OnCommandError: func(command string, err error) {
			logger.Warn().Err(err).Str("command", command).Msg("command failed")
			c.setEntryError(threadID, err.Error())
			c.pub.Publish(events.Event{Type: events.TypeCommandFailed, ThreadID: threadID, Command: command, Err: err})
		},
		OnCommandBusy: func(command string, err error) {
			// Contention, not failure: cool the thread down instead of
			// surfacing a hard error.
			logger.Debug().Err(err).Str("command", command).Msg("thread busy")
			c.startCooldown(threadID)
		},
		OnSyncingChange: func(syncing bool) {
			logger.Debug().Bool("syncing", syncing).Msg("sync state changed")
		},
	}
	s := dispatch.NewScheduler(resolve, dispatch.Config{
		MaxSyncBusyRetries: c.cfg.Scheduler.MaxSyncBusyRetries,
		SyncReplayDelay:    c.cfg.Scheduler.SyncReplayDelay(),
		Source:             "coordinator",
	}, cb, c.clk, c.busy)
	c.schedulers[threadID] = s
	return s
}

// Dispatch gates and sends a command on a thread. See dispatch.Scheduler.
func (c *Coordinator) Dispatch(threadID, command string, opts dispatch.Options) bool {
	return c.scheduler(threadID).Dispatch(command, opts)
}

// Sync requests a state sync, coalescing if a run is already in flight.
func (c *Coordinator) Sync(threadID string, payload map[string]any) bool {
	return c.Dispatch(threadID, runtime.CommandSync, dispatch.Options{
		AllowSyncCoalesce: true,
		Payload:           payload,
	})
}

// Fire tears the agent down. Fire must be able to preempt an in-flight run
// rather than merely fail, so it dispatches preemptively.
func (c *Coordinator) Fire(threadID string) bool {
	h := c.handles(threadID)
	if h == nil {
		return false
	}
	return c.scheduler(threadID).DispatchCustom(dispatch.CustomDispatch{
		Command:         runtime.CommandFire,
		AllowPreemptive: true,
		Run: func(ctx context.Context) error {
			msg, err := runtime.EncodeCommand(runtime.CommandFire, "coordinator", nil)
			if err != nil {
				return err
			}
			// Preempting means releasing the in-flight run first, not
			// bouncing off its conflict.
			runtime.Detach(ctx, h)
			h.AddMessage(msg)
			return h.RunAgent(ctx)
		},
	})
}

// HandleRunTerminal notifies the thread's scheduler that its run settled.
func (c *Coordinator) HandleRunTerminal(threadID string) {
	c.scheduler(threadID).HandleRunTerminal()
}

// Focus makes threadID the live-streamed thread: its detail-view owner
// preempts whoever held the stream, and the list poller stops touching it.
func (c *Coordinator) Focus(ctx context.Context, threadID string) error {
	ownerID := detailOwnerID(threadID)
	h := c.handles(threadID)
	c.owners.Register(ownerID, func(dctx context.Context) error {
		if h != nil {
			runtime.Detach(dctx, h)
		}
		return nil
	})
	if err := c.owners.Acquire(ctx, ownerID); err != nil {
		return err
	}
	c.mu.Lock()
	c.focused = threadID
	c.mu.Unlock()
	c.pub.Publish(events.Event{Type: events.TypeFocusChanged, ThreadID: threadID})

	if h != nil {
		// Attach to any active run so the focused surface streams live
		// events. Attaching is not starting a run, so it may preempt.
		c.scheduler(threadID).DispatchCustom(dispatch.CustomDispatch{
			Command:         "connect",
			AllowPreemptive: true,
			Run:             h.ConnectAgent,
		})
	}
	return nil
}

// Blur drops focus from threadID. The owner releases without disconnecting;
// the caller is already tearing the surface down.
func (c *Coordinator) Blur(ctx context.Context, threadID string) error {
	c.mu.Lock()
	if c.focused == threadID {
		c.focused = ""
	}
	c.mu.Unlock()
	return c.owners.Release(ctx, detailOwnerID(threadID))
}

// Focused returns the currently focused thread id, or "".
func (c *Coordinator) Focused() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

// Owners exposes the stream ownership coordinator.
func (c *Coordinator) Owners() *stream.Owners {
	return c.owners
}

// Events exposes the coordinator's notification publisher.
func (c *Coordinator) Events() *events.Publisher {
	return c.pub
}

// RefreshAgents polls every known thread that is neither focused nor cooling
// down, with bounded concurrency. Per-thread failures never abort the batch.
func (c *Coordinator) RefreshAgents(ctx context.Context) {
	c.mu.Lock()
	ids := append([]string(nil), c.known...)
	focused := c.focused
	cooldowns := make(map[string]time.Time, len(c.cooldowns))
	for id, until := range c.cooldowns {
		cooldowns[id] = until
	}
	c.mu.Unlock()

	pollable := poll.SelectPollable(ids, focused, cooldowns, c.clk.Now())
	if len(pollable) == 0 {
		return
	}
	poll.ForEach(ctx, pollable, c.cfg.Poller.MaxConcurrent, c.pollOne)
}

// pollOne runs the single-shot poll protocol for one thread and folds the
// outcome into the list cache. All errors are normalized here so the fan-out
// batch is never aborted.
func (c *Coordinator) pollOne(ctx context.Context, threadID string) {
	h := c.handles(threadID)
	if h == nil {
		c.setEntryError(threadID, "no runtime handle")
		return
	}

	// Hold stream ownership for the poll so a detail view focusing this
	// thread mid-poll preempts us instead of double-attaching.
	ownerID := pollOwnerID(threadID)
	c.owners.Register(ownerID, func(dctx context.Context) error {
		runtime.Detach(dctx, h)
		return nil
	})
	if err := c.owners.Acquire(ctx, ownerID); err != nil {
		return
	}
	defer func() {
		_ = c.owners.Unregister(context.Background(), ownerID)
	}()

	c.mu.Lock()
	prev := c.states[threadID]
	c.mu.Unlock()

	res := poll.Thread(ctx, h, threadID, prev, poll.ProtocolConfig{
		Timeout:         c.cfg.Poller.Timeout(),
		CompletionGrace: c.cfg.Poller.RunCompletionGrace(),
		Busy:            c.busy,
	})

	c.mu.Lock()
	if res.State != nil {
		c.states[threadID] = res.State
	}
	if res.Entry != nil {
		c.entries[threadID] = res.Entry
	}
	if res.Busy {
		c.cooldowns[threadID] = c.clk.Now().Add(c.cfg.Poller.BusyCooldown())
	}
	c.mu.Unlock()

	if res.Entry != nil {
		c.pub.Publish(events.Event{Type: events.TypeEntryUpdated, ThreadID: threadID, Entry: res.Entry})
	}
	if res.Busy {
		c.pub.Publish(events.Event{Type: events.TypeCooldownStarted, ThreadID: threadID})
	}
}

// Entries returns a snapshot of the list cache in registration order.
func (c *Coordinator) Entries() []models.AgentListEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.AgentListEntry, 0, len(c.known))
	for _, id := range c.known {
		if e := c.entries[id]; e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// ViewModel derives the UI snapshot for a thread, or nil when no state has
// been observed yet.
func (c *Coordinator) ViewModel(threadID string) *models.ViewModel {
	c.mu.Lock()
	state := c.states[threadID]
	focused := c.focused
	c.mu.Unlock()
	if state == nil {
		return nil
	}
	s := c.scheduler(threadID)
	return project.ViewModel(state, models.RuntimeFlags{
		Connected:       focused == threadID,
		CommandInFlight: s.RunInFlight(),
		SyncPending:     s.SyncPending(),
	})
}

// Close disposes every scheduler and stops the ownership worker.
func (c *Coordinator) Close() {
	c.mu.Lock()
	schedulers := make([]*dispatch.Scheduler, 0, len(c.schedulers))
	for _, s := range c.schedulers {
		schedulers = append(schedulers, s)
	}
	c.mu.Unlock()
	for _, s := range schedulers {
		s.Dispose()
	}
	c.owners.Close()
	c.pub.Close()
}

func (c *Coordinator) setEntryError(threadID, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[threadID]; e != nil {
		e.Error = msg
	}
}

func (c *Coordinator) startCooldown(threadID string) {
	c.mu.Lock()
	c.cooldowns[threadID] = c.clk.Now().Add(c.cfg.Poller.BusyCooldown())
	c.mu.Unlock()
	c.pub.Publish(events.Event{Type: events.TypeCooldownStarted, ThreadID: threadID})
}

func detailOwnerID(threadID string) string {
	return fmt.Sprintf("thread:%s:detail-view", threadID)
}

func pollOwnerID(threadID string) string {
	return fmt.Sprintf("thread:%s:list-poll", threadID)
}
