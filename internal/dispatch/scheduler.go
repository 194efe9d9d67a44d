package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvisle/vaultpilot/internal/clock"
	"github.com/kvisle/vaultpilot/internal/logging"
	"github.com/kvisle/vaultpilot/internal/runtime"
)

// Default tuning for the busy-retry state machine.
const (
	DefaultMaxSyncBusyRetries = 3
	DefaultSyncReplayDelay    = 500 * time.Millisecond
)

// retryState tracks the sync busy-retry machine.
type retryState int

const (
	retryIdle retryState = iota
	retryScheduled
	retryExhausted
)

// HandleResolver resolves the agent handle and thread id for a dispatch.
// Returning a nil handle or empty thread id marks the scheduler as
// unconfigured; dispatches then fail silently.
type HandleResolver func() (runtime.Handle, string)

// Callbacks surface run outcomes. They are invoked without internal locks
// held, from the dispatching goroutine, a run goroutine, or a retry timer.
type Callbacks struct {
	// OnCommandError fires when a run fails for a non-busy reason.
	OnCommandError func(command string, err error)

	// OnCommandBusy fires when the runtime rejected the command because
	// another run was active: immediately for non-sync commands, after the
	// retry budget is exhausted for sync.
	OnCommandBusy func(command string, err error)

	// OnSyncingChange reports whether a sync is in flight or pending.
	OnSyncingChange func(syncing bool)
}

// Config tunes one scheduler instance.
type Config struct {
	// MaxSyncBusyRetries bounds automatic sync replays after busy
	// rejections. Default 3.
	MaxSyncBusyRetries int

	// SyncReplayDelay is the pause before a busy sync is replayed.
	// Default 500ms.
	SyncReplayDelay time.Duration

	// Source is stamped into command payloads, e.g. "sidebar-poll".
	Source string
}

func (c *Config) applyDefaults() {
	if c.MaxSyncBusyRetries <= 0 {
		c.MaxSyncBusyRetries = DefaultMaxSyncBusyRetries
	}
	if c.SyncReplayDelay <= 0 {
		c.SyncReplayDelay = DefaultSyncReplayDelay
	}
}

// Options modify a single dispatch.
type Options struct {
	// AllowSyncCoalesce lets a sync issued while a run is in flight be
	// recorded as a pending intent and replayed later. Only meaningful for
	// the sync command.
	AllowSyncCoalesce bool

	// Payload carries extra command fields.
	Payload map[string]any
}

// CustomDispatch dispatches a caller-supplied run function under the same
// gating and settlement machinery.
type CustomDispatch struct {
	Command string
	Run     func(ctx context.Context) error

	// AllowPreemptive bypasses the gate check so the run can preempt an
	// in-flight run (used by fire). The resulting run is still tracked by
	// the same state machine.
	AllowPreemptive bool
}

// Scheduler is the sole path through which a thread's remote run is started.
// It guarantees at most one in-flight run per thread and deterministic
// handling of commands submitted while busy.
type Scheduler struct {
	resolve HandleResolver
	cfg     Config
	cb      Callbacks
	clk     clock.Clock
	busy    runtime.BusyClassifier
	logger  zerolog.Logger

	gate Gate

	mu              sync.Mutex
	pendingSync     map[string]any
	pendingSyncSet  bool
	syncBusyRetries int
	retry           retryState
	retryTimer      clock.Timer
	syncing         bool
	disposed        bool
}

// NewScheduler builds a scheduler for one thread. A nil clock uses the wall
// clock; a nil busy classifier uses runtime.DefaultBusyClassifier.
func NewScheduler(resolve HandleResolver, cfg Config, cb Callbacks, clk clock.Clock, busy runtime.BusyClassifier) *Scheduler {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.Wall()
	}
	if busy == nil {
		busy = runtime.DefaultBusyClassifier
	}
	return &Scheduler{
		resolve: resolve,
		cfg:     cfg,
		cb:      cb,
		clk:     clk,
		busy:    busy,
		logger:  logging.Component("dispatch"),
	}
}

// Gate exposes the thread's run gate for read-only consultation.
func (s *Scheduler) Gate() *Gate {
	return &s.gate
}

// RunInFlight reports whether a run is currently in flight.
func (s *Scheduler) RunInFlight() bool {
	return s.gate.Held()
}

// SyncPending reports whether a sync is in flight or pending replay.
func (s *Scheduler) SyncPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// Dispatch gates and sends a command. It returns true when the command was
// accepted: either a run was started (failures surface later through the
// callbacks) or a sync was coalesced into the pending intent. It returns
// false when no handle or thread id is resolvable, or when a non-coalescible
// command arrives while a run is in flight.
func (s *Scheduler) Dispatch(command string, opts Options) bool {
	var calls []func()
	s.mu.Lock()
	ok := s.dispatchLocked(command, opts, false, &calls)
	s.mu.Unlock()
	invoke(calls)
	return ok
}

// DispatchCustom runs a caller-supplied function under the scheduler's state
// machine.
func (s *Scheduler) DispatchCustom(d CustomDispatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || d.Run == nil {
		return false
	}
	h, threadID := s.resolve()
	if h == nil || threadID == "" {
		s.logger.Debug().Str("command", d.Command).Msg("dispatch skipped, no handle resolvable")
		return false
	}

	if !s.gate.TryAcquire() {
		if !d.AllowPreemptive {
			return false
		}
		// Preempting an in-flight run keeps the gate held.
	}
	s.syncBusyRetries = 0

	go s.runAndSettle(h, d.Command, nil, d.Run)
	return true
}

// dispatchLocked does the gating dance. The caller holds s.mu; callback
// invocations are appended to calls and must run after the lock is released.
func (s *Scheduler) dispatchLocked(command string, opts Options, replay bool, calls *[]func()) bool {
	if s.disposed {
		return false
	}
	h, threadID := s.resolve()
	if h == nil || threadID == "" {
		s.logger.Debug().Str("command", command).Msg("dispatch skipped, no handle resolvable")
		return false
	}

	if !s.gate.TryAcquire() {
		if command == runtime.CommandSync && opts.AllowSyncCoalesce {
			// Last-write-wins: overwrite any earlier pending payload.
			s.pendingSync = opts.Payload
			s.pendingSyncSet = true
			s.setSyncingLocked(true, calls)
			return true
		}
		return false
	}

	msg, err := runtime.EncodeCommand(command, s.cfg.Source, opts.Payload)
	if err != nil {
		s.gate.Release()
		s.logger.Error().Err(err).Str("command", command).Msg("command encode failed")
		return false
	}

	if !replay {
		// A fresh dispatch that starts resets the busy-retry budget and
		// cancels any scheduled replay. A fresh sync also supersedes the
		// pending intent: last write wins, the stale payload must not be
		// re-sent after this one.
		s.syncBusyRetries = 0
		s.cancelRetryLocked()
		s.retry = retryIdle
		if command == runtime.CommandSync {
			s.clearPendingLocked()
		}
	}
	if command == runtime.CommandSync {
		s.setSyncingLocked(true, calls)
	}

	h.AddMessage(msg)
	go s.runAndSettle(h, command, opts.Payload, h.RunAgent)
	return true
}

// runAndSettle awaits the run and advances the state machine on settlement.
func (s *Scheduler) runAndSettle(h runtime.Handle, command string, payload map[string]any, run func(ctx context.Context) error) {
	err := run(context.Background())

	var calls []func()
	s.mu.Lock()
	s.gate.Release()

	switch {
	case err == nil:
		s.settleCleanLocked(command, &calls)

	case s.classifyBusyLocked(h, err):
		s.settleBusyLocked(command, payload, err, &calls)

	default:
		if cb := s.cb.OnCommandError; cb != nil {
			calls = append(calls, func() { cb(command, err) })
		}
		s.settleCleanLocked(command, &calls)
	}
	s.mu.Unlock()
	invoke(calls)
}

// settleCleanLocked handles the non-busy terminal path: reset the retry
// budget and replay any pending sync.
func (s *Scheduler) settleCleanLocked(command string, calls *[]func()) {
	s.syncBusyRetries = 0
	if s.retry != retryScheduled {
		s.retry = retryIdle
	}
	s.replayPendingLocked(calls)
	if command == runtime.CommandSync && !s.pendingSyncSet && !s.gate.Held() {
		s.setSyncingLocked(false, calls)
	}
}

// settleBusyLocked handles a busy rejection: schedule a bounded replay for
// sync, surface immediately for anything else.
func (s *Scheduler) settleBusyLocked(command string, payload map[string]any, err error, calls *[]func()) {
	if command != runtime.CommandSync {
		if cb := s.cb.OnCommandBusy; cb != nil {
			*calls = append(*calls, func() { cb(command, err) })
		}
		s.replayPendingLocked(calls)
		return
	}

	if s.syncBusyRetries >= s.cfg.MaxSyncBusyRetries {
		s.retry = retryExhausted
		s.clearPendingLocked()
		s.setSyncingLocked(false, calls)
		if cb := s.cb.OnCommandBusy; cb != nil {
			*calls = append(*calls, func() { cb(command, err) })
		}
		return
	}

	s.syncBusyRetries++
	if !s.pendingSyncSet {
		// Keep a newer coalesced payload if one arrived during the run.
		s.pendingSync = payload
		s.pendingSyncSet = true
	}
	s.retry = retryScheduled
	s.retryTimer = s.clk.AfterFunc(s.cfg.SyncReplayDelay, s.onReplayTimer)
	s.logger.Debug().
		Int("attempt", s.syncBusyRetries).
		Dur("delay", s.cfg.SyncReplayDelay).
		Msg("sync busy, replay scheduled")
}

// onReplayTimer fires the scheduled sync replay.
func (s *Scheduler) onReplayTimer() {
	var calls []func()
	s.mu.Lock()
	if s.disposed || s.retry != retryScheduled {
		s.mu.Unlock()
		return
	}
	s.retry = retryIdle
	s.retryTimer = nil
	s.replayPendingLocked(&calls)
	s.mu.Unlock()
	invoke(calls)
}

// HandleRunTerminal is called when a run is observed to have settled outside
// the scheduler's own run path (e.g. termination seen on the event stream).
// It releases the gate, resets the retry budget, and replays any pending
// sync intent.
func (s *Scheduler) HandleRunTerminal() {
	var calls []func()
	s.mu.Lock()
	s.gate.Release()
	s.syncBusyRetries = 0
	s.cancelRetryLocked()
	s.replayPendingLocked(&calls)
	if !s.pendingSyncSet && !s.gate.Held() {
		s.setSyncingLocked(false, &calls)
	}
	s.mu.Unlock()
	invoke(calls)
}

// replayPendingLocked dispatches the pending sync intent if the gate is free.
func (s *Scheduler) replayPendingLocked(calls *[]func()) {
	if !s.pendingSyncSet || s.gate.Held() {
		return
	}
	payload := s.pendingSync
	s.clearPendingLocked()
	s.dispatchLocked(runtime.CommandSync, Options{AllowSyncCoalesce: true, Payload: payload}, true, calls)
}

// Reset clears the pending intent and cancels any scheduled replay. The gate
// is left untouched.
func (s *Scheduler) Reset() {
	var calls []func()
	s.mu.Lock()
	s.clearPendingLocked()
	s.cancelRetryLocked()
	s.syncBusyRetries = 0
	s.setSyncingLocked(false, &calls)
	s.mu.Unlock()
	invoke(calls)
}

// Dispose tears the scheduler down. Further dispatches fail and scheduled
// timers are cancelled so nothing leaks on component teardown.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.clearPendingLocked()
	s.cancelRetryLocked()
	s.mu.Unlock()
}

func (s *Scheduler) clearPendingLocked() {
	s.pendingSync = nil
	s.pendingSyncSet = false
}

func (s *Scheduler) cancelRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.retry == retryScheduled {
		s.retry = retryIdle
	}
}

// classifyBusyLocked applies the injected classifier and corroborates with
// the handle's liveness probe when it exposes one.
func (s *Scheduler) classifyBusyLocked(h runtime.Handle, err error) bool {
	if s.busy(err) {
		return true
	}
	if probe := runtime.Liveness(h); probe != nil && probe() {
		return true
	}
	return false
}

func (s *Scheduler) setSyncingLocked(syncing bool, calls *[]func()) {
	if s.syncing == syncing {
		return
	}
	s.syncing = syncing
	if cb := s.cb.OnSyncingChange; cb != nil {
		*calls = append(*calls, func() { cb(syncing) })
	}
}

func invoke(calls []func()) {
	for _, f := range calls {
		f()
	}
}
