package poll

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/kvisle/vaultpilot/internal/logging"
	"github.com/kvisle/vaultpilot/internal/models"
	"github.com/kvisle/vaultpilot/internal/project"
	"github.com/kvisle/vaultpilot/internal/runtime"
)

// Default protocol timeouts. The completion grace balances list freshness
// against false busy classification and is environment-dependent, so it is
// exposed through config rather than fixed here.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultCompletionGrace = time.Second
)

// ProtocolConfig tunes one poll.
type ProtocolConfig struct {
	// Timeout is the hard deadline for observing a state snapshot.
	Timeout time.Duration

	// CompletionGrace is how long to wait, after a snapshot arrived, for
	// the underlying run to actually terminate before giving up and
	// flagging the thread busy.
	CompletionGrace time.Duration

	// Busy classifies run rejections; nil uses the default classifier.
	Busy runtime.BusyClassifier
}

func (c *ProtocolConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.CompletionGrace <= 0 {
		c.CompletionGrace = DefaultCompletionGrace
	}
	if c.Busy == nil {
		c.Busy = runtime.DefaultBusyClassifier
	}
}

// Result is the outcome of one thread poll. State and Entry are nil when no
// snapshot was observed. Busy marks the thread for a cooldown: a busy
// rejection was seen, or the run failed to terminate in time.
type Result struct {
	State *models.ThreadState
	Entry *models.AgentListEntry
	Busy  bool
}

// Thread runs the single-shot list-refresh protocol against one thread:
// attach a short-lived subscription, send a sync with a fresh mutation id,
// then wait for a snapshot or the hard timeout. After a snapshot the run is
// given CompletionGrace to terminate. Every path detaches the subscription
// and the remote run attachment exactly once before returning.
func Thread(ctx context.Context, h runtime.Handle, threadID string, prev *models.ThreadState, cfg ProtocolConfig) Result {
	cfg.applyDefaults()
	logger := logging.WithThread(threadID)

	snapshots := make(chan json.RawMessage, 1)
	runDone := make(chan error, 1)
	var busySeen atomic.Bool

	sub := h.Subscribe(func(ev models.RuntimeEvent) {
		switch e := ev.(type) {
		case models.StateSnapshot:
			select {
			case snapshots <- e.Payload:
			default:
			}
		case models.RunError:
			if cfg.Busy(&runtime.StatusError{Code: e.Code, Message: e.Message}) {
				busySeen.Store(true)
			}
		case models.RunFailed:
			if e.Err != nil && cfg.Busy(e.Err) {
				busySeen.Store(true)
			}
		}
	})
	defer func() {
		sub.Unsubscribe()
		runtime.Detach(ctx, h)
	}()

	msg, err := runtime.EncodeCommand(runtime.CommandSync, "list-poll", nil)
	if err != nil {
		logger.Error().Err(err).Msg("poll sync encode failed")
		return Result{}
	}
	h.AddMessage(msg)

	go func() {
		runDone <- h.RunAgent(ctx)
	}()

	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()

	select {
	case err := <-runDone:
		return settleWithoutGrace(threadID, prev, snapshots, err, cfg, busySeen.Load())

	case payload := <-snapshots:
		res := projectResult(threadID, prev, payload)
		res.Busy = busySeen.Load()

		grace := time.NewTimer(cfg.CompletionGrace)
		defer grace.Stop()
		select {
		case err := <-runDone:
			if err != nil && cfg.Busy(err) {
				res.Busy = true
			}
		case <-grace.C:
			// Snapshot arrived but the run never signalled completion.
			res.Busy = true
			logger.Debug().Msg("run did not terminate within completion grace")
		case <-ctx.Done():
		}
		return res

	case <-deadline.C:
		// No snapshot and no termination: treat as busy for cooldown.
		logger.Debug().Dur("timeout", cfg.Timeout).Msg("poll timed out without snapshot")
		return Result{Busy: true}

	case <-ctx.Done():
		return Result{}
	}
}

// settleWithoutGrace handles the run finishing before any snapshot was
// selected. A snapshot emitted in the same instant may still be buffered.
func settleWithoutGrace(threadID string, prev *models.ThreadState, snapshots chan json.RawMessage, err error, cfg ProtocolConfig, busySeen bool) Result {
	var res Result
	select {
	case payload := <-snapshots:
		res = projectResult(threadID, prev, payload)
	default:
	}
	if busySeen || (err != nil && cfg.Busy(err)) {
		res.Busy = true
	}
	return res
}

func projectResult(threadID string, prev *models.ThreadState, payload json.RawMessage) Result {
	state := project.MergeSnapshot(prev, payload)
	if state == nil {
		return Result{}
	}
	state.ThreadID = threadID
	entry := project.ListEntry(state)
	entry.Synced = true
	return Result{State: state, Entry: &entry}
}
