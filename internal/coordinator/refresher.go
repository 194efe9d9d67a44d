package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvisle/vaultpilot/internal/logging"
)

// Refresher errors.
var (
	ErrRefresherAlreadyRunning = errors.New("refresher already running")
	ErrRefresherNotRunning     = errors.New("refresher not running")
)

// Refresher periodically drives Coordinator.RefreshAgents so the list cache
// stays fresh without the UI asking for it.
type Refresher struct {
	coord    *Coordinator
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRefresher creates a refresher over the coordinator. A non-positive
// interval falls back to the coordinator's configured refresh interval.
func NewRefresher(coord *Coordinator, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = coord.cfg.Poller.RefreshInterval()
	}
	return &Refresher{
		coord:    coord,
		interval: interval,
		logger:   logging.Component("refresher"),
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrRefresherAlreadyRunning
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	r.logger.Info().Dur("interval", r.interval).Msg("refresher starting")

	r.wg.Add(1)
	go r.runLoop()
	return nil
}

// Stop halts the refresh loop and waits for the in-flight refresh to finish.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrRefresherNotRunning
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info().Msg("refresher stopped")
	return nil
}

// IsRunning returns true if the refresh loop is active.
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Refresher) runLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.coord.RefreshAgents(r.ctx)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.coord.RefreshAgents(r.ctx)
		}
	}
}
