// Package clock abstracts timer scheduling so retry and grace timers can be
// driven by a manual clock in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be canceled.
type Timer interface {
	// Stop cancels the timer. It reports whether the callback had not yet
	// fired.
	Stop() bool
}

// Clock schedules deferred work and reports the current time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Wall returns the real-time clock.
func Wall() Clock {
	return wallClock{}
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Manual is a test clock advanced explicitly. Callbacks scheduled via
// AfterFunc fire synchronously inside Advance once their deadline passes.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManual returns a manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{clock: m, when: m.now.Add(d), fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward and fires every timer whose deadline has
// passed, in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.nextDue()
		if t == nil {
			return
		}
		t.fire()
	}
}

func (m *Manual) nextDue() *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due *manualTimer
	idx := -1
	for i, t := range m.timers {
		if t.fired || t.stopped || t.when.After(m.now) {
			continue
		}
		if due == nil || t.when.Before(due.when) {
			due = t
			idx = i
		}
	}
	if idx >= 0 {
		m.timers = append(m.timers[:idx], m.timers[idx+1:]...)
	}
	return due
}

type manualTimer struct {
	clock   *Manual
	when    time.Time
	fn      func()
	fired   bool
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (t *manualTimer) fire() {
	t.clock.mu.Lock()
	if t.fired || t.stopped {
		t.clock.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.clock.mu.Unlock()
	fn()
}
