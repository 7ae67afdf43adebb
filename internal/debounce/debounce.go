// Package debounce provides a restartable single-slot delayed action.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer holds at most one pending action. Triggering again replaces the
// pending action and restarts the quiet period.
type Timer struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	delay   time.Duration
	pending clockwork.Timer
	gen     uint64
	closed  bool
}

func New(clock clockwork.Clock, delay time.Duration) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if delay < 0 {
		delay = 0
	}
	return &Timer{clock: clock, delay: delay}
}

// Trigger schedules fn after the quiet period, cancelling whatever was
// pending. It is a no-op once the timer is closed.
func (t *Timer) Trigger(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.stopLocked()

	t.gen++
	gen := t.gen
	t.pending = t.clock.AfterFunc(t.delay, func() {
		t.mu.Lock()
		if t.closed || t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.pending = nil
		t.mu.Unlock()

		fn()
	})
}

// Stop cancels the pending action, reporting whether there was one.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked()
}

func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Close stops the timer for good. Actions already running are not
// interrupted, but none will start afterwards.
func (t *Timer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.closed = true
}

func (t *Timer) stopLocked() bool {
	if t.pending == nil {
		return false
	}
	// bumping gen also defeats a callback that already fired but has not
	// taken the lock yet
	t.gen++
	t.pending.Stop()
	t.pending = nil
	return true
}
