package engine

import (
	"sync"
	"time"
)

// timerSet owns the per-alert deadline timers, keyed by alert ID.
//
// Cancellation here is an optimisation only: the deadline callback checks the
// alert state atomically before acting, so a timer that fires after an
// acknowledgment is a no-op even if Cancel lost the race.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

// Schedule arms a timer for id that invokes fn after delay.
func (ts *timerSet) Schedule(id string, delay time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return
	}

	if prev, ok := ts.timers[id]; ok {
		prev.Stop()
	}

	ts.timers[id] = time.AfterFunc(delay, func() {
		ts.mu.Lock()
		delete(ts.timers, id)
		ts.mu.Unlock()
		fn()
	})
}

// Cancel stops the timer for id if it has not fired yet.
func (ts *timerSet) Cancel(id string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	timer, ok := ts.timers[id]
	if !ok {
		return false
	}
	delete(ts.timers, id)
	return timer.Stop()
}

// Stop cancels every outstanding timer. Used on shutdown.
func (ts *timerSet) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.closed = true
	for id, timer := range ts.timers {
		timer.Stop()
		delete(ts.timers, id)
	}
}
