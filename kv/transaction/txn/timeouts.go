package txn

import (
	"sync"
	"time"
)

// Timeouts keeps one idle timer per transaction. When a timer expires, onExpire is called with the timestamp from the
// timer's own goroutine and without any lock held, so it may call back into the engine.
//
// A timer that has been reset or cancelled never calls onExpire, even if it had already fired and was waiting for
// the mutex.
type Timeouts struct {
	mu       sync.Mutex
	timeout  time.Duration
	timers   map[Timestamp]*time.Timer
	onExpire func(ts Timestamp)
	closed   bool
}

// NewTimeouts creates the timers of one engine. A timeout of zero disables them.
func NewTimeouts(timeout time.Duration, onExpire func(ts Timestamp)) *Timeouts {
	return &Timeouts{
		timeout:  timeout,
		timers:   make(map[Timestamp]*time.Timer),
		onExpire: onExpire,
	}
}

// Reset (re)starts the idle timer of ts.
func (t *Timeouts) Reset(ts Timestamp) {
	if t.timeout <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if old, ok := t.timers[ts]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		current, ok := t.timers[ts]
		if !ok || current != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, ts)
		t.mu.Unlock()
		t.onExpire(ts)
	})
	t.timers[ts] = timer
}

// Cancel stops the timer of ts. Cancelling an unknown timestamp is a no-op.
func (t *Timeouts) Cancel(ts Timestamp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[ts]; ok {
		timer.Stop()
		delete(t.timers, ts)
	}
}

// Pending returns the number of running timers.
func (t *Timeouts) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels every timer; later Resets are ignored.
func (t *Timeouts) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ts, timer := range t.timers {
		timer.Stop()
		delete(t.timers, ts)
	}
	t.closed = true
}
