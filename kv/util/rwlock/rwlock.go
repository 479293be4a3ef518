// Package rwlock provides a reader/writer lock owned by transaction identifiers instead of goroutines.
//
// Requests are registered with Acquire and waited on with Waiter.Wait, so a caller can register a request while it
// holds its own mutex and release that mutex before blocking. When the lock is released, one grantable waiter is
// picked uniformly at random and granted, repeatedly, until no waiter can be granted. There is no FIFO order and no
// protection against starvation.
package rwlock

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pingcap/errors"
)

// Mode is the access mode of a lock request.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

var (
	// ErrNotHeld is returned by Unlock when the identifier holds neither mode.
	ErrNotHeld = errors.New("attempted to unlock un-owned lock")
	// ErrWaitCancelled is returned by Waiter.Wait after StopWaiting removed the request.
	ErrWaitCancelled = errors.New("lock wait cancelled")
	// ErrAlreadyWaiting is returned when an identifier registers a second request while one is pending.
	ErrAlreadyWaiting = errors.New("lock request already pending")
)

// RWLock is a reader/writer lock keyed by ID. The zero value is not usable, use New.
type RWLock[ID comparable] struct {
	mu        sync.Mutex
	readers   map[ID]struct{}
	writer    ID
	hasWriter bool
	waiters   map[ID]*Waiter[ID]
}

func New[ID comparable]() *RWLock[ID] {
	return &RWLock[ID]{
		readers: make(map[ID]struct{}),
		waiters: make(map[ID]*Waiter[ID]),
	}
}

// Waiter is a registered lock request.
type Waiter[ID comparable] struct {
	lock *RWLock[ID]
	id   ID
	mode Mode
	ch   chan error
}

// Wait blocks until the request is granted, cancelled with StopWaiting, or ctx is done. If ctx is done first the
// request is withdrawn and ctx.Err() returned, unless it was granted in the meantime.
func (w *Waiter[ID]) Wait(ctx context.Context) error {
	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
	}

	l := w.lock
	l.mu.Lock()
	if l.waiters[w.id] == w {
		delete(l.waiters, w.id)
		l.mu.Unlock()
		return ctx.Err()
	}
	l.mu.Unlock()
	// Resolved concurrently, the result is already buffered.
	return <-w.ch
}

// Acquire registers a request for mode on behalf of id. The returned waiter is already resolved when the lock could
// be granted immediately, including the reentrant cases.
func (l *RWLock[ID]) Acquire(id ID, mode Mode) *Waiter[ID] {
	w := &Waiter[ID]{lock: l, id: id, mode: mode, ch: make(chan error, 1)}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holds(id, mode) {
		w.ch <- nil
		return w
	}
	if _, ok := l.waiters[id]; ok {
		w.ch <- errors.Trace(ErrAlreadyWaiting)
		return w
	}
	if l.grantable(id, mode) {
		l.grant(id, mode)
		w.ch <- nil
		return w
	}
	l.waiters[id] = w
	return w
}

// ReadLock blocks until id holds a read (or write) lock.
func (l *RWLock[ID]) ReadLock(ctx context.Context, id ID) error {
	return l.Acquire(id, Read).Wait(ctx)
}

// WriteLock blocks until id holds the write lock. A read lock held by id is kept while waiting.
func (l *RWLock[ID]) WriteLock(ctx context.Context, id ID) error {
	return l.Acquire(id, Write).Wait(ctx)
}

// Unlock releases whatever id holds.
func (l *RWLock[ID]) Unlock(id ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hasWriter && l.writer == id {
		var zero ID
		l.writer = zero
		l.hasWriter = false
		l.wakeUp()
		return nil
	}
	if _, ok := l.readers[id]; ok {
		delete(l.readers, id)
		l.wakeUp()
		return nil
	}
	return errors.Trace(ErrNotHeld)
}

// GetWaitFor returns the holders id would have to wait behind to acquire mode right now.
func (l *RWLock[ID]) GetWaitFor(id ID, mode Mode) []ID {
	l.mu.Lock()
	defer l.mu.Unlock()

	var waitFor []ID
	if l.hasWriter {
		if l.writer == id {
			return waitFor
		}
		waitFor = append(waitFor, l.writer)
	}
	if mode == Write {
		for reader := range l.readers {
			if reader != id {
				waitFor = append(waitFor, reader)
			}
		}
	}
	return waitFor
}

// HasLock reports whether id holds the lock in any mode.
func (l *RWLock[ID]) HasLock(id ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, reading := l.readers[id]
	return reading || (l.hasWriter && l.writer == id)
}

// HasLockMode reports whether id holds the lock in exactly mode.
func (l *RWLock[ID]) HasLockMode(id ID, mode Mode) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mode == Write {
		return l.hasWriter && l.writer == id
	}
	_, reading := l.readers[id]
	return reading
}

// IsWaiting reports whether id has a pending request.
func (l *RWLock[ID]) IsWaiting(id ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.waiters[id]
	return ok
}

// StopWaiting withdraws id's pending request without granting it. It returns false if there was none.
func (l *RWLock[ID]) StopWaiting(id ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.waiters[id]
	if !ok {
		return false
	}
	delete(l.waiters, id)
	w.ch <- errors.Trace(ErrWaitCancelled)
	return true
}

// Idle reports whether nobody holds or waits for the lock.
func (l *RWLock[ID]) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.hasWriter && len(l.readers) == 0 && len(l.waiters) == 0
}

func (l *RWLock[ID]) holds(id ID, mode Mode) bool {
	if l.hasWriter && l.writer == id {
		return true
	}
	if mode == Read {
		_, ok := l.readers[id]
		return ok
	}
	return false
}

func (l *RWLock[ID]) grantable(id ID, mode Mode) bool {
	if l.hasWriter && l.writer != id {
		return false
	}
	if mode == Read {
		return true
	}
	for reader := range l.readers {
		if reader != id {
			return false
		}
	}
	return true
}

func (l *RWLock[ID]) grant(id ID, mode Mode) {
	if mode == Write {
		delete(l.readers, id)
		l.writer = id
		l.hasWriter = true
		return
	}
	l.readers[id] = struct{}{}
}

// wakeUp grants randomly chosen waiters until none can be granted. l.mu must be held.
func (l *RWLock[ID]) wakeUp() {
	for {
		candidates := make([]*Waiter[ID], 0, len(l.waiters))
		for id, w := range l.waiters {
			if l.grantable(id, w.mode) {
				candidates = append(candidates, w)
			}
		}
		if len(candidates) == 0 {
			return
		}
		chosen := candidates[rand.Intn(len(candidates))]
		delete(l.waiters, chosen.id)
		l.grant(chosen.id, chosen.mode)
		chosen.ch <- nil
	}
}
