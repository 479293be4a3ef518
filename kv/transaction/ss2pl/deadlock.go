package ss2pl

import (
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
	"github.com/pingcap/errors"
)

var errDeadlock = errors.New("wait-for cycle")

// Detector keeps the wait-for graph of one engine: an edge from a to b means a is waiting for a lock b holds.
// Edges are added when a lock is requested and dropped when the requester stops waiting or a holder finishes.
type Detector struct {
	waitFor map[txn.Timestamp]map[txn.Timestamp]struct{}
}

func NewDetector() *Detector {
	return &Detector{waitFor: make(map[txn.Timestamp]map[txn.Timestamp]struct{})}
}

// Detect adds edges from txnTs to every holder and checks whether txnTs now waits for itself. On a deadlock the
// outgoing edges of txnTs are removed again, since it will not wait.
func (d *Detector) Detect(txnTs txn.Timestamp, holders []txn.Timestamp) error {
	if len(holders) == 0 {
		return nil
	}
	edges, ok := d.waitFor[txnTs]
	if !ok {
		edges = make(map[txn.Timestamp]struct{})
		d.waitFor[txnTs] = edges
	}
	for _, holder := range holders {
		edges[holder] = struct{}{}
	}
	if d.reaches(txnTs, txnTs, make(map[txn.Timestamp]struct{})) {
		delete(d.waitFor, txnTs)
		return errDeadlock
	}
	return nil
}

// reaches reports whether target can be reached from the waiters of from.
func (d *Detector) reaches(from, target txn.Timestamp, visited map[txn.Timestamp]struct{}) bool {
	for next := range d.waitFor[from] {
		if next == target {
			return true
		}
		if _, ok := visited[next]; ok {
			continue
		}
		visited[next] = struct{}{}
		if d.reaches(next, target, visited) {
			return true
		}
	}
	return false
}

// CleanUpWaitFor removes the outgoing edges of txnTs once it no longer waits.
func (d *Detector) CleanUpWaitFor(txnTs txn.Timestamp) {
	delete(d.waitFor, txnTs)
}

// CleanUp removes every edge from or to a finished transaction.
func (d *Detector) CleanUp(txnTs txn.Timestamp) {
	delete(d.waitFor, txnTs)
	for waiter, edges := range d.waitFor {
		delete(edges, txnTs)
		if len(edges) == 0 {
			delete(d.waitFor, waiter)
		}
	}
}
