package tbcc

import (
	"github.com/google/btree"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
)

const tentativeBTreeDegree = 4

// tentativeWrite is an uncommitted balance written by the transaction ts.
type tentativeWrite struct {
	ts      txn.Timestamp
	balance int64
}

var _ btree.Item = &tentativeWrite{}

// Less orders tentative writes by timestamp.
func (w *tentativeWrite) Less(other btree.Item) bool {
	return w.ts < other.(*tentativeWrite).ts
}

type tsSet map[txn.Timestamp]struct{}

// account is the committed state of one account plus the writes still pending on it. creators and deletors record
// the transactions responsible for the account existing, so an abort can undo the creation.
type account struct {
	committedBalance int64
	// 0 while the account has never been committed.
	committedTS    txn.Timestamp
	readTimestamps tsSet
	tentative      *btree.BTree
	creators       tsSet
	deletors       tsSet
}

func newAccount() *account {
	return &account{
		readTimestamps: make(tsSet),
		tentative:      btree.New(tentativeBTreeDegree),
		creators:       make(tsSet),
		deletors:       make(tsSet),
	}
}

func (a *account) committed() bool {
	return a.committedTS != 0
}

func (a *account) maxReadTimestamp() txn.Timestamp {
	var max txn.Timestamp
	for ts := range a.readTimestamps {
		if ts > max {
			max = ts
		}
	}
	return max
}

// latestWrite returns the newest tentative write not after ts that is newer than the committed state, or nil.
func (a *account) latestWrite(ts txn.Timestamp) *tentativeWrite {
	var result *tentativeWrite
	a.tentative.DescendLessOrEqual(&tentativeWrite{ts: ts}, func(i btree.Item) bool {
		if w := i.(*tentativeWrite); w.ts > a.committedTS {
			result = w
		}
		return false
	})
	return result
}

func (a *account) writeAt(ts txn.Timestamp) *tentativeWrite {
	item := a.tentative.Get(&tentativeWrite{ts: ts})
	if item == nil {
		return nil
	}
	return item.(*tentativeWrite)
}

// otherWriter returns the timestamp of a pending write by a transaction other than ts, or 0.
func (a *account) otherWriter(ts txn.Timestamp) txn.Timestamp {
	var writer txn.Timestamp
	a.tentative.Ascend(func(i btree.Item) bool {
		if w := i.(*tentativeWrite); w.ts != ts {
			writer = w.ts
			return false
		}
		return true
	})
	return writer
}

// hasWriteAfter reports whether a write newer than ts is pending.
func (a *account) hasWriteAfter(ts txn.Timestamp) bool {
	found := false
	a.tentative.AscendGreaterOrEqual(&tentativeWrite{ts: ts + 1}, func(i btree.Item) bool {
		found = true
		return false
	})
	return found
}

// put records a tentative write, replacing an earlier write of the same transaction.
func (a *account) put(ts txn.Timestamp, balance int64) {
	if w := a.writeAt(ts); w != nil {
		w.balance = balance
		return
	}
	a.tentative.ReplaceOrInsert(&tentativeWrite{ts: ts, balance: balance})
	if !a.committed() {
		a.creators[ts] = struct{}{}
	}
}

// commit moves the write of ts into the committed state.
func (a *account) commit(ts txn.Timestamp) {
	w := a.writeAt(ts)
	if w == nil {
		return
	}
	a.committedBalance = w.balance
	a.committedTS = ts
	a.tentative.Delete(w)
	delete(a.creators, ts)
	for read := range a.readTimestamps {
		if read <= ts {
			delete(a.readTimestamps, read)
		}
	}
}

// forget removes every trace of ts.
func (a *account) forget(ts txn.Timestamp) {
	a.tentative.Delete(&tentativeWrite{ts: ts})
	delete(a.readTimestamps, ts)
	delete(a.creators, ts)
	delete(a.deletors, ts)
}

// orphaned reports whether nothing keeps the account alive.
func (a *account) orphaned() bool {
	return !a.committed() && len(a.creators) == 0
}
