package ss2pl

import (
	"sort"

	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
	"github.com/pingcap-incubator/tinyledger/kv/util/rwlock"
)

// account is a row of the committed table. An account that is not committed is a placeholder that only hosts the
// lock for a transaction creating it.
type account struct {
	balance   int64
	committed bool
	lock      *rwlock.RWLock[txn.Timestamp]
	// pins counts requests suspended on lock, the account must not be removed while they wait.
	pins int
}

// entry is a transaction's private copy of an account, taken the first time the transaction touches it.
type entry struct {
	balance int64
	exists  bool
	written bool
}

type workspace struct {
	entries map[string]*entry
	// locked holds every account whose lock the transaction holds or waits for.
	locked map[string]struct{}
}

type database struct {
	accounts   map[string]*account
	workspaces map[txn.Timestamp]*workspace
}

func newDatabase() *database {
	return &database{
		accounts:   make(map[string]*account),
		workspaces: make(map[txn.Timestamp]*workspace),
	}
}

func (db *database) setupWorkspace(ts txn.Timestamp) {
	db.workspaces[ts] = &workspace{
		entries: make(map[string]*entry),
		locked:  make(map[string]struct{}),
	}
}

func (db *database) workspace(ts txn.Timestamp) (*workspace, bool) {
	ws, ok := db.workspaces[ts]
	return ws, ok
}

func (db *database) destroyWorkspace(ts txn.Timestamp) {
	delete(db.workspaces, ts)
}

// lockedAccount returns the account hosting the lock of name, adding a placeholder if there is none.
func (db *database) lockedAccount(name string) *account {
	a, ok := db.accounts[name]
	if !ok {
		a = &account{lock: rwlock.New[txn.Timestamp]()}
		db.accounts[name] = a
	}
	return a
}

// hasAccount reports whether name exists as seen by ts.
func (db *database) hasAccount(ts txn.Timestamp, name string) bool {
	if ws, ok := db.workspaces[ts]; ok {
		if en, ok := ws.entries[name]; ok {
			return en.exists
		}
	}
	a, ok := db.accounts[name]
	return ok && a.committed
}

// entry returns the workspace copy of name, copying the committed row on first use. ts must hold a lock on name.
func (db *database) entry(ts txn.Timestamp, name string) *entry {
	ws := db.workspaces[ts]
	en, ok := ws.entries[name]
	if !ok {
		en = &entry{}
		if a, ok := db.accounts[name]; ok && a.committed {
			en.balance = a.balance
			en.exists = true
		}
		ws.entries[name] = en
	}
	return en
}

func (db *database) setBalance(ts txn.Timestamp, name string, balance int64) {
	en := db.entry(ts, name)
	en.balance = balance
	en.exists = true
	en.written = true
}

// commitWorkspace copies every written entry of ts into the committed table.
func (db *database) commitWorkspace(ts txn.Timestamp) int {
	written := 0
	for name, en := range db.workspaces[ts].entries {
		if !en.written {
			continue
		}
		a := db.lockedAccount(name)
		a.balance = en.balance
		a.committed = true
		written++
	}
	return written
}

// removeIfUnused drops a placeholder nobody holds, waits for or is about to wait for.
func (db *database) removeIfUnused(name string) {
	a, ok := db.accounts[name]
	if ok && !a.committed && a.pins == 0 && a.lock.Idle() {
		delete(db.accounts, name)
	}
}

// names returns the committed accounts plus those created by ts, sorted.
func (db *database) names(ts txn.Timestamp) []string {
	names := make([]string, 0, len(db.accounts))
	for name := range db.accounts {
		if db.hasAccount(ts, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
