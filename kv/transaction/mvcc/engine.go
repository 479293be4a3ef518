package mvcc

import (
	"context"
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinyledger/kv/config"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Engine is a multiversion concurrency control engine. Readers and writers never block: every write adds a version
// at the writer's timestamp and every read picks the newest version not after the reader's timestamp.
//
// A write is rejected only when the version it replaces has been read by a later transaction. Concurrent writers of
// one account are not validated against each other.
type Engine struct {
	mu       sync.Mutex
	oracle   *txn.Oracle
	store    *store
	active   map[txn.Timestamp]map[string]struct{}
	timeouts *txn.Timeouts
}

var _ txn.Engine = &Engine{}

func NewEngine(conf *config.Config) *Engine {
	e := &Engine{
		oracle: txn.NewOracle(),
		store:  newStore(),
		active: make(map[txn.Timestamp]map[string]struct{}),
	}
	e.timeouts = txn.NewTimeouts(conf.TxnTimeout.Duration, e.expire)
	return e
}

func (e *Engine) StartTransaction() txn.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := e.oracle.Next()
	e.active[ts] = make(map[string]struct{})
	e.timeouts.Reset(ts)
	log.Debug("start transaction", zap.String("engine", config.CCTypeMVCC), zap.Uint64("ts", ts))
	return ts
}

func (e *Engine) Deposit(ctx context.Context, ts txn.Timestamp, name string, amount int64) error {
	return e.update(ctx, ts, name, amount)
}

func (e *Engine) Withdraw(ctx context.Context, ts txn.Timestamp, name string, amount int64) error {
	return e.update(ctx, ts, name, -amount)
}

func (e *Engine) update(ctx context.Context, ts txn.Timestamp, name string, delta int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return err
	}
	err := txn.ReadThenUpdate(ctx, delta,
		func(ctx context.Context) (int64, error) {
			return e.read(ts, name)
		},
		func(ctx context.Context, balance int64) error {
			return e.write(ts, name, balance)
		})
	txn.ObserveConflict(config.CCTypeMVCC, err)
	return err
}

func (e *Engine) Balance(ctx context.Context, ts txn.Timestamp, name string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return 0, err
	}
	return e.read(ts, name)
}

func (e *Engine) AllAccountNames(ts txn.Timestamp) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return nil, err
	}
	return e.visibleNames(ts), nil
}

func (e *Engine) AllBalances(ctx context.Context, ts txn.Timestamp) ([]txn.AccountBalance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return nil, err
	}
	names := e.visibleNames(ts)
	balances := make([]txn.AccountBalance, 0, len(names))
	for _, name := range names {
		balance, err := e.read(ts, name)
		if err != nil {
			return nil, err
		}
		balances = append(balances, txn.AccountBalance{Name: name, Balance: balance})
	}
	return balances, nil
}

func (e *Engine) NumAccounts(ts txn.Timestamp) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return 0, err
	}
	return len(e.visibleNames(ts)), nil
}

// Commit checks that no version written by ts is negative; the versions themselves are already in place.
func (e *Engine) Commit(ts txn.Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	written, err := e.written(ts)
	if err != nil {
		return err
	}
	e.timeouts.Reset(ts)
	for name := range written {
		c := e.store.get(name)
		if c == nil {
			continue
		}
		if v := c.writtenAt(ts); v != nil && !v.deleted && v.balance < 0 {
			err := txn.NegativeBalance(ts, name, v.balance)
			txn.ObserveConflict(config.CCTypeMVCC, err)
			return err
		}
	}
	e.end(ts)
	txn.ObserveFinished(config.CCTypeMVCC, txn.OutcomeCommit)
	log.Debug("commit transaction", zap.String("engine", config.CCTypeMVCC), zap.Uint64("ts", ts),
		zap.Int("written", len(written)))
	return nil
}

// Abort removes the versions written by ts.
func (e *Engine) Abort(ts txn.Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abort(ts, txn.OutcomeAbort)
}

// Close stops the idle timers. Open transactions are left as they are.
func (e *Engine) Close() {
	log.Info("close transaction engine", zap.String("engine", config.CCTypeMVCC),
		zap.Uint64("last-ts", e.oracle.Last()), zap.Int("pending-timers", e.timeouts.Pending()))
	e.timeouts.Stop()
}

func (e *Engine) abort(ts txn.Timestamp, outcome string) error {
	written, err := e.written(ts)
	if err != nil {
		return err
	}
	e.store.rollback(ts, written)
	e.end(ts)
	txn.ObserveFinished(config.CCTypeMVCC, outcome)
	log.Debug("abort transaction", zap.String("engine", config.CCTypeMVCC), zap.Uint64("ts", ts),
		zap.Int("written", len(written)))
	return nil
}

func (e *Engine) expire(ts txn.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abort(ts, txn.OutcomeTimeout) == nil {
		log.Info("transaction timed out", zap.String("engine", config.CCTypeMVCC), zap.Uint64("ts", ts))
	}
}

func (e *Engine) end(ts txn.Timestamp) {
	e.timeouts.Cancel(ts)
	delete(e.active, ts)
}

func (e *Engine) written(ts txn.Timestamp) (map[string]struct{}, error) {
	written, ok := e.active[ts]
	if !ok {
		return nil, txn.TimestampInvalid(ts)
	}
	return written, nil
}

// touch checks that ts is open and restarts its idle timer. e.mu must be held.
func (e *Engine) touch(ts txn.Timestamp) error {
	if _, ok := e.active[ts]; !ok {
		return txn.TimestampInvalid(ts)
	}
	e.timeouts.Reset(ts)
	return nil
}

func (e *Engine) read(ts txn.Timestamp, name string) (int64, error) {
	c := e.store.get(name)
	if c == nil {
		return 0, txn.AccountNotFound(ts, name)
	}
	v := c.visible(ts)
	if v == nil || v.deleted {
		return 0, txn.AccountNotFound(ts, name)
	}
	if v.readTS < ts {
		v.readTS = ts
	}
	return v.balance, nil
}

func (e *Engine) write(ts txn.Timestamp, name string, balance int64) error {
	c := e.store.getOrCreate(name)
	v := c.visible(ts)
	if v != nil && v.readTS > ts {
		if c.empty() {
			delete(e.store.chains, name)
		}
		return txn.TimestampOutdated(ts, name)
	}
	e.active[ts][name] = struct{}{}
	if v != nil && v.writeTS == ts {
		v.balance = balance
		v.deleted = false
		return nil
	}
	c.put(&version{balance: balance, readTS: ts, writeTS: ts})
	return nil
}

func (e *Engine) visibleNames(ts txn.Timestamp) []string {
	names := make([]string, 0, len(e.store.chains))
	for name, c := range e.store.chains {
		if v := c.visible(ts); v != nil && !v.deleted {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
