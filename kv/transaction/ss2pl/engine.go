package ss2pl

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinyledger/kv/config"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
	"github.com/pingcap-incubator/tinyledger/kv/util/rwlock"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const ccType = config.CCTypeStrongStrict2PL

// Engine is a strict two phase locking engine. Every account has a reader/writer lock; a transaction takes the read
// lock before reading and the write lock before writing, and keeps every lock until it commits or aborts. Changes are
// staged in the transaction's workspace and copied to the committed table on commit.
//
// A lock request that would close a cycle in the wait-for graph fails with txn.ErrDeadlockDetected instead of
// waiting; the caller is expected to abort.
type Engine struct {
	mu       sync.Mutex
	oracle   *txn.Oracle
	db       *database
	detector *Detector
	timeouts *txn.Timeouts
}

var _ txn.Engine = &Engine{}

func NewEngine(conf *config.Config) *Engine {
	e := &Engine{
		oracle:   txn.NewOracle(),
		db:       newDatabase(),
		detector: NewDetector(),
	}
	e.timeouts = txn.NewTimeouts(conf.TxnTimeout.Duration, e.expire)
	return e
}

func (e *Engine) StartTransaction() txn.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := e.oracle.Next()
	e.db.setupWorkspace(ts)
	e.timeouts.Reset(ts)
	log.Debug("start transaction", zap.String("engine", ccType), zap.Uint64("ts", ts))
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
			return e.read(ctx, ts, name, true)
		},
		func(ctx context.Context, balance int64) error {
			return e.write(ctx, ts, name, balance)
		})
	txn.ObserveConflict(ccType, err)
	return err
}

func (e *Engine) Balance(ctx context.Context, ts txn.Timestamp, name string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return 0, err
	}
	balance, err := e.read(ctx, ts, name, false)
	txn.ObserveConflict(ccType, err)
	return balance, err
}

func (e *Engine) AllAccountNames(ts txn.Timestamp) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return nil, err
	}
	return e.db.names(ts), nil
}

// AllBalances read locks every account visible to ts.
func (e *Engine) AllBalances(ctx context.Context, ts txn.Timestamp) ([]txn.AccountBalance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return nil, err
	}
	names := e.db.names(ts)
	balances := make([]txn.AccountBalance, 0, len(names))
	for _, name := range names {
		balance, err := e.read(ctx, ts, name, false)
		if err != nil {
			txn.ObserveConflict(ccType, err)
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
	return len(e.db.names(ts)), nil
}

// Commit fails without releasing anything when an account ts has write locked would become negative.
func (e *Engine) Commit(ts txn.Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return err
	}
	ws, _ := e.db.workspace(ts)
	for name := range ws.locked {
		a, ok := e.db.accounts[name]
		if !ok || !a.lock.HasLockMode(ts, rwlock.Write) {
			continue
		}
		if en, ok := ws.entries[name]; ok && en.balance < 0 {
			err := txn.NegativeBalance(ts, name, en.balance)
			txn.ObserveConflict(ccType, err)
			return err
		}
	}
	written := e.db.commitWorkspace(ts)
	e.endTransaction(ts)
	txn.ObserveFinished(ccType, txn.OutcomeCommit)
	log.Debug("commit transaction", zap.String("engine", ccType), zap.Uint64("ts", ts), zap.Int("written", written))
	return nil
}

func (e *Engine) Abort(ts txn.Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abort(ts, txn.OutcomeAbort)
}

// Close stops the idle timers. Open transactions are left as they are.
func (e *Engine) Close() {
	log.Info("close transaction engine", zap.String("engine", ccType),
		zap.Uint64("last-ts", e.oracle.Last()), zap.Int("pending-timers", e.timeouts.Pending()))
	e.timeouts.Stop()
}

func (e *Engine) abort(ts txn.Timestamp, outcome string) error {
	if _, ok := e.db.workspace(ts); !ok {
		return txn.TimestampInvalid(ts)
	}
	e.endTransaction(ts)
	txn.ObserveFinished(ccType, outcome)
	log.Debug("abort transaction", zap.String("engine", ccType), zap.Uint64("ts", ts))
	return nil
}

func (e *Engine) expire(ts txn.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abort(ts, txn.OutcomeTimeout) == nil {
		log.Info("transaction timed out", zap.String("engine", ccType), zap.Uint64("ts", ts))
	}
}

// endTransaction releases or withdraws every lock request of ts and destroys its workspace. e.mu must be held.
func (e *Engine) endTransaction(ts txn.Timestamp) {
	e.timeouts.Cancel(ts)
	ws, _ := e.db.workspace(ts)
	for name := range ws.locked {
		a, ok := e.db.accounts[name]
		if !ok {
			continue
		}
		// Withdraw a pending request (an upgrade included) first, so releasing the held mode cannot grant it.
		a.lock.StopWaiting(ts)
		if a.lock.HasLock(ts) {
			if err := a.lock.Unlock(ts); err != nil {
				log.Warn("release lock failed", zap.Uint64("ts", ts), zap.String("account", name), zap.Error(err))
			}
		}
	}
	e.detector.CleanUp(ts)
	e.db.destroyWorkspace(ts)
	for name := range ws.locked {
		e.db.removeIfUnused(name)
	}
}

// touch checks that ts is open and restarts its idle timer. e.mu must be held.
func (e *Engine) touch(ts txn.Timestamp) error {
	if _, ok := e.db.workspace(ts); !ok {
		return txn.TimestampInvalid(ts)
	}
	e.timeouts.Reset(ts)
	return nil
}

// read returns the balance of name in the workspace of ts after read locking it. With deferNotFound the lock is taken
// even for an account that does not exist yet, so a deposit creating it is serialised with other creators.
func (e *Engine) read(ctx context.Context, ts txn.Timestamp, name string, deferNotFound bool) (int64, error) {
	if !deferNotFound && !e.db.hasAccount(ts, name) {
		return 0, txn.AccountNotFound(ts, name)
	}
	if err := e.lock(ctx, ts, name, rwlock.Read); err != nil {
		return 0, err
	}
	if !e.db.hasAccount(ts, name) {
		return 0, txn.AccountNotFound(ts, name)
	}
	return e.db.entry(ts, name).balance, nil
}

func (e *Engine) write(ctx context.Context, ts txn.Timestamp, name string, balance int64) error {
	if err := e.lock(ctx, ts, name, rwlock.Write); err != nil {
		return err
	}
	e.db.setBalance(ts, name, balance)
	return nil
}

// lock acquires mode on name for ts. e.mu must be held; it is released while waiting and held again on return.
func (e *Engine) lock(ctx context.Context, ts txn.Timestamp, name string, mode rwlock.Mode) error {
	a := e.db.lockedAccount(name)
	holders := a.lock.GetWaitFor(ts, mode)
	if err := e.detector.Detect(ts, holders); err != nil {
		e.db.removeIfUnused(name)
		log.Info("deadlock detected", zap.String("engine", ccType), zap.Uint64("ts", ts),
			zap.String("account", name), zap.Stringer("mode", mode), zap.Uint64s("holders", holders))
		return txn.DeadlockDetected(ts, name)
	}

	ws, _ := e.db.workspace(ts)
	ws.locked[name] = struct{}{}
	a.pins++
	waiter := a.lock.Acquire(ts, mode)

	e.mu.Unlock()
	start := time.Now()
	err := waiter.Wait(ctx)
	if len(holders) > 0 {
		txn.ObserveWait(ccType, time.Since(start).Seconds())
	}
	e.mu.Lock()

	a.pins--
	e.detector.CleanUpWaitFor(ts)
	if _, ok := e.db.workspace(ts); !ok {
		// Aborted while waiting; anything granted in the meantime goes back.
		if err == nil {
			_ = a.lock.Unlock(ts)
		}
		e.db.removeIfUnused(name)
		return txn.TimestampInvalid(ts)
	}
	if err != nil {
		if !a.lock.HasLock(ts) {
			delete(ws.locked, name)
			e.db.removeIfUnused(name)
		}
		return errors.Trace(err)
	}
	e.timeouts.Reset(ts)
	return nil
}
