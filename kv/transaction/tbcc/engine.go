package tbcc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinyledger/kv/config"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Engine is a timestamp ordering engine. Writes stay tentative until their transaction commits; a read that would
// observe a tentative write of an older, unfinished transaction waits until some transaction commits or aborts and
// then tries again.
type Engine struct {
	mu       sync.Mutex
	rule     writeRule
	oracle   *txn.Oracle
	accounts map[string]*account
	// active maps every open transaction to the accounts it read or wrote.
	active map[txn.Timestamp]map[string]struct{}
	// boundary is closed and replaced whenever a transaction commits or aborts.
	boundary chan struct{}
	timeouts *txn.Timeouts
}

var _ txn.Engine = &Engine{}

// NewEngine creates an engine that lets writers of one account queue behind each other.
func NewEngine(conf *config.Config) *Engine {
	return newEngine(conf, plainRule)
}

// NewStrictEngine creates an engine that rejects a write with txn.ErrAccountDirty while another transaction has an
// unfinished write on the same account.
func NewStrictEngine(conf *config.Config) *Engine {
	return newEngine(conf, strictRule)
}

func newEngine(conf *config.Config, rule writeRule) *Engine {
	e := &Engine{
		rule:     rule,
		oracle:   txn.NewOracle(),
		accounts: make(map[string]*account),
		active:   make(map[txn.Timestamp]map[string]struct{}),
		boundary: make(chan struct{}),
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
	log.Debug("start transaction", zap.String("engine", e.rule.ccType), zap.Uint64("ts", ts))
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
	if a, ok := e.accounts[name]; ok && e.rule.checkBeforeRead {
		if err := e.rule.check(a, ts, name); err != nil {
			txn.ObserveConflict(e.rule.ccType, err)
			return err
		}
	}
	err := txn.ReadThenUpdate(ctx, delta,
		func(ctx context.Context) (int64, error) {
			return e.read(ctx, ts, name)
		},
		func(ctx context.Context, balance int64) error {
			return e.write(ts, name, balance)
		})
	txn.ObserveConflict(e.rule.ccType, err)
	return err
}

func (e *Engine) Balance(ctx context.Context, ts txn.Timestamp, name string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return 0, err
	}
	balance, err := e.read(ctx, ts, name)
	txn.ObserveConflict(e.rule.ccType, err)
	return balance, err
}

func (e *Engine) AllAccountNames(ts txn.Timestamp) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return nil, err
	}
	return e.listedNames(ts), nil
}

// AllBalances reads every account that is committed or created by ts. Accounts removed while waiting are skipped.
func (e *Engine) AllBalances(ctx context.Context, ts txn.Timestamp) ([]txn.AccountBalance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return nil, err
	}
	names := e.listedNames(ts)
	balances := make([]txn.AccountBalance, 0, len(names))
	for _, name := range names {
		balance, err := e.read(ctx, ts, name)
		if err != nil {
			if txn.ErrorIs(err, txn.ErrAccountNotFound) {
				continue
			}
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
	return len(e.listedNames(ts)), nil
}

// Commit validates every write of ts before applying any of them, so a failed commit changes nothing and leaves the
// transaction open.
func (e *Engine) Commit(ts txn.Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.touch(ts); err != nil {
		return err
	}
	touched := e.active[ts]
	for name := range touched {
		a, ok := e.accounts[name]
		if !ok {
			continue
		}
		w := a.writeAt(ts)
		if w == nil {
			continue
		}
		var err error
		if w.balance < 0 {
			err = txn.NegativeBalance(ts, name, w.balance)
		} else if ts <= a.committedTS {
			err = txn.TimestampOutdated(ts, name)
		}
		if err != nil {
			txn.ObserveConflict(e.rule.ccType, err)
			return err
		}
	}

	for name := range touched {
		a, ok := e.accounts[name]
		if !ok || a.writeAt(ts) == nil {
			continue
		}
		a.commit(ts)
		if _, deleting := a.deletors[ts]; deleting {
			delete(a.deletors, ts)
			if !a.hasWriteAfter(ts) {
				delete(e.accounts, name)
			}
		}
	}
	e.end(ts)
	txn.ObserveFinished(e.rule.ccType, txn.OutcomeCommit)
	log.Debug("commit transaction", zap.String("engine", e.rule.ccType), zap.Uint64("ts", ts),
		zap.Int("touched", len(touched)))
	return nil
}

func (e *Engine) Abort(ts txn.Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abort(ts, txn.OutcomeAbort)
}

// Close stops the idle timers. Open transactions are left as they are.
func (e *Engine) Close() {
	log.Info("close transaction engine", zap.String("engine", e.rule.ccType),
		zap.Uint64("last-ts", e.oracle.Last()), zap.Int("pending-timers", e.timeouts.Pending()))
	e.timeouts.Stop()
}

func (e *Engine) abort(ts txn.Timestamp, outcome string) error {
	touched, ok := e.active[ts]
	if !ok {
		return txn.TimestampInvalid(ts)
	}
	for name := range touched {
		a, ok := e.accounts[name]
		if !ok {
			continue
		}
		a.forget(ts)
		if a.orphaned() {
			delete(e.accounts, name)
		}
	}
	e.end(ts)
	txn.ObserveFinished(e.rule.ccType, outcome)
	log.Debug("abort transaction", zap.String("engine", e.rule.ccType), zap.Uint64("ts", ts),
		zap.Int("touched", len(touched)))
	return nil
}

func (e *Engine) expire(ts txn.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abort(ts, txn.OutcomeTimeout) == nil {
		log.Info("transaction timed out", zap.String("engine", e.rule.ccType), zap.Uint64("ts", ts))
	}
}

// end forgets ts and wakes every waiting reader. e.mu must be held.
func (e *Engine) end(ts txn.Timestamp) {
	e.timeouts.Cancel(ts)
	delete(e.active, ts)
	close(e.boundary)
	e.boundary = make(chan struct{})
}

// touch checks that ts is open and restarts its idle timer. e.mu must be held.
func (e *Engine) touch(ts txn.Timestamp) error {
	if _, ok := e.active[ts]; !ok {
		return txn.TimestampInvalid(ts)
	}
	e.timeouts.Reset(ts)
	return nil
}

// read returns the balance of name as seen by ts. e.mu must be held; it is released while waiting for an older
// writer to finish.
func (e *Engine) read(ctx context.Context, ts txn.Timestamp, name string) (int64, error) {
	for {
		a, ok := e.accounts[name]
		if !ok {
			return 0, txn.AccountNotFound(ts, name)
		}
		if ts <= a.committedTS {
			return 0, txn.TimestampOutdated(ts, name)
		}
		w := a.latestWrite(ts)
		if w == nil {
			if !a.committed() {
				return 0, txn.AccountNotFound(ts, name)
			}
			a.readTimestamps[ts] = struct{}{}
			e.active[ts][name] = struct{}{}
			return a.committedBalance, nil
		}
		if w.ts == ts {
			return w.balance, nil
		}
		if err := e.waitBoundary(ctx, ts); err != nil {
			return 0, err
		}
	}
}

// waitBoundary blocks until a transaction commits or aborts. e.mu must be held and is held again on return.
func (e *Engine) waitBoundary(ctx context.Context, ts txn.Timestamp) error {
	boundary := e.boundary
	e.mu.Unlock()
	start := time.Now()
	var err error
	select {
	case <-boundary:
	case <-ctx.Done():
		err = errors.Trace(ctx.Err())
	}
	txn.ObserveWait(e.rule.ccType, time.Since(start).Seconds())
	e.mu.Lock()
	if err != nil {
		return err
	}
	if _, ok := e.active[ts]; !ok {
		return txn.TimestampInvalid(ts)
	}
	return nil
}

func (e *Engine) write(ts txn.Timestamp, name string, balance int64) error {
	a, ok := e.accounts[name]
	if !ok {
		a = newAccount()
	}
	if err := e.rule.check(a, ts, name); err != nil {
		return err
	}
	if !ok {
		e.accounts[name] = a
	}
	a.put(ts, balance)
	if balance == 0 && a.committed() {
		a.deletors[ts] = struct{}{}
	} else {
		delete(a.deletors, ts)
	}
	e.active[ts][name] = struct{}{}
	return nil
}

// listedNames returns the accounts that are committed or created by ts, sorted.
func (e *Engine) listedNames(ts txn.Timestamp) []string {
	names := make([]string, 0, len(e.accounts))
	for name, a := range e.accounts {
		if _, created := a.creators[ts]; a.committed() || created {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
