package mvcc

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyledger/kv/config"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	e := NewEngine(config.NewTestConfig(config.CCTypeMVCC))
	return e
}

// seed commits the given balances in their own transaction.
func seed(t *testing.T, e *Engine, balances map[string]int64) {
	ctx := context.Background()
	ts := e.StartTransaction()
	for name, balance := range balances {
		require.Nil(t, e.Deposit(ctx, ts, name, balance))
	}
	require.Nil(t, e.Commit(ts))
}

func TestReadOwnWrite(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	ts := e.StartTransaction()
	_, err := e.Balance(ctx, ts, "a")
	assert.True(t, txn.ErrorIs(err, txn.ErrAccountNotFound))

	require.Nil(t, e.Deposit(ctx, ts, "a", 40))
	balance, err := e.Balance(ctx, ts, "a")
	require.Nil(t, err)
	assert.Equal(t, int64(40), balance)

	// A second write at the same timestamp replaces the first.
	require.Nil(t, e.Withdraw(ctx, ts, "a", 15))
	balance, err = e.Balance(ctx, ts, "a")
	require.Nil(t, err)
	assert.Equal(t, int64(25), balance)
	assert.Equal(t, 2, e.store.get("a").versions.Len())
}

func TestWithdrawUnknownAccount(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	ts := e.StartTransaction()
	err := e.Withdraw(ctx, ts, "a", 1)
	assert.True(t, txn.ErrorIs(err, txn.ErrAccountNotFound))
	names, err := e.AllAccountNames(ts)
	require.Nil(t, err)
	assert.Empty(t, names)
	assert.Empty(t, e.store.chains)
}

func TestRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	seed(t, e, map[string]int64{"A": 100})
	ts := e.StartTransaction()
	balance, err := e.Balance(ctx, ts, "A")
	require.Nil(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestSnapshot(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	seed(t, e, map[string]int64{"a": 10})
	t1 := e.StartTransaction()
	t2 := e.StartTransaction()
	require.Nil(t, e.Deposit(ctx, t2, "a", 5))
	require.Nil(t, e.Deposit(ctx, t2, "b", 1))
	require.Nil(t, e.Commit(t2))

	// t1 keeps seeing the state as of its own timestamp.
	balance, err := e.Balance(ctx, t1, "a")
	require.Nil(t, err)
	assert.Equal(t, int64(10), balance)
	_, err = e.Balance(ctx, t1, "b")
	assert.True(t, txn.ErrorIs(err, txn.ErrAccountNotFound))
	count, err := e.NumAccounts(t1)
	require.Nil(t, err)
	assert.Equal(t, 1, count)

	t3 := e.StartTransaction()
	balances, err := e.AllBalances(ctx, t3)
	require.Nil(t, err)
	assert.Equal(t, []txn.AccountBalance{{Name: "a", Balance: 15}, {Name: "b", Balance: 1}}, balances)
}

func TestWriteAfterLaterRead(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	seed(t, e, map[string]int64{"a": 10})
	t1 := e.StartTransaction()
	t2 := e.StartTransaction()
	_, err := e.Balance(ctx, t2, "a")
	require.Nil(t, err)

	err = e.Deposit(ctx, t1, "a", 1)
	assert.True(t, txn.ErrorIs(err, txn.ErrTimestampOutdated))
	// t2 itself may still write.
	require.Nil(t, e.Deposit(ctx, t2, "a", 1))
	require.Nil(t, e.Commit(t2))
	require.Nil(t, e.Abort(t1))
}

func TestConcurrentWritersNotValidated(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	seed(t, e, map[string]int64{"a": 100})
	t1 := e.StartTransaction()
	t2 := e.StartTransaction()
	require.Nil(t, e.Deposit(ctx, t1, "a", 10))
	// t2 reads t1's version, it is the newest one not after t2.
	require.Nil(t, e.Deposit(ctx, t2, "a", 5))
	require.Nil(t, e.Commit(t2))
	require.Nil(t, e.Commit(t1))

	t3 := e.StartTransaction()
	balance, err := e.Balance(ctx, t3, "a")
	require.Nil(t, err)
	assert.Equal(t, int64(115), balance)
}

func TestAbortRemovesVersions(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	seed(t, e, map[string]int64{"a": 10})
	t1 := e.StartTransaction()
	require.Nil(t, e.Deposit(ctx, t1, "a", 5))
	require.Nil(t, e.Deposit(ctx, t1, "new", 5))
	require.Nil(t, e.Abort(t1))

	t2 := e.StartTransaction()
	balance, err := e.Balance(ctx, t2, "a")
	require.Nil(t, err)
	assert.Equal(t, int64(10), balance)
	_, err = e.Balance(ctx, t2, "new")
	assert.True(t, txn.ErrorIs(err, txn.ErrAccountNotFound))
	assert.Nil(t, e.store.get("new"))
}

func TestNegativeCommit(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	seed(t, e, map[string]int64{"a": 10})
	ts := e.StartTransaction()
	require.Nil(t, e.Withdraw(ctx, ts, "a", 30))
	err := e.Commit(ts)
	assert.True(t, txn.ErrorIs(err, txn.ErrAccountNegativeBalance))

	// Still open: it can be repaired and committed.
	require.Nil(t, e.Deposit(ctx, ts, "a", 25))
	require.Nil(t, e.Commit(ts))

	t2 := e.StartTransaction()
	balance, err := e.Balance(ctx, t2, "a")
	require.Nil(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestInvalidTimestamp(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	ts := e.StartTransaction()
	require.Nil(t, e.Abort(ts))
	assert.True(t, txn.ErrorIs(e.Abort(ts), txn.ErrTimestampInvalid))
	assert.True(t, txn.ErrorIs(e.Commit(ts), txn.ErrTimestampInvalid))
	assert.True(t, txn.ErrorIs(e.Deposit(ctx, ts, "a", 1), txn.ErrTimestampInvalid))
	_, err := e.Balance(ctx, 42, "a")
	assert.True(t, txn.ErrorIs(err, txn.ErrTimestampInvalid))
	_, err = e.AllBalances(ctx, 42)
	assert.True(t, txn.ErrorIs(err, txn.ErrTimestampInvalid))
}

func TestIdleTimeout(t *testing.T) {
	conf := config.NewTestConfig(config.CCTypeMVCC)
	conf.TxnTimeout = config.Duration{Duration: 20 * time.Millisecond}
	e := NewEngine(conf)
	defer e.Close()
	ctx := context.Background()

	ts := e.StartTransaction()
	require.Nil(t, e.Deposit(ctx, ts, "a", 5))

	deadline := time.Now().Add(time.Second)
	for {
		e.mu.Lock()
		_, open := e.active[ts]
		e.mu.Unlock()
		if !open {
			break
		}
		require.True(t, time.Now().Before(deadline), "transaction was not aborted")
		time.Sleep(5 * time.Millisecond)
	}

	assert.True(t, txn.ErrorIs(e.Commit(ts), txn.ErrTimestampInvalid))
	assert.Nil(t, e.store.get("a"))
	assert.Equal(t, 0, e.timeouts.Pending())
}

func TestFinishCancelsTimer(t *testing.T) {
	conf := config.NewTestConfig(config.CCTypeMVCC)
	conf.TxnTimeout = config.Duration{Duration: time.Hour}
	e := NewEngine(conf)
	defer e.Close()
	ctx := context.Background()

	t1 := e.StartTransaction()
	t2 := e.StartTransaction()
	assert.Equal(t, t2, e.oracle.Last())
	assert.Equal(t, 2, e.timeouts.Pending())
	require.Nil(t, e.Deposit(ctx, t1, "a", 5))
	require.Nil(t, e.Commit(t1))
	assert.Equal(t, 1, e.timeouts.Pending())
	require.Nil(t, e.Abort(t2))
	assert.Equal(t, 0, e.timeouts.Pending())
}
