package transaction

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pingcap-incubator/tinyledger/kv/config"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ccTypes = []string{
	config.CCTypeMVCC,
	config.CCTypeTimestampBased,
	config.CCTypeStrictTimestampBased,
	config.CCTypeStrongStrict2PL,
}

// forEachEngine runs f against a fresh engine of every type.
func forEachEngine(t *testing.T, f func(t *testing.T, e txn.Engine)) {
	for _, ccType := range ccTypes {
		t.Run(ccType, func(t *testing.T) {
			e, err := NewEngine(config.NewTestConfig(ccType))
			require.Nil(t, err)
			defer e.Close()
			f(t, e)
		})
	}
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(config.NewTestConfig("optimistic"))
	assert.NotNil(t, err)

	conf := config.NewTestConfig(config.CCTypeMVCC)
	conf.TxnTimeout = config.Duration{Duration: -1}
	_, err = NewEngine(conf)
	assert.NotNil(t, err)

	e, err := NewEngine(config.NewDefaultConfig())
	require.Nil(t, err)
	e.Close()
}

func TestStartTransactionIncreasing(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e txn.Engine) {
		prev := e.StartTransaction()
		for i := 0; i < 20; i++ {
			ts := e.StartTransaction()
			assert.True(t, ts > prev)
			prev = ts
		}
	})
}

func TestRoundTrip(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e txn.Engine) {
		ctx := context.Background()
		ts := e.StartTransaction()
		require.Nil(t, e.Deposit(ctx, ts, "A", 100))
		require.Nil(t, e.Commit(ts))

		ts2 := e.StartTransaction()
		balance, err := e.Balance(ctx, ts2, "A")
		require.Nil(t, err)
		assert.Equal(t, int64(100), balance)
		require.Nil(t, e.Commit(ts2))
	})
}

func TestDepositWithdraw(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e txn.Engine) {
		ctx := context.Background()
		ts := e.StartTransaction()
		require.Nil(t, e.Deposit(ctx, ts, "a", 100))
		require.Nil(t, e.Withdraw(ctx, ts, "a", 30))
		err := e.Withdraw(ctx, ts, "missing", 1)
		assert.True(t, txn.ErrorIs(err, txn.ErrAccountNotFound))
		require.Nil(t, e.Commit(ts))

		ts2 := e.StartTransaction()
		balance, err := e.Balance(ctx, ts2, "a")
		require.Nil(t, err)
		assert.Equal(t, int64(70), balance)
		_, err = e.Balance(ctx, ts2, "missing")
		assert.True(t, txn.ErrorIs(err, txn.ErrAccountNotFound))
	})
}

func TestListing(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e txn.Engine) {
		ctx := context.Background()
		ts := e.StartTransaction()
		require.Nil(t, e.Deposit(ctx, ts, "b", 2))
		require.Nil(t, e.Deposit(ctx, ts, "a", 1))
		require.Nil(t, e.Commit(ts))

		ts2 := e.StartTransaction()
		names, err := e.AllAccountNames(ts2)
		require.Nil(t, err)
		assert.Equal(t, []string{"a", "b"}, names)
		count, err := e.NumAccounts(ts2)
		require.Nil(t, err)
		assert.Equal(t, 2, count)
		balances, err := e.AllBalances(ctx, ts2)
		require.Nil(t, err)
		assert.Equal(t, []txn.AccountBalance{{Name: "a", Balance: 1}, {Name: "b", Balance: 2}}, balances)
	})
}

func TestNegativeCommitLeavesTransactionOpen(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e txn.Engine) {
		ctx := context.Background()
		ts := e.StartTransaction()
		require.Nil(t, e.Deposit(ctx, ts, "a", 10))
		require.Nil(t, e.Commit(ts))

		ts2 := e.StartTransaction()
		require.Nil(t, e.Withdraw(ctx, ts2, "a", 20))
		err := e.Commit(ts2)
		assert.True(t, txn.ErrorIs(err, txn.ErrAccountNegativeBalance))
		require.Nil(t, e.Abort(ts2))

		ts3 := e.StartTransaction()
		balance, err := e.Balance(ctx, ts3, "a")
		require.Nil(t, err)
		assert.Equal(t, int64(10), balance)
	})
}

func TestAbortTwice(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e txn.Engine) {
		ctx := context.Background()
		ts := e.StartTransaction()
		require.Nil(t, e.Deposit(ctx, ts, "a", 10))
		require.Nil(t, e.Abort(ts))
		err := e.Abort(ts)
		assert.True(t, txn.ErrorIs(err, txn.ErrTimestampInvalid))
		assert.False(t, txn.IsRecoverable(err))

		ts2 := e.StartTransaction()
		count, err := e.NumAccounts(ts2)
		require.Nil(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestUnknownTimestamp(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e txn.Engine) {
		ctx := context.Background()
		var unknown txn.Timestamp = 1000
		assert.True(t, txn.ErrorIs(e.Deposit(ctx, unknown, "a", 1), txn.ErrTimestampInvalid))
		assert.True(t, txn.ErrorIs(e.Withdraw(ctx, unknown, "a", 1), txn.ErrTimestampInvalid))
		_, err := e.Balance(ctx, unknown, "a")
		assert.True(t, txn.ErrorIs(err, txn.ErrTimestampInvalid))
		_, err = e.AllAccountNames(unknown)
		assert.True(t, txn.ErrorIs(err, txn.ErrTimestampInvalid))
		_, err = e.AllBalances(ctx, unknown)
		assert.True(t, txn.ErrorIs(err, txn.ErrTimestampInvalid))
		_, err = e.NumAccounts(unknown)
		assert.True(t, txn.ErrorIs(err, txn.ErrTimestampInvalid))
		assert.True(t, txn.ErrorIs(e.Commit(unknown), txn.ErrTimestampInvalid))
		assert.True(t, txn.ErrorIs(e.Abort(unknown), txn.ErrTimestampInvalid))
	})
}

func TestDisjointConcurrentTransactions(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e txn.Engine) {
		ctx := context.Background()
		var wg sync.WaitGroup
		errCh := make(chan error, 8*10)
		for i := 0; i < 8; i++ {
			name := fmt.Sprintf("account-%d", i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					ts := e.StartTransaction()
					if err := e.Deposit(ctx, ts, name, 5); err != nil {
						errCh <- err
						return
					}
					if err := e.Commit(ts); err != nil {
						errCh <- err
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			require.Nil(t, err)
		}

		ts := e.StartTransaction()
		balances, err := e.AllBalances(ctx, ts)
		require.Nil(t, err)
		require.Len(t, balances, 8)
		for _, b := range balances {
			assert.Equal(t, int64(50), b.Balance, b.Name)
		}
	})
}
