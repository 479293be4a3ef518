package txn

import (
	"context"
)

// Timestamp identifies a transaction and orders it against every other transaction of the same engine. It is a
// logical counter, not wall-clock time.
type Timestamp = uint64

// AccountBalance is one row of Engine.AllBalances.
type AccountBalance struct {
	Name    string
	Balance int64
}

// Engine is the transaction contract every concurrency control engine implements. Calls for one timestamp must not
// overlap; calls for different timestamps may run concurrently.
type Engine interface {
	// StartTransaction allocates a new, strictly larger timestamp and opens a transaction for it.
	StartTransaction() Timestamp
	// Deposit adds amount to the account, creating it when it does not exist and amount is not negative.
	Deposit(ctx context.Context, ts Timestamp, name string, amount int64) error
	// Withdraw subtracts amount from the account.
	Withdraw(ctx context.Context, ts Timestamp, name string, amount int64) error
	// Balance returns the account balance as seen by ts.
	Balance(ctx context.Context, ts Timestamp, name string) (int64, error)
	// AllAccountNames returns the sorted names of the accounts visible to ts.
	AllAccountNames(ts Timestamp) ([]string, error)
	// AllBalances reads every account visible to ts.
	AllBalances(ctx context.Context, ts Timestamp) ([]AccountBalance, error)
	// Commit makes the writes of ts durable in memory. A failed commit leaves the transaction open.
	Commit(ts Timestamp) error
	// Abort discards the writes of ts.
	Abort(ts Timestamp) error
	// NumAccounts returns len(AllAccountNames(ts)).
	NumAccounts(ts Timestamp) (int, error)
	// Close stops the idle timers. Open transactions are left as they are.
	Close()
}
