package tbcc

import (
	"github.com/pingcap-incubator/tinyledger/kv/config"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
)

// writeRule decides whether a transaction may write an account. It is the only difference between the plain and the
// strict engine.
type writeRule struct {
	ccType string
	check  func(a *account, ts txn.Timestamp, name string) error
	// checkBeforeRead makes deposit and withdraw run check before reading, so a conflicting write fails at once
	// instead of waiting for the other writer to finish.
	checkBeforeRead bool
}

var (
	plainRule = writeRule{
		ccType: config.CCTypeTimestampBased,
		check:  checkOrder,
	}
	strictRule = writeRule{
		ccType:          config.CCTypeStrictTimestampBased,
		check:           checkOrderAndClean,
		checkBeforeRead: true,
	}
)

// checkOrder rejects a write that would invalidate a later read or land before the committed state.
func checkOrder(a *account, ts txn.Timestamp, name string) error {
	if ts < a.maxReadTimestamp() || ts <= a.committedTS {
		return txn.TimestampOutdated(ts, name)
	}
	return nil
}

// checkOrderAndClean additionally rejects a write to an account another transaction has written and not yet
// finished, so no transaction ever reads uncommitted data that may roll back.
func checkOrderAndClean(a *account, ts txn.Timestamp, name string) error {
	if err := checkOrder(a, ts, name); err != nil {
		return err
	}
	if writer := a.otherWriter(ts); writer != 0 {
		return txn.AccountDirty(ts, name, writer)
	}
	return nil
}
