package txn

import (
	"github.com/pingcap/errors"
)

// Engines return these annotated with the account and timestamp involved; errors.Cause yields the sentinel.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrTimestampOutdated      = errors.New("timestamp outdated")
	ErrTimestampInvalid       = errors.New("timestamp invalid")
	ErrAccountNegativeBalance = errors.New("account has a negative balance")
	ErrDeadlockDetected       = errors.New("deadlock detected")
	ErrAccountDirty           = errors.New("account is dirty")
)

type causer interface {
	Cause() error
}

type unwrapper interface {
	Unwrap() error
}

// ErrorIs reports whether err, or any error in its cause chain, is target or carries the same message.
func ErrorIs(err, target error) bool {
	if target == nil {
		return err == nil
	}
	for err != nil {
		if err == target || err.Error() == target.Error() {
			return true
		}
		switch e := err.(type) {
		case causer:
			err = e.Cause()
		case unwrapper:
			err = e.Unwrap()
		default:
			return false
		}
	}
	return false
}

// IsRecoverable reports whether the caller may retry or abort the transaction that produced err. Other failures
// require a new transaction.
func IsRecoverable(err error) bool {
	return ErrorIs(err, ErrAccountNegativeBalance) ||
		ErrorIs(err, ErrDeadlockDetected) ||
		ErrorIs(err, ErrAccountDirty)
}

// AccountNotFound annotates ErrAccountNotFound.
func AccountNotFound(ts Timestamp, name string) error {
	return errors.Annotatef(ErrAccountNotFound, "txn %d, account %q", ts, name)
}

// TimestampOutdated annotates ErrTimestampOutdated.
func TimestampOutdated(ts Timestamp, name string) error {
	return errors.Annotatef(ErrTimestampOutdated, "txn %d, account %q", ts, name)
}

// TimestampInvalid annotates ErrTimestampInvalid.
func TimestampInvalid(ts Timestamp) error {
	return errors.Annotatef(ErrTimestampInvalid, "txn %d", ts)
}

// NegativeBalance annotates ErrAccountNegativeBalance.
func NegativeBalance(ts Timestamp, name string, balance int64) error {
	return errors.Annotatef(ErrAccountNegativeBalance, "txn %d, account %q would commit %d", ts, name, balance)
}

// DeadlockDetected annotates ErrDeadlockDetected.
func DeadlockDetected(ts Timestamp, name string) error {
	return errors.Annotatef(ErrDeadlockDetected, "txn %d, account %q", ts, name)
}

// AccountDirty annotates ErrAccountDirty.
func AccountDirty(ts Timestamp, name string, writer Timestamp) error {
	return errors.Annotatef(ErrAccountDirty, "txn %d, account %q has a tentative write from txn %d", ts, name, writer)
}
