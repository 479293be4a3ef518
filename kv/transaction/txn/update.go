package txn

import (
	"context"
)

// ReadFunc reads the current balance of the account being updated.
type ReadFunc func(ctx context.Context) (int64, error)

// WriteFunc stores the new balance of the account being updated.
type WriteFunc func(ctx context.Context, balance int64) error

// ReadThenUpdate implements deposit and withdraw on top of an engine's read and write steps. A missing account reads
// as 0 when delta is not negative, which creates the account; otherwise the read error is returned unchanged.
func ReadThenUpdate(ctx context.Context, delta int64, read ReadFunc, write WriteFunc) error {
	balance, err := read(ctx)
	if err != nil {
		if !ErrorIs(err, ErrAccountNotFound) || delta < 0 {
			return err
		}
		balance = 0
	}
	return write(ctx, balance+delta)
}
