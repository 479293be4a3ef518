package txn

import (
	"go.uber.org/atomic"
)

// Oracle hands out the timestamps of one engine instance. Timestamp 0 is never issued and means "none".
type Oracle struct {
	last *atomic.Uint64
}

func NewOracle() *Oracle {
	return &Oracle{last: atomic.NewUint64(0)}
}

// Next returns a timestamp strictly larger than every timestamp returned before.
func (o *Oracle) Next() Timestamp {
	return o.last.Inc()
}

// Last returns the most recently issued timestamp, or 0.
func (o *Oracle) Last() Timestamp {
	return o.last.Load()
}
