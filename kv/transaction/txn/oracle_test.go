package txn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOracleIncreasing(t *testing.T) {
	o := NewOracle()
	assert.Equal(t, Timestamp(0), o.Last())
	prev := o.Next()
	assert.Equal(t, Timestamp(1), prev)
	for i := 0; i < 100; i++ {
		ts := o.Next()
		assert.True(t, ts > prev)
		prev = ts
	}
	assert.Equal(t, prev, o.Last())
}

func TestOracleConcurrent(t *testing.T) {
	o := NewOracle()
	var (
		mu   sync.Mutex
		seen = make(map[Timestamp]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ts := o.Next()
				mu.Lock()
				seen[ts] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
	assert.Equal(t, Timestamp(800), o.Last())
}

func TestOraclesIndependent(t *testing.T) {
	a, b := NewOracle(), NewOracle()
	a.Next()
	a.Next()
	assert.Equal(t, Timestamp(1), b.Next())
}
