package mvcc

import (
	"github.com/google/btree"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
)

const chainBTreeDegree = 8

// version is one snapshot of an account, written at writeTS and last read at readTS.
type version struct {
	balance int64
	readTS  txn.Timestamp
	writeTS txn.Timestamp
	deleted bool
}

var _ btree.Item = &version{}

// Less orders versions by write timestamp.
func (v *version) Less(other btree.Item) bool {
	return v.writeTS < other.(*version).writeTS
}

// chain holds every version of one account. The version at writeTS 0 is a deleted sentinel, so a read before the
// first write of an account finds it deleted.
type chain struct {
	versions *btree.BTree
}

func newChain() *chain {
	c := &chain{versions: btree.New(chainBTreeDegree)}
	c.versions.ReplaceOrInsert(&version{deleted: true})
	return c
}

// visible returns the version with the greatest write timestamp not after ts.
func (c *chain) visible(ts txn.Timestamp) *version {
	var result *version
	c.versions.DescendLessOrEqual(&version{writeTS: ts}, func(i btree.Item) bool {
		result = i.(*version)
		return false
	})
	return result
}

// writtenAt returns the version written exactly at ts, or nil.
func (c *chain) writtenAt(ts txn.Timestamp) *version {
	item := c.versions.Get(&version{writeTS: ts})
	if item == nil {
		return nil
	}
	return item.(*version)
}

func (c *chain) put(v *version) {
	c.versions.ReplaceOrInsert(v)
}

// remove drops the version written at ts. Its read mark is inherited by the preceding version so later writes stay
// ordered after reads that observed the removed one.
func (c *chain) remove(ts txn.Timestamp) {
	item := c.versions.Delete(&version{writeTS: ts})
	if item == nil {
		return
	}
	removed := item.(*version)
	if prev := c.visible(ts); prev != nil && prev.readTS < removed.readTS {
		prev.readTS = removed.readTS
	}
}

// empty reports whether only the sentinel is left.
func (c *chain) empty() bool {
	return c.versions.Len() <= 1
}

// store maps account names to their version chains.
type store struct {
	chains map[string]*chain
}

func newStore() *store {
	return &store{chains: make(map[string]*chain)}
}

func (s *store) get(name string) *chain {
	return s.chains[name]
}

func (s *store) getOrCreate(name string) *chain {
	c, ok := s.chains[name]
	if !ok {
		c = newChain()
		s.chains[name] = c
	}
	return c
}

// rollback removes the versions written at ts from the named accounts, dropping chains left with no versions.
func (s *store) rollback(ts txn.Timestamp, names map[string]struct{}) {
	for name := range names {
		c, ok := s.chains[name]
		if !ok {
			continue
		}
		c.remove(ts)
		if c.empty() {
			delete(s.chains, name)
		}
	}
}
