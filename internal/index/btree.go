package index

import (
	"sync"

	"github.com/google/btree"

	"github.com/tuannm99/novapg/internal/heap"
)

type btreeItem struct {
	key string
	tid heap.TID
}

func itemLess(a, b btreeItem) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	if a.tid.PageNo != b.tid.PageNo {
		return a.tid.PageNo < b.tid.PageNo
	}
	return a.tid.Slot < b.tid.Slot
}

// btreeIndex keeps (key, locator) pairs in key order for range scans.
type btreeIndex struct {
	meta
	mu   sync.RWMutex
	tree *btree.BTreeG[btreeItem]
}

func newBTreeIndex(m meta) *btreeIndex {
	return &btreeIndex{meta: m, tree: btree.NewG(32, itemLess)}
}

func (ix *btreeIndex) Kind() Kind { return KindBTree }

func (ix *btreeIndex) Insert(key string, tid heap.TID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.ReplaceOrInsert(btreeItem{key: key, tid: tid})
}

func (ix *btreeIndex) Remove(key string, tid heap.TID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.Delete(btreeItem{key: key, tid: tid})
}

func (ix *btreeIndex) LookupEq(key string) []heap.TID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []heap.TID
	ix.tree.AscendGreaterOrEqual(btreeItem{key: key}, func(it btreeItem) bool {
		if it.key != key {
			return false
		}
		out = append(out, it.tid)
		return true
	})
	return out
}

// LookupRange returns locators for keys in [low, high] honoring the
// inclusivity flags. An empty low scans from the smallest key; an
// empty high scans to the largest.
func (ix *btreeIndex) LookupRange(low, high string, lowInc, highInc bool) []heap.TID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []heap.TID
	scan := func(it btreeItem) bool {
		if high != "" {
			if highInc && it.key > high {
				return false
			}
			if !highInc && it.key >= high {
				return false
			}
		}
		if !lowInc && low != "" && it.key == low {
			return true
		}
		out = append(out, it.tid)
		return true
	}
	if low == "" {
		ix.tree.Ascend(scan)
	} else {
		ix.tree.AscendGreaterOrEqual(btreeItem{key: low}, scan)
	}
	return out
}

func (ix *btreeIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}
