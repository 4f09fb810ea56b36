package index

import (
	"sync"

	"github.com/tuannm99/novapg/internal/heap"
)

// hashIndex supports equality lookups only.
type hashIndex struct {
	meta
	mu      sync.RWMutex
	buckets map[string][]heap.TID
}

func newHashIndex(m meta) *hashIndex {
	return &hashIndex{meta: m, buckets: make(map[string][]heap.TID)}
}

func (ix *hashIndex) Kind() Kind { return KindHash }

func (ix *hashIndex) Insert(key string, tid heap.TID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, t := range ix.buckets[key] {
		if t == tid {
			return
		}
	}
	ix.buckets[key] = append(ix.buckets[key], tid)
}

func (ix *hashIndex) Remove(key string, tid heap.TID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	tids := ix.buckets[key]
	for i, t := range tids {
		if t == tid {
			ix.buckets[key] = append(tids[:i], tids[i+1:]...)
			break
		}
	}
	if len(ix.buckets[key]) == 0 {
		delete(ix.buckets, key)
	}
}

func (ix *hashIndex) LookupEq(key string) []heap.TID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]heap.TID, len(ix.buckets[key]))
	copy(out, ix.buckets[key])
	return out
}

func (ix *hashIndex) LookupRange(low, high string, lowInc, highInc bool) []heap.TID {
	return nil
}

func (ix *hashIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, tids := range ix.buckets {
		n += len(tids)
	}
	return n
}
