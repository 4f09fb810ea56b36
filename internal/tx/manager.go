package tx

import (
	"math"
	"sync"
	"sync/atomic"
)

// Snapshot freezes the set of facts a statement uses to decide row
// visibility: the oldest active tx id, the next tx id, and the set of
// ids active (therefore invisible) when it was taken.
type Snapshot struct {
	Xmin   uint64
	Xmax   uint64
	Active map[uint64]struct{}
}

func (s *Snapshot) isActive(id uint64) bool {
	_, ok := s.Active[id]
	return ok
}

// Status answers whether a transaction id has committed. A transaction
// counts as committed once it has left the active set without being
// aborted; after a crash, anything not finalized in WAL is aborted.
type Status interface {
	Committed(id uint64) bool
}

// RowVisible applies the MVCC visibility rule for a row (xmin, xmax)
// under this snapshot. curTx is the calling transaction; a transaction
// always sees its own not-yet-deleted writes. xmax == 0 means unset.
func (s *Snapshot) RowVisible(xmin, xmax, curTx uint64, st Status) bool {
	if xmin == curTx {
		// own insert; invisible again once we deleted it ourselves
		if xmax == curTx {
			return false
		}
	} else {
		if xmin >= s.Xmax || s.isActive(xmin) || !st.Committed(xmin) {
			return false
		}
	}
	if xmax == 0 {
		return true
	}
	if xmax == curTx {
		return false
	}
	// deleted, but the deleter is invisible to this snapshot
	return xmax >= s.Xmax || s.isActive(xmax) || !st.Committed(xmax)
}

// Manager is the process-wide transaction authority: monotonic tx-id
// counter, active set, aborted set, snapshot builder.
type Manager struct {
	nextTx atomic.Uint64

	mu      sync.RWMutex
	active  map[uint64]struct{}
	aborted map[uint64]struct{}
}

func NewManager() *Manager {
	m := &Manager{
		active:  make(map[uint64]struct{}),
		aborted: make(map[uint64]struct{}),
	}
	m.nextTx.Store(1)
	return m
}

// Begin allocates a tx id, registers it active and returns it with a
// snapshot taken at the same instant. The snapshot excludes the new
// transaction itself.
func (m *Manager) Begin() (uint64, *Snapshot) {
	m.mu.Lock()
	id := m.nextTx.Add(1) - 1
	snap := m.snapshotLocked()
	m.active[id] = struct{}{}
	m.mu.Unlock()
	return id, snap
}

// Commit removes the transaction from the active set; its writes
// become visible to snapshots taken afterwards.
func (m *Manager) Commit(id uint64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Abort removes the transaction from the active set and remembers it
// as aborted so its row versions never become visible.
func (m *Manager) Abort(id uint64) {
	m.mu.Lock()
	delete(m.active, id)
	m.aborted[id] = struct{}{}
	m.mu.Unlock()
}

// Snapshot captures current visibility facts (read-committed takes a
// fresh one before each statement).
func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() *Snapshot {
	xmax := m.nextTx.Load()
	active := make(map[uint64]struct{}, len(m.active))
	xmin := xmax
	for id := range m.active {
		active[id] = struct{}{}
		if id < xmin {
			xmin = id
		}
	}
	return &Snapshot{Xmin: xmin, Xmax: xmax, Active: active}
}

// Committed reports whether id has committed: allocated, no longer
// active, and not aborted.
func (m *Manager) Committed(id uint64) bool {
	if id == 0 || id >= m.nextTx.Load() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.active[id]; ok {
		return false
	}
	_, aborted := m.aborted[id]
	return !aborted
}

// Aborted reports whether id is known aborted (VACUUM uses this to
// reclaim never-committed inserts).
func (m *Manager) Aborted(id uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.aborted[id]
	return ok
}

// OldestActive returns the smallest active tx id, or MaxUint64 when
// nothing is active (the VACUUM horizon then covers everything below
// the next id).
func (m *Manager) OldestActive() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.active) == 0 {
		return math.MaxUint64
	}
	oldest := uint64(math.MaxUint64)
	for id := range m.active {
		if id < oldest {
			oldest = id
		}
	}
	return oldest
}

// Horizon is the VACUUM horizon: oldest_active - 1, capped at the
// last allocated id when no transaction is active.
func (m *Manager) Horizon() uint64 {
	oldest := m.OldestActive()
	next := m.nextTx.Load()
	if oldest == math.MaxUint64 {
		return next - 1
	}
	return oldest - 1
}

// ActiveIDs lists the currently active transaction ids (checkpoint
// records carry them).
func (m *Manager) ActiveIDs() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint64, 0, len(m.active))
	for id := range m.active {
		out = append(out, id)
	}
	return out
}

// CurrentTxID reports the next id to be allocated (recovery and
// checkpoints persist it).
func (m *Manager) CurrentTxID() uint64 { return m.nextTx.Load() }

// Restore primes the counter and aborted set during WAL replay.
func (m *Manager) Restore(nextTx uint64, aborted []uint64) {
	if nextTx > m.nextTx.Load() {
		m.nextTx.Store(nextTx)
	}
	m.mu.Lock()
	for _, id := range aborted {
		m.aborted[id] = struct{}{}
	}
	m.mu.Unlock()
}
