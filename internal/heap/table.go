package heap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tuannm99/novapg/internal/bufferpool"
	"github.com/tuannm99/novapg/internal/sql"
	"github.com/tuannm99/novapg/internal/storage"
	"github.com/tuannm99/novapg/internal/wal"
)

var ErrNoSuchRow = errors.New("heap: no tuple at locator")

// Table is the paged, MVCC-aware row store for one table. All page
// access goes through the buffer pool and every mutation appends a
// WAL record before the page is allowed to reach disk.
type Table struct {
	Name    string
	Columns []sql.Column

	pool  *bufferpool.Pool
	pager *storage.Pager
	wal   *wal.Manager

	mu        sync.Mutex
	pageCount uint32
}

func Open(name string, cols []sql.Column, pool *bufferpool.Pool, pager *storage.Pager, w *wal.Manager) (*Table, error) {
	n, err := pager.PageCount(name)
	if err != nil {
		return nil, err
	}
	return &Table{
		Name:    name,
		Columns: cols,
		pool:    pool,
		pager:   pager,
		wal:     w,
		pageCount: n,
	}, nil
}

func (t *Table) pid(pageNo uint32) storage.PageID {
	return storage.PageID{Table: t.Name, PageNo: pageNo}
}

// Insert encodes the row (xmin = txID), places it on a page with free
// space (allocating a new page if needed) and logs an Insert record.
func (t *Table) Insert(row sql.Row, txID uint64) (TID, error) {
	row.Xmin = txID
	tup, err := storage.EncodeRow(t.Columns, row)
	if err != nil {
		return TID{}, err
	}
	tid, err := t.place(tup)
	if err != nil {
		return TID{}, err
	}
	if t.wal != nil {
		_, err = t.wal.Append(&wal.Record{
			Kind:   wal.KindInsert,
			Tx:     txID,
			Table:  t.Name,
			PageNo: tid.PageNo,
			Slot:   tid.Slot,
			Tuple:  tup,
			Xmin:   txID,
		})
		if err != nil {
			return TID{}, err
		}
	}
	return tid, nil
}

// place finds room for an encoded tuple: last page first, then a new
// page. Earlier pages are retried only when the last page cannot hold
// the tuple and a prior VACUUM may have freed space there.
func (t *Table) place(tup []byte) (TID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pageCount > 0 {
		pageNo := t.pageCount - 1
		tid, ok, err := t.tryPlace(pageNo, tup)
		if err != nil {
			return TID{}, err
		}
		if ok {
			return tid, nil
		}
	}

	pageNo, err := t.pager.AllocatePage(t.Name)
	if err != nil {
		return TID{}, err
	}
	t.pageCount = pageNo + 1

	tid, ok, err := t.tryPlace(pageNo, tup)
	if err != nil {
		return TID{}, err
	}
	if !ok {
		return TID{}, storage.ErrTupleTooLarge
	}
	return tid, nil
}

func (t *Table) tryPlace(pageNo uint32, tup []byte) (TID, bool, error) {
	f, err := t.pool.Fetch(t.pid(pageNo))
	if err != nil {
		return TID{}, false, err
	}
	slot, err := f.Page.InsertTuple(tup)
	if errors.Is(err, storage.ErrNoSpace) {
		t.pool.Unpin(f, false)
		return TID{}, false, nil
	}
	if err != nil {
		t.pool.Unpin(f, false)
		return TID{}, false, err
	}
	t.pool.Unpin(f, true)
	return TID{PageNo: pageNo, Slot: uint16(slot)}, true, nil
}

// Get reads one row version by locator. Tombstoned slots report
// ErrNoSuchRow.
func (t *Table) Get(tid TID) (sql.Row, error) {
	f, err := t.pool.Fetch(t.pid(tid.PageNo))
	if err != nil {
		return sql.Row{}, err
	}
	defer t.pool.Unpin(f, false)

	tup, err := f.Page.ReadTuple(int(tid.Slot))
	if errors.Is(err, storage.ErrTupleDeleted) || errors.Is(err, storage.ErrBadSlot) {
		return sql.Row{}, ErrNoSuchRow
	}
	if err != nil {
		return sql.Row{}, err
	}
	return storage.DecodeRow(t.Columns, tup)
}

// StampXmax marks a row version deleted (or superseded) by txID,
// patching xmax in place and logging a Delete record.
func (t *Table) StampXmax(tid TID, txID uint64) error {
	f, err := t.pool.Fetch(t.pid(tid.PageNo))
	if err != nil {
		return err
	}
	tup, err := f.Page.ReadTuple(int(tid.Slot))
	if err != nil {
		t.pool.Unpin(f, false)
		if errors.Is(err, storage.ErrTupleDeleted) {
			return ErrNoSuchRow
		}
		return err
	}
	if err := storage.StampXmax(tup, txID); err != nil {
		t.pool.Unpin(f, false)
		return err
	}
	t.pool.Unpin(f, true)

	if t.wal != nil {
		_, err = t.wal.Append(&wal.Record{
			Kind:   wal.KindDelete,
			Tx:     txID,
			Table:  t.Name,
			PageNo: tid.PageNo,
			Slot:   tid.Slot,
			Xmax:   txID,
		})
	}
	return err
}

// InsertVersion writes the successor version of an updated row and
// logs a single Update record tying old and new locators together.
func (t *Table) InsertVersion(old TID, row sql.Row, txID, prevXmax uint64) (TID, error) {
	row.Xmin = txID
	tup, err := storage.EncodeRow(t.Columns, row)
	if err != nil {
		return TID{}, err
	}
	tid, err := t.place(tup)
	if err != nil {
		return TID{}, err
	}
	if t.wal != nil {
		_, err = t.wal.Append(&wal.Record{
			Kind:      wal.KindUpdate,
			Tx:        txID,
			Table:     t.Name,
			OldPageNo: old.PageNo,
			OldSlot:   old.Slot,
			PageNo:    tid.PageNo,
			Slot:      tid.Slot,
			Tuple:     tup,
			Xmin:      txID,
			PrevXmax:  prevXmax,
		})
		if err != nil {
			return TID{}, err
		}
	}
	return tid, nil
}

// Overwrite rewrites a row version in place when the new encoding
// fits the existing slot, otherwise frees it and appends elsewhere.
// Used by ALTER TABLE full rewrites; no per-row WAL (the DDL record
// plus forced checkpoint cover it).
func (t *Table) Overwrite(tid TID, row sql.Row) (TID, error) {
	tup, err := storage.EncodeRow(t.Columns, row)
	if err != nil {
		return TID{}, err
	}
	f, err := t.pool.Fetch(t.pid(tid.PageNo))
	if err != nil {
		return TID{}, err
	}
	err = f.Page.OverwriteTuple(int(tid.Slot), tup)
	if err == nil {
		t.pool.Unpin(f, true)
		return tid, nil
	}
	if !errors.Is(err, storage.ErrNoSpace) {
		t.pool.Unpin(f, false)
		return TID{}, err
	}
	// does not fit: tombstone the old slot and relocate
	if err := f.Page.FreeTuple(int(tid.Slot)); err != nil {
		t.pool.Unpin(f, false)
		return TID{}, err
	}
	t.pool.Unpin(f, true)
	return t.place(tup)
}

// Free tombstones a row version (VACUUM).
func (t *Table) Free(tid TID) error {
	f, err := t.pool.Fetch(t.pid(tid.PageNo))
	if err != nil {
		return err
	}
	defer t.pool.Unpin(f, true)
	return f.Page.FreeTuple(int(tid.Slot))
}

// CompactPage repacks a page after VACUUM freed slots on it.
func (t *Table) CompactPage(pageNo uint32) error {
	f, err := t.pool.Fetch(t.pid(pageNo))
	if err != nil {
		return err
	}
	f.Page.Compact()
	t.pool.Unpin(f, true)
	return nil
}

// Scan enumerates every live row version with its locator, in page
// then slot order.
func (t *Table) Scan(fn func(tid TID, row sql.Row) error) error {
	t.mu.Lock()
	n := t.pageCount
	t.mu.Unlock()

	for pageNo := uint32(0); pageNo < n; pageNo++ {
		f, err := t.pool.Fetch(t.pid(pageNo))
		if err != nil {
			return err
		}
		err = f.Page.LiveSlots(func(idx int, tup []byte) error {
			row, derr := storage.DecodeRow(t.Columns, tup)
			if derr != nil {
				return fmt.Errorf("heap: %s page %d slot %d: %w", t.Name, pageNo, idx, derr)
			}
			return fn(TID{PageNo: pageNo, Slot: uint16(idx)}, row)
		})
		t.pool.Unpin(f, false)
		if err != nil {
			return err
		}
	}
	return nil
}

// PageCount reports the current number of pages.
func (t *Table) PageCount() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pageCount
}

// ReplayInsert places a logged tuple at its exact locator during
// recovery. Pages are allocated up to the target; a slot already
// holding bytes (the page reached disk before the crash) is left as
// is, except that replay may re-stamp xmax later.
func (t *Table) ReplayInsert(tid TID, tup []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.pageCount <= tid.PageNo {
		n, err := t.pager.AllocatePage(t.Name)
		if err != nil {
			return err
		}
		t.pageCount = n + 1
	}
	f, err := t.pool.Fetch(t.pid(tid.PageNo))
	if err != nil {
		return err
	}
	defer t.pool.Unpin(f, true)

	if int(tid.Slot) < f.Page.NumSlots() {
		// already present from a pre-crash flush
		return nil
	}
	// replay follows the original append order, so slots materialize
	// sequentially
	slot, err := f.Page.InsertTuple(tup)
	if err != nil {
		return err
	}
	if slot != int(tid.Slot) {
		return storage.ErrCorruption
	}
	return nil
}

// ReplayStampXmax re-applies a logged delete during recovery.
func (t *Table) ReplayStampXmax(tid TID, xmax uint64) error {
	f, err := t.pool.Fetch(t.pid(tid.PageNo))
	if err != nil {
		return err
	}
	defer t.pool.Unpin(f, true)
	tup, err := f.Page.ReadTuple(int(tid.Slot))
	if err != nil {
		// slot vacuumed or never materialized; nothing to stamp
		return nil
	}
	return storage.StampXmax(tup, xmax)
}
