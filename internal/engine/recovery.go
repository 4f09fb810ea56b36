package engine

import (
	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/wal"
)

// recover replays the retained WAL against the heap files. Two passes:
// first the transaction-status pass over every retained record decides
// which transactions committed, then the data pass re-applies row
// records written after the last checkpoint. A transaction that was
// begun but never finalized crashed in flight and is restored as
// aborted, so its row versions stay invisible forever.
func (e *Engine) recover() error {
	recs, err := e.wal.ReadAll()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	seen := make(map[uint64]struct{})
	committed := make(map[uint64]struct{})
	aborted := make(map[uint64]struct{})
	var maxTx, nextTx uint64
	lastCkpt := -1

	for i, rec := range recs {
		if rec.Tx != 0 {
			seen[rec.Tx] = struct{}{}
			if rec.Tx > maxTx {
				maxTx = rec.Tx
			}
		}
		switch rec.Kind {
		case wal.KindCommit:
			committed[rec.Tx] = struct{}{}
		case wal.KindAbort:
			aborted[rec.Tx] = struct{}{}
		case wal.KindCheckpoint:
			lastCkpt = i
			if rec.NextTx > nextTx {
				nextTx = rec.NextTx
			}
		}
	}
	for id := range seen {
		if _, ok := committed[id]; ok {
			continue
		}
		aborted[id] = struct{}{}
	}
	if maxTx+1 > nextTx {
		nextTx = maxTx + 1
	}

	abortedList := make([]uint64, 0, len(aborted))
	for id := range aborted {
		abortedList = append(abortedList, id)
	}
	e.txm.Restore(nextTx, abortedList)

	replayed := 0
	for _, rec := range recs[lastCkpt+1:] {
		switch rec.Kind {
		case wal.KindInsert:
			tbl, ok := e.tables[rec.Table]
			if !ok {
				// table dropped after this record was written
				continue
			}
			tid := heap.TID{PageNo: rec.PageNo, Slot: rec.Slot}
			if err := tbl.ReplayInsert(tid, rec.Tuple); err != nil {
				return err
			}
			replayed++
		case wal.KindUpdate:
			tbl, ok := e.tables[rec.Table]
			if !ok {
				continue
			}
			old := heap.TID{PageNo: rec.OldPageNo, Slot: rec.OldSlot}
			if err := tbl.ReplayStampXmax(old, rec.Tx); err != nil {
				return err
			}
			tid := heap.TID{PageNo: rec.PageNo, Slot: rec.Slot}
			if err := tbl.ReplayInsert(tid, rec.Tuple); err != nil {
				return err
			}
			replayed++
		case wal.KindDelete:
			tbl, ok := e.tables[rec.Table]
			if !ok {
				continue
			}
			tid := heap.TID{PageNo: rec.PageNo, Slot: rec.Slot}
			if err := tbl.ReplayStampXmax(tid, rec.Xmax); err != nil {
				return err
			}
			replayed++
		}
		// DDL kinds need no replay: the catalog file and the forced
		// checkpoint that followed them already made the change durable.
	}

	if replayed > 0 {
		if err := e.pool.FlushAll(); err != nil {
			return err
		}
		if err := e.pager.Fsync(); err != nil {
			return err
		}
	}
	e.log.Info("wal replay complete",
		"records", len(recs),
		"replayed", replayed,
		"aborted_in_flight", len(abortedList),
		"next_tx", nextTx)
	return nil
}
