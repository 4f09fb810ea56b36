package executor

import (
	"fmt"

	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/sql"
)

// execVacuum reclaims row versions no active or future snapshot can
// see: versions deleted by a transaction at or below the horizon, and
// versions created by aborted transactions.
func (e *Executor) execVacuum(sess *Session, stmt *sql.VacuumStmt) (*Result, error) {
	var tables []*catalog.TableMeta
	if stmt.Table != "" {
		meta, ok := e.db.Catalog().Table(stmt.Table)
		if !ok {
			return nil, fmt.Errorf("relation %q does not exist", stmt.Table)
		}
		tables = []*catalog.TableMeta{meta}
	} else {
		tables = e.db.Catalog().Tables()
	}

	horizon := e.db.Tx().Horizon()
	res := &Result{
		Columns: []ResultColumn{{Name: "vacuum", Type: sql.DataType{Name: sql.TypeText}}},
		Tag:     "VACUUM",
	}
	for _, meta := range tables {
		n, err := e.vacuumTable(meta, horizon)
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, []sql.Value{
			sql.NewText(fmt.Sprintf("table %q: removed %d dead tuples", meta.Name, n)),
		})
	}
	return res, nil
}

func (e *Executor) vacuumTable(meta *catalog.TableMeta, horizon uint64) (int, error) {
	tbl, err := e.db.Heap(meta.Name)
	if err != nil {
		return 0, err
	}
	txm := e.db.Tx()

	type victim struct {
		tid  heap.TID
		vals []sql.Value
	}
	var dead []victim
	pages := map[uint32]bool{}
	err = tbl.Scan(func(tid heap.TID, row sql.Row) error {
		aborted := txm.Aborted(row.Xmin)
		deleted := row.Xmax != 0 && row.Xmax <= horizon && txm.Committed(row.Xmax)
		if aborted || deleted {
			dead = append(dead, victim{tid: tid, vals: row.Values})
			pages[tid.PageNo] = true
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, v := range dead {
		for _, ix := range e.db.Indexes(meta.Name) {
			if key, ok := indexKeyFor(meta, ix, v.vals); ok {
				ix.Remove(key, v.tid)
			}
		}
		if err := tbl.Free(v.tid); err != nil {
			return 0, err
		}
	}
	for pageNo := range pages {
		if err := tbl.CompactPage(pageNo); err != nil {
			return 0, err
		}
	}
	return len(dead), nil
}
