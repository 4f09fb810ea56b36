package executor

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/index"
	"github.com/tuannm99/novapg/internal/sql"
)

func (e *Executor) execInsert(sess *Session, stmt *sql.InsertStmt) (*Result, error) {
	meta, ok := e.db.Catalog().Table(stmt.Table)
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", stmt.Table)
	}
	if err := e.checkPrivilege(sess, stmt.Table, catalog.PrivInsert); err != nil {
		return nil, err
	}

	cols := stmt.Columns
	if len(cols) == 0 {
		cols = make([]string, len(meta.Columns))
		for i, c := range meta.Columns {
			cols[i] = c.Name
		}
	}
	for _, c := range cols {
		if meta.ColumnIndex(c) < 0 {
			return nil, fmt.Errorf("column %q of relation %q does not exist", c, stmt.Table)
		}
	}

	n := 0
	for _, exprs := range stmt.Rows {
		if len(exprs) != len(cols) {
			return nil, fmt.Errorf("INSERT has %d expressions but %d target columns", len(exprs), len(cols))
		}
		vals := make([]sql.Value, len(exprs))
		for i, ex := range exprs {
			v, err := e.eval(sess, &rowScope{}, ex)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		if err := e.insertRow(sess, meta, cols, vals); err != nil {
			return nil, err
		}
		n++
	}
	e.db.NoteMutations(n)
	return &Result{Tag: fmt.Sprintf("INSERT 0 %d", n)}, nil
}

// insertRow validates one row (type, then NOT NULL, then UNIQUE, then
// foreign keys), assigns serial defaults, writes the heap tuple and
// maintains every index. Shared by INSERT and COPY FROM.
func (e *Executor) insertRow(sess *Session, meta *catalog.TableMeta, cols []string, vals []sql.Value) error {
	enums := e.db.Catalog().Enums()
	full := make([]sql.Value, len(meta.Columns))
	given := make([]bool, len(meta.Columns))
	for i, c := range cols {
		ci := meta.ColumnIndex(c)
		given[ci] = true
		full[ci] = vals[i]
	}

	metaDirty := false
	for i, col := range meta.Columns {
		if !given[i] || full[i].IsNull() {
			if col.Type.IsSerial() && (!given[i] || full[i].IsNull()) {
				full[i] = sql.NewInt(meta.NextSequence(col.Name))
				metaDirty = true
				continue
			}
			full[i] = sql.Null()
			continue
		}
		cv, err := sql.Coerce(col.Type, full[i], enums)
		if err != nil {
			return err
		}
		full[i] = cv
		if col.Type.IsSerial() {
			if iv, ok := cv.AsInt(); ok {
				meta.BumpSequence(col.Name, iv)
				metaDirty = true
			}
		}
	}

	for i, col := range meta.Columns {
		if !col.Nullable && full[i].IsNull() {
			return fmt.Errorf("%w: column %q", ErrNotNullViolation, col.Name)
		}
	}

	tbl, err := e.db.Heap(meta.Name)
	if err != nil {
		return err
	}
	if err := e.checkUniqueConstraints(sess, meta, tbl, full, nil); err != nil {
		return err
	}
	for i, col := range meta.Columns {
		if col.ForeignKey != nil && !full[i].IsNull() {
			if err := e.checkFKTarget(sess, col, full[i]); err != nil {
				return err
			}
		}
	}

	tid, err := tbl.Insert(sql.Row{Values: full}, sess.TxID)
	if err != nil {
		return err
	}
	e.addIndexEntries(meta, full, tid)

	if metaDirty {
		if err := e.db.Catalog().UpdateTable(meta); err != nil {
			return err
		}
	}
	return nil
}

// addIndexEntries inserts the row into every index on the table. Keys
// containing NULL are not indexed.
func (e *Executor) addIndexEntries(meta *catalog.TableMeta, vals []sql.Value, tid heap.TID) {
	for _, ix := range e.db.Indexes(meta.Name) {
		key, ok := indexKeyFor(meta, ix, vals)
		if ok {
			ix.Insert(key, tid)
		}
	}
}

func indexKeyFor(meta *catalog.TableMeta, ix index.Index, vals []sql.Value) (string, bool) {
	parts := make([]sql.Value, 0, len(ix.Columns()))
	for _, col := range ix.Columns() {
		ci := meta.ColumnIndex(col)
		if ci < 0 {
			return "", false
		}
		parts = append(parts, vals[ci])
	}
	if index.HasNull(parts) {
		return "", false
	}
	return index.EncodeKey(parts), true
}

// checkUniqueConstraints enforces column UNIQUE/PRIMARY KEY markers
// and unique indexes against the visible row set. exclude skips the
// version being replaced by an UPDATE.
func (e *Executor) checkUniqueConstraints(sess *Session, meta *catalog.TableMeta, tbl *heap.Table, vals []sql.Value, exclude *heap.TID) error {
	type constraint struct {
		name string
		cols []int
	}
	var constraints []constraint
	for i, col := range meta.Columns {
		if col.Unique || col.PrimaryKey {
			constraints = append(constraints, constraint{name: col.Name, cols: []int{i}})
		}
	}
	for _, ixm := range meta.Indexes {
		if !ixm.Unique {
			continue
		}
		var cis []int
		ok := true
		for _, c := range ixm.Columns {
			ci := meta.ColumnIndex(c)
			if ci < 0 {
				ok = false
				break
			}
			cis = append(cis, ci)
		}
		if ok {
			constraints = append(constraints, constraint{name: ixm.Name, cols: cis})
		}
	}
	if len(constraints) == 0 {
		return nil
	}

	for _, c := range constraints {
		probe := make([]sql.Value, len(c.cols))
		null := false
		for i, ci := range c.cols {
			probe[i] = vals[ci]
			if vals[ci].IsNull() {
				null = true
			}
		}
		if null {
			continue // NULL never conflicts
		}
		conflict := false
		err := tbl.Scan(func(tid heap.TID, row sql.Row) error {
			if exclude != nil && tid == *exclude {
				return nil
			}
			if !e.visible(sess, row) {
				return nil
			}
			for i, ci := range c.cols {
				if !row.Values[ci].Equal(probe[i]) {
					return nil
				}
			}
			conflict = true
			return errStopScan
		})
		if err != nil && !errors.Is(err, errStopScan) {
			return err
		}
		if conflict {
			return fmt.Errorf("%w %q", ErrUniqueViolation, c.name)
		}
	}
	return nil
}

var errStopScan = errors.New("stop scan")

// checkFKTarget verifies the referenced row exists and is visible.
func (e *Executor) checkFKTarget(sess *Session, col sql.Column, v sql.Value) error {
	fk := col.ForeignKey
	refMeta, ok := e.db.Catalog().Table(fk.Table)
	if !ok {
		return fmt.Errorf("referenced relation %q does not exist", fk.Table)
	}
	refCol := fk.Column
	if refCol == "" {
		pk := refMeta.PrimaryKey()
		if pk == nil {
			return fmt.Errorf("referenced relation %q has no primary key", fk.Table)
		}
		refCol = pk.Name
	}
	ci := refMeta.ColumnIndex(refCol)
	if ci < 0 {
		return fmt.Errorf("referenced column %q does not exist", refCol)
	}
	refTbl, err := e.db.Heap(fk.Table)
	if err != nil {
		return err
	}
	found := false
	err = refTbl.Scan(func(_ heap.TID, row sql.Row) error {
		if e.visible(sess, row) && row.Values[ci].Equal(v) {
			found = true
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return err
	}
	if !found {
		return fmt.Errorf("%w: key %s=%s is not present in table %q",
			ErrFKViolation, refCol, v.String(), fk.Table)
	}
	return nil
}

// checkFKReferences blocks removing a key other rows still point at.
func (e *Executor) checkFKReferences(sess *Session, meta *catalog.TableMeta, oldVals []sql.Value) error {
	for _, refMeta := range e.db.Catalog().Referencing(meta.Name) {
		for ci, col := range refMeta.Columns {
			fk := col.ForeignKey
			if fk == nil || fk.Table != meta.Name {
				continue
			}
			targetCol := fk.Column
			if targetCol == "" {
				pk := meta.PrimaryKey()
				if pk == nil {
					continue
				}
				targetCol = pk.Name
			}
			ti := meta.ColumnIndex(targetCol)
			if ti < 0 || oldVals[ti].IsNull() {
				continue
			}
			refTbl, err := e.db.Heap(refMeta.Name)
			if err != nil {
				return err
			}
			referenced := false
			err = refTbl.Scan(func(_ heap.TID, row sql.Row) error {
				if e.visible(sess, row) && row.Values[ci].Equal(oldVals[ti]) {
					referenced = true
					return errStopScan
				}
				return nil
			})
			if err != nil && !errors.Is(err, errStopScan) {
				return err
			}
			if referenced {
				return fmt.Errorf("update or delete on table %q %w %q on table %q",
					meta.Name, ErrFKViolation, col.Name, refMeta.Name)
			}
		}
	}
	return nil
}

type matchedRow struct {
	tid heap.TID
	row sql.Row
}

// matchRows collects visible rows satisfying the predicate, with their
// locators.
func (e *Executor) matchRows(sess *Session, meta *catalog.TableMeta, tbl *heap.Table, where sql.Expr) ([]matchedRow, error) {
	cols := make([]colBinding, len(meta.Columns))
	for i, c := range meta.Columns {
		cols[i] = colBinding{qualifier: meta.Name, name: c.Name, typ: c.Type}
	}
	var out []matchedRow
	err := tbl.Scan(func(tid heap.TID, row sql.Row) error {
		if !e.visible(sess, row) {
			return nil
		}
		sc := &rowScope{cols: cols, vals: row.Values}
		ok, err := e.evalBool(sess, sc, where)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, matchedRow{tid: tid, row: row})
		}
		return nil
	})
	return out, err
}

func (e *Executor) execUpdate(sess *Session, stmt *sql.UpdateStmt) (*Result, error) {
	meta, ok := e.db.Catalog().Table(stmt.Table)
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", stmt.Table)
	}
	if err := e.checkPrivilege(sess, stmt.Table, catalog.PrivUpdate); err != nil {
		return nil, err
	}
	for _, a := range stmt.Set {
		if meta.ColumnIndex(a.Column) < 0 {
			return nil, fmt.Errorf("column %q of relation %q does not exist", a.Column, stmt.Table)
		}
	}
	tbl, err := e.db.Heap(stmt.Table)
	if err != nil {
		return nil, err
	}
	matches, err := e.matchRows(sess, meta, tbl, stmt.Where)
	if err != nil {
		return nil, err
	}

	cols := make([]colBinding, len(meta.Columns))
	for i, c := range meta.Columns {
		cols[i] = colBinding{qualifier: meta.Name, name: c.Name, typ: c.Type}
	}
	enums := e.db.Catalog().Enums()

	n := 0
	for _, m := range matches {
		sc := &rowScope{cols: cols, vals: m.row.Values}
		newVals := append([]sql.Value{}, m.row.Values...)
		for _, a := range stmt.Set {
			ci := meta.ColumnIndex(a.Column)
			v, err := e.eval(sess, sc, a.Value)
			if err != nil {
				return nil, err
			}
			if !v.IsNull() {
				v, err = sql.Coerce(meta.Columns[ci].Type, v, enums)
				if err != nil {
					return nil, err
				}
			}
			if !meta.Columns[ci].Nullable && v.IsNull() {
				return nil, fmt.Errorf("%w: column %q", ErrNotNullViolation, a.Column)
			}
			newVals[ci] = v
		}

		if err := e.checkUniqueConstraints(sess, meta, tbl, newVals, &m.tid); err != nil {
			return nil, err
		}
		for ci, col := range meta.Columns {
			if col.ForeignKey != nil && !newVals[ci].IsNull() && !newVals[ci].Equal(m.row.Values[ci]) {
				if err := e.checkFKTarget(sess, col, newVals[ci]); err != nil {
					return nil, err
				}
			}
		}
		// a referenced key may not change while other rows point at it
		if keyChanged(meta, m.row.Values, newVals) {
			if err := e.checkFKReferences(sess, meta, m.row.Values); err != nil {
				return nil, err
			}
		}

		if err := tbl.StampXmax(m.tid, sess.TxID); err != nil {
			return nil, err
		}
		newTID, err := tbl.InsertVersion(m.tid, sql.Row{Values: newVals}, sess.TxID, m.row.Xmax)
		if err != nil {
			return nil, err
		}
		e.addIndexEntries(meta, newVals, newTID)
		n++
	}
	e.db.NoteMutations(n)
	return &Result{Tag: fmt.Sprintf("UPDATE %d", n)}, nil
}

// keyChanged reports whether any column another table can reference
// changed value.
func keyChanged(meta *catalog.TableMeta, oldVals, newVals []sql.Value) bool {
	for i, col := range meta.Columns {
		if !col.PrimaryKey && !col.Unique {
			continue
		}
		if !oldVals[i].Equal(newVals[i]) && !(oldVals[i].IsNull() && newVals[i].IsNull()) {
			return true
		}
	}
	return false
}

func (e *Executor) execDelete(sess *Session, stmt *sql.DeleteStmt) (*Result, error) {
	meta, ok := e.db.Catalog().Table(stmt.Table)
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", stmt.Table)
	}
	if err := e.checkPrivilege(sess, stmt.Table, catalog.PrivDelete); err != nil {
		return nil, err
	}
	tbl, err := e.db.Heap(stmt.Table)
	if err != nil {
		return nil, err
	}
	matches, err := e.matchRows(sess, meta, tbl, stmt.Where)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, m := range matches {
		if err := e.checkFKReferences(sess, meta, m.row.Values); err != nil {
			return nil, err
		}
		if err := tbl.StampXmax(m.tid, sess.TxID); err != nil {
			return nil, err
		}
		n++
	}
	e.db.NoteMutations(n)
	return &Result{Tag: fmt.Sprintf("DELETE %d", n)}, nil
}

// ---- COPY support ----

// CopyColumns resolves and authorizes the column set of a COPY.
func (e *Executor) CopyColumns(sess *Session, table string, cols []string, in bool) ([]sql.Column, error) {
	meta, ok := e.db.Catalog().Table(table)
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", table)
	}
	priv := catalog.PrivSelect
	if in {
		priv = catalog.PrivInsert
	}
	if err := e.checkPrivilege(sess, table, priv); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return append([]sql.Column{}, meta.Columns...), nil
	}
	out := make([]sql.Column, len(cols))
	for i, c := range cols {
		ci := meta.ColumnIndex(c)
		if ci < 0 {
			return nil, fmt.Errorf("column %q of relation %q does not exist", c, table)
		}
		out[i] = meta.Columns[ci]
	}
	return out, nil
}

// CopyInsertRow feeds one decoded COPY FROM row through the normal
// insert validation.
func (e *Executor) CopyInsertRow(sess *Session, table string, cols []sql.Column, vals []sql.Value) error {
	meta, ok := e.db.Catalog().Table(table)
	if !ok {
		return fmt.Errorf("relation %q does not exist", table)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	if err := e.insertRow(sess, meta, names, vals); err != nil {
		return err
	}
	e.db.NoteMutations(1)
	return nil
}

// CopyRows streams the visible rows of a table for COPY TO, projected
// onto the requested columns.
func (e *Executor) CopyRows(sess *Session, table string, cols []sql.Column) ([][]sql.Value, error) {
	meta, ok := e.db.Catalog().Table(table)
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", table)
	}
	tbl, err := e.db.Heap(table)
	if err != nil {
		return nil, err
	}
	cis := make([]int, len(cols))
	for i, c := range cols {
		cis[i] = meta.ColumnIndex(c.Name)
	}
	var out [][]sql.Value
	err = tbl.Scan(func(_ heap.TID, row sql.Row) error {
		if !e.visible(sess, row) {
			return nil
		}
		vals := make([]sql.Value, len(cis))
		for i, ci := range cis {
			vals[i] = row.Values[ci]
		}
		out = append(out, vals)
		return nil
	})
	return out, err
}
