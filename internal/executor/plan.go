package executor

import (
	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/index"
	"github.com/tuannm99/novapg/internal/sql"
)

// scanPlan is a resolved index access path. The full WHERE clause is
// still applied to fetched rows, so the plan only has to be a superset
// of the matching locators.
type scanPlan struct {
	idx   index.Index
	eq    bool
	key   string
	low   string
	high  string
	lowIn bool
	hiIn  bool
	// human-readable condition, for EXPLAIN
	cond string
}

func (p *scanPlan) fetch() []heap.TID {
	if p.eq {
		return p.idx.LookupEq(p.key)
	}
	return p.idx.LookupRange(p.low, p.high, p.lowIn, p.hiIn)
}

// chooseIndex picks an access path for the driving table of a query.
// Only the simple shapes are recognized: a WHERE clause that is a
// single comparison (or an AND chain containing one) between an
// indexed column and a constant. Joins fall back to sequential scans.
func (e *Executor) chooseIndex(sess *Session, outer *rowScope, meta *catalog.TableMeta, qual string, stmt *sql.SelectStmt) *scanPlan {
	if stmt == nil || stmt.Where == nil || len(stmt.Joins) > 0 {
		return nil
	}
	for _, cand := range flattenAnd(stmt.Where) {
		if plan := e.planComparison(sess, outer, meta, qual, cand); plan != nil {
			return plan
		}
	}
	// composite indexes: all columns constrained by equality
	if plan := e.planComposite(sess, outer, meta, qual, stmt.Where); plan != nil {
		return plan
	}
	return nil
}

func flattenAnd(expr sql.Expr) []sql.Expr {
	if be, ok := expr.(*sql.BinaryExpr); ok && be.Op == sql.OpAnd {
		return append(flattenAnd(be.L), flattenAnd(be.R)...)
	}
	return []sql.Expr{expr}
}

// planComparison recognizes `col op const` and `const op col` against
// a single-column index.
func (e *Executor) planComparison(sess *Session, outer *rowScope, meta *catalog.TableMeta, qual string, expr sql.Expr) *scanPlan {
	be, ok := expr.(*sql.BinaryExpr)
	if !ok {
		return nil
	}
	col, val, op, ok := e.splitComparison(sess, outer, qual, be)
	if !ok {
		return nil
	}
	ix := e.singleColumnIndex(meta, col)
	if ix == nil {
		return nil
	}

	ci := meta.ColumnIndex(col)
	if ci < 0 {
		return nil
	}
	cv, err := sql.Coerce(meta.Columns[ci].Type, val, e.db.Catalog().Enums())
	if err != nil || cv.IsNull() {
		return nil
	}
	key := index.EncodeKey([]sql.Value{cv})
	cond := col + " " + string(op) + " " + val.String()

	if op == sql.OpEq {
		return &scanPlan{idx: ix, eq: true, key: key, cond: cond}
	}
	if ix.Kind() != index.KindBTree {
		return nil
	}
	switch op {
	case sql.OpLt:
		return &scanPlan{idx: ix, high: key, cond: cond}
	case sql.OpLe:
		return &scanPlan{idx: ix, high: key, hiIn: true, cond: cond}
	case sql.OpGt:
		return &scanPlan{idx: ix, low: key, cond: cond}
	case sql.OpGe:
		return &scanPlan{idx: ix, low: key, lowIn: true, cond: cond}
	}
	return nil
}

// splitComparison extracts (column, constant, operator), normalizing
// constant-on-the-left comparisons.
func (e *Executor) splitComparison(sess *Session, outer *rowScope, qual string, be *sql.BinaryExpr) (string, sql.Value, sql.BinaryOp, bool) {
	if col, ok := localColumn(be.L, qual); ok {
		if v, ok := e.constValue(sess, outer, be.R); ok {
			return col, v, be.Op, true
		}
	}
	if col, ok := localColumn(be.R, qual); ok {
		if v, ok := e.constValue(sess, outer, be.L); ok {
			return col, v, flipOp(be.Op), true
		}
	}
	return "", sql.Value{}, "", false
}

func flipOp(op sql.BinaryOp) sql.BinaryOp {
	switch op {
	case sql.OpLt:
		return sql.OpGt
	case sql.OpLe:
		return sql.OpGe
	case sql.OpGt:
		return sql.OpLt
	case sql.OpGe:
		return sql.OpLe
	}
	return op
}

func localColumn(expr sql.Expr, qual string) (string, bool) {
	cr, ok := expr.(*sql.ColumnRef)
	if !ok {
		return "", false
	}
	if cr.Table != "" && cr.Table != qual {
		return "", false
	}
	return cr.Name, true
}

// constValue evaluates literal-only expressions (including correlated
// outer references, which are constant for one inner execution).
func (e *Executor) constValue(sess *Session, outer *rowScope, expr sql.Expr) (sql.Value, bool) {
	switch x := expr.(type) {
	case *sql.Literal:
		return x.Val, true
	case *sql.ColumnRef:
		if outer == nil {
			return sql.Value{}, false
		}
		v, _, err := outer.lookup(x.Table, x.Name)
		if err != nil {
			return sql.Value{}, false
		}
		return v, true
	}
	return sql.Value{}, false
}

func (e *Executor) singleColumnIndex(meta *catalog.TableMeta, col string) index.Index {
	for _, ix := range e.db.Indexes(meta.Name) {
		cols := ix.Columns()
		if len(cols) == 1 && cols[0] == col {
			return ix
		}
	}
	return nil
}

// planComposite matches a multi-column index when the AND chain pins
// every indexed column with an equality.
func (e *Executor) planComposite(sess *Session, outer *rowScope, meta *catalog.TableMeta, qual string, where sql.Expr) *scanPlan {
	eqs := map[string]sql.Value{}
	for _, cand := range flattenAnd(where) {
		be, ok := cand.(*sql.BinaryExpr)
		if !ok {
			continue
		}
		col, val, op, ok := e.splitComparison(sess, outer, qual, be)
		if ok && op == sql.OpEq {
			eqs[col] = val
		}
	}
	if len(eqs) < 2 {
		return nil
	}
	for _, ix := range e.db.Indexes(meta.Name) {
		cols := ix.Columns()
		if len(cols) < 2 {
			continue
		}
		vals := make([]sql.Value, 0, len(cols))
		ok := true
		cond := ""
		for _, col := range cols {
			v, found := eqs[col]
			if !found {
				ok = false
				break
			}
			ci := meta.ColumnIndex(col)
			if ci < 0 {
				ok = false
				break
			}
			cv, err := sql.Coerce(meta.Columns[ci].Type, v, e.db.Catalog().Enums())
			if err != nil || cv.IsNull() {
				ok = false
				break
			}
			vals = append(vals, cv)
			if cond != "" {
				cond += " AND "
			}
			cond += col + " = " + v.String()
		}
		if ok {
			return &scanPlan{idx: ix, eq: true, key: index.EncodeKey(vals), cond: cond}
		}
	}
	return nil
}
