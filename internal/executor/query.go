package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/index"
	"github.com/tuannm99/novapg/internal/sql"
	"github.com/tuannm99/novapg/internal/sql/parser"
)

// resultRow pairs projected output with the source scope it came
// from, so ORDER BY can reference either.
type resultRow struct {
	scope *rowScope
	out   []sql.Value
}

func (e *Executor) execSelect(sess *Session, stmt *sql.SelectStmt) (*Result, error) {
	rows, cols, err := e.runSelect(sess, nil, stmt)
	if err != nil {
		return nil, err
	}
	return &Result{Columns: cols, Rows: rows, Tag: fmt.Sprintf("SELECT %d", len(rows))}, nil
}

// subqueryRows runs a nested select with access to the enclosing row.
func (e *Executor) subqueryRows(sess *Session, outer *rowScope, stmt *sql.SelectStmt) ([][]sql.Value, []ResultColumn, error) {
	return e.runSelect(sess, outer, stmt)
}

func (e *Executor) runSelect(sess *Session, outer *rowScope, stmt *sql.SelectStmt) ([][]sql.Value, []ResultColumn, error) {
	if stmt.SetOp != nil {
		return e.runSetOp(sess, outer, stmt)
	}

	srcRows, srcCols, err := e.sourceRows(sess, outer, stmt)
	if err != nil {
		return nil, nil, err
	}

	hasAgg := stmt.GroupBy != nil || stmt.Having != nil
	for _, it := range stmt.Items {
		if it.Expr != nil && containsAggregate(it.Expr) {
			hasAgg = true
		}
	}
	hasWindow := false
	for _, it := range stmt.Items {
		if it.Expr != nil && containsWindow(it.Expr) {
			hasWindow = true
		}
	}
	if hasAgg && hasWindow {
		return nil, nil, fmt.Errorf("window functions cannot be combined with aggregates")
	}

	var results []resultRow
	var outCols []ResultColumn

	switch {
	case hasAgg:
		results, outCols, err = e.runAggregate(sess, stmt, srcRows, srcCols)
	case hasWindow:
		results, outCols, err = e.runWindowed(sess, stmt, srcRows, srcCols)
	default:
		results, outCols, err = e.projectRows(sess, stmt, srcRows, srcCols)
	}
	if err != nil {
		return nil, nil, err
	}

	if stmt.Distinct {
		results = distinctRows(results)
	}
	if err := e.orderResults(sess, results, outCols, stmt.OrderBy); err != nil {
		return nil, nil, err
	}
	results = sliceWindow(results, stmt.Offset, stmt.Limit)

	out := make([][]sql.Value, len(results))
	for i, r := range results {
		out[i] = r.out
	}
	return out, outCols, nil
}

func (e *Executor) runSetOp(sess *Session, outer *rowScope, stmt *sql.SelectStmt) ([][]sql.Value, []ResultColumn, error) {
	left := *stmt
	left.SetOp = nil
	left.OrderBy = nil
	left.Limit, left.Offset = -1, -1
	lrows, lcols, err := e.runSelect(sess, outer, &left)
	if err != nil {
		return nil, nil, err
	}
	rrows, _, err := e.runSelect(sess, outer, stmt.SetOp.Right)
	if err != nil {
		return nil, nil, err
	}
	if len(lrows) > 0 && len(rrows) > 0 && len(lrows[0]) != len(rrows[0]) {
		return nil, nil, fmt.Errorf("each %s query must have the same number of columns", setOpName(stmt.SetOp.Kind))
	}

	var combined [][]sql.Value
	switch stmt.SetOp.Kind {
	case sql.SetUnionAll:
		combined = append(lrows, rrows...)
	case sql.SetUnion:
		combined = dedupeValueRows(append(lrows, rrows...))
	case sql.SetIntersect:
		rset := valueRowSet(rrows)
		for _, r := range dedupeValueRows(lrows) {
			if rset[rowKey(r)] {
				combined = append(combined, r)
			}
		}
	case sql.SetExcept:
		rset := valueRowSet(rrows)
		for _, r := range dedupeValueRows(lrows) {
			if !rset[rowKey(r)] {
				combined = append(combined, r)
			}
		}
	}

	results := make([]resultRow, len(combined))
	for i, r := range combined {
		results[i] = resultRow{out: r}
	}
	// ORDER BY on a combined result can only reference output columns
	if err := e.orderResults(sess, results, lcols, stmt.OrderBy); err != nil {
		return nil, nil, err
	}
	results = sliceWindow(results, stmt.Offset, stmt.Limit)
	out := make([][]sql.Value, len(results))
	for i, r := range results {
		out[i] = r.out
	}
	return out, lcols, nil
}

func setOpName(k sql.SetOpKind) string {
	switch k {
	case sql.SetIntersect:
		return "INTERSECT"
	case sql.SetExcept:
		return "EXCEPT"
	}
	return "UNION"
}

// sourceRows produces the filtered, visibility-checked row set of the
// FROM/JOIN/WHERE clauses. Each row carries its own scope (linked to
// outer for correlated subqueries).
func (e *Executor) sourceRows(sess *Session, outer *rowScope, stmt *sql.SelectStmt) ([]*rowScope, []colBinding, error) {
	if stmt.From == "" {
		sc := &rowScope{outer: outer}
		ok, err := e.evalBool(sess, sc, stmt.Where)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, nil
		}
		return []*rowScope{sc}, nil, nil
	}

	cols, rows, err := e.relationRows(sess, outer, stmt.From, stmt.FromAlias, stmt)
	if err != nil {
		return nil, nil, err
	}

	for _, join := range stmt.Joins {
		jcols, jrows, err := e.relationRows(sess, outer, join.Table, join.Alias, nil)
		if err != nil {
			return nil, nil, err
		}
		cols, rows, err = e.joinRows(sess, outer, cols, rows, jcols, jrows, join)
		if err != nil {
			return nil, nil, err
		}
	}

	var out []*rowScope
	for _, vals := range rows {
		sc := &rowScope{outer: outer, cols: cols, vals: vals}
		ok, err := e.evalBool(sess, sc, stmt.Where)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			out = append(out, sc)
		}
	}
	return out, cols, nil
}

// relationRows loads one relation: a user table (possibly via an
// index), a view, or a system catalog. stmt is non-nil only for the
// driving FROM table, enabling index selection off its WHERE clause.
func (e *Executor) relationRows(sess *Session, outer *rowScope, name, alias string, stmt *sql.SelectStmt) ([]colBinding, [][]sql.Value, error) {
	qual := name
	if alias != "" {
		qual = alias
	}

	if cols, rows, ok, err := e.systemRelation(sess, name); ok || err != nil {
		if err != nil {
			return nil, nil, err
		}
		return qualify(cols, qual), rows, nil
	}

	cat := e.db.Catalog()
	if v, ok := cat.View(name); ok {
		if err := e.checkPrivilege(sess, name, catalog.PrivSelect); err != nil {
			return nil, nil, err
		}
		sub, err := parser.Parse(v.Query)
		if err != nil {
			return nil, nil, fmt.Errorf("view %s: %w", name, err)
		}
		sel, ok := sub.(*sql.SelectStmt)
		if !ok {
			return nil, nil, fmt.Errorf("view %s is not a query", name)
		}
		rows, rcols, err := e.runSelect(sess, outer, sel)
		if err != nil {
			return nil, nil, err
		}
		cols := make([]colBinding, len(rcols))
		for i, c := range rcols {
			cols[i] = colBinding{qualifier: qual, name: c.Name, typ: c.Type}
		}
		return cols, rows, nil
	}

	meta, ok := cat.Table(name)
	if !ok {
		return nil, nil, fmt.Errorf("relation %q does not exist", name)
	}
	if err := e.checkPrivilege(sess, name, catalog.PrivSelect); err != nil {
		return nil, nil, err
	}
	tbl, err := e.db.Heap(name)
	if err != nil {
		return nil, nil, err
	}

	cols := make([]colBinding, len(meta.Columns))
	for i, c := range meta.Columns {
		cols[i] = colBinding{qualifier: qual, name: c.Name, typ: c.Type}
	}

	var rows [][]sql.Value
	plan := e.chooseIndex(sess, outer, meta, qual, stmt)
	if plan != nil {
		tids := plan.fetch()
		seen := make(map[string]bool, len(tids))
		for _, tid := range tids {
			key := tid.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			row, err := tbl.Get(tid)
			if err != nil {
				continue // entry pointing at a vacuumed slot
			}
			if e.visible(sess, row) {
				rows = append(rows, row.Values)
			}
		}
	} else {
		err = tbl.Scan(func(_ heap.TID, row sql.Row) error {
			if e.visible(sess, row) {
				rows = append(rows, row.Values)
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return cols, rows, nil
}

func qualify(cols []colBinding, qual string) []colBinding {
	out := make([]colBinding, len(cols))
	for i, c := range cols {
		c.qualifier = qual
		out[i] = c
	}
	return out
}

func (e *Executor) joinRows(sess *Session, outer *rowScope, lcols []colBinding, lrows [][]sql.Value, rcols []colBinding, rrows [][]sql.Value, join sql.JoinClause) ([]colBinding, [][]sql.Value, error) {
	cols := append(append([]colBinding{}, lcols...), rcols...)
	var out [][]sql.Value

	rightMatched := make([]bool, len(rrows))
	for _, lv := range lrows {
		matched := false
		for ri, rv := range rrows {
			merged := append(append([]sql.Value{}, lv...), rv...)
			sc := &rowScope{outer: outer, cols: cols, vals: merged}
			ok, err := e.evalBool(sess, sc, join.On)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				matched = true
				rightMatched[ri] = true
				out = append(out, merged)
			}
		}
		if !matched && join.Kind == sql.JoinLeft {
			out = append(out, padRight(lv, len(rcols)))
		}
	}
	if join.Kind == sql.JoinRight {
		for ri, rv := range rrows {
			if !rightMatched[ri] {
				out = append(out, padLeft(rv, len(lcols)))
			}
		}
	}
	return cols, out, nil
}

func padRight(left []sql.Value, n int) []sql.Value {
	out := append([]sql.Value{}, left...)
	for i := 0; i < n; i++ {
		out = append(out, sql.Null())
	}
	return out
}

func padLeft(right []sql.Value, n int) []sql.Value {
	out := make([]sql.Value, 0, n+len(right))
	for i := 0; i < n; i++ {
		out = append(out, sql.Null())
	}
	return append(out, right...)
}

// ---- projection ----

func (e *Executor) projectRows(sess *Session, stmt *sql.SelectStmt, srcRows []*rowScope, srcCols []colBinding) ([]resultRow, []ResultColumn, error) {
	items, outCols, err := expandItems(stmt.Items, srcCols)
	if err != nil {
		return nil, nil, err
	}
	results := make([]resultRow, 0, len(srcRows))
	for _, sc := range srcRows {
		vals := make([]sql.Value, len(items))
		for i, it := range items {
			v, err := e.eval(sess, sc, it)
			if err != nil {
				return nil, nil, err
			}
			vals[i] = v
		}
		results = append(results, resultRow{scope: sc, out: vals})
	}
	return results, outCols, nil
}

// expandItems flattens * and t.* into column references and derives
// output column names.
func expandItems(items []sql.SelectItem, srcCols []colBinding) ([]sql.Expr, []ResultColumn, error) {
	var exprs []sql.Expr
	var outCols []ResultColumn
	for _, it := range items {
		if it.Star {
			for _, c := range srcCols {
				exprs = append(exprs, &sql.ColumnRef{Table: c.qualifier, Name: c.name})
				outCols = append(outCols, ResultColumn{Name: c.name, Type: c.typ})
			}
			continue
		}
		if cr, ok := it.Expr.(*sql.ColumnRef); ok && cr.Name == "*" {
			found := false
			for _, c := range srcCols {
				if c.qualifier == cr.Table {
					exprs = append(exprs, &sql.ColumnRef{Table: c.qualifier, Name: c.name})
					outCols = append(outCols, ResultColumn{Name: c.name, Type: c.typ})
					found = true
				}
			}
			if !found {
				return nil, nil, fmt.Errorf("relation %q does not exist in FROM clause", cr.Table)
			}
			continue
		}
		exprs = append(exprs, it.Expr)
		outCols = append(outCols, ResultColumn{Name: itemName(it, srcCols), Type: itemType(it.Expr, srcCols)})
	}
	return exprs, outCols, nil
}

func itemName(it sql.SelectItem, srcCols []colBinding) string {
	if it.Alias != "" {
		return it.Alias
	}
	switch x := it.Expr.(type) {
	case *sql.ColumnRef:
		return x.Name
	case *sql.FuncCall:
		return strings.ToLower(x.Name)
	}
	return "?column?"
}

func itemType(expr sql.Expr, srcCols []colBinding) sql.DataType {
	switch x := expr.(type) {
	case *sql.ColumnRef:
		for _, c := range srcCols {
			if c.name == x.Name && (x.Table == "" || c.qualifier == x.Table) {
				return c.typ
			}
		}
	case *sql.Literal:
		return literalType(x.Val)
	case *sql.CastExpr:
		return x.Type
	case *sql.FuncCall:
		switch x.Name {
		case "COUNT", "SUM", "ROW_NUMBER", "RANK", "DENSE_RANK", "LENGTH", "ABS", "PG_TABLE_SIZE", "PG_DATABASE_SIZE":
			return sql.DataType{Name: sql.TypeInteger}
		case "AVG":
			return sql.DataType{Name: sql.TypeNumeric}
		case "NOW", "CURRENT_TIMESTAMP":
			return sql.DataType{Name: sql.TypeTimestampTz}
		}
	}
	return sql.DataType{Name: sql.TypeText}
}

func literalType(v sql.Value) sql.DataType {
	switch v.Kind {
	case sql.KindInt, sql.KindSmallInt:
		return sql.DataType{Name: sql.TypeInteger}
	case sql.KindNumeric:
		return sql.DataType{Name: sql.TypeNumeric}
	case sql.KindReal:
		return sql.DataType{Name: sql.TypeReal}
	case sql.KindBool:
		return sql.DataType{Name: sql.TypeBoolean}
	}
	return sql.DataType{Name: sql.TypeText}
}

// ---- aggregation ----

func (e *Executor) runAggregate(sess *Session, stmt *sql.SelectStmt, srcRows []*rowScope, srcCols []colBinding) ([]resultRow, []ResultColumn, error) {
	type group struct {
		rep  *rowScope
		rows []*rowScope
	}
	var order []string
	groups := map[string]*group{}

	for _, sc := range srcRows {
		var key string
		if len(stmt.GroupBy) > 0 {
			parts := make([]sql.Value, len(stmt.GroupBy))
			for i, g := range stmt.GroupBy {
				v, err := e.eval(sess, sc, g)
				if err != nil {
					return nil, nil, err
				}
				parts[i] = v
			}
			key = index.EncodeKey(parts)
		}
		g, ok := groups[key]
		if !ok {
			g = &group{rep: sc}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, sc)
	}
	// aggregates without GROUP BY see one group even over zero rows
	if len(stmt.GroupBy) == 0 && len(groups) == 0 {
		empty := &rowScope{cols: srcCols, vals: nullRow(len(srcCols))}
		groups[""] = &group{rep: empty}
		order = append(order, "")
	}

	items, outCols, err := expandItems(stmt.Items, srcCols)
	if err != nil {
		return nil, nil, err
	}

	var results []resultRow
	for _, key := range order {
		g := groups[key]
		if stmt.Having != nil {
			hv, err := e.evalAggregate(sess, g.rows, g.rep, stmt.Having)
			if err != nil {
				return nil, nil, err
			}
			if hv.Kind != sql.KindBool || !hv.B {
				continue
			}
		}
		vals := make([]sql.Value, len(items))
		for i, it := range items {
			v, err := e.evalAggregate(sess, g.rows, g.rep, it)
			if err != nil {
				return nil, nil, err
			}
			vals[i] = v
		}
		results = append(results, resultRow{scope: g.rep, out: vals})
	}
	return results, outCols, nil
}

func nullRow(n int) []sql.Value {
	out := make([]sql.Value, n)
	for i := range out {
		out[i] = sql.Null()
	}
	return out
}

// evalAggregate evaluates an expression that may contain aggregate
// calls over a group. Non-aggregate subtrees evaluate against the
// group's representative row.
func (e *Executor) evalAggregate(sess *Session, group []*rowScope, rep *rowScope, expr sql.Expr) (sql.Value, error) {
	if !containsAggregate(expr) {
		return e.eval(sess, rep, expr)
	}
	switch x := expr.(type) {
	case *sql.FuncCall:
		return e.computeAggregate(sess, group, x)
	case *sql.BinaryExpr:
		l, err := e.evalAggregate(sess, group, rep, x.L)
		if err != nil {
			return sql.Value{}, err
		}
		r, err := e.evalAggregate(sess, group, rep, x.R)
		if err != nil {
			return sql.Value{}, err
		}
		return e.evalBinary(sess, rep, &sql.BinaryExpr{Op: x.Op, L: &sql.Literal{Val: l}, R: &sql.Literal{Val: r}})
	case *sql.NotExpr:
		v, err := e.evalAggregate(sess, group, rep, x.E)
		if err != nil {
			return sql.Value{}, err
		}
		return e.eval(sess, rep, &sql.NotExpr{E: &sql.Literal{Val: v}})
	case *sql.CaseExpr:
		for _, w := range x.Whens {
			c, err := e.evalAggregate(sess, group, rep, w.Cond)
			if err != nil {
				return sql.Value{}, err
			}
			if c.Kind == sql.KindBool && c.B {
				return e.evalAggregate(sess, group, rep, w.Then)
			}
		}
		if x.Else != nil {
			return e.evalAggregate(sess, group, rep, x.Else)
		}
		return sql.Null(), nil
	}
	return sql.Value{}, fmt.Errorf("aggregate calls cannot be nested in %T", expr)
}

func (e *Executor) computeAggregate(sess *Session, group []*rowScope, fc *sql.FuncCall) (sql.Value, error) {
	if fc.Star {
		if fc.Name != "COUNT" {
			return sql.Value{}, fmt.Errorf("%s(*) is not a valid aggregate", fc.Name)
		}
		return sql.NewInt(int64(len(group))), nil
	}
	if len(fc.Args) != 1 {
		return sql.Value{}, fmt.Errorf("aggregate %s requires one argument", fc.Name)
	}

	var vals []sql.Value
	for _, sc := range group {
		v, err := e.eval(sess, sc, fc.Args[0])
		if err != nil {
			return sql.Value{}, err
		}
		if !v.IsNull() {
			vals = append(vals, v)
		}
	}

	switch fc.Name {
	case "COUNT":
		return sql.NewInt(int64(len(vals))), nil
	case "SUM", "AVG":
		if len(vals) == 0 {
			return sql.Null(), nil
		}
		sum := decimal.Zero
		allInt := true
		for _, v := range vals {
			d, ok := v.AsDecimal()
			if !ok {
				return sql.Value{}, fmt.Errorf("aggregate %s requires numeric input", fc.Name)
			}
			if !isIntKind(v.Kind) {
				allInt = false
			}
			sum = sum.Add(d)
		}
		if fc.Name == "AVG" {
			return sql.NewNumeric(sum.DivRound(decimal.NewFromInt(int64(len(vals))), 16)), nil
		}
		if allInt {
			return sql.NewInt(sum.IntPart()), nil
		}
		return sql.NewNumeric(sum), nil
	case "MIN", "MAX":
		if len(vals) == 0 {
			return sql.Null(), nil
		}
		best := vals[0]
		for _, v := range vals[1:] {
			c, err := v.Compare(best)
			if err != nil {
				return sql.Value{}, err
			}
			if (fc.Name == "MIN" && c < 0) || (fc.Name == "MAX" && c > 0) {
				best = v
			}
		}
		return best, nil
	}
	return sql.Value{}, fmt.Errorf("unknown aggregate %s", fc.Name)
}

func containsAggregate(expr sql.Expr) bool {
	found := false
	walkExpr(expr, func(x sql.Expr) {
		if fc, ok := x.(*sql.FuncCall); ok && fc.Over == nil && isAggregate(fc.Name) {
			found = true
		}
	})
	return found
}

func containsWindow(expr sql.Expr) bool {
	found := false
	walkExpr(expr, func(x sql.Expr) {
		if fc, ok := x.(*sql.FuncCall); ok && fc.Over != nil {
			found = true
		}
	})
	return found
}

// walkExpr visits every node of an expression tree, skipping subquery
// bodies (their aggregates belong to the inner query).
func walkExpr(expr sql.Expr, fn func(sql.Expr)) {
	if expr == nil {
		return
	}
	fn(expr)
	switch x := expr.(type) {
	case *sql.BinaryExpr:
		walkExpr(x.L, fn)
		walkExpr(x.R, fn)
	case *sql.NotExpr:
		walkExpr(x.E, fn)
	case *sql.BetweenExpr:
		walkExpr(x.E, fn)
		walkExpr(x.Low, fn)
		walkExpr(x.High, fn)
	case *sql.LikeExpr:
		walkExpr(x.E, fn)
		walkExpr(x.Pattern, fn)
	case *sql.InListExpr:
		walkExpr(x.E, fn)
		for _, le := range x.List {
			walkExpr(le, fn)
		}
	case *sql.InSubqueryExpr:
		walkExpr(x.E, fn)
	case *sql.IsNullExpr:
		walkExpr(x.E, fn)
	case *sql.CaseExpr:
		for _, w := range x.Whens {
			walkExpr(w.Cond, fn)
			walkExpr(w.Then, fn)
		}
		walkExpr(x.Else, fn)
	case *sql.CastExpr:
		walkExpr(x.E, fn)
	case *sql.FuncCall:
		for _, a := range x.Args {
			walkExpr(a, fn)
		}
	}
}

// ---- ordering, distinct, limit ----

func (e *Executor) orderResults(sess *Session, results []resultRow, outCols []ResultColumn, keys []sql.OrderKey) error {
	if len(keys) == 0 {
		return nil
	}
	type sortKey struct {
		vals []sql.Value
	}
	sks := make([]sortKey, len(results))
	for i, r := range results {
		vals := make([]sql.Value, len(keys))
		for k, key := range keys {
			v, err := e.orderKeyValue(sess, r, outCols, key.Expr)
			if err != nil {
				return err
			}
			vals[k] = v
		}
		sks[i] = sortKey{vals: vals}
	}
	idx := make([]int, len(results))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for k, key := range keys {
			va, vb := sks[idx[a]].vals[k], sks[idx[b]].vals[k]
			c := compareNullable(va, vb)
			if c == 0 {
				continue
			}
			if key.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	sorted := make([]resultRow, len(results))
	for i, j := range idx {
		sorted[i] = results[j]
	}
	copy(results, sorted)
	return nil
}

// compareNullable sorts NULLs last ascending, matching Postgres.
func compareNullable(a, b sql.Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return 1
	}
	if b.IsNull() {
		return -1
	}
	c, err := a.Compare(b)
	if err != nil {
		// mixed-type keys fall back to their encoded order
		return strings.Compare(a.SortKey(), b.SortKey())
	}
	return c
}

// orderKeyValue resolves an ORDER BY expression: output alias or
// position first, then the source scope.
func (e *Executor) orderKeyValue(sess *Session, r resultRow, outCols []ResultColumn, expr sql.Expr) (sql.Value, error) {
	if lit, ok := expr.(*sql.Literal); ok && lit.Val.Kind == sql.KindInt {
		n := int(lit.Val.I)
		if n < 1 || n > len(r.out) {
			return sql.Value{}, fmt.Errorf("ORDER BY position %d is not in select list", n)
		}
		return r.out[n-1], nil
	}
	if cr, ok := expr.(*sql.ColumnRef); ok && cr.Table == "" {
		for i, c := range outCols {
			if c.Name == cr.Name && i < len(r.out) {
				return r.out[i], nil
			}
		}
	}
	if r.scope == nil {
		return sql.Value{}, fmt.Errorf("ORDER BY expression must name an output column")
	}
	return e.eval(sess, r.scope, expr)
}

func distinctRows(results []resultRow) []resultRow {
	seen := map[string]bool{}
	out := results[:0]
	for _, r := range results {
		k := rowKey(r.out)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func dedupeValueRows(rows [][]sql.Value) [][]sql.Value {
	seen := map[string]bool{}
	var out [][]sql.Value
	for _, r := range rows {
		k := rowKey(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func valueRowSet(rows [][]sql.Value) map[string]bool {
	set := make(map[string]bool, len(rows))
	for _, r := range rows {
		set[rowKey(r)] = true
	}
	return set
}

func rowKey(vals []sql.Value) string {
	return index.EncodeKey(vals)
}

func sliceWindow(results []resultRow, offset, limit int) []resultRow {
	if offset > 0 {
		if offset >= len(results) {
			return nil
		}
		results = results[offset:]
	}
	if limit >= 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}
