package executor

import (
	"fmt"
	"strings"

	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/sql"
)

// execExplain renders the access plan the query pipeline would take,
// without running it.
func (e *Executor) execExplain(sess *Session, stmt *sql.ExplainStmt) (*Result, error) {
	lines := e.planLines(sess, stmt.Query, 0)
	res := &Result{
		Columns: []ResultColumn{{Name: "QUERY PLAN", Type: sql.DataType{Name: sql.TypeText}}},
		Tag:     "EXPLAIN",
	}
	for _, l := range lines {
		res.Rows = append(res.Rows, []sql.Value{sql.NewText(l)})
	}
	return res, nil
}

func (e *Executor) planLines(sess *Session, q *sql.SelectStmt, depth int) []string {
	var lines []string
	pad := strings.Repeat("  ", depth)
	arrow := pad
	if depth > 0 {
		arrow = pad + "->  "
	}
	emit := func(s string) {
		lines = append(lines, arrow+s)
		arrow = pad + "      " // details indent under the node
		if depth == 0 {
			arrow = pad + "  "
		}
	}
	child := depth + 1

	if q.SetOp != nil {
		emit(setOpName(q.SetOp.Kind))
		left := *q
		left.SetOp = nil
		lines = append(lines, e.planLines(sess, &left, child)...)
		lines = append(lines, e.planLines(sess, q.SetOp.Right, child)...)
		return lines
	}

	if q.Limit >= 0 || q.Offset >= 0 {
		emit("Limit")
		inner := *q
		inner.Limit, inner.Offset = -1, -1
		return append(lines, e.planLines(sess, &inner, child)...)
	}
	if len(q.OrderBy) > 0 {
		emit("Sort")
		keys := make([]string, len(q.OrderBy))
		for i, k := range q.OrderBy {
			keys[i] = exprString(k.Expr)
			if k.Desc {
				keys[i] += " DESC"
			}
		}
		lines = append(lines, pad+"      Sort Key: "+strings.Join(keys, ", "))
		inner := *q
		inner.OrderBy = nil
		return append(lines, e.planLines(sess, &inner, child)...)
	}

	hasAgg := q.GroupBy != nil || q.Having != nil
	for _, it := range q.Items {
		if it.Expr != nil && containsAggregate(it.Expr) {
			hasAgg = true
		}
	}
	if hasAgg {
		emit("HashAggregate")
		if len(q.GroupBy) > 0 {
			keys := make([]string, len(q.GroupBy))
			for i, g := range q.GroupBy {
				keys[i] = exprString(g)
			}
			lines = append(lines, pad+"      Group Key: "+strings.Join(keys, ", "))
		}
		if q.Having != nil {
			lines = append(lines, pad+"      Filter: "+exprString(q.Having))
		}
		inner := *q
		inner.GroupBy, inner.Having = nil, nil
		inner.Items = []sql.SelectItem{{Star: true}}
		return append(lines, e.planLines(sess, &inner, child)...)
	}

	if len(q.Joins) > 0 {
		join := q.Joins[len(q.Joins)-1]
		name := "Nested Loop"
		switch join.Kind {
		case sql.JoinLeft:
			name = "Nested Loop Left Join"
		case sql.JoinRight:
			name = "Nested Loop Right Join"
		}
		emit(name)
		if join.On != nil {
			lines = append(lines, pad+"      Join Filter: "+exprString(join.On))
		}
		outerQ := *q
		outerQ.Joins = q.Joins[:len(q.Joins)-1]
		lines = append(lines, e.planLines(sess, &outerQ, child)...)
		lines = append(lines, e.scanLines(sess, join.Table, join.Alias, nil, child)...)
		return lines
	}

	if q.From == "" {
		emit("Result")
		return lines
	}
	return append(lines, e.scanLines(sess, q.From, q.FromAlias, q, depth)...)
}

// scanLines picks the access path line for one base relation.
func (e *Executor) scanLines(sess *Session, table, alias string, q *sql.SelectStmt, depth int) []string {
	pad := strings.Repeat("  ", depth)
	arrow := pad
	if depth > 0 {
		arrow = pad + "->  "
	}
	detail := pad + "      "
	if depth == 0 {
		detail = pad + "  "
	}

	rel := table
	if alias != "" && alias != table {
		rel = table + " " + alias
	}

	var lines []string
	meta, ok := e.db.Catalog().Table(table)
	if ok && q != nil {
		qual := table
		if alias != "" {
			qual = alias
		}
		if plan := e.chooseIndex(sess, nil, meta, qual, q); plan != nil {
			kind, cost := "Index Scan", "O(log n)"
			if plan.eq && plan.idx.IsUnique() {
				kind = "Unique Index Scan"
			}
			if plan.idx.Kind().String() == "hash" {
				kind, cost = "Bitmap Heap Scan", "O(1)"
			}
			lines = append(lines, fmt.Sprintf("%s%s using %s (%s) on %s",
				arrow, kind, plan.idx.Name(), plan.idx.Kind(), rel))
			lines = append(lines, detail+"Index Cond: ("+plan.cond+")")
			if q.Where != nil {
				lines = append(lines, detail+"Filter: "+exprString(q.Where))
			}
			lines = append(lines, fmt.Sprintf("%sEstimated rows: %d", detail, len(plan.fetch())))
			lines = append(lines, detail+"Cost: "+cost)
			return lines
		}
	}
	lines = append(lines, arrow+"Seq Scan on "+rel)
	if q != nil && q.Where != nil {
		lines = append(lines, detail+"Filter: "+exprString(q.Where))
	}
	if ok {
		if tbl, err := e.db.Heap(table); err == nil {
			n := 0
			_ = tbl.Scan(func(_ heap.TID, _ sql.Row) error { n++; return nil })
			lines = append(lines, fmt.Sprintf("%sEstimated rows: %d", detail, n))
		}
		lines = append(lines, detail+"Cost: O(n)")
	}
	return lines
}

// exprString renders an expression the way it would appear in a plan.
func exprString(expr sql.Expr) string {
	switch x := expr.(type) {
	case *sql.Literal:
		if x.Val.Kind == sql.KindText || x.Val.Kind == sql.KindChar {
			return "'" + x.Val.String() + "'"
		}
		return x.Val.String()
	case *sql.ColumnRef:
		if x.Table != "" {
			return x.Table + "." + x.Name
		}
		return x.Name
	case *sql.BinaryExpr:
		return "(" + exprString(x.L) + " " + string(x.Op) + " " + exprString(x.R) + ")"
	case *sql.NotExpr:
		return "NOT " + exprString(x.E)
	case *sql.IsNullExpr:
		if x.Negate {
			return "(" + exprString(x.E) + " IS NOT NULL)"
		}
		return "(" + exprString(x.E) + " IS NULL)"
	case *sql.BetweenExpr:
		op := " BETWEEN "
		if x.Negate {
			op = " NOT BETWEEN "
		}
		return "(" + exprString(x.E) + op + exprString(x.Low) + " AND " + exprString(x.High) + ")"
	case *sql.LikeExpr:
		op := " LIKE "
		if x.Negate {
			op = " NOT LIKE "
		}
		return "(" + exprString(x.E) + op + exprString(x.Pattern) + ")"
	case *sql.InListExpr:
		items := make([]string, len(x.List))
		for i, le := range x.List {
			items[i] = exprString(le)
		}
		op := " IN ("
		if x.Negate {
			op = " NOT IN ("
		}
		return "(" + exprString(x.E) + op + strings.Join(items, ", ") + "))"
	case *sql.InSubqueryExpr:
		return "(" + exprString(x.E) + " IN (SubPlan))"
	case *sql.ExistsExpr:
		return "EXISTS (SubPlan)"
	case *sql.ScalarSubquery:
		return "(SubPlan)"
	case *sql.CaseExpr:
		return "CASE"
	case *sql.CastExpr:
		return "(" + exprString(x.E) + ")::" + x.Type.String()
	case *sql.FuncCall:
		if x.Star {
			return strings.ToLower(x.Name) + "(*)"
		}
		args := make([]string, len(x.Args))
		for i, a := range x.Args {
			args[i] = exprString(a)
		}
		s := strings.ToLower(x.Name) + "(" + strings.Join(args, ", ") + ")"
		if x.Over != nil {
			s += " OVER (?)"
		}
		return s
	}
	return "?"
}
