package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tuannm99/novapg/internal/index"
	"github.com/tuannm99/novapg/internal/sql"
)

// runWindowed projects items that contain window function calls. Each
// distinct call is computed once over the filtered row set, then item
// expressions are evaluated with the per-row results substituted in.
func (e *Executor) runWindowed(sess *Session, stmt *sql.SelectStmt, srcRows []*rowScope, srcCols []colBinding) ([]resultRow, []ResultColumn, error) {
	items, outCols, err := expandItems(stmt.Items, srcCols)
	if err != nil {
		return nil, nil, err
	}

	computed := map[*sql.FuncCall][]sql.Value{}
	for _, it := range items {
		var calls []*sql.FuncCall
		walkExpr(it, func(x sql.Expr) {
			if fc, ok := x.(*sql.FuncCall); ok && fc.Over != nil {
				calls = append(calls, fc)
			}
		})
		for _, fc := range calls {
			if _, done := computed[fc]; done {
				continue
			}
			vals, err := e.computeWindow(sess, srcRows, fc)
			if err != nil {
				return nil, nil, err
			}
			computed[fc] = vals
		}
	}

	results := make([]resultRow, 0, len(srcRows))
	for ri, sc := range srcRows {
		vals := make([]sql.Value, len(items))
		for i, it := range items {
			v, err := e.evalWithWindows(sess, sc, it, computed, ri)
			if err != nil {
				return nil, nil, err
			}
			vals[i] = v
		}
		results = append(results, resultRow{scope: sc, out: vals})
	}
	return results, outCols, nil
}

// evalWithWindows evaluates an expression replacing window calls with
// their precomputed per-row value.
func (e *Executor) evalWithWindows(sess *Session, scope *rowScope, expr sql.Expr, computed map[*sql.FuncCall][]sql.Value, rowIdx int) (sql.Value, error) {
	if fc, ok := expr.(*sql.FuncCall); ok && fc.Over != nil {
		return computed[fc][rowIdx], nil
	}
	if !containsWindow(expr) {
		return e.eval(sess, scope, expr)
	}
	if be, ok := expr.(*sql.BinaryExpr); ok {
		l, err := e.evalWithWindows(sess, scope, be.L, computed, rowIdx)
		if err != nil {
			return sql.Value{}, err
		}
		r, err := e.evalWithWindows(sess, scope, be.R, computed, rowIdx)
		if err != nil {
			return sql.Value{}, err
		}
		return e.evalBinary(sess, scope, &sql.BinaryExpr{Op: be.Op, L: &sql.Literal{Val: l}, R: &sql.Literal{Val: r}})
	}
	return sql.Value{}, fmt.Errorf("window function calls cannot be nested in %T", expr)
}

func (e *Executor) computeWindow(sess *Session, rows []*rowScope, fc *sql.FuncCall) ([]sql.Value, error) {
	if !isWindowFunc(fc.Name) && !isAggregate(fc.Name) {
		return nil, fmt.Errorf("function %s cannot be used as a window function", strings.ToLower(fc.Name))
	}
	spec := fc.Over

	// partition the row indexes
	partitions := map[string][]int{}
	var partOrder []string
	for i, sc := range rows {
		var key string
		if len(spec.PartitionBy) > 0 {
			parts := make([]sql.Value, len(spec.PartitionBy))
			for k, pe := range spec.PartitionBy {
				v, err := e.eval(sess, sc, pe)
				if err != nil {
					return nil, err
				}
				parts[k] = v
			}
			key = index.EncodeKey(parts)
		}
		if _, ok := partitions[key]; !ok {
			partOrder = append(partOrder, key)
		}
		partitions[key] = append(partitions[key], i)
	}

	out := make([]sql.Value, len(rows))
	for _, key := range partOrder {
		idxs := partitions[key]

		// order within the partition
		orderVals := make([][]sql.Value, len(idxs))
		for pi, ri := range idxs {
			vals := make([]sql.Value, len(spec.OrderBy))
			for k, ok := range spec.OrderBy {
				v, err := e.eval(sess, rows[ri], ok.Expr)
				if err != nil {
					return nil, err
				}
				vals[k] = v
			}
			orderVals[pi] = vals
		}
		pos := make([]int, len(idxs))
		for i := range pos {
			pos[i] = i
		}
		sort.SliceStable(pos, func(a, b int) bool {
			for k, okey := range spec.OrderBy {
				c := compareNullable(orderVals[pos[a]][k], orderVals[pos[b]][k])
				if c == 0 {
					continue
				}
				if okey.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})

		sameOrderKey := func(a, b int) bool {
			for k := range spec.OrderBy {
				if compareNullable(orderVals[a][k], orderVals[b][k]) != 0 {
					return false
				}
			}
			return true
		}

		switch fc.Name {
		case "ROW_NUMBER":
			for n, pi := range pos {
				out[idxs[pi]] = sql.NewInt(int64(n + 1))
			}
		case "RANK":
			rank := 1
			for n, pi := range pos {
				if n > 0 && !sameOrderKey(pi, pos[n-1]) {
					rank = n + 1
				}
				out[idxs[pi]] = sql.NewInt(int64(rank))
			}
		case "DENSE_RANK":
			rank := 1
			for n, pi := range pos {
				if n > 0 && !sameOrderKey(pi, pos[n-1]) {
					rank++
				}
				out[idxs[pi]] = sql.NewInt(int64(rank))
			}
		case "LAG", "LEAD":
			if len(fc.Args) < 1 || len(fc.Args) > 3 {
				return nil, fmt.Errorf("%s takes one to three arguments", fc.Name)
			}
			offset := int64(1)
			if len(fc.Args) >= 2 {
				lit, ok := fc.Args[1].(*sql.Literal)
				if !ok {
					return nil, fmt.Errorf("%s offset must be a constant", fc.Name)
				}
				o, ok := lit.Val.AsInt()
				if !ok {
					return nil, fmt.Errorf("%s offset must be an integer", fc.Name)
				}
				offset = o
			}
			for n, pi := range pos {
				src := n - int(offset)
				if fc.Name == "LEAD" {
					src = n + int(offset)
				}
				if src >= 0 && src < len(pos) {
					v, err := e.eval(sess, rows[idxs[pos[src]]], fc.Args[0])
					if err != nil {
						return nil, err
					}
					out[idxs[pi]] = v
				} else if len(fc.Args) == 3 {
					v, err := e.eval(sess, rows[idxs[pi]], fc.Args[2])
					if err != nil {
						return nil, err
					}
					out[idxs[pi]] = v
				} else {
					out[idxs[pi]] = sql.Null()
				}
			}
		case "COUNT", "SUM", "AVG", "MIN", "MAX":
			// aggregate over the whole partition, same value per row
			group := make([]*rowScope, len(idxs))
			for i, ri := range idxs {
				group[i] = rows[ri]
			}
			v, err := e.computeAggregate(sess, group, fc)
			if err != nil {
				return nil, err
			}
			for _, ri := range idxs {
				out[ri] = v
			}
		default:
			return nil, fmt.Errorf("unknown window function %s", strings.ToLower(fc.Name))
		}
	}
	return out, nil
}
