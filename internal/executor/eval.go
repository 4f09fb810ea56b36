package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tuannm99/novapg/internal/sql"
)

var (
	ErrUnknownColumn   = errors.New("column does not exist")
	ErrAmbiguousColumn = errors.New("column reference is ambiguous")
	ErrDivisionByZero  = errors.New("division by zero")
)

// colBinding names one slot of a row scope. Qualifier is the table
// alias (or table name when no alias was given).
type colBinding struct {
	qualifier string
	name      string
	typ       sql.DataType
}

// rowScope is the environment expressions evaluate in. outer links to
// the enclosing query's scope for correlated subqueries.
type rowScope struct {
	outer *rowScope
	cols  []colBinding
	vals  []sql.Value
}

// lookup resolves a column reference, walking outward through
// enclosing scopes. Unqualified names must be unambiguous within one
// scope level.
func (s *rowScope) lookup(table, name string) (sql.Value, sql.DataType, error) {
	for sc := s; sc != nil; sc = sc.outer {
		found := -1
		for i, c := range sc.cols {
			if c.name != name {
				continue
			}
			if table != "" && c.qualifier != table {
				continue
			}
			if found >= 0 {
				return sql.Value{}, sql.DataType{}, fmt.Errorf("%w: %s", ErrAmbiguousColumn, name)
			}
			found = i
		}
		if found >= 0 {
			return sc.vals[found], sc.cols[found].typ, nil
		}
	}
	if table != "" {
		return sql.Value{}, sql.DataType{}, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, name)
	}
	return sql.Value{}, sql.DataType{}, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
}

// eval evaluates a scalar expression against one row.
func (e *Executor) eval(sess *Session, scope *rowScope, expr sql.Expr) (sql.Value, error) {
	switch x := expr.(type) {
	case *sql.Literal:
		return x.Val, nil

	case *sql.ColumnRef:
		v, _, err := scope.lookup(x.Table, x.Name)
		return v, err

	case *sql.BinaryExpr:
		return e.evalBinary(sess, scope, x)

	case *sql.NotExpr:
		v, err := e.eval(sess, scope, x.E)
		if err != nil {
			return sql.Value{}, err
		}
		if v.IsNull() {
			return sql.Null(), nil
		}
		if v.Kind != sql.KindBool {
			return sql.Value{}, fmt.Errorf("argument of NOT must be boolean")
		}
		return sql.NewBool(!v.B), nil

	case *sql.IsNullExpr:
		v, err := e.eval(sess, scope, x.E)
		if err != nil {
			return sql.Value{}, err
		}
		return sql.NewBool(v.IsNull() != x.Negate), nil

	case *sql.BetweenExpr:
		v, err := e.eval(sess, scope, x.E)
		if err != nil {
			return sql.Value{}, err
		}
		lo, err := e.eval(sess, scope, x.Low)
		if err != nil {
			return sql.Value{}, err
		}
		hi, err := e.eval(sess, scope, x.High)
		if err != nil {
			return sql.Value{}, err
		}
		if v.IsNull() || lo.IsNull() || hi.IsNull() {
			return sql.Null(), nil
		}
		cl, err := v.Compare(lo)
		if err != nil {
			return sql.Value{}, err
		}
		ch, err := v.Compare(hi)
		if err != nil {
			return sql.Value{}, err
		}
		in := cl >= 0 && ch <= 0
		return sql.NewBool(in != x.Negate), nil

	case *sql.LikeExpr:
		v, err := e.eval(sess, scope, x.E)
		if err != nil {
			return sql.Value{}, err
		}
		pat, err := e.eval(sess, scope, x.Pattern)
		if err != nil {
			return sql.Value{}, err
		}
		if v.IsNull() || pat.IsNull() {
			return sql.Null(), nil
		}
		m := likeMatch(v.String(), pat.String())
		return sql.NewBool(m != x.Negate), nil

	case *sql.InListExpr:
		v, err := e.eval(sess, scope, x.E)
		if err != nil {
			return sql.Value{}, err
		}
		if v.IsNull() {
			return sql.Null(), nil
		}
		sawNull := false
		for _, le := range x.List {
			lv, err := e.eval(sess, scope, le)
			if err != nil {
				return sql.Value{}, err
			}
			if lv.IsNull() {
				sawNull = true
				continue
			}
			if v.Equal(lv) {
				return sql.NewBool(!x.Negate), nil
			}
		}
		if sawNull {
			return sql.Null(), nil
		}
		return sql.NewBool(x.Negate), nil

	case *sql.InSubqueryExpr:
		v, err := e.eval(sess, scope, x.E)
		if err != nil {
			return sql.Value{}, err
		}
		rows, _, err := e.subqueryRows(sess, scope, x.Query)
		if err != nil {
			return sql.Value{}, err
		}
		if v.IsNull() {
			return sql.Null(), nil
		}
		sawNull := false
		for _, r := range rows {
			if len(r) != 1 {
				return sql.Value{}, fmt.Errorf("subquery must return one column")
			}
			if r[0].IsNull() {
				sawNull = true
				continue
			}
			if v.Equal(r[0]) {
				return sql.NewBool(!x.Negate), nil
			}
		}
		if sawNull {
			return sql.Null(), nil
		}
		return sql.NewBool(x.Negate), nil

	case *sql.ExistsExpr:
		rows, _, err := e.subqueryRows(sess, scope, x.Query)
		if err != nil {
			return sql.Value{}, err
		}
		return sql.NewBool((len(rows) > 0) != x.Negate), nil

	case *sql.ScalarSubquery:
		rows, _, err := e.subqueryRows(sess, scope, x.Query)
		if err != nil {
			return sql.Value{}, err
		}
		if len(rows) == 0 {
			return sql.Null(), nil
		}
		if len(rows) > 1 {
			return sql.Value{}, fmt.Errorf("more than one row returned by a subquery used as an expression")
		}
		if len(rows[0]) != 1 {
			return sql.Value{}, fmt.Errorf("subquery must return one column")
		}
		return rows[0][0], nil

	case *sql.CaseExpr:
		for _, w := range x.Whens {
			c, err := e.eval(sess, scope, w.Cond)
			if err != nil {
				return sql.Value{}, err
			}
			if c.Kind == sql.KindBool && c.B {
				return e.eval(sess, scope, w.Then)
			}
		}
		if x.Else != nil {
			return e.eval(sess, scope, x.Else)
		}
		return sql.Null(), nil

	case *sql.CastExpr:
		v, err := e.eval(sess, scope, x.E)
		if err != nil {
			return sql.Value{}, err
		}
		return sql.Coerce(x.Type, v, e.db.Catalog().Enums())

	case *sql.FuncCall:
		if x.Over != nil {
			return sql.Value{}, fmt.Errorf("window function %s requires an OVER context", x.Name)
		}
		if isAggregate(x.Name) {
			return sql.Value{}, fmt.Errorf("aggregate function %s not allowed here", x.Name)
		}
		return e.evalScalarFunc(sess, scope, x)
	}
	return sql.Value{}, fmt.Errorf("executor: unsupported expression %T", expr)
}

// evalBool evaluates a predicate; NULL counts as false.
func (e *Executor) evalBool(sess *Session, scope *rowScope, expr sql.Expr) (bool, error) {
	if expr == nil {
		return true, nil
	}
	v, err := e.eval(sess, scope, expr)
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, nil
	}
	if v.Kind != sql.KindBool {
		return false, fmt.Errorf("argument of WHERE must be boolean, not %s", v.String())
	}
	return v.B, nil
}

func (e *Executor) evalBinary(sess *Session, scope *rowScope, x *sql.BinaryExpr) (sql.Value, error) {
	// AND/OR with three-valued logic and short-circuit
	if x.Op == sql.OpAnd || x.Op == sql.OpOr {
		l, err := e.eval(sess, scope, x.L)
		if err != nil {
			return sql.Value{}, err
		}
		if x.Op == sql.OpAnd && l.Kind == sql.KindBool && !l.B {
			return sql.NewBool(false), nil
		}
		if x.Op == sql.OpOr && l.Kind == sql.KindBool && l.B {
			return sql.NewBool(true), nil
		}
		r, err := e.eval(sess, scope, x.R)
		if err != nil {
			return sql.Value{}, err
		}
		if l.IsNull() || r.IsNull() {
			// AND: false∧null=false handled above; true∧null=null
			// OR: true∨null=true handled above; false∨null=null
			if x.Op == sql.OpAnd && r.Kind == sql.KindBool && !r.B {
				return sql.NewBool(false), nil
			}
			if x.Op == sql.OpOr && r.Kind == sql.KindBool && r.B {
				return sql.NewBool(true), nil
			}
			return sql.Null(), nil
		}
		if l.Kind != sql.KindBool || r.Kind != sql.KindBool {
			return sql.Value{}, fmt.Errorf("argument of %s must be boolean", x.Op)
		}
		if x.Op == sql.OpAnd {
			return sql.NewBool(l.B && r.B), nil
		}
		return sql.NewBool(l.B || r.B), nil
	}

	l, err := e.eval(sess, scope, x.L)
	if err != nil {
		return sql.Value{}, err
	}
	r, err := e.eval(sess, scope, x.R)
	if err != nil {
		return sql.Value{}, err
	}
	if l.IsNull() || r.IsNull() {
		return sql.Null(), nil
	}

	switch x.Op {
	case sql.OpEq:
		return sql.NewBool(l.Equal(r)), nil
	case sql.OpNe:
		return sql.NewBool(!l.Equal(r)), nil
	case sql.OpLt, sql.OpLe, sql.OpGt, sql.OpGe:
		c, err := l.Compare(r)
		if err != nil {
			return sql.Value{}, err
		}
		switch x.Op {
		case sql.OpLt:
			return sql.NewBool(c < 0), nil
		case sql.OpLe:
			return sql.NewBool(c <= 0), nil
		case sql.OpGt:
			return sql.NewBool(c > 0), nil
		default:
			return sql.NewBool(c >= 0), nil
		}
	case sql.OpAdd, sql.OpSub, sql.OpMul, sql.OpDiv:
		return arith(x.Op, l, r)
	}
	return sql.Value{}, fmt.Errorf("executor: unsupported operator %s", x.Op)
}

// arith lifts both operands to decimal; pure integer inputs come back
// as integers except for division.
func arith(op sql.BinaryOp, l, r sql.Value) (sql.Value, error) {
	ld, lok := l.AsDecimal()
	rd, rok := r.AsDecimal()
	if !lok || !rok {
		return sql.Value{}, fmt.Errorf("operator %s requires numeric operands", op)
	}
	var out decimal.Decimal
	switch op {
	case sql.OpAdd:
		out = ld.Add(rd)
	case sql.OpSub:
		out = ld.Sub(rd)
	case sql.OpMul:
		out = ld.Mul(rd)
	case sql.OpDiv:
		if rd.IsZero() {
			return sql.Value{}, ErrDivisionByZero
		}
		out = ld.DivRound(rd, 16)
	}
	intIn := isIntKind(l.Kind) && isIntKind(r.Kind)
	if intIn && op != sql.OpDiv && out.IsInteger() {
		return sql.NewInt(out.IntPart()), nil
	}
	if intIn && op == sql.OpDiv {
		// integer division truncates
		return sql.NewInt(ld.Div(rd).Truncate(0).IntPart()), nil
	}
	if l.Kind == sql.KindReal || r.Kind == sql.KindReal {
		f, _ := out.Float64()
		return sql.NewReal(f), nil
	}
	return sql.NewNumeric(out), nil
}

func isIntKind(k sql.Kind) bool {
	return k == sql.KindSmallInt || k == sql.KindInt
}

// likeMatch implements SQL LIKE: % matches any run, _ one character.
func likeMatch(s, pattern string) bool {
	return likeRec([]rune(s), []rune(pattern))
}

func likeRec(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeRec(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		return len(s) > 0 && likeRec(s[1:], p[1:])
	default:
		return len(s) > 0 && s[0] == p[0] && likeRec(s[1:], p[1:])
	}
}

// evalScalarFunc covers scalar and system information functions.
func (e *Executor) evalScalarFunc(sess *Session, scope *rowScope, fc *sql.FuncCall) (sql.Value, error) {
	args := make([]sql.Value, len(fc.Args))
	for i, a := range fc.Args {
		v, err := e.eval(sess, scope, a)
		if err != nil {
			return sql.Value{}, err
		}
		args[i] = v
	}
	switch fc.Name {
	case "UPPER", "LOWER":
		if len(args) != 1 {
			return sql.Value{}, fmt.Errorf("%s requires one argument", fc.Name)
		}
		if args[0].IsNull() {
			return sql.Null(), nil
		}
		if fc.Name == "UPPER" {
			return sql.NewText(strings.ToUpper(args[0].String())), nil
		}
		return sql.NewText(strings.ToLower(args[0].String())), nil
	case "LENGTH":
		if len(args) != 1 {
			return sql.Value{}, fmt.Errorf("LENGTH requires one argument")
		}
		if args[0].IsNull() {
			return sql.Null(), nil
		}
		return sql.NewInt(int64(len([]rune(args[0].String())))), nil
	case "ABS":
		if len(args) != 1 {
			return sql.Value{}, fmt.Errorf("ABS requires one argument")
		}
		if args[0].IsNull() {
			return sql.Null(), nil
		}
		d, ok := args[0].AsDecimal()
		if !ok {
			return sql.Value{}, fmt.Errorf("ABS requires a numeric argument")
		}
		if isIntKind(args[0].Kind) {
			return sql.NewInt(d.Abs().IntPart()), nil
		}
		return sql.NewNumeric(d.Abs()), nil
	case "COALESCE":
		for _, a := range args {
			if !a.IsNull() {
				return a, nil
			}
		}
		return sql.Null(), nil
	case "NOW", "CURRENT_TIMESTAMP":
		return sql.NewTimestampTz(time.Now()), nil
	case "VERSION":
		return sql.NewText(versionString), nil
	case "CURRENT_DATABASE":
		return sql.NewText(sess.Database), nil
	case "CURRENT_USER":
		return sql.NewText(sess.User), nil
	case "PG_TABLE_SIZE":
		if len(args) != 1 || args[0].IsNull() {
			return sql.Value{}, fmt.Errorf("pg_table_size requires a table name")
		}
		n, err := e.db.TableDiskSize(args[0].String())
		if err != nil {
			return sql.Value{}, err
		}
		return sql.NewInt(n), nil
	case "PG_DATABASE_SIZE":
		n, err := e.db.DatabaseSize()
		if err != nil {
			return sql.Value{}, err
		}
		return sql.NewInt(n), nil
	}
	return sql.Value{}, fmt.Errorf("function %s does not exist", strings.ToLower(fc.Name))
}

func isAggregate(name string) bool {
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	}
	return false
}

func isWindowFunc(name string) bool {
	switch name {
	case "ROW_NUMBER", "RANK", "DENSE_RANK", "LAG", "LEAD":
		return true
	}
	return false
}

const versionString = "novapg 0.1.0 on x86_64-pc-linux-gnu (protocol 3.0)"
