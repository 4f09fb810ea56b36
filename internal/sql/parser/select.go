package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tuannm99/novapg/internal/sql"
)

func (p *parser) parseSelect() (*sql.SelectStmt, error) {
	if err := p.expectKw("SELECT"); err != nil {
		return nil, err
	}
	stmt := &sql.SelectStmt{Limit: -1, Offset: -1}
	if p.acceptKw("DISTINCT") {
		stmt.Distinct = true
	}
	p.acceptKw("ALL")

	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		stmt.Items = append(stmt.Items, item)
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}

	if p.acceptKw("FROM") {
		name, err := p.tableName()
		if err != nil {
			return nil, err
		}
		stmt.From = name
		if alias, ok := p.tableAlias(); ok {
			stmt.FromAlias = alias
		}
		for {
			join, ok, err := p.parseJoin()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			stmt.Joins = append(stmt.Joins, join)
		}
	}

	var err error
	if p.acceptKw("WHERE") {
		stmt.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if p.acceptKw("GROUP") {
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, e)
			if p.accept(tokSymbol, ",") {
				continue
			}
			break
		}
	}
	if p.acceptKw("HAVING") {
		stmt.Having, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}

	// set operations bind the whole select bodies on both sides;
	// ORDER BY / LIMIT after the right side apply to the combined result
	if op, ok := p.parseSetOpKind(); ok {
		right, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		// ORDER BY/LIMIT parsed into the right arm belong to the
		// combination
		stmt.SetOp = &sql.SetOpClause{Kind: op, Right: right}
		stmt.OrderBy = right.OrderBy
		stmt.Limit = right.Limit
		stmt.Offset = right.Offset
		right.OrderBy = nil
		right.Limit = -1
		right.Offset = -1
		return stmt, nil
	}

	if p.acceptKw("ORDER") {
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			key := sql.OrderKey{Expr: e}
			if p.acceptKw("DESC") {
				key.Desc = true
			} else {
				p.acceptKw("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, key)
			if p.accept(tokSymbol, ",") {
				continue
			}
			break
		}
	}
	if p.acceptKw("LIMIT") {
		n, err := p.intLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = n
	}
	if p.acceptKw("OFFSET") {
		n, err := p.intLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Offset = n
	}
	return stmt, nil
}

func (p *parser) parseSetOpKind() (sql.SetOpKind, bool) {
	switch {
	case p.acceptKw("UNION"):
		if p.acceptKw("ALL") {
			return sql.SetUnionAll, true
		}
		return sql.SetUnion, true
	case p.acceptKw("INTERSECT"):
		return sql.SetIntersect, true
	case p.acceptKw("EXCEPT"):
		return sql.SetExcept, true
	}
	return 0, false
}

func (p *parser) parseSelectItem() (sql.SelectItem, error) {
	if p.accept(tokSymbol, "*") {
		return sql.SelectItem{Star: true}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return sql.SelectItem{}, err
	}
	item := sql.SelectItem{Expr: e}
	if p.acceptKw("AS") {
		alias, err := p.ident()
		if err != nil {
			return sql.SelectItem{}, err
		}
		item.Alias = alias
	} else if p.at(tokIdent, "") {
		alias, _ := p.ident()
		item.Alias = alias
	}
	return item, nil
}

// tableName reads a possibly schema-qualified relation name
// (information_schema.tables); the qualified form is kept as one
// dotted string.
func (p *parser) tableName() (string, error) {
	name, err := p.ident()
	if err != nil {
		return "", err
	}
	// a lone dot after the name qualifies it; `t.*` cannot appear here
	if p.at(tokSymbol, ".") {
		p.pos++
		rest, err := p.ident()
		if err != nil {
			return "", err
		}
		return name + "." + rest, nil
	}
	return name, nil
}

// tableAlias accepts `AS alias` or a bare identifier alias.
func (p *parser) tableAlias() (string, bool) {
	if p.acceptKw("AS") {
		alias, err := p.ident()
		if err != nil {
			return "", false
		}
		return alias, true
	}
	if p.at(tokIdent, "") {
		alias, _ := p.ident()
		return alias, true
	}
	return "", false
}

func (p *parser) parseJoin() (sql.JoinClause, bool, error) {
	var kind sql.JoinKind
	switch {
	case p.acceptKw("JOIN"):
		kind = sql.JoinInner
	case p.acceptKw("INNER"):
		if err := p.expectKw("JOIN"); err != nil {
			return sql.JoinClause{}, false, err
		}
		kind = sql.JoinInner
	case p.acceptKw("LEFT"):
		p.acceptKw("OUTER")
		if err := p.expectKw("JOIN"); err != nil {
			return sql.JoinClause{}, false, err
		}
		kind = sql.JoinLeft
	case p.acceptKw("RIGHT"):
		p.acceptKw("OUTER")
		if err := p.expectKw("JOIN"); err != nil {
			return sql.JoinClause{}, false, err
		}
		kind = sql.JoinRight
	default:
		return sql.JoinClause{}, false, nil
	}
	table, err := p.tableName()
	if err != nil {
		return sql.JoinClause{}, false, err
	}
	join := sql.JoinClause{Kind: kind, Table: table}
	if alias, ok := p.tableAlias(); ok {
		join.Alias = alias
	}
	if err := p.expectKw("ON"); err != nil {
		return sql.JoinClause{}, false, err
	}
	join.On, err = p.parseExpr()
	if err != nil {
		return sql.JoinClause{}, false, err
	}
	return join, true, nil
}

// ---- expressions ----
//
// Precedence, loosest first: OR, AND, NOT, comparison/IS/IN/BETWEEN/
// LIKE, additive, multiplicative, unary minus, primary.

func (p *parser) parseExpr() (sql.Expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (sql.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKw("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &sql.BinaryExpr{Op: sql.OpOr, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (sql.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKw("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &sql.BinaryExpr{Op: sql.OpAnd, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (sql.Expr, error) {
	if p.acceptKw("NOT") {
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &sql.NotExpr{E: e}, nil
	}
	return p.parseComparison()
}

var compareOps = map[string]sql.BinaryOp{
	"=": sql.OpEq, "<>": sql.OpNe, "!=": sql.OpNe,
	"<": sql.OpLt, "<=": sql.OpLe, ">": sql.OpGt, ">=": sql.OpGe,
}

func (p *parser) parseComparison() (sql.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind == tokSymbol {
			if op, ok := compareOps[t.text]; ok {
				p.pos++
				right, err := p.parseAdditive()
				if err != nil {
					return nil, err
				}
				left = &sql.BinaryExpr{Op: op, L: left, R: right}
				continue
			}
		}
		negate := false
		if p.atKw("NOT") && p.peekAheadKw("BETWEEN", "LIKE", "ILIKE", "IN") {
			p.next()
			negate = true
		}
		switch {
		case p.acceptKw("IS"):
			neg := p.acceptKw("NOT")
			if err := p.expectKw("NULL"); err != nil {
				return nil, err
			}
			left = &sql.IsNullExpr{E: left, Negate: neg}
		case p.acceptKw("BETWEEN"):
			low, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			if err := p.expectKw("AND"); err != nil {
				return nil, err
			}
			high, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &sql.BetweenExpr{E: left, Low: low, High: high, Negate: negate}
		case p.acceptKw("LIKE"), p.acceptKw("ILIKE"):
			pat, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &sql.LikeExpr{E: left, Pattern: pat, Negate: negate}
		case p.acceptKw("IN"):
			e, err := p.parseInTail(left, negate)
			if err != nil {
				return nil, err
			}
			left = e
		default:
			if negate {
				return nil, p.errHere("expected BETWEEN, LIKE or IN after NOT")
			}
			return left, nil
		}
	}
}

// peekAheadKw reports whether the token after the current one is one
// of the given keywords.
func (p *parser) peekAheadKw(words ...string) bool {
	if p.pos+1 >= len(p.toks) {
		return false
	}
	t := p.toks[p.pos+1]
	if t.kind != tokKeyword {
		return false
	}
	for _, w := range words {
		if t.text == w {
			return true
		}
	}
	return false
}

func (p *parser) parseInTail(left sql.Expr, negate bool) (sql.Expr, error) {
	if err := p.expectSym("("); err != nil {
		return nil, err
	}
	if p.atKw("SELECT") {
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSym(")"); err != nil {
			return nil, err
		}
		return &sql.InSubqueryExpr{E: left, Query: sub, Negate: negate}, nil
	}
	var list []sql.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}
	if err := p.expectSym(")"); err != nil {
		return nil, err
	}
	return &sql.InListExpr{E: left, List: list, Negate: negate}, nil
}

func (p *parser) parseAdditive() (sql.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept(tokSymbol, "+"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &sql.BinaryExpr{Op: sql.OpAdd, L: left, R: right}
		case p.accept(tokSymbol, "-"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &sql.BinaryExpr{Op: sql.OpSub, L: left, R: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseMultiplicative() (sql.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept(tokSymbol, "*"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &sql.BinaryExpr{Op: sql.OpMul, L: left, R: right}
		case p.accept(tokSymbol, "/"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &sql.BinaryExpr{Op: sql.OpDiv, L: left, R: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (sql.Expr, error) {
	if p.accept(tokSymbol, "-") {
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		// fold negation into numeric literals
		if lit, ok := e.(*sql.Literal); ok {
			switch lit.Val.Kind {
			case sql.KindInt:
				return &sql.Literal{Val: sql.NewInt(-lit.Val.I)}, nil
			case sql.KindNumeric:
				return &sql.Literal{Val: sql.NewNumeric(lit.Val.Num.Neg())}, nil
			}
		}
		zero := &sql.Literal{Val: sql.NewInt(0)}
		return &sql.BinaryExpr{Op: sql.OpSub, L: zero, R: e}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (sql.Expr, error) {
	t := p.peek()
	switch {
	case t.kind == tokNumber:
		p.pos++
		return numberLiteral(t.text)

	case t.kind == tokString:
		p.pos++
		return &sql.Literal{Val: sql.NewText(t.text)}, nil

	case p.acceptKw("TRUE"):
		return &sql.Literal{Val: sql.NewBool(true)}, nil
	case p.acceptKw("FALSE"):
		return &sql.Literal{Val: sql.NewBool(false)}, nil
	case p.acceptKw("NULL"):
		return &sql.Literal{Val: sql.Null()}, nil

	case p.atKw("EXISTS"):
		p.next()
		if err := p.expectSym("("); err != nil {
			return nil, err
		}
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSym(")"); err != nil {
			return nil, err
		}
		return &sql.ExistsExpr{Query: sub}, nil

	case p.atKw("CASE"):
		return p.parseCase()

	case p.atKw("CAST"):
		return p.parseCast()

	case p.accept(tokSymbol, "("):
		if p.atKw("SELECT") {
			sub, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := p.expectSym(")"); err != nil {
				return nil, err
			}
			return &sql.ScalarSubquery{Query: sub}, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSym(")"); err != nil {
			return nil, err
		}
		return e, nil

	case t.kind == tokIdent:
		return p.parseIdentExpr()
	}
	return nil, p.errHere("unexpected %q in expression", t.text)
}

func numberLiteral(text string) (sql.Expr, error) {
	if !strings.Contains(text, ".") {
		n, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return &sql.Literal{Val: sql.NewInt(n)}, nil
		}
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", text)
	}
	return &sql.Literal{Val: sql.NewNumeric(d)}, nil
}

// parseIdentExpr resolves an identifier into a column reference or a
// function call, with optional table qualification and OVER clause.
func (p *parser) parseIdentExpr() (sql.Expr, error) {
	name, _ := p.ident()

	if p.at(tokSymbol, "(") {
		return p.parseFuncCall(name)
	}

	if p.accept(tokSymbol, ".") {
		if p.accept(tokSymbol, "*") {
			// t.* acts as an unqualified star in item position; the
			// executor resolves it
			return &sql.ColumnRef{Table: name, Name: "*"}, nil
		}
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &sql.ColumnRef{Table: name, Name: col}, nil
	}
	return &sql.ColumnRef{Name: name}, nil
}

func (p *parser) parseFuncCall(name string) (sql.Expr, error) {
	p.next() // (
	fc := &sql.FuncCall{Name: strings.ToUpper(name)}
	if p.accept(tokSymbol, "*") {
		fc.Star = true
		if err := p.expectSym(")"); err != nil {
			return nil, err
		}
	} else {
		p.acceptKw("DISTINCT") // COUNT(DISTINCT x) not supported; ignored arg-side
		if !p.at(tokSymbol, ")") {
			for {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				fc.Args = append(fc.Args, arg)
				if p.accept(tokSymbol, ",") {
					continue
				}
				break
			}
		}
		if err := p.expectSym(")"); err != nil {
			return nil, err
		}
	}

	if p.acceptKw("OVER") {
		if err := p.expectSym("("); err != nil {
			return nil, err
		}
		spec := &sql.WindowSpec{}
		if p.acceptKw("PARTITION") {
			if err := p.expectKw("BY"); err != nil {
				return nil, err
			}
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				spec.PartitionBy = append(spec.PartitionBy, e)
				if p.accept(tokSymbol, ",") {
					continue
				}
				break
			}
		}
		if p.acceptKw("ORDER") {
			if err := p.expectKw("BY"); err != nil {
				return nil, err
			}
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				key := sql.OrderKey{Expr: e}
				if p.acceptKw("DESC") {
					key.Desc = true
				} else {
					p.acceptKw("ASC")
				}
				spec.OrderBy = append(spec.OrderBy, key)
				if p.accept(tokSymbol, ",") {
					continue
				}
				break
			}
		}
		if err := p.expectSym(")"); err != nil {
			return nil, err
		}
		fc.Over = spec
	}
	return fc, nil
}

func (p *parser) parseCase() (sql.Expr, error) {
	p.next() // CASE
	ce := &sql.CaseExpr{}
	for p.acceptKw("WHEN") {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, sql.CaseWhen{Cond: cond, Then: then})
	}
	if len(ce.Whens) == 0 {
		return nil, p.errHere("CASE requires at least one WHEN")
	}
	if p.acceptKw("ELSE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Else = e
	}
	if err := p.expectKw("END"); err != nil {
		return nil, err
	}
	return ce, nil
}

// parseCast handles CAST(expr AS type), evaluated as a coercion to the
// target type.
func (p *parser) parseCast() (sql.Expr, error) {
	p.next() // CAST
	if err := p.expectSym("("); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("AS"); err != nil {
		return nil, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if err := p.expectSym(")"); err != nil {
		return nil, err
	}
	return &sql.CastExpr{E: e, Type: typ}, nil
}
