// Package parser turns SQL text into the statement tree the executor
// runs. It is a hand-written recursive-descent parser over a
// pre-tokenized statement; one statement per call.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tuannm99/novapg/internal/sql"
)

type parser struct {
	src  string
	toks []token
	pos  int
}

// Parse parses exactly one statement. A trailing semicolon is allowed.
func Parse(src string) (sql.Statement, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.accept(tokSymbol, ";")
	if !p.at(tokEOF, "") {
		return nil, p.errHere("unexpected %q after statement", p.peek().text)
	}
	return stmt, nil
}

// SplitStatements breaks a simple-query string on top-level semicolons
// (quotes respected). Empty statements are dropped.
func SplitStatements(src string) []string {
	var out []string
	var sb strings.Builder
	inStr := false
	for i := 0; i < len(src); i++ {
		ch := src[i]
		if ch == '\'' {
			inStr = !inStr
		}
		if ch == ';' && !inStr {
			if s := strings.TrimSpace(sb.String()); s != "" {
				out = append(out, s)
			}
			sb.Reset()
			continue
		}
		sb.WriteByte(ch)
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// ---- token helpers ----

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) at(kind tokenKind, text string) bool {
	t := p.peek()
	if t.kind != kind {
		return false
	}
	return text == "" || t.text == text
}

func (p *parser) atKw(words ...string) bool {
	t := p.peek()
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

func (p *parser) accept(kind tokenKind, text string) bool {
	if p.at(kind, text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptKw(word string) bool { return p.accept(tokKeyword, word) }

func (p *parser) expectKw(word string) error {
	if !p.acceptKw(word) {
		return p.errHere("expected %s", word)
	}
	return nil
}

func (p *parser) expectSym(sym string) error {
	if !p.accept(tokSymbol, sym) {
		return p.errHere("expected %q", sym)
	}
	return nil
}

// ident accepts identifiers and also unreserved-looking keywords used
// as names (e.g. a column called "type" never happens since TYPE is a
// keyword; we keep the strict rule and report a clear error).
func (p *parser) ident() (string, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", p.errHere("expected identifier, got %q", t.text)
	}
	p.pos++
	return t.text, nil
}

func (p *parser) errHere(format string, args ...any) error {
	t := p.peek()
	return fmt.Errorf("syntax error at position %d: %s", t.pos, fmt.Sprintf(format, args...))
}

// ---- statements ----

func (p *parser) parseStatement() (sql.Statement, error) {
	switch {
	case p.atKw("SELECT"):
		return p.parseSelect()
	case p.atKw("INSERT"):
		return p.parseInsert()
	case p.atKw("UPDATE"):
		return p.parseUpdate()
	case p.atKw("DELETE"):
		return p.parseDelete()
	case p.atKw("CREATE"):
		return p.parseCreate()
	case p.atKw("DROP"):
		return p.parseDrop()
	case p.atKw("ALTER"):
		return p.parseAlter()
	case p.atKw("GRANT"):
		return p.parseGrant()
	case p.atKw("REVOKE"):
		return p.parseRevoke()
	case p.atKw("EXPLAIN"):
		return p.parseExplain()
	case p.atKw("VACUUM"):
		return p.parseVacuum()
	case p.atKw("COPY"):
		return p.parseCopy()
	case p.acceptKw("BEGIN"):
		p.acceptKw("TRANSACTION")
		p.acceptKw("WORK")
		return &sql.BeginStmt{}, nil
	case p.acceptKw("COMMIT"):
		p.acceptKw("TRANSACTION")
		p.acceptKw("WORK")
		return &sql.CommitStmt{}, nil
	case p.acceptKw("ROLLBACK"):
		p.acceptKw("TRANSACTION")
		p.acceptKw("WORK")
		return &sql.RollbackStmt{}, nil
	}
	return nil, p.errHere("unexpected %q at start of statement", p.peek().text)
}

func (p *parser) parseCreate() (sql.Statement, error) {
	p.next() // CREATE
	switch {
	case p.acceptKw("TABLE"):
		return p.parseCreateTable()
	case p.acceptKw("UNIQUE"):
		if err := p.expectKw("INDEX"); err != nil {
			return nil, err
		}
		return p.parseCreateIndex(true)
	case p.acceptKw("INDEX"):
		return p.parseCreateIndex(false)
	case p.acceptKw("VIEW"):
		return p.parseCreateView()
	case p.acceptKw("TYPE"):
		return p.parseCreateType()
	case p.acceptKw("ROLE"):
		return p.parseCreateRole()
	}
	return nil, p.errHere("expected TABLE, INDEX, VIEW, TYPE or ROLE after CREATE")
}

func (p *parser) parseCreateTable() (sql.Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectSym("("); err != nil {
		return nil, err
	}
	var cols []sql.Column
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}
	if err := p.expectSym(")"); err != nil {
		return nil, err
	}
	return &sql.CreateTableStmt{Name: name, Columns: cols}, nil
}

func (p *parser) parseColumnDef() (sql.Column, error) {
	name, err := p.ident()
	if err != nil {
		return sql.Column{}, err
	}
	typ, err := p.parseType()
	if err != nil {
		return sql.Column{}, err
	}
	col := sql.Column{Name: name, Type: typ, Nullable: true}
	for {
		switch {
		case p.acceptKw("PRIMARY"):
			if err := p.expectKw("KEY"); err != nil {
				return sql.Column{}, err
			}
			col.PrimaryKey = true
			col.Unique = true
			col.Nullable = false
		case p.acceptKw("NOT"):
			if err := p.expectKw("NULL"); err != nil {
				return sql.Column{}, err
			}
			col.Nullable = false
		case p.acceptKw("NULL"):
			col.Nullable = true
		case p.acceptKw("UNIQUE"):
			col.Unique = true
		case p.acceptKw("REFERENCES"):
			refTable, err := p.ident()
			if err != nil {
				return sql.Column{}, err
			}
			fk := &sql.ForeignKey{Table: refTable}
			if p.accept(tokSymbol, "(") {
				refCol, err := p.ident()
				if err != nil {
					return sql.Column{}, err
				}
				fk.Column = refCol
				if err := p.expectSym(")"); err != nil {
					return sql.Column{}, err
				}
			}
			col.ForeignKey = fk
		default:
			return col, nil
		}
	}
}

// parseType reads a type name with optional parameters. Type names lex
// as identifiers.
func (p *parser) parseType() (sql.DataType, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return sql.DataType{}, p.errHere("expected type name, got %q", t.text)
	}
	p.pos++
	name := t.text
	switch name {
	case "smallint", "int2":
		return sql.DataType{Name: sql.TypeSmallInt}, nil
	case "int", "integer", "int4", "bigint", "int8":
		return sql.DataType{Name: sql.TypeInteger}, nil
	case "real", "float4", "float8":
		return sql.DataType{Name: sql.TypeReal}, nil
	case "double":
		// DOUBLE PRECISION; PRECISION lexes as an identifier
		p.accept(tokIdent, "precision")
		return sql.DataType{Name: sql.TypeReal}, nil
	case "numeric", "decimal":
		dt := sql.DataType{Name: sql.TypeNumeric}
		if p.accept(tokSymbol, "(") {
			prec, err := p.intLiteral()
			if err != nil {
				return dt, err
			}
			dt.Precision = prec
			if p.accept(tokSymbol, ",") {
				scale, err := p.intLiteral()
				if err != nil {
					return dt, err
				}
				dt.Scale = scale
			}
			if err := p.expectSym(")"); err != nil {
				return dt, err
			}
		}
		return dt, nil
	case "serial":
		return sql.DataType{Name: sql.TypeSerial}, nil
	case "bigserial":
		return sql.DataType{Name: sql.TypeBigSerial}, nil
	case "text":
		return sql.DataType{Name: sql.TypeText}, nil
	case "varchar":
		return p.parseLengthType(sql.TypeVarchar)
	case "character":
		if p.accept(tokIdent, "varying") {
			return p.parseLengthType(sql.TypeVarchar)
		}
		return p.parseLengthType(sql.TypeChar)
	case "char":
		return p.parseLengthType(sql.TypeChar)
	case "boolean", "bool":
		return sql.DataType{Name: sql.TypeBoolean}, nil
	case "date":
		return sql.DataType{Name: sql.TypeDate}, nil
	case "timestamp":
		if p.acceptKw("WITH") {
			if !p.accept(tokIdent, "time") || !p.accept(tokIdent, "zone") {
				return sql.DataType{}, p.errHere("expected TIME ZONE")
			}
			return sql.DataType{Name: sql.TypeTimestampTz}, nil
		}
		if p.accept(tokIdent, "without") {
			if !p.accept(tokIdent, "time") || !p.accept(tokIdent, "zone") {
				return sql.DataType{}, p.errHere("expected TIME ZONE")
			}
		}
		return sql.DataType{Name: sql.TypeTimestamp}, nil
	case "timestamptz":
		return sql.DataType{Name: sql.TypeTimestampTz}, nil
	case "uuid":
		return sql.DataType{Name: sql.TypeUUID}, nil
	case "json":
		return sql.DataType{Name: sql.TypeJSON}, nil
	case "jsonb":
		return sql.DataType{Name: sql.TypeJSONB}, nil
	case "bytea":
		return sql.DataType{Name: sql.TypeBytea}, nil
	default:
		// user-defined enum type; existence is checked at execution
		return sql.DataType{Name: sql.TypeEnum, EnumName: name}, nil
	}
}

func (p *parser) parseLengthType(name sql.TypeName) (sql.DataType, error) {
	dt := sql.DataType{Name: name, Length: 1}
	if p.accept(tokSymbol, "(") {
		n, err := p.intLiteral()
		if err != nil {
			return dt, err
		}
		dt.Length = n
		if err := p.expectSym(")"); err != nil {
			return dt, err
		}
	}
	return dt, nil
}

func (p *parser) intLiteral() (int, error) {
	t := p.peek()
	if t.kind != tokNumber {
		return 0, p.errHere("expected number, got %q", t.text)
	}
	p.pos++
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, p.errHere("invalid number %q", t.text)
	}
	return n, nil
}

func (p *parser) parseCreateIndex(unique bool) (sql.Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("ON"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	using := "btree"
	if p.acceptKw("USING") {
		using, err = p.ident()
		if err != nil {
			return nil, err
		}
		if using != "btree" && using != "hash" {
			return nil, fmt.Errorf("unknown index method %q", using)
		}
	}
	cols, err := p.identList()
	if err != nil {
		return nil, err
	}
	return &sql.CreateIndexStmt{Name: name, Table: table, Columns: cols, Unique: unique, Using: using}, nil
}

func (p *parser) identList() ([]string, error) {
	if err := p.expectSym("("); err != nil {
		return nil, err
	}
	var out []string
	for {
		id, err := p.ident()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}
	if err := p.expectSym(")"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) parseCreateView() (sql.Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("AS"); err != nil {
		return nil, err
	}
	start := p.peek().pos
	// validate the query now; store the text and re-parse on use
	if _, err := p.parseSelect(); err != nil {
		return nil, err
	}
	query := strings.TrimRight(strings.TrimSpace(p.src[start:]), ";")
	return &sql.CreateViewStmt{Name: name, Query: query}, nil
}

func (p *parser) parseCreateType() (sql.Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("AS"); err != nil {
		return nil, err
	}
	if err := p.expectKw("ENUM"); err != nil {
		return nil, err
	}
	if err := p.expectSym("("); err != nil {
		return nil, err
	}
	var vals []string
	for {
		t := p.peek()
		if t.kind != tokString {
			return nil, p.errHere("expected string label, got %q", t.text)
		}
		p.pos++
		vals = append(vals, t.text)
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}
	if err := p.expectSym(")"); err != nil {
		return nil, err
	}
	return &sql.CreateEnumStmt{Name: name, Values: vals}, nil
}

func (p *parser) parseCreateRole() (sql.Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &sql.CreateRoleStmt{Name: name}
	p.acceptKw("WITH")
	for {
		switch {
		case p.acceptKw("SUPERUSER"):
			stmt.Superuser = true
		case p.acceptKw("LOGIN"):
			stmt.Login = true
		case p.acceptKw("PASSWORD"):
			t := p.peek()
			if t.kind != tokString {
				return nil, p.errHere("expected password string")
			}
			p.pos++
			stmt.Password = t.text
		default:
			return stmt, nil
		}
	}
}

func (p *parser) parseDrop() (sql.Statement, error) {
	p.next() // DROP
	switch {
	case p.acceptKw("TABLE"):
		ifExists := false
		if p.acceptKw("IF") {
			if err := p.expectKw("EXISTS"); err != nil {
				return nil, err
			}
			ifExists = true
		}
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &sql.DropTableStmt{Name: name, IfExists: ifExists}, nil
	case p.acceptKw("INDEX"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &sql.DropIndexStmt{Name: name}, nil
	case p.acceptKw("VIEW"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &sql.DropViewStmt{Name: name}, nil
	case p.acceptKw("ROLE"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &sql.DropRoleStmt{Name: name}, nil
	}
	return nil, p.errHere("expected TABLE, INDEX, VIEW or ROLE after DROP")
}

func (p *parser) parseAlter() (sql.Statement, error) {
	p.next() // ALTER
	if err := p.expectKw("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &sql.AlterTableStmt{Table: table}
	switch {
	case p.acceptKw("ADD"):
		p.acceptKw("COLUMN")
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Action = sql.AlterAddColumn
		stmt.Column = &col
	case p.acceptKw("DROP"):
		p.acceptKw("COLUMN")
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Action = sql.AlterDropColumn
		stmt.Name = name
	case p.acceptKw("RENAME"):
		if p.acceptKw("TO") {
			newName, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Action = sql.AlterRenameTable
			stmt.NewName = newName
			return stmt, nil
		}
		p.acceptKw("COLUMN")
		old, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("TO"); err != nil {
			return nil, err
		}
		newName, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Action = sql.AlterRenameColumn
		stmt.Name = old
		stmt.NewName = newName
	case p.acceptKw("OWNER"):
		if err := p.expectKw("TO"); err != nil {
			return nil, err
		}
		owner, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Action = sql.AlterOwnerTo
		stmt.NewName = owner
	default:
		return nil, p.errHere("expected ADD, DROP, RENAME or OWNER after ALTER TABLE")
	}
	return stmt, nil
}

// privilegeNames parses SELECT, INSERT, ... or ALL before ON.
func (p *parser) privilegeNames() ([]string, bool) {
	var privs []string
	for {
		switch {
		case p.acceptKw("SELECT"):
			privs = append(privs, "SELECT")
		case p.acceptKw("INSERT"):
			privs = append(privs, "INSERT")
		case p.acceptKw("UPDATE"):
			privs = append(privs, "UPDATE")
		case p.acceptKw("DELETE"):
			privs = append(privs, "DELETE")
		case p.acceptKw("ALL"):
			privs = append(privs, "ALL")
		default:
			return nil, false
		}
		if p.accept(tokSymbol, ",") {
			continue
		}
		return privs, true
	}
}

func (p *parser) parseGrant() (sql.Statement, error) {
	p.next() // GRANT
	if privs, ok := p.privilegeNames(); ok {
		if err := p.expectKw("ON"); err != nil {
			return nil, err
		}
		p.acceptKw("TABLE")
		table, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("TO"); err != nil {
			return nil, err
		}
		to, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &sql.GrantPrivilegeStmt{Privileges: privs, Table: table, To: to}, nil
	}
	role, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("TO"); err != nil {
		return nil, err
	}
	to, err := p.ident()
	if err != nil {
		return nil, err
	}
	return &sql.GrantRoleStmt{Role: role, To: to}, nil
}

func (p *parser) parseRevoke() (sql.Statement, error) {
	p.next() // REVOKE
	if privs, ok := p.privilegeNames(); ok {
		if err := p.expectKw("ON"); err != nil {
			return nil, err
		}
		p.acceptKw("TABLE")
		table, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("FROM"); err != nil {
			return nil, err
		}
		from, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &sql.RevokePrivilegeStmt{Privileges: privs, Table: table, From: from}, nil
	}
	role, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("FROM"); err != nil {
		return nil, err
	}
	from, err := p.ident()
	if err != nil {
		return nil, err
	}
	return &sql.RevokeRoleStmt{Role: role, From: from}, nil
}

func (p *parser) parseExplain() (sql.Statement, error) {
	p.next() // EXPLAIN
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	return &sql.ExplainStmt{Query: sel}, nil
}

func (p *parser) parseVacuum() (sql.Statement, error) {
	p.next() // VACUUM
	stmt := &sql.VacuumStmt{}
	if p.at(tokIdent, "") {
		name, _ := p.ident()
		stmt.Table = name
	}
	return stmt, nil
}

func (p *parser) parseCopy() (sql.Statement, error) {
	p.next() // COPY
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &sql.CopyStmt{Table: table}
	if p.at(tokSymbol, "(") {
		cols, err := p.identList()
		if err != nil {
			return nil, err
		}
		stmt.Columns = cols
	}
	switch {
	case p.acceptKw("FROM"):
		if err := p.expectKw("STDIN"); err != nil {
			return nil, err
		}
		stmt.From = true
	case p.acceptKw("TO"):
		if err := p.expectKw("STDOUT"); err != nil {
			return nil, err
		}
	default:
		return nil, p.errHere("expected FROM STDIN or TO STDOUT")
	}
	if p.acceptKw("WITH") {
		if err := p.expectSym("("); err != nil {
			return nil, err
		}
		if err := p.expectKw("FORMAT"); err != nil {
			return nil, err
		}
		format, err := p.ident()
		if err != nil {
			return nil, err
		}
		switch format {
		case "csv", "text":
		case "binary":
			stmt.Binary = true
		default:
			return nil, fmt.Errorf("unsupported copy format %q", format)
		}
		if err := p.expectSym(")"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseInsert() (sql.Statement, error) {
	p.next() // INSERT
	if err := p.expectKw("INTO"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &sql.InsertStmt{Table: table}
	if p.at(tokSymbol, "(") {
		cols, err := p.identList()
		if err != nil {
			return nil, err
		}
		stmt.Columns = cols
	}
	if err := p.expectKw("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectSym("("); err != nil {
			return nil, err
		}
		var row []sql.Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.accept(tokSymbol, ",") {
				continue
			}
			break
		}
		if err := p.expectSym(")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}
	return stmt, nil
}

func (p *parser) parseUpdate() (sql.Statement, error) {
	p.next() // UPDATE
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("SET"); err != nil {
		return nil, err
	}
	stmt := &sql.UpdateStmt{Table: table}
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectSym("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, sql.Assignment{Column: col, Value: val})
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}
	if p.acceptKw("WHERE") {
		stmt.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseDelete() (sql.Statement, error) {
	p.next() // DELETE
	if err := p.expectKw("FROM"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &sql.DeleteStmt{Table: table}
	if p.acceptKw("WHERE") {
		stmt.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}
