package sql

// Statement is the root interface for all SQL statements the engine
// accepts from the parser.
type Statement interface {
	stmtNode()
}

// ----- DDL -----

type CreateTableStmt struct {
	Name    string
	Columns []Column
}

type DropTableStmt struct {
	Name     string
	IfExists bool
}

// AlterAction discriminates AlterTableStmt.
type AlterAction uint8

const (
	AlterAddColumn AlterAction = iota
	AlterDropColumn
	AlterRenameColumn
	AlterRenameTable
	AlterOwnerTo
)

type AlterTableStmt struct {
	Table   string
	Action  AlterAction
	Column  *Column // ADD COLUMN
	Name    string  // DROP COLUMN / RENAME COLUMN old name
	NewName string  // RENAME COLUMN / RENAME TO / OWNER TO target
}

type CreateEnumStmt struct {
	Name   string
	Values []string
}

type CreateIndexStmt struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
	Using   string // "btree" (default) or "hash"
}

type DropIndexStmt struct {
	Name string
}

type CreateViewStmt struct {
	Name  string
	Query string // original SELECT text, re-parsed on reference
}

type DropViewStmt struct {
	Name string
}

type CreateRoleStmt struct {
	Name      string
	Superuser bool
	Login     bool
	Password  string
}

type DropRoleStmt struct {
	Name string
}

// GrantRoleStmt covers GRANT role TO user; RevokeRoleStmt the inverse.
type GrantRoleStmt struct {
	Role string
	To   string
}

type RevokeRoleStmt struct {
	Role string
	From string
}

// GrantPrivilegeStmt covers GRANT SELECT,... ON TABLE t TO role.
type GrantPrivilegeStmt struct {
	Privileges []string // SELECT, INSERT, UPDATE, DELETE, ALL
	Table      string
	To         string
}

type RevokePrivilegeStmt struct {
	Privileges []string
	Table      string
	From       string
}

type VacuumStmt struct {
	Table string // empty = all tables
}

// ----- DML -----

type InsertStmt struct {
	Table   string
	Columns []string // empty = positional
	Rows    [][]Expr
}

type UpdateStmt struct {
	Table string
	Set   []Assignment
	Where Expr
}

type Assignment struct {
	Column string
	Value  Expr
}

type DeleteStmt struct {
	Table string
	Where Expr
}

// CopyStmt covers COPY t FROM STDIN / TO STDOUT.
type CopyStmt struct {
	Table   string
	Columns []string
	From    bool // true = FROM STDIN, false = TO STDOUT
	Binary  bool // FORMAT binary, otherwise csv
}

// ----- Queries -----

type SelectStmt struct {
	Distinct  bool
	Items     []SelectItem
	From      string // empty for FROM-less selects (system functions)
	FromAlias string
	Joins     []JoinClause
	Where     Expr
	GroupBy   []Expr
	Having    Expr
	SetOp     *SetOpClause
	OrderBy   []OrderKey
	Limit     int // -1 = none
	Offset    int // -1 = none
}

type SelectItem struct {
	Expr  Expr
	Alias string
	Star  bool // SELECT *
}

type JoinKind uint8

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
)

type JoinClause struct {
	Kind  JoinKind
	Table string
	Alias string
	On    Expr
}

type SetOpKind uint8

const (
	SetUnion SetOpKind = iota
	SetUnionAll
	SetIntersect
	SetExcept
)

type SetOpClause struct {
	Kind  SetOpKind
	Right *SelectStmt
}

type OrderKey struct {
	Expr Expr
	Desc bool
}

type ExplainStmt struct {
	Query *SelectStmt
}

// ----- Transactions -----

type BeginStmt struct{}
type CommitStmt struct{}
type RollbackStmt struct{}

func (*CreateTableStmt) stmtNode()     {}
func (*DropTableStmt) stmtNode()       {}
func (*AlterTableStmt) stmtNode()      {}
func (*CreateEnumStmt) stmtNode()      {}
func (*CreateIndexStmt) stmtNode()     {}
func (*DropIndexStmt) stmtNode()       {}
func (*CreateViewStmt) stmtNode()      {}
func (*DropViewStmt) stmtNode()        {}
func (*CreateRoleStmt) stmtNode()      {}
func (*DropRoleStmt) stmtNode()        {}
func (*GrantRoleStmt) stmtNode()       {}
func (*RevokeRoleStmt) stmtNode()      {}
func (*GrantPrivilegeStmt) stmtNode()  {}
func (*RevokePrivilegeStmt) stmtNode() {}
func (*VacuumStmt) stmtNode()          {}
func (*InsertStmt) stmtNode()          {}
func (*UpdateStmt) stmtNode()          {}
func (*DeleteStmt) stmtNode()          {}
func (*CopyStmt) stmtNode()            {}
func (*SelectStmt) stmtNode()          {}
func (*ExplainStmt) stmtNode()         {}
func (*BeginStmt) stmtNode()           {}
func (*CommitStmt) stmtNode()          {}
func (*RollbackStmt) stmtNode()        {}

// ----- Expressions -----

// Expr is the tagged-variant expression tree evaluated per row.
type Expr interface {
	exprNode()
}

type Literal struct {
	Val Value
}

// ColumnRef is a possibly table-qualified column reference.
type ColumnRef struct {
	Table string
	Name  string
}

// BinaryOp covers comparisons, boolean connectives and arithmetic.
type BinaryOp string

const (
	OpEq  BinaryOp = "="
	OpNe  BinaryOp = "<>"
	OpLt  BinaryOp = "<"
	OpLe  BinaryOp = "<="
	OpGt  BinaryOp = ">"
	OpGe  BinaryOp = ">="
	OpAnd BinaryOp = "AND"
	OpOr  BinaryOp = "OR"
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
)

type BinaryExpr struct {
	Op   BinaryOp
	L, R Expr
}

type NotExpr struct {
	E Expr
}

type BetweenExpr struct {
	E, Low, High Expr
	Negate       bool
}

type LikeExpr struct {
	E       Expr
	Pattern Expr
	Negate  bool
}

type InListExpr struct {
	E      Expr
	List   []Expr
	Negate bool
}

type InSubqueryExpr struct {
	E      Expr
	Query  *SelectStmt
	Negate bool
}

type ExistsExpr struct {
	Query  *SelectStmt
	Negate bool
}

type IsNullExpr struct {
	E      Expr
	Negate bool // IS NOT NULL
}

type CaseExpr struct {
	Whens []CaseWhen
	Else  Expr
}

type CaseWhen struct {
	Cond Expr
	Then Expr
}

// CastExpr coerces its operand to the named type (CAST(x AS t)).
type CastExpr struct {
	E    Expr
	Type DataType
}

// ScalarSubquery must yield at most one row of one column.
type ScalarSubquery struct {
	Query *SelectStmt
}

// FuncCall covers aggregates, window functions and system functions.
// Star marks COUNT(*).
type FuncCall struct {
	Name string // upper-cased
	Args []Expr
	Star bool
	Over *WindowSpec // non-nil for window invocation
}

type WindowSpec struct {
	PartitionBy []Expr
	OrderBy     []OrderKey
}

func (*Literal) exprNode()        {}
func (*ColumnRef) exprNode()      {}
func (*BinaryExpr) exprNode()     {}
func (*NotExpr) exprNode()        {}
func (*BetweenExpr) exprNode()    {}
func (*LikeExpr) exprNode()       {}
func (*InListExpr) exprNode()     {}
func (*InSubqueryExpr) exprNode() {}
func (*ExistsExpr) exprNode()     {}
func (*IsNullExpr) exprNode()     {}
func (*CaseExpr) exprNode()       {}
func (*CastExpr) exprNode()       {}
func (*ScalarSubquery) exprNode() {}
func (*FuncCall) exprNode()       {}
