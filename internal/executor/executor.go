// Package executor runs parsed statements against the storage layers.
// It owns statement semantics: validation order, MVCC visibility,
// index maintenance and the query pipeline. Transaction control and
// recovery stay in the engine.
package executor

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/index"
	"github.com/tuannm99/novapg/internal/sql"
	"github.com/tuannm99/novapg/internal/tx"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrReadOnlyRelation = errors.New("relation is read-only")
	ErrUniqueViolation  = errors.New("duplicate key value violates unique constraint")
	ErrNotNullViolation = errors.New("null value violates not-null constraint")
	ErrFKViolation      = errors.New("violates foreign key constraint")
)

// DB is what the executor needs from the engine. The seam keeps the
// executor testable against a small fake and breaks the import cycle.
type DB interface {
	Catalog() *catalog.Catalog
	Tx() *tx.Manager

	// Heap returns the open row store for a user table.
	Heap(name string) (*heap.Table, error)
	// Indexes lists live indexes on a table; Index finds one by name.
	Indexes(table string) []index.Index
	Index(name string) (index.Index, bool)

	// Storage lifecycle behind DDL. CreateTable/DropTable/RenameTable
	// cover files and open handles; the catalog entry is the
	// executor's job. CreateIndex registers and backfills.
	CreateTableStorage(meta *catalog.TableMeta) error
	DropTableStorage(name string) error
	RenameTableStorage(oldName, newName string) error
	ReloadTable(meta *catalog.TableMeta) error
	CreateIndex(meta catalog.IndexMeta) error
	DropIndex(name string) error
	RebuildIndexes(table string) error

	// DDLSync logs the schema change and forces a checkpoint so
	// recovery never replays across a schema boundary.
	DDLSync(op string, meta any) error
	// NoteMutations feeds the periodic-checkpoint counter.
	NoteMutations(n int)

	TableDiskSize(name string) (int64, error)
	DatabaseSize() (int64, error)
}

// Session is the per-connection execution state the engine threads
// through every statement.
type Session struct {
	User     string
	Database string
	TxID     uint64
	Snapshot *tx.Snapshot
}

// ResultColumn describes one output column.
type ResultColumn struct {
	Name string
	Type sql.DataType
}

// Result is the outcome of one statement.
type Result struct {
	Columns []ResultColumn
	Rows    [][]sql.Value
	Tag     string
}

// Executor binds the seam to one statement run.
type Executor struct {
	db DB
}

func New(db DB) *Executor { return &Executor{db: db} }

// Exec dispatches one statement. Transaction-control statements are
// the engine's business and are rejected here.
func (e *Executor) Exec(sess *Session, stmt sql.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *sql.SelectStmt:
		return e.execSelect(sess, s)
	case *sql.InsertStmt:
		return e.execInsert(sess, s)
	case *sql.UpdateStmt:
		return e.execUpdate(sess, s)
	case *sql.DeleteStmt:
		return e.execDelete(sess, s)
	case *sql.CreateTableStmt:
		return e.execCreateTable(sess, s)
	case *sql.DropTableStmt:
		return e.execDropTable(sess, s)
	case *sql.AlterTableStmt:
		return e.execAlterTable(sess, s)
	case *sql.CreateEnumStmt:
		return e.execCreateEnum(sess, s)
	case *sql.CreateIndexStmt:
		return e.execCreateIndex(sess, s)
	case *sql.DropIndexStmt:
		return e.execDropIndex(sess, s)
	case *sql.CreateViewStmt:
		return e.execCreateView(sess, s)
	case *sql.DropViewStmt:
		return e.execDropView(sess, s)
	case *sql.CreateRoleStmt:
		return e.execCreateRole(sess, s)
	case *sql.DropRoleStmt:
		return e.execDropRole(sess, s)
	case *sql.GrantRoleStmt:
		return e.execGrantRole(sess, s)
	case *sql.RevokeRoleStmt:
		return e.execRevokeRole(sess, s)
	case *sql.GrantPrivilegeStmt:
		return e.execGrantPrivilege(sess, s)
	case *sql.RevokePrivilegeStmt:
		return e.execRevokePrivilege(sess, s)
	case *sql.VacuumStmt:
		return e.execVacuum(sess, s)
	case *sql.ExplainStmt:
		return e.execExplain(sess, s)
	}
	return nil, fmt.Errorf("executor: unsupported statement %T", stmt)
}

// visible applies the snapshot visibility rule for the session.
func (e *Executor) visible(sess *Session, row sql.Row) bool {
	return sess.Snapshot.RowVisible(row.Xmin, row.Xmax, sess.TxID, e.db.Tx())
}

// checkPrivilege enforces table privileges through the role closure.
// System catalogs are readable by everyone.
func (e *Executor) checkPrivilege(sess *Session, table string, priv catalog.Privilege) error {
	if isSystemRelation(table) {
		if priv == catalog.PrivSelect {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrReadOnlyRelation, table)
	}
	if e.db.Catalog().HasPrivilege(sess.User, table, priv) {
		return nil
	}
	return fmt.Errorf("%w for table %s", ErrPermissionDenied, table)
}

// requireSuperuser gates role and ownership DDL.
func (e *Executor) requireSuperuser(sess *Session) error {
	r, ok := e.db.Catalog().Role(sess.User)
	if !ok || !r.Superuser {
		return fmt.Errorf("%w: must be superuser", ErrPermissionDenied)
	}
	return nil
}

// requireOwner allows the owner, any role in whose closure the owner
// sits, or a superuser.
func (e *Executor) requireOwner(sess *Session, owner string) error {
	cat := e.db.Catalog()
	if r, ok := cat.Role(sess.User); ok && r.Superuser {
		return nil
	}
	if cat.Closure(sess.User)[owner] {
		return nil
	}
	return fmt.Errorf("%w: must be owner", ErrPermissionDenied)
}
