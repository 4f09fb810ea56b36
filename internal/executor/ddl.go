package executor

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/index"
	"github.com/tuannm99/novapg/internal/sql"
)

func (e *Executor) execCreateTable(sess *Session, stmt *sql.CreateTableStmt) (*Result, error) {
	if isSystemRelation(stmt.Name) {
		return nil, fmt.Errorf("relation name %q is reserved", stmt.Name)
	}
	cat := e.db.Catalog()
	pkSeen := false
	for _, col := range stmt.Columns {
		if col.Type.Name == sql.TypeEnum {
			if _, ok := cat.Enum(col.Type.EnumName); !ok {
				return nil, fmt.Errorf("type %q does not exist", col.Type.EnumName)
			}
		}
		if col.PrimaryKey {
			if pkSeen {
				return nil, fmt.Errorf("multiple primary keys for table %q are not allowed", stmt.Name)
			}
			pkSeen = true
		}
		if col.ForeignKey != nil {
			if err := e.validateForeignKey(stmt.Name, col); err != nil {
				return nil, err
			}
		}
	}

	meta := &catalog.TableMeta{
		Name:      stmt.Name,
		Owner:     sess.User,
		Columns:   stmt.Columns,
		Sequences: map[string]int64{},
	}
	for _, col := range stmt.Columns {
		if col.Type.IsSerial() {
			meta.Sequences[col.Name] = 1
		}
	}
	if pk := pkColumn(stmt.Columns); pk != "" {
		meta.Indexes = append(meta.Indexes, catalog.IndexMeta{
			Name:    stmt.Name + "_pkey",
			Table:   stmt.Name,
			Columns: []string{pk},
			Kind:    catalog.IndexBTree,
			Unique:  true,
		})
	}
	if err := cat.CreateTable(meta); err != nil {
		return nil, err
	}
	if err := e.db.CreateTableStorage(meta); err != nil {
		return nil, err
	}
	for _, ixm := range meta.Indexes {
		if err := e.db.CreateIndex(ixm); err != nil {
			return nil, err
		}
	}
	if err := e.db.DDLSync("create table", meta); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE TABLE"}, nil
}

func pkColumn(cols []sql.Column) string {
	for _, c := range cols {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return ""
}

// validateForeignKey resolves the referenced column and requires it to
// be unique. Self references are allowed.
func (e *Executor) validateForeignKey(table string, col sql.Column) error {
	fk := col.ForeignKey
	if fk.Table == table {
		return nil // self reference validated at DML time
	}
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
	rc := refMeta.Column(refCol)
	if rc == nil {
		return fmt.Errorf("referenced column %q does not exist in relation %q", refCol, fk.Table)
	}
	if !rc.Unique && !rc.PrimaryKey {
		return fmt.Errorf("there is no unique constraint matching key for referenced table %q", fk.Table)
	}
	return nil
}

func (e *Executor) execDropTable(sess *Session, stmt *sql.DropTableStmt) (*Result, error) {
	cat := e.db.Catalog()
	meta, ok := cat.Table(stmt.Name)
	if !ok {
		if stmt.IfExists {
			return &Result{Tag: "DROP TABLE"}, nil
		}
		return nil, fmt.Errorf("relation %q does not exist", stmt.Name)
	}
	if err := e.requireOwner(sess, meta.Owner); err != nil {
		return nil, err
	}
	if refs := cat.Referencing(stmt.Name); len(refs) > 0 {
		return nil, fmt.Errorf("cannot drop table %q because table %q references it", stmt.Name, refs[0].Name)
	}
	for _, ixm := range meta.Indexes {
		if err := e.db.DropIndex(ixm.Name); err != nil {
			return nil, err
		}
	}
	if err := cat.DropTable(stmt.Name); err != nil {
		return nil, err
	}
	if err := e.db.DropTableStorage(stmt.Name); err != nil {
		return nil, err
	}
	if err := e.db.DDLSync("drop table", stmt.Name); err != nil {
		return nil, err
	}
	return &Result{Tag: "DROP TABLE"}, nil
}

func (e *Executor) execAlterTable(sess *Session, stmt *sql.AlterTableStmt) (*Result, error) {
	cat := e.db.Catalog()
	meta, ok := cat.Table(stmt.Table)
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", stmt.Table)
	}
	if err := e.requireOwner(sess, meta.Owner); err != nil {
		return nil, err
	}

	switch stmt.Action {
	case sql.AlterAddColumn:
		return e.alterAddColumn(sess, meta, *stmt.Column)
	case sql.AlterDropColumn:
		return e.alterDropColumn(sess, meta, stmt.Name)
	case sql.AlterRenameColumn:
		return e.alterRenameColumn(meta, stmt.Name, stmt.NewName)
	case sql.AlterRenameTable:
		if err := cat.RenameTable(meta.Name, stmt.NewName); err != nil {
			return nil, err
		}
		if err := e.db.RenameTableStorage(stmt.Table, stmt.NewName); err != nil {
			return nil, err
		}
		if err := e.db.DDLSync("rename table", stmt); err != nil {
			return nil, err
		}
		return &Result{Tag: "ALTER TABLE"}, nil
	case sql.AlterOwnerTo:
		if err := e.requireSuperuser(sess); err != nil {
			return nil, err
		}
		if _, ok := cat.Role(stmt.NewName); !ok {
			return nil, fmt.Errorf("role %q does not exist", stmt.NewName)
		}
		meta.Owner = stmt.NewName
		if err := cat.UpdateTable(meta); err != nil {
			return nil, err
		}
		if err := e.db.DDLSync("alter owner", stmt); err != nil {
			return nil, err
		}
		return &Result{Tag: "ALTER TABLE"}, nil
	}
	return nil, fmt.Errorf("unsupported ALTER TABLE action")
}

func (e *Executor) alterAddColumn(sess *Session, meta *catalog.TableMeta, col sql.Column) (*Result, error) {
	if meta.ColumnIndex(col.Name) >= 0 {
		return nil, fmt.Errorf("column %q of relation %q already exists", col.Name, meta.Name)
	}
	if col.Type.Name == sql.TypeEnum {
		if _, ok := e.db.Catalog().Enum(col.Type.EnumName); !ok {
			return nil, fmt.Errorf("type %q does not exist", col.Type.EnumName)
		}
	}
	if col.PrimaryKey {
		return nil, fmt.Errorf("cannot add a primary key column to an existing table")
	}
	tbl, err := e.db.Heap(meta.Name)
	if err != nil {
		return nil, err
	}
	if !col.Nullable {
		empty := true
		scanErr := tbl.Scan(func(heap.TID, sql.Row) error {
			empty = false
			return errStopScan
		})
		if scanErr != nil && !errors.Is(scanErr, errStopScan) {
			return nil, scanErr
		}
		if !empty {
			return nil, fmt.Errorf("column %q contains null values", col.Name)
		}
	}

	appendNull := func(old []sql.Value) []sql.Value {
		return append(append([]sql.Value{}, old...), sql.Null())
	}
	meta.Columns = append(meta.Columns, col)
	if col.Type.IsSerial() {
		meta.Sequences[col.Name] = 1
	}
	if err := e.rewriteTable(meta, tbl, appendNull); err != nil {
		return nil, err
	}
	if err := e.db.Catalog().UpdateTable(meta); err != nil {
		return nil, err
	}
	if err := e.db.DDLSync("add column", meta); err != nil {
		return nil, err
	}
	return &Result{Tag: "ALTER TABLE"}, nil
}

func (e *Executor) alterDropColumn(sess *Session, meta *catalog.TableMeta, name string) (*Result, error) {
	ci := meta.ColumnIndex(name)
	if ci < 0 {
		return nil, fmt.Errorf("column %q of relation %q does not exist", name, meta.Name)
	}
	if meta.Columns[ci].PrimaryKey {
		return nil, fmt.Errorf("cannot drop the primary key column %q", name)
	}
	// other tables' foreign keys may target this column
	for _, other := range e.db.Catalog().Tables() {
		for _, oc := range other.Columns {
			if oc.ForeignKey != nil && oc.ForeignKey.Table == meta.Name && oc.ForeignKey.Column == name {
				return nil, fmt.Errorf("%w: column %q of table %q", catalog.ErrDependentRows, oc.Name, other.Name)
			}
		}
	}
	// indexes covering the column go with it
	var kept []catalog.IndexMeta
	for _, ixm := range meta.Indexes {
		uses := false
		for _, c := range ixm.Columns {
			if c == name {
				uses = true
			}
		}
		if uses {
			if err := e.db.DropIndex(ixm.Name); err != nil {
				return nil, err
			}
			continue
		}
		kept = append(kept, ixm)
	}
	meta.Indexes = kept

	tbl, err := e.db.Heap(meta.Name)
	if err != nil {
		return nil, err
	}
	meta.Columns = append(append([]sql.Column{}, meta.Columns[:ci]...), meta.Columns[ci+1:]...)
	delete(meta.Sequences, name)
	drop := func(old []sql.Value) []sql.Value {
		return append(append([]sql.Value{}, old[:ci]...), old[ci+1:]...)
	}
	if err := e.rewriteTable(meta, tbl, drop); err != nil {
		return nil, err
	}
	if err := e.db.Catalog().UpdateTable(meta); err != nil {
		return nil, err
	}
	if err := e.db.DDLSync("drop column", meta); err != nil {
		return nil, err
	}
	return &Result{Tag: "ALTER TABLE"}, nil
}

func (e *Executor) alterRenameColumn(meta *catalog.TableMeta, oldName, newName string) (*Result, error) {
	ci := meta.ColumnIndex(oldName)
	if ci < 0 {
		return nil, fmt.Errorf("column %q of relation %q does not exist", oldName, meta.Name)
	}
	if meta.ColumnIndex(newName) >= 0 {
		return nil, fmt.Errorf("column %q of relation %q already exists", newName, meta.Name)
	}
	meta.Columns[ci].Name = newName
	for i := range meta.Indexes {
		for j, c := range meta.Indexes[i].Columns {
			if c == oldName {
				meta.Indexes[i].Columns[j] = newName
			}
		}
	}
	if v, ok := meta.Sequences[oldName]; ok {
		delete(meta.Sequences, oldName)
		meta.Sequences[newName] = v
	}
	// foreign keys in other tables that name this column follow it
	for _, other := range e.db.Catalog().Tables() {
		changed := false
		for i := range other.Columns {
			fk := other.Columns[i].ForeignKey
			if fk != nil && fk.Table == meta.Name && fk.Column == oldName {
				fk.Column = newName
				changed = true
			}
		}
		if changed && other.Name != meta.Name {
			if err := e.db.Catalog().UpdateTable(other); err != nil {
				return nil, err
			}
		}
	}
	if err := e.db.Catalog().UpdateTable(meta); err != nil {
		return nil, err
	}
	if err := e.db.ReloadTable(meta); err != nil {
		return nil, err
	}
	if err := e.db.RebuildIndexes(meta.Name); err != nil {
		return nil, err
	}
	if err := e.db.DDLSync("rename column", meta); err != nil {
		return nil, err
	}
	return &Result{Tag: "ALTER TABLE"}, nil
}

// rewriteTable re-encodes every stored row version (live and dead)
// under the new column set, then rebuilds the table's indexes since
// relocation may have moved tuples.
func (e *Executor) rewriteTable(meta *catalog.TableMeta, tbl *heap.Table, transform func([]sql.Value) []sql.Value) error {
	type stored struct {
		tid heap.TID
		row sql.Row
	}
	var all []stored
	if err := tbl.Scan(func(tid heap.TID, row sql.Row) error {
		all = append(all, stored{tid: tid, row: row})
		return nil
	}); err != nil {
		return err
	}
	if err := e.db.ReloadTable(meta); err != nil {
		return err
	}
	ntbl, err := e.db.Heap(meta.Name)
	if err != nil {
		return err
	}
	for _, s := range all {
		newRow := sql.Row{Values: transform(s.row.Values), Xmin: s.row.Xmin, Xmax: s.row.Xmax}
		if _, err := ntbl.Overwrite(s.tid, newRow); err != nil {
			return err
		}
	}
	return e.db.RebuildIndexes(meta.Name)
}

func (e *Executor) execCreateEnum(sess *Session, stmt *sql.CreateEnumStmt) (*Result, error) {
	if len(stmt.Values) == 0 {
		return nil, fmt.Errorf("enum type %q must have at least one label", stmt.Name)
	}
	seen := map[string]bool{}
	for _, v := range stmt.Values {
		if seen[v] {
			return nil, fmt.Errorf("enum label %q used more than once", v)
		}
		seen[v] = true
	}
	if err := e.db.Catalog().CreateEnum(stmt.Name, stmt.Values); err != nil {
		return nil, err
	}
	if err := e.db.DDLSync("create type", stmt); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE TYPE"}, nil
}

func (e *Executor) execCreateIndex(sess *Session, stmt *sql.CreateIndexStmt) (*Result, error) {
	cat := e.db.Catalog()
	meta, ok := cat.Table(stmt.Table)
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", stmt.Table)
	}
	if err := e.requireOwner(sess, meta.Owner); err != nil {
		return nil, err
	}
	for _, c := range stmt.Columns {
		if meta.ColumnIndex(c) < 0 {
			return nil, fmt.Errorf("column %q of relation %q does not exist", c, stmt.Table)
		}
	}
	kind := catalog.IndexBTree
	if stmt.Using == "hash" {
		if len(stmt.Columns) > 1 {
			return nil, fmt.Errorf("hash indexes support a single column")
		}
		kind = catalog.IndexHash
	}
	if stmt.Unique {
		if err := e.verifyUniqueBackfill(sess, meta, stmt.Columns); err != nil {
			return nil, err
		}
	}
	ixm := catalog.IndexMeta{
		Name:    stmt.Name,
		Table:   stmt.Table,
		Columns: stmt.Columns,
		Kind:    kind,
		Unique:  stmt.Unique,
	}
	if err := cat.AddIndex(ixm); err != nil {
		return nil, err
	}
	if err := e.db.CreateIndex(ixm); err != nil {
		return nil, err
	}
	if err := e.db.DDLSync("create index", ixm); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE INDEX"}, nil
}

// verifyUniqueBackfill rejects a unique index over data that already
// contains duplicates among visible rows.
func (e *Executor) verifyUniqueBackfill(sess *Session, meta *catalog.TableMeta, cols []string) error {
	tbl, err := e.db.Heap(meta.Name)
	if err != nil {
		return err
	}
	cis := make([]int, len(cols))
	for i, c := range cols {
		cis[i] = meta.ColumnIndex(c)
	}
	seen := map[string]bool{}
	return tbl.Scan(func(_ heap.TID, row sql.Row) error {
		if !e.visible(sess, row) {
			return nil
		}
		parts := make([]sql.Value, len(cis))
		for i, ci := range cis {
			parts[i] = row.Values[ci]
		}
		if index.HasNull(parts) {
			return nil
		}
		key := index.EncodeKey(parts)
		if seen[key] {
			return fmt.Errorf("could not create unique index: %w", ErrUniqueViolation)
		}
		seen[key] = true
		return nil
	})
}

func (e *Executor) execDropIndex(sess *Session, stmt *sql.DropIndexStmt) (*Result, error) {
	cat := e.db.Catalog()
	ixm, ok := cat.Index(stmt.Name)
	if !ok {
		return nil, fmt.Errorf("index %q does not exist", stmt.Name)
	}
	meta, _ := cat.Table(ixm.Table)
	if meta != nil {
		if err := e.requireOwner(sess, meta.Owner); err != nil {
			return nil, err
		}
	}
	if err := cat.DropIndex(stmt.Name); err != nil {
		return nil, err
	}
	if err := e.db.DropIndex(stmt.Name); err != nil {
		return nil, err
	}
	if err := e.db.DDLSync("drop index", stmt.Name); err != nil {
		return nil, err
	}
	return &Result{Tag: "DROP INDEX"}, nil
}

func (e *Executor) execCreateView(sess *Session, stmt *sql.CreateViewStmt) (*Result, error) {
	v := &catalog.ViewMeta{Name: stmt.Name, Owner: sess.User, Query: stmt.Query}
	if err := e.db.Catalog().CreateView(v); err != nil {
		return nil, err
	}
	if err := e.db.DDLSync("create view", v); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE VIEW"}, nil
}

func (e *Executor) execDropView(sess *Session, stmt *sql.DropViewStmt) (*Result, error) {
	cat := e.db.Catalog()
	v, ok := cat.View(stmt.Name)
	if !ok {
		return nil, fmt.Errorf("view %q does not exist", stmt.Name)
	}
	if err := e.requireOwner(sess, v.Owner); err != nil {
		return nil, err
	}
	if err := cat.DropView(stmt.Name); err != nil {
		return nil, err
	}
	if err := e.db.DDLSync("drop view", stmt.Name); err != nil {
		return nil, err
	}
	return &Result{Tag: "DROP VIEW"}, nil
}

// ---- roles and grants ----

func (e *Executor) execCreateRole(sess *Session, stmt *sql.CreateRoleStmt) (*Result, error) {
	if err := e.requireSuperuser(sess); err != nil {
		return nil, err
	}
	if err := e.db.Catalog().CreateRole(stmt.Name, stmt.Superuser, stmt.Login, stmt.Password); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE ROLE"}, nil
}

func (e *Executor) execDropRole(sess *Session, stmt *sql.DropRoleStmt) (*Result, error) {
	if err := e.requireSuperuser(sess); err != nil {
		return nil, err
	}
	if stmt.Name == sess.User {
		return nil, fmt.Errorf("current user cannot be dropped")
	}
	for _, t := range e.db.Catalog().Tables() {
		if t.Owner == stmt.Name {
			return nil, fmt.Errorf("role %q cannot be dropped because table %q depends on it", stmt.Name, t.Name)
		}
	}
	if err := e.db.Catalog().DropRole(stmt.Name); err != nil {
		return nil, err
	}
	return &Result{Tag: "DROP ROLE"}, nil
}

func (e *Executor) execGrantRole(sess *Session, stmt *sql.GrantRoleStmt) (*Result, error) {
	if err := e.requireSuperuser(sess); err != nil {
		return nil, err
	}
	if err := e.db.Catalog().GrantRole(stmt.Role, stmt.To); err != nil {
		return nil, err
	}
	return &Result{Tag: "GRANT ROLE"}, nil
}

func (e *Executor) execRevokeRole(sess *Session, stmt *sql.RevokeRoleStmt) (*Result, error) {
	if err := e.requireSuperuser(sess); err != nil {
		return nil, err
	}
	if err := e.db.Catalog().RevokeRole(stmt.Role, stmt.From); err != nil {
		return nil, err
	}
	return &Result{Tag: "REVOKE ROLE"}, nil
}

func privilegeList(names []string) ([]catalog.Privilege, error) {
	var out []catalog.Privilege
	for _, n := range names {
		switch n {
		case "SELECT":
			out = append(out, catalog.PrivSelect)
		case "INSERT":
			out = append(out, catalog.PrivInsert)
		case "UPDATE":
			out = append(out, catalog.PrivUpdate)
		case "DELETE":
			out = append(out, catalog.PrivDelete)
		case "ALL":
			out = append(out, catalog.PrivSelect, catalog.PrivInsert, catalog.PrivUpdate, catalog.PrivDelete)
		default:
			return nil, fmt.Errorf("unknown privilege %q", n)
		}
	}
	return out, nil
}

func (e *Executor) execGrantPrivilege(sess *Session, stmt *sql.GrantPrivilegeStmt) (*Result, error) {
	cat := e.db.Catalog()
	meta, ok := cat.Table(stmt.Table)
	if ok {
		if err := e.requireOwner(sess, meta.Owner); err != nil {
			return nil, err
		}
	} else if v, vok := cat.View(stmt.Table); vok {
		if err := e.requireOwner(sess, v.Owner); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("relation %q does not exist", stmt.Table)
	}
	privs, err := privilegeList(stmt.Privileges)
	if err != nil {
		return nil, err
	}
	if err := cat.GrantPrivileges(stmt.Table, stmt.To, privs); err != nil {
		return nil, err
	}
	return &Result{Tag: "GRANT"}, nil
}

func (e *Executor) execRevokePrivilege(sess *Session, stmt *sql.RevokePrivilegeStmt) (*Result, error) {
	cat := e.db.Catalog()
	meta, ok := cat.Table(stmt.Table)
	if ok {
		if err := e.requireOwner(sess, meta.Owner); err != nil {
			return nil, err
		}
	} else if v, vok := cat.View(stmt.Table); vok {
		if err := e.requireOwner(sess, v.Owner); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("relation %q does not exist", stmt.Table)
	}
	privs, err := privilegeList(stmt.Privileges)
	if err != nil {
		return nil, err
	}
	if err := cat.RevokePrivileges(stmt.Table, stmt.From, privs); err != nil {
		return nil, err
	}
	return &Result{Tag: "REVOKE"}, nil
}
