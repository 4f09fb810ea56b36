package catalog

import (
	"github.com/tuannm99/novapg/internal/sql"
)

// IndexKind mirrors index.Kind without importing it (the catalog only
// stores descriptors; live indexes are rebuilt at startup).
type IndexKind string

const (
	IndexBTree IndexKind = "btree"
	IndexHash  IndexKind = "hash"
)

// IndexMeta is the persisted descriptor of one index. Entries are
// never serialized.
type IndexMeta struct {
	Name    string    `json:"name"`
	Table   string    `json:"table"`
	Columns []string  `json:"columns"`
	Kind    IndexKind `json:"kind"`
	Unique  bool      `json:"unique"`
}

// TableMeta is the catalog entry for one table.
type TableMeta struct {
	Name    string       `json:"name"`
	Owner   string       `json:"owner"`
	Columns []sql.Column `json:"columns"`
	// Sequences holds the next value per SERIAL/BIGSERIAL column.
	Sequences map[string]int64 `json:"sequences"`
	Indexes   []IndexMeta      `json:"indexes"`
}

func (t *TableMeta) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (t *TableMeta) Column(name string) *sql.Column {
	if i := t.ColumnIndex(name); i >= 0 {
		return &t.Columns[i]
	}
	return nil
}

// PrimaryKey returns the primary-key column, if any.
func (t *TableMeta) PrimaryKey() *sql.Column {
	for i := range t.Columns {
		if t.Columns[i].PrimaryKey {
			return &t.Columns[i]
		}
	}
	return nil
}

// NextSequence advances and returns the sequence value for a serial
// column.
func (t *TableMeta) NextSequence(column string) int64 {
	v, ok := t.Sequences[column]
	if !ok {
		v = 1
	}
	t.Sequences[column] = v + 1
	return v
}

// BumpSequence raises the sequence past an explicitly inserted value
// so later defaults do not collide.
func (t *TableMeta) BumpSequence(column string, used int64) {
	if v, ok := t.Sequences[column]; ok && used >= v {
		t.Sequences[column] = used + 1
	}
}

// ViewMeta stores the original statement text; it is re-parsed on
// every reference.
type ViewMeta struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
	Query string `json:"query"`
}

// Role is a database role. Membership edges form a directed graph
// whose reflexive transitive closure grants privileges.
type Role struct {
	Name         string   `json:"name"`
	Superuser    bool     `json:"superuser"`
	Login        bool     `json:"login"`
	PasswordHash []byte   `json:"password_hash,omitempty"`
	MemberOf     []string `json:"member_of,omitempty"`
}

// Privilege names one grantable table privilege.
type Privilege string

const (
	PrivSelect Privilege = "SELECT"
	PrivInsert Privilege = "INSERT"
	PrivUpdate Privilege = "UPDATE"
	PrivDelete Privilege = "DELETE"
)

// TablePrivilege is one (table, grantee, privilege set) record.
type TablePrivilege struct {
	Table      string             `json:"table"`
	Role       string             `json:"role"`
	Privileges map[Privilege]bool `json:"privileges"`
}
