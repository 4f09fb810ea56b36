// Package index holds the in-memory secondary indexes. Indexes are
// not persisted: the catalog keeps descriptors and the engine rebuilds
// entries by scanning each table at startup.
package index

import (
	"strings"

	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/sql"
)

// Kind selects the index implementation.
type Kind uint8

const (
	KindBTree Kind = iota
	KindHash
)

func (k Kind) String() string {
	if k == KindHash {
		return "hash"
	}
	return "btree"
}

// Index is the shared contract of ordered and hashed indexes. Entries
// map an encoded key to row locators; maintenance is synchronous with
// the DML that produced it, so entries may reference recently-dead
// versions until VACUUM removes them.
type Index interface {
	Name() string
	Table() string
	Columns() []string
	Kind() Kind
	IsUnique() bool

	Insert(key string, tid heap.TID)
	Remove(key string, tid heap.TID)
	LookupEq(key string) []heap.TID
	// LookupRange is meaningful for ordered indexes only; hashed
	// indexes return nil.
	LookupRange(low, high string, lowInc, highInc bool) []heap.TID
	Len() int
}

// New builds an empty index of the requested kind.
func New(kind Kind, name, table string, columns []string, unique bool) Index {
	meta := meta{name: name, table: table, columns: columns, unique: unique}
	if kind == KindHash {
		return newHashIndex(meta)
	}
	return newBTreeIndex(meta)
}

type meta struct {
	name    string
	table   string
	columns []string
	unique  bool
}

func (m meta) Name() string      { return m.name }
func (m meta) Table() string     { return m.table }
func (m meta) Columns() []string { return m.columns }
func (m meta) IsUnique() bool    { return m.unique }

// EncodeKey composes an index key from column values. Each component
// is escaped so the separator can never collide with encoded bytes
// (0x00 inside a component becomes 0x00 0xff; components join on
// 0x00 0x01, which sorts below any escaped content). The mapping is
// order-preserving, so single-column range scans and composite
// equality both work off the same encoding.
func EncodeKey(vals []sql.Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strings.ReplaceAll(v.SortKey(), "\x00", "\x00\xff")
	}
	return strings.Join(parts, "\x00\x01")
}

// HasNull reports whether any key component is NULL; null keys are
// exempt from uniqueness and never indexed for equality lookups.
func HasNull(vals []sql.Value) bool {
	for _, v := range vals {
		if v.IsNull() {
			return true
		}
	}
	return false
}
