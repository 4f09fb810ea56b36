// Package catalog persists the schema: tables, indexes, views, roles,
// privileges and enum types. The whole catalog is one JSON document
// rewritten atomically on every schema change; it is small and changes
// rarely, so the simplicity wins over incremental formats.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const fileName = "catalog.db"

var (
	ErrTableExists   = errors.New("catalog: table already exists")
	ErrNoSuchTable   = errors.New("catalog: table does not exist")
	ErrIndexExists   = errors.New("catalog: index already exists")
	ErrNoSuchIndex   = errors.New("catalog: index does not exist")
	ErrViewExists    = errors.New("catalog: view already exists")
	ErrNoSuchView    = errors.New("catalog: view does not exist")
	ErrRoleExists    = errors.New("catalog: role already exists")
	ErrNoSuchRole    = errors.New("catalog: role does not exist")
	ErrEnumExists    = errors.New("catalog: type already exists")
	ErrNoSuchEnum    = errors.New("catalog: type does not exist")
	ErrRoleCycle     = errors.New("catalog: role membership would create a cycle")
	ErrDependentRows = errors.New("catalog: column is referenced by a foreign key")
)

// state is the serialized form of the catalog.
type state struct {
	Tables     map[string]*TableMeta `json:"tables"`
	Views      map[string]*ViewMeta  `json:"views"`
	Roles      map[string]*Role      `json:"roles"`
	Enums      map[string][]string   `json:"enums"`
	Privileges []*TablePrivilege     `json:"privileges"`
	Database   string                `json:"database"`
}

// Catalog is the in-memory schema with a file behind it. Methods that
// mutate the schema persist before returning.
type Catalog struct {
	mu  sync.RWMutex
	dir string
	st  state
}

// Open loads the catalog from dir, creating an empty one on first run.
func Open(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir, st: state{
		Tables: make(map[string]*TableMeta),
		Views:  make(map[string]*ViewMeta),
		Roles:  make(map[string]*Role),
		Enums:  make(map[string][]string),
	}}
	raw, err := os.ReadFile(c.path())
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}
	if err := json.Unmarshal(raw, &c.st); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if c.st.Tables == nil {
		c.st.Tables = make(map[string]*TableMeta)
	}
	if c.st.Views == nil {
		c.st.Views = make(map[string]*ViewMeta)
	}
	if c.st.Roles == nil {
		c.st.Roles = make(map[string]*Role)
	}
	if c.st.Enums == nil {
		c.st.Enums = make(map[string][]string)
	}
	return c, nil
}

func (c *Catalog) path() string { return filepath.Join(c.dir, fileName) }

// save writes the catalog via a temp file and rename so a crash never
// leaves a half-written document. Callers hold c.mu.
func (c *Catalog) save() error {
	raw, err := json.MarshalIndent(&c.st, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode: %w", err)
	}
	tmp := c.path() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("catalog: write: %w", err)
	}
	if err := os.Rename(tmp, c.path()); err != nil {
		return fmt.Errorf("catalog: rename: %w", err)
	}
	return nil
}

// Snapshot returns the serialized catalog, used to embed schema state
// in checkpoint records.
func (c *Catalog) Snapshot() (json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(&c.st)
}

// DatabaseName reports the database this catalog belongs to.
func (c *Catalog) DatabaseName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st.Database
}

// SetDatabaseName is called once by initdb.
func (c *Catalog) SetDatabaseName(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Database = name
	return c.save()
}

// ---- tables ----

func (c *Catalog) Table(name string) (*TableMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.st.Tables[name]
	return t, ok
}

// Tables lists table metadata sorted by name.
func (c *Catalog) Tables() []*TableMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TableMeta, 0, len(c.st.Tables))
	for _, t := range c.st.Tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) CreateTable(t *TableMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Tables[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, t.Name)
	}
	if _, ok := c.st.Views[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, t.Name)
	}
	if t.Sequences == nil {
		t.Sequences = make(map[string]int64)
	}
	c.st.Tables[t.Name] = t
	return c.save()
}

func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Tables[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	delete(c.st.Tables, name)
	// indexes live inside TableMeta; privileges on the table go too
	kept := c.st.Privileges[:0]
	for _, p := range c.st.Privileges {
		if p.Table != name {
			kept = append(kept, p)
		}
	}
	c.st.Privileges = kept
	return c.save()
}

// Referencing returns tables whose foreign keys point at the given
// table, excluding the table itself.
func (c *Catalog) Referencing(table string) []*TableMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*TableMeta
	for _, t := range c.st.Tables {
		if t.Name == table {
			continue
		}
		for _, col := range t.Columns {
			if col.ForeignKey != nil && col.ForeignKey.Table == table {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) RenameTable(oldName, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.st.Tables[oldName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, oldName)
	}
	if _, ok := c.st.Tables[newName]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, newName)
	}
	delete(c.st.Tables, oldName)
	t.Name = newName
	for i := range t.Indexes {
		t.Indexes[i].Table = newName
	}
	c.st.Tables[newName] = t
	// foreign keys elsewhere keep following the table under its new name
	for _, other := range c.st.Tables {
		for i := range other.Columns {
			if fk := other.Columns[i].ForeignKey; fk != nil && fk.Table == oldName {
				fk.Table = newName
			}
		}
	}
	for _, p := range c.st.Privileges {
		if p.Table == oldName {
			p.Table = newName
		}
	}
	return c.save()
}

// UpdateTable persists mutations made to a TableMeta returned by
// Table (column changes, sequence bumps, owner changes).
func (c *Catalog) UpdateTable(t *TableMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Tables[t.Name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, t.Name)
	}
	c.st.Tables[t.Name] = t
	return c.save()
}

// ---- indexes ----

func (c *Catalog) Index(name string) (*IndexMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.st.Tables {
		for i := range t.Indexes {
			if t.Indexes[i].Name == name {
				return &t.Indexes[i], true
			}
		}
	}
	return nil, false
}

func (c *Catalog) AddIndex(ix IndexMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexExistsLocked(ix.Name) {
		return fmt.Errorf("%w: %s", ErrIndexExists, ix.Name)
	}
	t, ok := c.st.Tables[ix.Table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, ix.Table)
	}
	t.Indexes = append(t.Indexes, ix)
	return c.save()
}

func (c *Catalog) indexExistsLocked(name string) bool {
	for _, t := range c.st.Tables {
		for i := range t.Indexes {
			if t.Indexes[i].Name == name {
				return true
			}
		}
	}
	return false
}

func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.st.Tables {
		for i := range t.Indexes {
			if t.Indexes[i].Name == name {
				t.Indexes = append(t.Indexes[:i], t.Indexes[i+1:]...)
				return c.save()
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrNoSuchIndex, name)
}

// ---- views ----

func (c *Catalog) View(name string) (*ViewMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.st.Views[name]
	return v, ok
}

func (c *Catalog) Views() []*ViewMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ViewMeta, 0, len(c.st.Views))
	for _, v := range c.st.Views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) CreateView(v *ViewMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Views[v.Name]; ok {
		return fmt.Errorf("%w: %s", ErrViewExists, v.Name)
	}
	if _, ok := c.st.Tables[v.Name]; ok {
		return fmt.Errorf("%w: %s", ErrViewExists, v.Name)
	}
	c.st.Views[v.Name] = v
	return c.save()
}

func (c *Catalog) DropView(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Views[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchView, name)
	}
	delete(c.st.Views, name)
	return c.save()
}

// ---- enum types ----

func (c *Catalog) Enum(name string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	labels, ok := c.st.Enums[name]
	return labels, ok
}

// Enums returns label lists keyed by type name; the executor passes
// this map into sql.Coerce.
func (c *Catalog) Enums() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]string, len(c.st.Enums))
	for k, v := range c.st.Enums {
		out[k] = v
	}
	return out
}

func (c *Catalog) CreateEnum(name string, labels []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Enums[name]; ok {
		return fmt.Errorf("%w: %s", ErrEnumExists, name)
	}
	c.st.Enums[name] = labels
	return c.save()
}

// ---- roles and privileges ----

func (c *Catalog) Role(name string) (*Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.st.Roles[name]
	return r, ok
}

func (c *Catalog) Roles() []*Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Role, 0, len(c.st.Roles))
	for _, r := range c.st.Roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateRole hashes the password with bcrypt before storing. An empty
// password stores no hash, which blocks password login for the role.
func (c *Catalog) CreateRole(name string, superuser, login bool, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Roles[name]; ok {
		return fmt.Errorf("%w: %s", ErrRoleExists, name)
	}
	r := &Role{Name: name, Superuser: superuser, Login: login}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("catalog: hash password: %w", err)
		}
		r.PasswordHash = hash
	}
	c.st.Roles[name] = r
	return c.save()
}

func (c *Catalog) DropRole(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Roles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchRole, name)
	}
	delete(c.st.Roles, name)
	for _, r := range c.st.Roles {
		r.MemberOf = removeString(r.MemberOf, name)
	}
	kept := c.st.Privileges[:0]
	for _, p := range c.st.Privileges {
		if p.Role != name {
			kept = append(kept, p)
		}
	}
	c.st.Privileges = kept
	return c.save()
}

// Authenticate checks a cleartext password against the stored bcrypt
// hash. Roles without LOGIN or without a password always fail.
func (c *Catalog) Authenticate(name, password string) bool {
	c.mu.RLock()
	r, ok := c.st.Roles[name]
	c.mu.RUnlock()
	if !ok || !r.Login || len(r.PasswordHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(r.PasswordHash, []byte(password)) == nil
}

// GrantRole adds member to the role, rejecting self-grants and cycles.
func (c *Catalog) GrantRole(role, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Roles[role]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchRole, role)
	}
	m, ok := c.st.Roles[member]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchRole, member)
	}
	if role == member || c.reachableLocked(role, member) {
		return fmt.Errorf("%w: %s -> %s", ErrRoleCycle, member, role)
	}
	for _, g := range m.MemberOf {
		if g == role {
			return nil
		}
	}
	m.MemberOf = append(m.MemberOf, role)
	return c.save()
}

func (c *Catalog) RevokeRole(role, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.st.Roles[member]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchRole, member)
	}
	m.MemberOf = removeString(m.MemberOf, role)
	return c.save()
}

// reachableLocked reports whether `to` is in the membership closure of
// `from`.
func (c *Catalog) reachableLocked(from, to string) bool {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if r, ok := c.st.Roles[cur]; ok {
			stack = append(stack, r.MemberOf...)
		}
	}
	return false
}

// Closure returns the role and every role it is transitively a member
// of. Cycles cannot occur (GrantRole rejects them) but the walk is
// guarded anyway.
func (c *Catalog) Closure(name string) map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := map[string]bool{}
	stack := []string{name}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[cur] {
			continue
		}
		out[cur] = true
		if r, ok := c.st.Roles[cur]; ok {
			stack = append(stack, r.MemberOf...)
		}
	}
	return out
}

func (c *Catalog) GrantPrivileges(table, role string, privs []Privilege) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.Tables[table]; !ok {
		if _, vok := c.st.Views[table]; !vok {
			return fmt.Errorf("%w: %s", ErrNoSuchTable, table)
		}
	}
	if _, ok := c.st.Roles[role]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchRole, role)
	}
	rec := c.privLocked(table, role)
	if rec == nil {
		rec = &TablePrivilege{Table: table, Role: role, Privileges: map[Privilege]bool{}}
		c.st.Privileges = append(c.st.Privileges, rec)
	}
	for _, p := range privs {
		rec.Privileges[p] = true
	}
	return c.save()
}

func (c *Catalog) RevokePrivileges(table, role string, privs []Privilege) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.privLocked(table, role)
	if rec == nil {
		return nil
	}
	for _, p := range privs {
		delete(rec.Privileges, p)
	}
	if len(rec.Privileges) == 0 {
		kept := c.st.Privileges[:0]
		for _, p := range c.st.Privileges {
			if p != rec {
				kept = append(kept, p)
			}
		}
		c.st.Privileges = kept
	}
	return c.save()
}

func (c *Catalog) privLocked(table, role string) *TablePrivilege {
	for _, p := range c.st.Privileges {
		if p.Table == table && p.Role == role {
			return p
		}
	}
	return nil
}

// HasPrivilege checks a role (through its membership closure) for one
// privilege on a table. Superusers and owners pass everything.
func (c *Catalog) HasPrivilege(role, table string, priv Privilege) bool {
	c.mu.RLock()
	r, ok := c.st.Roles[role]
	if ok && r.Superuser {
		c.mu.RUnlock()
		return true
	}
	owner := ""
	if t, tok := c.st.Tables[table]; tok {
		owner = t.Owner
	} else if v, vok := c.st.Views[table]; vok {
		owner = v.Owner
	}
	c.mu.RUnlock()

	closure := c.Closure(role)
	if owner != "" && closure[owner] {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.st.Privileges {
		if p.Table == table && closure[p.Role] && p.Privileges[priv] {
			return true
		}
	}
	return false
}

// Privileges lists all privilege records sorted by (table, role).
func (c *Catalog) Privileges() []*TablePrivilege {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TablePrivilege, len(c.st.Privileges))
	copy(out, c.st.Privileges)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Role < out[j].Role
	})
	return out
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
