// Package engine wires storage, WAL, transactions, catalog and
// executor into one database instance and owns startup recovery,
// checkpointing and session lifecycle.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tuannm99/novapg/internal/bufferpool"
	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/executor"
	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/index"
	"github.com/tuannm99/novapg/internal/sql"
	"github.com/tuannm99/novapg/internal/storage"
	"github.com/tuannm99/novapg/internal/tx"
	"github.com/tuannm99/novapg/internal/wal"
)

// checkpointEvery triggers a checkpoint after this many row mutations.
const checkpointEvery = 100

// Options configure one engine instance.
type Options struct {
	DataDir  string
	PoolSize int
	Logger   *slog.Logger
}

// Engine is one database instance. It implements executor.DB.
type Engine struct {
	log   *slog.Logger
	dir   string
	cat   *catalog.Catalog
	pager *storage.Pager
	pool  *bufferpool.Pool
	wal   *wal.Manager
	txm   *tx.Manager
	exec  *executor.Executor

	mu      sync.RWMutex
	tables  map[string]*heap.Table
	indexes map[string]index.Index
	byTable map[string][]string

	mutMu     sync.Mutex
	mutations int
}

// Open loads (or creates) the database under dir, replays the WAL and
// rebuilds indexes.
func Open(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: data dir: %w", err)
	}

	cat, err := catalog.Open(opts.DataDir)
	if err != nil {
		return nil, err
	}
	pager, err := storage.NewPager(opts.DataDir)
	if err != nil {
		return nil, err
	}
	pool := bufferpool.NewPool(pager, opts.PoolSize)
	w, err := wal.Open(filepath.Join(opts.DataDir, "wal"))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:     opts.Logger,
		dir:     opts.DataDir,
		cat:     cat,
		pager:   pager,
		pool:    pool,
		wal:     w,
		txm:     tx.NewManager(),
		tables:  make(map[string]*heap.Table),
		indexes: make(map[string]index.Index),
		byTable: make(map[string][]string),
	}
	e.exec = executor.New(e)

	for _, meta := range cat.Tables() {
		tbl, err := heap.Open(meta.Name, meta.Columns, pool, pager, w)
		if err != nil {
			return nil, err
		}
		e.tables[meta.Name] = tbl
	}

	if err := e.recover(); err != nil {
		return nil, fmt.Errorf("engine: recovery: %w", err)
	}

	for _, meta := range cat.Tables() {
		for _, ixm := range meta.Indexes {
			if err := e.buildIndex(ixm); err != nil {
				return nil, err
			}
		}
	}

	e.log.Info("engine ready",
		"data_dir", opts.DataDir,
		"tables", len(e.tables),
		"indexes", len(e.indexes),
		"next_tx", e.txm.CurrentTxID())
	return e, nil
}

// Bootstrap creates the initial superuser and database name on a fresh
// data directory. Re-running it on an initialized directory is a no-op.
func (e *Engine) Bootstrap(user, password, database string) error {
	if len(e.cat.Roles()) > 0 {
		return nil
	}
	if err := e.cat.CreateRole(user, true, true, password); err != nil {
		return err
	}
	if err := e.cat.SetDatabaseName(database); err != nil {
		return err
	}
	e.log.Info("database initialized", "database", database, "superuser", user)
	return nil
}

func (e *Engine) Close() error {
	e.log.Info("engine shutting down")
	if err := e.checkpoint(); err != nil {
		e.log.Error("checkpoint on shutdown failed", "error", err)
	}
	if err := e.wal.Close(); err != nil {
		return err
	}
	return e.pager.Close()
}

// DatabaseName reports the bootstrap database name.
func (e *Engine) DatabaseName() string { return e.cat.DatabaseName() }

// Authenticate verifies a role's cleartext password.
func (e *Engine) Authenticate(user, password string) bool {
	return e.cat.Authenticate(user, password)
}

// ---- executor.DB ----

func (e *Engine) Catalog() *catalog.Catalog { return e.cat }
func (e *Engine) Tx() *tx.Manager           { return e.txm }

func (e *Engine) Heap(name string) (*heap.Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tbl, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("engine: no storage for relation %q", name)
	}
	return tbl, nil
}

func (e *Engine) Indexes(table string) []index.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := e.byTable[table]
	out := make([]index.Index, 0, len(names))
	for _, n := range names {
		if ix, ok := e.indexes[n]; ok {
			out = append(out, ix)
		}
	}
	return out
}

func (e *Engine) Index(name string) (index.Index, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ix, ok := e.indexes[name]
	return ix, ok
}

func (e *Engine) CreateTableStorage(meta *catalog.TableMeta) error {
	if err := e.pager.CreateTable(meta.Name); err != nil {
		return err
	}
	tbl, err := heap.Open(meta.Name, meta.Columns, e.pool, e.pager, e.wal)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.tables[meta.Name] = tbl
	e.mu.Unlock()
	return nil
}

func (e *Engine) DropTableStorage(name string) error {
	e.mu.Lock()
	delete(e.tables, name)
	e.mu.Unlock()
	e.pool.DropTable(name)
	return e.pager.RemoveTable(name)
}

func (e *Engine) RenameTableStorage(oldName, newName string) error {
	e.pool.RenameTable(oldName, newName)
	if err := e.pager.RenameTable(oldName, newName); err != nil {
		return err
	}
	meta, ok := e.cat.Table(newName)
	if !ok {
		return fmt.Errorf("engine: renamed relation %q missing from catalog", newName)
	}
	tbl, err := heap.Open(newName, meta.Columns, e.pool, e.pager, e.wal)
	if err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.tables, oldName)
	e.tables[newName] = tbl
	// indexes follow the table
	names := e.byTable[oldName]
	delete(e.byTable, oldName)
	for _, n := range names {
		delete(e.indexes, n)
	}
	e.mu.Unlock()
	for _, ixm := range meta.Indexes {
		if err := e.buildIndex(ixm); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) ReloadTable(meta *catalog.TableMeta) error {
	tbl, err := heap.Open(meta.Name, meta.Columns, e.pool, e.pager, e.wal)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.tables[meta.Name] = tbl
	e.mu.Unlock()
	return nil
}

func (e *Engine) CreateIndex(meta catalog.IndexMeta) error {
	return e.buildIndex(meta)
}

// buildIndex registers an index and backfills it from every stored row
// version, so lookups see the same version set a scan would.
func (e *Engine) buildIndex(ixm catalog.IndexMeta) error {
	kind := index.KindBTree
	if ixm.Kind == catalog.IndexHash {
		kind = index.KindHash
	}
	ix := index.New(kind, ixm.Name, ixm.Table, ixm.Columns, ixm.Unique)

	tbl, err := e.Heap(ixm.Table)
	if err != nil {
		return err
	}
	meta, ok := e.cat.Table(ixm.Table)
	if !ok {
		return fmt.Errorf("engine: relation %q missing from catalog", ixm.Table)
	}
	cis := make([]int, len(ixm.Columns))
	for i, c := range ixm.Columns {
		cis[i] = meta.ColumnIndex(c)
		if cis[i] < 0 {
			return fmt.Errorf("engine: index %q references unknown column %q", ixm.Name, c)
		}
	}
	err = tbl.Scan(func(tid heap.TID, row sql.Row) error {
		parts := make([]sql.Value, len(cis))
		for i, ci := range cis {
			parts[i] = row.Values[ci]
		}
		if index.HasNull(parts) {
			return nil
		}
		ix.Insert(index.EncodeKey(parts), tid)
		return nil
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.indexes[ixm.Name] = ix
	found := false
	for _, n := range e.byTable[ixm.Table] {
		if n == ixm.Name {
			found = true
		}
	}
	if !found {
		e.byTable[ixm.Table] = append(e.byTable[ixm.Table], ixm.Name)
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) DropIndex(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ix, ok := e.indexes[name]
	if !ok {
		return nil
	}
	delete(e.indexes, name)
	names := e.byTable[ix.Table()]
	for i, n := range names {
		if n == name {
			e.byTable[ix.Table()] = append(names[:i], names[i+1:]...)
			break
		}
	}
	return nil
}

// RebuildIndexes rebuilds every index of one table from its heap,
// after a rewrite may have moved tuples.
func (e *Engine) RebuildIndexes(table string) error {
	meta, ok := e.cat.Table(table)
	if !ok {
		return nil
	}
	e.mu.Lock()
	for _, n := range e.byTable[table] {
		delete(e.indexes, n)
	}
	delete(e.byTable, table)
	e.mu.Unlock()
	for _, ixm := range meta.Indexes {
		if err := e.buildIndex(ixm); err != nil {
			return err
		}
	}
	return nil
}

// DDLSync makes a schema change durable: it logs the DDL record,
// flushes all pages and cuts a checkpoint so recovery never replays
// row records across a schema boundary.
func (e *Engine) DDLSync(op string, meta any) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	rec := &wal.Record{Kind: wal.KindAlterTable, Meta: body}
	switch op {
	case "create table":
		rec.Kind = wal.KindCreateTable
	case "drop table":
		rec.Kind = wal.KindDropTable
	}
	if _, err := e.wal.Append(rec); err != nil {
		return err
	}
	return e.checkpoint()
}

func (e *Engine) NoteMutations(n int) {
	if n <= 0 {
		return
	}
	e.mutMu.Lock()
	e.mutations += n
	due := e.mutations >= checkpointEvery
	if due {
		e.mutations = 0
	}
	e.mutMu.Unlock()
	if due {
		if err := e.checkpoint(); err != nil {
			e.log.Error("periodic checkpoint failed", "error", err)
		}
	}
}

func (e *Engine) TableDiskSize(name string) (int64, error) {
	if _, ok := e.cat.Table(name); !ok {
		return 0, fmt.Errorf("relation %q does not exist", name)
	}
	return e.pager.TableSize(name)
}

// DatabaseSize sums every file in the data directory.
func (e *Engine) DatabaseSize() (int64, error) {
	var total int64
	err := filepath.Walk(e.dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// checkpoint flushes all dirty pages, fsyncs the table files and logs
// a checkpoint record carrying the tx high-water mark and active set.
// Older WAL segments become garbage afterwards.
func (e *Engine) checkpoint() error {
	if err := e.pool.FlushAll(); err != nil {
		return err
	}
	if err := e.pager.Fsync(); err != nil {
		return err
	}
	_, err := e.wal.Append(&wal.Record{
		Kind:   wal.KindCheckpoint,
		NextTx: e.txm.CurrentTxID(),
		Active: e.txm.ActiveIDs(),
	})
	if err != nil {
		return err
	}
	if err := e.wal.Sync(); err != nil {
		return err
	}
	if err := e.wal.TruncateOld(); err != nil {
		e.log.Warn("wal truncate failed", "error", err)
	}
	e.log.Debug("checkpoint complete", "next_tx", e.txm.CurrentTxID())
	return nil
}
