package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrNoSuchPage  = errors.New("pager: page beyond end of table file")
	ErrNoSuchTable = errors.New("pager: table file not open")
)

// PageID names one page of one table. Page numbers are table-scoped.
type PageID struct {
	Table  string
	PageNo uint32
}

// Pager owns the per-table page files under the storage root. Each
// table is a single append-growing file of 8 KiB pages named
// <table>.db. Reads and writes here bypass the buffer pool; the pool
// sits on top.
type Pager struct {
	mu    sync.Mutex
	dir   string
	files map[string]*os.File
}

func NewPager(dir string) (*Pager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Pager{dir: dir, files: make(map[string]*os.File)}, nil
}

func (pg *Pager) tablePath(table string) string {
	return filepath.Join(pg.dir, table+".db")
}

func (pg *Pager) file(table string) (*os.File, error) {
	if f, ok := pg.files[table]; ok {
		return f, nil
	}
	f, err := os.OpenFile(pg.tablePath(table), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", table, err)
	}
	pg.files[table] = f
	return f, nil
}

// PageCount reports how many pages the table file currently holds.
func (pg *Pager) PageCount(table string) (uint32, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	f, err := pg.file(table)
	if err != nil {
		return 0, err
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return uint32(st.Size() / PageSize), nil
}

// AllocatePage extends the table file by one zero page and returns its
// page number.
func (pg *Pager) AllocatePage(table string) (uint32, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	f, err := pg.file(table)
	if err != nil {
		return 0, err
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pageNo := uint32(st.Size() / PageSize)
	zero := make([]byte, PageSize)
	if _, err := NewPage(zero, pageNo); err != nil {
		return 0, err
	}
	if _, err := f.WriteAt(zero, st.Size()); err != nil {
		return 0, err
	}
	return pageNo, nil
}

// ReadPage reads one raw page image.
func (pg *Pager) ReadPage(id PageID) ([]byte, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	f, err := pg.file(id.Table)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, PageSize)
	if _, err := f.ReadAt(buf, int64(id.PageNo)*PageSize); err != nil {
		return nil, fmt.Errorf("%w: %s page %d", ErrNoSuchPage, id.Table, id.PageNo)
	}
	return buf, nil
}

// WritePage writes one raw page image at its slot, extending the file
// if the page is new.
func (pg *Pager) WritePage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return ErrWrongSize
	}
	pg.mu.Lock()
	defer pg.mu.Unlock()
	f, err := pg.file(id.Table)
	if err != nil {
		return err
	}
	_, err = f.WriteAt(buf, int64(id.PageNo)*PageSize)
	return err
}

// Fsync flushes every open table file to disk.
func (pg *Pager) Fsync() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	for table, f := range pg.files {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("pager: fsync %s: %w", table, err)
		}
	}
	return nil
}

// CreateTable creates an empty table file.
func (pg *Pager) CreateTable(table string) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	_, err := pg.file(table)
	return err
}

// RemoveTable closes and deletes the table file.
func (pg *Pager) RemoveTable(table string) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if f, ok := pg.files[table]; ok {
		_ = f.Close()
		delete(pg.files, table)
	}
	err := os.Remove(pg.tablePath(table))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RenameTable moves the page file for ALTER TABLE ... RENAME TO.
func (pg *Pager) RenameTable(oldName, newName string) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if f, ok := pg.files[oldName]; ok {
		_ = f.Close()
		delete(pg.files, oldName)
	}
	return os.Rename(pg.tablePath(oldName), pg.tablePath(newName))
}

// TableSize reports the table file size in bytes (pg_table_size).
func (pg *Pager) TableSize(table string) (int64, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	st, err := os.Stat(pg.tablePath(table))
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (pg *Pager) Close() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	var firstErr error
	for _, f := range pg.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	pg.files = make(map[string]*os.File)
	return firstErr
}
