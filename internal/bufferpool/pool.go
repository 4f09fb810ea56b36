package bufferpool

import (
	"container/list"
	"errors"
	"sync"

	"github.com/tuannm99/novapg/internal/storage"
)

var (
	DefaultCapacity = 256

	ErrPoolExhausted = errors.New("bufferpool: no evictable frame (all pinned)")
	ErrNotResident   = errors.New("bufferpool: page not resident")
)

// Frame is one cached page with its in-memory-only metadata. Pin count
// and dirty flag never reach disk.
type Frame struct {
	ID    storage.PageID
	Page  *storage.Page
	Dirty bool
	Pin   int

	elem *list.Element
}

// Pool is a fixed-capacity LRU cache of pages keyed by page id.
// A pinned frame is never evicted; a dirty victim is flushed before
// its frame is reused.
type Pool struct {
	pager *storage.Pager

	mu       sync.Mutex
	capacity int
	frames   map[storage.PageID]*Frame
	lru      *list.List // front = most recently used, values are *Frame
}

func NewPool(pager *storage.Pager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		pager:    pager,
		capacity: capacity,
		frames:   make(map[storage.PageID]*Frame),
		lru:      list.New(),
	}
}

// Fetch returns the page pinned. On a miss the page is loaded from
// disk, evicting the least-recently-used unpinned frame if the pool is
// full.
func (p *Pool) Fetch(id storage.PageID) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.frames[id]; ok {
		f.Pin++
		p.lru.MoveToFront(f.elem)
		return f, nil
	}

	if len(p.frames) >= p.capacity {
		if err := p.evictLocked(); err != nil {
			return nil, err
		}
	}

	buf, err := p.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	page, err := storage.Load(buf)
	if err != nil {
		return nil, err
	}
	f := &Frame{ID: id, Page: page, Pin: 1}
	f.elem = p.lru.PushFront(f)
	p.frames[id] = f
	return f, nil
}

// evictLocked removes the least-recently-used frame with pin count 0,
// flushing it first if dirty.
func (p *Pool) evictLocked() error {
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		f := e.Value.(*Frame)
		if f.Pin > 0 {
			continue
		}
		if f.Dirty {
			if err := p.pager.WritePage(f.ID, f.Page.Buf); err != nil {
				return err
			}
		}
		p.lru.Remove(e)
		delete(p.frames, f.ID)
		return nil
	}
	return ErrPoolExhausted
}

// Unpin releases one pin and optionally marks the frame dirty.
func (p *Pool) Unpin(f *Frame, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f.Pin > 0 {
		f.Pin--
	}
	if dirty {
		f.Dirty = true
	}
}

// FlushPage writes a resident page to disk and clears its dirty flag.
func (p *Pool) FlushPage(id storage.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.frames[id]
	if !ok {
		return ErrNotResident
	}
	if err := p.pager.WritePage(f.ID, f.Page.Buf); err != nil {
		return err
	}
	f.Dirty = false
	return nil
}

// FlushAll writes every dirty resident page to disk.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.frames {
		if !f.Dirty {
			continue
		}
		if err := p.pager.WritePage(f.ID, f.Page.Buf); err != nil {
			return err
		}
		f.Dirty = false
	}
	return nil
}

// DirtyPages lists the ids of resident dirty pages.
func (p *Pool) DirtyPages() []storage.PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []storage.PageID
	for id, f := range p.frames {
		if f.Dirty {
			ids = append(ids, id)
		}
	}
	return ids
}

// DropTable discards every resident frame of a table without flushing.
// Used by DROP TABLE after the file is gone.
func (p *Pool) DropTable(table string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, f := range p.frames {
		if id.Table != table {
			continue
		}
		p.lru.Remove(f.elem)
		delete(p.frames, id)
	}
}

// RenameTable rekeys resident frames for ALTER TABLE ... RENAME TO.
func (p *Pool) RenameTable(oldName, newName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, f := range p.frames {
		if id.Table != oldName {
			continue
		}
		delete(p.frames, id)
		f.ID.Table = newName
		p.frames[f.ID] = f
	}
}
