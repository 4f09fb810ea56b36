package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novapg/internal/storage"
)

func newTestPool(t *testing.T, capacity int) (*Pool, *storage.Pager) {
	t.Helper()
	pg, err := storage.NewPager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	return NewPool(pg, capacity), pg
}

func TestPool_FetchCachesFrame(t *testing.T) {
	pool, pg := newTestPool(t, 4)
	_, err := pg.AllocatePage("t")
	require.NoError(t, err)

	id := storage.PageID{Table: "t", PageNo: 0}
	f1, err := pool.Fetch(id)
	require.NoError(t, err)
	f2, err := pool.Fetch(id)
	require.NoError(t, err)
	assert.Same(t, f1, f2)
	assert.Equal(t, 2, f1.Pin)

	pool.Unpin(f1, false)
	pool.Unpin(f2, false)
	assert.Equal(t, 0, f1.Pin)
}

func TestPool_EvictionFlushesDirtyVictim(t *testing.T) {
	pool, pg := newTestPool(t, 2)
	for i := 0; i < 3; i++ {
		_, err := pg.AllocatePage("t")
		require.NoError(t, err)
	}

	id0 := storage.PageID{Table: "t", PageNo: 0}
	f, err := pool.Fetch(id0)
	require.NoError(t, err)
	_, err = f.Page.InsertTuple([]byte("dirty"))
	require.NoError(t, err)
	pool.Unpin(f, true)

	// fill the pool past capacity so page 0 gets evicted
	for _, n := range []uint32{1, 2} {
		f, err := pool.Fetch(storage.PageID{Table: "t", PageNo: n})
		require.NoError(t, err)
		pool.Unpin(f, false)
	}

	// the eviction must have flushed the dirty image
	buf, err := pg.ReadPage(id0)
	require.NoError(t, err)
	p, err := storage.Load(buf)
	require.NoError(t, err)
	tup, err := p.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("dirty"), tup)
}

func TestPool_PinnedFramesAreNotEvicted(t *testing.T) {
	pool, pg := newTestPool(t, 2)
	for i := 0; i < 3; i++ {
		_, err := pg.AllocatePage("t")
		require.NoError(t, err)
	}

	f0, err := pool.Fetch(storage.PageID{Table: "t", PageNo: 0})
	require.NoError(t, err)
	f1, err := pool.Fetch(storage.PageID{Table: "t", PageNo: 1})
	require.NoError(t, err)

	// both frames pinned: a third fetch has no victim
	_, err = pool.Fetch(storage.PageID{Table: "t", PageNo: 2})
	require.ErrorIs(t, err, ErrPoolExhausted)

	pool.Unpin(f0, false)
	f2, err := pool.Fetch(storage.PageID{Table: "t", PageNo: 2})
	require.NoError(t, err)
	pool.Unpin(f1, false)
	pool.Unpin(f2, false)
}

func TestPool_FlushAll(t *testing.T) {
	pool, pg := newTestPool(t, 4)
	_, err := pg.AllocatePage("t")
	require.NoError(t, err)

	id := storage.PageID{Table: "t", PageNo: 0}
	f, err := pool.Fetch(id)
	require.NoError(t, err)
	_, err = f.Page.InsertTuple([]byte("flushed"))
	require.NoError(t, err)
	pool.Unpin(f, true)

	require.Len(t, pool.DirtyPages(), 1)
	require.NoError(t, pool.FlushAll())
	require.Empty(t, pool.DirtyPages())

	buf, err := pg.ReadPage(id)
	require.NoError(t, err)
	p, err := storage.Load(buf)
	require.NoError(t, err)
	tup, err := p.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("flushed"), tup)
}

func TestPool_DropTableDiscardsFrames(t *testing.T) {
	pool, pg := newTestPool(t, 4)
	_, err := pg.AllocatePage("t")
	require.NoError(t, err)

	f, err := pool.Fetch(storage.PageID{Table: "t", PageNo: 0})
	require.NoError(t, err)
	pool.Unpin(f, true)

	pool.DropTable("t")
	assert.Empty(t, pool.DirtyPages())
}

func TestPool_RenameTableRekeysFrames(t *testing.T) {
	pool, pg := newTestPool(t, 4)
	_, err := pg.AllocatePage("old")
	require.NoError(t, err)

	f, err := pool.Fetch(storage.PageID{Table: "old", PageNo: 0})
	require.NoError(t, err)
	_, err = f.Page.InsertTuple([]byte("kept"))
	require.NoError(t, err)
	pool.Unpin(f, true)

	pool.RenameTable("old", "new")
	require.NoError(t, pg.RenameTable("old", "new"))

	f2, err := pool.Fetch(storage.PageID{Table: "new", PageNo: 0})
	require.NoError(t, err)
	tup, err := f2.Page.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), tup)
	pool.Unpin(f2, false)
}
