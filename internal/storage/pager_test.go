package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPager_AllocateAndReadBack(t *testing.T) {
	pg, err := NewPager(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = pg.Close() }()

	require.NoError(t, pg.CreateTable("users"))
	n, err := pg.PageCount("users")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)

	pageNo, err := pg.AllocatePage("users")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), pageNo)

	pageNo, err = pg.AllocatePage("users")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), pageNo)

	n, err = pg.PageCount("users")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	buf, err := pg.ReadPage(PageID{Table: "users", PageNo: 1})
	require.NoError(t, err)
	p, err := Load(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), p.PageNo())
}

func TestPager_WriteAndReadPage(t *testing.T) {
	pg, err := NewPager(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = pg.Close() }()

	_, err = pg.AllocatePage("t")
	require.NoError(t, err)

	img := make([]byte, PageSize)
	p, err := NewPage(img, 0)
	require.NoError(t, err)
	_, err = p.InsertTuple([]byte("on disk"))
	require.NoError(t, err)

	id := PageID{Table: "t", PageNo: 0}
	require.NoError(t, pg.WritePage(id, img))

	back, err := pg.ReadPage(id)
	require.NoError(t, err)
	p2, err := Load(back)
	require.NoError(t, err)
	tup, err := p2.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("on disk"), tup)
}

func TestPager_ReadBeyondEnd(t *testing.T) {
	pg, err := NewPager(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = pg.Close() }()

	require.NoError(t, pg.CreateTable("t"))
	_, err = pg.ReadPage(PageID{Table: "t", PageNo: 5})
	require.ErrorIs(t, err, ErrNoSuchPage)
}

func TestPager_RemoveTable(t *testing.T) {
	pg, err := NewPager(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = pg.Close() }()

	_, err = pg.AllocatePage("gone")
	require.NoError(t, err)
	require.NoError(t, pg.RemoveTable("gone"))

	// removing again is fine; the file is simply absent
	require.NoError(t, pg.RemoveTable("gone"))

	n, err := pg.PageCount("gone")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
}

func TestPager_RenameTable(t *testing.T) {
	pg, err := NewPager(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = pg.Close() }()

	_, err = pg.AllocatePage("old")
	require.NoError(t, err)
	require.NoError(t, pg.RenameTable("old", "new"))

	n, err := pg.PageCount("new")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	sz, err := pg.TableSize("new")
	require.NoError(t, err)
	assert.Equal(t, int64(PageSize), sz)
}
