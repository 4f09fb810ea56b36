package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPage(t *testing.T) *Page {
	t.Helper()
	p, err := NewPage(make([]byte, PageSize), 0)
	require.NoError(t, err)
	return p
}

func TestNewPage_WrongSize(t *testing.T) {
	_, err := NewPage(make([]byte, 100), 0)
	require.ErrorIs(t, err, ErrWrongSize)
}

func TestPage_InsertAndRead(t *testing.T) {
	p := newTestPage(t)

	idx, err := p.InsertTuple([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = p.InsertTuple([]byte("world!"))
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	tup, err := p.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), tup)

	tup, err = p.ReadTuple(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("world!"), tup)
}

func TestPage_ReadBadSlot(t *testing.T) {
	p := newTestPage(t)
	_, err := p.ReadTuple(0)
	require.ErrorIs(t, err, ErrBadSlot)
	_, err = p.ReadTuple(-1)
	require.ErrorIs(t, err, ErrBadSlot)
}

func TestPage_FreeTuple(t *testing.T) {
	p := newTestPage(t)
	idx, err := p.InsertTuple([]byte("doomed"))
	require.NoError(t, err)

	require.NoError(t, p.FreeTuple(idx))
	_, err = p.ReadTuple(idx)
	require.ErrorIs(t, err, ErrTupleDeleted)

	// freeing a tombstone is a no-op
	require.NoError(t, p.FreeTuple(idx))
}

func TestPage_FillUntilNoSpace(t *testing.T) {
	p := newTestPage(t)
	tup := make([]byte, 100)
	inserted := 0
	for {
		_, err := p.InsertTuple(tup)
		if err != nil {
			require.ErrorIs(t, err, ErrNoSpace)
			break
		}
		inserted++
	}
	// 8192 - 12 header, each tuple costs 104 bytes with its slot
	assert.Equal(t, (PageSize-HeaderSize)/(100+SlotSize), inserted)
}

func TestPage_FreeSpaceAccountingExact(t *testing.T) {
	p := newTestPage(t)
	sizes := []int{17, 1, 250, 64}
	used := 0
	for _, n := range sizes {
		_, err := p.InsertTuple(make([]byte, n))
		require.NoError(t, err)
		used += n + SlotSize
		assert.Equal(t, PageSize-HeaderSize-used, p.FreeBytes())
	}
}

func TestPage_TupleTooLarge(t *testing.T) {
	p := newTestPage(t)
	_, err := p.InsertTuple(make([]byte, PageSize))
	require.ErrorIs(t, err, ErrTupleTooLarge)
}

func TestPage_OverwriteInPlace(t *testing.T) {
	p := newTestPage(t)
	idx, err := p.InsertTuple([]byte("longer tuple body"))
	require.NoError(t, err)

	require.NoError(t, p.OverwriteTuple(idx, []byte("short")))
	tup, err := p.ReadTuple(idx)
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), tup)

	err = p.OverwriteTuple(idx, make([]byte, 200))
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestPage_CompactPreservesSlotIndices(t *testing.T) {
	p := newTestPage(t)
	for i := 0; i < 5; i++ {
		_, err := p.InsertTuple([]byte{byte('a' + i), byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, p.FreeTuple(1))
	require.NoError(t, p.FreeTuple(3))

	before := p.FreeBytes()
	p.Compact()
	assert.Greater(t, p.FreeBytes(), before)

	// survivors keep their slot numbers and contents
	for _, idx := range []int{0, 2, 4} {
		tup, err := p.ReadTuple(idx)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte('a' + idx), byte('a' + idx)}, tup)
	}
	for _, idx := range []int{1, 3} {
		_, err := p.ReadTuple(idx)
		require.ErrorIs(t, err, ErrTupleDeleted)
	}
}

func TestPage_LoadRoundTrip(t *testing.T) {
	p := newTestPage(t)
	_, err := p.InsertTuple([]byte("persisted"))
	require.NoError(t, err)

	img := make([]byte, PageSize)
	copy(img, p.Buf)
	p2, err := Load(img)
	require.NoError(t, err)

	tup, err := p2.ReadTuple(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), tup)
	assert.Equal(t, p.FreeBytes(), p2.FreeBytes())
}

func TestPage_LoadZeroPage(t *testing.T) {
	p, err := Load(make([]byte, PageSize))
	require.NoError(t, err)
	assert.Equal(t, 0, p.NumSlots())
	assert.Equal(t, PageSize-HeaderSize, p.FreeBytes())
}

func TestPage_LiveSlots(t *testing.T) {
	p := newTestPage(t)
	for i := 0; i < 4; i++ {
		_, err := p.InsertTuple([]byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, p.FreeTuple(2))

	var seen []int
	err := p.LiveSlots(func(idx int, tup []byte) error {
		seen = append(seen, idx)
		assert.Equal(t, []byte{byte(idx)}, tup)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, seen)
}
