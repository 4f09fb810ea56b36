package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novapg/internal/bufferpool"
	"github.com/tuannm99/novapg/internal/sql"
	"github.com/tuannm99/novapg/internal/storage"
	"github.com/tuannm99/novapg/internal/wal"
)

var testCols = []sql.Column{
	{Name: "id", Type: sql.DataType{Name: sql.TypeInteger}},
	{Name: "name", Type: sql.DataType{Name: sql.TypeText}},
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	dir := t.TempDir()
	pg, err := storage.NewPager(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	pool := bufferpool.NewPool(pg, 16)
	w, err := wal.Open(dir + "/wal")
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	tbl, err := Open("users", testCols, pool, pg, w)
	require.NoError(t, err)
	return tbl
}

func row(id int64, name string) sql.Row {
	return sql.Row{Values: []sql.Value{sql.NewInt(id), sql.NewText(name)}}
}

func TestTable_InsertAndGet(t *testing.T) {
	tbl := newTestTable(t)

	tid, err := tbl.Insert(row(1, "ada"), 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), tid.PageNo)
	assert.Equal(t, uint16(0), tid.Slot)

	got, err := tbl.Get(tid)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Xmin)
	assert.Equal(t, uint64(0), got.Xmax)
	assert.Equal(t, int64(1), got.Values[0].I)
	assert.Equal(t, "ada", got.Values[1].S)
}

func TestTable_StampXmax(t *testing.T) {
	tbl := newTestTable(t)
	tid, err := tbl.Insert(row(1, "ada"), 5)
	require.NoError(t, err)

	require.NoError(t, tbl.StampXmax(tid, 9))
	got, err := tbl.Get(tid)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.Xmax)
}

func TestTable_InsertVersionKeepsBothVersions(t *testing.T) {
	tbl := newTestTable(t)
	oldTID, err := tbl.Insert(row(1, "ada"), 5)
	require.NoError(t, err)

	require.NoError(t, tbl.StampXmax(oldTID, 8))
	newTID, err := tbl.InsertVersion(oldTID, row(1, "grace"), 8, 0)
	require.NoError(t, err)
	require.NotEqual(t, oldTID, newTID)

	old, err := tbl.Get(oldTID)
	require.NoError(t, err)
	assert.Equal(t, "ada", old.Values[1].S)
	assert.Equal(t, uint64(8), old.Xmax)

	cur, err := tbl.Get(newTID)
	require.NoError(t, err)
	assert.Equal(t, "grace", cur.Values[1].S)
	assert.Equal(t, uint64(8), cur.Xmin)
}

func TestTable_ScanVisitsAllVersions(t *testing.T) {
	tbl := newTestTable(t)
	for i := int64(0); i < 10; i++ {
		_, err := tbl.Insert(row(i, "x"), 1)
		require.NoError(t, err)
	}

	var ids []int64
	err := tbl.Scan(func(tid TID, r sql.Row) error {
		ids = append(ids, r.Values[0].I)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ids)
}

func TestTable_FreeAndScanSkipsTombstones(t *testing.T) {
	tbl := newTestTable(t)
	tid1, err := tbl.Insert(row(1, "a"), 1)
	require.NoError(t, err)
	_, err = tbl.Insert(row(2, "b"), 1)
	require.NoError(t, err)

	require.NoError(t, tbl.Free(tid1))
	_, err = tbl.Get(tid1)
	require.ErrorIs(t, err, ErrNoSuchRow)

	var ids []int64
	err = tbl.Scan(func(_ TID, r sql.Row) error {
		ids = append(ids, r.Values[0].I)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestTable_SpillsToSecondPage(t *testing.T) {
	tbl := newTestTable(t)
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	var last TID
	for i := int64(0); i < 20; i++ {
		tid, err := tbl.Insert(row(i, string(long)), 1)
		require.NoError(t, err)
		last = tid
	}
	assert.Greater(t, tbl.PageCount(), uint32(1))
	assert.Greater(t, last.PageNo, uint32(0))

	got, err := tbl.Get(last)
	require.NoError(t, err)
	assert.Equal(t, int64(19), got.Values[0].I)
}

func TestTable_Overwrite(t *testing.T) {
	tbl := newTestTable(t)
	tid, err := tbl.Insert(row(1, "original"), 3)
	require.NoError(t, err)

	// shorter encoding fits in place and keeps the locator
	newTID, err := tbl.Overwrite(tid, sql.Row{
		Xmin:   3,
		Values: []sql.Value{sql.NewInt(1), sql.NewText("new")},
	})
	require.NoError(t, err)
	assert.Equal(t, tid, newTID)

	got, err := tbl.Get(newTID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Values[1].S)
	assert.Equal(t, uint64(3), got.Xmin)
}

func TestTable_ReplayInsertIsIdempotent(t *testing.T) {
	tbl := newTestTable(t)
	tid, err := tbl.Insert(row(1, "ada"), 5)
	require.NoError(t, err)

	tup, err := storage.EncodeRow(testCols, sql.Row{Xmin: 5, Values: row(1, "ada").Values})
	require.NoError(t, err)

	// slot already materialized: replay leaves it alone
	require.NoError(t, tbl.ReplayInsert(tid, tup))
	got, err := tbl.Get(tid)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Values[1].S)
}

func TestTable_ReplayInsertMaterializesMissingSlot(t *testing.T) {
	dir := t.TempDir()
	pg, err := storage.NewPager(dir)
	require.NoError(t, err)
	defer func() { _ = pg.Close() }()
	pool := bufferpool.NewPool(pg, 16)

	tbl, err := Open("users", testCols, pool, pg, nil)
	require.NoError(t, err)

	tup, err := storage.EncodeRow(testCols, sql.Row{Xmin: 2, Values: row(7, "replayed").Values})
	require.NoError(t, err)

	tid := TID{PageNo: 0, Slot: 0}
	require.NoError(t, tbl.ReplayInsert(tid, tup))

	got, err := tbl.Get(tid)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Values[0].I)
	assert.Equal(t, uint64(2), got.Xmin)
}
