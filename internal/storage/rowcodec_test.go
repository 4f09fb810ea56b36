package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novapg/internal/sql"
)

func TestRowCodec_RoundTrip(t *testing.T) {
	cols := []sql.Column{
		{Name: "id", Type: sql.DataType{Name: sql.TypeInteger}},
		{Name: "name", Type: sql.DataType{Name: sql.TypeText}},
		{Name: "price", Type: sql.DataType{Name: sql.TypeNumeric, Precision: 10, Scale: 2}},
		{Name: "active", Type: sql.DataType{Name: sql.TypeBoolean}},
		{Name: "created", Type: sql.DataType{Name: sql.TypeTimestamp}},
		{Name: "token", Type: sql.DataType{Name: sql.TypeUUID}},
		{Name: "blob", Type: sql.DataType{Name: sql.TypeBytea}},
	}
	u := uuid.New()
	ts := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	row := sql.Row{
		Xmin: 7,
		Xmax: 0,
		Values: []sql.Value{
			sql.NewInt(42),
			sql.NewText("widget"),
			sql.NewNumeric(decimal.RequireFromString("19.99")),
			sql.NewBool(true),
			sql.NewTimestamp(ts),
			sql.NewUUID(u),
			sql.NewBytea([]byte{0xde, 0xad}),
		},
	}

	buf, err := EncodeRow(cols, row)
	require.NoError(t, err)

	got, err := DecodeRow(cols, buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Xmin)
	assert.Equal(t, uint64(0), got.Xmax)
	assert.Equal(t, int64(42), got.Values[0].I)
	assert.Equal(t, "widget", got.Values[1].S)
	assert.True(t, got.Values[2].Num.Equal(decimal.RequireFromString("19.99")))
	assert.True(t, got.Values[3].B)
	assert.True(t, got.Values[4].T.Equal(ts))
	assert.Equal(t, u, got.Values[5].U)
	assert.Equal(t, []byte{0xde, 0xad}, got.Values[6].Raw)
}

func TestRowCodec_Nulls(t *testing.T) {
	cols := []sql.Column{
		{Name: "a", Type: sql.DataType{Name: sql.TypeInteger}},
		{Name: "b", Type: sql.DataType{Name: sql.TypeText}},
		{Name: "c", Type: sql.DataType{Name: sql.TypeBoolean}},
	}
	row := sql.Row{Values: []sql.Value{sql.Null(), sql.NewText("x"), sql.Null()}}

	buf, err := EncodeRow(cols, row)
	require.NoError(t, err)
	got, err := DecodeRow(cols, buf)
	require.NoError(t, err)
	assert.True(t, got.Values[0].IsNull())
	assert.Equal(t, "x", got.Values[1].S)
	assert.True(t, got.Values[2].IsNull())
}

func TestRowCodec_SchemaMismatch(t *testing.T) {
	cols := []sql.Column{{Name: "a", Type: sql.DataType{Name: sql.TypeInteger}}}
	_, err := EncodeRow(cols, sql.Row{Values: []sql.Value{sql.NewInt(1), sql.NewInt(2)}})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestRowCodec_StampXmaxInPlace(t *testing.T) {
	cols := []sql.Column{{Name: "a", Type: sql.DataType{Name: sql.TypeInteger}}}
	buf, err := EncodeRow(cols, sql.Row{Xmin: 3, Values: []sql.Value{sql.NewInt(1)}})
	require.NoError(t, err)

	require.NoError(t, StampXmax(buf, 9))
	xmin, xmax, err := TupleXminXmax(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), xmin)
	assert.Equal(t, uint64(9), xmax)

	// payload survives the stamp
	got, err := DecodeRow(cols, buf)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Values[0].I)
}

func TestRowCodec_TruncatedBuffer(t *testing.T) {
	cols := []sql.Column{{Name: "a", Type: sql.DataType{Name: sql.TypeText}}}
	buf, err := EncodeRow(cols, sql.Row{Values: []sql.Value{sql.NewText("abcdef")}})
	require.NoError(t, err)

	_, err = DecodeRow(cols, buf[:len(buf)-3])
	require.ErrorIs(t, err, ErrBadBuffer)
	_, err = DecodeRow(cols, buf[:4])
	require.ErrorIs(t, err, ErrBadBuffer)
}
