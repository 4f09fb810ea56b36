package pgwire

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novapg/internal/engine"
	"github.com/tuannm99/novapg/internal/executor"
	"github.com/tuannm99/novapg/internal/sql"
)

func TestCountParams(t *testing.T) {
	assert.Equal(t, 0, countParams("SELECT 1"))
	assert.Equal(t, 2, countParams("SELECT * FROM t WHERE a = $1 AND b = $2"))
	assert.Equal(t, 12, countParams("SELECT $12"))
	assert.Equal(t, 1, countParams("SELECT $1, $1"))
	assert.Equal(t, 0, countParams("SELECT '$3'"), "placeholders inside strings do not count")
}

func TestInterpolate(t *testing.T) {
	s := func(v string) *string { return &v }

	got, err := interpolate("SELECT * FROM t WHERE id = $1 AND name = $2", []*string{s("42"), s("ada")})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE id = 42 AND name = 'ada'", got)

	got, err = interpolate("UPDATE t SET v = $1", []*string{nil})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE t SET v = NULL", got)

	got, err = interpolate("SELECT '$1' || $1", []*string{s("x")})
	require.NoError(t, err)
	assert.Equal(t, "SELECT '$1' || 'x'", got)

	_, err = interpolate("SELECT $2", []*string{s("x")})
	assert.Error(t, err)
}

func TestParamLiteral(t *testing.T) {
	s := func(v string) *string { return &v }

	assert.Equal(t, "NULL", paramLiteral(nil))
	assert.Equal(t, "42", paramLiteral(s("42")))
	assert.Equal(t, "-1.5", paramLiteral(s("-1.5")))
	assert.Equal(t, "true", paramLiteral(s("true")))
	assert.Equal(t, "'ada'", paramLiteral(s("ada")))
	assert.Equal(t, "'it''s'", paramLiteral(s("it's")), "single quotes are doubled")
	assert.Equal(t, "''", paramLiteral(s("")))
}

func TestSQLState(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("%w \"t_pkey\"", executor.ErrUniqueViolation), "23505"},
		{executor.ErrNotNullViolation, "23502"},
		{executor.ErrFKViolation, "23503"},
		{executor.ErrPermissionDenied, "42501"},
		{executor.ErrReadOnlyRelation, "42809"},
		{executor.ErrDivisionByZero, "22012"},
		{engine.ErrTxAborted, "25P02"},
		{engine.ErrInTxBlock, "25001"},
		{errors.New("syntax error at position 7: unexpected token"), "42601"},
		{errors.New("something else entirely"), "XX000"},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, sqlState(c.err), c.err.Error())
	}
}

func TestTypeOID(t *testing.T) {
	assert.Equal(t, int32(23), typeOID(sql.DataType{Name: sql.TypeInteger}))
	assert.Equal(t, int32(23), typeOID(sql.DataType{Name: sql.TypeSerial}))
	assert.Equal(t, int32(25), typeOID(sql.DataType{Name: sql.TypeText}))
	assert.Equal(t, int32(16), typeOID(sql.DataType{Name: sql.TypeBoolean}))
	assert.Equal(t, int32(1700), typeOID(sql.DataType{Name: sql.TypeNumeric}))
	assert.Equal(t, int32(2950), typeOID(sql.DataType{Name: sql.TypeUUID}))
	assert.Equal(t, int32(25), typeOID(sql.DataType{Name: sql.TypeEnum, EnumName: "mood"}),
		"enums travel as text")
}

func TestTextValue(t *testing.T) {
	s, ok := textValue(sql.NewInt(7))
	assert.True(t, ok)
	assert.Equal(t, "7", s)

	_, ok = textValue(sql.Null())
	assert.False(t, ok)
}

func TestCutZString(t *testing.T) {
	s, rest := cutZString([]byte("hello\x00world\x00"))
	assert.Equal(t, "hello", s)
	s2, rest2 := cutZString(rest)
	assert.Equal(t, "world", s2)
	assert.Empty(t, rest2)
}

func TestStartupParams(t *testing.T) {
	body := []byte("user\x00admin\x00database\x00mydb\x00\x00")
	p := startupParams(body)
	assert.Equal(t, "admin", p["user"])
	assert.Equal(t, "mydb", p["database"])
}
