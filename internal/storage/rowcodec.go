package storage

import (
	"math"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tuannm99/novapg/internal/sql"
)

var (
	ErrSchemaMismatch  = errors.New("rowcodec: schema/values mismatch")
	ErrBadBuffer       = errors.New("rowcodec: buffer underflow")
	ErrVarTooLong      = errors.New("rowcodec: variable length exceeds u16")
	ErrUnsupportedType = errors.New("rowcodec: unsupported column type")
)

// Tuple layout:
//
//	xmin u64 LE | xmax u64 LE | nullmap ceil(N/8), bit=1 => NULL | fields
//
// Varlen fields (text, char, numeric, json, bytea, enum) are u16
// length + bytes. The xmax word sits at a fixed offset so a delete can
// stamp it in place without re-encoding the tuple.
const (
	xminOff   = 0
	xmaxOff   = 8
	tupleHdr  = 16
	maxVarlen = 1<<16 - 1
)

// EncodeRow serializes a row for the given column list.
func EncodeRow(cols []sql.Column, row sql.Row) ([]byte, error) {
	if len(row.Values) != len(cols) {
		return nil, ErrSchemaMismatch
	}
	nb := (len(cols) + 7) / 8
	out := make([]byte, tupleHdr+nb)
	binary.LittleEndian.PutUint64(out[xminOff:], row.Xmin)
	binary.LittleEndian.PutUint64(out[xmaxOff:], row.Xmax)

	for i, col := range cols {
		v := row.Values[i]
		if v.IsNull() {
			out[tupleHdr+i/8] |= 1 << (uint(i) & 7)
			continue
		}
		var err error
		out, err = appendField(out, col.Type, v)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendField(out []byte, t sql.DataType, v sql.Value) ([]byte, error) {
	switch t.Name {
	case sql.TypeSmallInt:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(int16(v.I)))
		return append(out, b[:]...), nil
	case sql.TypeInteger, sql.TypeSerial, sql.TypeBigSerial:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.I))
		return append(out, b[:]...), nil
	case sql.TypeReal:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F))
		return append(out, b[:]...), nil
	case sql.TypeBoolean:
		if v.B {
			return append(out, 1), nil
		}
		return append(out, 0), nil
	case sql.TypeDate, sql.TypeTimestamp, sql.TypeTimestampTz:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.T.UnixMicro()))
		return append(out, b[:]...), nil
	case sql.TypeUUID:
		return append(out, v.U[:]...), nil
	case sql.TypeNumeric:
		return appendVarlen(out, []byte(v.Num.String()))
	case sql.TypeText, sql.TypeVarchar, sql.TypeChar, sql.TypeJSON, sql.TypeJSONB, sql.TypeEnum:
		return appendVarlen(out, []byte(v.S))
	case sql.TypeBytea:
		return appendVarlen(out, v.Raw)
	}
	return nil, ErrUnsupportedType
}

func appendVarlen(out, b []byte) ([]byte, error) {
	if len(b) > maxVarlen {
		return nil, ErrVarTooLong
	}
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(b)))
	return append(append(out, l[:]...), b...), nil
}

// DecodeRow deserializes a tuple against the column list.
func DecodeRow(cols []sql.Column, buf []byte) (sql.Row, error) {
	nb := (len(cols) + 7) / 8
	if len(buf) < tupleHdr+nb {
		return sql.Row{}, ErrBadBuffer
	}
	row := sql.Row{
		Values: make([]sql.Value, len(cols)),
		Xmin:   binary.LittleEndian.Uint64(buf[xminOff:]),
		Xmax:   binary.LittleEndian.Uint64(buf[xmaxOff:]),
	}
	nullmap := buf[tupleHdr : tupleHdr+nb]
	off := tupleHdr + nb

	for i, col := range cols {
		if nullmap[i/8]&(1<<(uint(i)&7)) != 0 {
			row.Values[i] = sql.Null()
			continue
		}
		v, n, err := readField(col.Type, buf[off:])
		if err != nil {
			return sql.Row{}, err
		}
		row.Values[i] = v
		off += n
	}
	return row, nil
}

func readField(t sql.DataType, buf []byte) (sql.Value, int, error) {
	switch t.Name {
	case sql.TypeSmallInt:
		if len(buf) < 2 {
			return sql.Value{}, 0, ErrBadBuffer
		}
		return sql.NewSmallInt(int16(binary.LittleEndian.Uint16(buf))), 2, nil
	case sql.TypeInteger, sql.TypeSerial, sql.TypeBigSerial:
		if len(buf) < 8 {
			return sql.Value{}, 0, ErrBadBuffer
		}
		return sql.NewInt(int64(binary.LittleEndian.Uint64(buf))), 8, nil
	case sql.TypeReal:
		if len(buf) < 8 {
			return sql.Value{}, 0, ErrBadBuffer
		}
		return sql.NewReal(math.Float64frombits(binary.LittleEndian.Uint64(buf))), 8, nil
	case sql.TypeBoolean:
		if len(buf) < 1 {
			return sql.Value{}, 0, ErrBadBuffer
		}
		return sql.NewBool(buf[0] != 0), 1, nil
	case sql.TypeDate, sql.TypeTimestamp, sql.TypeTimestampTz:
		if len(buf) < 8 {
			return sql.Value{}, 0, ErrBadBuffer
		}
		ts := time.UnixMicro(int64(binary.LittleEndian.Uint64(buf))).UTC()
		switch t.Name {
		case sql.TypeDate:
			return sql.NewDate(ts), 8, nil
		case sql.TypeTimestampTz:
			return sql.NewTimestampTz(ts), 8, nil
		default:
			return sql.NewTimestamp(ts), 8, nil
		}
	case sql.TypeUUID:
		if len(buf) < 16 {
			return sql.Value{}, 0, ErrBadBuffer
		}
		var u uuid.UUID
		copy(u[:], buf[:16])
		return sql.NewUUID(u), 16, nil
	case sql.TypeNumeric:
		b, n, err := readVarlen(buf)
		if err != nil {
			return sql.Value{}, 0, err
		}
		d, err := decimal.NewFromString(string(b))
		if err != nil {
			return sql.Value{}, 0, ErrBadBuffer
		}
		return sql.NewNumeric(d), n, nil
	case sql.TypeText, sql.TypeVarchar:
		b, n, err := readVarlen(buf)
		if err != nil {
			return sql.Value{}, 0, err
		}
		return sql.NewText(string(b)), n, nil
	case sql.TypeChar:
		b, n, err := readVarlen(buf)
		if err != nil {
			return sql.Value{}, 0, err
		}
		return sql.NewChar(string(b)), n, nil
	case sql.TypeJSON, sql.TypeJSONB:
		b, n, err := readVarlen(buf)
		if err != nil {
			return sql.Value{}, 0, err
		}
		return sql.NewJSON(string(b)), n, nil
	case sql.TypeEnum:
		b, n, err := readVarlen(buf)
		if err != nil {
			return sql.Value{}, 0, err
		}
		return sql.NewEnum(t.EnumName, string(b)), n, nil
	case sql.TypeBytea:
		b, n, err := readVarlen(buf)
		if err != nil {
			return sql.Value{}, 0, err
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		return sql.NewBytea(cp), n, nil
	}
	return sql.Value{}, 0, ErrUnsupportedType
}

func readVarlen(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrBadBuffer
	}
	l := int(binary.LittleEndian.Uint16(buf))
	if len(buf) < 2+l {
		return nil, 0, ErrBadBuffer
	}
	return buf[2 : 2+l], 2 + l, nil
}

// StampXmax patches the xmax word of an encoded tuple in place.
func StampXmax(tup []byte, xmax uint64) error {
	if len(tup) < tupleHdr {
		return ErrBadBuffer
	}
	binary.LittleEndian.PutUint64(tup[xmaxOff:], xmax)
	return nil
}

// TupleXminXmax reads just the MVCC header of an encoded tuple.
func TupleXminXmax(tup []byte) (xmin, xmax uint64, err error) {
	if len(tup) < tupleHdr {
		return 0, 0, ErrBadBuffer
	}
	return binary.LittleEndian.Uint64(tup[xminOff:]), binary.LittleEndian.Uint64(tup[xmaxOff:]), nil
}
