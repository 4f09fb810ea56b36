package sql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrTypeMismatch = errors.New("sql: value does not match column type")
	ErrNotComparable = errors.New("sql: values are not comparable")
)

// Kind discriminates the tagged Value variant.
type Kind uint8

const (
	KindNull Kind = iota
	KindSmallInt
	KindInt
	KindReal
	KindNumeric
	KindText
	KindChar
	KindBool
	KindDate
	KindTimestamp
	KindTimestampTz
	KindUUID
	KindJSON
	KindBytea
	KindEnum
)

// Value is one SQL value. Exactly one payload field is meaningful,
// selected by Kind; the zero Value is NULL.
type Value struct {
	Kind Kind

	I    int64
	F    float64
	S    string // Text, Char, JSON and the Enum member
	B    bool
	Raw  []byte
	Num  decimal.Decimal
	T    time.Time
	U    uuid.UUID
	Enum string // enum type name when Kind == KindEnum
}

func Null() Value                 { return Value{Kind: KindNull} }
func NewSmallInt(v int16) Value   { return Value{Kind: KindSmallInt, I: int64(v)} }
func NewInt(v int64) Value        { return Value{Kind: KindInt, I: v} }
func NewReal(v float64) Value     { return Value{Kind: KindReal, F: v} }
func NewNumeric(d decimal.Decimal) Value { return Value{Kind: KindNumeric, Num: d} }
func NewText(s string) Value      { return Value{Kind: KindText, S: s} }
func NewChar(s string) Value      { return Value{Kind: KindChar, S: s} }
func NewBool(b bool) Value        { return Value{Kind: KindBool, B: b} }
func NewDate(t time.Time) Value   { return Value{Kind: KindDate, T: t.UTC().Truncate(24 * time.Hour)} }
func NewTimestamp(t time.Time) Value { return Value{Kind: KindTimestamp, T: t} }
func NewTimestampTz(t time.Time) Value { return Value{Kind: KindTimestampTz, T: t.UTC()} }
func NewUUID(u uuid.UUID) Value   { return Value{Kind: KindUUID, U: u} }
func NewJSON(s string) Value      { return Value{Kind: KindJSON, S: s} }
func NewBytea(b []byte) Value     { return Value{Kind: KindBytea, Raw: b} }
func NewEnum(typeName, member string) Value {
	return Value{Kind: KindEnum, Enum: typeName, S: member}
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNumeric reports whether the value participates in numeric width lifting.
func (v Value) IsNumeric() bool {
	switch v.Kind {
	case KindSmallInt, KindInt, KindReal, KindNumeric:
		return true
	}
	return false
}

// AsDecimal lifts any numeric value to decimal for mixed-width comparison
// and arithmetic.
func (v Value) AsDecimal() (decimal.Decimal, bool) {
	switch v.Kind {
	case KindSmallInt, KindInt:
		return decimal.NewFromInt(v.I), true
	case KindReal:
		return decimal.NewFromFloat(v.F), true
	case KindNumeric:
		return v.Num, true
	}
	return decimal.Decimal{}, false
}

// AsInt returns the integral payload for smallint/integer values.
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindSmallInt, KindInt:
		return v.I, true
	}
	return 0, false
}

// Compare orders two values. NULLs are handled by the caller (SQL
// three-valued logic); comparing a NULL here is an error.
func (v Value) Compare(o Value) (int, error) {
	if v.IsNull() || o.IsNull() {
		return 0, ErrNotComparable
	}
	if v.IsNumeric() && o.IsNumeric() {
		a, _ := v.AsDecimal()
		b, _ := o.AsDecimal()
		return a.Cmp(b), nil
	}
	switch v.Kind {
	case KindText, KindChar, KindJSON:
		if o.Kind != KindText && o.Kind != KindChar && o.Kind != KindJSON {
			return 0, ErrNotComparable
		}
		// CHAR(n) comparison ignores trailing pad spaces.
		return strings.Compare(strings.TrimRight(v.S, " "), strings.TrimRight(o.S, " ")), nil
	case KindEnum:
		if o.Kind == KindEnum || o.Kind == KindText {
			return strings.Compare(v.S, o.S), nil
		}
		return 0, ErrNotComparable
	case KindBool:
		if o.Kind != KindBool {
			return 0, ErrNotComparable
		}
		a, b := 0, 0
		if v.B {
			a = 1
		}
		if o.B {
			b = 1
		}
		return a - b, nil
	case KindDate, KindTimestamp, KindTimestampTz:
		switch o.Kind {
		case KindDate, KindTimestamp, KindTimestampTz:
		default:
			return 0, ErrNotComparable
		}
		if v.T.Before(o.T) {
			return -1, nil
		}
		if v.T.After(o.T) {
			return 1, nil
		}
		return 0, nil
	case KindUUID:
		if o.Kind != KindUUID {
			return 0, ErrNotComparable
		}
		return strings.Compare(v.U.String(), o.U.String()), nil
	case KindBytea:
		if o.Kind != KindBytea {
			return 0, ErrNotComparable
		}
		return strings.Compare(string(v.Raw), string(o.Raw)), nil
	}
	return 0, ErrNotComparable
}

// Equal is Compare == 0 with NULL never equal to anything.
func (v Value) Equal(o Value) bool {
	c, err := v.Compare(o)
	return err == nil && c == 0
}

// String renders the value in PostgreSQL text output format.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindSmallInt, KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindReal:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindNumeric:
		return v.Num.String()
	case KindText, KindChar, KindJSON, KindEnum:
		return v.S
	case KindBool:
		if v.B {
			return "t"
		}
		return "f"
	case KindDate:
		return v.T.Format("2006-01-02")
	case KindTimestamp:
		return v.T.Format("2006-01-02 15:04:05")
	case KindTimestampTz:
		return v.T.UTC().Format("2006-01-02 15:04:05+00")
	case KindUUID:
		return v.U.String()
	case KindBytea:
		return `\x` + fmt.Sprintf("%x", v.Raw)
	}
	return ""
}

// SortKey produces a byte string whose lexicographic order matches
// Compare for values of the same kind. Used for index keys and
// hashed deduplication.
func (v Value) SortKey() string {
	switch v.Kind {
	case KindNull:
		return "\x00null"
	case KindSmallInt, KindInt:
		return encodeOrderedInt(v.I)
	case KindReal:
		d := decimal.NewFromFloat(v.F)
		return encodeOrderedDecimal(d)
	case KindNumeric:
		return encodeOrderedDecimal(v.Num)
	case KindText, KindJSON, KindEnum:
		return v.S
	case KindChar:
		return strings.TrimRight(v.S, " ")
	case KindBool:
		if v.B {
			return "\x01"
		}
		return "\x00"
	case KindDate, KindTimestamp, KindTimestampTz:
		return encodeOrderedInt(v.T.UnixMicro())
	case KindUUID:
		return v.U.String()
	case KindBytea:
		return string(v.Raw)
	}
	return ""
}

// encodeOrderedInt maps int64 to a fixed-width big-endian string whose
// byte order matches numeric order (sign bit flipped).
func encodeOrderedInt(i int64) string {
	u := uint64(i) ^ (1 << 63)
	var b [8]byte
	for k := 7; k >= 0; k-- {
		b[k] = byte(u)
		u >>= 8
	}
	return string(b[:])
}

// encodeOrderedDecimal keys decimals by sign, integral magnitude and
// fraction so that lexicographic order matches numeric order for the
// value ranges the engine stores.
func encodeOrderedDecimal(d decimal.Decimal) string {
	i := d.IntPart()
	frac := d.Sub(decimal.NewFromInt(i))
	// fraction scaled to 9 digits keeps ordering inside one integral step
	fs := frac.Shift(9).IntPart()
	return encodeOrderedInt(i) + encodeOrderedInt(fs)
}
