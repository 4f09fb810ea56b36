package sql

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TypeName enumerates the semantic column types.
type TypeName uint8

const (
	TypeSmallInt TypeName = iota
	TypeInteger
	TypeReal
	TypeNumeric
	TypeSerial
	TypeBigSerial
	TypeText
	TypeVarchar
	TypeChar
	TypeBoolean
	TypeDate
	TypeTimestamp
	TypeTimestampTz
	TypeUUID
	TypeJSON
	TypeJSONB
	TypeBytea
	TypeEnum
)

// DataType is a column type with its per-type parameters.
type DataType struct {
	Name      TypeName `json:"name"`
	Length    int      `json:"length,omitempty"`    // VARCHAR(n) / CHAR(n)
	Precision int      `json:"precision,omitempty"` // NUMERIC(p,s)
	Scale     int      `json:"scale,omitempty"`
	EnumName  string   `json:"enum_name,omitempty"`
}

func (t DataType) IsSerial() bool {
	return t.Name == TypeSerial || t.Name == TypeBigSerial
}

func (t DataType) String() string {
	switch t.Name {
	case TypeSmallInt:
		return "smallint"
	case TypeInteger:
		return "integer"
	case TypeReal:
		return "real"
	case TypeNumeric:
		if t.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", t.Precision, t.Scale)
		}
		return "numeric"
	case TypeSerial:
		return "serial"
	case TypeBigSerial:
		return "bigserial"
	case TypeText:
		return "text"
	case TypeVarchar:
		return fmt.Sprintf("character varying(%d)", t.Length)
	case TypeChar:
		return fmt.Sprintf("character(%d)", t.Length)
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	case TypeTimestamp:
		return "timestamp without time zone"
	case TypeTimestampTz:
		return "timestamp with time zone"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	case TypeJSONB:
		return "jsonb"
	case TypeBytea:
		return "bytea"
	case TypeEnum:
		return t.EnumName
	}
	return "unknown"
}

// ForeignKey references the primary key of another table.
type ForeignKey struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Column is one column definition.
type Column struct {
	Name       string      `json:"name"`
	Type       DataType    `json:"type"`
	Nullable   bool        `json:"nullable"`
	Unique     bool        `json:"unique"`
	PrimaryKey bool        `json:"primary_key"`
	ForeignKey *ForeignKey `json:"foreign_key,omitempty"`
}

// Row is one stored tuple with its MVCC header. Xmax == 0 means unset.
type Row struct {
	Values []Value
	Xmin   uint64
	Xmax   uint64
}

// Coerce validates v against t and normalizes it to the stored
// representation (range checks, length checks, CHAR padding, enum
// membership, numeric rescale). enums supplies enum definitions by name.
func Coerce(t DataType, v Value, enums map[string][]string) (Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch t.Name {
	case TypeSmallInt:
		i, ok := v.AsInt()
		if !ok {
			return v, typeErr(t, v)
		}
		if i < math.MinInt16 || i > math.MaxInt16 {
			return v, fmt.Errorf("sql: value %d out of range for smallint", i)
		}
		return NewSmallInt(int16(i)), nil
	case TypeInteger, TypeSerial, TypeBigSerial:
		i, ok := v.AsInt()
		if !ok {
			return v, typeErr(t, v)
		}
		return NewInt(i), nil
	case TypeReal:
		d, ok := v.AsDecimal()
		if !ok {
			return v, typeErr(t, v)
		}
		f, _ := d.Float64()
		return NewReal(f), nil
	case TypeNumeric:
		d, ok := v.AsDecimal()
		if !ok {
			return v, typeErr(t, v)
		}
		if t.Precision > 0 {
			d = d.Round(int32(t.Scale))
			intDigits := len(d.Abs().Truncate(0).String())
			if d.Abs().LessThan(decimal.NewFromInt(1)) {
				intDigits = 0
			}
			if intDigits > t.Precision-t.Scale {
				return v, fmt.Errorf("sql: numeric field overflow for numeric(%d,%d)", t.Precision, t.Scale)
			}
		}
		return NewNumeric(d), nil
	case TypeText:
		if s, ok := textOf(v); ok {
			return NewText(s), nil
		}
		return v, typeErr(t, v)
	case TypeVarchar:
		s, ok := textOf(v)
		if !ok {
			return v, typeErr(t, v)
		}
		if len([]rune(s)) > t.Length {
			return v, fmt.Errorf("sql: value too long for character varying(%d)", t.Length)
		}
		return NewText(s), nil
	case TypeChar:
		s, ok := textOf(v)
		if !ok {
			return v, typeErr(t, v)
		}
		r := []rune(s)
		if len(r) > t.Length {
			return v, fmt.Errorf("sql: value too long for character(%d)", t.Length)
		}
		// stored right-padded with spaces to the declared length
		return NewChar(s + strings.Repeat(" ", t.Length-len(r))), nil
	case TypeBoolean:
		if v.Kind == KindBool {
			return v, nil
		}
		return v, typeErr(t, v)
	case TypeDate:
		switch v.Kind {
		case KindDate:
			return v, nil
		case KindText:
			d, err := time.Parse("2006-01-02", v.S)
			if err != nil {
				return v, fmt.Errorf("sql: invalid date %q", v.S)
			}
			return NewDate(d), nil
		}
		return v, typeErr(t, v)
	case TypeTimestamp, TypeTimestampTz:
		switch v.Kind {
		case KindTimestamp, KindTimestampTz, KindDate:
			v.Kind = kindForTemporal(t.Name)
			return v, nil
		case KindText:
			ts, err := parseTimestamp(v.S)
			if err != nil {
				return v, err
			}
			ts.Kind = kindForTemporal(t.Name)
			return ts, nil
		}
		return v, typeErr(t, v)
	case TypeUUID:
		switch v.Kind {
		case KindUUID:
			return v, nil
		case KindText:
			u, err := uuid.Parse(v.S)
			if err != nil {
				return v, fmt.Errorf("sql: invalid uuid %q", v.S)
			}
			return NewUUID(u), nil
		}
		return v, typeErr(t, v)
	case TypeJSON, TypeJSONB:
		if s, ok := textOf(v); ok {
			return NewJSON(s), nil
		}
		return v, typeErr(t, v)
	case TypeBytea:
		switch v.Kind {
		case KindBytea:
			return v, nil
		case KindText:
			if strings.HasPrefix(v.S, `\x`) {
				b, err := hex.DecodeString(v.S[2:])
				if err != nil {
					return v, fmt.Errorf("sql: invalid bytea literal")
				}
				return NewBytea(b), nil
			}
			return NewBytea([]byte(v.S)), nil
		}
		return v, typeErr(t, v)
	case TypeEnum:
		s, ok := textOf(v)
		if !ok {
			return v, typeErr(t, v)
		}
		members, found := enums[t.EnumName]
		if !found {
			return v, fmt.Errorf("sql: unknown enum type %q", t.EnumName)
		}
		for _, m := range members {
			if m == s {
				return NewEnum(t.EnumName, s), nil
			}
		}
		return v, fmt.Errorf("sql: invalid input value for enum %s: %q", t.EnumName, s)
	}
	return v, typeErr(t, v)
}

func typeErr(t DataType, v Value) error {
	return fmt.Errorf("%w: %s for column of type %s", ErrTypeMismatch, kindName(v.Kind), t)
}

func textOf(v Value) (string, bool) {
	switch v.Kind {
	case KindText, KindChar, KindJSON, KindEnum:
		return v.S, true
	}
	return "", false
}

func kindForTemporal(t TypeName) Kind {
	if t == TypeTimestampTz {
		return KindTimestampTz
	}
	return KindTimestamp
}

func parseTimestamp(s string) (Value, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999-07",
		"2006-01-02 15:04:05.999999",
		"2006-01-02T15:04:05.999999Z07:00",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Value{}, fmt.Errorf("sql: invalid timestamp %q", s)
}

// ParseText converts a wire/COPY text literal into a value of type t.
func ParseText(t DataType, s string) (Value, error) {
	switch t.Name {
	case TypeSmallInt, TypeInteger, TypeSerial, TypeBigSerial:
		d, err := decimal.NewFromString(s)
		if err != nil || !d.IsInteger() {
			return Value{}, fmt.Errorf("sql: invalid integer %q", s)
		}
		return Coerce(t, NewInt(d.IntPart()), nil)
	case TypeReal, TypeNumeric:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, fmt.Errorf("sql: invalid numeric %q", s)
		}
		return Coerce(t, NewNumeric(d), nil)
	case TypeBoolean:
		switch strings.ToLower(s) {
		case "t", "true", "1", "yes", "on":
			return NewBool(true), nil
		case "f", "false", "0", "no", "off":
			return NewBool(false), nil
		}
		return Value{}, fmt.Errorf("sql: invalid boolean %q", s)
	default:
		v := NewText(s)
		// enum coercion needs the registry; the caller re-coerces enums
		if t.Name == TypeEnum {
			return v, nil
		}
		return Coerce(t, v, nil)
	}
}

func kindName(k Kind) string {
	switch k {
	case KindNull:
		return "null"
	case KindSmallInt:
		return "smallint"
	case KindInt:
		return "integer"
	case KindReal:
		return "real"
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	case KindChar:
		return "character"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	case KindTimestampTz:
		return "timestamptz"
	case KindUUID:
		return "uuid"
	case KindJSON:
		return "json"
	case KindBytea:
		return "bytea"
	case KindEnum:
		return "enum"
	}
	return "unknown"
}
