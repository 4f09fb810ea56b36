package pgwire

import (
	"github.com/tuannm99/novapg/internal/sql"
)

// pg_type OIDs for the types the engine stores. Enums have no stable
// OID here; they describe as text.
const (
	oidBool        = 16
	oidBytea       = 17
	oidInt8        = 20
	oidInt2        = 21
	oidInt4        = 23
	oidText        = 25
	oidJSON        = 114
	oidFloat8      = 701
	oidBpchar      = 1042
	oidVarchar     = 1043
	oidDate        = 1082
	oidTimestamp   = 1114
	oidTimestamptz = 1184
	oidNumeric     = 1700
	oidUUID        = 2950
	oidJSONB       = 3802
)

func typeOID(t sql.DataType) int32 {
	switch t.Name {
	case sql.TypeSmallInt:
		return oidInt2
	case sql.TypeInteger, sql.TypeSerial:
		return oidInt4
	case sql.TypeBigSerial:
		return oidInt8
	case sql.TypeReal:
		return oidFloat8
	case sql.TypeNumeric:
		return oidNumeric
	case sql.TypeVarchar:
		return oidVarchar
	case sql.TypeChar:
		return oidBpchar
	case sql.TypeBoolean:
		return oidBool
	case sql.TypeDate:
		return oidDate
	case sql.TypeTimestamp:
		return oidTimestamp
	case sql.TypeTimestampTz:
		return oidTimestamptz
	case sql.TypeUUID:
		return oidUUID
	case sql.TypeJSON:
		return oidJSON
	case sql.TypeJSONB:
		return oidJSONB
	case sql.TypeBytea:
		return oidBytea
	}
	return oidText
}

// typeSize is the fixed wire size, -1 for variable-length types.
func typeSize(t sql.DataType) int16 {
	switch t.Name {
	case sql.TypeSmallInt:
		return 2
	case sql.TypeInteger, sql.TypeSerial, sql.TypeDate:
		return 4
	case sql.TypeBigSerial, sql.TypeReal, sql.TypeTimestamp, sql.TypeTimestampTz:
		return 8
	case sql.TypeBoolean:
		return 1
	case sql.TypeUUID:
		return 16
	}
	return -1
}

// textValue renders one value for a DataRow field; the bool result is
// false for NULL (sent as length -1 on the wire).
func textValue(v sql.Value) (string, bool) {
	if v.IsNull() {
		return "", false
	}
	return v.String(), true
}
