package pgwire

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tuannm99/novapg/internal/executor"
	"github.com/tuannm99/novapg/internal/sql"
)

// binary COPY file layout constants
var copyBinarySignature = []byte("PGCOPY\n\xff\r\n\x00")

// pgEpoch anchors binary date and timestamp encodings.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// runCopy drives one COPY statement over the wire: CopyInResponse plus
// inbound CopyData for FROM STDIN, CopyOutResponse plus outbound rows
// for TO STDOUT.
func (c *conn) runCopy(stmt *sql.CopyStmt) error {
	execSess, done, err := c.sess.ExecSession()
	if err != nil {
		return err
	}
	exec := c.sess.Executor()
	cols, err := exec.CopyColumns(execSess, stmt.Table, stmt.Columns, stmt.From)
	if err != nil {
		return done(err)
	}

	if stmt.From {
		return done(c.copyIn(stmt, execSess, cols))
	}
	return done(c.copyOut(stmt, execSess, cols))
}

func copyFormatByte(binaryFmt bool) byte {
	if binaryFmt {
		return 1
	}
	return 0
}

func (c *conn) copyIn(stmt *sql.CopyStmt, execSess *executor.Session, cols []sql.Column) error {
	resp := newMsg('G')
	resp.byte1(copyFormatByte(stmt.Binary))
	resp.int16(int16(len(cols)))
	for range cols {
		resp.int16(int16(copyFormatByte(stmt.Binary)))
	}
	c.out.add(resp)
	if err := c.out.flush(); err != nil {
		return err
	}

	var data bytes.Buffer
	for {
		typ, body, err := readMessage(c.r)
		if err != nil {
			return err
		}
		switch typ {
		case 'd':
			data.Write(body)
		case 'c':
			goto decode
		case 'f':
			reason, _ := cutZString(body)
			return fmt.Errorf("COPY from stdin failed: %s", reason)
		case 'H', 'S':
			// Flush/Sync during COPY are legal and ignored
		default:
			return fmt.Errorf("unexpected message %q during COPY FROM", typ)
		}
	}

decode:
	var rows [][]sql.Value
	var err error
	if stmt.Binary {
		rows, err = decodeBinaryCopy(data.Bytes(), cols)
	} else {
		rows, err = decodeCSVCopy(data.Bytes(), cols)
	}
	if err != nil {
		return err
	}
	exec := c.sess.Executor()
	for _, vals := range rows {
		if err := exec.CopyInsertRow(execSess, stmt.Table, cols, vals); err != nil {
			return err
		}
	}
	cc := newMsg('C')
	cc.zstring(fmt.Sprintf("COPY %d", len(rows)))
	c.out.add(cc)
	return nil
}

func (c *conn) copyOut(stmt *sql.CopyStmt, execSess *executor.Session, cols []sql.Column) error {
	rows, err := c.sess.Executor().CopyRows(execSess, stmt.Table, cols)
	if err != nil {
		return err
	}

	resp := newMsg('H')
	resp.byte1(copyFormatByte(stmt.Binary))
	resp.int16(int16(len(cols)))
	for range cols {
		resp.int16(int16(copyFormatByte(stmt.Binary)))
	}
	c.out.add(resp)

	if stmt.Binary {
		hdr := newMsg('d')
		hdr.bytes(copyBinarySignature)
		hdr.int32(0) // flags
		hdr.int32(0) // header extension length
		c.out.add(hdr)
		for _, vals := range rows {
			d := newMsg('d')
			d.bytes(encodeBinaryRow(vals, cols))
			c.out.add(d)
		}
		trailer := newMsg('d')
		trailer.int16(-1)
		c.out.add(trailer)
	} else {
		for _, vals := range rows {
			d := newMsg('d')
			d.bytes(encodeCSVRow(vals))
			c.out.add(d)
		}
	}

	c.out.add(newMsg('c')) // CopyDone
	cc := newMsg('C')
	cc.zstring(fmt.Sprintf("COPY %d", len(rows)))
	c.out.add(cc)
	return nil
}

// ---- csv codec ----

// decodeCSVCopy parses csv COPY data; an unquoted empty field is NULL.
func decodeCSVCopy(data []byte, cols []sql.Column) ([][]sql.Value, error) {
	rd := csv.NewReader(bytes.NewReader(data))
	rd.FieldsPerRecord = len(cols)
	var rows [][]sql.Value
	for {
		rec, err := rd.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid COPY csv data: %w", err)
		}
		vals := make([]sql.Value, len(cols))
		for i, field := range rec {
			if field == "" {
				vals[i] = sql.Null()
				continue
			}
			v, err := sql.ParseText(cols[i].Type, field)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		rows = append(rows, vals)
	}
}

func encodeCSVRow(vals []sql.Value) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rec := make([]string, len(vals))
	for i, v := range vals {
		if v.IsNull() {
			rec[i] = ""
			continue
		}
		rec[i] = v.String()
	}
	_ = w.Write(rec)
	w.Flush()
	return buf.Bytes()
}

// ---- binary codec ----

func decodeBinaryCopy(data []byte, cols []sql.Column) ([][]sql.Value, error) {
	if len(data) < len(copyBinarySignature)+8 {
		return nil, errors.New("binary COPY data too short")
	}
	if !bytes.Equal(data[:len(copyBinarySignature)], copyBinarySignature) {
		return nil, errors.New("invalid binary COPY signature")
	}
	p := len(copyBinarySignature)
	p += 4 // flags
	extLen := int(binary.BigEndian.Uint32(data[p:]))
	p += 4 + extLen

	var rows [][]sql.Value
	for {
		if p+2 > len(data) {
			return nil, errors.New("binary COPY data truncated")
		}
		nFields := int16(binary.BigEndian.Uint16(data[p:]))
		p += 2
		if nFields == -1 {
			return rows, nil
		}
		if int(nFields) != len(cols) {
			return nil, fmt.Errorf("binary COPY row has %d fields, expected %d", nFields, len(cols))
		}
		vals := make([]sql.Value, len(cols))
		for i := range cols {
			if p+4 > len(data) {
				return nil, errors.New("binary COPY data truncated")
			}
			n := int32(binary.BigEndian.Uint32(data[p:]))
			p += 4
			if n == -1 {
				vals[i] = sql.Null()
				continue
			}
			if p+int(n) > len(data) {
				return nil, errors.New("binary COPY data truncated")
			}
			v, err := decodeBinaryField(cols[i].Type, data[p:p+int(n)])
			if err != nil {
				return nil, err
			}
			vals[i] = v
			p += int(n)
		}
		rows = append(rows, vals)
	}
}

func decodeBinaryField(t sql.DataType, b []byte) (sql.Value, error) {
	switch t.Name {
	case sql.TypeSmallInt:
		if len(b) != 2 {
			return sql.Value{}, fieldLenErr(t, b)
		}
		return sql.NewSmallInt(int16(binary.BigEndian.Uint16(b))), nil
	case sql.TypeInteger, sql.TypeSerial:
		if len(b) != 4 {
			return sql.Value{}, fieldLenErr(t, b)
		}
		return sql.NewInt(int64(int32(binary.BigEndian.Uint32(b)))), nil
	case sql.TypeBigSerial:
		if len(b) != 8 {
			return sql.Value{}, fieldLenErr(t, b)
		}
		return sql.NewInt(int64(binary.BigEndian.Uint64(b))), nil
	case sql.TypeReal:
		if len(b) != 8 {
			return sql.Value{}, fieldLenErr(t, b)
		}
		return sql.NewReal(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case sql.TypeNumeric:
		return decodeBinaryNumeric(b)
	case sql.TypeBoolean:
		if len(b) != 1 {
			return sql.Value{}, fieldLenErr(t, b)
		}
		return sql.NewBool(b[0] != 0), nil
	case sql.TypeDate:
		if len(b) != 4 {
			return sql.Value{}, fieldLenErr(t, b)
		}
		days := int32(binary.BigEndian.Uint32(b))
		return sql.NewDate(pgEpoch.AddDate(0, 0, int(days))), nil
	case sql.TypeTimestamp, sql.TypeTimestampTz:
		if len(b) != 8 {
			return sql.Value{}, fieldLenErr(t, b)
		}
		micros := int64(binary.BigEndian.Uint64(b))
		ts := pgEpoch.Add(time.Duration(micros) * time.Microsecond)
		if t.Name == sql.TypeTimestampTz {
			return sql.NewTimestampTz(ts), nil
		}
		return sql.NewTimestamp(ts), nil
	case sql.TypeUUID:
		if len(b) != 16 {
			return sql.Value{}, fieldLenErr(t, b)
		}
		u, err := uuid.FromBytes(b)
		if err != nil {
			return sql.Value{}, err
		}
		return sql.NewUUID(u), nil
	case sql.TypeBytea:
		return sql.NewBytea(append([]byte{}, b...)), nil
	default:
		// text, varchar, char, json, enums travel as raw utf8
		return sql.ParseText(t, string(b))
	}
}

func fieldLenErr(t sql.DataType, b []byte) error {
	return fmt.Errorf("invalid binary length %d for type %s", len(b), t)
}

func encodeBinaryRow(vals []sql.Value, cols []sql.Column) []byte {
	var out []byte
	out = binary.BigEndian.AppendUint16(out, uint16(len(vals)))
	for i, v := range vals {
		if v.IsNull() {
			out = binary.BigEndian.AppendUint32(out, uint32(0xffffffff))
			continue
		}
		field := encodeBinaryField(cols[i].Type, v)
		out = binary.BigEndian.AppendUint32(out, uint32(len(field)))
		out = append(out, field...)
	}
	return out
}

func encodeBinaryField(t sql.DataType, v sql.Value) []byte {
	switch t.Name {
	case sql.TypeSmallInt:
		return binary.BigEndian.AppendUint16(nil, uint16(int16(v.I)))
	case sql.TypeInteger, sql.TypeSerial:
		return binary.BigEndian.AppendUint32(nil, uint32(int32(v.I)))
	case sql.TypeBigSerial:
		return binary.BigEndian.AppendUint64(nil, uint64(v.I))
	case sql.TypeReal:
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(v.F))
	case sql.TypeNumeric:
		return encodeBinaryNumeric(v.Num)
	case sql.TypeBoolean:
		if v.B {
			return []byte{1}
		}
		return []byte{0}
	case sql.TypeDate:
		days := int32(v.T.Sub(pgEpoch).Hours() / 24)
		return binary.BigEndian.AppendUint32(nil, uint32(days))
	case sql.TypeTimestamp, sql.TypeTimestampTz:
		micros := v.T.Sub(pgEpoch).Microseconds()
		return binary.BigEndian.AppendUint64(nil, uint64(micros))
	case sql.TypeUUID:
		b, _ := v.U.MarshalBinary()
		return b
	case sql.TypeBytea:
		return v.Raw
	default:
		return []byte(v.String())
	}
}

// decodeBinaryNumeric reads the server's base-10000 numeric layout:
// ndigits, weight, sign, dscale, then ndigits int16 digits.
func decodeBinaryNumeric(b []byte) (sql.Value, error) {
	if len(b) < 8 {
		return sql.Value{}, errors.New("invalid binary numeric")
	}
	nd := int(int16(binary.BigEndian.Uint16(b[0:])))
	weight := int(int16(binary.BigEndian.Uint16(b[2:])))
	sign := binary.BigEndian.Uint16(b[4:])
	dscale := int(int16(binary.BigEndian.Uint16(b[6:])))
	if len(b) != 8+2*nd {
		return sql.Value{}, errors.New("invalid binary numeric length")
	}
	if sign == 0xC000 {
		return sql.Value{}, errors.New("NaN numeric is not supported")
	}

	var sb strings.Builder
	if sign == 0x4000 {
		sb.WriteByte('-')
	}
	// integral digit groups down to weight 0, then fraction groups
	intDigits := "0"
	if weight >= 0 {
		var ib strings.Builder
		for g := 0; g <= weight; g++ {
			d := 0
			if g < nd {
				d = int(int16(binary.BigEndian.Uint16(b[8+2*g:])))
			}
			if g == 0 {
				fmt.Fprintf(&ib, "%d", d)
			} else {
				fmt.Fprintf(&ib, "%04d", d)
			}
		}
		intDigits = ib.String()
	}
	sb.WriteString(intDigits)
	if dscale > 0 {
		var fb strings.Builder
		for g := weight + 1; fb.Len() < dscale; g++ {
			d := 0
			if g >= 0 && g < nd {
				d = int(int16(binary.BigEndian.Uint16(b[8+2*g:])))
			}
			fmt.Fprintf(&fb, "%04d", d)
		}
		sb.WriteByte('.')
		sb.WriteString(fb.String()[:dscale])
	}
	d, err := decimal.NewFromString(sb.String())
	if err != nil {
		return sql.Value{}, fmt.Errorf("invalid binary numeric: %w", err)
	}
	return sql.NewNumeric(d), nil
}

// encodeBinaryNumeric writes a decimal in the base-10000 layout.
func encodeBinaryNumeric(d decimal.Decimal) []byte {
	sign := uint16(0)
	if d.IsNegative() {
		sign = 0x4000
		d = d.Neg()
	}
	dscale := int(-d.Exponent())
	if dscale < 0 {
		dscale = 0
	}

	s := d.String()
	intPart, fracPart, _ := strings.Cut(s, ".")
	// pad the fraction to a whole number of base-10000 groups
	for len(fracPart)%4 != 0 {
		fracPart += "0"
	}
	for len(intPart)%4 != 0 {
		intPart = "0" + intPart
	}

	var digits []uint16
	for i := 0; i < len(intPart); i += 4 {
		var g int
		fmt.Sscanf(intPart[i:i+4], "%d", &g)
		digits = append(digits, uint16(g))
	}
	weight := len(digits) - 1
	for i := 0; i < len(fracPart); i += 4 {
		var g int
		fmt.Sscanf(fracPart[i:i+4], "%d", &g)
		digits = append(digits, uint16(g))
	}
	// strip leading zero groups, adjusting the weight
	for len(digits) > 1 && digits[0] == 0 {
		digits = digits[1:]
		weight--
	}
	// strip trailing zero groups
	for len(digits) > 1 && digits[len(digits)-1] == 0 {
		digits = digits[:len(digits)-1]
	}
	if len(digits) == 1 && digits[0] == 0 {
		weight = 0
	}

	out := binary.BigEndian.AppendUint16(nil, uint16(len(digits)))
	out = binary.BigEndian.AppendUint16(out, uint16(int16(weight)))
	out = binary.BigEndian.AppendUint16(out, sign)
	out = binary.BigEndian.AppendUint16(out, uint16(dscale))
	for _, g := range digits {
		out = binary.BigEndian.AppendUint16(out, g)
	}
	return out
}
