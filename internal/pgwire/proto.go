// Package pgwire speaks PostgreSQL frontend/backend protocol 3.0 on
// top of the engine: startup and cleartext auth, simple and extended
// query, and the COPY sub-protocol in csv and binary formats.
package pgwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// protocol constants from the frontend/backend protocol
const (
	protoVersion3 = 196608 // 3.0
	sslRequest    = 80877103
	cancelRequest = 80877102
	gssEncRequest = 80877104
)

// readStartup reads the length-prefixed, untyped startup packet.
func readStartup(r *bufio.Reader) (uint32, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n < 8 || n > 1<<20 {
		return 0, nil, fmt.Errorf("pgwire: bad startup packet length %d", n)
	}
	body := make([]byte, n-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint32(body[:4]), body[4:], nil
}

// startupParams parses the key/value pairs of a StartupMessage.
func startupParams(body []byte) map[string]string {
	params := make(map[string]string)
	for len(body) > 1 {
		k, rest := cutZString(body)
		if k == "" {
			break
		}
		v, rest2 := cutZString(rest)
		params[k] = v
		body = rest2
	}
	return params
}

func cutZString(b []byte) (string, []byte) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:]
		}
	}
	return string(b), nil
}

// readMessage reads one typed frontend message.
func readMessage(r *bufio.Reader) (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n < 4 || n > 64<<20 {
		return 0, nil, fmt.Errorf("pgwire: bad message length %d", n)
	}
	body := make([]byte, n-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return hdr[0], body, nil
}

// msg accumulates one backend message; Bytes frames it with its type
// byte and length.
type msg struct {
	typ byte
	buf []byte
}

func newMsg(typ byte) *msg { return &msg{typ: typ} }

func (m *msg) byte1(b byte)   { m.buf = append(m.buf, b) }
func (m *msg) int16(v int16)  { m.buf = binary.BigEndian.AppendUint16(m.buf, uint16(v)) }
func (m *msg) int32(v int32)  { m.buf = binary.BigEndian.AppendUint32(m.buf, uint32(v)) }
func (m *msg) bytes(b []byte) { m.buf = append(m.buf, b...) }
func (m *msg) zstring(s string) {
	m.buf = append(m.buf, s...)
	m.buf = append(m.buf, 0)
}

func (m *msg) frame() []byte {
	out := make([]byte, 0, len(m.buf)+5)
	out = append(out, m.typ)
	out = binary.BigEndian.AppendUint32(out, uint32(len(m.buf)+4))
	return append(out, m.buf...)
}

// msgBuf batches backend messages so one statement's responses reach
// the socket in a single write.
type msgBuf struct {
	w   io.Writer
	out []byte
}

func (b *msgBuf) add(m *msg)          { b.out = append(b.out, m.frame()...) }
func (b *msgBuf) addRaw(frame []byte) { b.out = append(b.out, frame...) }

func (b *msgBuf) flush() error {
	if len(b.out) == 0 {
		return nil
	}
	_, err := b.w.Write(b.out)
	b.out = b.out[:0]
	return err
}
