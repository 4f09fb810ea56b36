package pgwire

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tuannm99/novapg/internal/engine"
	"github.com/tuannm99/novapg/internal/executor"
	"github.com/tuannm99/novapg/internal/sql"
	"github.com/tuannm99/novapg/internal/sql/parser"
)

var errAuthFailed = errors.New("password authentication failed")

// conn drives one client connection through startup, auth and the
// query loop.
type conn struct {
	netc net.Conn
	r    *bufio.Reader
	out  msgBuf
	eng  *engine.Engine
	log  *slog.Logger

	sess *engine.Session

	prepared map[string]*prepStmt
	portals  map[string]*portal

	// skipToSync drops extended-protocol messages after an error until
	// the client's Sync
	skipToSync bool
}

// prepStmt is a named statement from Parse: raw SQL with $N params
// still in place.
type prepStmt struct {
	query   string
	nParams int
}

// portal is a bound statement; results computed at Describe time are
// cached for the following Execute.
type portal struct {
	stmt   sql.Statement
	result *executor.Result
}

func newConn(c net.Conn, eng *engine.Engine, log *slog.Logger) *conn {
	return &conn{
		netc:     c,
		r:        bufio.NewReaderSize(c, 64<<10),
		out:      msgBuf{w: c},
		eng:      eng,
		log:      log,
		prepared: make(map[string]*prepStmt),
		portals:  make(map[string]*portal),
	}
}

func (c *conn) run() error {
	user, err := c.startup()
	if err != nil {
		return err
	}
	c.sess = c.eng.NewSession(user)
	if err := c.sendReady(); err != nil {
		return err
	}

	for {
		typ, body, err := readMessage(c.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch typ {
		case 'Q':
			err = c.simpleQuery(body)
		case 'P':
			err = c.handleParse(body)
		case 'B':
			err = c.handleBind(body)
		case 'D':
			err = c.handleDescribe(body)
		case 'E':
			err = c.handleExecute(body)
		case 'C':
			err = c.handleClose(body)
		case 'H':
			err = c.out.flush()
		case 'S':
			c.skipToSync = false
			err = c.sendReady()
		case 'X':
			return nil
		case 'd', 'c', 'f':
			// stray COPY traffic outside a COPY operation
		default:
			c.out.add(errorResponse(fmt.Errorf("unsupported message type %q", typ)))
			err = c.sendReady()
		}
		if err != nil {
			return err
		}
	}
}

// startup negotiates SSL refusal, reads the StartupMessage and runs
// cleartext password auth.
func (c *conn) startup() (string, error) {
	for {
		code, body, err := readStartup(c.r)
		if err != nil {
			return "", err
		}
		switch code {
		case sslRequest, gssEncRequest:
			if _, err := c.netc.Write([]byte{'N'}); err != nil {
				return "", err
			}
		case cancelRequest:
			return "", errors.New("pgwire: cancel request on fresh connection")
		case protoVersion3:
			params := startupParams(body)
			return c.authenticate(params["user"], params["database"])
		default:
			return "", fmt.Errorf("pgwire: unsupported protocol %d.%d", code>>16, code&0xffff)
		}
	}
}

func (c *conn) authenticate(user, database string) (string, error) {
	if user == "" {
		return "", c.fatal("28000", "no user name in startup packet")
	}
	if database != "" && database != c.eng.DatabaseName() {
		return "", c.fatal("3D000", fmt.Sprintf("database %q does not exist", database))
	}

	// AuthenticationCleartextPassword
	req := newMsg('R')
	req.int32(3)
	c.out.add(req)
	if err := c.out.flush(); err != nil {
		return "", err
	}

	typ, body, err := readMessage(c.r)
	if err != nil {
		return "", err
	}
	if typ != 'p' {
		return "", c.fatal("08P01", "expected password response")
	}
	password, _ := cutZString(body)
	if !c.eng.Authenticate(user, password) {
		c.log.Warn("authentication failed", "user", user)
		return "", c.fatal("28P01", fmt.Sprintf("password authentication failed for user %q", user))
	}

	ok := newMsg('R')
	ok.int32(0)
	c.out.add(ok)
	for _, kv := range [][2]string{
		{"server_version", "14.0 (novapg 0.1.0)"},
		{"server_encoding", "UTF8"},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"integer_datetimes", "on"},
		{"standard_conforming_strings", "on"},
	} {
		ps := newMsg('S')
		ps.zstring(kv[0])
		ps.zstring(kv[1])
		c.out.add(ps)
	}
	key := newMsg('K')
	var secret [8]byte
	_, _ = rand.Read(secret[:])
	key.int32(int32(binary.BigEndian.Uint32(secret[:4])))
	key.int32(int32(binary.BigEndian.Uint32(secret[4:])))
	c.out.add(key)

	c.log.Info("session opened", "user", user)
	return user, nil
}

// fatal sends an ERROR with the given SQLSTATE and returns an error
// that tears the connection down.
func (c *conn) fatal(code, message string) error {
	m := newMsg('E')
	m.byte1('S')
	m.zstring("FATAL")
	m.byte1('V')
	m.zstring("FATAL")
	m.byte1('C')
	m.zstring(code)
	m.byte1('M')
	m.zstring(message)
	m.byte1(0)
	c.out.add(m)
	_ = c.out.flush()
	return errors.New("pgwire: " + message)
}

func (c *conn) sendReady() error {
	m := newMsg('Z')
	m.byte1(c.sess.TxStatus())
	c.out.add(m)
	return c.out.flush()
}

// ---- simple query ----

func (c *conn) simpleQuery(body []byte) error {
	query, _ := cutZString(body)
	stmts := parser.SplitStatements(query)
	ran := false
	for _, text := range stmts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		ran = true
		stmt, err := parser.Parse(text)
		if err != nil {
			c.out.add(errorResponse(err))
			return c.sendReady()
		}
		if cp, ok := stmt.(*sql.CopyStmt); ok {
			if err := c.runCopy(cp); err != nil {
				c.out.add(errorResponse(err))
				return c.sendReady()
			}
			continue
		}
		res, err := c.sess.Exec(stmt)
		if err != nil {
			c.out.add(errorResponse(err))
			return c.sendReady()
		}
		c.sendResult(res, true)
	}
	if !ran {
		c.out.add(newMsg('I')) // EmptyQueryResponse
	}
	return c.sendReady()
}

// sendResult writes RowDescription (when asked), DataRows and
// CommandComplete for one statement result.
func (c *conn) sendResult(res *executor.Result, withDesc bool) {
	if len(res.Columns) > 0 {
		if withDesc {
			c.out.add(rowDescription(res.Columns))
		}
		for _, row := range res.Rows {
			c.out.add(dataRow(row))
		}
	}
	cc := newMsg('C')
	cc.zstring(res.Tag)
	c.out.add(cc)
}

func rowDescription(cols []executor.ResultColumn) *msg {
	m := newMsg('T')
	m.int16(int16(len(cols)))
	for _, col := range cols {
		m.zstring(col.Name)
		m.int32(0) // table oid
		m.int16(0) // attnum
		m.int32(typeOID(col.Type))
		m.int16(typeSize(col.Type))
		m.int32(-1) // typmod
		m.int16(0)  // text format
	}
	return m
}

func dataRow(vals []sql.Value) *msg {
	m := newMsg('D')
	m.int16(int16(len(vals)))
	for _, v := range vals {
		s, ok := textValue(v)
		if !ok {
			m.int32(-1)
			continue
		}
		m.int32(int32(len(s)))
		m.bytes([]byte(s))
	}
	return m
}

// ---- extended query ----

func (c *conn) extErr(err error) error {
	c.out.add(errorResponse(err))
	c.skipToSync = true
	return nil
}

func (c *conn) handleParse(body []byte) error {
	if c.skipToSync {
		return nil
	}
	name, rest := cutZString(body)
	query, rest2 := cutZString(rest)
	// declared parameter type OIDs are accepted and ignored; params
	// arrive in text format and are inlined at Bind time
	_ = rest2
	c.prepared[name] = &prepStmt{query: query, nParams: countParams(query)}
	c.out.add(newMsg('1')) // ParseComplete
	return nil
}

// countParams finds the highest $N placeholder outside string literals.
func countParams(query string) int {
	max := 0
	inStr := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if inStr {
			if ch == '\'' {
				inStr = false
			}
			continue
		}
		switch {
		case ch == '\'':
			inStr = true
		case ch == '$':
			n := 0
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				n = n*10 + int(query[j]-'0')
				j++
			}
			if n > max {
				max = n
			}
			i = j - 1
		}
	}
	return max
}

func (c *conn) handleBind(body []byte) error {
	if c.skipToSync {
		return nil
	}
	portalName, rest := cutZString(body)
	stmtName, rest2 := cutZString(rest)
	ps, ok := c.prepared[stmtName]
	if !ok {
		return c.extErr(fmt.Errorf("prepared statement %q does not exist", stmtName))
	}

	buf := rest2
	nFmt := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	fmts := make([]int16, nFmt)
	for i := range fmts {
		fmts[i] = int16(binary.BigEndian.Uint16(buf))
		buf = buf[2:]
	}
	nParams := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	params := make([]*string, nParams)
	for i := 0; i < nParams; i++ {
		if len(fmts) == 1 && fmts[0] == 1 || len(fmts) > i && fmts[i] == 1 {
			return c.extErr(errors.New("binary parameter format is not supported"))
		}
		n := int32(binary.BigEndian.Uint32(buf))
		buf = buf[4:]
		if n >= 0 {
			s := string(buf[:n])
			params[i] = &s
			buf = buf[n:]
		}
	}

	text, err := interpolate(ps.query, params)
	if err != nil {
		return c.extErr(err)
	}
	stmt, err := parser.Parse(text)
	if err != nil {
		return c.extErr(err)
	}
	c.portals[portalName] = &portal{stmt: stmt}
	c.out.add(newMsg('2')) // BindComplete
	return nil
}

// interpolate substitutes $N placeholders with SQL literals. Numeric
// and boolean-looking parameters are inlined bare so integer and
// boolean comparisons keep their types; everything else is quoted.
func interpolate(query string, params []*string) (string, error) {
	var b strings.Builder
	inStr := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if inStr {
			b.WriteByte(ch)
			if ch == '\'' {
				inStr = false
			}
			continue
		}
		if ch == '\'' {
			inStr = true
			b.WriteByte(ch)
			continue
		}
		if ch != '$' || i+1 >= len(query) || query[i+1] < '0' || query[i+1] > '9' {
			b.WriteByte(ch)
			continue
		}
		n := 0
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			n = n*10 + int(query[j]-'0')
			j++
		}
		i = j - 1
		if n < 1 || n > len(params) {
			return "", fmt.Errorf("there is no parameter $%d", n)
		}
		b.WriteString(paramLiteral(params[n-1]))
	}
	return b.String(), nil
}

func paramLiteral(p *string) string {
	if p == nil {
		return "NULL"
	}
	s := *p
	if _, err := decimal.NewFromString(s); err == nil && s != "" {
		return s
	}
	switch strings.ToLower(s) {
	case "true", "false":
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (c *conn) handleDescribe(body []byte) error {
	if c.skipToSync {
		return nil
	}
	kind := body[0]
	name, _ := cutZString(body[1:])
	switch kind {
	case 'S':
		ps, ok := c.prepared[name]
		if !ok {
			return c.extErr(fmt.Errorf("prepared statement %q does not exist", name))
		}
		pd := newMsg('t')
		pd.int16(int16(ps.nParams))
		for i := 0; i < ps.nParams; i++ {
			pd.int32(oidText)
		}
		c.out.add(pd)
		c.out.add(newMsg('n')) // NoData before binding
		return nil
	case 'P':
		p, ok := c.portals[name]
		if !ok {
			return c.extErr(fmt.Errorf("portal %q does not exist", name))
		}
		res, err := c.runPortal(p)
		if err != nil {
			return c.extErr(err)
		}
		if len(res.Columns) > 0 {
			c.out.add(rowDescription(res.Columns))
		} else {
			c.out.add(newMsg('n'))
		}
		return nil
	}
	return c.extErr(fmt.Errorf("invalid describe kind %q", kind))
}

// runPortal executes the portal once and caches the result for the
// Execute that follows a Describe.
func (c *conn) runPortal(p *portal) (*executor.Result, error) {
	if p.result != nil {
		return p.result, nil
	}
	if _, ok := p.stmt.(*sql.CopyStmt); ok {
		return nil, errors.New("COPY is only supported in the simple query protocol")
	}
	res, err := c.sess.Exec(p.stmt)
	if err != nil {
		return nil, err
	}
	p.result = res
	return res, nil
}

func (c *conn) handleExecute(body []byte) error {
	if c.skipToSync {
		return nil
	}
	name, _ := cutZString(body)
	p, ok := c.portals[name]
	if !ok {
		return c.extErr(fmt.Errorf("portal %q does not exist", name))
	}
	res, err := c.runPortal(p)
	if err != nil {
		return c.extErr(err)
	}
	// RowDescription belongs to Describe; Execute sends rows only
	c.sendResult(res, false)
	p.result = nil
	return nil
}

func (c *conn) handleClose(body []byte) error {
	if c.skipToSync {
		return nil
	}
	kind := body[0]
	name, _ := cutZString(body[1:])
	switch kind {
	case 'S':
		delete(c.prepared, name)
	case 'P':
		delete(c.portals, name)
	}
	c.out.add(newMsg('3')) // CloseComplete
	return nil
}
