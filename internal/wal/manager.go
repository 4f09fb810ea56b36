package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrShortRead = errors.New("wal: short read")
	ErrClosed    = errors.New("wal: manager closed")
)

const (
	magicU32   uint32 = 0x4C415750 // "PWAL"
	versionU16 uint16 = 1

	// MaxSegmentSize seals a segment once it is exceeded.
	MaxSegmentSize = 1 << 20

	// sealedRetained segments are kept beyond the current one until a
	// checkpoint supersedes them.
	sealedRetained = 2
)

// Manager is the append-only segmented write-ahead log. Segments are
// wal/NNNNNN.wal; the highest-numbered one is current, lower ones are
// sealed. Each record is framed as
//
//	magic u32 | version u16 | reserved u16 | totalLen u32 | crc u32 | json body
//
// with the CRC covering the body. Appends are ordered by LSN and
// recovery replays them in append order.
type Manager struct {
	mu      sync.Mutex
	dir     string
	f       *os.File
	seg     uint64
	segSize int64
	lsn     uint64
}

func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	m := &Manager{dir: dir}

	segs, err := m.segments()
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		m.seg = 1
	} else {
		m.seg = segs[len(segs)-1]
		// recover last LSN from existing segments
		for _, s := range segs {
			recs, err := readSegment(m.segPath(s))
			if err != nil {
				return nil, err
			}
			for _, r := range recs {
				if r.LSN > m.lsn {
					m.lsn = r.LSN
				}
			}
		}
	}

	if err := m.openCurrent(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) segPath(n uint64) string {
	return filepath.Join(m.dir, fmt.Sprintf("%06d.wal", n))
}

// segments lists existing segment numbers in ascending order.
func (m *Manager) segments() ([]uint64, error) {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var segs []uint64
	for _, e := range ents {
		var n uint64
		if _, err := fmt.Sscanf(e.Name(), "%06d.wal", &n); err == nil {
			segs = append(segs, n)
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
	return segs, nil
}

func (m *Manager) openCurrent() error {
	f, err := os.OpenFile(m.segPath(m.seg), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	m.f = f
	m.segSize = st.Size()
	return nil
}

// Append frames and writes one record, assigning its LSN. The segment
// is sealed and a new one begun once it passes MaxSegmentSize.
func (m *Manager) Append(rec *Record) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return 0, ErrClosed
	}

	m.lsn++
	rec.LSN = m.lsn

	body, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("wal: marshal: %w", err)
	}

	frame := make([]byte, 16+len(body))
	binary.LittleEndian.PutUint32(frame[0:], magicU32)
	binary.LittleEndian.PutUint16(frame[4:], versionU16)
	binary.LittleEndian.PutUint32(frame[8:], uint32(len(frame)))
	binary.LittleEndian.PutUint32(frame[12:], crc32.ChecksumIEEE(body))
	copy(frame[16:], body)

	if _, err := m.f.Write(frame); err != nil {
		return 0, err
	}
	m.segSize += int64(len(frame))

	if m.segSize >= MaxSegmentSize {
		if err := m.rotateLocked(); err != nil {
			return 0, err
		}
	}
	return rec.LSN, nil
}

func (m *Manager) rotateLocked() error {
	if err := m.f.Sync(); err != nil {
		return err
	}
	if err := m.f.Close(); err != nil {
		return err
	}
	m.seg++
	return m.openCurrent()
}

// Sync fsyncs the current segment. Called before a commit is
// acknowledged on the wire.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrClosed
	}
	return m.f.Sync()
}

// TruncateOld deletes sealed segments beyond the retained window: the
// two most recent sealed segments plus the current survive. Called
// after a successful checkpoint.
func (m *Manager) TruncateOld() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	segs, err := m.segments()
	if err != nil {
		return err
	}
	keepFrom := m.seg
	if keepFrom > sealedRetained {
		keepFrom -= sealedRetained
	} else {
		keepFrom = 1
	}
	for _, s := range segs {
		if s < keepFrom {
			if err := os.Remove(m.segPath(s)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadAll returns every record in every retained segment, in append
// order. A torn record at the tail of the current segment is
// tolerated and ends the scan.
func (m *Manager) ReadAll() ([]Record, error) {
	m.mu.Lock()
	segs, err := m.segments()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var all []Record
	for _, s := range segs {
		recs, err := readSegment(m.segPath(s))
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

func readSegment(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	var recs []Record
	for {
		rec, err := readOne(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrShortRead) {
				// torn tail record: everything before it is good
				return recs, nil
			}
			return nil, err
		}
		recs = append(recs, *rec)
	}
}

func readOne(r *bufio.Reader) (*Record, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != magicU32 {
		return nil, ErrBadMagic
	}
	if binary.LittleEndian.Uint16(hdr[4:]) != versionU16 {
		return nil, ErrBadRecord
	}
	totalLen := binary.LittleEndian.Uint32(hdr[8:])
	if totalLen < 16 {
		return nil, ErrBadRecord
	}
	wantCRC := binary.LittleEndian.Uint32(hdr[12:])

	body := make([]byte, totalLen-16)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrShortRead
		}
		return nil, err
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, ErrBadCRC
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, ErrBadRecord
	}
	return &rec, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Sync()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	m.f = nil
	return err
}
