package storage

import (
	"encoding/binary"
	"errors"
)

const (
	// PageSize matches PostgreSQL's 8 KiB block.
	PageSize = 8192

	// Header offsets. The header is part of the on-disk image; pin
	// count and dirty flag live in the buffer pool frame, not here.
	offPageNo    = 0
	offSlotCount = 4
	offLower     = 6
	offUpper     = 8

	HeaderSize = 12
	SlotSize   = 4 // offset u16 + length u16; length == 0 marks a free slot
)

var (
	ErrNoSpace       = errors.New("page: not enough free space")
	ErrBadSlot       = errors.New("page: invalid slot")
	ErrTupleDeleted  = errors.New("page: slot is a tombstone")
	ErrTupleTooLarge = errors.New("page: tuple too large for one page")
	ErrCorruption    = errors.New("page: corrupt slot or tuple bounds")
	ErrWrongSize     = errors.New("page: buffer size != PageSize")
)

// Page is an 8 KiB slotted page over a raw buffer. The slot directory
// grows up from the header; tuple bodies grow down from the tail. The
// image is self-describing: no in-memory pointers are serialized, so a
// page written by one process reads back correctly after restart.
type Page struct {
	Buf []byte
}

// NewPage initializes buf as an empty page.
func NewPage(buf []byte, pageNo uint32) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWrongSize
	}
	p := &Page{Buf: buf}
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	p.setPageNo(pageNo)
	p.setLower(HeaderSize)
	p.setUpper(PageSize)
	return p, nil
}

// Load wraps an existing on-disk image.
func Load(buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWrongSize
	}
	p := &Page{Buf: buf}
	if p.lower() == 0 && p.upper() == 0 {
		// Freshly allocated zero page.
		p.setLower(HeaderSize)
		p.setUpper(PageSize)
	}
	return p, nil
}

func (p *Page) PageNo() uint32        { return binary.LittleEndian.Uint32(p.Buf[offPageNo:]) }
func (p *Page) setPageNo(v uint32)    { binary.LittleEndian.PutUint32(p.Buf[offPageNo:], v) }
func (p *Page) slotCount() uint16     { return binary.LittleEndian.Uint16(p.Buf[offSlotCount:]) }
func (p *Page) setSlotCount(v uint16) { binary.LittleEndian.PutUint16(p.Buf[offSlotCount:], v) }
func (p *Page) lower() uint16         { return binary.LittleEndian.Uint16(p.Buf[offLower:]) }
func (p *Page) setLower(v uint16)     { binary.LittleEndian.PutUint16(p.Buf[offLower:], v) }
func (p *Page) upper() uint16         { return binary.LittleEndian.Uint16(p.Buf[offUpper:]) }
func (p *Page) setUpper(v uint16)     { binary.LittleEndian.PutUint16(p.Buf[offUpper:], v) }

// FreeBytes is the gap between the slot directory and the tuple heap.
func (p *Page) FreeBytes() int { return int(p.upper()) - int(p.lower()) }

func (p *Page) NumSlots() int { return int(p.slotCount()) }

type slot struct {
	Offset uint16
	Length uint16
}

func (p *Page) slotOff(idx int) int { return HeaderSize + idx*SlotSize }

func (p *Page) getSlot(idx int) (slot, error) {
	if idx < 0 || idx >= p.NumSlots() {
		return slot{}, ErrBadSlot
	}
	o := p.slotOff(idx)
	return slot{
		Offset: binary.LittleEndian.Uint16(p.Buf[o:]),
		Length: binary.LittleEndian.Uint16(p.Buf[o+2:]),
	}, nil
}

func (p *Page) putSlot(idx int, s slot) {
	o := p.slotOff(idx)
	binary.LittleEndian.PutUint16(p.Buf[o:], s.Offset)
	binary.LittleEndian.PutUint16(p.Buf[o+2:], s.Length)
}

// InsertTuple copies tup into the heap and appends a slot for it.
// Fails with ErrNoSpace when free space minus one slot entry cannot
// hold the tuple; the caller then allocates a new page.
func (p *Page) InsertTuple(tup []byte) (int, error) {
	if len(tup) > PageSize-HeaderSize-SlotSize {
		return -1, ErrTupleTooLarge
	}
	if p.FreeBytes()-SlotSize < len(tup) {
		return -1, ErrNoSpace
	}
	u := int(p.upper()) - len(tup)
	copy(p.Buf[u:], tup)
	p.setUpper(uint16(u))

	idx := p.NumSlots()
	p.putSlot(idx, slot{Offset: uint16(u), Length: uint16(len(tup))})
	p.setSlotCount(uint16(idx + 1))
	p.setLower(p.lower() + SlotSize)
	return idx, nil
}

// ReadTuple returns the tuple body for a live slot, ErrTupleDeleted
// for a tombstone.
func (p *Page) ReadTuple(idx int) ([]byte, error) {
	s, err := p.getSlot(idx)
	if err != nil {
		return nil, err
	}
	if s.Length == 0 {
		return nil, ErrTupleDeleted
	}
	start, end := int(s.Offset), int(s.Offset)+int(s.Length)
	if start < int(p.upper()) || end > PageSize {
		return nil, ErrCorruption
	}
	return p.Buf[start:end], nil
}

// OverwriteTuple rewrites a live tuple in place. The new body must fit
// the existing slot; relocation across slots is the caller's job.
func (p *Page) OverwriteTuple(idx int, tup []byte) error {
	s, err := p.getSlot(idx)
	if err != nil {
		return err
	}
	if s.Length == 0 {
		return ErrTupleDeleted
	}
	if len(tup) > int(s.Length) {
		return ErrNoSpace
	}
	copy(p.Buf[int(s.Offset):], tup)
	p.putSlot(idx, slot{Offset: s.Offset, Length: uint16(len(tup))})
	return nil
}

// FreeTuple tombstones a slot by zeroing its length. The heap is not
// compacted here; reclaiming the bytes is VACUUM's job.
func (p *Page) FreeTuple(idx int) error {
	s, err := p.getSlot(idx)
	if err != nil {
		return err
	}
	if s.Length == 0 {
		return nil
	}
	p.putSlot(idx, slot{Offset: s.Offset, Length: 0})
	return nil
}

// LiveSlots calls fn for every live slot in directory order.
func (p *Page) LiveSlots(fn func(idx int, tup []byte) error) error {
	for i := 0; i < p.NumSlots(); i++ {
		s, err := p.getSlot(i)
		if err != nil {
			return err
		}
		if s.Length == 0 {
			continue
		}
		if err := fn(i, p.Buf[int(s.Offset):int(s.Offset)+int(s.Length)]); err != nil {
			return err
		}
	}
	return nil
}

// Compact repacks live tuple bodies against the page tail, reclaiming
// the space of tombstoned tuples. Slot indices are preserved, so
// locators held by indexes stay valid.
func (p *Page) Compact() {
	type live struct {
		idx int
		tup []byte
	}
	var tuples []live
	for i := 0; i < p.NumSlots(); i++ {
		s, _ := p.getSlot(i)
		if s.Length == 0 {
			continue
		}
		cp := make([]byte, s.Length)
		copy(cp, p.Buf[int(s.Offset):int(s.Offset)+int(s.Length)])
		tuples = append(tuples, live{idx: i, tup: cp})
	}
	upper := PageSize
	for _, t := range tuples {
		upper -= len(t.tup)
		copy(p.Buf[upper:], t.tup)
		p.putSlot(t.idx, slot{Offset: uint16(upper), Length: uint16(len(t.tup))})
	}
	p.setUpper(uint16(upper))
}

// LiveBytes sums live tuple lengths plus slot overhead, for the
// free-space accounting invariant.
func (p *Page) LiveBytes() int {
	total := 0
	for i := 0; i < p.NumSlots(); i++ {
		s, _ := p.getSlot(i)
		total += int(s.Length)
	}
	return total + p.NumSlots()*SlotSize
}
