package wal

import "encoding/json"

// Kind discriminates WAL records.
type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindCommit
	KindAbort
	KindInsert
	KindUpdate
	KindDelete
	KindCreateTable
	KindDropTable
	KindAlterTable
	KindCheckpoint
)

// Record is one logical WAL entry. Field use depends on Kind:
//
//	Begin/Commit/Abort: Tx
//	Insert:             Tx, Table, PageNo, Slot, Tuple, Xmin
//	Update:             Tx, Table, OldPageNo, OldSlot, PageNo, Slot, Tuple, Xmin, PrevXmax
//	Delete:             Tx, Table, PageNo, Slot, Xmax
//	CreateTable:        Table, Meta (serialized catalog entry)
//	DropTable:          Table
//	AlterTable:         Table, Meta (post-alter catalog entry), NewName on renames
//	Checkpoint:         NextTx, Active
//
// Bodies are JSON inside the binary frame, so records stay inspectable
// with standard tools while framing and integrity stay binary.
type Record struct {
	LSN  uint64 `json:"lsn"`
	Kind Kind   `json:"kind"`

	Tx    uint64 `json:"tx,omitempty"`
	Table string `json:"table,omitempty"`

	PageNo    uint32 `json:"page,omitempty"`
	Slot      uint16 `json:"slot,omitempty"`
	OldPageNo uint32 `json:"old_page,omitempty"`
	OldSlot   uint16 `json:"old_slot,omitempty"`

	Tuple    []byte `json:"tuple,omitempty"`
	Xmin     uint64 `json:"xmin,omitempty"`
	Xmax     uint64 `json:"xmax,omitempty"`
	PrevXmax uint64 `json:"prev_xmax,omitempty"`

	Meta    json.RawMessage `json:"meta,omitempty"`
	NewName string          `json:"new_name,omitempty"`

	NextTx uint64   `json:"next_tx,omitempty"`
	Active []uint64 `json:"active,omitempty"`
}
