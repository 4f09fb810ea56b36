package heap

import "fmt"

// TID locates one tuple: table-scoped page number plus slot index.
// Stable for the life of a row version; indexes store TIDs.
type TID struct {
	PageNo uint32
	Slot   uint16
}

func (t TID) String() string { return fmt.Sprintf("(%d,%d)", t.PageNo, t.Slot) }
