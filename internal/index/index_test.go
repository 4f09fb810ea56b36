package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/sql"
)

func tid(page uint32, slot uint16) heap.TID {
	return heap.TID{PageNo: page, Slot: slot}
}

func TestBTree_InsertLookupRemove(t *testing.T) {
	ix := New(KindBTree, "ix", "t", []string{"id"}, false)

	k1 := EncodeKey([]sql.Value{sql.NewInt(1)})
	k2 := EncodeKey([]sql.Value{sql.NewInt(2)})
	ix.Insert(k1, tid(0, 0))
	ix.Insert(k2, tid(0, 1))

	assert.Equal(t, []heap.TID{tid(0, 0)}, ix.LookupEq(k1))
	assert.Equal(t, 2, ix.Len())

	ix.Remove(k1, tid(0, 0))
	assert.Empty(t, ix.LookupEq(k1))
	assert.Equal(t, 1, ix.Len())
}

func TestBTree_MultimapKeepsDuplicates(t *testing.T) {
	ix := New(KindBTree, "ix", "t", []string{"id"}, true)
	k := EncodeKey([]sql.Value{sql.NewInt(7)})

	// indexes never reject: uniqueness lives in the DML layer, and two
	// row versions of the same key coexist until VACUUM
	ix.Insert(k, tid(0, 0))
	ix.Insert(k, tid(0, 1))
	assert.ElementsMatch(t, []heap.TID{tid(0, 0), tid(0, 1)}, ix.LookupEq(k))

	ix.Remove(k, tid(0, 0))
	assert.Equal(t, []heap.TID{tid(0, 1)}, ix.LookupEq(k))
}

func TestBTree_RangeScan(t *testing.T) {
	ix := New(KindBTree, "ix", "t", []string{"id"}, false)
	for i := int64(1); i <= 9; i++ {
		ix.Insert(EncodeKey([]sql.Value{sql.NewInt(i)}), tid(0, uint16(i)))
	}
	low := EncodeKey([]sql.Value{sql.NewInt(3)})
	high := EncodeKey([]sql.Value{sql.NewInt(6)})

	got := ix.LookupRange(low, high, true, true)
	require.Len(t, got, 4)
	assert.Equal(t, tid(0, 3), got[0])
	assert.Equal(t, tid(0, 6), got[3])

	got = ix.LookupRange(low, high, false, false)
	require.Len(t, got, 2)
	assert.Equal(t, tid(0, 4), got[0])
	assert.Equal(t, tid(0, 5), got[1])

	// open-ended bounds
	got = ix.LookupRange(low, "", true, false)
	assert.Len(t, got, 7)
	got = ix.LookupRange("", high, false, true)
	assert.Len(t, got, 6)
}

func TestBTree_NegativeIntsOrderCorrectly(t *testing.T) {
	ix := New(KindBTree, "ix", "t", []string{"id"}, false)
	for _, v := range []int64{-5, -1, 0, 3, 10} {
		ix.Insert(EncodeKey([]sql.Value{sql.NewInt(v)}), tid(0, uint16(v+100)))
	}
	low := EncodeKey([]sql.Value{sql.NewInt(-2)})
	got := ix.LookupRange(low, "", true, false)
	require.Len(t, got, 4) // -1, 0, 3, 10
	assert.Equal(t, tid(0, 99), got[0])
}

func TestHash_EqualityOnly(t *testing.T) {
	ix := New(KindHash, "ix", "t", []string{"email"}, false)
	k := EncodeKey([]sql.Value{sql.NewText("a@b.c")})
	ix.Insert(k, tid(1, 2))

	assert.Equal(t, []heap.TID{tid(1, 2)}, ix.LookupEq(k))
	assert.Nil(t, ix.LookupRange("", "", true, true), "hash indexes do not scan ranges")
	assert.Equal(t, KindHash, ix.Kind())
}

func TestEncodeKey_CompositeOrdering(t *testing.T) {
	ka := EncodeKey([]sql.Value{sql.NewText("a"), sql.NewInt(2)})
	kb := EncodeKey([]sql.Value{sql.NewText("a"), sql.NewInt(10)})
	kc := EncodeKey([]sql.Value{sql.NewText("b"), sql.NewInt(1)})
	assert.Less(t, ka, kb)
	assert.Less(t, kb, kc)
}

func TestEncodeKey_SeparatorCannotCollide(t *testing.T) {
	// ("a\x00\x01b") as one component must differ from ("a", "b")
	one := EncodeKey([]sql.Value{sql.NewText("a\x00\x01b")})
	two := EncodeKey([]sql.Value{sql.NewText("a"), sql.NewText("b")})
	assert.NotEqual(t, one, two)
}

func TestHasNull(t *testing.T) {
	assert.True(t, HasNull([]sql.Value{sql.NewInt(1), sql.Null()}))
	assert.False(t, HasNull([]sql.Value{sql.NewInt(1), sql.NewText("x")}))
}
