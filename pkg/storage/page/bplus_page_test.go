package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func lessInt64(a, b int64) bool { return a < b }

func TestLeafPageInsertLookupRemove(t *testing.T) {
	raw := &Page{}
	leaf := NewLeafPage(raw)
	leaf.Init(7, InvalidPageID, 4)

	assert.True(t, leaf.Insert(10, RID{PageID: 1, SlotNum: 0}, lessInt64))
	assert.True(t, leaf.Insert(5, RID{PageID: 1, SlotNum: 1}, lessInt64))
	assert.True(t, leaf.Insert(20, RID{PageID: 1, SlotNum: 2}, lessInt64))
	assert.False(t, leaf.Insert(10, RID{PageID: 9, SlotNum: 9}, lessInt64), "duplicate key rejected")

	assert.Equal(t, int64(5), leaf.KeyAt(0))
	assert.Equal(t, int64(10), leaf.KeyAt(1))
	assert.Equal(t, int64(20), leaf.KeyAt(2))

	rid, ok := leaf.Lookup(10, lessInt64)
	assert.True(t, ok)
	assert.Equal(t, uint32(0), rid.SlotNum)

	assert.True(t, leaf.RemoveKey(10, lessInt64))
	_, ok = leaf.Lookup(10, lessInt64)
	assert.False(t, ok)
	assert.False(t, leaf.RemoveKey(10, lessInt64), "removing twice is a no-op")
}

func TestLeafPageSplitPreservesOrderAndChain(t *testing.T) {
	left := NewLeafPage(&Page{})
	left.Init(1, InvalidPageID, 4)
	for _, k := range []int64{1, 2, 3, 4} {
		left.Insert(k, RID{PageID: PageID(k)}, lessInt64)
	}

	right := NewLeafPage(&Page{})
	right.Init(2, InvalidPageID, 4)

	left.MoveHalfTo(right)

	assert.Equal(t, PageID(2), left.NextPageID())
	assert.True(t, left.Size() > 0 && right.Size() > 0)
	assert.Less(t, left.KeyAt(left.Size()-1), right.KeyAt(0))
}

func TestInternalPagePopulateAndLookup(t *testing.T) {
	internal := NewInternalPage(&Page{})
	internal.Init(3, InvalidPageID, 4)
	internal.PopulateNewRoot(10, 50, 20)

	assert.Equal(t, PageID(10), internal.Lookup(1, lessInt64))
	assert.Equal(t, PageID(10), internal.Lookup(49, lessInt64))
	assert.Equal(t, PageID(20), internal.Lookup(50, lessInt64))
	assert.Equal(t, PageID(20), internal.Lookup(999, lessInt64))
}

func TestInternalPageInsertNodeAfterAndRemove(t *testing.T) {
	internal := NewInternalPage(&Page{})
	internal.Init(3, InvalidPageID, 4)
	internal.PopulateNewRoot(10, 50, 20)

	internal.InsertNodeAfter(20, 80, 30)
	assert.Equal(t, int32(3), internal.Size())
	assert.Equal(t, PageID(30), internal.ValueAt(2))
	assert.Equal(t, int64(80), internal.KeyAt(2))

	idx := internal.ValueIndex(20)
	internal.Remove(idx)
	assert.Equal(t, int32(2), internal.Size())
	assert.Equal(t, PageID(30), internal.ValueAt(1))
}
