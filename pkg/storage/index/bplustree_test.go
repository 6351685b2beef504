package index

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkernel/pkg/buffer"
	"dbkernel/pkg/storage/disk"
	"dbkernel/pkg/storage/page"
)

func newTestTree(t *testing.T, file string, leafMax, internalMax int32) *BPlusTree {
	os.Remove(file)
	t.Cleanup(func() { os.Remove(file) })
	dm, err := disk.NewDiskManager(file)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	bpm := buffer.NewBufferPoolManager(dm, 32, 2)
	headerPg := bpm.NewPage()
	page.NewHeaderPage(headerPg).Init()
	headerID := headerPg.ID()
	require.NoError(t, bpm.UnpinPage(headerID, true))

	return NewBPlusTree("primary", headerID, bpm, nil, leafMax, internalMax)
}

func rid(id int32) page.RID { return page.RID{PageID: page.PageID(id), SlotNum: 0} }

func TestBPlusTreeInsertAndGetValue(t *testing.T) {
	tree := newTestTree(t, "test_bpt_basic.db", 4, 4)

	for i := int64(1); i <= 10; i++ {
		assert.True(t, tree.Insert(i, rid(int32(i)), nil))
	}

	for i := int64(1); i <= 10; i++ {
		got, ok := tree.GetValue(i)
		require.True(t, ok, "key %d should be found", i)
		assert.Equal(t, rid(int32(i)), got)
	}

	_, ok := tree.GetValue(11)
	assert.False(t, ok)
}

// TestBPlusTreeSplitCascade mirrors spec §8 boundary scenario 3: inserting
// keys 1..10 with max_size=4 forces repeated leaf splits and at least one
// internal split, growing the tree beyond a single level.
func TestBPlusTreeSplitCascade(t *testing.T) {
	tree := newTestTree(t, "test_bpt_split.db", 4, 4)

	for i := int64(1); i <= 10; i++ {
		require.True(t, tree.Insert(i, rid(int32(i)), nil))
	}

	root := tree.RootPageID()
	require.NotEqual(t, page.InvalidPageID, root)
	rootPg := tree.bpm.FetchPage(root)
	assert.Equal(t, page.InternalPageType, page.PageTypeOf(rootPg), "10 keys at max_size=4 must have split the root into an internal page")
	tree.bpm.UnpinPage(root, false)

	it := tree.Begin()
	defer it.Close()
	var keys []int64
	for it.Valid() {
		keys = append(keys, it.Key())
		it.Next()
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, keys)
}

func TestBPlusTreeDuplicateInsertRejected(t *testing.T) {
	tree := newTestTree(t, "test_bpt_dup.db", 4, 4)
	require.True(t, tree.Insert(5, rid(5), nil))
	assert.False(t, tree.Insert(5, rid(500), nil))

	got, ok := tree.GetValue(5)
	require.True(t, ok)
	assert.Equal(t, rid(5), got, "the original value must survive a rejected duplicate insert")
}

// TestBPlusTreeRemoveDownToEmpty mirrors spec §8 boundary scenario 4:
// removing keys 1..8 (max_size=4) one at a time must trigger merges and
// leave a correctly empty, queryable tree.
func TestBPlusTreeRemoveDownToEmpty(t *testing.T) {
	tree := newTestTree(t, "test_bpt_remove.db", 4, 4)

	for i := int64(1); i <= 8; i++ {
		require.True(t, tree.Insert(i, rid(int32(i)), nil))
	}

	for i := int64(1); i <= 8; i++ {
		tree.Remove(i, nil)
		for j := int64(1); j <= i; j++ {
			_, ok := tree.GetValue(j)
			assert.False(t, ok, "key %d should be gone after removing it", j)
		}
		for j := i + 1; j <= 8; j++ {
			_, ok := tree.GetValue(j)
			assert.True(t, ok, "key %d should still be present", j)
		}
	}

	assert.True(t, tree.IsEmpty())
}

func TestBPlusTreeRemoveTriggersRedistribution(t *testing.T) {
	tree := newTestTree(t, "test_bpt_redist.db", 4, 4)
	for i := int64(1); i <= 12; i++ {
		require.True(t, tree.Insert(i, rid(int32(i)), nil))
	}

	// Remove a contiguous run from the left side; the remaining keys must
	// still all be reachable regardless of whether nodes merged or
	// borrowed from a sibling to stay within min_size.
	for i := int64(1); i <= 5; i++ {
		tree.Remove(i, nil)
	}
	for i := int64(6); i <= 12; i++ {
		_, ok := tree.GetValue(i)
		assert.True(t, ok, "key %d should survive", i)
	}

	it := tree.Begin()
	defer it.Close()
	var keys []int64
	for it.Valid() {
		keys = append(keys, it.Key())
		it.Next()
	}
	assert.Equal(t, []int64{6, 7, 8, 9, 10, 11, 12}, keys)
}

func TestBPlusTreeBeginAtSeeksToKey(t *testing.T) {
	tree := newTestTree(t, "test_bpt_beginat.db", 4, 4)
	for _, k := range []int64{1, 3, 5, 7, 9} {
		require.True(t, tree.Insert(k, rid(int32(k)), nil))
	}

	it := tree.BeginAt(4)
	defer it.Close()
	require.True(t, it.Valid())
	assert.Equal(t, int64(5), it.Key(), "BeginAt seeks to the first key >= the target")
}

func TestBPlusTreeRemoveMissingKeyIsNoop(t *testing.T) {
	tree := newTestTree(t, "test_bpt_remove_missing.db", 4, 4)
	require.True(t, tree.Insert(1, rid(1), nil))
	tree.Remove(42, nil)
	_, ok := tree.GetValue(1)
	assert.True(t, ok)
}
