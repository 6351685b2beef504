package index

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dbkernel/pkg/buffer"
	"dbkernel/pkg/storage/disk"
	"dbkernel/pkg/storage/page"
)

// TestBenchmarkInsertThenLookup exercises the buffer pool and B+ tree
// together at a scale the unit tests don't reach: a few thousand inserts
// followed by a full re-lookup pass, timed and logged rather than asserted
// on, the same shape as the teacher's standalone benchmark.
func TestBenchmarkInsertThenLookup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping benchmark in -short mode")
	}

	dbFile := "bench.db"
	os.Remove(dbFile)
	t.Cleanup(func() { os.Remove(dbFile) })

	dm, err := disk.NewDiskManager(dbFile)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	bpm := buffer.NewBufferPoolManager(dm, 1000, 2)
	headerPg := bpm.NewPage()
	page.NewHeaderPage(headerPg).Init()
	headerID := headerPg.ID()
	require.NoError(t, bpm.UnpinPage(headerID, true))

	tree := NewBPlusTree("bench", headerID, bpm, nil, 64, 64)

	const dataCount = 5000

	startInsert := time.Now()
	for i := int64(0); i < dataCount; i++ {
		tree.Insert(i, page.RID{PageID: page.PageID(i), SlotNum: 0}, nil)
	}
	bpm.FlushAllPages()
	insertElapsed := time.Since(startInsert)
	fmt.Printf("insert: %d keys in %v (%.0f ops/sec)\n", dataCount, insertElapsed, float64(dataCount)/insertElapsed.Seconds())

	startLookup := time.Now()
	for i := int64(0); i < dataCount; i++ {
		got, ok := tree.GetValue(i)
		require.True(t, ok, "key %d lost", i)
		require.Equal(t, page.PageID(i), got.PageID)
	}
	lookupElapsed := time.Since(startLookup)
	fmt.Printf("lookup: %d keys in %v (%.0f ops/sec)\n", dataCount, lookupElapsed, float64(dataCount)/lookupElapsed.Seconds())
}
