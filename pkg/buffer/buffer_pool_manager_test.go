package buffer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkernel/pkg/storage/disk"
	"dbkernel/pkg/storage/page"
)

func newTestPool(t *testing.T, file string, poolSize int) *BufferPoolManager {
	os.Remove(file)
	t.Cleanup(func() { os.Remove(file) })
	dm, err := disk.NewDiskManager(file)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return NewBufferPoolManager(dm, poolSize, 2)
}

func TestBufferPoolManagerNewFetchUnpin(t *testing.T) {
	bpm := newTestPool(t, "test_bpm_basic.db", 2)

	p0 := bpm.NewPage()
	require.NotNil(t, p0)
	assert.Equal(t, page.PageID(0), p0.ID())
	copy(p0.Data[:], []byte("Page 0 Data"))
	require.NoError(t, bpm.UnpinPage(0, true))

	fetched := bpm.FetchPage(0)
	require.NotNil(t, fetched)
	assert.Equal(t, "Page 0 Data", string(fetched.Data[:11]))
	bpm.UnpinPage(0, false)
}

// TestBufferPoolManagerEvictsAndFlushesDirtyPage exercises the full
// pin/evict/read-back cycle described in spec §4.3's contract.
func TestBufferPoolManagerEvictsAndFlushesDirtyPage(t *testing.T) {
	bpm := newTestPool(t, "test_bpm_evict.db", 2)

	p0 := bpm.NewPage()
	// Keep the id: once page 0 is evicted, p0's frame holds another page.
	p0ID := p0.ID()
	copy(p0.Data[:], []byte("Page 0 Data"))
	require.NoError(t, bpm.UnpinPage(p0ID, true))

	p1 := bpm.NewPage()
	copy(p1.Data[:], []byte("Page 1 Data"))
	require.NoError(t, bpm.UnpinPage(p1.ID(), true))

	// Pool is full; page 0 is the oldest evictable frame, so a third
	// NewPage should evict it after flushing its dirty contents.
	p2 := bpm.NewPage()
	require.NotNil(t, p2)
	require.NoError(t, bpm.UnpinPage(p2.ID(), false))

	p0Read := bpm.FetchPage(p0ID)
	require.NotNil(t, p0Read)
	assert.Equal(t, "Page 0 Data", string(p0Read.Data[:11]))
	bpm.UnpinPage(p0ID, false)
}

func TestBufferPoolManagerPinnedPagesAreNotEvicted(t *testing.T) {
	bpm := newTestPool(t, "test_bpm_pinned.db", 1)

	p0 := bpm.NewPage()
	require.NotNil(t, p0)
	// p0 remains pinned; a second NewPage has no frame to reclaim.
	p1 := bpm.NewPage()
	assert.Nil(t, p1)
}

func TestBufferPoolManagerDeletePage(t *testing.T) {
	bpm := newTestPool(t, "test_bpm_delete.db", 2)

	p0 := bpm.NewPage()
	id := p0.ID()
	require.NoError(t, bpm.UnpinPage(id, false))

	assert.True(t, bpm.DeletePage(id))
}

func TestBufferPoolManagerDeletePinnedPageFails(t *testing.T) {
	bpm := newTestPool(t, "test_bpm_delete_pinned.db", 2)

	p0 := bpm.NewPage()
	assert.False(t, bpm.DeletePage(p0.ID()))
}

func TestBufferPoolManagerUnpinUnknownPageFails(t *testing.T) {
	bpm := newTestPool(t, "test_bpm_unpin_unknown.db", 2)
	err := bpm.UnpinPage(42, false)
	assert.ErrorIs(t, err, ErrPageNotResident)
}
