package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLRUKReplacerEvictionOrder mirrors spec §8 boundary scenario 2:
// k=2, pool=3. Access f0,f1,f2; mark all evictable; access f0 again (hits
// k=2, promoting it to the cache list); a later eviction must pick f1 —
// the oldest entry still in the history list.
func TestLRUKReplacerEvictionOrder(t *testing.T) {
	r := NewLRUKReplacer(3, 2)

	r.RecordAccess(0)
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	r.RecordAccess(0) // f0 now has 2 hits, promoted to cache list

	victim, ok := r.Evict()
	assert.True(t, ok)
	assert.Equal(t, FrameID(1), victim, "oldest history-list frame wins")
}

func TestLRUKReplacerHistoryBeatsCache(t *testing.T) {
	r := NewLRUKReplacer(2, 2)

	r.RecordAccess(0)
	r.RecordAccess(0) // promoted to cache list (2 hits)
	r.SetEvictable(0, true)

	r.RecordAccess(1) // still in history list (1 hit)
	r.SetEvictable(1, true)

	victim, ok := r.Evict()
	assert.True(t, ok)
	assert.Equal(t, FrameID(1), victim, "history-list frame always wins over cache")
}

func TestLRUKReplacerPinnedFramesAreNotEvicted(t *testing.T) {
	r := NewLRUKReplacer(2, 2)
	r.RecordAccess(0)
	r.RecordAccess(1)
	r.SetEvictable(0, false)
	r.SetEvictable(1, true)

	victim, ok := r.Evict()
	assert.True(t, ok)
	assert.Equal(t, FrameID(1), victim)

	_, ok = r.Evict()
	assert.False(t, ok, "no evictable frames remain")
}

func TestLRUKReplacerSizeTracksEvictableCount(t *testing.T) {
	r := NewLRUKReplacer(3, 2)
	r.RecordAccess(0)
	r.RecordAccess(1)
	assert.Equal(t, 0, r.Size())

	r.SetEvictable(0, true)
	assert.Equal(t, 1, r.Size())
	r.SetEvictable(0, true)
	assert.Equal(t, 1, r.Size(), "redundant SetEvictable(true) is idempotent")

	r.SetEvictable(0, false)
	assert.Equal(t, 0, r.Size())
}

func TestLRUKReplacerRemove(t *testing.T) {
	r := NewLRUKReplacer(2, 2)
	r.RecordAccess(0)
	r.SetEvictable(0, true)
	r.Remove(0)
	assert.Equal(t, 0, r.Size())
	_, ok := r.Evict()
	assert.False(t, ok)
}
