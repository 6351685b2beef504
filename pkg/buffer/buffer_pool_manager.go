package buffer

import (
	"encoding/binary"
	"errors"
	"sync"

	"dbkernel/internal/logging"
	"dbkernel/pkg/storage/disk"
	"dbkernel/pkg/storage/hash"
	"dbkernel/pkg/storage/page"
)

var (
	ErrPoolExhausted   = errors.New("buffer pool: no free frame and all frames are pinned")
	ErrPageNotResident = errors.New("buffer pool: page not resident")
	ErrPageStillPinned = errors.New("buffer pool: page still pinned")
	ErrZeroPinCount    = errors.New("buffer pool: pin count already zero")
)

// pageIDHasher turns a page.PageID into hash bytes for the extendible hash
// table backing the page table.
func pageIDHasher() hash.Hasher[page.PageID] {
	return hash.FNV64Key(func(id page.PageID) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(id))
		return b
	})
}

// pageTableBucketSize is the extendible hash table's per-bucket capacity.
// Small buckets exercise directory doubling sooner, which is the behavior
// spec §4.1 actually wants verified — the buffer pool doesn't need a large
// bucket for correctness.
const pageTableBucketSize = 4

// BufferPoolManager pins and unpins fixed-size pages in a frame array,
// evicting via the LRU-K replacer and reading/writing through the disk
// adapter. One mutex serializes every public operation end to end (spec
// §4.3, §5) — disk I/O runs under the same mutex, a deliberate
// simplification this kernel inherits from upstream BusTub.
type BufferPoolManager struct {
	mu sync.Mutex

	diskManager disk.DiskManager
	pages       []*page.Page
	replacer    *LRUKReplacer
	freeList    []FrameID
	pageTable   *hash.ExtendibleHashTable[page.PageID, FrameID]
}

// NewBufferPoolManager allocates a pool of poolSize frames. k is the LRU-K
// replacer's K.
func NewBufferPoolManager(diskManager disk.DiskManager, poolSize int, k int) *BufferPoolManager {
	b := &BufferPoolManager{
		diskManager: diskManager,
		pages:       make([]*page.Page, poolSize),
		replacer:    NewLRUKReplacer(poolSize, k),
		freeList:    make([]FrameID, poolSize),
		pageTable:   hash.New[page.PageID, FrameID](pageTableBucketSize, pageIDHasher()),
	}
	for i := 0; i < poolSize; i++ {
		b.pages[i] = &page.Page{}
		b.freeList[i] = FrameID(i)
	}
	return b
}

// NewPage allocates a fresh page id, installs it in a free/victim frame,
// and returns it pinned. Returns nil if the pool is exhausted.
func (b *BufferPoolManager) NewPage() *page.Page {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.getAvailableFrame()
	if !ok {
		return nil
	}

	newPageID := b.diskManager.AllocatePage()

	p := b.pages[frameID]
	p.SetID(newPageID)
	p.SetPinCount(1)
	p.SetDirty(false)
	p.Clear()

	b.pageTable.Insert(newPageID, frameID)
	b.replacer.RecordAccess(FrameID(frameID))
	b.replacer.SetEvictable(FrameID(frameID), false)

	return p
}

// FetchPage returns the page for pageID, reading it from disk if it isn't
// already resident. Returns nil if no frame could be freed.
func (b *BufferPoolManager) FetchPage(pageID page.PageID) *page.Page {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frameID, ok := b.pageTable.Find(pageID); ok {
		p := b.pages[frameID]
		p.IncPinCount()
		b.replacer.RecordAccess(frameID)
		b.replacer.SetEvictable(frameID, false)
		return p
	}

	frameID, ok := b.getAvailableFrame()
	if !ok {
		return nil
	}

	p := b.pages[frameID]
	p.SetID(pageID)
	p.SetPinCount(1)
	p.SetDirty(false)

	if err := b.diskManager.ReadPage(pageID, p); err != nil {
		logging.Get().Error("buffer pool: read page failed", "page_id", pageID, "err", err)
		b.freeList = append(b.freeList, frameID)
		return nil
	}

	b.pageTable.Insert(pageID, frameID)
	b.replacer.RecordAccess(frameID)
	b.replacer.SetEvictable(frameID, false)

	return p
}

// UnpinPage releases one reference to pageID. dirty is OR'd into the
// frame's dirty flag — never cleared here.
func (b *BufferPoolManager) UnpinPage(pageID page.PageID, dirty bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return ErrPageNotResident
	}

	p := b.pages[frameID]
	if p.PinCount() <= 0 {
		return ErrZeroPinCount
	}
	if dirty {
		p.SetDirty(true)
	}
	if p.DecPinCount() == 0 {
		b.replacer.SetEvictable(frameID, true)
	}
	return nil
}

// FlushPage writes pageID's current contents to disk and clears its dirty
// flag, regardless of pin count.
func (b *BufferPoolManager) FlushPage(pageID page.PageID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return false
	}
	p := b.pages[frameID]
	if err := b.diskManager.WritePage(pageID, p); err != nil {
		logging.Get().Error("buffer pool: flush failed", "page_id", pageID, "err", err)
		return false
	}
	p.SetDirty(false)
	return true
}

// FlushAllPages flushes every resident dirty page.
func (b *BufferPoolManager) FlushAllPages() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.pages {
		if p.ID() != page.InvalidPageID && p.IsDirty() {
			if err := b.diskManager.WritePage(p.ID(), p); err != nil {
				logging.Get().Error("buffer pool: flush-all failed", "page_id", p.ID(), "err", err)
				continue
			}
			p.SetDirty(false)
		}
	}
}

// DeletePage frees pageID's frame. Fails (returns false) if the page is
// still pinned; succeeds trivially if it isn't resident.
func (b *BufferPoolManager) DeletePage(pageID page.PageID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		b.diskManager.DeallocatePage(pageID)
		return true
	}

	target := b.pages[frameID]
	if target.PinCount() > 0 {
		return false
	}

	b.pageTable.Remove(pageID)
	b.replacer.SetEvictable(frameID, true)
	b.replacer.Remove(frameID)
	b.freeList = append(b.freeList, frameID)

	target.SetID(page.InvalidPageID)
	target.SetPinCount(0)
	target.SetDirty(false)

	b.diskManager.DeallocatePage(pageID)
	return true
}

// getAvailableFrame pops the free list if non-empty, otherwise asks the
// replacer for a victim, flushing it first if dirty. Must only be called
// while holding b.mu.
func (b *BufferPoolManager) getAvailableFrame() (FrameID, bool) {
	if n := len(b.freeList); n > 0 {
		frameID := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		return frameID, true
	}

	frameID, ok := b.replacer.Evict()
	if !ok {
		return 0, false
	}

	victim := b.pages[frameID]
	if victim.IsDirty() {
		if err := b.diskManager.WritePage(victim.ID(), victim); err != nil {
			logging.Get().Error("buffer pool: eviction flush failed", "page_id", victim.ID(), "err", err)
		}
	}
	b.pageTable.Remove(victim.ID())
	return frameID, true
}
