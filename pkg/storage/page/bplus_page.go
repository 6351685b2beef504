package page

import "encoding/binary"

// PageType tags a B+ tree page as internal or leaf — the "tagged variant"
// polymorphism described for the index: traversal code checks this once per
// level instead of dispatching through an interface hierarchy.
type PageType uint32

const (
	InvalidPageType PageType = 0
	InternalPageType PageType = 1
	LeafPageType     PageType = 2
)

// Header layout, fixed order, little-endian. Internal pages are 24 bytes;
// leaf pages add a 4-byte next_page_id for sibling chaining (28 bytes).
const (
	offPageType   = 0
	offLSN        = 4
	offSize       = 8
	offMaxSize    = 12
	offParentID   = 16
	offPageID     = 20
	offNextPageID = 24 // leaf-only

	InternalHeaderSize = 24
	LeafHeaderSize      = 28

	keySize = 8 // int64 key

	// internalSlotSize: key(8) + child page id(4).
	internalSlotSize = keySize + 4
	// leafSlotSize: key(8) + RID (page id 4 + slot 4).
	leafSlotSize = keySize + 8
)

// bplusHeader is the field set shared by internal and leaf pages.
type bplusHeader struct {
	Data []byte
}

func (h bplusHeader) PageType() PageType {
	return PageType(binary.LittleEndian.Uint32(h.Data[offPageType:]))
}

func (h bplusHeader) setPageType(t PageType) {
	binary.LittleEndian.PutUint32(h.Data[offPageType:], uint32(t))
}

func (h bplusHeader) IsLeaf() bool     { return h.PageType() == LeafPageType }
func (h bplusHeader) IsInternal() bool { return h.PageType() == InternalPageType }

func (h bplusHeader) LSN() uint32 { return binary.LittleEndian.Uint32(h.Data[offLSN:]) }
func (h bplusHeader) SetLSN(lsn uint32) {
	binary.LittleEndian.PutUint32(h.Data[offLSN:], lsn)
}

func (h bplusHeader) Size() int32 {
	return int32(binary.LittleEndian.Uint32(h.Data[offSize:]))
}
func (h bplusHeader) SetSize(size int32) {
	binary.LittleEndian.PutUint32(h.Data[offSize:], uint32(size))
}
func (h bplusHeader) IncreaseSize(delta int32) {
	h.SetSize(h.Size() + delta)
}

func (h bplusHeader) MaxSize() int32 {
	return int32(binary.LittleEndian.Uint32(h.Data[offMaxSize:]))
}
func (h bplusHeader) SetMaxSize(max int32) {
	binary.LittleEndian.PutUint32(h.Data[offMaxSize:], uint32(max))
}

// MinSize is ceil(max/2) for internal pages, floor(max/2) for leaves. The
// root page is exempt from this invariant by callers, not by the page type.
func (h bplusHeader) MinSize() int32 {
	if h.IsInternal() {
		return (h.MaxSize() + 1) / 2
	}
	return h.MaxSize() / 2
}

func (h bplusHeader) ParentPageID() PageID {
	return PageID(binary.LittleEndian.Uint32(h.Data[offParentID:]))
}
func (h bplusHeader) SetParentPageID(id PageID) {
	binary.LittleEndian.PutUint32(h.Data[offParentID:], uint32(id))
}

func (h bplusHeader) PageID() PageID {
	return PageID(binary.LittleEndian.Uint32(h.Data[offPageID:]))
}
func (h bplusHeader) SetPageID(id PageID) {
	binary.LittleEndian.PutUint32(h.Data[offPageID:], uint32(id))
}

func (h bplusHeader) IsFull() bool { return h.Size() >= h.MaxSize() }

// -------------------------------------------------------------------------
// Internal page: array of (key, child page id) pairs. Slot 0's key is never
// read — it anchors "everything less than key[1]".
// -------------------------------------------------------------------------

type InternalPage struct {
	bplusHeader
}

func NewInternalPage(p *Page) *InternalPage {
	return &InternalPage{bplusHeader{Data: p.Data[:]}}
}

func (n *InternalPage) Init(pageID, parentID PageID, maxSize int32) {
	n.setPageType(InternalPageType)
	n.SetLSN(0)
	n.SetSize(0)
	n.SetMaxSize(maxSize)
	n.SetParentPageID(parentID)
	n.SetPageID(pageID)
}

func (n *InternalPage) keyOffset(i int32) int {
	return InternalHeaderSize + int(i)*internalSlotSize
}

func (n *InternalPage) KeyAt(i int32) int64 {
	off := n.keyOffset(i)
	return int64(binary.LittleEndian.Uint64(n.Data[off : off+keySize]))
}

func (n *InternalPage) SetKeyAt(i int32, key int64) {
	off := n.keyOffset(i)
	binary.LittleEndian.PutUint64(n.Data[off:], uint64(key))
}

func (n *InternalPage) ValueAt(i int32) PageID {
	off := n.keyOffset(i) + keySize
	return PageID(binary.LittleEndian.Uint32(n.Data[off:]))
}

func (n *InternalPage) SetValueAt(i int32, v PageID) {
	off := n.keyOffset(i) + keySize
	binary.LittleEndian.PutUint32(n.Data[off:], uint32(v))
}

// ValueIndex returns the slot holding child page id v, or -1.
func (n *InternalPage) ValueIndex(v PageID) int32 {
	for i := int32(0); i < n.Size(); i++ {
		if n.ValueAt(i) == v {
			return i
		}
	}
	return -1
}

// Lookup returns the child page id whose range contains key: the rightmost
// slot whose key is <= key, or slot 0 if key is smaller than every key.
func (n *InternalPage) Lookup(key int64, less func(a, b int64) bool) PageID {
	size := n.Size()
	target := int32(0)
	for i := int32(1); i < size; i++ {
		if !less(key, n.KeyAt(i)) {
			target = i
		} else {
			break
		}
	}
	return n.ValueAt(target)
}

// PopulateNewRoot sets up a brand new root with two children.
func (n *InternalPage) PopulateNewRoot(left PageID, key int64, right PageID) {
	n.SetValueAt(0, left)
	n.SetKeyAt(1, key)
	n.SetValueAt(1, right)
	n.SetSize(2)
}

// InsertNodeAfter inserts (key, newValue) right after the slot holding
// oldValue, shifting later slots right. Returns the new size.
func (n *InternalPage) InsertNodeAfter(oldValue PageID, key int64, newValue PageID) int32 {
	idx := n.ValueIndex(oldValue) + 1
	size := n.Size()
	for i := size; i > idx; i-- {
		n.SetKeyAt(i, n.KeyAt(i-1))
		n.SetValueAt(i, n.ValueAt(i-1))
	}
	n.SetKeyAt(idx, key)
	n.SetValueAt(idx, newValue)
	n.SetSize(size + 1)
	return n.Size()
}

// Remove deletes the slot at index, shifting later slots left.
func (n *InternalPage) Remove(index int32) {
	size := n.Size()
	for i := index; i < size-1; i++ {
		n.SetKeyAt(i, n.KeyAt(i+1))
		n.SetValueAt(i, n.ValueAt(i+1))
	}
	n.SetSize(size - 1)
}

// RemoveAndReturnOnlyChild empties a one-child root and returns that child,
// used when adjusting the root after it shrinks to size 1.
func (n *InternalPage) RemoveAndReturnOnlyChild() PageID {
	child := n.ValueAt(0)
	n.SetSize(0)
	return child
}

// MoveHalfTo splits this node, moving the upper half into recipient. Matches
// upstream's off-by-one for internal pages: max-min+1 entries move, because
// slot 0's key is never meaningful and must not become the sole motivation
// for an imbalanced split.
func (n *InternalPage) MoveHalfTo(recipient *InternalPage, reparent func(child PageID, newParent PageID)) {
	moveStart := n.MinSize()
	moveCount := n.MaxSize() - n.MinSize() + 1
	recipient.copyNFrom(n, moveStart, moveCount, reparent)
	n.IncreaseSize(-moveCount)
}

func (n *InternalPage) copyNFrom(src *InternalPage, start, count int32, reparent func(PageID, PageID)) {
	before := n.Size()
	for i := int32(0); i < count; i++ {
		n.SetKeyAt(before+i, src.KeyAt(start+i))
		n.SetValueAt(before+i, src.ValueAt(start+i))
		reparent(n.ValueAt(before+i), n.PageID())
	}
	n.SetSize(before + count)
}

// MoveAllTo merges this node's entries into recipient (a left sibling),
// pulling down the separator key first.
func (n *InternalPage) MoveAllTo(recipient *InternalPage, middleKey int64, reparent func(PageID, PageID)) {
	n.SetKeyAt(0, middleKey)
	recipient.copyNFrom(n, 0, n.Size(), reparent)
	n.SetSize(0)
}

// MoveFirstToEndOf moves this node's first entry to the end of recipient
// (borrowing from the right sibling).
func (n *InternalPage) MoveFirstToEndOf(recipient *InternalPage, middleKey int64, reparent func(PageID, PageID)) {
	n.SetKeyAt(0, middleKey)
	idx := recipient.Size()
	recipient.SetKeyAt(idx, n.KeyAt(0))
	recipient.SetValueAt(idx, n.ValueAt(0))
	reparent(recipient.ValueAt(idx), recipient.PageID())
	recipient.SetSize(idx + 1)
	n.Remove(0)
}

// MoveLastToFrontOf moves this node's last entry to the front of recipient
// (borrowing from the left sibling).
func (n *InternalPage) MoveLastToFrontOf(recipient *InternalPage, middleKey int64, reparent func(PageID, PageID)) {
	last := n.Size() - 1
	recipient.SetKeyAt(0, middleKey)
	for i := recipient.Size(); i > 0; i-- {
		recipient.SetKeyAt(i, recipient.KeyAt(i-1))
		recipient.SetValueAt(i, recipient.ValueAt(i-1))
	}
	recipient.SetValueAt(0, n.ValueAt(last))
	reparent(recipient.ValueAt(0), recipient.PageID())
	recipient.SetSize(recipient.Size() + 1)
	n.Remove(last)
}

// -------------------------------------------------------------------------
// Leaf page: array of (key, RID) pairs plus next_page_id sibling chaining.
// -------------------------------------------------------------------------

type LeafPage struct {
	bplusHeader
}

func NewLeafPage(p *Page) *LeafPage {
	return &LeafPage{bplusHeader{Data: p.Data[:]}}
}

func (l *LeafPage) Init(pageID, parentID PageID, maxSize int32) {
	l.setPageType(LeafPageType)
	l.SetLSN(0)
	l.SetSize(0)
	l.SetMaxSize(maxSize)
	l.SetParentPageID(parentID)
	l.SetPageID(pageID)
	l.SetNextPageID(InvalidPageID)
}

func (l *LeafPage) NextPageID() PageID {
	return PageID(binary.LittleEndian.Uint32(l.Data[offNextPageID:]))
}
func (l *LeafPage) SetNextPageID(id PageID) {
	binary.LittleEndian.PutUint32(l.Data[offNextPageID:], uint32(id))
}

func (l *LeafPage) keyOffset(i int32) int {
	return LeafHeaderSize + int(i)*leafSlotSize
}

func (l *LeafPage) KeyAt(i int32) int64 {
	off := l.keyOffset(i)
	return int64(binary.LittleEndian.Uint64(l.Data[off : off+keySize]))
}

func (l *LeafPage) setKeyAt(i int32, key int64) {
	off := l.keyOffset(i)
	binary.LittleEndian.PutUint64(l.Data[off:], uint64(key))
}

func (l *LeafPage) RIDAt(i int32) RID {
	off := l.keyOffset(i) + keySize
	return RID{
		PageID:  PageID(binary.LittleEndian.Uint32(l.Data[off:])),
		SlotNum: binary.LittleEndian.Uint32(l.Data[off+4:]),
	}
}

func (l *LeafPage) setRIDAt(i int32, rid RID) {
	off := l.keyOffset(i) + keySize
	binary.LittleEndian.PutUint32(l.Data[off:], uint32(rid.PageID))
	binary.LittleEndian.PutUint32(l.Data[off+4:], rid.SlotNum)
}

// KeyIndex returns the first slot whose key is >= key (lower bound).
func (l *LeafPage) KeyIndex(key int64, less func(a, b int64) bool) int32 {
	size := l.Size()
	lo, hi := int32(0), size
	for lo < hi {
		mid := (lo + hi) / 2
		if less(l.KeyAt(mid), key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Lookup returns the RID for key, if present.
func (l *LeafPage) Lookup(key int64, less func(a, b int64) bool) (RID, bool) {
	idx := l.KeyIndex(key, less)
	if idx < l.Size() && l.KeyAt(idx) == key {
		return l.RIDAt(idx), true
	}
	return RID{}, false
}

// Insert places (key, rid) in sorted order. Returns false if key already
// exists (the entry is left untouched).
func (l *LeafPage) Insert(key int64, rid RID, less func(a, b int64) bool) bool {
	idx := l.KeyIndex(key, less)
	if idx < l.Size() && l.KeyAt(idx) == key {
		return false
	}
	size := l.Size()
	for i := size; i > idx; i-- {
		l.setKeyAt(i, l.KeyAt(i-1))
		l.setRIDAt(i, l.RIDAt(i-1))
	}
	l.setKeyAt(idx, key)
	l.setRIDAt(idx, rid)
	l.SetSize(size + 1)
	return true
}

// RemoveKey deletes key if present, reports whether it was found.
func (l *LeafPage) RemoveKey(key int64, less func(a, b int64) bool) bool {
	idx := l.KeyIndex(key, less)
	if idx >= l.Size() || l.KeyAt(idx) != key {
		return false
	}
	l.removeAt(idx)
	return true
}

func (l *LeafPage) removeAt(idx int32) {
	size := l.Size()
	for i := idx; i < size-1; i++ {
		l.setKeyAt(i, l.KeyAt(i+1))
		l.setRIDAt(i, l.RIDAt(i+1))
	}
	l.SetSize(size - 1)
}

// MoveHalfTo splits this leaf, moving the upper half into recipient and
// splicing recipient into the sibling chain.
func (l *LeafPage) MoveHalfTo(recipient *LeafPage) {
	size := l.Size()
	splitIdx := size / 2
	moveCount := size - splitIdx
	for i := int32(0); i < moveCount; i++ {
		recipient.setKeyAt(i, l.KeyAt(splitIdx+i))
		recipient.setRIDAt(i, l.RIDAt(splitIdx+i))
	}
	recipient.SetSize(moveCount)
	l.SetSize(splitIdx)

	recipient.SetNextPageID(l.NextPageID())
	l.SetNextPageID(recipient.PageID())
}

// MoveAllTo appends this leaf's entries onto recipient (a left sibling) and
// relinks the sibling chain around the emptied page.
func (l *LeafPage) MoveAllTo(recipient *LeafPage) {
	start := recipient.Size()
	size := l.Size()
	for i := int32(0); i < size; i++ {
		recipient.setKeyAt(start+i, l.KeyAt(i))
		recipient.setRIDAt(start+i, l.RIDAt(i))
	}
	recipient.SetSize(start + size)
	recipient.SetNextPageID(l.NextPageID())
	l.SetSize(0)
}

// MoveFirstToEndOf borrows this leaf's first entry onto the end of
// recipient (the left sibling).
func (l *LeafPage) MoveFirstToEndOf(recipient *LeafPage) {
	idx := recipient.Size()
	recipient.setKeyAt(idx, l.KeyAt(0))
	recipient.setRIDAt(idx, l.RIDAt(0))
	recipient.SetSize(idx + 1)
	l.removeAt(0)
}

// MoveLastToFrontOf borrows this leaf's last entry onto the front of
// recipient (the right sibling).
func (l *LeafPage) MoveLastToFrontOf(recipient *LeafPage) {
	last := l.Size() - 1
	size := recipient.Size()
	for i := size; i > 0; i-- {
		recipient.setKeyAt(i, recipient.KeyAt(i-1))
		recipient.setRIDAt(i, recipient.RIDAt(i-1))
	}
	recipient.setKeyAt(0, l.KeyAt(last))
	recipient.setRIDAt(0, l.RIDAt(last))
	recipient.SetSize(size + 1)
	l.SetSize(last)
}

// PageTypeOf peeks at a raw page's header without constructing a typed view.
func PageTypeOf(p *Page) PageType {
	return PageType(binary.LittleEndian.Uint32(p.Data[offPageType:]))
}

// SizeOf, MaxSizeOf, MinSizeOf, ParentPageIDOf and SetParentPageIDOf read or
// write header fields whose offset is identical for internal and leaf
// pages, so the crabbing protocol can inspect a page without first knowing
// which kind it is.
func SizeOf(p *Page) int32          { return bplusHeader{p.Data[:]}.Size() }
func MaxSizeOf(p *Page) int32       { return bplusHeader{p.Data[:]}.MaxSize() }
func MinSizeOf(p *Page) int32       { return bplusHeader{p.Data[:]}.MinSize() }
func ParentPageIDOf(p *Page) PageID { return bplusHeader{p.Data[:]}.ParentPageID() }
func SetParentPageIDOf(p *Page, parent PageID) {
	bplusHeader{p.Data[:]}.SetParentPageID(parent)
}

// DefaultMaxInternalSize and DefaultMaxLeafSize are generous defaults sized
// to fit within PageSize; an internal page briefly holds max+1 entries
// before it splits, so one internal slot is held in reserve. Tests use much
// smaller values to exercise splits/merges cheaply (spec §8 boundary
// scenarios use 4).
const (
	DefaultMaxInternalSize = int32((PageSize-InternalHeaderSize)/internalSlotSize) - 1
	DefaultMaxLeafSize     = int32((PageSize - LeafHeaderSize) / leafSlotSize)
)
