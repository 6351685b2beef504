package index

import "dbkernel/pkg/storage/page"

// Iterator walks a B+ tree's leaves in key order. It holds a pinned,
// read-latched leaf page at all times except past the end, mirroring
// original_source/bustub's INDEXITERATOR_TYPE: advancing within a leaf is
// free, crossing a leaf boundary fetches and R-latches the next leaf before
// releasing the current one.
type Iterator struct {
	tree    *BPlusTree
	leafPg  *page.Page
	leaf    *page.LeafPage
	slot    int32
	atEnd   bool
}

// Begin returns an iterator positioned at the smallest key in the tree.
func (t *BPlusTree) Begin() *Iterator {
	if t.IsEmpty() {
		return &Iterator{tree: t, atEnd: true}
	}
	leafPg := t.leftmostLeaf()
	return &Iterator{tree: t, leafPg: leafPg, leaf: page.NewLeafPage(leafPg)}
}

// BeginAt returns an iterator positioned at the first key >= key.
func (t *BPlusTree) BeginAt(key int64) *Iterator {
	if t.IsEmpty() {
		return &Iterator{tree: t, atEnd: true}
	}
	leafPg := t.crabReadToLeaf(key)
	leaf := page.NewLeafPage(leafPg)
	idx := leaf.KeyIndex(key, t.less)
	it := &Iterator{tree: t, leafPg: leafPg, leaf: leaf, slot: idx}
	it.skipToValidSlot()
	return it
}

// End returns the sentinel iterator just past the last element. An empty
// tree's Begin/BeginAt already equal this sentinel.
func (t *BPlusTree) End() *Iterator {
	return &Iterator{tree: t, atEnd: true}
}

func (t *BPlusTree) leftmostLeaf() *page.Page {
	t.mu.Lock()
	cur := t.bpm.FetchPage(t.rootPageID)
	cur.RLatch()
	t.mu.Unlock()

	for page.PageTypeOf(cur) != page.LeafPageType {
		internal := page.NewInternalPage(cur)
		childID := internal.ValueAt(0)
		child := t.bpm.FetchPage(childID)
		child.RLatch()
		cur.RUnlatch()
		t.bpm.UnpinPage(cur.ID(), false)
		cur = child
	}
	return cur
}

// skipToValidSlot advances across empty/exhausted leaves until slot points
// at a real entry or the iterator reaches the end.
func (it *Iterator) skipToValidSlot() {
	for !it.atEnd && it.slot >= it.leaf.Size() {
		next := it.leaf.NextPageID()
		if next == page.InvalidPageID {
			it.leafPg.RUnlatch()
			it.tree.bpm.UnpinPage(it.leafPg.ID(), false)
			it.atEnd = true
			it.leafPg = nil
			it.leaf = nil
			return
		}
		nextPg := it.tree.bpm.FetchPage(next)
		nextPg.RLatch()
		it.leafPg.RUnlatch()
		it.tree.bpm.UnpinPage(it.leafPg.ID(), false)
		it.leafPg = nextPg
		it.leaf = page.NewLeafPage(it.leafPg)
		it.slot = 0
	}
}

// Valid reports whether the iterator is positioned at a real entry.
func (it *Iterator) Valid() bool { return !it.atEnd }

// Key and RID return the entry at the iterator's current position. Calling
// either past the end panics, same as dereferencing bustub's end iterator.
func (it *Iterator) Key() int64    { return it.leaf.KeyAt(it.slot) }
func (it *Iterator) RID() page.RID { return it.leaf.RIDAt(it.slot) }

// Next advances to the following entry.
func (it *Iterator) Next() {
	if it.atEnd {
		return
	}
	it.slot++
	it.skipToValidSlot()
}

// Close releases the iterator's held latch/pin. Safe to call multiple
// times; required before discarding an iterator that didn't run to Valid()
// == false, since otherwise its leaf stays pinned and read-latched forever.
func (it *Iterator) Close() {
	if it.leafPg != nil {
		it.leafPg.RUnlatch()
		it.tree.bpm.UnpinPage(it.leafPg.ID(), false)
		it.leafPg = nil
		it.leaf = nil
	}
	it.atEnd = true
}
