// Package index implements the concurrent B+ tree that backs every table's
// primary index: the crabbing latch protocol of original_source/bustub's
// storage/index/b_plus_tree.cpp, generalized from int64-keyed fixed pages
// to the buffer pool and page types built in pkg/storage/{page,buffer}.
package index

import (
	"sync"

	"dbkernel/pkg/buffer"
	"dbkernel/pkg/concurrency/transaction"
	"dbkernel/pkg/storage/page"
)

// Less reports whether a sorts before b. Index keys are int64 (spec §4.4
// leaves the key type abstract; this kernel fixes it to int64, matching the
// teacher's original integer-keyed tree).
type Less func(a, b int64) bool

func defaultLess(a, b int64) bool { return a < b }

// BPlusTree is a disk-backed, page-latched B+ tree index. A single instance
// is safe for concurrent use by many goroutines, each supplying its own
// *transaction.Transaction so the crabbing protocol has somewhere to record
// the write latches it holds mid-operation.
type BPlusTree struct {
	name string

	bpm          *buffer.BufferPoolManager
	headerPageID page.PageID
	less         Less

	leafMaxSize     int32
	internalMaxSize int32

	mu         sync.Mutex // guards rootPageID; also the root's latch-coupling point
	rootPageID page.PageID
}

// NewBPlusTree opens (or creates) the named index rooted through
// headerPageID. If the header page already has a record for name, that
// page id becomes the tree's root; otherwise the tree starts empty.
func NewBPlusTree(name string, headerPageID page.PageID, bpm *buffer.BufferPoolManager, less Less, leafMaxSize, internalMaxSize int32) *BPlusTree {
	if less == nil {
		less = defaultLess
	}
	t := &BPlusTree{
		name:            name,
		bpm:             bpm,
		headerPageID:    headerPageID,
		less:            less,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageID:      page.InvalidPageID,
	}
	if hp := bpm.FetchPage(headerPageID); hp != nil {
		header := page.NewHeaderPage(hp)
		if root, ok := header.GetRootPageID(name); ok {
			t.rootPageID = root
		}
		bpm.UnpinPage(headerPageID, false)
	}
	return t
}

func (t *BPlusTree) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootPageID == page.InvalidPageID
}

// RootPageID reports the current root, for diagnostics and persistence.
func (t *BPlusTree) RootPageID() page.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootPageID
}

// persistRoot writes the tree's current root page id into the header page.
func (t *BPlusTree) persistRoot() {
	hp := t.bpm.FetchPage(t.headerPageID)
	if hp == nil {
		return
	}
	header := page.NewHeaderPage(hp)
	root := t.RootPageID()
	if !header.UpdateRecord(t.name, root) {
		header.InsertRecord(t.name, root)
	}
	t.bpm.UnpinPage(t.headerPageID, true)
}

// -------------------------------------------------------------------------
// Read path: plain latch-coupled descent, no transaction bookkeeping.
// -------------------------------------------------------------------------

// crabReadToLeaf descends from the root to key's leaf, R-latching each
// child before R-unlatching its parent (spec §4.4's read-only crabbing).
// The returned page is pinned and R-latched; the caller must RUnlatch and
// unpin it.
func (t *BPlusTree) crabReadToLeaf(key int64) *page.Page {
	t.mu.Lock()
	cur := t.bpm.FetchPage(t.rootPageID)
	cur.RLatch()
	t.mu.Unlock()

	for page.PageTypeOf(cur) != page.LeafPageType {
		internal := page.NewInternalPage(cur)
		childID := internal.Lookup(key, t.less)
		child := t.bpm.FetchPage(childID)
		child.RLatch()
		cur.RUnlatch()
		t.bpm.UnpinPage(cur.ID(), false)
		cur = child
	}
	return cur
}

// GetValue looks up key, returning its RID if present.
func (t *BPlusTree) GetValue(key int64) (page.RID, bool) {
	if t.IsEmpty() {
		return page.RID{}, false
	}
	leafPg := t.crabReadToLeaf(key)
	leaf := page.NewLeafPage(leafPg)
	rid, ok := leaf.Lookup(key, t.less)
	leafPg.RUnlatch()
	t.bpm.UnpinPage(leafPg.ID(), false)
	return rid, ok
}

// -------------------------------------------------------------------------
// Optimistic pass: read-latch-coupled descent, write-latch only the leaf.
// -------------------------------------------------------------------------

// tryOptimisticInsert attempts spec §4.4's first pass: descend with read
// latches, then upgrade only the leaf to a write latch. If the leaf is
// already occupied by key or still safe after the insert, the mutation is
// applied right there and handled is true. Otherwise the leaf is released
// untouched and handled is false, telling the caller to restart with
// writeLatchCrabToLeaf's pessimistic pass.
func (t *BPlusTree) tryOptimisticInsert(key int64, rid page.RID) (inserted, handled bool) {
	leafPg := t.crabReadToLeaf(key)
	leafPg.RUnlatch()
	leafPg.WLatch()
	leaf := page.NewLeafPage(leafPg)

	if _, exists := leaf.Lookup(key, t.less); exists {
		leafPg.WUnlatch()
		t.bpm.UnpinPage(leafPg.ID(), false)
		return false, true
	}
	if !isSafeForInsert(leafPg) {
		leafPg.WUnlatch()
		t.bpm.UnpinPage(leafPg.ID(), false)
		return false, false
	}

	leaf.Insert(key, rid, t.less)
	leafPg.WUnlatch()
	t.bpm.UnpinPage(leafPg.ID(), true)
	return true, true
}

// tryOptimisticRemove mirrors tryOptimisticInsert for the remove side: a
// missing key is handled immediately (no-op), a present key is deleted in
// place when the leaf is safe for it, otherwise the leaf is released
// untouched so the caller retries with writeLatchCrabToLeaf.
func (t *BPlusTree) tryOptimisticRemove(key int64) (removed, handled bool) {
	leafPg := t.crabReadToLeaf(key)
	leafPg.RUnlatch()
	leafPg.WLatch()
	leaf := page.NewLeafPage(leafPg)

	if _, exists := leaf.Lookup(key, t.less); !exists {
		leafPg.WUnlatch()
		t.bpm.UnpinPage(leafPg.ID(), false)
		return false, true
	}

	isRoot := leafPg.ID() == t.RootPageID()
	if !isSafeForRemove(leafPg, isRoot) {
		leafPg.WUnlatch()
		t.bpm.UnpinPage(leafPg.ID(), false)
		return false, false
	}

	leaf.RemoveKey(key, t.less)
	leafPg.WUnlatch()
	t.bpm.UnpinPage(leafPg.ID(), true)
	return true, true
}

// -------------------------------------------------------------------------
// Pessimistic pass: write-latch-coupled descent with eager ancestor release.
// -------------------------------------------------------------------------

// writeLatchCrabToLeaf is spec §4.4's second pass, taken after the
// optimistic pass finds a leaf unsafe. It descends from the root to key's
// leaf holding write latches the whole way, recording every held page on
// txn's latch stack. Whenever a freshly latched child is "safe" — isSafe
// reports that operating on it cannot possibly force a structural change on
// its ancestors — every ancestor latched so far is released immediately,
// the classic crabbing optimization (bustub's Context::write_set_ with
// early release once a safe node is found).
func (t *BPlusTree) writeLatchCrabToLeaf(key int64, txn *transaction.Transaction, isSafe func(*page.Page) bool) *page.Page {
	t.mu.Lock()
	cur := t.bpm.FetchPage(t.rootPageID)
	cur.WLatch()
	txn.AddToPageSet(cur)
	t.mu.Unlock()

	for page.PageTypeOf(cur) != page.LeafPageType {
		internal := page.NewInternalPage(cur)
		childID := internal.Lookup(key, t.less)
		child := t.bpm.FetchPage(childID)
		child.WLatch()
		if isSafe(child) {
			t.releaseHeldAncestors(txn)
		}
		txn.AddToPageSet(child)
		cur = child
	}
	return cur
}

func (t *BPlusTree) releaseHeldAncestors(txn *transaction.Transaction) {
	for _, p := range txn.PageSet() {
		p.WUnlatch()
		t.bpm.UnpinPage(p.ID(), false)
	}
	txn.ClearPageSet()
}

// finishWrite releases every page still on txn's latch stack (dirty, since
// everything remaining there was part of a structural modification) and
// deallocates pages queued by a coalesce.
func (t *BPlusTree) finishWrite(txn *transaction.Transaction) {
	for _, p := range txn.PageSet() {
		p.WUnlatch()
		t.bpm.UnpinPage(p.ID(), true)
	}
	txn.ClearPageSet()
	for id := range txn.DeletedPageSet() {
		t.bpm.DeletePage(id)
	}
}

func findHeld(held []*page.Page, id page.PageID) *page.Page {
	for _, p := range held {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// reparent rewrites a child's parent pointer. Used after a split/merge
// moves the child to a different internal page.
func (t *BPlusTree) reparent(childID, newParent page.PageID) {
	child := t.bpm.FetchPage(childID)
	child.WLatch()
	page.SetParentPageIDOf(child, newParent)
	child.WUnlatch()
	t.bpm.UnpinPage(childID, true)
}

// isSafeForInsert reports whether p can absorb one more entry without
// splitting. A leaf splits the instant its size reaches max_size, so a leaf
// is only provably safe one insert early, at max_size-1; an internal page's
// overflow is handled by InsertNodeAfter before the split check runs, so it
// stays safe right up to max_size.
func isSafeForInsert(p *page.Page) bool {
	if page.PageTypeOf(p) == page.LeafPageType {
		return page.SizeOf(p) < page.MaxSizeOf(p)-1
	}
	return page.SizeOf(p) < page.MaxSizeOf(p)
}

// isSafeForRemove reports whether p can lose one entry without underflowing.
// The root has no sibling to redistribute with or coalesce into, so it gets
// looser thresholds: a leaf root is safe above one entry, an internal root
// above two (it always needs at least two children until it is collapsed).
func isSafeForRemove(p *page.Page, isRoot bool) bool {
	if isRoot {
		if page.PageTypeOf(p) == page.LeafPageType {
			return page.SizeOf(p) > 1
		}
		return page.SizeOf(p) > 2
	}
	return page.SizeOf(p)-1 >= page.MinSizeOf(p)
}

// -------------------------------------------------------------------------
// Insert
// -------------------------------------------------------------------------

// Insert adds (key, rid). Returns false if key is already present. txn may
// be nil, in which case a scratch transaction is created for the duration
// of the call — fine for single-goroutine callers, required for concurrent
// ones so latch-stack bookkeeping isn't shared across operations.
func (t *BPlusTree) Insert(key int64, rid page.RID, txn *transaction.Transaction) bool {
	if txn == nil {
		txn = transaction.New(transaction.InvalidTxnID, transaction.ReadCommitted)
	}

	t.mu.Lock()
	if t.rootPageID == page.InvalidPageID {
		rootPg := t.bpm.NewPage()
		leaf := page.NewLeafPage(rootPg)
		leaf.Init(rootPg.ID(), page.InvalidPageID, t.leafMaxSize)
		leaf.Insert(key, rid, t.less)
		t.rootPageID = rootPg.ID()
		t.mu.Unlock()
		t.bpm.UnpinPage(rootPg.ID(), true)
		t.persistRoot()
		return true
	}
	t.mu.Unlock()

	if inserted, handled := t.tryOptimisticInsert(key, rid); handled {
		return inserted
	}

	leafPg := t.writeLatchCrabToLeaf(key, txn, isSafeForInsert)
	leaf := page.NewLeafPage(leafPg)
	if _, exists := leaf.Lookup(key, t.less); exists {
		t.finishWrite(txn)
		return false
	}
	leaf.Insert(key, rid, t.less)

	if leaf.Size() >= t.leafMaxSize {
		sibling := t.bpm.NewPage()
		newLeaf := page.NewLeafPage(sibling)
		newLeaf.Init(sibling.ID(), leaf.ParentPageID(), t.leafMaxSize)
		leaf.MoveHalfTo(newLeaf)
		t.insertIntoParent(leafPg, newLeaf.KeyAt(0), sibling, txn)
		t.bpm.UnpinPage(sibling.ID(), true)
	}

	t.finishWrite(txn)
	return true
}

// insertIntoParent splices a freshly split right-hand page into left's
// parent, cascading further splits up the tree as needed. left is already
// on txn's latch stack; right is a brand new, unlatched page the caller
// owns exclusively.
func (t *BPlusTree) insertIntoParent(left *page.Page, midKey int64, right *page.Page, txn *transaction.Transaction) {
	parentID := page.ParentPageIDOf(left)
	if parentID == page.InvalidPageID {
		newRootPg := t.bpm.NewPage()
		newRoot := page.NewInternalPage(newRootPg)
		newRoot.Init(newRootPg.ID(), page.InvalidPageID, t.internalMaxSize)
		newRoot.PopulateNewRoot(left.ID(), midKey, right.ID())
		page.SetParentPageIDOf(left, newRootPg.ID())
		page.SetParentPageIDOf(right, newRootPg.ID())

		t.mu.Lock()
		t.rootPageID = newRootPg.ID()
		t.mu.Unlock()
		t.bpm.UnpinPage(newRootPg.ID(), true)
		t.persistRoot()
		return
	}

	parentPg := findHeld(txn.PageSet(), parentID)
	parent := page.NewInternalPage(parentPg)
	page.SetParentPageIDOf(right, parentPg.ID())
	parent.InsertNodeAfter(left.ID(), midKey, right.ID())

	if parent.Size() <= t.internalMaxSize {
		return
	}

	newInternalPg := t.bpm.NewPage()
	newInternal := page.NewInternalPage(newInternalPg)
	newInternal.Init(newInternalPg.ID(), parent.ParentPageID(), t.internalMaxSize)
	// left may be among the moved children and is already write-latched by
	// this operation; relatching it through t.reparent would deadlock.
	parent.MoveHalfTo(newInternal, func(child, newParent page.PageID) {
		if held := findHeld(txn.PageSet(), child); held != nil {
			page.SetParentPageIDOf(held, newParent)
			return
		}
		t.reparent(child, newParent)
	})

	promoted := newInternal.KeyAt(0)
	t.insertIntoParent(parentPg, promoted, newInternalPg, txn)
	t.bpm.UnpinPage(newInternalPg.ID(), true)
}

// -------------------------------------------------------------------------
// Remove
// -------------------------------------------------------------------------

// Remove deletes key, coalescing or redistributing underflowing nodes as
// needed. It is a no-op (not an error) if key is absent.
func (t *BPlusTree) Remove(key int64, txn *transaction.Transaction) {
	if t.IsEmpty() {
		return
	}
	if txn == nil {
		txn = transaction.New(transaction.InvalidTxnID, transaction.ReadCommitted)
	}

	if _, handled := t.tryOptimisticRemove(key); handled {
		return
	}

	leafPg := t.writeLatchCrabToLeaf(key, txn, func(p *page.Page) bool { return isSafeForRemove(p, false) })
	leaf := page.NewLeafPage(leafPg)
	if !leaf.RemoveKey(key, t.less) {
		t.finishWrite(txn)
		return
	}

	rootID := t.RootPageID()
	if leafPg.ID() == rootID {
		if leaf.Size() == 0 {
			txn.AddToDeletedPageSet(leafPg.ID())
			t.mu.Lock()
			t.rootPageID = page.InvalidPageID
			t.mu.Unlock()
			t.persistRoot()
		}
		t.finishWrite(txn)
		return
	}

	if leaf.Size() >= leaf.MinSize() {
		t.finishWrite(txn)
		return
	}

	t.coalesceOrRedistribute(leafPg, txn)
	t.finishWrite(txn)
}

// coalesceOrRedistribute fixes up an underflowing non-root node by either
// merging it with a sibling or borrowing an entry from one, cascading the
// fix-up to the parent when a merge removes one of its entries.
func (t *BPlusTree) coalesceOrRedistribute(nodePg *page.Page, txn *transaction.Transaction) {
	parentID := page.ParentPageIDOf(nodePg)
	parentPg := findHeld(txn.PageSet(), parentID)
	parent := page.NewInternalPage(parentPg)

	idx := parent.ValueIndex(nodePg.ID())
	preferLeft := idx > 0
	var siblingIdx int32
	if preferLeft {
		siblingIdx = idx - 1
	} else {
		siblingIdx = idx + 1
	}
	siblingID := parent.ValueAt(siblingIdx)
	siblingPg := t.bpm.FetchPage(siblingID)
	siblingPg.WLatch()
	txn.AddToPageSet(siblingPg)

	isLeaf := page.PageTypeOf(nodePg) == page.LeafPageType
	var combined, cap32 int32
	if isLeaf {
		combined = page.NewLeafPage(nodePg).Size() + page.NewLeafPage(siblingPg).Size()
		// A merged leaf must stay below max_size, the size at which it splits.
		cap32 = t.leafMaxSize - 1
	} else {
		combined = page.NewInternalPage(nodePg).Size() + page.NewInternalPage(siblingPg).Size()
		cap32 = t.internalMaxSize
	}

	if combined <= cap32 {
		t.coalesce(nodePg, siblingPg, parentPg, parent, idx, siblingIdx, preferLeft, isLeaf, txn)
	} else {
		t.redistribute(nodePg, siblingPg, parent, idx, siblingIdx, preferLeft, isLeaf)
	}
}

func (t *BPlusTree) coalesce(nodePg, siblingPg, parentPg *page.Page, parent *page.InternalPage, idx, siblingIdx int32, preferLeft, isLeaf bool, txn *transaction.Transaction) {
	// Merged internal pages carry children this removal already holds
	// write-latched; those are reparented in place rather than relatched.
	reparent := func(child, newParent page.PageID) {
		if held := findHeld(txn.PageSet(), child); held != nil {
			page.SetParentPageIDOf(held, newParent)
			return
		}
		t.reparent(child, newParent)
	}
	var separatorIdx int32
	var removedID page.PageID
	if preferLeft {
		separatorIdx = idx
		separator := parent.KeyAt(separatorIdx)
		if isLeaf {
			page.NewLeafPage(nodePg).MoveAllTo(page.NewLeafPage(siblingPg))
		} else {
			page.NewInternalPage(nodePg).MoveAllTo(page.NewInternalPage(siblingPg), separator, reparent)
		}
		removedID = nodePg.ID()
	} else {
		separatorIdx = siblingIdx
		separator := parent.KeyAt(separatorIdx)
		if isLeaf {
			page.NewLeafPage(siblingPg).MoveAllTo(page.NewLeafPage(nodePg))
		} else {
			page.NewInternalPage(siblingPg).MoveAllTo(page.NewInternalPage(nodePg), separator, reparent)
		}
		removedID = siblingPg.ID()
	}
	parent.Remove(separatorIdx)
	txn.AddToDeletedPageSet(removedID)

	if parentPg.ID() == t.RootPageID() {
		t.adjustRootAfterRemoval(parentPg, txn)
		return
	}
	if parent.Size() < parent.MinSize() {
		t.coalesceOrRedistribute(parentPg, txn)
	}
}

func (t *BPlusTree) redistribute(nodePg, siblingPg *page.Page, parent *page.InternalPage, idx, siblingIdx int32, preferLeft, isLeaf bool) {
	if preferLeft {
		if isLeaf {
			leafSib, leafNode := page.NewLeafPage(siblingPg), page.NewLeafPage(nodePg)
			leafSib.MoveLastToFrontOf(leafNode)
			parent.SetKeyAt(idx, leafNode.KeyAt(0))
		} else {
			intSib, intNode := page.NewInternalPage(siblingPg), page.NewInternalPage(nodePg)
			newSep := intSib.KeyAt(intSib.Size() - 1)
			oldSep := parent.KeyAt(idx)
			intSib.MoveLastToFrontOf(intNode, oldSep, t.reparent)
			parent.SetKeyAt(idx, newSep)
		}
		return
	}
	if isLeaf {
		leafSib, leafNode := page.NewLeafPage(siblingPg), page.NewLeafPage(nodePg)
		leafSib.MoveFirstToEndOf(leafNode)
		parent.SetKeyAt(siblingIdx, leafSib.KeyAt(0))
	} else {
		intSib, intNode := page.NewInternalPage(siblingPg), page.NewInternalPage(nodePg)
		newSep := intSib.KeyAt(1)
		oldSep := parent.KeyAt(siblingIdx)
		intSib.MoveFirstToEndOf(intNode, oldSep, t.reparent)
		parent.SetKeyAt(siblingIdx, newSep)
	}
}

// adjustRootAfterRemoval handles the root shrinking after a merge removed
// one of its entries: a leaf root is simply left in place (even if empty,
// unless Remove's caller already special-cased emptiness); an internal
// root with a single remaining child is replaced by that child.
func (t *BPlusTree) adjustRootAfterRemoval(rootPg *page.Page, txn *transaction.Transaction) {
	if page.PageTypeOf(rootPg) == page.LeafPageType {
		return
	}
	internal := page.NewInternalPage(rootPg)
	if internal.Size() != 1 {
		return
	}
	onlyChild := internal.RemoveAndReturnOnlyChild()
	// onlyChild is always one of the two pages this removal already
	// write-latched (it's the surviving sibling from the merge that
	// emptied rootPg down to one entry), so it's on txn's latch stack
	// already — reparent it in place instead of relatching through
	// t.reparent, which would deadlock re-locking our own write latch.
	if held := findHeld(txn.PageSet(), onlyChild); held != nil {
		page.SetParentPageIDOf(held, page.InvalidPageID)
	} else {
		t.reparent(onlyChild, page.InvalidPageID)
	}

	t.mu.Lock()
	t.rootPageID = onlyChild
	t.mu.Unlock()
	txn.AddToDeletedPageSet(rootPg.ID())
	t.persistRoot()
}

