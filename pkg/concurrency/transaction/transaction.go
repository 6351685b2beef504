// Package transaction defines the Transaction entity shared by the B+ tree's
// crabbing protocol and the lock manager (spec §3 "Lock manager entities",
// §9 "latch stack"). Ported from original_source/bustub's
// concurrency/transaction.h (inferred from lock_manager.cpp's usage, no
// header was retrieved) and generalized from BusTub's inheritance-based
// design into a plain struct, per Go convention.
package transaction

import (
	"sync"

	"dbkernel/pkg/storage/page"
)

// TxnID identifies a transaction. Deadlock victim selection picks the
// largest id on the DFS stack (spec §4.5), so ids should be assigned from
// a monotonically increasing source.
type TxnID int64

const InvalidTxnID TxnID = -1

type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// TableID names a lockable table-level resource (the object a table lock is
// taken on). Row-level resources are identified by (TableID, page.RID).
type TableID uint32

// AbortReason explains why the lock manager forced a transaction to abort.
type AbortReason int

const (
	_ AbortReason = iota
	LockOnShrinking
	LockSharedOnReadUncommitted
	UpgradeConflict
	IncompatibleUpgrade
	TableLockNotPresent
	TableUnlockedBeforeUnlockingRows
	AttemptedUnlockButNoLockHeld
	Deadlock
)

func (r AbortReason) String() string {
	switch r {
	case LockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case LockSharedOnReadUncommitted:
		return "LOCK_SHARED_ON_READ_UNCOMMITTED"
	case UpgradeConflict:
		return "UPGRADE_CONFLICT"
	case IncompatibleUpgrade:
		return "INCOMPATIBLE_UPGRADE"
	case TableLockNotPresent:
		return "TABLE_LOCK_NOT_PRESENT"
	case TableUnlockedBeforeUnlockingRows:
		return "TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS"
	case AttemptedUnlockButNoLockHeld:
		return "ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD"
	case Deadlock:
		return "DEADLOCK"
	default:
		return "UNKNOWN"
	}
}

// Transaction tracks a single logical transaction's state across the lock
// manager and the B+ tree's crabbing protocol.
type Transaction struct {
	mu sync.Mutex

	id             TxnID
	state          State
	isolationLevel IsolationLevel
	abortReason    AbortReason

	// Multi-granularity lock sets, one per mode, per spec §3.
	sharedTableLocks           map[TableID]struct{}
	exclusiveTableLocks        map[TableID]struct{}
	intentionSharedTableLocks  map[TableID]struct{}
	intentionExclusiveLocks    map[TableID]struct{}
	sharedIntentionExclusive   map[TableID]struct{}

	sharedRowLocks    map[TableID]map[page.RID]struct{}
	exclusiveRowLocks map[TableID]map[page.RID]struct{}

	// pageSet is the B+ tree crabbing protocol's latch stack: pages whose
	// write latch this transaction currently holds, in acquisition order,
	// so they can be released in that same order on unwind (spec §9).
	pageSet []*page.Page
	// deletedPageSet collects pages freed by a coalesce so they can be
	// deallocated only after every latch in this operation is released
	// (spec §4.4).
	deletedPageSet map[page.PageID]struct{}
}

func New(id TxnID, level IsolationLevel) *Transaction {
	return &Transaction{
		id:                        id,
		state:                     Growing,
		isolationLevel:            level,
		sharedTableLocks:          make(map[TableID]struct{}),
		exclusiveTableLocks:       make(map[TableID]struct{}),
		intentionSharedTableLocks: make(map[TableID]struct{}),
		intentionExclusiveLocks:   make(map[TableID]struct{}),
		sharedIntentionExclusive:  make(map[TableID]struct{}),
		sharedRowLocks:            make(map[TableID]map[page.RID]struct{}),
		exclusiveRowLocks:         make(map[TableID]map[page.RID]struct{}),
		deletedPageSet:            make(map[page.PageID]struct{}),
	}
}

func (t *Transaction) ID() TxnID { return t.id }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolationLevel }

func (t *Transaction) AbortReason() AbortReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abortReason
}

// Abort transitions the transaction to ABORTED and records why, mirroring
// spec §9's TransactionAbort{reason, txn} result.
func (t *Transaction) Abort(reason AbortReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Aborted
	t.abortReason = reason
}

func tableLockSet(t *Transaction, mode int) map[TableID]struct{} {
	switch mode {
	case 0:
		return t.intentionSharedTableLocks
	case 1:
		return t.intentionExclusiveLocks
	case 2:
		return t.sharedTableLocks
	case 3:
		return t.sharedIntentionExclusive
	default:
		return t.exclusiveTableLocks
	}
}

// TableLockSet exposes, by lock mode ordinal (matching lock.Mode), the set
// of tables this transaction holds that mode on. Used by the lock manager
// to record/remove grants and by unlock-precondition checks.
func (t *Transaction) TableLockSet(mode int) map[TableID]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return tableLockSet(t, mode)
}

func rowLockSet(t *Transaction, exclusive bool) map[TableID]map[page.RID]struct{} {
	if exclusive {
		return t.exclusiveRowLocks
	}
	return t.sharedRowLocks
}

func (t *Transaction) RowLockSet(exclusive bool) map[TableID]map[page.RID]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return rowLockSet(t, exclusive)
}

// HasAnyRowLock reports whether this transaction holds any row lock (shared
// or exclusive) on tableID — the precondition unlock_table checks (spec
// §4.5 "Unlock").
func (t *Transaction) HasAnyRowLock(tableID TableID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sharedRowLocks[tableID]; ok && len(s) > 0 {
		return true
	}
	if s, ok := t.exclusiveRowLocks[tableID]; ok && len(s) > 0 {
		return true
	}
	return false
}

// --- B+ tree crabbing latch stack ---

// AddToPageSet appends a write-latched page to this transaction's latch
// stack, in acquisition order.
func (t *Transaction) AddToPageSet(p *page.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pageSet = append(t.pageSet, p)
}

// PageSet returns a snapshot of the currently held write-latched pages, in
// acquisition order (oldest first).
func (t *Transaction) PageSet() []*page.Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*page.Page, len(t.pageSet))
	copy(out, t.pageSet)
	return out
}

// ClearPageSet empties the latch stack once its pages have all been
// unlatched by the caller.
func (t *Transaction) ClearPageSet() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pageSet = t.pageSet[:0]
}

// AddToDeletedPageSet records a page freed by a coalesce, to be
// deallocated once every latch for the current operation is released.
func (t *Transaction) AddToDeletedPageSet(id page.PageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletedPageSet[id] = struct{}{}
}

// DeletedPageSet returns, and clears, the set of pages queued for
// deallocation.
func (t *Transaction) DeletedPageSet() map[page.PageID]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.deletedPageSet
	t.deletedPageSet = make(map[page.PageID]struct{})
	return out
}
