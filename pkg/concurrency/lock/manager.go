// Package lock implements the multi-granularity lock manager: table and
// row locks across five modes, isolation-level admission rules, lock
// upgrades, and background deadlock detection. Ported from
// original_source/bustub's concurrency/lock_manager.cpp, generalized from
// its hardcoded Catalog-backed oid_t/RID resources to the transaction.TableID
// and page.RID types this kernel's index layer already uses.
package lock

import (
	"context"
	"sync"
	"time"

	"dbkernel/pkg/concurrency/transaction"
	"dbkernel/pkg/storage/page"
)

type rowKey struct {
	table transaction.TableID
	rid   page.RID
}

// Manager owns every lockable resource's request queue and the background
// deadlock detector that scans them.
type Manager struct {
	mu          sync.Mutex
	tableQueues map[transaction.TableID]*LockRequestQueue
	rowQueues   map[rowKey]*LockRequestQueue
	txns        map[transaction.TxnID]*transaction.Transaction

	detector *detector
}

func NewManager() *Manager {
	m := &Manager{
		tableQueues: make(map[transaction.TableID]*LockRequestQueue),
		rowQueues:   make(map[rowKey]*LockRequestQueue),
		txns:        make(map[transaction.TxnID]*transaction.Transaction),
	}
	m.detector = newDetector(m)
	return m
}

func (m *Manager) registerTxn(txn *transaction.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns[txn.ID()] = txn
}

// Forget drops txn from the deadlock detector's registry. Call once a
// transaction commits or aborts and will never lock anything again.
func (m *Manager) Forget(txn *transaction.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txns, txn.ID())
}

// allQueues returns a snapshot of every table and row lock queue, for the
// deadlock detector's waits-for graph scan.
func (m *Manager) allQueues() []*LockRequestQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*LockRequestQueue, 0, len(m.tableQueues)+len(m.rowQueues))
	for _, q := range m.tableQueues {
		out = append(out, q)
	}
	for _, q := range m.rowQueues {
		out = append(out, q)
	}
	return out
}

func (m *Manager) txnByID(id transaction.TxnID) *transaction.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txns[id]
}

// RunDeadlockDetection starts the background waits-for-graph cycle
// detector, scanning every interval until ctx is cancelled. Mirrors
// bustub's LockManager::RunDeadlockDetection background thread loop.
func (m *Manager) RunDeadlockDetection(ctx context.Context, interval time.Duration) {
	m.detector.run(ctx, interval)
}

// AddEdge, RemoveEdge, HasCycle and GetEdgeList drive and inspect the
// waits-for graph directly, independent of any live lock queue — for
// exercising cycle detection and victim selection in isolation.
func (m *Manager) AddEdge(t1, t2 transaction.TxnID) { m.detector.AddEdge(t1, t2) }

func (m *Manager) RemoveEdge(t1, t2 transaction.TxnID) { m.detector.RemoveEdge(t1, t2) }

func (m *Manager) HasCycle() (transaction.TxnID, bool) { return m.detector.HasCycle() }

func (m *Manager) GetEdgeList() [][2]transaction.TxnID { return m.detector.GetEdgeList() }

func (m *Manager) tableQueue(id transaction.TableID) *LockRequestQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.tableQueues[id]
	if !ok {
		q = newLockRequestQueue()
		m.tableQueues[id] = q
	}
	return q
}

func (m *Manager) rowQueue(key rowKey) *LockRequestQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.rowQueues[key]
	if !ok {
		q = newLockRequestQueue()
		m.rowQueues[key] = q
	}
	return q
}

// checkAcquirePreconditions enforces the isolation-level and
// growing/shrinking admission rules shared by LockTable and LockRow (spec
// §4.5's isolation/state restriction table).
func checkAcquirePreconditions(txn *transaction.Transaction, mode Mode) error {
	state := txn.State()
	level := txn.IsolationLevel()

	switch level {
	case transaction.ReadUncommitted:
		if mode == Shared || mode == IntentionShared || mode == SharedIntentionExclusive {
			return abortErr(txn, transaction.LockSharedOnReadUncommitted)
		}
		if state == transaction.Shrinking && mode != Exclusive && mode != IntentionExclusive {
			return abortErr(txn, transaction.LockOnShrinking)
		}
	case transaction.ReadCommitted:
		if state == transaction.Shrinking && mode != Shared && mode != IntentionShared {
			return abortErr(txn, transaction.LockOnShrinking)
		}
	case transaction.RepeatableRead:
		if state == transaction.Shrinking {
			return abortErr(txn, transaction.LockOnShrinking)
		}
	}
	return nil
}

// waitForGrant blocks until q grants txn's request, txn is aborted by the
// deadlock detector, or ctx is cancelled.
func waitForGrant(ctx context.Context, q *LockRequestQueue, txn *transaction.Transaction, req *request) error {
	stop := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-stop:
			}
		}()
		defer close(stop)
	}

	for !req.granted {
		if txn.State() == transaction.Aborted {
			q.removeTxn(txn.ID())
			q.attemptGrants()
			q.cond.Broadcast()
			return &AbortError{TxnID: txn.ID(), Reason: txn.AbortReason()}
		}
		if ctx != nil && ctx.Err() != nil {
			q.removeTxn(txn.ID())
			q.attemptGrants()
			q.cond.Broadcast()
			return ctx.Err()
		}
		q.cond.Wait()
	}
	return nil
}

// LockTable acquires or upgrades a table-level lock for txn.
func (m *Manager) LockTable(ctx context.Context, txn *transaction.Transaction, mode Mode, tableID transaction.TableID) error {
	m.registerTxn(txn)
	if err := checkAcquirePreconditions(txn, mode); err != nil {
		return err
	}

	q := m.tableQueue(tableID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing := q.find(txn.ID()); existing != nil && existing.granted {
		if existing.mode == mode {
			return nil
		}
		if !canUpgrade(existing.mode, mode) {
			return abortErr(txn, transaction.IncompatibleUpgrade)
		}
		if q.upgrading != transaction.InvalidTxnID {
			return abortErr(txn, transaction.UpgradeConflict)
		}
		delete(txn.TableLockSet(int(existing.mode)), tableID)
		q.removeTxn(txn.ID())
		newReq := &request{txnID: txn.ID(), mode: mode}
		q.requests = append(q.requests, newReq)
		q.upgrading = txn.ID()
		q.attemptGrants()
		if err := waitForGrantLocked(ctx, q, txn, newReq); err != nil {
			return err
		}
		txn.TableLockSet(int(mode))[tableID] = struct{}{}
		return nil
	}

	newReq := &request{txnID: txn.ID(), mode: mode}
	q.requests = append(q.requests, newReq)
	q.attemptGrants()
	if err := waitForGrantLocked(ctx, q, txn, newReq); err != nil {
		return err
	}
	txn.TableLockSet(int(mode))[tableID] = struct{}{}
	return nil
}

// waitForGrantLocked adapts waitForGrant (which expects to be called with
// q.mu already held, Cond-style) for callers already holding q.mu.
func waitForGrantLocked(ctx context.Context, q *LockRequestQueue, txn *transaction.Transaction, req *request) error {
	return waitForGrant(ctx, q, txn, req)
}

// UnlockTable releases txn's table lock. Fails if txn holds no lock on
// tableID, or if it still holds any row lock under this table (spec §4.5's
// unlock precondition).
func (m *Manager) UnlockTable(txn *transaction.Transaction, tableID transaction.TableID) error {
	if txn.HasAnyRowLock(tableID) {
		return abortErr(txn, transaction.TableUnlockedBeforeUnlockingRows)
	}

	q := m.tableQueue(tableID)
	q.mu.Lock()
	defer q.mu.Unlock()

	req := q.find(txn.ID())
	if req == nil || !req.granted {
		return abortErr(txn, transaction.AttemptedUnlockButNoLockHeld)
	}
	q.removeTxn(txn.ID())
	delete(txn.TableLockSet(int(req.mode)), tableID)

	if shouldEnterShrinking(txn, req.mode) {
		txn.SetState(transaction.Shrinking)
	}

	q.attemptGrants()
	q.cond.Broadcast()
	return nil
}

// shouldEnterShrinking reports whether releasing a lock of this mode ends
// the transaction's growing phase. Releasing S or X always does; under
// READ_UNCOMMITTED, which never takes S locks, only X does.
func shouldEnterShrinking(txn *transaction.Transaction, mode Mode) bool {
	if txn.State() != transaction.Growing {
		return false
	}
	return mode == Shared || mode == Exclusive
}

// LockRow acquires or upgrades a row-level lock. Only Shared and Exclusive
// are valid row modes (spec §4.5). An exclusive row lock requires the
// transaction already hold IX, SIX or X on the owning table; a shared row
// lock has no such requirement in this kernel, matching upstream's
// commented-out strict check (see DESIGN.md's open-question record).
func (m *Manager) LockRow(ctx context.Context, txn *transaction.Transaction, mode Mode, tableID transaction.TableID, rid page.RID) error {
	m.registerTxn(txn)
	if mode != Shared && mode != Exclusive {
		return ErrNotImplemented
	}
	if err := checkAcquirePreconditions(txn, mode); err != nil {
		return err
	}
	if mode == Exclusive {
		held := txn.TableLockSet(int(IntentionExclusive))
		held2 := txn.TableLockSet(int(Exclusive))
		held3 := txn.TableLockSet(int(SharedIntentionExclusive))
		_, a := held[tableID]
		_, b := held2[tableID]
		_, c := held3[tableID]
		if !a && !b && !c {
			return abortErr(txn, transaction.TableLockNotPresent)
		}
	}

	key := rowKey{table: tableID, rid: rid}
	q := m.rowQueue(key)
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing := q.find(txn.ID()); existing != nil && existing.granted {
		if existing.mode == mode {
			return nil
		}
		if !canUpgrade(existing.mode, mode) {
			return abortErr(txn, transaction.IncompatibleUpgrade)
		}
		if q.upgrading != transaction.InvalidTxnID {
			return abortErr(txn, transaction.UpgradeConflict)
		}
		delete(rowSet(txn, existing.mode)[tableID], rid)
		q.removeTxn(txn.ID())
		newReq := &request{txnID: txn.ID(), mode: mode}
		q.requests = append(q.requests, newReq)
		q.upgrading = txn.ID()
		q.attemptGrants()
		if err := waitForGrantLocked(ctx, q, txn, newReq); err != nil {
			return err
		}
		addRow(txn, mode, tableID, rid)
		return nil
	}

	newReq := &request{txnID: txn.ID(), mode: mode}
	q.requests = append(q.requests, newReq)
	q.attemptGrants()
	if err := waitForGrantLocked(ctx, q, txn, newReq); err != nil {
		return err
	}
	addRow(txn, mode, tableID, rid)
	return nil
}

// UnlockRow releases txn's row lock.
func (m *Manager) UnlockRow(txn *transaction.Transaction, tableID transaction.TableID, rid page.RID) error {
	key := rowKey{table: tableID, rid: rid}
	q := m.rowQueue(key)
	q.mu.Lock()
	defer q.mu.Unlock()

	req := q.find(txn.ID())
	if req == nil || !req.granted {
		return abortErr(txn, transaction.AttemptedUnlockButNoLockHeld)
	}
	q.removeTxn(txn.ID())
	delete(rowSet(txn, req.mode)[tableID], rid)

	if shouldEnterShrinking(txn, req.mode) {
		txn.SetState(transaction.Shrinking)
	}

	q.attemptGrants()
	q.cond.Broadcast()
	return nil
}

func rowSet(txn *transaction.Transaction, mode Mode) map[transaction.TableID]map[page.RID]struct{} {
	return txn.RowLockSet(mode == Exclusive)
}

func addRow(txn *transaction.Transaction, mode Mode, tableID transaction.TableID, rid page.RID) {
	set := rowSet(txn, mode)
	rows, ok := set[tableID]
	if !ok {
		rows = make(map[page.RID]struct{})
		set[tableID] = rows
	}
	rows[rid] = struct{}{}
}
