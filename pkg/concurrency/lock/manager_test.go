package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkernel/pkg/concurrency/transaction"
	"dbkernel/pkg/storage/page"
)

func newTxn(id int64) *transaction.Transaction {
	return transaction.New(transaction.TxnID(id), transaction.RepeatableRead)
}

func TestLockTableBasicGrantAndUnlock(t *testing.T) {
	m := NewManager()
	txn := newTxn(1)

	require.NoError(t, m.LockTable(context.Background(), txn, Shared, 10))
	require.NoError(t, m.UnlockTable(txn, 10))
	assert.Equal(t, transaction.Shrinking, txn.State())
}

func TestLockTableIncompatibleModesBlockUntilReleased(t *testing.T) {
	m := NewManager()
	a, b := newTxn(1), newTxn(2)

	require.NoError(t, m.LockTable(context.Background(), a, Exclusive, 10))

	done := make(chan error, 1)
	go func() { done <- m.LockTable(context.Background(), b, Shared, 10) }()

	select {
	case <-done:
		t.Fatal("b's lock should block while a holds X")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.UnlockTable(a, 10))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("b never acquired the lock after a released it")
	}
}

// TestLockUpgradeConflict mirrors spec §8 boundary scenario 5: two
// transactions both hold IS on a table and attempt to upgrade to SIX. A
// third transaction holding S keeps the first upgrade pending (S and SIX
// are incompatible), so the second transaction's upgrade attempt finds the
// queue already mid-upgrade and must abort with UpgradeConflict rather
// than queue behind it.
func TestLockUpgradeConflict(t *testing.T) {
	m := NewManager()
	a, b, c := newTxn(1), newTxn(2), newTxn(3)

	require.NoError(t, m.LockTable(context.Background(), a, IntentionShared, 10))
	require.NoError(t, m.LockTable(context.Background(), b, IntentionShared, 10))
	require.NoError(t, m.LockTable(context.Background(), c, Shared, 10))

	errCh := make(chan error, 1)
	go func() { errCh <- m.LockTable(context.Background(), a, SharedIntentionExclusive, 10) }()

	// Give a's upgrade a chance to register itself as the queue's
	// upgrading transaction; c's S lock keeps it from being granted yet.
	time.Sleep(20 * time.Millisecond)

	err := m.LockTable(context.Background(), b, SharedIntentionExclusive, 10)
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, transaction.UpgradeConflict, abortErr.Reason)
	assert.Equal(t, transaction.Aborted, b.State())

	require.NoError(t, m.UnlockTable(c, 10))
	require.NoError(t, <-errCh)
}

func TestLockUpgradeIncompatiblePathAborts(t *testing.T) {
	m := NewManager()
	txn := newTxn(1)
	require.NoError(t, m.LockTable(context.Background(), txn, Shared, 10))

	err := m.LockTable(context.Background(), txn, IntentionExclusive, 10)
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, transaction.IncompatibleUpgrade, abortErr.Reason)
}

func TestLockRowExclusiveRequiresTableIntentionLock(t *testing.T) {
	m := NewManager()
	txn := newTxn(1)
	err := m.LockRow(context.Background(), txn, Exclusive, 10, rid(1))
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, transaction.TableLockNotPresent, abortErr.Reason)
}

func TestLockOnShrinkingAborts(t *testing.T) {
	m := NewManager()
	txn := newTxn(1)
	require.NoError(t, m.LockTable(context.Background(), txn, Shared, 10))
	require.NoError(t, m.UnlockTable(txn, 10))

	err := m.LockTable(context.Background(), txn, Shared, 11)
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, transaction.LockOnShrinking, abortErr.Reason)
}

// TestDeadlockDetectionBreaksCycle mirrors spec §8 boundary scenario 6:
// T5 holds X on row r1 and waits for row r2; T6 holds X on row r2 and
// waits for row r1. The detector must abort the larger-numbered
// transaction and let the other proceed.
func TestDeadlockDetectionBreaksCycle(t *testing.T) {
	m := NewManager()
	t5, t6 := newTxn(5), newTxn(6)

	require.NoError(t, m.LockTable(context.Background(), t5, IntentionExclusive, 1))
	require.NoError(t, m.LockTable(context.Background(), t6, IntentionExclusive, 1))
	require.NoError(t, m.LockRow(context.Background(), t5, Exclusive, 1, rid(1)))
	require.NoError(t, m.LockRow(context.Background(), t6, Exclusive, 1, rid(2)))

	t6Done := make(chan error, 1)
	go func() { t6Done <- m.LockRow(context.Background(), t6, Exclusive, 1, rid(1)) }()
	t5Done := make(chan error, 1)
	go func() { t5Done <- m.LockRow(context.Background(), t5, Exclusive, 1, rid(2)) }()

	time.Sleep(20 * time.Millisecond)
	m.detector.scanOnce()

	select {
	case err := <-t6Done:
		require.Error(t, err)
		var abortErr *AbortError
		require.ErrorAs(t, err, &abortErr)
		assert.Equal(t, transaction.Deadlock, abortErr.Reason)
	case <-time.After(time.Second):
		t.Fatal("deadlock detector never aborted t6")
	}

	select {
	case err := <-t5Done:
		require.NoError(t, err, "t5 should proceed once t6 is aborted")
	case <-time.After(time.Second):
		t.Fatal("t5 never acquired its lock after t6 was aborted")
	}
}

// TestWaitsForGraphDirectHooks exercises AddEdge/RemoveEdge/HasCycle/
// GetEdgeList in isolation, independent of any real lock request: 1->2,
// 2->3, 3->1 is a cycle whose victim is the largest id (3); removing one
// edge breaks it.
func TestWaitsForGraphDirectHooks(t *testing.T) {
	m := NewManager()

	m.AddEdge(1, 2)
	m.AddEdge(2, 3)
	m.AddEdge(3, 1)

	edges := m.GetEdgeList()
	require.Len(t, edges, 3)
	assert.Equal(t, [2]transaction.TxnID{1, 2}, edges[0])

	victim, found := m.HasCycle()
	require.True(t, found)
	assert.Equal(t, transaction.TxnID(3), victim)

	m.RemoveEdge(3, 1)
	_, found = m.HasCycle()
	assert.False(t, found)
}

func rid(slot uint32) page.RID { return page.RID{PageID: 1, SlotNum: slot} }
