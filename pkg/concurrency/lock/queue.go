package lock

import (
	"sync"

	"dbkernel/pkg/concurrency/transaction"
)

// request is one transaction's ask for a lock on the resource a queue
// guards, granted or still waiting.
type request struct {
	txnID   transaction.TxnID
	mode    Mode
	granted bool
}

// LockRequestQueue serializes every request for one lockable resource
// (one table, or one row). Grants are decided in FIFO order, with one
// exception: a transaction that already holds a lock and is upgrading it
// jumps ahead of any request behind it in the queue (spec §4.5's upgrade
// priority), mirroring bustub's LockRequestQueue.
type LockRequestQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*request
	upgrading transaction.TxnID
}

func newLockRequestQueue() *LockRequestQueue {
	q := &LockRequestQueue{upgrading: transaction.InvalidTxnID}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// attemptGrants scans the queue front-to-back and grants every request it
// can without violating FIFO order. While an upgrade is pending, only the
// upgrading request is considered: it is granted if compatible with every
// granted lock, and no other request is granted in the same call. Returns
// whether anything changed, so the caller knows whether to wake waiters.
func (q *LockRequestQueue) attemptGrants() bool {
	granted := make([]Mode, 0, len(q.requests))
	for _, r := range q.requests {
		if r.granted {
			granted = append(granted, r.mode)
		}
	}

	if q.upgrading != transaction.InvalidTxnID {
		for _, r := range q.requests {
			if r.txnID != q.upgrading || r.granted {
				continue
			}
			if compatibleWithAll(r.mode, granted) {
				r.granted = true
				q.upgrading = transaction.InvalidTxnID
				return true
			}
			return false
		}
		return false
	}

	changed := false
	for _, r := range q.requests {
		if r.granted {
			continue
		}
		if !compatibleWithAll(r.mode, granted) {
			break
		}
		r.granted = true
		granted = append(granted, r.mode)
		changed = true
	}
	return changed
}

func (q *LockRequestQueue) find(txnID transaction.TxnID) *request {
	for _, r := range q.requests {
		if r.txnID == txnID {
			return r
		}
	}
	return nil
}

func (q *LockRequestQueue) removeTxn(txnID transaction.TxnID) {
	out := q.requests[:0]
	for _, r := range q.requests {
		if r.txnID != txnID {
			out = append(out, r)
		}
	}
	q.requests = out
	if q.upgrading == txnID {
		q.upgrading = transaction.InvalidTxnID
	}
}

// waitingEdges returns (waiterTxnID, holderTxnID) pairs for the waits-for
// graph: every ungranted request's transaction waits on every granted
// request's transaction whose mode it's incompatible with.
func (q *LockRequestQueue) waitingEdges() [][2]transaction.TxnID {
	q.mu.Lock()
	defer q.mu.Unlock()

	var edges [][2]transaction.TxnID
	for _, waiter := range q.requests {
		if waiter.granted {
			continue
		}
		for _, holder := range q.requests {
			if !holder.granted {
				continue
			}
			if !compatibleWith(holder.mode, waiter.mode) {
				edges = append(edges, [2]transaction.TxnID{waiter.txnID, holder.txnID})
			}
		}
	}
	return edges
}
