package lock

import (
	"errors"
	"fmt"

	"dbkernel/pkg/concurrency/transaction"
)

// AbortError wraps the reason the lock manager forced a transaction to
// abort, so callers can match it with errors.As and read the structured
// reason (spec §9's TransactionAbort{reason, txn}).
type AbortError struct {
	TxnID  transaction.TxnID
	Reason transaction.AbortReason
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}

var ErrNotImplemented = errors.New("lock manager: operation not implemented")

func abortErr(txn *transaction.Transaction, reason transaction.AbortReason) error {
	txn.Abort(reason)
	return &AbortError{TxnID: txn.ID(), Reason: reason}
}
