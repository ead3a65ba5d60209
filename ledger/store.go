package ledger

import "context"

// Store is the persistence interface for the ledger.
//
// Implementations must be append-only: there is no Update and no Delete.
// AppendBatch is all-or-nothing. A duplicate idempotency key anywhere in the
// batch rejects the whole batch with ErrDuplicateIdempotencyKey.
//
// Implementations: ledger/store.Memory, store/sqlstore.Store.
type Store interface {
	Append(ctx context.Context, tx Transaction) error
	AppendBatch(ctx context.Context, txs []Transaction) error

	// ListForPeriod returns the transactions of one balance key ordered by
	// date, then creation time.
	ListForPeriod(ctx context.Context, employeeID EmployeeID, category Category, year int) ([]Transaction, error)

	// ListForEmployee returns an employee's transactions matching f, same order.
	ListForEmployee(ctx context.Context, employeeID EmployeeID, f Filter) ([]Transaction, error)

	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
