/*
ledger.go - Append-only hours ledger

PURPOSE:
  The Ledger is the only write path for hours. Every accrual, usage,
  expiration and adjustment goes through Append or AppendBatch, which
  validate, persist, and then notify listeners (the projector cache) that
  the affected balances changed.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. POSITIVE HOURS: stored hours are > 0; the type carries the sign.
  3. ATTRIBUTABLE: every entry names exactly one (employee, category, type,
     period year, period month) and carries a reason.
  4. IDEMPOTENT: the same idempotency key is never recorded twice.
  5. LOUD FAILURES: a storage failure is returned as *AppendError, never
     swallowed. Losing an hours record silently is not an option.

CORRECTIONS:
  Mistakes are corrected with new entries: an adjustment to credit hours
  back, or a usage to take hours away. Both stay in the history.

SEE ALSO:
  - store.go: Persistence interface
  - balance.go: Projection over the ledger
*/
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Recorder receives one observation per appended transaction.
// metrics.Metrics implements it.
type Recorder interface {
	LedgerAppend(category, txType, result string)
}

// AppendListener is called after a successful append with the balance keys
// that changed.
type AppendListener func(ctx context.Context, keys []BalanceKey)

// Ledger validates and records transactions on top of a Store.
type Ledger struct {
	Store    Store
	Logger   *slog.Logger
	Now      func() time.Time
	Recorder Recorder

	listeners []AppendListener
}

// New creates a ledger over store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		Store:  store,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnAppend registers a listener. Not safe to call concurrently with appends.
func (l *Ledger) OnAppend(fn AppendListener) {
	l.listeners = append(l.listeners, fn)
}

// =============================================================================
// WRITE PATH
// =============================================================================

// Append validates and records a single transaction.
func (l *Ledger) Append(ctx context.Context, tx Transaction) (TransactionID, error) {
	ids, err := l.AppendBatch(ctx, []Transaction{tx})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AppendBatch records txs atomically, in order. Either all of them are
// persisted or none is.
func (l *Ledger) AppendBatch(ctx context.Context, txs []Transaction) ([]TransactionID, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	prepared := make([]Transaction, len(txs))
	seen := make(map[string]bool, len(txs))
	now := l.Now()
	for i, tx := range txs {
		if err := Validate(tx); err != nil {
			l.record(tx, "invalid")
			return nil, err
		}
		if tx.ID == "" {
			tx.ID = TransactionID(uuid.NewString())
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		if tx.IdempotencyKey != "" {
			if seen[tx.IdempotencyKey] {
				return nil, ErrDuplicateIdempotencyKey
			}
			seen[tx.IdempotencyKey] = true
		}
		prepared[i] = tx
	}

	// Check all idempotency keys first
	for _, tx := range prepared {
		if tx.IdempotencyKey == "" {
			continue
		}
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return nil, l.appendFailed(prepared, err)
		}
		if exists {
			l.record(tx, "duplicate")
			return nil, ErrDuplicateIdempotencyKey
		}
	}

	var err error
	if len(prepared) == 1 {
		err = l.Store.Append(ctx, prepared[0])
	} else {
		err = l.Store.AppendBatch(ctx, prepared)
	}
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, l.appendFailed(prepared, err)
	}

	ids := make([]TransactionID, len(prepared))
	keys := make([]BalanceKey, 0, len(prepared))
	for i, tx := range prepared {
		ids[i] = tx.ID
		keys = appendKey(keys, tx.Key())
		l.record(tx, "ok")
		l.Logger.DebugContext(ctx, "ledger append",
			"tx_id", tx.ID,
			"employee_id", tx.EmployeeID,
			"category", tx.Category,
			"type", tx.Type,
			"hours", tx.Hours.String(),
			"period", tx.PeriodYear*100+tx.PeriodMonth,
		)
	}
	for _, fn := range l.listeners {
		fn(ctx, keys)
	}
	return ids, nil
}

func (l *Ledger) appendFailed(txs []Transaction, err error) error {
	for _, tx := range txs {
		l.record(tx, "error")
	}
	l.Logger.Error("ledger append failed",
		"employee_id", txs[0].EmployeeID,
		"category", txs[0].Category,
		"count", len(txs),
		"error", err,
	)
	return &AppendError{Key: txs[0].Key(), Count: len(txs), Err: err}
}

func (l *Ledger) record(tx Transaction, result string) {
	if l.Recorder != nil {
		l.Recorder.LedgerAppend(string(tx.Category), string(tx.Type), result)
	}
}

func appendKey(keys []BalanceKey, k BalanceKey) []BalanceKey {
	for _, existing := range keys {
		if existing == k {
			return keys
		}
	}
	return append(keys, k)
}

// =============================================================================
// READ PATH
// =============================================================================

// ListForPeriod returns the transactions of one employee, category and year.
func (l *Ledger) ListForPeriod(ctx context.Context, employeeID EmployeeID, category Category, year int) ([]Transaction, error) {
	return l.Store.ListForPeriod(ctx, employeeID, category, year)
}

// History returns an employee's transactions matching f.
func (l *Ledger) History(ctx context.Context, employeeID EmployeeID, f Filter) ([]Transaction, error) {
	return l.Store.ListForEmployee(ctx, employeeID, f)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate rejects transactions that must never reach the store.
func Validate(tx Transaction) error {
	switch {
	case tx.EmployeeID == "":
		return &ValidationError{Field: "employee_id", Message: "is required"}
	case !tx.Category.Valid():
		return &ValidationError{Field: "category", Message: "must be overtime, vacation or permission"}
	case !tx.Type.Valid():
		return &ValidationError{Field: "type", Message: "must be accrual, usage, expiration or adjustment"}
	case !tx.Hours.IsPositive():
		return &ValidationError{Field: "hours", Message: "must be greater than zero"}
	case tx.Reason == "":
		return &ValidationError{Field: "reason", Message: "is required"}
	case tx.Date.IsZero():
		return &ValidationError{Field: "date", Message: "is required"}
	case tx.PeriodYear <= 0:
		return &ValidationError{Field: "period_year", Message: "must be positive"}
	case tx.PeriodMonth < 1 || tx.PeriodMonth > 12:
		return &ValidationError{Field: "period_month", Message: "must be between 1 and 12"}
	}
	return nil
}
