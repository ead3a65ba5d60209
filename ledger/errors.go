/*
errors.go - Error taxonomy for the ledger and balance projector

ERROR CATEGORIES:
  1. Validation errors - rejected before anything is written
  2. Append errors     - storage failures, always surfaced to the caller
  3. Balance errors    - projection or contract lookup failures
  4. Business errors   - insufficient balance, missing records

USAGE:
  if errors.Is(err, ledger.ErrLedgerAppend) {
      // retry or mark the record as pending
  }

SEE ALSO:
  - ledger.go: Produces ValidationError and AppendError
  - balance.go: Produces BalanceUnavailableError
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidTransaction is returned for transactions rejected by validation.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrLedgerAppend is returned when a transaction cannot be persisted.
	ErrLedgerAppend = errors.New("ledger append failed")

	// ErrBalanceUnavailable is returned when a balance or the contract that
	// bounds it cannot be loaded.
	ErrBalanceUnavailable = errors.New("balance unavailable")

	// ErrInsufficientBalance is returned when a usage exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrEmployeeNotFound = errors.New("employee not found")
	ErrContractNotFound = errors.New("contract type not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes why a transaction was rejected before append.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTransaction }

// AppendError wraps a storage failure during append. The transaction was
// not recorded and the caller must retry or mark it pending.
type AppendError struct {
	Key   BalanceKey
	Count int
	Err   error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append %d transaction(s) for %s: %v", e.Count, e.Key, e.Err)
}

// Is lets errors.Is match both ErrLedgerAppend and the underlying cause.
func (e *AppendError) Is(target error) bool { return target == ErrLedgerAppend }

func (e *AppendError) Unwrap() error { return e.Err }

// BalanceUnavailableError wraps a failed balance or contract lookup.
type BalanceUnavailableError struct {
	Key BalanceKey
	Err error
}

func (e *BalanceUnavailableError) Error() string {
	return fmt.Sprintf("balance unavailable for %s: %v", e.Key, e.Err)
}

func (e *BalanceUnavailableError) Is(target error) bool { return target == ErrBalanceUnavailable }

func (e *BalanceUnavailableError) Unwrap() error { return e.Err }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s, requested %s",
		e.Key.Category, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) || errors.Is(err, ErrContractNotFound)
}
