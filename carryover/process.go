/*
Package carryover closes a year: unused vacation and permission hours are
carried into the next year up to the contract cap, the rest expires.

PURPOSE:
  Process is the pure step for one (employee, category, year):

    carry  = min(balance, cap)
    expire = balance - carry

    expire > 0  ->  expiration on Dec 31 of year,     period (year, 12)
    carry  > 0  ->  adjustment on Jan 1 of year + 1,  period (year + 1, 1)

  Conservation: carry + expire == balance whenever balance > 0. A balance
  of zero or less produces nothing.

IDEMPOTENCE:
  Both transactions carry deterministic idempotency keys

    carryover:<employee>:<category>:<year>:expire
    carryover:<employee>:<category>:<year>:carry

  and deterministic (uuid v5) IDs. Re-running a close with the same
  snapshot can never post twice: the ledger rejects the duplicate keys.

SEE ALSO:
  - runner.go: Year-close over every active employee
  - contract/contract.go: CarryoverCap
*/
package carryover

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/ledger"
)

// ErrInvalidCap is returned for a negative carry-over cap.
var ErrInvalidCap = errors.New("carry-over cap must not be negative")

// namespace seeds the deterministic transaction IDs.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:hours-engine:carryover"))

// Input is the balance snapshot of one category at year end.
type Input struct {
	EmployeeID     ledger.EmployeeID
	Category       ledger.Category
	CurrentBalance decimal.Decimal
	MaxCarryover   decimal.Decimal
	Year           int
}

// Result is what Process decided.
type Result struct {
	CarriedOver  decimal.Decimal
	Expired      decimal.Decimal
	Transactions []ledger.Transaction
}

// Process computes the year-close transactions for in. It does not touch
// the ledger.
func Process(in Input) (Result, error) {
	if in.MaxCarryover.IsNegative() {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidCap, in.MaxCarryover)
	}
	if in.Year <= 0 {
		return Result{}, fmt.Errorf("carry-over year must be positive, got %d", in.Year)
	}

	res := Result{CarriedOver: decimal.Zero, Expired: decimal.Zero}
	if !in.CurrentBalance.IsPositive() {
		return res, nil
	}

	res.CarriedOver = decimal.Min(in.CurrentBalance, in.MaxCarryover)
	res.Expired = in.CurrentBalance.Sub(res.CarriedOver)

	if res.Expired.IsPositive() {
		key := IdempotencyKey(in.EmployeeID, in.Category, in.Year, "expire")
		res.Transactions = append(res.Transactions, ledger.Transaction{
			ID:             transactionID(key),
			EmployeeID:     in.EmployeeID,
			Category:       in.Category,
			Type:           ledger.TxExpiration,
			Hours:          res.Expired,
			Date:           ledger.EndOfYear(in.Year),
			PeriodYear:     in.Year,
			PeriodMonth:    12,
			Reason:         fmt.Sprintf("%s hours above the carry-over cap of %s expired at the end of %d", in.Category, in.MaxCarryover, in.Year),
			IdempotencyKey: key,
			CreatedBy:      "carryover",
		})
	}
	if res.CarriedOver.IsPositive() {
		key := IdempotencyKey(in.EmployeeID, in.Category, in.Year, "carry")
		res.Transactions = append(res.Transactions, ledger.Transaction{
			ID:             transactionID(key),
			EmployeeID:     in.EmployeeID,
			Category:       in.Category,
			Type:           ledger.TxAdjustment,
			Hours:          res.CarriedOver,
			Date:           ledger.StartOfYear(in.Year + 1),
			PeriodYear:     in.Year + 1,
			PeriodMonth:    1,
			Reason:         fmt.Sprintf("%s hours carried over from %d", in.Category, in.Year),
			IdempotencyKey: key,
			CreatedBy:      "carryover",
		})
	}
	return res, nil
}

// IdempotencyKey returns the ledger key of one half of a year close.
// part is "expire" or "carry".
func IdempotencyKey(employeeID ledger.EmployeeID, category ledger.Category, year int, part string) string {
	return fmt.Sprintf("carryover:%s:%s:%d:%s", employeeID, category, year, part)
}

func transactionID(key string) ledger.TransactionID {
	return ledger.TransactionID(uuid.NewSHA1(namespace, []byte(key)).String())
}
