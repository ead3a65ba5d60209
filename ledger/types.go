/*
Package ledger provides the hours ledger and the balance projector.

PURPOSE:
  Every change to an employee's hours (overtime, vacation, permission) is
  recorded as an immutable Transaction. Balances are never stored: they are
  projected from the transactions of one employee, category and year.

KEY CONCEPTS IN THIS FILE (types.go):
  - Category: overtime, vacation, permission
  - TransactionType: accrual, usage, expiration, adjustment
  - Transaction: one immutable ledger entry
  - Hours helpers: decimal hours, always positive in the ledger

SIGN CONVENTION:
  Stored hours are always > 0. The direction is implied by the type:
    accrual, adjustment   credit (+)
    usage, expiration     debit  (-)

USAGE:
  tx := ledger.Transaction{
      EmployeeID:  "emp-001",
      Category:    ledger.CategoryOvertime,
      Type:        ledger.TxAccrual,
      Hours:       ledger.NewHours(1.5),
      Date:        ledger.Date(2025, time.March, 3),
      PeriodYear:  2025,
      PeriodMonth: 3,
      Reason:      "extra hour on release day",
  }
  id, err := l.Append(ctx, tx)

SEE ALSO:
  - ledger.go: Append-only ledger with validation
  - balance.go: Balance projection
  - store.go: Persistence interface
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HOURS
// =============================================================================

// NewHours returns a decimal hour amount.
func NewHours(h float64) decimal.Decimal { return decimal.NewFromFloat(h) }

// ParseHours parses a decimal string such as "7.5".
func ParseHours(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid hours %q: %w", s, err)
	}
	return d, nil
}

// HoursFromMinutes converts whole minutes to hours without rounding.
func HoursFromMinutes(m int) decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(60))
}

// =============================================================================
// CATEGORIES AND TYPES
// =============================================================================

// Category is the hour bucket a transaction belongs to.
type Category string

const (
	CategoryOvertime   Category = "overtime"
	CategoryVacation   Category = "vacation"
	CategoryPermission Category = "permission"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryOvertime, CategoryVacation, CategoryPermission}

func (c Category) Valid() bool {
	switch c {
	case CategoryOvertime, CategoryVacation, CategoryPermission:
		return true
	}
	return false
}

// ParseCategory validates s as a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// TransactionType classifies a transaction and implies its sign.
type TransactionType string

const (
	TxAccrual    TransactionType = "accrual"
	TxUsage      TransactionType = "usage"
	TxExpiration TransactionType = "expiration"
	TxAdjustment TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxAccrual, TxUsage, TxExpiration, TxAdjustment:
		return true
	}
	return false
}

// IsCredit reports whether the type increases the balance.
func (t TransactionType) IsCredit() bool { return t == TxAccrual || t == TxAdjustment }

// IsDebit reports whether the type decreases the balance.
func (t TransactionType) IsDebit() bool { return t == TxUsage || t == TxExpiration }

// =============================================================================
// TRANSACTION
// =============================================================================

type EmployeeID string
type TransactionID string

// Transaction is an immutable ledger entry. Once appended it is never
// updated or deleted; corrections are new transactions.
type Transaction struct {
	ID         TransactionID
	EmployeeID EmployeeID
	Category   Category
	Type       TransactionType

	// Hours is always positive. Direction comes from Type.
	Hours decimal.Decimal

	// Date is the calendar day the hours belong to (midnight UTC).
	Date        time.Time
	PeriodYear  int
	PeriodMonth int

	Reason         string
	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
}

// Signed returns the hours with the sign implied by the type.
func (tx Transaction) Signed() decimal.Decimal {
	if tx.Type.IsDebit() {
		return tx.Hours.Neg()
	}
	return tx.Hours
}

// Key returns the balance key the transaction contributes to.
func (tx Transaction) Key() BalanceKey {
	return BalanceKey{EmployeeID: tx.EmployeeID, Category: tx.Category, Year: tx.PeriodYear}
}

// BalanceKey identifies one projected balance.
type BalanceKey struct {
	EmployeeID EmployeeID
	Category   Category
	Year       int
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.EmployeeID, k.Category, k.Year)
}

// Filter narrows ListForEmployee. Zero values mean "any".
type Filter struct {
	Category Category
	Type     TransactionType
	Year     int
	Month    int
}

// Matches reports whether tx passes the filter.
func (f Filter) Matches(tx Transaction) bool {
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Year != 0 && tx.PeriodYear != f.Year {
		return false
	}
	if f.Month != 0 && tx.PeriodMonth != f.Month {
		return false
	}
	return true
}

// =============================================================================
// DATES
// =============================================================================

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its calendar day in t's location, as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// EndOfYear returns Dec 31 of year.
func EndOfYear(year int) time.Time { return Date(year, time.December, 31) }

// StartOfYear returns Jan 1 of year.
func StartOfYear(year int) time.Time { return Date(year, time.January, 1) }
