/*
Package contract defines contract types: the annual hour entitlements and
carry-over caps attached to an employment contract.

PURPOSE:
  A contract type is configured once per contract category and is
  read-only for the engine. The carry-over processor reads the caps, the
  monthly accrual reads the annual entitlements.

PERMISSION CAP:
  Vacation carries over up to MaxCarryoverHours. Permission carries over
  up to MaxPermissionCarryoverHours when set, otherwise up to
  MaxCarryoverHours x PermissionCarryoverRatio. A contract without its own
  ratio uses the ratio its caller passes in (the deployment default, 0.5
  unless configured). The cap is not rounded: 105 x 0.5 allows 52.5h.

DEFINITIONS:
  Contract types can be described in JSON or TOML:

    [[contract]]
    name = "full_time"
    description = "Full time, permanent"
    annual_vacation_hours = 208
    annual_permission_hours = 104
    max_carryover_hours = 104
    permission_carryover_ratio = 0.5
    weekly_hours = 40

SEE ALSO:
  - presets.go: Built-in contract types
  - carryover/runner.go: Uses CarryoverCap
*/
package contract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/ledger"
)

// DefaultPermissionCarryoverRatio returns the permission cap as a share of
// the vacation cap used when nothing else is configured.
func DefaultPermissionCarryoverRatio() decimal.Decimal { return decimal.New(5, -1) }

// ErrInvalidContract wraps every contract definition error.
var ErrInvalidContract = errors.New("invalid contract type")

// Type is a contract type.
type Type struct {
	Name                  string
	Description           string
	AnnualVacationHours   decimal.Decimal
	AnnualPermissionHours decimal.Decimal
	MaxCarryoverHours     decimal.Decimal

	// PermissionCarryoverRatio scales MaxCarryoverHours into the permission
	// cap. Nil defers to the caller's default; zero disables permission
	// carry-over.
	PermissionCarryoverRatio *decimal.Decimal

	// MaxPermissionCarryoverHours overrides the ratio when set.
	MaxPermissionCarryoverHours *decimal.Decimal

	WeeklyHours decimal.Decimal
	DailyHours  decimal.Decimal
}

// AnnualHours returns the yearly entitlement of category.
func (t Type) AnnualHours(category ledger.Category) decimal.Decimal {
	switch category {
	case ledger.CategoryVacation:
		return t.AnnualVacationHours
	case ledger.CategoryPermission:
		return t.AnnualPermissionHours
	}
	return decimal.Zero
}

// PermissionRatio returns the contract's own ratio, or fallback when it has none.
func (t Type) PermissionRatio(fallback decimal.Decimal) decimal.Decimal {
	if t.PermissionCarryoverRatio != nil {
		return *t.PermissionCarryoverRatio
	}
	return fallback
}

// CarryoverCap returns the carry-over cap of category. defaultRatio applies
// to permission when the contract sets neither an override nor a ratio.
// Overtime is not capped and reports false.
func (t Type) CarryoverCap(category ledger.Category, defaultRatio decimal.Decimal) (decimal.Decimal, bool) {
	switch category {
	case ledger.CategoryVacation:
		return t.MaxCarryoverHours, true
	case ledger.CategoryPermission:
		if t.MaxPermissionCarryoverHours != nil {
			return *t.MaxPermissionCarryoverHours, true
		}
		return t.MaxCarryoverHours.Mul(t.PermissionRatio(defaultRatio)), true
	}
	return decimal.Zero, false
}

// Validate checks the contract for impossible values.
func (t Type) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidContract)
	}
	for field, v := range map[string]decimal.Decimal{
		"annual_vacation_hours":      t.AnnualVacationHours,
		"annual_permission_hours":    t.AnnualPermissionHours,
		"max_carryover_hours":        t.MaxCarryoverHours,
		"weekly_hours":               t.WeeklyHours,
		"daily_hours":                t.DailyHours,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w %s: %s must not be negative", ErrInvalidContract, t.Name, field)
		}
	}
	if r := t.PermissionCarryoverRatio; r != nil && (r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1))) {
		return fmt.Errorf("%w %s: permission_carryover_ratio must be within [0, 1]", ErrInvalidContract, t.Name)
	}
	if t.MaxPermissionCarryoverHours != nil && t.MaxPermissionCarryoverHours.IsNegative() {
		return fmt.Errorf("%w %s: max_permission_carryover_hours must not be negative", ErrInvalidContract, t.Name)
	}
	return nil
}
