package contract

import "github.com/shopspring/decimal"

// =============================================================================
// PRESETS
// =============================================================================

// Preset names.
const (
	FullTime           = "full_time"
	PartTimeHorizontal = "part_time_horizontal"
	PartTimeVertical   = "part_time_vertical"
	Apprenticeship     = "apprenticeship"
	Cococo             = "cococo"
	Internship         = "internship"
)

func preset(name, description string, vacation, permission, carry, weekly, daily int64) Type {
	return Type{
		Name:                  name,
		Description:           description,
		AnnualVacationHours:   decimal.NewFromInt(vacation),
		AnnualPermissionHours: decimal.NewFromInt(permission),
		MaxCarryoverHours:     decimal.NewFromInt(carry),
		WeeklyHours:           decimal.NewFromInt(weekly),
		DailyHours:            decimal.NewFromInt(daily),
	}
}

// Presets returns the built-in contract types.
func Presets() []Type {
	return []Type{
		preset(FullTime, "Full time, permanent", 208, 104, 104, 40, 8),
		preset(PartTimeHorizontal, "Part time, reduced daily hours", 104, 52, 52, 20, 4),
		preset(PartTimeVertical, "Part time, reduced working days", 104, 52, 52, 20, 8),
		preset(Apprenticeship, "Apprenticeship", 208, 104, 104, 40, 8),
		preset(Cococo, "Coordinated and continuous collaboration", 0, 0, 0, 0, 0),
		preset(Internship, "Internship", 0, 0, 0, 0, 0),
	}
}

// Default is the contract used when an employee has none assigned.
func Default() Type { return Presets()[0] }

// Lookup returns the preset called name.
func Lookup(name string) (Type, bool) {
	for _, t := range Presets() {
		if t.Name == name {
			return t, true
		}
	}
	return Type{}, false
}
