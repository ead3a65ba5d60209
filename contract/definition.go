package contract

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// =============================================================================
// DEFINITION - wire format (JSON and TOML)
// =============================================================================

// Definition is the serialized form of a contract type.
type Definition struct {
	Name                        string   `json:"name" toml:"name"`
	Description                 string   `json:"description,omitempty" toml:"description"`
	AnnualVacationHours         float64  `json:"annual_vacation_hours" toml:"annual_vacation_hours"`
	AnnualPermissionHours       float64  `json:"annual_permission_hours" toml:"annual_permission_hours"`
	MaxCarryoverHours           float64  `json:"max_carryover_hours" toml:"max_carryover_hours"`
	PermissionCarryoverRatio    *float64 `json:"permission_carryover_ratio,omitempty" toml:"permission_carryover_ratio"`
	MaxPermissionCarryoverHours *float64 `json:"max_permission_carryover_hours,omitempty" toml:"max_permission_carryover_hours"`
	WeeklyHours                 float64  `json:"weekly_hours,omitempty" toml:"weekly_hours"`
	DailyHours                  float64  `json:"daily_hours,omitempty" toml:"daily_hours"`
}

// Build converts the definition into a validated Type.
func (d Definition) Build() (Type, error) {
	t := Type{
		Name:                     d.Name,
		Description:              d.Description,
		AnnualVacationHours:   decimal.NewFromFloat(d.AnnualVacationHours),
		AnnualPermissionHours: decimal.NewFromFloat(d.AnnualPermissionHours),
		MaxCarryoverHours:     decimal.NewFromFloat(d.MaxCarryoverHours),
		WeeklyHours:           decimal.NewFromFloat(d.WeeklyHours),
		DailyHours:            decimal.NewFromFloat(d.DailyHours),
	}
	if d.PermissionCarryoverRatio != nil {
		v := decimal.NewFromFloat(*d.PermissionCarryoverRatio)
		t.PermissionCarryoverRatio = &v
	}
	if d.MaxPermissionCarryoverHours != nil {
		v := decimal.NewFromFloat(*d.MaxPermissionCarryoverHours)
		t.MaxPermissionCarryoverHours = &v
	}
	if err := t.Validate(); err != nil {
		return Type{}, err
	}
	return t, nil
}

// ToDefinition converts t back into its wire format.
func ToDefinition(t Type) Definition {
	d := Definition{
		Name:                  t.Name,
		Description:           t.Description,
		AnnualVacationHours:   t.AnnualVacationHours.InexactFloat64(),
		AnnualPermissionHours: t.AnnualPermissionHours.InexactFloat64(),
		MaxCarryoverHours:     t.MaxCarryoverHours.InexactFloat64(),
		WeeklyHours:           t.WeeklyHours.InexactFloat64(),
		DailyHours:            t.DailyHours.InexactFloat64(),
	}
	if t.PermissionCarryoverRatio != nil {
		v := t.PermissionCarryoverRatio.InexactFloat64()
		d.PermissionCarryoverRatio = &v
	}
	if t.MaxPermissionCarryoverHours != nil {
		v := t.MaxPermissionCarryoverHours.InexactFloat64()
		d.MaxPermissionCarryoverHours = &v
	}
	return d
}

// ParseJSON parses a single JSON contract definition.
func ParseJSON(data []byte) (Type, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return Type{}, fmt.Errorf("%w: %w", ErrInvalidContract, err)
	}
	return d.Build()
}

// tomlFile is the top-level shape of a contracts TOML file.
type tomlFile struct {
	Contracts []Definition `toml:"contract"`
}

// LoadTOML reads every [[contract]] table from r.
func LoadTOML(r io.Reader) ([]Type, error) {
	var f tomlFile
	md, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContract, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalidContract, undecoded[0])
	}

	out := make([]Type, 0, len(f.Contracts))
	seen := make(map[string]bool, len(f.Contracts))
	for _, d := range f.Contracts {
		t, err := d.Build()
		if err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("%w: %s defined twice", ErrInvalidContract, t.Name)
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out, nil
}

// LoadTOMLFile is LoadTOML over a file path.
func LoadTOMLFile(path string) ([]Type, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTOML(f)
}
