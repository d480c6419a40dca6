package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DistributionStrategy selects how a distribution turns a total into demand
// lines. The set is closed; Resolve must handle every value.
type DistributionStrategy string

const (
	// StrategyPopulation splits a total by the population frequency of each type.
	StrategyPopulation DistributionStrategy = "population"
)

var hundred = decimal.NewFromInt(100)

// TypePercentage is one (blood type, percentage) entry of a distribution.
type TypePercentage struct {
	BloodType  BloodType       `json:"blood_type"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Distribution is a named split of an MCI total across blood types. Entries
// keep their definition order, which is the order demand lines are allocated in.
type Distribution struct {
	Base
	Name        string               `json:"name"`
	Strategy    DistributionStrategy `json:"strategy"`
	Percentages []TypePercentage     `json:"percentages"`
}

// Validate checks the strategy, blood types and percentage bounds. Percentages
// are not required to sum to 100, but at least one must be positive.
func (d Distribution) Validate() error {
	if d.Name == "" {
		return &InvalidDistributionError{DistributionID: d.ID, Reason: "name required"}
	}
	switch d.Strategy {
	case StrategyPopulation:
	default:
		return &InvalidDistributionError{DistributionID: d.ID, Reason: fmt.Sprintf("unsupported strategy %q", d.Strategy)}
	}
	if len(d.Percentages) == 0 {
		return &InvalidDistributionError{DistributionID: d.ID, Reason: "no blood types defined"}
	}
	seen := make(map[BloodType]struct{}, len(d.Percentages))
	positive := false
	for _, p := range d.Percentages {
		if !p.BloodType.Valid() {
			return &InvalidDistributionError{DistributionID: d.ID, Reason: fmt.Sprintf("unknown blood type %q", p.BloodType)}
		}
		if _, dup := seen[p.BloodType]; dup {
			return &InvalidDistributionError{DistributionID: d.ID, Reason: fmt.Sprintf("duplicate blood type %s", p.BloodType)}
		}
		seen[p.BloodType] = struct{}{}
		if p.Percentage.IsNegative() || p.Percentage.GreaterThan(hundred) {
			return &InvalidDistributionError{DistributionID: d.ID, Reason: fmt.Sprintf("percentage %s for %s out of range", p.Percentage, p.BloodType)}
		}
		if !p.Percentage.Equal(p.Percentage.Round(2)) {
			return &InvalidDistributionError{DistributionID: d.ID, Reason: fmt.Sprintf("percentage %s for %s has more than two decimals", p.Percentage, p.BloodType)}
		}
		positive = positive || p.Percentage.IsPositive()
	}
	if !positive {
		return &InvalidDistributionError{DistributionID: d.ID, Reason: "no positive percentage"}
	}
	return nil
}

// Resolve expands totalUnits into one demand line per entry. Each line is
// ceil(totalUnits * percentage / 100), so the sum may exceed totalUnits.
func (d Distribution) Resolve(totalUnits int) ([]DemandLine, error) {
	if totalUnits <= 0 {
		return nil, fmt.Errorf("%w: total units must be positive, got %d", ErrInvalidRequest, totalUnits)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	switch d.Strategy {
	case StrategyPopulation:
		return resolvePopulation(d.Percentages, totalUnits), nil
	default:
		return nil, &InvalidDistributionError{DistributionID: d.ID, Reason: fmt.Sprintf("unsupported strategy %q", d.Strategy)}
	}
}

func resolvePopulation(percentages []TypePercentage, totalUnits int) []DemandLine {
	total := decimal.NewFromInt(int64(totalUnits))
	lines := make([]DemandLine, 0, len(percentages))
	for _, p := range percentages {
		units := total.Mul(p.Percentage).Div(hundred).Ceil().IntPart()
		lines = append(lines, DemandLine{BloodType: p.BloodType, Units: int(units)})
	}
	return lines
}
