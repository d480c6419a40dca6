package core

import (
	"bloodbank/pkg/domain"
	"context"
	"fmt"
)

// DefaultBatchSize is the number of inventory rows fetched per refill.
const DefaultBatchSize = 10

// AllocationLedger is the inventory capability the engine draws from. A
// domain.Transaction satisfies it.
type AllocationLedger interface {
	domain.InventoryView
	CreateIssuance(domain.Issuance) (domain.Issuance, error)
}

// LineAllocation is the result of allocating one demand line.
type LineAllocation struct {
	Line      DemandLine
	Issued    []Issuance
	Shortfall int
}

// Satisfied reports whether the whole line was covered.
func (a LineAllocation) Satisfied() bool { return a.Shortfall == 0 }

// IssuedUnits sums the units issued for the line.
func (a LineAllocation) IssuedUnits() int {
	total := 0
	for _, i := range a.Issued {
		total += i.Units
	}
	return total
}

// AllocationEngine satisfies demand lines from the oldest compatible units.
type AllocationEngine struct {
	batchSize int
}

// NewAllocationEngine returns an engine fetching batchSize rows per refill.
// Non-positive sizes fall back to DefaultBatchSize.
func NewAllocationEngine(batchSize int) *AllocationEngine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &AllocationEngine{batchSize: batchSize}
}

// BatchSize returns the refill size.
func (e *AllocationEngine) BatchSize() int { return e.batchSize }

// Allocate issues units for line against ledger on behalf of requestID.
// Rows are consumed strictly in fetch order and the buffer is refilled only
// once it is empty. A fetch returning nothing ends the line with the
// remaining quantity as shortfall; any issuances already made stay in the
// ledger for the caller to commit or abandon.
func (e *AllocationEngine) Allocate(ctx context.Context, ledger AllocationLedger, requestID string, line DemandLine) (LineAllocation, error) {
	out := LineAllocation{Line: line}
	if !line.BloodType.Valid() {
		return out, fmt.Errorf("%w: %q", domain.ErrUnknownBloodType, line.BloodType)
	}
	if line.Units <= 0 {
		return out, fmt.Errorf("%w: demand line units must be positive, got %d", domain.ErrInvalidRequest, line.Units)
	}

	remaining := line.Units
	var buffer []domain.OutstandingUnit
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if len(buffer) == 0 {
			fetched, err := ledger.FetchOldestCompatible(line.BloodType, e.batchSize)
			if err != nil {
				return out, fmt.Errorf("fetch inventory for %s: %w", line.BloodType, err)
			}
			if len(fetched) == 0 {
				break
			}
			buffer = fetched
		}
		unit := buffer[0]
		buffer = buffer[1:]

		if !domain.Compatibility.CanDonate(unit.BloodType, line.BloodType) {
			return out, fmt.Errorf("%w: donation %s of type %s for recipient %s", domain.ErrIncompatibleUnit, unit.DonationID, unit.BloodType, line.BloodType)
		}
		take := min(unit.Remaining, remaining)
		if take <= 0 {
			continue
		}
		issued, err := ledger.CreateIssuance(domain.Issuance{
			RequestID:         requestID,
			DonationID:        unit.DonationID,
			RequestBloodType:  line.BloodType,
			DonationBloodType: unit.BloodType,
			Units:             take,
		})
		if err != nil {
			return out, fmt.Errorf("issue from donation %s: %w", unit.DonationID, err)
		}
		out.Issued = append(out.Issued, issued)
		remaining -= take
	}
	out.Shortfall = remaining
	return out, nil
}
