package domain

import (
	"sort"
	"time"
)

const (
	// MaxUnitAge is the age past which donated units are no longer issued.
	MaxUnitAge = 30 * 24 * time.Hour
	// HighPriorityAge marks units that should be used before they expire.
	HighPriorityAge = 20 * 24 * time.Hour
)

// OutstandingUnit is a derived inventory row: a donation that is neither fully
// issued nor expired, with the units still available from it.
type OutstandingUnit struct {
	DonationID string    `json:"donation_id"`
	BloodType  BloodType `json:"blood_type"`
	DonatedAt  time.Time `json:"donated_at"`
	Remaining  int       `json:"remaining"`
	NearExpiry bool      `json:"near_expiry"`
}

// InventoryView is the read surface the allocation engine draws from.
// Implementations order results oldest donation first and only return
// donation types compatible with the recipient.
type InventoryView interface {
	FetchOldestCompatible(recipient BloodType, limit int) ([]OutstandingUnit, error)
}

// ProjectOutstanding computes the outstanding inventory from raw donations and
// the units already issued per donation id, as of now. Stores share it so the
// projection rules live in one place.
func ProjectOutstanding(donations []Donation, issued map[string]int, now time.Time) []OutstandingUnit {
	out := make([]OutstandingUnit, 0, len(donations))
	for _, d := range donations {
		age := now.Sub(d.DonatedAt)
		if age >= MaxUnitAge {
			continue
		}
		remaining := d.Units - issued[d.ID]
		if remaining <= 0 {
			continue
		}
		out = append(out, OutstandingUnit{
			DonationID: d.ID,
			BloodType:  d.BloodType,
			DonatedAt:  d.DonatedAt,
			Remaining:  remaining,
			NearExpiry: age >= HighPriorityAge,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DonatedAt.Equal(out[j].DonatedAt) {
			return out[i].DonatedAt.Before(out[j].DonatedAt)
		}
		return out[i].DonationID < out[j].DonationID
	})
	return out
}

// FilterCompatible keeps the units a recipient of the given type may receive,
// preserving order and stopping at limit.
func FilterCompatible(units []OutstandingUnit, recipient BloodType, limit int) []OutstandingUnit {
	if limit <= 0 {
		return nil
	}
	out := make([]OutstandingUnit, 0, limit)
	for _, u := range units {
		if !Compatibility.CanDonate(u.BloodType, recipient) {
			continue
		}
		out = append(out, u)
		if len(out) == limit {
			break
		}
	}
	return out
}

// StockLevel is the outstanding total for one blood type.
type StockLevel struct {
	BloodType       BloodType `json:"blood_type"`
	Units           int       `json:"units"`
	NearExpiryUnits int       `json:"near_expiry_units"`
}

// SummarizeStock groups outstanding units by blood type in canonical order,
// including types with no stock.
func SummarizeStock(units []OutstandingUnit) []StockLevel {
	byType := make(map[BloodType]*StockLevel, len(allBloodTypes))
	out := make([]StockLevel, len(allBloodTypes))
	for i, t := range allBloodTypes {
		out[i] = StockLevel{BloodType: t}
		byType[t] = &out[i]
	}
	for _, u := range units {
		level, ok := byType[u.BloodType]
		if !ok {
			continue
		}
		level.Units += u.Remaining
		if u.NearExpiry {
			level.NearExpiryUnits += u.Remaining
		}
	}
	return out
}
