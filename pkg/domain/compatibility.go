package domain

import "sort"

// canDonate is the single hand-maintained compatibility source: donor type to
// the recipient types it may be transfused into.
var canDonate = map[BloodType][]BloodType{
	ONeg:  {APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg},
	OPos:  {APos, BPos, ABPos, OPos},
	ANeg:  {APos, ANeg, ABPos},
	APos:  {APos, ABPos},
	BNeg:  {BPos, BNeg, ABPos, ABNeg},
	BPos:  {BPos, ABPos},
	ABNeg: {ABPos, ABNeg},
	ABPos: {ABPos},
}

// CompatibilityTable is an immutable donor/recipient relation. The recipient
// index is always derived from the donor index.
type CompatibilityTable struct {
	recipients map[BloodType][]BloodType
	donors     map[BloodType][]BloodType
}

// Compatibility is the ABO/Rh table used by allocation and inventory queries.
var Compatibility = NewCompatibilityTable(canDonate)

// NewCompatibilityTable builds a table from a donor to recipients mapping and
// derives the inverse recipient to donors mapping.
func NewCompatibilityTable(donorToRecipients map[BloodType][]BloodType) CompatibilityTable {
	table := CompatibilityTable{
		recipients: make(map[BloodType][]BloodType, len(donorToRecipients)),
		donors:     make(map[BloodType][]BloodType, len(donorToRecipients)),
	}
	for donor, recipients := range donorToRecipients {
		seen := make(map[BloodType]struct{}, len(recipients))
		for _, recipient := range recipients {
			if _, dup := seen[recipient]; dup {
				continue
			}
			seen[recipient] = struct{}{}
			table.recipients[donor] = append(table.recipients[donor], recipient)
			table.donors[recipient] = append(table.donors[recipient], donor)
		}
	}
	for _, index := range []map[BloodType][]BloodType{table.recipients, table.donors} {
		for key := range index {
			sortCanonical(index[key])
		}
	}
	return table
}

// CompatibleDonors returns the donor types whose units may be given to a
// recipient of the supplied type, in canonical order.
func (c CompatibilityTable) CompatibleDonors(recipient BloodType) []BloodType {
	return append([]BloodType(nil), c.donors[recipient]...)
}

// Recipients returns the recipient types a donor type may be given to.
func (c CompatibilityTable) Recipients(donor BloodType) []BloodType {
	return append([]BloodType(nil), c.recipients[donor]...)
}

// CanDonate reports whether donor units may be transfused into recipient.
func (c CompatibilityTable) CanDonate(donor, recipient BloodType) bool {
	for _, candidate := range c.recipients[donor] {
		if candidate == recipient {
			return true
		}
	}
	return false
}

func sortCanonical(types []BloodType) {
	sort.Slice(types, func(i, j int) bool { return types[i].rank() < types[j].rank() })
}
