package domain

import (
	"fmt"
	"strings"
)

// BloodType is one of the eight ABO/Rh blood groups.
type BloodType string

// Supported blood types.
const (
	ONeg  BloodType = "O-"
	OPos  BloodType = "O+"
	ANeg  BloodType = "A-"
	APos  BloodType = "A+"
	BNeg  BloodType = "B-"
	BPos  BloodType = "B+"
	ABNeg BloodType = "AB-"
	ABPos BloodType = "AB+"
)

var allBloodTypes = []BloodType{ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos}

// AllBloodTypes returns every supported blood type in canonical order.
func AllBloodTypes() []BloodType {
	return append([]BloodType(nil), allBloodTypes...)
}

// Valid reports whether t is one of the supported blood types.
func (t BloodType) Valid() bool {
	return t.rank() >= 0
}

// rank is the position of t in canonical order, or -1.
func (t BloodType) rank() int {
	for i, candidate := range allBloodTypes {
		if candidate == t {
			return i
		}
	}
	return -1
}

func (t BloodType) String() string { return string(t) }

// ParseBloodType normalises and validates a blood type symbol such as "ab+".
func ParseBloodType(raw string) (BloodType, error) {
	t := BloodType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownBloodType, raw)
	}
	return t, nil
}
