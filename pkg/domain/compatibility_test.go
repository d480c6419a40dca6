package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseBloodType(t *testing.T) {
	cases := []struct {
		in      string
		want    BloodType
		wantErr bool
	}{
		{"O-", ONeg, false},
		{" ab+ ", ABPos, false},
		{"b-", BNeg, false},
		{"C+", "", true},
		{"", "", true},
		{"A", "", true},
	}
	for _, tc := range cases {
		got, err := ParseBloodType(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrUnknownBloodType) {
				t.Fatalf("ParseBloodType(%q): expected ErrUnknownBloodType, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseBloodType(%q) = %s, %v; want %s", tc.in, got, err, tc.want)
		}
	}
}

func TestAllBloodTypesReturnsCopy(t *testing.T) {
	types := AllBloodTypes()
	if len(types) != 8 || types[0] != ONeg || types[7] != ABPos {
		t.Fatalf("unexpected canonical order %v", types)
	}
	types[0] = ABPos
	if AllBloodTypes()[0] != ONeg {
		t.Fatalf("mutating the returned slice must not affect the package")
	}
}

func TestCompatibleDonors(t *testing.T) {
	cases := map[BloodType][]BloodType{
		ONeg:  {ONeg},
		OPos:  {ONeg, OPos},
		ANeg:  {ONeg, ANeg},
		APos:  {ONeg, OPos, ANeg, APos},
		BNeg:  {ONeg, BNeg},
		BPos:  {ONeg, OPos, BNeg, BPos},
		ABNeg: {ONeg, BNeg, ABNeg},
		ABPos: {ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos},
	}
	for recipient, want := range cases {
		if got := Compatibility.CompatibleDonors(recipient); !reflect.DeepEqual(got, want) {
			t.Fatalf("CompatibleDonors(%s) = %v, want %v", recipient, got, want)
		}
	}
	if got := Compatibility.CompatibleDonors("Z"); len(got) != 0 {
		t.Fatalf("unknown type should have no donors, got %v", got)
	}
}

func TestCompatibilityIndexesAgree(t *testing.T) {
	for _, donor := range AllBloodTypes() {
		for _, recipient := range AllBloodTypes() {
			direct := Compatibility.CanDonate(donor, recipient)
			inverse := false
			for _, d := range Compatibility.CompatibleDonors(recipient) {
				if d == donor {
					inverse = true
				}
			}
			if direct != inverse {
				t.Fatalf("%s -> %s: direct %v, inverse %v", donor, recipient, direct, inverse)
			}
		}
		if !Compatibility.CanDonate(donor, donor) {
			t.Fatalf("%s must be able to donate to itself", donor)
		}
		if !Compatibility.CanDonate(ONeg, donor) || !Compatibility.CanDonate(donor, ABPos) {
			t.Fatalf("O- must be universal donor and AB+ universal recipient (%s)", donor)
		}
	}
}

func TestNewCompatibilityTableDeduplicatesAndSorts(t *testing.T) {
	table := NewCompatibilityTable(map[BloodType][]BloodType{
		OPos: {ABPos, OPos, OPos},
		ONeg: {OPos},
	})
	if got := table.Recipients(OPos); !reflect.DeepEqual(got, []BloodType{OPos, ABPos}) {
		t.Fatalf("unexpected recipients %v", got)
	}
	if got := table.CompatibleDonors(OPos); !reflect.DeepEqual(got, []BloodType{ONeg, OPos}) {
		t.Fatalf("unexpected donors %v", got)
	}
	donors := table.CompatibleDonors(OPos)
	donors[0] = ABPos
	if table.CompatibleDonors(OPos)[0] != ONeg {
		t.Fatalf("table must not expose internal slices")
	}
}
