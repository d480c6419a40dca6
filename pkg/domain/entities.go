// Package domain defines the blood bank's persistent records, value types,
// compatibility rules and the contracts storage backends must satisfy.
package domain

import (
	"fmt"
	"regexp"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityPatient identifies a donor or recipient person record.
	EntityPatient EntityType = "patient"
	// EntityDonation identifies a donated quantity of units.
	EntityDonation EntityType = "donation"
	// EntityIssuance identifies units drawn from a donation for a request.
	EntityIssuance EntityType = "issuance"
	// EntityRequest identifies a single or MCI request.
	EntityRequest EntityType = "request"
	// EntityDistribution identifies a named blood type distribution.
	EntityDistribution EntityType = "distribution"
	// EntityRejection identifies a rejection summary.
	EntityRejection EntityType = "rejection"
)

// RequestKind distinguishes single-patient requests from mass-casualty requests.
type RequestKind string

// Request kinds.
const (
	RequestKindSingle RequestKind = "single"
	RequestKindMCI    RequestKind = "mci"
)

// RequestStatus tracks a request through allocation.
type RequestStatus string

// Request lifecycle: created -> allocating -> fulfilled | rejected. Only
// fulfilled requests are ever committed.
const (
	RequestStatusCreated    RequestStatus = "created"
	RequestStatusAllocating RequestStatus = "allocating"
	RequestStatusFulfilled  RequestStatus = "fulfilled"
	RequestStatusRejected   RequestStatus = "rejected"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	patientIDPattern = regexp.MustCompile(`^\d{10}$`)
	phonePattern     = regexp.MustCompile(`^0\d{1,2}-\d{7}$`)
)

// Patient is a person known to the blood bank, either as donor or recipient.
// The ID is the ten digit national identity number.
type Patient struct {
	Base
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Birthday    time.Time `json:"birthday"`
	BloodType   BloodType `json:"blood_type"`
	Smokes      bool      `json:"smokes"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
}

// Validate checks identity, blood type and phone formats.
func (p Patient) Validate() error {
	if !patientIDPattern.MatchString(p.ID) {
		return fmt.Errorf("%w: patient id %q must be 10 digits", ErrInvalidRequest, p.ID)
	}
	if !p.BloodType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownBloodType, p.BloodType)
	}
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: patient name required", ErrInvalidRequest)
	}
	if p.PhoneNumber != nil && !phonePattern.MatchString(*p.PhoneNumber) {
		return fmt.Errorf("%w: phone number %q", ErrInvalidRequest, *p.PhoneNumber)
	}
	return nil
}

// Donation is an immutable quantity of units given by a donor. BloodType is
// captured from the donor at donation time.
type Donation struct {
	Base
	DonorID   string    `json:"donor_id"`
	BloodType BloodType `json:"blood_type"`
	Units     int       `json:"units"`
	DonatedAt time.Time `json:"donated_at"`
}

// Issuance links a request to units drawn from one donation.
type Issuance struct {
	Base
	RequestID         string    `json:"request_id"`
	DonationID        string    `json:"donation_id"`
	RequestBloodType  BloodType `json:"request_blood_type"`
	DonationBloodType BloodType `json:"donation_blood_type"`
	Units             int       `json:"units"`
}

// Request is a committed demand. Single requests carry a blood type and an
// optional patient, MCI requests reference a distribution.
type Request struct {
	Base
	Kind           RequestKind   `json:"kind"`
	Status         RequestStatus `json:"status"`
	Units          int           `json:"units"`
	PatientID      string        `json:"patient_id,omitempty"`
	BloodType      BloodType     `json:"blood_type,omitempty"`
	DistributionID string        `json:"distribution_id,omitempty"`
}

// DemandLine is one blood type and quantity the allocation engine must cover.
type DemandLine struct {
	BloodType BloodType `json:"blood_type"`
	Units     int       `json:"units"`
}

// Shortfall is the part of a demand line inventory could not cover.
type Shortfall struct {
	BloodType BloodType `json:"blood_type"`
	Units     int       `json:"units"`
}

// RejectionSummary records what a declined request was missing. It is written
// outside the aborted allocation transaction and never modified.
type RejectionSummary struct {
	Base
	RequestID      string      `json:"request_id"`
	Kind           RequestKind `json:"kind"`
	RequestedUnits int         `json:"requested_units"`
	PatientID      string      `json:"patient_id,omitempty"`
	BloodType      BloodType   `json:"blood_type,omitempty"`
	DistributionID string      `json:"distribution_id,omitempty"`
	Missing        []Shortfall `json:"missing"`
}

// MissingUnits sums the missing quantity across all blood types.
func (r RejectionSummary) MissingUnits() int {
	total := 0
	for _, s := range r.Missing {
		total += s.Units
	}
	return total
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions. Donations, issuances and rejections are append-only, so
// deletes are never recorded.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rule %s: %s", v.Rule, v.Message)
		}
	}
	return "transaction blocked by rules"
}
