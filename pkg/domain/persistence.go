package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to a consistent snapshot.
type TransactionView interface {
	InventoryView
	// Now is the reference time of the snapshot used for inventory ageing.
	Now() time.Time
	ListOutstanding() []OutstandingUnit
	ListPatients() []Patient
	ListDonations() []Donation
	ListIssuances() []Issuance
	ListRequests() []Request
	ListDistributions() []Distribution
	ListRejections() []RejectionSummary
	FindPatient(id string) (Patient, bool)
	FindDonation(id string) (Donation, bool)
	FindRequest(id string) (Request, bool)
	FindDistribution(id string) (Distribution, bool)
	FindRejection(id string) (RejectionSummary, bool)
	// IssuedUnits is the sum of issuance units recorded against a donation.
	IssuedUnits(donationID string) int
	IssuancesForRequest(requestID string) []Issuance
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Donations, issuances and rejections are
// append-only.
type Transaction interface {
	InventoryView
	Snapshot() TransactionView
	Now() time.Time
	CreatePatient(Patient) (Patient, error)
	UpdatePatient(id string, mutator func(*Patient) error) (Patient, error)
	CreateDonation(Donation) (Donation, error)
	CreateDistribution(Distribution) (Distribution, error)
	CreateRequest(Request) (Request, error)
	UpdateRequest(id string, mutator func(*Request) error) (Request, error)
	// CreateIssuance fails with ErrOverIssue when the donation cannot cover the units.
	CreateIssuance(Issuance) (Issuance, error)
	CreateRejection(RejectionSummary) (RejectionSummary, error)
	FindPatient(id string) (Patient, bool)
	FindDonation(id string) (Donation, bool)
	FindDistribution(id string) (Distribution, bool)
}

// PersistentStore is a minimal abstraction over durable backends.
// RunInTransaction either applies every change made by fn or none of them.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
