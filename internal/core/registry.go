package core

import (
	"bloodbank/pkg/domain"
	"context"
	"fmt"
)

// RegisterPatient stores a new donor or recipient record.
func (s *Service) RegisterPatient(ctx context.Context, patient Patient) (Patient, error) {
	var created Patient
	err := s.run(ctx, opRegisterPatient, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreatePatient(patient)
			return err
		})
		return patient.ID, err
	})
	return created, err
}

// UpdatePatient mutates a patient's details. The national id cannot change.
func (s *Service) UpdatePatient(ctx context.Context, id string, mutator func(*Patient) error) (Patient, error) {
	var updated Patient
	err := s.run(ctx, opUpdatePatient, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdatePatient(id, mutator)
			return err
		})
		return id, err
	})
	return updated, err
}

// GetPatient returns a patient by national id.
func (s *Service) GetPatient(ctx context.Context, id string) (Patient, error) {
	var patient Patient
	err := s.run(ctx, opGetPatient, func(ctx context.Context) (string, error) {
		return id, s.store.View(ctx, func(view TransactionView) error {
			var ok bool
			patient, ok = view.FindPatient(id)
			if !ok {
				return domain.NotFoundError{Entity: EntityPatient, ID: id}
			}
			return nil
		})
	})
	return patient, err
}

// RecordDonation appends a donation from a registered donor. The blood type is
// taken from the donor record; a conflicting type on the input is rejected.
func (s *Service) RecordDonation(ctx context.Context, donation Donation) (Donation, error) {
	var created Donation
	err := s.run(ctx, opRecordDonation, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			donor, ok := tx.FindPatient(donation.DonorID)
			if !ok {
				return domain.NotFoundError{Entity: EntityPatient, ID: donation.DonorID}
			}
			if donation.BloodType != "" && donation.BloodType != donor.BloodType {
				return fmt.Errorf("%w: donation type %s does not match donor type %s", domain.ErrInvalidRequest, donation.BloodType, donor.BloodType)
			}
			donation.BloodType = donor.BloodType
			var err error
			created, err = tx.CreateDonation(donation)
			return err
		})
		return created.ID, err
	})
	return created, err
}

// CreateDistribution stores a named blood type distribution.
func (s *Service) CreateDistribution(ctx context.Context, distribution Distribution) (Distribution, error) {
	var created Distribution
	err := s.run(ctx, opCreateDistribution, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateDistribution(distribution)
			return err
		})
		return created.ID, err
	})
	return created, err
}

// ListDistributions returns every distribution ordered by name.
func (s *Service) ListDistributions(ctx context.Context) ([]Distribution, error) {
	var out []Distribution
	err := s.run(ctx, opListDistributions, func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view TransactionView) error {
			out = view.ListDistributions()
			return nil
		})
	})
	return out, err
}

// GetRequest returns a committed request together with its issuances.
func (s *Service) GetRequest(ctx context.Context, id string) (Request, []Issuance, error) {
	var (
		request   Request
		issuances []Issuance
	)
	err := s.run(ctx, opGetRequest, func(ctx context.Context) (string, error) {
		return id, s.store.View(ctx, func(view TransactionView) error {
			var ok bool
			request, ok = view.FindRequest(id)
			if !ok {
				return domain.NotFoundError{Entity: EntityRequest, ID: id}
			}
			issuances = view.IssuancesForRequest(id)
			return nil
		})
	})
	return request, issuances, err
}

// ListIssuances returns the issuances of a request, or every issuance when
// requestID is empty.
func (s *Service) ListIssuances(ctx context.Context, requestID string) ([]Issuance, error) {
	var out []Issuance
	err := s.run(ctx, opListIssuances, func(ctx context.Context) (string, error) {
		return requestID, s.store.View(ctx, func(view TransactionView) error {
			if requestID == "" {
				out = view.ListIssuances()
				return nil
			}
			out = view.IssuancesForRequest(requestID)
			return nil
		})
	})
	return out, err
}

// GetRejection returns a rejection summary by id.
func (s *Service) GetRejection(ctx context.Context, id string) (RejectionSummary, error) {
	var rejection RejectionSummary
	err := s.run(ctx, opGetRejection, func(ctx context.Context) (string, error) {
		return id, s.store.View(ctx, func(view TransactionView) error {
			var ok bool
			rejection, ok = view.FindRejection(id)
			if !ok {
				return domain.NotFoundError{Entity: EntityRejection, ID: id}
			}
			return nil
		})
	})
	return rejection, err
}

// ListRejections returns every rejection summary, oldest first.
func (s *Service) ListRejections(ctx context.Context) ([]RejectionSummary, error) {
	var out []RejectionSummary
	err := s.run(ctx, opListRejections, func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view TransactionView) error {
			out = view.ListRejections()
			return nil
		})
	})
	return out, err
}

// OutstandingInventory lists issuable units, oldest first. A non-empty
// recipient restricts the list to compatible donations; limit <= 0 means all.
func (s *Service) OutstandingInventory(ctx context.Context, recipient BloodType, limit int) ([]domain.OutstandingUnit, error) {
	var out []domain.OutstandingUnit
	err := s.run(ctx, opOutstandingInventory, func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view TransactionView) error {
			all := view.ListOutstanding()
			if recipient == "" {
				out = all
				if limit > 0 && len(out) > limit {
					out = out[:limit]
				}
				return nil
			}
			if !recipient.Valid() {
				return fmt.Errorf("%w: %q", domain.ErrUnknownBloodType, recipient)
			}
			if limit <= 0 {
				limit = len(all)
			}
			out = domain.FilterCompatible(all, recipient, limit)
			return nil
		})
	})
	return out, err
}

// InventorySummary returns outstanding units per blood type, every type included.
func (s *Service) InventorySummary(ctx context.Context) ([]domain.StockLevel, error) {
	var out []domain.StockLevel
	err := s.run(ctx, opInventorySummary, func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view TransactionView) error {
			out = domain.SummarizeStock(view.ListOutstanding())
			return nil
		})
	})
	return out, err
}
