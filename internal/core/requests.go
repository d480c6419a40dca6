package core

import (
	"bloodbank/pkg/domain"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SingleRequest asks for units of one blood type, optionally for a known patient.
// When BloodType is empty the patient's type is used.
type SingleRequest struct {
	PatientID string
	BloodType BloodType
	Units     int
}

// MCIRequest asks for a total number of units split by a named distribution.
type MCIRequest struct {
	DistributionID string
	Units          int
}

// RequestOutcome reports what a submitted request produced. Rejection is set
// when the request was declined and a summary was persisted.
type RequestOutcome struct {
	Request   Request
	Issuances []Issuance
	Rejection *RejectionSummary
}

// SubmitSingleRequest allocates a single patient request. Either every unit is
// issued and committed, or nothing is and an *domain.InsufficientInventoryError
// describes the missing units.
func (s *Service) SubmitSingleRequest(ctx context.Context, req SingleRequest) (RequestOutcome, error) {
	var outcome RequestOutcome
	requestID := uuid.NewString()
	err := s.run(ctx, opSubmitSingleRequest, func(ctx context.Context) (string, error) {
		if req.Units <= 0 {
			return requestID, fmt.Errorf("%w: units must be positive, got %d", domain.ErrInvalidRequest, req.Units)
		}
		if req.BloodType != "" {
			bt, err := domain.ParseBloodType(string(req.BloodType))
			if err != nil {
				return requestID, err
			}
			req.BloodType = bt
		} else if req.PatientID == "" {
			return requestID, fmt.Errorf("%w: blood type or patient required", domain.ErrInvalidRequest)
		}

		var missing []Shortfall
		err := s.withRetry(ctx, opSubmitSingleRequest, func() error {
			outcome = RequestOutcome{}
			missing = nil
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				bloodType := req.BloodType
				if req.PatientID != "" {
					patient, ok := tx.FindPatient(req.PatientID)
					if !ok {
						return domain.NotFoundError{Entity: EntityPatient, ID: req.PatientID}
					}
					switch bloodType {
					case "":
						bloodType = patient.BloodType
					case patient.BloodType:
					default:
						return fmt.Errorf("%w: blood type %s does not match patient %s (%s)",
							domain.ErrInvalidRequest, bloodType, patient.ID, patient.BloodType)
					}
				}
				request, err := tx.CreateRequest(Request{
					Base:      Base{ID: requestID},
					Kind:      domain.RequestKindSingle,
					Status:    domain.RequestStatusAllocating,
					Units:     req.Units,
					PatientID: req.PatientID,
					BloodType: bloodType,
				})
				if err != nil {
					return err
				}
				outcome.Request = request
				alloc, err := s.allocator.Allocate(ctx, tx, requestID, DemandLine{BloodType: bloodType, Units: req.Units})
				if err != nil {
					return err
				}
				if !alloc.Satisfied() {
					missing = []Shortfall{{BloodType: bloodType, Units: alloc.Shortfall}}
					return &domain.InsufficientInventoryError{RequestID: requestID, Kind: domain.RequestKindSingle, Missing: missing}
				}
				return s.fulfil(tx, &outcome, alloc.Issued)
			})
			return err
		})
		if err != nil {
			var insufficient *domain.InsufficientInventoryError
			if errors.As(err, &insufficient) {
				s.allocMetrics.ObserveAllocation(ctx, domain.RequestKindSingle, nil, missing)
				if s.singleRejections {
					outcome.Request.Status = domain.RequestStatusRejected
					return requestID, s.reject(ctx, &outcome, insufficient, RejectionSummary{
						RequestID:      requestID,
						Kind:           domain.RequestKindSingle,
						RequestedUnits: req.Units,
						PatientID:      req.PatientID,
						BloodType:      outcome.Request.BloodType,
						Missing:        missing,
					})
				}
				outcome.Request.Status = domain.RequestStatusRejected
				outcome.Issuances = nil
			}
			return requestID, err
		}
		s.allocMetrics.ObserveAllocation(ctx, domain.RequestKindSingle, outcome.Issuances, nil)
		return requestID, nil
	})
	return outcome, err
}

// SubmitMCIRequest resolves the distribution into demand lines and allocates
// them in definition order inside one transaction. Every line is attempted so
// the rejection lists all missing blood types.
func (s *Service) SubmitMCIRequest(ctx context.Context, req MCIRequest) (RequestOutcome, error) {
	var outcome RequestOutcome
	requestID := uuid.NewString()
	err := s.run(ctx, opSubmitMCIRequest, func(ctx context.Context) (string, error) {
		if req.Units <= 0 {
			return requestID, fmt.Errorf("%w: units must be positive, got %d", domain.ErrInvalidRequest, req.Units)
		}
		if req.DistributionID == "" {
			return requestID, fmt.Errorf("%w: distribution required", domain.ErrInvalidRequest)
		}

		var missing []Shortfall
		err := s.withRetry(ctx, opSubmitMCIRequest, func() error {
			outcome = RequestOutcome{}
			missing = nil
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				distribution, ok := tx.FindDistribution(req.DistributionID)
				if !ok {
					return &domain.InvalidDistributionError{
						DistributionID: req.DistributionID,
						Reason:         "not found",
						Cause:          domain.NotFoundError{Entity: EntityDistribution, ID: req.DistributionID},
					}
				}
				lines, err := distribution.Resolve(req.Units)
				if err != nil {
					return err
				}
				request, err := tx.CreateRequest(Request{
					Base:           Base{ID: requestID},
					Kind:           domain.RequestKindMCI,
					Status:         domain.RequestStatusAllocating,
					Units:          req.Units,
					DistributionID: req.DistributionID,
				})
				if err != nil {
					return err
				}
				outcome.Request = request
				var issued []Issuance
				for _, line := range lines {
					if line.Units == 0 {
						continue
					}
					alloc, err := s.allocator.Allocate(ctx, tx, requestID, line)
					if err != nil {
						return err
					}
					issued = append(issued, alloc.Issued...)
					if !alloc.Satisfied() {
						missing = append(missing, Shortfall{BloodType: line.BloodType, Units: alloc.Shortfall})
					}
				}
				if len(missing) > 0 {
					return &domain.InsufficientInventoryError{RequestID: requestID, Kind: domain.RequestKindMCI, Missing: missing}
				}
				return s.fulfil(tx, &outcome, issued)
			})
			return err
		})
		if err != nil {
			var insufficient *domain.InsufficientInventoryError
			if errors.As(err, &insufficient) {
				s.allocMetrics.ObserveAllocation(ctx, domain.RequestKindMCI, nil, missing)
				outcome.Request.Status = domain.RequestStatusRejected
				return requestID, s.reject(ctx, &outcome, insufficient, RejectionSummary{
					RequestID:      requestID,
					Kind:           domain.RequestKindMCI,
					RequestedUnits: req.Units,
					DistributionID: req.DistributionID,
					Missing:        missing,
				})
			}
			return requestID, err
		}
		s.allocMetrics.ObserveAllocation(ctx, domain.RequestKindMCI, outcome.Issuances, nil)
		return requestID, nil
	})
	return outcome, err
}

// fulfil marks the request fulfilled within tx and records the issuances on outcome.
func (s *Service) fulfil(tx Transaction, outcome *RequestOutcome, issued []Issuance) error {
	request, err := tx.UpdateRequest(outcome.Request.ID, func(r *Request) error {
		r.Status = domain.RequestStatusFulfilled
		return nil
	})
	if err != nil {
		return err
	}
	outcome.Request = request
	outcome.Issuances = issued
	return nil
}

// reject persists the rejection summary in its own transaction, archives it
// and returns the insufficient-inventory error with the summary attached.
// The allocation transaction has already been discarded.
func (s *Service) reject(ctx context.Context, outcome *RequestOutcome, cause *domain.InsufficientInventoryError, summary RejectionSummary) error {
	outcome.Issuances = nil
	var stored RejectionSummary
	err := s.run(ctx, opRecordRejection, func(ctx context.Context) (string, error) {
		err := s.withRetry(ctx, opRecordRejection, func() error {
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				var err error
				stored, err = tx.CreateRejection(summary)
				return err
			})
			return err
		})
		return stored.ID, err
	})
	if err != nil {
		return errors.Join(cause, fmt.Errorf("persist rejection for request %s: %w", summary.RequestID, err))
	}
	outcome.Rejection = &stored
	cause.Rejection = &stored
	s.logger.Info("request rejected", "request_id", stored.RequestID, "rejection_id", stored.ID, "kind", stored.Kind, "missing_units", stored.MissingUnits())
	if s.archive != nil {
		if err := s.archive.Archive(ctx, stored); err != nil {
			s.logger.Error("archive rejection failed", "rejection_id", stored.ID, "error", err)
		}
	}
	return cause
}
