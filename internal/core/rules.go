package core

import (
	"bloodbank/pkg/domain"
	"context"
	"fmt"
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewIssuanceConservationRule())
	engine.Register(NewRequestOutcomeRule())
	return engine
}

// IssuanceConservationRule blocks commits that issue more units than a
// donation holds or that pair a donation with an incompatible recipient.
type IssuanceConservationRule struct{}

// NewIssuanceConservationRule returns the rule.
func NewIssuanceConservationRule() IssuanceConservationRule { return IssuanceConservationRule{} }

// Name implements domain.Rule.
func (IssuanceConservationRule) Name() string { return "issuance_conservation" }

// Evaluate implements domain.Rule.
func (r IssuanceConservationRule) Evaluate(_ context.Context, view domain.RuleView, changes []Change) (Result, error) {
	var res Result
	checked := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != EntityIssuance || change.Action != ActionCreate {
			continue
		}
		issuance, ok := change.After.(Issuance)
		if !ok {
			continue
		}
		if !domain.Compatibility.CanDonate(issuance.DonationBloodType, issuance.RequestBloodType) {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("donation type %s cannot serve recipient %s", issuance.DonationBloodType, issuance.RequestBloodType),
				Entity:   EntityIssuance,
				EntityID: issuance.ID,
			})
		}
		if _, seen := checked[issuance.DonationID]; seen {
			continue
		}
		checked[issuance.DonationID] = struct{}{}
		donation, ok := view.FindDonation(issuance.DonationID)
		if !ok {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("donation %s not found", issuance.DonationID),
				Entity:   EntityIssuance,
				EntityID: issuance.ID,
			})
			continue
		}
		if issued := view.IssuedUnits(donation.ID); issued > donation.Units {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("donation %s issued %d of %d units", donation.ID, issued, donation.Units),
				Entity:   EntityDonation,
				EntityID: donation.ID,
			})
		}
	}
	return res, nil
}

// RequestOutcomeRule blocks commits that leave a request in any state other
// than fulfilled, and single requests whose issuances do not match the
// requested quantity.
type RequestOutcomeRule struct{}

// NewRequestOutcomeRule returns the rule.
func NewRequestOutcomeRule() RequestOutcomeRule { return RequestOutcomeRule{} }

// Name implements domain.Rule.
func (RequestOutcomeRule) Name() string { return "request_outcome" }

// Evaluate implements domain.Rule.
func (r RequestOutcomeRule) Evaluate(_ context.Context, view domain.RuleView, changes []Change) (Result, error) {
	var res Result
	checked := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != EntityRequest {
			continue
		}
		after, ok := change.After.(Request)
		if !ok {
			continue
		}
		if _, seen := checked[after.ID]; seen {
			continue
		}
		checked[after.ID] = struct{}{}
		request, ok := view.FindRequest(after.ID)
		if !ok {
			continue
		}
		if request.Status != domain.RequestStatusFulfilled {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("request %s would commit with status %s", request.ID, request.Status),
				Entity:   EntityRequest,
				EntityID: request.ID,
			})
			continue
		}
		if request.Kind != domain.RequestKindSingle {
			continue
		}
		issued := 0
		for _, i := range view.IssuancesForRequest(request.ID) {
			issued += i.Units
		}
		if issued != request.Units {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("request %s issued %d of %d units", request.ID, issued, request.Units),
				Entity:   EntityRequest,
				EntityID: request.ID,
			})
		}
	}
	return res, nil
}
