package memory

import (
	"bloodbank/pkg/domain"
	"sort"
	"time"
)

// transactionView exposes a read-only snapshot of the transactional state to rules and readers.
type transactionView struct {
	state *memoryState
	now   time.Time
}

func newTransactionView(state *memoryState, now time.Time) TransactionView {
	return transactionView{state: state, now: now}
}

func (v transactionView) Now() time.Time { return v.now }

func (v transactionView) FetchOldestCompatible(recipient domain.BloodType, limit int) ([]domain.OutstandingUnit, error) {
	return fetchOldestCompatible(v.state, recipient, limit, v.now)
}

// ListOutstanding returns every outstanding unit, oldest first.
func (v transactionView) ListOutstanding() []domain.OutstandingUnit {
	return outstanding(v.state, v.now)
}

func (v transactionView) ListPatients() []Patient {
	out := make([]Patient, 0, len(v.state.patients))
	for _, p := range v.state.patients {
		out = append(out, clonePatient(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListDonations() []Donation {
	out := make([]Donation, 0, len(v.state.donations))
	for _, d := range v.state.donations {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DonatedAt.Equal(out[j].DonatedAt) {
			return out[i].DonatedAt.Before(out[j].DonatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) ListIssuances() []Issuance {
	out := make([]Issuance, 0, len(v.state.issuances))
	for _, i := range v.state.issuances {
		out = append(out, i)
	}
	sortByCreated(out, func(i Issuance) (time.Time, string) { return i.CreatedAt, i.ID })
	return out
}

func (v transactionView) ListRequests() []Request {
	out := make([]Request, 0, len(v.state.requests))
	for _, r := range v.state.requests {
		out = append(out, r)
	}
	sortByCreated(out, func(r Request) (time.Time, string) { return r.CreatedAt, r.ID })
	return out
}

func (v transactionView) ListDistributions() []Distribution {
	out := make([]Distribution, 0, len(v.state.distributions))
	for _, d := range v.state.distributions {
		out = append(out, cloneDistribution(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (v transactionView) ListRejections() []RejectionSummary {
	out := make([]RejectionSummary, 0, len(v.state.rejections))
	for _, r := range v.state.rejections {
		out = append(out, cloneRejection(r))
	}
	sortByCreated(out, func(r RejectionSummary) (time.Time, string) { return r.CreatedAt, r.ID })
	return out
}

func (v transactionView) FindPatient(id string) (Patient, bool) {
	p, ok := v.state.patients[id]
	if !ok {
		return Patient{}, false
	}
	return clonePatient(p), true
}

func (v transactionView) FindDonation(id string) (Donation, bool) {
	d, ok := v.state.donations[id]
	return d, ok
}

func (v transactionView) FindRequest(id string) (Request, bool) {
	r, ok := v.state.requests[id]
	return r, ok
}

func (v transactionView) FindDistribution(id string) (Distribution, bool) {
	d, ok := v.state.distributions[id]
	if !ok {
		return Distribution{}, false
	}
	return cloneDistribution(d), true
}

func (v transactionView) FindRejection(id string) (RejectionSummary, bool) {
	r, ok := v.state.rejections[id]
	if !ok {
		return RejectionSummary{}, false
	}
	return cloneRejection(r), true
}

func (v transactionView) IssuedUnits(donationID string) int {
	return v.state.issued[donationID]
}

func (v transactionView) IssuancesForRequest(requestID string) []Issuance {
	var out []Issuance
	for _, i := range v.state.issuances {
		if i.RequestID == requestID {
			out = append(out, i)
		}
	}
	sortByCreated(out, func(i Issuance) (time.Time, string) { return i.CreatedAt, i.ID })
	return out
}

func sortByCreated[T any](items []T, key func(T) (time.Time, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
}
