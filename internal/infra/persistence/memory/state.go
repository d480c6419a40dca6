package memory

import (
	"encoding/json"
	"fmt"
)

type memoryState struct {
	patients      map[string]Patient
	donations     map[string]Donation
	issuances     map[string]Issuance
	requests      map[string]Request
	distributions map[string]Distribution
	rejections    map[string]RejectionSummary
	// issued is derived from issuances and never serialised.
	issued map[string]int
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Patients      map[string]Patient          `json:"patients"`
	Donations     map[string]Donation         `json:"donations"`
	Issuances     map[string]Issuance         `json:"issuances"`
	Requests      map[string]Request          `json:"requests"`
	Distributions map[string]Distribution     `json:"distributions"`
	Rejections    map[string]RejectionSummary `json:"rejections"`
}

// Buckets lists the persisted collections in the order durable stores write them.
var Buckets = []string{"patients", "donations", "issuances", "requests", "distributions", "rejections"}

// BucketTargets maps each bucket name to the field a payload decodes into.
func (s *Snapshot) BucketTargets() map[string]any {
	return map[string]any{
		"patients":      &s.Patients,
		"donations":     &s.Donations,
		"issuances":     &s.Issuances,
		"requests":      &s.Requests,
		"distributions": &s.Distributions,
		"rejections":    &s.Rejections,
	}
}

// EncodeBuckets renders every bucket as a JSON payload.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	targets := s.BucketTargets()
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		data, err := json.Marshal(targets[bucket])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals one persisted payload into the snapshot. Unknown
// buckets are ignored so older tables can be read.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	target, ok := s.BucketTargets()[bucket]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

func newMemoryState() memoryState {
	return memoryState{
		patients:      make(map[string]Patient),
		donations:     make(map[string]Donation),
		issuances:     make(map[string]Issuance),
		requests:      make(map[string]Request),
		distributions: make(map[string]Distribution),
		rejections:    make(map[string]RejectionSummary),
		issued:        make(map[string]int),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Patients:      make(map[string]Patient, len(state.patients)),
		Donations:     make(map[string]Donation, len(state.donations)),
		Issuances:     make(map[string]Issuance, len(state.issuances)),
		Requests:      make(map[string]Request, len(state.requests)),
		Distributions: make(map[string]Distribution, len(state.distributions)),
		Rejections:    make(map[string]RejectionSummary, len(state.rejections)),
	}
	for k, v := range state.patients {
		s.Patients[k] = clonePatient(v)
	}
	for k, v := range state.donations {
		s.Donations[k] = v
	}
	for k, v := range state.issuances {
		s.Issuances[k] = v
	}
	for k, v := range state.requests {
		s.Requests[k] = v
	}
	for k, v := range state.distributions {
		s.Distributions[k] = cloneDistribution(v)
	}
	for k, v := range state.rejections {
		s.Rejections[k] = cloneRejection(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Patients {
		state.patients[k] = clonePatient(v)
	}
	for k, v := range s.Donations {
		state.donations[k] = v
	}
	for k, v := range s.Issuances {
		state.issuances[k] = v
		state.issued[v.DonationID] += v.Units
	}
	for k, v := range s.Requests {
		state.requests[k] = v
	}
	for k, v := range s.Distributions {
		state.distributions[k] = cloneDistribution(v)
	}
	for k, v := range s.Rejections {
		state.rejections[k] = cloneRejection(v)
	}
	return state
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.patients {
		cloned.patients[k] = clonePatient(v)
	}
	for k, v := range s.donations {
		cloned.donations[k] = v
	}
	for k, v := range s.issuances {
		cloned.issuances[k] = v
	}
	for k, v := range s.requests {
		cloned.requests[k] = v
	}
	for k, v := range s.distributions {
		cloned.distributions[k] = cloneDistribution(v)
	}
	for k, v := range s.rejections {
		cloned.rejections[k] = cloneRejection(v)
	}
	for k, v := range s.issued {
		cloned.issued[k] = v
	}
	return cloned
}

func clonePatient(p Patient) Patient {
	cp := p
	if p.PhoneNumber != nil {
		phone := *p.PhoneNumber
		cp.PhoneNumber = &phone
	}
	return cp
}

func cloneDistribution(d Distribution) Distribution {
	cp := d
	cp.Percentages = append(cp.Percentages[:0:0], d.Percentages...)
	return cp
}

func cloneRejection(r RejectionSummary) RejectionSummary {
	cp := r
	cp.Missing = append(cp.Missing[:0:0], r.Missing...)
	return cp
}
