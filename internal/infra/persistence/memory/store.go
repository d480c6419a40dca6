// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments and as the transactional engine
// underneath the durable snapshot stores.
package memory

import (
	"bloodbank/pkg/domain"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Patient aliases domain.Patient for in-memory persistence operations.
	Patient = domain.Patient
	// Donation aliases domain.Donation.
	Donation = domain.Donation
	// Issuance aliases domain.Issuance.
	Issuance = domain.Issuance
	// Request aliases domain.Request.
	Request = domain.Request
	// Distribution aliases domain.Distribution.
	Distribution = domain.Distribution
	// RejectionSummary aliases domain.RejectionSummary.
	RejectionSummary = domain.RejectionSummary
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook runs under the store lock after rules pass and before the new
// state becomes visible. Returning an error aborts the commit.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs a hook invoked with the post-commit snapshot.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// WithClock overrides the time source used for timestamps and inventory ageing.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store provides an in-memory transactional store for the blood bank domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hook   CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newID returns a time-ordered UUID so ids sort in creation order.
func (s *Store) newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SetCommitHook replaces the commit hook. Durable stores install theirs after
// hydrating the initial state.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// Refresh calls load under the store lock and, when it reports a replacement,
// swaps in the returned snapshot. Commits are blocked while load runs.
func (s *Store) Refresh(load func() (Snapshot, bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, replace, err := load()
	if err != nil {
		return err
	}
	if replace {
		s.state = memoryStateFromSnapshot(snapshot)
	}
	return nil
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Nothing fn did is visible to other callers unless every rule passes and the
// commit hook succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state, tx.now)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.hook != nil {
		if err := s.hook(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	now := s.nowFn()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot, now))
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state, tx.now)
}

// Now returns the transaction's reference time.
func (tx *transaction) Now() time.Time { return tx.now }

// FetchOldestCompatible reads the outstanding inventory including issuances
// made earlier in this transaction.
func (tx *transaction) FetchOldestCompatible(recipient domain.BloodType, limit int) ([]domain.OutstandingUnit, error) {
	return fetchOldestCompatible(&tx.state, recipient, limit, tx.now)
}

// FindPatient exposes patient lookup within the transaction scope.
func (tx *transaction) FindPatient(id string) (Patient, bool) {
	p, ok := tx.state.patients[id]
	if !ok {
		return Patient{}, false
	}
	return clonePatient(p), true
}

// FindDonation exposes donation lookup within the transaction scope.
func (tx *transaction) FindDonation(id string) (Donation, bool) {
	d, ok := tx.state.donations[id]
	return d, ok
}

// FindDistribution exposes distribution lookup within the transaction scope.
func (tx *transaction) FindDistribution(id string) (Distribution, bool) {
	d, ok := tx.state.distributions[id]
	if !ok {
		return Distribution{}, false
	}
	return cloneDistribution(d), true
}

// CreatePatient stores a new patient. The caller supplies the national id.
func (tx *transaction) CreatePatient(p Patient) (Patient, error) {
	if err := p.Validate(); err != nil {
		return Patient{}, err
	}
	if _, exists := tx.state.patients[p.ID]; exists {
		return Patient{}, fmt.Errorf("%w: patient %q already exists", domain.ErrInvalidRequest, p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.patients[p.ID] = clonePatient(p)
	tx.recordChange(Change{Entity: domain.EntityPatient, Action: domain.ActionCreate, After: clonePatient(p)})
	return clonePatient(p), nil
}

// UpdatePatient mutates a patient using the provided mutator function.
func (tx *transaction) UpdatePatient(id string, mutator func(*Patient) error) (Patient, error) {
	current, ok := tx.state.patients[id]
	if !ok {
		return Patient{}, domain.NotFoundError{Entity: domain.EntityPatient, ID: id}
	}
	before := clonePatient(current)
	if err := mutator(&current); err != nil {
		return Patient{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	if err := current.Validate(); err != nil {
		return Patient{}, err
	}
	current.UpdatedAt = tx.now
	tx.state.patients[id] = clonePatient(current)
	tx.recordChange(Change{Entity: domain.EntityPatient, Action: domain.ActionUpdate, Before: before, After: clonePatient(current)})
	return clonePatient(current), nil
}

// CreateDonation appends a donation. DonatedAt defaults to the transaction time.
func (tx *transaction) CreateDonation(d Donation) (Donation, error) {
	if d.Units <= 0 {
		return Donation{}, fmt.Errorf("%w: donation units must be positive, got %d", domain.ErrInvalidRequest, d.Units)
	}
	if !d.BloodType.Valid() {
		return Donation{}, fmt.Errorf("%w: %q", domain.ErrUnknownBloodType, d.BloodType)
	}
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.donations[d.ID]; exists {
		return Donation{}, fmt.Errorf("%w: donation %q already exists", domain.ErrInvalidRequest, d.ID)
	}
	if d.DonatedAt.IsZero() {
		d.DonatedAt = tx.now
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.donations[d.ID] = d
	tx.recordChange(Change{Entity: domain.EntityDonation, Action: domain.ActionCreate, After: d})
	return d, nil
}

// CreateDistribution stores a validated distribution.
func (tx *transaction) CreateDistribution(d Distribution) (Distribution, error) {
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if err := d.Validate(); err != nil {
		return Distribution{}, err
	}
	if _, exists := tx.state.distributions[d.ID]; exists {
		return Distribution{}, fmt.Errorf("%w: distribution %q already exists", domain.ErrInvalidRequest, d.ID)
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.distributions[d.ID] = cloneDistribution(d)
	tx.recordChange(Change{Entity: domain.EntityDistribution, Action: domain.ActionCreate, After: cloneDistribution(d)})
	return cloneDistribution(d), nil
}

// CreateRequest stores a new request. Callers may reserve the id up front.
func (tx *transaction) CreateRequest(r Request) (Request, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.requests[r.ID]; exists {
		return Request{}, fmt.Errorf("%w: request %q already exists", domain.ErrInvalidRequest, r.ID)
	}
	if r.Status == "" {
		r.Status = domain.RequestStatusCreated
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.requests[r.ID] = r
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateRequest mutates a request using the provided mutator function.
func (tx *transaction) UpdateRequest(id string, mutator func(*Request) error) (Request, error) {
	current, ok := tx.state.requests[id]
	if !ok {
		return Request{}, domain.NotFoundError{Entity: domain.EntityRequest, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Request{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.requests[id] = current
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateIssuance draws units from a donation for a request.
func (tx *transaction) CreateIssuance(i Issuance) (Issuance, error) {
	if i.Units <= 0 {
		return Issuance{}, fmt.Errorf("%w: issuance units must be positive, got %d", domain.ErrInvalidRequest, i.Units)
	}
	donation, ok := tx.state.donations[i.DonationID]
	if !ok {
		return Issuance{}, domain.NotFoundError{Entity: domain.EntityDonation, ID: i.DonationID}
	}
	if _, ok := tx.state.requests[i.RequestID]; !ok {
		return Issuance{}, domain.NotFoundError{Entity: domain.EntityRequest, ID: i.RequestID}
	}
	remaining := donation.Units - tx.state.issued[donation.ID]
	if i.Units > remaining {
		return Issuance{}, fmt.Errorf("%w: donation %s has %d, requested %d", domain.ErrOverIssue, donation.ID, remaining, i.Units)
	}
	if i.ID == "" {
		i.ID = tx.store.newID()
	}
	if _, exists := tx.state.issuances[i.ID]; exists {
		return Issuance{}, fmt.Errorf("%w: issuance %q already exists", domain.ErrInvalidRequest, i.ID)
	}
	i.DonationBloodType = donation.BloodType
	i.CreatedAt = tx.now
	i.UpdatedAt = tx.now
	tx.state.issuances[i.ID] = i
	tx.state.issued[donation.ID] += i.Units
	tx.recordChange(Change{Entity: domain.EntityIssuance, Action: domain.ActionCreate, After: i})
	return i, nil
}

// CreateRejection stores an immutable rejection summary.
func (tx *transaction) CreateRejection(r RejectionSummary) (RejectionSummary, error) {
	if r.RequestID == "" {
		return RejectionSummary{}, fmt.Errorf("%w: rejection requires a request id", domain.ErrInvalidRequest)
	}
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.rejections[r.ID]; exists {
		return RejectionSummary{}, fmt.Errorf("%w: rejection %q already exists", domain.ErrInvalidRequest, r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.rejections[r.ID] = cloneRejection(r)
	tx.recordChange(Change{Entity: domain.EntityRejection, Action: domain.ActionCreate, After: cloneRejection(r)})
	return cloneRejection(r), nil
}

func fetchOldestCompatible(state *memoryState, recipient domain.BloodType, limit int, now time.Time) ([]domain.OutstandingUnit, error) {
	if !recipient.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBloodType, recipient)
	}
	return domain.FilterCompatible(outstanding(state, now), recipient, limit), nil
}

func outstanding(state *memoryState, now time.Time) []domain.OutstandingUnit {
	donations := make([]Donation, 0, len(state.donations))
	for _, d := range state.donations {
		donations = append(donations, d)
	}
	return domain.ProjectOutstanding(donations, state.issued, now)
}

// ErrSnapshotCorrupt reports a snapshot whose issuances overdraw a donation.
var ErrSnapshotCorrupt = errors.New("memory: snapshot violates issuance conservation")

// Verify checks that the snapshot's issuances never exceed their donations.
func (s Snapshot) Verify() error {
	issued := make(map[string]int, len(s.Donations))
	for _, i := range s.Issuances {
		issued[i.DonationID] += i.Units
	}
	ids := make([]string, 0, len(issued))
	for id := range issued {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d, ok := s.Donations[id]
		if !ok {
			return fmt.Errorf("%w: issuance references unknown donation %s", ErrSnapshotCorrupt, id)
		}
		if issued[id] > d.Units {
			return fmt.Errorf("%w: donation %s issued %d of %d", ErrSnapshotCorrupt, id, issued[id], d.Units)
		}
	}
	return nil
}
