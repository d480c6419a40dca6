package core

import (
	"bloodbank/pkg/domain"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var patientSeq atomic.Int64

// registerDonor creates a patient with a unique national id.
func registerDonor(t *testing.T, svc *Service, bt BloodType) Patient {
	t.Helper()
	id := fmt.Sprintf("%010d", patientSeq.Add(1))
	p, err := svc.RegisterPatient(context.Background(), Patient{
		Base:      Base{ID: id},
		FirstName: "Donor",
		LastName:  id,
		Birthday:  time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		BloodType: bt,
	})
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}
	return p
}

// seedDonation records a donation of the given type donated age ago.
func seedDonation(t *testing.T, svc *Service, bt BloodType, units int, age time.Duration) Donation {
	t.Helper()
	donor := registerDonor(t, svc, bt)
	d, err := svc.RecordDonation(context.Background(), Donation{
		DonorID:   donor.ID,
		Units:     units,
		DonatedAt: time.Now().UTC().Add(-age),
	})
	if err != nil {
		t.Fatalf("record donation: %v", err)
	}
	return d
}

func mustDistribution(t *testing.T, svc *Service, name string, entries ...domain.TypePercentage) Distribution {
	t.Helper()
	d, err := svc.CreateDistribution(context.Background(), Distribution{
		Name:        name,
		Strategy:    domain.StrategyPopulation,
		Percentages: entries,
	})
	if err != nil {
		t.Fatalf("create distribution: %v", err)
	}
	return d
}

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) add(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, entry)
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d:" + msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i:" + msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w:" + msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e:" + msg) }

func (c *captureLogger) has(entry string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call == entry {
			return true
		}
	}
	return false
}

type captureArchive struct {
	mu       sync.Mutex
	archived []RejectionSummary
	err      error
}

func (c *captureArchive) Archive(_ context.Context, r RejectionSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.archived = append(c.archived, r)
	return nil
}

// conflictingStore fails the first n transactions with a concurrency conflict.
type conflictingStore struct {
	PersistentStore
	mu        sync.Mutex
	failures  int
	calls     int
	permanent bool
}

func (c *conflictingStore) RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error) {
	c.mu.Lock()
	c.calls++
	fail := c.permanent || c.failures > 0
	if c.failures > 0 {
		c.failures--
	}
	c.mu.Unlock()
	if fail {
		return Result{}, fmt.Errorf("store: %w", domain.ErrConcurrencyConflict)
	}
	return c.PersistentStore.RunInTransaction(ctx, fn)
}
