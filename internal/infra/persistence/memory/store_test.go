package memory

import (
	"bloodbank/pkg/domain"
	"context"
	"errors"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil, WithClock(fixedClock(baseTime)))
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindPatient("missing"); ok {
			t.Fatalf("expected missing patient lookup")
		}
		p, err := tx.CreatePatient(domain.Patient{
			Base:      domain.Base{ID: "0123456789"},
			FirstName: "Dana", LastName: "Levi", BloodType: domain.OPos,
		})
		if err != nil {
			return err
		}
		created, err := tx.CreateDonation(domain.Donation{DonorID: p.ID, BloodType: p.BloodType, Units: 3})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if !created.DonatedAt.Equal(baseTime) {
			t.Fatalf("expected donated-at stamped with transaction time, got %v", created.DonatedAt)
		}
		view := tx.Snapshot()
		if len(view.ListDonations()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	snapshot := store.ExportState()
	if len(snapshot.Donations) != 1 || len(snapshot.Patients) != 1 {
		t.Fatalf("expected persisted records, got %+v", snapshot)
	}
	store.ImportState(Snapshot{})
	if len(store.ExportState().Donations) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ExportState().Donations) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
	if store.NowFunc() == nil {
		t.Fatalf("expected now func")
	}
}

func TestStoreRuleViolationDiscardsChanges(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateDonation(domain.Donation{BloodType: domain.ANeg, Units: 1})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ExportState().Donations) != 0 {
		t.Fatalf("expected blocked transaction to leave no donation")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestStoreFnErrorDiscardsChanges(t *testing.T) {
	store := NewStore(nil)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateDonation(domain.Donation{BloodType: domain.BPos, Units: 2}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if len(store.ExportState().Donations) != 0 {
		t.Fatalf("expected no donation after failed transaction")
	}
}

func TestCreateIssuanceEnforcesRemainingUnits(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		d, err := tx.CreateDonation(domain.Donation{BloodType: domain.ONeg, Units: 3})
		if err != nil {
			return err
		}
		r, err := tx.CreateRequest(domain.Request{Kind: domain.RequestKindSingle, BloodType: domain.APos, Units: 4})
		if err != nil {
			return err
		}
		if _, err := tx.CreateIssuance(domain.Issuance{RequestID: r.ID, DonationID: d.ID, Units: 2}); err != nil {
			return err
		}
		if _, err := tx.CreateIssuance(domain.Issuance{RequestID: r.ID, DonationID: d.ID, Units: 2}); !errors.Is(err, domain.ErrOverIssue) {
			t.Fatalf("expected over-issue error, got %v", err)
		}
		if _, err := tx.CreateIssuance(domain.Issuance{RequestID: r.ID, DonationID: "missing", Units: 1}); err == nil {
			t.Fatalf("expected unknown donation error")
		}
		if _, err := tx.CreateIssuance(domain.Issuance{RequestID: "missing", DonationID: d.ID, Units: 1}); err == nil {
			t.Fatalf("expected unknown request error")
		}
		if _, err := tx.CreateIssuance(domain.Issuance{RequestID: r.ID, DonationID: d.ID, Units: 0}); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("expected invalid units error, got %v", err)
		}
		units, err := tx.FetchOldestCompatible(domain.APos, 10)
		if err != nil {
			return err
		}
		if len(units) != 1 || units[0].Remaining != 1 {
			t.Fatalf("expected in-transaction issuance reflected in inventory, got %+v", units)
		}
		if got := tx.Snapshot().IssuedUnits(d.ID); got != 2 {
			t.Fatalf("expected 2 issued units, got %d", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestFetchOldestCompatibleOrdersAndFilters(t *testing.T) {
	now := baseTime
	store := NewStore(nil, WithClock(fixedClock(now)))
	ctx := context.Background()
	seed := []domain.Donation{
		{Base: domain.Base{ID: "expired"}, BloodType: domain.ONeg, Units: 5, DonatedAt: now.Add(-31 * 24 * time.Hour)},
		{Base: domain.Base{ID: "old"}, BloodType: domain.OPos, Units: 1, DonatedAt: now.Add(-21 * 24 * time.Hour)},
		{Base: domain.Base{ID: "fresh"}, BloodType: domain.ONeg, Units: 2, DonatedAt: now.Add(-time.Hour)},
		{Base: domain.Base{ID: "tie-b"}, BloodType: domain.APos, Units: 1, DonatedAt: now.Add(-2 * time.Hour)},
		{Base: domain.Base{ID: "tie-a"}, BloodType: domain.APos, Units: 1, DonatedAt: now.Add(-2 * time.Hour)},
		{Base: domain.Base{ID: "incompatible"}, BloodType: domain.BPos, Units: 4, DonatedAt: now.Add(-3 * time.Hour)},
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, d := range seed {
			if _, err := tx.CreateDonation(d); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.View(ctx, func(view domain.TransactionView) error {
		units, err := view.FetchOldestCompatible(domain.APos, 10)
		if err != nil {
			return err
		}
		want := []string{"old", "tie-a", "tie-b", "fresh"}
		if len(units) != len(want) {
			t.Fatalf("expected %d units, got %+v", len(want), units)
		}
		for i, id := range want {
			if units[i].DonationID != id {
				t.Fatalf("position %d: expected %s, got %s", i, id, units[i].DonationID)
			}
		}
		if !units[0].NearExpiry || units[3].NearExpiry {
			t.Fatalf("unexpected near-expiry flags: %+v", units)
		}
		limited, err := view.FetchOldestCompatible(domain.APos, 2)
		if err != nil {
			return err
		}
		if len(limited) != 2 {
			t.Fatalf("expected limit respected, got %d", len(limited))
		}
		if _, err := view.FetchOldestCompatible(domain.BloodType("C+"), 1); !errors.Is(err, domain.ErrUnknownBloodType) {
			t.Fatalf("expected unknown blood type error, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestCommitHookErrorAbortsCommit(t *testing.T) {
	hookErr := errors.New("disk full")
	var seen Snapshot
	store := NewStore(nil, WithCommitHook(func(_ context.Context, snapshot Snapshot) error {
		seen = snapshot
		return hookErr
	}))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateDonation(domain.Donation{BloodType: domain.ABNeg, Units: 1})
		return err
	})
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if len(seen.Donations) != 1 {
		t.Fatalf("expected hook to receive pending snapshot")
	}
	if len(store.ExportState().Donations) != 0 {
		t.Fatalf("expected commit aborted")
	}

	store.SetCommitHook(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateDonation(domain.Donation{BloodType: domain.ABNeg, Units: 1})
		return err
	}); err != nil {
		t.Fatalf("expected commit without hook: %v", err)
	}
}

func TestRefreshReplacesStateOnlyWhenAsked(t *testing.T) {
	store := NewStore(nil)
	replacement := Snapshot{Donations: map[string]Donation{"d1": {Base: domain.Base{ID: "d1"}, BloodType: domain.OPos, Units: 1}}}
	if err := store.Refresh(func() (Snapshot, bool, error) { return replacement, false, nil }); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(store.ExportState().Donations) != 0 {
		t.Fatalf("expected state untouched")
	}
	if err := store.Refresh(func() (Snapshot, bool, error) { return replacement, true, nil }); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(store.ExportState().Donations) != 1 {
		t.Fatalf("expected state replaced")
	}
	loadErr := errors.New("load")
	if err := store.Refresh(func() (Snapshot, bool, error) { return Snapshot{}, true, loadErr }); !errors.Is(err, loadErr) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestUpdateRequestAndPatient(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdateRequest("missing", func(*domain.Request) error { return nil }); err == nil {
			t.Fatalf("expected missing request error")
		}
		r, err := tx.CreateRequest(domain.Request{Kind: domain.RequestKindSingle, BloodType: domain.APos, Units: 1})
		if err != nil {
			return err
		}
		if r.Status != domain.RequestStatusCreated {
			t.Fatalf("expected default created status, got %s", r.Status)
		}
		updated, err := tx.UpdateRequest(r.ID, func(req *domain.Request) error {
			req.Status = domain.RequestStatusFulfilled
			return nil
		})
		if err != nil {
			return err
		}
		if updated.Status != domain.RequestStatusFulfilled {
			t.Fatalf("expected fulfilled status")
		}
		p, err := tx.CreatePatient(domain.Patient{Base: domain.Base{ID: "1234567890"}, FirstName: "A", LastName: "B", BloodType: domain.BNeg})
		if err != nil {
			return err
		}
		if _, err := tx.CreatePatient(p); err == nil {
			t.Fatalf("expected duplicate patient error")
		}
		bad := "555"
		if _, err := tx.UpdatePatient(p.ID, func(p *domain.Patient) error {
			p.PhoneNumber = &bad
			return nil
		}); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("expected phone validation error, got %v", err)
		}
		good := "03-1234567"
		got, err := tx.UpdatePatient(p.ID, func(p *domain.Patient) error {
			p.PhoneNumber = &good
			return nil
		})
		if err != nil {
			return err
		}
		good = "changed"
		if *got.PhoneNumber != "03-1234567" {
			t.Fatalf("expected cloned phone number")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestSnapshotBucketsRoundTrip(t *testing.T) {
	store := NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateDonation(domain.Donation{BloodType: domain.OPos, Units: 2})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	payloads, err := store.ExportState().EncodeBuckets()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(payloads) != len(Buckets) {
		t.Fatalf("expected %d buckets, got %d", len(Buckets), len(payloads))
	}
	var decoded Snapshot
	for bucket, payload := range payloads {
		if err := decoded.DecodeBucket(bucket, payload); err != nil {
			t.Fatalf("decode %s: %v", bucket, err)
		}
	}
	if err := decoded.DecodeBucket("legacy", []byte("{")); err != nil {
		t.Fatalf("expected unknown bucket ignored: %v", err)
	}
	if err := decoded.DecodeBucket("donations", []byte("{")); err == nil {
		t.Fatalf("expected decode error for corrupt payload")
	}
	if len(decoded.Donations) != 1 {
		t.Fatalf("expected donation decoded")
	}
}

func TestSnapshotVerify(t *testing.T) {
	s := Snapshot{
		Donations: map[string]Donation{"d": {Base: domain.Base{ID: "d"}, Units: 2}},
		Issuances: map[string]Issuance{
			"i1": {Base: domain.Base{ID: "i1"}, DonationID: "d", Units: 2},
		},
	}
	if err := s.Verify(); err != nil {
		t.Fatalf("expected valid snapshot: %v", err)
	}
	s.Issuances["i2"] = Issuance{Base: domain.Base{ID: "i2"}, DonationID: "d", Units: 1}
	if err := s.Verify(); !errors.Is(err, ErrSnapshotCorrupt) {
		t.Fatalf("expected corrupt snapshot, got %v", err)
	}
	s.Issuances = map[string]Issuance{"i3": {DonationID: "ghost", Units: 1}}
	if err := s.Verify(); !errors.Is(err, ErrSnapshotCorrupt) {
		t.Fatalf("expected corrupt snapshot for unknown donation, got %v", err)
	}
}
