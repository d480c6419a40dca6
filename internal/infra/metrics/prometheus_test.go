package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bloodbank/internal/core"
	"bloodbank/pkg/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ core.MetricsRecorder   = (*Recorder)(nil)
	_ core.AllocationMetrics = (*Recorder)(nil)
)

func TestRecorderObserve(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	r.Observe(ctx, "record_donation", true, 2*time.Millisecond)
	r.Observe(ctx, "record_donation", true, 3*time.Millisecond)
	r.Observe(ctx, "record_donation", false, time.Millisecond)

	if got := testutil.ToFloat64(r.operations.WithLabelValues("record_donation", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(r.operations.WithLabelValues("record_donation", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(r.latency); n != 1 {
		t.Fatalf("expected one latency series, got %d", n)
	}
}

func TestRecorderObserveAllocation(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	r.ObserveAllocation(ctx, domain.RequestKindSingle, []domain.Issuance{
		{DonationBloodType: domain.ONeg, Units: 2},
		{DonationBloodType: domain.ONeg, Units: 1},
		{DonationBloodType: domain.APos, Units: 4},
	}, nil)
	r.ObserveAllocation(ctx, domain.RequestKindMCI, nil, []domain.Shortfall{{BloodType: domain.ABPos, Units: 3}})

	if got := testutil.ToFloat64(r.issued.WithLabelValues("O-")); got != 3 {
		t.Fatalf("expected 3 O- units issued, got %v", got)
	}
	if got := testutil.ToFloat64(r.missing.WithLabelValues("AB+")); got != 3 {
		t.Fatalf("expected 3 AB+ units missing, got %v", got)
	}
	expected := `
# HELP bloodbank_requests_total Allocated requests by kind and outcome.
# TYPE bloodbank_requests_total counter
bloodbank_requests_total{kind="mci",outcome="rejected"} 1
bloodbank_requests_total{kind="single",outcome="fulfilled"} 1
`
	if err := testutil.CollectAndCompare(r.outcomes, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected request outcomes: %v", err)
	}
}

func TestRecorderHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	svc := core.NewInMemoryService(nil, core.WithMetricsRecorder(r))
	if _, err := svc.ListRejections(context.Background()); err != nil {
		t.Fatalf("list rejections: %v", err)
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	text := string(body)
	if !strings.Contains(text, `bloodbank_operations_total{operation="list_rejections",result="success"} 1`) {
		t.Fatalf("expected operation counter in exposition, got:\n%s", text)
	}
	if !strings.Contains(text, "go_goroutines") {
		t.Fatalf("expected runtime collector output")
	}
}
