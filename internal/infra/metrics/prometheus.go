// Package metrics records service operations and allocation outcomes in
// Prometheus collectors.
package metrics

import (
	"bloodbank/pkg/domain"
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bloodbank"

// Recorder implements core.MetricsRecorder and core.AllocationMetrics.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	issued     *prometheus.CounterVec
	missing    *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
}

// NewRecorder registers the collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by name and result.",
		}, []string{"operation", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of service operations.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}, []string{"operation"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_issued_total",
			Help:      "Units issued by donation blood type.",
		}, []string{"blood_type"}),
		missing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_missing_total",
			Help:      "Units requests could not be served, by requested blood type.",
		}, []string{"blood_type"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Allocated requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	r.registry.MustRegister(
		r.operations, r.latency, r.issued, r.missing, r.outcomes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry the collectors live in.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Observe implements core.MetricsRecorder.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	r.operations.WithLabelValues(operation, result).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveAllocation implements core.AllocationMetrics.
func (r *Recorder) ObserveAllocation(_ context.Context, kind domain.RequestKind, issued []domain.Issuance, missing []domain.Shortfall) {
	outcome := "fulfilled"
	if len(missing) > 0 {
		outcome = "rejected"
	}
	r.outcomes.WithLabelValues(string(kind), outcome).Inc()
	for _, i := range issued {
		r.issued.WithLabelValues(string(i.DonationBloodType)).Add(float64(i.Units))
	}
	for _, m := range missing {
		r.missing.WithLabelValues(string(m.BloodType)).Add(float64(m.Units))
	}
}
