// Package metrics registers the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the pipeline records into.
type Metrics struct {
	ChecksTotal       *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	CheckDuration     prometheus.Histogram
	ProviderFailovers prometheus.Counter
	ProviderExhausted prometheus.Counter
	ClaimsPerCheck    prometheus.Histogram
	DegradedClaims    prometheus.Counter
	ActiveChecks      prometheus.Gauge
}

// New registers the instruments on the given registerer. Pass a fresh
// prometheus.NewRegistry in tests to avoid global collisions.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veridex_checks_total",
			Help: "Finished checks by terminal status and failure reason.",
		}, []string{"status", "reason"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veridex_stage_duration_seconds",
			Help:    "Wall time spent per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		CheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "veridex_check_duration_seconds",
			Help:    "End-to-end check duration.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 11),
		}),
		ProviderFailovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "veridex_provider_failovers_total",
			Help: "Search calls served by a fallback provider.",
		}),
		ProviderExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "veridex_provider_exhausted_total",
			Help: "Search calls that exhausted every provider.",
		}),
		ClaimsPerCheck: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "veridex_claims_per_check",
			Help:    "Extracted claims per check, after the cap.",
			Buckets: prometheus.LinearBuckets(0, 2, 8),
		}),
		DegradedClaims: factory.NewCounter(prometheus.CounterOpts{
			Name: "veridex_degraded_claims_total",
			Help: "Claims whose verdict came from a degradation path.",
		}),
		ActiveChecks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "veridex_active_checks",
			Help: "Checks currently executing in this process.",
		}),
	}
}
