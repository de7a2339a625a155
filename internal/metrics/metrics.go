// Package metrics exposes Prometheus metrics for the payment protocol.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// ChallengesIssued counts payment challenges emitted to clients.
	ChallengesIssued prometheus.Counter
	// Verifications counts verify calls by outcome (success, replay, or a
	// failure code).
	Verifications *prometheus.CounterVec
	// PaymentAmount accumulates verified payment value in token minor units.
	PaymentAmount prometheus.Counter
	// VerifyDuration observes end-to-end verify latency including chain polling.
	VerifyDuration prometheus.Histogram
	// SideEffectFailures counts recovered side-effect errors (license mints
	// and fee-transfer checks that failed without blocking the payment).
	SideEffectFailures *prometheus.CounterVec
}

// New creates and registers all service metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		ChallengesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unlockd_challenges_issued_total",
			Help: "Payment challenges issued to clients.",
		}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unlockd_verifications_total",
			Help: "Payment verification calls by outcome.",
		}, []string{"outcome"}),
		PaymentAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unlockd_payment_amount_minor_units_total",
			Help: "Total verified payment value in token minor units.",
		}),
		VerifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "unlockd_verify_duration_seconds",
			Help:    "End-to-end verify latency including chain confirmation polling.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		SideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unlockd_side_effect_failures_total",
			Help: "Recovered side-effect failures during payment commits.",
		}, []string{"op"}),
	}

	registry.MustRegister(
		m.ChallengesIssued,
		m.Verifications,
		m.PaymentAmount,
		m.VerifyDuration,
		m.SideEffectFailures,
	)

	return m
}

// Handler returns an HTTP handler serving the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
