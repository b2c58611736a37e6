// Package metrics exposes a private-registry Prometheus metrics surface
// for router selections, probe latencies, verification outcomes, manifest
// fan-out counts, and circuit breaker state; none of which touch the
// global default registry, so embedding this package never collides with a
// host process's own metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this package exports.
type Registry struct {
	reg *prometheus.Registry

	// arverify_gateway_selections_total{strategy,outcome}
	selections *prometheus.CounterVec

	// arverify_probe_duration_seconds{fqdn}
	probeDuration *prometheus.HistogramVec

	// arverify_verification_total{kind,outcome}
	verifications *prometheus.CounterVec

	// arverify_manifest_leaves_total{status}
	manifestLeaves *prometheus.CounterVec

	// arverify_circuit_breaker_state{gateway}; 0=closed,1=half-open,2=open
	// (matches gobreaker.State's own ordering)
	circuitBreakerState *prometheus.GaugeVec

	// arverify_circuit_breaker_transitions_total{gateway,to_state}
	cbTransitions *prometheus.CounterVec

	// arverify_eligible_gateways
	eligibleGateways prometheus.Gauge

	cbMu        sync.Mutex
	lastCBState map[string]float64

	handler http.Handler
}

// New builds a Registry backed by its own private prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arverify_gateway_selections_total",
				Help: "Gateway selections made by the router, by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),

		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arverify_probe_duration_seconds",
				Help:    "Benchmark probe round-trip time per gateway",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"fqdn"},
		),

		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arverify_verification_total",
				Help: "Content verification outcomes, by retrieval kind and result",
			},
			[]string{"kind", "outcome"},
		),

		manifestLeaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arverify_manifest_leaves_total",
				Help: "Manifest leaf verification outcomes during fan-out",
			},
			[]string{"status"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "arverify_circuit_breaker_state",
				Help: "Circuit breaker state per gateway (0=closed,1=half-open,2=open)",
			},
			[]string{"gateway"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arverify_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state, per gateway",
			},
			[]string{"gateway", "to_state"},
		),

		eligibleGateways: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arverify_eligible_gateways",
			Help: "Count of gateways currently eligible for selection",
		}),
	}

	reg.MustRegister(
		r.selections,
		r.probeDuration,
		r.verifications,
		r.manifestLeaves,
		r.circuitBreakerState,
		r.cbTransitions,
		r.eligibleGateways,
	)

	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// RecordSelection records one router selection outcome.
func (r *Registry) RecordSelection(strategy, outcome string) {
	r.selections.WithLabelValues(strategy, outcome).Inc()
}

// ObserveProbe records a benchmark probe's round-trip time.
func (r *Registry) ObserveProbe(fqdn string, seconds float64) {
	r.probeDuration.WithLabelValues(fqdn).Observe(seconds)
}

// RecordVerification records one leaf's verification outcome.
func (r *Registry) RecordVerification(kind, outcome string) {
	r.verifications.WithLabelValues(kind, outcome).Inc()
}

// RecordManifestLeaf records one manifest fan-out leaf's terminal status.
func (r *Registry) RecordManifestLeaf(status string) {
	r.manifestLeaves.WithLabelValues(status).Inc()
}

// SetEligibleGateways sets the current eligible-gateway gauge.
func (r *Registry) SetEligibleGateways(n int) {
	r.eligibleGateways.Set(float64(n))
}

// SetCircuitBreaker sets a gateway's breaker-state gauge and increments a
// transition counter whenever the state actually changes.
func (r *Registry) SetCircuitBreaker(gateway string, state int64) {
	r.circuitBreakerState.WithLabelValues(gateway).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[gateway]
	if !ok || prev != float64(state) {
		r.lastCBState[gateway] = float64(state)
		r.cbTransitions.WithLabelValues(gateway, strconv.FormatInt(state, 10)).Inc()
	}
	r.cbMu.Unlock()
}

// Handler returns the net/http handler serving this registry's /metrics.
func (r *Registry) Handler() http.Handler { return r.handler }

// PromRegistry exposes the underlying private registry for tests.
func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
