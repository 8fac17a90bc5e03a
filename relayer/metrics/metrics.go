// Package metrics exposes the relayer's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "snzup_relayer"

// Metrics groups every collector the relayer updates
type Metrics struct {
	rpcRequests       *prometheus.CounterVec
	rpcDuration       *prometheus.HistogramVec
	gateInFlight      *prometheus.GaugeVec
	gateWaiting       *prometheus.GaugeVec
	gateRejected      *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	submissions       *prometheus.CounterVec
	submitAttempts    *prometheus.HistogramVec
	idempotencyKeys   prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	rentFloorLamports prometheus.Gauge
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rpcRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Remote ledger calls by method and outcome.",
		}, []string{"method", "outcome"}),
		rpcDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Remote ledger call latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"method"}),
		gateInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "in_flight",
			Help:      "Operations currently holding a gate slot.",
		}, []string{"gate"}),
		gateWaiting: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "waiting",
			Help:      "Operations queued for a gate slot.",
		}, []string{"gate"}),
		gateRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "rejected_total",
			Help:      "Operations rejected because the gate queue was full.",
		}, []string{"gate"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "submissions_total",
			Help:      "Transaction pipeline outcomes by operation.",
		}, []string{"operation", "outcome"}),
		submitAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "attempts",
			Help:      "Submission attempts per confirmed transaction.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"operation"}),
		idempotencyKeys: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "entries",
			Help:      "Results currently held by the idempotency store.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		rentFloorLamports: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rent_floor_lamports",
			Help:      "Rent-exempt minimum currently used for balance checks.",
		}),
	}
}

// ObserveRPC records one remote call
func (m *Metrics) ObserveRPC(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetGate publishes a gate's occupancy
func (m *Metrics) SetGate(gate string, inFlight, waiting int64) {
	if m == nil {
		return
	}
	m.gateInFlight.WithLabelValues(gate).Set(float64(inFlight))
	m.gateWaiting.WithLabelValues(gate).Set(float64(waiting))
}

// GateRejected counts an overload rejection
func (m *Metrics) GateRejected(gate string) {
	if m == nil {
		return
	}
	m.gateRejected.WithLabelValues(gate).Inc()
}

// CacheLookup records a hit or a miss
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// Submission records a pipeline outcome
func (m *Metrics) Submission(operation, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(operation, outcome).Inc()
	if attempts > 0 {
		m.submitAttempts.WithLabelValues(operation).Observe(float64(attempts))
	}
}

// SetIdempotencyEntries publishes the idempotency store size
func (m *Metrics) SetIdempotencyEntries(n int) {
	if m == nil {
		return
	}
	m.idempotencyKeys.Set(float64(n))
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// SetRentFloor publishes the rent floor in use
func (m *Metrics) SetRentFloor(lamports uint64) {
	if m == nil {
		return
	}
	m.rentFloorLamports.Set(float64(lamports))
}
