// Package metrics defines the Prometheus collectors exported by the ledger.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "splitledger"

// Metrics holds every collector.
type Metrics struct {
	Mutations         *prometheus.CounterVec
	MutationDuration  *prometheus.HistogramVec
	Idempotency       *prometheus.CounterVec
	IdempotencyPurged prometheus.Counter
	CacheRequests     *prometheus.CounterVec
	CacheRefreshes    *prometheus.CounterVec
	CacheInvalidation prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Ledger mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		MutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Time spent in the mutation pipeline.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Idempotency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_requests_total",
			Help:      "Idempotency guard decisions.",
		}, []string{"outcome"}),
		IdempotencyPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_purged_total",
			Help:      "Expired idempotency records deleted.",
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Read cache lookups by kind and result (hit, stale, miss).",
		}, []string{"kind", "result"}),
		CacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refreshes_total",
			Help:      "Background cache refreshes by result.",
		}, []string{"result"}),
		CacheInvalidation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Group cache invalidations.",
		}),
	}
	reg.MustRegister(
		m.Mutations, m.MutationDuration,
		m.Idempotency, m.IdempotencyPurged,
		m.CacheRequests, m.CacheRefreshes, m.CacheInvalidation,
	)
	return m
}

// Idempotency outcomes.
const (
	OutcomeExecuted   = "executed"
	OutcomeReplayed   = "replayed"
	OutcomeConflict   = "conflict"
	OutcomeProcessing = "processing"
	OutcomeReclaimed  = "reclaimed"
	OutcomeUnkeyed    = "unkeyed"
)

func (m *Metrics) ObserveMutation(kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(kind, outcome).Inc()
	m.MutationDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) ObserveIdempotency(outcome string) {
	if m == nil {
		return
	}
	m.Idempotency.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePurge(n int64) {
	if m == nil {
		return
	}
	m.IdempotencyPurged.Add(float64(n))
}

func (m *Metrics) ObserveCache(kind, result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.CacheRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveInvalidation() {
	if m == nil {
		return
	}
	m.CacheInvalidation.Inc()
}
