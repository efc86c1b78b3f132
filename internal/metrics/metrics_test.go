package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIdempotency(OutcomeReplayed)
	m.ObserveIdempotency(OutcomeReplayed)
	m.ObserveCache("balances", "hit")
	m.ObservePurge(3)
	m.ObserveMutation("expense", "ok", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Idempotency.WithLabelValues(OutcomeReplayed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("balances", "hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IdempotencyPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("expense", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIdempotency(OutcomeExecuted)
		m.ObserveCache("balances", "miss")
		m.ObserveRefresh("ok")
		m.ObserveInvalidation()
		m.ObservePurge(1)
		m.ObserveMutation("settlement", "ok", time.Second)
	})
}
