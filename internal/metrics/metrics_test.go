package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.CacheLookup("hit")
	m.CacheLookup("hit")
	m.CacheLookup("miss")
	m.CacheWrite("ok")
	m.ObserveUpstream("rest", 500, 2*time.Second)
	m.ObserveUpstream("legacy", 200, time.Second)
	m.ObserveUpstream("coordinates", 0, time.Millisecond)
	m.Acquisition("ok", "api")
	m.Enrichment("failed")
	m.SetBackendUp(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheWrites.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("rest", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("legacy", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("coordinates", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acquisitions.WithLabelValues("ok", "api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Enrichments.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendUp))

	m.SetBackendUp(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackendUp))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup("hit")
		m.CacheWrite("error")
		m.ObserveUpstream("rest", 200, time.Second)
		m.Acquisition("no_data", "")
		m.Enrichment("ok")
		m.SetBackendUp(true)
	})
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}
