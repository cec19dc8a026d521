// Package metrics exposes prometheus instrumentation for the lookup pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for cadastral lookups. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Cache lookups by result: "hit", "miss", "stale", "error"
	CacheLookups *prometheus.CounterVec

	// Cache writes by result: "ok", "error"
	CacheWrites *prometheus.CounterVec

	// Upstream calls by endpoint ("rest", "legacy", "coordinates") and status code
	UpstreamRequests *prometheus.CounterVec

	// Upstream call latency by endpoint, retries included
	UpstreamLatency *prometheus.HistogramVec

	// Acquisition outcomes by kind ("ok" or an error kind) and source
	Acquisitions *prometheus.CounterVec

	// Enrichment attempts by result: "ok", "failed", "skipped"
	Enrichments *prometheus.CounterVec

	// 1 when the cache backend answered its last health check
	BackendUp prometheus.Gauge
}

// New registers the metrics with the default prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catastro_cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),

		CacheWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catastro_cache_writes_total",
			Help: "Cache writes by result",
		}, []string{"result"}),

		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catastro_upstream_requests_total",
			Help: "Upstream Catastro calls by endpoint and final status code",
		}, []string{"endpoint", "status"}),

		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catastro_upstream_duration_seconds",
			Help:    "Duration of upstream Catastro calls including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),

		Acquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catastro_acquisitions_total",
			Help: "Property acquisitions by outcome and source",
		}, []string{"outcome", "source"}),

		Enrichments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catastro_enrichments_total",
			Help: "Coordinate enrichment attempts by result",
		}, []string{"result"}),

		BackendUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "catastro_cache_backend_up",
			Help: "Whether the cache backend answered its last health check",
		}),
	}
}

// CacheLookup records a cache lookup result.
func (m *Metrics) CacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

// CacheWrite records a cache write result.
func (m *Metrics) CacheWrite(result string) {
	if m != nil {
		m.CacheWrites.WithLabelValues(result).Inc()
	}
}

// ObserveUpstream records one upstream call and its duration.
func (m *Metrics) ObserveUpstream(endpoint string, status int, d time.Duration) {
	if m != nil {
		m.UpstreamRequests.WithLabelValues(endpoint, statusLabel(status)).Inc()
		m.UpstreamLatency.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// Acquisition records the outcome of one lookup.
func (m *Metrics) Acquisition(outcome, source string) {
	if m != nil {
		m.Acquisitions.WithLabelValues(outcome, source).Inc()
	}
}

// Enrichment records a coordinate enrichment result.
func (m *Metrics) Enrichment(result string) {
	if m != nil {
		m.Enrichments.WithLabelValues(result).Inc()
	}
}

// SetBackendUp records the cache backend health.
func (m *Metrics) SetBackendUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.BackendUp.Set(1)
	} else {
		m.BackendUp.Set(0)
	}
}

func statusLabel(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
