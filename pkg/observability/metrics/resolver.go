package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "configdata"

// ResolverMetrics records fetch and resolution outcomes. It satisfies
// configdata.Observer.
type ResolverMetrics struct {
	fetchDuration *prometheus.HistogramVec
	fetchTotal    *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	properties    prometheus.Gauge
	lastSuccess   *prometheus.GaugeVec
}

// NewResolverMetrics registers the resolver collectors on registry.
func NewResolverMetrics(registry *Registry) *ResolverMetrics {
	factory := promauto.With(registry.registry)
	return &ResolverMetrics{
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of backend fetches by scheme and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scheme", "outcome"}),
		fetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Backend fetches by scheme and outcome.",
		}, []string{"scheme", "outcome"}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolution and refresh passes by kind and outcome.",
		}, []string{"kind", "outcome"}),
		properties: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "properties",
			Help:      "Distinct property keys in the active environment.",
		}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful pass by kind.",
		}, []string{"kind"}),
	}
}

// FetchCompleted records one backend fetch.
func (m *ResolverMetrics) FetchCompleted(scheme, outcome string, duration time.Duration) {
	m.fetchTotal.WithLabelValues(scheme, outcome).Inc()
	if duration > 0 {
		m.fetchDuration.WithLabelValues(scheme, outcome).Observe(duration.Seconds())
	}
}

// ResolutionCompleted records one resolution or refresh pass. The property
// gauge only moves on success since a failed pass leaves the environment as is.
func (m *ResolverMetrics) ResolutionCompleted(kind, outcome string, properties int, _ time.Duration) {
	m.resolutions.WithLabelValues(kind, outcome).Inc()
	if outcome == "success" {
		m.properties.Set(float64(properties))
		m.lastSuccess.WithLabelValues(kind).SetToCurrentTime()
	}
}
