// Package observability exposes Prometheus instrumentation for the audio
// generation pipeline and the control channel.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors. Each instance carries its own registry so
// multiple instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	ActiveJobs            prometheus.Gauge
	JobEvents             *prometheus.CounterVec
	ChunkSynthesisSeconds prometheus.Histogram
	ProviderErrors        *prometheus.CounterVec
	WSMessages            *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of audio generation jobs currently in flight.",
		}),
		JobEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Job lifecycle events by outcome.",
		}, []string{"event"}),
		ChunkSynthesisSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_synthesis_seconds",
			Help:      "Wall time per chunk synthesis call, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Terminal speech provider errors by code.",
		}, []string{"code"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Control channel messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
