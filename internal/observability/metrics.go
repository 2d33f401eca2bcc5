// Package observability exposes Prometheus metrics for the chat service.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeFallback  = "fallback"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// Degradation stages.
const (
	StagePrime    = "prime"
	StageRetrieve = "retrieve"
	StageIndex    = "index"
	StageHistory  = "history"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	Turns           *prometheus.CounterVec
	Degradations    *prometheus.CounterVec
	TurnLatency     prometheus.Histogram
	RetrievedChunks prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics registers instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWith registers instruments on reg and serves them from g.
func NewMetricsWith(namespace string, reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active conversation sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		Degradations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradations_total",
			Help:      "Swallowed retrieval and persistence failures by stage.",
		}, []string{"stage"}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}),
		RetrievedChunks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_chunks",
			Help:      "Chunks placed into the prompt context per turn.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		gatherer: g,
	}
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
