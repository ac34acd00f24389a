// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docdelta"

// Metrics lives on its own registry so several pipelines (and tests) never
// collide on the default one. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	runs        *prometheus.CounterVec
	chunks      *prometheus.CounterVec
	escalations prometheus.Counter
	retries     prometheus.Counter
	latency     prometheus.Histogram
	planTokens  prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		// Labels: strategy (selective, full, none), status (ok, error, dry_run)
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by strategy and outcome",
		}, []string{"strategy", "status"}),

		// Labels: outcome (ok, failed, oversize)
		chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "chunks_total",
			Help:      "Chunks dispatched to the generator by outcome",
		}, []string{"outcome"}),

		escalations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "escalations_total",
			Help:      "Chunks re-planned after a context limit error",
		}),

		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "retries_total",
			Help:      "Generator calls retried after a transient error",
		}),

		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "latency_seconds",
			Help:      "Generator call latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		planTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chunk",
			Name:      "tokens",
			Help:      "Estimated tokens per planned chunk",
			Buckets:   prometheus.ExponentialBuckets(1000, 2, 10),
		}),
	}
}

func (m *Metrics) Run(strategy, status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(strategy, status).Inc()
}

func (m *Metrics) Chunk(outcome string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Escalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) Latency(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
}

func (m *Metrics) PlannedChunk(tokens int) {
	if m == nil {
		return
	}
	m.planTokens.Observe(float64(tokens))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
