// Package metrics exposes Prometheus counters and histograms for the
// poll/match/dispatch pipeline, served over the worker's /metrics
// endpoint. Grounded on the instrumentation style of
// tbourn-chatbot/internal/http/middleware/metrics.go and
// amirphl-Yamata-no-Orochi/app/middleware/metrics.go, adapted from
// per-HTTP-request labels to per-pipeline-stage labels and built on a
// private registry (via promauto.With) rather than the global default
// so a worker process and its tests can each construct one safely.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector registered for the pipeline. Only the
// dispatcher updates any of them (DispatchAttempts, DispatchDuration);
// the poll, match and retention collectors are registered and served
// but no stage increments them.
type Metrics struct {
	registry *prometheus.Registry

	PollCycles       prometheus.Counter
	PollErrors       *prometheus.CounterVec
	ContentPersisted *prometheus.CounterVec
	MatchesCreated   *prometheus.CounterVec
	DispatchAttempts *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	RetentionDeleted *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PollCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "reddalert_poll_cycles_total",
			Help: "Total number of scheduler poll ticks executed.",
		}),
		PollErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reddalert_poll_errors_total",
			Help: "Total number of poll fetch errors by kind (transient/permanent).",
		}, []string{"kind"}),
		ContentPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reddalert_content_persisted_total",
			Help: "Total number of content rows persisted by content type.",
		}, []string{"content_type"}),
		MatchesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reddalert_matches_created_total",
			Help: "Total number of Match rows inserted by subreddit.",
		}, []string{"subreddit"}),
		DispatchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reddalert_dispatch_attempts_total",
			Help: "Total number of webhook dispatch attempts by outcome (sent/failed).",
		}, []string{"outcome"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reddalert_dispatch_duration_seconds",
			Help:    "Duration of a webhook dispatch call, including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		RetentionDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reddalert_retention_deleted_total",
			Help: "Total number of rows deleted by the retention sweep by table.",
		}, []string{"table"}),
	}
}

// Handler serves this Metrics instance's registry in the Prometheus
// text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
