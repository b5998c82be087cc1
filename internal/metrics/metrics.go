// Package metrics holds the pipeline's Prometheus instruments. A nil
// *Metrics is valid and records nothing, so batch jobs can run without a
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threaddemand"

type Metrics struct {
	ingestRows        *prometheus.CounterVec
	ingestRuns        *prometheus.CounterVec
	embeddedRows      *prometheus.CounterVec
	embedFailures     *prometheus.CounterVec
	embedBatchSeconds *prometheus.HistogramVec
	retrievalRequests *prometheus.CounterVec
	retrievalSeconds  *prometheus.HistogramVec
	queryCache        *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_rows_total",
			Help: "Dump records processed, by file kind and outcome (inserted or skipped).",
		}, []string{"kind", "outcome"}),
		ingestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_runs_total",
			Help: "Ingest attempts by final status.",
		}, []string{"kind", "status"}),
		embeddedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "embedded_rows_total",
			Help: "Rows whose vector was written.",
		}, []string{"kind"}),
		embedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "embed_batch_failures_total",
			Help: "Backfill batches skipped after an error.",
		}, []string{"kind"}),
		embedBatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "embed_batch_seconds",
			Help:    "Time to embed and write one backfill batch.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"kind"}),
		retrievalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retrieval_requests_total",
			Help: "Retrieval operations by outcome.",
		}, []string{"op", "outcome"}),
		retrievalSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "retrieval_seconds",
			Help:    "Retrieval operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		queryCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "query_embedding_cache_total",
			Help: "Query embedding cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.ingestRows, m.ingestRuns, m.embeddedRows, m.embedFailures,
		m.embedBatchSeconds, m.retrievalRequests, m.retrievalSeconds, m.queryCache)
	return m
}

// NewRegistry returns a registry with the Go runtime and process
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) IngestRun(kind, status string, inserted, skipped int64) {
	if m == nil {
		return
	}
	m.ingestRuns.WithLabelValues(kind, status).Inc()
	m.ingestRows.WithLabelValues(kind, "inserted").Add(float64(inserted))
	m.ingestRows.WithLabelValues(kind, "skipped").Add(float64(skipped))
}

func (m *Metrics) EmbedBatch(kind string, rows int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.embedBatchSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		m.embedFailures.WithLabelValues(kind).Inc()
		return
	}
	m.embeddedRows.WithLabelValues(kind).Add(float64(rows))
}

// Retrieval records one engine call. outcome is "ok" or an error class.
func (m *Metrics) Retrieval(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.retrievalRequests.WithLabelValues(op, outcome).Inc()
	m.retrievalSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.queryCache.WithLabelValues(result).Inc()
}
