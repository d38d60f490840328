package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters/histograms for CASS's own operational concerns:
// ingest throughput, query latency, and embedder cache hit rate.
// Grounded on internal/vectorstore/metrics.go's promauto registration
// idiom (gauge/counter/histogram vars registered at package init,
// updated by small Record* helpers called from the owning package),
// repointed at CASS's namespace and domain counters instead of
// vectorstore collection health.
var (
	ConversationsIndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cass",
			Subsystem: "index",
			Name:      "conversations_total",
			Help:      "Total number of conversations processed by an index run, by outcome",
		},
		[]string{"outcome"}, // written, skipped, parse_error
	)

	MessagesEmbeddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cass",
			Subsystem: "index",
			Name:      "messages_embedded_total",
			Help:      "Total number of messages embedded or failing to embed",
		},
		[]string{"outcome"}, // embedded, error
	)

	IndexDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cass",
			Subsystem: "index",
			Name:      "run_duration_seconds",
			Help:      "Duration of a full or incremental index run",
			Buckets:   prometheus.DefBuckets,
		},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cass",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of a search query, by retrieval mode",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"}, // hybrid, lexical, semantic
	)

	EmbedderCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cass",
			Subsystem: "embedder",
			Name:      "cache_results_total",
			Help:      "Embedder query-vector cache hits and misses",
		},
		[]string{"result"}, // hit, miss
	)
)

// RecordIndexOutcome increments the per-conversation outcome counter.
func RecordIndexOutcome(outcome string, n int) {
	if n <= 0 {
		return
	}
	ConversationsIndexedTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordEmbedOutcome increments the per-message embedding outcome counter.
func RecordEmbedOutcome(outcome string, n int) {
	if n <= 0 {
		return
	}
	MessagesEmbeddedTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordEmbedderCacheResult records a single query-embedding cache lookup.
func RecordEmbedderCacheResult(hit bool) {
	if hit {
		EmbedderCacheHits.WithLabelValues("hit").Inc()
		return
	}
	EmbedderCacheHits.WithLabelValues("miss").Inc()
}
