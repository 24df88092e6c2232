// Package metrics exposes Prometheus instrumentation for corpusd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "corpusd"

var (
	// EmbeddingRequests counts embedding API calls by status (ok, error).
	EmbeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests by status.",
		},
		[]string{"status"},
	)

	// EmbeddingDuration tracks embedding request latency.
	EmbeddingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// GenerationRequests counts generation requests by mode and outcome
	// (done, aborted, error).
	GenerationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of answer generation requests by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	// GenerationTokens counts streamed tokens by mode.
	GenerationTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Total number of tokens streamed by mode.",
		},
		[]string{"mode"},
	)

	// GenerationDuration tracks full answer generation latency by mode.
	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Answer generation latency in seconds by mode.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	// DocumentsIngested counts ingested documents by type (pdf, markdown).
	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Total number of documents ingested by document type.",
		},
		[]string{"doc_type"},
	)

	// ChunksIndexed counts chunks written to the vector index.
	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunks written to the vector index.",
		},
	)
)

// Register registers all corpusd metrics with the default registry.
// Call once at startup; HTTP middleware metrics register themselves.
func Register() {
	prometheus.MustRegister(
		EmbeddingRequests,
		EmbeddingDuration,
		GenerationRequests,
		GenerationTokens,
		GenerationDuration,
		DocumentsIngested,
		ChunksIndexed,
	)
}
