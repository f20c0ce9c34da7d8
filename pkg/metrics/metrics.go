package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors registered through promauto on the default
// registry. The engine and the HTTP server record into these directly;
// the /metrics endpoint exposes them.

var (
	// HTTP traffic, labeled by method, path, and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "varanus_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// Server response time. Buckets span cache-fast lexical answers up to
	// LLM-backed synthesis, which can take tens of seconds.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "varanus_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Questions answered, labeled by the pipeline stage that produced the
	// reply (exact, lexical, semantic, hybrid, generated, none).
	QuestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "varanus_questions_total",
			Help: "Total number of questions answered, by match source",
		},
		[]string{"collection", "source"},
	)

	// Best fused similarity per question, observed whether or not it
	// cleared the answer threshold. The distribution shows how well the
	// configured threshold fits the dataset.
	MatchScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "varanus_match_score",
			Help:    "Best similarity score per question, matched or not",
			Buckets: prometheus.LinearBuckets(0.0, 0.05, 21),
		},
		[]string{"collection"},
	)

	// Current number of QA entries per collection.
	KBEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "varanus_kb_entries",
			Help: "Number of question/answer entries per collection",
		},
		[]string{"collection"},
	)

	// Time spent producing one embedding, labeled by provider name.
	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "varanus_embedding_duration_seconds",
			Help:    "Duration of embedding calls in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// Embedding calls that failed after all retries.
	EmbeddingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "varanus_embedding_failures_total",
			Help: "Total number of failed embedding calls",
		},
		[]string{"provider"},
	)

	// Entries waiting for background vectorization.
	EmbeddingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "varanus_embedding_queue_depth",
			Help: "Number of entries queued for embedding",
		},
	)

	// Chunks stored by the document ingestion pipeline.
	IngestChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "varanus_ingest_chunks_total",
			Help: "Total number of document chunks ingested as entries",
		},
		[]string{"collection"},
	)
)
