// Package server: metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/docsight/docsight-go/internal/embedder"
	"github.com/docsight/docsight-go/internal/index"
	"github.com/docsight/docsight-go/internal/llm"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// documentsProcessedTotal counts completed processing runs, partitioned
	// by outcome: "ready" or "failed".
	documentsProcessedTotal *prometheus.CounterVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default,
// which keeps unit tests hermetic.
//
// Alongside the request instruments it registers gauge funcs exposing the
// live state of the vector index, the embedding cache, and the LLM response
// cache, so operators can watch cache efficiency and the index structure
// migration without extra endpoints.
func newServerMetrics(reg prometheus.Registerer, ix *index.Index, emb *embedder.Cached, gw *llm.Gateway) *serverMetrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docsight",
		Subsystem: "index",
		Name:      "vectors",
		Help:      "Number of vectors currently in the index.",
	}, func() float64 { return float64(ix.Stats().TotalVectors) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docsight",
		Subsystem: "index",
		Name:      "migrations_total",
		Help:      "Number of completed flat-to-clustered index rebuilds.",
	}, func() float64 { return float64(ix.Stats().Migrations) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docsight",
		Subsystem: "embedding_cache",
		Name:      "hits_total",
		Help:      "Embedding cache hits since startup.",
	}, func() float64 { return float64(emb.CacheStats().Hits) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docsight",
		Subsystem: "embedding_cache",
		Name:      "misses_total",
		Help:      "Embedding cache misses since startup.",
	}, func() float64 { return float64(emb.CacheStats().Misses) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docsight",
		Subsystem: "llm_cache",
		Name:      "hits_total",
		Help:      "LLM response cache hits since startup.",
	}, func() float64 { return float64(gw.CacheStats().Hits) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docsight",
		Subsystem: "llm_cache",
		Name:      "misses_total",
		Help:      "LLM response cache misses since startup.",
	}, func() float64 { return float64(gw.CacheStats().Misses) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docsight",
		Subsystem: "llm",
		Name:      "attempts_total",
		Help:      "LLM backend calls since startup, including retries.",
	}, func() float64 { return float64(gw.Stats().Attempts) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docsight",
		Subsystem: "llm",
		Name:      "retries_total",
		Help:      "LLM backend calls that were retries of a transient failure.",
	}, func() float64 { return float64(gw.Stats().Retries) })

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docsight",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, route, and status code.",
		}, []string{"method", "route", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docsight",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		documentsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docsight",
			Subsystem: "pipeline",
			Name:      "documents_processed_total",
			Help:      "Total number of completed document processing runs, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}
