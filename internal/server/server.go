// Package server implements the HTTP server that exposes document upload,
// semantic search, chat, and insight generation as a REST API.
// The server is started by the `docsight serve` CLI command.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docsight/docsight-go/internal/embedder"
	"github.com/docsight/docsight-go/internal/index"
	"github.com/docsight/docsight-go/internal/llm"
	"github.com/docsight/docsight-go/internal/logging"
	"github.com/docsight/docsight-go/internal/rag"
	"github.com/docsight/docsight-go/internal/store"
)

// Deps bundles the server's collaborators.
type Deps struct {
	// Service handles search, chat, and insight generation.
	Service *rag.Service
	// Processor runs document processing and deletion.
	Processor Processor
	// Store is read directly by the listing endpoints.
	Store *store.Store
	// Index, Embedder, and Gateway are observed by the metrics gauges.
	Index    *index.Index
	Embedder *embedder.Cached
	Gateway  *llm.Gateway
	// Registry receives the server's Prometheus metrics and backs the
	// /metrics endpoint. If nil a private registry is created.
	Registry *prometheus.Registry
}

// New constructs a Server from the provided dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("server: service must not be nil")
	}
	if deps.Processor == nil {
		return nil, fmt.Errorf("server: processor must not be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if deps.Index == nil || deps.Embedder == nil || deps.Gateway == nil {
		return nil, fmt.Errorf("server: index, embedder, and gateway must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8900
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Insight generation can sit behind LLM retries.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxDocumentBytes == 0 {
		cfg.MaxDocumentBytes = 10 << 20
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		svc:     deps.Service,
		proc:    deps.Processor,
		store:   deps.Store,
		demo:    deps.Gateway.Demo(),
		cfg:     cfg,
		log:     log,
		metrics: newServerMetrics(registry, deps.Index, deps.Embedder, deps.Gateway),
	}

	if cfg.APIKey == "" {
		log.Warn("server: API authentication disabled (no API key configured)")
	}
	if s.demo {
		log.Warn("server: no LLM provider configured, generation runs in demo mode")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/documents", s.handleCreateDocument)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("GET /api/documents/{id}/text", s.handleDocumentText)
	mux.HandleFunc("POST /api/documents/{id}/process", s.handleReprocessDocument)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/documents/{id}/chat", s.handleChat)
	mux.HandleFunc("GET /api/documents/{id}/chat", s.handleChatHistory)
	mux.HandleFunc("POST /api/documents/{id}/insights/{type}", s.handleGenerateInsight)
	mux.HandleFunc("GET /api/documents/{id}/insights", s.handleListInsights)
	mux.HandleFunc("POST /api/compare", s.handleCompare)
	mux.HandleFunc("GET /api/dashboard/stats", s.handleDashboardStats)
	mux.HandleFunc("GET /api/dashboard/timeline", s.handleTimeline)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Middleware order (outermost first): request logging wraps everything
	// so even rejected requests are logged; auth runs before rate limiting
	// so unauthenticated traffic cannot exhaust another client's budget.
	var handler http.Handler = mux
	handler = rl.middleware(handler)
	handler = authMiddleware(cfg.APIKey, handler)
	handler = s.requestLogger(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info(fmt.Sprintf("docsight server listening on http://%s", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Handler returns the server's fully wrapped HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
