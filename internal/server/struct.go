package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/docsight/docsight-go/internal/rag"
	"github.com/docsight/docsight-go/internal/store"
)

// Processor is the interface the document endpoints use to run and undo
// processing. *pipeline.Processor satisfies it; tests may inject a fake.
type Processor interface {
	// Process runs the full pipeline for one document.
	Process(ctx context.Context, documentID string) error
	// Delete removes a document and everything derived from it.
	Delete(ctx context.Context, documentID string) error
}

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8900).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must be long enough for generation-backed endpoints.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// RateLimit is the sustained request rate allowed per IP
	// (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxDocumentBytes caps the text size accepted on document creation.
	// Defaults to 10 MiB if zero.
	MaxDocumentBytes int
}

// Server is the HTTP server exposing the document analysis API.
type Server struct {
	// svc is the retrieval and generation orchestrator behind every
	// analysis endpoint.
	svc *rag.Service
	// proc drives document processing and deletion.
	proc Processor
	// store is read directly by the document listing endpoints.
	store *store.Store
	// demo reports whether the LLM gateway runs without a live backend.
	demo bool
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// createDocumentRequest is the JSON body for POST /api/documents.
type createDocumentRequest struct {
	// Name is the display name for the document.
	Name string `json:"name"`
	// Text is the extracted document text.
	Text string `json:"text"`
}

// documentResponse is the JSON shape of a document in API responses.
type documentResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	WordCount int    `json:"word_count"`
	PageCount int    `json:"page_count"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Query string `json:"query"`
	// TopK is the retrieval depth; zero means the default.
	TopK int `json:"top_k,omitempty"`
	// DocumentID restricts the search to one document when non-empty.
	DocumentID string `json:"document_id,omitempty"`
}

// chatRequest is the JSON body for POST /api/documents/{id}/chat.
type chatRequest struct {
	Question string `json:"question"`
}

// chatMessageResponse is one turn in GET /api/documents/{id}/chat.
type chatMessageResponse struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Sources   json.RawMessage `json:"sources,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// insightRequest is the optional JSON body for insight generation.
type insightRequest struct {
	// DocType tunes extraction prompts: legal, financial, research, general.
	DocType string `json:"doc_type,omitempty"`
}

// insightResponse is the JSON shape of a stored insight.
type insightResponse struct {
	DocumentID string          `json:"document_id"`
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	Demo       bool            `json:"demo,omitempty"`
	ParseIssue bool            `json:"parse_issue,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
}

// compareRequest is the JSON body for POST /api/compare.
type compareRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// errorResponse is the JSON error body for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}
