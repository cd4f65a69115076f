package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docsight/docsight-go/internal/llm"
	"github.com/docsight/docsight-go/internal/logging"
	"github.com/docsight/docsight-go/internal/rag"
	"github.com/docsight/docsight-go/internal/store"
	"github.com/docsight/docsight-go/internal/version"
)

// writeJSON serializes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP status codes: invalid input is
// 400, unknown documents are 404, documents in the wrong state are 409, an
// unreachable model backend is 503, and everything else is 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rag.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, llm.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeBody reads and decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("%w: reading request body: %v", rag.ErrValidation, err)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: request body must not be empty", rag.ErrValidation)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", rag.ErrValidation, err)
	}
	return nil
}

func toDocumentResponse(d store.Document) documentResponse {
	return documentResponse{
		ID:        d.ID,
		Name:      d.Name,
		Status:    string(d.Status),
		Error:     d.Error,
		WordCount: d.WordCount,
		PageCount: d.PageCount,
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toInsightResponse(res rag.InsightResult) insightResponse {
	return insightResponse{
		DocumentID: res.Insight.DocumentID,
		Type:       string(res.Insight.Type),
		Content:    json.RawMessage(res.Insight.Content),
		Demo:       res.Insight.Demo,
		ParseIssue: res.ParseIssue,
		CreatedAt:  res.Insight.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleCreateDocument accepts a document's extracted text, persists it, and
// starts processing in the background. The client polls the document status
// to learn when it becomes ready.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxDocumentBytes)+1024)
	var req createDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.writeError(w, r, fmt.Errorf("%w: name must not be empty", rag.ErrValidation))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, r, fmt.Errorf("%w: text must not be empty", rag.ErrValidation))
		return
	}
	if len(req.Text) > s.cfg.MaxDocumentBytes {
		s.writeError(w, r, fmt.Errorf("%w: text exceeds the %d byte limit", rag.ErrValidation, s.cfg.MaxDocumentBytes))
		return
	}

	doc, err := s.store.CreateDocument(r.Context(), req.Name, req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.processAsync(r.Context(), doc.ID)

	writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

// processAsync runs the pipeline for a document in the background. The
// request context is not reused because it dies when the response is sent,
// but its logger (carrying the request id) is.
func (s *Server) processAsync(reqCtx context.Context, documentID string) {
	log := logging.FromContext(reqCtx)
	go func() {
		ctx := logging.WithDocument(logging.WithLogger(context.Background(), log), documentID)
		if err := s.proc.Process(ctx, documentID); err != nil {
			logging.FromContext(ctx).Error("document processing failed", "error", err)
			s.metrics.documentsProcessedTotal.WithLabelValues("failed").Inc()
			return
		}
		s.metrics.documentsProcessedTotal.WithLabelValues("ready").Inc()
	}()
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.proc.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReprocessDocument re-runs the pipeline for a failed document.
func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if doc.Status != store.StatusFailed {
		s.writeError(w, r, fmt.Errorf("%w: document %s is %s, only failed documents can be reprocessed", store.ErrConflict, id, doc.Status))
		return
	}
	s.processAsync(r.Context(), id)
	writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.svc.Search(r.Context(), req.Query, req.TopK, req.DocumentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	answer, err := s.svc.Ask(r.Context(), r.PathValue("id"), req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]chatMessageResponse, 0, len(history))
	for _, m := range history {
		msg := chatMessageResponse{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		}
		if m.Sources != "" {
			msg.Sources = json.RawMessage(m.Sources)
		}
		out = append(out, msg)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGenerateInsight dispatches on the insight type in the path. The
// optional body carries a doc_type hint for extraction.
func (s *Server) handleGenerateInsight(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req insightRequest
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", rag.ErrValidation, err))
			return
		}
	}

	var (
		res rag.InsightResult
		err error
	)
	switch r.PathValue("type") {
	case "summary":
		res, err = s.svc.Summarize(r.Context(), id)
	case "extraction":
		res, err = s.svc.Extract(r.Context(), id, req.DocType)
	case "risk":
		res, err = s.svc.DetectRisks(r.Context(), id)
	default:
		err = fmt.Errorf("%w: unknown insight type %q (valid: summary, extraction, risk)", rag.ErrValidation, r.PathValue("type"))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInsightResponse(res))
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetDocument(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	insights, err := s.store.InsightsByDocument(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]insightResponse, 0, len(insights))
	for _, in := range insights {
		out = append(out, toInsightResponse(rag.InsightResult{Insight: in}))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Compare(r.Context(), req.DocumentIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"comparison":  res.Comparison,
		"demo":        res.Demo,
		"parse_issue": res.ParseIssue,
	})
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.DashboardStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Timeline(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  len(events),
	})
}

func (s *Server) handleDocumentText(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.DocumentText(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": doc.ID,
		"text":        doc.Content,
		"page_count":  doc.PageCount,
		"word_count":  doc.WordCount,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"demo":    s.demo,
	})
}
