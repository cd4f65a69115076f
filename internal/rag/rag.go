// Package rag implements retrieval-augmented document analysis. The Service
// composes the store, the cached embedder, the vector index, and the LLM
// gateway into the user-facing operations: semantic search, document chat,
// summaries, extraction, risk detection, and cross-document comparison.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docsight/docsight-go/internal/embedder"
	"github.com/docsight/docsight-go/internal/index"
	"github.com/docsight/docsight-go/internal/llm"
	"github.com/docsight/docsight-go/internal/logging"
	"github.com/docsight/docsight-go/internal/store"
	"github.com/docsight/docsight-go/internal/textutil"
)

// ErrValidation marks a request rejected before any work was done.
var ErrValidation = errors.New("rag: invalid request")

// Retrieval and prompt-size limits.
const (
	// DefaultTopK is the retrieval depth when the caller does not specify
	// one; topK is always clamped to [MinTopK, MaxTopK].
	DefaultTopK = 5
	MinTopK     = 1
	MaxTopK     = 20

	// sourceExcerptChars bounds the cited chunk excerpt returned with an
	// answer.
	sourceExcerptChars = 200

	// Per-operation prompt budgets in characters of document text.
	summaryTextBudget    = 12000
	extractionTextBudget = 10000
	riskTextBudget       = 10000
	comparisonTextBudget = 5000

	// Comparison bounds.
	minCompareDocuments = 2
	maxCompareDocuments = 5
)

// noAnswerText is returned when retrieval finds nothing relevant; in that
// case no generation call is made.
const noAnswerText = "I couldn't find relevant information in the document to answer your question."

// Service orchestrates retrieval and generation. Safe for concurrent use.
type Service struct {
	store    *store.Store
	embedder *embedder.Cached
	index    *index.Index
	gateway  *llm.Gateway
	params   llm.Params
}

// NewService constructs a Service from the provided dependencies. params
// carries the default model settings applied to every generation call.
func NewService(st *store.Store, emb *embedder.Cached, ix *index.Index, gw *llm.Gateway, params llm.Params) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if ix == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if gw == nil {
		return nil, fmt.Errorf("rag: gateway must not be nil")
	}
	return &Service{store: st, embedder: emb, index: ix, gateway: gw, params: params}, nil
}

// SearchResult is one semantic search hit with its chunk text resolved.
type SearchResult struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// Search embeds the query and returns the best-matching chunks, optionally
// restricted to one document. topK of zero means DefaultTopK; out-of-range
// values are clamped.
func (s *Service) Search(ctx context.Context, query string, topK int, documentID string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrValidation)
	}
	topK = clampTopK(topK)

	vec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query: %w", err)
	}
	hits, err := s.index.Search(vec, topK, documentID)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := s.store.ChunksByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("rag: resolving chunks: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		c, ok := chunks[h.ChunkID]
		if !ok {
			// Vector without a chunk row: deletion raced the search.
			continue
		}
		results = append(results, SearchResult{
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Content:    c.Content,
			Score:      h.Score,
		})
	}
	return results, nil
}

// Source cites one chunk used to ground an answer.
type Source struct {
	ChunkIndex     int     `json:"chunk_index"`
	Page           int     `json:"page,omitempty"`
	RelevanceScore float32 `json:"relevance_score"`
	Content        string  `json:"content"`
}

// Answer is the result of one chat question.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	// Demo marks an answer synthesized without a live model.
	Demo bool `json:"demo,omitempty"`
}

// Ask answers a question about one ready document: retrieve the most
// relevant chunks, build a cited context, and generate. Both the question
// and the answer are appended to the document's chat history. Answers are
// never served from the response cache. When retrieval finds nothing, an
// honest no-answer is returned without calling the model.
func (s *Service) Ask(ctx context.Context, documentID, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: question must not be empty", ErrValidation)
	}
	if _, err := s.readyDocument(ctx, documentID); err != nil {
		return Answer{}, err
	}

	ctx = logging.WithDocument(ctx, documentID)
	log := logging.FromContext(ctx)

	vec, err := s.embedder.EmbedOne(ctx, question)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: embedding question: %w", err)
	}
	hits, err := s.index.Search(vec, DefaultTopK, documentID)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: retrieval: %w", err)
	}
	if len(hits) == 0 {
		log.Info("no relevant chunks for question")
		return Answer{Answer: noAnswerText, Sources: []Source{}}, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := s.store.ChunksByID(ctx, ids)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: resolving chunks: %w", err)
	}

	var contextParts []string
	var sources []Source
	for _, h := range hits {
		c, ok := chunks[h.ChunkID]
		if !ok {
			continue
		}
		contextParts = append(contextParts, fmt.Sprintf("[Chunk %d]: %s", h.ChunkIndex+1, c.Content))
		sources = append(sources, Source{
			ChunkIndex:     h.ChunkIndex,
			Page:           c.Page,
			RelevanceScore: h.Score,
			Content:        excerpt(c.Content, sourceExcerptChars),
		})
	}
	if len(contextParts) == 0 {
		return Answer{Answer: noAnswerText, Sources: []Source{}}, nil
	}

	params := s.params
	params.NoCache = true
	resp, err := s.gateway.Generate(ctx, qaPrompt(strings.Join(contextParts, "\n\n"), question), params)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: answering: %w", err)
	}

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: encoding sources: %w", err)
	}
	if err := s.store.AppendChatMessage(ctx, documentID, store.RoleUser, question, ""); err != nil {
		return Answer{}, fmt.Errorf("rag: persisting question: %w", err)
	}
	if err := s.store.AppendChatMessage(ctx, documentID, store.RoleAssistant, resp.Text, string(sourcesJSON)); err != nil {
		return Answer{}, fmt.Errorf("rag: persisting answer: %w", err)
	}

	log.Info("answer generated", slog.Int("sources", len(sources)), slog.Bool("demo", resp.Demo))
	return Answer{Answer: resp.Text, Sources: sources, Demo: resp.Demo}, nil
}

// History returns a document's chat turns oldest-first.
func (s *Service) History(ctx context.Context, documentID string) ([]store.ChatMessage, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, fmt.Errorf("rag: history: %w", err)
	}
	return s.store.ChatHistory(ctx, documentID)
}

// Summary is the structured result of summarization.
type Summary struct {
	ExecutiveSummary string           `json:"executive_summary"`
	SectionSummaries []SectionSummary `json:"section_summaries"`
	BulletHighlights []string         `json:"bullet_highlights"`
	KeyTakeaways     []string         `json:"key_takeaways"`
}

// SectionSummary summarizes one document section.
type SectionSummary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// RiskReport is the structured result of risk detection.
type RiskReport struct {
	OverallRiskScore string     `json:"overall_risk_score"`
	RiskItems        []RiskItem `json:"risk_items"`
	TotalRisks       int        `json:"total_risks"`
}

// RiskItem is one identified risk.
type RiskItem struct {
	RiskType        string `json:"risk_type"`
	Severity        string `json:"severity"`
	Description     string `json:"description"`
	HighlightedText string `json:"highlighted_text"`
	Recommendation  string `json:"recommendation"`
}

// Comparison is the structured result of comparing documents.
type Comparison struct {
	Summary      string       `json:"summary"`
	Similarities []string     `json:"similarities"`
	Differences  []Difference `json:"differences"`
}

// Difference is one categorized difference between two documents.
type Difference struct {
	Category  string `json:"category"`
	DocumentA string `json:"document_a"`
	DocumentB string `json:"document_b"`
	Detail    string `json:"detail"`
}

// InsightResult is a stored insight plus generation metadata.
type InsightResult struct {
	// Insight is the persisted row, Content holding the structured JSON.
	Insight store.Insight
	// ParseIssue means the model response could not be fully parsed and
	// Content holds a degraded partial result.
	ParseIssue bool
}

// Summarize generates and stores a summary insight for a ready document,
// replacing any previous one. A malformed model response degrades to a
// summary whose executive text is the raw response, flagged as a parse
// issue, rather than failing.
func (s *Service) Summarize(ctx context.Context, documentID string) (InsightResult, error) {
	doc, err := s.readyDocument(ctx, documentID)
	if err != nil {
		return InsightResult{}, err
	}

	prompt := summaryPrompt(textutil.Truncate(doc.Content, summaryTextBudget))
	resp, err := s.gateway.Generate(ctx, prompt, s.params)
	if err != nil {
		return InsightResult{}, fmt.Errorf("rag: summarize: %w", err)
	}

	var summary Summary
	parseIssue := !decodeJSON(resp.Text, &summary)
	if parseIssue {
		summary = Summary{ExecutiveSummary: resp.Text}
		logging.FromContext(ctx).Warn("summary response not parseable",
			slog.String("document_id", documentID))
	}
	fillSummary(&summary)

	return s.storeInsight(ctx, documentID, store.InsightSummary, summary, resp.Demo, parseIssue)
}

// Extract generates and stores a key-information extraction for a ready
// document. docType selects the template: legal, financial, research, or
// general (also the fallback for unknown types).
func (s *Service) Extract(ctx context.Context, documentID, docType string) (InsightResult, error) {
	doc, err := s.readyDocument(ctx, documentID)
	if err != nil {
		return InsightResult{}, err
	}

	prompt := extractionPrompt(docType, textutil.Truncate(doc.Content, extractionTextBudget))
	resp, err := s.gateway.Generate(ctx, prompt, s.params)
	if err != nil {
		return InsightResult{}, fmt.Errorf("rag: extract: %w", err)
	}

	// Extraction shape varies by document type; keep it schemaless.
	extraction := map[string]any{}
	parseIssue := !decodeJSON(resp.Text, &extraction)
	if parseIssue {
		extraction = map[string]any{"raw_response": resp.Text}
		logging.FromContext(ctx).Warn("extraction response not parseable",
			slog.String("document_id", documentID))
	}

	return s.storeInsight(ctx, documentID, store.InsightExtraction, extraction, resp.Demo, parseIssue)
}

// DetectRisks generates and stores a risk report for a ready document.
func (s *Service) DetectRisks(ctx context.Context, documentID string) (InsightResult, error) {
	doc, err := s.readyDocument(ctx, documentID)
	if err != nil {
		return InsightResult{}, err
	}

	prompt := riskPrompt(textutil.Truncate(doc.Content, riskTextBudget))
	resp, err := s.gateway.Generate(ctx, prompt, s.params)
	if err != nil {
		return InsightResult{}, fmt.Errorf("rag: detect risks: %w", err)
	}

	var report RiskReport
	parseIssue := !decodeJSON(resp.Text, &report)
	if parseIssue {
		logging.FromContext(ctx).Warn("risk response not parseable",
			slog.String("document_id", documentID))
	}
	fillRiskReport(&report)

	return s.storeInsight(ctx, documentID, store.InsightRisk, report, resp.Demo, parseIssue)
}

// CompareResult is a comparison plus generation metadata.
type CompareResult struct {
	Comparison Comparison
	Demo       bool
	ParseIssue bool
}

// Compare analyzes 2 to 5 ready documents for similarities and differences
// and stores a comparison insight on each of them.
func (s *Service) Compare(ctx context.Context, documentIDs []string) (CompareResult, error) {
	if len(documentIDs) < minCompareDocuments || len(documentIDs) > maxCompareDocuments {
		return CompareResult{}, fmt.Errorf("%w: comparison requires %d to %d documents, got %d",
			ErrValidation, minCompareDocuments, maxCompareDocuments, len(documentIDs))
	}
	seen := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		if seen[id] {
			return CompareResult{}, fmt.Errorf("%w: duplicate document id %s", ErrValidation, id)
		}
		seen[id] = true
	}

	sections := make([]string, 0, len(documentIDs))
	for _, id := range documentIDs {
		doc, err := s.readyDocument(ctx, id)
		if err != nil {
			return CompareResult{}, err
		}
		sections = append(sections, fmt.Sprintf("DOCUMENT: %s\n%s",
			doc.Name, textutil.Truncate(doc.Content, comparisonTextBudget)))
	}

	resp, err := s.gateway.Generate(ctx, comparisonPrompt(sections), s.params)
	if err != nil {
		return CompareResult{}, fmt.Errorf("rag: compare: %w", err)
	}

	var cmp Comparison
	parseIssue := !decodeJSON(resp.Text, &cmp)
	if parseIssue {
		cmp = Comparison{Summary: resp.Text}
		logging.FromContext(ctx).Warn("comparison response not parseable")
	}
	fillComparison(&cmp)

	for _, id := range documentIDs {
		if _, err := s.storeInsight(ctx, id, store.InsightComparison, cmp, resp.Demo, parseIssue); err != nil {
			return CompareResult{}, err
		}
	}
	return CompareResult{Comparison: cmp, Demo: resp.Demo, ParseIssue: parseIssue}, nil
}

// DashboardStats is the read-only aggregate view served to dashboards.
type DashboardStats struct {
	TotalDocuments    int                       `json:"total_documents"`
	DocumentsByStatus map[store.Status]int      `json:"documents_by_status"`
	InsightsByType    map[store.InsightType]int `json:"insights_by_type"`
	TotalRisks        int                       `json:"total_risks"`
	RiskDistribution  map[string]int            `json:"risk_distribution"`
	Index             index.Stats               `json:"index"`
}

// DashboardStats aggregates document, insight, risk, and index statistics.
// Risk severities come from stored risk insights; unparseable ones are
// skipped.
func (s *Service) DashboardStats(ctx context.Context) (DashboardStats, error) {
	byStatus, err := s.store.CountDocumentsByStatus(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("rag: dashboard: %w", err)
	}
	byType, err := s.store.CountInsightsByType(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("rag: dashboard: %w", err)
	}

	total := 0
	for _, n := range byStatus {
		total += n
	}

	riskInsights, err := s.store.InsightsByType(ctx, store.InsightRisk)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("rag: dashboard: %w", err)
	}
	totalRisks := 0
	distribution := make(map[string]int)
	for _, in := range riskInsights {
		var report RiskReport
		if err := json.Unmarshal([]byte(in.Content), &report); err != nil {
			continue
		}
		totalRisks += len(report.RiskItems)
		for _, item := range report.RiskItems {
			severity := item.Severity
			if severity == "" {
				severity = "Medium"
			}
			distribution[severity]++
		}
	}

	return DashboardStats{
		TotalDocuments:    total,
		DocumentsByStatus: byStatus,
		InsightsByType:    byType,
		TotalRisks:        totalRisks,
		RiskDistribution:  distribution,
		Index:             s.index.Stats(),
	}, nil
}

// TimelineEvent is one dated entry on the cross-document timeline.
type TimelineEvent struct {
	Date         string `json:"date"`
	Description  string `json:"description"`
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	EventType    string `json:"event_type"`
}

// Timeline collects deadline entries from stored extraction insights,
// newest insight first. Extractions without a deadlines list, with
// unparseable content, or whose document has since been deleted
// contribute nothing.
func (s *Service) Timeline(ctx context.Context) ([]TimelineEvent, error) {
	insights, err := s.store.InsightsByType(ctx, store.InsightExtraction)
	if err != nil {
		return nil, fmt.Errorf("rag: timeline: %w", err)
	}

	events := []TimelineEvent{}
	names := make(map[string]string)
	for _, in := range insights {
		var data map[string]any
		if err := json.Unmarshal([]byte(in.Content), &data); err != nil {
			continue
		}
		deadlines, _ := data["deadlines"].([]any)
		if len(deadlines) == 0 {
			continue
		}

		name, ok := names[in.DocumentID]
		if !ok {
			doc, err := s.store.GetDocument(ctx, in.DocumentID)
			if err != nil {
				continue
			}
			name = doc.Name
			names[in.DocumentID] = name
		}

		for _, d := range deadlines {
			date, ok := d.(string)
			if !ok {
				date = fmt.Sprint(d)
			}
			events = append(events, TimelineEvent{
				Date:         date,
				Description:  "Deadline from " + name,
				DocumentID:   in.DocumentID,
				DocumentName: name,
				EventType:    "deadline",
			})
		}
	}
	return events, nil
}

// DocumentText returns the full cleaned text of a ready document along
// with its computed counts.
func (s *Service) DocumentText(ctx context.Context, documentID string) (store.Document, error) {
	return s.readyDocument(ctx, documentID)
}

// readyDocument returns the document, or ErrNotFound / ErrConflict when it
// is missing or not yet searchable.
func (s *Service) readyDocument(ctx context.Context, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, fmt.Errorf("rag: %w", err)
	}
	if doc.Status != store.StatusReady {
		return store.Document{}, fmt.Errorf("rag: %w: document %s is %s, not ready",
			store.ErrConflict, documentID, doc.Status)
	}
	return doc, nil
}

// storeInsight marshals content, upserts the insight, and returns the
// stored row.
func (s *Service) storeInsight(ctx context.Context, documentID string, t store.InsightType, content any, demo, parseIssue bool) (InsightResult, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return InsightResult{}, fmt.Errorf("rag: encoding insight: %w", err)
	}
	in := store.Insight{
		DocumentID: documentID,
		Type:       t,
		Content:    string(encoded),
		Demo:       demo,
	}
	if err := s.store.UpsertInsight(ctx, in); err != nil {
		return InsightResult{}, fmt.Errorf("rag: storing insight: %w", err)
	}
	return InsightResult{Insight: in, ParseIssue: parseIssue}, nil
}

// fillSummary replaces nil slices so the stored JSON always carries every key.
func fillSummary(s *Summary) {
	if s.SectionSummaries == nil {
		s.SectionSummaries = []SectionSummary{}
	}
	if s.BulletHighlights == nil {
		s.BulletHighlights = []string{}
	}
	if s.KeyTakeaways == nil {
		s.KeyTakeaways = []string{}
	}
}

// fillRiskReport defaults the score and recomputes the total from the items
// when the model left it unset.
func fillRiskReport(r *RiskReport) {
	if r.OverallRiskScore == "" {
		r.OverallRiskScore = "Medium"
	}
	if r.RiskItems == nil {
		r.RiskItems = []RiskItem{}
	}
	if r.TotalRisks == 0 {
		r.TotalRisks = len(r.RiskItems)
	}
}

func fillComparison(c *Comparison) {
	if c.Similarities == nil {
		c.Similarities = []string{}
	}
	if c.Differences == nil {
		c.Differences = []Difference{}
	}
}

// clampTopK applies the default and bounds retrieval depth.
func clampTopK(k int) int {
	if k == 0 {
		return DefaultTopK
	}
	if k < MinTopK {
		return MinTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// excerpt bounds text to max runes for citation payloads.
func excerpt(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
