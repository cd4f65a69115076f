// Package pipeline implements the document processing pipeline. It owns the
// document status state machine and drives each document through clean →
// chunk → embed → index, persisting progress so the API can report it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docsight/docsight-go/internal/chunker"
	"github.com/docsight/docsight-go/internal/embedder"
	"github.com/docsight/docsight-go/internal/index"
	"github.com/docsight/docsight-go/internal/logging"
	"github.com/docsight/docsight-go/internal/store"
	"github.com/docsight/docsight-go/internal/textutil"
)

// transitions is the allowed-move table of the document state machine.
// A document is claimed for processing by moving from uploaded or failed
// into chunking; ready is terminal until the document is deleted.
var transitions = map[store.Status][]store.Status{
	store.StatusUploaded:  {store.StatusChunking},
	store.StatusChunking:  {store.StatusEmbedding, store.StatusFailed},
	store.StatusEmbedding: {store.StatusReady, store.StatusFailed},
	store.StatusReady:     {},
	store.StatusFailed:    {store.StatusChunking},
}

// CanTransition reports whether a document may move from one status to
// another.
func CanTransition(from, to store.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Processor drives documents through the processing pipeline. Multiple
// documents may process concurrently; the store's compare-and-set status
// update makes each claim exclusive, so the same document is never
// processed twice at once.
type Processor struct {
	// store persists documents, chunks, and status transitions.
	store *store.Store

	// chunker splits cleaned text into retrieval units.
	chunker *chunker.Chunker

	// embedder converts chunk text into vectors, with caching.
	embedder *embedder.Cached

	// index holds the searchable vectors.
	index *index.Index
}

// NewProcessor constructs a Processor from the provided dependencies.
func NewProcessor(st *store.Store, ch *chunker.Chunker, emb *embedder.Cached, ix *index.Index) (*Processor, error) {
	if st == nil {
		return nil, fmt.Errorf("pipeline: store must not be nil")
	}
	if ch == nil {
		return nil, fmt.Errorf("pipeline: chunker must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("pipeline: embedder must not be nil")
	}
	if ix == nil {
		return nil, fmt.Errorf("pipeline: index must not be nil")
	}
	return &Processor{store: st, chunker: ch, embedder: emb, index: ix}, nil
}

// Process runs the full pipeline for one document: claim it, clean and
// chunk the text, persist the chunks, embed them, add the vectors to the
// index, and mark the document ready. Any failure after the claim moves
// the document to failed with the reason recorded. Only documents in the
// uploaded or failed state can be processed; a failed document's previous
// chunks and vectors are purged before the new attempt.
func (p *Processor) Process(ctx context.Context, documentID string) error {
	ctx = logging.WithDocument(ctx, documentID)
	log := logging.FromContext(ctx)

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("pipeline: process: %w", err)
	}
	if !CanTransition(doc.Status, store.StatusChunking) {
		return fmt.Errorf("pipeline: %w: cannot process document in status %s", store.ErrConflict, doc.Status)
	}

	// Claim. The compare-and-set fails if another processor got here first.
	if err := p.store.UpdateStatus(ctx, documentID, doc.Status, store.StatusChunking, ""); err != nil {
		return fmt.Errorf("pipeline: claim: %w", err)
	}

	// A retry of a failed document starts from a clean slate.
	if doc.Status == store.StatusFailed {
		p.index.RemoveDocument(documentID)
		if err := p.store.DeleteChunks(ctx, documentID); err != nil {
			return p.fail(ctx, documentID, store.StatusChunking, fmt.Errorf("purging previous chunks: %w", err))
		}
		log.Info("purged previous processing artifacts")
	}

	text := textutil.Clean(doc.Content)
	if text == "" {
		return p.fail(ctx, documentID, store.StatusChunking, fmt.Errorf("document contains no extractable text"))
	}
	if err := p.store.UpdateCounts(ctx, documentID, textutil.CountWords(text), textutil.EstimatePages(text)); err != nil {
		return p.fail(ctx, documentID, store.StatusChunking, fmt.Errorf("recording counts: %w", err))
	}

	pieces := p.chunker.Split(text)
	if len(pieces) == 0 {
		return p.fail(ctx, documentID, store.StatusChunking, fmt.Errorf("chunking produced no chunks"))
	}

	chunks := make([]store.Chunk, len(pieces))
	for i, c := range pieces {
		chunks[i] = store.Chunk{
			DocumentID: documentID,
			Index:      c.Index,
			Content:    c.Content,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			Page:       c.StartChar/textutil.CharsPerPage + 1,
		}
	}
	chunks, err = p.store.InsertChunks(ctx, chunks)
	if err != nil {
		return p.fail(ctx, documentID, store.StatusChunking, fmt.Errorf("persisting chunks: %w", err))
	}
	log.Info("document chunked", slog.Int("chunks", len(chunks)))

	if err := p.store.UpdateStatus(ctx, documentID, store.StatusChunking, store.StatusEmbedding, ""); err != nil {
		return fmt.Errorf("pipeline: to embedding: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return p.fail(ctx, documentID, store.StatusEmbedding, fmt.Errorf("embedding chunks: %w", err))
	}

	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = index.Entry{
			Vector:     vectors[i],
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			ChunkIndex: c.Index,
		}
	}
	if err := p.index.Add(entries); err != nil {
		return p.fail(ctx, documentID, store.StatusEmbedding, fmt.Errorf("indexing vectors: %w", err))
	}
	if err := p.index.Save(); err != nil {
		// Vectors are live in memory; losing the snapshot only costs a
		// re-embed after restart. Not worth failing the document.
		log.Warn("index snapshot failed", slog.Any("error", err))
	}

	if err := p.store.UpdateStatus(ctx, documentID, store.StatusEmbedding, store.StatusReady, ""); err != nil {
		return fmt.Errorf("pipeline: to ready: %w", err)
	}
	log.Info("document ready", slog.Int("chunks", len(chunks)))
	return nil
}

// fail moves a document to failed with the given reason and returns the
// original error wrapped for the caller.
func (p *Processor) fail(ctx context.Context, documentID string, from store.Status, cause error) error {
	log := logging.FromContext(ctx)
	if err := p.store.UpdateStatus(ctx, documentID, from, store.StatusFailed, cause.Error()); err != nil {
		log.Error("recording failure status", slog.String("document_id", documentID), slog.Any("error", err))
	}
	return fmt.Errorf("pipeline: document %s: %w", documentID, cause)
}

// Delete removes a document and everything derived from it: index entries
// first, then chunks, insights, and chat history, then the document row.
// This order means a crash mid-delete can only leave orphaned rows for a
// document that no longer matches searches, never dangling vectors.
func (p *Processor) Delete(ctx context.Context, documentID string) error {
	if _, err := p.store.GetDocument(ctx, documentID); err != nil {
		return fmt.Errorf("pipeline: delete: %w", err)
	}

	removed := p.index.RemoveDocument(documentID)
	if err := p.index.Save(); err != nil {
		logging.FromContext(ctx).Warn("index snapshot failed", slog.Any("error", err))
	}
	if err := p.store.DeleteChunks(ctx, documentID); err != nil {
		return fmt.Errorf("pipeline: delete chunks: %w", err)
	}
	if err := p.store.DeleteInsights(ctx, documentID); err != nil {
		return fmt.Errorf("pipeline: delete insights: %w", err)
	}
	if err := p.store.DeleteChatHistory(ctx, documentID); err != nil {
		return fmt.Errorf("pipeline: delete chat history: %w", err)
	}
	if err := p.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("pipeline: delete document: %w", err)
	}
	logging.FromContext(ctx).Info("document deleted",
		slog.String("document_id", documentID),
		slog.Int("vectors_removed", removed),
	)
	return nil
}
