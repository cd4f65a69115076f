package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docsight/docsight-go/internal/chunker"
	"github.com/docsight/docsight-go/internal/embedder"
	"github.com/docsight/docsight-go/internal/index"
	"github.com/docsight/docsight-go/internal/store"
)

// newTestProcessor wires a Processor over an in-memory store, the fake
// embedder, and a fresh index.
func newTestProcessor(t *testing.T) (*Processor, *store.Store, *index.Index) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	emb := embedder.NewCached(embedder.NewFake(32), 128)
	ix, err := index.New(index.Config{Dimensions: 32})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	p, err := NewProcessor(st, chunker.New(chunker.Config{Size: 200, Overlap: 40}), emb, ix)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p, st, ix
}

// sampleText returns enough paragraphs to produce several chunks with a
// 200-byte chunk size.
func sampleText() string {
	para := "The lease term begins on the first of the month. Rent is due in advance. " +
		"Either party may terminate with sixty days written notice."
	return strings.Repeat(para+"\n\n", 8)
}

func Test_CanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from store.Status
		to   store.Status
		want bool
	}{
		{"uploaded to chunking", store.StatusUploaded, store.StatusChunking, true},
		{"chunking to embedding", store.StatusChunking, store.StatusEmbedding, true},
		{"chunking to failed", store.StatusChunking, store.StatusFailed, true},
		{"embedding to ready", store.StatusEmbedding, store.StatusReady, true},
		{"embedding to failed", store.StatusEmbedding, store.StatusFailed, true},
		{"failed reprocess", store.StatusFailed, store.StatusChunking, true},
		{"uploaded straight to ready", store.StatusUploaded, store.StatusReady, false},
		{"ready back to chunking", store.StatusReady, store.StatusChunking, false},
		{"uploaded to failed", store.StatusUploaded, store.StatusFailed, false},
		{"ready to failed", store.StatusReady, store.StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func Test_Process_HappyPath(t *testing.T) {
	t.Parallel()
	p, st, ix := newTestProcessor(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "lease.txt", sampleText())
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	if err := p.Process(ctx, doc.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Status != store.StatusReady {
		t.Fatalf("status = %s, want %s", got.Status, store.StatusReady)
	}
	if got.WordCount == 0 || got.PageCount == 0 {
		t.Errorf("counts not recorded: words=%d pages=%d", got.WordCount, got.PageCount)
	}

	chunks, err := st.ChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("want multiple chunks, got %d", len(chunks))
	}

	stats := ix.Stats()
	if stats.TotalVectors != len(chunks) {
		t.Errorf("index has %d vectors, want %d", stats.TotalVectors, len(chunks))
	}
	if stats.Documents != 1 {
		t.Errorf("index documents = %d, want 1", stats.Documents)
	}
}

func Test_Process_EmptyTextFails(t *testing.T) {
	t.Parallel()
	p, st, _ := newTestProcessor(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "blank.txt", "   \n\n\t ")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	if err := p.Process(ctx, doc.ID); err == nil {
		t.Fatal("process of empty document should fail")
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Status != store.StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, store.StatusFailed)
	}
	if got.Error == "" {
		t.Error("failure reason not recorded")
	}
}

func Test_Process_RejectsReadyDocument(t *testing.T) {
	t.Parallel()
	p, st, _ := newTestProcessor(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "doc", sampleText())
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := p.Process(ctx, doc.ID); err != nil {
		t.Fatalf("first process: %v", err)
	}

	err = p.Process(ctx, doc.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("reprocessing a ready document: error = %v, want ErrConflict", err)
	}
}

func Test_Process_RejectsInFlightDocument(t *testing.T) {
	t.Parallel()
	p, st, _ := newTestProcessor(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "doc", sampleText())
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	// Another worker has already claimed the document.
	if err := st.UpdateStatus(ctx, doc.ID, store.StatusUploaded, store.StatusChunking, ""); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err = p.Process(ctx, doc.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func Test_Process_RetryAfterFailurePurges(t *testing.T) {
	t.Parallel()
	p, st, ix := newTestProcessor(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "doc", sampleText())
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := p.Process(ctx, doc.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	before, err := st.ChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}

	// Simulate a run that failed mid-embedding and left stale chunks behind.
	doc2, err := st.CreateDocument(ctx, "doc2", sampleText())
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := st.UpdateStatus(ctx, doc2.ID, store.StatusUploaded, store.StatusChunking, ""); err != nil {
		t.Fatalf("to chunking: %v", err)
	}
	if err := st.UpdateStatus(ctx, doc2.ID, store.StatusChunking, store.StatusFailed, "embedder down"); err != nil {
		t.Fatalf("to failed: %v", err)
	}
	// Leave stale chunks behind as a crashed run would.
	if _, err := st.InsertChunks(ctx, []store.Chunk{{DocumentID: doc2.ID, Index: 0, Content: "stale"}}); err != nil {
		t.Fatalf("insert stale chunk: %v", err)
	}

	if err := p.Process(ctx, doc2.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	got, err := st.GetDocument(ctx, doc2.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusReady {
		t.Fatalf("status after retry = %s, want %s", got.Status, store.StatusReady)
	}
	chunks, err := st.ChunksByDocument(ctx, doc2.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	for _, c := range chunks {
		if c.Content == "stale" {
			t.Fatal("stale chunk survived reprocessing")
		}
	}

	// First document untouched throughout.
	after, err := st.ChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("first document chunks changed: %d -> %d", len(before), len(after))
	}
	if ix.Stats().Documents != 2 {
		t.Errorf("index documents = %d, want 2", ix.Stats().Documents)
	}
}

func Test_Delete_RemovesEverything(t *testing.T) {
	t.Parallel()
	p, st, ix := newTestProcessor(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "doc", sampleText())
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := p.Process(ctx, doc.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := st.UpsertInsight(ctx, store.Insight{DocumentID: doc.ID, Type: store.InsightSummary, Content: `{}`}); err != nil {
		t.Fatalf("upsert insight: %v", err)
	}
	if err := st.AppendChatMessage(ctx, doc.ID, store.RoleUser, "q", ""); err != nil {
		t.Fatalf("append chat: %v", err)
	}

	if err := p.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := st.GetDocument(ctx, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("document still present: %v", err)
	}
	chunks, err := st.ChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks remain after delete: %d", len(chunks))
	}
	if ix.Stats().TotalVectors != 0 {
		t.Errorf("index vectors remain after delete: %d", ix.Stats().TotalVectors)
	}

	if err := p.Delete(ctx, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete: error = %v, want ErrNotFound", err)
	}
}
