package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// openTestStore opens an in-memory Store for use in tests.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// createTestDocument inserts a document and returns it.
func createTestDocument(t *testing.T, s *Store, name string) Document {
	t.Helper()
	doc, err := s.CreateDocument(context.Background(), name, "some document text")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func Test_Store_CreateAndGetDocument(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc := createTestDocument(t, s, "contract.pdf")
	if doc.ID == "" {
		t.Fatal("created document has empty id")
	}
	if doc.Status != StatusUploaded {
		t.Errorf("status = %s, want %s", doc.Status, StatusUploaded)
	}

	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Name != "contract.pdf" || got.Content != "some document text" {
		t.Errorf("got name=%q content=%q", got.Name, got.Content)
	}
}

func Test_Store_GetDocumentNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.GetDocument(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func Test_Store_UpdateStatusClaim(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, "doc")

	if err := s.UpdateStatus(ctx, doc.ID, StatusUploaded, StatusChunking, ""); err != nil {
		t.Fatalf("uploaded -> chunking: %v", err)
	}

	// A second claim from the same origin status must fail: the document
	// has already moved on.
	err := s.UpdateStatus(ctx, doc.ID, StatusUploaded, StatusChunking, "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second claim: error = %v, want ErrConflict", err)
	}

	if err := s.UpdateStatus(ctx, doc.ID, StatusChunking, StatusFailed, "embedder down"); err != nil {
		t.Fatalf("chunking -> failed: %v", err)
	}
	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "embedder down" {
		t.Errorf("got status=%s error=%q", got.Status, got.Error)
	}
}

func Test_Store_UpdateStatusMissingDocument(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	err := s.UpdateStatus(context.Background(), "ghost", StatusUploaded, StatusChunking, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func Test_Store_InsertAndListChunks(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, "doc")

	in := []Chunk{
		{DocumentID: doc.ID, Index: 0, Content: "first", StartChar: 0, EndChar: 5, Page: 1},
		{DocumentID: doc.ID, Index: 1, Content: "second", StartChar: 5, EndChar: 11, Page: 1},
	}
	inserted, err := s.InsertChunks(ctx, in)
	if err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("want 2 inserted chunks, got %d", len(inserted))
	}
	for i, c := range inserted {
		if c.ID == 0 {
			t.Errorf("chunk %d has no row id", i)
		}
	}

	listed, err := s.ChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("chunks by document: %v", err)
	}
	if len(listed) != 2 || listed[0].Content != "first" || listed[1].Content != "second" {
		t.Errorf("unexpected listing: %+v", listed)
	}

	byID, err := s.ChunksByID(ctx, []int64{inserted[1].ID, 99999})
	if err != nil {
		t.Fatalf("chunks by id: %v", err)
	}
	if len(byID) != 1 {
		t.Fatalf("want 1 chunk by id, got %d", len(byID))
	}
	if byID[inserted[1].ID].Content != "second" {
		t.Errorf("chunk by id content = %q", byID[inserted[1].ID].Content)
	}

	if err := s.DeleteChunks(ctx, doc.ID); err != nil {
		t.Fatalf("delete chunks: %v", err)
	}
	listed, err = s.ChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("chunks after delete: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("want no chunks after delete, got %d", len(listed))
	}
}

func Test_Store_UpsertInsightReplaces(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, "doc")

	first := Insight{DocumentID: doc.ID, Type: InsightSummary, Content: `{"v":1}`, Demo: true}
	if err := s.UpsertInsight(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := Insight{DocumentID: doc.ID, Type: InsightSummary, Content: `{"v":2}`}
	if err := s.UpsertInsight(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	other := Insight{DocumentID: doc.ID, Type: InsightRisk, Content: `{"risks":[]}`}
	if err := s.UpsertInsight(ctx, other); err != nil {
		t.Fatalf("risk upsert: %v", err)
	}

	got, err := s.InsightsByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("insights by document: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 insights (summary replaced), got %d", len(got))
	}
	for _, in := range got {
		if in.Type == InsightSummary {
			if in.Content != `{"v":2}` {
				t.Errorf("summary content = %q, want replaced value", in.Content)
			}
			if in.Demo {
				t.Error("replaced summary should not keep the demo flag")
			}
		}
	}
}

func Test_Store_ChatHistoryOrdered(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, "doc")

	if err := s.AppendChatMessage(ctx, doc.ID, RoleUser, "what is the term?", ""); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.AppendChatMessage(ctx, doc.ID, RoleAssistant, "two years", `[{"chunk_index":3}]`); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.ChatHistory(ctx, doc.ID)
	if err != nil {
		t.Fatalf("chat history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("order = %s, %s; want user, assistant", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Sources == "" {
		t.Error("assistant turn lost its sources")
	}
}

func Test_Store_DeleteDocumentCleanup(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, "doc")

	if _, err := s.InsertChunks(ctx, []Chunk{{DocumentID: doc.ID, Index: 0, Content: "c"}}); err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	if err := s.UpsertInsight(ctx, Insight{DocumentID: doc.ID, Type: InsightSummary, Content: `{}`}); err != nil {
		t.Fatalf("upsert insight: %v", err)
	}
	if err := s.AppendChatMessage(ctx, doc.ID, RoleUser, "q", ""); err != nil {
		t.Fatalf("append chat: %v", err)
	}

	if err := s.DeleteChunks(ctx, doc.ID); err != nil {
		t.Fatalf("delete chunks: %v", err)
	}
	if err := s.DeleteInsights(ctx, doc.ID); err != nil {
		t.Fatalf("delete insights: %v", err)
	}
	if err := s.DeleteChatHistory(ctx, doc.ID); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete document: %v", err)
	}

	if _, err := s.GetDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("document still present after delete: %v", err)
	}
	if err := s.DeleteDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: error = %v, want ErrNotFound", err)
	}
}

func Test_Store_Counts(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	var ready, failed Document
	for i := range 3 {
		doc := createTestDocument(t, s, fmt.Sprintf("doc-%d", i))
		switch i {
		case 0:
			ready = doc
		case 1:
			failed = doc
		}
	}
	if err := s.UpdateStatus(ctx, ready.ID, StatusUploaded, StatusChunking, ""); err != nil {
		t.Fatalf("to chunking: %v", err)
	}
	if err := s.UpdateStatus(ctx, ready.ID, StatusChunking, StatusEmbedding, ""); err != nil {
		t.Fatalf("to embedding: %v", err)
	}
	if err := s.UpdateStatus(ctx, ready.ID, StatusEmbedding, StatusReady, ""); err != nil {
		t.Fatalf("to ready: %v", err)
	}
	if err := s.UpdateStatus(ctx, failed.ID, StatusUploaded, StatusChunking, ""); err != nil {
		t.Fatalf("to chunking: %v", err)
	}
	if err := s.UpdateStatus(ctx, failed.ID, StatusChunking, StatusFailed, "boom"); err != nil {
		t.Fatalf("to failed: %v", err)
	}

	byStatus, err := s.CountDocumentsByStatus(ctx)
	if err != nil {
		t.Fatalf("count documents: %v", err)
	}
	want := map[Status]int{StatusReady: 1, StatusFailed: 1, StatusUploaded: 1}
	for status, n := range want {
		if byStatus[status] != n {
			t.Errorf("count[%s] = %d, want %d", status, byStatus[status], n)
		}
	}

	if err := s.UpsertInsight(ctx, Insight{DocumentID: ready.ID, Type: InsightSummary, Content: `{}`}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertInsight(ctx, Insight{DocumentID: ready.ID, Type: InsightRisk, Content: `{}`}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	byType, err := s.CountInsightsByType(ctx)
	if err != nil {
		t.Fatalf("count insights: %v", err)
	}
	if byType[InsightSummary] != 1 || byType[InsightRisk] != 1 {
		t.Errorf("insight counts = %v", byType)
	}
}
