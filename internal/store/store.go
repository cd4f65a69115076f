// Package store provides SQLite-backed persistence for documents, their
// chunks, generated insights, and chat history. Vectors live in the index
// package; this store holds everything else and survives restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Status is the processing state of a document.
type Status string

const (
	// StatusUploaded means the document text is stored but not processed.
	StatusUploaded Status = "uploaded"
	// StatusChunking means the text is being split into chunks.
	StatusChunking Status = "chunking"
	// StatusEmbedding means chunks are being embedded and indexed.
	StatusEmbedding Status = "embedding"
	// StatusReady means the document is searchable.
	StatusReady Status = "ready"
	// StatusFailed means processing stopped; Error carries the reason.
	StatusFailed Status = "failed"
)

// InsightType identifies a kind of generated insight.
type InsightType string

const (
	// InsightSummary is a structured document summary.
	InsightSummary InsightType = "summary"
	// InsightExtraction is structured key-information extraction.
	InsightExtraction InsightType = "extraction"
	// InsightRisk is a risk analysis.
	InsightRisk InsightType = "risk"
	// InsightComparison is a cross-document comparison.
	InsightComparison InsightType = "comparison"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser is a question sent by the human operator.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the system.
	RoleAssistant Role = "assistant"
)

// Sentinel errors returned by store operations.
var (
	// ErrNotFound means the referenced document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrConflict means a status update did not match the expected
	// current status. Used as the per-document processing claim.
	ErrConflict = errors.New("store: status conflict")
)

// Document is an uploaded document with its metadata and processing state.
type Document struct {
	// ID is a UUID assigned at creation.
	ID string
	// Name is the caller-supplied display name.
	Name string
	// Status is the current processing state.
	Status Status
	// Error is the failure reason when Status is failed, else empty.
	Error string
	// Content is the full extracted text.
	Content string
	// WordCount and PageCount are computed during processing.
	WordCount int
	PageCount int
	// CreatedAt and UpdatedAt track row lifetimes.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a contiguous slice of document text, the retrieval unit.
type Chunk struct {
	// ID is the database rowid, also used as the vector id in the index.
	ID int64
	// DocumentID is the owning document.
	DocumentID string
	// Index is the zero-based position within the document.
	Index int
	// Content is the chunk text.
	Content string
	// StartChar and EndChar are byte offsets into the cleaned text, as
	// produced by the chunker.
	StartChar int
	EndChar   int
	// Page is the estimated page number, 1-based.
	Page int
}

// Insight is a generated analysis of one document. At most one row exists
// per (document, type); regeneration replaces the previous one.
type Insight struct {
	ID         int64
	DocumentID string
	Type       InsightType
	// Content is the structured result as JSON.
	Content string
	// Demo marks content synthesized without a live model.
	Demo      bool
	CreatedAt time.Time
}

// ChatMessage is a single turn in a document conversation.
type ChatMessage struct {
	ID         int64
	DocumentID string
	Role       Role
	Content    string
	// Sources is a JSON array of cited chunks, empty for user turns.
	Sources   string
	CreatedAt time.Time
}

// Store persists documents, chunks, insights, and chat history in a local
// SQLite database. Safe for concurrent use.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default database path, ~/.docsight/docsight.db,
// creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docsight")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "docsight.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT    PRIMARY KEY,
    name        TEXT    NOT NULL,
    status      TEXT    NOT NULL CHECK(status IN ('uploaded','chunking','embedding','ready','failed')),
    error       TEXT    NOT NULL DEFAULT '',
    content     TEXT    NOT NULL,
    word_count  INTEGER NOT NULL DEFAULT 0,
    page_count  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id TEXT    NOT NULL REFERENCES documents(id),
    chunk_index INTEGER NOT NULL,
    content     TEXT    NOT NULL,
    start_char  INTEGER NOT NULL,
    end_char    INTEGER NOT NULL,
    page        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chunks_document
    ON chunks (document_id, chunk_index);
CREATE TABLE IF NOT EXISTS insights (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id TEXT    NOT NULL REFERENCES documents(id),
    type        TEXT    NOT NULL,
    content     TEXT    NOT NULL,
    demo        INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    UNIQUE (document_id, type)
);
CREATE TABLE IF NOT EXISTS chat_messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id TEXT    NOT NULL REFERENCES documents(id),
    role        TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content     TEXT    NOT NULL,
    sources     TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_document_created
    ON chat_messages (document_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateDocument inserts a new document in the uploaded state and returns
// it with a generated id and timestamps filled in.
func (s *Store) CreateDocument(ctx context.Context, name, content string) (Document, error) {
	doc := Document{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusUploaded,
		Content:   content,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	const q = `INSERT INTO documents (id, name, status, error, content, word_count, page_count, created_at, updated_at)
	           VALUES (?, ?, ?, '', ?, 0, 0, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, doc.ID, doc.Name, string(doc.Status), doc.Content,
		doc.CreatedAt.Unix(), doc.UpdatedAt.Unix())
	if err != nil {
		return Document{}, fmt.Errorf("store: create document: %w", err)
	}
	return doc, nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	const q = `SELECT id, name, status, error, content, word_count, page_count, created_at, updated_at
	           FROM documents WHERE id = ?`
	var d Document
	var status string
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&d.ID, &d.Name, &status, &d.Error,
		&d.Content, &d.WordCount, &d.PageCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: get document: %w", err)
	}
	d.Status = Status(status)
	d.CreatedAt = time.Unix(created, 0)
	d.UpdatedAt = time.Unix(updated, 0)
	return d, nil
}

// ListDocuments returns all documents newest-first, without their content.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	const q = `SELECT id, name, status, error, word_count, page_count, created_at, updated_at
	           FROM documents ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var status string
		var created, updated int64
		if err := rows.Scan(&d.ID, &d.Name, &status, &d.Error, &d.WordCount, &d.PageCount, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: list documents scan: %w", err)
		}
		d.Status = Status(status)
		d.CreatedAt = time.Unix(created, 0)
		d.UpdatedAt = time.Unix(updated, 0)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list documents rows: %w", err)
	}
	return docs, nil
}

// UpdateStatus moves a document from one status to another, recording the
// failure reason when the target is failed. The from check makes concurrent
// processors mutually exclusive: the update only applies if the document is
// still in the expected state, otherwise ErrConflict is returned.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to Status, reason string) error {
	const q = `UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, q, string(to), reason, time.Now().Unix(), id, string(from))
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update status rows: %w", err)
	}
	if n == 0 {
		if _, err := s.GetDocument(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: document %s is not %s", ErrConflict, id, from)
	}
	return nil
}

// UpdateCounts records the word and page counts computed during processing.
func (s *Store) UpdateCounts(ctx context.Context, id string, words, pages int) error {
	const q = `UPDATE documents SET word_count = ?, page_count = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, words, pages, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("store: update counts: %w", err)
	}
	return nil
}

// DeleteDocument removes the document row. Chunks, insights, and chat
// history must be deleted first; the pipeline owns that ordering.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertChunks persists a batch of chunks for one document inside a single
// transaction and returns them with their assigned row ids.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]Chunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: insert chunks begin: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO chunks (document_id, chunk_index, content, start_char, end_char, page)
	           VALUES (?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: insert chunks prepare: %w", err)
	}
	defer stmt.Close()

	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		res, err := stmt.ExecContext(ctx, c.DocumentID, c.Index, c.Content, c.StartChar, c.EndChar, c.Page)
		if err != nil {
			return nil, fmt.Errorf("store: insert chunk %d: %w", c.Index, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("store: insert chunk %d id: %w", c.Index, err)
		}
		out[i] = c
		out[i].ID = id
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: insert chunks commit: %w", err)
	}
	return out, nil
}

// ChunksByDocument returns a document's chunks ordered by chunk index.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	const q = `SELECT id, document_id, chunk_index, content, start_char, end_char, page
	           FROM chunks WHERE document_id = ? ORDER BY chunk_index ASC`
	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: chunks by document: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunksByID returns the chunks with the given row ids, keyed by id.
// Missing ids are simply absent from the result.
func (s *Store) ChunksByID(ctx context.Context, ids []int64) (map[int64]Chunk, error) {
	out := make(map[int64]Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const q = `SELECT id, document_id, chunk_index, content, start_char, end_char, page
	           FROM chunks WHERE id = ?`
	for _, id := range ids {
		var c Chunk
		err := s.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.DocumentID, &c.Index,
			&c.Content, &c.StartChar, &c.EndChar, &c.Page)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: chunk by id %d: %w", id, err)
		}
		out[c.ID] = c
	}
	return out, nil
}

// DeleteChunks removes all chunks belonging to a document.
func (s *Store) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("store: delete chunks: %w", err)
	}
	return nil
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.StartChar, &c.EndChar, &c.Page); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunk rows: %w", err)
	}
	return chunks, nil
}

// UpsertInsight stores an insight, replacing any previous one of the same
// type for the document.
func (s *Store) UpsertInsight(ctx context.Context, in Insight) error {
	const q = `INSERT INTO insights (document_id, type, content, demo, created_at)
	           VALUES (?, ?, ?, ?, ?)
	           ON CONFLICT (document_id, type)
	           DO UPDATE SET content = excluded.content, demo = excluded.demo, created_at = excluded.created_at`
	demo := 0
	if in.Demo {
		demo = 1
	}
	if _, err := s.db.ExecContext(ctx, q, in.DocumentID, string(in.Type), in.Content, demo, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: upsert insight: %w", err)
	}
	return nil
}

// InsightsByDocument returns a document's insights, newest first.
func (s *Store) InsightsByDocument(ctx context.Context, documentID string) ([]Insight, error) {
	const q = `SELECT id, document_id, type, content, demo, created_at
	           FROM insights WHERE document_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: insights by document: %w", err)
	}
	defer rows.Close()
	return scanInsights(rows)
}

// InsightsByType returns all insights of one type across documents.
func (s *Store) InsightsByType(ctx context.Context, t InsightType) ([]Insight, error) {
	const q = `SELECT id, document_id, type, content, demo, created_at
	           FROM insights WHERE type = ? ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, string(t))
	if err != nil {
		return nil, fmt.Errorf("store: insights by type: %w", err)
	}
	defer rows.Close()
	return scanInsights(rows)
}

// DeleteInsights removes all insights belonging to a document.
func (s *Store) DeleteInsights(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM insights WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("store: delete insights: %w", err)
	}
	return nil
}

func scanInsights(rows *sql.Rows) ([]Insight, error) {
	var insights []Insight
	for rows.Next() {
		var in Insight
		var typ string
		var demo int
		var created int64
		if err := rows.Scan(&in.ID, &in.DocumentID, &typ, &in.Content, &demo, &created); err != nil {
			return nil, fmt.Errorf("store: scan insight: %w", err)
		}
		in.Type = InsightType(typ)
		in.Demo = demo != 0
		in.CreatedAt = time.Unix(created, 0)
		insights = append(insights, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: insight rows: %w", err)
	}
	return insights, nil
}

// AppendChatMessage persists a single conversation turn for a document.
func (s *Store) AppendChatMessage(ctx context.Context, documentID string, role Role, content, sources string) error {
	const q = `INSERT INTO chat_messages (document_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, documentID, string(role), content, sources, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append chat message: %w", err)
	}
	return nil
}

// ChatHistory returns a document's conversation ordered oldest-first.
func (s *Store) ChatHistory(ctx context.Context, documentID string) ([]ChatMessage, error) {
	const q = `SELECT id, document_id, role, content, sources, created_at
	           FROM chat_messages WHERE document_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: chat history: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var role string
		var created int64
		if err := rows.Scan(&m.ID, &m.DocumentID, &role, &m.Content, &m.Sources, &created); err != nil {
			return nil, fmt.Errorf("store: chat history scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(created, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chat history rows: %w", err)
	}
	return msgs, nil
}

// DeleteChatHistory removes all chat messages belonging to a document.
func (s *Store) DeleteChatHistory(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("store: delete chat history: %w", err)
	}
	return nil
}

// CountDocumentsByStatus returns the number of documents in each status.
func (s *Store) CountDocumentsByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count documents: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: count documents scan: %w", err)
		}
		out[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: count documents rows: %w", err)
	}
	return out, nil
}

// CountInsightsByType returns the number of stored insights of each type.
func (s *Store) CountInsightsByType(ctx context.Context) (map[InsightType]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM insights GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("store: count insights: %w", err)
	}
	defer rows.Close()

	out := make(map[InsightType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("store: count insights scan: %w", err)
		}
		out[InsightType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: count insights rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
