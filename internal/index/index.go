// Package index implements the in-process vector index used for semantic
// search. Entries are (vector, chunk, document) triples; queries return the
// top-k most similar entries by inner product over normalized vectors.
//
// The index runs one of two private backing structures behind the same
// contract: an exact flat scan for small collections, and an IVF-style
// clustered structure for large ones. When the entry count crosses the
// configured threshold the index rebuilds itself into the clustered form in
// one bulk operation under the write lock; the swap is atomic and invisible
// to callers. Removing a document never downgrades the structure back to
// flat; the upgrade is monotonic to avoid rebuild churn.
package index

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// DefaultMigrateThreshold is the entry count at which the index rebuilds
// from the flat structure into the IVF structure.
const DefaultMigrateThreshold = 256

// filterOverfetch is the multiplier applied to k when a search is restricted
// to one document, so enough candidates survive the filter.
const filterOverfetch = 5

// Entry is one stored vector with its owning chunk and document.
type Entry struct {
	// Vector is the embedding, stored L2-normalized.
	Vector []float32 `json:"v"`
	// ChunkID is the persistent chunk row ID.
	ChunkID int64 `json:"chunk_id"`
	// DocumentID is the owning document's ID.
	DocumentID string `json:"document_id"`
	// ChunkIndex is the chunk's 0-based position within its document.
	ChunkIndex int `json:"chunk_index"`
}

// Result is one search hit.
type Result struct {
	// ChunkID is the matched chunk's row ID.
	ChunkID int64
	// DocumentID is the owning document's ID.
	DocumentID string
	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int
	// Score is the similarity in [-1, 1]; 1 means identical direction.
	Score float32
}

// Config holds the index construction parameters.
type Config struct {
	// Dimensions is the fixed vector length. Required.
	Dimensions int

	// MigrateThreshold is the entry count that triggers the flat→IVF
	// rebuild. Defaults to DefaultMigrateThreshold if zero.
	MigrateThreshold int

	// Path is the base path for Save/Load. Empty disables persistence.
	Path string
}

// structure is the private contract both backing structures satisfy.
// Implementations are not safe for concurrent use; Index serializes access.
type structure interface {
	// search returns up to k entry positions with scores, best first.
	search(entries []Entry, query []float32, k int) []scored
	// add integrates entries[positions] into the structure incrementally.
	add(entries []Entry, positions []int)
	// kind is the structure tag used for persistence and stats.
	kind() string
}

// scored pairs an entry position with its similarity score.
type scored struct {
	pos   int
	score float32
}

// Index is the concurrent vector index. Safe for concurrent use: searches
// share a read lock; Add, RemoveDocument, and the migration rebuild hold the
// write lock. Callers must compute embeddings before calling in; no lock is
// ever held across a provider call.
type Index struct {
	mu      sync.RWMutex
	cfg     Config
	entries []Entry
	backing structure

	// migrations counts completed flat→IVF rebuilds (0 or 1 in practice,
	// but removals plus re-inserts must not push it past 1).
	migrations int
}

// New constructs an empty Index starting in the flat structure.
func New(cfg Config) (*Index, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("index: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.MigrateThreshold <= 0 {
		cfg.MigrateThreshold = DefaultMigrateThreshold
	}
	return &Index{cfg: cfg, backing: &flat{}}, nil
}

// Add inserts entries into the index. Vectors are normalized on the way in.
// Crossing the migration threshold while the flat structure is active
// triggers the one-time rebuild into the IVF structure.
func (ix *Index) Add(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	positions := make([]int, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) != ix.cfg.Dimensions {
			return fmt.Errorf("index: vector has %d dimensions, index expects %d", len(e.Vector), ix.cfg.Dimensions)
		}
		e.Vector = normalize(e.Vector)
		positions = append(positions, len(ix.entries))
		ix.entries = append(ix.entries, e)
	}
	ix.backing.add(ix.entries, positions)

	ix.maybeMigrateLocked()
	return nil
}

// maybeMigrateLocked rebuilds into the IVF structure when the threshold is
// crossed and the flat structure is still active. Idempotent: an index that
// already migrated short-circuits, so a second crossing (after removals drop
// the count and inserts raise it again) cannot double-migrate.
func (ix *Index) maybeMigrateLocked() {
	if _, isFlat := ix.backing.(*flat); !isFlat {
		return
	}
	if len(ix.entries) < ix.cfg.MigrateThreshold {
		return
	}
	ix.backing = buildIVF(ix.entries)
	ix.migrations++
}

// Search returns up to k entries most similar to query, best first. Ties in
// score break toward the lower chunk index for determinism. When documentID
// is non-empty, results are restricted to that document; the backing
// structure is over-queried so the filter does not starve the result set.
// Returns fewer than k results when the index holds fewer matching entries.
func (ix *Index) Search(query []float32, k int, documentID string) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) != ix.cfg.Dimensions {
		return nil, fmt.Errorf("index: query has %d dimensions, index expects %d", len(query), ix.cfg.Dimensions)
	}
	query = normalize(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.entries) == 0 {
		return nil, nil
	}

	searchK := k
	if documentID != "" {
		searchK = k * filterOverfetch
	}
	if searchK > len(ix.entries) {
		searchK = len(ix.entries)
	}

	hits := ix.backing.search(ix.entries, query, searchK)

	results := make([]Result, 0, k)
	for _, h := range hits {
		e := ix.entries[h.pos]
		if documentID != "" && e.DocumentID != documentID {
			continue
		}
		results = append(results, Result{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			ChunkIndex: e.ChunkIndex,
			Score:      h.score,
		})
		if len(results) >= k {
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	return results, nil
}

// RemoveDocument deletes every entry belonging to documentID and rebuilds
// the current backing structure over the survivors. The structure kind is
// preserved, so removal never downgrades an IVF index to flat. Returns the
// number of entries removed.
func (ix *Index) RemoveDocument(documentID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	kept := ix.entries[:0]
	removed := 0
	for _, e := range ix.entries {
		if e.DocumentID == documentID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0
	}
	ix.entries = kept
	ix.rebuildLocked()
	return removed
}

// rebuildLocked reconstructs the active backing structure from ix.entries,
// preserving the structure kind so removal never downgrades IVF to flat.
func (ix *Index) rebuildLocked() {
	if len(ix.entries) == 0 {
		// Emptied out entirely: reset to a fresh flat index. The monotonic
		// upgrade rule exists to avoid churn on a live collection; an empty
		// index has no clusters left to preserve.
		ix.backing = &flat{}
		ix.migrations = 0
		return
	}
	if ix.backing.kind() == kindIVF {
		ix.backing = buildIVF(ix.entries)
		return
	}
	ix.backing = &flat{}
}

// Stats describes the index's current shape.
type Stats struct {
	// TotalVectors is the number of stored entries.
	TotalVectors int `json:"total_vectors"`
	// Dimensions is the fixed vector length.
	Dimensions int `json:"dimensions"`
	// Structure is "flat" or "ivf".
	Structure string `json:"structure"`
	// Documents is the number of distinct documents with entries.
	Documents int `json:"documents"`
	// Migrations is the number of completed flat→IVF rebuilds.
	Migrations int `json:"migrations"`
}

// Stats returns a snapshot of the index shape.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	docs := make(map[string]struct{}, 8)
	for _, e := range ix.entries {
		docs[e.DocumentID] = struct{}{}
	}
	return Stats{
		TotalVectors: len(ix.entries),
		Dimensions:   ix.cfg.Dimensions,
		Structure:    ix.backing.kind(),
		Documents:    len(docs),
		Migrations:   ix.migrations,
	}
}

// normalize returns v scaled to unit length. Zero vectors are returned as-is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1) < 1e-6 {
		return v
	}
	out := make([]float32, len(v))
	inv := float32(1 / norm)
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// dot returns the inner product of two equal-length vectors.
func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
