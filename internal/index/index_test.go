package index

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
)

const testDims = 8

// randomEntries builds n deterministic pseudo-random entries for documentID,
// chunk indexes 0..n-1. A fixed seed keeps runs reproducible.
func randomEntries(seed int64, documentID string, n int) []Entry {
	rng := rand.New(rand.NewSource(seed))
	entries := make([]Entry, n)
	for i := range entries {
		v := make([]float32, testDims)
		for d := range v {
			v[d] = rng.Float32()*2 - 1
		}
		entries[i] = Entry{
			Vector:     v,
			ChunkID:    int64(i + 1),
			DocumentID: documentID,
			ChunkIndex: i,
		}
	}
	return entries
}

func newTestIndex(t *testing.T, cfg Config) *Index {
	t.Helper()
	if cfg.Dimensions == 0 {
		cfg.Dimensions = testDims
	}
	ix, err := New(cfg)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return ix
}

func TestNew_RejectsBadDimensions(t *testing.T) {
	t.Parallel()

	for _, dims := range []int{0, -4} {
		if _, err := New(Config{Dimensions: dims}); err == nil {
			t.Errorf("New with dimensions=%d: expected error", dims)
		}
	}
}

func TestAdd_RejectsDimensionMismatch(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	err := ix.Add([]Entry{{Vector: make([]float32, testDims+1), ChunkID: 1, DocumentID: "d"}})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestSearch_SelfMatch(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	entries := randomEntries(1, "doc", 20)
	if err := ix.Add(entries); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Querying with a stored vector must return that entry first with a
	// similarity of ~1 regardless of the input vector's magnitude.
	probe := entries[7]
	results, err := ix.Search(probe.Vector, 3, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].ChunkID != probe.ChunkID {
		t.Errorf("top hit chunk = %d, want %d", results[0].ChunkID, probe.ChunkID)
	}
	if math.Abs(float64(results[0].Score)-1) > 1e-4 {
		t.Errorf("self-match score = %f, want ~1", results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not in descending score order at %d", i)
		}
	}
}

func TestSearch_EdgeCases(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})

	if results, err := ix.Search(make([]float32, testDims), 5, ""); err != nil || results != nil {
		t.Errorf("empty index: got (%v, %v), want (nil, nil)", results, err)
	}

	if err := ix.Add(randomEntries(2, "doc", 4)); err != nil {
		t.Fatalf("add: %v", err)
	}

	if results, err := ix.Search(make([]float32, testDims), 0, ""); err != nil || results != nil {
		t.Errorf("k=0: got (%v, %v), want (nil, nil)", results, err)
	}
	if _, err := ix.Search(make([]float32, testDims-1), 5, ""); err == nil {
		t.Error("query dimension mismatch: expected error")
	}
	if results, _ := ix.Search(make([]float32, testDims), 10, ""); len(results) > 4 {
		t.Errorf("got %d results from a 4-entry index", len(results))
	}
}

func TestSearch_DocumentFilter(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	a := randomEntries(3, "doc-a", 30)
	b := randomEntries(4, "doc-b", 30)
	if err := ix.Add(a); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := ix.Add(b); err != nil {
		t.Fatalf("add b: %v", err)
	}

	query := b[11].Vector
	results, err := ix.Search(query, 5, "doc-b")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected filtered results")
	}
	for _, r := range results {
		if r.DocumentID != "doc-b" {
			t.Errorf("filter leaked a hit from %s", r.DocumentID)
		}
	}
	if results[0].ChunkIndex != 11 {
		t.Errorf("top filtered hit chunk index = %d, want 11", results[0].ChunkIndex)
	}
}

func TestRemoveDocument(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	if err := ix.Add(randomEntries(5, "keep", 10)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Add(randomEntries(6, "drop", 7)); err != nil {
		t.Fatalf("add: %v", err)
	}

	if removed := ix.RemoveDocument("drop"); removed != 7 {
		t.Errorf("removed = %d, want 7", removed)
	}
	if removed := ix.RemoveDocument("drop"); removed != 0 {
		t.Errorf("second removal = %d, want 0", removed)
	}
	if removed := ix.RemoveDocument("never-existed"); removed != 0 {
		t.Errorf("unknown document removal = %d, want 0", removed)
	}

	stats := ix.Stats()
	if stats.TotalVectors != 10 || stats.Documents != 1 {
		t.Errorf("stats = %+v, want 10 vectors in 1 document", stats)
	}

	results, err := ix.Search(make([]float32, testDims), 20, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.DocumentID == "drop" {
			t.Error("removed document still surfaces in search")
		}
	}
}

func TestMigration_TriggersAtThreshold(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	entries := randomEntries(7, "doc", DefaultMigrateThreshold+1)

	if err := ix.Add(entries[:DefaultMigrateThreshold-1]); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := ix.Stats().Structure; got != "flat" {
		t.Fatalf("below threshold structure = %q, want flat", got)
	}

	if err := ix.Add(entries[DefaultMigrateThreshold-1 : DefaultMigrateThreshold]); err != nil {
		t.Fatalf("add: %v", err)
	}
	stats := ix.Stats()
	if stats.Structure != "ivf" {
		t.Fatalf("at threshold structure = %q, want ivf", stats.Structure)
	}
	if stats.Migrations != 1 {
		t.Fatalf("migrations = %d, want 1", stats.Migrations)
	}

	// Further inserts stay on the clustered structure without re-migrating.
	if err := ix.Add(entries[DefaultMigrateThreshold:]); err != nil {
		t.Fatalf("add: %v", err)
	}
	stats = ix.Stats()
	if stats.Structure != "ivf" || stats.Migrations != 1 {
		t.Errorf("after threshold stats = %+v, want ivf with 1 migration", stats)
	}

	// Self-queries still come back first on the clustered structure.
	for _, probe := range []int{0, 100, 255} {
		results, err := ix.Search(entries[probe].Vector, 1, "")
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) == 0 || results[0].ChunkID != entries[probe].ChunkID {
			t.Errorf("chunk %d: self-match lost after migration", probe)
		}
	}
}

func TestMigration_CustomThreshold(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{MigrateThreshold: 8})
	if err := ix.Add(randomEntries(8, "doc", 8)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := ix.Stats().Structure; got != "ivf" {
		t.Errorf("structure = %q, want ivf at custom threshold", got)
	}
}

func TestMigration_NeverDowngrades(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{MigrateThreshold: 16})
	if err := ix.Add(randomEntries(9, "doc-a", 12)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Add(randomEntries(10, "doc-b", 12)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := ix.Stats().Structure; got != "ivf" {
		t.Fatalf("structure = %q, want ivf", got)
	}

	// Dropping below the threshold keeps the clustered structure, and a
	// second crossing must not count as another migration.
	ix.RemoveDocument("doc-b")
	stats := ix.Stats()
	if stats.Structure != "ivf" {
		t.Errorf("structure after removal = %q, want ivf", stats.Structure)
	}
	if err := ix.Add(randomEntries(11, "doc-c", 12)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := ix.Stats().Migrations; got != 1 {
		t.Errorf("migrations = %d, want 1", got)
	}

	// Emptying the index entirely resets it to a fresh flat structure.
	ix.RemoveDocument("doc-a")
	ix.RemoveDocument("doc-c")
	stats = ix.Stats()
	if stats.Structure != "flat" || stats.TotalVectors != 0 || stats.Migrations != 0 {
		t.Errorf("stats after emptying = %+v, want an empty flat index", stats)
	}
}

func TestPersist_SaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snapshots", "index.json")
	ix := newTestIndex(t, Config{Path: path, MigrateThreshold: 16})
	entries := randomEntries(12, "doc", 20)
	if err := ix.Add(entries); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := newTestIndex(t, Config{Path: path, MigrateThreshold: 16})
	if err := restored.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	want, got := ix.Stats(), restored.Stats()
	if want != got {
		t.Fatalf("restored stats = %+v, want %+v", got, want)
	}
	if got.Structure != "ivf" {
		t.Errorf("restored structure = %q, want ivf", got.Structure)
	}

	results, err := restored.Search(entries[4].Vector, 1, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 || results[0].ChunkID != entries[4].ChunkID {
		t.Error("self-match lost across the save/load roundtrip")
	}
}

func TestPersist_MissingSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{Path: filepath.Join(t.TempDir(), "missing.json")})
	if err := ix.Load(); err != nil {
		t.Fatalf("load with no snapshot: %v", err)
	}
	if got := ix.Stats().TotalVectors; got != 0 {
		t.Errorf("vectors = %d, want 0", got)
	}
}

func TestPersist_RejectsDimensionMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "index.json")
	ix := newTestIndex(t, Config{Path: path})
	if err := ix.Add(randomEntries(13, "doc", 3)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	other, err := New(Config{Dimensions: testDims * 2, Path: path})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if err := other.Load(); err == nil {
		t.Fatal("expected dimension mismatch error on load")
	}
}

func TestPersist_NoPathIsNoop(t *testing.T) {
	t.Parallel()

	ix := newTestIndex(t, Config{})
	if err := ix.Add(randomEntries(14, "doc", 3)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Save(); err != nil {
		t.Errorf("save without a path: %v", err)
	}
	if err := ix.Load(); err != nil {
		t.Errorf("load without a path: %v", err)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   []float32
	}{
		{"already unit", []float32{1, 0, 0}},
		{"needs scaling", []float32{3, 4, 0}},
		{"tiny values", []float32{1e-5, 2e-5, -1e-5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := normalize(tc.in)
			var sum float64
			for _, x := range out {
				sum += float64(x) * float64(x)
			}
			if math.Abs(sum-1) > 1e-4 {
				t.Errorf("normalized magnitude squared = %f, want 1", sum)
			}
		})
	}

	zero := []float32{0, 0, 0}
	if out := normalize(zero); fmt.Sprint(out) != fmt.Sprint(zero) {
		t.Errorf("zero vector changed: %v", out)
	}
}
