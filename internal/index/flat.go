package index

import "sort"

// Structure tags used for persistence and stats.
const (
	kindFlat = "flat"
	kindIVF  = "ivf"
)

// flat is the exact backing structure: every search scans all entries.
// Correct at any size; the index swaps it out past the migration threshold.
type flat struct{}

func (f *flat) kind() string { return kindFlat }

// add is a no-op; the flat scan reads entries directly.
func (f *flat) add(entries []Entry, positions []int) {}

// search scans every entry and returns the k best, score descending with
// ties broken by lower chunk index.
func (f *flat) search(entries []Entry, query []float32, k int) []scored {
	hits := make([]scored, 0, len(entries))
	for pos, e := range entries {
		hits = append(hits, scored{pos: pos, score: dot(query, e.Vector)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return entries[hits[i].pos].ChunkIndex < entries[hits[j].pos].ChunkIndex
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
