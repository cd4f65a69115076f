// Package embedder converts text into dense vector embeddings. Each backend
// (OpenAI, Ollama) is reached via plain HTTP, with no SDK dependencies. All
// embedding traffic flows through Cached, which fronts the backend with a
// bounded LRU so repeated queries never re-invoke the provider.
package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"
)

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of the vectors this embedder produces.
	// Fixed for the lifetime of the process once the backend is chosen.
	Dimensions() int
}

// Fake is a deterministic in-process Embedder used in tests and when no
// embedding backend is configured. Vectors are derived from token hashes and
// L2-normalized, so identical texts map to identical unit vectors and texts
// sharing words land near each other, enough structure for the index and
// retrieval paths to behave realistically without a model.
type Fake struct {
	// Dim is the vector length. Defaults to 64 if zero.
	Dim int

	// Calls counts Embed invocations; tests use it to verify cache behavior.
	// Atomic because Fake serves concurrent pipelines when no backend is
	// configured, not only single-threaded tests.
	Calls atomic.Int64
}

// NewFake constructs a Fake embedder with the given dimensionality.
func NewFake(dim int) *Fake {
	if dim <= 0 {
		dim = 64
	}
	return &Fake{Dim: dim}
}

// Dimensions returns the configured vector length.
func (f *Fake) Dimensions() int {
	if f.Dim <= 0 {
		return 64
	}
	return f.Dim
}

// Embed produces one deterministic unit vector per input text.
func (f *Fake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.Calls.Add(1)
	dim := f.Dimensions()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, dim)
	}
	return out, nil
}

// hashVector spreads the text's byte windows over dim buckets and normalizes.
func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	data := []byte(text)
	if len(data) == 0 {
		vec[0] = 1
		return vec
	}

	// Overlapping 4-byte shingles capture shared substrings between texts.
	for i := 0; i < len(data); i++ {
		end := i + 4
		if end > len(data) {
			end = len(data)
		}
		h := fnv.New64a()
		h.Write(data[i:end])
		sum := h.Sum64()
		bucket := int(sum % uint64(dim))

		var sign float32 = 1
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
