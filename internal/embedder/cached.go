package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/docsight/docsight-go/internal/cache"
)

// DefaultCacheSize is the default entry capacity for the embedding cache.
const DefaultCacheSize = 512

// Cached wraps an Embedder with a bounded LRU so repeated texts never
// re-invoke the backend. Texts are trimmed before the cache lookup; the trim
// happens here and only here so every caller sees the same normalization.
// Safe for concurrent use.
type Cached struct {
	inner Embedder
	lru   *cache.LRU[[]float32]
}

// NewCached wraps inner with an LRU of the given capacity.
// A capacity of zero uses DefaultCacheSize.
func NewCached(inner Embedder, capacity int) *Cached {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cached{
		inner: inner,
		lru:   cache.New[[]float32](capacity, 0),
	}
}

// Dimensions returns the inner embedder's vector length.
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Embed returns embeddings for texts, serving cached vectors where possible
// and calling the backend once with only the missing texts. Output order
// matches input order; a text appearing twice in one batch is embedded once.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missing []string
	missingAt := make(map[string][]int)
	for i, text := range texts {
		key := strings.TrimSpace(text)
		if vec, ok := c.lru.Get(key); ok {
			out[i] = vec
			continue
		}
		if _, seen := missingAt[key]; !seen {
			missing = append(missing, key)
		}
		missingAt[key] = append(missingAt[key], i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("embedder: cached embed: %w", err)
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(missing), len(vecs))
	}

	for j, key := range missing {
		c.lru.Put(key, vecs[j])
		for _, i := range missingAt[key] {
			out[i] = vecs[j]
		}
	}

	return out, nil
}

// EmbedOne embeds a single text, hitting the cache for repeated queries.
func (c *Cached) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// CacheStats returns a snapshot of the embedding cache counters.
func (c *Cached) CacheStats() cache.Stats { return c.lru.Stats() }
