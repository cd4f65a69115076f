package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docsight/docsight-go/internal/chunker"
	"github.com/docsight/docsight-go/internal/embedder"
	"github.com/docsight/docsight-go/internal/index"
	"github.com/docsight/docsight-go/internal/llm"
	"github.com/docsight/docsight-go/internal/pipeline"
	"github.com/docsight/docsight-go/internal/store"
)

// components bundles the wired backend shared by the serve and process
// commands.
type components struct {
	store     *store.Store
	embedder  *embedder.Cached
	index     *index.Index
	gateway   *llm.Gateway
	processor *pipeline.Processor
}

// close releases the store and persists the index snapshot.
func (c *components) close(log *slog.Logger) {
	if err := c.index.Save(); err != nil {
		log.Warn("index snapshot save failed", slog.Any("error", err))
	}
	_ = c.store.Close()
}

// buildComponents wires the store, embedder, index, gateway, and processor
// from the environment.
func buildComponents(log *slog.Logger) (*components, error) {
	// DOCSIGHT_DB overrides the default path (~/.docsight/docsight.db).
	dbPath := os.Getenv("DOCSIGHT_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info("store opened", slog.String("path", dbPath))

	inner, err := embedder.NewFromEnv()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}
	emb := embedder.NewCached(inner, envInt("EMBEDDING_CACHE_SIZE", 0))

	// The index snapshot lives next to the database unless INDEX_PATH points
	// elsewhere.
	indexPath := os.Getenv("INDEX_PATH")
	if indexPath == "" {
		indexPath = filepath.Join(filepath.Dir(dbPath), "index.json")
	}
	ix, err := index.New(index.Config{
		Dimensions:       inner.Dimensions(),
		MigrateThreshold: envInt("INDEX_MIGRATE_THRESHOLD", 0),
		Path:             indexPath,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialise index: %w", err)
	}
	if err := ix.Load(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load index snapshot: %w", err)
	}
	stats := ix.Stats()
	log.Info("index loaded",
		slog.String("path", indexPath),
		slog.Int("vectors", stats.TotalVectors),
		slog.String("structure", stats.Structure),
	)

	gw, err := llm.NewFromEnv(llm.GatewayConfig{
		CacheSize: envInt("LLM_CACHE_SIZE", 0),
		CacheTTL:  envDuration("LLM_CACHE_TTL", 0),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialise LLM gateway: %w", err)
	}

	proc, err := pipeline.NewProcessor(st, chunker.New(chunker.Config{
		Size:    envInt("CHUNK_SIZE", 0),
		Overlap: envInt("CHUNK_OVERLAP", 0),
	}), emb, ix)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialise processor: %w", err)
	}

	return &components{
		store:     st,
		embedder:  emb,
		index:     ix,
		gateway:   gw,
		processor: proc,
	}, nil
}

// envInt reads an integer env var, returning fallback when unset or invalid.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envFloat32 reads a float env var, returning fallback when unset or invalid.
func envFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

// envDuration reads a duration env var ("90s", "2m"), returning fallback when
// unset or invalid.
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
