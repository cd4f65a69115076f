package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/docsight/docsight-go/internal/cache"
	"github.com/docsight/docsight-go/internal/logging"
)

// Gateway defaults. Three attempts with exponential backoff recovers from
// brief rate-limit windows without stretching a failing request past the
// point where a user is still waiting.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 8 * time.Second
	DefaultDeadline    = 2 * time.Minute
	DefaultCacheSize   = 256
	DefaultCacheTTL    = time.Hour
)

// GatewayConfig holds the retry, deadline, and cache policy for a Gateway.
type GatewayConfig struct {
	// MaxAttempts is the total number of backend calls allowed per request,
	// including the first. Defaults to DefaultMaxAttempts if zero.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry; each subsequent
	// retry doubles it, plus up to 50% jitter. Defaults to
	// DefaultBaseBackoff if zero.
	BaseBackoff time.Duration

	// MaxBackoff caps the computed delay. Defaults to DefaultMaxBackoff.
	MaxBackoff time.Duration

	// Deadline bounds one Generate call end to end, across all retries.
	// Defaults to DefaultDeadline if zero.
	Deadline time.Duration

	// CacheSize is the response cache entry capacity. Defaults to
	// DefaultCacheSize if zero.
	CacheSize int

	// CacheTTL expires cached responses. Defaults to DefaultCacheTTL.
	CacheTTL time.Duration
}

// Gateway fronts a Generator with a bounded LRU response cache and a
// transient-failure retry loop. A nil Generator puts the gateway in demo
// mode: responses are synthesized deterministically and tagged Demo so they
// are never mistaken for model output. Safe for concurrent use.
type Gateway struct {
	backend Generator
	cfg     GatewayConfig
	cache   *cache.LRU[string]

	// attempts and retries count backend calls and the subset that were
	// retries, for the metrics endpoint.
	attempts atomic.Uint64
	retries  atomic.Uint64

	// sleep is replaceable in tests so the retry loop runs instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway constructs a Gateway over backend. Pass a nil backend to run
// in demo mode.
func NewGateway(backend Generator, cfg GatewayConfig) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Gateway{
		backend: backend,
		cfg:     cfg,
		cache:   cache.New[string](cfg.CacheSize, cfg.CacheTTL),
		sleep:   sleepCtx,
	}
}

// Demo reports whether the gateway runs without a live backend.
func (g *Gateway) Demo() bool { return g.backend == nil }

// CacheStats returns a snapshot of the response cache counters.
func (g *Gateway) CacheStats() cache.Stats { return g.cache.Stats() }

// GenerateStats reports cumulative backend call counters.
type GenerateStats struct {
	// Attempts is the total number of backend calls made.
	Attempts uint64
	// Retries is the number of those calls that were retries of a
	// transient failure.
	Retries uint64
}

// Stats returns a snapshot of the gateway's backend call counters.
func (g *Gateway) Stats() GenerateStats {
	return GenerateStats{
		Attempts: g.attempts.Load(),
		Retries:  g.retries.Load(),
	}
}

// Generate produces a completion for prompt. Order of resolution:
// demo synthesis (no backend), cache hit (unless p.NoCache), then the
// retry loop against the backend. Only transient failures are retried;
// exhausting the attempt budget or the overall deadline returns
// ErrUnavailable wrapped around the last backend error.
func (g *Gateway) Generate(ctx context.Context, prompt string, p Params) (Response, error) {
	if g.backend == nil {
		return Response{Text: demoResponse(prompt), Demo: true}, nil
	}

	key := cacheKey(prompt, p)
	if !p.NoCache {
		if text, ok := g.cache.Get(key); ok {
			return Response{Text: text, Cached: true}, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Deadline)
	defer cancel()

	log := logging.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		g.attempts.Add(1)
		if attempt > 1 {
			g.retries.Add(1)
		}
		text, err := g.backend.Generate(ctx, prompt, p)
		if err == nil {
			if !p.NoCache {
				g.cache.Put(key, text)
			}
			return Response{Text: text, Attempts: attempt}, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return Response{Attempts: attempt}, fmt.Errorf("llm: %w: %w", ErrUnavailable, err)
		}
		if attempt == g.cfg.MaxAttempts {
			break
		}

		delay := g.backoff(attempt)
		log.Warn("llm: transient failure, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		if err := g.sleep(ctx, delay); err != nil {
			// Deadline elapsed mid-backoff; report the backend error, not
			// the bookkeeping one.
			return Response{Attempts: attempt}, fmt.Errorf("llm: %w: %w", ErrUnavailable, lastErr)
		}
	}

	return Response{Attempts: g.cfg.MaxAttempts}, fmt.Errorf("llm: %w after %d attempts: %w", ErrUnavailable, g.cfg.MaxAttempts, lastErr)
}

// backoff computes the delay before retry number attempt (1-based), doubling
// the base each time with up to 50% jitter, capped at MaxBackoff.
func (g *Gateway) backoff(attempt int) time.Duration {
	delay := g.cfg.BaseBackoff << (attempt - 1)
	if delay > g.cfg.MaxBackoff {
		delay = g.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

// cacheKey builds the canonical cache key from the prompt and the
// model-affecting parameters.
func cacheKey(prompt string, p Params) string {
	h := sha256.New()
	h.Write([]byte(p.Model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(float64(p.Temperature), 'f', 4, 32)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(p.MaxTokens)))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// sleepCtx blocks for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
