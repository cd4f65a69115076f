package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// scriptedGenerator returns the queued errors in order, then succeeds with
// the fixed text. It records how many calls it received.
type scriptedGenerator struct {
	errs  []error
	text  string
	calls int
}

func (s *scriptedGenerator) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	return s.text, nil
}

func newTestGateway(t *testing.T, backend Generator) *Gateway {
	t.Helper()
	g := NewGateway(backend, GatewayConfig{})
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func TestGenerateSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	backend := &scriptedGenerator{
		errs: []error{
			Transient(errors.New("HTTP 429: slow down")),
			Transient(errors.New("HTTP 503: overloaded")),
		},
		text: "recovered",
	}
	g := newTestGateway(t, backend)

	resp, err := g.Generate(context.Background(), "prompt", Params{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "recovered" {
		t.Errorf("Text = %q, want %q", resp.Text, "recovered")
	}
	if resp.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", resp.Attempts)
	}
	if backend.calls != 3 {
		t.Errorf("backend calls = %d, want 3", backend.calls)
	}
	stats := g.Stats()
	if stats.Attempts != 3 || stats.Retries != 2 {
		t.Errorf("stats = %+v, want 3 attempts with 2 retries", stats)
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	t.Parallel()

	backend := &scriptedGenerator{
		errs: []error{
			Transient(errors.New("HTTP 503: a")),
			Transient(errors.New("HTTP 503: b")),
			Transient(errors.New("HTTP 503: c")),
		},
	}
	g := newTestGateway(t, backend)

	_, err := g.Generate(context.Background(), "prompt", Params{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "HTTP 503: c") {
		t.Errorf("error should carry the last backend failure, got %q", err)
	}
	if backend.calls != DefaultMaxAttempts {
		t.Errorf("backend calls = %d, want %d", backend.calls, DefaultMaxAttempts)
	}
}

func TestGenerateDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	backend := &scriptedGenerator{
		errs: []error{errors.New("HTTP 401: bad key")},
	}
	g := newTestGateway(t, backend)

	_, err := g.Generate(context.Background(), "prompt", Params{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1 (no retry on permanent error)", backend.calls)
	}
}

func TestGenerateCachesResponses(t *testing.T) {
	t.Parallel()

	backend := &scriptedGenerator{text: "cached answer"}
	g := newTestGateway(t, backend)

	first, err := g.Generate(context.Background(), "same prompt", Params{Model: "m"})
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if first.Cached {
		t.Error("first response should not be cached")
	}

	second, err := g.Generate(context.Background(), "same prompt", Params{Model: "m"})
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if !second.Cached {
		t.Error("second response should come from cache")
	}
	if second.Text != first.Text {
		t.Errorf("cached Text = %q, want %q", second.Text, first.Text)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}
}

func TestGenerateNoCacheBypassesCache(t *testing.T) {
	t.Parallel()

	backend := &scriptedGenerator{text: "fresh"}
	g := newTestGateway(t, backend)

	for i := 0; i < 2; i++ {
		resp, err := g.Generate(context.Background(), "chat prompt", Params{NoCache: true})
		if err != nil {
			t.Fatalf("Generate %d: %v", i, err)
		}
		if resp.Cached {
			t.Errorf("Generate %d: NoCache response marked cached", i)
		}
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}
}

func TestCacheKeySeparatesModelAndTemperature(t *testing.T) {
	t.Parallel()

	base := cacheKey("prompt", Params{Model: "a", Temperature: 0.1})
	tests := []struct {
		name string
		p    Params
	}{
		{"different model", Params{Model: "b", Temperature: 0.1}},
		{"different temperature", Params{Model: "a", Temperature: 0.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if cacheKey("prompt", tt.p) == base {
				t.Error("cache key collision")
			}
		})
	}

	// NoCache must not affect the key: a cached entry written without the
	// flag should still be addressable.
	if cacheKey("prompt", Params{Model: "a", Temperature: 0.1, NoCache: true}) != base {
		t.Error("NoCache changed the cache key")
	}
}

func TestDemoModeGeneratesPlaceholders(t *testing.T) {
	t.Parallel()

	g := NewGateway(nil, GatewayConfig{})
	if !g.Demo() {
		t.Fatal("gateway with nil backend should report demo mode")
	}

	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{"summary", "Please summarize the following document", `"executive_summary"`},
		{"risks", "Identify risk factors in the text", `"risk_items"`},
		{"comparison", "Compare these documents", `"similarities"`},
		{"extraction", "Extract key information", `"main_topics"`},
		{"chat", "What is the termination clause?", "placeholder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := g.Generate(context.Background(), tt.prompt, Params{})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if !resp.Demo {
				t.Error("demo response not flagged Demo")
			}
			if !strings.Contains(resp.Text, tt.want) {
				t.Errorf("Text = %q, want it to contain %q", resp.Text, tt.want)
			}
		})
	}

	// Deterministic for identical prompts.
	a, _ := g.Generate(context.Background(), "summarize this", Params{})
	b, _ := g.Generate(context.Background(), "summarize this", Params{})
	if a.Text != b.Text {
		t.Error("demo responses for the same prompt differ")
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"wrapped transient", Transient(errors.New("timeout")), true},
		{"classified 429", classifyStatus(429, "rate limited"), true},
		{"classified 503", classifyStatus(503, "overloaded"), true},
		{"classified 401", classifyStatus(401, "bad key"), false},
		{"classified 400", classifyStatus(400, "bad request"), false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient = %v, want %v", got, tt.want)
			}
		})
	}
}
