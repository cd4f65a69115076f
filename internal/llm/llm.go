// Package llm wraps generative model backends behind a Gateway that adds
// response caching, transient-failure retry with backoff and jitter, an
// overall per-call deadline, and a deterministic demo mode for running with
// no backend configured. Backends (OpenAI-compatible, Ollama) are reached
// via plain HTTP.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when generation cannot be completed: the
// backend exhausted its retry budget or is misconfigured. Callers surface
// this to the user; the gateway never substitutes fabricated answer text
// for a real failure.
var ErrUnavailable = errors.New("generation unavailable")

// Params are the generation parameters that shape one call. Model-affecting
// fields (Model, Temperature, MaxTokens) participate in the response cache
// key; NoCache does not.
type Params struct {
	// Model overrides the client's default model when non-empty.
	Model string

	// Temperature controls sampling randomness (0 = deterministic-ish).
	Temperature float32

	// MaxTokens bounds the response length. 0 uses the client default.
	MaxTokens int

	// NoCache bypasses the response cache for this call. Used for chat QA,
	// where conversational answers should not be replayed verbatim.
	NoCache bool
}

// Response is a completed generation.
type Response struct {
	// Text is the model output.
	Text string

	// Demo is true when the text was synthesized by the offline demo mode
	// rather than a real model. Persisted insights carry this tag so demo
	// output is never mistaken for model output.
	Demo bool

	// Cached is true when the text was served from the response cache.
	Cached bool

	// Attempts is the number of backend calls made (0 for cache hits and
	// demo responses).
	Attempts int
}

// Generator is the capability of producing text from a prompt.
// Implementations must be safe to call from multiple goroutines and must
// classify failures via Transient so the gateway's retry loop can
// distinguish retryable conditions from permanent ones.
type Generator interface {
	// Generate produces a completion for prompt. Blocking; respects ctx.
	Generate(ctx context.Context, prompt string, p Params) (string, error)
}

// transientError marks an error as retryable (timeouts, rate limits,
// 5xx-equivalents). Non-transient errors (auth, invalid request) fail
// immediately without retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err to mark it retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// classifyStatus wraps an HTTP-level failure, marking retryable status
// codes (408, 429, 5xx) as transient.
func classifyStatus(status int, msg string) error {
	err := fmt.Errorf("HTTP %d: %s", status, msg)
	if status == 408 || status == 429 || status >= 500 {
		return Transient(err)
	}
	return err
}
