// Package logging configures the structured logger the docsight services
// share. A single [*slog.Logger] is built at startup by [New] and travels
// through request and pipeline contexts via [WithLogger] / [FromContext],
// so every stage of a document's journey (upload, chunking, embedding,
// generation) logs with the same handler and attributes.
//
// Most log lines in this codebase are about one document. [WithDocument]
// derives a child logger tagged with that document's id and stores it back
// on the context, which keeps the tag attached across package boundaries
// without threading the id through every call.
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type contextKey struct{}

// New builds the process logger from LOG_LEVEL and LOG_FORMAT. JSON output
// on stderr is the default; text is for reading locally while developing.
func New() *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFromEnv()}

	var h slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// WithDocument returns a copy of ctx whose logger carries a document_id
// attribute, so everything logged downstream is attributable to one
// document without repeating the id at each call site.
func WithDocument(ctx context.Context, documentID string) context.Context {
	log := FromContext(ctx).With(slog.String("document_id", documentID))
	return WithLogger(ctx, log)
}

// FromContext returns the [*slog.Logger] stored in ctx, or [slog.Default]
// when none was attached. Callers never need to nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
