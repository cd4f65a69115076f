// Package chunker splits document text into ordered, overlapping passages
// sized for embedding. Boundaries prefer paragraph breaks, then sentence
// ends, then word boundaries, and never split a multi-byte rune.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters. Roughly 1000 characters per chunk with a 200
// character overlap keeps passages inside typical embedding-model windows
// while preserving context across chunk seams.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Config holds the chunking parameters.
type Config struct {
	// Size is the maximum number of bytes per chunk. Defaults to DefaultSize
	// if zero or negative.
	Size int

	// Overlap is the number of bytes shared between consecutive chunks.
	// Defaults to DefaultOverlap if zero or negative; clamped to Size/10
	// when it would otherwise prevent forward progress.
	Overlap int
}

// Chunk is one contiguous passage of a document's text.
type Chunk struct {
	// Index is the 0-based position of this chunk within its document.
	// Indices are dense: a document with n chunks has indices 0..n-1.
	Index int

	// Content is the chunk text, trimmed of surrounding whitespace.
	Content string

	// StartChar and EndChar are byte offsets of the untrimmed span in the
	// source text (EndChar exclusive).
	StartChar int
	EndChar   int

	// WordCount is the number of whitespace-separated words in Content.
	WordCount int
}

// Chunker splits text into overlapping chunks according to its Config.
type Chunker struct {
	cfg Config
}

// New constructs a Chunker, applying defaults for unset Config fields.
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Overlap >= cfg.Size {
		cfg.Overlap = cfg.Size / 10
	}
	return &Chunker{cfg: cfg}
}

// Split divides text into ordered overlapping chunks covering the whole
// input. Empty or whitespace-only text yields no chunks. The final chunk may
// be shorter than the configured size and carries no trailing overlap.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	size := c.cfg.Size
	overlap := c.cfg.Overlap

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = breakPoint(text, start, end, size)
		}

		content := strings.TrimSpace(text[start:end])
		if content != "" {
			chunks = append(chunks, Chunk{
				Index:     len(chunks),
				Content:   content,
				StartChar: start,
				EndChar:   end,
				WordCount: len(strings.Fields(content)),
			})
		}

		if end == len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		// Overlap may land mid-rune; move forward to the next rune start.
		start = runeStart(text, next)
	}

	return chunks
}

// breakPoint picks the best split position in text[start:end], preferring a
// paragraph break, then a sentence end, then a word boundary within the back
// half of the window. Falls back to a hard cut aligned to a rune boundary.
func breakPoint(text string, start, end, size int) int {
	half := start + size/2

	if p := strings.LastIndex(text[half:end], "\n\n"); p != -1 {
		return half + p + 2
	}

	sentence := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if p := strings.LastIndex(text[half:end], sep); p > sentence {
			sentence = p
		}
	}
	if sentence != -1 {
		return half + sentence + 2
	}

	if p := strings.LastIndex(text[half:end], " "); p != -1 {
		return half + p + 1
	}

	return runeStart(text, end)
}

// runeStart returns the largest offset <= pos that begins a UTF-8 rune.
func runeStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}
