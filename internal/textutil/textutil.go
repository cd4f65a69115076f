// Package textutil provides text normalization helpers shared by the
// ingestion pipeline and the analysis prompt builders. Extraction/OCR happens
// upstream; this package only cleans and measures already-extracted text.
package textutil

import (
	"regexp"
	"strings"
)

// CharsPerPage is the assumed character density of one page, used when a
// document arrives without page information.
const CharsPerPage = 3000

// multiNewline matches runs of three or more consecutive newlines.
var multiNewline = regexp.MustCompile(`\n{3,}`)

// Clean normalizes extracted document text: line endings become \n, NUL
// bytes are stripped, runs of blank lines collapse to a single blank line,
// and trailing whitespace is removed from every line. Returns "" for
// whitespace-only input.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = multiNewline.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")

	return strings.TrimSpace(text)
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

// Truncate bounds text to roughly maxChars characters for analysis prompts.
// Long documents keep their beginning, a window around the middle, and the
// end, with elision markers between the sections, so the model sees the
// document's overall shape rather than just its head.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}

	third := maxChars / 3
	mid := len(text) / 2
	midStart := mid - third/2
	midEnd := mid + third/2

	var b strings.Builder
	b.WriteString(text[:third])
	b.WriteString("\n\n[...middle section...]\n\n")
	b.WriteString(text[midStart:midEnd])
	b.WriteString("\n\n[...end section...]\n\n")
	b.WriteString(text[len(text)-third:])
	return b.String()
}

// EstimatePages estimates a page count for text that arrived without page
// information (plain text, DOCX). Roughly CharsPerPage characters per page,
// never less than one page for non-empty text.
func EstimatePages(text string) int {
	if text == "" {
		return 0
	}
	if pages := len(text) / CharsPerPage; pages > 1 {
		return pages
	}
	return 1
}
