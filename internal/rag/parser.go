package rag

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Models wrap JSON in markdown fences, leave trailing commas, or pad the
// object with prose. The parser strips and repairs what it can; when nothing
// parses, callers degrade to a partial result flagged as a parse issue
// rather than failing the operation.

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	braceRe         = regexp.MustCompile(`(?s)\{.*\}`)
	arrayRe         = regexp.MustCompile(`(?s)\[.*\]`)
)

// decodeJSON unmarshals a model response into out, repairing common
// formatting damage first. Returns false when no parseable JSON could be
// recovered; out is left untouched in that case.
func decodeJSON(response string, out any) bool {
	cleaned := strings.TrimSpace(response)
	if cleaned == "" {
		return false
	}

	if m := fenceRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}

	if tryUnmarshal(cleaned, out) {
		return true
	}
	if tryUnmarshal(fixTrailingCommas(cleaned), out) {
		return true
	}

	if block := braceRe.FindString(cleaned); block != "" {
		if tryUnmarshal(block, out) {
			return true
		}
		if tryUnmarshal(fixTrailingCommas(block), out) {
			return true
		}
	}

	if block := arrayRe.FindString(cleaned); block != "" {
		if tryUnmarshal(block, out) {
			return true
		}
	}

	return false
}

// tryUnmarshal decodes into a throwaway copy first so a failed attempt
// cannot leave out partially filled.
func tryUnmarshal(text string, out any) bool {
	var probe json.RawMessage
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return false
	}
	return json.Unmarshal(probe, out) == nil
}

// fixTrailingCommas removes commas immediately preceding a closing brace
// or bracket.
func fixTrailingCommas(text string) string {
	return trailingCommaRe.ReplaceAllString(text, "$1")
}
