// Package retrieval answers fact-seeking questions against a corpus
// of embedded textbook pages: embed the query, scan the corpus by
// cosine similarity, assemble the best pages into a context block,
// and generate an answer with citations.
package retrieval

import (
	"fmt"
	"strings"

	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// ParseSource splits a document's provenance string into its five
// positional fields: class|subject|book|language|page. Parsing is
// strict; any other field count is an error.
func ParseSource(source string) (sahayak.SourceHeader, error) {
	parts := strings.Split(source, "|")
	if len(parts) != 5 {
		return sahayak.SourceHeader{}, fmt.Errorf("retrieval: malformed source %q: want 5 pipe-delimited fields, got %d", source, len(parts))
	}
	return sahayak.SourceHeader{
		Class:    strings.TrimSpace(parts[0]),
		Subject:  strings.TrimSpace(parts[1]),
		Book:     strings.TrimSpace(parts[2]),
		Language: strings.TrimSpace(parts[3]),
		Page:     strings.TrimSpace(parts[4]),
	}, nil
}

// FormatSource renders h back into the canonical pipe-delimited form.
func FormatSource(h sahayak.SourceHeader) string {
	return strings.Join([]string{h.Class, h.Subject, h.Book, h.Language, h.Page}, "|")
}

// Header renders the human-readable prefix placed above each document
// in the assembled context block.
func Header(h sahayak.SourceHeader) string {
	return fmt.Sprintf("[Class %s / %s / %s / %s / page %s]", h.Class, h.Subject, h.Book, h.Language, h.Page)
}
