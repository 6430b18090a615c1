package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// ingestBatchSize bounds how many pages are embedded per model call.
const ingestBatchSize = 32

// PageRecord is one line of an ingest file: a pre-extracted textbook
// page with its provenance.
type PageRecord struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Ingest reads newline-delimited JSON page records from r, embeds
// them in passage mode, and appends them to store. It returns the
// number of documents stored. This is the whole contract of the batch
// ingestion collaborator: records matching the corpus document shape,
// appended to the store.
func Ingest(ctx context.Context, r io.Reader, embedder llm.Embedder, store Store) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var batch []PageRecord
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = rec.Content
		}
		vecs, err := embedder.Embed(ctx, texts, llm.EmbedPassage)
		if err != nil {
			return fmt.Errorf("retrieval: embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("retrieval: embed batch: got %d vectors for %d pages", len(vecs), len(batch))
		}
		docs := make([]sahayak.CorpusDocument, len(batch))
		for i, rec := range batch {
			docs[i] = sahayak.CorpusDocument{Content: rec.Content, Embedding: vecs[i], Source: rec.Source}
		}
		if err := store.Append(ctx, docs); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec PageRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return total, fmt.Errorf("retrieval: ingest line %d: %w", line, err)
		}
		if rec.Content == "" {
			continue
		}
		if _, err := ParseSource(rec.Source); err != nil {
			return total, fmt.Errorf("retrieval: ingest line %d: %w", line, err)
		}
		batch = append(batch, rec)
		if len(batch) >= ingestBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("retrieval: ingest: %w", err)
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
