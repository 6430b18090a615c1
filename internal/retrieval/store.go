package retrieval

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// Filter restricts a corpus scan by equality on provenance fields.
// Empty fields match everything. Filters apply during the scan, so
// top-k is filled from the filtered set.
type Filter struct {
	Class    string
	Subject  string
	Language string
}

func (f Filter) matches(h sahayak.SourceHeader) bool {
	if f.Class != "" && f.Class != h.Class {
		return false
	}
	if f.Subject != "" && f.Subject != h.Subject {
		return false
	}
	if f.Language != "" && f.Language != h.Language {
		return false
	}
	return true
}

// Store is the corpus persistence contract: append-only document
// records plus an ordered scan.
type Store interface {
	Append(ctx context.Context, docs []sahayak.CorpusDocument) error

	// ForEach visits every document matching filter in ascending id
	// order. Returning an error from visit aborts the scan.
	ForEach(ctx context.Context, filter Filter, visit func(doc sahayak.CorpusDocument) error) error

	Count(ctx context.Context) (int, error)
	Close() error
}

// SQLStore implements Store against SQLite: one documents table with
// a packed little-endian float32 embedding blob and an index on the
// provenance string.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if absent) the corpus database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("retrieval: open corpus: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS documents (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	content   TEXT NOT NULL,
	embedding BLOB NOT NULL,
	source    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
`)
	if err != nil {
		return fmt.Errorf("retrieval: migrate corpus: %w", err)
	}
	return nil
}

// Append inserts docs in order within one transaction.
func (s *SQLStore) Append(ctx context.Context, docs []sahayak.CorpusDocument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("retrieval: append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (content, embedding, source) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("retrieval: append: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		if _, err := ParseSource(doc.Source); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, doc.Content, PackEmbedding(doc.Embedding), doc.Source); err != nil {
			return fmt.Errorf("retrieval: append: %w", err)
		}
	}
	return tx.Commit()
}

// ForEach streams matching documents in ascending id order. Documents
// whose source cannot be parsed are skipped rather than failing the
// whole scan.
func (s *SQLStore) ForEach(ctx context.Context, filter Filter, visit func(doc sahayak.CorpusDocument) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, embedding, source FROM documents ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("retrieval: scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc sahayak.CorpusDocument
		var blob []byte
		if err := rows.Scan(&doc.ID, &doc.Content, &blob, &doc.Source); err != nil {
			return fmt.Errorf("retrieval: scan: %w", err)
		}
		header, err := ParseSource(doc.Source)
		if err != nil {
			continue
		}
		if !filter.matches(header) {
			continue
		}
		doc.Embedding = UnpackEmbedding(blob)
		if err := visit(doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("retrieval: count: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// PackEmbedding encodes vec as little-endian float32 bytes.
func PackEmbedding(vec []float32) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4*len(vec)))
	for _, v := range vec {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

// UnpackEmbedding decodes a packed little-endian float32 blob.
func UnpackEmbedding(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec
}
