package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// SQLStore implements Store against SQLite: sessions plus messages,
// with a secondary index on messages.session_id.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if absent) the sqlite database at path
// and ensures the schema exists.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS messages (
	monotonic_id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	sequence INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	capture_time TEXT NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, sequence);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("memory: migrate sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLStore) CreateSession(ctx context.Context, session *sahayak.Session) error {
	meta, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("memory: marshal session metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, updated_at, metadata_json) VALUES (?, ?, ?, ?)`,
		session.ID, session.CreatedAt.UTC().Format(time.RFC3339), session.UpdatedAt.UTC().Format(time.RFC3339), string(meta),
	)
	if err != nil {
		return fmt.Errorf("memory: create session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*sahayak.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, updated_at, metadata_json FROM sessions WHERE session_id = ?`, id)

	var sess sahayak.Session
	var createdAt, updatedAt, metaJSON string
	if err := row.Scan(&sess.ID, &createdAt, &updatedAt, &metaJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: get session: %w", err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	sess.Metadata = map[string]any{}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &sess.Metadata)
	}
	return &sess, nil
}

func (s *SQLStore) TouchSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("memory: touch session: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.DeleteMessages(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("memory: delete session: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, msg *sahayak.Message) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("memory: marshal message metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, sequence, role, content, capture_time, metadata_json) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Sequence, string(msg.Role), msg.Content, msg.CaptureTime.UTC().Format(time.RFC3339), string(meta),
	)
	if err != nil {
		return fmt.Errorf("memory: append message: %w", err)
	}
	return nil
}

// RecentMessages returns the most-recent limit messages for sessionID
// in chronological order.
func (s *SQLStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]sahayak.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, sequence, role, content, capture_time, metadata_json
		 FROM messages WHERE session_id = ? ORDER BY sequence DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: recent messages: %w", err)
	}
	defer rows.Close()

	var out []sahayak.Message
	for rows.Next() {
		var m sahayak.Message
		var role, captureTime, metaJSON string
		if err := rows.Scan(&m.SessionID, &m.Sequence, &role, &m.Content, &captureTime, &metaJSON); err != nil {
			return nil, fmt.Errorf("memory: scan message: %w", err)
		}
		m.Role = sahayak.Role(role)
		m.CaptureTime, _ = time.Parse(time.RFC3339, captureTime)
		m.Metadata = map[string]any{}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse: rows came back newest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLStore) DeleteMessages(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("memory: delete messages: %w", err)
	}
	return nil
}

func (s *SQLStore) SessionsOlderThan(ctx context.Context, cutoffUnix int64) ([]string, error) {
	cutoff := time.Unix(cutoffUnix, 0).UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("memory: sessions older than: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) Close() error { return s.db.Close() }
