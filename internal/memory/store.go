// Package memory implements the conversation memory subsystem: a
// bounded hot cache of sessions, a durable append-only message log,
// summarization of over-long sessions, and a retention sweep.
package memory

import (
	"context"

	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// Store is the durable-store contract: an ordered, append-only log
// of messages plus a session index. Implementations
// must be safe for concurrent callers; this package serialises writes
// per session itself via Locker, so Store implementations need not.
type Store interface {
	CreateSession(ctx context.Context, session *sahayak.Session) error
	GetSession(ctx context.Context, id string) (*sahayak.Session, error)
	TouchSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, msg *sahayak.Message) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]sahayak.Message, error)
	DeleteMessages(ctx context.Context, sessionID string) error

	// SessionsOlderThan lists session ids whose updated_at predates
	// the retention cutoff.
	SessionsOlderThan(ctx context.Context, cutoffUnix int64) ([]string, error)

	Close() error
}
