package memory

import (
	"sync"
	"time"

	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// CachedSession is one hot-cache entry: a session plus its currently
// held in-memory messages (which may be fewer than the durable log,
// or a summary-compressed prefix after §4.2 summarization).
type CachedSession struct {
	mu       sync.Mutex
	Session  sahayak.Session
	Messages []sahayak.Message
}

// Snapshot returns a defensive copy of the cached messages.
func (c *CachedSession) Snapshot() (sahayak.Session, []sahayak.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]sahayak.Message, len(c.Messages))
	copy(msgs, c.Messages)
	return c.Session, msgs
}

// Append adds msg to the in-memory tail and bumps Session.UpdatedAt.
func (c *CachedSession) Append(msg sahayak.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = append(c.Messages, msg)
	c.Session.UpdatedAt = msg.CaptureTime
}

// Replace swaps the in-memory message list, used by the summarizer to
// install a compressed prefix.
func (c *CachedSession) Replace(msgs []sahayak.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = msgs
}

// Len returns the current in-memory message count.
func (c *CachedSession) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Messages)
}

// Cache is the bounded hot cache of recently active sessions, keyed
// by session id. Eviction is LRU, not semantic.
type Cache struct {
	lru *LRU[string, *CachedSession]
}

// NewCache builds a hot cache with the given capacity.
func NewCache(capacity int) *Cache {
	return &Cache{lru: NewLRU[string, *CachedSession](capacity)}
}

func (c *Cache) Get(sessionID string) (*CachedSession, bool) {
	return c.lru.Get(sessionID)
}

// Put stores cs under sessionID, reporting whether another session
// was evicted to make room.
func (c *Cache) Put(sessionID string, cs *CachedSession) bool {
	return c.lru.Put(sessionID, cs)
}

func (c *Cache) Evict(sessionID string) bool {
	return c.lru.Delete(sessionID)
}

func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) Stats() Stats { return c.lru.Stats() }

// NewSession builds a fresh Session with CreatedAt/UpdatedAt set to
// now, ready for insertion into both cache and durable store.
func NewSession(id string) sahayak.Session {
	now := time.Now().UTC()
	return sahayak.Session{ID: id, CreatedAt: now, UpdatedAt: now, Metadata: map[string]any{}}
}
