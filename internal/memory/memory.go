package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// Memory is the engine-owned conversation memory component: hot
// cache, durable store, per-session write serialisation, and
// summarization, wired together behind the single entrypoint the
// graph engine's load-context stage calls.
type Memory struct {
	cache      *Cache
	store      Store
	locker     *Locker
	summarizer *Summarizer
	metrics    *observability.Metrics

	contextWindow      int
	summarizeThreshold int
}

// Config configures a Memory instance.
type Config struct {
	SessionCacheMax    int
	ContextWindow      int
	SummarizeThreshold int
}

// New builds a Memory instance over store, using summarizer for
// over-long sessions.
func New(store Store, summarizer *Summarizer, cfg Config) *Memory {
	if cfg.SessionCacheMax <= 0 {
		cfg.SessionCacheMax = 1000
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 10
	}
	if cfg.SummarizeThreshold <= 0 {
		cfg.SummarizeThreshold = 20
	}
	return &Memory{
		cache:              NewCache(cfg.SessionCacheMax),
		store:              store,
		locker:             NewLocker(0),
		summarizer:         summarizer,
		contextWindow:      cfg.ContextWindow,
		summarizeThreshold: cfg.SummarizeThreshold,
	}
}

// WithMetrics attaches hot-cache instrumentation.
func (m *Memory) WithMetrics(metrics *observability.Metrics) *Memory {
	m.metrics = metrics
	return m
}

// LoadResult is what the "Load context" stage needs: the resolved
// session, the routing-context tail (last N messages), and whether
// summarization ran this call.
type LoadResult struct {
	Session      sahayak.Session
	RoutingTail  []sahayak.Message
	Summarized   bool
}

// LoadAndAppend resolves sessionID (creating it if new, hydrating
// from the durable store if it exists but isn't cached), appends
// utteranceText as a user message, runs the summarizer if the
// in-memory count now exceeds SummarizeThreshold, and returns the
// routing-context tail.
func (m *Memory) LoadAndAppend(ctx context.Context, sessionID, utteranceText string, captureTime time.Time) (LoadResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := m.locker.Lock(sessionID); err != nil {
		return LoadResult{}, fmt.Errorf("memory: %w", err)
	}
	defer m.locker.Unlock(sessionID)

	cs, ok := m.cache.Get(sessionID)
	if ok {
		m.metrics.ObserveCacheEvent("hit")
	} else {
		m.metrics.ObserveCacheEvent("miss")
		cs, ok = m.hydrate(ctx, sessionID)
	}
	if !ok {
		session := NewSession(sessionID)
		if err := m.store.CreateSession(ctx, &session); err != nil {
			return LoadResult{}, fmt.Errorf("memory: create session: %w", err)
		}
		cs = &CachedSession{Session: session}
		if m.cache.Put(sessionID, cs) {
			m.metrics.ObserveCacheEvent("evict")
		}
	}

	userMsg := sahayak.Message{
		SessionID:   sessionID,
		Sequence:    nextSequence(cs),
		Role:        sahayak.RoleUser,
		Content:     utteranceText,
		CaptureTime: captureTime,
		Metadata:    map[string]any{},
	}

	// The durable write lands before any downstream work that depends
	// on the append being visible. A failed write is dropped: the
	// in-memory session still advances so this request completes.
	_ = m.store.AppendMessage(ctx, &userMsg)
	_ = m.store.TouchSession(ctx, sessionID)

	cs.Append(userMsg)

	summarized := false
	if cs.Len() > m.summarizeThreshold && m.summarizer != nil {
		_, msgs := cs.Snapshot()
		compacted := m.summarizer.Compact(ctx, sessionID, msgs)
		cs.Replace(compacted)
		summarized = true
	}

	session, msgs := cs.Snapshot()
	tail := tailOf(msgs, m.contextWindow)
	return LoadResult{Session: session, RoutingTail: tail, Summarized: summarized}, nil
}

// AppendAssistant appends an assistant-role message to sessionID's
// cache entry and the durable store.
func (m *Memory) AppendAssistant(ctx context.Context, sessionID, content string, captureTime time.Time) error {
	if err := m.locker.Lock(sessionID); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	defer m.locker.Unlock(sessionID)

	cs, ok := m.cache.Get(sessionID)
	if !ok {
		cs, ok = m.hydrate(ctx, sessionID)
		if !ok {
			return fmt.Errorf("memory: append assistant message to unknown session %q", sessionID)
		}
	}

	msg := sahayak.Message{
		SessionID:   sessionID,
		Sequence:    nextSequence(cs),
		Role:        sahayak.RoleAssistant,
		Content:     content,
		CaptureTime: captureTime,
		Metadata:    map[string]any{},
	}
	if err := m.store.AppendMessage(ctx, &msg); err != nil {
		return fmt.Errorf("memory: append assistant message: %w", err)
	}
	_ = m.store.TouchSession(ctx, sessionID)
	cs.Append(msg)
	return nil
}

// hydrate loads sessionID from the durable store into the hot cache,
// reporting false if the session does not exist there either.
func (m *Memory) hydrate(ctx context.Context, sessionID string) (*CachedSession, bool) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return nil, false
	}
	msgs, err := m.store.RecentMessages(ctx, sessionID, m.contextWindow)
	if err != nil {
		msgs = nil // a failed read degrades to no prior context
	}
	cs := &CachedSession{Session: *session, Messages: msgs}
	if m.cache.Put(sessionID, cs) {
		m.metrics.ObserveCacheEvent("evict")
	}
	return cs, true
}

// GetContext is the Runtime API's get_context: a hot-cache-only read.
func (m *Memory) GetContext(sessionID string) (sahayak.Session, []sahayak.Message, bool) {
	cs, ok := m.cache.Get(sessionID)
	if !ok {
		return sahayak.Session{}, nil, false
	}
	session, msgs := cs.Snapshot()
	return session, msgs, true
}

// ClearContext is the Runtime API's clear_context: evicts sessionID
// from the hot cache only, leaving the durable store untouched.
func (m *Memory) ClearContext(sessionID string) bool {
	return m.cache.Evict(sessionID)
}

// CacheStats exposes the hot cache's size/hit/miss/eviction counters
// for the metrics subsystem.
func (m *Memory) CacheStats() Stats { return m.cache.Stats() }

func nextSequence(cs *CachedSession) int64 {
	_, msgs := cs.Snapshot()
	if len(msgs) == 0 {
		return 1
	}
	return msgs[len(msgs)-1].Sequence + 1
}

func tailOf(msgs []sahayak.Message, n int) []sahayak.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
