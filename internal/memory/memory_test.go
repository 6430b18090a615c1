package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

type stubProvider struct {
	response string
	err      error
	calls    int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(context.Context, llm.Request) (string, error) {
	s.calls++
	return s.response, s.err
}

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLStore(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestMemory(t *testing.T, provider llm.Provider, cfg Config) (*Memory, *SQLStore) {
	t.Helper()
	store := openTestStore(t)
	var summarizer *Summarizer
	if provider != nil {
		summarizer = NewSummarizer(provider, 5, nil)
	}
	return New(store, summarizer, cfg), store
}

func TestLoadAndAppendCreatesSessionAndPersistsUserMessage(t *testing.T) {
	m, store := newTestMemory(t, nil, Config{})

	res, err := m.LoadAndAppend(context.Background(), "s1", "hello", time.Now().UTC())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Session.ID != "s1" {
		t.Errorf("session id = %q", res.Session.ID)
	}
	if len(res.RoutingTail) != 1 || res.RoutingTail[0].Role != sahayak.RoleUser {
		t.Errorf("routing tail = %+v", res.RoutingTail)
	}

	msgs, err := store.RecentMessages(context.Background(), "s1", 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("durable messages = %d (%v), want 1", len(msgs), err)
	}
	if msgs[0].Content != "hello" || msgs[0].Sequence != 1 {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestLoadAndAppendMintsSessionID(t *testing.T) {
	m, _ := newTestMemory(t, nil, Config{})

	res, err := m.LoadAndAppend(context.Background(), "", "hi", time.Now().UTC())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Session.ID == "" {
		t.Errorf("expected a minted session id")
	}
}

func TestSequencesAreContiguousAndIncreasing(t *testing.T) {
	m, store := newTestMemory(t, nil, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.LoadAndAppend(ctx, "s1", fmt.Sprintf("turn %d", i), time.Now().UTC()); err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
		if err := m.AppendAssistant(ctx, "s1", fmt.Sprintf("reply %d", i), time.Now().UTC()); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := store.RecentMessages(ctx, "s1", 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 6 {
		t.Fatalf("messages = %d, want 6", len(msgs))
	}
	for i, msg := range msgs {
		if msg.Sequence != int64(i+1) {
			t.Errorf("sequence[%d] = %d, want %d", i, msg.Sequence, i+1)
		}
	}
}

func TestRoutingTailBoundedByContextWindow(t *testing.T) {
	m, _ := newTestMemory(t, nil, Config{ContextWindow: 3, SummarizeThreshold: 100})
	ctx := context.Background()

	var res LoadResult
	var err error
	for i := 0; i < 6; i++ {
		res, err = m.LoadAndAppend(ctx, "s1", fmt.Sprintf("turn %d", i), time.Now().UTC())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if len(res.RoutingTail) != 3 {
		t.Errorf("routing tail = %d messages, want context window 3", len(res.RoutingTail))
	}
	if res.RoutingTail[2].Content != "turn 5" {
		t.Errorf("tail must end with the newest turn, got %q", res.RoutingTail[2].Content)
	}
}

func TestSummarizationCompressesInMemoryOnly(t *testing.T) {
	provider := &stubProvider{response: "They discussed six lessons."}
	m, store := newTestMemory(t, provider, Config{SummarizeThreshold: 6, ContextWindow: 10})
	ctx := context.Background()

	var res LoadResult
	var err error
	for i := 0; i < 7; i++ {
		res, err = m.LoadAndAppend(ctx, "s1", fmt.Sprintf("turn %d", i), time.Now().UTC())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
	}

	if !res.Summarized {
		t.Fatalf("expected summarization on the 7th turn")
	}
	_, msgs, ok := m.GetContext("s1")
	if !ok {
		t.Fatalf("session should be hot")
	}
	// keep-recent 5 plus the summary itself.
	if len(msgs) != 6 {
		t.Errorf("in-memory messages = %d, want 6", len(msgs))
	}
	if !msgs[0].IsSummary() {
		t.Errorf("first message should be the summary sentinel, got %+v", msgs[0])
	}

	durable, err := store.RecentMessages(ctx, "s1", 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(durable) != 7 {
		t.Errorf("durable history = %d, want full 7 (summarization never rewrites the store)", len(durable))
	}
}

func TestSummarizationFailureTruncates(t *testing.T) {
	provider := &stubProvider{err: llm.ErrUnavailable}
	m, _ := newTestMemory(t, provider, Config{SummarizeThreshold: 6, ContextWindow: 10})
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := m.LoadAndAppend(ctx, "s1", fmt.Sprintf("turn %d", i), time.Now().UTC()); err != nil {
			t.Fatalf("load: %v", err)
		}
	}

	_, msgs, _ := m.GetContext("s1")
	if len(msgs) != 5 {
		t.Errorf("failed summarization must truncate to keep-recent, got %d", len(msgs))
	}
	for _, msg := range msgs {
		if msg.IsSummary() {
			t.Errorf("no summary message expected on failure")
		}
	}
}

func TestHydrationAfterEviction(t *testing.T) {
	m, _ := newTestMemory(t, nil, Config{ContextWindow: 10})
	ctx := context.Background()

	if _, err := m.LoadAndAppend(ctx, "s1", "first", time.Now().UTC()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.ClearContext("s1") {
		t.Fatalf("expected eviction")
	}

	res, err := m.LoadAndAppend(ctx, "s1", "second", time.Now().UTC())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(res.RoutingTail) != 2 {
		t.Fatalf("hydrated tail = %d messages, want 2", len(res.RoutingTail))
	}
	if res.RoutingTail[0].Content != "first" {
		t.Errorf("hydration lost the first turn: %+v", res.RoutingTail)
	}
	if res.RoutingTail[1].Sequence != res.RoutingTail[0].Sequence+1 {
		t.Errorf("sequence must continue after hydration: %+v", res.RoutingTail)
	}
}

func TestGetAndClearContext(t *testing.T) {
	m, _ := newTestMemory(t, nil, Config{})
	ctx := context.Background()

	if _, _, ok := m.GetContext("nope"); ok {
		t.Errorf("unknown session must be absent")
	}

	if _, err := m.LoadAndAppend(ctx, "s1", "hi", time.Now().UTC()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, _, ok := m.GetContext("s1"); !ok {
		t.Errorf("session should be hot")
	}

	if !m.ClearContext("s1") {
		t.Errorf("clear should evict")
	}
	if _, _, ok := m.GetContext("s1"); ok {
		t.Errorf("cleared session must be absent")
	}
	if m.ClearContext("s1") {
		t.Errorf("second clear is a no-op")
	}
}

func TestCacheBoundedBySessionCacheMax(t *testing.T) {
	m, _ := newTestMemory(t, nil, Config{SessionCacheMax: 2})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.LoadAndAppend(ctx, id, "hi", time.Now().UTC()); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}

	if stats := m.CacheStats(); stats.Size > 2 {
		t.Errorf("cache size = %d, exceeds capacity 2", stats.Size)
	}
	if _, _, ok := m.GetContext("a"); ok {
		t.Errorf("oldest session should have been evicted")
	}
}

func TestSweepDeletesOldSessions(t *testing.T) {
	m, store := newTestMemory(t, nil, Config{})
	ctx := context.Background()

	if _, err := m.LoadAndAppend(ctx, "old", "hi", time.Now().UTC()); err != nil {
		t.Fatalf("load: %v", err)
	}
	// Age the session well past the retention window.
	if _, err := store.db.Exec(
		`UPDATE sessions SET updated_at = ? WHERE session_id = 'old'`,
		time.Now().AddDate(0, 0, -60).UTC().Format(time.RFC3339),
	); err != nil {
		t.Fatalf("age session: %v", err)
	}
	if _, err := m.LoadAndAppend(ctx, "fresh", "hi", time.Now().UTC()); err != nil {
		t.Fatalf("load: %v", err)
	}

	swept, err := m.Sweep(ctx, 30)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	if session, _ := store.GetSession(ctx, "old"); session != nil {
		t.Errorf("old session should be deleted")
	}
	if msgs, _ := store.RecentMessages(ctx, "old", 10); len(msgs) != 0 {
		t.Errorf("old messages should be deleted, got %d", len(msgs))
	}
	if session, _ := store.GetSession(ctx, "fresh"); session == nil {
		t.Errorf("fresh session must survive")
	}

	// Idempotent: nothing left to sweep.
	swept, err = m.Sweep(ctx, 30)
	if err != nil || swept != 0 {
		t.Errorf("second sweep = %d (%v), want 0", swept, err)
	}
}

func TestSessionMetadataRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	session := sahayak.Session{
		ID: "s1", CreatedAt: now, UpdatedAt: now,
		Metadata: map[string]any{"school": "govt primary"},
	}
	require.NoError(t, store.CreateSession(ctx, &session))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	if got.Metadata["school"] != "govt primary" {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if !strings.HasPrefix(got.CreatedAt.Format(time.RFC3339), now.Format(time.RFC3339)[:19]) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, now)
	}
}

func TestCacheAndSummarizationMetricsFlow(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	store := openTestStore(t)
	provider := &stubProvider{response: "A short recap."}
	summarizer := NewSummarizer(provider, 5, nil).WithMetrics(metrics)
	m := New(store, summarizer, Config{
		SessionCacheMax:    1,
		SummarizeThreshold: 6,
		ContextWindow:      10,
	}).WithMetrics(metrics)
	ctx := context.Background()

	// First load misses, six more hit; the 7th turn summarizes.
	for i := 0; i < 7; i++ {
		if _, err := m.LoadAndAppend(ctx, "s1", fmt.Sprintf("turn %d", i), time.Now().UTC()); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	// A second session evicts the first from the size-1 cache.
	if _, err := m.LoadAndAppend(ctx, "s2", "hi", time.Now().UTC()); err != nil {
		t.Fatalf("load: %v", err)
	}

	events := `
		# HELP sahayak_session_cache_events_total Hot cache hits, misses, and evictions
		# TYPE sahayak_session_cache_events_total counter
		sahayak_session_cache_events_total{event="evict"} 1
		sahayak_session_cache_events_total{event="hit"} 6
		sahayak_session_cache_events_total{event="miss"} 2
	`
	if err := testutil.CollectAndCompare(metrics.SessionCacheEvents, strings.NewReader(events)); err != nil {
		t.Errorf("unexpected cache events: %v", err)
	}

	summaries := `
		# HELP sahayak_summarizations_total Session summarizer runs by outcome
		# TYPE sahayak_summarizations_total counter
		sahayak_summarizations_total{outcome="summarized"} 1
	`
	if err := testutil.CollectAndCompare(metrics.SummarizationCounter, strings.NewReader(summaries)); err != nil {
		t.Errorf("unexpected summarization counts: %v", err)
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	m, store := newTestMemory(t, nil, Config{})
	ctx := context.Background()

	done := make(chan error, 2)
	for _, id := range []string{"s-a", "s-b"} {
		go func(id string) {
			for i := 0; i < 10; i++ {
				if _, err := m.LoadAndAppend(ctx, id, fmt.Sprintf("%s turn %d", id, i), time.Now().UTC()); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(id)
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent load: %v", err)
		}
	}

	for _, id := range []string{"s-a", "s-b"} {
		msgs, err := store.RecentMessages(ctx, id, 100)
		if err != nil || len(msgs) != 10 {
			t.Errorf("%s: messages = %d (%v), want 10", id, len(msgs), err)
		}
		for i, msg := range msgs {
			if msg.Sequence != int64(i+1) {
				t.Errorf("%s: sequence[%d] = %d", id, i, msg.Sequence)
			}
		}
	}
}
