package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/internal/memory"
	"github.com/sahayak-ai/sahayak/internal/quality"
	"github.com/sahayak-ai/sahayak/internal/tools"
	"github.com/sahayak-ai/sahayak/internal/translate"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// scriptedProvider dispatches on the system prompt so one stub can
// play router, tool, quality gate, and translator at once.
type scriptedProvider struct {
	mu sync.Mutex

	routeResponses   []string // consumed in order; last repeats
	routeCalls       int
	routeUsers       []string
	activityResponses []string
	activityCalls    int
	crisisResponse   string
	qualityResponses []string
	qualityCalls     int
	translateResponse string
	err              error
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	sys := req.System
	switch {
	case strings.Contains(sys, "route a teacher's request"):
		s.routeCalls++
		s.routeUsers = append(s.routeUsers, req.User)
		return pick(s.routeResponses, s.routeCalls), nil
	case strings.Contains(sys, "hands-on classroom activities"):
		s.activityCalls++
		return pick(s.activityResponses, s.activityCalls), nil
	case strings.Contains(sys, "immediate classroom problem"):
		return s.crisisResponse, nil
	case strings.Contains(sys, "strict reviewer"):
		s.qualityCalls++
		return pick(s.qualityResponses, s.qualityCalls), nil
	case strings.Contains(sys, "Translate each numbered line"):
		return s.translateResponse, nil
	case strings.Contains(sys, "Summarize this conversation"):
		return "Earlier turns covered classroom planning.", nil
	}
	return "", fmt.Errorf("scripted provider: unexpected prompt %q", sys[:min(40, len(sys))])
}

func pick(responses []string, call int) string {
	if len(responses) == 0 {
		return ""
	}
	if call-1 < len(responses) {
		return responses[call-1]
	}
	return responses[len(responses)-1]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

const goodActivity = `{
	"name": "Stone addition race",
	"description": "Teams add stone piles against the clock.",
	"materials": ["stones", "chalk"],
	"steps": ["split the class into teams", "each team builds two piles", "teams add and announce sums"],
	"duration_minutes": 25,
	"learning_outcome": "Students add two-digit numbers confidently"
}`

const routeActivityConfident = `{"selected_tool": "activity_generator", "reason": "teacher wants an activity", "extracted_topic": "addition", "confidence": 0.9}`
const qualityAccept = `{"overall_score": 0.9, "axis_scores": {"realism": 0.9, "educational": 0.9, "logical": 0.9, "factual": 0.9}, "issues": [], "verdict": "accept"}`

type testEnv struct {
	engine   *Engine
	provider *scriptedProvider
	store    *memory.SQLStore
	storePath string
}

func newTestEnv(t *testing.T, provider *scriptedProvider) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conv.db")
	return newTestEnvAt(t, provider, path)
}

func newTestEnvAt(t *testing.T, provider *scriptedProvider, storePath string) *testEnv {
	t.Helper()
	store, err := memory.OpenSQLStore(storePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	summarizer := memory.NewSummarizer(provider, 5, nil)
	mem := memory.New(store, summarizer, memory.Config{
		SessionCacheMax:    100,
		ContextWindow:      10,
		SummarizeThreshold: 20,
	})

	registry := tools.NewRegistry(
		tools.NewActivityTool(provider, nil),
		tools.NewCrisisTool(provider, nil),
		tools.NewMotivationTool(provider, nil),
	)

	engine := New(Deps{
		Provider:   provider,
		Memory:     mem,
		Registry:   registry,
		Gate:       quality.New(provider, 0.7, nil),
		Translator: translate.New(provider, nil),
		Feedback:   tools.NewFeedbackTool(provider, nil),
	}, Config{ConfidenceMin: 0.6, MaxRoutingRetries: 2, MaxQualityRetries: 2})

	return &testEnv{engine: engine, provider: provider, store: store, storePath: storePath}
}

func messagesFor(t *testing.T, store *memory.SQLStore, sessionID string) []sahayak.Message {
	t.Helper()
	msgs, err := store.RecentMessages(context.Background(), sessionID, 100)
	if err != nil {
		t.Fatalf("read messages: %v", err)
	}
	return msgs
}

func countRoles(msgs []sahayak.Message) (users, assistants int) {
	for _, m := range msgs {
		switch m.Role {
		case sahayak.RoleUser:
			users++
		case sahayak.RoleAssistant:
			assistants++
		}
	}
	return
}

func TestHappyPathEnglish(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	})

	resp, err := env.engine.Process(context.Background(), sahayak.Utterance{
		Text: "activity for teaching addition", SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.ToolUsed != sahayak.ToolActivity {
		t.Errorf("tool_used = %s", resp.ToolUsed)
	}
	if resp.Confidence < 0.6 {
		t.Errorf("confidence = %v", resp.Confidence)
	}
	if resp.Error != "" {
		t.Errorf("unexpected error %q", resp.Error)
	}
	if resp.ProcessingMs < 0 {
		t.Errorf("processing_ms = %d", resp.ProcessingMs)
	}
	activity, ok := resp.Result.(*sahayak.Activity)
	if !ok || len(activity.Steps) == 0 {
		t.Fatalf("result = %#v", resp.Result)
	}

	users, assistants := countRoles(messagesFor(t, env.store, "s1"))
	if users != 1 || assistants != 1 {
		t.Errorf("store has %d user / %d assistant messages, want 1/1", users, assistants)
	}
}

func TestCrisisTriggersFollowUp(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses: []string{`{"selected_tool": "crisis_handler", "reason": "urgent", "extracted_topic": "students making noise", "confidence": 0.85}`},
		crisisResponse: `{"name": "Freeze game", "description": "d", "materials": [], "steps": ["raise hand", "count down"], "duration_minutes": 5, "learning_outcome": "calm class"}`,
		activityResponses: []string{goodActivity},
	})

	resp, err := env.engine.Process(context.Background(), sahayak.Utterance{
		Text: "my students are making too much noise and not focusing", SessionID: "s2",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.ToolUsed != sahayak.ToolCrisis {
		t.Errorf("tool_used = %s", resp.ToolUsed)
	}
	activity, ok := resp.Result.(*sahayak.Activity)
	if !ok {
		t.Fatalf("result = %#v", resp.Result)
	}
	if activity.FollowUp == nil || len(activity.FollowUp.Steps) == 0 {
		t.Fatalf("follow-up missing: %#v", activity.FollowUp)
	}

	_, assistants := countRoles(messagesFor(t, env.store, "s2"))
	if assistants != 2 {
		t.Errorf("assistant messages = %d, want 2 (primary + follow-up)", assistants)
	}
}

func TestLowConfidenceRetriesThenTerminates(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses: []string{`{"selected_tool": "activity_generator", "reason": "unsure", "extracted_topic": "kids", "confidence": 0.2}`},
	})

	resp, err := env.engine.Process(context.Background(), sahayak.Utterance{Text: "kids", SessionID: "s3"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if env.provider.routeCalls != 3 {
		t.Errorf("route calls = %d, want exactly MaxRoutingRetries+1 = 3", env.provider.routeCalls)
	}
	if resp.Error == "" {
		t.Errorf("terminal low-confidence response must carry an error")
	}
	if resp.Result != nil {
		t.Errorf("no result expected, got %#v", resp.Result)
	}

	state, ok := env.engine.Checkpoint("s3")
	if !ok {
		t.Fatalf("checkpoint missing")
	}
	if state.RoutingAttempts != 3 {
		t.Errorf("routing_attempts = %d, want 3", state.RoutingAttempts)
	}
}

func TestConfidenceExactlyAtThresholdAccepted(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{`{"selected_tool": "activity_generator", "reason": "ok", "extracted_topic": "shapes", "confidence": 0.6}`},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	})

	resp, err := env.engine.Process(context.Background(), sahayak.Utterance{Text: "teach shapes", SessionID: "s-edge"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if env.provider.routeCalls != 1 {
		t.Errorf("confidence == threshold must not retry, route calls = %d", env.provider.routeCalls)
	}
	if resp.Error != "" {
		t.Errorf("unexpected error %q", resp.Error)
	}
}

func TestHindiRoundTrip(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
		translateResponse: `{"translations": ["पत्थर जोड़ दौड़", "टीमें पत्थरों के ढेर जोड़ती हैं।", "छात्र जोड़ में आत्मविश्वास पाते हैं", "कक्षा को टीमों में बांटें", "हर टीम दो ढेर बनाए", "टीमें जोड़कर उत्तर बताएं", "पत्थर", "चॉक"]}`,
	})

	resp, err := env.engine.Process(context.Background(), sahayak.Utterance{
		Text: "गणित के लिए गतिविधि चाहिए", SessionID: "s4",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	state, ok := env.engine.Checkpoint("s4")
	if !ok || state.SourceLanguage != "hi" {
		t.Errorf("source_language = %q, want hi", state.SourceLanguage)
	}

	activity := resp.Result.(*sahayak.Activity)
	hasDevanagari := func(s string) bool {
		for _, r := range s {
			if r >= 0x0900 && r <= 0x097F {
				return true
			}
		}
		return false
	}
	if !hasDevanagari(activity.Name) && !hasDevanagari(activity.Description) && !hasDevanagari(activity.LearningOutcome) {
		t.Errorf("expected Devanagari in translated fields: %+v", activity)
	}
}

func TestQualityGateRegeneration(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses: []string{routeActivityConfident},
		activityResponses: []string{
			`{"name": "Vague activity", "description": "d", "materials": [], "steps": ["do something"], "duration_minutes": 5, "learning_outcome": "?"}`,
			goodActivity,
		},
		qualityResponses: []string{
			`{"overall_score": 0.3, "axis_scores": {"realism": 0.3, "educational": 0.3, "logical": 0.3, "factual": 0.3}, "issues": ["too vague"], "verdict": "redo"}`,
			qualityAccept,
		},
	})

	resp, err := env.engine.Process(context.Background(), sahayak.Utterance{Text: "activity for fractions", SessionID: "s5"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	state, ok := env.engine.Checkpoint("s5")
	if !ok {
		t.Fatalf("checkpoint missing")
	}
	if state.QualityAttempts != 2 {
		t.Errorf("quality_attempts = %d, want 2", state.QualityAttempts)
	}
	activity := resp.Result.(*sahayak.Activity)
	if activity.Name != "Stone addition race" {
		t.Errorf("response must carry the regenerated payload, got %q", activity.Name)
	}
}

func TestSessionPersistenceAcrossRestart(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "conv.db")

	env1 := newTestEnvAt(t, &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	}, storePath)
	if _, err := env1.engine.Process(context.Background(), sahayak.Utterance{
		Text: "activity for teaching circles", SessionID: "s6",
	}); err != nil {
		t.Fatalf("first process: %v", err)
	}
	env1.store.Close()

	// Fresh engine, fresh hot cache, same durable store.
	provider2 := &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	}
	env2 := newTestEnvAt(t, provider2, storePath)
	if _, err := env2.engine.Process(context.Background(), sahayak.Utterance{
		Text: "now for diameter", SessionID: "s6",
	}); err != nil {
		t.Fatalf("second process: %v", err)
	}

	if len(provider2.routeUsers) == 0 {
		t.Fatalf("router never called")
	}
	routingContext := provider2.routeUsers[0]
	if !strings.Contains(routingContext, "activity for teaching circles") {
		t.Errorf("routing context lost the first request's turns:\n%s", routingContext)
	}
	if !strings.Contains(routingContext, "Suggested activity") {
		t.Errorf("routing context missing the first request's assistant turn:\n%s", routingContext)
	}
}

func TestStreamingEmitsStagesAndOneFinal(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	})

	var events []sahayak.StreamEvent
	for ev := range env.engine.ProcessStreaming(context.Background(), sahayak.Utterance{
		Text: "activity for addition", SessionID: "s7",
	}) {
		events = append(events, ev)
	}

	finals := 0
	errors := 0
	var stages []string
	for _, ev := range events {
		switch ev.Type {
		case sahayak.EventFinal:
			finals++
		case sahayak.EventError:
			errors++
		case sahayak.EventStageCompleted:
			stages = append(stages, ev.Stage)
		}
	}
	if finals != 1 || errors != 0 {
		t.Fatalf("terminal events: %d final, %d error, want exactly one final", finals, errors)
	}
	if events[len(events)-1].Type != sahayak.EventFinal {
		t.Errorf("final must be the last event")
	}
	wantOrder := []string{"load_context", "route", "confidence_gate", "execute", "validate", "quality_gate", "follow_up", "finalize"}
	if len(stages) != len(wantOrder) {
		t.Fatalf("completed stages = %v", stages)
	}
	for i, want := range wantOrder {
		if stages[i] != want {
			t.Errorf("stage[%d] = %s, want %s", i, stages[i], want)
		}
	}
	if events[len(events)-1].Response == nil || events[len(events)-1].Response.Error != "" {
		t.Errorf("final response = %+v", events[len(events)-1].Response)
	}
}

func TestEmptyUtteranceIsPure(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{})

	for i := 0; i < 3; i++ {
		resp, err := env.engine.Process(context.Background(), sahayak.Utterance{Text: "   ", SessionID: "pure-s"})
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if resp.Error == "" || resp.ToolUsed != sahayak.ToolNone {
			t.Errorf("empty utterance response = %+v", resp)
		}
	}

	if _, _, ok := env.engine.GetContext("pure-s"); ok {
		t.Errorf("empty utterance must not create a session")
	}
	session, err := env.store.GetSession(context.Background(), "pure-s")
	if err != nil || session != nil {
		t.Errorf("durable store must be untouched, got %v / %v", session, err)
	}
}

func TestUtteranceLengthBoundary(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	})

	atLimit := strings.Repeat("a", 1000)
	resp, err := env.engine.Process(context.Background(), sahayak.Utterance{Text: atLimit, SessionID: "len-ok"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Error != "" {
		t.Errorf("length 1000 must be accepted, got error %q", resp.Error)
	}

	overLimit := strings.Repeat("a", 1001)
	resp, err = env.engine.Process(context.Background(), sahayak.Utterance{Text: overLimit, SessionID: "len-bad"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Error == "" {
		t.Errorf("length 1001 must be rejected")
	}
	if session, _ := env.store.GetSession(context.Background(), "len-bad"); session != nil {
		t.Errorf("rejected utterance must not create a session")
	}
}

func TestClearContextLeavesDurableStore(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	})

	if _, err := env.engine.Process(context.Background(), sahayak.Utterance{Text: "activity", SessionID: "s8"}); err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, _, ok := env.engine.GetContext("s8"); !ok {
		t.Fatalf("session should be hot after processing")
	}
	before := len(messagesFor(t, env.store, "s8"))

	if !env.engine.ClearContext("s8") {
		t.Errorf("clear_context should report eviction")
	}
	if _, _, ok := env.engine.GetContext("s8"); ok {
		t.Errorf("get_context after clear must be absent")
	}
	if after := len(messagesFor(t, env.store, "s8")); after != before {
		t.Errorf("durable store changed by clear_context: %d -> %d", before, after)
	}
	// Clearing twice is a no-op, not an error.
	if env.engine.ClearContext("s8") {
		t.Errorf("second clear should report nothing evicted")
	}
}

func TestModelOutageSurfacesRedactedError(t *testing.T) {
	failing := &scriptedProvider{err: llm.ErrUnavailable}
	env2 := newTestEnvAt(t, failing, filepath.Join(t.TempDir(), "c.db"))

	resp, err := env2.engine.Process(context.Background(), sahayak.Utterance{Text: "activity for sums", SessionID: "s9"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	// Every model call fails, so Route falls back to the default tool at
	// confidence 0.5, below the 0.6 threshold; the routing loop runs out
	// of retries, no tool executes, and the failure is folded into the
	// response.
	if resp.Error == "" {
		t.Fatalf("expected error in response, got %+v", resp)
	}
	if strings.Contains(resp.Error, "ErrUnavailable") || strings.Contains(resp.Error, "provider") {
		t.Errorf("error must be redacted, got %q", resp.Error)
	}
	if resp.Result != nil {
		t.Errorf("failed request must yield empty result")
	}
	if resp.ToolUsed == sahayak.ToolNone || resp.ToolUsed == "" {
		t.Errorf("tool_used must record what was attempted, got %q", resp.ToolUsed)
	}

	_, assistants := countRoles(messagesFor(t, env2.store, "s9"))
	if assistants != 0 {
		t.Errorf("failed request must not append an assistant message, got %d", assistants)
	}
}

func TestCancellationProducesNoResponse(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := env.engine.Process(ctx, sahayak.Utterance{Text: "activity", SessionID: "s10"})
	if err == nil {
		t.Fatalf("cancelled request must return the context error, got %+v", resp)
	}
}

func TestStreamingCancelledEndsWithErrorEvent(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var last sahayak.StreamEvent
	count := map[sahayak.EventType]int{}
	for ev := range env.engine.ProcessStreaming(ctx, sahayak.Utterance{Text: "activity", SessionID: "s11"}) {
		last = ev
		count[ev.Type]++
	}
	if count[sahayak.EventError] != 1 || count[sahayak.EventFinal] != 0 {
		t.Errorf("terminal events = %v, want exactly one error", count)
	}
	if last.Type != sahayak.EventError {
		t.Errorf("last event = %v", last.Type)
	}
}

func TestRouterGarbageFallsBackToDefaultTool(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{"I'd suggest using the activity tool!"},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	})

	resp, err := env.engine.Process(context.Background(), sahayak.Utterance{Text: "help me teach", SessionID: "s12"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	state, _ := env.engine.Checkpoint("s12")
	if state.RoutingReason != "fallback" {
		t.Errorf("routing_reason = %q, want fallback", state.RoutingReason)
	}
	if state.RouteConfidence != 0.5 {
		t.Errorf("fallback confidence = %v, want 0.5", state.RouteConfidence)
	}
	// 0.5 < 0.6 threshold: router retries, keeps failing to parse,
	// and the request terminates as unroutable.
	if resp.Error == "" {
		t.Errorf("persistent parse failure should terminate as unroutable, got %+v", resp)
	}
}

func TestProcessingTimeNonNegative(t *testing.T) {
	env := newTestEnv(t, &scriptedProvider{
		routeResponses:    []string{routeActivityConfident},
		activityResponses: []string{goodActivity},
		qualityResponses:  []string{qualityAccept},
	})

	resp, err := env.engine.Process(context.Background(), sahayak.Utterance{Text: "activity", SessionID: "s13"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.ProcessingMs < 0 {
		t.Errorf("processing_ms = %d", resp.ProcessingMs)
	}
}
