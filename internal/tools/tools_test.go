package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

type stubProvider struct {
	response string
	err      error
	lastReq  llm.Request
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	s.lastReq = req
	return s.response, s.err
}

func TestRegistryPreservesOrderAndCatalog(t *testing.T) {
	p := &stubProvider{}
	r := NewRegistry(NewActivityTool(p, nil), NewCrisisTool(p, nil), NewMotivationTool(p, nil))

	names := r.Names()
	want := []sahayak.ToolName{sahayak.ToolActivity, sahayak.ToolCrisis, sahayak.ToolMotivation}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("names[%d] = %s, want %s", i, names[i], n)
		}
	}

	catalog := r.Catalog()
	for _, n := range want {
		if !strings.Contains(catalog, string(n)) {
			t.Errorf("catalog missing %s:\n%s", n, catalog)
		}
	}

	def, ok := r.Default()
	if !ok || def.Descriptor().Name != sahayak.ToolActivity {
		t.Errorf("default tool should be the first registered")
	}
}

func TestActivityToolParsesPayload(t *testing.T) {
	p := &stubProvider{response: `{
		"name": "Stone counting",
		"description": "Count with stones",
		"materials": ["stones"],
		"steps": ["collect stones", "count them"],
		"duration_minutes": 25,
		"learning_outcome": "Counting to 50"
	}`}
	tool := NewActivityTool(p, nil)

	out, err := tool.Execute(context.Background(), "addition", Context{Grade: "3"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	a, ok := out.(*sahayak.Activity)
	if !ok {
		t.Fatalf("payload type %T", out)
	}
	if a.Name != "Stone counting" || len(a.Steps) != 2 {
		t.Errorf("payload = %+v", a)
	}
	if !strings.Contains(p.lastReq.User, "grade 3") {
		t.Errorf("structured context not in prompt: %q", p.lastReq.User)
	}
}

func TestActivityToolFallsBackOnGarbage(t *testing.T) {
	tool := NewActivityTool(&stubProvider{response: "no json here"}, nil)

	out, err := tool.Execute(context.Background(), "fractions", Context{})
	if err != nil {
		t.Fatalf("fallback path must not error: %v", err)
	}
	a := out.(*sahayak.Activity)
	if len(a.Steps) == 0 || a.Name == "" {
		t.Errorf("fallback payload must be complete: %+v", a)
	}
	if !strings.Contains(a.Name, "fractions") {
		t.Errorf("fallback should name the topic, got %q", a.Name)
	}
}

func TestActivityToolSurfacesModelUnavailable(t *testing.T) {
	tool := NewActivityTool(&stubProvider{err: llm.ErrUnavailable}, nil)

	if _, err := tool.Execute(context.Background(), "x", Context{}); err == nil {
		t.Fatalf("provider failure must surface as error")
	}
}

func TestCrisisToolDeclaresFollowUp(t *testing.T) {
	tool := NewCrisisTool(&stubProvider{}, nil)
	d := tool.Descriptor()
	if d.FollowUp != sahayak.ToolActivity {
		t.Errorf("crisis follow-up = %s, want activity", d.FollowUp)
	}
	if d.QualityGated {
		t.Errorf("crisis must not be quality gated")
	}
}

func TestCrisisToolFallbackIsSafe(t *testing.T) {
	tool := NewCrisisTool(&stubProvider{response: "{broken"}, nil)

	out, err := tool.Execute(context.Background(), "students fighting", Context{})
	if err != nil {
		t.Fatalf("fallback path must not error: %v", err)
	}
	a := out.(*sahayak.Activity)
	if len(a.Steps) == 0 {
		t.Errorf("fallback intervention must have steps")
	}
}

func TestMotivationToolParsesPayload(t *testing.T) {
	p := &stubProvider{response: `{
		"title": "Keep going",
		"acknowledgment": "This is hard.",
		"immediate_tips": ["breathe"],
		"long_term_strategies": ["find a peer"],
		"inspiration": "You matter.",
		"self_care_practices": ["rest"],
		"perspective_shifts": ["noise is energy"]
	}`}
	tool := NewMotivationTool(p, nil)

	out, err := tool.Execute(context.Background(), "I feel like quitting", Context{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	m := out.(*sahayak.Motivation)
	if m.Title != "Keep going" || len(m.ImmediateTips) != 1 {
		t.Errorf("payload = %+v", m)
	}
}

func TestFeedbackRejectsEmptyTranscript(t *testing.T) {
	tool := NewFeedbackTool(&stubProvider{}, nil)
	if _, err := tool.Analyze(context.Background(), sahayak.FeedbackRequest{}); err == nil {
		t.Fatalf("empty transcript must be rejected")
	}
}

func TestFeedbackParsesAndClampsScores(t *testing.T) {
	p := &stubProvider{response: `{
		"overall_score": 1.4,
		"concept_coverage": {"score": 0.8, "summary": "good"},
		"clarity": {"score": -0.1, "summary": "rushed"},
		"engagement": {"score": 0.6, "summary": "ok"},
		"rural_appropriateness": {"score": 0.9, "summary": "fits"},
		"key_strengths": ["clear voice"],
		"improvement_areas": ["pace"],
		"actionable_tips": ["pause more"]
	}`}
	tool := NewFeedbackTool(p, nil)

	card, err := tool.Analyze(context.Background(), sahayak.FeedbackRequest{
		Transcript: "Teacher: today we learn about plants...",
		Topic:      "photosynthesis",
		Grade:      "5",
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if card.OverallScore != 1 {
		t.Errorf("overall clamped = %v, want 1", card.OverallScore)
	}
	if card.Clarity.Score != 0 {
		t.Errorf("clarity clamped = %v, want 0", card.Clarity.Score)
	}
	if !strings.Contains(p.lastReq.User, "photosynthesis") || !strings.Contains(p.lastReq.User, "Grade: 5") {
		t.Errorf("prompt missing topic/grade: %q", p.lastReq.User)
	}
}

func TestFeedbackFallsBackOnGarbage(t *testing.T) {
	tool := NewFeedbackTool(&stubProvider{response: "cannot comply"}, nil)

	card, err := tool.Analyze(context.Background(), sahayak.FeedbackRequest{Transcript: "t"})
	if err != nil {
		t.Fatalf("fallback path must not error: %v", err)
	}
	if len(card.ActionableTips) == 0 {
		t.Errorf("fallback scorecard must carry tips")
	}
}

func TestContextFromMap(t *testing.T) {
	c := ContextFromMap(map[string]any{
		"grade": 4, "subject": "maths", "class_size": float64(38), "language": "hi",
	})
	if c.Grade != "4" || c.Subject != "maths" || c.ClassSize != 38 || c.Language != "hi" {
		t.Errorf("context = %+v", c)
	}
	if got := ContextFromMap(nil); got != (Context{}) {
		t.Errorf("nil map should yield zero context")
	}
	if !strings.Contains(c.Describe(), "class of 38 students") {
		t.Errorf("describe = %q", c.Describe())
	}
}
