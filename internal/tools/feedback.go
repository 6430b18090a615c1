package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahayak-ai/sahayak/internal/jsonx"
	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

const feedbackPrompt = "You review a transcript of a recorded lesson taught in a rural Indian school and " +
	"produce structured feedback for the teacher. Score each axis in [0,1]. Be specific: quote moments " +
	"from the transcript in your notes where possible, and name student misconceptions the teacher " +
	"missed or created. " +
	`Return only JSON: {"overall_score": 0.0, ` +
	`"concept_coverage": {"score": 0.0, "summary": "...", "notes": ["..."]}, ` +
	`"clarity": {"score": 0.0, "summary": "...", "notes": ["..."]}, ` +
	`"engagement": {"score": 0.0, "summary": "...", "notes": ["..."]}, ` +
	`"rural_appropriateness": {"score": 0.0, "summary": "...", "notes": ["..."]}, ` +
	`"key_strengths": ["..."], "improvement_areas": ["..."], "actionable_tips": ["..."], ` +
	`"misconceptions": ["..."]}.`

// FeedbackTool scores a recorded teaching session. It is reached
// through its own entrypoint, not through routing, and its scorecard
// is never written into conversation history.
type FeedbackTool struct {
	provider llm.Provider
	logger   *observability.Logger
}

// NewFeedbackTool builds the teaching-session feedback tool.
func NewFeedbackTool(provider llm.Provider, logger *observability.Logger) *FeedbackTool {
	return &FeedbackTool{provider: provider, logger: logger}
}

func (t *FeedbackTool) Descriptor() Descriptor {
	return Descriptor{
		Name: sahayak.ToolFeedback,
		Description: "Analyzes a recorded lesson transcript and returns a scored report with " +
			"strengths, improvement areas, and actionable tips.",
	}
}

// Execute satisfies the Tool contract for callers that only have a
// topic string; the transcript-bearing path is Analyze.
func (t *FeedbackTool) Execute(ctx context.Context, topic string, tctx Context) (any, error) {
	return t.Analyze(ctx, sahayak.FeedbackRequest{Transcript: topic, Grade: tctx.Grade})
}

// Analyze scores req's transcript and returns the scorecard.
func (t *FeedbackTool) Analyze(ctx context.Context, req sahayak.FeedbackRequest) (*sahayak.FeedbackScorecard, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, fmt.Errorf("feedback: empty transcript")
	}

	ctx, cancel := llm.WithTimeout(ctx, "tool")
	defer cancel()

	var sb strings.Builder
	if req.Topic != "" {
		fmt.Fprintf(&sb, "Topic: %s\n", req.Topic)
	}
	if req.Grade != "" {
		fmt.Fprintf(&sb, "Grade: %s\n", req.Grade)
	}
	fmt.Fprintf(&sb, "Transcript:\n%s", req.Transcript)

	raw, err := t.provider.Generate(ctx, llm.Request{
		System:    feedbackPrompt,
		User:      sb.String(),
		Mode:      llm.ModeJSON,
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: %w", err)
	}

	var card sahayak.FeedbackScorecard
	if err := jsonx.Extract(raw, &card); err != nil {
		if t.logger != nil {
			t.logger.Warn(ctx, "feedback output unusable, returning fallback")
		}
		return fallbackScorecard(), nil
	}
	clampCard(&card)
	return &card, nil
}

func clampCard(c *sahayak.FeedbackScorecard) {
	clamp := func(v *float64) {
		if *v < 0 {
			*v = 0
		}
		if *v > 1 {
			*v = 1
		}
	}
	clamp(&c.OverallScore)
	clamp(&c.ConceptCoverage.Score)
	clamp(&c.Clarity.Score)
	clamp(&c.Engagement.Score)
	clamp(&c.RuralAppropriateness.Score)
}

// fallbackScorecard is the canned payload when the analysis cannot be
// parsed: neutral scores and honest, generic guidance.
func fallbackScorecard() *sahayak.FeedbackScorecard {
	neutral := sahayak.SubAnalysis{Score: 0.5, Summary: "Could not be assessed automatically this time."}
	return &sahayak.FeedbackScorecard{
		OverallScore:         0.5,
		ConceptCoverage:      neutral,
		Clarity:              neutral,
		Engagement:           neutral,
		RuralAppropriateness: neutral,
		KeyStrengths:         []string{"You recorded and reviewed your own lesson, which most teachers never do."},
		ImprovementAreas:     []string{"Automatic analysis was unavailable; consider re-submitting the recording."},
		ActionableTips:       []string{"Ask one student to retell the main idea at the end of class to check understanding."},
	}
}
