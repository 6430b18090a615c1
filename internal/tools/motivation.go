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

const motivationPrompt = "A teacher in a rural Indian school is feeling discouraged, overwhelmed, or burned out. " +
	"Respond with warm, practical support grounded in their reality: large classes, few resources, " +
	"little recognition. Acknowledge first, then help. " +
	`Return only JSON: {"title": "...", "acknowledgment": "...", "immediate_tips": ["..."], ` +
	`"long_term_strategies": ["..."], "inspiration": "...", "self_care_practices": ["..."], ` +
	`"perspective_shifts": ["..."]}.`

// MotivationTool returns structured emotional support for a
// discouraged teacher. No quality gate, no follow-up.
type MotivationTool struct {
	provider llm.Provider
	logger   *observability.Logger
}

// NewMotivationTool builds the motivation tool over provider.
func NewMotivationTool(provider llm.Provider, logger *observability.Logger) *MotivationTool {
	return &MotivationTool{provider: provider, logger: logger}
}

func (t *MotivationTool) Descriptor() Descriptor {
	return Descriptor{
		Name: sahayak.ToolMotivation,
		Description: "Supports a teacher who is frustrated, tired, or doubting themselves. " +
			"Use when the request is about the teacher's own feelings rather than a lesson.",
	}
}

func (t *MotivationTool) Execute(ctx context.Context, topic string, tctx Context) (any, error) {
	ctx, cancel := llm.WithTimeout(ctx, "tool")
	defer cancel()

	raw, err := t.provider.Generate(ctx, llm.Request{
		System:    motivationPrompt,
		User:      fmt.Sprintf("What the teacher said: %s\nContext: %s", topic, tctx.Describe()),
		Mode:      llm.ModeJSON,
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, fmt.Errorf("motivation: %w", err)
	}

	var m sahayak.Motivation
	if err := jsonx.Extract(raw, &m); err != nil || strings.TrimSpace(m.Acknowledgment) == "" {
		if t.logger != nil {
			t.logger.Warn(ctx, "motivation output unusable, returning fallback")
		}
		return fallbackMotivation(), nil
	}
	return &m, nil
}

func fallbackMotivation() *sahayak.Motivation {
	return &sahayak.Motivation{
		Title:          "You are doing more than you can see",
		Acknowledgment: "Teaching a full classroom with little support is genuinely hard, and feeling worn down by it is not a failure.",
		ImmediateTips: []string{
			"Take three slow breaths before the next class begins.",
			"Pick one small thing that went right today and write it down.",
		},
		LongTermStrategies: []string{
			"Find one colleague to share a five-minute debrief with each week.",
			"Rotate one low-preparation activity day into your week to recover energy.",
		},
		Inspiration:       "Every teacher who changed a life was, on many days, simply the one who stayed.",
		SelfCarePractices: []string{"Keep one evening a week completely free of school work."},
		PerspectiveShifts: []string{"A noisy class is often an engaged class that hasn't been aimed yet."},
	}
}
