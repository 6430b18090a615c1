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

const activityPrompt = "You design hands-on classroom activities for teachers in rural Indian schools. " +
	"Activities must use materials that cost nothing or nearly nothing (stones, sticks, chalk, bottle caps, " +
	"old newspapers), work without electricity, and suit multi-grade classrooms. " +
	`Return only JSON: {"name": "...", "description": "...", "materials": ["..."], "steps": ["..."], ` +
	`"duration_minutes": 30, "learning_outcome": "...", "tips": ["..."]}.`

// ActivityTool generates a hands-on activity for a topic. It opts
// into the quality gate and declares no follow-up.
type ActivityTool struct {
	provider llm.Provider
	logger   *observability.Logger
}

// NewActivityTool builds the activity generator over provider.
func NewActivityTool(provider llm.Provider, logger *observability.Logger) *ActivityTool {
	return &ActivityTool{provider: provider, logger: logger}
}

func (t *ActivityTool) Descriptor() Descriptor {
	return Descriptor{
		Name: sahayak.ToolActivity,
		Description: "Creates a hands-on classroom activity for teaching a specific topic " +
			"with low-cost materials. Use for requests like 'activity for teaching fractions'.",
		QualityGated: true,
	}
}

// Execute asks the model for an activity payload. An unavailable
// model surfaces as an error (the caller owns degradation); a model
// that answered but produced unusable JSON degrades to the canned
// fallback so the teacher still gets something runnable.
func (t *ActivityTool) Execute(ctx context.Context, topic string, tctx Context) (any, error) {
	ctx, cancel := llm.WithTimeout(ctx, "tool")
	defer cancel()

	raw, err := t.provider.Generate(ctx, llm.Request{
		System:    activityPrompt,
		User:      fmt.Sprintf("Topic: %s\nContext: %s", topic, tctx.Describe()),
		Mode:      llm.ModeJSON,
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, fmt.Errorf("activity: %w", err)
	}

	var a sahayak.Activity
	if err := jsonx.Extract(raw, &a); err != nil || strings.TrimSpace(a.Name) == "" || len(a.Steps) == 0 {
		if t.logger != nil {
			t.logger.Warn(ctx, "activity output unusable, returning fallback", "topic", topic)
		}
		return fallbackActivity(topic), nil
	}
	if a.DurationMinutes <= 0 {
		a.DurationMinutes = 30
	}
	return &a, nil
}

// fallbackActivity is the canned safe payload returned when the
// model's output cannot be parsed into the declared shape.
func fallbackActivity(topic string) *sahayak.Activity {
	if strings.TrimSpace(topic) == "" {
		topic = "today's lesson"
	}
	return &sahayak.Activity{
		Name:        "Think-pair-share: " + topic,
		Description: fmt.Sprintf("A no-preparation discussion activity to explore %s together.", topic),
		Materials:   []string{"chalk", "blackboard"},
		Steps: []string{
			fmt.Sprintf("Write one question about %s on the board.", topic),
			"Give students two minutes to think about it silently.",
			"Pair students and let them compare answers for three minutes.",
			"Invite pairs to share with the class and note answers on the board.",
			"Close by summarizing the best answers in one sentence.",
		},
		DurationMinutes: 20,
		LearningOutcome: fmt.Sprintf("Students can explain %s in their own words.", topic),
		Tips:            []string{"Walk between pairs and listen for misconceptions."},
	}
}
