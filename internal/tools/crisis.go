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

const crisisPrompt = "A teacher is facing an immediate classroom problem (noise, conflict, loss of attention, " +
	"a distressed child) and needs something they can do in the next two minutes. " +
	"Respond with one concrete intervention shaped as an activity: short, calming, and requiring nothing " +
	"but the teacher's voice and presence. " +
	`Return only JSON: {"name": "...", "description": "...", "materials": ["..."], "steps": ["..."], ` +
	`"duration_minutes": 5, "learning_outcome": "...", "tips": ["..."]}.`

// CrisisTool returns an immediate intervention for an acute classroom
// situation. Success triggers a follow-up to the activity generator
// with the same topic, so the teacher gets the fire put out and then
// something constructive to redirect the class into.
type CrisisTool struct {
	provider llm.Provider
	logger   *observability.Logger
}

// NewCrisisTool builds the crisis handler over provider.
func NewCrisisTool(provider llm.Provider, logger *observability.Logger) *CrisisTool {
	return &CrisisTool{provider: provider, logger: logger}
}

func (t *CrisisTool) Descriptor() Descriptor {
	return Descriptor{
		Name: sahayak.ToolCrisis,
		Description: "Handles urgent classroom situations that need an immediate response: students " +
			"not listening, fights, chaos, a crying child. Use when the teacher needs help right now.",
		FollowUp: sahayak.ToolActivity,
	}
}

func (t *CrisisTool) Execute(ctx context.Context, topic string, tctx Context) (any, error) {
	ctx, cancel := llm.WithTimeout(ctx, "tool")
	defer cancel()

	raw, err := t.provider.Generate(ctx, llm.Request{
		System:    crisisPrompt,
		User:      fmt.Sprintf("Situation: %s\nContext: %s", topic, tctx.Describe()),
		Mode:      llm.ModeJSON,
		MaxTokens: 1536,
	})
	if err != nil {
		return nil, fmt.Errorf("crisis: %w", err)
	}

	var a sahayak.Activity
	if err := jsonx.Extract(raw, &a); err != nil || strings.TrimSpace(a.Name) == "" || len(a.Steps) == 0 {
		if t.logger != nil {
			t.logger.Warn(ctx, "crisis output unusable, returning fallback", "situation", topic)
		}
		return fallbackIntervention(), nil
	}
	if a.DurationMinutes <= 0 {
		a.DurationMinutes = 5
	}
	return &a, nil
}

// fallbackIntervention is the canned intervention used when the model
// cannot produce a usable one. It must be safe for any situation.
func fallbackIntervention() *sahayak.Activity {
	return &sahayak.Activity{
		Name:        "Silent countdown reset",
		Description: "A calm, wordless reset that pulls the class's attention back to the teacher.",
		Materials:   []string{},
		Steps: []string{
			"Stand still at the front of the class and raise one hand.",
			"Hold up five fingers and lower one at a time, slowly, without speaking.",
			"When your hand closes, whisper the next instruction so students must be quiet to hear it.",
			"Acknowledge the first row or group that settled, by name.",
		},
		DurationMinutes: 5,
		LearningOutcome: "The class returns to a calm, workable state.",
		Tips:            []string{"Keep your voice low afterwards; volume resets follow the teacher's volume."},
	}
}
