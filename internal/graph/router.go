package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahayak-ai/sahayak/internal/jsonx"
	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// routeDecision is the strict JSON contract the router holds the
// generative model to.
type routeDecision struct {
	SelectedTool   string  `json:"selected_tool"`
	Reason         string  `json:"reason"`
	ExtractedTopic string  `json:"extracted_topic"`
	Confidence     float64 `json:"confidence"`
}

// fallbackReason marks a routing decision produced by the parse-failure
// fallback rather than the model.
const fallbackReason = "fallback"

// route asks the model to choose exactly one tool for state's query,
// writing the decision into state. Model or parse failure yields the
// default tool at confidence 0.5 instead of an error.
func (e *Engine) route(ctx context.Context, state *State) {
	decision, err := e.askRouter(ctx, state)
	if err != nil {
		e.applyFallbackRoute(state, err)
		return
	}

	name := sahayak.ToolName(strings.TrimSpace(decision.SelectedTool))
	if _, ok := e.registry.Get(name); !ok {
		e.applyFallbackRoute(state, fmt.Errorf("graph: router chose unknown tool %q", decision.SelectedTool))
		return
	}

	state.SelectedTool = name
	state.RoutingReason = decision.Reason
	state.ExtractedTopic = strings.TrimSpace(decision.ExtractedTopic)
	if state.ExtractedTopic == "" {
		state.ExtractedTopic = state.Query
	}
	state.RouteConfidence = clamp01(decision.Confidence)
}

func (e *Engine) askRouter(ctx context.Context, state *State) (routeDecision, error) {
	ctx, cancel := llm.WithTimeout(ctx, "route")
	defer cancel()

	var convo strings.Builder
	for _, m := range state.RoutingTail {
		fmt.Fprintf(&convo, "%s: %s\n", m.Role, m.Content)
	}

	raw, err := e.provider.Generate(ctx, llm.Request{
		System: "You route a teacher's request to exactly one tool. Available tools:\n" +
			e.registry.Catalog() +
			"\nPick the single best tool for the newest user message, extract the topic or situation " +
			"it concerns, and rate your confidence in [0,1]. " +
			`Return only JSON: {"selected_tool": "...", "reason": "...", "extracted_topic": "...", "confidence": 0.0}.`,
		User:      fmt.Sprintf("Conversation so far:\n%s\nNewest request: %s", convo.String(), state.Query),
		Mode:      llm.ModeJSON,
		MaxTokens: 512,
	})
	if err != nil {
		return routeDecision{}, err
	}

	var decision routeDecision
	if err := jsonx.Extract(raw, &decision); err != nil {
		return routeDecision{}, err
	}
	return decision, nil
}

// applyFallbackRoute installs the default tool at confidence 0.5.
func (e *Engine) applyFallbackRoute(state *State, cause error) {
	def, ok := e.registry.Default()
	if !ok {
		state.SelectedTool = sahayak.ToolNone
		state.RoutingReason = fallbackReason
		state.RouteConfidence = 0
		return
	}
	if e.logger != nil {
		e.logger.Warn(context.Background(), "routing fell back to default tool",
			"session_id", state.SessionID, "error", cause.Error())
	}
	state.SelectedTool = def.Descriptor().Name
	state.RoutingReason = fallbackReason
	state.ExtractedTopic = state.Query
	state.RouteConfidence = 0.5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
