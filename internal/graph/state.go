// Package graph implements the request graph engine: a fixed set of
// stages connected by conditional edges that drives one request from
// utterance to validated response, with bounded retry loops, stage
// events for streaming consumers, and volatile per-session
// checkpoints.
package graph

import (
	"time"

	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// Stage identifies one node of the request graph. The graph is a
// fixed value: stages execute in declaration order, with loop edges
// only at the confidence gate (back to StageRoute) and the quality
// gate (back to StageExecute).
type Stage string

const (
	StageLoadContext    Stage = "load_context"
	StageRoute          Stage = "route"
	StageConfidenceGate Stage = "confidence_gate"
	StageExecute        Stage = "execute"
	StageValidate       Stage = "validate"
	StageQualityGate    Stage = "quality_gate"
	StageFollowUp       Stage = "follow_up"
	StageFinalize       Stage = "finalize"
)

// NodeEvent is one entry of the per-request event log.
type NodeEvent struct {
	Stage   Stage
	At      time.Time
	Note    string
	Elapsed time.Duration
}

// State is the mutable record that flows through the graph for one
// request. It is owned exclusively by that request's task, never
// shared, and discarded once the response is produced (modulo the
// volatile checkpoint copy).
type State struct {
	// Inputs.
	Query             string
	SessionID         string
	StructuredContext map[string]any
	SourceLanguage    string

	// Routing.
	SelectedTool    sahayak.ToolName
	RoutingReason   string
	RouteConfidence float64
	ExtractedTopic  string

	// Retry accounting. RoutingAttempts counts Route executions,
	// QualityAttempts counts Execute executions; both are bounded by
	// their ceiling + 1.
	RoutingAttempts int
	QualityAttempts int

	// Tool output.
	Result    any
	ToolError string

	// Quality.
	QualityScore    float64
	QualityNeedsRedo bool
	ValidationNotes []string

	// Follow-up.
	NeedsFollowUp  bool
	FollowUpTool   sahayak.ToolName
	FollowUpResult any

	// Observability.
	StartedAt    time.Time
	ProcessingMs int64
	Events       []NodeEvent

	// RoutingTail is the conversation context handed to Route.
	RoutingTail []sahayak.Message
}

// logEvent appends one entry to the per-node event log.
func (s *State) logEvent(stage Stage, note string, elapsed time.Duration) {
	s.Events = append(s.Events, NodeEvent{
		Stage:   stage,
		At:      time.Now().UTC(),
		Note:    note,
		Elapsed: elapsed,
	})
}

// snapshot renders the compact state view attached to stage_started
// events.
func (s *State) snapshot() map[string]any {
	return map[string]any{
		"session_id":       s.SessionID,
		"source_language":  s.SourceLanguage,
		"selected_tool":    string(s.SelectedTool),
		"route_confidence": s.RouteConfidence,
		"routing_attempts": s.RoutingAttempts,
		"quality_attempts": s.QualityAttempts,
	}
}

// resultUsable reports whether the tool produced a non-empty payload
// matching its declared shape.
func (s *State) resultUsable() bool {
	if s.ToolError != "" || s.Result == nil {
		return false
	}
	switch r := s.Result.(type) {
	case *sahayak.Activity:
		return r.Name != "" && len(r.Steps) > 0
	case *sahayak.Motivation:
		return r.Acknowledgment != ""
	case *sahayak.FeedbackScorecard:
		return true
	default:
		return true
	}
}
