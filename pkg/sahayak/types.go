// Package sahayak defines the public request/response contract of the
// classroom-support engine.
package sahayak

import "time"

// Utterance is a single inbound request from a teacher.
type Utterance struct {
	Text              string         `json:"text"`
	SessionID         string         `json:"session_id,omitempty"`
	StructuredContext map[string]any `json:"structured_context,omitempty"`
	CaptureTime       time.Time      `json:"capture_time"`
}

// MaxUtteranceLen is the inclusive upper bound on Utterance.Text length.
const MaxUtteranceLen = 1000

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SummarySentinel prefixes a system message's content when that message
// is a compressed prefix produced by the summarizer rather than a turn
// any party actually spoke.
const SummarySentinel = "[summary]"

// Session identifies a conversation thread.
type Session struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any
}

// Message is one append-only turn in a session.
type Message struct {
	SessionID   string
	Sequence    int64
	Role        Role
	Content     string
	CaptureTime time.Time
	Metadata    map[string]any
}

// IsSummary reports whether m is a compressed-prefix marker.
func (m Message) IsSummary() bool {
	return m.Role == RoleSystem && len(m.Content) >= len(SummarySentinel) && m.Content[:len(SummarySentinel)] == SummarySentinel
}

// ToolName identifies a registered tool by name.
type ToolName string

const (
	ToolActivity   ToolName = "activity_generator"
	ToolCrisis     ToolName = "crisis_handler"
	ToolMotivation ToolName = "motivation"
	ToolFeedback   ToolName = "teaching_feedback"
	ToolNone       ToolName = "none"
)

// Activity is the declared payload shape returned by the activity
// generator and, reusing the same shape, the crisis handler.
type Activity struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Materials       []string `json:"materials"`
	Steps           []string `json:"steps"`
	DurationMinutes int      `json:"duration_minutes"`
	LearningOutcome string   `json:"learning_outcome"`
	Tips            []string `json:"tips,omitempty"`

	// FollowUp, when present, is the result of a chained invocation
	// declared by the producing tool's descriptor (the crisis handler
	// chains into the activity generator).
	FollowUp *Activity `json:"follow_up,omitempty"`
}

// TranslatableFields returns the fields of a that a round-trip
// translation pass should rewrite.
func (a *Activity) TranslatableFields() []*string {
	fields := []*string{&a.Name, &a.Description, &a.LearningOutcome}
	for i := range a.Steps {
		fields = append(fields, &a.Steps[i])
	}
	for i := range a.Materials {
		fields = append(fields, &a.Materials[i])
	}
	for i := range a.Tips {
		fields = append(fields, &a.Tips[i])
	}
	return fields
}

// Motivation is the structured support payload returned by the
// motivation tool.
type Motivation struct {
	Title               string   `json:"title"`
	Acknowledgment      string   `json:"acknowledgment"`
	ImmediateTips       []string `json:"immediate_tips"`
	LongTermStrategies  []string `json:"long_term_strategies"`
	Inspiration         string   `json:"inspiration"`
	SelfCarePractices   []string `json:"self_care_practices"`
	PerspectiveShifts   []string `json:"perspective_shifts"`
}

// TranslatableFields returns the fields of m a round-trip translation
// pass should rewrite.
func (m *Motivation) TranslatableFields() []*string {
	fields := []*string{&m.Title, &m.Acknowledgment, &m.Inspiration}
	for i := range m.ImmediateTips {
		fields = append(fields, &m.ImmediateTips[i])
	}
	for i := range m.LongTermStrategies {
		fields = append(fields, &m.LongTermStrategies[i])
	}
	for i := range m.SelfCarePractices {
		fields = append(fields, &m.SelfCarePractices[i])
	}
	for i := range m.PerspectiveShifts {
		fields = append(fields, &m.PerspectiveShifts[i])
	}
	return fields
}

// SubAnalysis is one axis of a FeedbackScorecard.
type SubAnalysis struct {
	Score   float64  `json:"score"`
	Summary string   `json:"summary"`
	Notes   []string `json:"notes,omitempty"`
}

// FeedbackScorecard is the structured payload returned by the
// teaching-session feedback tool, which is reached through its own
// entrypoint rather than routing.
type FeedbackScorecard struct {
	OverallScore           float64     `json:"overall_score"`
	ConceptCoverage        SubAnalysis `json:"concept_coverage"`
	Clarity                SubAnalysis `json:"clarity"`
	Engagement             SubAnalysis `json:"engagement"`
	RuralAppropriateness   SubAnalysis `json:"rural_appropriateness"`
	KeyStrengths           []string    `json:"key_strengths"`
	ImprovementAreas       []string    `json:"improvement_areas"`
	ActionableTips         []string    `json:"actionable_tips"`
	Misconceptions         []string    `json:"misconceptions,omitempty"`
}

// FeedbackRequest is the input to the teaching-session feedback tool.
type FeedbackRequest struct {
	Transcript string
	Topic      string
	Grade      string
}

// Response is the uniform shape returned by Process and by a
// stream's final event.
type Response struct {
	ToolUsed     ToolName `json:"tool_used"`
	Reasoning    string   `json:"reasoning"`
	Result       any      `json:"result,omitempty"`
	Confidence   float64  `json:"confidence"`
	ProcessingMs int64    `json:"processing_ms"`
	Error        string   `json:"error,omitempty"`
}

// EventType enumerates the streaming event kinds.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventFinal          EventType = "final"
	EventError          EventType = "error"
)

// StreamEvent is one element of the lazy sequence returned by
// process_streaming. Exactly one of Response/Message is set on the
// terminal event; the sequence always ends with exactly one terminal
// event (Final or Error).
type StreamEvent struct {
	Type     EventType      `json:"type"`
	Stage    string         `json:"stage,omitempty"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
	Delta    map[string]any `json:"delta,omitempty"`
	Response *Response      `json:"response,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// CorpusDocument is one retrieval unit: a single textbook page with
// its embedding and provenance.
type CorpusDocument struct {
	ID        int64
	Content   string
	Embedding []float32
	Source    string // "class|subject|book|language|page"
}

// SourceHeader is the parsed form of CorpusDocument.Source.
type SourceHeader struct {
	Class    string
	Subject  string
	Book     string
	Language string
	Page     string
}
