package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// Summarizer compresses the oldest messages of an over-long session
// into a single system-role summary. It never touches the durable
// store: the full history remains there, only the in-memory
// representation changes.
type Summarizer struct {
	provider   llm.Provider
	keepRecent int
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewSummarizer builds a Summarizer that keeps keepRecent verbatim
// messages after summarizing the rest.
func NewSummarizer(provider llm.Provider, keepRecent int, logger *observability.Logger) *Summarizer {
	if keepRecent <= 0 {
		keepRecent = 5
	}
	return &Summarizer{provider: provider, keepRecent: keepRecent, logger: logger}
}

// WithMetrics attaches summarization-outcome instrumentation.
func (s *Summarizer) WithMetrics(m *observability.Metrics) *Summarizer {
	s.metrics = m
	return s
}

// Compact summarizes messages[:len-keepRecent] and returns a new
// slice of the summary message followed by the retained recent
// messages. On model failure it falls back to plain truncation.
// Summarization failure is a context loss, not a crash.
func (s *Summarizer) Compact(ctx context.Context, sessionID string, messages []sahayak.Message) []sahayak.Message {
	if len(messages) <= s.keepRecent {
		return messages
	}

	cutIndex := len(messages) - s.keepRecent
	older := messages[:cutIndex]
	recent := messages[cutIndex:]

	summary, err := s.summarize(ctx, older)
	s.metrics.ObserveSummarization(err == nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "summarization failed, truncating without summary",
				"session_id", sessionID, "error", err.Error())
		}
		return recent
	}

	summaryMsg := sahayak.Message{
		SessionID:   sessionID,
		Sequence:    older[len(older)-1].Sequence,
		Role:        sahayak.RoleSystem,
		Content:     sahayak.SummarySentinel + " " + summary,
		CaptureTime: older[len(older)-1].CaptureTime,
		Metadata:    map[string]any{"compressed_messages": len(older)},
	}

	out := make([]sahayak.Message, 0, 1+len(recent))
	out = append(out, summaryMsg)
	out = append(out, recent...)
	return out
}

func (s *Summarizer) summarize(ctx context.Context, messages []sahayak.Message) (string, error) {
	if s.provider == nil {
		return "", fmt.Errorf("memory: no summarization provider configured")
	}
	ctx, cancel := llm.WithTimeout(ctx, "summarize")
	defer cancel()

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	text, err := s.provider.Generate(ctx, llm.Request{
		System: "Summarize this conversation between a teacher and a classroom assistant in at most 150 words. " +
			"Preserve concrete facts (grade, subject, topics discussed, decisions made). Plain prose, no headers.",
		User:      sb.String(),
		Mode:      llm.ModeText,
		MaxTokens: 400,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
