package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/internal/retry"
)

// AnthropicProvider implements Provider against the Anthropic Messages
// API. It has no embeddings endpoint, so it implements Provider only;
// it is wired as the fallback leg of Fallback alongside an Embedder-
// capable OpenAIProvider for the embedding suspension points.
type AnthropicProvider struct {
	client  anthropic.Client
	model   string
	metrics *observability.Metrics
}

// NewAnthropicProvider builds an Anthropic-backed provider.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// WithMetrics attaches per-call latency/outcome instrumentation.
func (p *AnthropicProvider) WithMetrics(m *observability.Metrics) *AnthropicProvider {
	p.metrics = m
	return p
}

func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	user := req.User
	if req.Mode == ModeJSON {
		user = req.User + "\n\nRespond with JSON only, no surrounding prose or markdown fences."
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	msg, result := retry.DoWithValue(ctx, transientRetry, func() (*anthropic.Message, error) {
		return p.client.Messages.New(ctx, params)
	})
	p.metrics.ObserveLLMCall(p.Name(), "generate", time.Since(start), result.Err)
	if result.Err != nil {
		return "", fmt.Errorf("%w: anthropic: %s", ErrUnavailable, result.Err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				sb.WriteString(tb.Text)
			}
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: anthropic: empty content", ErrUnavailable)
	}
	return sb.String(), nil
}
