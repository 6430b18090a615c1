package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/internal/retry"
)

// OpenAIProvider implements Provider and Embedder against OpenAI's
// chat-completions and embeddings APIs.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	embedModel string
	embedDims  int
	metrics    *observability.Metrics
}

// NewOpenAIProvider builds an OpenAI-backed provider. apiKey must be
// non-empty; model is the chat model identifier.
func NewOpenAIProvider(apiKey, model, embedModel string, embedDims int) *OpenAIProvider {
	if model == "" {
		model = openai.GPT4oMini
	}
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	if embedDims <= 0 {
		embedDims = 1536
	}
	return &OpenAIProvider{
		client:     openai.NewClient(apiKey),
		model:      model,
		embedModel: embedModel,
		embedDims:  embedDims,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// WithMetrics attaches per-call latency/outcome instrumentation.
func (p *OpenAIProvider) WithMetrics(m *observability.Metrics) *OpenAIProvider {
	p.metrics = m
	return p
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if req.Mode == ModeJSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, result := retry.DoWithValue(ctx, transientRetry, func() (openai.ChatCompletionResponse, error) {
		return p.client.CreateChatCompletion(ctx, chatReq)
	})
	p.metrics.ObserveLLMCall(p.Name(), "generate", time.Since(start), result.Err)
	if result.Err != nil {
		return "", fmt.Errorf("%w: openai: %s", ErrUnavailable, result.Err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai: empty choices", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Dimensions() int { return p.embedDims }

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error) {
	prefixed := make([]string, len(texts))
	prefix := "passage: "
	if mode == EmbedQuery {
		prefix = "query: "
	}
	for i, t := range texts {
		prefixed[i] = prefix + t
	}

	start := time.Now()
	resp, result := retry.DoWithValue(ctx, transientRetry, func() (openai.EmbeddingResponse, error) {
		return p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: prefixed,
			Model: openai.EmbeddingModel(p.embedModel),
		})
	})
	p.metrics.ObserveLLMCall(p.Name(), "embed", time.Since(start), result.Err)
	if result.Err != nil {
		return nil, fmt.Errorf("%w: openai embeddings: %s", ErrUnavailable, result.Err)
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
