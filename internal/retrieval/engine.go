package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// NoInformationAnswer is returned when the corpus is empty or nothing
// matches the query.
const NoInformationAnswer = "I could not find relevant information in the textbook corpus for this question."

const answerPrompt = "Answer the teacher's question using only the textbook excerpts provided. " +
	"If the excerpts do not contain the answer, say so plainly. Answer in simple language a teacher " +
	"can read aloud to a class. Do not invent page numbers or facts not present in the excerpts."

// Answer is the retrieval engine's output: generated text plus the
// provenance of every page that informed it.
type Answer struct {
	Text      string
	Citations []sahayak.SourceHeader
	Hits      []Hit
}

// Engine wires the retrieval pipeline together: embed the question in
// query mode, search, assemble, generate.
type Engine struct {
	embedder llm.Embedder
	provider llm.Provider
	store    Store
	topK     int
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewEngine builds a retrieval Engine.
func NewEngine(embedder llm.Embedder, provider llm.Provider, store Store, topK int, logger *observability.Logger) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{embedder: embedder, provider: provider, store: store, topK: topK, logger: logger}
}

// WithMetrics attaches search latency/hit-count instrumentation.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

// Answer runs the full pipeline for question under filter. An empty
// corpus or no matching documents yields the canned no-information
// answer, never an error.
func (e *Engine) Answer(ctx context.Context, question string, filter Filter) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("retrieval: empty question")
	}

	vecs, err := e.embedder.Embed(ctx, []string{question}, llm.EmbedQuery)
	if err != nil || len(vecs) == 0 {
		return Answer{}, fmt.Errorf("retrieval: embed query: %w", err)
	}

	searchStart := time.Now()
	hits, err := Search(ctx, e.store, vecs[0], filter, e.topK)
	if err != nil {
		return Answer{}, err
	}
	e.metrics.ObserveRetrievalSearch(time.Since(searchStart), len(hits))
	if len(hits) == 0 {
		return Answer{Text: NoInformationAnswer}, nil
	}

	block, citations := Assemble(hits)

	genCtx, cancel := llm.WithTimeout(ctx, "retrieval_generate")
	defer cancel()

	text, err := e.provider.Generate(genCtx, llm.Request{
		System:    answerPrompt,
		User:      fmt.Sprintf("Textbook excerpts:\n%s\nQuestion: %s", block, question),
		Mode:      llm.ModeText,
		MaxTokens: 2048,
	})
	if err != nil {
		if e.logger != nil {
			e.logger.Warn(ctx, "retrieval generation failed", "error", err.Error())
		}
		return Answer{Text: NoInformationAnswer, Citations: citations, Hits: hits}, nil
	}

	return Answer{Text: strings.TrimSpace(text), Citations: citations, Hits: hits}, nil
}

// Assemble stitches hits into the context block fed to the generative
// model, each page prefixed with its parsed source header, and
// returns the parsed citations alongside.
func Assemble(hits []Hit) (string, []sahayak.SourceHeader) {
	var sb strings.Builder
	citations := make([]sahayak.SourceHeader, 0, len(hits))
	for _, hit := range hits {
		header, err := ParseSource(hit.Document.Source)
		if err != nil {
			continue
		}
		citations = append(citations, header)
		sb.WriteString(Header(header))
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(hit.Document.Content))
		sb.WriteString("\n\n")
	}
	return sb.String(), citations
}
