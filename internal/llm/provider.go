// Package llm adapts the engine to its two external model services: a
// generative text model (optionally in JSON mode) and an embedding
// model. Both are treated as pure request/response black boxes with a
// per-call deadline; provider failures are recovered locally by
// callers, never propagated as unhandled errors.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sahayak-ai/sahayak/internal/retry"
)

// transientRetry is the per-call retry policy shared by the provider
// adapters: one quick re-attempt for transport blips, then give up
// and let the caller's fallback path take over.
var transientRetry = retry.Exponential(2, 200*time.Millisecond, 2*time.Second)

// ErrUnavailable is the sentinel wrapped by every provider-level
// failure: a timeout, a transport error, or a tripped circuit
// breaker. Callers test for it with errors.Is and take their local
// recovery path: default tool, fail-open gate, English fallback.
var ErrUnavailable = errors.New("llm: provider unavailable")

// Mode distinguishes plain text generation from the strict-JSON
// contract used by Route, the Quality Gate, and JSON-producing tools.
type Mode int

const (
	ModeText Mode = iota
	ModeJSON
)

// Request is a single generative call.
type Request struct {
	System      string
	User        string
	Mode        Mode
	MaxTokens   int
	Temperature float64
}

// Provider is the generative-model adapter contract. Implementations
// must respect ctx's deadline and return ErrUnavailable (wrapped) on
// timeout or transport failure rather than panicking.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// EmbedMode distinguishes the query-mode prefix used at search time
// from the passage-mode prefix used at index time.
type EmbedMode int

const (
	EmbedPassage EmbedMode = iota
	EmbedQuery
)

// Embedder is the embedding-model adapter contract.
type Embedder interface {
	Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)
	Dimensions() int
}

// CallTimeout returns the per-call deadline for a named suspension
// point. A breach surfaces to the stage as an ordinary failure.
func CallTimeout(point string) time.Duration {
	switch point {
	case "route":
		return 10 * time.Second
	case "tool":
		return 60 * time.Second
	case "quality":
		return 15 * time.Second
	case "translate":
		return 10 * time.Second
	case "retrieval_generate":
		return 30 * time.Second
	case "summarize":
		return 15 * time.Second
	default:
		return 30 * time.Second
	}
}

// WithTimeout wraps ctx with CallTimeout(point) and returns the
// derived context plus its cancel func; callers must call cancel.
func WithTimeout(ctx context.Context, point string) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, CallTimeout(point))
}
