package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sahayak-ai/sahayak/internal/config"
	"github.com/sahayak-ai/sahayak/internal/graph"
	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/internal/memory"
	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/internal/quality"
	"github.com/sahayak-ai/sahayak/internal/retrieval"
	"github.com/sahayak-ai/sahayak/internal/tools"
	"github.com/sahayak-ai/sahayak/internal/translate"
)

// runtime bundles everything a command needs once the engine is wired.
type runtime struct {
	engine  *graph.Engine
	memory  *memory.Memory
	corpus  retrieval.Store
	metrics *observability.Metrics
	logger  *observability.Logger
	close   func()
}

// buildProvider assembles the generative provider chain from config:
// primary, optional fallback leg, both behind circuit breakers and
// instrumented when metrics are supplied.
func buildProvider(cfg *config.Config, metrics *observability.Metrics) (llm.Provider, llm.Embedder, error) {
	build := func(kind, apiKey, model string) (llm.Provider, error) {
		switch kind {
		case "openai":
			if apiKey == "" {
				apiKey = os.Getenv("OPENAI_API_KEY")
			}
			if apiKey == "" {
				return nil, fmt.Errorf("openai provider requires an API key")
			}
			return llm.NewOpenAIProvider(apiKey, model, cfg.Model.EmbedModel, cfg.Model.EmbedDimensions).WithMetrics(metrics), nil
		case "anthropic":
			if apiKey == "" {
				apiKey = os.Getenv("ANTHROPIC_API_KEY")
			}
			if apiKey == "" {
				return nil, fmt.Errorf("anthropic provider requires an API key")
			}
			return llm.NewAnthropicProvider(apiKey, model).WithMetrics(metrics), nil
		default:
			return nil, fmt.Errorf("unknown provider %q", kind)
		}
	}

	primary, err := build(cfg.Model.Provider, cfg.Model.APIKey, cfg.Model.Name)
	if err != nil {
		return nil, nil, err
	}

	var secondary []llm.Provider
	if cfg.Model.FallbackProvider != "" {
		fb, err := build(cfg.Model.FallbackProvider, cfg.Model.FallbackAPIKey, cfg.Model.FallbackModel)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback: %w", err)
		}
		secondary = append(secondary, fb)
	}

	// Cap concurrent model calls so a burst of requests queues instead
	// of tripping provider rate limits.
	var provider llm.Provider = llm.NewFallback(primary, secondary...).WithLimit(8)

	// Embeddings require an OpenAI leg; with an Anthropic-only chain
	// retrieval is simply unavailable.
	var embedder llm.Embedder
	if e, ok := primary.(llm.Embedder); ok {
		embedder = e
	} else {
		for _, s := range secondary {
			if e, ok := s.(llm.Embedder); ok {
				embedder = e
				break
			}
		}
	}
	return provider, embedder, nil
}

// buildRuntime wires the full engine. metrics may be nil for one-shot
// commands that don't expose /metrics.
func buildRuntime(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*runtime, error) {
	provider, embedder, err := buildProvider(cfg, metrics)
	if err != nil {
		return nil, err
	}

	store, err := memory.OpenSQLStore(cfg.Memory.StorePath)
	if err != nil {
		return nil, err
	}

	summarizer := memory.NewSummarizer(provider, cfg.Memory.SummarizeKeepRecent, logger).WithMetrics(metrics)
	mem := memory.New(store, summarizer, memory.Config{
		SessionCacheMax:    cfg.Memory.SessionCacheMax,
		ContextWindow:      cfg.Memory.ContextWindow,
		SummarizeThreshold: cfg.Memory.SummarizeThreshold,
	}).WithMetrics(metrics)

	var corpus retrieval.Store
	var retrievalEngine *retrieval.Engine
	if embedder != nil {
		corpus, err = retrieval.OpenSQLStore(cfg.Retrieval.CorpusPath)
		if err != nil {
			store.Close()
			return nil, err
		}
		retrievalEngine = retrieval.NewEngine(embedder, provider, corpus, cfg.Retrieval.TopK, logger).WithMetrics(metrics)
	} else if logger != nil {
		logger.Warn(context.Background(), "no embedding-capable provider configured; retrieval disabled")
	}

	registry := tools.NewRegistry(
		tools.NewActivityTool(provider, logger),
		tools.NewCrisisTool(provider, logger),
		tools.NewMotivationTool(provider, logger),
	)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       tracingEndpoint(cfg),
		SamplingRate:   cfg.Tracing.SampleRate,
	})

	engine := graph.New(graph.Deps{
		Provider:   provider,
		Memory:     mem,
		Registry:   registry,
		Gate:       quality.New(provider, cfg.Pipeline.QualityMin, logger),
		Translator: translate.New(provider, logger),
		Feedback:   tools.NewFeedbackTool(provider, logger),
		Retrieval:  retrievalEngine,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	}, graph.Config{
		ConfidenceMin:     cfg.Pipeline.ConfidenceMin,
		MaxRoutingRetries: cfg.Pipeline.MaxRoutingRetries,
		MaxQualityRetries: cfg.Pipeline.MaxQualityRetries,
	})

	return &runtime{
		engine:  engine,
		memory:  mem,
		corpus:  corpus,
		metrics: metrics,
		logger:  logger,
		close: func() {
			if corpus != nil {
				corpus.Close()
			}
			store.Close()
			_ = shutdownTracer(context.Background())
		},
	}, nil
}

func tracingEndpoint(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.Tracing.Endpoint
}
