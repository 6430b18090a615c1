package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the request pipeline.
//
// The instrument set follows the pipeline's shape:
//   - per-stage latency and outcome for the request graph
//   - retry counters for the routing and quality loops
//   - LLM call latency/outcome per provider
//   - hot-cache hit/miss/eviction counters and size gauge
//   - retrieval search latency and hit counts
//
// Metrics are exposed at /metrics by the serve command.
type Metrics struct {
	// StageDuration observes how long each graph stage ran.
	// Labels: stage
	StageDuration *prometheus.HistogramVec

	// StageCounter counts stage completions by outcome.
	// Labels: stage, outcome (ok|error|loop)
	StageCounter *prometheus.CounterVec

	// RequestDuration observes end-to-end request latency.
	// Labels: tool
	RequestDuration *prometheus.HistogramVec

	// RequestCounter counts finished requests.
	// Labels: tool, outcome (success|error)
	RequestCounter *prometheus.CounterVec

	// RetryCounter counts loop-edge traversals.
	// Labels: loop (routing|quality)
	RetryCounter *prometheus.CounterVec

	// LLMRequestDuration observes generative/embedding call latency.
	// Labels: provider, kind (generate|embed)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls by status.
	// Labels: provider, kind, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool executions by status.
	// Labels: tool, status (success|error|fallback)
	ToolExecutionCounter *prometheus.CounterVec

	// QualityScore observes quality-gate scores.
	QualityScore prometheus.Histogram

	// SessionCacheSize gauges the hot cache's current size.
	SessionCacheSize prometheus.Gauge

	// SessionCacheEvents counts cache activity.
	// Labels: event (hit|miss|evict)
	SessionCacheEvents *prometheus.CounterVec

	// SummarizationCounter counts summarizer runs by outcome.
	// Labels: outcome (summarized|truncated)
	SummarizationCounter *prometheus.CounterVec

	// RetrievalSearchDuration observes corpus scan latency.
	RetrievalSearchDuration prometheus.Histogram

	// RetrievalHits observes how many documents a search returned.
	RetrievalHits prometheus.Histogram

	// TranslationCounter counts round-trip translations by outcome.
	// Labels: language, outcome (translated|fallback)
	TranslationCounter *prometheus.CounterVec
}

// NewMetrics creates and registers the instrument set on reg. Pass
// nil to use the default registry. Call once at startup.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sahayak_stage_duration_seconds",
				Help:    "Duration of each request graph stage in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		StageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sahayak_stage_total",
				Help: "Stage completions by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sahayak_request_duration_seconds",
				Help:    "End-to-end request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"tool"},
		),

		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sahayak_requests_total",
				Help: "Finished requests by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		RetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sahayak_retries_total",
				Help: "Loop-edge traversals by loop kind",
			},
			[]string{"loop"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sahayak_llm_request_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "kind"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sahayak_llm_requests_total",
				Help: "Model calls by provider, kind, and status",
			},
			[]string{"provider", "kind", "status"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sahayak_tool_executions_total",
				Help: "Tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		QualityScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sahayak_quality_score",
				Help:    "Quality-gate overall scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
		),

		SessionCacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sahayak_session_cache_size",
				Help: "Current number of sessions in the hot cache",
			},
		),

		SessionCacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sahayak_session_cache_events_total",
				Help: "Hot cache hits, misses, and evictions",
			},
			[]string{"event"},
		),

		SummarizationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sahayak_summarizations_total",
				Help: "Session summarizer runs by outcome",
			},
			[]string{"outcome"},
		),

		RetrievalSearchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sahayak_retrieval_search_duration_seconds",
				Help:    "Corpus scan latency in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		RetrievalHits: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sahayak_retrieval_hits",
				Help:    "Documents returned per retrieval search",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
			},
		),

		TranslationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sahayak_translations_total",
				Help: "Round-trip translations by language and outcome",
			},
			[]string{"language", "outcome"},
		),
	}
}

// ObserveStage records one stage completion.
func (m *Metrics) ObserveStage(stage string, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	m.StageCounter.WithLabelValues(stage, outcome).Inc()
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(tool string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.RequestDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	m.RequestCounter.WithLabelValues(tool, outcome).Inc()
}

// IncRetry records one traversal of a loop edge.
func (m *Metrics) IncRetry(loop string) {
	if m == nil {
		return
	}
	m.RetryCounter.WithLabelValues(loop).Inc()
}

// ObserveLLMCall records one model call. kind is "generate" or
// "embed".
func (m *Metrics) ObserveLLMCall(provider, kind string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LLMRequestDuration.WithLabelValues(provider, kind).Observe(elapsed.Seconds())
	m.LLMRequestCounter.WithLabelValues(provider, kind, status).Inc()
}

// ObserveCacheEvent records hot-cache activity: "hit", "miss", or
// "evict".
func (m *Metrics) ObserveCacheEvent(event string) {
	if m == nil {
		return
	}
	m.SessionCacheEvents.WithLabelValues(event).Inc()
}

// ObserveSummarization records one summarizer run.
func (m *Metrics) ObserveSummarization(summarized bool) {
	if m == nil {
		return
	}
	outcome := "summarized"
	if !summarized {
		outcome = "truncated"
	}
	m.SummarizationCounter.WithLabelValues(outcome).Inc()
}

// ObserveRetrievalSearch records one corpus scan and how many
// documents it returned.
func (m *Metrics) ObserveRetrievalSearch(elapsed time.Duration, hits int) {
	if m == nil {
		return
	}
	m.RetrievalSearchDuration.Observe(elapsed.Seconds())
	m.RetrievalHits.Observe(float64(hits))
}
