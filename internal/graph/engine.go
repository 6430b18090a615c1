package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sahayak-ai/sahayak/internal/langdetect"
	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/internal/memory"
	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/internal/quality"
	"github.com/sahayak-ai/sahayak/internal/retrieval"
	"github.com/sahayak-ai/sahayak/internal/tools"
	"github.com/sahayak-ai/sahayak/internal/translate"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// Config holds the engine's gate thresholds and loop ceilings.
type Config struct {
	ConfidenceMin     float64
	MaxRoutingRetries int
	MaxQualityRetries int
}

func (c *Config) applyDefaults() {
	if c.ConfidenceMin <= 0 {
		c.ConfidenceMin = 0.6
	}
	if c.MaxRoutingRetries <= 0 {
		c.MaxRoutingRetries = 2
	}
	if c.MaxQualityRetries <= 0 {
		c.MaxQualityRetries = 2
	}
}

// Engine drives requests through the fixed stage graph. One Engine
// serves many concurrent requests; each request owns its State
// exclusively.
type Engine struct {
	provider   llm.Provider
	memory     *memory.Memory
	registry   *tools.Registry
	gate       *quality.Gate
	translator *translate.Translator
	feedback   *tools.FeedbackTool
	retrieval  *retrieval.Engine

	cfg Config

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	checkpoints *checkpoints
}

// Deps bundles the engine's collaborators. Feedback and Retrieval are
// optional: without them the corresponding entrypoints report
// unconfigured.
type Deps struct {
	Provider   llm.Provider
	Memory     *memory.Memory
	Registry   *tools.Registry
	Gate       *quality.Gate
	Translator *translate.Translator
	Feedback   *tools.FeedbackTool
	Retrieval  *retrieval.Engine
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// New builds an Engine.
func New(deps Deps, cfg Config) *Engine {
	cfg.applyDefaults()
	tracer := deps.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &Engine{
		provider:    deps.Provider,
		memory:      deps.Memory,
		registry:    deps.Registry,
		gate:        deps.Gate,
		translator:  deps.Translator,
		feedback:    deps.Feedback,
		retrieval:   deps.Retrieval,
		cfg:         cfg,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		tracer:      tracer,
		checkpoints: newCheckpoints(),
	}
}

// Process runs one request to completion and returns its response.
// The only error it returns is the context's, when the caller
// cancelled; every other failure is folded into the response.
func (e *Engine) Process(ctx context.Context, utt sahayak.Utterance) (*sahayak.Response, error) {
	return e.run(ctx, utt, nil)
}

// ProcessStreaming runs one request and emits stage events as they
// happen. The returned channel is closed after exactly one terminal
// event (final or error).
func (e *Engine) ProcessStreaming(ctx context.Context, utt sahayak.Utterance) <-chan sahayak.StreamEvent {
	// Buffered past the worst-case event count (every loop edge taken)
	// so a slow consumer never blocks the pipeline.
	ch := make(chan sahayak.StreamEvent, 64)
	go func() {
		defer close(ch)
		emit := func(ev sahayak.StreamEvent) { ch <- ev }
		if _, err := e.run(ctx, utt, emit); err != nil {
			emit(sahayak.StreamEvent{Type: sahayak.EventError, Message: "request cancelled"})
		}
	}()
	return ch
}

// GetContext returns the hot-cache snapshot for sessionID, absent if
// not cached.
func (e *Engine) GetContext(sessionID string) (sahayak.Session, []sahayak.Message, bool) {
	return e.memory.GetContext(sessionID)
}

// ClearContext evicts sessionID from the hot cache only; the durable
// store is untouched.
func (e *Engine) ClearContext(sessionID string) bool {
	e.checkpoints.drop(sessionID)
	return e.memory.ClearContext(sessionID)
}

// Checkpoint returns the terminal state of the last request processed
// under threadID, for streaming consumers re-fetching state.
func (e *Engine) Checkpoint(threadID string) (State, bool) {
	return e.checkpoints.get(threadID)
}

// Feedback scores a recorded lesson. It bypasses routing and never
// touches conversation memory.
func (e *Engine) Feedback(ctx context.Context, req sahayak.FeedbackRequest) (*sahayak.FeedbackScorecard, error) {
	if e.feedback == nil {
		return nil, fmt.Errorf("graph: feedback tool not configured")
	}
	return e.feedback.Analyze(ctx, req)
}

// Ask answers a factual question against the retrieval corpus.
func (e *Engine) Ask(ctx context.Context, question string, filter retrieval.Filter) (retrieval.Answer, error) {
	if e.retrieval == nil {
		return retrieval.Answer{}, fmt.Errorf("graph: retrieval engine not configured")
	}
	return e.retrieval.Answer(ctx, question, filter)
}

type emitFn func(sahayak.StreamEvent)

// run executes the graph. It returns an error only on cancellation;
// every other outcome is a response.
func (e *Engine) run(ctx context.Context, utt sahayak.Utterance, emit emitFn) (*sahayak.Response, error) {
	start := time.Now()

	// Input validation happens before any session mutation, so an
	// invalid utterance is pure: no session created, nothing appended.
	if reject := validateInput(utt); reject != "" {
		resp := &sahayak.Response{
			ToolUsed:     sahayak.ToolNone,
			Reasoning:    "input rejected",
			Error:        reject,
			ProcessingMs: time.Since(start).Milliseconds(),
		}
		e.finish(emit, resp)
		return resp, nil
	}

	state := &State{
		Query:             strings.TrimSpace(utt.Text),
		SessionID:         utt.SessionID,
		StructuredContext: utt.StructuredContext,
		SourceLanguage:    langdetect.Detect(utt.Text),
		StartedAt:         start,
	}
	if state.SessionID == "" {
		state.SessionID = uuid.NewString()
	}

	ctx = observability.AddRequestID(ctx, uuid.NewString())
	ctx = observability.AddSessionID(ctx, state.SessionID)
	ctx, reqSpan := e.tracer.TraceRequest(ctx, state.SessionID, state.SourceLanguage)
	defer reqSpan.End()

	resp, err := e.runStages(ctx, state, emit)
	if err != nil {
		return nil, err
	}

	resp.ProcessingMs = time.Since(start).Milliseconds()
	state.ProcessingMs = resp.ProcessingMs
	e.checkpoints.save(state.SessionID, state)
	e.metrics.ObserveRequest(string(resp.ToolUsed), resp.Error == "", time.Since(start))
	if e.metrics != nil && e.memory != nil {
		e.metrics.SessionCacheSize.Set(float64(e.memory.CacheStats().Size))
	}
	e.finish(emit, resp)
	return resp, nil
}

// runStages walks the graph in declaration order, taking loop edges
// at the two gates. It returns an error only on cancellation.
func (e *Engine) runStages(ctx context.Context, state *State, emit emitFn) (*sahayak.Response, error) {
	// Load context.
	if err := e.checkCancelled(ctx); err != nil {
		return nil, err
	}
	e.stageStarted(emit, StageLoadContext, state)
	loadStart := time.Now()
	e.loadContext(ctx, state)
	e.stageCompleted(emit, StageLoadContext, state, loadStart, map[string]any{
		"messages_in_context": len(state.RoutingTail),
	}, "ok")

	// Route with its confidence gate: loop until confident, ceiling
	// reached, or registry empty.
	for {
		if err := e.checkCancelled(ctx); err != nil {
			return nil, err
		}
		state.RoutingAttempts++
		e.stageStarted(emit, StageRoute, state)
		routeStart := time.Now()
		e.route(ctx, state)
		e.stageCompleted(emit, StageRoute, state, routeStart, map[string]any{
			"selected_tool":  string(state.SelectedTool),
			"confidence":     state.RouteConfidence,
			"routing_reason": state.RoutingReason,
		}, "ok")

		e.stageStarted(emit, StageConfidenceGate, state)
		gateStart := time.Now()
		// A confidence exactly at the threshold is accepted.
		if state.RouteConfidence >= e.cfg.ConfidenceMin {
			e.stageCompleted(emit, StageConfidenceGate, state, gateStart, map[string]any{"decision": "continue"}, "ok")
			break
		}
		if state.RoutingAttempts < e.cfg.MaxRoutingRetries+1 {
			e.metrics.IncRetry("routing")
			e.stageCompleted(emit, StageConfidenceGate, state, gateStart, map[string]any{"decision": "loop"}, "loop")
			continue
		}
		e.stageCompleted(emit, StageConfidenceGate, state, gateStart, map[string]any{"decision": "terminate"}, "error")
		return e.cannotRoute(state), nil
	}

	// Execute with validation and the quality gate's loop edge.
	for {
		if err := e.checkCancelled(ctx); err != nil {
			return nil, err
		}
		state.QualityAttempts++
		e.executeStage(ctx, state, emit)
		e.validateStage(state, emit)

		redo := e.qualityStage(ctx, state, emit)
		if !redo {
			break
		}
		e.metrics.IncRetry("quality")
	}

	if state.ToolError != "" {
		return e.toolFailed(state), nil
	}

	// Follow-up.
	if err := e.checkCancelled(ctx); err != nil {
		return nil, err
	}
	e.followUpStage(ctx, state, emit)

	// Finalize.
	if err := e.checkCancelled(ctx); err != nil {
		return nil, err
	}
	return e.finalizeStage(ctx, state, emit), nil
}

func (e *Engine) loadContext(ctx context.Context, state *State) {
	res, err := e.memory.LoadAndAppend(ctx, state.SessionID, state.Query, time.Now().UTC())
	if err != nil {
		// Degraded mode: no prior context, but the request proceeds.
		if e.logger != nil {
			e.logger.Warn(ctx, "context load degraded", "error", err.Error())
		}
		state.logEvent(StageLoadContext, "degraded: no prior context", 0)
		return
	}
	state.SessionID = res.Session.ID
	state.RoutingTail = res.RoutingTail
	if res.Summarized {
		state.logEvent(StageLoadContext, "session summarized", 0)
	}
}

func (e *Engine) executeStage(ctx context.Context, state *State, emit emitFn) {
	e.stageStarted(emit, StageExecute, state)
	started := time.Now()

	tool, ok := e.registry.Get(state.SelectedTool)
	if !ok {
		state.ToolError = fmt.Sprintf("tool %q not registered", state.SelectedTool)
		e.stageCompleted(emit, StageExecute, state, started, map[string]any{"error": state.ToolError}, "error")
		return
	}

	toolCtx := observability.AddTool(ctx, string(state.SelectedTool))
	toolCtx, span := e.tracer.TraceToolExecution(toolCtx, string(state.SelectedTool))
	result, err := tool.Execute(toolCtx, state.ExtractedTopic, tools.ContextFromMap(state.StructuredContext))
	span.End()

	if err != nil {
		// Failure is captured, never propagated across the stage
		// boundary.
		state.Result = nil
		state.ToolError = redactToolError(err)
		if e.metrics != nil {
			e.metrics.ToolExecutionCounter.WithLabelValues(string(state.SelectedTool), "error").Inc()
		}
		e.stageCompleted(emit, StageExecute, state, started, map[string]any{"error": state.ToolError}, "error")
		return
	}

	state.Result = result
	state.ToolError = ""
	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(string(state.SelectedTool), "success").Inc()
	}
	e.stageCompleted(emit, StageExecute, state, started, map[string]any{"has_result": result != nil}, "ok")
}

func (e *Engine) validateStage(state *State, emit emitFn) {
	e.stageStarted(emit, StageValidate, state)
	started := time.Now()

	usable := state.resultUsable()
	if !usable && state.ToolError == "" {
		state.ToolError = "tool returned an empty or malformed payload"
		state.ValidationNotes = append(state.ValidationNotes, state.ToolError)
	}

	state.NeedsFollowUp = false
	if usable {
		if tool, ok := e.registry.Get(state.SelectedTool); ok {
			if fu := tool.Descriptor().FollowUp; fu != "" {
				state.NeedsFollowUp = true
				state.FollowUpTool = fu
			}
		}
	}

	outcome := "ok"
	if !usable {
		outcome = "error"
	}
	e.stageCompleted(emit, StageValidate, state, started, map[string]any{
		"usable":          usable,
		"needs_follow_up": state.NeedsFollowUp,
	}, outcome)
}

// qualityStage runs the quality gate for tools that opt in. It
// reports whether the engine should loop back to Execute.
func (e *Engine) qualityStage(ctx context.Context, state *State, emit emitFn) bool {
	e.stageStarted(emit, StageQualityGate, state)
	started := time.Now()

	tool, ok := e.registry.Get(state.SelectedTool)
	gated := ok && tool.Descriptor().QualityGated && e.gate != nil
	if !gated || !state.resultUsable() {
		state.QualityNeedsRedo = false
		e.stageCompleted(emit, StageQualityGate, state, started, map[string]any{"skipped": true}, "ok")
		return false
	}

	report := e.gate.Check(ctx, state.Query, state.Result)
	state.QualityScore = report.OverallScore
	state.ValidationNotes = append(state.ValidationNotes, report.Issues...)
	if e.metrics != nil {
		e.metrics.QualityScore.Observe(report.OverallScore)
	}

	accepted := report.Accepted(e.gate.MinScore())
	state.QualityNeedsRedo = !accepted

	if !accepted && state.QualityAttempts < e.cfg.MaxQualityRetries+1 {
		e.stageCompleted(emit, StageQualityGate, state, started, map[string]any{
			"score":    report.OverallScore,
			"decision": "redo",
		}, "loop")
		return true
	}

	e.stageCompleted(emit, StageQualityGate, state, started, map[string]any{
		"score":    report.OverallScore,
		"decision": "accept",
	}, "ok")
	return false
}

func (e *Engine) followUpStage(ctx context.Context, state *State, emit emitFn) {
	e.stageStarted(emit, StageFollowUp, state)
	started := time.Now()

	if !state.NeedsFollowUp {
		e.stageCompleted(emit, StageFollowUp, state, started, map[string]any{"skipped": true}, "ok")
		return
	}

	tool, ok := e.registry.Get(state.FollowUpTool)
	if !ok {
		e.stageCompleted(emit, StageFollowUp, state, started, map[string]any{"error": "follow-up tool missing"}, "error")
		return
	}

	fuCtx := observability.AddTool(ctx, string(state.FollowUpTool))
	result, err := tool.Execute(fuCtx, state.Query, tools.ContextFromMap(state.StructuredContext))
	if err != nil {
		// A failed follow-up never degrades the primary result.
		if e.logger != nil {
			e.logger.Warn(ctx, "follow-up failed", "tool", string(state.FollowUpTool), "error", err.Error())
		}
		e.stageCompleted(emit, StageFollowUp, state, started, map[string]any{"error": "follow-up failed"}, "error")
		return
	}

	state.FollowUpResult = result
	if primary, ok := state.Result.(*sahayak.Activity); ok {
		if fu, ok := result.(*sahayak.Activity); ok {
			primary.FollowUp = fu
		}
	}
	e.stageCompleted(emit, StageFollowUp, state, started, map[string]any{"attached": true}, "ok")
}

func (e *Engine) finalizeStage(ctx context.Context, state *State, emit emitFn) *sahayak.Response {
	e.stageStarted(emit, StageFinalize, state)
	started := time.Now()

	e.translateResult(ctx, state)

	summary := summarizeResult(state.Result)
	if summary != "" {
		if err := e.memory.AppendAssistant(ctx, state.SessionID, summary, time.Now().UTC()); err != nil {
			// A dropped write degrades history, not the response.
			if e.logger != nil {
				e.logger.Warn(ctx, "assistant message dropped", "error", err.Error())
			}
		}
	}
	// A chained follow-up is its own assistant turn in the history.
	if primary, ok := state.Result.(*sahayak.Activity); ok && primary.FollowUp != nil {
		fuSummary := "Follow-up activity: " + primary.FollowUp.Name
		if err := e.memory.AppendAssistant(ctx, state.SessionID, fuSummary, time.Now().UTC()); err != nil {
			if e.logger != nil {
				e.logger.Warn(ctx, "follow-up message dropped", "error", err.Error())
			}
		}
	}

	resp := &sahayak.Response{
		ToolUsed:   state.SelectedTool,
		Reasoning:  state.RoutingReason,
		Result:     state.Result,
		Confidence: state.RouteConfidence,
	}
	e.stageCompleted(emit, StageFinalize, state, started, map[string]any{"summary": summary}, "ok")
	return resp
}

// translateResult rewrites translatable result fields into the
// detected source language, including an attached follow-up.
func (e *Engine) translateResult(ctx context.Context, state *State) {
	if e.translator == nil || state.SourceLanguage == langdetect.English || state.Result == nil {
		return
	}

	translated := 0
	if t, ok := state.Result.(translate.Translatable); ok {
		translated += e.translator.Apply(ctx, state.SourceLanguage, t)
	}
	if primary, ok := state.Result.(*sahayak.Activity); ok && primary.FollowUp != nil {
		translated += e.translator.Apply(ctx, state.SourceLanguage, primary.FollowUp)
	}

	if e.metrics != nil {
		outcome := "translated"
		if translated == 0 {
			outcome = "fallback"
		}
		e.metrics.TranslationCounter.WithLabelValues(state.SourceLanguage, outcome).Inc()
	}
}

func (e *Engine) cannotRoute(state *State) *sahayak.Response {
	return &sahayak.Response{
		ToolUsed:   state.SelectedTool,
		Reasoning:  fmt.Sprintf("could not determine the right tool after %d attempts", state.RoutingAttempts),
		Confidence: state.RouteConfidence,
		Error:      "unable to route the request with sufficient confidence; please rephrase",
	}
}

func (e *Engine) toolFailed(state *State) *sahayak.Response {
	return &sahayak.Response{
		ToolUsed:   state.SelectedTool,
		Reasoning:  state.RoutingReason,
		Confidence: state.RouteConfidence,
		Error:      state.ToolError,
	}
}

func (e *Engine) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (e *Engine) stageStarted(emit emitFn, stage Stage, state *State) {
	if emit == nil {
		return
	}
	emit(sahayak.StreamEvent{
		Type:     sahayak.EventStageStarted,
		Stage:    string(stage),
		Snapshot: state.snapshot(),
	})
}

func (e *Engine) stageCompleted(emit emitFn, stage Stage, state *State, started time.Time, delta map[string]any, outcome string) {
	elapsed := time.Since(started)
	state.logEvent(stage, outcome, elapsed)
	e.metrics.ObserveStage(string(stage), outcome, elapsed)
	if emit == nil {
		return
	}
	emit(sahayak.StreamEvent{
		Type:  sahayak.EventStageCompleted,
		Stage: string(stage),
		Delta: delta,
	})
}

func (e *Engine) finish(emit emitFn, resp *sahayak.Response) {
	if emit == nil {
		return
	}
	emit(sahayak.StreamEvent{Type: sahayak.EventFinal, Response: resp})
}

// validateInput returns a rejection message for invalid utterances,
// empty for acceptable ones. Length 1000 is accepted, 1001 is not.
func validateInput(utt sahayak.Utterance) string {
	text := strings.TrimSpace(utt.Text)
	if text == "" {
		return "empty request"
	}
	if len([]rune(utt.Text)) > sahayak.MaxUtteranceLen {
		return fmt.Sprintf("request too long: limit is %d characters", sahayak.MaxUtteranceLen)
	}
	return ""
}

// redactToolError maps an internal tool failure to the short message
// exposed on the response.
func redactToolError(err error) string {
	if errors.Is(err, llm.ErrUnavailable) {
		return "the assistant's language model is temporarily unavailable"
	}
	return "tool execution failed"
}

// summarizeResult renders the short assistant-turn text recorded in
// conversation memory.
func summarizeResult(result any) string {
	switch r := result.(type) {
	case *sahayak.Activity:
		return "Suggested activity: " + r.Name
	case *sahayak.Motivation:
		if r.Title != "" {
			return "Encouragement: " + r.Title
		}
		return "Shared encouragement and practical support"
	case *sahayak.FeedbackScorecard:
		return fmt.Sprintf("Lesson feedback delivered (overall %.2f)", r.OverallScore)
	case nil:
		return ""
	default:
		return "Responded to the request"
	}
}
