// Package quality implements the second-pass validator that scores
// generated content before it is returned to the caller. The gate
// emits a verdict; the retry loop that acts on "redo" belongs to the
// graph engine, not to this package.
package quality

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sahayak-ai/sahayak/internal/jsonx"
	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/internal/observability"
)

// DefaultMinScore is the acceptance floor when none is configured.
const DefaultMinScore = 0.7

// failOpenScore is the score recorded when the validator itself
// fails and the artifact is accepted anyway.
const failOpenScore = 0.75

// Verdict is the gate's decision.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictRedo   Verdict = "redo"
)

// AxisScores breaks the overall score into its four axes.
type AxisScores struct {
	Realism     float64 `json:"realism"`
	Educational float64 `json:"educational"`
	Logical     float64 `json:"logical"`
	Factual     float64 `json:"factual"`
}

// Report is the gate's full output for one artifact.
type Report struct {
	OverallScore float64    `json:"overall_score"`
	Axes         AxisScores `json:"axis_scores"`
	Issues       []string   `json:"issues"`
	Verdict      Verdict    `json:"verdict"`

	// FailedOpen marks a report produced by the fail-open path: the
	// validator errored and the artifact was accepted with a default
	// score.
	FailedOpen bool `json:"-"`
}

// Accepted reports whether the artifact passes: score at or above the
// floor and a verdict of accept. A score exactly at the floor passes.
func (r Report) Accepted(minScore float64) bool {
	return r.OverallScore >= minScore && r.Verdict == VerdictAccept
}

// Gate scores generated artifacts via the generative model.
type Gate struct {
	provider llm.Provider
	minScore float64
	logger   *observability.Logger
}

// New builds a Gate with the given acceptance floor.
func New(provider llm.Provider, minScore float64, logger *observability.Logger) *Gate {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Gate{provider: provider, minScore: minScore, logger: logger}
}

// MinScore returns the configured acceptance floor.
func (g *Gate) MinScore() float64 { return g.minScore }

// Check scores artifact against the original query. The gate is
// fail-open: if the validator call or its JSON cannot be completed,
// the artifact is accepted with a default score and a logged warning.
func (g *Gate) Check(ctx context.Context, query string, artifact any) Report {
	report, err := g.check(ctx, query, artifact)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn(ctx, "quality validator failed, accepting artifact",
				"error", err.Error())
		}
		return Report{
			OverallScore: failOpenScore,
			Verdict:      VerdictAccept,
			FailedOpen:   true,
		}
	}
	return report
}

func (g *Gate) check(ctx context.Context, query string, artifact any) (Report, error) {
	if g.provider == nil {
		return Report{}, fmt.Errorf("quality: no provider configured")
	}

	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return Report{}, fmt.Errorf("quality: encode artifact: %w", err)
	}

	ctx, cancel := llm.WithTimeout(ctx, "quality")
	defer cancel()

	raw, err := g.provider.Generate(ctx, llm.Request{
		System: "You are a strict reviewer of classroom activities for rural Indian schools. " +
			"Score the generated content on four axes in [0,1]: realism (can a teacher actually run this " +
			"with cheap local materials), educational (does it teach the requested topic), logical (do the " +
			"steps follow and fit the stated duration), factual (no fabricated facts). " +
			`Return only JSON: {"overall_score": 0.0, "axis_scores": {"realism": 0.0, "educational": 0.0, ` +
			`"logical": 0.0, "factual": 0.0}, "issues": ["..."], "verdict": "accept" or "redo"}.`,
		User:      fmt.Sprintf("Teacher's request:\n%s\n\nGenerated content:\n%s", query, payload),
		Mode:      llm.ModeJSON,
		MaxTokens: 1024,
	})
	if err != nil {
		return Report{}, err
	}

	var report Report
	if err := jsonx.Extract(raw, &report); err != nil {
		return Report{}, err
	}

	report.OverallScore = clamp01(report.OverallScore)
	report.Axes.Realism = clamp01(report.Axes.Realism)
	report.Axes.Educational = clamp01(report.Axes.Educational)
	report.Axes.Logical = clamp01(report.Axes.Logical)
	report.Axes.Factual = clamp01(report.Axes.Factual)

	switch report.Verdict {
	case VerdictAccept, VerdictRedo:
	default:
		// A verdict the contract doesn't know is resolved by score.
		if report.OverallScore >= g.minScore {
			report.Verdict = VerdictAccept
		} else {
			report.Verdict = VerdictRedo
		}
	}
	return report, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
