// Package judge produces the final verdict, confidence and rationale for
// a claim from its evidence and the aggregated inference stance.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/llm"
	"github.com/veridexlabs/veridex/internal/model"
	"github.com/veridexlabs/veridex/internal/verify"
)

const judgeSystemPrompt = `You are a fact-checking judge. You receive a claim,
an aggregate inference stance, and the evidence passages it was derived from.
Produce a verdict with a short rationale.

Rules:
- verdict must be one of: supported, contradicted, uncertain.
- confidence is an integer 0-100.
- The rationale must only reference the evidence provided. Cite sources by
  their URL. Never invent sources.
- If the evidence is thin or conflicting, say so and use "uncertain".

Respond with JSON: {"verdict": "...", "confidence": 0, "rationale": "..."}`

// Result is one judged claim.
type Result struct {
	Verdict    model.Verdict
	Confidence int
	Rationale  string
	// Degraded marks rule-based fallback verdicts and rationales that
	// had out-of-allowlist citations stripped.
	Degraded bool
}

// Judge renders verdicts through the LLM with a rule-based fallback.
type Judge struct {
	chatter     llm.Chatter
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// New creates a Judge. The temperature applies to rationale prose only;
// the verdict itself is constrained by schema and validated.
func New(chatter llm.Chatter, judgeModel string, temperature float32, maxTokens int, logger *zap.Logger) *Judge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Judge{
		chatter:     chatter,
		model:       judgeModel,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// Judge renders the verdict for one claim. LLM failure after one retry,
// or schema-violating output, falls back to a rule-based mapping of the
// aggregate; the result is then flagged degraded.
func (j *Judge) Judge(ctx context.Context, claimText string, agg verify.Aggregate, evidence []model.Evidence) Result {
	// A claim with no evidence is always uncertain/0. There is nothing for
	// the model to weigh, and asking it anyway invites a fabricated verdict.
	if len(evidence) == 0 {
		return Result{
			Verdict:    model.VerdictUncertain,
			Confidence: 0,
			Rationale:  "No evidence could be retrieved for this claim.",
			Degraded:   true,
		}
	}

	out, err := llm.ChatWithRetry(ctx, j.chatter, llm.Request{
		Model:       j.model,
		System:      judgeSystemPrompt,
		User:        judgePrompt(claimText, agg, evidence),
		Temperature: j.temperature,
		MaxTokens:   j.maxTokens,
		JSONOnly:    true,
	}, time.Second)
	if err != nil {
		j.logger.Warn("judge call failed, using rule-based fallback", zap.Error(err))
		return Fallback(agg)
	}

	res, err := parseJudgment(out)
	if err != nil {
		j.logger.Warn("judge output violates schema, using rule-based fallback",
			zap.String("output", out),
			zap.Error(err))
		return Fallback(agg)
	}

	rationale, stripped := enforceCitationAllowlist(res.Rationale, evidence)
	res.Rationale = rationale
	if stripped {
		j.logger.Warn("judge cited sources outside the evidence set, citations stripped")
		res.Degraded = true
	}
	return res
}

func judgePrompt(claimText string, agg verify.Aggregate, evidence []model.Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %s\n\n", claimText)
	fmt.Fprintf(&b, "Aggregate stance: %s (weighted share %.2f)\n\n", agg.Label, agg.Score)
	b.WriteString("Evidence:\n")
	for i, ev := range evidence {
		fmt.Fprintf(&b, "%d. [%s] %s — %s (%s)\n", i+1, ev.Source, ev.Title, ev.Snippet, ev.URL)
	}
	return b.String()
}

func parseJudgment(out string) (Result, error) {
	var parsed struct {
		Verdict    string  `json:"verdict"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return Result{}, fmt.Errorf("parse judgment: %w", err)
	}

	verdict := model.Verdict(strings.ToLower(strings.TrimSpace(parsed.Verdict)))
	switch verdict {
	case model.VerdictSupported, model.VerdictContradicted, model.VerdictUncertain:
	default:
		return Result{}, fmt.Errorf("verdict %q outside enum", parsed.Verdict)
	}

	if parsed.Confidence != math.Trunc(parsed.Confidence) || parsed.Confidence < 0 || parsed.Confidence > 100 {
		return Result{}, fmt.Errorf("confidence %v outside 0-100", parsed.Confidence)
	}
	if strings.TrimSpace(parsed.Rationale) == "" {
		return Result{}, fmt.Errorf("empty rationale")
	}

	return Result{
		Verdict:    verdict,
		Confidence: int(parsed.Confidence),
		Rationale:  strings.TrimSpace(parsed.Rationale),
	}, nil
}

// Fallback maps the aggregate stance to a verdict without a model call.
func Fallback(agg verify.Aggregate) Result {
	verdict := model.VerdictUncertain
	switch agg.Label {
	case verify.LabelEntailment:
		verdict = model.VerdictSupported
	case verify.LabelContradiction:
		verdict = model.VerdictContradicted
	}
	return Result{
		Verdict:    verdict,
		Confidence: int(math.Round(agg.Score * 100)),
		Rationale:  "Automated verdict from evidence aggregation; the judgment model was unavailable.",
		Degraded:   true,
	}
}

// enforceCitationAllowlist removes URLs from the rationale that are not in
// the retrieved evidence set. Reported true when anything was stripped.
func enforceCitationAllowlist(rationale string, evidence []model.Evidence) (string, bool) {
	allowed := make(map[string]bool, len(evidence))
	for _, ev := range evidence {
		allowed[ev.URL] = true
	}

	stripped := false
	fields := strings.Fields(rationale)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		trimmed := strings.Trim(f, "().,;")
		if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			if !allowed[trimmed] {
				stripped = true
				continue
			}
		}
		kept = append(kept, f)
	}
	if !stripped {
		return rationale, false
	}
	return strings.Join(kept, " "), true
}
