// Package verify runs natural language inference over (claim, evidence)
// pairs and aggregates the labels into one deterministic stance per claim.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/config"
	"github.com/veridexlabs/veridex/internal/llm"
	"github.com/veridexlabs/veridex/internal/model"
)

// Label is an NLI stance for one evidence item against a claim.
type Label string

const (
	LabelEntailment    Label = "entailment"
	LabelContradiction Label = "contradiction"
	LabelNeutral       Label = "neutral"
)

const nliSystemPrompt = `You are a natural language inference classifier.
Given a claim (hypothesis) and an evidence passage (premise), decide whether
the evidence ENTAILS the claim, CONTRADICTS it, or is NEUTRAL.
Respond with exactly one word: entailment, contradiction or neutral.`

// Judgment is one scored NLI result.
type Judgment struct {
	Label      Label
	Confidence float64
	// Degraded marks pairs that fell back to neutral after inference
	// failure rather than being classified.
	Degraded bool
}

// Aggregate is the combined stance over all evidence for one claim.
type Aggregate struct {
	Label Label
	// Score is the winning label's share of credibility-weighted mass,
	// in [0,1]. Zero when there is no evidence.
	Score float64
	// Degraded is true when any pair degraded or there was no evidence.
	Degraded bool
}

// Verifier classifies evidence against claims via an NLI model behind an
// OpenAI-compatible endpoint.
type Verifier struct {
	chatter   llm.Chatter
	model     string
	threshold float64
	logger    *zap.Logger
}

// New creates a Verifier from config.
func New(chatter llm.Chatter, cfg config.NLIConfig, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		chatter:   chatter,
		model:     cfg.Model,
		threshold: cfg.ConfidenceThreshold,
		logger:    logger,
	}
}

// VerifyPair classifies one (claim, evidence) pair. Inference failure
// after one retry degrades the pair to neutral with zero confidence; it
// never fails the claim.
func (v *Verifier) VerifyPair(ctx context.Context, claimText string, ev model.Evidence) Judgment {
	premise := ev.Title
	if ev.Snippet != "" {
		premise = strings.TrimSpace(premise + "\n" + ev.Snippet)
	}

	out, err := llm.ChatWithRetry(ctx, v.chatter, llm.Request{
		Model:       v.model,
		System:      nliSystemPrompt,
		User:        fmt.Sprintf("Premise: %s\n\nHypothesis: %s", premise, claimText),
		Temperature: 0,
	}, time.Second)
	if err != nil {
		v.logger.Warn("nli inference failed, pair degrades to neutral",
			zap.String("evidence_url", ev.URL),
			zap.Error(err))
		return Judgment{Label: LabelNeutral, Confidence: 0, Degraded: true}
	}

	label, ok := parseLabel(out)
	if !ok {
		v.logger.Warn("nli output unparseable, pair degrades to neutral",
			zap.String("output", out))
		return Judgment{Label: LabelNeutral, Confidence: 0, Degraded: true}
	}
	return Judgment{Label: label, Confidence: 1}
}

// VerifyClaim classifies every evidence item and aggregates. Zero
// evidence is a neutral aggregate with zero score and no model call.
func (v *Verifier) VerifyClaim(ctx context.Context, claimText string, evidence []model.Evidence) Aggregate {
	if len(evidence) == 0 {
		return Aggregate{Label: LabelNeutral, Score: 0, Degraded: true}
	}

	judgments := make([]Judgment, len(evidence))
	for i, ev := range evidence {
		judgments[i] = v.VerifyPair(ctx, claimText, ev)
	}
	return v.aggregate(judgments, evidence)
}

// aggregate combines per-pair labels by credibility-weighted mass. The
// winner must carry more weight than both the opposing stance and the
// neutral mass, and its share must clear the confidence threshold; ties
// and below-threshold results resolve to neutral.
func (v *Verifier) aggregate(judgments []Judgment, evidence []model.Evidence) Aggregate {
	var mass = map[Label]float64{}
	var total float64
	degraded := false
	for i, j := range judgments {
		w := evidence[i].Credibility * j.Confidence
		if j.Label == LabelNeutral {
			// Degraded pairs still count toward neutral mass so a claim
			// with mostly-failed inference cannot look decisively settled.
			w = evidence[i].Credibility
		}
		mass[j.Label] += w
		total += w
		if j.Degraded {
			degraded = true
		}
	}
	if total == 0 {
		return Aggregate{Label: LabelNeutral, Score: 0, Degraded: degraded}
	}

	ent, con, neu := mass[LabelEntailment], mass[LabelContradiction], mass[LabelNeutral]

	winner, winMass := LabelNeutral, neu
	switch {
	case ent > con && ent > neu:
		winner, winMass = LabelEntailment, ent
	case con > ent && con > neu:
		winner, winMass = LabelContradiction, con
	}

	share := winMass / total
	if winner == LabelNeutral || share < v.threshold {
		return Aggregate{Label: LabelNeutral, Score: neu / total, Degraded: degraded}
	}
	return Aggregate{Label: winner, Score: share, Degraded: degraded}
}

func parseLabel(out string) (Label, bool) {
	normalized := strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(out), ".\"'")))
	switch Label(normalized) {
	case LabelEntailment, LabelContradiction, LabelNeutral:
		return Label(normalized), true
	}
	return LabelNeutral, false
}
