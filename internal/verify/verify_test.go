package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/veridexlabs/veridex/internal/config"
	"github.com/veridexlabs/veridex/internal/llm"
	"github.com/veridexlabs/veridex/internal/model"
)

// labelByURL answers with a fixed label per evidence URL, extracted from
// the premise the verifier builds.
type labelByURL struct {
	bySnippet map[string]string
	err       error
	calls     int
}

func (f *labelByURL) Chat(ctx context.Context, req llm.Request) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	for marker, label := range f.bySnippet {
		if strings.Contains(req.User, marker) {
			return label, nil
		}
	}
	return "neutral", nil
}

func newVerifier(chatter llm.Chatter) *Verifier {
	cfg := config.Default().NLI
	cfg.ConfidenceThreshold = 0.55
	return New(chatter, cfg, nil)
}

func ev(snippet string, credibility float64) model.Evidence {
	return model.Evidence{URL: "https://example.com/" + snippet, Snippet: snippet, Credibility: credibility}
}

func TestVerifyClaim_EntailmentWins(t *testing.T) {
	chatter := &labelByURL{bySnippet: map[string]string{
		"supporting": "entailment",
		"also":       "entailment",
	}}
	v := newVerifier(chatter)

	agg := v.VerifyClaim(context.Background(), "claim", []model.Evidence{
		ev("supporting passage", 0.9),
		ev("also supporting", 0.6),
	})
	if agg.Label != LabelEntailment {
		t.Errorf("expected entailment, got %s", agg.Label)
	}
	if agg.Score <= 0.55 {
		t.Errorf("expected score above threshold, got %v", agg.Score)
	}
	if agg.Degraded {
		t.Error("clean aggregation must not be degraded")
	}
}

func TestVerifyClaim_CredibilityWeighting(t *testing.T) {
	// One high-credibility contradiction outweighs two weak entailments.
	chatter := &labelByURL{bySnippet: map[string]string{
		"refuting": "contradiction",
		"weak1":    "entailment",
		"weak2":    "entailment",
	}}
	v := newVerifier(chatter)

	agg := v.VerifyClaim(context.Background(), "claim", []model.Evidence{
		ev("refuting passage", 0.9),
		ev("weak1", 0.2),
		ev("weak2", 0.2),
	})
	if agg.Label != LabelContradiction {
		t.Errorf("expected credibility-weighted contradiction, got %s", agg.Label)
	}
}

func TestVerifyClaim_TieResolvesNeutral(t *testing.T) {
	chatter := &labelByURL{bySnippet: map[string]string{
		"for":     "entailment",
		"against": "contradiction",
	}}
	v := newVerifier(chatter)

	agg := v.VerifyClaim(context.Background(), "claim", []model.Evidence{
		ev("for", 0.5),
		ev("against", 0.5),
	})
	if agg.Label != LabelNeutral {
		t.Errorf("equal opposing mass must resolve neutral, got %s", agg.Label)
	}
}

func TestVerifyClaim_BelowThresholdResolvesNeutral(t *testing.T) {
	chatter := &labelByURL{bySnippet: map[string]string{
		"for": "entailment",
	}}
	cfg := config.Default().NLI
	cfg.ConfidenceThreshold = 0.99
	v := New(chatter, cfg, nil)

	agg := v.VerifyClaim(context.Background(), "claim", []model.Evidence{
		ev("for", 0.6),
		ev("offtopic", 0.5),
	})
	if agg.Label != LabelNeutral {
		t.Errorf("below-threshold winner must resolve neutral, got %s", agg.Label)
	}
}

func TestVerifyClaim_ZeroEvidenceNoModelCall(t *testing.T) {
	chatter := &labelByURL{}
	v := newVerifier(chatter)

	agg := v.VerifyClaim(context.Background(), "claim", nil)
	if agg.Label != LabelNeutral || agg.Score != 0 {
		t.Errorf("zero evidence must be neutral/0, got %s/%v", agg.Label, agg.Score)
	}
	if !agg.Degraded {
		t.Error("zero-evidence aggregate must be flagged degraded")
	}
	if chatter.calls != 0 {
		t.Errorf("zero evidence must not call the model, got %d calls", chatter.calls)
	}
}

func TestVerifyPair_InferenceFailureDegrades(t *testing.T) {
	chatter := &labelByURL{err: errors.New("nli down")}
	v := newVerifier(chatter)

	j := v.VerifyPair(context.Background(), "claim", ev("passage", 0.9))
	if j.Label != LabelNeutral || j.Confidence != 0 || !j.Degraded {
		t.Errorf("failed pair must degrade to neutral/0, got %+v", j)
	}
	if chatter.calls != 2 {
		t.Errorf("expected exactly one retry, got %d calls", chatter.calls)
	}
}

func TestVerifyPair_UsesTemperatureZero(t *testing.T) {
	var seen llm.Request
	chatter := chatFunc(func(ctx context.Context, req llm.Request) (string, error) {
		seen = req
		return "entailment", nil
	})
	v := newVerifier(chatter)

	v.VerifyPair(context.Background(), "claim", ev("passage", 0.9))
	if seen.Temperature != 0 {
		t.Errorf("structural decisions run at temperature 0, got %v", seen.Temperature)
	}
}

type chatFunc func(ctx context.Context, req llm.Request) (string, error)

func (f chatFunc) Chat(ctx context.Context, req llm.Request) (string, error) { return f(ctx, req) }

func TestParseLabel(t *testing.T) {
	tests := []struct {
		in   string
		want Label
		ok   bool
	}{
		{"entailment", LabelEntailment, true},
		{" Contradiction.\n", LabelContradiction, true},
		{`"neutral"`, LabelNeutral, true},
		{"probably true", LabelNeutral, false},
		{"", LabelNeutral, false},
	}
	for _, tt := range tests {
		got, ok := parseLabel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseLabel(%q) = %s,%v want %s,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
