package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/veridexlabs/veridex/internal/llm"
	"github.com/veridexlabs/veridex/internal/model"
	"github.com/veridexlabs/veridex/internal/verify"
)

type scriptedChatter struct {
	out   string
	err   error
	calls int
	seen  llm.Request
}

func (s *scriptedChatter) Chat(ctx context.Context, req llm.Request) (string, error) {
	s.calls++
	s.seen = req
	if s.err != nil {
		return "", s.err
	}
	return s.out, nil
}

func sampleEvidence() []model.Evidence {
	return []model.Evidence{
		{Source: "nasa.gov", Title: "Moon facts", Snippet: "27.3 days", URL: "https://nasa.gov/moon", Credibility: 0.9},
	}
}

func TestJudge_ValidOutput(t *testing.T) {
	chatter := &scriptedChatter{out: `{"verdict": "supported", "confidence": 92, "rationale": "Confirmed by https://nasa.gov/moon"}`}
	j := New(chatter, "judge-model", 0.2, 500, nil)

	res := j.Judge(context.Background(), "The moon orbits in 27 days.",
		verify.Aggregate{Label: verify.LabelEntailment, Score: 0.9}, sampleEvidence())

	if res.Verdict != model.VerdictSupported || res.Confidence != 92 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Degraded {
		t.Error("clean judgment must not be degraded")
	}
	if !chatter.seen.JSONOnly {
		t.Error("judge must request JSON output")
	}
	if chatter.seen.Temperature != 0.2 {
		t.Errorf("expected configured temperature, got %v", chatter.seen.Temperature)
	}
}

func TestJudge_FallbackOnCallFailure(t *testing.T) {
	chatter := &scriptedChatter{err: errors.New("model down")}
	j := New(chatter, "judge-model", 0.2, 500, nil)

	res := j.Judge(context.Background(), "claim",
		verify.Aggregate{Label: verify.LabelContradiction, Score: 0.8}, sampleEvidence())

	if res.Verdict != model.VerdictContradicted {
		t.Errorf("fallback must map contradiction, got %s", res.Verdict)
	}
	if res.Confidence != 80 {
		t.Errorf("fallback confidence must be round(score*100), got %d", res.Confidence)
	}
	if !res.Degraded {
		t.Error("fallback verdicts must be flagged degraded")
	}
	if chatter.calls != 2 {
		t.Errorf("expected exactly one retry before fallback, got %d calls", chatter.calls)
	}
}

func TestJudge_FallbackOnSchemaViolation(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"bad verdict", `{"verdict": "true", "confidence": 90, "rationale": "r"}`},
		{"confidence out of range", `{"verdict": "supported", "confidence": 150, "rationale": "r"}`},
		{"fractional confidence", `{"verdict": "supported", "confidence": 90.5, "rationale": "r"}`},
		{"empty rationale", `{"verdict": "supported", "confidence": 90, "rationale": ""}`},
		{"not json", `the claim is supported`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chatter := &scriptedChatter{out: tt.out}
			j := New(chatter, "judge-model", 0.2, 500, nil)

			res := j.Judge(context.Background(), "claim",
				verify.Aggregate{Label: verify.LabelNeutral, Score: 0.3}, sampleEvidence())
			if res.Verdict != model.VerdictUncertain || !res.Degraded {
				t.Errorf("schema violation must fall back to degraded uncertain, got %+v", res)
			}
		})
	}
}

func TestJudge_StripsUnlistedCitations(t *testing.T) {
	chatter := &scriptedChatter{out: `{"verdict": "supported", "confidence": 90, "rationale": "Confirmed by https://nasa.gov/moon and https://fabricated.example/source"}`}
	j := New(chatter, "judge-model", 0.2, 500, nil)

	res := j.Judge(context.Background(), "claim",
		verify.Aggregate{Label: verify.LabelEntailment, Score: 0.9}, sampleEvidence())

	if strings.Contains(res.Rationale, "fabricated.example") {
		t.Errorf("out-of-allowlist citation must be stripped, got %q", res.Rationale)
	}
	if !strings.Contains(res.Rationale, "https://nasa.gov/moon") {
		t.Errorf("allowed citation must survive, got %q", res.Rationale)
	}
	if !res.Degraded {
		t.Error("stripped citations must flag the judgment")
	}
}

func TestJudge_ZeroEvidenceNeverCallsModel(t *testing.T) {
	// Even a schema-valid "supported" answer must not reach the result
	// when there is no evidence behind it.
	chatter := &scriptedChatter{out: `{"verdict": "supported", "confidence": 80, "rationale": "Sounds right."}`}
	j := New(chatter, "judge-model", 0.2, 500, nil)

	res := j.Judge(context.Background(), "claim",
		verify.Aggregate{Label: verify.LabelNeutral, Score: 0, Degraded: true}, nil)

	if res.Verdict != model.VerdictUncertain || res.Confidence != 0 {
		t.Errorf("zero evidence must yield uncertain/0, got %+v", res)
	}
	if !res.Degraded {
		t.Error("zero-evidence verdict must be flagged degraded")
	}
	if chatter.calls != 0 {
		t.Errorf("zero evidence must not invoke the model, got %d calls", chatter.calls)
	}
}

func TestFallback_ZeroEvidenceAggregate(t *testing.T) {
	res := Fallback(verify.Aggregate{Label: verify.LabelNeutral, Score: 0, Degraded: true})
	if res.Verdict != model.VerdictUncertain || res.Confidence != 0 {
		t.Errorf("neutral/0 aggregate must map to uncertain/0, got %+v", res)
	}
}
