package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veridexlabs/veridex/internal/ingest"
	"github.com/veridexlabs/veridex/internal/judge"
	"github.com/veridexlabs/veridex/internal/model"
	"github.com/veridexlabs/veridex/internal/progress"
	"github.com/veridexlabs/veridex/internal/store"
	"github.com/veridexlabs/veridex/internal/verify"
)

type fakeIngestor struct {
	doc   *ingest.Document
	err   error
	delay time.Duration
}

func (f *fakeIngestor) Ingest(ctx context.Context, kind model.InputKind, input string) (*ingest.Document, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.doc, f.err
}

type fakeExtractor struct {
	claims []string
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	return f.claims, f.err
}

type fakeRetriever struct {
	evidence map[string][]model.Evidence
}

func (f *fakeRetriever) RetrieveAll(ctx context.Context, claims []string) ([][]model.Evidence, error) {
	out := make([][]model.Evidence, len(claims))
	for i, c := range claims {
		out[i] = f.evidence[c]
	}
	return out, nil
}

type fakeVerifier struct{}

func (fakeVerifier) VerifyClaim(ctx context.Context, claimText string, evidence []model.Evidence) verify.Aggregate {
	if len(evidence) == 0 {
		return verify.Aggregate{Label: verify.LabelNeutral, Score: 0, Degraded: true}
	}
	return verify.Aggregate{Label: verify.LabelEntailment, Score: 0.9}
}

type fakeJudger struct{}

func (fakeJudger) Judge(ctx context.Context, claimText string, agg verify.Aggregate, evidence []model.Evidence) judge.Result {
	if agg.Label == verify.LabelEntailment {
		return judge.Result{Verdict: model.VerdictSupported, Confidence: 90, Rationale: "supported by evidence"}
	}
	return judge.Result{Verdict: model.VerdictUncertain, Confidence: 0, Rationale: "insufficient evidence", Degraded: true}
}

type harness struct {
	store       *store.Store
	broadcaster *progress.Broadcaster
	orch        *Orchestrator
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	b := progress.NewBroadcaster(nil)

	opts.Store = s
	opts.Broadcaster = b
	if opts.Ingestor == nil {
		opts.Ingestor = &fakeIngestor{doc: &ingest.Document{Text: "some factual text"}}
	}
	if opts.Extractor == nil {
		opts.Extractor = &fakeExtractor{claims: []string{"claim one", "claim two"}}
	}
	if opts.Retriever == nil {
		opts.Retriever = &fakeRetriever{evidence: map[string][]model.Evidence{
			"claim one": {{Source: "nasa.gov", URL: "https://nasa.gov/a", Credibility: 0.9}},
			"claim two": {{Source: "reuters.com", URL: "https://reuters.com/b", Credibility: 0.6}},
		}}
	}
	if opts.Verifier == nil {
		opts.Verifier = fakeVerifier{}
	}
	if opts.Judger == nil {
		opts.Judger = fakeJudger{}
	}
	return &harness{store: s, broadcaster: b, orch: New(opts)}
}

func (h *harness) createCheck(t *testing.T) *model.Check {
	t.Helper()
	c := &model.Check{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		InputKind:  model.InputText,
		Input:      "The unemployment rate decreased to 3.7% in October 2024.",
		Status:     model.StatusPending,
		CreditCost: model.CreditCost,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateCheck(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func drainEvents(ch <-chan model.ProgressEvent) []model.ProgressEvent {
	var events []model.ProgressEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestExecute_HappyPath(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.createCheck(t)

	ch, cancel := h.broadcaster.Subscribe(c.ID)
	defer cancel()

	if err := h.orch.Execute(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := drainEvents(ch)
	wantStages := []string{"ingesting", "extracting", "retrieving", "verifying", "judging", "completed"}
	if len(events) != len(wantStages) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantStages), len(events), events)
	}
	wantPercents := []int{10, 30, 55, 75, 90, 100}
	for i, ev := range events {
		if ev.Stage != wantStages[i] || ev.Percent != wantPercents[i] {
			t.Errorf("event %d = %s/%d, want %s/%d", i, ev.Stage, ev.Percent, wantStages[i], wantPercents[i])
		}
		if ev.Seq != i+1 {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
	}

	got, err := h.store.GetCheck(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion time to be persisted")
	}
	if len(got.Claims) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(got.Claims))
	}
	for _, cl := range got.Claims {
		if cl.Verdict != model.VerdictSupported || cl.Confidence != 90 {
			t.Errorf("claim %d verdict %s/%d, want supported/90", cl.Ordinal, cl.Verdict, cl.Confidence)
		}
		if len(cl.Evidence) != 1 {
			t.Errorf("claim %d has %d evidence rows", cl.Ordinal, len(cl.Evidence))
		}
	}
}

func TestExecute_ZeroClaimsShortCircuits(t *testing.T) {
	h := newHarness(t, Options{Extractor: &fakeExtractor{claims: nil}})
	c := h.createCheck(t)

	ch, cancel := h.broadcaster.Subscribe(c.ID)
	defer cancel()

	if err := h.orch.Execute(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := h.store.GetCheck(context.Background(), c.ID)
	if got.Status != model.StatusFailed || got.Reason != model.ReasonNoClaims {
		t.Errorf("expected failed/no_verifiable_claims, got %s/%s", got.Status, got.Reason)
	}

	events := drainEvents(ch)
	last := events[len(events)-1]
	if last.Stage != "failed" || last.Percent != 100 {
		t.Errorf("expected terminal failed event, got %+v", last)
	}
	// retrieving/verifying/judging must never have been entered.
	for _, ev := range events {
		if ev.Stage == "retrieving" || ev.Stage == "verifying" || ev.Stage == "judging" {
			t.Errorf("stage %s must not run after short-circuit", ev.Stage)
		}
	}
}

func TestExecute_IngestionFailureCarriesReason(t *testing.T) {
	h := newHarness(t, Options{
		Ingestor: &fakeIngestor{err: model.NewIngestionError(model.ReasonPaywall, "marker found")},
	})
	c := h.createCheck(t)

	if err := h.orch.Execute(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := h.store.GetCheck(context.Background(), c.ID)
	if got.Status != model.StatusFailed || got.Reason != model.ReasonPaywall {
		t.Errorf("expected failed/paywall, got %s/%s", got.Status, got.Reason)
	}
}

func TestExecute_TimeoutFailsWithReason(t *testing.T) {
	h := newHarness(t, Options{
		Ingestor:     &fakeIngestor{doc: &ingest.Document{Text: "text"}, delay: 5 * time.Second},
		CheckTimeout: 50 * time.Millisecond,
	})
	c := h.createCheck(t)

	if err := h.orch.Execute(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := h.store.GetCheck(context.Background(), c.ID)
	if got.Status != model.StatusFailed || got.Reason != model.ReasonTimeout {
		t.Errorf("expected failed/timeout, got %s/%s", got.Status, got.Reason)
	}
}

func TestExecute_CancellationFailsWithReason(t *testing.T) {
	h := newHarness(t, Options{
		Ingestor: &fakeIngestor{doc: &ingest.Document{Text: "text"}, delay: 5 * time.Second},
	})
	c := h.createCheck(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if err := h.orch.Execute(ctx, c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := h.store.GetCheck(context.Background(), c.ID)
	if got.Status != model.StatusFailed || got.Reason != model.ReasonCancelled {
		t.Errorf("expected failed/cancelled, got %s/%s", got.Status, got.Reason)
	}
}

func TestExecute_DuplicateDispatchRejected(t *testing.T) {
	h := newHarness(t, Options{
		Ingestor: &fakeIngestor{doc: &ingest.Document{Text: "text"}, delay: 200 * time.Millisecond},
	})
	c := h.createCheck(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.orch.Execute(context.Background(), c.ID)
		}()
	}
	wg.Wait()

	duplicates := 0
	for _, err := range errs {
		if errors.Is(err, model.ErrDuplicateDispatch) {
			duplicates++
		}
	}
	if duplicates != 1 {
		t.Errorf("expected exactly one duplicate rejection, got %d (%v)", duplicates, errs)
	}
}

func TestExecute_TerminalCheckIsNoOp(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.createCheck(t)

	if err := h.orch.Execute(context.Background(), c.ID); err != nil {
		t.Fatal(err)
	}
	before, _ := h.store.GetCheck(context.Background(), c.ID)

	// Redelivery of a finished check must not touch it.
	if err := h.orch.Execute(context.Background(), c.ID); err != nil {
		t.Fatalf("redelivered terminal check must ack cleanly, got %v", err)
	}
	after, _ := h.store.GetCheck(context.Background(), c.ID)
	if before.Status != after.Status || before.DurationMS != after.DurationMS {
		t.Errorf("terminal check mutated on redelivery: %+v vs %+v", before, after)
	}
}

func TestExecute_ZeroEvidenceDegradesClaim(t *testing.T) {
	h := newHarness(t, Options{
		Retriever: &fakeRetriever{evidence: map[string][]model.Evidence{}},
	})
	c := h.createCheck(t)

	if err := h.orch.Execute(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := h.store.GetCheck(context.Background(), c.ID)
	if got.Status != model.StatusCompleted {
		t.Fatalf("evidence-less claims still complete the check, got %s", got.Status)
	}
	for _, cl := range got.Claims {
		if cl.Verdict != model.VerdictUncertain || !cl.Degraded {
			t.Errorf("claim %d must be uncertain and degraded, got %s degraded=%v", cl.Ordinal, cl.Verdict, cl.Degraded)
		}
	}
}

func TestExecute_UnknownCheck(t *testing.T) {
	h := newHarness(t, Options{})
	err := h.orch.Execute(context.Background(), "no-such-check")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
