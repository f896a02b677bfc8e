// Package orchestrator runs checks through the pipeline stages in order,
// persisting every transition and emitting exactly one progress event per
// transition. It owns the per-check timeout, the failure taxonomy, and
// the at-most-one-execution guarantee (in-process active set; the queue's
// claim atomicity covers cross-process).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/ingest"
	"github.com/veridexlabs/veridex/internal/judge"
	"github.com/veridexlabs/veridex/internal/metrics"
	"github.com/veridexlabs/veridex/internal/model"
	"github.com/veridexlabs/veridex/internal/progress"
	"github.com/veridexlabs/veridex/internal/store"
	"github.com/veridexlabs/veridex/internal/verify"
)

// Ingestor normalizes one input into a document.
type Ingestor interface {
	Ingest(ctx context.Context, kind model.InputKind, input string) (*ingest.Document, error)
}

// Extractor turns a document into claims.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// Retriever gathers evidence for claims.
type Retriever interface {
	RetrieveAll(ctx context.Context, claims []string) ([][]model.Evidence, error)
}

// Verifier aggregates an inference stance per claim.
type Verifier interface {
	VerifyClaim(ctx context.Context, claimText string, evidence []model.Evidence) verify.Aggregate
}

// Judger renders the final verdict per claim.
type Judger interface {
	Judge(ctx context.Context, claimText string, agg verify.Aggregate, evidence []model.Evidence) judge.Result
}

// Orchestrator executes checks.
type Orchestrator struct {
	store       *store.Store
	ingestor    Ingestor
	extractor   Extractor
	retriever   Retriever
	verifier    Verifier
	judger      Judger
	broadcaster *progress.Broadcaster
	metrics     *metrics.Metrics
	timeout     time.Duration
	newID       func() string
	now         func() time.Time

	mu     sync.Mutex
	active map[string]struct{}

	logger *zap.Logger
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Store       *store.Store
	Ingestor    Ingestor
	Extractor   Extractor
	Retriever   Retriever
	Verifier    Verifier
	Judger      Judger
	Broadcaster *progress.Broadcaster
	Metrics     *metrics.Metrics
	// CheckTimeout bounds a whole check execution. Default: 180s.
	CheckTimeout time.Duration
	Logger       *zap.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 180 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		store:       opts.Store,
		ingestor:    opts.Ingestor,
		extractor:   opts.Extractor,
		retriever:   opts.Retriever,
		verifier:    opts.Verifier,
		judger:      opts.Judger,
		broadcaster: opts.Broadcaster,
		metrics:     opts.Metrics,
		timeout:     opts.CheckTimeout,
		newID:       func() string { return uuid.NewString() },
		now:         time.Now,
		logger:      opts.Logger,
	}
}

// Execute runs one check to a terminal status. A second Execute for the
// same id while the first is active returns model.ErrDuplicateDispatch
// and touches nothing. A check already terminal is a no-op so redelivered
// dispatches ack cleanly.
func (o *Orchestrator) Execute(ctx context.Context, checkID string) error {
	o.mu.Lock()
	if _, running := o.active[checkID]; running {
		o.mu.Unlock()
		return model.ErrDuplicateDispatch
	}
	if o.active == nil {
		o.active = make(map[string]struct{})
	}
	o.active[checkID] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, checkID)
		o.mu.Unlock()
	}()

	check, err := o.store.GetCheck(ctx, checkID)
	if err != nil {
		return fmt.Errorf("load check %s: %w", checkID, err)
	}
	if check.Status.Terminal() {
		return nil
	}

	if o.metrics != nil {
		o.metrics.ActiveChecks.Inc()
		defer o.metrics.ActiveChecks.Dec()
	}

	started := o.now()
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	log := o.logger.With(zap.String("check_id", checkID))
	if err := o.run(runCtx, log, check, started); err != nil {
		o.fail(log, check.ID, started, err)
	}
	return nil
}

// run executes the stage sequence. Any returned error fails the check.
func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, check *model.Check, started time.Time) error {
	// Ingest.
	if err := o.transition(ctx, check, model.StatusIngesting, ""); err != nil {
		return err
	}
	doc, err := o.stageIngest(ctx, log, check)
	if err != nil {
		return err
	}

	// Extract.
	if err := o.transition(ctx, check, model.StatusExtracting, ""); err != nil {
		return err
	}
	claimTexts, err := o.stageExtract(ctx, log, doc)
	if err != nil {
		return err
	}
	if len(claimTexts) == 0 {
		// Short-circuit: nothing checkable is a terminal outcome, and the
		// admission credit stays spent.
		return model.NewIngestionError(model.ReasonNoClaims, "no verifiable claims in input")
	}

	claims := make([]model.Claim, len(claimTexts))
	for i, text := range claimTexts {
		claims[i] = model.Claim{
			ID:      o.newID(),
			CheckID: check.ID,
			Ordinal: i,
			Text:    text,
		}
	}
	if err := o.store.CreateClaims(ctx, claims); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.ClaimsPerCheck.Observe(float64(len(claims)))
	}

	// Retrieve.
	if err := o.transition(ctx, check, model.StatusRetrieving, ""); err != nil {
		return err
	}
	evidence, err := o.stageRetrieve(ctx, log, claims)
	if err != nil {
		return err
	}

	// Verify.
	if err := o.transition(ctx, check, model.StatusVerifying, ""); err != nil {
		return err
	}
	aggregates := o.stageVerify(ctx, log, claims, evidence)
	if err := ctx.Err(); err != nil {
		return err
	}

	// Judge.
	if err := o.transition(ctx, check, model.StatusJudging, ""); err != nil {
		return err
	}
	if err := o.stageJudge(ctx, log, claims, aggregates, evidence); err != nil {
		return err
	}

	// Complete.
	completedAt := o.now()
	duration := completedAt.Sub(started)
	if err := o.store.FinishCheck(ctx, check.ID, model.StatusCompleted, model.ReasonNone, "", completedAt, duration); err != nil {
		return err
	}
	o.publish(check.ID, model.StatusCompleted, "")
	if o.metrics != nil {
		o.metrics.ChecksTotal.WithLabelValues(string(model.StatusCompleted), "").Inc()
		o.metrics.CheckDuration.Observe(duration.Seconds())
	}
	log.Info("check completed",
		zap.Int("claims", len(claims)),
		zap.Duration("duration", duration))
	return nil
}

func (o *Orchestrator) stageIngest(ctx context.Context, log *zap.Logger, check *model.Check) (*ingest.Document, error) {
	defer o.observeStage(model.StatusIngesting, o.now())
	doc, err := o.ingestor.Ingest(ctx, check.InputKind, check.Input)
	if err != nil {
		return nil, err
	}
	log.Debug("ingested", zap.Int("chars", len(doc.Text)))
	return doc, nil
}

func (o *Orchestrator) stageExtract(ctx context.Context, log *zap.Logger, doc *ingest.Document) ([]string, error) {
	defer o.observeStage(model.StatusExtracting, o.now())
	claims, err := o.extractor.Extract(ctx, doc.Text)
	if err != nil {
		return nil, err
	}
	log.Debug("extracted", zap.Int("claims", len(claims)))
	return claims, nil
}

func (o *Orchestrator) stageRetrieve(ctx context.Context, log *zap.Logger, claims []model.Claim) ([][]model.Evidence, error) {
	defer o.observeStage(model.StatusRetrieving, o.now())

	texts := make([]string, len(claims))
	for i, c := range claims {
		texts[i] = c.Text
	}
	evidence, err := o.retriever.RetrieveAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	var rows []model.Evidence
	for i := range claims {
		for j := range evidence[i] {
			evidence[i][j].ID = o.newID()
			evidence[i][j].ClaimID = claims[i].ID
			rows = append(rows, evidence[i][j])
		}
	}
	if err := o.store.CreateEvidence(ctx, rows); err != nil {
		return nil, err
	}
	log.Debug("retrieved", zap.Int("evidence", len(rows)))
	return evidence, nil
}

func (o *Orchestrator) stageVerify(ctx context.Context, log *zap.Logger, claims []model.Claim, evidence [][]model.Evidence) []verify.Aggregate {
	defer o.observeStage(model.StatusVerifying, o.now())

	aggregates := make([]verify.Aggregate, len(claims))
	for i, c := range claims {
		if ctx.Err() != nil {
			return aggregates
		}
		aggregates[i] = o.verifier.VerifyClaim(ctx, c.Text, evidence[i])
	}
	return aggregates
}

func (o *Orchestrator) stageJudge(ctx context.Context, log *zap.Logger, claims []model.Claim, aggregates []verify.Aggregate, evidence [][]model.Evidence) error {
	defer o.observeStage(model.StatusJudging, o.now())

	for i, c := range claims {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := o.judger.Judge(ctx, c.Text, aggregates[i], evidence[i])
		degraded := res.Degraded || aggregates[i].Degraded
		if err := o.store.UpdateClaimVerdict(ctx, c.ID, res.Verdict, res.Confidence, res.Rationale, degraded); err != nil {
			return err
		}
		if degraded && o.metrics != nil {
			o.metrics.DegradedClaims.Inc()
		}
	}
	return nil
}

// transition persists the new status and publishes its single progress
// event.
func (o *Orchestrator) transition(ctx context.Context, check *model.Check, next model.CheckStatus, message string) error {
	if !check.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s -> %s", check.Status, next)
	}
	// Terminal-state races (e.g. timeout already persisted) surface here as
	// store.ErrTerminal and abort the run.
	if err := o.store.UpdateCheckStatus(ctx, check.ID, next, message); err != nil {
		return err
	}
	check.Status = next
	o.publish(check.ID, next, message)
	return nil
}

// fail persists the terminal failure mapped from err and publishes the
// terminal event. Failures of failure handling are logged, not retried.
func (o *Orchestrator) fail(log *zap.Logger, checkID string, started time.Time, cause error) {
	reason, message := classify(cause)
	completedAt := o.now()
	duration := completedAt.Sub(started)

	// The run context may be expired; terminal persistence gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := o.store.FinishCheck(ctx, checkID, model.StatusFailed, reason, message, completedAt, duration)
	switch {
	case errors.Is(err, store.ErrTerminal):
		return // lost the race to another terminal writer; its event stands
	case err != nil:
		log.Error("failed to persist terminal failure", zap.Error(err))
		return
	}

	o.publish(checkID, model.StatusFailed, message)
	if o.metrics != nil {
		o.metrics.ChecksTotal.WithLabelValues(string(model.StatusFailed), string(reason)).Inc()
		o.metrics.CheckDuration.Observe(duration.Seconds())
	}
	log.Info("check failed",
		zap.String("reason", string(reason)),
		zap.Duration("duration", duration),
		zap.Error(cause))
}

func (o *Orchestrator) publish(checkID string, status model.CheckStatus, message string) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.Publish(checkID, model.ProgressEvent{
		Stage:   string(status),
		Percent: status.ProgressPercent(),
		Message: message,
	})
}

func (o *Orchestrator) observeStage(stage model.CheckStatus, started time.Time) {
	if o.metrics != nil {
		o.metrics.StageDuration.WithLabelValues(string(stage)).Observe(o.now().Sub(started).Seconds())
	}
}

// classify maps a pipeline error to its terminal reason code and a
// user-safe message. Raw error text never leaves the logs.
func classify(err error) (model.Reason, string) {
	var ierr *model.IngestionError
	switch {
	case errors.As(err, &ierr):
		return ierr.Reason, ierr.Detail
	case errors.Is(err, context.DeadlineExceeded):
		return model.ReasonTimeout, "check exceeded its time budget"
	case errors.Is(err, context.Canceled):
		return model.ReasonCancelled, "check was cancelled"
	default:
		return model.ReasonInternal, "internal error"
	}
}
