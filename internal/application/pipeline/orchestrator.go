package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/application/extract"
	"github.com/techmart/pipeline/internal/application/transform"
	"github.com/techmart/pipeline/internal/domain/quality"
	"github.com/techmart/pipeline/internal/domain/record"
	"github.com/techmart/pipeline/internal/domain/run"
	"github.com/techmart/pipeline/internal/domain/shared"
	"github.com/techmart/pipeline/internal/infrastructure/lease"
	applogger "github.com/techmart/pipeline/internal/infrastructure/logger"
	"github.com/techmart/pipeline/internal/infrastructure/persistence"
	"github.com/techmart/pipeline/internal/infrastructure/warehouse"
)

// TransactionalSink loads a transformed batch into the operational store.
type TransactionalSink interface {
	Load(ctx context.Context, runID uuid.UUID, out *transform.Output) (persistence.LoadResult, error)
}

// AnalyticalSink merges a transformed batch into the analytical store.
type AnalyticalSink interface {
	MergeBatch(ctx context.Context, out *transform.Output) (warehouse.MergeResult, error)
}

// Config tunes one orchestrator.
type Config struct {
	PipelineName   string
	LeaseKey       string
	LeaseTTL       time.Duration
	PhaseRetries   int
	RetryBaseDelay time.Duration
	BackoffFactor  float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PipelineName:   "techmart-etl",
		LeaseKey:       "pipeline:run-lease",
		LeaseTTL:       30 * time.Minute,
		PhaseRetries:   3,
		RetryBaseDelay: time.Second,
		BackoffFactor:  2,
	}
}

// Orchestrator drives one pipeline invocation through its phases:
// extract, pre-transform scoring, transform, post-transform scoring, the
// two loads, finalize. Cancellation is honored between phases; writes
// already committed stay committed.
type Orchestrator struct {
	cfg         Config
	adapters    []extract.SourceAdapter
	scorer      *quality.Scorer
	transformer *transform.Transformer
	txSink      TransactionalSink
	anSink      AnalyticalSink
	ledger      *RunLedger
	runLease    lease.RunLease
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(
	cfg Config,
	adapters []extract.SourceAdapter,
	scorer *quality.Scorer,
	transformer *transform.Transformer,
	txSink TransactionalSink,
	anSink AnalyticalSink,
	ledger *RunLedger,
	runLease lease.RunLease,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.PhaseRetries <= 0 {
		cfg.PhaseRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:         cfg,
		adapters:    adapters,
		scorer:      scorer,
		transformer: transformer,
		txSink:      txSink,
		anSink:      anSink,
		ledger:      ledger,
		runLease:    runLease,
		logger:      logger.Named("orchestrator"),
		sleep:       sleepCtx,
	}
}

// Run executes one complete pipeline invocation. The returned run carries
// the terminal status; err is non-nil for FAILED and CANCELLED runs and for
// a lease that is already held.
func (o *Orchestrator) Run(ctx context.Context) (*run.PipelineRun, error) {
	owner := uuid.NewString()
	ok, err := o.runLease.Acquire(ctx, o.cfg.LeaseKey, owner, o.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lease: %w", err)
	}
	if !ok {
		return nil, shared.ErrLeaseHeld
	}
	defer func() {
		if err := o.runLease.Release(context.WithoutCancel(ctx), o.cfg.LeaseKey, owner); err != nil {
			o.logger.Warn("failed to release run lease", zap.Error(err))
		}
	}()

	pr := run.NewPipelineRun(o.cfg.PipelineName)
	ctx, log := applogger.WithRunID(ctx, o.logger, pr.RunID.String())
	if err := o.ledger.Started(ctx, pr); err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}
	log.Info("run started")

	if err := o.execute(ctx, log, pr); err != nil {
		return pr, err
	}
	return pr, nil
}

// enterPhase advances the run to p and scopes the context and logger to it.
// Derivations start from the run-scoped pair so phase fields never stack.
func enterPhase(ctx context.Context, log *zap.Logger, pr *run.PipelineRun, p run.Phase) (context.Context, *zap.Logger) {
	pr.SetPhase(p)
	return applogger.WithPhase(ctx, log, string(p))
}

func (o *Orchestrator) execute(runCtx context.Context, runLog *zap.Logger, pr *run.PipelineRun) error {
	// Phase: extract
	ctx, log := enterPhase(runCtx, runLog, pr, run.PhaseExtract)
	if err := o.checkCancelled(ctx, pr); err != nil {
		return err
	}
	results, err := o.extractAll(ctx, log)
	if err != nil {
		return o.fail(ctx, log, pr, err)
	}

	records := make([]record.CanonicalRecord, 0)
	var rejected int64
	var userProfiles []record.UserProfile
	var products []record.Product
	for _, res := range results {
		rejected += int64(len(res.Rejected))
		for _, rec := range res.Records {
			switch rec.Kind {
			case record.KindUserProfile:
				userProfiles = append(userProfiles, *rec.User)
			case record.KindProduct:
				products = append(products, *rec.Product)
			}
			records = append(records, rec)
		}
	}
	pr.AddExtracted(int64(len(records)) + rejected)
	pr.AddFailed(rejected)

	snap := transform.BuildSnapshot(userProfiles, products)
	txnRecords := filterTransactions(records)

	// Phase: pre-transform quality score
	ctx, log = enterPhase(runCtx, runLog, pr, run.PhasePreScore)
	if err := o.checkCancelled(ctx, pr); err != nil {
		return err
	}
	preResult := o.scorer.Score("transactions", txnRecords, snap)
	if err := o.recordQuality(ctx, log, pr, preResult); err != nil {
		return o.fail(ctx, log, pr, err)
	}
	if err := gateError(preResult); err != nil {
		return o.fail(ctx, log, pr, err)
	}

	// Phase: transform
	ctx, log = enterPhase(runCtx, runLog, pr, run.PhaseTransform)
	if err := o.checkCancelled(ctx, pr); err != nil {
		return err
	}
	out := o.transformer.Transform(txnRecords, snap)

	// Phase: post-transform quality score
	ctx, log = enterPhase(runCtx, runLog, pr, run.PhasePostScore)
	if err := o.checkCancelled(ctx, pr); err != nil {
		return err
	}
	postResult := o.scorer.Score("transaction_stream", out.Canonical, snap)
	pr.QualityScore = postResult.Score
	if err := o.recordQuality(ctx, log, pr, postResult); err != nil {
		return o.fail(ctx, log, pr, err)
	}
	if err := gateError(postResult); err != nil {
		return o.fail(ctx, log, pr, err)
	}

	// Phases: the two loads, concurrently. Each sink is internally
	// idempotent, so one succeeding while the other fails leaves a state a
	// re-run converges from.
	ctx, log = enterPhase(runCtx, runLog, pr, run.PhaseLoadTx)
	if err := o.checkCancelled(ctx, pr); err != nil {
		return err
	}
	if err := o.loadBoth(runCtx, runLog, pr, &out); err != nil {
		return o.fail(ctx, log, pr, err)
	}

	// Phase: finalize
	ctx, log = enterPhase(runCtx, runLog, pr, run.PhaseFinalize)
	if err := pr.Complete(); err != nil {
		return o.fail(ctx, log, pr, err)
	}
	if err := o.ledger.Finished(ctx, pr); err != nil {
		return fmt.Errorf("record run completion: %w", err)
	}
	return nil
}

func (o *Orchestrator) extractAll(ctx context.Context, log *zap.Logger) ([]extract.Result, error) {
	results := make([]extract.Result, 0, len(o.adapters))
	for _, adapter := range o.adapters {
		var res extract.Result
		err := o.withRetry(ctx, log, string(adapter.Source()), func(ctx context.Context) error {
			var err error
			res, err = adapter.Extract(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", adapter.Source(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (o *Orchestrator) loadBoth(runCtx context.Context, runLog *zap.Logger, pr *run.PipelineRun, out *transform.Output) error {
	var wg sync.WaitGroup
	var txResult persistence.LoadResult
	var txErr, anErr error

	// Each sink runs under its own phase so logs and traced queries from
	// the concurrent loads stay tagged with the side that issued them.
	txCtx, txLog := applogger.WithPhase(runCtx, runLog, string(run.PhaseLoadTx))
	anCtx, anLog := applogger.WithPhase(runCtx, runLog, string(run.PhaseLoadAnalytic))

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := o.withRetry(txCtx, txLog, "load_transactional", func(ctx context.Context) error {
			var err error
			txResult, err = o.txSink.Load(ctx, pr.RunID, out)
			return err
		})
		if err != nil {
			txErr = fmt.Errorf("transactional load: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		err := o.withRetry(anCtx, anLog, "load_analytical", func(ctx context.Context) error {
			_, err := o.anSink.MergeBatch(ctx, out)
			return err
		})
		if err != nil {
			anErr = fmt.Errorf("analytical load: %w", err)
		}
	}()
	wg.Wait()

	if txErr == nil {
		pr.AddProcessed(int64(txResult.Inserted + txResult.Updated + txResult.SkippedUnchanged + txResult.SkippedStale))
		pr.AddFailed(int64(txResult.Rejected))
	}
	return errors.Join(txErr, anErr)
}

// withRetry retries fn on transient errors with exponential backoff.
// Terminal errors and context cancellation surface immediately.
func (o *Orchestrator) withRetry(ctx context.Context, log *zap.Logger, name string, fn func(context.Context) error) error {
	delay := o.cfg.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= o.cfg.PhaseRetries || !errors.Is(err, shared.ErrTransientSource) || ctx.Err() != nil {
			return err
		}
		log.Warn("transient failure, backing off",
			zap.String("step", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * o.cfg.BackoffFactor)
	}
}

func (o *Orchestrator) recordQuality(ctx context.Context, log *zap.Logger, pr *run.PipelineRun, result quality.Result) error {
	if err := o.ledger.RecordQuality(ctx, pr.RunID, result); err != nil {
		return fmt.Errorf("record quality reports: %w", err)
	}
	for _, warning := range result.Gate.Warnings {
		log.Warn("quality check below threshold margin",
			zap.String("subject", result.SubjectTable),
			zap.String("check", string(warning.CheckType)),
			zap.Float64("value", warning.MetricValue),
			zap.Float64("threshold", warning.Threshold))
	}
	if err := o.ledger.Progress(ctx, pr); err != nil {
		return fmt.Errorf("record run progress: %w", err)
	}
	return nil
}

// checkCancelled finalizes the run as CANCELLED when the context is done.
// Phases already completed keep their committed writes.
func (o *Orchestrator) checkCancelled(ctx context.Context, pr *run.PipelineRun) error {
	if ctx.Err() == nil {
		return nil
	}
	if err := pr.Cancel(); err != nil {
		return ctx.Err()
	}
	if err := o.ledger.Finished(context.WithoutCancel(ctx), pr); err != nil {
		o.logger.Warn("failed to record cancellation", zap.Error(err))
	}
	return ctx.Err()
}

func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, pr *run.PipelineRun, cause error) error {
	if err := pr.Fail(cause.Error()); err != nil {
		return cause
	}
	if err := o.ledger.Finished(context.WithoutCancel(ctx), pr); err != nil {
		log.Error("failed to record run failure", zap.Error(err))
	}
	return cause
}

// gateError converts a blocking gate decision into a terminal error.
func gateError(result quality.Result) error {
	if result.Gate.Allowed {
		return nil
	}
	checks := make([]string, len(result.Gate.Blocking))
	for i, r := range result.Gate.Blocking {
		checks[i] = string(r.CheckType)
	}
	return fmt.Errorf("%w: %s blocked by %s",
		shared.ErrQualityGateFailure,
		result.SubjectTable,
		strings.Join(checks, ", "))
}

func filterTransactions(records []record.CanonicalRecord) []record.CanonicalRecord {
	out := make([]record.CanonicalRecord, 0, len(records))
	for _, rec := range records {
		if rec.Kind == record.KindTransaction {
			out = append(out, rec)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
