// Package pipeline loads scraped records into their tables.
//
// # Overview
//
// A run takes the records of one kind through a fixed sequence of states:
//
//	Idle -> Cleaning -> Deduplicating -> Batching -> Upserting -> Completed
//
// Cleaning only happens when the caller asks for a clean-then-load run and
// Failed is reachable from cleaning and from configuration errors. Batches
// are upserted sequentially with a pause between them; a batch that
// exhausts its retries is recorded in the run's Outcome (and handed to the
// optional FailureSink) without stopping the batches after it.
//
// # Basic Usage
//
//	p, err := pipeline.New(store, registry, retry.DefaultPolicy(log), pipeline.DefaultOptions(), log)
//	if err != nil {
//	    return err
//	}
//	n, err := p.Upsert(ctx, tables.Scholarships, records, true)
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/config"
	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/logger"
	"github.com/infortic/infortic/pkg/metrics"
	"github.com/infortic/infortic/pkg/models"
	"github.com/infortic/infortic/pkg/observability"
	"github.com/infortic/infortic/pkg/retry"
	"github.com/infortic/infortic/pkg/store"
	"github.com/infortic/infortic/pkg/tables"
)

// State is a step of a pipeline run.
type State string

const (
	StateIdle          State = "idle"
	StateCleaning      State = "cleaning"
	StateDeduplicating State = "deduplicating"
	StateBatching      State = "batching"
	StateUpserting     State = "upserting"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// FailureSink receives batches that exhausted their retries.
type FailureSink interface {
	Capture(ctx context.Context, runID string, id tables.Identity, failure models.BatchFailure) error
}

// Options control a pipeline.
type Options struct {
	BatchSize        int
	InterBatchPause  time.Duration
	MissingKeyPolicy config.MissingKeyPolicy
	PostCleanCheck   config.PostCleanCheck
	// FailOnBatchError makes Run return an error when any batch failed,
	// after every batch was attempted.
	FailOnBatchError bool

	Sink   FailureSink
	Tracer trace.Tracer
	// Pause waits between batches; nil uses retry.SleepContext.
	Pause retry.Sleeper
}

// DefaultOptions returns the reference options: batches of 1000, a 100ms
// pause, keyless records passed through, a warning when a cleaned table is
// not empty.
func DefaultOptions() Options {
	return Options{
		BatchSize:        1000,
		InterBatchPause:  100 * time.Millisecond,
		MissingKeyPolicy: config.MissingKeyPassThrough,
		PostCleanCheck:   config.PostCleanWarn,
	}
}

// OptionsFromConfig maps the pipeline configuration section to Options.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		BatchSize:        cfg.BatchSize,
		InterBatchPause:  cfg.InterBatchPause,
		MissingKeyPolicy: cfg.MissingKeyPolicy,
		PostCleanCheck:   cfg.PostCleanCheck,
		FailOnBatchError: cfg.FailOnBatchError,
	}
}

// Result describes one run.
type Result struct {
	RunID    string         `json:"run_id"`
	Kind     tables.Kind    `json:"kind"`
	Table    string         `json:"table,omitempty"`
	Received int            `json:"received"`
	States   []State        `json:"states"`
	Cleaned  bool           `json:"cleaned"`
	Dedupe   DedupeStats    `json:"dedupe"`
	Batches  int            `json:"batches"`
	Outcome  models.Outcome `json:"outcome"`
	Duration time.Duration  `json:"duration"`
	Err      error          `json:"-"`
	started  time.Time
}

// State returns the state the run ended in.
func (r *Result) State() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

func (r *Result) enter(s State) {
	r.States = append(r.States, s)
}

// UpsertPipeline runs clean-then-load upserts for every bound kind.
type UpsertPipeline struct {
	bindings Bindings
	retry    *retry.Policy
	opts     Options
	logger   *zap.Logger
	newRunID func() string
}

// New creates a pipeline writing to st for the identities in registry.
func New(st store.Store, registry *tables.Registry, policy *retry.Policy, opts Options, log *zap.Logger) (*UpsertPipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if policy == nil {
		policy = retry.DefaultPolicy(log)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "batch size must be positive").
			WithDetail("batch_size", opts.BatchSize)
	}
	if opts.InterBatchPause < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "inter-batch pause cannot be negative")
	}
	if opts.MissingKeyPolicy == "" {
		opts.MissingKeyPolicy = config.MissingKeyPassThrough
	}
	if opts.Pause == nil {
		opts.Pause = retry.SleepContext
	}

	cleaner := NewTableCleaner(st, st, policy, opts.PostCleanCheck, log).WithTracer(opts.Tracer)
	return &UpsertPipeline{
		bindings: Bind(registry, st, cleaner),
		retry:    policy,
		opts:     opts,
		logger:   log.With(zap.String("component", "pipeline")),
		newRunID: func() string { return uuid.NewString() },
	}, nil
}

// Bindings returns the pipeline's table bindings.
func (p *UpsertPipeline) Bindings() Bindings {
	return p.bindings
}

// Upsert runs the pipeline and returns the number of rows the store
// reported as affected.
func (p *UpsertPipeline) Upsert(ctx context.Context, kind tables.Kind, records []models.Record, cleanFirst bool) (int, error) {
	res, err := p.Run(ctx, kind, records, cleanFirst)
	return res.Outcome.Succeeded, err
}

// Run executes one run and returns its result, which is never nil. The
// error is non-nil when the run ended in StateFailed.
func (p *UpsertPipeline) Run(ctx context.Context, kind tables.Kind, records []models.Record, cleanFirst bool) (*Result, error) {
	res := &Result{
		RunID:    p.newRunID(),
		Kind:     kind,
		Received: len(records),
		started:  time.Now(),
	}
	res.enter(StateIdle)

	ctx = logger.ContextWithRunID(ctx, res.RunID)
	ctx, span := observability.StartSpan(ctx, p.opts.Tracer, "pipeline.run",
		attribute.String("run_id", res.RunID),
		attribute.String("kind", string(kind)),
		attribute.Int("records", len(records)),
		attribute.Bool("clean_first", cleanFirst))

	err := p.run(ctx, res, records, cleanFirst)
	res.Duration = time.Since(res.started)
	span.SetAttributes(
		attribute.Int("attempted", res.Outcome.Attempted),
		attribute.Int("succeeded", res.Outcome.Succeeded),
		attribute.Int("failed_batches", len(res.Outcome.Failures)))
	span.End(err)

	log := logger.WithContext(ctx, p.logger)
	if res.Table != "" {
		log = log.With(zap.String("table", res.Table))
	}
	if err != nil {
		res.Err = err
		res.enter(StateFailed)
		log.Error("upsert run failed",
			zap.String("kind", string(kind)),
			zap.Strings("states", stateNames(res.States)),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
		return res, err
	}
	res.enter(StateCompleted)

	log.Info("upsert run finished",
		zap.String("kind", string(kind)),
		zap.Int("received", len(records)),
		zap.Int("kept", res.Dedupe.Kept),
		zap.Int("batches", res.Batches),
		zap.Int("attempted", res.Outcome.Attempted),
		zap.Int("succeeded", res.Outcome.Succeeded),
		zap.Int("failed_batches", len(res.Outcome.Failures)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (p *UpsertPipeline) run(ctx context.Context, res *Result, records []models.Record, cleanFirst bool) error {
	binding, err := p.bindings.Lookup(res.Kind)
	if err != nil {
		return err
	}
	id := binding.Identity
	res.Table = id.Table
	ctx = logger.ContextWithTable(ctx, id.Table)
	log := logger.WithContext(ctx, p.logger)

	metrics.RecordsReceived.WithLabelValues(id.Table).Add(float64(len(records)))

	if cleanFirst {
		res.enter(StateCleaning)
		if err := binding.Clean(ctx); err != nil {
			return err
		}
		res.Cleaned = true
	}

	if len(records) == 0 {
		log.Info("no records to upsert")
		return nil
	}

	res.enter(StateDeduplicating)
	kept, stats := Dedupe(records, id.KeyOf, p.opts.MissingKeyPolicy)
	res.Dedupe = stats
	if stats.DuplicatesRemoved > 0 {
		metrics.RecordsDeduplicated.WithLabelValues(id.Table, "duplicate").Add(float64(stats.DuplicatesRemoved))
		log.Warn("duplicate records removed",
			zap.String("conflict_key", id.ConflictKey),
			zap.Int("removed", stats.DuplicatesRemoved),
			zap.Int("kept", stats.Kept))
	}
	if stats.MissingKey > 0 {
		if p.opts.MissingKeyPolicy == config.MissingKeyDrop {
			metrics.RecordsDeduplicated.WithLabelValues(id.Table, "missing_key").Add(float64(stats.MissingKey))
		}
		log.Warn("records without conflict key",
			zap.String("conflict_key", id.ConflictKey),
			zap.Int("count", stats.MissingKey),
			zap.String("policy", string(p.opts.MissingKeyPolicy)))
	}

	res.enter(StateBatching)
	batches, err := Split(kept, p.opts.BatchSize)
	if err != nil {
		return err
	}
	res.Batches = len(batches)

	res.enter(StateUpserting)
	for i, batch := range batches {
		if i > 0 && p.opts.InterBatchPause > 0 {
			if err := p.opts.Pause(ctx, p.opts.InterBatchPause); err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "upsert run cancelled").
					WithDetail("next_batch", i)
			}
		}
		if err := p.upsertBatch(ctx, res, binding, i, batch, len(batches)); err != nil {
			return err
		}
	}

	if p.opts.FailOnBatchError && res.Outcome.Failed() {
		return errors.Newf(errors.ErrorTypeRemote, "%d of %d batches failed", len(res.Outcome.Failures), len(batches)).
			WithDetail("table", id.Table).
			WithDetail("failed_records", res.Outcome.FailedRecords())
	}
	return nil
}

// upsertBatch loads one batch. Exhausted retries are recorded in the
// outcome; only cancellation is returned.
func (p *UpsertPipeline) upsertBatch(ctx context.Context, res *Result, binding Binding, index int, batch []models.Record, total int) error {
	id := binding.Identity
	log := logger.WithContext(ctx, p.logger).With(zap.Int("batch", index+1), zap.Int("batches", total))

	rows := make([]models.Record, len(batch))
	for j, r := range batch {
		rows[j] = id.Project(r)
	}

	ctx, span := observability.StartSpan(ctx, p.opts.Tracer, "pipeline.batch",
		attribute.String("table", id.Table),
		attribute.Int("batch", index),
		attribute.Int("size", len(rows)))
	timer := metrics.NewTimer()

	res.Outcome.Attempted += len(rows)
	n, err := retry.Do(ctx, p.retry, "upsert "+id.Table, func(ctx context.Context) (int, error) {
		return binding.Upsert(ctx, rows)
	})
	metrics.BatchDuration.WithLabelValues(id.Table).Observe(timer.Stop().Seconds())
	span.End(err)

	if err == nil {
		res.Outcome.Succeeded += n
		metrics.BatchesTotal.WithLabelValues(id.Table, "ok").Inc()
		metrics.RecordsUpserted.WithLabelValues(id.Table).Add(float64(n))
		log.Info("batch upserted", zap.Int("records", len(rows)), zap.Int("affected", n))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.BatchesTotal.WithLabelValues(id.Table, "cancelled").Inc()
		return errors.Wrap(err, errors.ErrorTypeInternal, "upsert run cancelled").
			WithDetail("batch", index)
	}

	metrics.BatchesTotal.WithLabelValues(id.Table, "failed").Inc()
	failure := models.BatchFailure{Index: index, Size: len(rows), Err: err, Records: rows}
	res.Outcome.Failures = append(res.Outcome.Failures, failure)
	log.Error("batch failed after retries, continuing",
		zap.Int("records", len(rows)),
		zap.Error(err))

	if p.opts.Sink != nil {
		if sinkErr := p.opts.Sink.Capture(ctx, res.RunID, id, failure); sinkErr != nil {
			log.Error("failed to dead-letter batch", zap.Error(sinkErr))
		} else {
			metrics.DeadLetters.WithLabelValues(id.Table).Add(float64(len(rows)))
		}
	}
	return nil
}

func stateNames(states []State) []string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return names
}
