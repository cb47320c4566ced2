package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/config"
	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/metrics"
	"github.com/infortic/infortic/pkg/observability"
	"github.com/infortic/infortic/pkg/retry"
	"github.com/infortic/infortic/pkg/store"
	"github.com/infortic/infortic/pkg/tables"
)

// TableCleaner empties a table through its remote clean procedure.
type TableCleaner struct {
	procedures store.ProcedureCaller
	counter    store.Counter
	retry      *retry.Policy
	check      config.PostCleanCheck
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewTableCleaner creates a cleaner. An empty check means PostCleanWarn.
func NewTableCleaner(procedures store.ProcedureCaller, counter store.Counter, policy *retry.Policy, check config.PostCleanCheck, logger *zap.Logger) *TableCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.DefaultPolicy(logger)
	}
	if check == "" {
		check = config.PostCleanWarn
	}
	return &TableCleaner{
		procedures: procedures,
		counter:    counter,
		retry:      policy,
		check:      check,
		logger:     logger.With(zap.String("component", "cleaner")),
	}
}

// WithTracer sets the tracer used for clean spans.
func (c *TableCleaner) WithTracer(tracer trace.Tracer) *TableCleaner {
	c.tracer = tracer
	return c
}

// Clean calls the identity's clean procedure with retries. Every failure,
// including an error reported inside a successful response, is returned
// as an ErrorTypeCleaning error.
func (c *TableCleaner) Clean(ctx context.Context, id tables.Identity) (err error) {
	ctx, span := observability.StartSpan(ctx, c.tracer, "pipeline.clean",
		attribute.String("table", id.Table),
		attribute.String("procedure", id.CleanProcedure))
	defer func() { span.End(err) }()

	log := c.logger.With(zap.String("table", id.Table), zap.String("procedure", id.CleanProcedure))
	if id.CleanProcedure == "" {
		metrics.CleanRuns.WithLabelValues(id.Table, "failed").Inc()
		return errors.New(errors.ErrorTypeCleaning, "table has no clean procedure").
			WithDetail("table", id.Table)
	}

	log.Info("cleaning table")
	callErr := c.retry.Execute(ctx, "clean "+id.Table, func(ctx context.Context) error {
		return c.procedures.CallProcedure(ctx, id.CleanProcedure)
	})
	if callErr != nil {
		metrics.CleanRuns.WithLabelValues(id.Table, "failed").Inc()
		log.Error("failed to clean table", zap.Error(callErr))
		return errors.Wrap(callErr, errors.ErrorTypeCleaning, "failed to clean table").
			WithDetail("table", id.Table).
			WithDetail("procedure", id.CleanProcedure)
	}

	metrics.CleanRuns.WithLabelValues(id.Table, "ok").Inc()
	log.Info("table cleaned")
	return nil
}

// Verify applies the post-clean check: it counts the table's rows and
// warns or fails when any remain.
func (c *TableCleaner) Verify(ctx context.Context, id tables.Identity) error {
	if c.check == config.PostCleanSkip || c.counter == nil {
		return nil
	}
	log := c.logger.With(zap.String("table", id.Table))

	remaining, err := retry.Do(ctx, c.retry, "count "+id.Table, func(ctx context.Context) (int64, error) {
		return c.counter.Count(ctx, id.Table)
	})
	if err != nil {
		if c.check == config.PostCleanFail {
			return errors.Wrap(err, errors.ErrorTypeCleaning, "failed to verify cleaned table").
				WithDetail("table", id.Table)
		}
		log.Warn("could not verify cleaned table", zap.Error(err))
		return nil
	}
	if remaining == 0 {
		log.Debug("clean verified")
		return nil
	}

	if c.check == config.PostCleanFail {
		metrics.CleanRuns.WithLabelValues(id.Table, "not_empty").Inc()
		return errors.Newf(errors.ErrorTypeCleaning, "table still holds %d rows after cleaning", remaining).
			WithDetail("table", id.Table).
			WithDetail("remaining", remaining)
	}
	log.Warn("table not empty after cleaning", zap.Int64("remaining", remaining))
	return nil
}
