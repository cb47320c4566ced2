package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/infortic/infortic/internal/pipeline"
	"github.com/infortic/infortic/pkg/config"
	"github.com/infortic/infortic/pkg/deadletter"
	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/logger"
	"github.com/infortic/infortic/pkg/metrics"
	"github.com/infortic/infortic/pkg/observability"
	"github.com/infortic/infortic/pkg/retry"
	"github.com/infortic/infortic/pkg/store"
	"github.com/infortic/infortic/pkg/store/memstore"
	"github.com/infortic/infortic/pkg/store/postgres"
	"github.com/infortic/infortic/pkg/store/postgrest"
	"github.com/infortic/infortic/pkg/tables"
)

// app holds the process-wide dependencies of a command.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *tables.Registry
	store    store.Store
	tracing  *observability.Tracing
	metrics  *metrics.Server
	dead     *deadletter.Writer
}

// loadConfig reads the config file and applies the global flags, then the
// command's own overrides.
func loadConfig(flags *globalFlags, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Read(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.dryRun {
		cfg.Store.Driver = config.DriverMemory
	}
	if flags.metrics {
		cfg.Metrics.Enabled = true
	}
	if flags.tracing {
		cfg.Tracing.Enabled = true
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp builds the logger, store and observability for cfg. The caller
// must call close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	registry, err := cfg.Identities()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, registry: registry}

	a.tracing, err = observability.NewTracing(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Tracing.SampleRate,
		Writer:         os.Stderr,
	})
	if err != nil {
		return nil, err
	}

	a.store, err = openStore(ctx, cfg, registry, log)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(cfg.Metrics.Addr, log)
		a.metrics.Start()
	}
	return a, nil
}

// openStore creates the store selected by cfg.Store.Driver.
func openStore(ctx context.Context, cfg *config.Config, registry *tables.Registry, log *zap.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.Store.Postgres, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverPostgREST:
		st, err := postgrest.New(cfg.Store.REST, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverMemory:
		st := memstore.New()
		for _, id := range registry.All() {
			st.RegisterCleanProcedure(id.CleanProcedure, id.Table)
		}
		log.Warn("using in-memory store, nothing will be persisted")
		return st, nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unknown store driver %q", cfg.Store.Driver)
}

// retryPolicy builds the configured retry policy.
func (a *app) retryPolicy() *retry.Policy {
	r := a.cfg.Retry
	p := retry.NewPolicy(a.log, r.MaxAttempts, r.BaseDelay, r.MaxDelay)
	if r.RetryOn == "retryable" {
		p = p.WithRetryIf(errors.IsRetryable)
	}
	return p
}

// pipeline builds an upsert pipeline, with a dead-letter sink when a
// directory is configured.
func (a *app) pipeline() (*pipeline.UpsertPipeline, error) {
	opts := pipeline.OptionsFromConfig(a.cfg.Pipeline)
	opts.Tracer = a.tracing.Tracer()

	if dir := a.cfg.Pipeline.DeadLetterDir; dir != "" && a.dead == nil {
		w, err := deadletter.NewWriter(dir, a.log)
		if err != nil {
			return nil, err
		}
		a.dead = w
	}
	if a.dead != nil {
		opts.Sink = a.dead
	}
	return pipeline.New(a.store, a.registry, a.retryPolicy(), opts, a.log)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.dead != nil {
		if err := a.dead.Close(); err != nil {
			a.log.Warn("failed to close dead-letter files", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.log.Warn("failed to stop metrics server", zap.Error(err))
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.log.Warn("failed to flush traces", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// withApp loads configuration, runs fn with a fresh app under the command
// timeout and releases everything afterwards.
func withApp(ctx context.Context, flags *globalFlags, override func(*config.Config), fn func(ctx context.Context, a *app) error) error {
	var overrides []func(*config.Config)
	if override != nil {
		overrides = append(overrides, override)
	}
	cfg, err := loadConfig(flags, overrides...)
	if err != nil {
		return err
	}
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
