// Package config provides the configuration system for infortic.
//
// The configuration is organized into logical sections:
//   - Pipeline: batch size, inter-batch pause, deduplication and clean policies
//   - Retry: bounded exponential backoff for remote operations
//   - Store: which remote store to write to and how to reach it
//   - Logging, Metrics, Tracing: observability
//   - Tables: per-kind overrides of the built-in table identities
//
// Example usage:
//
//	cfg, err := config.Load("infortic.yaml")
//	if err != nil {
//	    return err
//	}
//	cfg.Pipeline.BatchSize = 500
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config

import (
	"time"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/logger"
	"github.com/infortic/infortic/pkg/tables"
)

// MissingKeyPolicy decides what deduplication does with records that lack
// a usable conflict-key value.
type MissingKeyPolicy string

const (
	// MissingKeyPassThrough keeps keyless records; the store decides.
	MissingKeyPassThrough MissingKeyPolicy = "pass_through"
	// MissingKeyDrop discards keyless records before upsert.
	MissingKeyDrop MissingKeyPolicy = "drop"
)

// PostCleanCheck decides what happens after a clean procedure returns.
type PostCleanCheck string

const (
	// PostCleanWarn counts the table and logs a warning if rows remain.
	PostCleanWarn PostCleanCheck = "warn"
	// PostCleanFail counts the table and fails the run if rows remain.
	PostCleanFail PostCleanCheck = "fail"
	// PostCleanSkip does not count the table.
	PostCleanSkip PostCleanCheck = "skip"
)

// Store drivers.
const (
	DriverPostgres  = "postgres"
	DriverPostgREST = "postgrest"
	DriverMemory    = "memory"
)

// Config is the root configuration.
type Config struct {
	Pipeline PipelineConfig             `mapstructure:"pipeline" yaml:"pipeline"`
	Retry    RetryConfig                `mapstructure:"retry" yaml:"retry"`
	Store    StoreConfig                `mapstructure:"store" yaml:"store"`
	Logging  logger.Config              `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig              `mapstructure:"metrics" yaml:"metrics"`
	Tracing  TracingConfig              `mapstructure:"tracing" yaml:"tracing"`
	Tables   map[string]tables.Override `mapstructure:"tables" yaml:"tables,omitempty"`
}

// PipelineConfig controls the upsert pipeline.
type PipelineConfig struct {
	// BatchSize is the number of records per upsert call
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// InterBatchPause is slept between consecutive batches
	InterBatchPause  time.Duration    `mapstructure:"inter_batch_pause" yaml:"inter_batch_pause"`
	MissingKeyPolicy MissingKeyPolicy `mapstructure:"missing_key_policy" yaml:"missing_key_policy"`
	PostCleanCheck   PostCleanCheck   `mapstructure:"post_clean_check" yaml:"post_clean_check"`
	// FailOnBatchError turns any failed batch into a run error after all
	// batches were attempted
	FailOnBatchError bool `mapstructure:"fail_on_batch_error" yaml:"fail_on_batch_error"`
	// DeadLetterDir receives the records of failed batches; empty disables it
	DeadLetterDir string `mapstructure:"dead_letter_dir" yaml:"dead_letter_dir"`
}

// RetryConfig contains the remote retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	// RetryOn selects which errors are retried: "all" or "retryable"
	RetryOn string `mapstructure:"retry_on" yaml:"retry_on"`
}

// StoreConfig selects and configures the remote store.
type StoreConfig struct {
	Driver   string          `mapstructure:"driver" yaml:"driver"`
	Postgres PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
	REST     PostgRESTConfig `mapstructure:"rest" yaml:"rest"`
}

// PostgresConfig configures the direct database store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
	// SimpleProtocol disables prepared statements, required behind pgbouncer
	SimpleProtocol bool          `mapstructure:"simple_protocol" yaml:"simple_protocol"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// PostgRESTConfig configures the Supabase REST store.
type PostgRESTConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	Schema          string        `mapstructure:"schema" yaml:"schema,omitempty"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			BatchSize:        1000,
			InterBatchPause:  100 * time.Millisecond,
			MissingKeyPolicy: MissingKeyPassThrough,
			PostCleanCheck:   PostCleanWarn,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			RetryOn:     "all",
		},
		Store: StoreConfig{
			Driver: DriverPostgREST,
			Postgres: PostgresConfig{
				MaxConns:       4,
				ConnectTimeout: 10 * time.Second,
			},
			REST: PostgRESTConfig{
				Timeout:         30 * time.Second,
				RateLimitPerSec: 10,
				RateBurst:       1,
			},
		},
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Tracing: TracingConfig{
			ServiceName: "infortic",
			SampleRate:  1.0,
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.BatchSize <= 0 {
		return configError("pipeline.batch_size must be positive", p.BatchSize)
	}
	if p.InterBatchPause < 0 {
		return configError("pipeline.inter_batch_pause cannot be negative", p.InterBatchPause)
	}
	switch p.MissingKeyPolicy {
	case MissingKeyPassThrough, MissingKeyDrop:
	default:
		return configError("pipeline.missing_key_policy must be pass_through or drop", p.MissingKeyPolicy)
	}
	switch p.PostCleanCheck {
	case PostCleanWarn, PostCleanFail, PostCleanSkip:
	default:
		return configError("pipeline.post_clean_check must be warn, fail or skip", p.PostCleanCheck)
	}

	r := c.Retry
	if r.MaxAttempts < 1 {
		return configError("retry.max_attempts must be at least 1", r.MaxAttempts)
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		return configError("retry delays cannot be negative", r.BaseDelay)
	}
	if r.RetryOn != "all" && r.RetryOn != "retryable" {
		return configError("retry.retry_on must be all or retryable", r.RetryOn)
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return configError("store.postgres.dsn is required", "")
		}
	case DriverPostgREST:
		if c.Store.REST.URL == "" {
			return configError("store.rest.url is required", "")
		}
		if c.Store.REST.APIKey == "" {
			return configError("store.rest.api_key is required", "")
		}
		if c.Store.REST.RateLimitPerSec < 0 {
			return configError("store.rest.rate_limit_per_sec cannot be negative", c.Store.REST.RateLimitPerSec)
		}
	case DriverMemory:
	default:
		return configError("store.driver must be postgres, postgrest or memory", c.Store.Driver)
	}

	if _, err := c.Identities(); err != nil {
		return err
	}
	return nil
}

// Identities returns the built-in table identities with the configured
// overrides applied.
func (c *Config) Identities() (*tables.Registry, error) {
	overrides := make(map[tables.Kind]tables.Override, len(c.Tables))
	for name, o := range c.Tables {
		kind, err := tables.ParseKind(name)
		if err != nil {
			return nil, err
		}
		overrides[kind] = o
	}
	return tables.NewRegistry(tables.Builtin(overrides)...)
}

func configError(msg string, value interface{}) error {
	return errors.New(errors.ErrorTypeConfig, msg).WithDetail("value", value)
}
