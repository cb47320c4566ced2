// Package logger builds the structured zap logger shared by the ingestion
// components. There is no package-level logger: the process creates one with
// New at start-up and hands it to every constructor.
package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// contextKey is the type for context keys
type contextKey string

const (
	// RunIDKey is the context key for the pipeline run ID
	RunIDKey contextKey = "run_id"
	// TableKey is the context key for the target table
	TableKey contextKey = "table"
	// ProducerKey is the context key for the producer that supplied the records
	ProducerKey contextKey = "producer"
)

// Config represents logger configuration
type Config struct {
	Level       string     `mapstructure:"level" yaml:"level"`
	Development bool       `mapstructure:"development" yaml:"development"`
	Encoding    string     `mapstructure:"encoding" yaml:"encoding"` // json or console
	OutputPaths []string   `mapstructure:"output_paths" yaml:"output_paths"`
	File        FileConfig `mapstructure:"file" yaml:"file"`
}

// FileConfig configures the optional rotating log file.
type FileConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DefaultConfig returns an info-level JSON logger writing to stdout.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Encoding: "json",
		File: FileConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if development {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

// New creates a zap logger from cfg. When cfg.File.Path is set, entries are
// also written as JSON to a size-rotated file.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig(cfg.Development),
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	opts := []zap.Option{}
	if cfg.File.Path != "" {
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig(false)),
			zapcore.AddSync(rotatingFile(cfg.File)),
			zap.NewAtomicLevelAt(zapcore.DebugLevel),
		)
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}
	if cfg.Development {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	log, err := zapCfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}

func rotatingFile(cfg FileConfig) *lumberjack.Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// WithContext returns log annotated with the run ID, table and producer
// stored in ctx.
func WithContext(ctx context.Context, log *zap.Logger) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}

	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		log = log.With(zap.String("run_id", runID))
	}

	if table, ok := ctx.Value(TableKey).(string); ok {
		log = log.With(zap.String("table", table))
	}

	if producer, ok := ctx.Value(ProducerKey).(string); ok {
		log = log.With(zap.String("producer", producer))
	}

	return log
}

// ContextWithRunID stores a run ID for WithContext.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// ContextWithTable stores a table name for WithContext.
func ContextWithTable(ctx context.Context, table string) context.Context {
	return context.WithValue(ctx, TableKey, table)
}

// ContextWithProducer stores a producer name for WithContext.
func ContextWithProducer(ctx context.Context, producer string) context.Context {
	return context.WithValue(ctx, ProducerKey, producer)
}
