// Package postgres implements the remote store directly against Postgres
// with a pgx connection pool.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/config"
	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

// dbtx is the subset of *pgxpool.Pool the store uses.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store writes to Postgres.
type Store struct {
	db     dbtx
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open creates the pool and checks connectivity.
func Open(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse postgres DSN")
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.SimpleProtocol {
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to create postgres pool")
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to connect to postgres")
	}

	logger.Info("connected to postgres",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_connections", poolConfig.MaxConns),
		zap.Bool("simple_protocol", cfg.SimpleProtocol))

	return &Store{db: pool, pool: pool, logger: logger}, nil
}

func newStore(db dbtx, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Upsert implements store.Upserter as a single statement; the batch is
// applied atomically.
func (s *Store) Upsert(ctx context.Context, table string, rows []models.Record, conflictKey string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args, err := buildUpsert(table, rows, conflictKey)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(err, "upsert failed").WithDetail("table", table)
	}
	s.logger.Debug("upserted rows",
		zap.String("table", table),
		zap.Int("rows", len(rows)),
		zap.Int64("affected", tag.RowsAffected()),
		zap.Duration("duration", time.Since(start)))
	return int(tag.RowsAffected()), nil
}

// CallProcedure implements store.ProcedureCaller.
func (s *Store) CallProcedure(ctx context.Context, name string) error {
	if _, err := s.db.Exec(ctx, "SELECT "+quoteIdent(name)+"()"); err != nil {
		return classify(err, "procedure call failed").WithDetail("procedure", name)
	}
	return nil
}

// Count implements store.Counter.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM "+quoteIdent(table)).Scan(&n); err != nil {
		return 0, classify(err, "count failed").WithDetail("table", table)
	}
	return n, nil
}

// Close closes the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// classify maps a pgx error onto the store error taxonomy: errors reported
// by the server are logical, everything else is transport.
func classify(err error, msg string) *errors.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errors.Wrap(err, errors.ErrorTypeLogical, msg).
			WithDetail("code", pgErr.Code).
			WithDetail("hint", pgErr.Hint)
	}
	return errors.Wrap(err, errors.ErrorTypeTransport, msg)
}
