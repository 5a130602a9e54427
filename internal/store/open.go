package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Config selects and tunes a backend.
type Config struct {
	Driver            string // postgres, sqlite or memory
	URL               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	StatementTimeout  time.Duration
	ConnectTimeout    time.Duration
	ConnectMaxElapsed time.Duration
}

// Open connects to the configured backend and migrates its schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		logger.Info("using in-memory store")
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.URL, logger)
	case "postgres", "":
		return OpenPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// OpenPostgres creates a pgx pool, retrying the first connection with
// exponential backoff, and exposes it through database/sql.
func OpenPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*SQLStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "itassets"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	connect := func() (*pgxpool.Pool, error) {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(dialCtx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("database not ready, retrying", "error", err, "backoff", next)
	}

	maxElapsed := cfg.ConnectMaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = time.Minute
	}

	logger.Info("connecting to database", "driver", "postgres", "host", pc.ConnConfig.Host, "name", pc.ConnConfig.Database)
	pool, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := NewSQLStore(stdlib.OpenDBFromPool(pool), Postgres)
	s.onClose = pool.Close
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("connected to database", "name", pc.ConnConfig.Database)
	return s, nil
}

// OpenSQLite opens a SQLite database through modernc.org/sqlite.
// The pool is pinned to one connection, so ":memory:" databases persist
// for the life of the store and writers never contend.
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := NewSQLStore(db, SQLite)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("opened sqlite database", "dsn", dsn)
	return s, nil
}
