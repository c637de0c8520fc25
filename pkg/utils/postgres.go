package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresPoolConfig controls database/sql pool behavior.
type PostgresPoolConfig struct {
	// ApplicationName shows up in pg_stat_activity, so a stuck sync pass can
	// be told apart from API traffic.
	ApplicationName string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	out := c
	if out.ApplicationName == "" {
		out.ApplicationName = "agency-billing"
	}
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 25
	}
	if out.MaxIdleConns <= 0 || out.MaxIdleConns > out.MaxOpenConns {
		out.MaxIdleConns = out.MaxOpenConns
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// connConfig parses dsn (URL or keyword/value form) without connecting.
// Parse errors from pgx can echo the DSN, so they are replaced.
func connConfig(dsn, appName string) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.New("postgres: invalid DSN")
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["application_name"] = appName
	return cfg, nil
}

// OpenPostgres opens a pgx-backed database/sql pool and pings it.
// dsn must not be logged; it contains secrets.
func OpenPostgres(ctx context.Context, dsn string, pool PostgresPoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	cfg, err := connConfig(dsn, pool.ApplicationName)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*cfg)

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := PingPostgres(ctx, db, pool.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// PingPostgres pings the DB with a timeout.
func PingPostgres(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}

// TxFunc is the unit of work executed inside a transaction. It may run more
// than once, so it must not have effects outside tx.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// maxTxAttempts bounds reruns after serialization failures and deadlocks.
const maxTxAttempts = 3

// IsRetryable reports whether err is a serialization failure (40001) or a
// deadlock (40P01); Postgres aborted the transaction and a rerun may succeed.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// WithTx runs fn inside a transaction. Every balance change and its ledger
// row go through here so they commit or roll back together.
//   - fn returns an error: rollback, the error is returned.
//   - fn panics: rollback, the panic is re-thrown.
//   - commit fails: the commit error is returned.
//
// A retryable failure from fn or commit reruns the whole transaction, up to
// maxTxAttempts in total.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = runTx(ctx, db, opts, fn)
		if !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("transaction aborted after %d attempts: %w", maxTxAttempts, err)
}

func runTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
