// Package db provides the durable store for agents, messages,
// conversations, consensus outcomes, regulatory sources and simulations.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Sentinel errors shared by every repository. Callers classify failures
// with errors.Is and attach their own context when wrapping.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a status transition the current row state forbids.
	ErrConflict = errors.New("conflict")
)

// PoolIface abstracts the pgx pool operations the repositories need,
// so tests can substitute pgxmock.
type PoolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB wraps the PostgreSQL connection pool
type DB struct {
	pool PoolIface
	// pgxPool is the concrete pool when one was created; nil when the DB
	// was constructed from a bare PoolIface (tests).
	pgxPool *pgxpool.Pool
}

// New creates a new database connection pool. An empty databaseURL falls
// back to the DATABASE_URL environment variable.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is empty and DATABASE_URL is not set")
	}

	// Configure connection pool
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Set pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	// Create connection pool
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Database connection pool created successfully")

	return &DB{pool: pool, pgxPool: pool}, nil
}

// NewWithPool wraps an existing pool implementation. Used by tests to
// inject pgxmock.
func NewWithPool(pool PoolIface) *DB {
	return &DB{pool: pool}
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
		log.Info().Msg("Database connection pool closed")
	}
}

// Pool returns the underlying concrete connection pool, or nil when the
// DB was built from a bare PoolIface.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pgxPool
}

// Health checks database connectivity
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Ping checks database connectivity (alias for Health)
func (db *DB) Ping(ctx context.Context) error {
	return db.Health(ctx)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// textArray maps a nil slice to an empty one. TEXT[] columns are NOT
// NULL throughout the schema, and pgx encodes nil slices as SQL NULL.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
