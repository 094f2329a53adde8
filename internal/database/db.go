// Package database is the read/write access layer backing conversations,
// messages, and receipts: connection pooling, migrations, replica-aware
// read routing, and a result cache sit in front of the plain SQL query
// files in this package.
package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"chatcore/internal/apperrors"
	"chatcore/internal/metrics"
)

// DB wraps the primary pool plus an optional set of read replicas behind a
// circuit breaker, and an optional result cache.
type DB struct {
	*sqlx.DB

	replicas *replicaRouter
	cache    ResultCache
	metrics  *metrics.Registry
}

// Config configures pool sizing. The bootstrap fills these from the
// DB_POOL_MAX / DB_POOL_MIN / DB_IDLE_TIMEOUT_MS environment keys.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New connects to the primary database, tunes the pool, and pings it.
func New(databaseURL string, cfg Config, reg *metrics.Registry) (*DB, error) {
	if databaseURL == "" {
		return nil, apperrors.New(apperrors.CodeInvalidEnvironment, "DATABASE_URL is not set")
	}

	conn, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 25
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping the database: %w", err)
	}

	slog.Info("connected to primary database")

	return &DB{DB: conn, metrics: reg}, nil
}

// Migrate applies all pending "up" migrations found under migrationsPath.
func (db *DB) Migrate(databaseURL, migrationsPath string) error {
	sourceURL := fmt.Sprintf("file://%s", migrationsPath)

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		slog.Warn("could not read migration version", "error", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty migration state at version %d", version)
	}

	slog.Info("database migrations applied", "version", version)
	return nil
}

// WithReplicas attaches a replica router for read-query routing.
func (db *DB) WithReplicas(router *replicaRouter) *DB {
	db.replicas = router
	return db
}

// WithCache attaches a result cache. No query method in this package reads
// from or writes to it.
func (db *DB) WithCache(cache ResultCache) *DB {
	db.cache = cache
	return db
}

// ReportPoolSaturation records the primary pool's in-use fraction against
// the pool-saturation gauge. Called on a short ticker from the bootstrap
// goroutine.
func (db *DB) ReportPoolSaturation() {
	if db.metrics == nil {
		return
	}
	stats := db.DB.Stats()
	if stats.MaxOpenConnections == 0 {
		return
	}
	ratio := float64(stats.InUse) / float64(stats.MaxOpenConnections)
	db.metrics.PoolSaturation.WithLabelValues("primary").Set(ratio)
}

// readReplicaFirst runs fetch against the routed replica when one is
// configured and its breaker is not OPEN, falling back to the primary on
// any replica error (including the breaker itself rejecting the call).
func (db *DB) readReplicaFirst(fetch func(q sqlx.QueryerContext) error) error {
	if db.replicas != nil {
		if err := db.replicas.Execute(fetch); err == nil {
			return nil
		}
		slog.Warn("replica read failed, falling back to primary", "replica", db.replicas.name)
	}
	return fetch(db.DB)
}
