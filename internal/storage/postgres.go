// Package storage provides database connections and the job and lead stores.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lead-scanner/internal/config"
)

// PostgresDB holds the pool shared by the job and lead repositories
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens the pool and checks the database answers within
// cfg.ConnectTimeout
func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	poolConfig, err := newPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	return &PostgresDB{pool: pool}, nil
}

// newPoolConfig maps the service's Postgres settings onto pgxpool
func newPoolConfig(cfg *config.PostgresConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - small positive value from config
	}
	if cfg.MinConnections > 0 {
		poolConfig.MinConns = min(int32(cfg.MinConnections), poolConfig.MaxConns) // #nosec G115
	}
	if cfg.ConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnLifetime
	}
	if cfg.ConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.ConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "lead-scanner"
	return poolConfig, nil
}

// Close releases the pool
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying connection pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
