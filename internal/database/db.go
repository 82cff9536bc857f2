package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the pgx connection pool used by the store.
type DB struct {
	pool   *pgxpool.Pool
	config *Config
}

// New opens a connection pool, verifies connectivity and bootstraps the
// schema (tables, indexes and the insert-notification trigger).
func New(ctx context.Context, config *Config) (*DB, error) {
	pool, err := pgxpool.New(ctx, config.PoolConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{pool: pool, config: config}

	if err := db.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Pool exposes the underlying pool for the store.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Config returns the connection settings, used by the notification listener
// to open its own dedicated connection.
func (d *DB) Config() *Config {
	return d.config
}

// Close releases the connection pool.
func (d *DB) Close() {
	d.pool.Close()
}
