// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "crawled_urls"

// Config controls the Postgres connection pool used for processed-URL rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// CountStore keeps one row per processed URL.
type CountStore struct {
	pool  querier
	table string
}

// NewCountStore connects to Postgres and makes sure the table exists.
func NewCountStore(ctx context.Context, cfg Config) (*CountStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewCountStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewCountStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCountStoreWithPool(pool querier, table string) (*CountStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CountStore{pool: pool, table: table}, nil
}

// Migrate creates the table when it does not exist.
func (s *CountStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url             TEXT PRIMARY KEY,
	last_crawled_at TIMESTAMPTZ NOT NULL,
	crawl_count     BIGINT NOT NULL DEFAULT 1
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *CountStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordProcessed upserts the row for url.
func (s *CountStore) RecordProcessed(ctx context.Context, url string, at time.Time) error {
	if url == "" {
		return fmt.Errorf("url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, last_crawled_at, crawl_count)
VALUES ($1, $2, 1)
ON CONFLICT (url) DO UPDATE
SET last_crawled_at = EXCLUDED.last_crawled_at,
	crawl_count = %s.crawl_count + 1`, s.table, s.table)
	if _, err := s.pool.Exec(ctx, query, url, at); err != nil {
		return fmt.Errorf("upsert processed url: %w", err)
	}
	return nil
}

// Count returns the number of distinct processed URLs.
func (s *CountStore) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count processed urls: %w", err)
	}
	return n, nil
}

// Clear deletes every row.
func (s *CountStore) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("clear processed urls: %w", err)
	}
	return nil
}
