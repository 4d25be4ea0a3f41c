// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

const defaultTable = "mirror_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SummaryStoreConfig controls the Postgres connection pool used for run summaries.
type SummaryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// SummaryStore writes one row per subdomain run into Postgres.
type SummaryStore struct {
	pool  execCloser
	table string
}

// NewSummaryStore creates a Postgres-backed SummaryStore using the provided config.
func NewSummaryStore(ctx context.Context, cfg SummaryStoreConfig) (*SummaryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("report.db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &SummaryStore{pool: pool, table: table}, nil
}

// NewSummaryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSummaryStoreWithPool(pool execCloser, table string) (*SummaryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SummaryStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SummaryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the summary table when it does not exist.
func (s *SummaryStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("summary store is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT PRIMARY KEY,
	subdomain   TEXT NOT NULL,
	records     INTEGER NOT NULL,
	fetched     INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	ingested    INTEGER NOT NULL,
	failed      JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	error       TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StoreSummary inserts a run summary row.
func (s *SummaryStore) StoreSummary(ctx context.Context, summary mirror.RunSummary) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("summary store is not configured")
	}
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	failed := summary.Failed
	if failed == nil {
		failed = []mirror.FailedPath{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failed paths: %w", err)
	}
	var runErr *string
	if summary.Err != "" {
		runErr = &summary.Err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	subdomain,
	records,
	fetched,
	skipped,
	ingested,
	failed,
	started_at,
	finished_at,
	error
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		summary.RunID,
		summary.Subdomain,
		summary.Records,
		summary.Fetched,
		summary.Skipped,
		summary.Ingested,
		failedJSON,
		summary.Started,
		summary.Finished,
		runErr,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run summary: %w", err)
	}
	return nil
}
