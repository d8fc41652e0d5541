// Package postgres keeps a catalog of crawl runs and saved poems in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Defaults for table names.
const (
	DefaultPoemsTable = "poems"
	DefaultRunsTable  = "crawl_runs"
)

// Run statuses written to the runs table.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunError   = "error"
)

// Config controls the Postgres connection pool used by the catalog.
type Config struct {
	DSN             string
	PoemsTable      string
	RunsTable       string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// PoemRecord is one saved poem.
type PoemRecord struct {
	RunID   uuid.UUID
	Title   string
	URL     string
	URI     string
	Hash    string
	Lines   int
	Bytes   int64
	SavedAt time.Time
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CatalogStore writes run and poem rows.
type CatalogStore struct {
	pool  execCloser
	poems string
	runs  string
}

// NewCatalogStore connects to Postgres using cfg.
func NewCatalogStore(ctx context.Context, cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewCatalogStoreWithPool(pool, cfg.PoemsTable, cfg.RunsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(pool execCloser, poemsTable, runsTable string) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if poemsTable == "" {
		poemsTable = DefaultPoemsTable
	}
	if runsTable == "" {
		runsTable = DefaultRunsTable
	}
	for _, table := range []string{poemsTable, runsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &CatalogStore{pool: pool, poems: poemsTable, runs: runsTable}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the catalog tables when missing.
func (s *CatalogStore) EnsureSchema(ctx context.Context) error {
	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	listing_url TEXT NOT NULL,
	resume_from TEXT,
	status TEXT NOT NULL,
	poems_saved INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
)`, s.runs)
	poems := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	title TEXT PRIMARY KEY,
	run_id UUID NOT NULL,
	url TEXT NOT NULL,
	uri TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	lines INTEGER NOT NULL,
	bytes BIGINT NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL
)`, s.poems)
	for _, ddl := range []string{runs, poems} {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// StartRun records a new run in the running state.
func (s *CatalogStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, listingURL, resumeFrom string) error {
	if runID == uuid.Nil {
		return errors.New("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, listing_url, resume_from, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, listingURL, nullable(resumeFrom), RunRunning); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final status of a run. errMsg is nil on success.
func (s *CatalogStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status string,
	saved int,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, poems_saved = $3, error_message = $4
WHERE id = $5`, s.runs)
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, saved, errMsg, runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// UpsertPoem records a saved poem. A later save of the same title replaces
// the row, matching the storage layout where the last write wins.
func (s *CatalogStore) UpsertPoem(ctx context.Context, rec PoemRecord) error {
	if rec.Title == "" {
		return errors.New("poem title is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (title, run_id, url, uri, content_hash, lines, bytes, saved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (title) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	url = EXCLUDED.url,
	uri = EXCLUDED.uri,
	content_hash = EXCLUDED.content_hash,
	lines = EXCLUDED.lines,
	bytes = EXCLUDED.bytes,
	saved_at = EXCLUDED.saved_at`, s.poems)
	args := []any{
		rec.Title,
		rec.RunID,
		rec.URL,
		rec.URI,
		rec.Hash,
		rec.Lines,
		rec.Bytes,
		rec.SavedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert poem: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
