// Package postgres provides a Postgres-backed JobStore that keeps each job as a
// JSONB document.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "jobs"

// Config controls the Postgres connection pool used for job documents.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// JobStore persists jobs in a single table keyed by id. Updates take a row
// lock so concurrent writers for one job are applied in order.
type JobStore struct {
	pool   pool
	table  string
	logger *zap.Logger
}

// New connects to Postgres and returns a JobStore.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*JobStore, error) {
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, logger *zap.Logger) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{pool: p, table: table, logger: logger}, nil
}

// EnsureSchema creates the jobs table when it does not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	document JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure jobs table: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts a new job row.
func (s *JobStore) Create(ctx context.Context, job scraper.Job) error {
	doc, err := encode(job)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, created_at, document)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, job.ID, string(job.Status), job.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, scraper.ErrDuplicateID)
	}
	return nil
}

// Get loads the current document for id.
func (s *JobStore) Get(ctx context.Context, id string) (scraper.Job, error) {
	query := fmt.Sprintf(`SELECT document FROM %s WHERE id = $1`, s.table)
	var doc []byte
	if err := s.pool.QueryRow(ctx, query, id).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Job{}, fmt.Errorf("get job %s: %w", id, scraper.ErrNotFound)
		}
		return scraper.Job{}, fmt.Errorf("select job %s: %w", id, err)
	}
	return decode(id, doc)
}

// Update locks the row, applies mutate and writes the new document in one transaction.
func (s *JobStore) Update(ctx context.Context, id string, mutate func(*scraper.Job) error) (scraper.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("begin update %s: %w", id, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.String("job_id", id), zap.Error(rbErr))
		}
	}()

	query := fmt.Sprintf(`SELECT document FROM %s WHERE id = $1 FOR UPDATE`, s.table)
	var doc []byte
	if err := tx.QueryRow(ctx, query, id).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Job{}, fmt.Errorf("update job %s: %w", id, scraper.ErrNotFound)
		}
		return scraper.Job{}, fmt.Errorf("lock job %s: %w", id, err)
	}
	job, err := decode(id, doc)
	if err != nil {
		return scraper.Job{}, err
	}
	if err := mutate(&job); err != nil {
		return scraper.Job{}, err
	}
	job.ID = id
	updated, err := encode(job)
	if err != nil {
		return scraper.Job{}, err
	}
	update := fmt.Sprintf(`UPDATE %s SET status = $2, document = $3, updated_at = now() WHERE id = $1`, s.table)
	if _, err := tx.Exec(ctx, update, id, string(job.Status), updated); err != nil {
		return scraper.Job{}, fmt.Errorf("write job %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return scraper.Job{}, fmt.Errorf("commit job %s: %w", id, err)
	}
	committed = true
	return job, nil
}

// List returns every job ordered by creation time. Rows that fail to decode are skipped.
func (s *JobStore) List(ctx context.Context) ([]scraper.Job, error) {
	query := fmt.Sprintf(`SELECT id, document FROM %s ORDER BY created_at, id`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []scraper.Job{}
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		job, err := decode(id, doc)
		if err != nil {
			s.logger.Warn("skipping unreadable job row", zap.String("job_id", id), zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

func encode(job scraper.Job) ([]byte, error) {
	if job.Results == nil {
		job.Results = []scraper.Listing{}
	}
	doc, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return doc, nil
}

func decode(id string, doc []byte) (scraper.Job, error) {
	var job scraper.Job
	if err := json.Unmarshal(doc, &job); err != nil {
		return scraper.Job{}, fmt.Errorf("decode job %s: %w: %v", id, scraper.ErrCorruptRecord, err)
	}
	if job.Results == nil {
		job.Results = []scraper.Listing{}
	}
	return job, nil
}
