// Package postgres provides a Postgres-backed catalog.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store reads targets from and records results into a sites table.
type Store struct {
	pool  pool
	table string
}

var _ catalog.Store = (*Store)(nil)

// New connects to Postgres.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "sites"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ListTargets returns every site ordered by slug.
func (s *Store) ListTargets(ctx context.Context) ([]capture.Target, error) {
	query := fmt.Sprintf(`SELECT slug, url, known_problematic FROM %s ORDER BY slug`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var targets []capture.Target
	for rows.Next() {
		var t capture.Target
		if err := rows.Scan(&t.Slug, &t.URL, &t.KnownProblematic); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return targets, nil
}

// GetTarget returns one site.
func (s *Store) GetTarget(ctx context.Context, slug string) (capture.Target, error) {
	query := fmt.Sprintf(`SELECT slug, url, known_problematic FROM %s WHERE slug = $1`, s.table)
	var t capture.Target
	err := s.pool.QueryRow(ctx, query, slug).Scan(&t.Slug, &t.URL, &t.KnownProblematic)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.Target{}, catalog.ErrNotFound
		}
		return capture.Target{}, fmt.Errorf("get site: %w", err)
	}
	return t, nil
}

// RecordScreenshot stores the public URL and clears the failure columns.
func (s *Store) RecordScreenshot(ctx context.Context, slug, publicURL string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s
		SET screenshot_url = $1, captured_at = $2, last_error = NULL, last_failed_at = NULL
		WHERE slug = $3`, s.table)
	return s.exec(ctx, "record screenshot", query, publicURL, at.UTC(), slug)
}

// RecordFailure remembers the latest failure for retry.
func (s *Store) RecordFailure(ctx context.Context, slug, reason string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s
		SET last_error = $1, last_failed_at = $2
		WHERE slug = $3`, s.table)
	return s.exec(ctx, "record failure", query, reason, at.UTC(), slug)
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}
