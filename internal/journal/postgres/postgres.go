// Package postgres implements [journal.Store] on PostgreSQL via a
// [pgxpool.Pool].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/pranaflow/internal/journal"
)

var _ journal.Store = (*Store)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessionLogs = `
CREATE TABLE IF NOT EXISTS session_logs (
    id           TEXT         PRIMARY KEY,
    started_at   TIMESTAMPTZ  NOT NULL,
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    routine      TEXT         NOT NULL DEFAULT '',
    technique    TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_session_logs_started_at
    ON session_logs (started_at);
`

const ddlJournalEntries = `
CREATE TABLE IF NOT EXISTS journal_entries (
    id          TEXT         PRIMARY KEY,
    created_at  TIMESTAMPTZ  NOT NULL,
    text        TEXT         NOT NULL,
    tags        TEXT[]       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_created_at
    ON journal_entries (created_at);

CREATE INDEX IF NOT EXISTS idx_journal_entries_tags
    ON journal_entries USING GIN (tags);
`

// Migrate creates the journal tables if they do not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessionLogs, ddlJournalEntries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Store is the PostgreSQL-backed journal. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres journal: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres journal: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// RecordSession implements [journal.Store].
func (s *Store) RecordSession(ctx context.Context, log journal.SessionLog) error {
	if err := log.Validate(); err != nil {
		return fmt.Errorf("postgres journal: record session: %w", err)
	}
	const q = `
		INSERT INTO session_logs (id, started_at, duration_ns, routine, technique)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    started_at  = EXCLUDED.started_at,
		    duration_ns = EXCLUDED.duration_ns,
		    routine     = EXCLUDED.routine,
		    technique   = EXCLUDED.technique`
	_, err := s.pool.Exec(ctx, q, log.ID, log.StartedAt, log.Duration.Nanoseconds(), log.Routine, log.Technique)
	if err != nil {
		return fmt.Errorf("postgres journal: record session: %w", err)
	}
	return nil
}

// RecentSessions implements [journal.Store].
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]journal.SessionLog, error) {
	const q = `
		SELECT id, started_at, duration_ns, routine, technique
		FROM   session_logs
		ORDER  BY started_at DESC
		LIMIT  $1`
	rows, err := s.pool.Query(ctx, q, pgLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres journal: recent sessions: %w", err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.SessionLog, error) {
		var (
			l          journal.SessionLog
			durationNS int64
		)
		if err := row.Scan(&l.ID, &l.StartedAt, &durationNS, &l.Routine, &l.Technique); err != nil {
			return journal.SessionLog{}, err
		}
		l.Duration = time.Duration(durationNS)
		return l, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres journal: scan sessions: %w", err)
	}
	return logs, nil
}

// SaveEntry implements [journal.Store].
func (s *Store) SaveEntry(ctx context.Context, e journal.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("postgres journal: save entry: %w", err)
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	const q = `
		INSERT INTO journal_entries (id, created_at, text, tags)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    created_at = EXCLUDED.created_at,
		    text       = EXCLUDED.text,
		    tags       = EXCLUDED.tags`
	if _, err := s.pool.Exec(ctx, q, e.ID, e.CreatedAt, e.Text, tags); err != nil {
		return fmt.Errorf("postgres journal: save entry: %w", err)
	}
	return nil
}

// RecentEntries implements [journal.Store].
func (s *Store) RecentEntries(ctx context.Context, limit int) ([]journal.Entry, error) {
	const q = `
		SELECT id, created_at, text, tags
		FROM   journal_entries
		ORDER  BY created_at DESC
		LIMIT  $1`
	rows, err := s.pool.Query(ctx, q, pgLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres journal: recent entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		var e journal.Entry
		err := row.Scan(&e.ID, &e.CreatedAt, &e.Text, &e.Tags)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres journal: scan entries: %w", err)
	}
	return entries, nil
}

// Ping implements [journal.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres journal: ping: %w", err)
	}
	return nil
}

// Close implements [journal.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// pgLimit maps a non-positive limit to NULL, which PostgreSQL treats as
// LIMIT ALL.
func pgLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
