// Package sqlite implements [journal.Store] on an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/pranaflow/internal/journal"
)

var _ journal.Store = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS session_logs (
    id          TEXT    PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    duration_ns INTEGER NOT NULL DEFAULT 0,
    routine     TEXT    NOT NULL DEFAULT '',
    technique   TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_session_logs_started_at
    ON session_logs (started_at);

CREATE TABLE IF NOT EXISTS journal_entries (
    id          TEXT    PRIMARY KEY,
    created_at  INTEGER NOT NULL,
    text        TEXT    NOT NULL,
    tags        TEXT    NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_created_at
    ON journal_entries (created_at);
`

// Store is a SQLite-backed journal. Timestamps are stored as Unix
// nanoseconds, tags as a JSON array.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite journal: open: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite journal: pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite journal: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordSession implements [journal.Store].
func (s *Store) RecordSession(ctx context.Context, log journal.SessionLog) error {
	if err := log.Validate(); err != nil {
		return fmt.Errorf("sqlite journal: record session: %w", err)
	}
	const q = `
		INSERT OR REPLACE INTO session_logs (id, started_at, duration_ns, routine, technique)
		VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		log.ID,
		log.StartedAt.UnixNano(),
		log.Duration.Nanoseconds(),
		log.Routine,
		log.Technique,
	)
	if err != nil {
		return fmt.Errorf("sqlite journal: record session: %w", err)
	}
	return nil
}

// RecentSessions implements [journal.Store].
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]journal.SessionLog, error) {
	const q = `
		SELECT id, started_at, duration_ns, routine, technique
		FROM   session_logs
		ORDER  BY started_at DESC
		LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite journal: recent sessions: %w", err)
	}
	defer rows.Close()

	var out []journal.SessionLog
	for rows.Next() {
		var (
			l                   journal.SessionLog
			startedNS, duration int64
		)
		if err := rows.Scan(&l.ID, &startedNS, &duration, &l.Routine, &l.Technique); err != nil {
			return nil, fmt.Errorf("sqlite journal: scan session: %w", err)
		}
		l.StartedAt = time.Unix(0, startedNS).UTC()
		l.Duration = time.Duration(duration)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite journal: recent sessions: %w", err)
	}
	return out, nil
}

// SaveEntry implements [journal.Store].
func (s *Store) SaveEntry(ctx context.Context, e journal.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("sqlite journal: save entry: %w", err)
	}
	tags, err := json.Marshal(nonNil(e.Tags))
	if err != nil {
		return fmt.Errorf("sqlite journal: encode tags: %w", err)
	}
	const q = `
		INSERT OR REPLACE INTO journal_entries (id, created_at, text, tags)
		VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, e.ID, e.CreatedAt.UnixNano(), e.Text, string(tags)); err != nil {
		return fmt.Errorf("sqlite journal: save entry: %w", err)
	}
	return nil
}

// RecentEntries implements [journal.Store].
func (s *Store) RecentEntries(ctx context.Context, limit int) ([]journal.Entry, error) {
	const q = `
		SELECT id, created_at, text, tags
		FROM   journal_entries
		ORDER  BY created_at DESC
		LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite journal: recent entries: %w", err)
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var (
			e         journal.Entry
			createdNS int64
			tags      string
		)
		if err := rows.Scan(&e.ID, &createdNS, &e.Text, &tags); err != nil {
			return nil, fmt.Errorf("sqlite journal: scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("sqlite journal: decode tags of %s: %w", e.ID, err)
		}
		e.CreatedAt = time.Unix(0, createdNS).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite journal: recent entries: %w", err)
	}
	return out, nil
}

// Ping implements [journal.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite journal: ping: %w", err)
	}
	return nil
}

// Close implements [journal.Store].
func (s *Store) Close() error {
	return s.db.Close()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
