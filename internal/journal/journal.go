// Package journal persists completed practice sessions and night-routine
// reflections.
//
// The engine itself stores nothing; the app layer records a [SessionLog] when
// a session ends and, after a night routine, an [Entry] holding what the user
// said. Implementations live in journal/sqlite (default, pure Go) and
// journal/postgres. journal/mock provides an in-memory double.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is returned when a record is missing a required field.
var ErrInvalid = errors.New("journal: invalid record")

// SessionLog summarises one completed practice session.
type SessionLog struct {
	// ID uniquely identifies the log. Usually the engine's session ID.
	ID string

	// StartedAt is when the session reached the connected state.
	StartedAt time.Time

	// Duration is how long the session stayed connected.
	Duration time.Duration

	// Routine is the routine mode name (e.g. "night").
	Routine string

	// Technique is the last exercise name shown during the session. Empty
	// when the model never set one.
	Technique string
}

// Entry is one free-text journal entry.
type Entry struct {
	ID        string
	CreatedAt time.Time
	Text      string

	// Tags classify the entry, e.g. ["night", "reflection"].
	Tags []string
}

// Validate reports whether l carries the fields every store requires.
func (l SessionLog) Validate() error {
	if l.ID == "" || l.StartedAt.IsZero() {
		return ErrInvalid
	}
	return nil
}

// Validate reports whether e carries the fields every store requires.
func (e Entry) Validate() error {
	if e.ID == "" || e.CreatedAt.IsZero() || e.Text == "" {
		return ErrInvalid
	}
	return nil
}

// Store is the persistence contract for session logs and journal entries.
//
// Recent* methods return newest first and at most limit records; a
// non-positive limit returns every record. All methods are safe for
// concurrent use.
type Store interface {
	// RecordSession inserts log. Recording the same ID twice replaces the
	// earlier row.
	RecordSession(ctx context.Context, log SessionLog) error

	// RecentSessions lists session logs by StartedAt, newest first.
	RecentSessions(ctx context.Context, limit int) ([]SessionLog, error)

	// SaveEntry inserts e. Saving the same ID twice replaces the earlier row.
	SaveEntry(ctx context.Context, e Entry) error

	// RecentEntries lists journal entries by CreatedAt, newest first.
	RecentEntries(ctx context.Context, limit int) ([]Entry, error)

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// History is what the history view shows: recent session logs and journal
// entries, newest first.
type History struct {
	Sessions []SessionLog
	Entries  []Entry
}

// LoadHistory reads up to limit session logs and entries from s.
func LoadHistory(ctx context.Context, s Store, limit int) (History, error) {
	sessions, err := s.RecentSessions(ctx, limit)
	if err != nil {
		return History{}, fmt.Errorf("journal: load sessions: %w", err)
	}
	entries, err := s.RecentEntries(ctx, limit)
	if err != nil {
		return History{}, fmt.Errorf("journal: load entries: %w", err)
	}
	return History{Sessions: sessions, Entries: entries}, nil
}
