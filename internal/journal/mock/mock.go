// Package mock provides an in-memory [journal.Store] for tests.
//
// Store keeps every record it is given and exposes error fields that make the
// next calls fail. It is safe for concurrent use.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/pranaflow/internal/journal"
)

var _ journal.Store = (*Store)(nil)

// Store is a configurable test double for [journal.Store].
type Store struct {
	mu       sync.Mutex
	sessions []journal.SessionLog
	entries  []journal.Entry
	closed   bool

	// RecordErr is returned by RecordSession when non-nil.
	RecordErr error

	// SaveErr is returned by SaveEntry when non-nil.
	SaveErr error

	// PingErr is returned by Ping when non-nil.
	PingErr error

	// ListErr is returned by RecentSessions and RecentEntries when non-nil.
	ListErr error

	// Gate, when non-nil, holds RecordSession until it is closed or the
	// context is done. Set it before the store is shared.
	Gate chan struct{}
}

// RecordSession implements [journal.Store].
func (s *Store) RecordSession(ctx context.Context, log journal.SessionLog) error {
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordErr != nil {
		return s.RecordErr
	}
	if err := log.Validate(); err != nil {
		return err
	}
	s.sessions = slices.DeleteFunc(s.sessions, func(l journal.SessionLog) bool { return l.ID == log.ID })
	s.sessions = append(s.sessions, log)
	return nil
}

// RecentSessions implements [journal.Store].
func (s *Store) RecentSessions(_ context.Context, limit int) ([]journal.SessionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := slices.Clone(s.sessions)
	slices.SortStableFunc(out, func(a, b journal.SessionLog) int { return b.StartedAt.Compare(a.StartedAt) })
	return truncate(out, limit), nil
}

// SaveEntry implements [journal.Store].
func (s *Store) SaveEntry(_ context.Context, e journal.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if err := e.Validate(); err != nil {
		return err
	}
	s.entries = slices.DeleteFunc(s.entries, func(x journal.Entry) bool { return x.ID == e.ID })
	s.entries = append(s.entries, e)
	return nil
}

// RecentEntries implements [journal.Store].
func (s *Store) RecentEntries(_ context.Context, limit int) ([]journal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := slices.Clone(s.entries)
	slices.SortStableFunc(out, func(a, b journal.Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return truncate(out, limit), nil
}

// Ping implements [journal.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements [journal.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Sessions returns a copy of every recorded session log in insertion order.
func (s *Store) Sessions() []journal.SessionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sessions)
}

// Entries returns a copy of every saved entry in insertion order.
func (s *Store) Entries() []journal.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 {
		return s[:min(limit, len(s))]
	}
	return s
}
