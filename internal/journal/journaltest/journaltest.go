// Package journaltest holds behaviour tests shared by every [journal.Store]
// implementation.
package journaltest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/pranaflow/internal/journal"
)

// Run exercises a store created fresh by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) journal.Store) {
	t.Helper()
	base := time.Date(2026, 3, 14, 21, 30, 0, 0, time.UTC)

	t.Run("RecentSessionsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i, routine := range []string{"morning", "focus", "night"} {
			log := journal.SessionLog{
				ID:        routine,
				StartedAt: base.Add(time.Duration(i) * time.Hour),
				Duration:  time.Duration(i+1) * time.Minute,
				Routine:   routine,
				Technique: "Box Reset",
			}
			if err := s.RecordSession(ctx, log); err != nil {
				t.Fatalf("RecordSession(%s): %v", routine, err)
			}
		}

		got, err := s.RecentSessions(ctx, 2)
		if err != nil {
			t.Fatalf("RecentSessions: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].ID != "night" || got[1].ID != "focus" {
			t.Errorf("order = [%s %s], want [night focus]", got[0].ID, got[1].ID)
		}
		if got[0].Duration != 3*time.Minute || got[0].Technique != "Box Reset" || got[0].Routine != "night" {
			t.Errorf("round trip = %+v", got[0])
		}
		if !got[0].StartedAt.Equal(base.Add(2 * time.Hour)) {
			t.Errorf("StartedAt = %v, want %v", got[0].StartedAt, base.Add(2*time.Hour))
		}

		all, err := s.RecentSessions(ctx, 0)
		if err != nil {
			t.Fatalf("RecentSessions(0): %v", err)
		}
		if len(all) != 3 {
			t.Errorf("unlimited len = %d, want 3", len(all))
		}
	})

	t.Run("RecordSessionReplacesSameID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		log := journal.SessionLog{ID: "a", StartedAt: base, Duration: time.Minute, Routine: "sleep"}
		if err := s.RecordSession(ctx, log); err != nil {
			t.Fatal(err)
		}
		log.Duration = 2 * time.Minute
		if err := s.RecordSession(ctx, log); err != nil {
			t.Fatal(err)
		}
		got, err := s.RecentSessions(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Duration != 2*time.Minute {
			t.Errorf("got %+v, want one log of 2m", got)
		}
	})

	t.Run("EntriesRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		entries := []journal.Entry{
			{ID: "e1", CreatedAt: base, Text: "grateful for the walk", Tags: []string{"night", "reflection"}},
			{ID: "e2", CreatedAt: base.Add(time.Minute), Text: "no tags"},
		}
		for _, e := range entries {
			if err := s.SaveEntry(ctx, e); err != nil {
				t.Fatalf("SaveEntry(%s): %v", e.ID, err)
			}
		}

		got, err := s.RecentEntries(ctx, 10)
		if err != nil {
			t.Fatalf("RecentEntries: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].ID != "e2" || len(got[0].Tags) != 0 {
			t.Errorf("newest = %+v, want e2 without tags", got[0])
		}
		if got[1].Text != "grateful for the walk" || !slices.Equal(got[1].Tags, []string{"night", "reflection"}) {
			t.Errorf("oldest = %+v", got[1])
		}
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.RecordSession(ctx, journal.SessionLog{StartedAt: base}); !errors.Is(err, journal.ErrInvalid) {
			t.Errorf("RecordSession without ID: err = %v, want ErrInvalid", err)
		}
		if err := s.SaveEntry(ctx, journal.Entry{ID: "x", CreatedAt: base}); !errors.Is(err, journal.ErrInvalid) {
			t.Errorf("SaveEntry without text: err = %v, want ErrInvalid", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
