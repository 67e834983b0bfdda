package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/pranaflow/internal/config"
	journalmock "github.com/MrWong99/pranaflow/internal/journal/mock"
	audiomock "github.com/MrWong99/pranaflow/pkg/audio/mock"
	livemock "github.com/MrWong99/pranaflow/pkg/live/mock"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{}
	cfg.Live.Provider = config.ProviderEntry{Name: "gemini", APIKey: "test-key"}
	cfg.ApplyDefaults()
	a, err := New(cfg, &Providers{
		Live:    &livemock.Dialer{OpenOnDial: true},
		Audio:   &audiomock.Devices{},
		Journal: &journalmock.Store{},
	}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSessionManager_WaitIdle(t *testing.T) {
	t.Parallel()

	sm := newTestApp(t).sessions
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sm.wait(ctx); err != nil {
		t.Fatalf("wait with no session = %v, want nil", err)
	}
}

func TestSessionManager_WaitBlocksWhileActive(t *testing.T) {
	t.Parallel()

	sm := newTestApp(t).sessions
	sm.opened()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sm.wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait with active session = %v, want DeadlineExceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- sm.wait(context.Background()) }()
	sm.closed()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait after close = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("wait did not return after the session closed")
	}
}

func TestSessionManager_WaitDuringConcurrentCloses(t *testing.T) {
	t.Parallel()

	sm := newTestApp(t).sessions
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Go(func() { errs <- sm.wait(ctx) })
	}
	for range 200 {
		sm.opened()
		sm.closed()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("wait = %v", err)
		}
	}
	if err := sm.wait(ctx); err != nil {
		t.Fatalf("final wait = %v", err)
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active || sm.writes != 0 {
		t.Errorf("active=%v writes=%d after all sessions closed", sm.active, sm.writes)
	}
}
