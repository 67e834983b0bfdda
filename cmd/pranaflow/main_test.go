package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/pranaflow/internal/config"
	"github.com/MrWong99/pranaflow/internal/observe"
	"github.com/MrWong99/pranaflow/internal/resilience"
	"github.com/MrWong99/pranaflow/pkg/audio"
	audiomock "github.com/MrWong99/pranaflow/pkg/audio/mock"
	"github.com/MrWong99/pranaflow/pkg/live"
	livemock "github.com/MrWong99/pranaflow/pkg/live/mock"
)

func TestOptString(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"s": "value", "n": 3}
	if got := optString(opts, "s"); got != "value" {
		t.Errorf("optString(s) = %q", got)
	}
	if got := optString(opts, "n"); got != "" {
		t.Errorf("optString(n) = %q, want empty", got)
	}
	if got := optString(nil, "s"); got != "" {
		t.Errorf("optString(nil) = %q, want empty", got)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, name := range []string{"gemini", "genai", "openai"} {
		d, err := reg.CreateLive(config.ProviderEntry{Name: name, APIKey: "k", Model: "m"})
		if err != nil || d == nil {
			t.Errorf("CreateLive(%q) = %v, %v", name, d, err)
		}
	}
	if _, err := reg.CreateAudio(config.AudioConfig{Backend: "miniaudio"}); err != nil {
		t.Errorf("CreateAudio(miniaudio): %v", err)
	}

	store, err := reg.CreateJournal(context.Background(), config.JournalConfig{
		Driver: config.JournalSQLite,
		DSN:    filepath.Join(t.TempDir(), "journal.db"),
	})
	if err != nil {
		t.Fatalf("CreateJournal(sqlite): %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func testRegistry(primary, fallback *livemock.Dialer) *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterLive("primary", func(config.ProviderEntry) (live.Dialer, error) { return primary, nil })
	reg.RegisterLive("backup", func(config.ProviderEntry) (live.Dialer, error) { return fallback, nil })
	reg.RegisterAudio("mock", func(config.AudioConfig) (audio.Devices, error) { return &audiomock.Devices{}, nil })
	return reg
}

func TestBuildProviders_Failover(t *testing.T) {
	t.Parallel()

	primary := &livemock.Dialer{DialErr: errors.New("unavailable")}
	backup := &livemock.Dialer{}
	cfg := &config.Config{}
	cfg.Live.Provider = config.ProviderEntry{Name: "primary"}
	cfg.Live.Fallbacks = []config.ProviderEntry{{Name: "backup"}, {Name: "not-registered"}}
	cfg.Audio.Backend = "mock"

	ps, err := buildProviders(context.Background(), cfg, testRegistry(primary, backup), observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Journal != nil {
		t.Error("journal opened without a driver")
	}

	ch, err := ps.Live.Dial(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_ = ch.Close()
	if backup.DialCount() != 1 {
		t.Errorf("backup dials = %d, want 1", backup.DialCount())
	}
	st := ps.Live.(*resilience.LiveFallback).Status()
	if len(st) != 2 {
		t.Errorf("fallback entries = %d, want 2 (unregistered fallback skipped)", len(st))
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown live", mutate: func(c *config.Config) { c.Live.Provider.Name = "nope" }},
		{name: "unknown audio", mutate: func(c *config.Config) { c.Audio.Backend = "nope" }},
		{name: "unregistered journal", mutate: func(c *config.Config) {
			c.Journal = config.JournalConfig{Driver: config.JournalPostgres, DSN: "postgres://x"}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			cfg.Live.Provider = config.ProviderEntry{Name: "primary"}
			cfg.Audio.Backend = "mock"
			tc.mutate(cfg)
			if _, err := buildProviders(context.Background(), cfg, testRegistry(&livemock.Dialer{}, &livemock.Dialer{}), observe.DefaultMetrics()); err == nil {
				t.Error("buildProviders succeeded, want error")
			}
		})
	}
}

func TestLogOutput(t *testing.T) {
	t.Parallel()

	w, closeFn, err := logOutput("", true)
	if err != nil || w != os.Stderr {
		t.Errorf("headless without file: %v, %v", w, err)
	}
	closeFn()

	w, closeFn, err = logOutput("", false)
	if err != nil || w != io.Discard {
		t.Errorf("tui without file: %v, %v", w, err)
	}
	closeFn()

	path := filepath.Join(t.TempDir(), "pranaflow.log")
	w, closeFn, err = logOutput(path, false)
	if err != nil {
		t.Fatalf("logOutput(file): %v", err)
	}
	if _, err := io.WriteString(w, "hello\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	closeFn()
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello\n" {
		t.Errorf("log file = %q, %v", data, err)
	}

	if _, _, err := logOutput(filepath.Join(t.TempDir(), "missing", "x.log"), false); err == nil {
		t.Error("logOutput into a missing directory succeeded")
	}
}
