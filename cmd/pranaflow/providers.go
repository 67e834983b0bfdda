package main

import (
	"context"
	"log/slog"

	"github.com/MrWong99/pranaflow/internal/config"
	"github.com/MrWong99/pranaflow/internal/journal"
	"github.com/MrWong99/pranaflow/internal/journal/postgres"
	"github.com/MrWong99/pranaflow/internal/journal/sqlite"
	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/audio/miniaudio"
	"github.com/MrWong99/pranaflow/pkg/live"
	"github.com/MrWong99/pranaflow/pkg/live/gemini"
	"github.com/MrWong99/pranaflow/pkg/live/genailive"
	"github.com/MrWong99/pranaflow/pkg/live/openai"
)

// extraRegistrations is filled by build-tagged files for optional backends.
var extraRegistrations []func(*config.Registry, *slog.Logger)

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry, logger *slog.Logger) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (live.Dialer, error) {
		opts := []gemini.Option{gemini.WithLogger(logger)}
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("genai", func(entry config.ProviderEntry) (live.Dialer, error) {
		opts := []genailive.Option{genailive.WithLogger(logger)}
		if entry.Model != "" {
			opts = append(opts, genailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(entry.BaseURL))
		}
		if project := optString(entry.Options, "vertex_project"); project != "" {
			opts = append(opts, genailive.WithVertexAI(project, optString(entry.Options, "vertex_location")))
		}
		return genailive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai", func(entry config.ProviderEntry) (live.Dialer, error) {
		opts := []openai.Option{openai.WithLogger(logger)}
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if m := optString(entry.Options, "transcription_model"); m != "" {
			opts = append(opts, openai.WithTranscriptionModel(m))
		}
		return openai.New(entry.APIKey, opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("miniaudio", func(config.AudioConfig) (audio.Devices, error) {
		return miniaudio.New(miniaudio.WithLogger(logger)), nil
	})

	// ── Journal ───────────────────────────────────────────────────────────────

	reg.RegisterJournal(config.JournalSQLite, func(ctx context.Context, cfg config.JournalConfig) (journal.Store, error) {
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	reg.RegisterJournal(config.JournalPostgres, func(ctx context.Context, cfg config.JournalConfig) (journal.Store, error) {
		s, err := postgres.NewStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	for _, register := range extraRegistrations {
		register(reg, logger)
	}
	slog.Debug("registered live providers", "names", reg.LiveNames())
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
