package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/pranaflow/internal/coach"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini", "genai", "openai"},
	"audio": {"miniaudio", "portaudio"},
}

// geminiKeyEnv is consulted when a Gemini provider has no API key.
const geminiKeyEnv = "GEMINI_API_KEY"

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults and validates the result. An empty document
// yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if cfg.Live.Provider.Name == "" {
		cfg.Live.Provider.Name = DefaultLiveProvider
	}
	expandEnv(cfg)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv resolves ${VAR} references in secrets and connection strings and
// falls back to GEMINI_API_KEY for Gemini providers without a key.
func expandEnv(cfg *Config) {
	expand := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
		if e.APIKey == "" && isGemini(e.Name) {
			e.APIKey = os.Getenv(geminiKeyEnv)
		}
	}
	expand(&cfg.Live.Provider)
	for i := range cfg.Live.Fallbacks {
		expand(&cfg.Live.Fallbacks[i])
	}
	cfg.Journal.DSN = os.ExpandEnv(cfg.Journal.DSN)
}

func isGemini(name string) bool {
	return name == "gemini" || name == "genai"
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Live providers
	errs = append(errs, validateProvider("live.provider", cfg.Live.Provider)...)
	seen := map[string]int{cfg.Live.Provider.key(): -1}
	for i, fb := range cfg.Live.Fallbacks {
		prefix := fmt.Sprintf("live.fallbacks[%d]", i)
		errs = append(errs, validateProvider(prefix, fb)...)
		key := fb.key()
		if prev, ok := seen[key]; ok && fb.Name != "" {
			if prev < 0 {
				slog.Warn("live fallback duplicates the primary provider", "fallback", prefix)
			} else {
				slog.Warn("live fallback is listed twice", "fallback", prefix, "previous", prev)
			}
		}
		seen[key] = i
	}
	cb := cfg.Live.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("live.circuit_breaker values must not be negative"))
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must be positive", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must be positive", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must be positive", cfg.Audio.FrameSamples))
	}

	// Coach
	if err := cfg.Coach.Preferences.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("coach.preferences: %w", err))
	}
	if cfg.Coach.Routine != "" {
		if _, err := coach.ParseRoutine(cfg.Coach.Routine); err != nil {
			errs = append(errs, fmt.Errorf("coach.routine %q is invalid; valid values: %v", cfg.Coach.Routine, coach.Routines))
		}
	}

	// Journal
	if !cfg.Journal.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("journal.driver %q is invalid; valid values: sqlite, postgres", cfg.Journal.Driver))
	}
	if cfg.Journal.Driver != JournalNone && cfg.Journal.DSN == "" {
		errs = append(errs, fmt.Errorf("journal.dsn is required when journal.driver is %q", cfg.Journal.Driver))
	}
	if cfg.Journal.MinSessionDuration < 0 {
		errs = append(errs, errors.New("journal.min_session_duration must not be negative"))
	}

	return errors.Join(errs...)
}

// key identifies an endpoint for duplicate detection.
func (e ProviderEntry) key() string {
	return e.Name + "|" + e.Model + "|" + e.BaseURL
}

func validateProvider(prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		return errs
	}
	validateProviderName("live", e.Name)
	if strings.TrimSpace(e.APIKey) == "" {
		hint := ""
		if isGemini(e.Name) {
			hint = " (or set " + geminiKeyEnv + ")"
		}
		errs = append(errs, fmt.Errorf("%s.api_key is required%s", prefix, hint))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
