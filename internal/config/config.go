// Package config provides the configuration schema, loader, provider registry
// and file watcher for PranaFlow.
package config

import (
	"time"

	"github.com/MrWong99/pranaflow/internal/coach"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// JournalDriver selects the journal storage backend.
type JournalDriver string

const (
	// JournalNone disables session recording.
	JournalNone     JournalDriver = ""
	JournalSQLite   JournalDriver = "sqlite"
	JournalPostgres JournalDriver = "postgres"
)

// IsValid reports whether d is a recognised journal driver.
func (d JournalDriver) IsValid() bool {
	switch d {
	case JournalNone, JournalSQLite, JournalPostgres:
		return true
	}
	return false
}

// Default values applied by [Config.ApplyDefaults].
const (
	DefaultLiveProvider       = "gemini"
	DefaultAudioBackend       = "miniaudio"
	DefaultCaptureRate        = 16000
	DefaultPlaybackRate       = 24000
	DefaultFrameSamples       = 4096
	DefaultMinSessionDuration = 15 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Live    LiveConfig    `yaml:"live"`
	Audio   AudioConfig   `yaml:"audio"`
	Coach   CoachConfig   `yaml:"coach"`
	Journal JournalConfig `yaml:"journal"`
}

// ServerConfig holds logging and ops-endpoint settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the ops HTTP server (health, readiness,
	// metrics), e.g. ":9090". Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile receives log output while the terminal UI owns stderr. Empty
	// means stderr.
	LogFile string `yaml:"log_file"`
}

// LiveConfig selects the remote conversational-audio model.
type LiveConfig struct {
	// Provider is the primary model endpoint.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary cannot be dialled.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// CircuitBreaker tunes the per-provider breaker in front of Dial.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// ProviderEntry is the configuration block shared by all live providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "gemini",
	// "genai", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. "${VAR}" references are
	// expanded from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig tunes a circuit breaker. Zero values take the breaker's
// defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// AudioConfig selects and tunes the local audio devices.
type AudioConfig struct {
	// Backend selects the registered device backend ("miniaudio",
	// "portaudio").
	Backend string `yaml:"backend"`

	// CaptureRate is the microphone sample rate in Hz.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the speaker sample rate in Hz and the default rate of
	// inbound audio chunks without a rate parameter.
	PlaybackRate int `yaml:"playback_rate"`

	// FrameSamples is the number of samples per outbound capture frame.
	FrameSamples int `yaml:"frame_samples"`
}

// CoachConfig holds the user's coaching profile and the routine used for the
// next session.
type CoachConfig struct {
	Preferences coach.Preferences `yaml:"preferences"`
	Routine     string            `yaml:"routine"`
}

// JournalConfig configures session recording.
type JournalConfig struct {
	// Driver selects the store. Empty disables recording.
	Driver JournalDriver `yaml:"driver"`

	// DSN is the SQLite file path or the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// MinSessionDuration is the shortest connected session that is recorded.
	MinSessionDuration time.Duration `yaml:"min_session_duration"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Live.Provider.Name == "" {
		c.Live.Provider.Name = DefaultLiveProvider
	}
	if c.Audio.Backend == "" {
		c.Audio.Backend = DefaultAudioBackend
	}
	if c.Audio.CaptureRate == 0 {
		c.Audio.CaptureRate = DefaultCaptureRate
	}
	if c.Audio.PlaybackRate == 0 {
		c.Audio.PlaybackRate = DefaultPlaybackRate
	}
	if c.Audio.FrameSamples == 0 {
		c.Audio.FrameSamples = DefaultFrameSamples
	}
	if c.Coach.Routine == "" {
		c.Coach.Routine = string(coach.RoutineMorning)
	}
	c.Coach.Preferences = c.Coach.Preferences.WithDefaults()
	if c.Journal.MinSessionDuration == 0 {
		c.Journal.MinSessionDuration = DefaultMinSessionDuration
	}
}

// Routine returns the parsed coach routine. Configs returned by [Load] have
// already been validated, so the error case only arises for hand-built
// configs.
func (c *Config) Routine() (coach.Routine, error) {
	return coach.ParseRoutine(c.Coach.Routine)
}
