// Command pranaflow is a voice breathing and movement coach. It holds one
// real-time audio conversation with a remote model at a time and shows it in
// the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/pranaflow/internal/app"
	"github.com/MrWong99/pranaflow/internal/config"
	"github.com/MrWong99/pranaflow/internal/observe"
	"github.com/MrWong99/pranaflow/internal/resilience"
	"github.com/MrWong99/pranaflow/internal/tui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	headless := flag.Bool("headless", false, "run one session without the terminal UI and log the transcript")
	watch := flag.Duration("watch", 5*time.Second, "config file polling interval; 0 disables reloading")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pranaflow: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pranaflow: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(app.SlogLevel(cfg.Server.LogLevel))
	logOut, closeLog, err := logOutput(cfg.Server.LogFile, *headless)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pranaflow: %v\n", err)
		return 1
	}
	defer closeLog()
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("pranaflow starting",
		"version", version,
		"config", *configPath,
		"live", cfg.Live.Provider.Name,
		"audio", cfg.Audio.Backend,
		"routine", cfg.Coach.Routine,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(observe.TelemetryConfig{ServiceVersion: version, SetGlobal: true})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := telemetry.Metrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)

	providers, err := buildProviders(ctx, cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(telemetry.Handler()),
		app.WithLevelVar(levelVar),
	}
	if *watch > 0 {
		opts = append(opts, app.WithConfigWatch(*configPath, *watch))
	}
	application, err := app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		if providers.Journal != nil {
			_ = providers.Journal.Close()
		}
		return 1
	}

	var fe app.Frontend
	if *headless {
		fe = tui.NewHeadless(application, logger)
	} else {
		fe = tui.New(application)
	}

	code := 0
	if err := application.Run(ctx, fe); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// logOutput picks the log destination. The terminal UI owns stdout and
// stderr, so without a log file its logs are discarded.
func logOutput(path string, headless bool) (io.Writer, func(), error) {
	if path == "" {
		if headless {
			return os.Stderr, func() {}, nil
		}
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the configured live dialers behind a failover
// group, the audio backend and the journal store.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	cb := cfg.Live.CircuitBreaker
	fbCfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		HalfOpenMax:  cb.HalfOpenMax,
	}}

	primary, err := reg.CreateLive(cfg.Live.Provider)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Live.Provider.Name, err)
	}
	dialer := resilience.NewLiveFallback(cfg.Live.Provider.Name, primary, fbCfg,
		resilience.WithFallbackMetrics(metrics))
	slog.Info("provider created", "kind", "live", "name", cfg.Live.Provider.Name, "model", cfg.Live.Provider.Model)

	for _, entry := range cfg.Live.Fallbacks {
		d, err := reg.CreateLive(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not available, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create live fallback %q: %w", entry.Name, err)
		}
		dialer.AddFallback(entry.Name, d)
		slog.Info("provider created", "kind", "live-fallback", "name", entry.Name, "model", entry.Model)
	}

	devices, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}

	ps := &app.Providers{Live: dialer, Audio: devices}
	if cfg.Journal.Driver != config.JournalNone {
		store, err := reg.CreateJournal(ctx, cfg.Journal)
		if err != nil {
			return nil, fmt.Errorf("open journal %q: %w", cfg.Journal.Driver, err)
		}
		ps.Journal = store
		slog.Info("journal opened", "driver", cfg.Journal.Driver)
	}
	return ps, nil
}
