// Package app wires the PranaFlow subsystems into a running application.
//
// New builds the session engine from a [Providers] set, Run drives the
// frontend, the ops HTTP server and the config watcher until one of them
// stops, and Shutdown releases everything in order.
//
// For testing, pass mock providers and inject a clock or metrics via the
// functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pranaflow/internal/coach"
	"github.com/MrWong99/pranaflow/internal/config"
	"github.com/MrWong99/pranaflow/internal/engine"
	"github.com/MrWong99/pranaflow/internal/health"
	"github.com/MrWong99/pranaflow/internal/journal"
	"github.com/MrWong99/pranaflow/internal/observe"
	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/live"
)

// shutdownGrace bounds the ops server drain and pending journal writes.
const shutdownGrace = 5 * time.Second

// Providers holds the implementations selected through the config registry.
// Journal may be nil, which disables session recording.
type Providers struct {
	Live    live.Dialer
	Audio   audio.Devices
	Journal journal.Store
}

// Frontend presents sessions to the user. Callbacks is read once before Run;
// Run blocks until the user quits or ctx is done.
type Frontend interface {
	Callbacks() engine.Callbacks
	Run(ctx context.Context) error
}

// availability is implemented by dialers that can tell whether any endpoint
// would currently accept a dial, such as resilience.LiveFallback.
type availability interface {
	Available() bool
}

// App owns the session engine and every long-running subsystem.
type App struct {
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar
	now       func() time.Time

	configPath     string
	watchInterval  time.Duration
	metricsHandler http.Handler

	ctrl    *engine.Controller
	watcher *config.Watcher

	mu  sync.Mutex
	cfg *config.Config

	sessions *sessionManager

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics sets the metric instruments shared with the engine.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler that
// owns lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithConfigWatch reloads the config file at path while Run is active.
// Preference and routine changes apply to the next session.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithMetricsHandler replaces the /metrics handler. Defaults to
// promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithClock replaces the time source used for session durations.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. providers.Live and providers.Audio are required.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if providers == nil || providers.Live == nil || providers.Audio == nil {
		return nil, errors.New("app: live and audio providers are required")
	}
	if _, err := cfg.Routine(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	a.sessions = newSessionManager(a)
	a.ctrl = engine.New(providers.Live, providers.Audio, a.sessions.callbacks(),
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
		engine.WithCaptureFormat(audio.Format{SampleRate: cfg.Audio.CaptureRate, Channels: 1}),
		engine.WithPlaybackFormat(audio.Format{SampleRate: cfg.Audio.PlaybackRate, Channels: 1}),
		engine.WithFrameSamples(cfg.Audio.FrameSamples),
	)

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyConfig,
			config.WithInterval(a.watchInterval),
			config.WithWatcherLogger(a.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}
	return a, nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ApplyConfig switches to a reloaded configuration. The log level changes
// immediately; preferences and routine take effect on the next session.
// Sections that need a restart are only logged.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if !d.Changed() {
		return
	}

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PreferencesChanged || d.RoutineChanged {
		a.logger.Info("coaching profile updated, applies to the next session",
			"routine", next.Coach.Routine,
			"voice", next.Coach.Preferences.Voice)
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a configured log level to its slog level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives fe, the ops server and the config watcher until fe returns or
// ctx is done. The active session is disconnected before Run returns.
func (a *App) Run(ctx context.Context, fe Frontend) error {
	a.sessions.setView(fe.Callbacks())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		if err := fe.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: frontend: %w", err)
		}
		return nil
	})

	if addr := a.Config().Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
		a.serveOps(gctx, g, ln)
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	err := g.Wait()
	a.ctrl.Disconnect()
	return err
}

// serveOps runs the ops server on ln until ctx is done.
func (a *App) serveOps(ctx context.Context, g *errgroup.Group, ln net.Listener) {
	srv := &http.Server{
		Handler:           a.OpsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.logger.Info("ops server listening", "addr", ln.Addr().String())

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// OpsHandler returns the ops HTTP surface: /healthz, /readyz and /metrics,
// wrapped in the observability middleware.
func (a *App) OpsHandler() http.Handler {
	var checks []health.Checker
	if a.providers.Journal != nil {
		checks = append(checks, health.Checker{Name: "journal", Check: a.providers.Journal.Ping})
	}
	if av, ok := a.providers.Live.(availability); ok {
		checks = append(checks, health.Checker{Name: "live", Check: func(context.Context) error {
			if !av.Available() {
				return errors.New("every live provider has an open circuit breaker")
			}
			return nil
		}})
	}

	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends any session, waits for pending journal writes and closes the
// journal store. It returns ctx's error when the writes do not finish in
// time; the store is closed regardless.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down")
		a.ctrl.Disconnect()

		if werr := a.sessions.wait(ctx); werr != nil {
			a.logger.Warn("journal writes still pending at shutdown", "err", werr)
			err = werr
		}
		if a.providers.Journal != nil {
			if cerr := a.providers.Journal.Close(); cerr != nil {
				a.logger.Warn("journal close error", "err", cerr)
				err = errors.Join(err, fmt.Errorf("app: close journal: %w", cerr))
			}
		}
		a.logger.Info("shutdown complete")
	})
	return err
}

// routine returns the routine configured for the next session.
func (a *App) routine() coach.Routine {
	r, err := a.Config().Routine()
	if err != nil {
		return coach.RoutineMorning
	}
	return r
}
