package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/pranaflow/internal/app"
	"github.com/MrWong99/pranaflow/internal/coach"
	"github.com/MrWong99/pranaflow/internal/config"
	"github.com/MrWong99/pranaflow/internal/engine"
	"github.com/MrWong99/pranaflow/internal/journal"
	journalmock "github.com/MrWong99/pranaflow/internal/journal/mock"
	"github.com/MrWong99/pranaflow/internal/observe"
	"github.com/MrWong99/pranaflow/internal/resilience"
	audiomock "github.com/MrWong99/pranaflow/pkg/audio/mock"
	"github.com/MrWong99/pranaflow/pkg/live"
	livemock "github.com/MrWong99/pranaflow/pkg/live/mock"
)

// ─── Helpers ─────────────────────────────────────────────────────────────────

func testConfig(routine coach.Routine) *config.Config {
	cfg := &config.Config{}
	cfg.Live.Provider = config.ProviderEntry{Name: "gemini", APIKey: "test-key"}
	cfg.Audio.FrameSamples = 160
	cfg.Coach.Routine = string(routine)
	cfg.Coach.Preferences.Voice = "Puck"
	cfg.ApplyDefaults()
	return cfg
}

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	app    *app.App
	dialer *livemock.Dialer
	devs   *audiomock.Devices
	store  *journalmock.Store
	clock  *clock
}

func newFixture(t *testing.T, cfg *config.Config, opts ...app.Option) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		dialer: &livemock.Dialer{OpenOnDial: true},
		devs:   &audiomock.Devices{},
		store:  &journalmock.Store{},
		clock:  newClock(),
	}
	opts = append([]app.Option{
		app.WithMetrics(m),
		app.WithClock(f.clock.now),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	f.app, err = app.New(cfg, &app.Providers{Live: f.dialer, Audio: f.devs, Journal: f.store}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(f.app.StopSession)
	return f
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// start connects a session and waits until the app has seen it open.
func (f *fixture) start(t *testing.T) *livemock.Channel {
	t.Helper()
	if err := f.app.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, "session open", func() bool {
		_, ok := f.app.ActiveSession()
		return ok
	})
	return f.dialer.LastChannel()
}

// finish ends the session and flushes journal writes.
func (f *fixture) finish(t *testing.T) {
	t.Helper()
	f.app.StopSession()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	devs := &audiomock.Devices{}
	dialer := &livemock.Dialer{}
	tests := []struct {
		name      string
		cfg       *config.Config
		providers *app.Providers
	}{
		{name: "nil config", cfg: nil, providers: &app.Providers{Live: dialer, Audio: devs}},
		{name: "nil providers", cfg: testConfig(coach.RoutineMorning), providers: nil},
		{name: "missing live", cfg: testConfig(coach.RoutineMorning), providers: &app.Providers{Audio: devs}},
		{name: "missing audio", cfg: testConfig(coach.RoutineMorning), providers: &app.Providers{Live: dialer}},
		{
			name: "bad routine",
			cfg: func() *config.Config {
				c := testConfig(coach.RoutineMorning)
				c.Coach.Routine = "lunch"
				return c
			}(),
			providers: &app.Providers{Live: dialer, Audio: devs},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(tc.cfg, tc.providers); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestNew_JournalOptional(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(coach.RoutineMorning), &app.Providers{
		Live:  &livemock.Dialer{},
		Audio: &audiomock.Devices{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

// ─── Sessions ────────────────────────────────────────────────────────────────

func TestStartSession_UsesCoachingProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineWalk))
	f.start(t)

	if got := f.app.State(); got != engine.Connected {
		t.Fatalf("State = %v, want connected", got)
	}
	cfg := f.dialer.DialCalls[0].Cfg
	if cfg.Voice != "Puck" {
		t.Errorf("voice = %q, want Puck", cfg.Voice)
	}
	if !strings.Contains(cfg.Instructions, "Current protocol: WALK") {
		t.Errorf("instructions do not name the walk protocol")
	}
	if len(cfg.Tools) != 2 {
		t.Errorf("tools = %d, want 2", len(cfg.Tools))
	}
	info, _ := f.app.ActiveSession()
	if info.Routine != coach.RoutineWalk || info.SessionID == "" {
		t.Errorf("ActiveSession = %+v", info)
	}
}

func TestToggleSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineMorning))
	if err := f.app.ToggleSession(context.Background()); err != nil {
		t.Fatalf("ToggleSession (start): %v", err)
	}
	if got := f.app.State(); got != engine.Connected {
		t.Fatalf("State = %v, want connected", got)
	}
	if err := f.app.ToggleSession(context.Background()); err != nil {
		t.Fatalf("ToggleSession (stop): %v", err)
	}
	if got := f.app.State(); got != engine.Disconnected {
		t.Fatalf("State = %v, want disconnected", got)
	}
}

func TestMute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineMorning))
	f.app.SetMuted(true)
	if !f.app.Muted() {
		t.Error("Muted() = false after SetMuted(true)")
	}
	f.app.SetMuted(false)
	if f.app.Muted() {
		t.Error("Muted() = true after SetMuted(false)")
	}
}

func TestSession_RecordedWithLastTechnique(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineFocus))
	ch := f.start(t)

	for i, name := range []string{"Box Breathing", "Coherent Breathing"} {
		ch.Emit(live.ToolCall{
			ID:   string(rune('a' + i)),
			Name: engine.ToolSetBreathingExercise,
			Args: map[string]any{"name": name, "pattern": "4-4-4-4"},
		})
	}
	waitFor(t, "technique", func() bool {
		info, _ := f.app.ActiveSession()
		return info.Technique == "Coherent Breathing"
	})

	f.clock.advance(20 * time.Second)
	f.finish(t)

	logs := f.store.Sessions()
	if len(logs) != 1 {
		t.Fatalf("recorded %d sessions, want 1", len(logs))
	}
	got := logs[0]
	if got.Duration != 20*time.Second {
		t.Errorf("Duration = %v, want 20s", got.Duration)
	}
	if got.Routine != "focus" || got.Technique != "Coherent Breathing" {
		t.Errorf("log = %+v", got)
	}
	if len(f.store.Entries()) != 0 {
		t.Errorf("journal entries written outside the night routine")
	}
	if !f.store.Closed() {
		t.Error("journal store not closed by Shutdown")
	}
}

func TestSession_ShortSessionNotRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineMorning))
	f.start(t)
	f.clock.advance(config.DefaultMinSessionDuration)
	f.finish(t)

	if n := len(f.store.Sessions()); n != 0 {
		t.Errorf("recorded %d sessions, want 0", n)
	}
}

func TestSession_FailedConnectNotRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineMorning))
	f.dialer.DialErr = io.ErrUnexpectedEOF
	if err := f.app.StartSession(context.Background()); err == nil {
		t.Fatal("StartSession succeeded, want error")
	}
	f.clock.advance(time.Minute)
	f.finish(t)

	if n := len(f.store.Sessions()); n != 0 {
		t.Errorf("recorded %d sessions, want 0", n)
	}
}

func TestShutdown_WaitsForJournalWrite(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineFocus))
	gate := make(chan struct{})
	f.store.Gate = gate
	f.start(t)
	f.clock.advance(20 * time.Second)
	f.app.StopSession()

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(gate)
	}()
	f.finish(t)

	if n := len(f.store.Sessions()); n != 1 {
		t.Fatalf("recorded %d sessions before Shutdown returned, want 1", n)
	}
}

func TestShutdown_StuckJournalWriteHonoursContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineFocus))
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	f.store.Gate = gate
	f.start(t)
	f.clock.advance(20 * time.Second)
	f.app.StopSession()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := f.app.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown error = %v, want context.DeadlineExceeded", err)
	}
	if len(f.store.Sessions()) != 0 {
		t.Error("session recorded while the journal write was held")
	}
}

func TestSession_NightReflection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		routine   coach.Routine
		speech    []string
		wantEntry string
	}{
		{
			name:      "saved",
			routine:   coach.RoutineNight,
			speech:    []string{" Today I finally ", "finished the garden. "},
			wantEntry: "Today I finally finished the garden.",
		},
		{name: "too short", routine: coach.RoutineNight, speech: []string{"  tired  "}},
		{name: "other routine", routine: coach.RoutineSleep, speech: []string{"a long enough sentence"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, testConfig(tc.routine))
			ch := f.start(t)
			for _, s := range tc.speech {
				ch.Emit(live.UserTranscriptDelta{Text: s})
			}
			// A turn boundary after the speech; once the tool reply is sent
			// every earlier event has been handled.
			ch.Emit(live.ToolCall{ID: "sync", Name: "noop"})
			waitFor(t, "tool reply", func() bool { return len(ch.ToolResponses()) == 1 })

			f.clock.advance(time.Minute)
			f.finish(t)

			if n := len(f.store.Sessions()); n != 1 {
				t.Fatalf("recorded %d sessions, want 1", n)
			}
			entries := f.store.Entries()
			if tc.wantEntry == "" {
				if len(entries) != 0 {
					t.Fatalf("entries = %+v, want none", entries)
				}
				return
			}
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			e := entries[0]
			if e.Text != tc.wantEntry {
				t.Errorf("Text = %q, want %q", e.Text, tc.wantEntry)
			}
			if !slices.Equal(e.Tags, []string{"night", "reflection"}) {
				t.Errorf("Tags = %v", e.Tags)
			}
			if !e.CreatedAt.Equal(f.clock.now()) {
				t.Errorf("CreatedAt = %v, want session end %v", e.CreatedAt, f.clock.now())
			}
		})
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

func TestHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineNight))
	ch := f.start(t)
	ch.Emit(live.UserTranscriptDelta{Text: "I feel calm and ready for sleep"})
	ch.Emit(live.ToolCall{ID: "sync", Name: "noop"})
	waitFor(t, "tool ack", func() bool { return len(ch.ToolResponses()) == 1 })
	f.clock.advance(30 * time.Second)
	f.app.StopSession()

	var h journal.History
	waitFor(t, "history", func() bool {
		var err error
		h, err = f.app.History(context.Background())
		return err == nil && len(h.Sessions) == 1 && len(h.Entries) == 1
	})
	if h.Sessions[0].Routine != "night" || h.Sessions[0].Duration != 30*time.Second {
		t.Errorf("session = %+v", h.Sessions[0])
	}
	if h.Entries[0].Text != "I feel calm and ready for sleep" {
		t.Errorf("entry text = %q", h.Entries[0].Text)
	}
}

func TestHistory_NoJournal(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(coach.RoutineMorning), &app.Providers{
		Live:  &livemock.Dialer{},
		Audio: &audiomock.Devices{},
	}, app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.History(context.Background()); !errors.Is(err, app.ErrNoJournal) {
		t.Fatalf("History error = %v, want ErrNoJournal", err)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	old := testConfig(coach.RoutineMorning)
	f := newFixture(t, old, app.WithLevelVar(lv))

	next := testConfig(coach.RoutineNight)
	next.Server.LogLevel = config.LogDebug
	next.Coach.Preferences.Voice = "Charon"
	f.app.ApplyConfig(old, next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if got := f.app.Routine(); got != coach.RoutineNight {
		t.Errorf("Routine() = %q, want night", got)
	}

	f.start(t)
	if got := f.dialer.DialCalls[0].Cfg.Voice; got != "Charon" {
		t.Errorf("next session voice = %q, want Charon", got)
	}
}

func TestApplyConfig_NoChangeKeepsConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(coach.RoutineMorning)
	f := newFixture(t, cfg)
	f.app.ApplyConfig(cfg, testConfig(coach.RoutineMorning))
	if f.app.Config() != cfg {
		t.Error("config replaced although nothing changed")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// ─── Ops server ──────────────────────────────────────────────────────────────

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestOpsHandler(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pranaflow_frames_sent_total 3\n")
	})
	f := newFixture(t, testConfig(coach.RoutineMorning), app.WithMetricsHandler(metrics))
	h := f.app.OpsHandler()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("/readyz = %d, body %s", rec.Code, rec.Body)
	}
	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "frames_sent") {
		t.Errorf("/metrics = %d %q", rec.Code, rec.Body)
	}

	f.store.PingErr = io.ErrClosedPipe
	rec = get(t, h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"journal"`) {
		t.Errorf("/readyz with failing journal = %d %s", rec.Code, rec.Body)
	}
}

func TestOpsHandler_LiveBreakers(t *testing.T) {
	t.Parallel()

	fallback := resilience.NewLiveFallback("gemini", &livemock.Dialer{DialErr: io.ErrUnexpectedEOF},
		resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}})
	a, err := app.New(testConfig(coach.RoutineMorning), &app.Providers{
		Live:  fallback,
		Audio: &audiomock.Devices{},
	}, app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := a.OpsHandler()

	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("/readyz before failures = %d", rec.Code)
	}
	if err := a.StartSession(context.Background()); err == nil {
		t.Fatal("StartSession succeeded with a failing provider")
	}
	rec := get(t, h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "circuit breaker") {
		t.Errorf("/readyz with open breaker = %d %s", rec.Code, rec.Body)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// scriptFrontend starts one session, waits for it to open and quits.
type scriptFrontend struct {
	app *app.App

	mu    sync.Mutex
	conns []bool
}

func (s *scriptFrontend) Callbacks() engine.Callbacks {
	return engine.Callbacks{OnConnectionChange: func(c bool) {
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
	}}
}

func (s *scriptFrontend) Run(ctx context.Context) error {
	return s.app.StartSession(ctx)
}

func (s *scriptFrontend) seen() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.conns)
}

func TestRun_FrontendQuitEndsRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig(coach.RoutineMorning)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	f := newFixture(t, cfg)
	fe := &scriptFrontend{app: f.app}

	done := make(chan error, 1)
	go func() { done <- f.app.Run(context.Background(), fe) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the frontend quit")
	}

	if got := f.app.State(); got != engine.Disconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
	waitFor(t, "close notification", func() bool {
		s := fe.seen()
		return len(s) == 2 && s[0] && !s[1]
	})
}

func TestRun_ContextCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(coach.RoutineMorning))
	ctx, cancel := context.WithCancel(context.Background())
	fe := &blockingFrontend{}

	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx, fe) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

type blockingFrontend struct{}

func (blockingFrontend) Callbacks() engine.Callbacks { return engine.Callbacks{} }

func (blockingFrontend) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(coach.RoutineMorning)
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	f := newFixture(t, cfg)

	err := f.app.Run(context.Background(), blockingFrontend{})
	if err == nil || !strings.Contains(err.Error(), "listen") {
		t.Fatalf("Run err = %v, want listen error", err)
	}
}
