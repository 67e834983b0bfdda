package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/pranaflow/internal/coach"
	"github.com/MrWong99/pranaflow/internal/engine"
	"github.com/MrWong99/pranaflow/internal/journal"
)

const (
	// minReflectionChars is the shortest night reflection worth saving.
	minReflectionChars = 10

	// historyLimit caps each list returned by History.
	historyLimit = 20
)

// ErrNoJournal is returned by [App.History] when no journal is configured.
var ErrNoJournal = errors.New("app: no journal configured")

// reflectionTags label journal entries written after a night session.
var reflectionTags = []string{"night", "reflection"}

// SessionInfo holds metadata about the connected session.
type SessionInfo struct {
	// SessionID is the engine's identifier for the session.
	SessionID string

	// Routine is the coaching routine the session was started with.
	Routine coach.Routine

	// StartedAt is when the remote side acknowledged the session.
	StartedAt time.Time

	// Technique is the name of the last breathing exercise shown.
	Technique string
}

// sessionManager sits between the engine and the frontend. It forwards every
// notification to the frontend and tracks what a finished session should
// leave in the journal.
type sessionManager struct {
	app *App

	view atomicCallbacks

	mu         sync.Mutex
	pending    coach.Routine // routine of the latest StartSession
	active     bool
	info       SessionInfo
	reflection strings.Builder

	// writes counts journal writes in flight. changed is closed and replaced
	// whenever active or writes changes.
	writes  int
	changed chan struct{}
}

func newSessionManager(a *App) *sessionManager {
	return &sessionManager{app: a, changed: make(chan struct{})}
}

// ─── Session control ─────────────────────────────────────────────────────────

// StartSession connects a session using the current preferences and routine.
// It blocks until the session is open or fails; see engine.Controller.Connect.
func (a *App) StartSession(ctx context.Context) error {
	cfg := a.Config()
	routine := a.routine()

	a.sessions.mu.Lock()
	a.sessions.pending = routine
	a.sessions.mu.Unlock()

	a.logger.Info("starting session", "routine", routine, "label", routine.Label())
	return a.ctrl.Connect(ctx, coach.SessionConfig(cfg.Coach.Preferences, routine))
}

// StopSession ends the current session, if any.
func (a *App) StopSession() {
	a.ctrl.Disconnect()
}

// ToggleSession stops a connecting or connected session and otherwise starts
// one. The returned error is only non-nil for a failed start.
func (a *App) ToggleSession(ctx context.Context) error {
	switch a.ctrl.State() {
	case engine.Connecting, engine.Connected:
		a.StopSession()
		return nil
	default:
		return a.StartSession(ctx)
	}
}

// SetMuted mutes or unmutes the microphone.
func (a *App) SetMuted(muted bool) { a.ctrl.SetMuted(muted) }

// Muted reports whether the microphone is muted.
func (a *App) Muted() bool { return a.ctrl.Muted() }

// State returns the engine's connection state.
func (a *App) State() engine.State { return a.ctrl.State() }

// Routine returns the routine the next session will use.
func (a *App) Routine() coach.Routine { return a.routine() }

// ActiveSession returns the connected session's metadata.
func (a *App) ActiveSession() (SessionInfo, bool) {
	sm := a.sessions
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info, sm.active
}

// History returns the most recent session logs and journal entries.
func (a *App) History(ctx context.Context) (journal.History, error) {
	if a.providers.Journal == nil {
		return journal.History{}, ErrNoJournal
	}
	return journal.LoadHistory(ctx, a.providers.Journal, historyLimit)
}

// ─── Notifications ───────────────────────────────────────────────────────────

// atomicCallbacks holds the frontend callbacks, which are only known once
// Run starts.
type atomicCallbacks struct {
	mu sync.RWMutex
	cb engine.Callbacks
}

func (a *atomicCallbacks) load() engine.Callbacks {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cb
}

func (sm *sessionManager) setView(cb engine.Callbacks) {
	sm.view.mu.Lock()
	sm.view.cb = cb
	sm.view.mu.Unlock()
}

// callbacks returns the engine callbacks. Each one updates the session
// bookkeeping and then forwards to the frontend.
func (sm *sessionManager) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnConnectionChange: func(connected bool) {
			if connected {
				sm.opened()
			} else {
				sm.closed()
			}
			if f := sm.view.load().OnConnectionChange; f != nil {
				f(connected)
			}
		},
		OnVolume: func(level float64) {
			if f := sm.view.load().OnVolume; f != nil {
				f(level)
			}
		},
		OnError: func(msg string) {
			if f := sm.view.load().OnError; f != nil {
				f(msg)
			}
		},
		OnTranscript: func(delta string) {
			if f := sm.view.load().OnTranscript; f != nil {
				f(delta)
			}
		},
		OnUserTranscript: func(delta string) {
			sm.userSpeech(delta)
			if f := sm.view.load().OnUserTranscript; f != nil {
				f(delta)
			}
		},
		OnExercise: func(name, pattern string) {
			sm.exercise(name)
			if f := sm.view.load().OnExercise; f != nil {
				f(name, pattern)
			}
		},
		OnCadence: func(spm float64) {
			if f := sm.view.load().OnCadence; f != nil {
				f(spm)
			}
		},
	}
}

func (sm *sessionManager) opened() {
	id := sm.app.ctrl.SessionID()
	if id == "" {
		id = uuid.NewString()
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.active = true
	sm.info = SessionInfo{
		SessionID: id,
		Routine:   sm.pending,
		StartedAt: sm.app.now(),
	}
	sm.reflection.Reset()
	sm.broadcast()
}

// broadcast wakes every wait call. Caller holds sm.mu.
func (sm *sessionManager) broadcast() {
	close(sm.changed)
	sm.changed = make(chan struct{})
}

func (sm *sessionManager) exercise(name string) {
	if name == "" {
		return
	}
	sm.mu.Lock()
	if sm.active {
		sm.info.Technique = name
	}
	sm.mu.Unlock()
}

func (sm *sessionManager) userSpeech(delta string) {
	sm.mu.Lock()
	if sm.active && sm.info.Routine == coach.RoutineNight {
		sm.reflection.WriteString(delta)
	}
	sm.mu.Unlock()
}

// closed snapshots the finished session and records it in the background.
func (sm *sessionManager) closed() {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return
	}
	sm.active = false
	info := sm.info
	reflection := strings.TrimSpace(sm.reflection.String())
	sm.reflection.Reset()
	sm.writes++
	sm.broadcast()
	sm.mu.Unlock()

	ended := sm.app.now()
	go func() {
		sm.record(info, reflection, ended)

		sm.mu.Lock()
		sm.writes--
		sm.broadcast()
		sm.mu.Unlock()
	}()
}

// record writes the session log and, after a night session, the reflection.
// Sessions no longer than the configured minimum are not recorded.
func (sm *sessionManager) record(info SessionInfo, reflection string, ended time.Time) {
	store := sm.app.providers.Journal
	logger := sm.app.logger.With("session_id", info.SessionID)
	if store == nil {
		return
	}

	duration := ended.Sub(info.StartedAt)
	if minDur := sm.app.Config().Journal.MinSessionDuration; duration <= minDur {
		logger.Debug("session too short to record", "duration", duration, "min", minDur)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := store.RecordSession(ctx, journal.SessionLog{
		ID:        info.SessionID,
		StartedAt: info.StartedAt,
		Duration:  duration,
		Routine:   string(info.Routine),
		Technique: info.Technique,
	})
	if err != nil {
		logger.Warn("failed to record session", "err", err)
	} else {
		logger.Info("session recorded", "duration", duration.Round(time.Second), "technique", info.Technique)
	}

	if info.Routine != coach.RoutineNight || len(reflection) <= minReflectionChars {
		return
	}
	err = store.SaveEntry(ctx, journal.Entry{
		ID:        uuid.NewString(),
		CreatedAt: ended,
		Text:      reflection,
		Tags:      reflectionTags,
	})
	if err != nil {
		logger.Warn("failed to save night reflection", "err", err)
		return
	}
	logger.Info("night reflection saved", "chars", len(reflection))
}

// wait blocks until no session is connected and every journal write has
// finished, or ctx is done. Disconnect returns before the close notification
// is delivered, so a session may still count as active when wait starts.
func (sm *sessionManager) wait(ctx context.Context) error {
	for {
		sm.mu.Lock()
		idle := !sm.active && sm.writes == 0
		changed := sm.changed
		sm.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
