package tui

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/pranaflow/internal/engine"
)

// Starter starts and stops sessions.
type Starter interface {
	StartSession(ctx context.Context) error
	StopSession()
}

// Headless runs one session without a screen and logs what happens. Model
// speech is logged sentence by sentence.
type Headless struct {
	ctl    Starter
	logger *slog.Logger

	ended chan struct{}
	once  sync.Once

	mu   sync.Mutex
	line strings.Builder
	err  string
}

// NewHeadless creates a headless frontend for ctl. A nil logger means
// slog.Default().
func NewHeadless(ctl Starter, logger *slog.Logger) *Headless {
	if logger == nil {
		logger = slog.Default()
	}
	return &Headless{ctl: ctl, logger: logger, ended: make(chan struct{})}
}

// Callbacks returns the logging callbacks.
func (h *Headless) Callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnConnectionChange: func(connected bool) {
			if connected {
				h.logger.Info("session live")
				return
			}
			h.flush()
			h.once.Do(func() { close(h.ended) })
		},
		OnError: func(msg string) {
			h.mu.Lock()
			h.err = msg
			h.mu.Unlock()
		},
		OnTranscript: h.speech,
		OnExercise: func(name, pattern string) {
			if name != "" {
				h.logger.Info("exercise", "name", name, "pattern", pattern)
			}
		},
		OnCadence: func(spm float64) {
			h.logger.Info("walking cadence", "spm", spm)
		},
	}
}

func (h *Headless) speech(delta string) {
	if delta == "" {
		h.flush()
		return
	}
	h.mu.Lock()
	h.line.WriteString(delta)
	text := strings.TrimSpace(h.line.String())
	complete := strings.HasSuffix(text, ".") || strings.HasSuffix(text, "?") || strings.HasSuffix(text, "!")
	h.mu.Unlock()
	if complete {
		h.flush()
	}
}

func (h *Headless) flush() {
	h.mu.Lock()
	text := strings.TrimSpace(h.line.String())
	h.line.Reset()
	h.mu.Unlock()
	if text != "" {
		h.logger.Info("coach", "text", text)
	}
}

// Run starts a session and waits until it ends or ctx is done. A session
// that ends with an error makes Run return that error.
func (h *Headless) Run(ctx context.Context) error {
	if err := h.ctl.StartSession(ctx); err != nil {
		if errors.Is(err, engine.ErrAborted) {
			return nil
		}
		return err
	}

	select {
	case <-ctx.Done():
		h.ctl.StopSession()
		return nil
	case <-h.ended:
	}

	h.mu.Lock()
	msg := h.err
	h.mu.Unlock()
	if msg != "" {
		return errors.New(msg)
	}
	return nil
}
