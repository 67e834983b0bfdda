// Package tui is the terminal frontend of PranaFlow: an interactive Bubble
// Tea screen and a headless mode that only logs.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/pranaflow/internal/engine"
)

// UI runs the interactive session screen.
type UI struct {
	ctl  Controller
	opts []tea.ProgramOption

	mu   sync.Mutex
	prog *tea.Program
}

// New creates a UI driving ctl. opts are passed to tea.NewProgram after the
// defaults (alternate screen, context).
func New(ctl Controller, opts ...tea.ProgramOption) *UI {
	return &UI{ctl: ctl, opts: opts}
}

// Callbacks forwards engine notifications to the running program. They are
// dropped while no program runs.
func (u *UI) Callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnConnectionChange: func(c bool) { u.send(connMsg(c)) },
		OnVolume:           func(v float64) { u.send(volumeMsg(v)) },
		OnError:            func(msg string) { u.send(errorMsg(msg)) },
		OnTranscript:       func(d string) { u.send(transcriptMsg(d)) },
		OnUserTranscript:   func(d string) { u.send(userMsg(d)) },
		OnExercise: func(name, pattern string) {
			u.send(exerciseMsg(engine.Exercise{Name: name, Pattern: pattern}))
		},
		OnCadence: func(spm float64) { u.send(cadenceMsg(spm)) },
	}
}

func (u *UI) send(msg tea.Msg) {
	u.mu.Lock()
	p := u.prog
	u.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Run shows the screen until the user quits or ctx is done.
func (u *UI) Run(ctx context.Context) error {
	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, u.opts...)
	p := tea.NewProgram(NewModel(ctx, u.ctl), opts...)

	u.mu.Lock()
	u.prog = p
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.prog = nil
		u.mu.Unlock()
	}()

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
