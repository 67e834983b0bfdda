package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/MrWong99/pranaflow/internal/coach"
	"github.com/MrWong99/pranaflow/internal/engine"
	"github.com/MrWong99/pranaflow/internal/journal"
)

// Controller is the part of the application the terminal UI drives.
type Controller interface {
	ToggleSession(ctx context.Context) error
	SetMuted(muted bool)
	Muted() bool
	State() engine.State
	Routine() coach.Routine
	History(ctx context.Context) (journal.History, error)
}

// ── Messages ────────────────────────────────────────────────────────────────

type (
	connMsg       bool
	volumeMsg     float64
	errorMsg      string
	transcriptMsg string
	userMsg       string
	cadenceMsg    float64
	exerciseMsg   engine.Exercise

	// toggledMsg carries the result of a start or stop request.
	toggledMsg struct{ err error }
)

// ── Styles ──────────────────────────────────────────────────────────────────

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B"))
	liveStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#34D399"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
	exerciseStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#38BDF8"))
	frameStyle    = lipgloss.NewStyle().Padding(1, 2)
)

const (
	defaultWidth = 72
	maxWidth     = 100
)

// Model is the Bubble Tea model of the session screen.
type Model struct {
	ctx  context.Context
	ctl  Controller
	keys keyMap
	now  func() time.Time

	help  help.Model
	spin  spinner.Model
	meter progress.Model
	width int

	state      engine.State
	muted      bool
	volume     float64
	transcript string
	user       string
	exercise   engine.Exercise
	cadence    float64
	err        string
	breath     breathMonitor

	showHistory bool
	history     *historyMsg // nil while loading
}

// NewModel returns the initial model. ctx bounds the session start requests.
func NewModel(ctx context.Context, ctl Controller) Model {
	meter := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	meter.Width = defaultWidth - 10
	return Model{
		ctx:    ctx,
		ctl:    ctl,
		keys:   defaultKeys(),
		now:    time.Now,
		help:   help.New(),
		spin:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		meter:  meter,
		width:  defaultWidth,
		state:  ctl.State(),
		muted:  ctl.Muted(),
		breath: newBreathMonitor(time.Now()),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = min(msg.Width, maxWidth)
		m.meter.Width = max(m.width-14, 10)
		m.help.Width = m.width

	case toggledMsg:
		if msg.err != nil && !errors.Is(msg.err, engine.ErrAborted) {
			m.err = msg.err.Error()
		}
		m.state = m.ctl.State()

	case connMsg:
		m.state = m.ctl.State()
		m.breath = newBreathMonitor(m.now())
		if !msg {
			m.cadence = 0
			m.user = ""
		}

	case volumeMsg:
		m.volume = float64(msg)
		if m.state == engine.Connected {
			m.breath.observe(m.volume, m.now())
		}

	case historyMsg:
		m.history = &msg

	case errorMsg:
		m.err = string(msg)
		m.state = m.ctl.State()

	case transcriptMsg:
		m.transcript = appendTranscript(m.transcript, string(msg))

	case userMsg:
		m.user = appendTranscript(m.user, string(msg))

	case exerciseMsg:
		m.exercise = engine.Exercise(msg)

	case cadenceMsg:
		m.cadence = float64(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.History):
		m.showHistory = !m.showHistory
		if !m.showHistory {
			return m, nil
		}
		m.history = nil
		ctx, ctl := m.ctx, m.ctl
		return m, func() tea.Msg {
			h, err := ctl.History(ctx)
			return historyMsg{history: h, err: err}
		}

	case key.Matches(msg, m.keys.Mute):
		m.ctl.SetMuted(!m.ctl.Muted())
		m.muted = m.ctl.Muted()

	case key.Matches(msg, m.keys.Toggle):
		if m.state != engine.Connecting && m.state != engine.Connected {
			m.state = engine.Connecting
			m.err = ""
		}
		ctx, ctl := m.ctx, m.ctl
		return m, func() tea.Msg {
			return toggledMsg{err: ctl.ToggleSession(ctx)}
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	routine := m.ctl.Routine()
	b.WriteString(titleStyle.Render("PranaFlow"))
	b.WriteString(subtleStyle.Render(fmt.Sprintf("  %s (%s)", routine.Label(), routine)))
	b.WriteString("\n\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n")

	level := m.volume
	if m.muted {
		level = 0
	}
	b.WriteString("mic  " + m.meter.ViewAs(level))
	if m.muted {
		b.WriteString(subtleStyle.Render("  muted"))
	}
	b.WriteString("\n")
	if m.state == engine.Connected {
		b.WriteString(m.breathLine())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.showHistory {
		b.WriteString(m.historyView())
		b.WriteString("\n" + m.help.View(m.keys))
		return frameStyle.Render(b.String())
	}

	if m.exercise.Name != "" {
		b.WriteString(exerciseStyle.Render(m.exercise.Name))
		if m.exercise.Pattern != "" {
			b.WriteString(subtleStyle.Render("  " + m.exercise.Pattern))
		}
		b.WriteString("\n")
	}
	if m.cadence > 0 {
		b.WriteString(fmt.Sprintf("cadence  %.0f spm\n", m.cadence))
	}
	if m.transcript != "" {
		b.WriteString("\n" + wordwrap.String(m.transcript, m.width) + "\n")
	}
	if m.user != "" {
		b.WriteString(subtleStyle.Render(wordwrap.String("you: "+m.user, m.width)) + "\n")
	}
	if m.err != "" {
		b.WriteString("\n" + errorStyle.Render(wordwrap.String(m.err, m.width)) + "\n")
	}

	b.WriteString("\n" + m.help.View(m.keys))
	return frameStyle.Render(b.String())
}

func (m Model) statusLine() string {
	switch m.state {
	case engine.Connecting:
		return m.spin.View() + " connecting"
	case engine.Connected:
		return liveStyle.Render("● live")
	case engine.Error:
		return errorStyle.Render("● error") + subtleStyle.Render("  press space to retry")
	default:
		return subtleStyle.Render("○ idle  press space to begin")
	}
}

func (m Model) breathLine() string {
	state := subtleStyle.Render("○ rest")
	if m.breath.breathing {
		state = liveStyle.Render("● breathing")
	}
	return fmt.Sprintf("breath  %s  consistency %d%%", state, m.breath.score)
}

func (m Model) historyView() string {
	switch {
	case m.history == nil:
		return m.spin.View() + " loading history\n"
	case m.history.err != nil:
		return errorStyle.Render(wordwrap.String("history unavailable: "+m.history.err.Error(), m.width)) + "\n"
	default:
		return renderHistory(m.history.history, m.width)
	}
}
