// Package engine is the real-time duplex audio session engine.
//
// A [Controller] owns at most one session at a time. A session acquires the
// microphone and speaker, dials a [live.Channel], streams captured frames out
// and schedules inbound speech gaplessly on the speaker timeline. Barge-in
// interruptions silence everything still queued, and tool calls from the
// remote model drive the exercise display and the walking metronome.
//
// All UI notifications go through [Callbacks] and are delivered in emission
// order on a per-session goroutine, so a callback may call back into the
// Controller (including Disconnect) safely.
//
// Teardown runs exactly once per session regardless of how many times, or
// from where, it is triggered. Every release step is best effort and
// independent of the others.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/pranaflow/internal/observe"
	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/live"
)

// DefaultFrameSamples is the number of capture samples per outbound frame.
const DefaultFrameSamples = 4096

// State is the connection state of a Controller.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// Error is entered after a fatal Acquisition or Connection error and
	// persists until the next Connect.
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Exercise is the breathing exercise currently shown. The zero value means
// no exercise.
type Exercise struct {
	Name    string
	Pattern string
}

// Callbacks receive engine notifications. Nil fields are ignored.
type Callbacks struct {
	// OnConnectionChange reports entering (true) or leaving (false) the
	// Connected state. false is reported exactly once per session.
	OnConnectionChange func(connected bool)

	// OnVolume reports the loudness of each captured frame in [0, 1].
	OnVolume func(level float64)

	// OnError reports a fatal error as a human-readable message. It is
	// always followed by the teardown notifications.
	OnError func(msg string)

	// OnTranscript delivers fragments of the model's spoken text. The empty
	// string means the displayed transcript should be cleared.
	OnTranscript func(delta string)

	// OnUserTranscript delivers fragments of recognised user speech.
	OnUserTranscript func(delta string)

	// OnExercise reports the current breathing exercise, ("", "") when
	// cleared.
	OnExercise func(name, pattern string)

	// OnCadence receives the walking cadence set by the model.
	OnCadence func(spm float64)
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics sets the metric instruments. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithCaptureFormat sets the microphone format requested from the devices.
func WithCaptureFormat(f audio.Format) Option {
	return func(c *Controller) { c.captureFormat = f }
}

// WithPlaybackFormat sets the speaker format requested from the devices.
// Inbound audio is converted to whatever the opened device reports.
func WithPlaybackFormat(f audio.Format) Option {
	return func(c *Controller) { c.playbackFormat = f }
}

// WithFrameSamples sets the number of samples per outbound frame.
func WithFrameSamples(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.frameSamples = n
		}
	}
}

// Controller is the session state machine. It is safe for concurrent use.
type Controller struct {
	dialer  live.Dialer
	devices audio.Devices
	cb      Callbacks

	logger         *slog.Logger
	metrics        *observe.Metrics
	captureFormat  audio.Format
	playbackFormat audio.Format
	frameSamples   int

	muted atomic.Bool

	mu       sync.Mutex
	state    State
	sess     *session
	exercise Exercise
}

// New creates a Controller that dials through dialer and opens audio devices
// through devices.
func New(dialer live.Dialer, devices audio.Devices, cb Callbacks, opts ...Option) *Controller {
	c := &Controller{
		dialer:         dialer,
		devices:        devices,
		cb:             cb,
		logger:         slog.Default(),
		captureFormat:  audio.CaptureFormat,
		playbackFormat: audio.PlaybackFormat,
		frameSamples:   DefaultFrameSamples,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Exercise returns the current breathing exercise.
func (c *Controller) Exercise() Exercise {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exercise
}

// SessionID returns the ID of the active session, or "" when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// SetMuted mutes or unmutes the microphone. Muted sessions report volume 0
// and send silent frames.
func (c *Controller) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// Muted reports whether the microphone is muted.
func (c *Controller) Muted() bool {
	return c.muted.Load()
}

// ── Session ─────────────────────────────────────────────────────────────────

// session is one connection attempt. It exclusively owns its devices and
// channel.
type session struct {
	id        string
	startedAt time.Time
	logger    *slog.Logger
	notes     *notifier

	ctx    context.Context
	cancel context.CancelFunc

	opened       chan struct{}
	done         chan struct{}
	teardownOnce sync.Once
	err          error // set before done is closed

	// mu serialises event handling against teardown.
	mu        sync.Mutex
	closed    bool
	connected bool
	input     audio.Input
	output    audio.Output
	channel   live.Channel
	capture   *captureStage
	sched     *scheduler
	tools     *dispatcher
}

// adopt runs attach under the session lock unless the session was already
// torn down. It reports whether attach ran; on false the caller still owns
// whatever it was about to hand over.
func (s *session) adopt(attach func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	attach()
	return true
}

// result waits for teardown and returns the fatal error, or ErrAborted for
// a requested disconnect.
func (s *session) result() error {
	<-s.done
	if s.err != nil {
		return s.err
	}
	return ErrAborted
}

// newSession creates a session whose logger carries the trace of traceCtx.
// The session's own context is independent of traceCtx.
func (c *Controller) newSession(traceCtx context.Context) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &session{
		id:        id,
		startedAt: time.Now(),
		logger:    observe.LoggerFrom(traceCtx, c.logger).With("session_id", id),
		notes:     newNotifier(),
		ctx:       ctx,
		cancel:    cancel,
		opened:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ── Connect ─────────────────────────────────────────────────────────────────

// Connect starts a session and blocks until the remote side acknowledges it,
// the attempt fails, or ctx is done. It is a no-op returning nil while a
// session is Connecting or Connected.
//
// The microphone is acquired before the remote channel is dialled. Fatal
// failures are returned as *AcquisitionError or *ConnectionError after the
// OnError notification and full teardown. If Disconnect interrupts the
// attempt, Connect returns [ErrAborted].
func (c *Controller) Connect(ctx context.Context, cfg live.SessionConfig) error {
	ctx, span := observe.StartSpan(ctx, "session.connect")
	defer span.End()

	c.mu.Lock()
	if c.state == Connecting || c.state == Connected {
		c.mu.Unlock()
		return nil
	}
	s := c.newSession(ctx)
	c.sess = s
	c.state = Connecting
	c.mu.Unlock()

	span.SetAttributes(attribute.String("session.id", s.id))
	s.logger.Info("connecting", "voice", cfg.Voice, "tools", len(cfg.Tools))

	// Disconnect cancels s.ctx; the attempt must honour that as well as ctx.
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := c.open(opCtx, s, cfg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	select {
	case <-s.opened:
	case <-s.done:
	case <-opCtx.Done():
	}
	select {
	case <-s.opened:
		c.metrics.ConnectDuration.Record(ctx, time.Since(s.startedAt).Seconds())
		return nil
	default:
	}
	if s.ctx.Err() == nil {
		c.teardown(s, &ConnectionError{Err: ctx.Err()})
	}
	err := s.result()
	span.SetStatus(codes.Error, err.Error())
	return err
}

// open acquires the devices and dials the channel. On failure the session is
// torn down and the returned error is the one reported to the UI, or
// ErrAborted when Disconnect got there first.
func (c *Controller) open(ctx context.Context, s *session, cfg live.SessionConfig) error {
	in, err := c.devices.OpenInput(ctx, c.captureFormat)
	if err != nil {
		return c.abort(s, &AcquisitionError{Device: "microphone", Err: err})
	}
	if !s.adopt(func() { s.input = in }) {
		closeQuietly(s.logger, "microphone", in.Close)
		return ErrAborted
	}

	out, err := c.devices.OpenOutput(ctx, c.playbackFormat)
	if err != nil {
		return c.abort(s, &AcquisitionError{Device: "speaker", Err: err})
	}
	if !s.adopt(func() { s.output = out; s.sched = newScheduler(out) }) {
		closeQuietly(s.logger, "speaker", out.Close)
		return ErrAborted
	}

	ch, err := c.dialer.Dial(ctx, cfg)
	if err != nil {
		return c.abort(s, &ConnectionError{Err: err})
	}
	attached := s.adopt(func() {
		s.channel = ch
		s.capture = newCaptureStage(in, c.frameSamples, &c.muted,
			func(f audio.AudioFrame) { c.sendFrame(s, ch, f) },
			func(level float64) { s.notes.push(func() { c.notifyVolume(level) }) },
		)
		s.tools = newDispatcher(toolEffects{
			setExercise: func(ex Exercise) { c.setExercise(s, ex) },
			setCadence: func(spm float64) {
				s.notes.push(func() {
					if c.cb.OnCadence != nil {
						c.cb.OnCadence(spm)
					}
				})
			},
		})
	})
	if !attached {
		closeQuietly(s.logger, "channel", ch.Close)
		return ErrAborted
	}

	go c.run(s, ch)
	return nil
}

// abort tears s down with cause unless Disconnect already did, in which case
// it reports ErrAborted.
func (c *Controller) abort(s *session, cause error) error {
	if s.ctx.Err() == nil {
		c.teardown(s, cause)
	}
	return s.result()
}

// ── Disconnect ──────────────────────────────────────────────────────────────

// Disconnect ends the current session, if any, and waits for its resources
// to be released. It is safe to call from any state, any number of times,
// and from within a callback.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.teardown(s, nil)
}

// teardown releases everything s owns exactly once. cause is nil for a
// requested disconnect and the fatal error otherwise.
func (c *Controller) teardown(s *session, cause error) {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		capture, ch, sched := s.capture, s.channel, s.sched
		in, out := s.input, s.output
		wasConnected := s.connected
		s.mu.Unlock()

		if capture != nil {
			capture.stop()
		}
		if ch != nil {
			closeQuietly(s.logger, "channel", ch.Close)
		}
		if sched != nil {
			sched.interrupt()
		}
		if in != nil {
			closeQuietly(s.logger, "microphone", in.Close)
		}
		if out != nil {
			closeQuietly(s.logger, "speaker", out.Close)
		}
		s.cancel()

		final := Disconnected
		if cause != nil {
			final = Error
		}
		c.mu.Lock()
		if c.sess == s {
			c.sess = nil
			c.state = final
			c.exercise = Exercise{}
		}
		c.mu.Unlock()

		if wasConnected {
			c.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		if cause != nil {
			s.err = cause
			c.metrics.RecordSessionError(context.Background(), errorKind(cause))
			s.logger.Error("session failed", "err", cause)
			msg := cause.Error()
			s.notes.push(func() {
				if c.cb.OnError != nil {
					c.cb.OnError(msg)
				}
			})
		} else {
			s.logger.Info("session ended", "duration", time.Since(s.startedAt).Round(time.Millisecond))
		}

		s.notes.push(func() {
			c.notifyVolume(0)
			if c.cb.OnTranscript != nil {
				c.cb.OnTranscript("")
			}
			if c.cb.OnExercise != nil {
				c.cb.OnExercise("", "")
			}
			if c.cb.OnConnectionChange != nil {
				c.cb.OnConnectionChange(false)
			}
		})
		s.notes.close()
		close(s.done)
	})
	<-s.done
}

func closeQuietly(logger *slog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		logger.Warn("release failed", "resource", what, "err", err)
	}
}

// ── Event loop ──────────────────────────────────────────────────────────────

// run consumes ch until it ends or the session is torn down.
func (c *Controller) run(s *session, ch live.Channel) {
	for ev := range ch.Events() {
		fatal, stop := c.handle(s, ev)
		if fatal != nil {
			c.teardown(s, fatal)
			return
		}
		if stop {
			return
		}
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		c.teardown(s, &ConnectionError{Err: errors.New("channel ended unexpectedly")})
	}
}

// handle applies one inbound event. It returns a fatal error to tear the
// session down with, or stop=true when the session is already closed.
func (c *Controller) handle(s *session, ev live.Event) (fatal error, stop bool) {
	switch ev := ev.(type) {
	case live.ChannelClosed:
		return &ConnectionError{Err: ev}, false
	case live.ChannelError:
		return &ConnectionError{Err: ev.Err}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, true
	}

	switch ev := ev.(type) {
	case live.Opened:
		return c.onOpened(s), false

	case live.AudioChunk:
		at, err := s.sched.enqueue(ev)
		if err != nil {
			var decErr *PlaybackDecodeError
			if errors.As(err, &decErr) {
				c.metrics.DecodeErrors.Add(s.ctx, 1)
			}
			s.logger.Warn("dropping audio chunk", "err", err)
			return nil, false
		}
		c.metrics.ChunksScheduled.Add(s.ctx, 1)
		s.logger.Debug("chunk scheduled", "at", at, "bytes", len(ev.Data))

	case live.TranscriptDelta:
		if ev.Text != "" && c.cb.OnTranscript != nil {
			text := ev.Text
			s.notes.push(func() { c.cb.OnTranscript(text) })
		}

	case live.UserTranscriptDelta:
		if ev.Text != "" && c.cb.OnUserTranscript != nil {
			text := ev.Text
			s.notes.push(func() { c.cb.OnUserTranscript(text) })
		}

	case live.Interruption:
		s.sched.interrupt()
		c.metrics.Interruptions.Add(s.ctx, 1)
		s.logger.Debug("interrupted")
		if c.cb.OnTranscript != nil {
			s.notes.push(func() { c.cb.OnTranscript("") })
		}

	case live.ToolCall:
		resp, status, err := s.tools.dispatch(ev)
		c.metrics.RecordToolCall(s.ctx, ev.Name, status)
		switch {
		case err != nil:
			s.logger.Warn("malformed tool call", "tool", ev.Name, "err", err)
		case status == toolUnknown:
			s.logger.Debug("acknowledging unknown tool", "tool", ev.Name)
		}
		if err := s.channel.SendToolResponse(resp); err != nil {
			s.logger.Warn("tool response not sent", "tool", ev.Name, "err", err)
		}

	case live.TurnComplete:
		c.metrics.TurnsCompleted.Add(s.ctx, 1)
		s.logger.Debug("turn complete")

	default:
		s.logger.Debug("ignoring event", "type", fmt.Sprintf("%T", ev))
	}
	return nil, false
}

// onOpened moves the session to Connected and starts capture. Caller holds
// s.mu.
func (c *Controller) onOpened(s *session) error {
	if s.connected {
		return nil
	}
	if err := s.capture.start(); err != nil {
		return &AcquisitionError{Device: "microphone", Err: err}
	}
	s.connected = true
	s.sched.reset()

	c.mu.Lock()
	if c.sess == s {
		c.state = Connected
		c.exercise = Exercise{}
	}
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(s.ctx, 1)
	s.logger.Info("session open", "setup", time.Since(s.startedAt).Round(time.Millisecond))
	s.notes.push(func() {
		if c.cb.OnTranscript != nil {
			c.cb.OnTranscript("")
		}
		if c.cb.OnExercise != nil {
			c.cb.OnExercise("", "")
		}
		if c.cb.OnConnectionChange != nil {
			c.cb.OnConnectionChange(true)
		}
	})
	close(s.opened)
	return nil
}

// setExercise records ex and notifies the UI. Caller holds s.mu.
func (c *Controller) setExercise(s *session, ex Exercise) {
	c.mu.Lock()
	if c.sess == s {
		c.exercise = ex
	}
	c.mu.Unlock()
	s.notes.push(func() {
		if c.cb.OnExercise != nil {
			c.cb.OnExercise(ex.Name, ex.Pattern)
		}
	})
}

// sendFrame runs on the capture goroutine. Sends never block.
func (c *Controller) sendFrame(s *session, ch live.Channel, f audio.AudioFrame) {
	if err := ch.SendAudio(f); err != nil {
		if !errors.Is(err, live.ErrClosed) {
			s.logger.Debug("frame not sent", "err", err)
		}
		return
	}
	c.metrics.FramesSent.Add(s.ctx, 1)
}

func (c *Controller) notifyVolume(level float64) {
	if c.cb.OnVolume != nil {
		c.cb.OnVolume(level)
	}
}
