// Package gemini implements [live.Dialer] for Google's Gemini Live API.
//
// It opens a WebSocket to the BidiGenerateContent endpoint and exchanges
// JSON messages according to that protocol. Microphone audio goes out as
// base64 PCM realtimeInput chunks; model audio, transcripts, tool calls and
// barge-in signals come back as serverContent and toolCall messages.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/live"
	"github.com/MrWong99/pranaflow/pkg/live/outbox"
)

var (
	_ live.Dialer  = (*Dialer)(nil)
	_ live.Channel = (*channel)(nil)
)

const (
	// DefaultModel is the native-audio Live model used when none is set.
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	endpointPath   = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	eventBuffer       = 64
	readLimit         = 4 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(d *Dialer) { d.baseURL = u }
}

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.httpClient = c }
}

// WithLogger sets the logger for protocol diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) { d.logger = l }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer opens Gemini Live sessions.
type Dialer struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Gemini Live Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial connects and sends the session setup. The returned channel emits
// [live.Opened] once setupComplete arrives.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Channel, error) {
	wsURL := d.baseURL + endpointPath + "?key=" + url.QueryEscape(d.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	chCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:   conn,
		events: make(chan live.Event, eventBuffer),
		ctx:    chCtx,
		cancel: cancel,
		logger: d.logger.With("provider", "gemini"),
	}

	setup, err := json.Marshal(setupFor(d.model, cfg))
	if err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: marshal setup: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, setup); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: send setup: %w", err)
	}

	ch.out = outbox.New(chCtx, ch.writeFailed)
	go ch.receiveLoop()
	go ch.keepaliveLoop()
	return ch, nil
}

// setupFor builds the BidiGenerateContent setup message.
func setupFor(model string, cfg live.SessionConfig) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []tool{{FunctionDeclarations: decls}}
	}
	return msg
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	conn   *websocket.Conn
	out    *outbox.Outbox
	events chan live.Event
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	writeErr error
}

// Events implements [live.Channel].
func (c *channel) Events() <-chan live.Event { return c.events }

// SendAudio implements [live.Channel]. The channel takes ownership of
// frame.Data.
func (c *channel) SendAudio(frame audio.AudioFrame) error {
	rate := frame.SampleRate
	if rate <= 0 {
		rate = audio.CaptureFormat.SampleRate
	}
	return c.out.Push(func(ctx context.Context) error {
		return c.writeJSON(ctx, realtimeInputMessage{
			RealtimeInput: realtimeInput{
				MediaChunks: []inlineData{{
					MIMEType: fmt.Sprintf("audio/pcm;rate=%d", rate),
					Data:     base64.StdEncoding.EncodeToString(frame.Data),
				}},
			},
		})
	})
}

// SendToolResponse implements [live.Channel].
func (c *channel) SendToolResponse(resp live.ToolResponse) error {
	return c.out.Push(func(ctx context.Context) error {
		return c.writeJSON(ctx, toolResponseMessage{
			ToolResponse: toolResponse{
				FunctionResponses: []functionResponse{{
					ID:       resp.ID,
					Name:     resp.Name,
					Response: resp.Result,
				}},
			},
		})
	})
}

// Close implements [live.Channel]. Idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.out.Close()
	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func (c *channel) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// writeFailed records the first write error and closes the socket so the
// receive loop reports it as the terminal event.
func (c *channel) writeFailed(err error) {
	c.mu.Lock()
	if c.writeErr == nil {
		c.writeErr = err
	}
	c.mu.Unlock()
	c.conn.Close(websocket.StatusInternalError, "write failed")
}

// emit delivers ev unless the channel is shutting down.
func (c *channel) emit(ev live.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// receiveLoop reads messages until the connection ends. It owns c.events and
// closes it on exit.
func (c *channel) receiveLoop() {
	defer close(c.events)
	defer c.out.Close()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.emit(c.terminalEvent(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("skipping malformed server message", "err", err)
			continue
		}
		if !c.dispatch(&msg) {
			return
		}
	}
}

func (c *channel) terminalEvent(readErr error) live.Event {
	c.mu.Lock()
	writeErr := c.writeErr
	c.mu.Unlock()
	if writeErr != nil {
		return live.ChannelError{Err: fmt.Errorf("gemini: write: %w", writeErr)}
	}

	var ce websocket.CloseError
	if errors.As(readErr, &ce) {
		return live.ChannelClosed{Code: int(ce.Code), Reason: ce.Reason}
	}
	return live.ChannelError{Err: fmt.Errorf("gemini: read: %w", readErr)}
}

// dispatch translates one server message into events. It returns false when
// the loop must stop.
func (c *channel) dispatch(msg *serverMessage) bool {
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		c.emit(live.ChannelError{Err: fmt.Errorf("gemini: server error %d: %s", msg.Error.Code, text)})
		return false
	}
	if msg.SetupComplete != nil && !c.emit(live.Opened{}) {
		return false
	}
	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			if !c.emit(live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}) {
				return false
			}
		}
	}
	if msg.ToolCallCancellation != nil {
		c.logger.Debug("tool call cancellation ignored")
	}
	if msg.GoAway != nil {
		c.logger.Warn("server will close the session soon", "time_left", msg.GoAway.TimeLeft)
	}
	if msg.ServerContent != nil {
		return c.dispatchContent(msg.ServerContent)
	}
	return true
}

func (c *channel) dispatchContent(sc *serverContent) bool {
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		if !c.emit(live.TranscriptDelta{Text: t.Text}) {
			return false
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		if !c.emit(live.UserTranscriptDelta{Text: t.Text}) {
			return false
		}
	}
	if sc.Interrupted {
		return c.emit(live.Interruption{})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				c.logger.Warn("dropping undecodable audio part", "err", err)
				continue
			}
			if !c.emit(live.AudioChunk{MIMEType: p.InlineData.MIMEType, Data: data}) {
				return false
			}
		}
	}
	if sc.TurnComplete {
		return c.emit(live.TurnComplete{})
	}
	return true
}

// keepaliveLoop pings the server so idle sessions are not dropped.
func (c *channel) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := c.conn.Ping(pingCtx); err != nil && c.ctx.Err() == nil {
				c.logger.Debug("keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}
