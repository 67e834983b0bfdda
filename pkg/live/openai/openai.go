// Package openai implements [live.Dialer] for OpenAI's Realtime API.
//
// It establishes a WebSocket to the Realtime endpoint and exchanges JSON
// events. Audio travels as base64 PCM16 at 24 kHz in both directions, so
// captured frames are resampled before they are appended. Server-side voice
// activity detection drives barge-in: input_audio_buffer.speech_started is
// reported as [live.Interruption].
package openai

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
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// wireRate is the only PCM16 rate the Realtime API accepts and emits.
	wireRate    = 24000
	eventBuffer = 64
	readLimit   = 4 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(d *Dialer) { d.baseURL = u }
}

// WithTranscriptionModel sets the model used to transcribe user speech.
// Empty disables user transcripts.
func WithTranscriptionModel(model string) Option {
	return func(d *Dialer) { d.transcriptionModel = model }
}

// WithLogger sets the logger for protocol diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) { d.logger = l }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer opens OpenAI Realtime sessions.
type Dialer struct {
	apiKey             string
	model              string
	baseURL            string
	transcriptionModel string
	logger             *slog.Logger
}

// New creates a Realtime Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:             apiKey,
		model:              defaultModel,
		baseURL:            defaultBaseURL,
		transcriptionModel: "whisper-1",
		logger:             slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [live.Dialer]. The channel emits [live.Opened] once the
// server confirms the session.update.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Channel, error) {
	wsURL := d.baseURL + "?model=" + url.QueryEscape(d.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	update, err := json.Marshal(sessionUpdateMessage{
		Type:    "session.update",
		Session: d.sessionParams(cfg),
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: marshal session update: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, update); err != nil {
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	chCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:   conn,
		events: make(chan live.Event, eventBuffer),
		ctx:    chCtx,
		cancel: cancel,
		logger: d.logger.With("provider", "openai"),
	}
	ch.out = outbox.New(chCtx, ch.writeFailed)
	go ch.receiveLoop()
	return ch, nil
}

func (d *Dialer) sessionParams(cfg live.SessionConfig) sessionParams {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if d.transcriptionModel != "" {
		params.InputAudioTranscription = &inputTranscription{Model: d.transcriptionModel}
	}
	for _, t := range cfg.Tools {
		params.Tools = append(params.Tools, functionTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return params
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
	opened   bool
	writeErr error
}

func (c *channel) Events() <-chan live.Event { return c.events }

// SendAudio implements [live.Channel]. Frames at any mono rate are
// resampled to 24 kHz.
func (c *channel) SendAudio(frame audio.AudioFrame) error {
	return c.out.Push(func(ctx context.Context) error {
		pcm := frame.Data
		if frame.SampleRate > 0 && frame.SampleRate != wireRate {
			pcm = audio.ResampleMono16(pcm, frame.SampleRate, wireRate)
		}
		return c.writeJSON(ctx, appendAudioMessage{
			Type:  "input_audio_buffer.append",
			Audio: base64.StdEncoding.EncodeToString(pcm),
		})
	})
}

// SendToolResponse implements [live.Channel]. The result is returned as a
// function_call_output item and a new response is requested.
func (c *channel) SendToolResponse(resp live.ToolResponse) error {
	return c.out.Push(func(ctx context.Context) error {
		output, err := json.Marshal(resp.Result)
		if err != nil {
			return fmt.Errorf("openai: marshal tool result: %w", err)
		}
		if err := c.writeJSON(ctx, createItemMessage{
			Type: "conversation.item.create",
			Item: conversationItem{
				Type:   "function_call_output",
				CallID: resp.ID,
				Output: string(output),
			},
		}); err != nil {
			return err
		}
		return c.writeJSON(ctx, map[string]string{"type": "response.create"})
	})
}

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
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *channel) writeFailed(err error) {
	c.mu.Lock()
	if c.writeErr == nil {
		c.writeErr = err
	}
	c.mu.Unlock()
	c.conn.Close(websocket.StatusInternalError, "write failed")
}

func (c *channel) emit(ev live.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

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

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warn("skipping malformed server event", "err", err)
			continue
		}
		if !c.dispatch(&evt) {
			return
		}
	}
}

func (c *channel) terminalEvent(readErr error) live.Event {
	c.mu.Lock()
	writeErr := c.writeErr
	c.mu.Unlock()
	if writeErr != nil {
		return live.ChannelError{Err: fmt.Errorf("openai: write: %w", writeErr)}
	}
	var ce websocket.CloseError
	if errors.As(readErr, &ce) {
		return live.ChannelClosed{Code: int(ce.Code), Reason: ce.Reason}
	}
	return live.ChannelError{Err: fmt.Errorf("openai: read: %w", readErr)}
}

// dispatch translates one server event. It returns false when the loop must
// stop.
func (c *channel) dispatch(evt *serverEvent) bool {
	switch evt.Type {
	case "session.updated":
		c.mu.Lock()
		first := !c.opened
		c.opened = true
		c.mu.Unlock()
		if first {
			return c.emit(live.Opened{})
		}

	case "response.audio.delta":
		data, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			c.logger.Warn("dropping undecodable audio delta", "err", err)
			return true
		}
		return c.emit(live.AudioChunk{MIMEType: fmt.Sprintf("audio/pcm;rate=%d", wireRate), Data: data})

	case "response.audio_transcript.delta":
		if evt.Delta != "" {
			return c.emit(live.TranscriptDelta{Text: evt.Delta})
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" {
			return c.emit(live.UserTranscriptDelta{Text: evt.Transcript})
		}

	case "input_audio_buffer.speech_started":
		return c.emit(live.Interruption{})

	case "response.function_call_arguments.done":
		var args map[string]any
		if evt.Arguments != "" {
			if err := json.Unmarshal([]byte(evt.Arguments), &args); err != nil {
				c.logger.Warn("tool call arguments are not a JSON object", "tool", evt.Name, "err", err)
				args = nil
			}
		}
		return c.emit(live.ToolCall{ID: evt.CallID, Name: evt.Name, Args: args})

	case "response.done":
		return c.emit(live.TurnComplete{})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		c.mu.Lock()
		opened := c.opened
		c.mu.Unlock()
		if !opened {
			c.emit(live.ChannelError{Err: fmt.Errorf("openai: %s", msg)})
			return false
		}
		c.logger.Warn("server reported error", "msg", msg)
	}
	return true
}
