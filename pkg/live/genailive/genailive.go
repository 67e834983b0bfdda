// Package genailive implements [live.Dialer] on top of the official Go GenAI
// SDK (google.golang.org/genai) Live client.
//
// It speaks the same BidiGenerateContent protocol as live/gemini but lets
// the SDK own the WebSocket, authentication and message schema. Use it when
// the SDK's Vertex AI backend or its HTTP options are needed.
package genailive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/live"
	"github.com/MrWong99/pranaflow/pkg/live/outbox"
)

var (
	_ live.Dialer  = (*Dialer)(nil)
	_ live.Channel = (*channel)(nil)
)

// DefaultModel is the native-audio Live model used when none is set.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

const eventBuffer = 64

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(d *Dialer) { d.cfg.HTTPOptions.BaseURL = u }
}

// WithVertexAI switches to the Vertex AI backend for project and location.
func WithVertexAI(project, location string) Option {
	return func(d *Dialer) {
		d.cfg.Backend = genai.BackendVertexAI
		d.cfg.Project = project
		d.cfg.Location = location
		d.cfg.APIKey = ""
	}
}

// WithLogger sets the logger for protocol diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) { d.logger = l }
}

// Dialer opens Live sessions through the GenAI SDK.
type Dialer struct {
	cfg    genai.ClientConfig
	model  string
	logger *slog.Logger
}

// New creates a Dialer authenticating with apiKey against the Gemini API.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		cfg: genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		},
		model:  DefaultModel,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [live.Dialer].
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Channel, error) {
	client, err := genai.NewClient(ctx, &d.cfg)
	if err != nil {
		return nil, fmt.Errorf("genailive: new client: %w", err)
	}
	sess, err := client.Live.Connect(ctx, d.model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genailive: connect: %w", err)
	}

	chCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		sess:   sess,
		events: make(chan live.Event, eventBuffer),
		ctx:    chCtx,
		cancel: cancel,
		logger: d.logger.With("provider", "genai"),
	}
	ch.out = outbox.New(chCtx, ch.writeFailed)
	go ch.receiveLoop()
	return ch, nil
}

// connectConfig maps a session config onto the SDK's Live config.
func connectConfig(cfg live.SessionConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.Instructions}}}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaFrom(t.Parameters),
			}
		}
		lc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return lc
}

// schemaFrom converts a JSON-schema map into the SDK's Schema type. Only the
// keywords function declarations use are carried over.
func schemaFrom(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = schemaFrom(pm)
			}
		}
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = append(s.Required, req...)
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFrom(items)
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}

// eventsFrom translates one server message into events, in the same order
// as the raw WebSocket transport.
func eventsFrom(msg *genai.LiveServerMessage) []live.Event {
	var evs []live.Event
	if msg.SetupComplete != nil {
		evs = append(evs, live.Opened{})
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			evs = append(evs, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	sc := msg.ServerContent
	if sc == nil {
		return evs
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		evs = append(evs, live.TranscriptDelta{Text: t.Text})
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		evs = append(evs, live.UserTranscriptDelta{Text: t.Text})
	}
	if sc.Interrupted {
		return append(evs, live.Interruption{})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil {
				continue
			}
			evs = append(evs, live.AudioChunk{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
		}
	}
	if sc.TurnComplete {
		evs = append(evs, live.TurnComplete{})
	}
	return evs
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	sess   *genai.Session
	out    *outbox.Outbox
	events chan live.Event
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	writeErr error
}

func (c *channel) Events() <-chan live.Event { return c.events }

// SendAudio implements [live.Channel]. The channel takes ownership of
// frame.Data.
func (c *channel) SendAudio(frame audio.AudioFrame) error {
	rate := frame.SampleRate
	if rate <= 0 {
		rate = audio.CaptureFormat.SampleRate
	}
	return c.out.Push(func(context.Context) error {
		return c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{MIMEType: fmt.Sprintf("audio/pcm;rate=%d", rate), Data: frame.Data},
		})
	})
}

func (c *channel) SendToolResponse(resp live.ToolResponse) error {
	return c.out.Push(func(context.Context) error {
		return c.sess.SendToolResponse(genai.LiveToolResponseInput{
			FunctionResponses: []*genai.FunctionResponse{{
				ID:       resp.ID,
				Name:     resp.Name,
				Response: resp.Result,
			}},
		})
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
	return c.sess.Close()
}

func (c *channel) writeFailed(err error) {
	c.mu.Lock()
	if c.writeErr == nil {
		c.writeErr = err
	}
	c.mu.Unlock()
	// Closing the session unblocks Receive, which then reports the failure.
	_ = c.sess.Close()
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
		msg, err := c.sess.Receive()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			if c.writeErr != nil {
				err = c.writeErr
			}
			c.mu.Unlock()
			c.emit(live.ChannelError{Err: fmt.Errorf("genailive: %w", err)})
			return
		}
		if msg.GoAway != nil {
			c.logger.Warn("server will close the session soon", "time_left", msg.GoAway.TimeLeft)
		}
		for _, ev := range eventsFrom(msg) {
			if !c.emit(ev) {
				return
			}
		}
	}
}
