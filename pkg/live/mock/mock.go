// Package mock provides test doubles for the live package interfaces.
//
// Use Dialer to verify Dial calls and hand out scriptable channels. Use
// Channel to inject inbound events and inspect what the engine sent.
//
// Example:
//
//	d := &mock.Dialer{OpenOnDial: true}
//	ch, _ := d.Dial(ctx, cfg) // first event is live.Opened
//	d.LastChannel().Emit(live.AudioChunk{MIMEType: "audio/pcm;rate=24000", Data: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/live"
)

var (
	_ live.Dialer  = (*Dialer)(nil)
	_ live.Channel = (*Channel)(nil)
)

// eventBuffer bounds how many injected events may be pending before Emit
// reports a full channel.
const eventBuffer = 256

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Ctx is the context passed to Dial.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Dial.
	Cfg live.SessionConfig
}

// Dialer is a mock implementation of live.Dialer. Every successful Dial
// returns a fresh Channel.
type Dialer struct {
	mu sync.Mutex

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// Block, if non-nil, makes Dial wait until it is closed or the context
	// is done.
	Block chan struct{}

	// OpenOnDial makes each new channel emit live.Opened immediately.
	OpenOnDial bool

	// OnDial, if set, is called with each new channel before Dial returns.
	OnDial func(*Channel)

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall

	// Channels records every channel handed out, in order.
	Channels []*Channel
}

// Dial records the call and returns a new Channel or DialErr.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Channel, error) {
	d.mu.Lock()
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Cfg: cfg})
	block, dialErr := d.Block, d.DialErr
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}

	ch := NewChannel()
	d.mu.Lock()
	d.Channels = append(d.Channels, ch)
	open, hook := d.OpenOnDial, d.OnDial
	d.mu.Unlock()

	if open {
		ch.Emit(live.Opened{})
	}
	if hook != nil {
		hook(ch)
	}
	return ch, nil
}

// LastChannel returns the most recently dialled channel, or nil.
func (d *Dialer) LastChannel() *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Channels) == 0 {
		return nil
	}
	return d.Channels[len(d.Channels)-1]
}

// DialCount returns the number of Dial calls so far.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DialCalls)
}

// ─── Channel ─────────────────────────────────────────────────────────────────

// Channel is a mock implementation of live.Channel.
type Channel struct {
	mu sync.Mutex

	events chan live.Event
	closed bool

	// SendErr, if non-nil, is returned from SendAudio and SendToolResponse.
	SendErr error

	audio      []audio.AudioFrame
	responses  []live.ToolResponse
	closeCount int
}

// NewChannel returns an open Channel with no pending events.
func NewChannel() *Channel {
	return &Channel{events: make(chan live.Event, eventBuffer)}
}

// Events implements live.Channel.
func (c *Channel) Events() <-chan live.Event { return c.events }

// Emit injects an inbound event. It reports false once the channel is
// closed or its buffer is full.
func (c *Channel) Emit(ev live.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Terminate injects a terminal event and closes the event stream, as a real
// transport does after a remote close or failure.
func (c *Channel) Terminate(ev live.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
	c.closed = true
	close(c.events)
}

// SendAudio records the frame. The data is copied.
func (c *Channel) SendAudio(frame audio.AudioFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return live.ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	frame.Data = append([]byte(nil), frame.Data...)
	c.audio = append(c.audio, frame)
	return nil
}

// SendToolResponse records resp.
func (c *Channel) SendToolResponse(resp live.ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return live.ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.responses = append(c.responses, resp)
	return nil
}

// Close closes the event stream. Subsequent sends return live.ErrClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// SentAudio returns a copy of every frame sent so far.
func (c *Channel) SentAudio() []audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.AudioFrame(nil), c.audio...)
}

// ToolResponses returns a copy of every tool response sent so far.
func (c *Channel) ToolResponses() []live.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]live.ToolResponse(nil), c.responses...)
}

// CloseCount returns how many times Close was called.
func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// Closed reports whether the channel has been closed or terminated.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
