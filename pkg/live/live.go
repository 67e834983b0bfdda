// Package live defines the transport boundary between the session engine and
// a remote conversational-audio model.
//
// A [Dialer] opens a [Channel]: a bidirectional, message-oriented connection
// that carries microphone frames out and delivers model audio, transcripts,
// tool calls and barge-in signals back as an ordered stream of [Event]
// values. Concrete transports live in sub-packages (live/gemini, live/genailive,
// live/openai); live/mock provides a scriptable double.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/pranaflow/pkg/audio"
)

// ErrClosed is returned by Channel send methods after Close or after the
// channel has failed.
var ErrClosed = errors.New("live: channel closed")

// SessionConfig is the immutable input to a connection attempt.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name (e.g. "Kore").
	Voice string

	// Instructions is the fully rendered system instruction. Transports pass
	// it through verbatim.
	Instructions string

	// Tools are the function declarations advertised to the model.
	Tools []ToolDeclaration
}

// ToolDeclaration describes one function the model may call.
type ToolDeclaration struct {
	// Name is the function name the model uses in [ToolCall.Name].
	Name string

	// Description tells the model when to call the function.
	Description string

	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
}

// ToolResponse acknowledges a [ToolCall] once its local effect has been
// applied.
type ToolResponse struct {
	// ID echoes [ToolCall.ID].
	ID string

	// Name echoes [ToolCall.Name].
	Name string

	// Result is the JSON-serialisable result payload.
	Result map[string]any
}

// Dialer opens channels to a remote model.
type Dialer interface {
	// Dial performs the transport handshake and sends the session setup. The
	// returned channel emits [Opened] once the remote side acknowledges the
	// setup. ctx bounds the handshake only; the channel lives until Close or
	// a terminal event.
	Dial(ctx context.Context, cfg SessionConfig) (Channel, error)
}

// Channel is one open session with the remote model.
type Channel interface {
	// Events returns the inbound event stream. Events arrive in the order the
	// remote side sent them. The channel is closed after a terminal event
	// ([ChannelClosed] or [ChannelError]) or after Close.
	Events() <-chan Event

	// SendAudio enqueues a captured frame. It never blocks on network I/O;
	// frames are written in enqueue order.
	SendAudio(frame audio.AudioFrame) error

	// SendToolResponse enqueues a tool acknowledgement behind any audio
	// already queued.
	SendToolResponse(resp ToolResponse) error

	// Close tears the connection down. It is idempotent and does not wait for
	// in-flight receives to finish.
	Close() error
}
