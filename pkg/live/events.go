package live

import "fmt"

// Event is one inbound message from the remote model. The concrete types are
// listed below; switch on them with a type switch.
type Event interface {
	isEvent()
}

// Opened signals that the remote side acknowledged the session setup.
type Opened struct{}

// AudioChunk carries one block of synthesised speech.
type AudioChunk struct {
	// MIMEType describes Data, e.g. "audio/pcm;rate=24000".
	MIMEType string

	// Data is the raw (already transport-decoded) payload.
	Data []byte
}

// TranscriptDelta is a fragment of the transcript of the model's speech.
type TranscriptDelta struct {
	Text string
}

// UserTranscriptDelta is a fragment of recognised user speech.
type UserTranscriptDelta struct {
	Text string
}

// ToolCall is a remote request to run a local function.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Interruption signals that the user barged in and the model abandoned its
// current utterance.
type Interruption struct{}

// TurnComplete marks the end of a model turn.
type TurnComplete struct{}

// ChannelClosed is the terminal event for a remote-initiated close.
type ChannelClosed struct {
	// Code is the transport close code, or -1 when unknown.
	Code int

	// Reason is the remote-supplied close reason, possibly empty.
	Reason string
}

// ChannelError is the terminal event for a transport or protocol failure.
type ChannelError struct {
	Err error
}

func (Opened) isEvent()              {}
func (AudioChunk) isEvent()          {}
func (TranscriptDelta) isEvent()     {}
func (UserTranscriptDelta) isEvent() {}
func (ToolCall) isEvent()            {}
func (Interruption) isEvent()        {}
func (TurnComplete) isEvent()        {}
func (ChannelClosed) isEvent()       {}
func (ChannelError) isEvent()        {}

// Error implements error so a ChannelClosed can be wrapped directly.
func (c ChannelClosed) Error() string {
	if c.Reason == "" {
		return fmt.Sprintf("live: channel closed by remote (code %d)", c.Code)
	}
	return fmt.Sprintf("live: channel closed by remote (code %d): %s", c.Code, c.Reason)
}
