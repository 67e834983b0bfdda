package engine

import (
	"errors"
	"fmt"
)

// ErrAborted is returned by [Controller.Connect] when Disconnect is called
// while the connection attempt is still in progress.
var ErrAborted = errors.New("engine: connect aborted by disconnect")

// AcquisitionError reports that a local audio device could not be acquired
// or started. It is fatal to the connect attempt.
type AcquisitionError struct {
	// Device is "microphone" or "speaker".
	Device string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("engine: acquire %s: %v", e.Device, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ConnectionError reports that the remote channel failed to open or closed
// unexpectedly. It is fatal to the session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("engine: connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a tool call whose arguments do not match the
// declared shape. It is acknowledged generically and never surfaced to the
// UI.
type ProtocolError struct {
	Tool string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("engine: tool %q: %v", e.Tool, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// PlaybackDecodeError reports an inbound audio chunk that could not be
// decoded. The chunk is dropped and playback continues.
type PlaybackDecodeError struct {
	MIMEType string
	Err      error
}

func (e *PlaybackDecodeError) Error() string {
	return fmt.Sprintf("engine: decode %q: %v", e.MIMEType, e.Err)
}

func (e *PlaybackDecodeError) Unwrap() error { return e.Err }

// errorKind labels err for metrics.
func errorKind(err error) string {
	var (
		acq   *AcquisitionError
		conn  *ConnectionError
		proto *ProtocolError
		dec   *PlaybackDecodeError
	)
	switch {
	case errors.As(err, &acq):
		return "acquisition"
	case errors.As(err, &conn):
		return "connection"
	case errors.As(err, &proto):
		return "protocol"
	case errors.As(err, &dec):
		return "decode"
	default:
		return "other"
	}
}
