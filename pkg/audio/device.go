package audio

import (
	"context"
	"errors"
)

// ErrDeviceClosed is returned by device methods called after Close.
var ErrDeviceClosed = errors.New("audio: device closed")

// Devices opens capture and playback devices. Every call returns a fresh
// device that owns its own backend context, so sequential sessions never
// share or alias handles.
//
// Implementations are provided by backend packages (audio/miniaudio,
// audio/portaudio) and by audio/mock for tests.
type Devices interface {
	// OpenInput acquires the default capture device in format f. Permission
	// denial or a missing device is reported as an error; nothing is left
	// open in that case.
	OpenInput(ctx context.Context, f Format) (Input, error)

	// OpenOutput acquires the default playback device in format f and starts
	// its sample clock at zero.
	OpenOutput(ctx context.Context, f Format) (Output, error)
}

// Input is an open capture device.
//
// Implementations must be safe for concurrent use; Close may race with the
// delivery callback.
type Input interface {
	// Format reports the layout of PCM handed to the callback.
	Format() Format

	// Start begins capture. onData is invoked on the device's own goroutine
	// with freshly captured PCM; the slice is only valid for the duration of
	// the call. onData must not block.
	Start(onData func(pcm []byte)) error

	// Close stops capture and releases the device and its backend context.
	// Close is idempotent.
	Close() error
}

// Output is an open playback device with a sample-accurate clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Format reports the layout expected by Schedule.
	Format() Format

	// Clock returns the number of sample frames rendered to the device since
	// it was opened. It never decreases.
	Clock() int64

	// Schedule queues pcm to start at frame position at. A voice whose start
	// has already passed when it is first rendered begins late rather than
	// being clipped.
	Schedule(at int64, pcm []byte) (Voice, error)

	// Close silences all voices and releases the device and its backend
	// context. Close is idempotent.
	Close() error
}

// Voice is one scheduled playback unit.
type Voice interface {
	// Stop cancels the voice. Once Stop returns no further samples of it are
	// rendered. Stop is idempotent.
	Stop()

	// End reports the frame position at which the voice finishes, given its
	// current start.
	End() int64
}
