// Package audio holds the PCM value types, sample helpers and device
// abstractions shared by the capture and playback sides of a live session.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// more than one channel is present.
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the width of one signed 16-bit PCM sample.
const BytesPerSample = 2

// AudioFrame is one block of captured PCM on its way to the remote model.
// Frames are produced by the capture stage and consumed by a transport within
// the same capture tick.
type AudioFrame struct {
	// Data is the PCM payload.
	Data []byte

	// SampleRate in Hz (16000 for the default capture format).
	SampleRate int

	// Channels is 1 for mono capture.
	Channels int

	// Timestamp is the capture position of the first sample, relative to
	// the start of the capture stream.
	Timestamp time.Duration

	// Level is the RMS loudness of Data in [0, 1]. Muted frames carry 0.
	Level float64
}

// Duration returns how long the frame plays at its own format.
func (f AudioFrame) Duration() time.Duration {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}.Duration(len(f.Data))
}

// Format describes a PCM stream layout.
type Format struct {
	SampleRate int
	Channels   int
}

// Common formats.
var (
	// CaptureFormat is what the live transports expect from the microphone.
	CaptureFormat = Format{SampleRate: 16000, Channels: 1}

	// PlaybackFormat is what the remote model produces.
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1}
)

// FrameSize returns the number of bytes that make up one multi-channel
// sample frame.
func (f Format) FrameSize() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return ch * BytesPerSample
}

// Frames returns how many sample frames fit in n bytes.
func (f Format) Frames(n int) int64 {
	return int64(n / f.FrameSize())
}

// Duration converts a byte count into playback time.
func (f Format) Duration(n int) time.Duration {
	return f.FramesToDuration(f.Frames(n))
}

// FramesToDuration converts a sample frame count into playback time.
func (f Format) FramesToDuration(frames int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

// DurationToFrames converts playback time into a sample frame count,
// rounding down.
func (f Format) DurationToFrames(d time.Duration) int64 {
	return int64(d) * int64(f.SampleRate) / int64(time.Second)
}

// String returns a human-readable form such as "24000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
