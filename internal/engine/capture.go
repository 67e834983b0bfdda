package engine

import (
	"sync"
	"sync/atomic"

	"github.com/MrWong99/pranaflow/pkg/audio"
)

// captureStage slices microphone PCM into fixed-size frames, measures each
// frame's loudness and hands it to send. It holds at most one partial frame.
type captureStage struct {
	in         audio.Input
	format     audio.Format
	frameBytes int
	muted      *atomic.Bool

	send   func(audio.AudioFrame)
	volume func(float64)

	mu      sync.Mutex
	buf     []byte
	frames  int64
	stopped bool
}

func newCaptureStage(in audio.Input, frameSamples int, muted *atomic.Bool, send func(audio.AudioFrame), volume func(float64)) *captureStage {
	f := in.Format()
	return &captureStage{
		in:         in,
		format:     f,
		frameBytes: frameSamples * f.FrameSize(),
		muted:      muted,
		send:       send,
		volume:     volume,
		buf:        make([]byte, 0, frameSamples*f.FrameSize()),
	}
}

func (c *captureStage) start() error {
	return c.in.Start(c.onData)
}

// stop guarantees that no frame or volume report is produced once it
// returns. The device itself is released separately.
func (c *captureStage) stop() {
	c.mu.Lock()
	c.stopped = true
	c.buf = nil
	c.mu.Unlock()
}

// onData runs on the device goroutine.
func (c *captureStage) onData(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	for len(pcm) > 0 {
		n := min(c.frameBytes-len(c.buf), len(pcm))
		c.buf = append(c.buf, pcm[:n]...)
		pcm = pcm[n:]
		if len(c.buf) == c.frameBytes {
			c.emit()
		}
	}
}

func (c *captureStage) emit() {
	data := make([]byte, c.frameBytes)
	copy(data, c.buf)
	c.buf = c.buf[:0]

	level := audio.RMS(data)
	if c.muted.Load() {
		level = 0
		clear(data)
	}
	frame := audio.AudioFrame{
		Data:       data,
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
		Timestamp:  c.format.FramesToDuration(c.frames),
		Level:      level,
	}
	c.frames += c.format.Frames(len(data))

	c.volume(level)
	c.send(frame)
}
