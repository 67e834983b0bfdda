//go:build portaudio

// Package portaudio implements [audio.Devices] on top of PortAudio via
// github.com/gordonklaus/portaudio.
//
// Building it requires the PortAudio development headers, so the package is
// only compiled with the "portaudio" build tag. Each opened device holds its
// own Pa_Initialize reference and releases it on Close.
package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/audio/timeline"
)

// Devices opens PortAudio default-device streams.
type Devices struct {
	framesPerBuffer int
}

var _ audio.Devices = (*Devices)(nil)

// New returns a PortAudio device factory. framesPerBuffer of zero lets
// PortAudio choose.
func New(framesPerBuffer int) *Devices {
	return &Devices{framesPerBuffer: framesPerBuffer}
}

// stream is the part of a PortAudio stream shared by input and output.
type stream struct {
	once sync.Once
	s    *portaudio.Stream
}

func (st *stream) close() {
	st.once.Do(func() {
		if st.s != nil {
			_ = st.s.Stop()
			_ = st.s.Close()
		}
		_ = portaudio.Terminate()
	})
}

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(_ context.Context, f audio.Format) (audio.Input, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	in := &input{format: f}
	s, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), d.framesPerBuffer, in.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open capture stream: %w", err)
	}
	in.st.s = s
	return in, nil
}

type input struct {
	format audio.Format
	st     stream

	mu     sync.Mutex
	onData func([]byte)
	buf    []byte
}

func (in *input) Format() audio.Format { return in.format }

func (in *input) Start(onData func(pcm []byte)) error {
	in.mu.Lock()
	in.onData = onData
	in.mu.Unlock()
	if err := in.st.s.Start(); err != nil {
		return fmt.Errorf("portaudio: start capture: %w", err)
	}
	return nil
}

func (in *input) callback(samples []int16) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.onData == nil {
		return
	}
	if cap(in.buf) < len(samples)*2 {
		in.buf = make([]byte, len(samples)*2)
	}
	buf := in.buf[:len(samples)*2]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	in.onData(buf)
}

func (in *input) Close() error {
	in.mu.Lock()
	in.onData = nil
	in.mu.Unlock()
	in.st.close()
	return nil
}

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(_ context.Context, f audio.Format) (audio.Output, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	out := &output{Timeline: timeline.New(f)}
	s, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), d.framesPerBuffer, out.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open playback stream: %w", err)
	}
	out.st.s = s
	if err := s.Start(); err != nil {
		out.st.close()
		return nil, fmt.Errorf("portaudio: start playback: %w", err)
	}
	return out, nil
}

type output struct {
	*timeline.Timeline
	st  stream
	buf []byte // touched only by the PortAudio callback thread
}

var (
	_ audio.Input  = (*input)(nil)
	_ audio.Output = (*output)(nil)
)

func (o *output) callback(samples []int16) {
	if cap(o.buf) < len(samples)*2 {
		o.buf = make([]byte, len(samples)*2)
	}
	buf := o.buf[:len(samples)*2]
	o.Timeline.Render(buf)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
}

func (o *output) Close() error {
	o.Timeline.Close()
	o.st.close()
	return nil
}
