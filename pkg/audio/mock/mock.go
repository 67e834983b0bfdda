// Package mock provides in-memory implementations of [audio.Devices],
// [audio.Input] and [audio.Output] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and expose fields that control
// return values. Output is backed by a real [timeline.Timeline] driven by a
// manual clock, so tests can check exactly which samples would have been
// audible.
//
// Typical usage:
//
//	devs := &mock.Devices{}
//	ctrl := engine.New(dialer, devs, callbacks)
//	...
//	in := devs.LastInput()
//	in.Feed(pcm)
//	out := devs.LastOutput()
//	out.Advance(250 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/audio/timeline"
)

// ─── Devices ─────────────────────────────────────────────────────────────────

// Devices is a mock implementation of [audio.Devices].
type Devices struct {
	mu sync.Mutex

	// InputErr is returned by OpenInput when non-nil.
	InputErr error

	// OutputErr is returned by OpenOutput when non-nil.
	OutputErr error

	// StartErr is copied into every Input opened afterwards and returned by
	// its Start.
	StartErr error

	// Inputs and Outputs record every device opened, in order.
	Inputs  []*Input
	Outputs []*Output

	// InputFormats and OutputFormats record the requested formats.
	InputFormats  []audio.Format
	OutputFormats []audio.Format
}

var _ audio.Devices = (*Devices)(nil)

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(_ context.Context, f audio.Format) (audio.Input, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InputFormats = append(d.InputFormats, f)
	if d.InputErr != nil {
		return nil, d.InputErr
	}
	in := &Input{format: f, startErr: d.StartErr}
	d.Inputs = append(d.Inputs, in)
	return in, nil
}

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(_ context.Context, f audio.Format) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutputFormats = append(d.OutputFormats, f)
	if d.OutputErr != nil {
		return nil, d.OutputErr
	}
	out := &Output{tl: timeline.New(f)}
	d.Outputs = append(d.Outputs, out)
	return out, nil
}

// LastInput returns the most recently opened Input, or nil.
func (d *Devices) LastInput() *Input {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Inputs) == 0 {
		return nil
	}
	return d.Inputs[len(d.Inputs)-1]
}

// LastOutput returns the most recently opened Output, or nil.
func (d *Devices) LastOutput() *Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Outputs) == 0 {
		return nil
	}
	return d.Outputs[len(d.Outputs)-1]
}

// OpenCount reports how many inputs and outputs are still open.
func (d *Devices) OpenCount() int {
	d.mu.Lock()
	inputs := append([]*Input(nil), d.Inputs...)
	outputs := append([]*Output(nil), d.Outputs...)
	d.mu.Unlock()

	n := 0
	for _, in := range inputs {
		if in.CloseCount() == 0 {
			n++
		}
	}
	for _, out := range outputs {
		if out.CloseCount() == 0 {
			n++
		}
	}
	return n
}

// ─── Input ───────────────────────────────────────────────────────────────────

// Input is a mock implementation of [audio.Input]. Tests push PCM through
// [Input.Feed].
type Input struct {
	mu         sync.Mutex
	format     audio.Format
	startErr   error
	onData     func([]byte)
	startCount int
	closeCount int
}

var _ audio.Input = (*Input)(nil)

// Format implements [audio.Input].
func (i *Input) Format() audio.Format { return i.format }

// Start implements [audio.Input].
func (i *Input) Start(onData func(pcm []byte)) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.startCount++
	if i.startErr != nil {
		return i.startErr
	}
	if i.closeCount > 0 {
		return audio.ErrDeviceClosed
	}
	i.onData = onData
	return nil
}

// Close implements [audio.Input].
func (i *Input) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closeCount++
	i.onData = nil
	return nil
}

// Feed delivers pcm to the capture callback as a device thread would. It
// reports whether a callback was installed.
func (i *Input) Feed(pcm []byte) bool {
	i.mu.Lock()
	fn := i.onData
	i.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(pcm)
	return true
}

// Started reports whether Start succeeded and Close has not been called.
func (i *Input) Started() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.onData != nil
}

// CloseCount reports how many times Close was called.
func (i *Input) CloseCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closeCount
}

// ─── Output ──────────────────────────────────────────────────────────────────

// Scheduled records one [Output.Schedule] call.
type Scheduled struct {
	At     int64
	Frames int64
	Voice  audio.Voice
}

// Output is a mock implementation of [audio.Output] with a manual clock.
type Output struct {
	tl *timeline.Timeline

	mu         sync.Mutex
	scheduled  []Scheduled
	rendered   []byte
	closeCount int
}

var _ audio.Output = (*Output)(nil)

// Format implements [audio.Output].
func (o *Output) Format() audio.Format { return o.tl.Format() }

// Clock implements [audio.Output].
func (o *Output) Clock() int64 { return o.tl.Clock() }

// Schedule implements [audio.Output].
func (o *Output) Schedule(at int64, pcm []byte) (audio.Voice, error) {
	v, err := o.tl.Schedule(at, pcm)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.scheduled = append(o.scheduled, Scheduled{
		At:     at,
		Frames: o.tl.Format().Frames(len(pcm)),
		Voice:  v,
	})
	o.mu.Unlock()
	return v, nil
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	o.closeCount++
	o.mu.Unlock()
	o.tl.Close()
	return nil
}

// Advance renders d worth of audio, moving the clock forward, and appends
// the rendered PCM to the capture returned by [Output.Rendered].
func (o *Output) Advance(d time.Duration) {
	f := o.tl.Format()
	buf := make([]byte, int(f.DurationToFrames(d))*f.FrameSize())
	o.tl.Render(buf)
	o.mu.Lock()
	o.rendered = append(o.rendered, buf...)
	o.mu.Unlock()
}

// Rendered returns a copy of everything rendered so far.
func (o *Output) Rendered() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]byte(nil), o.rendered...)
}

// Scheduled returns a copy of every Schedule call so far.
func (o *Output) Scheduled() []Scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Scheduled(nil), o.scheduled...)
}

// Pending reports how many voices are still scheduled or playing.
func (o *Output) Pending() int { return o.tl.Pending() }

// CloseCount reports how many times Close was called.
func (o *Output) CloseCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeCount
}
