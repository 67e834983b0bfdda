// Package timeline renders scheduled PCM voices onto a sample-accurate
// playback clock. Device backends pull fixed-size buffers from a [Timeline]
// inside their audio callback; the session engine pushes decoded chunks into
// it at absolute frame positions.
//
// Overlapping voices are summed with saturation. Stopping a voice takes
// effect at the next rendered buffer.
package timeline

import (
	"container/heap"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/pranaflow/pkg/audio"
)

// Timeline mixes scheduled voices into device buffers. It is safe for
// concurrent use: Render is typically called from a device thread while
// Schedule and Stop are called from the session goroutines.
type Timeline struct {
	format audio.Format

	mu      sync.Mutex
	pos     int64 // frames rendered so far
	seq     uint64
	pending voiceHeap // not yet reached by the render position
	active  []*voice  // currently audible
	mix     []int32   // scratch accumulator reused across Render calls
	closed  bool
}

// New creates an empty timeline for PCM in format f.
func New(f audio.Format) *Timeline {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	t := &Timeline{format: f}
	heap.Init(&t.pending)
	return t
}

// Format returns the PCM layout accepted by Schedule and produced by Render.
func (t *Timeline) Format() audio.Format { return t.format }

// Clock returns the number of frames rendered so far.
func (t *Timeline) Clock() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// Schedule queues pcm to start at frame position at.
func (t *Timeline) Schedule(at int64, pcm []byte) (audio.Voice, error) {
	fs := t.format.FrameSize()
	if len(pcm) == 0 || len(pcm)%fs != 0 {
		return nil, fmt.Errorf("timeline: schedule: %d bytes is not a whole number of %s frames", len(pcm), t.format)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, audio.ErrDeviceClosed
	}
	t.seq++
	v := &voice{
		t:      t,
		start:  at,
		pcm:    pcm,
		frames: int64(len(pcm) / fs),
		seq:    t.seq,
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Pending reports how many voices are scheduled or playing.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.active {
		if !v.stopped {
			n++
		}
	}
	for _, v := range t.pending {
		if !v.stopped {
			n++
		}
	}
	return n
}

// Clear stops every scheduled and playing voice.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

func (t *Timeline) clearLocked() {
	for _, v := range t.pending {
		v.stopped = true
	}
	for _, v := range t.active {
		v.stopped = true
	}
	t.pending = t.pending[:0]
	t.active = t.active[:0]
}

// Close clears the timeline and rejects further scheduling. Render keeps
// producing silence so a device callback racing with Close stays safe.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.clearLocked()
}

// Render fills out with the mix of every voice audible in the next
// len(out)/FrameSize frames and advances the clock by that amount.
func (t *Timeline) Render(out []byte) {
	ch := t.format.Channels
	n := int64(len(out) / t.format.FrameSize())

	t.mu.Lock()
	defer t.mu.Unlock()

	if cap(t.mix) < int(n)*ch {
		t.mix = make([]int32, int(n)*ch)
	}
	mix := t.mix[:int(n)*ch]
	clear(mix)

	end := t.pos + n
	for t.pending.Len() > 0 && t.pending[0].start < end {
		v := heap.Pop(&t.pending).(*voice)
		if v.stopped {
			continue
		}
		if v.start < t.pos {
			v.start = t.pos
		}
		t.active = append(t.active, v)
	}

	kept := t.active[:0]
	for _, v := range t.active {
		if v.stopped {
			continue
		}
		at := max(v.start, t.pos) - t.pos
		count := min(n-at, v.frames-v.off)
		for i := range count * int64(ch) {
			mix[at*int64(ch)+i] += int32(sampleAt(v.pcm, v.off*int64(ch)+i))
		}
		v.off += count
		if v.off < v.frames {
			kept = append(kept, v)
		}
	}
	clear(t.active[len(kept):])
	t.active = kept

	for i, s := range mix {
		putSample(out, i, saturate(s))
	}
	// Trailing bytes that do not form a whole frame are silenced.
	clear(out[len(mix)*audio.BytesPerSample:])
	t.pos = end
}

func sampleAt(pcm []byte, i int64) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

func putSample(out []byte, i int, v int16) {
	out[2*i] = byte(v)
	out[2*i+1] = byte(uint16(v) >> 8)
}

func saturate(v int32) int16 {
	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}

// voice is one scheduled unit. All mutable fields are guarded by t.mu.
type voice struct {
	t       *Timeline
	start   int64
	pcm     []byte
	frames  int64
	off     int64 // frames already rendered
	seq     uint64
	stopped bool
}

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	v.t.mu.Lock()
	defer v.t.mu.Unlock()
	v.stopped = true
}

// End implements [audio.Voice].
func (v *voice) End() int64 {
	v.t.mu.Lock()
	defer v.t.mu.Unlock()
	return v.start + v.frames
}
