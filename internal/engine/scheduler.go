package engine

import (
	"fmt"
	"sync"

	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/live"
)

// scheduler places decoded chunks on the output timeline back to back.
//
// cursor is the frame position where the next chunk starts. It only moves
// forward while chunks arrive and is reset to the device clock on
// interruption, so a chunk never starts before the present.
type scheduler struct {
	out    audio.Output
	format audio.Format

	mu      sync.Mutex
	cursor  int64
	pending []audio.Voice
}

func newScheduler(out audio.Output) *scheduler {
	return &scheduler{out: out, format: out.Format()}
}

// reset moves the cursor to the current device time.
func (s *scheduler) reset() {
	s.mu.Lock()
	s.cursor = s.out.Clock()
	s.mu.Unlock()
}

// enqueue decodes chunk and schedules it at max(cursor, now). It returns the
// start frame. Decode failures are reported as *PlaybackDecodeError and
// leave the cursor untouched.
func (s *scheduler) enqueue(chunk live.AudioChunk) (int64, error) {
	pcm, src, err := audio.DecodeChunk(chunk.MIMEType, chunk.Data, audio.PlaybackFormat)
	if err != nil {
		return 0, &PlaybackDecodeError{MIMEType: chunk.MIMEType, Err: err}
	}
	pcm = audio.Convert(pcm, src, s.format)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.out.Clock()
	at := max(s.cursor, now)
	v, err := s.out.Schedule(at, pcm)
	if err != nil {
		return 0, fmt.Errorf("engine: schedule: %w", err)
	}
	s.cursor = at + s.format.Frames(len(pcm))
	s.prune(now)
	s.pending = append(s.pending, v)
	return at, nil
}

// interrupt silences every pending voice and moves the cursor to now.
func (s *scheduler) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.pending {
		v.Stop()
	}
	s.pending = nil
	s.cursor = s.out.Clock()
}

// position returns the cursor.
func (s *scheduler) position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// prune drops voices that finished before now. Caller holds s.mu.
func (s *scheduler) prune(now int64) {
	kept := s.pending[:0]
	for _, v := range s.pending {
		if v.End() > now {
			kept = append(kept, v)
		}
	}
	clear(s.pending[len(kept):])
	s.pending = kept
}
