package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/pranaflow/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian PCM.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian PCM to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "silence", samples: make([]int16, 4096), want: 0},
		{name: "full scale negative", samples: []int16{math.MinInt16, math.MinInt16}, want: 1},
		{name: "half scale", samples: []int16{16384, -16384, 16384, -16384}, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.RMS(samplesToBytes(tt.samples))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRMS_AlwaysBounded(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		n := r.IntN(5000)
		samples := make([]int16, n)
		for i := range samples {
			switch r.IntN(3) {
			case 0:
				samples[i] = math.MaxInt16
			case 1:
				samples[i] = math.MinInt16
			default:
				samples[i] = int16(r.IntN(65536) - 32768)
			}
		}
		got := audio.RMS(samplesToBytes(samples))
		if math.IsNaN(got) || got < 0 || got > 1 {
			t.Fatalf("RMS = %v outside [0,1] for %d samples", got, n)
		}
	}
}

func TestRMS_IgnoresTrailingOddByte(t *testing.T) {
	t.Parallel()
	pcm := append(samplesToBytes([]int16{16384, -16384}), 0xff)
	if got := audio.RMS(pcm); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, -200})))
	want := []int16{100, 100, -200, -200}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{32767, 32767, -32768, -32768, 100, 200})))
	want := []int16{32767, -32768, 150}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	in := samplesToBytes(make([]int16, 160))
	if got := len(audio.ResampleMono16(in, 16000, 24000)) / 2; got != 240 {
		t.Errorf("16k->24k samples = %d, want 240", got)
	}
	if got := len(audio.ResampleMono16(in, 16000, 8000)) / 2; got != 80 {
		t.Errorf("16k->8k samples = %d, want 80", got)
	}
	if got := audio.ResampleMono16(in, 16000, 16000); &got[0] != &in[0] {
		t.Error("equal rates should return the input slice")
	}

	ramp := samplesToBytes([]int16{0, 100})
	got := bytesToSamples(audio.ResampleMono16(ramp, 1, 2))
	want := []int16{0, 50, 100, 100}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("upsampled ramp = %v, want %v", got, want)
		}
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	stereo48 := samplesToBytes([]int16{10, 30, 10, 30})
	out := audio.Convert(stereo48, audio.Format{SampleRate: 48000, Channels: 2}, audio.Format{SampleRate: 24000, Channels: 1})
	got := bytesToSamples(out)
	if len(got) != 1 || got[0] != 20 {
		t.Errorf("Convert = %v, want [20]", got)
	}

	same := samplesToBytes([]int16{1, 2})
	if got := audio.Convert(same, audio.PlaybackFormat, audio.PlaybackFormat); &got[0] != &same[0] {
		t.Error("identical formats should return the input slice")
	}
}

func TestFormat_Durations(t *testing.T) {
	t.Parallel()

	f := audio.PlaybackFormat
	if got := f.Duration(24000 * 2); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
	if got := f.DurationToFrames(500 * time.Millisecond); got != 12000 {
		t.Errorf("DurationToFrames = %d, want 12000", got)
	}
	if got := f.FramesToDuration(12000); got != 500*time.Millisecond {
		t.Errorf("FramesToDuration = %v, want 500ms", got)
	}
	frame := audio.AudioFrame{Data: make([]byte, 4096*2), SampleRate: 16000, Channels: 1}
	if got := frame.Duration(); got != 256*time.Millisecond {
		t.Errorf("AudioFrame.Duration = %v, want 256ms", got)
	}
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("String = %q", got)
	}
}

func TestDecodeChunk(t *testing.T) {
	t.Parallel()

	def := audio.PlaybackFormat
	tests := []struct {
		name    string
		mime    string
		data    []byte
		want    audio.Format
		wantErr error
	}{
		{name: "default rate", mime: "audio/pcm", data: make([]byte, 4), want: def},
		{name: "explicit rate", mime: "audio/pcm;rate=16000", data: make([]byte, 4), want: audio.Format{SampleRate: 16000, Channels: 1}},
		{name: "l16 stereo", mime: "audio/L16; rate=48000; channels=2", data: make([]byte, 8), want: audio.Format{SampleRate: 48000, Channels: 2}},
		{name: "no mime", mime: "", data: make([]byte, 2), want: def},
		{name: "wrong type", mime: "audio/opus", data: make([]byte, 4), wantErr: audio.ErrUnsupportedEncoding},
		{name: "bad rate", mime: "audio/pcm;rate=fast", data: make([]byte, 4), wantErr: audio.ErrUnsupportedEncoding},
		{name: "empty", mime: "audio/pcm", data: nil, wantErr: audio.ErrEmptyChunk},
		{name: "odd length", mime: "audio/pcm", data: make([]byte, 3), wantErr: audio.ErrTruncatedSample},
		{name: "three channels", mime: "audio/pcm;channels=3", data: make([]byte, 6), wantErr: audio.ErrUnsupportedEncoding},
		{name: "zero channels", mime: "audio/pcm;channels=0", data: make([]byte, 2), wantErr: audio.ErrUnsupportedEncoding},
		{name: "partial stereo frame", mime: "audio/pcm;channels=2", data: make([]byte, 6), wantErr: audio.ErrTruncatedSample},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, got, err := audio.DecodeChunk(tt.mime, tt.data, def)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("format = %+v, want %+v", got, tt.want)
			}
		})
	}
}
