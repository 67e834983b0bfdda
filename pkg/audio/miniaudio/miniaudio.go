// Package miniaudio implements [audio.Devices] on top of miniaudio via
// github.com/gen2brain/malgo.
//
// Every opened Input and Output owns its own malgo context and device, and
// releases both on Close. Playback pulls from a [timeline.Timeline] inside
// the device callback.
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/audio/timeline"
)

// Devices opens miniaudio capture and playback devices.
type Devices struct {
	backends      []malgo.Backend
	capturePeriod uint32
	playPeriod    uint32
	logger        *slog.Logger
}

var _ audio.Devices = (*Devices)(nil)

// Option configures [Devices].
type Option func(*Devices)

// WithBackends restricts miniaudio to the listed backends, in priority order.
func WithBackends(b ...malgo.Backend) Option {
	return func(d *Devices) { d.backends = b }
}

// WithPeriods sets the device period sizes in frames. Zero keeps the default.
func WithPeriods(capture, playback uint32) Option {
	return func(d *Devices) {
		if capture > 0 {
			d.capturePeriod = capture
		}
		if playback > 0 {
			d.playPeriod = playback
		}
	}
}

// WithLogger routes miniaudio's diagnostic messages to l at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(d *Devices) { d.logger = l }
}

// New returns a miniaudio device factory.
func New(opts ...Option) *Devices {
	d := &Devices{
		capturePeriod: 480,
		playPeriod:    960,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Devices) initContext() (*malgo.AllocatedContext, error) {
	return malgo.InitContext(d.backends, malgo.ContextConfig{}, func(msg string) {
		d.logger.Debug("miniaudio", "msg", msg)
	})
}

func deviceConfig(kind malgo.DeviceType, f audio.Format, period uint32) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency
	cfg.PeriodSizeInFrames = period
	cfg.Periods = 3
	if kind == malgo.Capture {
		cfg.Capture.Format = malgo.FormatS16
		cfg.Capture.Channels = uint32(f.Channels)
	} else {
		cfg.Playback.Format = malgo.FormatS16
		cfg.Playback.Channels = uint32(f.Channels)
	}
	return cfg
}

// release tears down a device and its context, tolerating nil parts.
func release(dev *malgo.Device, mctx *malgo.AllocatedContext) {
	if dev != nil {
		if dev.IsStarted() {
			_ = dev.Stop()
		}
		dev.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
		mctx.Free()
	}
}

// ─── Input ───────────────────────────────────────────────────────────────────

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(_ context.Context, f audio.Format) (audio.Input, error) {
	mctx, err := d.initContext()
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init capture context: %w", err)
	}
	in := &input{format: f, mctx: mctx}
	frameBytes := f.FrameSize()
	dev, err := malgo.InitDevice(mctx.Context, deviceConfig(malgo.Capture, f, d.capturePeriod), malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * frameBytes
			if n == 0 || len(pInput) < n {
				return
			}
			in.deliver(pInput[:n])
		},
	})
	if err != nil {
		release(nil, mctx)
		return nil, fmt.Errorf("miniaudio: open capture device: %w", err)
	}
	in.dev = dev
	return in, nil
}

type input struct {
	format audio.Format

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	dev    *malgo.Device
	onData func([]byte)
	closed bool
}

func (in *input) Format() audio.Format { return in.format }

func (in *input) Start(onData func(pcm []byte)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return audio.ErrDeviceClosed
	}
	in.onData = onData
	if err := in.dev.Start(); err != nil {
		in.onData = nil
		return fmt.Errorf("miniaudio: start capture: %w", err)
	}
	return nil
}

func (in *input) deliver(pcm []byte) {
	in.mu.Lock()
	fn := in.onData
	in.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

func (in *input) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	in.onData = nil
	dev, mctx := in.dev, in.mctx
	in.dev, in.mctx = nil, nil
	in.mu.Unlock()

	// Uninit waits for the device thread, so it must run without in.mu held.
	release(dev, mctx)
	return nil
}

// ─── Output ──────────────────────────────────────────────────────────────────

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(_ context.Context, f audio.Format) (audio.Output, error) {
	mctx, err := d.initContext()
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init playback context: %w", err)
	}
	tl := timeline.New(f)
	frameBytes := f.FrameSize()
	dev, err := malgo.InitDevice(mctx.Context, deviceConfig(malgo.Playback, f, d.playPeriod), malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			n := min(int(frameCount)*frameBytes, len(pOutput))
			tl.Render(pOutput[:n])
		},
	})
	if err != nil {
		release(nil, mctx)
		return nil, fmt.Errorf("miniaudio: open playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		release(dev, mctx)
		return nil, fmt.Errorf("miniaudio: start playback: %w", err)
	}
	return &output{Timeline: tl, dev: dev, mctx: mctx}, nil
}

var (
	_ audio.Input  = (*input)(nil)
	_ audio.Output = (*output)(nil)
)

type output struct {
	*timeline.Timeline

	once sync.Once
	dev  *malgo.Device
	mctx *malgo.AllocatedContext
}

func (o *output) Close() error {
	o.once.Do(func() {
		o.Timeline.Close()
		release(o.dev, o.mctx)
	})
	return nil
}
