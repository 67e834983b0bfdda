//go:build portaudio

package main

import (
	"log/slog"

	"github.com/MrWong99/pranaflow/internal/config"
	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/audio/portaudio"
)

func init() {
	extraRegistrations = append(extraRegistrations, func(reg *config.Registry, _ *slog.Logger) {
		reg.RegisterAudio("portaudio", func(cfg config.AudioConfig) (audio.Devices, error) {
			return portaudio.New(cfg.FrameSamples), nil
		})
	})
}
