package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/pranaflow/internal/journal"
	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LiveFactory builds a live dialer from its config entry.
type LiveFactory func(ProviderEntry) (live.Dialer, error)

// AudioFactory builds a device backend from the audio config.
type AudioFactory func(AudioConfig) (audio.Devices, error)

// JournalFactory opens a journal store from the journal config.
type JournalFactory func(context.Context, JournalConfig) (journal.Store, error)

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	live    map[string]LiveFactory
	audio   map[string]AudioFactory
	journal map[JournalDriver]JournalFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:    make(map[string]LiveFactory),
		audio:   make(map[string]AudioFactory),
		journal: make(map[JournalDriver]JournalFactory),
	}
}

// RegisterLive registers a live dialer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory LiveFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterJournal registers a journal store factory for driver.
func (r *Registry) RegisterJournal(driver JournalDriver, factory JournalFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal[driver] = factory
}

// CreateLive instantiates a live dialer using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates the audio backend named by cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Devices, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateJournal opens the journal store selected by cfg.Driver.
func (r *Registry) CreateJournal(ctx context.Context, cfg JournalConfig) (journal.Store, error) {
	r.mu.RLock()
	factory, ok := r.journal[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: journal/%q", ErrProviderNotRegistered, cfg.Driver)
	}
	return factory(ctx, cfg)
}

// LiveNames returns the registered live provider names, sorted.
func (r *Registry) LiveNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.live))
	for n := range r.live {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
