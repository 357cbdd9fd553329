package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by [Registry.CreateRecognizer] when
// no factory is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Shared carries the settings every recognizer factory receives alongside
// its own [ProviderEntry].
type Shared struct {
	Language        string
	SampleRate      int
	NoSpeechTimeout time.Duration

	// VAD is nil when energy-based speech detection should be used.
	VAD     vad.Engine
	VADMode int
}

// RecognizerFactory builds a recognizer from its configuration.
type RecognizerFactory func(entry ProviderEntry, shared Shared) (stt.Provider, error)

// Registry maps recognizer names to factories. It is safe for concurrent
// use.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]RecognizerFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{recognizers: make(map[string]RecognizerFactory)}
}

// RegisterRecognizer registers factory under name, replacing any previous
// registration.
func (r *Registry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// Recognizers returns the registered names, sorted.
func (r *Registry) Recognizers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recognizers))
	for n := range r.recognizers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// CreateRecognizer builds the recognizer registered under entry.Name.
func (r *Registry) CreateRecognizer(entry ProviderEntry, shared Shared) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer %q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry, shared)
	if err != nil {
		return nil, fmt.Errorf("config: create recognizer %q: %w", entry.Name, err)
	}
	return p, nil
}

// SharedFor derives the factory settings from cfg. v is the VAD engine to
// hand out when cfg enables one.
func SharedFor(cfg *Config, v vad.Engine) Shared {
	s := Shared{
		Language:        cfg.Recognizer.Language,
		SampleRate:      cfg.Recognizer.SampleRate,
		NoSpeechTimeout: cfg.Recognizer.NoSpeechTimeout,
	}
	if cfg.Audio.VADMode != nil && v != nil {
		s.VAD = v
		s.VADMode = *cfg.Audio.VADMode
	}
	return s
}

// OptString returns opts[key] when it is a string, else "".
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt returns opts[key] when it is an integer, else 0. YAML numbers decode
// as int; floats are truncated.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// OptBool returns opts[key] when it is a bool, else def.
func OptBool(opts map[string]any, key string, def bool) bool {
	if b, ok := opts[key].(bool); ok {
		return b
	}
	return def
}
