// Package config provides the configuration schema, loader, hot-reload
// watcher and recognizer registry for voxfill.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr           = ":8080"
	DefaultLanguage             = "en-US"
	DefaultSampleRate           = 16000
	DefaultNoSpeechRestartDelay = 300 * time.Millisecond
	DefaultErrorRestartDelay    = time.Second
	DefaultSettleDelay          = 150 * time.Millisecond
	DefaultEventDelay           = 10 * time.Millisecond
	DefaultActivationEvent      = "voxfill:activate"
	DefaultFormSelector         = "form"
)

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Audio      AudioConfig      `yaml:"audio"`
	Browser    BrowserConfig    `yaml:"browser"`
	Engine     EngineConfig     `yaml:"engine"`
}

// ServerConfig holds the HTTP control surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control surface. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// MetricsPath exposes Prometheus metrics when non-empty (e.g. "/metrics").
	MetricsPath string `yaml:"metrics_path"`
}

// RecognizerConfig selects the speech recognizer and the listen loop timing.
type RecognizerConfig struct {
	// Provider is the preferred recognizer.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when Provider fails to start a stream.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Language is the fixed BCP-47 recognition language. Default "en-US".
	Language string `yaml:"language"`

	// SampleRate of the audio sent to the recognizer. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	NoSpeechRestartDelay time.Duration `yaml:"no_speech_restart_delay"`
	ErrorRestartDelay    time.Duration `yaml:"error_restart_delay"`

	// NoSpeechTimeout ends a recognizer session that heard nothing. Zero
	// keeps each provider's default.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// KeywordBoost biases recognition towards field vocabulary on providers
	// that support it. Zero disables keyword hints.
	KeywordBoost float64 `yaml:"keyword_boost"`
}

// ProviderEntry configures one recognizer. Name selects the constructor in
// the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Model is a model name, or a model file path for whisper-native.
	Model string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// AudioConfig selects the capture device.
type AudioConfig struct {
	// Device is the input device name; empty uses the system default.
	Device          string `yaml:"device"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`

	// VADMode enables WebRTC voice activity detection for batch recognizers
	// when set (0-3, higher is more aggressive). Nil uses energy detection.
	VADMode *int `yaml:"vad_mode"`
}

// BrowserConfig locates the live UI tree.
type BrowserConfig struct {
	// DebuggerURL attaches to a running browser's DevTools endpoint. When
	// empty a browser is launched.
	DebuggerURL string `yaml:"debugger_url"`

	// Bin is the browser binary used when launching. Empty lets the launcher
	// find or download one.
	Bin string `yaml:"bin"`

	Headless bool `yaml:"headless"`

	// URL is opened on connect. Empty attaches to the first open page.
	URL string `yaml:"url"`

	// FormSelector scopes the field scan. Default "form".
	FormSelector string `yaml:"form_selector"`

	// ActivationEvent is the DOM event that starts form automation.
	ActivationEvent string `yaml:"activation_event"`
}

// EngineConfig tunes the form engine.
type EngineConfig struct {
	// SettleDelay waits for the page to render before the first field is
	// focused. Negative disables the wait.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// EventDelay separates the simulated input, change and blur events.
	EventDelay time.Duration `yaml:"event_delay"`

	// PhoneticMatching enables the phonetic fallback in field matching.
	PhoneticMatching bool `yaml:"phonetic_matching"`

	// PhoneticThreshold is the minimum similarity in (0, 1]. Zero uses the
	// matcher's default.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// ExtraAliases adds spoken synonyms per concept.
	ExtraAliases map[string][]string `yaml:"extra_aliases"`

	// AutoActivate starts automation as soon as the browser is connected.
	AutoActivate bool `yaml:"auto_activate"`
}
