package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownRecognizers lists the recognizer names the voxfill binary registers.
// [Validate] warns about any other name.
var KnownRecognizers = []string{"deepgram", "whisper", "whisper-native", "openai", "mock"}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, rejecting unknown keys, then applies
// defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	r := &cfg.Recognizer
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.SampleRate == 0 {
		r.SampleRate = DefaultSampleRate
	}
	if r.NoSpeechRestartDelay == 0 {
		r.NoSpeechRestartDelay = DefaultNoSpeechRestartDelay
	}
	if r.ErrorRestartDelay == 0 {
		r.ErrorRestartDelay = DefaultErrorRestartDelay
	}
	if cfg.Browser.FormSelector == "" {
		cfg.Browser.FormSelector = DefaultFormSelector
	}
	if cfg.Browser.ActivationEvent == "" {
		cfg.Browser.ActivationEvent = DefaultActivationEvent
	}
	if cfg.Engine.SettleDelay == 0 {
		cfg.Engine.SettleDelay = DefaultSettleDelay
	}
	if cfg.Engine.EventDelay == 0 {
		cfg.Engine.EventDelay = DefaultEventDelay
	}
}

// Validate checks cfg for coherence and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if p := cfg.Server.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("server.metrics_path %q must start with /", p))
	}

	r := cfg.Recognizer
	if r.Provider.Name == "" {
		errs = append(errs, errors.New("recognizer.provider.name is required"))
	}
	seen := map[string]string{}
	entries := append([]ProviderEntry{r.Provider}, r.Fallbacks...)
	for i, e := range entries {
		field := "recognizer.provider"
		if i > 0 {
			field = fmt.Sprintf("recognizer.fallbacks[%d]", i-1)
		}
		if e.Name == "" {
			if i > 0 {
				errs = append(errs, fmt.Errorf("%s.name is required", field))
			}
			continue
		}
		warnUnknownRecognizer(field, e.Name)
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates %s", field, e.Name, prev))
		}
		seen[e.Name] = field
	}
	if r.SampleRate < 8000 || r.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("recognizer.sample_rate %d is out of range [8000, 48000]", r.SampleRate))
	}
	if r.NoSpeechRestartDelay < 0 {
		errs = append(errs, errors.New("recognizer.no_speech_restart_delay must not be negative"))
	}
	if r.ErrorRestartDelay < 0 {
		errs = append(errs, errors.New("recognizer.error_restart_delay must not be negative"))
	}
	if r.NoSpeechTimeout < 0 {
		errs = append(errs, errors.New("recognizer.no_speech_timeout must not be negative"))
	}
	if r.KeywordBoost < 0 {
		errs = append(errs, errors.New("recognizer.keyword_boost must not be negative"))
	}

	if m := cfg.Audio.VADMode; m != nil && (*m < 0 || *m > 3) {
		errs = append(errs, fmt.Errorf("audio.vad_mode %d is out of range [0, 3]", *m))
	}
	if cfg.Audio.FramesPerBuffer < 0 {
		errs = append(errs, errors.New("audio.frames_per_buffer must not be negative"))
	}

	if cfg.Browser.DebuggerURL != "" && cfg.Browser.Bin != "" {
		slog.Warn("config: browser.bin is ignored when browser.debugger_url is set")
	}

	if cfg.Engine.EventDelay < 0 {
		errs = append(errs, errors.New("engine.event_delay must not be negative"))
	}
	if t := cfg.Engine.PhoneticThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("engine.phonetic_threshold %.2f is out of range [0, 1]", t))
	}
	for concept, aliases := range cfg.Engine.ExtraAliases {
		if strings.TrimSpace(concept) == "" {
			errs = append(errs, errors.New("engine.extra_aliases has an empty concept name"))
		}
		if slices.ContainsFunc(aliases, func(a string) bool { return strings.TrimSpace(a) == "" }) {
			errs = append(errs, fmt.Errorf("engine.extra_aliases[%q] contains an empty alias", concept))
		}
	}

	return errors.Join(errs...)
}

func warnUnknownRecognizer(field, name string) {
	if slices.Contains(KnownRecognizers, name) {
		return
	}
	slog.Warn("config: unknown recognizer name, may be a typo or a third-party registration",
		"field", field,
		"name", name,
		"known", KnownRecognizers,
	)
}
