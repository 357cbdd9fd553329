package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff lists the changes between two configs that can be applied
// without a restart. Everything else needs one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatcherChanged is set when aliases or phonetic settings changed and the
	// field matcher must be rebuilt.
	MatcherChanged bool

	// RestartRequired is set when a field that is only read at startup
	// changed.
	RestartRequired bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.MatcherChanged && !d.RestartRequired
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oe, ne := old.Engine, new.Engine
	if oe.PhoneticMatching != ne.PhoneticMatching ||
		oe.PhoneticThreshold != ne.PhoneticThreshold ||
		!aliasesEqual(oe.ExtraAliases, ne.ExtraAliases) {
		d.MatcherChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.MetricsPath != new.Server.MetricsPath ||
		!recognizerEqual(old.Recognizer, new.Recognizer) ||
		!audioEqual(old.Audio, new.Audio) ||
		old.Browser != new.Browser ||
		oe.SettleDelay != ne.SettleDelay ||
		oe.EventDelay != ne.EventDelay ||
		oe.AutoActivate != ne.AutoActivate {
		d.RestartRequired = true
	}
	return d
}

func aliasesEqual(a, b map[string][]string) bool {
	return maps.EqualFunc(a, b, slices.Equal[[]string])
}

func recognizerEqual(a, b RecognizerConfig) bool {
	if !entryEqual(a.Provider, b.Provider) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return a.Language == b.Language &&
		a.SampleRate == b.SampleRate &&
		a.NoSpeechRestartDelay == b.NoSpeechRestartDelay &&
		a.ErrorRestartDelay == b.ErrorRestartDelay &&
		a.NoSpeechTimeout == b.NoSpeechTimeout &&
		a.KeywordBoost == b.KeywordBoost
}

func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}

func audioEqual(a, b AudioConfig) bool {
	if a.Device != b.Device || a.FramesPerBuffer != b.FramesPerBuffer {
		return false
	}
	if (a.VADMode == nil) != (b.VADMode == nil) {
		return false
	}
	return a.VADMode == nil || *a.VADMode == *b.VADMode
}
