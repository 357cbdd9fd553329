package config_test

import (
	"testing"

	"github.com/MrWong99/voxfill/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Recognizer: config.RecognizerConfig{Provider: config.ProviderEntry{Name: "mock"}},
		Engine: config.EngineConfig{
			ExtraAliases: map[string][]string{"email": {"inbox"}},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()
	mode := 1
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   config.ConfigDiff
	}{
		{
			name:   "identical",
			mutate: func(*config.Config) {},
			want:   config.ConfigDiff{},
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			want:   config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug},
		},
		{
			name:   "alias added",
			mutate: func(c *config.Config) { c.Engine.ExtraAliases = map[string][]string{"email": {"inbox", "mailbox"}} },
			want:   config.ConfigDiff{MatcherChanged: true},
		},
		{
			name:   "phonetic toggled",
			mutate: func(c *config.Config) { c.Engine.PhoneticMatching = true },
			want:   config.ConfigDiff{MatcherChanged: true},
		},
		{
			name:   "recognizer switched",
			mutate: func(c *config.Config) { c.Recognizer.Provider.Name = "deepgram" },
			want:   config.ConfigDiff{RestartRequired: true},
		},
		{
			name: "recognizer option changed",
			mutate: func(c *config.Config) {
				c.Recognizer.Provider.Options = map[string]any{"threads": 2}
			},
			want: config.ConfigDiff{RestartRequired: true},
		},
		{
			name:   "vad enabled",
			mutate: func(c *config.Config) { c.Audio.VADMode = &mode },
			want:   config.ConfigDiff{RestartRequired: true},
		},
		{
			name:   "form selector",
			mutate: func(c *config.Config) { c.Browser.FormSelector = "#other" },
			want:   config.ConfigDiff{RestartRequired: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, updated := baseConfig(), baseConfig()
			tt.mutate(updated)
			got := config.Diff(old, updated)
			if got != tt.want {
				t.Errorf("Diff = %+v, want %+v", got, tt.want)
			}
			if got.Empty() != (tt.want == config.ConfigDiff{}) {
				t.Errorf("Empty = %v", got.Empty())
			}
		})
	}
}
