package config_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voxfill/internal/config"
	"github.com/MrWong99/voxfill/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxfill/pkg/provider/stt/mock"
	vadmock "github.com/MrWong99/voxfill/pkg/provider/vad/mock"
)

func TestRegistry_CreateRecognizer(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var (
		gotEntry  config.ProviderEntry
		gotShared config.Shared
	)
	want := &sttmock.Provider{}
	reg.RegisterRecognizer("mock", func(e config.ProviderEntry, s config.Shared) (stt.Provider, error) {
		gotEntry, gotShared = e, s
		return want, nil
	})

	p, err := reg.CreateRecognizer(config.ProviderEntry{Name: "mock", Model: "m"}, config.Shared{Language: "en-GB"})
	if err != nil {
		t.Fatalf("CreateRecognizer: %v", err)
	}
	if p != want {
		t.Error("factory result not returned")
	}
	if gotEntry.Model != "m" || gotShared.Language != "en-GB" {
		t.Errorf("factory got %+v / %+v", gotEntry, gotShared)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	_, err := config.NewRegistry().CreateRecognizer(config.ProviderEntry{Name: "nope"}, config.Shared{})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryErrorKeepsCause(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterRecognizer("deepgram", func(config.ProviderEntry, config.Shared) (stt.Provider, error) {
		return nil, stt.ErrUnavailable
	})
	_, err := reg.CreateRecognizer(config.ProviderEntry{Name: "deepgram"}, config.Shared{})
	if !stt.IsUnavailable(err) {
		t.Errorf("err = %v, want stt.ErrUnavailable", err)
	}
}

func TestRegistry_Recognizers(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, n := range []string{"whisper", "deepgram", "mock"} {
		reg.RegisterRecognizer(n, nil)
	}
	if got := reg.Recognizers(); !slices.Equal(got, []string{"deepgram", "mock", "whisper"}) {
		t.Errorf("Recognizers = %v", got)
	}
}

func TestSharedFor(t *testing.T) {
	t.Parallel()
	mode := 3
	cfg := &config.Config{Recognizer: config.RecognizerConfig{
		Language:        "fr-FR",
		SampleRate:      16000,
		NoSpeechTimeout: 4 * time.Second,
	}}
	eng := &vadmock.Engine{}

	s := config.SharedFor(cfg, eng)
	if s.VAD != nil {
		t.Error("VAD handed out without vad_mode")
	}
	if s.Language != "fr-FR" || s.SampleRate != 16000 || s.NoSpeechTimeout != 4*time.Second {
		t.Errorf("shared = %+v", s)
	}

	cfg.Audio.VADMode = &mode
	s = config.SharedFor(cfg, eng)
	if s.VAD != eng || s.VADMode != 3 {
		t.Errorf("shared VAD = %v/%d", s.VAD, s.VADMode)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"s": "x", "i": 4, "f": 2.9, "b": true}
	if config.OptString(opts, "s") != "x" || config.OptString(opts, "i") != "" || config.OptString(nil, "s") != "" {
		t.Error("OptString")
	}
	if config.OptInt(opts, "i") != 4 || config.OptInt(opts, "f") != 2 || config.OptInt(opts, "b") != 0 {
		t.Error("OptInt")
	}
	if !config.OptBool(opts, "missing", true) || config.OptBool(opts, "s", false) || config.OptBool(map[string]any{"on": false}, "on", true) {
		t.Error("OptBool")
	}
}
