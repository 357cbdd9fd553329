package webrtc

import (
	"testing"

	"github.com/MrWong99/voxfill/pkg/provider/vad"
	"github.com/MrWong99/voxfill/pkg/types"
)

func TestNewSession_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"bad rate", vad.Config{SampleRate: 44100}},
		{"bad frame", vad.Config{SampleRate: 16000, FrameSizeMs: 25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New().NewSession(tt.cfg); err == nil {
				t.Errorf("NewSession(%+v): expected error", tt.cfg)
			}
		})
	}
}

func TestProcessFrame_SilenceStaysSilent(t *testing.T) {
	t.Parallel()

	s, err := New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 20})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	// 100ms of digital silence.
	ev, err := s.ProcessFrame(make([]byte, 3200))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != types.VADSilence {
		t.Errorf("expected VADSilence, got %v", ev.Type)
	}
}

func TestProcessFrame_BuffersPartialFrames(t *testing.T) {
	t.Parallel()

	s, err := New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 20})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	// 10ms is shorter than one 20ms frame: nothing is decided yet.
	if _, err := s.ProcessFrame(make([]byte, 320)); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if got := len(s.(*session).pending); got != 320 {
		t.Errorf("expected 320 pending bytes, got %d", got)
	}
	if _, err := s.ProcessFrame(make([]byte, 320)); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if got := len(s.(*session).pending); got != 0 {
		t.Errorf("expected pending to drain, got %d", got)
	}
}

func TestProcessFrame_AfterClose(t *testing.T) {
	t.Parallel()

	s, err := New().NewSession(vad.Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	_ = s.Close()
	if _, err := s.ProcessFrame(make([]byte, 640)); err == nil {
		t.Error("expected error after Close")
	}
}
