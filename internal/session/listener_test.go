package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxfill/pkg/audio"
	audiomock "github.com/MrWong99/voxfill/pkg/audio/mock"
	"github.com/MrWong99/voxfill/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxfill/pkg/provider/stt/mock"
	"github.com/MrWong99/voxfill/pkg/types"
)

type harness struct {
	listener *Listener
	results  chan string

	mu          sync.Mutex
	unavailable []error

	runErr chan error
}

func newHarness(t *testing.T, src audio.Source, rec stt.Provider) *harness {
	t.Helper()
	h := &harness{results: make(chan string, 16), runErr: make(chan error, 1)}
	l, err := NewListener(ListenerConfig{
		Source:     src,
		Recognizer: rec,
		Stream:     stt.StreamConfig{Language: "en", Interim: true, Channels: 2},
		OnResult: func(_ context.Context, tr types.Transcript) {
			h.results <- tr.Text
		},
		OnUnavailable: func(err error) {
			h.mu.Lock()
			h.unavailable = append(h.unavailable, err)
			h.mu.Unlock()
		},
		NoSpeechRestartDelay: time.Millisecond,
		ErrorRestartDelay:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	h.listener = l
	return h
}

func (h *harness) start(ctx context.Context) {
	go func() { h.runErr <- h.listener.Run(ctx) }()
}

func (h *harness) next(t *testing.T) string {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a result")
		return ""
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewListener_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewListener(ListenerConfig{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestListener_DeliversFinalsInOrder(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession("focus email", "alice")
	rec := &sttmock.Provider{Session: sess}
	src := &audiomock.Source{Hold: true}
	h := newHarness(t, src, rec)

	h.start(context.Background())
	if got := h.next(t); got != "focus email" {
		t.Errorf("first result = %q", got)
	}
	if got := h.next(t); got != "alice" {
		t.Errorf("second result = %q", got)
	}

	h.listener.Stop()
	if err := h.wait(t); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
	if sess.CloseCount() == 0 {
		t.Error("recognizer was not closed on Stop")
	}
	if h.listener.Running() {
		t.Error("listener still running after Stop")
	}
	for _, st := range src.Streams() {
		if st.CloseCount() == 0 {
			t.Error("audio stream was not closed")
		}
	}
}

func TestListener_ForcesStreamConfig(t *testing.T) {
	t.Parallel()
	rec := &sttmock.Provider{Session: sttmock.NewSession()}
	h := newHarness(t, &audiomock.Source{Hold: true}, rec)

	h.start(context.Background())
	waitFor(t, func() bool { return rec.CallCount() > 0 })
	h.listener.Stop()
	_ = h.wait(t)

	cfg := rec.StartStreamCalls[0].Cfg
	if cfg.Interim {
		t.Error("Interim = true, want false")
	}
	if cfg.Channels != 1 {
		t.Errorf("Channels = %d, want 1", cfg.Channels)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.SampleRate)
	}
	if cfg.Language != "en" {
		t.Errorf("Language = %q, want en", cfg.Language)
	}
}

func TestListener_PumpsAudio(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	rec := &sttmock.Provider{Session: sess}
	src := &audiomock.Source{
		Hold: true,
		Frames: []types.AudioFrame{
			{Data: make([]byte, 640), SampleRate: 16000, Channels: 1},
			{Data: make([]byte, 640), SampleRate: 16000, Channels: 1},
		},
	}
	h := newHarness(t, src, rec)

	h.start(context.Background())
	waitFor(t, func() bool { return sess.SendAudioCallCount() == 2 })
	h.listener.Stop()
	_ = h.wait(t)
}

func TestListener_RestartsAfterSessionEnd(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
	}{
		{"no speech", stt.ErrNoSpeech},
		{"runtime error", errors.New("network reset")},
		{"ended without reason", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			first := sttmock.NewSession("name")
			first.End(tt.err)
			second := sttmock.NewSession("bob")
			rec := &sttmock.Provider{Sessions: []stt.SessionHandle{first, second}}
			src := &audiomock.Source{Hold: true}
			h := newHarness(t, src, rec)

			h.start(context.Background())
			if got := h.next(t); got != "name" {
				t.Errorf("first result = %q", got)
			}
			if got := h.next(t); got != "bob" {
				t.Errorf("result after restart = %q", got)
			}
			if rec.CallCount() < 2 {
				t.Errorf("StartStream calls = %d, want >= 2", rec.CallCount())
			}
			if src.OpenCallCount < 2 {
				t.Errorf("audio opened %d times, want >= 2", src.OpenCallCount)
			}

			h.listener.Stop()
			if err := h.wait(t); err != nil {
				t.Errorf("Run = %v, want nil", err)
			}
		})
	}
}

func TestListener_StopsWhenUnavailable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  *audiomock.Source
		rec  *sttmock.Provider
	}{
		{
			name: "no credentials",
			src:  &audiomock.Source{Hold: true},
			rec:  &sttmock.Provider{StartStreamErr: fmt.Errorf("deepgram: %w", stt.ErrUnavailable)},
		},
		{
			name: "no device",
			src:  &audiomock.Source{OpenErr: fmt.Errorf("portaudio: %w", audio.ErrNoDevice)},
			rec:  &sttmock.Provider{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tt.src, tt.rec)
			err := h.listener.Run(context.Background())
			if err == nil {
				t.Fatal("Run returned nil, want unavailable error")
			}
			h.mu.Lock()
			n := len(h.unavailable)
			h.mu.Unlock()
			if n != 1 {
				t.Errorf("OnUnavailable called %d times, want 1", n)
			}
			if h.listener.Running() {
				t.Error("listener still running")
			}
		})
	}
}

func TestListener_ContextCancelStops(t *testing.T) {
	t.Parallel()
	rec := &sttmock.Provider{Session: sttmock.NewSession()}
	h := newHarness(t, &audiomock.Source{Hold: true}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)
	waitFor(t, func() bool { return rec.CallCount() > 0 })
	cancel()
	if err := h.wait(t); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestListener_RunTwice(t *testing.T) {
	t.Parallel()
	rec := &sttmock.Provider{Session: sttmock.NewSession()}
	h := newHarness(t, &audiomock.Source{Hold: true}, rec)

	h.start(context.Background())
	waitFor(t, h.listener.Running)
	if err := h.listener.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Run = %v, want ErrRunning", err)
	}
	h.listener.Stop()
	_ = h.wait(t)
}

func TestListener_StopWhenStopped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &audiomock.Source{}, &sttmock.Provider{})
	h.listener.Stop()
}
