package batch

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	vadmock "github.com/MrWong99/voxfill/pkg/provider/vad/mock"
	"github.com/MrWong99/voxfill/pkg/types"
)

// 20 ms of 16 kHz mono 16-bit audio.
const chunkBytes = 640

func loudChunk() []byte {
	b := make([]byte, chunkBytes)
	for i := 0; i < chunkBytes/2; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(8000)))
	}
	return b
}

func silentChunk() []byte { return make([]byte, chunkBytes) }

// recorder is an Inferer that records every submitted utterance.
type recorder struct {
	mu    sync.Mutex
	calls [][]byte
	segs  []types.Segment
	err   error
}

func (r *recorder) infer(_ context.Context, pcm []byte, _, _ int) ([]types.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, pcm)
	return r.segs, r.err
}

func (r *recorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func waitFinal(t *testing.T, s *Session) types.Transcript {
	t.Helper()
	select {
	case tr, ok := <-s.Finals():
		if !ok {
			t.Fatalf("finals closed early, err=%v", s.Err())
		}
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for final transcript")
	}
	return types.Transcript{}
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Finals():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for session end")
		}
	}
}

func TestStart_NilInferer(t *testing.T) {
	if _, err := Start(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected error for nil inferer")
	}
}

func TestStart_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &recorder{}
	if _, err := Start(ctx, Config{}, r.infer); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSession_FlushOnSilence(t *testing.T) {
	r := &recorder{segs: []types.Segment{
		{Text: " fill ", Confidence: 0.8},
		{Text: "email", Confidence: 0.6},
	}}
	s, err := Start(context.Background(), Config{Name: "test", SilenceThresholdMs: 100, NoSpeechTimeout: -1}, r.infer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	for range 5 {
		_ = s.SendAudio(loudChunk())
	}
	for range 6 {
		_ = s.SendAudio(silentChunk())
	}

	tr := waitFinal(t, s)
	if tr.Text != "fill email" {
		t.Errorf("text = %q, want %q", tr.Text, "fill email")
	}
	if !tr.IsFinal {
		t.Error("expected IsFinal")
	}
	if len(tr.Segments) != 2 {
		t.Errorf("segments = %d, want 2", len(tr.Segments))
	}
	if tr.Confidence < 0.69 || tr.Confidence > 0.71 {
		t.Errorf("confidence = %f, want 0.7", tr.Confidence)
	}
	if r.callCount() != 1 {
		t.Errorf("inference calls = %d, want 1", r.callCount())
	}
}

func TestSession_LeadingSilenceNotSubmitted(t *testing.T) {
	r := &recorder{segs: []types.Segment{{Text: "x", Confidence: 1}}}
	s, err := Start(context.Background(), Config{NoSpeechTimeout: -1}, r.infer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range 50 {
		_ = s.SendAudio(silentChunk())
	}
	_ = s.Close()
	if r.callCount() != 0 {
		t.Errorf("inference calls = %d, want 0", r.callCount())
	}
	if s.Err() != nil {
		t.Errorf("Err = %v, want nil", s.Err())
	}
}

func TestSession_NoSpeechTimeout(t *testing.T) {
	r := &recorder{}
	s, err := Start(context.Background(), Config{NoSpeechTimeout: 100 * time.Millisecond}, r.infer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	for range 10 {
		if err := s.SendAudio(silentChunk()); err != nil {
			break
		}
	}
	waitClosed(t, s)
	if !errors.Is(s.Err(), stt.ErrNoSpeech) {
		t.Errorf("Err = %v, want ErrNoSpeech", s.Err())
	}
	if err := s.SendAudio(silentChunk()); err == nil {
		t.Error("expected SendAudio on ended session to fail")
	}
}

func TestSession_InferenceErrorEndsSession(t *testing.T) {
	boom := errors.New("boom")
	r := &recorder{err: boom}
	s, err := Start(context.Background(), Config{Name: "test", SilenceThresholdMs: 40, NoSpeechTimeout: -1}, r.infer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	_ = s.SendAudio(loudChunk())
	_ = s.SendAudio(silentChunk())
	_ = s.SendAudio(silentChunk())

	waitClosed(t, s)
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err = %v, want wrapped boom", s.Err())
	}
}

func TestSession_EmptyResultEmitsNothing(t *testing.T) {
	r := &recorder{segs: []types.Segment{{Text: "  ", Confidence: 0.9}}}
	s, err := Start(context.Background(), Config{SilenceThresholdMs: 40, NoSpeechTimeout: -1}, r.infer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = s.SendAudio(loudChunk())
	_ = s.SendAudio(silentChunk())
	_ = s.SendAudio(silentChunk())
	_ = s.Close()

	for tr := range s.Finals() {
		t.Errorf("unexpected final %+v", tr)
	}
}

func TestSession_CloseFlushesPendingSpeech(t *testing.T) {
	r := &recorder{segs: []types.Segment{{Text: "submit", Confidence: 0.9}}}
	s, err := Start(context.Background(), Config{NoSpeechTimeout: -1}, r.infer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = s.SendAudio(loudChunk())
	_ = s.SendAudio(loudChunk())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	var got []string
	for tr := range s.Finals() {
		got = append(got, tr.Text)
	}
	if len(got) != 1 || got[0] != "submit" {
		t.Errorf("finals = %v, want [submit]", got)
	}
}

func TestSession_MaxBufferForcesFlush(t *testing.T) {
	r := &recorder{segs: []types.Segment{{Text: "long", Confidence: 0.9}}}
	s, err := Start(context.Background(), Config{MaxBufferDurationMs: 100, NoSpeechTimeout: -1}, r.infer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	for range 5 {
		_ = s.SendAudio(loudChunk())
	}
	tr := waitFinal(t, s)
	if tr.Text != "long" {
		t.Errorf("text = %q, want %q", tr.Text, "long")
	}
}

func TestSession_UsesVADEngine(t *testing.T) {
	vs := &vadmock.Session{
		Events: []types.VADEvent{
			{Type: types.VADSpeechStart},
			{Type: types.VADSpeechContinue},
		},
		EventResult: types.VADEvent{Type: types.VADSilence},
	}
	eng := &vadmock.Engine{Session: vs}
	r := &recorder{segs: []types.Segment{{Text: "next", Confidence: 0.9}}}

	s, err := Start(context.Background(), Config{
		VAD:                eng,
		VADAggressiveness:  2,
		SilenceThresholdMs: 40,
		NoSpeechTimeout:    -1,
	}, r.infer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Silent-energy chunks: only the VAD decides what counts as speech.
	for range 4 {
		_ = s.SendAudio(silentChunk())
	}
	tr := waitFinal(t, s)
	_ = s.Close()

	if tr.Text != "next" {
		t.Errorf("text = %q, want %q", tr.Text, "next")
	}
	if len(eng.NewSessionCalls) != 1 || eng.NewSessionCalls[0].Aggressiveness != 2 {
		t.Errorf("unexpected vad configs %+v", eng.NewSessionCalls)
	}
	if vs.CloseCallCount != 1 {
		t.Errorf("vad close calls = %d, want 1", vs.CloseCallCount)
	}
}

func TestSession_VADErrorEndsSession(t *testing.T) {
	boom := errors.New("vad broke")
	eng := &vadmock.Engine{Session: &vadmock.Session{ProcessFrameErr: boom}}
	r := &recorder{}
	s, err := Start(context.Background(), Config{VAD: eng}, r.infer)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	_ = s.SendAudio(silentChunk())
	waitClosed(t, s)
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err = %v, want wrapped vad error", s.Err())
	}
}

func TestSetKeywords_NotSupported(t *testing.T) {
	r := &recorder{}
	s, _ := Start(context.Background(), Config{}, r.infer)
	defer s.Close()
	if err := s.SetKeywords(nil); !errors.Is(err, stt.ErrNotSupported) {
		t.Errorf("SetKeywords err = %v, want ErrNotSupported", err)
	}
}

func TestComputeRMS(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"single byte", []byte{1}, 0},
		{"silence", make([]byte, 8), 0},
		{"constant", loudChunk()[:8], 8000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeRMS(tt.pcm); got != tt.want {
				t.Errorf("computeRMS = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	pcm := make([]byte, 100)
	wav := EncodeWAV(pcm, 16000, 1)
	if len(wav) != 144 {
		t.Fatalf("len = %d, want 144", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("missing RIFF/WAVE/data markers")
	}
	if sr := binary.LittleEndian.Uint32(wav[24:28]); sr != 16000 {
		t.Errorf("sample rate = %d, want 16000", sr)
	}
	if n := binary.LittleEndian.Uint32(wav[40:44]); n != 100 {
		t.Errorf("data size = %d, want 100", n)
	}
}

func TestPCMToFloat32Mono(t *testing.T) {
	stereo := make([]byte, 8)
	binary.LittleEndian.PutUint16(stereo[0:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(stereo[2:], uint16(int16(-16384)))
	binary.LittleEndian.PutUint16(stereo[4:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(stereo[6:], uint16(int16(16384)))

	got := PCMToFloat32Mono(stereo, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != 0 || got[1] != 0.5 {
		t.Errorf("samples = %v, want [0 0.5]", got)
	}
}

func TestConfidenceFromLogProb(t *testing.T) {
	if c := ConfidenceFromLogProb(0); c != 1 {
		t.Errorf("logprob 0 -> %f, want 1", c)
	}
	if c := ConfidenceFromLogProb(-100); c > 0.001 {
		t.Errorf("logprob -100 -> %f, want ~0", c)
	}
	if c := ConfidenceFromLogProb(5); c != 1 {
		t.Errorf("positive logprob should clamp to 1, got %f", c)
	}
}
