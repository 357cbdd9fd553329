// Package webrtc implements vad.Engine on top of the WebRTC voice activity
// detector (github.com/maxhawkins/go-webrtcvad).
//
// WebRTC VAD only accepts frames of exactly 10, 20 or 30 ms. ProcessFrame
// accepts arbitrary chunk sizes: it carries a remainder between calls, runs
// the detector on every complete frame, and reports speech if any frame in the
// chunk was voiced.
package webrtc

import (
	"fmt"
	"slices"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/voxfill/pkg/provider/vad"
	"github.com/MrWong99/voxfill/pkg/types"
)

const defaultFrameSizeMs = 20

var validRates = []int{8000, 16000, 32000, 48000}

// Engine creates WebRTC VAD sessions.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

var _ vad.Engine = (*Engine)(nil)

// NewSession validates cfg and allocates a detector.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if !slices.Contains(validRates, cfg.SampleRate) {
		return nil, fmt.Errorf("webrtc vad: invalid sample rate %d, must be one of %v", cfg.SampleRate, validRates)
	}
	frameMs := cfg.FrameSizeMs
	if frameMs == 0 {
		frameMs = defaultFrameSizeMs
	}
	if frameMs != 10 && frameMs != 20 && frameMs != 30 {
		return nil, fmt.Errorf("webrtc vad: invalid frame size %dms, must be 10, 20 or 30", frameMs)
	}
	mode := min(max(cfg.Aggressiveness, 0), 3)

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", mode, err)
	}

	frameBytes := cfg.SampleRate / 1000 * frameMs * 2
	if !webrtcvad.ValidRateAndFrameLength(cfg.SampleRate, frameBytes/2) {
		return nil, fmt.Errorf("webrtc vad: rate %d with %dms frames is not supported", cfg.SampleRate, frameMs)
	}

	return &session{
		vad:        v,
		sampleRate: cfg.SampleRate,
		frameBytes: frameBytes,
	}, nil
}

// session is a single detector instance. The speaking flag tracks whether the
// previous chunk was voiced, so start/continue/end transitions can be reported.
type session struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	sampleRate int
	frameBytes int
	pending    []byte
	speaking   bool
	closed     bool
}

// ProcessFrame runs the detector over every complete frame in chunk.
func (s *session) ProcessFrame(chunk []byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.VADEvent{}, fmt.Errorf("webrtc vad: session closed")
	}

	buf := append(s.pending, chunk...)
	voiced := false
	frames := 0
	for len(buf) >= s.frameBytes {
		active, err := s.vad.Process(s.sampleRate, buf[:s.frameBytes])
		if err != nil {
			return types.VADEvent{}, fmt.Errorf("webrtc vad: process: %w", err)
		}
		voiced = voiced || active
		buf = buf[s.frameBytes:]
		frames++
	}
	s.pending = append(s.pending[:0], buf...)

	if frames == 0 {
		// Not enough audio to decide; repeat the previous state.
		return s.event(s.speaking), nil
	}
	return s.transition(voiced), nil
}

func (s *session) transition(voiced bool) types.VADEvent {
	was := s.speaking
	s.speaking = voiced
	switch {
	case voiced && !was:
		return types.VADEvent{Type: types.VADSpeechStart, Probability: 1}
	case voiced:
		return types.VADEvent{Type: types.VADSpeechContinue, Probability: 1}
	case was:
		return types.VADEvent{Type: types.VADSpeechEnd}
	default:
		return types.VADEvent{Type: types.VADSilence}
	}
}

func (s *session) event(speaking bool) types.VADEvent {
	if speaking {
		return types.VADEvent{Type: types.VADSpeechContinue, Probability: 1}
	}
	return types.VADEvent{Type: types.VADSilence}
}

// Reset drops any buffered partial frame and the speaking state.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	s.speaking = false
}

// Close marks the session closed. The detector has no native resources to free.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
