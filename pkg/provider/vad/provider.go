// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g., WebRTC VAD) and
// surfaces it as a stateful, per-stream session. Batch recognizers use it to
// decide where an utterance ends and whether anybody is speaking at all.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, making it suitable for low-latency pipeline stages that gate STT input.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines.
package vad

import "github.com/MrWong99/voxfill/pkg/types"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds (10, 20
	// or 30 for WebRTC VAD). Frames of any other length are split or rejected
	// by the engine.
	FrameSizeMs int

	// Aggressiveness selects how eagerly non-speech is filtered out, 0 (least)
	// to 3 (most). Engines without such a knob ignore it.
	Aggressiveness int
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses a chunk of raw little-endian 16-bit PCM and returns
	// the detection result for it.
	ProcessFrame(frame []byte) (types.VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
