// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram, OpenAI, or a
// local whisper.cpp server) and exposes a uniform streaming interface. The
// central abstraction is SessionHandle: once opened, a session accepts raw PCM
// audio frames and emits Transcript values. Each session corresponds to one
// "listening" period of a recognizer: it runs until it is closed or ends on
// its own, after which Err reports why it ended.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/voxfill/pkg/types"
)

// Recognizer lifecycle error codes. A session that ends on its own reports one
// of these (possibly wrapped) through [SessionHandle.Err]; any other non-nil
// error is a runtime fault.
var (
	// ErrNoSpeech is reported when the session heard no speech for the
	// provider's no-speech window.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrUnavailable is reported when the recognition capability itself is
	// missing (no microphone, no credentials, missing model). Retrying does
	// not help.
	ErrUnavailable = errors.New("stt: recognition unavailable")

	// ErrAborted is reported when the session was torn down by the provider
	// without a more specific reason.
	ErrAborted = errors.New("stt: session aborted")

	// ErrNotSupported is returned by optional operations such as SetKeywords.
	ErrNotSupported = errors.New("stt: operation not supported")
)

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider supports;
// see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most STT
	// providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Interim enables low-latency partial transcripts. The form engine always
	// runs with Interim disabled and only consumes finals.
	Interim bool

	// Keywords is a list of vocabulary hints that increase recognition probability
	// for uncommon words such as field labels.
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values. It is closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values. It is closed when the session ends.
	Finals() <-chan types.Transcript

	// SetKeywords replaces the active keyword boost list without restarting the
	// session. Providers that do not support mid-session keyword updates return
	// an error wrapping ErrNotSupported.
	SetKeywords(keywords []types.KeywordBoost) error

	// Err returns the reason the session ended. It is only meaningful after the
	// Finals channel has been closed. A nil result means the session was closed
	// by the caller.
	Err() error

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. After Close returns, the Partials and Finals channels
	// will be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given audio
	// format and recognition configuration. The returned SessionHandle is ready to
	// accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already cancelled).
	// The caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// IsNoSpeech reports whether err is the no-speech lifecycle code.
func IsNoSpeech(err error) bool { return errors.Is(err, ErrNoSpeech) }

// IsUnavailable reports whether err is the recognition-unavailable code.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
