// Package audio defines the microphone capture abstraction used by the
// listener and the PCM helpers shared by capture backends.
//
// A [Source] opens a [Stream]; the stream delivers 16-bit little-endian PCM
// frames until it is closed or its context is cancelled. Concrete sources live
// in sub-packages (audio/portaudio for the local microphone, audio/mock for
// tests).
package audio

import (
	"context"
	"errors"

	"github.com/MrWong99/voxfill/pkg/types"
)

// ErrNoDevice is returned by [Source.Open] when no usable input device
// exists. Callers treat it as "recognition unavailable".
var ErrNoDevice = errors.New("audio: no input device")

// Source opens capture streams. Implementations must be safe for concurrent
// use, although only one stream is normally open at a time.
type Source interface {
	// Open starts capturing. The stream stays open until Close is called or
	// ctx is cancelled.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture stream.
type Stream interface {
	// Frames returns the channel of captured frames. It is closed when the
	// stream ends.
	Frames() <-chan types.AudioFrame

	// Format reports the sample rate and channel count of delivered frames.
	Format() Format

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}
