// Package mock provides an in-memory audio.Source for unit tests.
//
// Typical usage:
//
//	src := &mock.Source{Frames: []types.AudioFrame{{Data: pcm, SampleRate: 16000, Channels: 1}}}
//	stream, _ := src.Open(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxfill/pkg/audio"
	"github.com/MrWong99/voxfill/pkg/types"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Frames is delivered on every opened stream, in order.
	Frames []types.AudioFrame

	// Hold keeps streams open after Frames is delivered until Close or ctx
	// cancellation. When false the stream ends after the last frame.
	Hold bool

	// FormatResult is reported by opened streams. Defaults to 16 kHz mono.
	FormatResult audio.Format

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCallCount is the number of Open calls.
	OpenCallCount int

	streams []*Stream
}

// Open records the call and returns a new Stream.
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCallCount++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	f := s.FormatResult
	if f.SampleRate == 0 {
		f = audio.Format{SampleRate: 16000, Channels: 1}
	}
	st := &Stream{
		format: f,
		frames: make(chan types.AudioFrame, len(s.Frames)),
		done:   make(chan struct{}),
	}
	frames := append([]types.AudioFrame(nil), s.Frames...)
	go st.run(ctx, frames, s.Hold)
	s.streams = append(s.streams, st)
	return st, nil
}

// Streams returns every stream opened so far. Thread-safe.
func (s *Source) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.streams...)
}

var _ audio.Source = (*Source)(nil)

// Stream is the mock audio.Stream returned by Source.
type Stream struct {
	format audio.Format
	frames chan types.AudioFrame
	done   chan struct{}
	once   sync.Once

	mu         sync.Mutex
	closeCount int
}

func (st *Stream) run(ctx context.Context, frames []types.AudioFrame, hold bool) {
	defer close(st.frames)
	for _, f := range frames {
		select {
		case st.frames <- f:
		case <-st.done:
			return
		case <-ctx.Done():
			return
		}
	}
	if !hold {
		return
	}
	select {
	case <-st.done:
	case <-ctx.Done():
	}
}

// Frames returns the frame channel.
func (st *Stream) Frames() <-chan types.AudioFrame { return st.frames }

// Format returns the configured format.
func (st *Stream) Format() audio.Format { return st.format }

// Close records the call and ends the stream.
func (st *Stream) Close() error {
	st.mu.Lock()
	st.closeCount++
	st.mu.Unlock()
	st.once.Do(func() { close(st.done) })
	return nil
}

// CloseCount returns the number of Close calls. Thread-safe.
func (st *Stream) CloseCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closeCount
}

var _ audio.Stream = (*Stream)(nil)
