// Package mock provides scriptable recognizers for tests.
//
// A [Provider] hands out [Session] values in order, so a test can script a
// recognizer that hears a few utterances, times out, and is restarted:
//
//	first := mock.NewSession("fill email")
//	first.End(stt.ErrNoSpeech)
//	p := &mock.Provider{Sessions: []stt.SessionHandle{first, mock.NewSession()}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/types"
)

// StartStreamCall is one recorded [Provider.StartStream].
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a recording stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session, when set, is returned by every StartStream.
	Session stt.SessionHandle

	// Sessions are returned one per StartStream once Session is nil. When
	// they run out a fresh idle session is returned.
	Sessions []stt.SessionHandle

	// StartStreamErr fails every StartStream.
	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	switch {
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case p.Session != nil:
		return p.Session, nil
	case len(p.Sessions) > 0:
		s := p.Sessions[0]
		p.Sessions = p.Sessions[1:]
		return s, nil
	}
	return NewSession(), nil
}

// CallCount returns how many times StartStream ran.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session is a recording stt.SessionHandle. Tests send on PartialsCh and
// FinalsCh directly or preload finals with [NewSession].
type Session struct {
	mu sync.Mutex

	PartialsCh chan types.Transcript
	FinalsCh   chan types.Transcript

	endErr   error
	ended    bool
	audio    [][]byte
	keywords [][]types.KeywordBoost
	closes   int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a session whose finals channel already holds one
// high-confidence final per text. Room is left for sixteen more.
func NewSession(finals ...string) *Session {
	s := &Session{
		PartialsCh: make(chan types.Transcript, 16),
		FinalsCh:   make(chan types.Transcript, len(finals)+16),
	}
	for _, f := range finals {
		s.FinalsCh <- types.Transcript{Text: f, IsFinal: true, Confidence: 0.95}
	}
	return s
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return nil
}

func (s *Session) Partials() <-chan types.Transcript { return s.PartialsCh }

func (s *Session) Finals() <-chan types.Transcript { return s.FinalsCh }

func (s *Session) SetKeywords(keywords []types.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append(s.keywords, append([]types.KeywordBoost(nil), keywords...))
	return nil
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// End makes the session finish on its own with err. Buffered finals are
// still delivered before the channels report closed. Only the first call
// has an effect.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.endErr = err
	close(s.PartialsCh)
	close(s.FinalsCh)
}

// Close counts the call. It does not end the session; see [Session.End].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// CloseCount returns how many times Close ran.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// SendAudioCallCount returns how many chunks were sent.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

// Audio returns a copy of every chunk sent so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// Keywords returns every list passed to SetKeywords.
func (s *Session) Keywords() [][]types.KeywordBoost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]types.KeywordBoost(nil), s.keywords...)
}
