package deepgram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/types"
)

// keepAliveEvery keeps an idle stream open. Deepgram drops connections that
// receive no data for ten seconds, which happens while the mic is muted.
const keepAliveEvery = 4 * time.Second

var (
	errClosed = errors.New("deepgram: session is closed")

	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
)

type session struct {
	conn     *websocket.Conn
	audio    chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript
	heard    chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

var _ stt.SessionHandle = (*session)(nil)

func startSession(ctx context.Context, conn *websocket.Conn, noSpeech time.Duration) *session {
	s := &session{
		conn:     conn,
		audio:    make(chan []byte, 256),
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 16),
		heard:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.wg.Add(2)
	go s.receive(ctx)
	go s.send(ctx)
	if noSpeech > 0 {
		go s.watchdog(noSpeech)
	}
	return s
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }
func (s *session) Finals() <-chan types.Transcript   { return s.finals }

// SetKeywords is not supported: Deepgram fixes keywords when the stream opens.
func (s *session) SetKeywords([]types.KeywordBoost) error {
	return fmt.Errorf("deepgram: update keywords: %w", stt.ErrNotSupported)
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close asks Deepgram to flush, closes the socket and waits for both loops.
// Err stays nil after a caller close.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, msgCloseStream)
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
		s.wg.Wait()
	})
	return nil
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// send forwards queued audio and keeps the stream alive while idle.
func (s *session) send(ctx context.Context) {
	defer s.wg.Done()
	idle := time.NewTimer(keepAliveEvery)
	defer idle.Stop()
	for {
		var msg []byte
		typ := websocket.MessageBinary
		select {
		case <-s.done:
			return
		case msg = <-s.audio:
		case <-idle.C:
			msg, typ = msgKeepAlive, websocket.MessageText
		}
		if err := s.conn.Write(ctx, typ, msg); err != nil {
			return
		}
		idle.Reset(keepAliveEvery)
	}
}

// receive decodes server messages until the socket closes. Completed
// utterances go to finals; interim text goes to partials. A server-side end
// flushes whatever utterance was in progress.
func (s *session) receive(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var u utterance
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if s.closed() {
				return
			}
			if t, ok := u.flush(); ok {
				s.emit(s.finals, t)
			}
			switch {
			case ctx.Err() != nil:
				s.fail(fmt.Errorf("deepgram: %w", stt.ErrAborted))
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				s.fail(stt.ErrAborted)
			default:
				s.fail(fmt.Errorf("deepgram: read: %w", err))
			}
			return
		}

		m, ok := decode(data)
		if !ok {
			continue
		}
		if t, ok := u.apply(m); ok {
			select {
			case s.heard <- struct{}{}:
			default:
			}
			s.emit(s.finals, t)
		} else if m.interim() {
			s.emit(s.partials, u.preview(m))
		}
	}
}

func (s *session) emit(ch chan types.Transcript, t types.Transcript) {
	select {
	case ch <- t:
	case <-s.done:
	}
}

// watchdog ends the session with stt.ErrNoSpeech after timeout without a
// completed utterance.
func (s *session) watchdog(timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.heard:
			t.Reset(timeout)
		case <-t.C:
			s.fail(stt.ErrNoSpeech)
			_ = s.conn.Close(websocket.StatusNormalClosure, "no speech")
			return
		}
	}
}
