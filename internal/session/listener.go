// Package session runs the continuous listen loop that feeds recognizer
// finals into the form engine.
//
// A [Listener] opens the microphone and a recognizer stream, pumps audio into
// the stream, and delivers each final transcript to its result handler. When
// the recognizer ends on its own it is restarted after a short delay: a
// no-speech timeout and any runtime fault both restart, without a retry
// limit. Only a missing capability (no device, no credentials, no model)
// stops the loop for good.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/pkg/audio"
	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/types"
)

// Default restart delays.
const (
	DefaultNoSpeechRestartDelay = 300 * time.Millisecond
	DefaultErrorRestartDelay    = 1 * time.Second
)

// ErrRunning is returned by Run when the listener is already running.
var ErrRunning = errors.New("session: listener already running")

// ListenerConfig configures a [Listener].
type ListenerConfig struct {
	// Source opens the microphone. Required.
	Source audio.Source

	// Recognizer starts transcription streams. Required.
	Recognizer stt.Provider

	// Stream is passed to every StartStream call. Interim is always forced
	// off and audio is converted to mono at Stream.SampleRate (default
	// 16000).
	Stream stt.StreamConfig

	// OnResult receives every final transcript, synchronously and in order.
	// Required.
	OnResult func(ctx context.Context, t types.Transcript)

	// OnUnavailable is called once when the loop stops because recognition
	// is unavailable. May be nil.
	OnUnavailable func(err error)

	// NoSpeechRestartDelay defaults to 300ms.
	NoSpeechRestartDelay time.Duration

	// ErrorRestartDelay defaults to 1s.
	ErrorRestartDelay time.Duration

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Listener runs the listen loop. At most one Run is active at a time.
// All methods are safe for concurrent use.
type Listener struct {
	cfg ListenerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	current stt.SessionHandle
}

// NewListener validates cfg and returns a stopped Listener.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("Source is required"))
	}
	if cfg.Recognizer == nil {
		errs = append(errs, errors.New("Recognizer is required"))
	}
	if cfg.OnResult == nil {
		errs = append(errs, errors.New("OnResult is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.NoSpeechRestartDelay <= 0 {
		cfg.NoSpeechRestartDelay = DefaultNoSpeechRestartDelay
	}
	if cfg.ErrorRestartDelay <= 0 {
		cfg.ErrorRestartDelay = DefaultErrorRestartDelay
	}
	if cfg.Stream.SampleRate <= 0 {
		cfg.Stream.SampleRate = 16000
	}
	cfg.Stream.Channels = 1
	cfg.Stream.Interim = false
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Listener{cfg: cfg}, nil
}

// Running reports whether Run is active.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

// Run listens until ctx is cancelled, Stop is called, or recognition turns
// out to be unavailable. It returns nil in the first two cases and an error
// wrapping the cause in the last.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.done != nil {
		l.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	l.mu.Unlock()

	defer func() {
		cancel()
		l.mu.Lock()
		l.cancel, l.done, l.current = nil, nil, nil
		l.mu.Unlock()
		close(done)
	}()

	slog.Info("session: listener started", "language", l.cfg.Stream.Language, "sample_rate", l.cfg.Stream.SampleRate)
	for {
		start := time.Now()
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			l.cfg.Metrics.RecordRecognizerSession(context.Background(), "", time.Since(start))
			slog.Info("session: listener stopped")
			return nil
		}

		var (
			delay  time.Duration
			reason string
		)
		switch {
		case isUnavailable(err):
			l.cfg.Metrics.RecordRecognizerSession(ctx, "", time.Since(start))
			slog.Error("session: recognition unavailable", "err", err)
			if l.cfg.OnUnavailable != nil {
				l.cfg.OnUnavailable(err)
			}
			return fmt.Errorf("session: %w", err)
		case stt.IsNoSpeech(err):
			delay, reason = l.cfg.NoSpeechRestartDelay, "no_speech"
			slog.Debug("session: no speech, restarting", "delay", delay)
		default:
			delay, reason = l.cfg.ErrorRestartDelay, "error"
			slog.Warn("session: recognizer ended, restarting", "err", err, "delay", delay)
		}
		l.cfg.Metrics.RecordRecognizerSession(ctx, reason, time.Since(start))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			slog.Info("session: listener stopped")
			return nil
		case <-t.C:
		}
	}
}

// Stop closes the active recognizer, so no further transcripts are
// delivered, and waits for Run to return. Stopping a stopped listener is a
// no-op.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done, cur := l.cancel, l.done, l.current
	l.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	if cur != nil {
		_ = cur.Close()
	}
	<-done
}

// listenOnce runs one recognizer session to its end and returns why it
// ended. A session that ends without reporting a reason counts as aborted.
func (l *Listener) listenOnce(ctx context.Context) error {
	stream, err := l.cfg.Source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer stream.Close()

	sess, err := l.cfg.Recognizer.StartStream(ctx, l.cfg.Stream)
	if err != nil {
		return fmt.Errorf("start recognizer: %w", err)
	}
	l.mu.Lock()
	l.current = sess
	l.mu.Unlock()

	slog.Debug("session: recognizer started", "input", stream.Format().String())

	target := audio.Format{SampleRate: l.cfg.Stream.SampleRate, Channels: 1}
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		failed := false
		for f := range audio.ConvertStream(stream.Frames(), target) {
			if failed {
				continue
			}
			if err := sess.SendAudio(f.Data); err != nil {
				failed = true
			}
		}
	}()
	if partials := sess.Partials(); partials != nil {
		go func() {
			for range partials {
			}
		}()
	}

	finals := sess.Finals()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case t, ok := <-finals:
			if !ok {
				break loop
			}
			if ctx.Err() != nil {
				break loop
			}
			l.cfg.OnResult(ctx, t)
		}
	}

	_ = sess.Close()
	_ = stream.Close()
	<-pumped

	l.mu.Lock()
	l.current = nil
	l.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	if err := sess.Err(); err != nil {
		return err
	}
	return stt.ErrAborted
}

func isUnavailable(err error) bool {
	return stt.IsUnavailable(err) || errors.Is(err, audio.ErrNoDevice)
}
