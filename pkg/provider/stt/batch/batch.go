// Package batch turns a non-streaming transcription backend into an
// stt.SessionHandle.
//
// A batch session buffers incoming PCM audio, segments it into utterances
// with a voice activity detector (or an energy threshold when no detector is
// configured), and submits each completed utterance to an [Inferer]. The
// segments returned by the Inferer are emitted as one final transcript.
//
// A session ends on its own in two cases: when no speech has been heard for
// the configured no-speech window (Err reports stt.ErrNoSpeech), and when the
// Inferer fails (Err reports the wrapped inference error). Both are signals
// for the caller to start a fresh session.
package batch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/provider/vad"
	"github.com/MrWong99/voxfill/pkg/types"
)

const (
	// bitsPerSample is fixed at 16 for 16-bit signed little-endian PCM.
	bitsPerSample = 16

	// defaultRMSThreshold is the energy level (in 16-bit PCM units) below which
	// audio counts as silent when no VAD engine is configured.
	defaultRMSThreshold = 300.0

	DefaultSampleRate          = 16000
	DefaultSilenceThresholdMs  = 500
	DefaultMaxBufferDurationMs = 10_000
	DefaultNoSpeechTimeout     = 8 * time.Second
)

// Inferer transcribes one utterance of raw 16-bit little-endian PCM audio.
// Returning no segments means nothing intelligible was said.
type Inferer func(ctx context.Context, pcm []byte, sampleRate, channels int) ([]types.Segment, error)

// Config configures a batch session. Zero values fall back to defaults.
type Config struct {
	// Name prefixes error messages (e.g. "whisper").
	Name string

	SampleRate int
	Channels   int

	// SilenceThresholdMs is the trailing silence that commits an utterance.
	SilenceThresholdMs int

	// MaxBufferDurationMs forces a flush during long continuous speech.
	MaxBufferDurationMs int

	// NoSpeechTimeout ends the session with stt.ErrNoSpeech after this much
	// audio without any speech. Negative disables it.
	NoSpeechTimeout time.Duration

	// VAD selects the speech detector. Nil uses the RMS energy threshold.
	VAD vad.Engine

	// VADAggressiveness is forwarded to the VAD engine (0 to 3).
	VADAggressiveness int

	// FlushTimeout bounds the final flush performed on Close. Default 30s.
	FlushTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.Name == "" {
		c.Name = "batch"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.SilenceThresholdMs <= 0 {
		c.SilenceThresholdMs = DefaultSilenceThresholdMs
	}
	if c.MaxBufferDurationMs <= 0 {
		c.MaxBufferDurationMs = DefaultMaxBufferDurationMs
	}
	if c.NoSpeechTimeout == 0 {
		c.NoSpeechTimeout = DefaultNoSpeechTimeout
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
}

// Session is a live batch transcription session. It implements
// stt.SessionHandle. All mutable buffering state is confined to the
// processLoop goroutine.
type Session struct {
	cfg   Config
	infer Inferer
	vad   vad.SessionHandle

	audioCh  chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	errMu sync.Mutex
	err   error
}

var _ stt.SessionHandle = (*Session)(nil)

// Start validates cfg, opens a VAD session if configured, and starts the
// processing goroutine. The session stops when ctx is cancelled or Close is
// called.
func Start(ctx context.Context, cfg Config, infer Inferer) (*Session, error) {
	if infer == nil {
		return nil, errors.New("batch: inferer must not be nil")
	}
	cfg.withDefaults()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: context already cancelled: %w", cfg.Name, err)
	}

	s := &Session{
		cfg:      cfg,
		infer:    infer,
		audioCh:  make(chan []byte, 256),
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		done:     make(chan struct{}),
	}
	if cfg.VAD != nil {
		v, err := cfg.VAD.NewSession(vad.Config{
			SampleRate:     cfg.SampleRate,
			FrameSizeMs:    20,
			Aggressiveness: cfg.VADAggressiveness,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: open vad session: %w", cfg.Name, err)
		}
		s.vad = v
	}

	s.wg.Add(1)
	go s.processLoop(ctx)
	return s, nil
}

// SendAudio queues a chunk of raw 16-bit little-endian PCM audio.
// Calling SendAudio after the session ended returns an error.
func (s *Session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("%s: session is closed", s.cfg.Name)
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return fmt.Errorf("%s: session is closed", s.cfg.Name)
	}
}

// Partials emits a partial alongside every final; batch backends cannot
// produce real interim results.
func (s *Session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the channel of committed utterances.
func (s *Session) Finals() <-chan types.Transcript { return s.finals }

// SetKeywords is not supported by batch backends.
func (s *Session) SetKeywords(_ []types.KeywordBoost) error {
	return fmt.Errorf("%s: keyword boosting: %w", s.cfg.Name, stt.ErrNotSupported)
}

// Err returns why the session ended on its own, or nil.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Close flushes pending speech, closes the output channels, and releases the
// VAD session. Calling Close more than once is safe.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

// processLoop is the single goroutine responsible for speech detection,
// audio buffering, and inference dispatch.
func (s *Session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	if s.vad != nil {
		defer s.vad.Close()
	}

	var (
		buffer     []byte // accumulated PCM for the current utterance
		hadSpeech  bool   // true once any voiced chunk has been buffered
		silenceMs  int    // consecutive silence after speech (ms)
		noSpeechMs int    // audio heard since the last voiced chunk (ms)
	)

	bytesPerMs := s.cfg.SampleRate * s.cfg.Channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := s.cfg.MaxBufferDurationMs * bytesPerMs

	doFlush := func(flushCtx context.Context) error {
		if len(buffer) == 0 || !hadSpeech {
			buffer, hadSpeech, silenceMs = nil, false, 0
			return nil
		}
		pcm := buffer
		buffer, hadSpeech, silenceMs = nil, false, 0

		segs, err := s.infer(flushCtx, pcm, s.cfg.SampleRate, s.cfg.Channels)
		if err != nil {
			return fmt.Errorf("%s: inference: %w", s.cfg.Name, err)
		}
		if len(segs) == 0 {
			return nil
		}
		t := types.FromSegments(segs)
		if t.Text == "" {
			return nil
		}
		partial := t
		partial.IsFinal = false
		// Non-blocking sends: channels are buffered. If they are somehow full
		// we skip rather than deadlock during shutdown.
		select {
		case s.partials <- partial:
		default:
		}
		select {
		case s.finals <- t:
		default:
			slog.Warn("batch: finals channel full, dropping transcript", "name", s.cfg.Name)
		}
		return nil
	}

	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
		defer cancel()
		if err := doFlush(fc); err != nil {
			slog.Warn("batch: final flush failed", "name", s.cfg.Name, "err", err)
		}
	}

	// handle processes one chunk. It returns false when the session ended.
	handle := func(chunk []byte) bool {
		chunkMs := chunkDurationMs(chunk, s.cfg.SampleRate, s.cfg.Channels)
		voiced, err := s.isSpeech(chunk)
		if err != nil {
			s.fail(fmt.Errorf("%s: vad: %w", s.cfg.Name, err))
			return false
		}

		if voiced {
			hadSpeech = true
			silenceMs = 0
			noSpeechMs = 0
			buffer = append(buffer, chunk...)
			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
				if err := doFlush(ctx); err != nil {
					s.fail(err)
					return false
				}
			}
			return true
		}

		noSpeechMs += chunkMs
		if hadSpeech {
			silenceMs += chunkMs
			buffer = append(buffer, chunk...)
			if silenceMs >= s.cfg.SilenceThresholdMs {
				if err := doFlush(ctx); err != nil {
					s.fail(err)
					return false
				}
			}
			return true
		}
		// Leading silence before any speech is discarded.
		if s.cfg.NoSpeechTimeout > 0 && time.Duration(noSpeechMs)*time.Millisecond >= s.cfg.NoSpeechTimeout {
			s.fail(stt.ErrNoSpeech)
			return false
		}
		return true
	}

	// drain consumes audio that was queued before Close so it is part of the
	// final flush.
	drain := func() {
		for {
			select {
			case chunk := <-s.audioCh:
				voiced, err := s.isSpeech(chunk)
				if err != nil {
					return
				}
				if voiced {
					hadSpeech = true
				}
				if hadSpeech {
					buffer = append(buffer, chunk...)
				}
			default:
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return

		case <-s.done:
			drain()
			finalFlush()
			return

		case chunk := <-s.audioCh:
			if !handle(chunk) {
				return
			}
		}
	}
}

// isSpeech classifies a chunk with the VAD session, or by RMS energy.
func (s *Session) isSpeech(chunk []byte) (bool, error) {
	if s.vad == nil {
		return computeRMS(chunk) >= defaultRMSThreshold, nil
	}
	ev, err := s.vad.ProcessFrame(chunk)
	if err != nil {
		return false, err
	}
	return ev.Type.IsSpeech(), nil
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs returns the duration of a PCM chunk in milliseconds.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a RIFF/WAV
// container suitable for multipart uploads.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// PCMToFloat32Mono down-mixes 16-bit PCM to mono float32 samples in [-1, 1].
func PCMToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	n := len(pcm) / (2 * channels)
	mono := make([]float32, n)
	for i := range n {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:idx+2]))) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// ConfidenceFromLogProb converts an average token log-probability into a
// 0..1 confidence.
func ConfidenceFromLogProb(avgLogProb float64) float64 {
	c := math.Exp(avgLogProb)
	return min(max(c, 0), 1)
}
