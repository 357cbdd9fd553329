// Package native provides an STT provider backed by the whisper.cpp cgo
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// The package is separate from the HTTP provider so that builds which only
// talk to a whisper-server do not require cgo.
package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/provider/stt/batch"
	"github.com/MrWong99/voxfill/pkg/provider/vad"
	"github.com/MrWong99/voxfill/pkg/types"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using whisper.cpp Go bindings. The model
// is loaded once and shared across all sessions.
type Provider struct {
	model    whisperlib.Model
	language string
	batch    batch.Config

	// whisper contexts are not safe for concurrent use; inference is
	// serialised per provider.
	mu sync.Mutex
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the audio sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.batch.SampleRate = rate }
}

// WithSilenceThresholdMs sets the trailing silence that commits an utterance.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.batch.SilenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the buffered audio duration that forces a flush.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.batch.MaxBufferDurationMs = ms }
}

// WithNoSpeechTimeout sets the no-speech window. Negative disables it.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) { p.batch.NoSpeechTimeout = d }
}

// WithVAD replaces the energy-threshold speech detector with a VAD engine.
func WithVAD(engine vad.Engine, aggressiveness int) Option {
	return func(p *Provider) {
		p.batch.VAD = engine
		p.batch.VADAggressiveness = aggressiveness
	}
}

// New loads the whisper.cpp model at modelPath. A missing or unreadable model
// is reported as stt.ErrUnavailable. The caller must call Close when the
// provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("whisper native: modelPath must not be empty: %w", stt.ErrUnavailable)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper native: load model %q: %w", modelPath, errors.Join(err, stt.ErrUnavailable))
	}

	p := &Provider{
		model:    model,
		language: "en",
		batch:    batch.Config{Name: "whisper native"},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a new transcription session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	bc := p.batch
	if cfg.SampleRate > 0 {
		bc.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		bc.Channels = cfg.Channels
	}
	infer := func(_ context.Context, pcm []byte, _ int, channels int) ([]types.Segment, error) {
		return p.infer(lang, pcm, channels)
	}
	return batch.Start(ctx, bc, infer)
}

// infer runs whisper.cpp on one utterance. Segment confidence is the mean
// token probability.
func (p *Provider) infer(lang string, pcm []byte, channels int) ([]types.Segment, error) {
	samples := batch.PCMToFloat32Mono(pcm, channels)

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper native: failed to set language, using default", "language", lang, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}

	var segs []types.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		segs = append(segs, types.Segment{Text: text, Confidence: tokenConfidence(segment.Tokens)})
	}
	return segs, nil
}

// tokenConfidence averages token probabilities, ignoring special tokens
// such as [_BEG_] and timestamps.
func tokenConfidence(tokens []whisperlib.Token) float64 {
	var sum float64
	var n int
	for _, t := range tokens {
		if strings.HasPrefix(t.Text, "[_") || strings.HasPrefix(t.Text, "<|") {
			continue
		}
		sum += float64(t.P)
		n++
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}
