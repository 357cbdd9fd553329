// Package openai provides an STT provider backed by the OpenAI audio
// transcription API. Utterances are segmented locally by the shared batch
// session and uploaded one at a time.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/provider/stt/batch"
	"github.com/MrWong99/voxfill/pkg/provider/vad"
	"github.com/MrWong99/voxfill/pkg/types"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelWhisper1

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	batch    batch.Config
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	language   string
	batch      batch.Config
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the client retries failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithLanguage sets the ISO-639-1 language hint. Empty lets the API detect it.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithSilenceThresholdMs sets the trailing silence that commits an utterance.
func WithSilenceThresholdMs(ms int) Option {
	return func(c *config) { c.batch.SilenceThresholdMs = ms }
}

// WithNoSpeechTimeout sets the no-speech window. Negative disables it.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(c *config) { c.batch.NoSpeechTimeout = d }
}

// WithVAD replaces the energy-threshold speech detector with a VAD engine.
func WithVAD(engine vad.Engine, aggressiveness int) Option {
	return func(c *config) {
		c.batch.VAD = engine
		c.batch.VADAggressiveness = aggressiveness
	}
}

// New constructs a new OpenAI transcription Provider. An empty apiKey is
// reported as stt.ErrUnavailable. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty: %w", stt.ErrUnavailable)
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	bc := cfg.batch
	bc.Name = "openai stt"
	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		batch:    bc,
	}, nil
}

// StartStream opens a new transcription session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	// The API expects ISO-639-1, so "en-US" becomes "en".
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	bc := p.batch
	if cfg.SampleRate > 0 {
		bc.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		bc.Channels = cfg.Channels
	}
	infer := func(ctx context.Context, pcm []byte, sampleRate, channels int) ([]types.Segment, error) {
		return p.transcribe(ctx, lang, pcm, sampleRate, channels)
	}
	return batch.Start(ctx, bc, infer)
}

// verboseTranscription is the subset of the verbose_json body used here.
type verboseTranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogProb float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (p *Provider) transcribe(ctx context.Context, lang string, pcm []byte, sampleRate, channels int) ([]types.Segment, error) {
	wav := batch.EncodeWAV(pcm, sampleRate, channels)
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("transcribe: %w", errors.Join(err, stt.ErrUnavailable))
		}
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	var verbose verboseTranscription
	if raw := resp.RawJSON(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &verbose); err != nil {
			return nil, fmt.Errorf("parse verbose response: %w", err)
		}
	}
	if len(verbose.Segments) == 0 {
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return nil, nil
		}
		return []types.Segment{{Text: text, Confidence: 1}}, nil
	}

	segs := make([]types.Segment, 0, len(verbose.Segments))
	for _, s := range verbose.Segments {
		segs = append(segs, types.Segment{
			Text:       strings.TrimSpace(s.Text),
			Confidence: batch.ConfidenceFromLogProb(s.AvgLogProb),
		})
	}
	return segs, nil
}
