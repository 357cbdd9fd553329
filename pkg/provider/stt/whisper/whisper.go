// Package whisper provides a local whisper.cpp-backed STT provider.
//
// It connects to a running whisper-server binary (which exposes a REST API at
// POST /inference) and simulates streaming behaviour on top of the shared
// [batch] session: incoming PCM audio is segmented into utterances and each
// completed utterance is submitted as one inference request.
//
// The server is asked for verbose_json output so that every decoded segment
// carries its own confidence, derived from the segment's average token
// log-probability.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithSilenceThresholdMs(500),
//	)
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Finals()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/provider/stt/batch"
	"github.com/MrWong99/voxfill/pkg/provider/vad"
	"github.com/MrWong99/voxfill/pkg/types"
)

const defaultLanguage = "en"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the audio sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.batch.SampleRate = rate
	}
}

// WithSilenceThresholdMs sets the consecutive-silence duration (in
// milliseconds) that commits an utterance. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) {
		p.batch.SilenceThresholdMs = ms
	}
}

// WithMaxBufferDurationMs sets the maximum duration of audio (in milliseconds)
// that may accumulate before a flush is forced. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) {
		p.batch.MaxBufferDurationMs = ms
	}
}

// WithNoSpeechTimeout sets how much audio without speech ends a session with
// stt.ErrNoSpeech. Defaults to 8s; negative disables it.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.batch.NoSpeechTimeout = d
	}
}

// WithVAD replaces the energy-threshold speech detector with a VAD engine.
func WithVAD(engine vad.Engine, aggressiveness int) Option {
	return func(p *Provider) {
		p.batch.VAD = engine
		p.batch.VADAggressiveness = aggressiveness
	}
}

// WithHTTPClient overrides the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
// Multiple sessions may be open simultaneously.
type Provider struct {
	serverURL  string
	model      string
	language   string
	batch      batch.Config
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("whisper: serverURL must not be empty: %w", stt.ErrUnavailable)
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		batch:      batch.Config{Name: "whisper"},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new transcription session. No network connection is
// established until the first utterance is committed.
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

	infer := func(ctx context.Context, pcm []byte, sampleRate, channels int) ([]types.Segment, error) {
		return p.infer(ctx, lang, pcm, sampleRate, channels)
	}
	return batch.Start(ctx, bc, infer)
}

// inferenceResponse is the verbose_json body returned by whisper-server.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogProb float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data.
func (p *Provider) infer(ctx context.Context, lang string, pcm []byte, sampleRate, channels int) ([]types.Segment, error) {
	wav := batch.EncodeWAV(pcm, sampleRate, channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        lang,
		"model":           p.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return parseInference(data)
}

// parseInference converts a whisper-server response into segments. A plain
// {"text": ...} body is accepted as one fully confident segment.
func parseInference(data []byte) ([]types.Segment, error) {
	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse JSON response: %w", err)
	}
	if len(result.Segments) == 0 {
		if strings.TrimSpace(result.Text) == "" {
			return nil, nil
		}
		return []types.Segment{{Text: strings.TrimSpace(result.Text), Confidence: 1}}, nil
	}
	segs := make([]types.Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segs = append(segs, types.Segment{
			Text:       strings.TrimSpace(s.Text),
			Confidence: batch.ConfidenceFromLogProb(s.AvgLogProb),
		})
	}
	return segs, nil
}
