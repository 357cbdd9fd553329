// Package deepgram streams microphone audio to Deepgram's live transcription
// WebSocket and reports whole utterances.
//
// Deepgram finalises speech in short segments. A spoken value such as an
// e-mail address often spans several of them, so segments are held back
// until Deepgram signals the end of the utterance (speech_final or an
// UtteranceEnd message) and then delivered as one final whose Segments keep
// the per-segment confidences.
package deepgram

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/types"
)

const (
	defaultEndpoint        = "wss://api.deepgram.com/v1/listen"
	defaultModel           = "nova-3"
	defaultLanguage        = "en"
	defaultSampleRate      = 16000
	defaultEndpointingMs   = 300
	defaultNoSpeechTimeout = 8 * time.Second

	// utteranceEndMs is requested whenever interim results are on; Deepgram
	// rejects it otherwise.
	utteranceEndMs = 1000
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Deepgram model, for example "nova-3".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language. StreamConfig.Language wins
// when set.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default PCM sample rate.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpoint points the provider at another streaming URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithSmartFormat toggles Deepgram's formatting of e-mail addresses, numbers
// and dates. On by default.
func WithSmartFormat(on bool) Option {
	return func(p *Provider) { p.smartFormat = on }
}

// WithEndpointing sets the silence in milliseconds after which Deepgram
// closes an utterance. Zero keeps the 300ms default.
func WithEndpointing(ms int) Option {
	return func(p *Provider) {
		if ms > 0 {
			p.endpointingMs = ms
		}
	}
}

// WithNoSpeechTimeout ends a session with [stt.ErrNoSpeech] once no utterance
// has been heard for d. Zero disables the timeout.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) { p.noSpeechTimeout = d }
}

// Provider is an [stt.Provider] for Deepgram live transcription.
type Provider struct {
	apiKey          string
	endpoint        string
	model           string
	language        string
	sampleRate      int
	smartFormat     bool
	endpointingMs   int
	noSpeechTimeout time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New returns a provider authenticating with apiKey. A missing key is
// reported as [stt.ErrUnavailable].
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: api key is empty: %w", stt.ErrUnavailable)
	}
	p := &Provider{
		apiKey:          apiKey,
		endpoint:        defaultEndpoint,
		model:           defaultModel,
		language:        defaultLanguage,
		sampleRate:      defaultSampleRate,
		smartFormat:     true,
		endpointingMs:   defaultEndpointingMs,
		noSpeechTimeout: defaultNoSpeechTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram. A rejected key (401/403) is reported as
// [stt.ErrUnavailable] so the listen loop stops instead of retrying.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	u, err := p.listenURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram: dial: HTTP %d: %w", resp.StatusCode, stt.ErrUnavailable)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	return startSession(ctx, conn, p.noSpeechTimeout), nil
}

func (p *Provider) listenURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	lang := cmp.Or(cfg.Language, p.language)
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	q.Set("punctuate", "true")
	q.Set("smart_format", strconv.FormatBool(p.smartFormat))
	q.Set("endpointing", strconv.Itoa(p.endpointingMs))
	q.Set("interim_results", strconv.FormatBool(cfg.Interim))
	if cfg.Interim {
		q.Set("utterance_end_ms", strconv.Itoa(utteranceEndMs))
	}
	param := keywordParam(p.model)
	for _, kw := range cfg.Keywords {
		if param == "keyterm" {
			q.Add(param, kw.Keyword)
		} else {
			q.Add(param, keywordValue(kw))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// keywordParam picks the boosting parameter. Nova-3 replaced weighted
// "keywords" with unweighted "keyterm".
func keywordParam(model string) string {
	if strings.HasPrefix(model, "nova-3") {
		return "keyterm"
	}
	return "keywords"
}

func keywordValue(kw types.KeywordBoost) string {
	if kw.Boost == 0 {
		return kw.Keyword
	}
	return fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost)
}
