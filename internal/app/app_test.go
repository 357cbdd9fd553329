package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxfill/internal/app"
	"github.com/MrWong99/voxfill/internal/config"
	"github.com/MrWong99/voxfill/internal/resilience"
	"github.com/MrWong99/voxfill/internal/ui/mock"
	"github.com/MrWong99/voxfill/internal/writer"
	audiomock "github.com/MrWong99/voxfill/pkg/audio/mock"
	"github.com/MrWong99/voxfill/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxfill/pkg/provider/stt/mock"
)

// testConfig returns a loaded-and-defaulted config suitable for tests.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server:     config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Recognizer: config.RecognizerConfig{Provider: config.ProviderEntry{Name: "mock"}},
		Engine:     config.EngineConfig{SettleDelay: -1},
	}
	config.ApplyDefaults(cfg)
	cfg.Recognizer.NoSpeechRestartDelay = time.Millisecond
	cfg.Recognizer.ErrorRestartDelay = time.Millisecond
	return cfg
}

type harness struct {
	app *app.App
	srv *httptest.Server
}

func newHarness(t *testing.T, cfg *config.Config, p *app.Providers, opts ...app.Option) *harness {
	t.Helper()
	if p.Tree == nil {
		tree := &mock.Tree{}
		tree.Set(mock.NewInput("email", "Email"), mock.NewInput("name", "Full name"))
		p.Tree = tree
	}
	opts = append([]app.Option{app.WithFieldWriter(writer.New(writer.WithEventDelay(0)))}, opts...)
	a, err := app.New(cfg, p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return &harness{app: a, srv: srv}
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, app.StateResponse) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var st app.StateResponse
	_ = json.NewDecoder(resp.Body).Decode(&st)
	return resp.StatusCode, st
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *config.Config
		p    *app.Providers
	}{
		{"nil config", nil, &app.Providers{Tree: &mock.Tree{}}},
		{"nil providers", testConfig(), nil},
		{"no tree", testConfig(), &app.Providers{}},
		{"audio without recognizer", testConfig(), &app.Providers{Tree: &mock.Tree{}, Audio: &audiomock.Source{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(tt.cfg, tt.p); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHTTP_FillFlow(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		filled []string
	)
	h := newHarness(t, testConfig(), &app.Providers{}, app.WithOnFieldFilled(func(id, v string) {
		mu.Lock()
		filled = append(filled, id+"="+v)
		mu.Unlock()
	}))

	code, st := h.do(t, http.MethodGet, "/v1/state", nil)
	if code != http.StatusOK || st.Mode != "inactive" {
		t.Fatalf("initial state = %d %+v", code, st)
	}

	code, _ = h.do(t, http.MethodPost, "/v1/transcripts", app.TranscriptRequest{Transcript: "fill email", Confidence: 0.9})
	if code != http.StatusConflict {
		t.Errorf("transcript while inactive: status = %d, want 409", code)
	}

	code, st = h.do(t, http.MethodPost, "/v1/activate", nil)
	if code != http.StatusOK || st.Mode != "idle" || st.SessionID == "" {
		t.Fatalf("activate = %d %+v", code, st)
	}
	if st.Listening {
		t.Error("listening without a microphone")
	}

	_, st = h.do(t, http.MethodPost, "/v1/transcripts", app.TranscriptRequest{Transcript: "fill email", Confidence: 0.9})
	if st.Mode != "awaiting_value" || st.FocusedFieldID != "email" {
		t.Fatalf("after focus: %+v", st)
	}
	_, st = h.do(t, http.MethodPost, "/v1/transcripts", app.TranscriptRequest{Transcript: "a@b.com", Confidence: 0.9})
	if st.FocusedFieldID != "name" {
		t.Errorf("after value: %+v, want auto-advance to name", st)
	}

	mu.Lock()
	got := strings.Join(filled, ",")
	mu.Unlock()
	if got != "email=a@b.com" {
		t.Errorf("filled = %q", got)
	}

	code, st = h.do(t, http.MethodPost, "/v1/deactivate", nil)
	if code != http.StatusOK || st.Mode != "inactive" || st.SessionID != "" {
		t.Errorf("deactivate = %d %+v", code, st)
	}
}

func TestHTTP_LowConfidenceIgnored(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		heard []string
	)
	h := newHarness(t, testConfig(), &app.Providers{}, app.WithOnCommandRecognized(func(s string) {
		mu.Lock()
		heard = append(heard, s)
		mu.Unlock()
	}))
	h.do(t, http.MethodPost, "/v1/activate", nil)

	_, st := h.do(t, http.MethodPost, "/v1/transcripts", app.TranscriptRequest{Transcript: "fill email", Confidence: 0.3})
	if st.Mode != "idle" {
		t.Errorf("mode = %s, want idle", st.Mode)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(heard) != 0 {
		t.Errorf("heard = %v, want nothing", heard)
	}
}

func TestHTTP_TranscriptValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), &app.Providers{})
	h.do(t, http.MethodPost, "/v1/activate", nil)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"bad json", "{"},
		{"unknown field", `{"text":"fill email"}`},
		{"blank transcript", `{"transcript":"  ","confidence":0.9}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.srv.Client().Post(h.srv.URL+"/v1/transcripts", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("Post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHTTP_ActivationEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), &app.Providers{})

	_, st := h.do(t, http.MethodPost, "/v1/events/"+config.DefaultActivationEvent, nil)
	if st.Mode != "inactive" {
		t.Errorf("event while inactive changed mode to %s", st.Mode)
	}

	h.do(t, http.MethodPost, "/v1/activate", nil)
	_, st = h.do(t, http.MethodPost, "/v1/events/other", nil)
	if st.Mode != "idle" {
		t.Errorf("unrelated event: mode = %s", st.Mode)
	}
	_, st = h.do(t, http.MethodPost, "/v1/events/"+config.DefaultActivationEvent, nil)
	if st.Mode != "awaiting_value" || st.FocusedFieldID != "email" {
		t.Errorf("activation event: %+v, want email focused", st)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), &app.Providers{})

	resp, err := h.srv.Client().Get(h.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	readyz := func() int {
		resp, err := h.srv.Client().Get(h.srv.URL + "/readyz")
		if err != nil {
			t.Fatalf("readyz: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if got := readyz(); got != http.StatusServiceUnavailable {
		t.Errorf("readyz while inactive = %d, want 503", got)
	}
	h.do(t, http.MethodPost, "/v1/activate", nil)
	if got := readyz(); got != http.StatusOK {
		t.Errorf("readyz while active = %d, want 200", got)
	}
}

func TestMetricsPath(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.MetricsPath = "/metrics"
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# scrape"))
	})
	h := newHarness(t, cfg, &app.Providers{}, app.WithMetricsHandler(metrics))

	resp, err := h.srv.Client().Get(h.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

func TestRecognizerStatus(t *testing.T) {
	t.Parallel()

	chain := resilience.NewRecognizerChain(&sttmock.Provider{}, "deepgram", resilience.FallbackConfig{})
	chain.AddFallback("whisper", &sttmock.Provider{})
	h := newHarness(t, testConfig(), &app.Providers{Recognizer: chain})

	resp, err := h.srv.Client().Get(h.srv.URL + "/v1/recognizers")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	var got []resilience.EntryStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Name != "deepgram" || got[1].Name != "whisper" {
		t.Errorf("status = %+v", got)
	}
}

func TestListenLoopDeliversToEngine(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession("fill email")
	rec := &sttmock.Provider{Session: sess}
	src := &audiomock.Source{Hold: true}

	h := newHarness(t, testConfig(), &app.Providers{Recognizer: rec, Audio: src})

	h.app.Activate(context.Background())
	waitFor(t, func() bool { return h.app.Engine().State().FocusedFieldID == "email" })

	_, st := h.do(t, http.MethodGet, "/v1/state", nil)
	if !st.Listening {
		t.Error("state does not report the listen loop")
	}

	h.app.Deactivate()
	calls := rec.StartStreamCalls
	if len(calls) == 0 {
		t.Fatal("recognizer never started")
	}
	if c := calls[0].Cfg; c.Interim || c.Language != config.DefaultLanguage || c.Keywords != nil {
		t.Errorf("stream config = %+v", c)
	}
	if sess.CloseCount() == 0 {
		t.Error("deactivate did not close the recognizer session")
	}
	_, st = h.do(t, http.MethodGet, "/v1/state", nil)
	if st.Listening || st.Mode != "inactive" {
		t.Errorf("after deactivate: %+v", st)
	}
}

func TestKeywordHints(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Provider{Session: sttmock.NewSession()}
	cfg := testConfig()
	cfg.Recognizer.KeywordBoost = 1.5
	h := newHarness(t, cfg, &app.Providers{Recognizer: rec, Audio: &audiomock.Source{Hold: true}})

	h.app.Activate(context.Background())
	waitFor(t, func() bool { return rec.CallCount() > 0 })
	h.app.Deactivate()

	kw := rec.StartStreamCalls[0].Cfg.Keywords
	if len(kw) == 0 {
		t.Fatal("no keyword hints sent")
	}
	for _, k := range kw {
		if k.Boost != 1.5 || k.Keyword == "" {
			t.Errorf("keyword = %+v", k)
		}
	}
}

func TestUnavailableDeactivates(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Provider{StartStreamErr: stt.ErrUnavailable}
	h := newHarness(t, testConfig(), &app.Providers{Recognizer: rec, Audio: &audiomock.Source{Hold: true}})

	h.app.Activate(context.Background())
	waitFor(t, func() bool { return !h.app.Engine().Active() })

	_, st := h.do(t, http.MethodGet, "/v1/state", nil)
	if st.Error == "" {
		t.Error("state does not report the unavailability")
	}
	waitFor(t, func() bool {
		_, st := h.do(t, http.MethodGet, "/v1/state", nil)
		return !st.Listening
	})
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	h := newHarness(t, testConfig(), &app.Providers{}, app.WithLogLevel(&level))
	h.app.Activate(context.Background())

	_, st := h.do(t, http.MethodPost, "/v1/transcripts", app.TranscriptRequest{Transcript: "focus handle", Confidence: 0.9})
	if st.Mode != "idle" {
		t.Fatalf("unknown alias resolved: %+v", st)
	}

	oldCfg := testConfig()
	newCfg := testConfig()
	newCfg.Server.LogLevel = config.LogDebug
	newCfg.Engine.ExtraAliases = map[string][]string{"name": {"handle"}}
	d := config.Diff(oldCfg, newCfg)
	h.app.ApplyConfig(oldCfg, newCfg, d)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	_, st = h.do(t, http.MethodPost, "/v1/transcripts", app.TranscriptRequest{Transcript: "focus handle", Confidence: 0.9})
	if st.FocusedFieldID != "name" {
		t.Errorf("after reload: %+v, want name focused", st)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	events := &mock.Events{}
	cfg := testConfig()
	cfg.Engine.AutoActivate = true
	h := newHarness(t, cfg, &app.Providers{Events: events})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.app.Run(ctx) }()

	waitFor(t, func() bool { return h.app.Engine().Active() })
	waitFor(t, func() bool { return events.Subscribers(config.DefaultActivationEvent) == 1 })

	events.Fire(config.DefaultActivationEvent)
	waitFor(t, func() bool { return h.app.Engine().State().FocusedFieldID == "email" })

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.app.Engine().Active() {
		t.Error("engine still active after Run returned")
	}
	if events.Subscribers(config.DefaultActivationEvent) != 0 {
		t.Error("activation event still bound")
	}
}

func TestRun_BindError(t *testing.T) {
	t.Parallel()

	events := &mock.Events{Err: errors.New("page gone")}
	h := newHarness(t, testConfig(), &app.Providers{Events: events})
	if err := h.app.Run(context.Background()); err == nil {
		t.Error("expected bind error")
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	var order []string
	a, err := app.New(testConfig(), &app.Providers{Tree: &mock.Tree{}},
		app.WithCloser(func() error { order = append(order, "browser"); return nil }),
		app.WithCloser(func() error { order = append(order, "audio"); return errors.New("boom") }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Activate(context.Background())

	if err := a.Shutdown(context.Background()); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Shutdown = %v, want closer error", err)
	}
	if strings.Join(order, ",") != "browser,audio" {
		t.Errorf("closer order = %v", order)
	}
	if a.Engine().Active() {
		t.Error("engine active after shutdown")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
