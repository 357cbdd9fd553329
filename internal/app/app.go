// Package app wires the voxfill subsystems into a running application.
//
// The App owns the full lifecycle: New builds the writer, matcher, engine
// session and listen loop from the config, Run serves the HTTP control
// surface until its context ends, and Shutdown tears everything down in
// order.
//
// Collaborators that touch hardware or a browser (microphone, recognizer,
// UI tree) are passed in through [Providers] so tests can substitute the
// mock packages.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxfill/internal/config"
	"github.com/MrWong99/voxfill/internal/engine"
	"github.com/MrWong99/voxfill/internal/fields"
	"github.com/MrWong99/voxfill/internal/health"
	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/resilience"
	"github.com/MrWong99/voxfill/internal/session"
	"github.com/MrWong99/voxfill/internal/ui"
	"github.com/MrWong99/voxfill/internal/writer"
	"github.com/MrWong99/voxfill/pkg/audio"
	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/types"
)

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 5 * time.Second

// Providers holds the external collaborators. Populated by main.go from the
// config registry.
type Providers struct {
	// Tree is the live UI tree. Required.
	Tree ui.Tree

	// Recognizer transcribes microphone audio. Required when Audio is set.
	Recognizer stt.Provider

	// Audio is the microphone. When nil no listen loop runs and transcripts
	// only arrive through POST /v1/transcripts.
	Audio audio.Source

	// Events delivers the host activation event. May be nil.
	Events ui.EventSource
}

// pinger is implemented by trees with a live connection to check.
type pinger interface {
	Ping(ctx context.Context) error
}

// chainStatus is implemented by recognizers with failover state.
type chainStatus interface {
	Healthy() bool
	Status() []resilience.EntryStatus
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	fieldWriter    engine.FieldWriter
	onFilled       func(fieldID, value string)
	onHeard        func(text string)

	engine   *engine.Session
	listener *session.Listener
	health   *health.Handler
	handler  http.Handler

	// lifeCtx scopes the listen loop; it ends in Shutdown.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu           sync.Mutex
	listenCancel context.CancelFunc
	listenDone   chan struct{}

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics overrides observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at server.metrics_path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets ApplyConfig change the log level of the running process.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithFieldWriter replaces the writer built from engine.event_delay.
func WithFieldWriter(w engine.FieldWriter) Option {
	return func(a *App) { a.fieldWriter = w }
}

// WithOnFieldFilled is called after every successful field write.
func WithOnFieldFilled(fn func(fieldID, value string)) Option {
	return func(a *App) { a.onFilled = fn }
}

// WithOnCommandRecognized is called with every transcript that passed the
// confidence filter.
func WithOnCommandRecognized(fn func(text string)) Option {
	return func(a *App) { a.onHeard = fn }
}

// WithCloser registers fn to run during Shutdown, after the app's own
// teardown. Closers run in registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New builds the application. It does not start listening; call Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.Tree == nil {
		return nil, errors.New("app: a UI tree is required")
	}
	if providers.Audio != nil && providers.Recognizer == nil {
		return nil, errors.New("app: a recognizer is required when audio capture is configured")
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.fieldWriter == nil {
		a.fieldWriter = writer.New(writer.WithEventDelay(cfg.Engine.EventDelay))
	}
	a.lifeCtx, a.lifeCancel = context.WithCancel(context.Background())

	matcher := buildMatcher(cfg.Engine)
	eng, err := engine.New(engine.Config{
		Tree:                providers.Tree,
		Writer:              a.fieldWriter,
		Matcher:             matcher,
		ActivationEvent:     cfg.Browser.ActivationEvent,
		SettleDelay:         cfg.Engine.SettleDelay,
		OnFieldFilled:       a.fieldFilled,
		OnCommandRecognized: a.commandRecognized,
		Metrics:             a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.engine = eng

	if providers.Audio != nil {
		l, err := session.NewListener(session.ListenerConfig{
			Source:     providers.Audio,
			Recognizer: providers.Recognizer,
			Stream: stt.StreamConfig{
				SampleRate: cfg.Recognizer.SampleRate,
				Language:   cfg.Recognizer.Language,
				Keywords:   keywordHints(matcher, cfg.Recognizer.KeywordBoost),
			},
			OnResult:             eng.HandleResult,
			OnUnavailable:        eng.Unavailable,
			NoSpeechRestartDelay: cfg.Recognizer.NoSpeechRestartDelay,
			ErrorRestartDelay:    cfg.Recognizer.ErrorRestartDelay,
			Metrics:              a.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.listener = l
	}

	a.health = health.New(a.checkers())
	a.handler = observe.Middleware(a.metrics)(a.routes())
	return a, nil
}

func buildMatcher(cfg config.EngineConfig) *fields.Matcher {
	var opts []fields.MatcherOption
	if cfg.PhoneticMatching {
		opts = append(opts, fields.WithPhonetic(cfg.PhoneticThreshold))
	}
	return fields.NewMatcher(fields.NewAliasTable(cfg.ExtraAliases), opts...)
}

// keywordHints returns the field vocabulary as recognizer keyword hints, or
// nil when boost is zero.
func keywordHints(m *fields.Matcher, boost float64) []types.KeywordBoost {
	if boost <= 0 {
		return nil
	}
	words := m.Aliases().Keywords()
	out := make([]types.KeywordBoost, 0, len(words))
	for _, w := range words {
		out = append(out, types.KeywordBoost{Keyword: w, Boost: boost})
	}
	return out
}

func (a *App) checkers() []health.Checker {
	cs := []health.Checker{{
		Name: "engine",
		Check: func(context.Context) error {
			if err := a.engine.Err(); err != nil {
				return err
			}
			if !a.engine.Active() {
				return errors.New("inactive")
			}
			return nil
		},
	}}
	if p, ok := a.providers.Tree.(pinger); ok {
		cs = append(cs, health.Checker{Name: "browser", Check: p.Ping})
	}
	if c, ok := a.providers.Recognizer.(chainStatus); ok {
		cs = append(cs, health.Checker{
			Name:          "recognizer",
			Informational: true,
			Check: func(context.Context) error {
				if !c.Healthy() {
					return resilience.ErrCircuitOpen
				}
				return nil
			},
		})
	}
	return cs
}

func (a *App) fieldFilled(fieldID, value string) {
	slog.Debug("app: field filled", "field_id", fieldID, "length", len(value))
	if a.onFilled != nil {
		a.onFilled(fieldID, value)
	}
}

func (a *App) commandRecognized(text string) {
	if a.onHeard != nil {
		a.onHeard(text)
	}
}

// Engine returns the engine session.
func (a *App) Engine() *engine.Session { return a.engine }

// Handler returns the HTTP control surface.
func (a *App) Handler() http.Handler { return a.handler }

// Activate starts automation and, when a microphone is configured, the
// listen loop. Activating an active app is a no-op.
func (a *App) Activate(ctx context.Context) {
	a.engine.Activate(ctx)
	if a.listener == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listenDone != nil || a.lifeCtx.Err() != nil {
		return
	}
	lctx, cancel := context.WithCancel(a.lifeCtx)
	done := make(chan struct{})
	a.listenCancel, a.listenDone = cancel, done
	go func() {
		defer close(done)
		defer cancel()
		if err := a.listener.Run(lctx); err != nil {
			slog.Error("app: listen loop ended", "err", err)
		}
		a.mu.Lock()
		if a.listenDone == done {
			a.listenCancel, a.listenDone = nil, nil
		}
		a.mu.Unlock()
	}()
}

// Deactivate stops the listen loop, so no further transcripts arrive, and
// returns the engine to inactive.
func (a *App) Deactivate() {
	a.mu.Lock()
	cancel, done := a.listenCancel, a.listenDone
	a.listenCancel, a.listenDone = nil, nil
	a.mu.Unlock()
	if done != nil {
		cancel()
		a.listener.Stop()
		<-done
	}
	a.engine.Deactivate()
}

// ApplyConfig applies a hot-reloaded configuration. Only the log level and
// the field vocabulary take effect at runtime; everything else is reported
// and needs a restart.
func (a *App) ApplyConfig(_, newCfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.MatcherChanged {
		a.engine.SetMatcher(buildMatcher(newCfg.Engine))
		slog.Info("app: field matcher reloaded",
			"phonetic", newCfg.Engine.PhoneticMatching,
			"extra_concepts", len(newCfg.Engine.ExtraAliases),
		)
	}
	if d.RestartRequired {
		slog.Warn("app: configuration changed in sections that need a restart")
	}
}

// Run serves the control surface on server.listen_addr and blocks until
// ctx is cancelled or the server fails. The activation event is bound for
// the lifetime of Run, and engine.auto_activate starts automation right
// away.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if src := a.providers.Events; src != nil {
		cancel, err := a.engine.Bind(gctx, src)
		if err != nil {
			return fmt.Errorf("app: bind activation event: %w", err)
		}
		defer cancel()
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("app: control surface listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if a.cfg.Engine.AutoActivate {
		a.Activate(gctx)
	}

	err := g.Wait()
	a.Deactivate()
	return err
}

// Shutdown stops the listen loop and runs every registered closer. It is
// safe to call more than once.
func (a *App) Shutdown(_ context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.lifeCancel()
		a.mu.Unlock()
		a.Deactivate()

		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return errors.Join(errs...)
}
