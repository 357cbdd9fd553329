// Command voxfill fills web forms by voice. It listens on the microphone,
// drives a Chromium page over the DevTools protocol, and exposes an HTTP
// control surface for activation, state and health.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxfill/internal/app"
	"github.com/MrWong99/voxfill/internal/config"
	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/resilience"
	"github.com/MrWong99/voxfill/internal/ui/rodtree"
	"github.com/MrWong99/voxfill/pkg/audio/portaudio"
	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/provider/stt/deepgram"
	sttmock "github.com/MrWong99/voxfill/pkg/provider/stt/mock"
	oaistt "github.com/MrWong99/voxfill/pkg/provider/stt/openai"
	"github.com/MrWong99/voxfill/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxfill/pkg/provider/stt/whisper/native"
	"github.com/MrWong99/voxfill/pkg/provider/vad/webrtc"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	noMic := flag.Bool("no-mic", false, "do not capture audio; transcripts arrive only via POST /v1/transcripts")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxfill: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxfill: %v\n", err)
		}
		return 1
	}

	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxfill starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinRecognizers(reg)

	var closers []app.Option
	providers := &app.Providers{}

	if !*noMic {
		rec, recClosers, err := buildRecognizer(cfg, reg)
		if err != nil {
			slog.Error("failed to build recognizer", "err", err)
			return 1
		}
		for _, c := range recClosers {
			closers = append(closers, app.WithCloser(c))
		}
		providers.Recognizer = rec
		providers.Audio = portaudio.New(portaudio.Config{
			Device:          cfg.Audio.Device,
			SampleRate:      cfg.Recognizer.SampleRate,
			Channels:        1,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		})
	}

	tree, err := rodtree.Connect(ctx, rodtree.Config{
		DebuggerURL:  cfg.Browser.DebuggerURL,
		Bin:          cfg.Browser.Bin,
		Headless:     cfg.Browser.Headless,
		URL:          cfg.Browser.URL,
		FormSelector: cfg.Browser.FormSelector,
	})
	if err != nil {
		slog.Error("failed to connect to browser", "err", err)
		return 1
	}
	providers.Tree = tree
	providers.Events = tree
	closers = append(closers, app.WithCloser(tree.Close))

	printStartupSummary(cfg, *noMic)

	opts := append([]app.Option{
		app.WithLogLevel(&level),
		app.WithMetricsHandler(tel.MetricsHandler),
	}, closers...)
	application, err := app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = tree.Close()
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	slog.Info("stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// ---- recognizers ------------------------------------------------------------

// registerBuiltinRecognizers wires every recognizer that ships with voxfill
// into reg. Each factory applies the shared language, sample rate, no-speech
// timeout and VAD settings before its provider-specific ones.
func registerBuiltinRecognizers(reg *config.Registry) {
	reg.RegisterRecognizer("deepgram", func(e config.ProviderEntry, s config.Shared) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithLanguage(s.Language),
			deepgram.WithSampleRate(s.SampleRate),
		}
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		opts = append(opts,
			deepgram.WithSmartFormat(config.OptBool(e.Options, "smart_format", true)),
			deepgram.WithEndpointing(config.OptInt(e.Options, "endpointing_ms")),
		)
		if s.NoSpeechTimeout > 0 {
			opts = append(opts, deepgram.WithNoSpeechTimeout(s.NoSpeechTimeout))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	reg.RegisterRecognizer("whisper", func(e config.ProviderEntry, s config.Shared) (stt.Provider, error) {
		opts := []whisper.Option{
			whisper.WithLanguage(s.Language),
			whisper.WithSampleRate(s.SampleRate),
		}
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if ms := config.OptInt(e.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms := config.OptInt(e.Options, "max_buffer_ms"); ms > 0 {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		if s.NoSpeechTimeout > 0 {
			opts = append(opts, whisper.WithNoSpeechTimeout(s.NoSpeechTimeout))
		}
		if s.VAD != nil {
			opts = append(opts, whisper.WithVAD(s.VAD, s.VADMode))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(e config.ProviderEntry, s config.Shared) (stt.Provider, error) {
		modelPath := e.Model
		if modelPath == "" {
			modelPath = config.OptString(e.Options, "model_path")
		}
		opts := []native.Option{
			native.WithLanguage(s.Language),
			native.WithSampleRate(s.SampleRate),
		}
		if ms := config.OptInt(e.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, native.WithSilenceThresholdMs(ms))
		}
		if ms := config.OptInt(e.Options, "max_buffer_ms"); ms > 0 {
			opts = append(opts, native.WithMaxBufferDurationMs(ms))
		}
		if s.NoSpeechTimeout > 0 {
			opts = append(opts, native.WithNoSpeechTimeout(s.NoSpeechTimeout))
		}
		if s.VAD != nil {
			opts = append(opts, native.WithVAD(s.VAD, s.VADMode))
		}
		return native.New(modelPath, opts...)
	})

	reg.RegisterRecognizer("openai", func(e config.ProviderEntry, s config.Shared) (stt.Provider, error) {
		opts := []oaistt.Option{oaistt.WithLanguage(s.Language)}
		if e.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(e.BaseURL))
		}
		if ms := config.OptInt(e.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, oaistt.WithSilenceThresholdMs(ms))
		}
		if s.NoSpeechTimeout > 0 {
			opts = append(opts, oaistt.WithNoSpeechTimeout(s.NoSpeechTimeout))
		}
		if s.VAD != nil {
			opts = append(opts, oaistt.WithVAD(s.VAD, s.VADMode))
		}
		return oaistt.New(e.APIKey, e.Model, opts...)
	})

	// mock never hears anything; useful with POST /v1/transcripts.
	reg.RegisterRecognizer("mock", func(config.ProviderEntry, config.Shared) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	slog.Debug("registered recognizers", "names", reg.Recognizers())
}

// buildRecognizer creates the configured recognizer and its fallbacks. With
// fallbacks configured the result is a [resilience.RecognizerChain]. The
// returned closers release recognizers that hold native resources.
func buildRecognizer(cfg *config.Config, reg *config.Registry) (stt.Provider, []func() error, error) {
	shared := config.SharedFor(cfg, webrtc.New())

	var closers []func() error
	create := func(e config.ProviderEntry) (stt.Provider, error) {
		p, err := reg.CreateRecognizer(e, shared)
		if err != nil {
			return nil, err
		}
		if c, ok := p.(interface{ Close() error }); ok {
			closers = append(closers, c.Close)
		}
		slog.Info("recognizer created", "name", e.Name, "model", e.Model)
		return p, nil
	}

	primary, err := create(cfg.Recognizer.Provider)
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Recognizer.Fallbacks) == 0 {
		return primary, closers, nil
	}

	chain := resilience.NewRecognizerChain(primary, cfg.Recognizer.Provider.Name, resilience.FallbackConfig{})
	for _, e := range cfg.Recognizer.Fallbacks {
		p, err := create(e)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, err
		}
		chain.AddFallback(e.Name, p)
	}
	return chain, closers, nil
}

// ---- startup summary --------------------------------------------------------

func printStartupSummary(cfg *config.Config, noMic bool) {
	fmt.Println("+---------------------------------------+")
	fmt.Println("|        voxfill startup summary        |")
	fmt.Println("+---------------------------------------+")
	printRow("Recognizer", entryLabel(cfg.Recognizer.Provider))
	for _, e := range cfg.Recognizer.Fallbacks {
		printRow("  fallback", entryLabel(e))
	}
	printRow("Language", cfg.Recognizer.Language)
	mic := cfg.Audio.Device
	switch {
	case noMic:
		mic = "(disabled)"
	case mic == "":
		mic = "(default)"
	}
	printRow("Microphone", mic)
	browser := cfg.Browser.DebuggerURL
	if browser == "" {
		browser = "(launch)"
	}
	printRow("Browser", browser)
	printRow("Form", cfg.Browser.FormSelector)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("+---------------------------------------+")
}

func entryLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

func printRow(k, v string) {
	if len(v) > 22 {
		v = v[:19] + "..."
	}
	fmt.Printf("| %-12s : %-22s |\n", k, v)
}
