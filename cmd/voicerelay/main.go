// Command voicerelay is the interactive turn-based voice relay: each press of
// Enter records a clip from the chosen input device, transcribes it, asks a
// conversational model for a reply, and plays the synthesized reply on the
// chosen output device.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/lkeff/voicerelay/internal/config"
	"github.com/lkeff/voicerelay/internal/health"
	"github.com/lkeff/voicerelay/internal/observe"
	"github.com/lkeff/voicerelay/internal/session"
	"github.com/lkeff/voicerelay/pkg/audio/portaudio"
	"github.com/lkeff/voicerelay/pkg/types"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (default "+config.DefaultPath+" when present)")
	dotenvPath := flag.String("dotenv", config.DefaultDotenvPath, "path to a dotenv file with API credentials")
	inputIdx := flag.Int("input", -1, "input device index (prompted when negative and not configured)")
	outputIdx := flag.Int("output", -1, "output device index (prompted when negative and not configured)")
	listOnly := flag.Bool("list-devices", false, "print the audio device catalog and exit")
	flag.Parse()

	dotenvExplicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "dotenv" {
			dotenvExplicit = true
		}
	})

	// ── Configuration ─────────────────────────────────────────────────────────
	if err := config.LoadDotenv(*dotenvPath, dotenvExplicit); err != nil {
		fmt.Fprintf(os.Stderr, "voicerelay: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicerelay: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicerelay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("voicerelay starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Audio host ────────────────────────────────────────────────────────────
	host, err := portaudio.Open(portaudio.WithArtifactDir(cfg.Audio.TempDir))
	if err != nil {
		slog.Error("failed to open audio host", "err", err)
		return 1
	}
	defer host.Close()

	devices, err := host.ListDevices(context.Background())
	if err != nil {
		slog.Error("failed to enumerate audio devices", "err", err)
		return 1
	}
	printCatalog(os.Stdout, devices)
	if *listOnly {
		return 0
	}
	if err := config.ResolveCredentials(cfg, nil); err != nil {
		fmt.Fprintf(os.Stderr, "voicerelay: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "voicerelay: no audio devices found")
		return 1
	}

	// Device prompts and the turn trigger share one reader so no typed
	// line is lost between them.
	stdin := bufio.NewReader(os.Stdin)
	input, output, err := chooseDevices(stdin, os.Stdout, devices, cfg, *inputIdx, *outputIdx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicerelay: %v\n", err)
		return 1
	}
	slog.Info("devices selected", "input", input.Name, "output", output.Name)

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	st, err := buildStages(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer func() {
		if err := st.Transcriber.Close(); err != nil {
			slog.Warn("transcriber close error", "err", err)
		}
	}()

	loop, err := session.New(session.Context{
		Input:       input,
		Output:      output,
		Duration:    cfg.Audio.Duration,
		SampleRate:  cfg.Audio.SampleRate,
		Voice:       cfg.Providers.TTS.Voice,
		Capturer:    host,
		Transcriber: st.Transcriber,
		Generator:   st.Generator,
		Synthesizer: st.Synthesizer,
		Player:      host,
		Providers: session.ProviderNames{
			STT: cfg.Providers.STT.Name,
			LLM: cfg.Providers.LLM.Name,
			TTS: cfg.Providers.TTS.Name,
		},
		Timeouts: session.StageTimeouts{
			STT: cfg.Providers.STT.Timeout,
			LLM: cfg.Providers.LLM.Timeout,
			TTS: cfg.Providers.TTS.Timeout,
		},
		KeepArtifacts: cfg.Audio.KeepArtifacts,
		SaveReplies:   cfg.Audio.SaveReplies,
	}, session.NewLineTrigger(stdin),
		session.WithReporter(session.NewConsoleReporter(os.Stdout)),
		session.WithMetrics(metrics),
		session.WithObserver(session.NewMetricsObserver(metrics)),
	)
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}

	printStartupSummary(os.Stdout, cfg, input, output)

	// ── Run ───────────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})
	g.Go(func() error {
		defer close(loopDone)
		return loop.Run(gctx)
	})
	// After the first signal the in-flight turn finishes; restoring the
	// default handlers lets a second Ctrl+C kill the process.
	go func() {
		select {
		case <-ctx.Done():
			stop()
			slog.Info("shutting down after the current turn; press Ctrl+C again to force exit")
		case <-loopDone:
		}
	}()

	if addr := cfg.Server.ListenAddr; addr != "" {
		srv := newServer(addr, tel.MetricsHandler, loop, metrics)
		g.Go(func() error {
			slog.Info("observability server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("observability server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-loopDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// chooseDevices binds the input and output devices. A non-negative flag
// wins over the config file; the operator is prompted when neither is set.
func chooseDevices(in *bufio.Reader, out io.Writer, devices []types.DeviceDescriptor, cfg *config.Config, inputFlag, outputFlag int) (types.DeviceDescriptor, types.DeviceDescriptor, error) {
	input, err := selectDevice(in, out, devices, types.Input, choiceFor(inputFlag, cfg.Audio.InputDevice))
	if err != nil {
		return types.DeviceDescriptor{}, types.DeviceDescriptor{}, err
	}
	output, err := selectDevice(in, out, devices, types.Output, choiceFor(outputFlag, cfg.Audio.OutputDevice))
	if err != nil {
		return types.DeviceDescriptor{}, types.DeviceDescriptor{}, err
	}
	return input, output, nil
}

func choiceFor(flagIdx int, configured *int) deviceChoice {
	if flagIdx >= 0 {
		return deviceChoice{index: flagIdx, set: true}
	}
	idx, ok := config.Device(configured)
	return deviceChoice{index: idx, set: ok}
}

// newServer builds the /metrics, /healthz, and /readyz server.
func newServer(addr string, metricsHandler http.Handler, loop *session.Loop, m *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	health.New(loop, health.LoopChecker("session", loop)).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, input, output types.DeviceDescriptor) {
	fmt.Fprintln(w, "voicerelay ready")
	fmt.Fprintf(w, "  Input   : %s\n", input.Name)
	fmt.Fprintf(w, "  Output  : %s\n", output.Name)
	fmt.Fprintf(w, "  Clip    : %s at %d Hz\n", cfg.Audio.Duration, cfg.Audio.SampleRate)
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Voice)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "  Metrics : http://%s/metrics\n", cfg.Server.ListenAddr)
	}
}

func printProvider(w io.Writer, kind, name, detail string) {
	value := name
	if detail != "" {
		value = name + " / " + detail
	}
	fmt.Fprintf(w, "  %-8s: %s\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
