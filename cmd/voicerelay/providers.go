package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lkeff/voicerelay/internal/config"
	"github.com/lkeff/voicerelay/internal/observe"
	"github.com/lkeff/voicerelay/internal/resilience"
	"github.com/lkeff/voicerelay/pkg/provider/llm"
	"github.com/lkeff/voicerelay/pkg/provider/llm/anyllm"
	oaillm "github.com/lkeff/voicerelay/pkg/provider/llm/openai"
	"github.com/lkeff/voicerelay/pkg/provider/stt"
	"github.com/lkeff/voicerelay/pkg/provider/stt/deepgram"
	oaistt "github.com/lkeff/voicerelay/pkg/provider/stt/openai"
	"github.com/lkeff/voicerelay/pkg/provider/stt/whisper"
	"github.com/lkeff/voicerelay/pkg/provider/tts"
	"github.com/lkeff/voicerelay/pkg/provider/tts/coqui"
	"github.com/lkeff/voicerelay/pkg/provider/tts/elevenlabs"
	oaitts "github.com/lkeff/voicerelay/pkg/provider/tts/openai"
)

// defaultModelDir is where whisper-native looks for ggml files when the
// model_dir option is not set.
const defaultModelDir = "models"

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT(whisper.NativeName, func(entry config.ProviderEntry) (stt.Transcriber, error) {
		dir := config.OptString(entry.Options, "model_dir")
		if dir == "" {
			dir = defaultModelDir
		}
		path, err := whisper.ResolveModel(entry.Model, dir)
		if err != nil {
			return nil, err
		}
		var opts []whisper.NativeOption
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if th, ok := config.OptFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisper.WithSilenceThreshold(th))
		}
		slog.Info("loading whisper model", "path", path)
		return whisper.NewNative(path, opts...)
	})

	reg.RegisterSTT(whisper.ServerName, func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.ServerOption
		if entry.Model != "" {
			opts = append(opts, whisper.WithServerModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithServerLanguage(lang))
		}
		if th, ok := config.OptFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisper.WithServerSilenceThreshold(th))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{
				Timeout:   entry.Timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterSTT(oaistt.Name, func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(entry.Timeout))
		}
		if th, ok := config.OptFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, oaistt.WithSilenceThreshold(th))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT(deepgram.Name, func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []deepgram.Option{
			deepgram.WithModel(entry.Model),
			deepgram.WithLanguage(config.OptString(entry.Options, "language")),
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if kws, ok := entry.Options["keywords"].(map[string]any); ok {
			opts = append(opts, deepgram.WithKeywords(keywordBoosts(kws)))
		}
		if th, ok := config.OptFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, deepgram.WithSilenceThreshold(th))
		}
		if entry.Timeout > 0 {
			opts = append(opts, deepgram.WithTimeout(entry.Timeout))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM(oaillm.Name, func(entry config.ProviderEntry) (llm.Generator, error) {
		opts := []oaillm.Option{oaillm.WithPrompt(promptFor(entry))}
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaillm.WithTimeout(entry.Timeout))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other vendor goes through any-llm-go. They share the same
	// pattern: optional APIKey plus optional BaseURL.
	for _, vendor := range anyllm.Vendors {
		if vendor == oaillm.Name {
			continue
		}
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Generator, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(vendor, entry.Model, promptFor(entry), opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS(oaitts.Name, func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaitts.WithTimeout(entry.Timeout))
		}
		if speed, ok := config.OptFloat(entry.Options, "speed"); ok {
			opts = append(opts, oaitts.WithSpeed(speed))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS(elevenlabs.Name, func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		opts := []elevenlabs.Option{elevenlabs.WithModel(entry.Model)}
		if outputFmt := config.OptString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		stability, okS := config.OptFloat(entry.Options, "stability")
		similarity, okB := config.OptFloat(entry.Options, "similarity_boost")
		if okS && okB {
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		if entry.Timeout > 0 {
			opts = append(opts, elevenlabs.WithTimeout(entry.Timeout))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS(coqui.Name, func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		switch mode := strings.ToLower(config.OptString(entry.Options, "api_mode")); mode {
		case "", "standard":
		case "xtts":
			opts = append(opts, coqui.WithAPIMode(coqui.APIModeXTTS))
		default:
			return nil, fmt.Errorf("coqui: unknown api_mode %q (want standard or xtts)", mode)
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"stt", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// promptFor converts the llm entry's generation knobs into an [llm.Prompt].
func promptFor(entry config.ProviderEntry) llm.Prompt {
	p := llm.Prompt{SystemPrompt: entry.SystemPrompt, MaxTokens: entry.MaxTokens}
	if entry.Temperature != nil {
		p.Temperature = *entry.Temperature
	}
	return p
}

// keywordBoosts reads a keywords option such as {Eldrinax: 5}.
// Non-numeric boosts are ignored.
func keywordBoosts(opts map[string]any) map[string]float64 {
	out := make(map[string]float64, len(opts))
	for kw := range opts {
		if boost, ok := config.OptFloat(opts, kw); ok {
			out[kw] = boost
		}
	}
	return out
}

// stages holds the constructed backends for one run.
type stages struct {
	Transcriber stt.Transcriber
	Generator   *resilience.Generator
	Synthesizer *resilience.Synthesizer
}

// buildStages instantiates the configured providers and guards the remote
// generation and synthesis stages with a circuit breaker each. The
// transcriber is created first so a model load failure aborts startup before
// any network client exists.
func buildStages(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*stages, error) {
	t, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	g, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err), t.Close())
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	s, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err), t.Close())
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "voice", cfg.Providers.TTS.Voice)

	return &stages{
		Transcriber: t,
		Generator:   resilience.GuardGenerator(g, newBreaker(cfg, cfg.Providers.LLM.Name, m)),
		Synthesizer: resilience.GuardSynthesizer(s, newBreaker(cfg, cfg.Providers.TTS.Name, m)),
	}, nil
}

func newBreaker(cfg *config.Config, name string, m *observe.Metrics) *resilience.Breaker {
	return resilience.NewBreaker(resilience.Config{
		Name:         name,
		MaxFailures:  cfg.Resilience.MaxFailures,
		ResetTimeout: cfg.Resilience.ResetTimeout,
		OnStateChange: func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
}
