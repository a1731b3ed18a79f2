package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// maxDuration caps the capture length; longer clips exceed what the
// transcription backends accept in one request.
const maxDuration = 5 * time.Minute

// ValidProviderNames lists known provider names per stage.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper-native", "whisper-server", "openai", "deepgram"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai", "elevenlabs", "coqui"},
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads, defaults, and validates the YAML configuration at path. An
// empty path means [DefaultPath]; when that file does not exist the defaults
// are returned. An explicitly named file must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			slog.Debug("no config file, using defaults", "path", path)
			cfg := Default()
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = CaptureSampleRate
	}
	if a.Channels == 0 {
		a.Channels = CaptureChannels
	}
	if a.Duration == 0 {
		a.Duration = 5 * time.Second
	}
	if a.TempDir == "" {
		a.TempDir = os.TempDir()
	}

	p := &cfg.Providers
	if p.STT.Name == "" {
		p.STT.Name = "whisper-native"
	}
	if p.STT.Name == "whisper-native" && p.STT.Model == "" {
		p.STT.Model = "base"
	}
	if p.LLM.Name == "" {
		p.LLM.Name = "openai"
	}
	if p.LLM.Name == "openai" && p.LLM.Model == "" {
		p.LLM.Model = "gpt-3.5-turbo"
	}
	if p.TTS.Name == "" {
		p.TTS.Name = "openai"
	}
	if p.TTS.Name == "openai" {
		if p.TTS.Model == "" {
			p.TTS.Model = "tts-1"
		}
		if p.TTS.Voice == "" {
			p.TTS.Voice = "alloy"
		}
	}

	for _, e := range []*ProviderEntry{&p.STT, &p.LLM, &p.TTS} {
		if e.Timeout == 0 && e.Name != "whisper-native" {
			e.Timeout = DefaultRequestTimeout
		}
	}

	if cfg.Resilience.MaxFailures == 0 {
		cfg.Resilience.MaxFailures = 5
	}
	if cfg.Resilience.ResetTimeout == 0 {
		cfg.Resilience.ResetTimeout = 30 * time.Second
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	a := cfg.Audio
	if a.SampleRate != CaptureSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be %d, got %d", CaptureSampleRate, a.SampleRate))
	}
	if a.Channels != CaptureChannels {
		errs = append(errs, fmt.Errorf("audio.channels must be %d, got %d", CaptureChannels, a.Channels))
	}
	if a.Duration <= 0 || a.Duration > maxDuration {
		errs = append(errs, fmt.Errorf("audio.duration %v is out of range (0, %v]", a.Duration, maxDuration))
	}
	if in, ok := Device(a.InputDevice); ok {
		if out, ok := Device(a.OutputDevice); ok && in == out {
			slog.Warn("input and output device share an index; the catalog lists directions separately", "index", in)
		}
	}

	for _, s := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"tts", cfg.Providers.TTS},
	} {
		if s.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", s.kind))
			continue
		}
		validateProviderName(s.kind, s.entry.Name)
		if s.entry.Timeout < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.timeout must not be negative", s.kind))
		}
	}

	llmEntry := cfg.Providers.LLM
	if t := llmEntry.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("providers.llm.temperature %.2f is out of range [0, 2]", *t))
	}
	if llmEntry.MaxTokens < 0 {
		errs = append(errs, errors.New("providers.llm.max_tokens must not be negative"))
	}
	if llmEntry.Name != "openai" && llmEntry.Model == "" {
		errs = append(errs, fmt.Errorf("providers.llm.model is required for %q", llmEntry.Name))
	}
	if cfg.Providers.TTS.Name == "elevenlabs" && cfg.Providers.TTS.Voice == "" {
		errs = append(errs, errors.New("providers.tts.voice is required for elevenlabs (a voice ID)"))
	}
	if cfg.Providers.STT.Name == "whisper-server" && cfg.Providers.STT.BaseURL == "" {
		errs = append(errs, errors.New("providers.stt.base_url is required for whisper-server"))
	}
	if cfg.Providers.TTS.Name == "coqui" && cfg.Providers.TTS.BaseURL == "" {
		errs = append(errs, errors.New("providers.tts.base_url is required for coqui"))
	}

	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, errors.New("resilience.max_failures must not be negative"))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience.reset_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not a known provider for
// kind. Unknown names fail later at registry lookup.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
