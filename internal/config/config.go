// Package config provides the configuration schema, loader, credential
// resolution, and provider registry for the voice relay.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Fixed capture format. Transcription backends expect 16 kHz mono.
const (
	CaptureSampleRate = 16000
	CaptureChannels   = 1
)

// DefaultRequestTimeout bounds a remote stage call when providers.*.timeout
// is not set. Local whisper inference is not bounded.
const DefaultRequestTimeout = 60 * time.Second

// Config is the root configuration structure. It is loaded from YAML with
// [Load] or [LoadFromReader]; a zero Config passed through [ApplyDefaults]
// is a working configuration apart from credentials and devices.
type Config struct {
	LogLevel   LogLevel         `yaml:"log_level"`
	Audio      AudioConfig      `yaml:"audio"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Server     ServerConfig     `yaml:"server"`
}

// AudioConfig holds device selection and capture settings.
type AudioConfig struct {
	// InputDevice and OutputDevice are catalog indexes. Nil or negative
	// means the operator is prompted at startup.
	InputDevice  *int `yaml:"input_device"`
	OutputDevice *int `yaml:"output_device"`

	// SampleRate and Channels must be 16000 and 1.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Duration is the fixed length of every capture. Default: 5s.
	Duration time.Duration `yaml:"duration"`

	// TempDir receives the per-turn WAV artifact. Default: os.TempDir().
	TempDir string `yaml:"temp_dir"`

	// KeepArtifacts disables removal of the previous turn's artifact.
	KeepArtifacts bool `yaml:"keep_artifacts"`

	// SaveReplies, when set, is the path the latest reply is written to as WAV.
	SaveReplies string `yaml:"save_replies"`
}

// ProvidersConfig selects the backend for each remote or local stage.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the configuration block shared by all provider kinds. Name
// selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "openai", "whisper-native").
	Name string `yaml:"name"`

	// APIKey authenticates against remote providers. When empty it is filled
	// from the environment by [ResolveCredentials].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider. For whisper-native it is a
	// model size selector or a ggml file path.
	Model string `yaml:"model"`

	// Voice is the speech synthesis voice (tts only).
	Voice string `yaml:"voice"`

	// SystemPrompt overrides the assistant persona (llm only).
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature and MaxTokens are optional generation knobs (llm only).
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	// Timeout bounds a single request. Zero uses the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// ResilienceConfig tunes the per-provider circuit breakers.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ServerConfig configures the optional metrics and health server.
type ServerConfig struct {
	// ListenAddr is the TCP address (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// Device returns the configured index and true when set and non-negative.
func Device(idx *int) (int, bool) {
	if idx == nil || *idx < 0 {
		return 0, false
	}
	return *idx, true
}

// OptString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptFloat extracts a numeric value from a provider Options map. YAML
// integers are accepted.
func OptFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// OptBool extracts a boolean value from a provider Options map.
func OptBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}
