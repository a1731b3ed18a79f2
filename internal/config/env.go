package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// ErrMissingCredential is returned by [ResolveCredentials] when a remote
// provider has no API key in the config or the environment.
var ErrMissingCredential = errors.New("config: missing credential")

// PlaceholderAPIKey is filled in for a remote provider that has a custom
// base_url but no key. Compatible local servers ignore it, and the provider
// constructors require a non-empty key.
const PlaceholderAPIKey = "no-key"

// DefaultDotenvPath is the dotenv file loaded when none is named.
const DefaultDotenvPath = ".env"

// credentialEnv lists, per provider name, the environment variables that may
// hold its API key, in lookup order. Providers absent from the map run
// locally and need no key.
var credentialEnv = map[string][]string{
	"openai":     {"OPENAI_API_KEY"},
	"elevenlabs": {"ELEVENLABS_API_KEY", "XI_API_KEY"},
	"deepgram":   {"DEEPGRAM_API_KEY"},
	"anthropic":  {"ANTHROPIC_API_KEY"},
	"gemini":     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"deepseek":   {"DEEPSEEK_API_KEY"},
	"mistral":    {"MISTRAL_API_KEY"},
	"groq":       {"GROQ_API_KEY"},
}

// LoadDotenv loads environment variables from the dotenv file at path.
// Variables already present in the environment are never overridden. A
// missing file is only an error when explicit is true.
func LoadDotenv(path string, explicit bool) error {
	if path == "" {
		path = DefaultDotenvPath
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			slog.Debug("no dotenv file", "path", path)
			return nil
		}
		return fmt.Errorf("config: load dotenv %q: %w", path, err)
	}
	slog.Debug("loaded dotenv file", "path", path)
	return nil
}

// ResolveCredentials fills empty api_key fields from the environment using
// getenv (os.Getenv when nil). Every remote provider left without a key is
// reported; the joined error matches [ErrMissingCredential].
func ResolveCredentials(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	var errs []error
	for _, s := range []struct {
		kind  string
		entry *ProviderEntry
	}{
		{"stt", &cfg.Providers.STT},
		{"llm", &cfg.Providers.LLM},
		{"tts", &cfg.Providers.TTS},
	} {
		vars, remote := credentialEnv[s.entry.Name]
		if !remote || s.entry.APIKey != "" {
			continue
		}
		for _, v := range vars {
			if key := getenv(v); key != "" {
				s.entry.APIKey = key
				break
			}
		}
		if s.entry.APIKey != "" {
			continue
		}
		// A custom base URL points at a compatible server that may not
		// need a key (e.g., a local OpenAI-compatible endpoint).
		if s.entry.BaseURL != "" {
			slog.Warn("no API key for custom base_url, sending a placeholder",
				"kind", s.kind, "provider", s.entry.Name, "base_url", s.entry.BaseURL)
			s.entry.APIKey = PlaceholderAPIKey
			continue
		}
		errs = append(errs, fmt.Errorf("%w: providers.%s (%s) needs an API key; set %s",
			ErrMissingCredential, s.kind, s.entry.Name, vars[0]))
	}
	return errors.Join(errs...)
}
