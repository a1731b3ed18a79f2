// Package anyllm provides a multi-vendor Generator backed by
// github.com/mozilla-ai/any-llm-go, a unified interface over OpenAI,
// Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp, and llamafile.
//
// Usage:
//
//	g, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", llm.Prompt{}, anyllmlib.WithAPIKey("sk-ant-..."))
//	reply, err := g.Generate(ctx, "hello")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/lkeff/voicerelay/pkg/provider/llm"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Vendors lists the provider names accepted by New.
var Vendors = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Compile-time assertion that Generator satisfies llm.Generator.
var _ llm.Generator = (*Generator)(nil)

// Generator implements llm.Generator by wrapping an any-llm-go backend.
type Generator struct {
	backend anyllmlib.Provider
	vendor  string
	model   string
	prompt  llm.Prompt
}

// New creates a Generator for vendor (one of [Vendors]) and model.
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option the backend falls back to
// the vendor's environment variable (ANTHROPIC_API_KEY, GEMINI_API_KEY, ...).
func New(vendor string, model string, prompt llm.Prompt, opts ...anyllmlib.Option) (*Generator, error) {
	if vendor == "" {
		return nil, errors.New("anyllm: vendor must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}

	backend, err := createBackend(vendor, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", vendor, err)
	}
	return &Generator{backend: backend, vendor: strings.ToLower(vendor), model: model, prompt: prompt}, nil
}

// createBackend creates the underlying any-llm-go provider for vendor.
func createBackend(vendor string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(vendor) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported vendor %q; supported: %s", vendor, strings.Join(Vendors, ", "))
	}
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, userText string) (string, error) {
	if err := llm.CheckInput(userText); err != nil {
		return "", err
	}

	resp, err := g.backend.Completion(ctx, g.buildParams(userText))
	if err != nil {
		return "", g.remoteError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &types.RemoteServiceError{
			Provider: g.vendor, Op: "generate", Kind: types.KindService,
			Err: errors.New("empty choices in response"),
		}
	}
	if resp.Usage != nil {
		slog.Debug("anyllm: completion",
			"vendor", g.vendor,
			"model", g.model,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
	}
	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}

// buildParams builds the two-message request for one turn.
func (g *Generator) buildParams(userText string) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model: g.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: g.prompt.System()},
			{Role: anyllmlib.RoleUser, Content: userText},
		},
	}
	if g.prompt.Temperature != 0 {
		t := g.prompt.Temperature
		params.Temperature = &t
	}
	if g.prompt.MaxTokens > 0 {
		mt := g.prompt.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// remoteError classifies a backend error. any-llm-go normalises vendor
// errors into messages rather than typed status codes, so the kind is read
// from the transport error chain first and from well-known message
// fragments second.
func (g *Generator) remoteError(err error) *types.RemoteServiceError {
	kind, status := types.ClassifyRemote(err)
	if kind == types.KindService && status == 0 {
		kind = kindFromMessage(err.Error())
	}
	return &types.RemoteServiceError{Provider: g.vendor, Op: "generate", Kind: kind, StatusCode: status, Err: err}
}

func kindFromMessage(msg string) types.RemoteKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401"), strings.Contains(lower, "403"),
		strings.Contains(lower, "unauthorized"), strings.Contains(lower, "authentication"),
		strings.Contains(lower, "api key"), strings.Contains(lower, "permission"):
		return types.KindAuth
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "rate_limit"), strings.Contains(lower, "quota"):
		return types.KindRateLimit
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"),
		strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return types.KindNetwork
	default:
		return types.KindService
	}
}
