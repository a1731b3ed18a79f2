// Package openai provides a Generator backed by the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/lkeff/voicerelay/pkg/provider/internal/oaierr"
	"github.com/lkeff/voicerelay/pkg/provider/llm"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Name is the backend name used in errors and config.
const Name = "openai"

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-3.5-turbo"

var _ llm.Generator = (*Generator)(nil)

// Generator implements llm.Generator using the OpenAI API.
type Generator struct {
	client oai.Client
	model  string
	prompt llm.Prompt
}

// config holds optional configuration for the generator.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	prompt       llm.Prompt
}

// Option is a functional option for Generator.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any
// OpenAI-compatible server (vLLM, LM Studio, ...) works.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithPrompt sets the persona and sampling knobs.
func WithPrompt(p llm.Prompt) Option {
	return func(c *config) { c.prompt = p }
}

// New constructs a Generator. An empty model selects DefaultModel.
func New(apiKey string, model string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	// The SDK retries 429 and 5xx by default; a failed turn must surface instead.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Generator{client: oai.NewClient(reqOpts...), model: model, prompt: cfg.prompt}, nil
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, userText string) (string, error) {
	if err := llm.CheckInput(userText); err != nil {
		return "", err
	}

	resp, err := g.client.Chat.Completions.New(ctx, g.buildParams(userText))
	if err != nil {
		return "", oaierr.Remote(Name, "generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", &types.RemoteServiceError{
			Provider: Name, Op: "generate", Kind: types.KindService,
			Err: errors.New("empty choices in response"),
		}
	}

	slog.Debug("openai: chat completion",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Model returns the configured model name.
func (g *Generator) Model() string { return g.model }

// buildParams builds the two-message request for one turn.
func (g *Generator) buildParams(userText string) oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(g.prompt.System()),
			oai.UserMessage(userText),
		},
	}
	if g.prompt.Temperature != 0 {
		params.Temperature = param.NewOpt(g.prompt.Temperature)
	}
	if g.prompt.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(g.prompt.MaxTokens))
	}
	return params
}

// String implements fmt.Stringer for log output.
func (g *Generator) String() string { return fmt.Sprintf("openai(%s)", g.model) }
