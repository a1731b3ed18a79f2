// Package llm defines the Generator interface for conversational model
// backends.
//
// A Generator wraps a remote or local chat model (OpenAI, Anthropic, a local
// Ollama instance, ...) and answers one user utterance at a time. Every call
// opens a fresh conversation made of exactly two messages: the fixed system
// persona and the user's text. No history is carried between calls.
//
// Implementations must be safe for concurrent use and must not retry failed
// requests; a failed turn is dropped and the operator re-triggers it.
package llm

import (
	"context"
	"errors"
	"strings"
)

// DefaultSystemPrompt is the persona used when none is configured.
const DefaultSystemPrompt = "You are a helpful assistant, responding in a conversational manner."

// ErrEmptyInput is returned by Generate for blank user text.
var ErrEmptyInput = errors.New("llm: user text must not be empty")

// Generator is the abstraction over any conversational model backend.
type Generator interface {
	// Generate sends userText as the sole user message of a new conversation
	// and returns the model's reply, trimmed of surrounding whitespace. An
	// empty reply is valid. Backend failures are returned as
	// [*types.RemoteServiceError].
	Generate(ctx context.Context, userText string) (string, error)
}

// Prompt holds the per-backend knobs shared by every implementation.
type Prompt struct {
	// SystemPrompt is the persona sent as the system message. Empty means
	// DefaultSystemPrompt.
	SystemPrompt string

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// System returns the effective system prompt.
func (p Prompt) System() string {
	if s := strings.TrimSpace(p.SystemPrompt); s != "" {
		return s
	}
	return DefaultSystemPrompt
}

// CheckInput validates user text before a request is made.
func CheckInput(userText string) error {
	if strings.TrimSpace(userText) == "" {
		return ErrEmptyInput
	}
	return nil
}
