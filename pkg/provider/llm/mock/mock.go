// Package mock provides a test double for the llm.Generator interface.
//
// Use Generator in unit tests to verify which user text the session loop
// forwards and to feed controlled replies without a live backend.
//
// Example:
//
//	g := &mock.Generator{Reply: "hi there"}
//	reply, err := g.Generate(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/lkeff/voicerelay/pkg/provider/llm"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// UserText is the text passed to Generate.
	UserText string
}

// Generator is a mock implementation of llm.Generator.
// Zero values make Generate return "" and a nil error.
type Generator struct {
	mu sync.Mutex

	// Reply is returned by Generate.
	Reply string

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// OnGenerate, if set, runs before Generate returns. Tests use it to act
	// while the loop is in the Generating state.
	OnGenerate func(ctx context.Context, userText string)

	// Calls records every invocation of Generate in order.
	Calls []GenerateCall
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, userText string) (string, error) {
	g.mu.Lock()
	g.Calls = append(g.Calls, GenerateCall{Ctx: ctx, UserText: userText})
	reply, err, hook := g.Reply, g.Err, g.OnGenerate
	g.mu.Unlock()

	if hook != nil {
		hook(ctx, userText)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// CallCount returns the number of Generate calls.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// Compile-time assertion that Generator satisfies llm.Generator.
var _ llm.Generator = (*Generator)(nil)
