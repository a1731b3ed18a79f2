package resilience

import (
	"context"

	"github.com/lkeff/voicerelay/pkg/provider/llm"
	"github.com/lkeff/voicerelay/pkg/provider/tts"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Generator wraps an [llm.Generator] with a [Breaker].
type Generator struct {
	inner   llm.Generator
	breaker *Breaker
}

// Compile-time interface assertion.
var _ llm.Generator = (*Generator)(nil)

// GuardGenerator returns g guarded by b.
func GuardGenerator(g llm.Generator, b *Breaker) *Generator {
	return &Generator{inner: g, breaker: b}
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, userText string) (string, error) {
	var reply string
	err := g.breaker.Execute("generate", func() error {
		var err error
		reply, err = g.inner.Generate(ctx, userText)
		return err
	})
	return reply, err
}

// Breaker returns the breaker guarding the generator.
func (g *Generator) Breaker() *Breaker { return g.breaker }

// Synthesizer wraps a [tts.Synthesizer] with a [Breaker].
type Synthesizer struct {
	inner   tts.Synthesizer
	breaker *Breaker
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// GuardSynthesizer returns s guarded by b.
func GuardSynthesizer(s tts.Synthesizer, b *Breaker) *Synthesizer {
	return &Synthesizer{inner: s, breaker: b}
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (*types.SynthesizedSpeech, error) {
	var speech *types.SynthesizedSpeech
	err := s.breaker.Execute("synthesize", func() error {
		var err error
		speech, err = s.inner.Synthesize(ctx, text, voice)
		return err
	})
	return speech, err
}

// Breaker returns the breaker guarding the synthesizer.
func (s *Synthesizer) Breaker() *Breaker { return s.breaker }
