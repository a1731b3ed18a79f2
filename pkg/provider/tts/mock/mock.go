// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to feed controlled audio to the session loop and to verify
// which text and voice reach the TTS backend.
//
// Example:
//
//	s := &mock.Synthesizer{Speech: &types.SynthesizedSpeech{Audio: pcm, SampleRate: 24000, Channels: 1}}
//	speech, _ := s.Synthesize(ctx, "hi there", "alloy")
package mock

import (
	"context"
	"sync"

	"github.com/lkeff/voicerelay/pkg/provider/tts"
	"github.com/lkeff/voicerelay/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice identifier passed to Synthesize.
	Voice string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
//
// When Speech is nil, Synthesize returns a short 24 kHz mono silence so
// callers always receive playable audio.
type Synthesizer struct {
	mu sync.Mutex

	// Speech is returned by Synthesize.
	Speech *types.SynthesizedSpeech

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// OnSynthesize, if set, runs before Synthesize returns.
	OnSynthesize func(ctx context.Context, text, voice string)

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (*types.SynthesizedSpeech, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	speech, err, hook := s.Speech, s.Err, s.OnSynthesize
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	if speech == nil {
		speech = &types.SynthesizedSpeech{
			Audio:      make([]byte, 480),
			SampleRate: 24000,
			Channels:   1,
			Format:     "pcm",
		}
	}
	return speech, nil
}

// CallCount returns the number of Synthesize calls.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Compile-time assertion that Synthesizer satisfies tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)
