// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A Synthesizer turns one reply into one complete buffer of 16-bit PCM. The
// relay never streams partial audio to the output device; backends that speak
// a streaming protocol collect the whole reply before returning.
//
// Implementations must be safe for concurrent use and must not retry failed
// requests.
package tts

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/lkeff/voicerelay/pkg/types"
)

// ErrEmptyText is returned by Synthesize for blank text. The session loop
// never calls Synthesize with an empty reply.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text with voice and returns the complete audio.
	// voice is backend-specific (an OpenAI voice name, an ElevenLabs voice ID,
	// a Coqui speaker). Backend failures are returned as
	// [*types.RemoteServiceError].
	Synthesize(ctx context.Context, text, voice string) (*types.SynthesizedSpeech, error)
}

// CheckText validates text before a request is made.
func CheckText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

// RateFromFormat extracts the sample rate from a "pcm_<rate>" format name.
// It returns fallback when format carries no rate.
func RateFromFormat(format string, fallback int) int {
	_, suffix, ok := strings.Cut(format, "_")
	if !ok {
		return fallback
	}
	rate, err := strconv.Atoi(suffix)
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}
