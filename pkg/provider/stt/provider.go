// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber wraps a loaded recognition model (a local whisper.cpp model,
// a whisper-server process, or a remote API) and turns one captured clip into
// one transcript. Loading is done by each backend's constructor, once per
// session; Transcribe is then called once per turn.
//
// Implementations must be safe for concurrent use, although the session loop
// only ever issues one call at a time.
package stt

import (
	"context"
	"strings"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/types"
)

// DefaultSilenceThreshold is the normalised RMS energy below which a clip is
// treated as silence and transcribed to the empty string without inference.
// 0.01 is roughly 330 in 16-bit PCM units.
const DefaultSilenceThreshold = 0.01

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe returns the text recognised in clip. An empty Text is valid
	// output and means nothing intelligible was said. Failures are reported as
	// [*types.TranscriptionError].
	Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error)

	// Close releases the model and any connections. Calling Close more than
	// once is safe.
	Close() error
}

// IsSilent reports whether clip carries no usable speech energy.
func IsSilent(clip *types.AudioClip, threshold float64) bool {
	if clip == nil || len(clip.Samples) == 0 {
		return true
	}
	return audio.RMS(clip.Samples) < threshold
}

// nonSpeechMarkers are placeholders whisper models emit instead of text.
var nonSpeechMarkers = []string{
	"[BLANK_AUDIO]",
	"[SILENCE]",
	"(silence)",
	"[ Silence ]",
	"[NO SPEECH]",
}

// CleanText trims whitespace from a backend's raw output and drops the
// placeholders whisper emits for non-speech audio, so that silence always
// yields the empty string.
func CleanText(raw string) string {
	text := strings.TrimSpace(raw)
	for _, m := range nonSpeechMarkers {
		text = strings.ReplaceAll(text, m, "")
	}
	return strings.Join(strings.Fields(text), " ")
}
