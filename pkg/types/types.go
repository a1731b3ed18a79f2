// Package types defines the values that flow between the voicerelay stages.
//
// Every turn produces exactly one value of each kind: an [AudioClip] from
// capture, a [Transcript] from the transcriber, a [ConversationTurn] once the
// model replied, and a [SynthesizedSpeech] buffer for playback. None of them is
// mutated after creation; stages build fresh values instead of editing inputs.
package types

import (
	"fmt"
	"time"
)

// Direction tells whether a device records or plays audio.
type Direction int

const (
	// Input devices capture audio (microphones, loopback inputs).
	Input Direction = iota

	// Output devices render audio (speakers, virtual cable inputs).
	Output
)

// String returns "input" or "output".
func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// DeviceDescriptor describes one audio endpoint reported by a device catalog.
// A descriptor is only meaningful for the lifetime of the catalog that produced
// it; indices may change once the host audio subsystem is re-initialised.
type DeviceDescriptor struct {
	// Index is the host audio API's device index.
	Index int

	// Name is the human-readable device name (e.g., "CABLE Input").
	Name string

	// Direction is Input or Output. Duplex hardware is listed once per direction.
	Direction Direction

	// SampleRates lists the rates (Hz) the device accepts for 16-bit mono audio.
	SampleRates []int

	// MaxChannels is the maximum channel count in Direction.
	MaxChannels int

	// HostAPI names the host audio API (e.g., "ALSA", "Windows WASAPI").
	HostAPI string
}

// SupportsRate reports whether rate is one of d's sample rates.
func (d DeviceDescriptor) SupportsRate(rate int) bool {
	for _, r := range d.SampleRates {
		if r == rate {
			return true
		}
	}
	return false
}

// String renders the descriptor the way the operator sees it in the catalog.
func (d DeviceDescriptor) String() string {
	return fmt.Sprintf("%3d  %-6s  %s", d.Index, d.Direction, d.Name)
}

// AudioClip is a fixed-duration recording of 16-bit signed PCM samples.
type AudioClip struct {
	// Samples holds interleaved samples; for the mono clips the relay records
	// this is one sample per frame.
	Samples []int16

	// SampleRate is the rate in Hz.
	SampleRate int

	// Channels is the channel count (1 for every captured clip).
	Channels int

	// ArtifactPath is the WAV file written alongside the clip. Empty when
	// artifact writing is disabled.
	ArtifactPath string
}

// Duration returns the playback length of the clip.
func (c *AudioClip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Transcript is the text recognised in exactly one AudioClip.
// An empty Text is valid and means nothing intelligible was said.
type Transcript struct {
	Text   string
	Source *AudioClip
}

// ConversationTurn is one round of user text and assistant reply. Turns are
// independent; no turn references another.
type ConversationTurn struct {
	// ID correlates log lines and metrics of one turn.
	ID string

	UserText      string
	AssistantText string
}

// SynthesizedSpeech is a complete synthesized reply ready for playback.
type SynthesizedSpeech struct {
	// Audio is little-endian 16-bit signed PCM.
	Audio []byte

	// SampleRate is the rate of Audio in Hz.
	SampleRate int

	// Channels is the channel count of Audio.
	Channels int

	// Format names the provider's wire format (e.g., "pcm", "pcm_24000").
	Format string
}

// Duration returns the playback length of the speech buffer.
func (s *SynthesizedSpeech) Duration() time.Duration {
	if s == nil || s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	frames := len(s.Audio) / (2 * s.Channels)
	return time.Duration(frames) * time.Second / time.Duration(s.SampleRate)
}
