// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/provider/stt"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

// Native implements stt.Transcriber with an in-process whisper.cpp model.
// The model is loaded once by [NewNative]; every Transcribe call creates a
// fresh inference context from it.
type Native struct {
	model            whisperlib.Model
	modelPath        string
	language         string
	silenceThreshold float64

	// mu serialises inference; whisper.cpp contexts are CPU-bound and the
	// relay never needs two at once.
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithLanguage sets the language code for transcription (e.g., "en", "de").
// "auto" enables whisper's language detection. Defaults to "en".
func WithLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithSilenceThreshold sets the normalised RMS level below which a clip is
// returned as an empty transcript without running the model. Zero disables
// the shortcut. Defaults to stt.DefaultSilenceThreshold.
func WithSilenceThreshold(threshold float64) NativeOption {
	return func(n *Native) { n.silenceThreshold = threshold }
}

// NewNative loads the whisper.cpp model at modelPath. Loading takes several
// seconds for the larger models. The caller must call Close when the
// transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:            model,
		modelPath:        modelPath,
		language:         defaultLanguage,
		silenceThreshold: stt.DefaultSilenceThreshold,
	}
	for _, o := range opts {
		o(n)
	}
	slog.Info("whisper: model loaded", "path", modelPath, "language", n.language)
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	n.closeOnce.Do(func() {
		if n.model != nil {
			n.closeErr = n.model.Close()
		}
	})
	return n.closeErr
}

// Transcribe implements stt.Transcriber. Multi-channel clips are downmixed by
// averaging pairs; clips must already be at the model's 16 kHz rate.
func (n *Native) Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.TranscriptionError{Backend: NativeName, Err: err}
	}
	if clip == nil {
		return nil, &types.TranscriptionError{Backend: NativeName, Err: errors.New("nil clip")}
	}
	if clip.SampleRate != whisperlib.SampleRate {
		return nil, &types.TranscriptionError{
			Backend: NativeName,
			Err:     fmt.Errorf("clip is %d Hz, model expects %d Hz", clip.SampleRate, whisperlib.SampleRate),
		}
	}
	if n.silenceThreshold > 0 && stt.IsSilent(clip, n.silenceThreshold) {
		slog.Debug("whisper: clip is silent, skipping inference", "samples", len(clip.Samples))
		return &types.Transcript{Text: "", Source: clip}, nil
	}

	samples := clip.Samples
	if clip.Channels == 2 {
		samples = audio.StereoToMono(samples)
	}

	text, err := n.infer(audio.ToFloat32(samples))
	if err != nil {
		return nil, &types.TranscriptionError{Backend: NativeName, Err: err}
	}
	return &types.Transcript{Text: stt.CleanText(text), Source: clip}, nil
}

// infer runs whisper.cpp on a fresh context and joins the segment texts.
func (n *Native) infer(samples []float32) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
