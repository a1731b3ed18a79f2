// Package openai provides a remote Transcriber backed by the OpenAI audio
// transcription API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/provider/internal/oaierr"
	"github.com/lkeff/voicerelay/pkg/provider/stt"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Name is the backend name used in errors and config.
const Name = "openai"

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client           oai.Client
	model            string
	language         string
	silenceThreshold float64
}

type config struct {
	baseURL          string
	language         string
	timeout          time.Duration
	silenceThreshold float64
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 language hint (e.g., "en").
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithSilenceThreshold sets the RMS level below which no request is made.
// Zero disables the shortcut.
func WithSilenceThreshold(threshold float64) Option {
	return func(c *config) { c.silenceThreshold = threshold }
}

// New constructs a Transcriber. model defaults to whisper-1.
func New(apiKey, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}
	cfg := &config{silenceThreshold: stt.DefaultSilenceThreshold}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Transcriber{
		client:           oai.NewClient(reqOpts...),
		model:            model,
		language:         cfg.language,
		silenceThreshold: cfg.silenceThreshold,
	}, nil
}

// Close is a no-op.
func (t *Transcriber) Close() error { return nil }

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error) {
	if clip == nil {
		return nil, &types.TranscriptionError{Backend: Name, Err: errors.New("nil clip")}
	}
	if t.silenceThreshold > 0 && stt.IsSilent(clip, t.silenceThreshold) {
		return &types.Transcript{Text: "", Source: clip}, nil
	}

	var wav []byte
	var err error
	if clip.ArtifactPath != "" {
		wav, err = os.ReadFile(clip.ArtifactPath)
	} else {
		wav, err = audio.EncodeWAV(clip.Samples, clip.SampleRate, clip.Channels)
	}
	if err != nil {
		return nil, &types.TranscriptionError{Backend: Name, Err: fmt.Errorf("load clip audio: %w", err)}
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "clip.wav", "audio/wav"),
		Model: oai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, &types.TranscriptionError{Backend: Name, Err: oaierr.Remote(Name, "transcribe", err)}
	}
	return &types.Transcript{Text: stt.CleanText(resp.Text), Source: clip}, nil
}
