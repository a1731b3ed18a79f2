// Package openai provides a Synthesizer backed by the OpenAI speech API.
//
// Replies are requested as raw PCM, which the API returns as 24 kHz 16-bit
// little-endian mono without a container.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lkeff/voicerelay/pkg/provider/internal/oaierr"
	"github.com/lkeff/voicerelay/pkg/provider/tts"
	"github.com/lkeff/voicerelay/pkg/types"
)

const (
	// Name is the backend name used in errors and config.
	Name = "openai"

	// DefaultModel and DefaultVoice are used when none are configured.
	DefaultModel = "tts-1"
	DefaultVoice = "alloy"

	// pcmSampleRate is the fixed rate of the API's "pcm" response format.
	pcmSampleRate = 24000
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	client oai.Client
	model  string
	speed  float64
}

type config struct {
	baseURL string
	timeout time.Duration
	speed   float64
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithSpeed sets the speaking rate in [0.25, 4.0]. Zero leaves the API default.
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// New constructs a Synthesizer. An empty model selects DefaultModel.
func New(apiKey, model string, opts ...Option) (*Synthesizer, error) {
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
	return &Synthesizer{client: oai.NewClient(reqOpts...), model: model, speed: cfg.speed}, nil
}

// Synthesize implements tts.Synthesizer. An empty voice selects DefaultVoice.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (*types.SynthesizedSpeech, error) {
	if err := tts.CheckText(text); err != nil {
		return nil, err
	}
	if voice == "" {
		voice = DefaultVoice
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if s.speed > 0 {
		params.Speed = oai.Float(s.speed)
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, oaierr.Remote(Name, "synthesize", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewRemoteError(Name, "synthesize", 0, fmt.Errorf("read audio: %w", err))
	}
	if len(pcm) == 0 {
		return nil, &types.RemoteServiceError{
			Provider: Name, Op: "synthesize", Kind: types.KindService,
			Err: errors.New("empty audio in response"),
		}
	}
	// A trailing odd byte would misalign every later sample.
	pcm = pcm[:len(pcm)&^1]

	return &types.SynthesizedSpeech{
		Audio:      pcm,
		SampleRate: pcmSampleRate,
		Channels:   1,
		Format:     "pcm",
	}, nil
}
