// Package coqui provides a Synthesizer for a self-hosted Coqui TTS server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with query
//     parameters.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body naming a studio speaker.
//
// Both servers answer with a WAV file, which is decoded to raw PCM.
//
// Typical usage:
//
//	s, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	speech, err := s.Synthesize(ctx, "hi there", "p225")
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/provider/tts"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Name is the backend name used in errors and config.
const Name = "coqui"

const (
	defaultTimeout = 60 * time.Second

	apiTTSEndpoint  = "/api/tts"
	xttsTTSEndpoint = "/tts_to_audio/"
)

// APIMode selects which Coqui server flavour the synthesizer talks to.
type APIMode int

const (
	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = iota

	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS
)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithLanguage sets the language ID sent with every request (e.g., "en").
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) { s.language = lang }
}

// WithTimeout sets the HTTP client timeout. Defaults to 60 s; CPU-only
// servers can take tens of seconds for long replies.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.httpClient.Timeout = d }
}

// WithAPIMode selects the server flavour. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(s *Synthesizer) { s.apiMode = mode }
}

// Synthesizer implements tts.Synthesizer against a Coqui TTS server.
type Synthesizer struct {
	serverURL  string
	language   string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Synthesizer for the server at serverURL.
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// xttsRequest is the JSON body for POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Synthesizer. voice is a speaker ID; in XTTS mode
// it is required and names a studio speaker.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (*types.SynthesizedSpeech, error) {
	if err := tts.CheckText(text); err != nil {
		return nil, err
	}

	var req *http.Request
	var err error
	switch s.apiMode {
	case APIModeXTTS:
		if voice == "" {
			return nil, errors.New("coqui: XTTS mode requires a speaker voice")
		}
		lang := s.language
		if lang == "" {
			lang = "en"
		}
		body, merr := json.Marshal(xttsRequest{Text: text, SpeakerWav: voice, Language: lang})
		if merr != nil {
			return nil, fmt.Errorf("coqui: encode request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+xttsTTSEndpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		params := url.Values{}
		params.Set("text", text)
		if voice != "" {
			params.Set("speaker_id", voice)
		}
		if s.language != "" {
			params.Set("language_id", s.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, types.NewRemoteError(Name, "synthesize", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewRemoteError(Name, "synthesize", resp.StatusCode,
			fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg)))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewRemoteError(Name, "synthesize", 0, fmt.Errorf("read WAV response: %w", err))
	}
	samples, rate, channels, err := audio.ReadWAV(bytes.NewReader(wav))
	if err != nil {
		return nil, &types.RemoteServiceError{Provider: Name, Op: "synthesize", Kind: types.KindService, Err: err}
	}
	if len(samples) == 0 {
		return nil, &types.RemoteServiceError{Provider: Name, Op: "synthesize", Kind: types.KindService, Err: errors.New("empty audio in response")}
	}

	return &types.SynthesizedSpeech{
		Audio:      audio.Int16ToBytes(samples),
		SampleRate: rate,
		Channels:   channels,
		Format:     "wav",
	}, nil
}
