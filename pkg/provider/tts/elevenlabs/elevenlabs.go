// Package elevenlabs provides an ElevenLabs-backed Synthesizer using the
// ElevenLabs stream-input WebSocket API. The whole reply is sent as one text
// message followed by a flush, and the audio frames are collected into a
// single buffer.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/lkeff/voicerelay/pkg/provider/tts"
	"github.com/lkeff/voicerelay/pkg/types"
)

const (
	// Name is the backend name used in errors and config.
	Name = "elevenlabs"

	defaultEndpoint  = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring the ElevenLabs Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithOutputFormat sets the PCM output format ("pcm_16000", "pcm_22050",
// "pcm_24000", or "pcm_44100").
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) {
		if format != "" {
			s.outputFormat = format
		}
	}
}

// WithEndpoint overrides the WebSocket base URL (scheme and host).
func WithEndpoint(endpoint string) Option {
	return func(s *Synthesizer) { s.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithVoiceSettings sets stability and similarity boost in [0, 1].
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(s *Synthesizer) {
		s.settings = voiceSettings{Stability: stability, SimilarityBoost: similarityBoost}
	}
}

// WithTimeout bounds one synthesis from dial to the final frame. Zero means
// no bound beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.timeout = d }
}

// Synthesizer implements tts.Synthesizer backed by the ElevenLabs streaming API.
type Synthesizer struct {
	apiKey       string
	model        string
	outputFormat string
	endpoint     string
	settings     voiceSettings
	timeout      time.Duration
}

// New creates a new ElevenLabs Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	s := &Synthesizer{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		endpoint:     defaultEndpoint,
		settings:     voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	for _, o := range opts {
		o(s)
	}
	if !strings.HasPrefix(s.outputFormat, "pcm_") {
		return nil, fmt.Errorf("elevenlabs: output format %q is not raw PCM", s.outputFormat)
	}
	return s, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// buildURL constructs the stream-input WebSocket URL for a voice.
func (s *Synthesizer) buildURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", s.model)
	q.Set("output_format", s.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", s.endpoint, url.PathEscape(voiceID), q.Encode())
}

// Synthesize implements tts.Synthesizer. voice is an ElevenLabs voice ID.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (*types.SynthesizedSpeech, error) {
	if err := tts.CheckText(text); err != nil {
		return nil, err
	}
	if voice == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	conn, resp, err := websocket.Dial(ctx, s.buildURL(voice), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, types.NewRemoteError(Name, "synthesize", status, fmt.Errorf("dial: %w", err))
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 22)

	// The first message authenticates and must carry a single space.
	messages := []textMessage{
		{Text: " ", VoiceSettings: &s.settings, XiAPIKey: s.apiKey},
		{Text: strings.TrimSpace(text) + " ", Flush: true},
		{Text: ""},
	}
	for _, m := range messages {
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: encode message: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return nil, types.NewRemoteError(Name, "synthesize", 0, fmt.Errorf("send text: %w", err))
		}
	}

	pcm, err := collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(pcm) == 0 {
		return nil, &types.RemoteServiceError{
			Provider: Name, Op: "synthesize", Kind: types.KindService,
			Err: errors.New("no audio received"),
		}
	}
	return &types.SynthesizedSpeech{
		Audio:      pcm[:len(pcm)&^1],
		SampleRate: tts.RateFromFormat(s.outputFormat, 24000),
		Channels:   1,
		Format:     s.outputFormat,
	}, nil
}

// collect reads audio frames until the server marks the final frame or
// closes the connection normally.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return pcm, nil
			}
			kind := types.ClassifyTransport(err)
			if st := websocket.CloseStatus(err); st == websocket.StatusPolicyViolation {
				kind = kindFromMessage(err.Error())
			}
			return nil, &types.RemoteServiceError{Provider: Name, Op: "synthesize", Kind: kind, Err: fmt.Errorf("read: %w", err)}
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, &types.RemoteServiceError{
				Provider: Name, Op: "synthesize",
				Kind: kindFromMessage(resp.Error + " " + resp.Message),
				Err:  fmt.Errorf("%s: %s", resp.Error, resp.Message),
			}
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, &types.RemoteServiceError{Provider: Name, Op: "synthesize", Kind: types.KindService, Err: fmt.Errorf("decode audio: %w", err)}
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			return pcm, nil
		}
	}
}

// kindFromMessage maps ElevenLabs error codes to a RemoteKind.
func kindFromMessage(msg string) types.RemoteKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "auth"), strings.Contains(lower, "api key"), strings.Contains(lower, "api_key"):
		return types.KindAuth
	case strings.Contains(lower, "quota"), strings.Contains(lower, "rate_limit"),
		strings.Contains(lower, "rate limit"), strings.Contains(lower, "too_many"):
		return types.KindRateLimit
	default:
		return types.KindService
	}
}
