// Package deepgram provides a Deepgram-backed transcriber. Each clip is sent
// over the Deepgram live WebSocket API in one burst, the stream is closed, and
// the final results are joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/provider/stt"
	"github.com/lkeff/voicerelay/pkg/types"
)

const (
	// Name is the backend name used in errors and config.
	Name = "deepgram"

	defaultEndpoint = "wss://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	// chunkBytes is the size of each binary frame (250 ms at 16 kHz mono).
	chunkBytes = 8000
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		if model != "" {
			t.model = model
		}
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		if language != "" {
			t.language = language
		}
	}
}

// WithKeywords boosts recognition of the given words. Deepgram's keyword
// format is word:boost (e.g., "Eldrinax:5").
func WithKeywords(keywords map[string]float64) Option {
	return func(t *Transcriber) { t.keywords = keywords }
}

// WithEndpoint overrides the WebSocket base URL (scheme and host).
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) { t.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithSilenceThreshold sets the RMS level below which no request is made.
// Zero disables the shortcut.
func WithSilenceThreshold(threshold float64) Option {
	return func(t *Transcriber) { t.silenceThreshold = threshold }
}

// WithTimeout bounds one clip from dial to the final result. Zero means no
// bound beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) { t.timeout = d }
}

// Transcriber implements stt.Transcriber backed by the Deepgram API.
type Transcriber struct {
	apiKey           string
	model            string
	language         string
	keywords         map[string]float64
	endpoint         string
	silenceThreshold float64
	timeout          time.Duration
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:           apiKey,
		model:            defaultModel,
		language:         defaultLanguage,
		endpoint:         defaultEndpoint,
		silenceThreshold: stt.DefaultSilenceThreshold,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close is a no-op; every clip uses its own connection.
func (t *Transcriber) Close() error { return nil }

// buildURL constructs the listen endpoint URL for a clip.
func (t *Transcriber) buildURL(sampleRate, channels int) (string, error) {
	u, err := url.Parse(t.endpoint + "/v1/listen")
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", strconv.Itoa(max(channels, 1)))
	for kw, boost := range t.keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw, boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error) {
	if clip == nil {
		return nil, &types.TranscriptionError{Backend: Name, Err: errors.New("nil clip")}
	}
	if t.silenceThreshold > 0 && stt.IsSilent(clip, t.silenceThreshold) {
		return &types.Transcript{Text: "", Source: clip}, nil
	}

	text, err := t.infer(ctx, clip)
	if err != nil {
		return nil, &types.TranscriptionError{Backend: Name, Err: err}
	}
	return &types.Transcript{Text: stt.CleanText(text), Source: clip}, nil
}

func (t *Transcriber) infer(ctx context.Context, clip *types.AudioClip) (string, error) {
	wsURL, err := t.buildURL(clip.SampleRate, clip.Channels)
	if err != nil {
		return "", fmt.Errorf("build URL: %w", err)
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", types.NewRemoteError(Name, "transcribe", status, fmt.Errorf("dial: %w", err))
	}
	defer conn.CloseNow()

	pcm := audio.Int16ToBytes(clip.Samples)
	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return "", types.NewRemoteError(Name, "transcribe", 0, fmt.Errorf("send audio: %w", err))
		}
	}
	// CloseStream flushes pending audio; the server answers with the final
	// results and a Metadata message, then closes the socket.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", types.NewRemoteError(Name, "transcribe", 0, fmt.Errorf("close stream: %w", err))
	}

	text, err := collect(ctx, conn)
	if err != nil {
		return "", err
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return text, nil
}

// deepgramResponse is the JSON structure of a Results or Metadata event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// collect reads result events until the Metadata event or a normal close,
// joining the final transcripts in order.
func collect(ctx context.Context, conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return strings.Join(parts, " "), nil
			}
			return "", &types.RemoteServiceError{
				Provider: Name, Op: "transcribe",
				Kind: types.ClassifyTransport(err), Err: fmt.Errorf("read: %w", err),
			}
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "Metadata":
			return strings.Join(parts, " "), nil
		case "Results":
			if text, ok := finalText(resp); ok {
				parts = append(parts, text)
			}
		}
	}
}

// finalText returns the best alternative of a final result.
func finalText(resp deepgramResponse) (string, bool) {
	if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return "", false
	}
	text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
	return text, text != ""
}
