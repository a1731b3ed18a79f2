package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/provider/stt"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Compile-time assertion that Server satisfies stt.Transcriber.
var _ stt.Transcriber = (*Server)(nil)

// Server implements stt.Transcriber against a whisper.cpp whisper-server
// process. The model lives in the server; the transcriber only holds an HTTP
// client.
type Server struct {
	serverURL        string
	model            string
	language         string
	silenceThreshold float64
	httpClient       *http.Client
}

// ServerOption is a functional option for configuring a Server transcriber.
type ServerOption func(*Server)

// WithServerModel sets the model identifier forwarded to the server. When
// empty the server uses whichever model it was started with.
func WithServerModel(model string) ServerOption {
	return func(s *Server) { s.model = model }
}

// WithServerLanguage sets the language code sent with every request.
// Defaults to "en".
func WithServerLanguage(lang string) ServerOption {
	return func(s *Server) { s.language = lang }
}

// WithServerSilenceThreshold sets the RMS level below which no request is
// made. Zero disables the shortcut.
func WithServerSilenceThreshold(threshold float64) ServerOption {
	return func(s *Server) { s.silenceThreshold = threshold }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) ServerOption {
	return func(s *Server) { s.httpClient = c }
}

// NewServer creates a Server transcriber for the whisper-server at serverURL
// (e.g., "http://localhost:8080").
func NewServer(serverURL string, opts ...ServerOption) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:        serverURL,
		language:         defaultLanguage,
		silenceThreshold: stt.DefaultSilenceThreshold,
		httpClient:       &http.Client{Timeout: 30 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close is a no-op; the server owns the model.
func (s *Server) Close() error { return nil }

// Transcribe implements stt.Transcriber. The clip's WAV artifact is uploaded
// when present; otherwise the samples are encoded in memory.
func (s *Server) Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error) {
	if clip == nil {
		return nil, &types.TranscriptionError{Backend: ServerName, Err: errors.New("nil clip")}
	}
	if s.silenceThreshold > 0 && stt.IsSilent(clip, s.silenceThreshold) {
		return &types.Transcript{Text: "", Source: clip}, nil
	}

	wav, err := clipWAV(clip)
	if err != nil {
		return nil, &types.TranscriptionError{Backend: ServerName, Err: err}
	}
	text, err := s.infer(ctx, wav)
	if err != nil {
		return nil, &types.TranscriptionError{Backend: ServerName, Err: err}
	}
	return &types.Transcript{Text: stt.CleanText(text), Source: clip}, nil
}

// clipWAV returns the WAV bytes for clip, preferring the on-disk artifact.
func clipWAV(clip *types.AudioClip) ([]byte, error) {
	if clip.ArtifactPath != "" {
		data, err := os.ReadFile(clip.ArtifactPath)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read artifact: %w", err)
		}
	}
	return audio.EncodeWAV(clip.Samples, clip.SampleRate, clip.Channels)
}

// infer POSTs wav to the /inference endpoint as multipart/form-data and
// returns the transcribed text.
func (s *Server) infer(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("write response_format field: %w", err)
	}
	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return "", fmt.Errorf("write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parse JSON response: %w", err)
	}
	return result.Text, nil
}
