package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lkeff/voicerelay/pkg/types"
)

// fakeServer mimics the stream-input endpoint. It checks the handshake,
// waits for the flush, and answers with the given frames.
func fakeServer(t *testing.T, frames []audioResponse, texts chan<- []textMessage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/stream-input") {
			http.NotFound(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		var got []textMessage
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var m textMessage
			json.Unmarshal(data, &m)
			got = append(got, m)
			if m.Text == "" {
				break
			}
		}
		if texts != nil {
			texts <- got
		}
		for _, f := range frames {
			data, _ := json.Marshal(f)
			if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	s, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.model != defaultModel || s.outputFormat != defaultOutputFmt || s.endpoint != defaultEndpoint {
		t.Errorf("defaults = %q %q %q", s.model, s.outputFormat, s.endpoint)
	}
}

func TestNew_RejectsCompressedFormat(t *testing.T) {
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Fatal("expected error for mp3 format")
	}
}

func TestBuildURL(t *testing.T) {
	s, _ := New("key", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_16000"))
	got := s.buildURL("voice123")
	want := "wss://api.elevenlabs.io/v1/text-to-speech/voice123/stream-input?model_id=eleven_turbo_v2&output_format=pcm_16000"
	if got != want {
		t.Errorf("buildURL = %q, want %q", got, want)
	}
}

func TestSynthesize_CollectsFrames(t *testing.T) {
	texts := make(chan []textMessage, 1)
	srv := fakeServer(t, []audioResponse{
		{Audio: b64([]byte{1, 0, 2, 0})},
		{Audio: b64([]byte{3, 0})},
		{IsFinal: true},
	}, texts)

	s, _ := New("secret", WithEndpoint(srv.URL), WithOutputFormat("pcm_16000"))
	speech, err := s.Synthesize(context.Background(), "hi there", "voice123")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(speech.Audio) != string([]byte{1, 0, 2, 0, 3, 0}) {
		t.Errorf("audio = %v", speech.Audio)
	}
	if speech.SampleRate != 16000 || speech.Channels != 1 {
		t.Errorf("format = %d Hz %d ch", speech.SampleRate, speech.Channels)
	}

	msgs := <-texts
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[0].XiAPIKey != "secret" || msgs[0].Text != " " || msgs[0].VoiceSettings == nil {
		t.Errorf("handshake = %+v", msgs[0])
	}
	if msgs[1].Text != "hi there " || !msgs[1].Flush {
		t.Errorf("text message = %+v", msgs[1])
	}
}

func TestSynthesize_NormalCloseWithoutFinal(t *testing.T) {
	srv := fakeServer(t, []audioResponse{{Audio: b64([]byte{5, 0})}}, nil)
	s, _ := New("key", WithEndpoint(srv.URL))
	speech, err := s.Synthesize(context.Background(), "hi", "v")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(speech.Audio) != 2 {
		t.Errorf("audio len = %d, want 2", len(speech.Audio))
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := fakeServer(t, []audioResponse{{Error: "quota_exceeded", Message: "This request exceeds your quota."}}, nil)
	s, _ := New("key", WithEndpoint(srv.URL))
	_, err := s.Synthesize(context.Background(), "hi", "v")
	var remote *types.RemoteServiceError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteServiceError", err)
	}
	if remote.Kind != types.KindRateLimit {
		t.Errorf("Kind = %q, want rate_limit", remote.Kind)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	srv := fakeServer(t, []audioResponse{{IsFinal: true}}, nil)
	s, _ := New("key", WithEndpoint(srv.URL))
	if _, err := s.Synthesize(context.Background(), "hi", "v"); !errors.Is(err, types.ErrRemoteService) {
		t.Fatalf("err = %v, want RemoteServiceError", err)
	}
}

func TestSynthesize_DialUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s, _ := New("key", WithEndpoint(srv.URL))
	_, err := s.Synthesize(context.Background(), "hi", "v")
	var remote *types.RemoteServiceError
	if !errors.As(err, &remote) || remote.Kind != types.KindAuth {
		t.Fatalf("err = %v, want auth RemoteServiceError", err)
	}
}

func TestKindFromMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want types.RemoteKind
	}{
		{"invalid_api_key", types.KindAuth},
		{"quota_exceeded", types.KindRateLimit},
		{"too_many_concurrent_requests", types.KindRateLimit},
		{"failed to generate audio", types.KindService},
	}
	for _, tc := range tests {
		if got := kindFromMessage(tc.msg); got != tc.want {
			t.Errorf("kindFromMessage(%q) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}

func TestSynthesize_TimeoutBoundsStalledServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, _ := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")), WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := s.Synthesize(context.Background(), "hello", "voice-1")
	if !errors.Is(err, types.ErrRemoteService) {
		t.Fatalf("err = %v, want ErrRemoteService", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Synthesize returned after %v, want the 50ms timeout to apply", elapsed)
	}
}
