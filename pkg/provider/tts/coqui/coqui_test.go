package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/types"
)

func wavBody(t *testing.T, samples []int16, rate int) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(samples, rate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestSynthesize_Standard(t *testing.T) {
	body := wavBody(t, []int16{1, 2, 3}, 22050)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("text") != "hi there" || q.Get("speaker_id") != "p225" || q.Get("language_id") != "en" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(body)
	}))
	defer srv.Close()

	s, _ := New(srv.URL, WithLanguage("en"))
	speech, err := s.Synthesize(context.Background(), "hi there", "p225")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if speech.SampleRate != 22050 || speech.Channels != 1 {
		t.Errorf("format = %d Hz %d ch", speech.SampleRate, speech.Channels)
	}
	if got := audio.BytesToInt16(speech.Audio); len(got) != 3 || got[2] != 3 {
		t.Errorf("samples = %v", got)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	body := wavBody(t, []int16{7, 7}, 24000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != xttsTTSEndpoint || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req xttsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SpeakerWav != "Ana Florence" || req.Language != "en" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	s, _ := New(srv.URL, WithAPIMode(APIModeXTTS))
	speech, err := s.Synthesize(context.Background(), "hello", "Ana Florence")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if speech.SampleRate != 24000 {
		t.Errorf("rate = %d", speech.SampleRate)
	}
}

func TestSynthesize_XTTSRequiresVoice(t *testing.T) {
	s, _ := New("http://127.0.0.1:1", WithAPIMode(APIModeXTTS))
	if _, err := s.Synthesize(context.Background(), "hello", ""); err == nil {
		t.Fatal("expected error without speaker")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, _ := New(srv.URL)
	_, err := s.Synthesize(context.Background(), "hello", "")
	var remote *types.RemoteServiceError
	if !errors.As(err, &remote) || remote.Kind != types.KindService || remote.StatusCode != 500 {
		t.Fatalf("err = %v, want service RemoteServiceError with status 500", err)
	}
}

func TestSynthesize_InvalidWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("definitely not riff data"))
	}))
	defer srv.Close()

	s, _ := New(srv.URL)
	if _, err := s.Synthesize(context.Background(), "hello", ""); !errors.Is(err, types.ErrRemoteService) {
		t.Fatalf("err = %v, want RemoteServiceError", err)
	}
}
