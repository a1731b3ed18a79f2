package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lkeff/voicerelay/pkg/provider/llm"
	"github.com/lkeff/voicerelay/pkg/types"
)

// chatServer returns an httptest server answering /chat/completions with
// reply and recording the decoded request body.
func chatServer(t *testing.T, status int, reply string, calls *atomic.Int32, bodies chan<- map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		json.Unmarshal(raw, &body)
		if bodies != nil {
			bodies <- body
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"failure","type":"test"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-3.5-turbo",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 20, "completion_tokens": 3, "total_tokens": 23},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty API key")
	}
	g, err := New("key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Model() != DefaultModel {
		t.Errorf("Model = %q, want %q", g.Model(), DefaultModel)
	}
}

func TestGenerate_SendsPersonaAndSingleUserMessage(t *testing.T) {
	var calls atomic.Int32
	bodies := make(chan map[string]any, 1)
	srv := chatServer(t, http.StatusOK, "  hi there \n", &calls, bodies)

	g, _ := New("key", "", WithBaseURL(srv.URL))
	got, err := g.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "hi there" {
		t.Errorf("reply = %q, want %q", got, "hi there")
	}

	body := <-bodies
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	sys := msgs[0].(map[string]any)
	user := msgs[1].(map[string]any)
	if sys["role"] != "system" || sys["content"] != llm.DefaultSystemPrompt {
		t.Errorf("system message = %v", sys)
	}
	if user["role"] != "user" || user["content"] != "hello" {
		t.Errorf("user message = %v", user)
	}
	if body["model"] != DefaultModel {
		t.Errorf("model = %v", body["model"])
	}
}

func TestGenerate_ErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   types.RemoteKind
	}{
		{http.StatusUnauthorized, types.KindAuth},
		{http.StatusTooManyRequests, types.KindRateLimit},
		{http.StatusInternalServerError, types.KindService},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			var calls atomic.Int32
			srv := chatServer(t, tc.status, "", &calls, nil)
			g, _ := New("key", "", WithBaseURL(srv.URL))

			_, err := g.Generate(context.Background(), "hello")
			var remote *types.RemoteServiceError
			if !errors.As(err, &remote) {
				t.Fatalf("err = %v, want RemoteServiceError", err)
			}
			if remote.Kind != tc.want {
				t.Errorf("Kind = %q, want %q", remote.Kind, tc.want)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
			}
		})
	}
}

func TestGenerate_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g, _ := New("key", "", WithBaseURL(url))
	_, err := g.Generate(context.Background(), "hello")
	var remote *types.RemoteServiceError
	if !errors.As(err, &remote) || remote.Kind != types.KindNetwork {
		t.Fatalf("err = %v, want network RemoteServiceError", err)
	}
}

func TestGenerate_EmptyInput(t *testing.T) {
	g, _ := New("key", "")
	if _, err := g.Generate(context.Background(), "   "); !errors.Is(err, llm.ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}
}

func TestBuildParams_Knobs(t *testing.T) {
	g, _ := New("key", "gpt-4o", WithPrompt(llm.Prompt{SystemPrompt: "Be brief.", Temperature: 0.5, MaxTokens: 64}))
	params := g.buildParams("hi")
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil || params.Messages[1].OfUser == nil {
		t.Error("expected system then user message")
	}
	if params.Temperature.Value != 0.5 {
		t.Errorf("temperature = %v", params.Temperature.Value)
	}
	if params.MaxCompletionTokens.Value != 64 {
		t.Errorf("max tokens = %v", params.MaxCompletionTokens.Value)
	}
}
