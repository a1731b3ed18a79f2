package anyllm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lkeff/voicerelay/pkg/provider/llm"
	"github.com/lkeff/voicerelay/pkg/types"
)

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyVendor(t *testing.T) {
	if _, err := New("", "gpt-4o", llm.Prompt{}); err == nil {
		t.Fatal("expected error for empty vendor")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", "", llm.Prompt{}); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedVendor(t *testing.T) {
	if _, err := New("fakecloud", "some-model", llm.Prompt{}, anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported vendor")
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o", llm.Prompt{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Vendors(t *testing.T) {
	tests := []struct {
		vendor string
		opts   []anyllmlib.Option
	}{
		{"openai", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"Anthropic", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", nil},
		{"llamacpp", nil},
		{"llamafile", nil},
	}
	for _, tc := range tests {
		t.Run(tc.vendor, func(t *testing.T) {
			g, err := New(tc.vendor, "m", llm.Prompt{}, tc.opts...)
			if err != nil {
				t.Fatalf("New(%q): %v", tc.vendor, err)
			}
			if g.model != "m" {
				t.Errorf("model = %q", g.model)
			}
		})
	}
}

// ── Request shape ─────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	g := &Generator{model: "llama3", prompt: llm.Prompt{Temperature: 0.7, MaxTokens: 100}}
	params := g.buildParams("hello")

	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].Content != llm.DefaultSystemPrompt {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[1].Role != anyllmlib.RoleUser || params.Messages[1].Content != "hello" {
		t.Errorf("user message = %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 100 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_DefaultsUnset(t *testing.T) {
	params := (&Generator{model: "m"}).buildParams("hi")
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero knobs must leave provider defaults")
	}
}

// ── Error classification ──────────────────────────────────────────────────────

func TestKindFromMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want types.RemoteKind
	}{
		{"anthropic: 401 Unauthorized: invalid x-api-key", types.KindAuth},
		{"error: Rate limit reached for requests", types.KindRateLimit},
		{"dial tcp 127.0.0.1:11434: connect: connection refused", types.KindNetwork},
		{"model overloaded", types.KindService},
	}
	for _, tc := range tests {
		if got := kindFromMessage(tc.msg); got != tc.want {
			t.Errorf("kindFromMessage(%q) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}

func TestRemoteError_TransportWins(t *testing.T) {
	g := &Generator{vendor: "ollama"}
	remote := g.remoteError(context.DeadlineExceeded)
	if remote.Kind != types.KindNetwork {
		t.Errorf("Kind = %q, want network", remote.Kind)
	}
	if !errors.Is(remote, types.ErrRemoteService) {
		t.Error("not a RemoteServiceError")
	}
	if remote.Provider != "ollama" || remote.Op != "generate" {
		t.Errorf("remote = %+v", remote)
	}
}

// ── Round trip ────────────────────────────────────────────────────────────────

func TestGenerate_OpenAICompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.Unmarshal(raw, &body)
		reply := "unexpected request"
		if len(body.Messages) == 2 && body.Messages[1].Content == "hello" {
			reply = " hi there "
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	defer srv.Close()

	g, err := New("openai", "gpt-4o-mini", llm.Prompt{}, anyllmlib.WithAPIKey("sk-test"), anyllmlib.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := g.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "hi there" {
		t.Errorf("reply = %q, want %q", got, "hi there")
	}
}
