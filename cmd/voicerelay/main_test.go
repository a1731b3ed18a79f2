package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lkeff/voicerelay/internal/config"
	"github.com/lkeff/voicerelay/internal/observe"
	"github.com/lkeff/voicerelay/internal/resilience"
	"github.com/lkeff/voicerelay/internal/session"
	audiomock "github.com/lkeff/voicerelay/pkg/audio/mock"
	"github.com/lkeff/voicerelay/pkg/provider/llm"
	llmmock "github.com/lkeff/voicerelay/pkg/provider/llm/mock"
	"github.com/lkeff/voicerelay/pkg/provider/stt"
	sttmock "github.com/lkeff/voicerelay/pkg/provider/stt/mock"
	"github.com/lkeff/voicerelay/pkg/provider/tts"
	ttsmock "github.com/lkeff/voicerelay/pkg/provider/tts/mock"
	"github.com/lkeff/voicerelay/pkg/types"
)

var catalog = []types.DeviceDescriptor{
	{Index: 0, Name: "Mic", Direction: types.Input, SampleRates: []int{16000}},
	{Index: 1, Name: "Cable Output", Direction: types.Output, SampleRates: []int{24000, 48000}},
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0\n", 0, false},
		{"  12 \r\n", 12, false},
		{"abc\n", 0, true},
		{"", 0, true},
		{"-1", 0, true},
		{"1.5", 0, true},
	}
	for _, tc := range tests {
		got, err := parseIndex(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseIndex(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("parseIndex(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestChooseDevices_Prompted(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("0\n1\nleftover\n"))
	var out bytes.Buffer

	input, output, err := chooseDevices(in, &out, catalog, config.Default(), -1, -1)
	if err != nil {
		t.Fatalf("chooseDevices: %v", err)
	}
	if input.Name != "Mic" || output.Name != "Cable Output" {
		t.Errorf("got %q / %q, want Mic / Cable Output", input.Name, output.Name)
	}
	if !strings.Contains(out.String(), "Select input device index") || !strings.Contains(out.String(), "Select output device index") {
		t.Errorf("prompts missing from output: %q", out.String())
	}
	// The trigger reads from the same reader afterwards.
	rest, _ := io.ReadAll(in)
	if string(rest) != "leftover\n" {
		t.Errorf("remaining input = %q, want %q", rest, "leftover\n")
	}
}

func TestChooseDevices_FlagsAndConfig(t *testing.T) {
	cfg := config.Default()
	one := 1
	cfg.Audio.OutputDevice = &one
	in := bufio.NewReader(strings.NewReader(""))
	var out bytes.Buffer

	input, output, err := chooseDevices(in, &out, catalog, cfg, 0, -1)
	if err != nil {
		t.Fatalf("chooseDevices: %v", err)
	}
	if input.Index != 0 || output.Index != 1 {
		t.Errorf("got %d / %d, want 0 / 1", input.Index, output.Index)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected prompt: %q", out.String())
	}
}

func TestChooseDevices_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"non-numeric", "mic\n"},
		{"wrong direction", "1\n"},
		{"unknown index", "7\n"},
		{"no input", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := bufio.NewReader(strings.NewReader(tc.input))
			if _, _, err := chooseDevices(in, io.Discard, catalog, config.Default(), -1, 1); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPrintCatalog(t *testing.T) {
	var out bytes.Buffer
	printCatalog(&out, []types.DeviceDescriptor{catalog[1], catalog[0]})
	s := out.String()
	if strings.Index(s, "Mic") > strings.Index(s, "Cable Output") {
		t.Errorf("inputs should be listed first:\n%s", s)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for kind, names := range config.ValidProviderNames {
		registered := reg.Names(kind)
		for _, n := range names {
			found := false
			for _, r := range registered {
				if r == n {
					found = true
				}
			}
			if !found {
				t.Errorf("%s provider %q is valid in config but not registered", kind, n)
			}
		}
	}
}

func TestFactories(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("openai tts: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui", BaseURL: "http://localhost:5002",
		Options: map[string]any{"api_mode": "xtts"}}); err != nil {
		t.Errorf("coqui xtts: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui", BaseURL: "http://localhost:5002",
		Options: map[string]any{"api_mode": "bogus"}}); err == nil {
		t.Error("coqui: expected error for unknown api_mode")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper-server", BaseURL: "http://localhost:8080"}); err != nil {
		t.Errorf("whisper-server: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper-native", Model: "base",
		Options: map[string]any{"model_dir": t.TempDir()}}); err == nil {
		t.Error("whisper-native: expected error for missing model file")
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-3.5-turbo"}); err != nil {
		t.Errorf("openai llm: %v", err)
	}
}

func TestFactories_CompatibleEndpointWithoutKey(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.LLM.BaseURL = "http://localhost:8000/v1"
	cfg.Providers.TTS.BaseURL = "http://localhost:8000/v1"
	if err := config.ResolveCredentials(cfg, func(string) string { return "" }); err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	if _, err := reg.CreateLLM(cfg.Providers.LLM); err != nil {
		t.Errorf("openai llm at custom base_url: %v", err)
	}
	if _, err := reg.CreateTTS(cfg.Providers.TTS); err != nil {
		t.Errorf("openai tts at custom base_url: %v", err)
	}
}

func TestPromptFor(t *testing.T) {
	temp := 0.7
	p := promptFor(config.ProviderEntry{SystemPrompt: "be brief", Temperature: &temp, MaxTokens: 64})
	if p.SystemPrompt != "be brief" || p.Temperature != 0.7 || p.MaxTokens != 64 {
		t.Errorf("promptFor = %+v", p)
	}
	if p := promptFor(config.ProviderEntry{}); p.Temperature != 0 || p.System() != llm.DefaultSystemPrompt {
		t.Errorf("empty promptFor = %+v", p)
	}
}

func mockRegistry(tr *sttmock.Transcriber, g *llmmock.Generator, s *ttsmock.Synthesizer) *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("whisper-native", func(config.ProviderEntry) (stt.Transcriber, error) { return tr, nil })
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Generator, error) { return g, nil })
	reg.RegisterTTS("openai", func(config.ProviderEntry) (tts.Synthesizer, error) { return s, nil })
	return reg
}

func TestBuildStages_GuardsRemoteStages(t *testing.T) {
	cfg := config.Default()
	cfg.Resilience.MaxFailures = 1
	tr := &sttmock.Transcriber{}
	g := &llmmock.Generator{Err: types.NewRemoteError("openai", "generate", http.StatusServiceUnavailable, errors.New("down"))}
	reg := mockRegistry(tr, g, &ttsmock.Synthesizer{})

	st, err := buildStages(cfg, reg, observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("buildStages: %v", err)
	}
	if st.Transcriber != tr {
		t.Error("transcriber should be used unwrapped")
	}
	if _, err := st.Generator.Generate(t.Context(), "hi"); err == nil {
		t.Fatal("expected generate error")
	}
	if st.Generator.Breaker().State() != resilience.StateOpen {
		t.Errorf("breaker state = %s, want open", st.Generator.Breaker().State())
	}
	if _, err := st.Generator.Generate(t.Context(), "hi"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("second call err = %v, want ErrCircuitOpen", err)
	}
	if g.CallCount() != 1 {
		t.Errorf("generator calls = %d, want 1", g.CallCount())
	}
}

func TestBuildStages_ClosesTranscriberOnFailure(t *testing.T) {
	cfg := config.Default()
	tr := &sttmock.Transcriber{}
	reg := mockRegistry(tr, &llmmock.Generator{}, &ttsmock.Synthesizer{})
	reg.RegisterTTS("openai", func(config.ProviderEntry) (tts.Synthesizer, error) { return nil, errors.New("boom") })

	if _, err := buildStages(cfg, reg, observe.DefaultMetrics()); err == nil {
		t.Fatal("expected error")
	}
	if tr.CloseCallCount != 1 {
		t.Errorf("Close calls = %d, want 1", tr.CloseCallCount)
	}
}

func TestNewServer_Routes(t *testing.T) {
	loop, err := session.New(session.Context{
		Input:       catalog[0],
		Output:      catalog[1],
		Duration:    config.Default().Audio.Duration,
		SampleRate:  config.CaptureSampleRate,
		Voice:       "alloy",
		Capturer:    &audiomock.Capturer{},
		Transcriber: &sttmock.Transcriber{},
		Generator:   &llmmock.Generator{},
		Synthesizer: &ttsmock.Synthesizer{},
		Player:      &audiomock.Player{},
	}, session.NewLineTrigger(strings.NewReader("")))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "voicerelay_turns_total 0\n")
	})
	srv := httptest.NewServer(newServer("", metricsHandler, loop, observe.DefaultMetrics()).Handler)
	defer srv.Close()

	for _, tc := range []struct {
		path string
		want int
	}{
		{"/metrics", http.StatusOK},
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/nope", http.StatusNotFound},
	} {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("GET %s = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
		if tc.path != "/nope" && resp.Header.Get("X-Correlation-ID") == "" {
			t.Errorf("GET %s: missing X-Correlation-ID", tc.path)
		}
	}

	// The loop terminates on EOF; readiness follows.
	if err := loop.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz after termination = %d, want 503", resp.StatusCode)
	}
}
