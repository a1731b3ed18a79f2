package portaudio

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/types"
)

func TestStreamParams(t *testing.T) {
	info := &pa.DeviceInfo{
		Index:                   3,
		DefaultLowInputLatency:  10 * time.Millisecond,
		DefaultLowOutputLatency: 20 * time.Millisecond,
	}

	in := streamParams(info, types.Input, 16000, 512)
	if in.Input.Device != info || in.Input.Channels != 1 || in.Input.Latency != 10*time.Millisecond {
		t.Errorf("input params = %+v", in.Input)
	}
	if in.Output.Device != nil {
		t.Error("input stream must not configure an output side")
	}
	if in.SampleRate != 16000 || in.FramesPerBuffer != 512 {
		t.Errorf("rate/frames = %v/%d", in.SampleRate, in.FramesPerBuffer)
	}

	out := streamParams(info, types.Output, 48000, 0)
	if out.Output.Device != info || out.Output.Latency != 20*time.Millisecond {
		t.Errorf("output params = %+v", out.Output)
	}
	if out.Input.Device != nil {
		t.Error("output stream must not configure an input side")
	}
}

func TestOptions(t *testing.T) {
	h := &Host{framesPerBuffer: defaultFramesPerBuffer}
	WithFramesPerBuffer(256)(h)
	WithFramesPerBuffer(-1)(h)
	WithArtifactDir("/tmp/clips")(h)
	if h.framesPerBuffer != 256 {
		t.Errorf("framesPerBuffer = %d, want 256", h.framesPerBuffer)
	}
	if !h.writeArtifacts || h.artifactDir != "/tmp/clips" {
		t.Errorf("artifact settings = %v %q", h.writeArtifacts, h.artifactDir)
	}
}

func TestPlay_RejectsInputDevice(t *testing.T) {
	h := &Host{framesPerBuffer: defaultFramesPerBuffer, devices: map[int]*pa.DeviceInfo{}}
	err := h.Play(context.Background(), types.DeviceDescriptor{Index: 0, Direction: types.Input}, &types.SynthesizedSpeech{Audio: []byte{0, 0}, SampleRate: 24000, Channels: 1})
	if err == nil {
		t.Fatal("expected error for input device")
	}
}

func TestCapture_RejectsOutputDevice(t *testing.T) {
	h := &Host{framesPerBuffer: defaultFramesPerBuffer, devices: map[int]*pa.DeviceInfo{}}
	_, err := h.Capture(context.Background(), types.DeviceDescriptor{Index: 1, Direction: types.Output}, time.Second, 16000)
	if err == nil {
		t.Fatal("expected error for output device")
	}
	var devErr *types.DeviceUnavailableError
	if errors.As(err, &devErr) {
		t.Error("validation failure should not be reported as device unavailable")
	}
}

// TestCapture_Hardware records from the default input device. It runs only when
// VOICERELAY_AUDIO_TEST=1 because CI machines have no sound card.
func TestCapture_Hardware(t *testing.T) {
	if os.Getenv("VOICERELAY_AUDIO_TEST") != "1" {
		t.Skip("VOICERELAY_AUDIO_TEST not set; skipping hardware capture test")
	}
	h, err := Open(WithArtifactDir(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	devices, err := h.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	inputs := audio.Filter(devices, types.Input)
	if len(inputs) == 0 {
		t.Skip("no input devices")
	}
	mic := inputs[0]
	if !mic.SupportsRate(16000) {
		t.Skipf("device %q does not support 16 kHz", mic.Name)
	}

	clip, err := h.Capture(context.Background(), mic, 500*time.Millisecond, 16000)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got, want := len(clip.Samples), audio.SampleCount(500*time.Millisecond, 16000); got != want {
		t.Errorf("samples = %d, want %d", got, want)
	}
	if clip.ArtifactPath == "" {
		t.Error("expected artifact path")
	}
}
