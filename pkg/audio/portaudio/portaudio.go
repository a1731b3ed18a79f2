// Package portaudio implements the relay's device I/O on top of PortAudio
// (github.com/gordonklaus/portaudio). The PortAudio C library must be
// installed (libportaudio2 / portaudio19-dev on Debian, portaudio on Homebrew).
//
// A single [Host] serves as catalog, capturer, and player. All streams are
// blocking 16-bit streams opened per call and closed before the call returns,
// so no device handle outlives one capture or one playback.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/types"
)

var (
	_ audio.Catalog  = (*Host)(nil)
	_ audio.Capturer = (*Host)(nil)
	_ audio.Player   = (*Host)(nil)
)

// probeRates are the rates offered to IsFormatSupported for every device.
var probeRates = []int{8000, 16000, 22050, 24000, 32000, 44100, 48000}

const defaultFramesPerBuffer = 1024

// Host owns the PortAudio session. Create it with [Open] and release it with
// [Host.Close]; PortAudio must not be re-initialised while a Host is open.
type Host struct {
	framesPerBuffer int
	artifactDir     string
	writeArtifacts  bool

	mu      sync.Mutex
	devices map[int]*pa.DeviceInfo
}

// Option is a functional option for configuring a Host.
type Option func(*Host)

// WithFramesPerBuffer sets the PortAudio buffer size in frames. Defaults to 1024.
func WithFramesPerBuffer(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.framesPerBuffer = n
		}
	}
}

// WithArtifactDir makes Capture write every clip as a WAV file into dir
// (os.TempDir when dir is empty) and record its path in the clip.
func WithArtifactDir(dir string) Option {
	return func(h *Host) {
		h.artifactDir = dir
		h.writeArtifacts = true
	}
}

// Open initialises PortAudio. A failure here means the host audio subsystem
// is unavailable and is reported as [types.ErrDeviceEnumeration].
func Open(opts ...Option) (*Host, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", types.ErrDeviceEnumeration, err)
	}
	h := &Host{
		framesPerBuffer: defaultFramesPerBuffer,
		devices:         make(map[int]*pa.DeviceInfo),
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Close terminates PortAudio.
func (h *Host) Close() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// ListDevices implements [audio.Catalog]. Devices with both input and output
// channels are reported once per direction.
func (h *Host) ListDevices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w: %w", types.ErrDeviceEnumeration, err)
	}

	h.mu.Lock()
	clear(h.devices)
	for _, info := range infos {
		h.devices[info.Index] = info
	}
	h.mu.Unlock()

	var out []types.DeviceDescriptor
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hostAPI := ""
		if info.HostApi != nil {
			hostAPI = info.HostApi.Name
		}
		if info.MaxInputChannels > 0 {
			out = append(out, types.DeviceDescriptor{
				Index:       info.Index,
				Name:        info.Name,
				Direction:   types.Input,
				SampleRates: supportedRates(info, types.Input),
				MaxChannels: info.MaxInputChannels,
				HostAPI:     hostAPI,
			})
		}
		if info.MaxOutputChannels > 0 {
			out = append(out, types.DeviceDescriptor{
				Index:       info.Index,
				Name:        info.Name,
				Direction:   types.Output,
				SampleRates: supportedRates(info, types.Output),
				MaxChannels: info.MaxOutputChannels,
				HostAPI:     hostAPI,
			})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("portaudio: list devices: %w: no audio devices found", types.ErrDeviceEnumeration)
	}
	return out, nil
}

// supportedRates probes which of probeRates the device accepts for 16-bit mono.
func supportedRates(info *pa.DeviceInfo, dir types.Direction) []int {
	var rates []int
	for _, rate := range probeRates {
		params := streamParams(info, dir, rate, 0)
		if pa.IsFormatSupported(params, make([]int16, 1)) == nil {
			rates = append(rates, rate)
		}
	}
	return rates
}

func streamParams(info *pa.DeviceInfo, dir types.Direction, rate, framesPerBuffer int) pa.StreamParameters {
	p := pa.StreamParameters{
		SampleRate:      float64(rate),
		FramesPerBuffer: framesPerBuffer,
	}
	if dir == types.Input {
		p.Input = pa.StreamDeviceParameters{Device: info, Channels: 1, Latency: info.DefaultLowInputLatency}
	} else {
		p.Output = pa.StreamDeviceParameters{Device: info, Channels: 1, Latency: info.DefaultLowOutputLatency}
	}
	return p
}

// deviceInfo resolves a descriptor to the PortAudio device it was listed from.
func (h *Host) deviceInfo(d types.DeviceDescriptor) (*pa.DeviceInfo, error) {
	h.mu.Lock()
	info, ok := h.devices[d.Index]
	h.mu.Unlock()
	if ok {
		return info, nil
	}
	infos, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Index == d.Index {
			return info, nil
		}
	}
	return nil, fmt.Errorf("device index %d not present", d.Index)
}

// Capture implements [audio.Capturer]. It reads exactly
// audio.SampleCount(duration, sampleRate) samples. Input overflows are logged
// and tolerated; the clip keeps its length.
func (h *Host) Capture(ctx context.Context, device types.DeviceDescriptor, duration time.Duration, sampleRate int) (*types.AudioClip, error) {
	if err := audio.CheckCapture(device, duration, sampleRate); err != nil {
		return nil, err
	}
	unavailable := func(err error) error {
		return &types.DeviceUnavailableError{Device: device, Op: "capture", Err: err}
	}

	info, err := h.deviceInfo(device)
	if err != nil {
		return nil, unavailable(err)
	}

	buf := make([]int16, h.framesPerBuffer)
	stream, err := pa.OpenStream(streamParams(info, types.Input, sampleRate, len(buf)), buf)
	if err != nil {
		return nil, unavailable(fmt.Errorf("open stream: %w", err))
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, unavailable(fmt.Errorf("start stream: %w", err))
	}

	total := audio.SampleCount(duration, sampleRate)
	samples := make([]int16, 0, total)
	overflows := 0
	for len(samples) < total {
		if err := ctx.Err(); err != nil {
			stream.Abort()
			return nil, fmt.Errorf("portaudio: capture: %w", err)
		}
		if err := stream.Read(); err != nil {
			if !errors.Is(err, pa.InputOverflowed) {
				stream.Abort()
				return nil, unavailable(fmt.Errorf("read stream: %w", err))
			}
			overflows++
		}
		n := min(len(buf), total-len(samples))
		samples = append(samples, buf[:n]...)
	}
	if err := stream.Stop(); err != nil {
		return nil, unavailable(fmt.Errorf("stop stream: %w", err))
	}
	if overflows > 0 {
		slog.Warn("portaudio: input overflowed during capture", "device", device.Name, "overflows", overflows)
	}

	clip := &types.AudioClip{Samples: samples, SampleRate: sampleRate, Channels: 1}
	if h.writeArtifacts {
		path, err := audio.WriteArtifact(h.artifactDir, samples, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("portaudio: capture: %w", err)
		}
		clip.ArtifactPath = path
	}
	slog.Debug("portaudio: clip captured", "device", device.Name, "samples", len(samples), "rate", sampleRate)
	return clip, nil
}

// Play implements [audio.Player]. Multi-channel speech is downmixed to mono and
// resampled to audio.PlaybackRate when the device cannot take its rate.
// Play returns after the stream has drained.
func (h *Host) Play(ctx context.Context, device types.DeviceDescriptor, speech *types.SynthesizedSpeech) error {
	if device.Direction != types.Output {
		return fmt.Errorf("audio: play: device %d (%q) is not an output device", device.Index, device.Name)
	}
	if speech == nil || len(speech.Audio) == 0 {
		return errors.New("audio: play: empty speech buffer")
	}
	unavailable := func(err error) error {
		return &types.DeviceUnavailableError{Device: device, Op: "playback", Err: err}
	}

	samples := audio.BytesToInt16(speech.Audio)
	if speech.Channels == 2 {
		samples = audio.StereoToMono(samples)
	}
	rate := audio.PlaybackRate(device, speech.SampleRate)
	if rate != speech.SampleRate {
		slog.Debug("portaudio: resampling reply", "from", speech.SampleRate, "to", rate)
		samples = audio.Resample(samples, speech.SampleRate, rate)
	}

	info, err := h.deviceInfo(device)
	if err != nil {
		return unavailable(err)
	}

	buf := make([]int16, h.framesPerBuffer)
	stream, err := pa.OpenStream(streamParams(info, types.Output, rate, len(buf)), buf)
	if err != nil {
		return unavailable(fmt.Errorf("open stream: %w", err))
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return unavailable(fmt.Errorf("start stream: %w", err))
	}
	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			stream.Abort()
			return fmt.Errorf("portaudio: play: %w", err)
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			stream.Abort()
			return unavailable(fmt.Errorf("write stream: %w", err))
		}
	}
	// Stop blocks until every queued buffer has been played.
	if err := stream.Stop(); err != nil {
		return unavailable(fmt.Errorf("stop stream: %w", err))
	}
	return nil
}
