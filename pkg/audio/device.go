// Package audio defines the device I/O abstractions of the relay and the PCM
// helpers shared by every stage.
//
// The three interfaces mirror the three device operations of a turn:
//
//   - [Catalog] lists the host's input and output endpoints.
//   - [Capturer] records one fixed-duration mono clip from an input device.
//   - [Player] renders one synthesized buffer on an output device.
//
// The portaudio sub-package implements all three against the host audio
// subsystem; the mock sub-package provides test doubles.
package audio

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/lkeff/voicerelay/pkg/types"
)

// Catalog enumerates audio devices.
//
// Implementations must be safe for concurrent use.
type Catalog interface {
	// ListDevices returns every input and output endpoint. Duplex hardware is
	// listed once per direction. A failure of the host audio subsystem is
	// reported as an error wrapping [types.ErrDeviceEnumeration].
	ListDevices(ctx context.Context) ([]types.DeviceDescriptor, error)
}

// Capturer records audio from an input device.
type Capturer interface {
	// Capture blocks until duration of mono audio at sampleRate has been read
	// from device and returns it as a clip. Open or read failures are returned
	// as [*types.DeviceUnavailableError].
	Capture(ctx context.Context, device types.DeviceDescriptor, duration time.Duration, sampleRate int) (*types.AudioClip, error)
}

// Player renders audio on an output device.
type Player interface {
	// Play blocks until speech has been fully drained to device. Open or write
	// failures are returned as [*types.DeviceUnavailableError].
	Play(ctx context.Context, device types.DeviceDescriptor, speech *types.SynthesizedSpeech) error
}

// SampleCount returns the number of mono samples a clip of duration d at rate
// holds, rounded to the nearest sample.
func SampleCount(d time.Duration, rate int) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * float64(rate)))
}

// Lookup finds the device with the given index and direction. The error names
// the problem in operator terms so it can be printed as is.
func Lookup(devices []types.DeviceDescriptor, index int, dir types.Direction) (types.DeviceDescriptor, error) {
	found := false
	for _, d := range devices {
		if d.Index != index {
			continue
		}
		if d.Direction == dir {
			return d, nil
		}
		found = true
	}
	if found {
		return types.DeviceDescriptor{}, fmt.Errorf("audio: device %d is not an %s device", index, dir)
	}
	return types.DeviceDescriptor{}, fmt.Errorf("audio: no device with index %d", index)
}

// Filter returns the devices with direction dir, preserving order.
func Filter(devices []types.DeviceDescriptor, dir types.Direction) []types.DeviceDescriptor {
	var out []types.DeviceDescriptor
	for _, d := range devices {
		if d.Direction == dir {
			out = append(out, d)
		}
	}
	return out
}

// CheckCapture validates a capture request against the device.
func CheckCapture(device types.DeviceDescriptor, duration time.Duration, sampleRate int) error {
	if device.Direction != types.Input {
		return fmt.Errorf("audio: capture: device %d (%q) is not an input device", device.Index, device.Name)
	}
	if duration <= 0 {
		return fmt.Errorf("audio: capture: duration must be positive, got %s", duration)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("audio: capture: sample rate must be positive, got %d", sampleRate)
	}
	if len(device.SampleRates) > 0 && !device.SupportsRate(sampleRate) {
		return fmt.Errorf("audio: capture: device %d (%q) does not support %d Hz", device.Index, device.Name, sampleRate)
	}
	return nil
}

// PlaybackRate picks the rate to open device with for audio recorded at rate.
// The source rate wins when the device supports it (or reports no rates);
// otherwise 48 kHz is preferred, then the closest supported rate.
func PlaybackRate(device types.DeviceDescriptor, rate int) int {
	if len(device.SampleRates) == 0 || device.SupportsRate(rate) {
		return rate
	}
	if device.SupportsRate(48000) {
		return 48000
	}
	rates := slices.Clone(device.SampleRates)
	slices.SortFunc(rates, func(a, b int) int {
		return absInt(a-rate) - absInt(b-rate)
	})
	return rates[0]
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
