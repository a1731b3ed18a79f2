// Package mock provides in-memory implementations of [audio.Catalog],
// [audio.Capturer], and [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and expose exported fields that control
// return values.
//
// Typical usage:
//
//	catalog := &mock.Catalog{Devices: []types.DeviceDescriptor{
//	    {Index: 0, Name: "Mic", Direction: types.Input},
//	    {Index: 1, Name: "Cable Output", Direction: types.Output},
//	}}
//	capturer := &mock.Capturer{Samples: recorded}
//	player := &mock.Player{}
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/types"
)

// ─── Catalog ──────────────────────────────────────────────────────────────────

// Catalog is a mock implementation of [audio.Catalog].
type Catalog struct {
	mu sync.Mutex

	// Devices is returned by [Catalog.ListDevices].
	Devices []types.DeviceDescriptor

	// Err, if non-nil, is returned by [Catalog.ListDevices].
	Err error

	// CallCount records how many times ListDevices was called.
	CallCount int
}

// ListDevices implements [audio.Catalog].
func (c *Catalog) ListDevices(_ context.Context) ([]types.DeviceDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCount++
	if c.Err != nil {
		return nil, c.Err
	}
	return slices.Clone(c.Devices), nil
}

// ─── Capturer ─────────────────────────────────────────────────────────────────

// CaptureCall records a single invocation of Capture.
type CaptureCall struct {
	Device     types.DeviceDescriptor
	Duration   time.Duration
	SampleRate int
}

// Capturer is a mock implementation of [audio.Capturer].
//
// Without Samples it returns silence of the requested length, so the sample
// count always matches duration * sampleRate.
type Capturer struct {
	mu sync.Mutex

	// Samples, when non-nil, is returned as the clip content.
	Samples []int16

	// Err, if non-nil, is returned by Capture instead of a clip.
	Err error

	// OnCapture, if set, runs before Capture returns.
	OnCapture func(ctx context.Context)

	// Calls records every Capture invocation in order.
	Calls []CaptureCall
}

// Capture implements [audio.Capturer].
func (c *Capturer) Capture(ctx context.Context, device types.DeviceDescriptor, duration time.Duration, sampleRate int) (*types.AudioClip, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, CaptureCall{Device: device, Duration: duration, SampleRate: sampleRate})
	hook := c.OnCapture
	err := c.Err
	samples := c.Samples
	c.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	if samples == nil {
		samples = make([]int16, audio.SampleCount(duration, sampleRate))
	}
	return &types.AudioClip{
		Samples:    slices.Clone(samples),
		SampleRate: sampleRate,
		Channels:   1,
	}, nil
}

// CallCount returns the number of Capture calls.
func (c *Capturer) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records a single invocation of Play.
type PlayCall struct {
	Device types.DeviceDescriptor
	Speech *types.SynthesizedSpeech
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Play.
	Err error

	// OnPlay, if set, runs before Play returns.
	OnPlay func(ctx context.Context)

	// Calls records every Play invocation in order.
	Calls []PlayCall
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, device types.DeviceDescriptor, speech *types.SynthesizedSpeech) error {
	p.mu.Lock()
	p.Calls = append(p.Calls, PlayCall{Device: device, Speech: speech})
	hook := p.OnPlay
	err := p.Err
	p.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return err
}

// CallCount returns the number of Play calls.
func (p *Player) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var (
	_ audio.Catalog  = (*Catalog)(nil)
	_ audio.Capturer = (*Capturer)(nil)
	_ audio.Player   = (*Player)(nil)
)
