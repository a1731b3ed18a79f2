// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "hello"}
//	transcript, err := tr.Transcribe(ctx, clip)
package mock

import (
	"context"
	"sync"

	"github.com/lkeff/voicerelay/pkg/provider/stt"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is the transcript text returned for every clip.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// OnTranscribe, if set, runs before Transcribe returns.
	OnTranscribe func(ctx context.Context)

	// Clips records every clip passed to Transcribe, in order.
	Clips []*types.AudioClip

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe implements stt.Transcriber.
func (m *Transcriber) Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error) {
	m.mu.Lock()
	m.Clips = append(m.Clips, clip)
	text, err, hook := m.Text, m.Err, m.OnTranscribe
	m.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &types.Transcript{Text: text, Source: clip}, nil
}

// Close implements stt.Transcriber.
func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return nil
}

// CallCount returns the number of Transcribe calls.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Clips)
}

var _ stt.Transcriber = (*Transcriber)(nil)
