package session

import (
	"context"
	"errors"
	"time"

	"github.com/lkeff/voicerelay/internal/observe"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeEmptyTranscript Outcome = "empty_transcript"
	OutcomeEmptyReply      Outcome = "empty_reply"
	OutcomeFailed          Outcome = "failed"
)

// StageResult describes one executed stage of a turn.
type StageResult struct {
	Stage State
	// Provider is the backend name for stt, llm, and tts stages.
	Provider string
	Duration time.Duration
	Err      error
}

// TurnResult summarises a finished turn.
type TurnResult struct {
	ID         string
	Outcome    Outcome
	Transcript string
	Reply      string
	// Err is the error that discarded the turn when Outcome is OutcomeFailed.
	Err      error
	Stages   []StageResult
	Duration time.Duration
}

// LastStage returns the last stage the turn entered, or
// StateAwaitingTrigger when none ran.
func (r TurnResult) LastStage() State {
	if len(r.Stages) == 0 {
		return StateAwaitingTrigger
	}
	return r.Stages[len(r.Stages)-1].Stage
}

// Observer receives every finished turn. Calls happen on the loop goroutine
// and must not block.
type Observer interface {
	TurnFinished(ctx context.Context, r TurnResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r TurnResult)

func (f ObserverFunc) TurnFinished(ctx context.Context, r TurnResult) { f(ctx, r) }

// MetricsObserver records turn outcomes and provider calls. Stage latencies
// are recorded by the loop itself through observe.StartStage.
type MetricsObserver struct {
	m *observe.Metrics
}

// NewMetricsObserver returns an Observer recording into m.
func NewMetricsObserver(m *observe.Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

// TurnFinished implements Observer.
func (o *MetricsObserver) TurnFinished(ctx context.Context, r TurnResult) {
	o.m.RecordTurn(ctx, string(r.Outcome), r.Duration)
	for _, s := range r.Stages {
		if s.Provider == "" {
			continue
		}
		status := "ok"
		if s.Err != nil {
			status = "error"
			kind := "other"
			var remote *types.RemoteServiceError
			var terr *types.TranscriptionError
			switch {
			case errors.As(s.Err, &remote):
				kind = string(remote.Kind)
			case errors.As(s.Err, &terr):
				kind = "transcription"
			}
			o.m.RecordProviderError(ctx, s.Provider, kind)
		}
		o.m.RecordProviderRequest(ctx, s.Provider, stageMetricName(s.Stage), status)
	}
}

var _ Observer = (*MetricsObserver)(nil)

func stageMetricName(s State) string {
	switch s {
	case StateCapturing:
		return observe.StageCapture
	case StateTranscribing:
		return observe.StageSTT
	case StateGenerating:
		return observe.StageLLM
	case StateSynthesizing:
		return observe.StageTTS
	case StatePlaying:
		return observe.StagePlayback
	}
	return s.String()
}
