// Package session runs the turn-based relay loop.
//
// Each turn is strictly sequential:
//
//	AwaitingTrigger → Capturing → Transcribing → Generating → Synthesizing → Playing
//
// and then returns to AwaitingTrigger. A recoverable failure in any stage is
// reported, the turn is discarded, and the loop waits for the next trigger.
// An empty transcript or an empty reply ends the turn early without error.
//
// The in-flight turn runs on a context detached from the caller's
// cancellation. Cancelling the context passed to [Loop.Run] therefore lets
// the current turn finish playing; the loop terminates at the next trigger
// boundary.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lkeff/voicerelay/internal/observe"
	"github.com/lkeff/voicerelay/pkg/audio"
	"github.com/lkeff/voicerelay/pkg/provider/llm"
	"github.com/lkeff/voicerelay/pkg/provider/stt"
	"github.com/lkeff/voicerelay/pkg/provider/tts"
	"github.com/lkeff/voicerelay/pkg/types"
)

// Context is the immutable binding a Loop runs with. It is built once before
// the first turn and shared by every stage call.
type Context struct {
	Input  types.DeviceDescriptor
	Output types.DeviceDescriptor

	// Duration and SampleRate define every capture.
	Duration   time.Duration
	SampleRate int

	// Voice is passed to every Synthesize call.
	Voice string

	Capturer    audio.Capturer
	Transcriber stt.Transcriber
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
	Player      audio.Player

	// Providers names the stt, llm, and tts backends for metrics and logs.
	Providers ProviderNames

	// Timeouts bounds the transcription, generation and synthesis stages.
	// A stalled backend then fails its turn instead of holding the loop.
	Timeouts StageTimeouts

	// KeepArtifacts keeps each turn's capture WAV instead of removing it
	// when the next turn starts.
	KeepArtifacts bool

	// SaveReplies, when set, is the path each reply is written to as WAV.
	SaveReplies string
}

// ProviderNames identifies the configured backends.
type ProviderNames struct {
	STT, LLM, TTS string
}

// StageTimeouts holds per-stage deadlines. Zero leaves a stage unbounded.
type StageTimeouts struct {
	STT, LLM, TTS time.Duration
}

func (t StageTimeouts) forStage(s State) time.Duration {
	switch s {
	case StateTranscribing:
		return t.STT
	case StateGenerating:
		return t.LLM
	case StateSynthesizing:
		return t.TTS
	default:
		return 0
	}
}

func (c *Context) validate() error {
	var errs []error
	if c.Input.Direction != types.Input {
		errs = append(errs, fmt.Errorf("device %s is not an input device", c.Input))
	}
	if c.Output.Direction != types.Output {
		errs = append(errs, fmt.Errorf("device %s is not an output device", c.Output))
	}
	if c.Duration <= 0 {
		errs = append(errs, errors.New("capture duration must be positive"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("sample rate must be positive"))
	}
	if c.Capturer == nil || c.Transcriber == nil || c.Generator == nil || c.Synthesizer == nil || c.Player == nil {
		errs = append(errs, errors.New("every stage handle must be set"))
	}
	return errors.Join(errs...)
}

// Option configures a Loop.
type Option func(*Loop)

// WithReporter sets the operator-facing reporter. Default: discard.
func WithReporter(r Reporter) Option {
	return func(l *Loop) { l.reporter = r }
}

// WithObserver adds an observer notified after every turn.
func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observers = append(l.observers, o) }
}

// WithMetrics records stage latencies into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// Loop is the session state machine. Run must be called at most once; State
// may be read from any goroutine.
type Loop struct {
	sc        Context
	trigger   Trigger
	reporter  Reporter
	observers []Observer
	metrics   *observe.Metrics

	state        atomic.Int32
	lastArtifact string
}

// New validates sc and returns a Loop in StateAwaitingTrigger.
func New(sc Context, trigger Trigger, opts ...Option) (*Loop, error) {
	if trigger == nil {
		return nil, errors.New("session: trigger must not be nil")
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("session: invalid context: %w", err)
	}
	l := &Loop{sc: sc, trigger: trigger, reporter: nopReporter{}}
	for _, o := range opts {
		o(l)
	}
	l.state.Store(int32(StateAwaitingTrigger))
	return l, nil
}

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

// StateName returns the current state's name.
func (l *Loop) StateName() string { return l.State().String() }

// Terminated reports whether the loop has finished.
func (l *Loop) Terminated() bool { return l.State() == StateTerminated }

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// Run executes turns until ctx is cancelled at a trigger boundary or the
// trigger source is exhausted. Both end the loop normally and return nil.
// A trigger failure other than exhaustion is returned.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.removeArtifact()
		l.setState(StateTerminated)
	}()

	for {
		l.setState(StateAwaitingTrigger)
		if ctx.Err() != nil {
			slog.Info("session cancelled, terminating")
			return nil
		}
		l.reporter.AwaitingTrigger()

		err := l.trigger.Wait(ctx)
		switch {
		case errors.Is(err, io.EOF):
			slog.Info("trigger source exhausted, terminating")
			return nil
		case ctx.Err() != nil:
			slog.Info("session cancelled, terminating")
			return nil
		case err != nil:
			return fmt.Errorf("session: wait for trigger: %w", err)
		}

		l.runTurn(context.WithoutCancel(ctx))
	}
}

// runTurn executes one turn. Each turn builds fresh values; nothing from a
// failed turn is carried into the next.
func (l *Loop) runTurn(ctx context.Context) {
	id := uuid.NewString()
	ctx = observe.WithTurnID(ctx, id)
	ctx, span := observe.StartSpan(ctx, "turn", trace.WithAttributes(attribute.String("turn_id", id)))
	defer span.End()
	log := observe.Logger(ctx)

	res := TurnResult{ID: id}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
		switch res.Outcome {
		case OutcomeFailed:
			log.Warn("turn failed", "stage", res.LastStage().String(), "err", res.Err, "duration", res.Duration)
			l.reporter.Failed(res.LastStage(), res.Err)
		default:
			log.Info("turn finished", "outcome", res.Outcome, "duration", res.Duration)
		}
		for _, o := range l.observers {
			o.TurnFinished(ctx, res)
		}
	}()

	fail := func(err error) {
		res.Outcome = OutcomeFailed
		res.Err = err
	}

	if !l.sc.KeepArtifacts {
		l.removeArtifact()
	}

	var clip *types.AudioClip
	l.reporter.Capturing(l.sc.Input, l.sc.Duration)
	if err := l.step(ctx, &res, StateCapturing, "", func(ctx context.Context) error {
		var err error
		clip, err = l.sc.Capturer.Capture(ctx, l.sc.Input, l.sc.Duration, l.sc.SampleRate)
		return err
	}); err != nil {
		fail(err)
		return
	}
	l.lastArtifact = clip.ArtifactPath

	var transcript *types.Transcript
	if err := l.step(ctx, &res, StateTranscribing, l.sc.Providers.STT, func(ctx context.Context) error {
		var err error
		transcript, err = l.sc.Transcriber.Transcribe(ctx, clip)
		return err
	}); err != nil {
		fail(err)
		return
	}
	res.Transcript = strings.TrimSpace(transcript.Text)
	if res.Transcript == "" {
		res.Outcome = OutcomeEmptyTranscript
		l.reporter.Skipped("no speech detected")
		return
	}
	l.reporter.Transcript(res.Transcript)

	if err := l.step(ctx, &res, StateGenerating, l.sc.Providers.LLM, func(ctx context.Context) error {
		var err error
		res.Reply, err = l.sc.Generator.Generate(ctx, res.Transcript)
		return err
	}); err != nil {
		fail(err)
		return
	}
	res.Reply = strings.TrimSpace(res.Reply)
	if res.Reply == "" {
		res.Outcome = OutcomeEmptyReply
		l.reporter.Skipped("the assistant returned an empty reply")
		return
	}
	l.reporter.Reply(res.Reply)

	var speech *types.SynthesizedSpeech
	if err := l.step(ctx, &res, StateSynthesizing, l.sc.Providers.TTS, func(ctx context.Context) error {
		var err error
		speech, err = l.sc.Synthesizer.Synthesize(ctx, res.Reply, l.sc.Voice)
		return err
	}); err != nil {
		fail(err)
		return
	}
	l.saveReply(ctx, speech)

	l.reporter.Playing(l.sc.Output)
	if err := l.step(ctx, &res, StatePlaying, "", func(ctx context.Context) error {
		return l.sc.Player.Play(ctx, l.sc.Output, speech)
	}); err != nil {
		fail(err)
		return
	}
	res.Outcome = OutcomeCompleted
}

// step enters state s, runs fn inside a stage span, and records the result.
func (l *Loop) step(ctx context.Context, res *TurnResult, s State, provider string, fn func(context.Context) error) error {
	l.setState(s)
	observe.Logger(ctx).Debug("entering stage", "stage", s.String())
	if d := l.sc.Timeouts.forStage(s); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	sctx, st := observe.StartStage(ctx, l.metrics, stageMetricName(s))
	err := fn(sctx)
	if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		err = timeoutError(s, provider, err)
	}
	d := st.End(err)
	res.Stages = append(res.Stages, StageResult{Stage: s, Provider: provider, Duration: d, Err: err})
	return err
}

// timeoutError gives a deadline failure the error type of its stage unless
// the backend already classified it.
func timeoutError(s State, provider string, err error) error {
	var remote *types.RemoteServiceError
	var transcription *types.TranscriptionError
	if errors.As(err, &remote) || errors.As(err, &transcription) {
		return err
	}
	op := "generate"
	switch s {
	case StateTranscribing:
		op = "transcribe"
	case StateSynthesizing:
		op = "synthesize"
	}
	remote = &types.RemoteServiceError{Provider: provider, Op: op, Kind: types.KindNetwork, Err: err}
	if s == StateTranscribing {
		return &types.TranscriptionError{Backend: provider, Err: remote}
	}
	return remote
}

func (l *Loop) saveReply(ctx context.Context, speech *types.SynthesizedSpeech) {
	if l.sc.SaveReplies == "" {
		return
	}
	err := audio.SaveWAV(l.sc.SaveReplies, audio.BytesToInt16(speech.Audio), speech.SampleRate, speech.Channels)
	if err != nil {
		observe.Logger(ctx).Warn("failed to save reply", "path", l.sc.SaveReplies, "err", err)
	}
}

func (l *Loop) removeArtifact() {
	if l.lastArtifact == "" || l.sc.KeepArtifacts {
		return
	}
	if err := os.Remove(l.lastArtifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove capture artifact", "path", l.lastArtifact, "err", err)
	}
	l.lastArtifact = ""
}
