// Package resilience guards remote providers with circuit breakers.
//
// A [Breaker] counts consecutive remote-service failures of one provider.
// Once the limit is reached it opens and every call fails fast with a
// [types.RemoteServiceError] of kind service until the reset timeout elapses.
// After the timeout a single probe call is let through: success closes the
// breaker, failure re-opens it.
//
// Breakers never repeat a call. A failed turn stays failed; the breaker only
// decides whether the next turn reaches the provider at all.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lkeff/voicerelay/pkg/types"
)

// ErrCircuitOpen is the cause carried by the RemoteServiceError returned while
// a breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a single probe call through.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Breaker].
type Config struct {
	// Name is the provider name used in errors and log messages.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// OnStateChange, if set, is called after every transition with the
	// mutex released.
	OnStateChange func(name string, from, to State)
}

// Breaker implements the three-state circuit breaker pattern for one
// provider.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		onChange:     cfg.OnStateChange,
		now:          time.Now,
	}
}

// Name returns the provider name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the breaker is open. While open it returns a
// RemoteServiceError of kind service wrapping [ErrCircuitOpen] without
// calling fn. Only errors matching [types.ErrRemoteService] count as
// failures; any other error (bad input, cancellation) leaves the counters
// untouched.
func (b *Breaker) Execute(op string, fn func() error) error {
	if err := b.admit(op); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit(op string) error {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return b.openError(op)
		}
		b.state = StateHalfOpen
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return b.openError(op)
		}
		b.probing = true
	}
	to := b.state
	b.mu.Unlock()

	b.changed(from, to)
	return nil
}

func (b *Breaker) record(err error) {
	failed := err != nil && errors.Is(err, types.ErrRemoteService)

	b.mu.Lock()
	from := b.state
	wasProbe := b.state == StateHalfOpen && b.probing
	b.probing = false
	switch {
	case failed && wasProbe:
		b.state = StateOpen
		b.openedAt = b.now()
	case failed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case err == nil:
		b.failures = 0
		b.state = StateClosed
	}
	to, failures := b.state, b.failures
	b.mu.Unlock()

	if from != to {
		switch to {
		case StateOpen:
			slog.Warn("circuit breaker opened", "provider", b.name, "consecutive_failures", failures)
		case StateClosed:
			slog.Info("circuit breaker closed", "provider", b.name)
		}
	}
	b.changed(from, to)
}

func (b *Breaker) changed(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

func (b *Breaker) openError(op string) error {
	return &types.RemoteServiceError{
		Provider: b.name,
		Op:       op,
		Kind:     types.KindService,
		Err:      ErrCircuitOpen,
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.mu.Unlock()
	slog.Info("circuit breaker manually reset", "provider", b.name)
	b.changed(from, StateClosed)
}
