// Package resilience keeps scoring available when a speech backend is down.
//
// [CircuitBreaker] stops calling a backend after repeated failures and probes
// it again after a cool-down. [FallbackGroup] tries a list of backends of the
// same kind in order, each behind its own breaker. [TranscriberFallback] and
// [SynthesizerFallback] apply it to speech-to-text and text-to-speech, which
// is what the respeak round trip and audio scoring call.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. That many
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name identifies the backend in state change callbacks.
	Name string

	// MaxFailures consecutive failures open the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is the cool-down before probing. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget. Default: 3.
	HalfOpenMax int

	// Ignore marks errors that say nothing about the backend, such as a
	// cancelled request or an empty clip. They are returned unchanged and
	// leave the breaker as it was.
	Ignore func(error) bool

	// OnStateChange is called after every transition, with the breaker's
	// lock released.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now.
	Now func() time.Time
}

// Counts is a snapshot of a breaker's bookkeeping.
type Counts struct {
	State               State
	ConsecutiveFailures int
	TotalFailures       int
	TotalSuccesses      int
}

// CircuitBreaker is a three-state breaker around one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu         sync.Mutex
	state      State
	failures   int // consecutive, while closed
	openedAt   time.Time
	probes     int // started in the current half-open window
	probeOK    int
	totalFails int
	totalOK    int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker rejects it with [ErrCircuitOpen].
// fn's error is returned as is.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, from, err := cb.admit()
	cb.notify(from, StateHalfOpen, probe && from == StateOpen)
	if err != nil {
		return err
	}

	callErr := fn()

	cb.mu.Lock()
	before := cb.state
	switch {
	case callErr != nil && cb.cfg.Ignore != nil && cb.cfg.Ignore(callErr):
		if probe && cb.state == StateHalfOpen {
			cb.probes--
		}
	case callErr != nil:
		cb.failure(probe)
	default:
		cb.success(probe)
	}
	after := cb.state
	cb.mu.Unlock()

	cb.notify(before, after, before != after)
	return callErr
}

// admit decides whether a call may run. It reports whether the call is a
// half-open probe and the state before any transition it made.
func (cb *CircuitBreaker) admit() (probe bool, from State, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from = cb.state
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, from, ErrCircuitOpen
		}
		cb.state, cb.probes, cb.probeOK = StateHalfOpen, 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, from, ErrCircuitOpen
		}
		cb.probes++
		return true, from, nil
	}
	return false, from, nil
}

// failure must be called with cb.mu held.
func (cb *CircuitBreaker) failure(probe bool) {
	cb.totalFails++
	if cb.state == StateOpen {
		// A call admitted before another one tripped the breaker.
		return
	}
	cb.failures++
	if probe || cb.failures >= cb.cfg.MaxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.cfg.Now()
	}
}

// success must be called with cb.mu held.
func (cb *CircuitBreaker) success(probe bool) {
	cb.totalOK++
	if !probe {
		if cb.state == StateClosed {
			cb.failures = 0
		}
		return
	}
	if cb.state != StateHalfOpen {
		return
	}
	cb.probeOK++
	if cb.probeOK >= cb.cfg.HalfOpenMax {
		cb.state, cb.failures = StateClosed, 0
	}
}

func (cb *CircuitBreaker) notify(from, to State, changed bool) {
	if changed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Counts returns a snapshot of the breaker's state and counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Counts{
		State:               cb.stateLocked(),
		ConsecutiveFailures: cb.failures,
		TotalFailures:       cb.totalFails,
		TotalSuccesses:      cb.totalOK,
	}
}
