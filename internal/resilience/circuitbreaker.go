// Package resilience guards the pipeline's external collaborators against
// cascading failures.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) with an
// injectable clock and an optional state-change hook. [GuardedSTT] and
// [GuardedTransport] wrap the transcription provider and the tool-server
// transport with one breaker each.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker defaults.
const (
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
	defaultHalfOpenMax  = 3
)

// State is the breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls. Enough successes
	// close the breaker; any failure re-opens it.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and hook callbacks.
	Name string

	// MaxFailures is the consecutive-failure count that opens a closed
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting
	// half-open probes. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the probe budget while half-open and the number of
	// probe successes required to close. Default 3.
	HalfOpenMax int

	// OnStateChange, if non-nil, is invoked after every transition. It runs
	// under the breaker's lock and must not call back into the breaker.
	OnStateChange func(name string, from, to State)

	// Logger receives transition logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker tracks call outcomes and fails fast once a collaborator is
// judged unhealthy.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	onChange     func(name string, from, to State)
	log          *slog.Logger
	now          func() time.Time

	mu         sync.Mutex
	state      State
	failures   int // consecutive failures while closed
	openedAt   time.Time
	probes     int // calls admitted while half-open
	probeFails int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields get
// the package defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = defaultHalfOpenMax
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		onChange:     cfg.OnStateChange,
		log:          cfg.Logger,
		now:          time.Now,
	}
}

// Execute runs fn if the breaker admits the call and settles the breaker on
// fn's outcome. While open it returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err == nil)
	return err
}

// admit decides whether a call may proceed and reports whether it counts as a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.transitionLocked(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		if !success {
			cb.probeFails++
			cb.transitionLocked(StateOpen)
			return
		}
		if cb.state == StateHalfOpen && cb.probeFails == 0 && cb.probes >= cb.halfOpenMax {
			cb.transitionLocked(StateClosed)
		}
		return
	}

	// The breaker may have moved while the call was in flight; only closed
	// accounting applies to non-probe calls.
	if cb.state != StateClosed {
		return
	}
	if !success {
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.transitionLocked(StateOpen)
		}
		return
	}
	cb.failures = 0
}

// transitionLocked moves the breaker to a new state, resets the counters that
// belong to it, logs, and fires the hook. Caller holds cb.mu.
func (cb *CircuitBreaker) transitionLocked(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to

	switch to {
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		cb.openedAt = cb.now()
	case StateHalfOpen:
		cb.probes = 0
		cb.probeFails = 0
	}

	cb.log.Info("circuit breaker state change",
		"name", cb.name,
		"from", from.String(),
		"to", to.String())
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// State returns the breaker's effective state. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the stored transition happens
// on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.failures = 0
}
